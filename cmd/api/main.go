package main

import (
	"context"
	"log"

	"marquee/internal/app/bootstrap"
)

// The api serves the poll lifecycle, voting and results endpoints. All
// background work lives in cmd/worker; this process only writes to the
// outbox and never touches the bus directly.
func main() {
	log.Println("marquee api starting")
	app, err := bootstrap.BuildAPI()
	if err != nil {
		log.Fatalf("api wiring failed: %v", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Printf("api shutdown close failed: %v", err)
		}
	}()

	if err := app.Run(context.Background()); err != nil {
		log.Fatalf("marquee api stopped with error: %v", err)
	}
}
