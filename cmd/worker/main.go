package main

import (
	"context"
	"log"

	"marquee/internal/app/bootstrap"
)

// The worker owns everything that runs off the request path: the scheduled
// poll-expiry sweep, the outbox relay that pushes broadcasts onto the bus,
// and the consumer that mirrors event and ticket state into the local
// projections.
func main() {
	log.Println("marquee worker starting")
	app, err := bootstrap.BuildWorker()
	if err != nil {
		log.Fatalf("worker wiring failed: %v", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Printf("worker shutdown close failed: %v", err)
		}
	}()

	if err := app.Run(context.Background()); err != nil {
		log.Fatalf("marquee worker stopped with error: %v", err)
	}
}
