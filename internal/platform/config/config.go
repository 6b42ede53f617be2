package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// Config is centralized process configuration.
// Keep infra values here and pass typed config into builders.
type Config struct {
	ServiceName  string   `env:"SERVICE_NAME" envDefault:"marquee"`
	HTTPPort     string   `env:"HTTP_PORT" envDefault:"8080"`
	PostgresDSN  string   `env:"POSTGRES_DSN"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`

	WorkerPollInterval time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"15s"`
	OutboxBatchSize    int           `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`

	EnablePollAutoClose   bool   `env:"ENABLE_POLL_AUTO_CLOSE" envDefault:"true"`
	EnablePollOutboxRelay bool   `env:"ENABLE_POLL_OUTBOX_RELAY" envDefault:"true"`
	EnablePollTicketSync  bool   `env:"ENABLE_POLL_TICKET_SYNC" envDefault:"true"`
	TicketSyncGroup       string `env:"POLL_TICKET_SYNC_CONSUMER_GROUP" envDefault:"poll-engine-ticket-sync-cg"`

	PollActiveLimit         int           `env:"POLL_ACTIVE_LIMIT" envDefault:"5"`
	PollCreateCooldown      time.Duration `env:"POLL_CREATE_COOLDOWN" envDefault:"30s"`
	PollCreatesPerHour      int           `env:"POLL_CREATES_PER_HOUR" envDefault:"3"`
	VotesPerMinute          int           `env:"POLL_VOTES_PER_MINUTE" envDefault:"5"`
	AnonymousVotesPerMinute int           `env:"POLL_ANON_VOTES_PER_MINUTE" envDefault:"3"`
	VoteUpdateCooldown      time.Duration `env:"POLL_VOTE_UPDATE_COOLDOWN" envDefault:"60s"`
	TokensPerMinute         int           `env:"POLL_TOKENS_PER_MINUTE" envDefault:"10"`
}

// Load reads process configuration from the environment, seeding the
// environment from a local .env file when one exists.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment config: %w", err)
	}
	return cfg, nil
}
