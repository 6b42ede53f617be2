package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	pollengine "marquee/contexts/live-engagement/poll-engine"
	postgresadapter "marquee/contexts/live-engagement/poll-engine/adapters/postgres"
	pollapplication "marquee/contexts/live-engagement/poll-engine/application"
	pollworkers "marquee/contexts/live-engagement/poll-engine/application/workers"
	"marquee/internal/platform/config"
	"marquee/internal/platform/db"
	"marquee/internal/platform/httpserver"
	"marquee/internal/platform/messaging"
)

// Package bootstrap is the composition root.
// Keep construction/wiring here so module code stays framework-agnostic.

type APIApp struct {
	server   *httpserver.Server
	postgres *db.Postgres
	logger   *slog.Logger
}

type WorkerApp struct {
	postgres     *db.Postgres
	outboxRelay  pollworkers.OutboxRelay
	ticketSync   pollworkers.TicketSyncConsumer
	pollCloser   pollworkers.PollCloser
	autoClose    bool
	relayEnabled bool
	pollInterval time.Duration
	logger       *slog.Logger
}

func BuildAPI() (*APIApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := slog.Default().With("service", cfg.ServiceName, "process", "api")
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return nil, errors.New("POSTGRES_DSN is required")
	}

	pg, err := db.Connect(cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}

	repo := postgresadapter.NewRepository(pg.DB, logger)
	module := pollengine.NewModule(pollengine.Dependencies{
		Polls:    repo,
		Votes:    repo,
		Counters: repo,
		Events:   repo,
		Tickets:  repo,
		Outbox:   repo,
		Clock:    postgresadapter.SystemClock{},
		IDGen:    postgresadapter.UUIDGenerator{},
		Limits:   quotaLimits(cfg),
		Logger:   logger,
	})

	server := httpserver.New(module, logger, normalizeAddr(cfg.HTTPPort))
	return &APIApp{
		server:   server,
		postgres: pg,
		logger:   logger,
	}, nil
}

func BuildWorker() (*WorkerApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := slog.Default().With("service", cfg.ServiceName, "process", "worker")
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return nil, errors.New("POSTGRES_DSN is required")
	}

	pg, err := db.Connect(cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}

	kafka, err := messaging.NewKafka(cfg.KafkaBrokers, logger)
	if err != nil {
		return nil, err
	}

	repo := postgresadapter.NewRepository(pg.DB, logger)
	module := pollengine.NewModule(pollengine.Dependencies{
		Polls:    repo,
		Votes:    repo,
		Counters: repo,
		Events:   repo,
		Tickets:  repo,
		Outbox:   repo,
		Clock:    postgresadapter.SystemClock{},
		IDGen:    postgresadapter.UUIDGenerator{},
		Limits:   quotaLimits(cfg),
		Logger:   logger,
	})

	return &WorkerApp{
		postgres: pg,
		outboxRelay: pollworkers.OutboxRelay{
			Outbox:    repo,
			Publisher: kafka,
			Clock:     postgresadapter.SystemClock{},
			BatchSize: cfg.OutboxBatchSize,
			Logger:    logger,
		},
		ticketSync: pollworkers.TicketSyncConsumer{
			Subscriber:    kafka,
			Dedup:         repo,
			Events:        repo,
			Tickets:       repo,
			Clock:         postgresadapter.SystemClock{},
			ConsumerGroup: cfg.TicketSyncGroup,
			DedupTTL:      7 * 24 * time.Hour,
			Disabled:      !cfg.EnablePollTicketSync,
			Logger:        logger,
		},
		pollCloser:   module.PollCloser,
		autoClose:    cfg.EnablePollAutoClose,
		relayEnabled: cfg.EnablePollOutboxRelay,
		pollInterval: cfg.WorkerPollInterval,
		logger:       logger,
	}, nil
}

func (a *APIApp) Run(_ context.Context) error {
	if a.logger != nil {
		a.logger.Info("api app started",
			"event", "bootstrap_api_started",
			"module", "internal/app/bootstrap",
			"layer", "platform",
		)
	}
	return a.server.Start()
}

func (a *APIApp) Close() error {
	if a.postgres != nil {
		return a.postgres.Close()
	}
	return nil
}

func (w *WorkerApp) Run(ctx context.Context) error {
	if err := w.ticketSync.Start(ctx); err != nil {
		return err
	}

	interval := w.pollInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.logger.Info("worker app started",
		"event", "bootstrap_worker_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"poll_interval", interval.String(),
	)

	for {
		if w.autoClose {
			if err := w.pollCloser.RunOnce(ctx); err != nil {
				return err
			}
		}
		if w.relayEnabled {
			if err := w.outboxRelay.RunOnce(ctx); err != nil {
				return err
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (w *WorkerApp) Close() error {
	if w.postgres != nil {
		return w.postgres.Close()
	}
	return nil
}

func quotaLimits(cfg config.Config) pollapplication.QuotaLimits {
	limits := pollapplication.DefaultQuotaLimits()
	if cfg.PollActiveLimit > 0 {
		limits.ActivePollLimit = cfg.PollActiveLimit
	}
	if cfg.PollCreateCooldown > 0 {
		limits.CreateCooldown = cfg.PollCreateCooldown
	}
	if cfg.PollCreatesPerHour > 0 {
		limits.CreatesPerHour = cfg.PollCreatesPerHour
	}
	if cfg.VotesPerMinute > 0 {
		limits.VotesPerMinute = cfg.VotesPerMinute
	}
	if cfg.AnonymousVotesPerMinute > 0 {
		limits.AnonymousVotesPerMinute = cfg.AnonymousVotesPerMinute
	}
	if cfg.VoteUpdateCooldown > 0 {
		limits.VoteUpdateCooldown = cfg.VoteUpdateCooldown
	}
	if cfg.TokensPerMinute > 0 {
		limits.TokensPerMinute = cfg.TokensPerMinute
	}
	return limits
}

func normalizeAddr(port string) string {
	value := strings.TrimSpace(port)
	if value == "" {
		return ":8080"
	}
	if strings.HasPrefix(value, ":") {
		return value
	}
	return ":" + value
}
