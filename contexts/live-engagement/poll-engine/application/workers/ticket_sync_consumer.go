package workers

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	application "marquee/contexts/live-engagement/poll-engine/application"
	"marquee/contexts/live-engagement/poll-engine/ports"
)

const (
	eventUpsertedTopic  = "event.upserted"
	ticketUpsertedTopic = "ticket.upserted"
	defaultTicketSyncCG = "poll-engine-ticket-sync-cg"
)

// TicketSyncConsumer maintains the local event and ticket projections that
// back access checks. It consumes upsert events from the events and ticketing
// services; the projections are eventually consistent with their owners.
type TicketSyncConsumer struct {
	Subscriber    ports.EventSubscriber
	Dedup         ports.EventDedupStore
	Events        ports.EventDirectory
	Tickets       ports.TicketDirectory
	Clock         ports.Clock
	ConsumerGroup string
	DedupTTL      time.Duration
	Disabled      bool
	Logger        *slog.Logger
}

func (c TicketSyncConsumer) Start(ctx context.Context) error {
	logger := application.ResolveLogger(c.Logger)
	if c.Disabled {
		logger.Info("ticket sync consumer disabled by feature flag",
			"event", "poll_ticket_sync_disabled",
			"module", "live-engagement/poll-engine",
			"layer", "worker",
		)
		return nil
	}
	group := strings.TrimSpace(c.ConsumerGroup)
	if group == "" {
		group = defaultTicketSyncCG
	}
	if err := c.Subscriber.Subscribe(ctx, eventUpsertedTopic, group, c.handleEventUpserted); err != nil {
		logger.Error("ticket sync subscribe failed",
			"event", "poll_ticket_sync_subscribe_failed",
			"module", "live-engagement/poll-engine",
			"layer", "worker",
			"topic", eventUpsertedTopic,
			"consumer_group", group,
			"error", err.Error(),
		)
		return err
	}
	if err := c.Subscriber.Subscribe(ctx, ticketUpsertedTopic, group, c.handleTicketUpserted); err != nil {
		logger.Error("ticket sync subscribe failed",
			"event", "poll_ticket_sync_subscribe_failed",
			"module", "live-engagement/poll-engine",
			"layer", "worker",
			"topic", ticketUpsertedTopic,
			"consumer_group", group,
			"error", err.Error(),
		)
		return err
	}
	logger.Info("ticket sync subscriptions active",
		"event", "poll_ticket_sync_started",
		"module", "live-engagement/poll-engine",
		"layer", "worker",
		"consumer_group", group,
	)
	return nil
}

func (c TicketSyncConsumer) handleEventUpserted(ctx context.Context, event ports.EventEnvelope) error {
	logger := application.ResolveLogger(c.Logger)
	if alreadyProcessed, err := c.reserveEvent(ctx, event); err != nil {
		return err
	} else if alreadyProcessed {
		logger.Debug("event.upserted replay skipped",
			"event", "poll_event_upserted_replayed",
			"module", "live-engagement/poll-engine",
			"layer", "worker",
			"event_id", event.EventID,
		)
		return nil
	}
	var payload struct {
		EventID     string `json:"event_id"`
		OrganizerID string `json:"organizer_id"`
		Status      string `json:"status"`
	}
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		logger.Error("event.upserted payload decode failed",
			"event", "poll_event_upserted_decode_failed",
			"module", "live-engagement/poll-engine",
			"layer", "worker",
			"event_id", event.EventID,
			"error", err.Error(),
		)
		return err
	}
	projection := ports.EventProjection{
		EventID:     strings.TrimSpace(payload.EventID),
		OrganizerID: strings.TrimSpace(payload.OrganizerID),
		Status:      strings.TrimSpace(payload.Status),
	}
	if err := c.Events.UpsertEvent(ctx, projection); err != nil {
		logger.Error("event projection upsert failed",
			"event", "poll_event_projection_upsert_failed",
			"module", "live-engagement/poll-engine",
			"layer", "worker",
			"event_id", event.EventID,
			"projected_event_id", projection.EventID,
			"error", err.Error(),
		)
		return err
	}
	logger.Info("event.upserted consumed",
		"event", "poll_event_upserted_consumed",
		"module", "live-engagement/poll-engine",
		"layer", "worker",
		"event_id", event.EventID,
		"projected_event_id", projection.EventID,
	)
	return nil
}

func (c TicketSyncConsumer) handleTicketUpserted(ctx context.Context, event ports.EventEnvelope) error {
	logger := application.ResolveLogger(c.Logger)
	if alreadyProcessed, err := c.reserveEvent(ctx, event); err != nil {
		return err
	} else if alreadyProcessed {
		logger.Debug("ticket.upserted replay skipped",
			"event", "poll_ticket_upserted_replayed",
			"module", "live-engagement/poll-engine",
			"layer", "worker",
			"event_id", event.EventID,
		)
		return nil
	}
	var payload struct {
		TicketID    string `json:"ticket_id"`
		EventID     string `json:"event_id"`
		UserID      string `json:"user_id"`
		Status      string `json:"status"`
		OrderStatus string `json:"order_status"`
		ExpiresAt   string `json:"expires_at"`
	}
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		logger.Error("ticket.upserted payload decode failed",
			"event", "poll_ticket_upserted_decode_failed",
			"module", "live-engagement/poll-engine",
			"layer", "worker",
			"event_id", event.EventID,
			"error", err.Error(),
		)
		return err
	}
	projection := ports.TicketProjection{
		TicketID:    strings.TrimSpace(payload.TicketID),
		EventID:     strings.TrimSpace(payload.EventID),
		UserID:      strings.TrimSpace(payload.UserID),
		Status:      strings.TrimSpace(payload.Status),
		OrderStatus: strings.TrimSpace(payload.OrderStatus),
	}
	if raw := strings.TrimSpace(payload.ExpiresAt); raw != "" {
		expiresAt, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			logger.Error("ticket.upserted expiry decode failed",
				"event", "poll_ticket_upserted_decode_failed",
				"module", "live-engagement/poll-engine",
				"layer", "worker",
				"event_id", event.EventID,
				"expires_at", raw,
				"error", err.Error(),
			)
			return err
		}
		utc := expiresAt.UTC()
		projection.ExpiresAt = &utc
	}
	if err := c.Tickets.UpsertTicket(ctx, projection); err != nil {
		logger.Error("ticket projection upsert failed",
			"event", "poll_ticket_projection_upsert_failed",
			"module", "live-engagement/poll-engine",
			"layer", "worker",
			"event_id", event.EventID,
			"ticket_id", projection.TicketID,
			"error", err.Error(),
		)
		return err
	}
	logger.Info("ticket.upserted consumed",
		"event", "poll_ticket_upserted_consumed",
		"module", "live-engagement/poll-engine",
		"layer", "worker",
		"event_id", event.EventID,
		"ticket_id", projection.TicketID,
	)
	return nil
}

func (c TicketSyncConsumer) reserveEvent(ctx context.Context, event ports.EventEnvelope) (bool, error) {
	logger := application.ResolveLogger(c.Logger)
	alreadyProcessed, err := c.Dedup.ReserveEvent(ctx, event.EventID, hashPayload(event.Data), c.now().Add(c.dedupTTL()))
	if err != nil {
		logger.Error("ticket sync event dedupe failed",
			"event", "poll_ticket_sync_dedupe_failed",
			"module", "live-engagement/poll-engine",
			"layer", "worker",
			"event_id", event.EventID,
			"event_type", event.EventType,
			"error", err.Error(),
		)
		return false, err
	}
	return alreadyProcessed, nil
}

func (c TicketSyncConsumer) now() time.Time {
	now := time.Now().UTC()
	if c.Clock != nil {
		now = c.Clock.Now().UTC()
	}
	return now
}

func (c TicketSyncConsumer) dedupTTL() time.Duration {
	if c.DedupTTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return c.DedupTTL
}
