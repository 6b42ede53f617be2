package commands

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	application "marquee/contexts/live-engagement/poll-engine/application"
	"marquee/contexts/live-engagement/poll-engine/ports"
)

// newPollEnvelope builds canonical envelopes for command-side broadcasts.
// Creation events are partitioned by event so storefront listeners on the
// event channel see them; vote and closure events are partitioned by poll.
func newPollEnvelope(
	eventID string,
	eventType string,
	partitionKey string,
	partitionKeyPath string,
	occurredAt time.Time,
	data map[string]any,
) (ports.EventEnvelope, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return ports.EventEnvelope{}, err
	}
	return ports.EventEnvelope{
		EventID:          eventID,
		EventType:        eventType,
		OccurredAt:       occurredAt.UTC(),
		SourceService:    "poll-engine",
		TraceID:          eventID,
		SchemaVersion:    1,
		PartitionKeyPath: partitionKeyPath,
		PartitionKey:     partitionKey,
		Data:             payload,
	}, nil
}

// appendBroadcast is best-effort by contract: broadcast delivery must never
// fail or block the originating operation, so every failure is logged and
// dropped.
func appendBroadcast(
	ctx context.Context,
	outbox ports.OutboxWriter,
	idgen ports.IDGenerator,
	logger *slog.Logger,
	eventType string,
	partitionKey string,
	partitionKeyPath string,
	occurredAt time.Time,
	data map[string]any,
) {
	if outbox == nil {
		return
	}
	log := application.ResolveLogger(logger)
	eventID, err := idgen.NewID(ctx)
	if err != nil {
		log.Warn("broadcast event id generation failed",
			"event", "poll_broadcast_append_failed",
			"module", "live-engagement/poll-engine",
			"layer", "application",
			"event_type", eventType,
			"error", err.Error(),
		)
		return
	}
	envelope, err := newPollEnvelope(eventID, eventType, partitionKey, partitionKeyPath, occurredAt, data)
	if err != nil {
		log.Warn("broadcast envelope build failed",
			"event", "poll_broadcast_append_failed",
			"module", "live-engagement/poll-engine",
			"layer", "application",
			"event_type", eventType,
			"error", err.Error(),
		)
		return
	}
	if err := outbox.AppendOutbox(ctx, envelope); err != nil {
		log.Warn("broadcast outbox append failed",
			"event", "poll_broadcast_append_failed",
			"module", "live-engagement/poll-engine",
			"layer", "application",
			"event_type", eventType,
			"error", err.Error(),
		)
	}
}
