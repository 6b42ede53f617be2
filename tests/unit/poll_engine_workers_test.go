package unit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"testing"
	"time"

	pollengine "marquee/contexts/live-engagement/poll-engine"
	"marquee/contexts/live-engagement/poll-engine/adapters/memory"
	"marquee/contexts/live-engagement/poll-engine/application/workers"
	"marquee/contexts/live-engagement/poll-engine/domain/entities"
	pollerrors "marquee/contexts/live-engagement/poll-engine/domain/errors"
	"marquee/contexts/live-engagement/poll-engine/ports"
	pollhttp "marquee/contexts/live-engagement/poll-engine/transport/http"
	"marquee/internal/platform/messaging"
	"marquee/internal/shared/events"
)

type capturePublisher struct {
	published []struct {
		Topic string
		Event ports.EventEnvelope
	}
	fail bool
}

func (p *capturePublisher) Publish(_ context.Context, topic string, event ports.EventEnvelope) error {
	if p.fail {
		return errors.New("broker unavailable")
	}
	p.published = append(p.published, struct {
		Topic string
		Event ports.EventEnvelope
	}{topic, event})
	return nil
}

func expiredPollSeed(now time.Time) entities.Poll {
	return entities.Poll{
		PollID:      "poll-expired",
		EventID:     "event-1",
		OrganizerID: "organizer-1",
		Question:    "Did we make it in time?",
		Options: []entities.Option{
			{OptionID: "opt_1", Label: "Yes"},
			{OptionID: "opt_2", Label: "No"},
		},
		PollType:  entities.PollTypeSingleChoice,
		MaxVotes:  1,
		Status:    entities.PollStatusActive,
		ClosesAt:  now.Add(-time.Minute),
		CreatedAt: now.Add(-time.Hour),
		UpdatedAt: now.Add(-time.Hour),
	}
}

func TestExpiredPollSweep(t *testing.T) {
	now := time.Now().UTC()
	module := pollengine.NewInMemoryModule([]entities.Poll{expiredPollSeed(now)}, nil)
	seedEventAndTicket(module.Store)

	// The engine rejects ballots past the closing time even before the
	// sweep has transitioned the row.
	_, err := module.Handler.SubmitVoteHandler(context.Background(), "poll-expired", voterActor(), pollhttp.SubmitVoteRequest{
		OptionIDs: []string{"opt_1"},
	})
	var stateErr *pollerrors.StateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected state error, got %v", err)
	}
	if stateErr.Reason != "poll expired" {
		t.Fatalf("unexpected reason: %s", stateErr.Reason)
	}

	if err := module.PollCloser.RunOnce(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}

	detail, err := module.Handler.GetPollHandler(context.Background(), "poll-expired", organizerActor())
	if err != nil {
		t.Fatalf("get after sweep failed: %v", err)
	}
	if detail.Poll.Status != "closed" || detail.Poll.CloseReason != "expired" {
		t.Fatalf("expected expired closure, got status=%s reason=%s", detail.Poll.Status, detail.Poll.CloseReason)
	}

	// A second sweep finds nothing due and must not emit another closure.
	if err := module.PollCloser.RunOnce(context.Background()); err != nil {
		t.Fatalf("second sweep failed: %v", err)
	}
	rows, err := module.Store.ListPendingOutbox(context.Background(), 100)
	if err != nil {
		t.Fatalf("outbox read failed: %v", err)
	}
	closures := 0
	for _, row := range rows {
		if row.EventType == "poll.closed" {
			closures++
		}
	}
	if closures != 1 {
		t.Fatalf("expected exactly one closure broadcast, got %d", closures)
	}
}

func TestClosureBroadcastCarriesFinalResults(t *testing.T) {
	module, store := newPollModule(relaxedLimits())
	seedEventAndTicket(store)

	poll, err := module.Handler.CreatePollHandler(context.Background(), "event-1", organizerActor(), basicCreateRequest())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := module.Handler.SubmitVoteHandler(context.Background(), poll.PollID, voterActor(), pollhttp.SubmitVoteRequest{
		OptionIDs: []string{"opt_2"},
	}); err != nil {
		t.Fatalf("vote failed: %v", err)
	}
	if _, err := module.Handler.ClosePollHandler(context.Background(), poll.PollID, organizerActor()); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	rows, err := store.ListPendingOutbox(context.Background(), 100)
	if err != nil {
		t.Fatalf("outbox read failed: %v", err)
	}
	var closure *events.Envelope
	for _, row := range rows {
		if row.EventType != "poll.closed" {
			continue
		}
		var envelope events.Envelope
		if err := json.Unmarshal(row.Payload, &envelope); err != nil {
			t.Fatalf("bad outbox payload: %v", err)
		}
		closure = &envelope
	}
	if closure == nil {
		t.Fatalf("expected a closure broadcast")
	}
	if closure.PartitionKey != poll.PollID {
		t.Fatalf("closure must partition by poll, got %s", closure.PartitionKey)
	}

	var data struct {
		CloseReason  string           `json:"close_reason"`
		TotalVotes   int              `json:"total_votes"`
		FinalResults []map[string]any `json:"final_results"`
	}
	if err := json.Unmarshal(closure.Data, &data); err != nil {
		t.Fatalf("bad closure data: %v", err)
	}
	if data.CloseReason != "manual" || data.TotalVotes != 1 {
		t.Fatalf("unexpected closure data: %+v", data)
	}
	if len(data.FinalResults) != 2 {
		t.Fatalf("closure must carry one tally per option, got %d", len(data.FinalResults))
	}
}

func TestOutboxRelayPublishesAndAcks(t *testing.T) {
	module, store := newPollModule(relaxedLimits())
	seedEventAndTicket(store)

	poll, err := module.Handler.CreatePollHandler(context.Background(), "event-1", organizerActor(), basicCreateRequest())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := module.Handler.SubmitVoteHandler(context.Background(), poll.PollID, voterActor(), pollhttp.SubmitVoteRequest{
		OptionIDs: []string{"opt_1"},
	}); err != nil {
		t.Fatalf("vote failed: %v", err)
	}

	publisher := &capturePublisher{}
	relay := workers.OutboxRelay{Outbox: store, Publisher: publisher}
	if err := relay.RunOnce(context.Background()); err != nil {
		t.Fatalf("relay failed: %v", err)
	}

	topics := make(map[string]int, len(publisher.published))
	for _, item := range publisher.published {
		topics[item.Topic]++
	}
	if topics["poll.created"] != 1 || topics["vote.recorded"] != 1 {
		t.Fatalf("unexpected topics: %v", topics)
	}

	// Everything was acknowledged, so a second cycle publishes nothing.
	publisher.published = nil
	if err := relay.RunOnce(context.Background()); err != nil {
		t.Fatalf("second relay failed: %v", err)
	}
	if len(publisher.published) != 0 {
		t.Fatalf("acknowledged rows republished: %d", len(publisher.published))
	}
}

func TestOutboxRelayKeepsRowsOnBrokerFailure(t *testing.T) {
	module, store := newPollModule(relaxedLimits())
	seedEventAndTicket(store)

	if _, err := module.Handler.CreatePollHandler(context.Background(), "event-1", organizerActor(), basicCreateRequest()); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	relay := workers.OutboxRelay{Outbox: store, Publisher: &capturePublisher{fail: true}}
	if err := relay.RunOnce(context.Background()); err == nil {
		t.Fatalf("expected relay failure")
	}

	rows, err := store.ListPendingOutbox(context.Background(), 100)
	if err != nil {
		t.Fatalf("outbox read failed: %v", err)
	}
	if len(rows) == 0 {
		t.Fatalf("rows must stay pending until the broker accepts them")
	}
}

func TestTicketSyncConsumerProjectsAndDedupes(t *testing.T) {
	store := memory.NewStore(nil)
	bus, err := messaging.NewKafka(nil, nil)
	if err != nil {
		t.Fatalf("bus init failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumer := workers.TicketSyncConsumer{
		Subscriber: bus,
		Dedup:      store,
		Events:     store,
		Tickets:    store,
	}
	if err := consumer.Start(ctx); err != nil {
		t.Fatalf("consumer start failed: %v", err)
	}

	eventPayload, _ := json.Marshal(map[string]any{
		"event_id":     "event-9",
		"organizer_id": "organizer-9",
		"status":       "published",
	})
	envelope := events.Envelope{
		EventID:    "upsert-1",
		EventType:  "event.upserted",
		OccurredAt: time.Now().UTC(),
		Data:       eventPayload,
	}
	if err := bus.Publish(ctx, "event.upserted", envelope); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	waitFor(t, func() bool {
		_, err := store.GetEvent(context.Background(), "event-9")
		return err == nil
	})

	ticketPayload, _ := json.Marshal(map[string]any{
		"ticket_id":    "ticket-9",
		"event_id":     "event-9",
		"user_id":      "user-9",
		"status":       "active",
		"order_status": "paid",
	})
	if err := bus.Publish(ctx, "ticket.upserted", events.Envelope{
		EventID:    "upsert-2",
		EventType:  "ticket.upserted",
		OccurredAt: time.Now().UTC(),
		Data:       ticketPayload,
	}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	waitFor(t, func() bool {
		_, found, err := store.GetTicket(context.Background(), "event-9", "user-9")
		return err == nil && found
	})

	// A replay of an already-reserved event id is dropped before the
	// projection write.
	replayed, err := store.ReserveEvent(context.Background(), "upsert-1", hashOf(eventPayload), time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if !replayed {
		t.Fatalf("expected the event id to already be reserved")
	}
}

func hashOf(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}
