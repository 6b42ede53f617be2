package ports

import (
	"context"
	"time"

	"marquee/contexts/live-engagement/poll-engine/domain/entities"
	"marquee/internal/shared/events"
)

// PollRepository owns poll persistence. Soft-deleted polls are excluded from
// every read except none; deletion is terminal for the read surface.
type PollRepository interface {
	// CreatePoll inserts a new poll and must enforce activeLimit atomically:
	// the active-poll count and the insert happen under one lock or
	// transaction, so two racing creates can never both land on an event that
	// has room for only one more. Returns ErrActivePollCap when the event is
	// already at the limit; activeLimit <= 0 disables the cap.
	CreatePoll(ctx context.Context, poll entities.Poll, activeLimit int) error
	// SavePoll upserts the poll row keyed by poll id.
	SavePoll(ctx context.Context, poll entities.Poll) error
	GetPoll(ctx context.Context, pollID string) (entities.Poll, error)
	// ListPollsByEvent returns non-deleted polls, optionally filtered by status
	// (empty status means all), ordered by creation time.
	ListPollsByEvent(ctx context.Context, eventID string, status entities.PollStatus) ([]entities.Poll, error)
	// ListDuePolls returns active, non-deleted polls whose closes_at has passed.
	ListDuePolls(ctx context.Context, now time.Time, limit int) ([]entities.Poll, error)
}

// VoteRepository owns ballot persistence. CreateVote must be an atomic insert
// under the identity-key uniqueness constraint: when two first-time ballots
// for the same identity race, exactly one row is created and the loser gets
// ErrBallotConflict.
type VoteRepository interface {
	CreateVote(ctx context.Context, vote entities.Vote) error
	UpdateVote(ctx context.Context, vote entities.Vote) error
	GetVoteByUser(ctx context.Context, pollID string, userID string) (entities.Vote, bool, error)
	GetVoteByTokenHash(ctx context.Context, pollID string, tokenHash string) (entities.Vote, bool, error)
	ListVotesByPoll(ctx context.Context, pollID string) ([]entities.Vote, error)
	CountVotesByPoll(ctx context.Context, pollID string) (int, error)
}

// QuotaStore is an atomically-incrementable counter store with per-key
// rolling windows. Incr is check-and-increment in one step: it returns the
// post-increment count and the time left until the key's window resets, so
// two concurrent callers can never both observe the pre-boundary count.
type QuotaStore interface {
	Incr(ctx context.Context, key string, window time.Duration, now time.Time) (int, time.Duration, error)
}

// EventProjection is the locally-synced slice of the external Event
// collaborator the gate needs for organizer checks.
type EventProjection struct {
	EventID     string
	OrganizerID string
	Status      string
}

// TicketProjection is the locally-synced slice of the external Ticket
// collaborator, including the linked order status used for validity checks.
type TicketProjection struct {
	TicketID    string
	EventID     string
	UserID      string
	Status      string
	OrderStatus string
	ExpiresAt   *time.Time
}

type EventDirectory interface {
	GetEvent(ctx context.Context, eventID string) (EventProjection, error)
	UpsertEvent(ctx context.Context, event EventProjection) error
}

type TicketDirectory interface {
	GetTicket(ctx context.Context, eventID string, userID string) (TicketProjection, bool, error)
	// CountActiveTickets counts valid (active, paid, unexpired) tickets for the
	// event; it is the participation-rate denominator.
	CountActiveTickets(ctx context.Context, eventID string, now time.Time) (int, error)
	UpsertTicket(ctx context.Context, ticket TicketProjection) error
}

// EventEnvelope reuses the canonical cross-service envelope contract.
type EventEnvelope = events.Envelope

// OutboxMessage is a row ready to relay from the module outbox.
type OutboxMessage struct {
	OutboxID     string
	EventType    string
	PartitionKey string
	Payload      []byte
	CreatedAt    time.Time
}

// OutboxWriter appends broadcast events. Callers treat append failures as
// best-effort: they are logged and never fail the originating operation.
type OutboxWriter interface {
	AppendOutbox(ctx context.Context, envelope EventEnvelope) error
}

// OutboxRepository models worker-side outbox polling/acknowledgement.
type OutboxRepository interface {
	ListPendingOutbox(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error
}

// EventDedupStore provides idempotent processing for consumed events.
type EventDedupStore interface {
	ReserveEvent(ctx context.Context, eventID string, payloadHash string, expiresAt time.Time) (bool, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, topic string, event EventEnvelope) error
}

type EventSubscriber interface {
	Subscribe(
		ctx context.Context,
		topic string,
		consumerGroup string,
		handler func(context.Context, EventEnvelope) error,
	) error
}

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}
