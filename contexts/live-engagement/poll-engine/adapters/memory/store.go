package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"marquee/contexts/live-engagement/poll-engine/domain/entities"
	domainerrors "marquee/contexts/live-engagement/poll-engine/domain/errors"
	"marquee/contexts/live-engagement/poll-engine/ports"

	"github.com/google/uuid"
)

type outboxRecord struct {
	message   ports.OutboxMessage
	published bool
}

type dedupRecord struct {
	payloadHash string
	expiresAt   time.Time
}

type quotaRecord struct {
	count     int
	expiresAt time.Time
}

// Store implements every poll-engine port in process memory. It backs tests
// and the in-memory module wiring; a single mutex makes the quota counters
// and the ballot identity constraint atomic the same way the database does.
type Store struct {
	mu sync.RWMutex

	polls      map[string]entities.Poll
	votes      map[string]entities.Vote
	identities map[string]string
	quotas     map[string]quotaRecord
	outbox     map[string]outboxRecord
	eventDedup map[string]dedupRecord

	events  map[string]ports.EventProjection
	tickets map[string]ports.TicketProjection
}

func NewStore(seed []entities.Poll) *Store {
	polls := make(map[string]entities.Poll, len(seed))
	for _, poll := range seed {
		polls[poll.PollID] = poll
	}
	return &Store{
		polls:      polls,
		votes:      make(map[string]entities.Vote),
		identities: make(map[string]string),
		quotas:     make(map[string]quotaRecord),
		outbox:     make(map[string]outboxRecord),
		eventDedup: make(map[string]dedupRecord),
		events:     make(map[string]ports.EventProjection),
		tickets:    make(map[string]ports.TicketProjection),
	}
}

func (s *Store) SetEvent(event ports.EventProjection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[strings.TrimSpace(event.EventID)] = ports.EventProjection{
		EventID:     strings.TrimSpace(event.EventID),
		OrganizerID: strings.TrimSpace(event.OrganizerID),
		Status:      strings.TrimSpace(event.Status),
	}
}

func (s *Store) SetTicket(ticket ports.TicketProjection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets[strings.TrimSpace(ticket.TicketID)] = ticket
}

// CreatePoll counts the event's active polls and inserts the new one under
// the same lock, so concurrent creates cannot all observe the pre-boundary
// count and overshoot the cap together.
func (s *Store) CreatePoll(_ context.Context, poll entities.Poll, activeLimit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if activeLimit > 0 {
		active := 0
		for _, existing := range s.polls {
			if existing.EventID == poll.EventID && existing.Status == entities.PollStatusActive && !existing.Deleted() {
				active++
			}
		}
		if active >= activeLimit {
			return domainerrors.ErrActivePollCap
		}
	}
	s.polls[strings.TrimSpace(poll.PollID)] = poll
	return nil
}

func (s *Store) SavePoll(_ context.Context, poll entities.Poll) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls[strings.TrimSpace(poll.PollID)] = poll
	return nil
}

func (s *Store) GetPoll(_ context.Context, pollID string) (entities.Poll, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	poll, ok := s.polls[strings.TrimSpace(pollID)]
	if !ok || poll.Deleted() {
		return entities.Poll{}, domainerrors.ErrPollNotFound
	}
	return poll, nil
}

func (s *Store) ListPollsByEvent(
	_ context.Context,
	eventID string,
	status entities.PollStatus,
) ([]entities.Poll, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	eventID = strings.TrimSpace(eventID)
	items := make([]entities.Poll, 0)
	for _, poll := range s.polls {
		if poll.EventID != eventID || poll.Deleted() {
			continue
		}
		if status != "" && poll.Status != status {
			continue
		}
		items = append(items, poll)
	}
	sortPollsByCreation(items)
	return items, nil
}

func (s *Store) ListDuePolls(_ context.Context, now time.Time, limit int) ([]entities.Poll, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	items := make([]entities.Poll, 0)
	for _, poll := range s.polls {
		if poll.Status != entities.PollStatusActive || poll.Deleted() {
			continue
		}
		if poll.ClosesAt.After(now.UTC()) {
			continue
		}
		items = append(items, poll)
	}
	sortPollsByCreation(items)
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *Store) CreateVote(_ context.Context, vote entities.Vote) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity := vote.IdentityKey()
	if _, taken := s.identities[identity]; taken {
		return domainerrors.ErrBallotConflict
	}
	s.identities[identity] = strings.TrimSpace(vote.VoteID)
	s.votes[strings.TrimSpace(vote.VoteID)] = vote
	return nil
}

func (s *Store) UpdateVote(_ context.Context, vote entities.Vote) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.TrimSpace(vote.VoteID)
	if _, ok := s.votes[key]; !ok {
		return domainerrors.ErrConflict
	}
	s.votes[key] = vote
	return nil
}

func (s *Store) GetVoteByUser(
	_ context.Context,
	pollID string,
	userID string,
) (entities.Vote, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pollID = strings.TrimSpace(pollID)
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return entities.Vote{}, false, nil
	}
	for _, vote := range s.votes {
		if vote.PollID == pollID && !vote.IsAnonymous && vote.UserID == userID {
			return vote, true, nil
		}
	}
	return entities.Vote{}, false, nil
}

func (s *Store) GetVoteByTokenHash(
	_ context.Context,
	pollID string,
	tokenHash string,
) (entities.Vote, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pollID = strings.TrimSpace(pollID)
	tokenHash = strings.TrimSpace(tokenHash)
	if tokenHash == "" {
		return entities.Vote{}, false, nil
	}
	for _, vote := range s.votes {
		if vote.PollID == pollID && vote.IsAnonymous && vote.AnonymousTokenHash == tokenHash {
			return vote, true, nil
		}
	}
	return entities.Vote{}, false, nil
}

func (s *Store) ListVotesByPoll(_ context.Context, pollID string) ([]entities.Vote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pollID = strings.TrimSpace(pollID)
	items := make([]entities.Vote, 0)
	for _, vote := range s.votes {
		if vote.PollID == pollID {
			items = append(items, vote)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

func (s *Store) CountVotesByPoll(_ context.Context, pollID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pollID = strings.TrimSpace(pollID)
	count := 0
	for _, vote := range s.votes {
		if vote.PollID == pollID {
			count++
		}
	}
	return count, nil
}

// Incr bumps the windowed counter under the store mutex, so concurrent
// callers observe strictly increasing counts within one window.
func (s *Store) Incr(
	_ context.Context,
	key string,
	window time.Duration,
	now time.Time,
) (int, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key = strings.TrimSpace(key)
	now = now.UTC()
	record, ok := s.quotas[key]
	if !ok || !record.expiresAt.After(now) {
		record = quotaRecord{count: 0, expiresAt: now.Add(window)}
	}
	record.count++
	s.quotas[key] = record
	return record.count, record.expiresAt.Sub(now), nil
}

func (s *Store) GetEvent(_ context.Context, eventID string) (ports.EventProjection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	event, ok := s.events[strings.TrimSpace(eventID)]
	if !ok {
		return ports.EventProjection{}, domainerrors.ErrEventNotFound
	}
	return event, nil
}

func (s *Store) UpsertEvent(_ context.Context, event ports.EventProjection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[strings.TrimSpace(event.EventID)] = event
	return nil
}

func (s *Store) GetTicket(
	_ context.Context,
	eventID string,
	userID string,
) (ports.TicketProjection, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	eventID = strings.TrimSpace(eventID)
	userID = strings.TrimSpace(userID)
	for _, ticket := range s.tickets {
		if ticket.EventID == eventID && ticket.UserID == userID {
			return ticket, true, nil
		}
	}
	return ports.TicketProjection{}, false, nil
}

func (s *Store) CountActiveTickets(_ context.Context, eventID string, now time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	eventID = strings.TrimSpace(eventID)
	count := 0
	for _, ticket := range s.tickets {
		if ticket.EventID != eventID {
			continue
		}
		if !ticketUsable(ticket, now) {
			continue
		}
		count++
	}
	return count, nil
}

func (s *Store) UpsertTicket(_ context.Context, ticket ports.TicketProjection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets[strings.TrimSpace(ticket.TicketID)] = ticket
	return nil
}

func (s *Store) AppendOutbox(_ context.Context, envelope ports.EventEnvelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	outboxID := strings.TrimSpace(envelope.EventID)
	if outboxID == "" {
		outboxID = uuid.NewString()
	}
	if existing, ok := s.outbox[outboxID]; ok {
		if !bytes.Equal(existing.message.Payload, payload) {
			return domainerrors.ErrConflict
		}
		return nil
	}
	createdAt := envelope.OccurredAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	s.outbox[outboxID] = outboxRecord{
		message: ports.OutboxMessage{
			OutboxID:     outboxID,
			EventType:    strings.TrimSpace(envelope.EventType),
			PartitionKey: strings.TrimSpace(envelope.PartitionKey),
			Payload:      payload,
			CreatedAt:    createdAt,
		},
	}
	return nil
}

func (s *Store) ListPendingOutbox(_ context.Context, limit int) ([]ports.OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	items := make([]ports.OutboxMessage, 0, len(s.outbox))
	for _, row := range s.outbox {
		if row.published {
			continue
		}
		items = append(items, row.message)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *Store) MarkOutboxPublished(_ context.Context, outboxID string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.outbox[strings.TrimSpace(outboxID)]
	if !ok {
		return domainerrors.ErrConflict
	}
	row.published = true
	s.outbox[strings.TrimSpace(outboxID)] = row
	return nil
}

func (s *Store) ReserveEvent(
	_ context.Context,
	eventID string,
	payloadHash string,
	expiresAt time.Time,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.TrimSpace(eventID)
	existing, ok := s.eventDedup[key]
	if ok {
		if !existing.expiresAt.IsZero() && time.Now().UTC().After(existing.expiresAt.UTC()) {
			delete(s.eventDedup, key)
		} else {
			if existing.payloadHash != strings.TrimSpace(payloadHash) {
				return false, domainerrors.ErrConflict
			}
			return true, nil
		}
	}

	s.eventDedup[key] = dedupRecord{
		payloadHash: strings.TrimSpace(payloadHash),
		expiresAt:   expiresAt.UTC(),
	}
	return false, nil
}

func (s *Store) Now() time.Time {
	return time.Now().UTC()
}

func (s *Store) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}

func ticketUsable(ticket ports.TicketProjection, now time.Time) bool {
	if !strings.EqualFold(ticket.Status, "active") {
		return false
	}
	if !strings.EqualFold(ticket.OrderStatus, "paid") {
		return false
	}
	if ticket.ExpiresAt != nil && !ticket.ExpiresAt.After(now.UTC()) {
		return false
	}
	return true
}

func sortPollsByCreation(items []entities.Poll) {
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
}

var (
	_ ports.PollRepository   = (*Store)(nil)
	_ ports.VoteRepository   = (*Store)(nil)
	_ ports.QuotaStore       = (*Store)(nil)
	_ ports.EventDirectory   = (*Store)(nil)
	_ ports.TicketDirectory  = (*Store)(nil)
	_ ports.OutboxWriter     = (*Store)(nil)
	_ ports.OutboxRepository = (*Store)(nil)
	_ ports.EventDedupStore  = (*Store)(nil)
	_ ports.Clock            = (*Store)(nil)
	_ ports.IDGenerator      = (*Store)(nil)
)
