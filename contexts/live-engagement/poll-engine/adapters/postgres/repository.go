package postgresadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"marquee/contexts/live-engagement/poll-engine/domain/entities"
	domainerrors "marquee/contexts/live-engagement/poll-engine/domain/errors"
	"marquee/contexts/live-engagement/poll-engine/ports"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	outboxStatusPending   = "pending"
	outboxStatusPublished = "published"
)

type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// CreatePoll wraps the active-poll count and the insert in one transaction.
// A per-event advisory lock serializes racing creates, so the count can never
// run against a snapshot another in-flight insert is about to invalidate.
func (r *Repository) CreatePoll(ctx context.Context, poll entities.Poll, activeLimit int) error {
	row, err := pollModelFromEntity(poll)
	if err != nil {
		return r.logError("poll_repo_encode_poll_failed", err, "poll_id", strings.TrimSpace(poll.PollID))
	}
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if activeLimit > 0 {
			if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", row.EventID).Error; err != nil {
				return err
			}
			var active int64
			err := tx.Model(&pollModel{}).
				Where("event_id = ?", row.EventID).
				Where("status = ?", string(entities.PollStatusActive)).
				Where("deleted_at IS NULL").
				Count(&active).
				Error
			if err != nil {
				return err
			}
			if int(active) >= activeLimit {
				return domainerrors.ErrActivePollCap
			}
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		if errors.Is(err, domainerrors.ErrActivePollCap) {
			return domainerrors.ErrActivePollCap
		}
		return r.logError("poll_repo_create_poll_failed", err,
			"poll_id", strings.TrimSpace(poll.PollID),
			"event_id", strings.TrimSpace(poll.EventID),
		)
	}
	return nil
}

func (r *Repository) SavePoll(ctx context.Context, poll entities.Poll) error {
	row, err := pollModelFromEntity(poll)
	if err != nil {
		return r.logError("poll_repo_encode_poll_failed", err, "poll_id", strings.TrimSpace(poll.PollID))
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"question":                 row.Question,
			"description":              row.Description,
			"options":                  row.Options,
			"poll_type":                row.PollType,
			"max_votes":                row.MaxVotes,
			"allow_anonymous":          row.AllowAnonymous,
			"allow_vote_changes":       row.AllowVoteChanges,
			"show_results_before_vote": row.ShowResultsBeforeVote,
			"closes_at":                row.ClosesAt,
			"status":                   row.Status,
			"closed_at":                row.ClosedAt,
			"close_reason":             row.CloseReason,
			"deleted_at":               row.DeletedAt,
			"updated_at":               row.UpdatedAt,
		}),
	}).Create(&row)
	if create.Error != nil {
		return r.logError("poll_repo_save_poll_failed", create.Error,
			"poll_id", strings.TrimSpace(poll.PollID),
			"event_id", strings.TrimSpace(poll.EventID),
		)
	}
	return nil
}

func (r *Repository) GetPoll(ctx context.Context, pollID string) (entities.Poll, error) {
	var row pollModel
	err := r.db.WithContext(ctx).
		Where("id = ?", strings.TrimSpace(pollID)).
		Where("deleted_at IS NULL").
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Poll{}, domainerrors.ErrPollNotFound
		}
		return entities.Poll{}, r.logError("poll_repo_get_poll_failed", err, "poll_id", strings.TrimSpace(pollID))
	}
	return r.pollEntity(row)
}

func (r *Repository) ListPollsByEvent(
	ctx context.Context,
	eventID string,
	status entities.PollStatus,
) ([]entities.Poll, error) {
	tx := r.db.WithContext(ctx).Model(&pollModel{}).
		Where("event_id = ?", strings.TrimSpace(eventID)).
		Where("deleted_at IS NULL")
	if status != "" {
		tx = tx.Where("status = ?", string(status))
	}
	var rows []pollModel
	if err := tx.Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, r.logError("poll_repo_list_polls_failed", err,
			"event_id", strings.TrimSpace(eventID),
			"status", string(status),
		)
	}
	return r.pollEntities(rows)
}

func (r *Repository) ListDuePolls(ctx context.Context, now time.Time, limit int) ([]entities.Poll, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []pollModel
	err := r.db.WithContext(ctx).
		Where("status = ?", string(entities.PollStatusActive)).
		Where("deleted_at IS NULL").
		Where("closes_at <= ?", now.UTC()).
		Order("closes_at ASC").
		Limit(limit).
		Find(&rows).
		Error
	if err != nil {
		return nil, r.logError("poll_repo_list_due_polls_failed", err, "limit", limit)
	}
	return r.pollEntities(rows)
}

// CreateVote is a bare insert; the partial unique indexes on
// (poll_id, user_id) and (poll_id, anonymous_token_hash) are the identity
// constraint, so a racing duplicate surfaces here as ErrBallotConflict.
func (r *Repository) CreateVote(ctx context.Context, vote entities.Vote) error {
	row, err := voteModelFromEntity(vote)
	if err != nil {
		return r.logError("poll_repo_encode_vote_failed", err, "vote_id", strings.TrimSpace(vote.VoteID))
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return domainerrors.ErrBallotConflict
		}
		return r.logError("poll_repo_create_vote_failed", err,
			"vote_id", strings.TrimSpace(vote.VoteID),
			"poll_id", strings.TrimSpace(vote.PollID),
		)
	}
	return nil
}

func (r *Repository) UpdateVote(ctx context.Context, vote entities.Vote) error {
	selections, err := json.Marshal(vote.OptionIDs)
	if err != nil {
		return r.logError("poll_repo_encode_vote_failed", err, "vote_id", strings.TrimSpace(vote.VoteID))
	}
	result := r.db.WithContext(ctx).
		Model(&voteModel{}).
		Where("id = ?", strings.TrimSpace(vote.VoteID)).
		Updates(map[string]any{
			"option_ids": selections,
			"ip_address": strings.TrimSpace(vote.IPAddress),
			"user_agent": strings.TrimSpace(vote.UserAgent),
			"updated_at": vote.UpdatedAt.UTC(),
		})
	if result.Error != nil {
		return r.logError("poll_repo_update_vote_failed", result.Error,
			"vote_id", strings.TrimSpace(vote.VoteID),
			"poll_id", strings.TrimSpace(vote.PollID),
		)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrConflict
	}
	return nil
}

func (r *Repository) GetVoteByUser(
	ctx context.Context,
	pollID string,
	userID string,
) (entities.Vote, bool, error) {
	var row voteModel
	err := r.db.WithContext(ctx).
		Where("poll_id = ?", strings.TrimSpace(pollID)).
		Where("user_id = ?", strings.TrimSpace(userID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Vote{}, false, nil
		}
		return entities.Vote{}, false, r.logError("poll_repo_get_vote_by_user_failed", err,
			"poll_id", strings.TrimSpace(pollID),
			"user_id", strings.TrimSpace(userID),
		)
	}
	vote, err := r.voteEntity(row)
	if err != nil {
		return entities.Vote{}, false, err
	}
	return vote, true, nil
}

func (r *Repository) GetVoteByTokenHash(
	ctx context.Context,
	pollID string,
	tokenHash string,
) (entities.Vote, bool, error) {
	var row voteModel
	err := r.db.WithContext(ctx).
		Where("poll_id = ?", strings.TrimSpace(pollID)).
		Where("anonymous_token_hash = ?", strings.TrimSpace(tokenHash)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Vote{}, false, nil
		}
		return entities.Vote{}, false, r.logError("poll_repo_get_vote_by_token_failed", err,
			"poll_id", strings.TrimSpace(pollID),
		)
	}
	vote, err := r.voteEntity(row)
	if err != nil {
		return entities.Vote{}, false, err
	}
	return vote, true, nil
}

func (r *Repository) ListVotesByPoll(ctx context.Context, pollID string) ([]entities.Vote, error) {
	var rows []voteModel
	if err := r.db.WithContext(ctx).
		Where("poll_id = ?", strings.TrimSpace(pollID)).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("poll_repo_list_votes_failed", err, "poll_id", strings.TrimSpace(pollID))
	}
	items := make([]entities.Vote, 0, len(rows))
	for _, row := range rows {
		vote, err := r.voteEntity(row)
		if err != nil {
			return nil, err
		}
		items = append(items, vote)
	}
	return items, nil
}

func (r *Repository) CountVotesByPoll(ctx context.Context, pollID string) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&voteModel{}).
		Where("poll_id = ?", strings.TrimSpace(pollID)).
		Count(&count).
		Error
	if err != nil {
		return 0, r.logError("poll_repo_count_votes_failed", err, "poll_id", strings.TrimSpace(pollID))
	}
	return int(count), nil
}

// Incr performs the windowed check-and-increment in a single statement so
// concurrent callers within one window always see distinct counts. An
// expired row is reset to 1 with a fresh window instead of being swept by a
// separate job.
func (r *Repository) Incr(
	ctx context.Context,
	key string,
	window time.Duration,
	now time.Time,
) (int, time.Duration, error) {
	nowUTC := now.UTC()
	reset := nowUTC.Add(window)

	var row struct {
		Count     int       `gorm:"column:count"`
		ExpiresAt time.Time `gorm:"column:expires_at"`
	}
	err := r.db.WithContext(ctx).Raw(`
		INSERT INTO poll_quota_counters (key, count, expires_at)
		VALUES (?, 1, ?)
		ON CONFLICT (key) DO UPDATE SET
			count = CASE WHEN poll_quota_counters.expires_at <= ? THEN 1 ELSE poll_quota_counters.count + 1 END,
			expires_at = CASE WHEN poll_quota_counters.expires_at <= ? THEN ? ELSE poll_quota_counters.expires_at END
		RETURNING count, expires_at
	`, strings.TrimSpace(key), reset, nowUTC, nowUTC, reset).Scan(&row).Error
	if err != nil {
		return 0, 0, r.logError("poll_repo_quota_incr_failed", err, "key", strings.TrimSpace(key))
	}
	remaining := row.ExpiresAt.UTC().Sub(nowUTC)
	if remaining < 0 {
		remaining = 0
	}
	return row.Count, remaining, nil
}

func (r *Repository) GetEvent(ctx context.Context, eventID string) (ports.EventProjection, error) {
	var row eventProjectionModel
	err := r.db.WithContext(ctx).
		Where("event_id = ?", strings.TrimSpace(eventID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.EventProjection{}, domainerrors.ErrEventNotFound
		}
		return ports.EventProjection{}, r.logError("poll_repo_get_event_failed", err, "event_id", strings.TrimSpace(eventID))
	}
	return ports.EventProjection{
		EventID:     row.EventID,
		OrganizerID: row.OrganizerID,
		Status:      row.Status,
	}, nil
}

func (r *Repository) UpsertEvent(ctx context.Context, event ports.EventProjection) error {
	row := eventProjectionModel{
		EventID:     strings.TrimSpace(event.EventID),
		OrganizerID: strings.TrimSpace(event.OrganizerID),
		Status:      strings.TrimSpace(event.Status),
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "event_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"organizer_id": row.OrganizerID,
			"status":       row.Status,
		}),
	}).Create(&row)
	if create.Error != nil {
		return r.logError("poll_repo_upsert_event_failed", create.Error, "event_id", row.EventID)
	}
	return nil
}

func (r *Repository) GetTicket(
	ctx context.Context,
	eventID string,
	userID string,
) (ports.TicketProjection, bool, error) {
	var row ticketProjectionModel
	err := r.db.WithContext(ctx).
		Where("event_id = ?", strings.TrimSpace(eventID)).
		Where("user_id = ?", strings.TrimSpace(userID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.TicketProjection{}, false, nil
		}
		return ports.TicketProjection{}, false, r.logError("poll_repo_get_ticket_failed", err,
			"event_id", strings.TrimSpace(eventID),
			"user_id", strings.TrimSpace(userID),
		)
	}
	return row.toProjection(), true, nil
}

func (r *Repository) CountActiveTickets(ctx context.Context, eventID string, now time.Time) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&ticketProjectionModel{}).
		Where("event_id = ?", strings.TrimSpace(eventID)).
		Where("status = ?", "active").
		Where("order_status = ?", "paid").
		Where("expires_at IS NULL OR expires_at > ?", now.UTC()).
		Count(&count).
		Error
	if err != nil {
		return 0, r.logError("poll_repo_count_active_tickets_failed", err, "event_id", strings.TrimSpace(eventID))
	}
	return int(count), nil
}

func (r *Repository) UpsertTicket(ctx context.Context, ticket ports.TicketProjection) error {
	row := ticketProjectionModel{
		TicketID:    strings.TrimSpace(ticket.TicketID),
		EventID:     strings.TrimSpace(ticket.EventID),
		UserID:      strings.TrimSpace(ticket.UserID),
		Status:      strings.TrimSpace(ticket.Status),
		OrderStatus: strings.TrimSpace(ticket.OrderStatus),
		ExpiresAt:   normalizeOptionalTime(ticket.ExpiresAt),
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "ticket_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"event_id":     row.EventID,
			"user_id":      row.UserID,
			"status":       row.Status,
			"order_status": row.OrderStatus,
			"expires_at":   row.ExpiresAt,
		}),
	}).Create(&row)
	if create.Error != nil {
		return r.logError("poll_repo_upsert_ticket_failed", create.Error, "ticket_id", row.TicketID)
	}
	return nil
}

func (r *Repository) AppendOutbox(ctx context.Context, envelope ports.EventEnvelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return r.logError("poll_repo_encode_outbox_failed", err, "event_id", strings.TrimSpace(envelope.EventID))
	}
	createdAt := envelope.OccurredAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	row := outboxModel{
		OutboxID:     strings.TrimSpace(envelope.EventID),
		EventType:    strings.TrimSpace(envelope.EventType),
		PartitionKey: strings.TrimSpace(envelope.PartitionKey),
		Payload:      payload,
		Status:       outboxStatusPending,
		CreatedAt:    createdAt,
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "outbox_id"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return r.logError("poll_repo_append_outbox_failed", create.Error,
			"event_id", strings.TrimSpace(envelope.EventID),
			"event_type", strings.TrimSpace(envelope.EventType),
		)
	}
	if create.RowsAffected > 0 {
		return nil
	}

	var existing outboxModel
	if err := r.db.WithContext(ctx).
		Select("payload").
		Where("outbox_id = ?", row.OutboxID).
		First(&existing).Error; err != nil {
		return r.logError("poll_repo_append_outbox_load_existing_failed", err,
			"event_id", strings.TrimSpace(envelope.EventID),
		)
	}
	if !bytes.Equal(existing.Payload, payload) {
		return domainerrors.ErrConflict
	}
	return nil
}

func (r *Repository) ListPendingOutbox(ctx context.Context, limit int) ([]ports.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []outboxModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", outboxStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, r.logError("poll_repo_list_pending_outbox_failed", err, "limit", limit)
	}
	items := make([]ports.OutboxMessage, 0, len(rows))
	for _, row := range rows {
		items = append(items, ports.OutboxMessage{
			OutboxID:     row.OutboxID,
			EventType:    row.EventType,
			PartitionKey: row.PartitionKey,
			Payload:      append([]byte(nil), row.Payload...),
			CreatedAt:    row.CreatedAt.UTC(),
		})
	}
	return items, nil
}

func (r *Repository) MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&outboxModel{}).
		Where("outbox_id = ?", strings.TrimSpace(outboxID)).
		Updates(map[string]any{
			"status":       outboxStatusPublished,
			"published_at": publishedAt.UTC(),
		})
	if result.Error != nil {
		return r.logError("poll_repo_mark_outbox_published_failed", result.Error,
			"outbox_id", strings.TrimSpace(outboxID),
		)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrConflict
	}
	return nil
}

func (r *Repository) ReserveEvent(
	ctx context.Context,
	eventID string,
	payloadHash string,
	expiresAt time.Time,
) (bool, error) {
	row := eventDedupModel{
		EventID:     strings.TrimSpace(eventID),
		PayloadHash: strings.TrimSpace(payloadHash),
		ExpiresAt:   expiresAt.UTC(),
		ProcessedAt: time.Now().UTC(),
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return false, r.logError("poll_repo_reserve_event_failed", create.Error,
			"event_id", strings.TrimSpace(eventID),
		)
	}
	if create.RowsAffected > 0 {
		return false, nil
	}

	var existing eventDedupModel
	if err := r.db.WithContext(ctx).
		Select("payload_hash").
		Where("event_id = ?", row.EventID).
		First(&existing).Error; err != nil {
		return false, r.logError("poll_repo_reserve_event_load_existing_failed", err,
			"event_id", strings.TrimSpace(eventID),
		)
	}
	if existing.PayloadHash != row.PayloadHash {
		return false, domainerrors.ErrConflict
	}
	return true, nil
}

func (r *Repository) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", "live-engagement/poll-engine",
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error("poll repository operation failed", fields...)
	return err
}

func (r *Repository) pollEntity(row pollModel) (entities.Poll, error) {
	poll, err := row.toEntity()
	if err != nil {
		return entities.Poll{}, r.logError("poll_repo_decode_poll_failed", err, "poll_id", row.ID)
	}
	return poll, nil
}

func (r *Repository) pollEntities(rows []pollModel) ([]entities.Poll, error) {
	items := make([]entities.Poll, 0, len(rows))
	for _, row := range rows {
		poll, err := r.pollEntity(row)
		if err != nil {
			return nil, err
		}
		items = append(items, poll)
	}
	return items, nil
}

func (r *Repository) voteEntity(row voteModel) (entities.Vote, error) {
	vote, err := row.toEntity()
	if err != nil {
		return entities.Vote{}, r.logError("poll_repo_decode_vote_failed", err, "vote_id", row.ID)
	}
	return vote, nil
}

type optionDoc struct {
	OptionID    string `json:"option_id"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`

	ArtistName    string  `json:"artist_name,omitempty"`
	ArtistGenre   string  `json:"artist_genre,omitempty"`
	ThemeColorHex string  `json:"theme_color_hex,omitempty"`
	FeatureCost   float64 `json:"feature_cost,omitempty"`
}

type pollModel struct {
	ID          string `gorm:"column:id;primaryKey"`
	EventID     string `gorm:"column:event_id"`
	OrganizerID string `gorm:"column:organizer_id"`

	Question    string `gorm:"column:question"`
	Description string `gorm:"column:description"`
	Options     []byte `gorm:"column:options;type:jsonb"`
	PollType    string `gorm:"column:poll_type"`
	MaxVotes    int    `gorm:"column:max_votes"`

	AllowAnonymous        bool `gorm:"column:allow_anonymous"`
	AllowVoteChanges      bool `gorm:"column:allow_vote_changes"`
	ShowResultsBeforeVote bool `gorm:"column:show_results_before_vote"`

	ClosesAt    time.Time  `gorm:"column:closes_at"`
	Status      string     `gorm:"column:status"`
	ClosedAt    *time.Time `gorm:"column:closed_at"`
	CloseReason string     `gorm:"column:close_reason"`
	DeletedAt   *time.Time `gorm:"column:deleted_at"`
	CreatedAt   time.Time  `gorm:"column:created_at"`
	UpdatedAt   time.Time  `gorm:"column:updated_at"`
}

func (pollModel) TableName() string {
	return "polls"
}

func pollModelFromEntity(poll entities.Poll) (pollModel, error) {
	docs := make([]optionDoc, 0, len(poll.Options))
	for _, option := range poll.Options {
		docs = append(docs, optionDoc(option))
	}
	options, err := json.Marshal(docs)
	if err != nil {
		return pollModel{}, err
	}
	row := pollModel{
		ID:          strings.TrimSpace(poll.PollID),
		EventID:     strings.TrimSpace(poll.EventID),
		OrganizerID: strings.TrimSpace(poll.OrganizerID),

		Question:    strings.TrimSpace(poll.Question),
		Description: strings.TrimSpace(poll.Description),
		Options:     options,
		PollType:    string(poll.PollType),
		MaxVotes:    poll.MaxVotes,

		AllowAnonymous:        poll.AllowAnonymous,
		AllowVoteChanges:      poll.AllowVoteChanges,
		ShowResultsBeforeVote: poll.ShowResultsBeforeVote,

		ClosesAt:    poll.ClosesAt.UTC(),
		Status:      string(poll.Status),
		ClosedAt:    normalizeOptionalTime(poll.ClosedAt),
		CloseReason: string(poll.CloseReason),
		DeletedAt:   normalizeOptionalTime(poll.DeletedAt),
		CreatedAt:   poll.CreatedAt.UTC(),
		UpdatedAt:   poll.UpdatedAt.UTC(),
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = row.CreatedAt
	}
	return row, nil
}

func (m pollModel) toEntity() (entities.Poll, error) {
	var docs []optionDoc
	if len(m.Options) > 0 {
		if err := json.Unmarshal(m.Options, &docs); err != nil {
			return entities.Poll{}, err
		}
	}
	options := make([]entities.Option, 0, len(docs))
	for _, doc := range docs {
		options = append(options, entities.Option(doc))
	}
	return entities.Poll{
		PollID:      m.ID,
		EventID:     m.EventID,
		OrganizerID: m.OrganizerID,

		Question:    m.Question,
		Description: m.Description,
		Options:     options,
		PollType:    entities.PollType(m.PollType),
		MaxVotes:    m.MaxVotes,

		AllowAnonymous:        m.AllowAnonymous,
		AllowVoteChanges:      m.AllowVoteChanges,
		ShowResultsBeforeVote: m.ShowResultsBeforeVote,

		ClosesAt:    m.ClosesAt.UTC(),
		Status:      entities.PollStatus(m.Status),
		ClosedAt:    normalizeOptionalTime(m.ClosedAt),
		CloseReason: entities.CloseReason(m.CloseReason),
		DeletedAt:   normalizeOptionalTime(m.DeletedAt),
		CreatedAt:   m.CreatedAt.UTC(),
		UpdatedAt:   m.UpdatedAt.UTC(),
	}, nil
}

type voteModel struct {
	ID                 string    `gorm:"column:id;primaryKey"`
	PollID             string    `gorm:"column:poll_id"`
	UserID             *string   `gorm:"column:user_id"`
	OptionIDs          []byte    `gorm:"column:option_ids;type:jsonb"`
	IsAnonymous        bool      `gorm:"column:is_anonymous"`
	AnonymousTokenHash *string   `gorm:"column:anonymous_token_hash"`
	IPAddress          string    `gorm:"column:ip_address"`
	UserAgent          string    `gorm:"column:user_agent"`
	CreatedAt          time.Time `gorm:"column:created_at"`
	UpdatedAt          time.Time `gorm:"column:updated_at"`
}

func (voteModel) TableName() string {
	return "poll_votes"
}

func voteModelFromEntity(vote entities.Vote) (voteModel, error) {
	selections, err := json.Marshal(vote.OptionIDs)
	if err != nil {
		return voteModel{}, err
	}
	row := voteModel{
		ID:          strings.TrimSpace(vote.VoteID),
		PollID:      strings.TrimSpace(vote.PollID),
		OptionIDs:   selections,
		IsAnonymous: vote.IsAnonymous,
		IPAddress:   strings.TrimSpace(vote.IPAddress),
		UserAgent:   strings.TrimSpace(vote.UserAgent),
		CreatedAt:   vote.CreatedAt.UTC(),
		UpdatedAt:   vote.UpdatedAt.UTC(),
	}
	// NULLs keep the partial unique indexes scoped to the matching identity
	// column only.
	if userID := strings.TrimSpace(vote.UserID); userID != "" {
		row.UserID = &userID
	}
	if tokenHash := strings.TrimSpace(vote.AnonymousTokenHash); tokenHash != "" {
		row.AnonymousTokenHash = &tokenHash
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = row.CreatedAt
	}
	return row, nil
}

func (m voteModel) toEntity() (entities.Vote, error) {
	var selections []string
	if len(m.OptionIDs) > 0 {
		if err := json.Unmarshal(m.OptionIDs, &selections); err != nil {
			return entities.Vote{}, err
		}
	}
	vote := entities.Vote{
		VoteID:      m.ID,
		PollID:      m.PollID,
		OptionIDs:   selections,
		IsAnonymous: m.IsAnonymous,
		IPAddress:   m.IPAddress,
		UserAgent:   m.UserAgent,
		CreatedAt:   m.CreatedAt.UTC(),
		UpdatedAt:   m.UpdatedAt.UTC(),
	}
	if m.UserID != nil {
		vote.UserID = strings.TrimSpace(*m.UserID)
	}
	if m.AnonymousTokenHash != nil {
		vote.AnonymousTokenHash = strings.TrimSpace(*m.AnonymousTokenHash)
	}
	return vote, nil
}

type eventProjectionModel struct {
	EventID     string `gorm:"column:event_id;primaryKey"`
	OrganizerID string `gorm:"column:organizer_id"`
	Status      string `gorm:"column:status"`
}

func (eventProjectionModel) TableName() string {
	return "poll_event_projections"
}

type ticketProjectionModel struct {
	TicketID    string     `gorm:"column:ticket_id;primaryKey"`
	EventID     string     `gorm:"column:event_id"`
	UserID      string     `gorm:"column:user_id"`
	Status      string     `gorm:"column:status"`
	OrderStatus string     `gorm:"column:order_status"`
	ExpiresAt   *time.Time `gorm:"column:expires_at"`
}

func (ticketProjectionModel) TableName() string {
	return "poll_ticket_projections"
}

func (m ticketProjectionModel) toProjection() ports.TicketProjection {
	return ports.TicketProjection{
		TicketID:    m.TicketID,
		EventID:     m.EventID,
		UserID:      m.UserID,
		Status:      m.Status,
		OrderStatus: m.OrderStatus,
		ExpiresAt:   normalizeOptionalTime(m.ExpiresAt),
	}
}

type outboxModel struct {
	OutboxID     string     `gorm:"column:outbox_id;primaryKey"`
	EventType    string     `gorm:"column:event_type"`
	PartitionKey string     `gorm:"column:partition_key"`
	Payload      []byte     `gorm:"column:payload"`
	Status       string     `gorm:"column:status"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	PublishedAt  *time.Time `gorm:"column:published_at"`
}

func (outboxModel) TableName() string {
	return "poll_outbox"
}

type eventDedupModel struct {
	EventID     string    `gorm:"column:event_id;primaryKey"`
	PayloadHash string    `gorm:"column:payload_hash"`
	ExpiresAt   time.Time `gorm:"column:expires_at"`
	ProcessedAt time.Time `gorm:"column:processed_at"`
}

func (eventDedupModel) TableName() string {
	return "poll_event_dedup"
}

func normalizeOptionalTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	timestamp := value.UTC()
	return &timestamp
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var (
	_ ports.PollRepository   = (*Repository)(nil)
	_ ports.VoteRepository   = (*Repository)(nil)
	_ ports.QuotaStore       = (*Repository)(nil)
	_ ports.EventDirectory   = (*Repository)(nil)
	_ ports.TicketDirectory  = (*Repository)(nil)
	_ ports.OutboxWriter     = (*Repository)(nil)
	_ ports.OutboxRepository = (*Repository)(nil)
	_ ports.EventDedupStore  = (*Repository)(nil)
)
