package commands

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	application "marquee/contexts/live-engagement/poll-engine/application"
	"marquee/contexts/live-engagement/poll-engine/application/queries"
	"marquee/contexts/live-engagement/poll-engine/domain/entities"
	domainerrors "marquee/contexts/live-engagement/poll-engine/domain/errors"
	"marquee/contexts/live-engagement/poll-engine/ports"
)

// CreatePollCommand is the write-model input for poll creation.
type CreatePollCommand struct {
	EventID string
	Actor   application.Actor

	Question    string
	Description string
	Options     []OptionSpec
	PollType    entities.PollType
	MaxVotes    int

	AllowAnonymous        bool
	AllowVoteChanges      bool
	ShowResultsBeforeVote bool
	ClosesAt              time.Time
}

// UpdatePollCommand patches an active poll. Nil fields are left untouched;
// a non-nil Options slice replaces the option set wholesale.
type UpdatePollCommand struct {
	PollID string
	Actor  application.Actor

	Question              *string
	Description           *string
	Options               []OptionSpec
	MaxVotes              *int
	AllowAnonymous        *bool
	AllowVoteChanges      *bool
	ShowResultsBeforeVote *bool
	ClosesAt              *time.Time
}

// ClosePollResult carries the terminal state and the final tally computed at
// closure time.
type ClosePollResult struct {
	Poll    entities.Poll
	Results entities.PollResults
}

// PollUseCase is the poll lifecycle manager: create, update, close (manual
// and scheduled) and soft delete, each guarded by the access gate and the
// abuse guard before any state changes.
type PollUseCase struct {
	Polls   ports.PollRepository
	Gate    application.AccessGate
	Guard   application.AbuseGuard
	Results queries.ResultsUseCase
	Outbox  ports.OutboxWriter
	Clock   ports.Clock
	IDGen   ports.IDGenerator
	Logger  *slog.Logger
}

// CreatePoll validates the definition and creates the poll directly in
// active status. Order of checks: organizer capability, structural
// validation, creation quotas; malformed input never burns a quota counter.
// The active-poll cap is enforced by the insert itself so racing creates
// cannot overshoot it.
func (uc PollUseCase) CreatePoll(ctx context.Context, cmd CreatePollCommand) (entities.Poll, error) {
	logger := application.ResolveLogger(uc.Logger)
	access, err := uc.Gate.RequireOrganizer(ctx, cmd.EventID, cmd.Actor)
	if err != nil {
		return entities.Poll{}, err
	}

	now := uc.now()
	poll := entities.Poll{
		EventID:     access.Event.EventID,
		OrganizerID: access.Event.OrganizerID,

		Question:    strings.TrimSpace(cmd.Question),
		Description: strings.TrimSpace(cmd.Description),
		Options:     normalizeOptions(cmd.Options),
		PollType:    cmd.PollType,
		MaxVotes:    cmd.MaxVotes,

		AllowAnonymous:        cmd.AllowAnonymous,
		AllowVoteChanges:      cmd.AllowVoteChanges,
		ShowResultsBeforeVote: cmd.ShowResultsBeforeVote,

		ClosesAt:  cmd.ClosesAt.UTC(),
		Status:    entities.PollStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := validatePoll(poll, now); err != nil {
		return entities.Poll{}, err
	}
	if err := uc.Guard.CheckPollCreation(ctx, cmd.Actor.UserID, cmd.EventID); err != nil {
		return entities.Poll{}, err
	}

	pollID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return entities.Poll{}, err
	}
	poll.PollID = pollID
	if err := uc.Polls.CreatePoll(ctx, poll, uc.Guard.Limits.ActivePollLimit); err != nil {
		if errors.Is(err, domainerrors.ErrActivePollCap) {
			return entities.Poll{}, uc.Guard.ActivePollCapError(ctx, cmd.EventID)
		}
		return entities.Poll{}, err
	}

	uc.appendEvent(ctx, "poll.created", poll.EventID, "event_id", now, map[string]any{
		"poll_id":   poll.PollID,
		"event_id":  poll.EventID,
		"question":  poll.Question,
		"poll_type": string(poll.PollType),
		"closes_at": poll.ClosesAt.Format(time.RFC3339),
	})
	logger.Info("poll created",
		"event", "poll_created",
		"module", "live-engagement/poll-engine",
		"layer", "application",
		"poll_id", poll.PollID,
		"event_id", poll.EventID,
		"organizer_id", strings.TrimSpace(cmd.Actor.UserID),
		"poll_type", string(poll.PollType),
		"options", len(poll.Options),
	)
	return poll, nil
}

// UpdatePoll patches scalar fields or replaces options while the poll is
// active; every change passes through full revalidation.
func (uc PollUseCase) UpdatePoll(ctx context.Context, cmd UpdatePollCommand) (entities.Poll, error) {
	poll, err := uc.Polls.GetPoll(ctx, strings.TrimSpace(cmd.PollID))
	if err != nil {
		return entities.Poll{}, err
	}
	if _, err := uc.Gate.RequireOrganizer(ctx, poll.EventID, cmd.Actor); err != nil {
		return entities.Poll{}, err
	}
	if poll.Status != entities.PollStatusActive {
		return entities.Poll{}, domainerrors.NewState("only active polls can be updated")
	}

	if cmd.Question != nil {
		poll.Question = strings.TrimSpace(*cmd.Question)
	}
	if cmd.Description != nil {
		poll.Description = strings.TrimSpace(*cmd.Description)
	}
	if cmd.Options != nil {
		poll.Options = normalizeOptions(cmd.Options)
	}
	if cmd.MaxVotes != nil {
		poll.MaxVotes = *cmd.MaxVotes
	}
	if cmd.AllowAnonymous != nil {
		poll.AllowAnonymous = *cmd.AllowAnonymous
	}
	if cmd.AllowVoteChanges != nil {
		poll.AllowVoteChanges = *cmd.AllowVoteChanges
	}
	if cmd.ShowResultsBeforeVote != nil {
		poll.ShowResultsBeforeVote = *cmd.ShowResultsBeforeVote
	}
	if cmd.ClosesAt != nil {
		poll.ClosesAt = cmd.ClosesAt.UTC()
	}

	now := uc.now()
	// Revalidate against creation time semantics: an updated closesAt must be
	// strictly in the future of the update, not of the original creation.
	if err := validatePoll(poll, now); err != nil {
		return entities.Poll{}, err
	}
	poll.UpdatedAt = now
	if err := uc.Polls.SavePoll(ctx, poll); err != nil {
		return entities.Poll{}, err
	}
	application.ResolveLogger(uc.Logger).Info("poll updated",
		"event", "poll_updated",
		"module", "live-engagement/poll-engine",
		"layer", "application",
		"poll_id", poll.PollID,
		"event_id", poll.EventID,
	)
	return poll, nil
}

// ClosePoll is the organizer's manual close. Closing an already-closed poll
// is rejected before any side effect, so the closure broadcast can never
// fire twice.
func (uc PollUseCase) ClosePoll(ctx context.Context, pollID string, actor application.Actor) (ClosePollResult, error) {
	poll, err := uc.Polls.GetPoll(ctx, strings.TrimSpace(pollID))
	if err != nil {
		return ClosePollResult{}, err
	}
	if _, err := uc.Gate.RequireOrganizer(ctx, poll.EventID, actor); err != nil {
		return ClosePollResult{}, err
	}
	if poll.Status == entities.PollStatusClosed {
		return ClosePollResult{}, domainerrors.NewState("poll already closed")
	}
	return uc.close(ctx, poll, entities.CloseReasonManual)
}

// CloseExpired is the scheduled sweep: it transitions every due poll the
// same way manual close does, isolating per-poll failures so one bad poll
// cannot halt the scan. Returns the number of polls closed.
func (uc PollUseCase) CloseExpired(ctx context.Context) (int, error) {
	logger := application.ResolveLogger(uc.Logger)
	due, err := uc.Polls.ListDuePolls(ctx, uc.now(), 100)
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, poll := range due {
		if _, err := uc.close(ctx, poll, entities.CloseReasonExpired); err != nil {
			logger.Error("scheduled close failed for poll",
				"event", "poll_scheduled_close_failed",
				"module", "live-engagement/poll-engine",
				"layer", "application",
				"poll_id", poll.PollID,
				"error", err.Error(),
			)
			continue
		}
		closed++
	}
	if closed > 0 {
		logger.Info("expired polls closed",
			"event", "poll_scheduled_close_completed",
			"module", "live-engagement/poll-engine",
			"layer", "application",
			"closed_count", closed,
			"due_count", len(due),
		)
	}
	return closed, nil
}

// DeletePoll soft-deletes: the status is untouched and the row only drops
// out of default listings. Returns the deletion timestamp.
func (uc PollUseCase) DeletePoll(ctx context.Context, pollID string, actor application.Actor) (time.Time, error) {
	poll, err := uc.Polls.GetPoll(ctx, strings.TrimSpace(pollID))
	if err != nil {
		return time.Time{}, err
	}
	if _, err := uc.Gate.RequireOrganizer(ctx, poll.EventID, actor); err != nil {
		return time.Time{}, err
	}

	now := uc.now()
	poll.DeletedAt = &now
	poll.UpdatedAt = now
	if err := uc.Polls.SavePoll(ctx, poll); err != nil {
		return time.Time{}, err
	}
	application.ResolveLogger(uc.Logger).Info("poll soft deleted",
		"event", "poll_deleted",
		"module", "live-engagement/poll-engine",
		"layer", "application",
		"poll_id", poll.PollID,
		"event_id", poll.EventID,
	)
	return now, nil
}

func (uc PollUseCase) close(ctx context.Context, poll entities.Poll, reason entities.CloseReason) (ClosePollResult, error) {
	now := uc.now()
	poll.Status = entities.PollStatusClosed
	poll.ClosedAt = &now
	poll.CloseReason = reason
	poll.UpdatedAt = now
	if err := uc.Polls.SavePoll(ctx, poll); err != nil {
		return ClosePollResult{}, err
	}

	results, err := uc.Results.Aggregate(ctx, poll)
	if err != nil {
		return ClosePollResult{}, err
	}

	finalTallies := make([]map[string]any, 0, len(results.Options))
	for _, tally := range results.Options {
		finalTallies = append(finalTallies, map[string]any{
			"option_id":  tally.OptionID,
			"vote_count": tally.VoteCount,
			"percentage": tally.Percentage,
		})
	}
	uc.appendEvent(ctx, "poll.closed", poll.PollID, "poll_id", now, map[string]any{
		"poll_id":       poll.PollID,
		"event_id":      poll.EventID,
		"close_reason":  string(reason),
		"closed_at":     now.Format(time.RFC3339),
		"total_votes":   results.TotalVotes,
		"final_results": finalTallies,
	})
	application.ResolveLogger(uc.Logger).Info("poll closed",
		"event", "poll_closed",
		"module", "live-engagement/poll-engine",
		"layer", "application",
		"poll_id", poll.PollID,
		"event_id", poll.EventID,
		"close_reason", string(reason),
		"total_votes", results.TotalVotes,
	)
	return ClosePollResult{Poll: poll, Results: results}, nil
}

func (uc PollUseCase) appendEvent(
	ctx context.Context,
	eventType string,
	partitionKey string,
	partitionKeyPath string,
	occurredAt time.Time,
	data map[string]any,
) {
	appendBroadcast(ctx, uc.Outbox, uc.IDGen, uc.Logger, eventType, partitionKey, partitionKeyPath, occurredAt, data)
}

func (uc PollUseCase) now() time.Time {
	if uc.Clock != nil {
		return uc.Clock.Now().UTC()
	}
	return time.Now().UTC()
}
