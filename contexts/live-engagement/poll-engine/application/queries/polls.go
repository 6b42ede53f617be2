package queries

import (
	"context"
	"log/slog"
	"strings"

	application "marquee/contexts/live-engagement/poll-engine/application"
	"marquee/contexts/live-engagement/poll-engine/domain/entities"
	domainerrors "marquee/contexts/live-engagement/poll-engine/domain/errors"
	"marquee/contexts/live-engagement/poll-engine/ports"
)

// PollSummary is one listing row plus the caller's vote status for it.
type PollSummary struct {
	Poll     entities.Poll
	HasVoted bool
	VoteID   string
}

// PollDetail is the single-poll read: the poll, the caller's ballot if any,
// and results when the visibility policy admits them.
type PollDetail struct {
	Poll    entities.Poll
	Vote    *entities.Vote
	Results *entities.PollResults
}

// PollQueries serves the read side of the poll engine.
type PollQueries struct {
	Polls   ports.PollRepository
	Votes   ports.VoteRepository
	Gate    application.AccessGate
	Results ResultsUseCase
	Logger  *slog.Logger
}

// ListPolls uses the non-blocking gate: access is resolved once and the
// result set branches on the capability set. Organizers and admins see every
// non-deleted poll; ticket holders do not see drafts.
func (uc PollQueries) ListPolls(
	ctx context.Context,
	eventID string,
	actor application.Actor,
	status entities.PollStatus,
) ([]PollSummary, error) {
	access, err := uc.Gate.Resolve(ctx, strings.TrimSpace(eventID), actor)
	if err != nil {
		return nil, err
	}
	if !access.PollAccess() {
		return nil, domainerrors.ErrPollAccessDenied
	}

	polls, err := uc.Polls.ListPollsByEvent(ctx, strings.TrimSpace(eventID), status)
	if err != nil {
		return nil, err
	}

	summaries := make([]PollSummary, 0, len(polls))
	for _, poll := range polls {
		if poll.Status == entities.PollStatusDraft && !access.Organizer && !access.Admin {
			continue
		}
		summary := PollSummary{Poll: poll}
		if actor.Authenticated() {
			vote, found, err := uc.Votes.GetVoteByUser(ctx, poll.PollID, strings.TrimSpace(actor.UserID))
			if err != nil {
				return nil, err
			}
			if found {
				summary.HasVoted = true
				summary.VoteID = vote.VoteID
			}
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// GetPoll returns the poll detail with the caller's ballot and, when
// visible, the current results.
func (uc PollQueries) GetPoll(ctx context.Context, pollID string, actor application.Actor) (PollDetail, error) {
	poll, err := uc.Polls.GetPoll(ctx, strings.TrimSpace(pollID))
	if err != nil {
		return PollDetail{}, err
	}
	access, err := uc.Gate.RequirePollAccess(ctx, poll.EventID, actor)
	if err != nil {
		return PollDetail{}, err
	}

	detail := PollDetail{Poll: poll}
	voted := false
	if actor.Authenticated() {
		vote, found, err := uc.Votes.GetVoteByUser(ctx, poll.PollID, strings.TrimSpace(actor.UserID))
		if err != nil {
			return PollDetail{}, err
		}
		if found {
			voted = true
			detail.Vote = &vote
		}
	}

	if resultsVisible(poll, access, voted) {
		results, err := uc.Results.Aggregate(ctx, poll)
		if err != nil {
			return PollDetail{}, err
		}
		detail.Results = &results
	}
	return detail, nil
}

func resultsVisible(poll entities.Poll, access application.Access, voted bool) bool {
	if poll.Status == entities.PollStatusClosed {
		return true
	}
	if poll.ShowResultsBeforeVote {
		return true
	}
	if access.Organizer || access.Admin {
		return true
	}
	return voted
}
