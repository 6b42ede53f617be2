package queries

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	application "marquee/contexts/live-engagement/poll-engine/application"
	"marquee/contexts/live-engagement/poll-engine/domain/entities"
	domainerrors "marquee/contexts/live-engagement/poll-engine/domain/errors"
	"marquee/contexts/live-engagement/poll-engine/ports"
)

// ResultsUseCase computes per-option tallies, percentages and the event
// participation rate on demand. Nothing here is cached: every call reads the
// ballots committed at call time.
type ResultsUseCase struct {
	Polls   ports.PollRepository
	Votes   ports.VoteRepository
	Tickets ports.TicketDirectory
	Gate    application.AccessGate
	Clock   ports.Clock
	Logger  *slog.Logger
}

// GetResults enforces the visibility policy before aggregating: while the
// poll is active a caller must have voted (identified) or the poll must show
// results pre-vote; once closed, anyone with poll access may read them. The
// organizer and admins can always see results of their own event's polls.
func (uc ResultsUseCase) GetResults(ctx context.Context, pollID string, actor application.Actor) (entities.PollResults, error) {
	poll, err := uc.Polls.GetPoll(ctx, strings.TrimSpace(pollID))
	if err != nil {
		return entities.PollResults{}, err
	}
	access, err := uc.Gate.RequirePollAccess(ctx, poll.EventID, actor)
	if err != nil {
		return entities.PollResults{}, err
	}

	if poll.Status != entities.PollStatusClosed && !poll.ShowResultsBeforeVote &&
		!access.Organizer && !access.Admin {
		voted := false
		if actor.Authenticated() {
			_, voted, err = uc.Votes.GetVoteByUser(ctx, poll.PollID, strings.TrimSpace(actor.UserID))
			if err != nil {
				return entities.PollResults{}, err
			}
		}
		if !voted {
			return entities.PollResults{}, domainerrors.ErrResultsNotVisible
		}
	}

	return uc.Aggregate(ctx, poll)
}

// Aggregate tallies every committed ballot for the poll. Exposed for the
// close path, which stamps final results into the closure broadcast.
func (uc ResultsUseCase) Aggregate(ctx context.Context, poll entities.Poll) (entities.PollResults, error) {
	votes, err := uc.Votes.ListVotesByPoll(ctx, poll.PollID)
	if err != nil {
		return entities.PollResults{}, err
	}

	perOption := make(map[string]int, len(poll.Options))
	results := entities.PollResults{
		PollID:     poll.PollID,
		TotalVotes: len(votes),
		ComputedAt: uc.now(),
	}
	for _, vote := range votes {
		if vote.IsAnonymous {
			results.AnonymousVotes++
		} else {
			results.IdentifiedVotes++
		}
		for _, optionID := range vote.OptionIDs {
			perOption[optionID]++
		}
	}

	results.Options = make([]entities.OptionTally, 0, len(poll.Options))
	for _, option := range poll.Options {
		tally := entities.OptionTally{
			OptionID:  option.OptionID,
			Label:     option.Label,
			VoteCount: perOption[option.OptionID],
		}
		if results.TotalVotes > 0 {
			tally.Percentage = round2(float64(tally.VoteCount) / float64(results.TotalVotes) * 100)
		}
		results.Options = append(results.Options, tally)
	}

	holders, err := uc.Tickets.CountActiveTickets(ctx, poll.EventID, uc.now())
	if err != nil {
		// Participation is a derived convenience figure; a projection miss must
		// not fail the tally read.
		application.ResolveLogger(uc.Logger).Warn("ticket holder count unavailable",
			"event", "poll_results_ticket_count_failed",
			"module", "live-engagement/poll-engine",
			"layer", "application",
			"poll_id", poll.PollID,
			"error", err.Error(),
		)
		return results, nil
	}
	results.TicketHolderCount = holders
	if holders > 0 {
		results.ParticipationRate = round2(float64(results.TotalVotes) / float64(holders) * 100)
	}
	return results, nil
}

func (uc ResultsUseCase) now() time.Time {
	if uc.Clock != nil {
		return uc.Clock.Now().UTC()
	}
	return time.Now().UTC()
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
