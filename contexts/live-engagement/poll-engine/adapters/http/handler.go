package httpadapter

import (
	"context"
	"log/slog"
	"strings"
	"time"

	application "marquee/contexts/live-engagement/poll-engine/application"
	"marquee/contexts/live-engagement/poll-engine/application/commands"
	"marquee/contexts/live-engagement/poll-engine/application/queries"
	"marquee/contexts/live-engagement/poll-engine/domain/entities"
	domainerrors "marquee/contexts/live-engagement/poll-engine/domain/errors"
	httptransport "marquee/contexts/live-engagement/poll-engine/transport/http"
)

// Handler translates transport DTOs to use-case calls and back. It carries
// no policy of its own; every rule lives behind the use cases.
type Handler struct {
	Polls   commands.PollUseCase
	Ballots commands.BallotUseCase
	Queries queries.PollQueries
	Results queries.ResultsUseCase
	Logger  *slog.Logger
}

func (h Handler) CreatePollHandler(
	ctx context.Context,
	eventID string,
	actor application.Actor,
	req httptransport.CreatePollRequest,
) (httptransport.PollResponse, error) {
	closesAt, err := parseTimestamp(req.ClosesAt, "closes_at")
	if err != nil {
		return httptransport.PollResponse{}, err
	}
	poll, err := h.Polls.CreatePoll(ctx, commands.CreatePollCommand{
		EventID:     eventID,
		Actor:       actor,
		Question:    req.Question,
		Description: req.Description,
		Options:     optionSpecs(req.Options),
		PollType:    entities.PollType(strings.TrimSpace(req.PollType)),
		MaxVotes:    req.MaxVotes,

		AllowAnonymous:        req.AllowAnonymous,
		AllowVoteChanges:      req.AllowVoteChanges,
		ShowResultsBeforeVote: req.ShowResultsBeforeVote,
		ClosesAt:              closesAt,
	})
	if err != nil {
		return httptransport.PollResponse{}, err
	}
	return pollResponse(poll), nil
}

func (h Handler) ListPollsHandler(
	ctx context.Context,
	eventID string,
	actor application.Actor,
	status string,
) (httptransport.PollListResponse, error) {
	summaries, err := h.Queries.ListPolls(ctx, eventID, actor, entities.PollStatus(strings.TrimSpace(status)))
	if err != nil {
		return httptransport.PollListResponse{}, err
	}
	items := make([]httptransport.PollResponse, 0, len(summaries))
	for _, summary := range summaries {
		item := pollResponse(summary.Poll)
		item.HasVoted = summary.HasVoted
		item.VoteID = summary.VoteID
		items = append(items, item)
	}
	return httptransport.PollListResponse{Items: items}, nil
}

func (h Handler) GetPollHandler(
	ctx context.Context,
	pollID string,
	actor application.Actor,
) (httptransport.PollDetailResponse, error) {
	detail, err := h.Queries.GetPoll(ctx, pollID, actor)
	if err != nil {
		return httptransport.PollDetailResponse{}, err
	}
	response := httptransport.PollDetailResponse{Poll: pollResponse(detail.Poll)}
	if detail.Vote != nil {
		vote := voteResponse(*detail.Vote)
		response.Poll.HasVoted = true
		response.Poll.VoteID = detail.Vote.VoteID
		response.Vote = &vote
	}
	if detail.Results != nil {
		results := resultsResponse(*detail.Results)
		response.Results = &results
	}
	return response, nil
}

func (h Handler) UpdatePollHandler(
	ctx context.Context,
	pollID string,
	actor application.Actor,
	req httptransport.UpdatePollRequest,
) (httptransport.PollResponse, error) {
	cmd := commands.UpdatePollCommand{
		PollID: pollID,
		Actor:  actor,

		Question:              req.Question,
		Description:           req.Description,
		MaxVotes:              req.MaxVotes,
		AllowAnonymous:        req.AllowAnonymous,
		AllowVoteChanges:      req.AllowVoteChanges,
		ShowResultsBeforeVote: req.ShowResultsBeforeVote,
	}
	if req.Options != nil {
		cmd.Options = optionSpecs(req.Options)
	}
	if req.ClosesAt != nil {
		closesAt, err := parseTimestamp(*req.ClosesAt, "closes_at")
		if err != nil {
			return httptransport.PollResponse{}, err
		}
		cmd.ClosesAt = &closesAt
	}
	poll, err := h.Polls.UpdatePoll(ctx, cmd)
	if err != nil {
		return httptransport.PollResponse{}, err
	}
	return pollResponse(poll), nil
}

func (h Handler) ClosePollHandler(
	ctx context.Context,
	pollID string,
	actor application.Actor,
) (httptransport.ClosePollResponse, error) {
	result, err := h.Polls.ClosePoll(ctx, pollID, actor)
	if err != nil {
		return httptransport.ClosePollResponse{}, err
	}
	return httptransport.ClosePollResponse{
		Poll:    pollResponse(result.Poll),
		Results: resultsResponse(result.Results),
	}, nil
}

func (h Handler) DeletePollHandler(
	ctx context.Context,
	pollID string,
	actor application.Actor,
) (httptransport.DeletePollResponse, error) {
	deletedAt, err := h.Polls.DeletePoll(ctx, pollID, actor)
	if err != nil {
		return httptransport.DeletePollResponse{}, err
	}
	return httptransport.DeletePollResponse{
		PollID:    strings.TrimSpace(pollID),
		DeletedAt: deletedAt.Format(time.RFC3339),
	}, nil
}

func (h Handler) SubmitVoteHandler(
	ctx context.Context,
	pollID string,
	actor application.Actor,
	req httptransport.SubmitVoteRequest,
) (httptransport.VoteResponse, error) {
	result, err := h.Ballots.SubmitVote(ctx, commands.SubmitVoteCommand{
		PollID:         pollID,
		Actor:          actor,
		OptionIDs:      req.OptionIDs,
		AnonymousToken: req.AnonymousToken,
	})
	if err != nil {
		return httptransport.VoteResponse{}, err
	}
	return httptransport.VoteResponse{
		VoteID:         result.VoteID,
		PollID:         strings.TrimSpace(pollID),
		OptionIDs:      req.OptionIDs,
		IsAnonymous:    strings.TrimSpace(req.AnonymousToken) != "",
		CanViewResults: result.CanViewResults,
		WasUpdate:      result.WasUpdate,
	}, nil
}

func (h Handler) GetResultsHandler(
	ctx context.Context,
	pollID string,
	actor application.Actor,
) (httptransport.ResultsResponse, error) {
	results, err := h.Results.GetResults(ctx, pollID, actor)
	if err != nil {
		return httptransport.ResultsResponse{}, err
	}
	return resultsResponse(results), nil
}

func (h Handler) AnonymousTokenHandler(
	ctx context.Context,
	actor application.Actor,
) (httptransport.AnonymousTokenResponse, error) {
	token, err := h.Ballots.GenerateAnonymousToken(ctx, actor)
	if err != nil {
		return httptransport.AnonymousTokenResponse{}, err
	}
	return httptransport.AnonymousTokenResponse{Token: token}, nil
}

func (h Handler) AutoCloseHandler(ctx context.Context, actor application.Actor) (httptransport.AutoCloseResponse, error) {
	if !actor.Admin() {
		return httptransport.AutoCloseResponse{}, domainerrors.ErrPollAccessDenied
	}
	closed, err := h.Polls.CloseExpired(ctx)
	if err != nil {
		return httptransport.AutoCloseResponse{}, err
	}
	return httptransport.AutoCloseResponse{ClosedCount: closed}, nil
}

func optionSpecs(payloads []httptransport.OptionPayload) []commands.OptionSpec {
	specs := make([]commands.OptionSpec, 0, len(payloads))
	for _, payload := range payloads {
		specs = append(specs, commands.OptionSpec{
			OptionID:    payload.OptionID,
			Label:       payload.Label,
			Description: payload.Description,
			ImageURL:    payload.ImageURL,

			ArtistName:    payload.ArtistName,
			ArtistGenre:   payload.ArtistGenre,
			ThemeColorHex: payload.ThemeColorHex,
			FeatureCost:   payload.FeatureCost,
		})
	}
	return specs
}

func pollResponse(poll entities.Poll) httptransport.PollResponse {
	options := make([]httptransport.OptionPayload, 0, len(poll.Options))
	for _, option := range poll.Options {
		options = append(options, httptransport.OptionPayload{
			OptionID:    option.OptionID,
			Label:       option.Label,
			Description: option.Description,
			ImageURL:    option.ImageURL,

			ArtistName:    option.ArtistName,
			ArtistGenre:   option.ArtistGenre,
			ThemeColorHex: option.ThemeColorHex,
			FeatureCost:   option.FeatureCost,
		})
	}
	response := httptransport.PollResponse{
		PollID:      poll.PollID,
		EventID:     poll.EventID,
		OrganizerID: poll.OrganizerID,
		Question:    poll.Question,
		Description: poll.Description,
		Options:     options,
		PollType:    string(poll.PollType),
		MaxVotes:    poll.MaxVotes,

		AllowAnonymous:        poll.AllowAnonymous,
		AllowVoteChanges:      poll.AllowVoteChanges,
		ShowResultsBeforeVote: poll.ShowResultsBeforeVote,

		Status:      string(poll.Status),
		ClosesAt:    poll.ClosesAt.Format(time.RFC3339),
		CloseReason: string(poll.CloseReason),
		CreatedAt:   poll.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   poll.UpdatedAt.Format(time.RFC3339),
	}
	if poll.ClosedAt != nil {
		response.ClosedAt = poll.ClosedAt.Format(time.RFC3339)
	}
	return response
}

func voteResponse(vote entities.Vote) httptransport.VoteResponse {
	return httptransport.VoteResponse{
		VoteID:      vote.VoteID,
		PollID:      vote.PollID,
		OptionIDs:   append([]string(nil), vote.OptionIDs...),
		IsAnonymous: vote.IsAnonymous,
	}
}

func resultsResponse(results entities.PollResults) httptransport.ResultsResponse {
	options := make([]httptransport.OptionTallyPayload, 0, len(results.Options))
	for _, tally := range results.Options {
		options = append(options, httptransport.OptionTallyPayload{
			OptionID:   tally.OptionID,
			Label:      tally.Label,
			VoteCount:  tally.VoteCount,
			Percentage: tally.Percentage,
		})
	}
	return httptransport.ResultsResponse{
		PollID:            results.PollID,
		TotalVotes:        results.TotalVotes,
		AnonymousVotes:    results.AnonymousVotes,
		IdentifiedVotes:   results.IdentifiedVotes,
		Options:           options,
		TicketHolderCount: results.TicketHolderCount,
		ParticipationRate: results.ParticipationRate,
		ComputedAt:        results.ComputedAt.Format(time.RFC3339),
	}
}

func parseTimestamp(raw string, field string) (time.Time, error) {
	value, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, domainerrors.NewValidation("%s must be an RFC 3339 timestamp", field)
	}
	return value.UTC(), nil
}
