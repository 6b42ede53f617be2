package commands

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"

	application "marquee/contexts/live-engagement/poll-engine/application"
	"marquee/contexts/live-engagement/poll-engine/domain/entities"
	domainerrors "marquee/contexts/live-engagement/poll-engine/domain/errors"
	"marquee/contexts/live-engagement/poll-engine/ports"
)

// SubmitVoteCommand is one ballot submission. AnonymousToken selects the
// anonymous path; when it is empty the actor must be an authenticated ticket
// holder.
type SubmitVoteCommand struct {
	PollID         string
	Actor          application.Actor
	OptionIDs      []string
	AnonymousToken string
}

// SubmitVoteResult returns the persisted ballot id plus whether the caller
// may read results right away.
type SubmitVoteResult struct {
	VoteID         string
	CanViewResults bool
	WasUpdate      bool
}

// BallotUseCase is the vote ledger: it validates and persists exactly one
// ballot per identity per poll, mutating it in place when the poll allows
// vote changes. The repository's identity-key uniqueness is the only
// concurrency control; this use case never read-then-writes around it.
type BallotUseCase struct {
	Polls  ports.PollRepository
	Votes  ports.VoteRepository
	Gate   application.AccessGate
	Guard  application.AbuseGuard
	Outbox ports.OutboxWriter
	Clock  ports.Clock
	IDGen  ports.IDGenerator
	Logger *slog.Logger
}

func (uc BallotUseCase) SubmitVote(ctx context.Context, cmd SubmitVoteCommand) (SubmitVoteResult, error) {
	poll, err := uc.Polls.GetPoll(ctx, strings.TrimSpace(cmd.PollID))
	if err != nil {
		return SubmitVoteResult{}, err
	}

	now := uc.now()
	if poll.Status != entities.PollStatusActive {
		return SubmitVoteResult{}, domainerrors.NewState("poll is not active")
	}
	if !now.Before(poll.ClosesAt) {
		return SubmitVoteResult{}, domainerrors.NewState("poll expired")
	}

	anonymous := strings.TrimSpace(cmd.AnonymousToken) != ""
	if anonymous && !poll.AllowAnonymous {
		return SubmitVoteResult{}, domainerrors.ErrAnonymousForbidden
	}
	if !anonymous {
		if !cmd.Actor.Authenticated() {
			return SubmitVoteResult{}, domainerrors.ErrTicketRequired
		}
		access, err := uc.Gate.Resolve(ctx, poll.EventID, cmd.Actor)
		if err != nil {
			return SubmitVoteResult{}, err
		}
		if !access.TicketHolder && !access.Admin {
			return SubmitVoteResult{}, domainerrors.ErrTicketRequired
		}
	}

	if err := validateSelection(poll, cmd.OptionIDs); err != nil {
		return SubmitVoteResult{}, err
	}

	tokenHash := ""
	var existing entities.Vote
	found := false
	if anonymous {
		tokenHash = anonymousTokenHash(cmd.AnonymousToken, poll.PollID, cmd.Actor.UserID)
		existing, found, err = uc.Votes.GetVoteByTokenHash(ctx, poll.PollID, tokenHash)
	} else {
		existing, found, err = uc.Votes.GetVoteByUser(ctx, poll.PollID, strings.TrimSpace(cmd.Actor.UserID))
	}
	if err != nil {
		return SubmitVoteResult{}, err
	}

	if found {
		return uc.updateBallot(ctx, poll, existing, cmd, now)
	}
	return uc.createBallot(ctx, poll, cmd, anonymous, tokenHash, now)
}

func (uc BallotUseCase) createBallot(
	ctx context.Context,
	poll entities.Poll,
	cmd SubmitVoteCommand,
	anonymous bool,
	tokenHash string,
	now time.Time,
) (SubmitVoteResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	if anonymous {
		if err := uc.Guard.CheckAnonymousVote(ctx, cmd.Actor.IPAddress); err != nil {
			return SubmitVoteResult{}, err
		}
	} else {
		if err := uc.Guard.CheckVoteRate(ctx, cmd.Actor.UserID); err != nil {
			return SubmitVoteResult{}, err
		}
	}

	voteID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return SubmitVoteResult{}, err
	}
	vote := entities.Vote{
		VoteID:    voteID,
		PollID:    poll.PollID,
		OptionIDs: append([]string(nil), cmd.OptionIDs...),

		IsAnonymous:        anonymous,
		AnonymousTokenHash: tokenHash,

		IPAddress: strings.TrimSpace(cmd.Actor.IPAddress),
		UserAgent: strings.TrimSpace(cmd.Actor.UserAgent),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if !anonymous {
		vote.UserID = strings.TrimSpace(cmd.Actor.UserID)
	}

	// The insert is atomic under the identity key: a concurrent first-time
	// ballot from the same identity leaves exactly one row and the loser is
	// rejected here, never duplicated.
	if err := uc.Votes.CreateVote(ctx, vote); err != nil {
		return SubmitVoteResult{}, err
	}

	uc.broadcastVote(ctx, poll, now)
	logger.Info("ballot recorded",
		"event", "poll_vote_recorded",
		"module", "live-engagement/poll-engine",
		"layer", "application",
		"poll_id", poll.PollID,
		"vote_id", vote.VoteID,
		"anonymous", anonymous,
		"selections", len(vote.OptionIDs),
	)
	return SubmitVoteResult{
		VoteID:         vote.VoteID,
		CanViewResults: canViewAfterVote(poll, anonymous),
	}, nil
}

func (uc BallotUseCase) updateBallot(
	ctx context.Context,
	poll entities.Poll,
	existing entities.Vote,
	cmd SubmitVoteCommand,
	now time.Time,
) (SubmitVoteResult, error) {
	if !poll.AllowVoteChanges {
		return SubmitVoteResult{}, domainerrors.NewState("vote changes not allowed")
	}
	if err := uc.Guard.CheckVoteUpdate(ctx, existing.IdentityKey()); err != nil {
		return SubmitVoteResult{}, err
	}

	existing.OptionIDs = append([]string(nil), cmd.OptionIDs...)
	existing.IPAddress = strings.TrimSpace(cmd.Actor.IPAddress)
	existing.UserAgent = strings.TrimSpace(cmd.Actor.UserAgent)
	existing.UpdatedAt = now
	if err := uc.Votes.UpdateVote(ctx, existing); err != nil {
		return SubmitVoteResult{}, err
	}

	uc.broadcastVote(ctx, poll, now)
	application.ResolveLogger(uc.Logger).Info("ballot updated",
		"event", "poll_vote_updated",
		"module", "live-engagement/poll-engine",
		"layer", "application",
		"poll_id", poll.PollID,
		"vote_id", existing.VoteID,
		"anonymous", existing.IsAnonymous,
	)
	return SubmitVoteResult{
		VoteID:         existing.VoteID,
		CanViewResults: canViewAfterVote(poll, existing.IsAnonymous),
		WasUpdate:      true,
	}, nil
}

// GenerateAnonymousToken issues an opaque, poll-independent credential. The
// token is cryptographically random; its poll-scoped hash is derived at vote
// time.
func (uc BallotUseCase) GenerateAnonymousToken(ctx context.Context, actor application.Actor) (string, error) {
	if err := uc.Guard.CheckTokenIssuance(ctx, actor.IPAddress); err != nil {
		return "", err
	}
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	token := hex.EncodeToString(raw)
	application.ResolveLogger(uc.Logger).Info("anonymous token issued",
		"event", "poll_anonymous_token_issued",
		"module", "live-engagement/poll-engine",
		"layer", "application",
	)
	return token, nil
}

// broadcastVote publishes the running total only — never per-option tallies,
// so in-flight results stay private until the visibility policy admits them.
func (uc BallotUseCase) broadcastVote(ctx context.Context, poll entities.Poll, now time.Time) {
	total, err := uc.Votes.CountVotesByPoll(ctx, poll.PollID)
	if err != nil {
		application.ResolveLogger(uc.Logger).Warn("vote count for broadcast failed",
			"event", "poll_broadcast_append_failed",
			"module", "live-engagement/poll-engine",
			"layer", "application",
			"poll_id", poll.PollID,
			"error", err.Error(),
		)
		return
	}
	appendBroadcast(ctx, uc.Outbox, uc.IDGen, uc.Logger, "vote.recorded", poll.PollID, "poll_id", now, map[string]any{
		"poll_id":     poll.PollID,
		"event_id":    poll.EventID,
		"total_votes": total,
	})
}

func (uc BallotUseCase) now() time.Time {
	if uc.Clock != nil {
		return uc.Clock.Now().UTC()
	}
	return time.Now().UTC()
}

func canViewAfterVote(poll entities.Poll, anonymous bool) bool {
	if poll.ShowResultsBeforeVote {
		return true
	}
	// Identified voters unlock results by voting; anonymous ballots do not,
	// because result reads cannot be tied back to the token.
	return !anonymous
}

// anonymousTokenHash derives the poll-scoped identity key for an anonymous
// ballot. The caller's user id, when present, is folded into the digest so a
// signed-in caller cannot reuse the same token as a second identity.
func anonymousTokenHash(token string, pollID string, userID string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(token) + ":" + strings.TrimSpace(pollID) + ":" + strings.TrimSpace(userID)))
	return hex.EncodeToString(sum[:])
}
