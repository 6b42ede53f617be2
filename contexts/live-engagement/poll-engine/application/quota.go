package application

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	"marquee/contexts/live-engagement/poll-engine/domain/entities"
	domainerrors "marquee/contexts/live-engagement/poll-engine/domain/errors"
	"marquee/contexts/live-engagement/poll-engine/ports"
)

const (
	quotaCodePollLimit      = "POLL_LIMIT_EXCEEDED"
	quotaCodeCreateCooldown = "POLL_CREATE_COOLDOWN"
	quotaCodeCreateHourly   = "POLL_CREATE_HOURLY_LIMIT"
	quotaCodeVoteRate       = "VOTE_RATE_EXCEEDED"
	quotaCodeAnonVoteRate   = "ANONYMOUS_VOTE_RATE_EXCEEDED"
	quotaCodeVoteUpdate     = "VOTE_UPDATE_COOLDOWN"
	quotaCodeTokenRate      = "TOKEN_RATE_EXCEEDED"
)

// QuotaLimits are the domain quotas the guard enforces, independent of any
// generic network throttling in front of the service.
type QuotaLimits struct {
	ActivePollLimit         int
	CreateCooldown          time.Duration
	CreatesPerHour          int
	VotesPerMinute          int
	AnonymousVotesPerMinute int
	VoteUpdateCooldown      time.Duration
	TokensPerMinute         int
}

func DefaultQuotaLimits() QuotaLimits {
	return QuotaLimits{
		ActivePollLimit:         5,
		CreateCooldown:          30 * time.Second,
		CreatesPerHour:          3,
		VotesPerMinute:          5,
		AnonymousVotesPerMinute: 3,
		VoteUpdateCooldown:      60 * time.Second,
		TokensPerMinute:         10,
	}
}

// AbuseGuard enforces per-identity and per-event quotas on top of an atomic
// counter store. Every window check is a single check-and-increment so two
// concurrent requests cannot both pass a boundary.
type AbuseGuard struct {
	Counters ports.QuotaStore
	Polls    ports.PollRepository
	Limits   QuotaLimits
	Clock    ports.Clock
	Logger   *slog.Logger
}

// ActivePollCapError builds the rejection for a create the repository refused
// under the active-poll cap. The cap itself is enforced inside the insert;
// this only reads back the active set so RetryAfter can point at the
// soonest-closing poll.
func (g AbuseGuard) ActivePollCapError(ctx context.Context, eventID string) error {
	limit := g.Limits.ActivePollLimit
	rateErr := &domainerrors.RateLimitError{
		Code:    quotaCodePollLimit,
		Current: limit,
		Limit:   limit,
	}
	active, err := g.Polls.ListPollsByEvent(ctx, strings.TrimSpace(eventID), entities.PollStatusActive)
	if err == nil {
		now := g.now()
		rateErr.Current = len(active)
		for _, poll := range active {
			wait := ceilSeconds(poll.ClosesAt.Sub(now))
			if rateErr.RetryAfterSeconds == 0 || (wait > 0 && wait < rateErr.RetryAfterSeconds) {
				rateErr.RetryAfterSeconds = wait
			}
		}
	}
	g.warn("active poll cap reached", quotaCodePollLimit,
		"event_id", strings.TrimSpace(eventID),
		"current", rateErr.Current,
		"limit", limit,
	)
	return rateErr
}

// CheckPollCreation applies both creation policies keyed by (organizer,
// event). The rolling hourly cap runs before the short cooldown, so an hourly
// rejection does not refresh the cooldown window the caller is told to wait
// out.
func (g AbuseGuard) CheckPollCreation(ctx context.Context, organizerID string, eventID string) error {
	scope := strings.TrimSpace(organizerID) + ":" + strings.TrimSpace(eventID)
	if err := g.check(ctx, "poll_create:hourly:"+scope, time.Hour, g.Limits.CreatesPerHour, quotaCodeCreateHourly); err != nil {
		return err
	}
	return g.check(ctx, "poll_create:cooldown:"+scope, g.Limits.CreateCooldown, 1, quotaCodeCreateCooldown)
}

// CheckVoteRate caps identified ballots per voter per minute across polls.
func (g AbuseGuard) CheckVoteRate(ctx context.Context, userID string) error {
	return g.check(ctx, "vote:user:"+strings.TrimSpace(userID), time.Minute, g.Limits.VotesPerMinute, quotaCodeVoteRate)
}

// CheckAnonymousVote caps anonymous ballots per source IP per minute.
func (g AbuseGuard) CheckAnonymousVote(ctx context.Context, ip string) error {
	return g.check(ctx, "vote:anon:"+strings.TrimSpace(ip), time.Minute, g.Limits.AnonymousVotesPerMinute, quotaCodeAnonVoteRate)
}

// CheckVoteUpdate allows one in-place ballot update per cooldown window.
func (g AbuseGuard) CheckVoteUpdate(ctx context.Context, identityKey string) error {
	return g.check(ctx, "vote:update:"+identityKey, g.Limits.VoteUpdateCooldown, 1, quotaCodeVoteUpdate)
}

// CheckTokenIssuance caps anonymous token generation per source IP.
func (g AbuseGuard) CheckTokenIssuance(ctx context.Context, ip string) error {
	return g.check(ctx, "token:ip:"+strings.TrimSpace(ip), time.Minute, g.Limits.TokensPerMinute, quotaCodeTokenRate)
}

func (g AbuseGuard) check(ctx context.Context, key string, window time.Duration, limit int, code string) error {
	count, resetIn, err := g.Counters.Incr(ctx, key, window, g.now())
	if err != nil {
		return err
	}
	if count <= limit {
		return nil
	}
	g.warn("quota exceeded", code,
		"key", key,
		"current", count-1,
		"limit", limit,
	)
	return &domainerrors.RateLimitError{
		Code:              code,
		RetryAfterSeconds: ceilSeconds(resetIn),
		Current:           count - 1,
		Limit:             limit,
	}
}

func (g AbuseGuard) warn(msg string, code string, attrs ...any) {
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", "poll_quota_exceeded",
		"module", "live-engagement/poll-engine",
		"layer", "application",
		"code", code,
	)
	fields = append(fields, attrs...)
	ResolveLogger(g.Logger).Warn(msg, fields...)
}

func (g AbuseGuard) now() time.Time {
	if g.Clock != nil {
		return g.Clock.Now().UTC()
	}
	return time.Now().UTC()
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
