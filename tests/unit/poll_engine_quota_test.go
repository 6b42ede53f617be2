package unit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	pollapplication "marquee/contexts/live-engagement/poll-engine/application"
	"marquee/contexts/live-engagement/poll-engine/domain/entities"
	pollerrors "marquee/contexts/live-engagement/poll-engine/domain/errors"
	pollhttp "marquee/contexts/live-engagement/poll-engine/transport/http"
)

func rateLimited(t *testing.T, err error, code string) *pollerrors.RateLimitError {
	t.Helper()
	var rateErr *pollerrors.RateLimitError
	if !errors.As(err, &rateErr) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if rateErr.Code != code {
		t.Fatalf("expected code %s, got %s", code, rateErr.Code)
	}
	return rateErr
}

func TestQuotaActivePollCap(t *testing.T) {
	limits := relaxedLimits()
	limits.ActivePollLimit = 5
	module, store := newPollModule(limits)
	seedEventAndTicket(store)

	for i := 0; i < 5; i++ {
		req := basicCreateRequest()
		req.Question = fmt.Sprintf("Poll number %d?", i+1)
		if _, err := module.Handler.CreatePollHandler(context.Background(), "event-1", organizerActor(), req); err != nil {
			t.Fatalf("create %d failed: %v", i+1, err)
		}
	}

	req := basicCreateRequest()
	req.Question = "One poll too many?"
	_, err := module.Handler.CreatePollHandler(context.Background(), "event-1", organizerActor(), req)
	rateErr := rateLimited(t, err, "POLL_LIMIT_EXCEEDED")
	if rateErr.Current != 5 || rateErr.Limit != 5 {
		t.Fatalf("expected 5/5, got %d/%d", rateErr.Current, rateErr.Limit)
	}
	if rateErr.RetryAfterSeconds <= 0 {
		t.Fatalf("retry hint must point at the soonest-closing poll, got %d", rateErr.RetryAfterSeconds)
	}

	// Closing a poll frees a slot immediately.
	listing, err := module.Handler.ListPollsHandler(context.Background(), "event-1", organizerActor(), "active")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if _, err := module.Handler.ClosePollHandler(context.Background(), listing.Items[0].PollID, organizerActor()); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if _, err := module.Handler.CreatePollHandler(context.Background(), "event-1", organizerActor(), req); err != nil {
		t.Fatalf("create after freeing a slot failed: %v", err)
	}
}

func TestQuotaActivePollCapUnderConcurrentCreates(t *testing.T) {
	limits := relaxedLimits()
	limits.ActivePollLimit = 5
	module, store := newPollModule(limits)
	seedEventAndTicket(store)

	// Many simultaneous creates race for the last free slots. Each caller
	// uses its own admin identity so only the per-event cap is in play.
	const callers = 64
	var wg sync.WaitGroup
	outcomes := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			actor := pollapplication.Actor{
				UserID:    fmt.Sprintf("admin-%d", n),
				Role:      "admin",
				IPAddress: "203.0.113.20",
			}
			req := basicCreateRequest()
			req.Question = fmt.Sprintf("Simultaneous poll %d?", n)
			_, err := module.Handler.CreatePollHandler(context.Background(), "event-1", actor, req)
			outcomes <- err
		}(i)
	}
	wg.Wait()
	close(outcomes)

	succeeded := 0
	for err := range outcomes {
		if err == nil {
			succeeded++
			continue
		}
		var rateErr *pollerrors.RateLimitError
		if !errors.As(err, &rateErr) || rateErr.Code != "POLL_LIMIT_EXCEEDED" {
			t.Fatalf("unexpected create error: %v", err)
		}
	}
	if succeeded != 5 {
		t.Fatalf("expected exactly 5 creates to win, got %d", succeeded)
	}
	active, err := store.ListPollsByEvent(context.Background(), "event-1", entities.PollStatusActive)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(active) != 5 {
		t.Fatalf("cap breached: %d active polls with limit 5", len(active))
	}
}

func TestQuotaCreateCooldown(t *testing.T) {
	limits := relaxedLimits()
	limits.CreateCooldown = time.Hour
	module, store := newPollModule(limits)
	seedEventAndTicket(store)

	if _, err := module.Handler.CreatePollHandler(context.Background(), "event-1", organizerActor(), basicCreateRequest()); err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	req := basicCreateRequest()
	req.Question = "Back so soon?"
	_, err := module.Handler.CreatePollHandler(context.Background(), "event-1", organizerActor(), req)
	rateErr := rateLimited(t, err, "POLL_CREATE_COOLDOWN")
	if rateErr.RetryAfterSeconds <= 0 {
		t.Fatalf("cooldown must report a positive retry hint, got %d", rateErr.RetryAfterSeconds)
	}
}

func TestQuotaCountersUntouchedByRejectedCreates(t *testing.T) {
	limits := relaxedLimits()
	limits.CreateCooldown = time.Hour
	limits.CreatesPerHour = 1
	module, store := newPollModule(limits)
	seedEventAndTicket(store)

	// Malformed input is rejected before any counter moves, so the organizer
	// is not locked out by their own typo.
	bad := basicCreateRequest()
	bad.Options = bad.Options[:1]
	_, err := module.Handler.CreatePollHandler(context.Background(), "event-1", organizerActor(), bad)
	var validationErr *pollerrors.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := module.Handler.CreatePollHandler(context.Background(), "event-1", organizerActor(), basicCreateRequest()); err != nil {
		t.Fatalf("create after rejected input failed: %v", err)
	}

	// The hourly cap rejects before the cooldown counter is consulted, so a
	// caller waiting out the advertised hourly window is not bounced by a
	// cooldown its own rejected attempt refreshed.
	req := basicCreateRequest()
	req.Question = "Second within the hour?"
	_, err = module.Handler.CreatePollHandler(context.Background(), "event-1", organizerActor(), req)
	rateLimited(t, err, "POLL_CREATE_HOURLY_LIMIT")
}

func TestQuotaHourlyCreateLimit(t *testing.T) {
	limits := relaxedLimits()
	limits.CreatesPerHour = 3
	module, store := newPollModule(limits)
	seedEventAndTicket(store)

	for i := 0; i < 3; i++ {
		req := basicCreateRequest()
		req.Question = fmt.Sprintf("Hourly poll %d?", i+1)
		if _, err := module.Handler.CreatePollHandler(context.Background(), "event-1", organizerActor(), req); err != nil {
			t.Fatalf("create %d failed: %v", i+1, err)
		}
	}
	req := basicCreateRequest()
	req.Question = "Fourth within the hour?"
	_, err := module.Handler.CreatePollHandler(context.Background(), "event-1", organizerActor(), req)
	rateErr := rateLimited(t, err, "POLL_CREATE_HOURLY_LIMIT")
	if rateErr.Current != 3 || rateErr.Limit != 3 {
		t.Fatalf("expected 3/3, got %d/%d", rateErr.Current, rateErr.Limit)
	}
}

func TestQuotaVoteRateAcrossPolls(t *testing.T) {
	limits := relaxedLimits()
	limits.VotesPerMinute = 5
	module, store := newPollModule(limits)
	seedEventAndTicket(store)

	pollIDs := make([]string, 0, 6)
	for i := 0; i < 6; i++ {
		req := basicCreateRequest()
		req.Question = fmt.Sprintf("Rate limited poll %d?", i+1)
		poll, err := module.Handler.CreatePollHandler(context.Background(), "event-1", organizerActor(), req)
		if err != nil {
			t.Fatalf("create %d failed: %v", i+1, err)
		}
		pollIDs = append(pollIDs, poll.PollID)
	}

	for i := 0; i < 5; i++ {
		if _, err := module.Handler.SubmitVoteHandler(context.Background(), pollIDs[i], voterActor(), pollhttp.SubmitVoteRequest{
			OptionIDs: []string{"opt_1"},
		}); err != nil {
			t.Fatalf("vote %d failed: %v", i+1, err)
		}
	}
	_, err := module.Handler.SubmitVoteHandler(context.Background(), pollIDs[5], voterActor(), pollhttp.SubmitVoteRequest{
		OptionIDs: []string{"opt_1"},
	})
	rateErr := rateLimited(t, err, "VOTE_RATE_EXCEEDED")
	if rateErr.Current != 5 || rateErr.Limit != 5 {
		t.Fatalf("expected 5/5, got %d/%d", rateErr.Current, rateErr.Limit)
	}
}

func TestQuotaAnonymousVotesPerIP(t *testing.T) {
	limits := relaxedLimits()
	limits.AnonymousVotesPerMinute = 3
	module, store := newPollModule(limits)
	seedEventAndTicket(store)

	pollIDs := make([]string, 0, 4)
	for i := 0; i < 4; i++ {
		req := basicCreateRequest()
		req.Question = fmt.Sprintf("Anonymous poll %d?", i+1)
		req.AllowAnonymous = true
		poll, err := module.Handler.CreatePollHandler(context.Background(), "event-1", organizerActor(), req)
		if err != nil {
			t.Fatalf("create %d failed: %v", i+1, err)
		}
		pollIDs = append(pollIDs, poll.PollID)
	}

	anon := pollapplication.Actor{IPAddress: "203.0.113.7", UserAgent: "unit-test"}
	token, err := module.Handler.AnonymousTokenHandler(context.Background(), anon)
	if err != nil {
		t.Fatalf("token issuance failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := module.Handler.SubmitVoteHandler(context.Background(), pollIDs[i], anon, pollhttp.SubmitVoteRequest{
			OptionIDs:      []string{"opt_1"},
			AnonymousToken: token.Token,
		}); err != nil {
			t.Fatalf("anonymous vote %d failed: %v", i+1, err)
		}
	}
	_, err = module.Handler.SubmitVoteHandler(context.Background(), pollIDs[3], anon, pollhttp.SubmitVoteRequest{
		OptionIDs:      []string{"opt_1"},
		AnonymousToken: token.Token,
	})
	rateLimited(t, err, "ANONYMOUS_VOTE_RATE_EXCEEDED")
}

func TestQuotaVoteUpdateCooldown(t *testing.T) {
	module, store := newPollModule(relaxedLimits())
	seedEventAndTicket(store)

	poll, err := module.Handler.CreatePollHandler(context.Background(), "event-1", organizerActor(), basicCreateRequest())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := module.Handler.SubmitVoteHandler(context.Background(), poll.PollID, voterActor(), pollhttp.SubmitVoteRequest{
		OptionIDs: []string{"opt_1"},
	}); err != nil {
		t.Fatalf("first vote failed: %v", err)
	}

	// The first in-window change passes, the second hits the cooldown.
	if _, err := module.Handler.SubmitVoteHandler(context.Background(), poll.PollID, voterActor(), pollhttp.SubmitVoteRequest{
		OptionIDs: []string{"opt_2"},
	}); err != nil {
		t.Fatalf("first change failed: %v", err)
	}
	_, err = module.Handler.SubmitVoteHandler(context.Background(), poll.PollID, voterActor(), pollhttp.SubmitVoteRequest{
		OptionIDs: []string{"opt_1"},
	})
	rateLimited(t, err, "VOTE_UPDATE_COOLDOWN")
}

func TestQuotaTokenIssuancePerIP(t *testing.T) {
	limits := relaxedLimits()
	limits.TokensPerMinute = 2
	module, _ := newPollModule(limits)

	anon := pollapplication.Actor{IPAddress: "198.51.100.4"}
	for i := 0; i < 2; i++ {
		if _, err := module.Handler.AnonymousTokenHandler(context.Background(), anon); err != nil {
			t.Fatalf("issuance %d failed: %v", i+1, err)
		}
	}
	_, err := module.Handler.AnonymousTokenHandler(context.Background(), anon)
	rateLimited(t, err, "TOKEN_RATE_EXCEEDED")

	// A different source address keeps its own window.
	other := pollapplication.Actor{IPAddress: "198.51.100.5"}
	if _, err := module.Handler.AnonymousTokenHandler(context.Background(), other); err != nil {
		t.Fatalf("issuance from a fresh address failed: %v", err)
	}
}
