package unit

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	pollengine "marquee/contexts/live-engagement/poll-engine"
	"marquee/contexts/live-engagement/poll-engine/adapters/memory"
	pollapplication "marquee/contexts/live-engagement/poll-engine/application"
	"marquee/contexts/live-engagement/poll-engine/domain/entities"
	pollerrors "marquee/contexts/live-engagement/poll-engine/domain/errors"
	"marquee/contexts/live-engagement/poll-engine/ports"
	pollhttp "marquee/contexts/live-engagement/poll-engine/transport/http"
)

func newPollModule(limits pollapplication.QuotaLimits) (pollengine.Module, *memory.Store) {
	store := memory.NewStore(nil)
	module := pollengine.NewModule(pollengine.Dependencies{
		Polls:    store,
		Votes:    store,
		Counters: store,
		Events:   store,
		Tickets:  store,
		Outbox:   store,
		Clock:    store,
		IDGen:    store,
		Limits:   limits,
		Logger:   nil,
	})
	module.Store = store
	return module, store
}

// relaxedLimits disables the creation cooldowns so lifecycle tests can set
// up multiple polls back to back.
func relaxedLimits() pollapplication.QuotaLimits {
	limits := pollapplication.DefaultQuotaLimits()
	limits.CreateCooldown = time.Nanosecond
	limits.CreatesPerHour = 1000
	limits.ActivePollLimit = 100
	return limits
}

func seedEventAndTicket(store *memory.Store) {
	store.SetEvent(ports.EventProjection{
		EventID:     "event-1",
		OrganizerID: "organizer-1",
		Status:      "published",
	})
	store.SetTicket(ports.TicketProjection{
		TicketID:    "ticket-1",
		EventID:     "event-1",
		UserID:      "user-1",
		Status:      "active",
		OrderStatus: "paid",
	})
}

func organizerActor() pollapplication.Actor {
	return pollapplication.Actor{UserID: "organizer-1", IPAddress: "10.0.0.1", UserAgent: "unit-test"}
}

func voterActor() pollapplication.Actor {
	return pollapplication.Actor{UserID: "user-1", IPAddress: "10.0.0.2", UserAgent: "unit-test"}
}

func basicCreateRequest() pollhttp.CreatePollRequest {
	return pollhttp.CreatePollRequest{
		Question: "Which song should close the show?",
		Options: []pollhttp.OptionPayload{
			{Label: "Midnight Drive"},
			{Label: "Neon Skies"},
		},
		PollType:         "single_choice",
		MaxVotes:         1,
		AllowVoteChanges: true,
		ClosesAt:         time.Now().UTC().Add(2 * time.Hour).Format(time.RFC3339),
	}
}

func TestPollCreateAndVoteFlow(t *testing.T) {
	module, store := newPollModule(relaxedLimits())
	seedEventAndTicket(store)

	poll, err := module.Handler.CreatePollHandler(context.Background(), "event-1", organizerActor(), basicCreateRequest())
	if err != nil {
		t.Fatalf("create poll failed: %v", err)
	}
	if poll.Status != "active" {
		t.Fatalf("expected active poll, got %s", poll.Status)
	}
	if poll.Options[0].OptionID != "opt_1" || poll.Options[1].OptionID != "opt_2" {
		t.Fatalf("expected positional option ids, got %s and %s", poll.Options[0].OptionID, poll.Options[1].OptionID)
	}

	vote, err := module.Handler.SubmitVoteHandler(context.Background(), poll.PollID, voterActor(), pollhttp.SubmitVoteRequest{
		OptionIDs: []string{"opt_1"},
	})
	if err != nil {
		t.Fatalf("submit vote failed: %v", err)
	}
	if vote.WasUpdate {
		t.Fatalf("first ballot must not be an update")
	}
	if !vote.CanViewResults {
		t.Fatalf("identified voter should unlock results by voting")
	}

	// Same identity votes again: poll allows changes, so the ballot mutates
	// in place and keeps its id.
	changed, err := module.Handler.SubmitVoteHandler(context.Background(), poll.PollID, voterActor(), pollhttp.SubmitVoteRequest{
		OptionIDs: []string{"opt_2"},
	})
	if err != nil {
		t.Fatalf("vote change failed: %v", err)
	}
	if !changed.WasUpdate {
		t.Fatalf("expected in-place update")
	}
	if changed.VoteID != vote.VoteID {
		t.Fatalf("expected stable vote id, got %s and %s", vote.VoteID, changed.VoteID)
	}

	results, err := module.Handler.GetResultsHandler(context.Background(), poll.PollID, voterActor())
	if err != nil {
		t.Fatalf("get results failed: %v", err)
	}
	if results.TotalVotes != 1 {
		t.Fatalf("expected one ballot after the change, got %d", results.TotalVotes)
	}
}

func TestPollVoteRequiresTicket(t *testing.T) {
	module, store := newPollModule(relaxedLimits())
	seedEventAndTicket(store)

	poll, err := module.Handler.CreatePollHandler(context.Background(), "event-1", organizerActor(), basicCreateRequest())
	if err != nil {
		t.Fatalf("create poll failed: %v", err)
	}

	noTicket := pollapplication.Actor{UserID: "user-without-ticket", IPAddress: "10.0.0.9"}
	_, err = module.Handler.SubmitVoteHandler(context.Background(), poll.PollID, noTicket, pollhttp.SubmitVoteRequest{
		OptionIDs: []string{"opt_1"},
	})
	if !errors.Is(err, pollerrors.ErrTicketRequired) {
		t.Fatalf("expected ticket requirement, got %v", err)
	}
}

func TestPollVoteChangeDisallowed(t *testing.T) {
	module, store := newPollModule(relaxedLimits())
	seedEventAndTicket(store)

	req := basicCreateRequest()
	req.AllowVoteChanges = false
	poll, err := module.Handler.CreatePollHandler(context.Background(), "event-1", organizerActor(), req)
	if err != nil {
		t.Fatalf("create poll failed: %v", err)
	}

	if _, err := module.Handler.SubmitVoteHandler(context.Background(), poll.PollID, voterActor(), pollhttp.SubmitVoteRequest{
		OptionIDs: []string{"opt_1"},
	}); err != nil {
		t.Fatalf("first vote failed: %v", err)
	}

	_, err = module.Handler.SubmitVoteHandler(context.Background(), poll.PollID, voterActor(), pollhttp.SubmitVoteRequest{
		OptionIDs: []string{"opt_2"},
	})
	var stateErr *pollerrors.StateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected state error, got %v", err)
	}
	if stateErr.Reason != "vote changes not allowed" {
		t.Fatalf("unexpected reason: %s", stateErr.Reason)
	}

	// The persisted ballot keeps its original selection.
	results, err := module.Handler.GetResultsHandler(context.Background(), poll.PollID, organizerActor())
	if err != nil {
		t.Fatalf("results read failed: %v", err)
	}
	for _, tally := range results.Options {
		switch tally.OptionID {
		case "opt_1":
			if tally.VoteCount != 1 {
				t.Fatalf("original selection lost: %+v", tally)
			}
		case "opt_2":
			if tally.VoteCount != 0 {
				t.Fatalf("rejected change leaked into the tally: %+v", tally)
			}
		}
	}
}

func TestVoteSelectionValidation(t *testing.T) {
	module, store := newPollModule(relaxedLimits())
	seedEventAndTicket(store)

	poll, err := module.Handler.CreatePollHandler(context.Background(), "event-1", organizerActor(), basicCreateRequest())
	if err != nil {
		t.Fatalf("create poll failed: %v", err)
	}

	cases := []struct {
		name      string
		optionIDs []string
		message   string
	}{
		{"no selection", nil, "at least one option must be selected"},
		{"two options on single choice", []string{"opt_1", "opt_2"}, "only one option can be selected"},
		{"unknown option", []string{"opt_9"}, `option "opt_9" does not belong to this poll`},
	}
	for _, tc := range cases {
		_, err := module.Handler.SubmitVoteHandler(context.Background(), poll.PollID, voterActor(), pollhttp.SubmitVoteRequest{
			OptionIDs: tc.optionIDs,
		})
		var validationErr *pollerrors.ValidationError
		if !errors.As(err, &validationErr) {
			t.Fatalf("%s: expected validation error, got %v", tc.name, err)
		}
		if validationErr.Reason != tc.message {
			t.Fatalf("%s: unexpected message %q", tc.name, validationErr.Reason)
		}
	}
}

func TestPollCloseIsTerminal(t *testing.T) {
	module, store := newPollModule(relaxedLimits())
	seedEventAndTicket(store)

	poll, err := module.Handler.CreatePollHandler(context.Background(), "event-1", organizerActor(), basicCreateRequest())
	if err != nil {
		t.Fatalf("create poll failed: %v", err)
	}
	if _, err := module.Handler.SubmitVoteHandler(context.Background(), poll.PollID, voterActor(), pollhttp.SubmitVoteRequest{
		OptionIDs: []string{"opt_1"},
	}); err != nil {
		t.Fatalf("vote failed: %v", err)
	}

	closed, err := module.Handler.ClosePollHandler(context.Background(), poll.PollID, organizerActor())
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if closed.Poll.Status != "closed" || closed.Poll.CloseReason != "manual" {
		t.Fatalf("expected manual closure, got status=%s reason=%s", closed.Poll.Status, closed.Poll.CloseReason)
	}
	if closed.Results.TotalVotes != 1 {
		t.Fatalf("expected final results in close response, got %d votes", closed.Results.TotalVotes)
	}

	_, err = module.Handler.ClosePollHandler(context.Background(), poll.PollID, organizerActor())
	var stateErr *pollerrors.StateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected state error on double close, got %v", err)
	}

	// Closed polls reject ballots but keep serving results to everyone with
	// poll access.
	_, err = module.Handler.SubmitVoteHandler(context.Background(), poll.PollID, voterActor(), pollhttp.SubmitVoteRequest{
		OptionIDs: []string{"opt_1"},
	})
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected state error voting on closed poll, got %v", err)
	}
	if _, err := module.Handler.GetResultsHandler(context.Background(), poll.PollID, voterActor()); err != nil {
		t.Fatalf("results must stay readable after close: %v", err)
	}
}

func TestPollSoftDeleteHidesPoll(t *testing.T) {
	module, store := newPollModule(relaxedLimits())
	seedEventAndTicket(store)

	poll, err := module.Handler.CreatePollHandler(context.Background(), "event-1", organizerActor(), basicCreateRequest())
	if err != nil {
		t.Fatalf("create poll failed: %v", err)
	}

	deleted, err := module.Handler.DeletePollHandler(context.Background(), poll.PollID, organizerActor())
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if deleted.DeletedAt == "" {
		t.Fatalf("expected deletion timestamp")
	}

	if _, err := module.Handler.GetPollHandler(context.Background(), poll.PollID, organizerActor()); !errors.Is(err, pollerrors.ErrPollNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	listing, err := module.Handler.ListPollsHandler(context.Background(), "event-1", organizerActor(), "")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	for _, item := range listing.Items {
		if item.PollID == poll.PollID {
			t.Fatalf("deleted poll leaked into listing")
		}
	}
}

func TestPollUpdateOnlyWhileActive(t *testing.T) {
	module, store := newPollModule(relaxedLimits())
	seedEventAndTicket(store)

	poll, err := module.Handler.CreatePollHandler(context.Background(), "event-1", organizerActor(), basicCreateRequest())
	if err != nil {
		t.Fatalf("create poll failed: %v", err)
	}

	question := "Which song should open the show?"
	updated, err := module.Handler.UpdatePollHandler(context.Background(), poll.PollID, organizerActor(), pollhttp.UpdatePollRequest{
		Question: &question,
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Question != question {
		t.Fatalf("question not updated: %s", updated.Question)
	}

	if _, err := module.Handler.ClosePollHandler(context.Background(), poll.PollID, organizerActor()); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	_, err = module.Handler.UpdatePollHandler(context.Background(), poll.PollID, organizerActor(), pollhttp.UpdatePollRequest{
		Question: &question,
	})
	var stateErr *pollerrors.StateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected state error updating closed poll, got %v", err)
	}
}

func TestPollValidationRejections(t *testing.T) {
	module, store := newPollModule(relaxedLimits())
	seedEventAndTicket(store)

	cases := []struct {
		name    string
		mutate  func(*pollhttp.CreatePollRequest)
		message string
	}{
		{
			name:   "single option",
			mutate: func(req *pollhttp.CreatePollRequest) { req.Options = req.Options[:1] },
		},
		{
			name: "too many options",
			mutate: func(req *pollhttp.CreatePollRequest) {
				req.Options = nil
				for i := 0; i < 11; i++ {
					req.Options = append(req.Options, pollhttp.OptionPayload{Label: fmt.Sprintf("Option %d", i)})
				}
			},
		},
		{
			name:   "duplicate labels",
			mutate: func(req *pollhttp.CreatePollRequest) { req.Options[1].Label = "midnight drive" },
		},
		{
			name:   "past closing time",
			mutate: func(req *pollhttp.CreatePollRequest) { req.ClosesAt = time.Now().UTC().Add(-time.Hour).Format(time.RFC3339) },
		},
		{
			name: "single choice with multiple votes",
			mutate: func(req *pollhttp.CreatePollRequest) {
				req.MaxVotes = 2
			},
		},
		{
			name: "multiple choice votes exceed option count",
			mutate: func(req *pollhttp.CreatePollRequest) {
				req.PollType = "multiple_choice"
				req.MaxVotes = 3
			},
		},
		{
			name: "artist option without artist name",
			mutate: func(req *pollhttp.CreatePollRequest) {
				req.PollType = "artist_selection"
			},
		},
	}
	for _, tc := range cases {
		req := basicCreateRequest()
		tc.mutate(&req)
		_, err := module.Handler.CreatePollHandler(context.Background(), "event-1", organizerActor(), req)
		var validationErr *pollerrors.ValidationError
		if !errors.As(err, &validationErr) {
			t.Fatalf("%s: expected validation error, got %v", tc.name, err)
		}
	}
}

func TestPollListingHidesDraftsFromTicketHolders(t *testing.T) {
	module, store := newPollModule(relaxedLimits())
	seedEventAndTicket(store)

	now := time.Now().UTC()
	draft := entities.Poll{
		PollID:      "poll-draft",
		EventID:     "event-1",
		OrganizerID: "organizer-1",
		Question:    "Unpublished?",
		Options: []entities.Option{
			{OptionID: "opt_1", Label: "Yes"},
			{OptionID: "opt_2", Label: "No"},
		},
		PollType:  entities.PollTypeGeneral,
		MaxVotes:  1,
		Status:    entities.PollStatusDraft,
		ClosesAt:  now.Add(time.Hour),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.SavePoll(context.Background(), draft); err != nil {
		t.Fatalf("seed draft failed: %v", err)
	}

	holderView, err := module.Handler.ListPollsHandler(context.Background(), "event-1", voterActor(), "")
	if err != nil {
		t.Fatalf("holder listing failed: %v", err)
	}
	for _, item := range holderView.Items {
		if item.PollID == "poll-draft" {
			t.Fatalf("draft visible to ticket holder")
		}
	}

	organizerView, err := module.Handler.ListPollsHandler(context.Background(), "event-1", organizerActor(), "")
	if err != nil {
		t.Fatalf("organizer listing failed: %v", err)
	}
	found := false
	for _, item := range organizerView.Items {
		if item.PollID == "poll-draft" {
			found = true
		}
	}
	if !found {
		t.Fatalf("organizer should see drafts")
	}
}
