package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	pollapplication "marquee/contexts/live-engagement/poll-engine/application"
	pollerrors "marquee/contexts/live-engagement/poll-engine/domain/errors"
	pollhttp "marquee/contexts/live-engagement/poll-engine/transport/http"
)

func pollActor(r *http.Request) pollapplication.Actor {
	return pollapplication.Actor{
		UserID:    strings.TrimSpace(r.Header.Get("X-User-Id")),
		Role:      strings.TrimSpace(r.Header.Get("X-User-Role")),
		IPAddress: resolveClientIP(r),
		UserAgent: r.UserAgent(),
	}
}

func writePollError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, pollhttp.ErrorResponse{Code: code, Message: message})
}

func writePollDomainError(w http.ResponseWriter, err error) {
	var validationErr *pollerrors.ValidationError
	var stateErr *pollerrors.StateError
	var rateErr *pollerrors.RateLimitError
	switch {
	case errors.As(err, &validationErr):
		writePollError(w, http.StatusBadRequest, "validation_failed", validationErr.Reason)
	case errors.As(err, &stateErr):
		writePollError(w, http.StatusConflict, "invalid_state", stateErr.Reason)
	case errors.As(err, &rateErr):
		w.Header().Set("Retry-After", strconv.Itoa(rateErr.RetryAfterSeconds))
		writeJSON(w, http.StatusTooManyRequests, pollhttp.ErrorResponse{
			Code:              rateErr.Code,
			Message:           err.Error(),
			RetryAfterSeconds: rateErr.RetryAfterSeconds,
			Current:           rateErr.Current,
			Limit:             rateErr.Limit,
		})
	case errors.Is(err, pollerrors.ErrPollNotFound):
		writePollError(w, http.StatusNotFound, "poll_not_found", err.Error())
	case errors.Is(err, pollerrors.ErrEventNotFound):
		writePollError(w, http.StatusNotFound, "event_not_found", err.Error())
	case errors.Is(err, pollerrors.ErrBallotConflict):
		writePollError(w, http.StatusConflict, "ballot_conflict", err.Error())
	case errors.Is(err, pollerrors.ErrNotOrganizer):
		writePollError(w, http.StatusForbidden, "not_organizer", err.Error())
	case errors.Is(err, pollerrors.ErrPollAccessDenied):
		writePollError(w, http.StatusForbidden, "access_denied", err.Error())
	case errors.Is(err, pollerrors.ErrTicketRequired):
		writePollError(w, http.StatusForbidden, "ticket_required", err.Error())
	case errors.Is(err, pollerrors.ErrAnonymousForbidden):
		writePollError(w, http.StatusForbidden, "anonymous_forbidden", err.Error())
	case errors.Is(err, pollerrors.ErrResultsNotVisible):
		writePollError(w, http.StatusForbidden, "results_not_visible", err.Error())
	default:
		writePollError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func (s *Server) handleCreatePoll(w http.ResponseWriter, r *http.Request) {
	actor := pollActor(r)
	if actor.UserID == "" {
		writePollError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return
	}

	var req pollhttp.CreatePollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writePollError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}

	resp, err := s.polls.Handler.CreatePollHandler(r.Context(), r.PathValue("event_id"), actor, req)
	if err != nil {
		writePollDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleListPolls(w http.ResponseWriter, r *http.Request) {
	resp, err := s.polls.Handler.ListPollsHandler(
		r.Context(),
		r.PathValue("event_id"),
		pollActor(r),
		r.URL.Query().Get("status"),
	)
	if err != nil {
		writePollDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetPoll(w http.ResponseWriter, r *http.Request) {
	resp, err := s.polls.Handler.GetPollHandler(r.Context(), r.PathValue("poll_id"), pollActor(r))
	if err != nil {
		writePollDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUpdatePoll(w http.ResponseWriter, r *http.Request) {
	actor := pollActor(r)
	if actor.UserID == "" {
		writePollError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return
	}

	var req pollhttp.UpdatePollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writePollError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}

	resp, err := s.polls.Handler.UpdatePollHandler(r.Context(), r.PathValue("poll_id"), actor, req)
	if err != nil {
		writePollDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeletePoll(w http.ResponseWriter, r *http.Request) {
	actor := pollActor(r)
	if actor.UserID == "" {
		writePollError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return
	}

	resp, err := s.polls.Handler.DeletePollHandler(r.Context(), r.PathValue("poll_id"), actor)
	if err != nil {
		writePollDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleClosePoll(w http.ResponseWriter, r *http.Request) {
	actor := pollActor(r)
	if actor.UserID == "" {
		writePollError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return
	}

	resp, err := s.polls.Handler.ClosePollHandler(r.Context(), r.PathValue("poll_id"), actor)
	if err != nil {
		writePollDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSubmitVote(w http.ResponseWriter, r *http.Request) {
	var req pollhttp.SubmitVoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writePollError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}

	actor := pollActor(r)
	if actor.UserID == "" && strings.TrimSpace(req.AnonymousToken) == "" {
		writePollError(w, http.StatusUnauthorized, "missing_identity",
			"X-User-Id header or anonymous_token is required")
		return
	}

	resp, err := s.polls.Handler.SubmitVoteHandler(r.Context(), r.PathValue("poll_id"), actor, req)
	if err != nil {
		writePollDomainError(w, err)
		return
	}
	status := http.StatusCreated
	if resp.WasUpdate {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleGetResults(w http.ResponseWriter, r *http.Request) {
	resp, err := s.polls.Handler.GetResultsHandler(r.Context(), r.PathValue("poll_id"), pollActor(r))
	if err != nil {
		writePollDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAnonymousToken(w http.ResponseWriter, r *http.Request) {
	resp, err := s.polls.Handler.AnonymousTokenHandler(r.Context(), pollActor(r))
	if err != nil {
		writePollDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleAutoClose(w http.ResponseWriter, r *http.Request) {
	actor := pollActor(r)
	if actor.UserID == "" {
		writePollError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return
	}

	resp, err := s.polls.Handler.AutoCloseHandler(r.Context(), actor)
	if err != nil {
		writePollDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
