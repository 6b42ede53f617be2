package errors

import (
	"errors"
	"fmt"
)

var (
	ErrPollNotFound       = errors.New("poll not found")
	ErrEventNotFound      = errors.New("event not found")
	ErrNotOrganizer       = errors.New("caller is not the event organizer")
	ErrPollAccessDenied   = errors.New("caller has no access to this poll")
	ErrTicketRequired     = errors.New("a valid paid ticket is required to vote")
	ErrAnonymousForbidden = errors.New("anonymous voting is not allowed on this poll")
	ErrResultsNotVisible  = errors.New("results are not visible before voting")
	ErrBallotConflict     = errors.New("a ballot already exists for this identity")
	ErrActivePollCap      = errors.New("event already holds the maximum number of active polls")
	ErrConflict           = errors.New("stored record conflicts with the request")
)

// ValidationError reports malformed poll or ballot input.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func NewValidation(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// StateError reports an operation attempted in the wrong lifecycle state.
type StateError struct {
	Reason string
}

func (e *StateError) Error() string {
	return e.Reason
}

func NewState(reason string) *StateError {
	return &StateError{Reason: reason}
}

// RateLimitError reports an exhausted domain quota. RetryAfterSeconds is
// always populated so clients can back off; Current/Limit are populated for
// counting quotas (e.g. the active-poll cap).
type RateLimitError struct {
	Code              string
	RetryAfterSeconds int
	Current           int
	Limit             int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit %s exceeded (current=%d limit=%d retry_after=%ds)",
		e.Code, e.Current, e.Limit, e.RetryAfterSeconds)
}
