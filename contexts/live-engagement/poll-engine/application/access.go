package application

import (
	"context"
	"log/slog"
	"strings"
	"time"

	domainerrors "marquee/contexts/live-engagement/poll-engine/domain/errors"
	"marquee/contexts/live-engagement/poll-engine/ports"
)

// Actor is the authenticated (or anonymous) caller identity resolved by the
// platform transport. UserID is empty for unauthenticated callers.
type Actor struct {
	UserID    string
	Role      string
	IPAddress string
	UserAgent string
}

func (a Actor) Admin() bool {
	return strings.EqualFold(strings.TrimSpace(a.Role), "admin")
}

func (a Actor) Authenticated() bool {
	return strings.TrimSpace(a.UserID) != ""
}

// Access is the caller's resolved capability set for one event, plus the
// projections fetched while resolving so downstream code avoids re-fetching.
type Access struct {
	Event  ports.EventProjection
	Ticket ports.TicketProjection

	Organizer    bool
	TicketHolder bool
	Admin        bool
}

// PollAccess reports whether the caller may read polls for the event at all.
func (a Access) PollAccess() bool {
	return a.Admin || a.Organizer || a.TicketHolder
}

// AccessGate resolves caller capabilities against the event and ticket
// projections. There is a single resolution path; call sites decide whether
// to hard-fail (Require* helpers) or branch on the returned set.
type AccessGate struct {
	Events  ports.EventDirectory
	Tickets ports.TicketDirectory
	Clock   ports.Clock
	Logger  *slog.Logger
}

// Resolve computes the capability set without short-circuiting.
func (g AccessGate) Resolve(ctx context.Context, eventID string, actor Actor) (Access, error) {
	event, err := g.Events.GetEvent(ctx, strings.TrimSpace(eventID))
	if err != nil {
		return Access{}, err
	}

	access := Access{
		Event: event,
		Admin: actor.Admin(),
	}
	if actor.Authenticated() && strings.EqualFold(event.OrganizerID, strings.TrimSpace(actor.UserID)) {
		access.Organizer = true
	}
	if actor.Authenticated() && !access.Organizer {
		ticket, found, err := g.Tickets.GetTicket(ctx, event.EventID, strings.TrimSpace(actor.UserID))
		if err != nil {
			return Access{}, err
		}
		if found && TicketValid(ticket, g.now()) {
			access.TicketHolder = true
			access.Ticket = ticket
		}
	}
	return access, nil
}

// RequireOrganizer is the strict gate for organizer-only mutations.
func (g AccessGate) RequireOrganizer(ctx context.Context, eventID string, actor Actor) (Access, error) {
	access, err := g.Resolve(ctx, eventID, actor)
	if err != nil {
		return Access{}, err
	}
	if !access.Organizer && !access.Admin {
		ResolveLogger(g.Logger).Warn("organizer check failed",
			"event", "poll_access_organizer_denied",
			"module", "live-engagement/poll-engine",
			"layer", "application",
			"event_id", strings.TrimSpace(eventID),
			"user_id", strings.TrimSpace(actor.UserID),
		)
		return Access{}, domainerrors.ErrNotOrganizer
	}
	return access, nil
}

// RequirePollAccess is the strict gate for reads that need any poll access.
func (g AccessGate) RequirePollAccess(ctx context.Context, eventID string, actor Actor) (Access, error) {
	access, err := g.Resolve(ctx, eventID, actor)
	if err != nil {
		return Access{}, err
	}
	if !access.PollAccess() {
		return Access{}, domainerrors.ErrPollAccessDenied
	}
	return access, nil
}

func (g AccessGate) now() time.Time {
	if g.Clock != nil {
		return g.Clock.Now().UTC()
	}
	return time.Now().UTC()
}

// TicketValid applies the external Ticket collaborator's validity contract:
// ticket active and unexpired, linked order paid.
func TicketValid(ticket ports.TicketProjection, now time.Time) bool {
	if !strings.EqualFold(strings.TrimSpace(ticket.Status), "active") {
		return false
	}
	if !strings.EqualFold(strings.TrimSpace(ticket.OrderStatus), "paid") {
		return false
	}
	if ticket.ExpiresAt != nil && !ticket.ExpiresAt.UTC().After(now) {
		return false
	}
	return true
}
