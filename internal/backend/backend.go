// Package backend defines the ticket-backend collaborator contract. The call
// engine owns no durable state; every event re-reads the ticket through one of
// these implementations and writes it back under the backend's optimistic
// lock.
package backend

import (
	"context"
	"errors"

	"github.com/spec-kit/callbridge/internal/domain"
)

// ErrStaleTicket reports a save rejected by the backend's optimistic lock:
// another event mutated the ticket between read and write.
var ErrStaleTicket = errors.New("ticket was modified concurrently")

// TicketBackend is the outbound collaborator contract for a ticket system.
// Lookup methods return (nil, nil) when no ticket matches.
type TicketBackend interface {
	// GetTicketByCallID finds the ticket whose tracking set contains id as an
	// exact token.
	GetTicketByCallID(ctx context.Context, id string) (*domain.Ticket, error)

	// GetTicketByCallIDContains finds the ticket whose tracking set contains
	// id as a substring. Needed because a ticket may track several ids, and
	// kept substring-based on purpose (see calltrack.AddCallID).
	GetTicketByCallIDContains(ctx context.Context, id string) (*domain.Ticket, error)

	// LatestOpenCallTicketInProject returns the most recent NEW or
	// IN_PROGRESS call ticket in the project.
	LatestOpenCallTicketInProject(ctx context.Context, projectID string) (*domain.Ticket, error)

	// LatestOpenTicketByTitle returns the most recent NEW or IN_PROGRESS
	// call ticket in the project with the given title.
	LatestOpenTicketByTitle(ctx context.Context, projectID, title string) (*domain.Ticket, error)

	// CreateTicket persists a new ticket for the call, tracking exactly the
	// call's id, with the title fallback chain applied.
	CreateTicket(ctx context.Context, caller *domain.CallerInfo, call domain.CallEvent) (*domain.Ticket, error)

	// Save writes the ticket back. Returns ErrStaleTicket when the lock
	// version no longer matches.
	Save(ctx context.Context, ticket *domain.Ticket) error

	// UserExists reports whether the agent user is known to the backend.
	UserExists(ctx context.Context, name string) (bool, error)

	// Ping verifies backend reachability for health checks.
	Ping(ctx context.Context) error

	Close()
}

// TitleFor composes the create-time ticket title: company, then name, then
// the caller number, then a localized "incoming call from <number>" string.
func TitleFor(caller *domain.CallerInfo, call domain.CallEvent, unknownPrefix string) string {
	if caller != nil {
		if caller.CompanyName != "" {
			return caller.CompanyName
		}
		if caller.Name != "" {
			return caller.Name
		}
	}
	if call.CallerNumber != "" {
		return call.CallerNumber
	}
	return unknownPrefix + " " + call.CallerNumber
}
