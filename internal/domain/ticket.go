package domain

import "time"

// TicketStatus enumerates lifecycle states for call tickets.
type TicketStatus string

const (
	TicketStatusNew        TicketStatus = "NEW"
	TicketStatusInProgress TicketStatus = "IN_PROGRESS"
	TicketStatusClosed     TicketStatus = "CLOSED"
)

// CanEnterInProgress reports whether a ticket in the given status may be
// moved to IN_PROGRESS. A closed ticket is never silently reopened by a
// late-arriving accept or transfer.
func CanEnterInProgress(status TicketStatus) bool {
	return status != TicketStatusClosed
}

// Ticket is the transient in-memory copy of a call ticket. The ticket backend
// owns the durable record; the engine re-reads it per event and writes it back
// through the backend's optimistic lock.
type Ticket struct {
	ID        string
	ProjectID string
	Title     string
	Assignee  string
	Status    TicketStatus

	// TrackingCallIDs is the comma-separated set of active call identifiers,
	// formatted by the callids codec ("id1, id2, ").
	TrackingCallIDs string

	// Description doubles as the per-call ledger, one line per call.
	Description string

	// CallStartTimestamp is set once, on the first accepted call, and kept
	// across later re-accepts. Local-time "YYYY-MM-DD HH:MM:SS".
	CallStartTimestamp string
	CallEndTimestamp   string

	CallerNumber string
	DialedNumber string

	// LockVersion is the backend's optimistic-concurrency token, echoed back
	// on save so stale writes are rejected.
	LockVersion int64

	CreatedAt time.Time
	UpdatedAt time.Time
}
