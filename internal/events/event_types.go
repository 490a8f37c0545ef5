package events

import (
	"time"

	"github.com/spec-kit/callbridge/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventCallTicketCreated EventType = "call_ticket_created"
	EventCallRinging       EventType = "call_ringing"
	EventCallAccepted      EventType = "call_accepted"
	EventCallTransferred   EventType = "call_transferred"
	EventCallCompleted     EventType = "call_completed"
	EventCallSkipped       EventType = "call_skipped"
)

// Event represents a call lifecycle event emitted by the engine.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TicketID  string      `json:"ticket_id,omitempty"`
	CallID    string      `json:"call_id"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	ProjectID    string `json:"project_id"`
	Title        string `json:"title"`
	CallerNumber string `json:"caller_number"`
	KnownContact bool   `json:"known_contact"`
}

// CallAcceptedPayload payload.
type CallAcceptedPayload struct {
	User  string `json:"user"`
	Start string `json:"start"`
}

// CallTransferredPayload payload.
type CallTransferredPayload struct {
	NewUser string `json:"new_user"`
}

// CallCompletedPayload payload.
type CallCompletedPayload struct {
	End             string `json:"end"`
	DurationMinutes int    `json:"duration_minutes"`
}

// CallSkippedPayload payload.
type CallSkippedPayload struct {
	Kind   domain.CallEventKind `json:"kind"`
	Reason string               `json:"reason"`
}
