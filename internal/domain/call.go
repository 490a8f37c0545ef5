package domain

// CallEventKind enumerates the phone-system webhook event types.
type CallEventKind string

const (
	CallEventIncoming CallEventKind = "Incoming Call"
	CallEventOutgoing CallEventKind = "Outgoing Call"
	CallEventAccepted CallEventKind = "Accepted Call"
	CallEventTransfer CallEventKind = "Transfer Call"
	CallEventHangup   CallEventKind = "Hangup"
)

// IsRing reports whether the event starts a call (incoming or outgoing ring).
func (k CallEventKind) IsRing() bool {
	return k == CallEventIncoming || k == CallEventOutgoing
}

// Known reports whether the event kind is one the engine handles.
func (k CallEventKind) Known() bool {
	switch k {
	case CallEventIncoming, CallEventOutgoing, CallEventAccepted, CallEventTransfer, CallEventHangup:
		return true
	}
	return false
}

// CallEvent is one phone-system webhook payload. The CallID is stable from
// ring through hangup and correlates events to ticket state. AgentUser may be
// empty; for transfers it carries the new assignee.
type CallEvent struct {
	Kind         CallEventKind
	CallID       string
	CallerNumber string
	DialedNumber string
	AgentUser    string
}
