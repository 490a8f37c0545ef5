package dto

import "github.com/spec-kit/callbridge/internal/domain"

// CallWebhookRequest is the inbound phone-system payload. The newuser field
// is how transfer events signal the new assignee; when present it overrides
// user.
type CallWebhookRequest struct {
	Event   string `json:"event"`
	CallID  string `json:"callid"`
	Remote  string `json:"remote"`
	Dialed  string `json:"dialed"`
	User    string `json:"user"`
	NewUser string `json:"newuser"`
}

// ToDomain converts the payload into a CallEvent.
func (r CallWebhookRequest) ToDomain() domain.CallEvent {
	user := r.User
	if r.NewUser != "" {
		user = r.NewUser
	}
	return domain.CallEvent{
		Kind:         domain.CallEventKind(r.Event),
		CallID:       r.CallID,
		CallerNumber: r.Remote,
		DialedNumber: r.Dialed,
		AgentUser:    user,
	}
}
