package dto

import (
	"testing"

	"github.com/spec-kit/callbridge/internal/domain"
)

func TestToDomain(t *testing.T) {
	tests := []struct {
		name string
		req  CallWebhookRequest
		want domain.CallEvent
	}{
		{
			name: "ring payload",
			req: CallWebhookRequest{
				Event: "Incoming Call", CallID: "C1", Remote: "+491234", Dialed: "100", User: "alice",
			},
			want: domain.CallEvent{
				Kind: domain.CallEventIncoming, CallID: "C1",
				CallerNumber: "+491234", DialedNumber: "100", AgentUser: "alice",
			},
		},
		{
			name: "newuser overrides user on transfer",
			req: CallWebhookRequest{
				Event: "Transfer Call", CallID: "C1", User: "alice", NewUser: "bob",
			},
			want: domain.CallEvent{
				Kind: domain.CallEventTransfer, CallID: "C1", AgentUser: "bob",
			},
		},
		{
			name: "empty newuser keeps user",
			req: CallWebhookRequest{
				Event: "Hangup", CallID: "C2", User: "alice",
			},
			want: domain.CallEvent{
				Kind: domain.CallEventHangup, CallID: "C2", AgentUser: "alice",
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.req.ToDomain(); got != tc.want {
				t.Errorf("ToDomain() = %+v, want %+v", got, tc.want)
			}
		})
	}
}
