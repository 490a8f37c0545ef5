package handlers_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/callbridge/internal/api/http"
	"github.com/spec-kit/callbridge/internal/api/http/handlers"
	"github.com/spec-kit/callbridge/internal/config"
	"github.com/spec-kit/callbridge/internal/domain"
	"github.com/spec-kit/callbridge/internal/service"
)

// stubBackend satisfies the backend contract with a single in-memory ticket,
// enough to drive the handler through the sync engine.
type stubBackend struct {
	ticket  *domain.Ticket
	created int
	saved   int
}

func (s *stubBackend) GetTicketByCallID(context.Context, string) (*domain.Ticket, error) {
	return s.copy(), nil
}

func (s *stubBackend) GetTicketByCallIDContains(context.Context, string) (*domain.Ticket, error) {
	return s.copy(), nil
}

func (s *stubBackend) LatestOpenCallTicketInProject(context.Context, string) (*domain.Ticket, error) {
	return nil, nil
}

func (s *stubBackend) LatestOpenTicketByTitle(context.Context, string, string) (*domain.Ticket, error) {
	return nil, nil
}

func (s *stubBackend) CreateTicket(_ context.Context, _ *domain.CallerInfo, call domain.CallEvent) (*domain.Ticket, error) {
	s.created++
	s.ticket = &domain.Ticket{
		ID: "T1", ProjectID: "support", Title: call.CallerNumber,
		Status: domain.TicketStatusNew, TrackingCallIDs: call.CallID + ", ",
	}
	return s.copy(), nil
}

func (s *stubBackend) Save(_ context.Context, ticket *domain.Ticket) error {
	s.saved++
	cp := *ticket
	s.ticket = &cp
	return nil
}

func (s *stubBackend) UserExists(context.Context, string) (bool, error) { return true, nil }
func (s *stubBackend) Ping(context.Context) error                       { return nil }
func (s *stubBackend) Close()                                           {}

func (s *stubBackend) copy() *domain.Ticket {
	if s.ticket == nil {
		return nil
	}
	cp := *s.ticket
	return &cp
}

func newTestApp(be *stubBackend) *fiber.App {
	logger := zap.NewNop()
	callService := service.NewCallService(config.CallConfig{
		DefaultProjectID:       "support",
		DefaultDurationMinutes: 15,
	}, service.CallDependencies{Backend: be, Logger: logger})

	app := fiber.New()
	httptransport.RegisterMiddlewares(app, logger, nil, 0)
	handler := handlers.NewWebhookHandler(callService, nil, nil, logger, true)
	app.Post("/webhooks/call", handler.HandleCallEvent)
	return app
}

func postCall(t *testing.T, app *fiber.App, body string) (int, string) {
	t.Helper()
	req := httptest.NewRequest("POST", "/webhooks/call", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(raw)
}

func TestHandleCallEventAcksRing(t *testing.T) {
	be := &stubBackend{}
	app := newTestApp(be)

	status, body := postCall(t, app,
		`{"event":"Incoming Call","callid":"C1","remote":"+491234","dialed":"100"}`)
	if status != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if body != "Accepted" {
		t.Errorf("body = %q, want Accepted", body)
	}
	if be.created != 1 {
		t.Errorf("created %d tickets, want 1", be.created)
	}
}

func TestHandleCallEventRejectsUnknownEvent(t *testing.T) {
	app := newTestApp(&stubBackend{})

	status, body := postCall(t, app, `{"event":"Coffee Break","callid":"C1"}`)
	if status != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}
	if body != "Unknown call event" {
		t.Errorf("body = %q, want Unknown call event", body)
	}
}

func TestHandleCallEventRequiresCallID(t *testing.T) {
	app := newTestApp(&stubBackend{})

	status, body := postCall(t, app, `{"event":"Incoming Call"}`)
	if status != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		t.Fatalf("body %q is not the error envelope: %v", body, err)
	}
	if payload.Error.Code != "VALIDATION_FAILED" {
		t.Errorf("error code = %q, want VALIDATION_FAILED", payload.Error.Code)
	}
}

func TestHandleCallEventHangupEscalatesLostTracking(t *testing.T) {
	app := newTestApp(&stubBackend{})

	status, body := postCall(t, app, `{"event":"Hangup","callid":"C404"}`)
	if status != fiber.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", status)
	}
	if !strings.Contains(body, "TRACKING_LOST") {
		t.Errorf("body = %q, want TRACKING_LOST error", body)
	}
}
