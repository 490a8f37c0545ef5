package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/spec-kit/callbridge/internal/backend"
	"github.com/spec-kit/callbridge/internal/calltrack"
	"github.com/spec-kit/callbridge/internal/config"
	"github.com/spec-kit/callbridge/internal/domain"
	apperrors "github.com/spec-kit/callbridge/pkg/util"
)

// fakeBackend is an in-memory TicketBackend with the same lookup semantics as
// the real implementations: exact-token match for GetTicketByCallID, substring
// match for GetTicketByCallIDContains, copies handed out so mutations only
// land through Save.
type fakeBackend struct {
	tickets        map[string]*domain.Ticket
	order          []string
	users          map[string]bool
	defaultProject string
	unknownPrefix  string
	nextID         int
	saveCount      int
	saveErr        error
}

func newFakeBackend(users ...string) *fakeBackend {
	known := make(map[string]bool, len(users))
	for _, u := range users {
		known[u] = true
	}
	return &fakeBackend{
		tickets:        make(map[string]*domain.Ticket),
		users:          known,
		defaultProject: "support",
		unknownPrefix:  "Eingehender Anruf von",
	}
}

func (f *fakeBackend) put(ticket *domain.Ticket) {
	cp := *ticket
	if _, ok := f.tickets[cp.ID]; !ok {
		f.order = append(f.order, cp.ID)
	}
	f.tickets[cp.ID] = &cp
}

func (f *fakeBackend) get(id string) *domain.Ticket {
	ticket, ok := f.tickets[id]
	if !ok {
		return nil
	}
	cp := *ticket
	return &cp
}

func (f *fakeBackend) GetTicketByCallID(_ context.Context, id string) (*domain.Ticket, error) {
	for _, tid := range f.order {
		ticket := f.tickets[tid]
		for _, token := range calltrack.SplitCallIDs(ticket.TrackingCallIDs) {
			if token == id {
				return f.get(tid), nil
			}
		}
	}
	return nil, nil
}

func (f *fakeBackend) GetTicketByCallIDContains(_ context.Context, id string) (*domain.Ticket, error) {
	for _, tid := range f.order {
		if calltrack.ContainsCallID(f.tickets[tid].TrackingCallIDs, id) {
			return f.get(tid), nil
		}
	}
	return nil, nil
}

func (f *fakeBackend) LatestOpenCallTicketInProject(_ context.Context, projectID string) (*domain.Ticket, error) {
	for i := len(f.order) - 1; i >= 0; i-- {
		ticket := f.tickets[f.order[i]]
		if ticket.ProjectID == projectID && ticket.Status != domain.TicketStatusClosed {
			return f.get(ticket.ID), nil
		}
	}
	return nil, nil
}

func (f *fakeBackend) LatestOpenTicketByTitle(_ context.Context, projectID, title string) (*domain.Ticket, error) {
	for i := len(f.order) - 1; i >= 0; i-- {
		ticket := f.tickets[f.order[i]]
		if ticket.ProjectID == projectID && ticket.Title == title && ticket.Status != domain.TicketStatusClosed {
			return f.get(ticket.ID), nil
		}
	}
	return nil, nil
}

func (f *fakeBackend) CreateTicket(_ context.Context, caller *domain.CallerInfo, call domain.CallEvent) (*domain.Ticket, error) {
	f.nextID++
	projectID := f.defaultProject
	if caller != nil && len(caller.ProjectIDs) > 0 {
		projectID = caller.ProjectIDs[0]
	}
	ticket := &domain.Ticket{
		ID:              fmt.Sprintf("T%d", f.nextID),
		ProjectID:       projectID,
		Title:           backend.TitleFor(caller, call, f.unknownPrefix),
		Status:          domain.TicketStatusNew,
		TrackingCallIDs: calltrack.AddCallID("", call.CallID),
		CallerNumber:    call.CallerNumber,
		DialedNumber:    call.DialedNumber,
	}
	f.put(ticket)
	return ticket, nil
}

func (f *fakeBackend) Save(_ context.Context, ticket *domain.Ticket) error {
	f.saveCount++
	if f.saveErr != nil {
		return f.saveErr
	}
	if _, ok := f.tickets[ticket.ID]; !ok {
		return fmt.Errorf("save of unknown ticket %s", ticket.ID)
	}
	ticket.LockVersion++
	f.put(ticket)
	return nil
}

func (f *fakeBackend) UserExists(_ context.Context, name string) (bool, error) {
	return f.users[name], nil
}

func (f *fakeBackend) Ping(context.Context) error { return nil }
func (f *fakeBackend) Close()                     {}

type fakeDirectory struct {
	contacts map[string]*domain.CallerInfo
	err      error
}

func (f *fakeDirectory) Lookup(_ context.Context, number string) (*domain.CallerInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.contacts[number], nil
}

type clockStub struct{ now time.Time }

func (c *clockStub) Now() time.Time          { return c.now }
func (c *clockStub) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestService(be *fakeBackend, dir *fakeDirectory) (*CallService, *clockStub) {
	cfg := config.CallConfig{
		DefaultProjectID:       "support",
		DefaultDurationMinutes: 15,
		UnknownTitlePrefix:     "Eingehender Anruf von",
	}
	deps := CallDependencies{Backend: be}
	if dir != nil {
		deps.Directory = dir
	}
	svc := NewCallService(cfg, deps)
	clk := &clockStub{now: time.Date(2026, 8, 26, 10, 0, 0, 0, time.Local)}
	svc.clock = clk.Now
	return svc, clk
}

func mustProcess(t *testing.T, svc *CallService, call domain.CallEvent) Outcome {
	t.Helper()
	outcome, err := svc.Process(context.Background(), call)
	if err != nil {
		t.Fatalf("process %s: %v", call.Kind, err)
	}
	return outcome
}

func TestCallLifecycle(t *testing.T) {
	be := newFakeBackend("alice", "bob")
	svc, clk := newTestService(be, nil)

	// Ring from an unknown number creates a ticket in the default project.
	outcome := mustProcess(t, svc, domain.CallEvent{
		Kind: domain.CallEventIncoming, CallID: "C1", CallerNumber: "+4930000000",
	})
	if outcome != OutcomeOK {
		t.Fatalf("ring outcome = %s, want ok", outcome)
	}
	ticket := be.get("T1")
	if ticket == nil {
		t.Fatal("ring did not create a ticket")
	}
	if ticket.Title != "+4930000000" {
		t.Errorf("title = %q, want caller number", ticket.Title)
	}
	if ticket.ProjectID != "support" {
		t.Errorf("project = %q, want support", ticket.ProjectID)
	}
	if ticket.TrackingCallIDs != "C1, " {
		t.Errorf("tracking = %q, want %q", ticket.TrackingCallIDs, "C1, ")
	}
	if ticket.Status != domain.TicketStatusNew {
		t.Errorf("status = %s, want NEW", ticket.Status)
	}

	// Accept stamps the start time, opens the ledger line and assigns alice.
	mustProcess(t, svc, domain.CallEvent{
		Kind: domain.CallEventAccepted, CallID: "C1", AgentUser: "alice",
	})
	ticket = be.get("T1")
	if ticket.Status != domain.TicketStatusInProgress {
		t.Errorf("status = %s, want IN_PROGRESS", ticket.Status)
	}
	if ticket.Assignee != "alice" {
		t.Errorf("assignee = %q, want alice", ticket.Assignee)
	}
	wantStart := "2026-08-26 10:00:00"
	if ticket.CallStartTimestamp != wantStart {
		t.Errorf("call start = %q, want %q", ticket.CallStartTimestamp, wantStart)
	}
	wantLine := "alice: Call start: 2026-08-26 10:00:00 (C1)"
	if ticket.Description != wantLine {
		t.Errorf("description = %q, want %q", ticket.Description, wantLine)
	}

	// A retried accept must not duplicate the ledger line or move the start.
	clk.Advance(time.Minute)
	mustProcess(t, svc, domain.CallEvent{
		Kind: domain.CallEventAccepted, CallID: "C1", AgentUser: "alice",
	})
	ticket = be.get("T1")
	if ticket.CallStartTimestamp != wantStart {
		t.Errorf("retried accept moved start to %q", ticket.CallStartTimestamp)
	}
	if ticket.Description != wantLine {
		t.Errorf("retried accept changed description to %q", ticket.Description)
	}

	// Transfer rewrites the open line to bob and reassigns.
	mustProcess(t, svc, domain.CallEvent{
		Kind: domain.CallEventTransfer, CallID: "C1", AgentUser: "bob",
	})
	ticket = be.get("T1")
	if ticket.Assignee != "bob" {
		t.Errorf("assignee after transfer = %q, want bob", ticket.Assignee)
	}
	if want := "bob: Call start: 2026-08-26 10:00:00 (C1)"; ticket.Description != want {
		t.Errorf("description after transfer = %q, want %q", ticket.Description, want)
	}

	// Hangup 15 minutes in completes the line and clears the tracking set.
	clk.now = time.Date(2026, 8, 26, 10, 15, 0, 0, time.Local)
	mustProcess(t, svc, domain.CallEvent{Kind: domain.CallEventHangup, CallID: "C1"})
	ticket = be.get("T1")
	if ticket.TrackingCallIDs != "" {
		t.Errorf("tracking after hangup = %q, want empty", ticket.TrackingCallIDs)
	}
	if ticket.CallEndTimestamp != "2026-08-26 10:15:00" {
		t.Errorf("call end = %q", ticket.CallEndTimestamp)
	}
	want := `bob: Call start: 2026-08-26 10:00:00 Call End: 2026-08-26 10:15:00 "Duration: 15min"`
	if ticket.Description != want {
		t.Errorf("description after hangup = %q, want %q", ticket.Description, want)
	}
}

func TestRingUnknownUserSkips(t *testing.T) {
	be := newFakeBackend("alice")
	svc, _ := newTestService(be, nil)

	outcome := mustProcess(t, svc, domain.CallEvent{
		Kind: domain.CallEventIncoming, CallID: "C1", CallerNumber: "+491234", AgentUser: "mallory",
	})
	if outcome != OutcomeSkipped {
		t.Fatalf("outcome = %s, want skipped", outcome)
	}
	if len(be.tickets) != 0 {
		t.Errorf("unknown user still created %d tickets", len(be.tickets))
	}
}

func TestRingWithAgentUserAssignsAndStarts(t *testing.T) {
	be := newFakeBackend("alice")
	svc, _ := newTestService(be, nil)

	mustProcess(t, svc, domain.CallEvent{
		Kind: domain.CallEventOutgoing, CallID: "C2", CallerNumber: "+491234", AgentUser: "alice",
	})
	ticket := be.get("T1")
	if ticket == nil {
		t.Fatal("no ticket created")
	}
	if ticket.Assignee != "alice" {
		t.Errorf("assignee = %q, want alice", ticket.Assignee)
	}
	if ticket.Status != domain.TicketStatusInProgress {
		t.Errorf("status = %s, want IN_PROGRESS", ticket.Status)
	}
}

func TestRingKnownContactJoinsOpenTicket(t *testing.T) {
	be := newFakeBackend()
	be.put(&domain.Ticket{
		ID: "T9", ProjectID: "acme", Title: "Acme Corp",
		Status: domain.TicketStatusInProgress, TrackingCallIDs: "C1, ",
	})
	dir := &fakeDirectory{contacts: map[string]*domain.CallerInfo{
		"+4955512": {Name: "Jane Doe", CompanyName: "Acme Corp", ProjectIDs: []string{"acme"}},
	}}
	svc, _ := newTestService(be, dir)

	mustProcess(t, svc, domain.CallEvent{
		Kind: domain.CallEventIncoming, CallID: "C2", CallerNumber: "+4955512",
	})
	ticket := be.get("T9")
	if ticket.TrackingCallIDs != "C1, C2, " {
		t.Errorf("tracking = %q, want both ids", ticket.TrackingCallIDs)
	}
	if len(be.tickets) != 1 {
		t.Errorf("second call created a new ticket, want consolidation")
	}
}

func TestRingKnownContactCreatesTitledTicket(t *testing.T) {
	be := newFakeBackend()
	dir := &fakeDirectory{contacts: map[string]*domain.CallerInfo{
		"+4955512": {Name: "Jane Doe", CompanyName: "Acme Corp", ProjectIDs: []string{"acme"}},
	}}
	svc, _ := newTestService(be, dir)

	mustProcess(t, svc, domain.CallEvent{
		Kind: domain.CallEventIncoming, CallID: "C1", CallerNumber: "+4955512",
	})
	ticket := be.get("T1")
	if ticket == nil {
		t.Fatal("no ticket created")
	}
	if ticket.ProjectID != "acme" {
		t.Errorf("project = %q, want acme", ticket.ProjectID)
	}
	if ticket.Title != "Acme Corp - Jane Doe" {
		t.Errorf("title = %q, want company - name", ticket.Title)
	}
}

func TestRingUnknownNumberJoinsByTitle(t *testing.T) {
	be := newFakeBackend()
	svc, _ := newTestService(be, nil)

	mustProcess(t, svc, domain.CallEvent{
		Kind: domain.CallEventIncoming, CallID: "C1", CallerNumber: "+4930000000",
	})
	mustProcess(t, svc, domain.CallEvent{
		Kind: domain.CallEventIncoming, CallID: "C2", CallerNumber: "+4930000000",
	})
	if len(be.tickets) != 1 {
		t.Fatalf("repeat caller created %d tickets, want 1", len(be.tickets))
	}
	if got := be.get("T1").TrackingCallIDs; got != "C1, C2, " {
		t.Errorf("tracking = %q, want %q", got, "C1, C2, ")
	}
}

func TestRingDirectoryFailureStillCreatesTicket(t *testing.T) {
	be := newFakeBackend()
	dir := &fakeDirectory{err: errors.New("carddav unreachable")}
	svc, _ := newTestService(be, dir)

	outcome := mustProcess(t, svc, domain.CallEvent{
		Kind: domain.CallEventIncoming, CallID: "C1", CallerNumber: "+491234",
	})
	if outcome != OutcomeOK {
		t.Fatalf("outcome = %s, want ok", outcome)
	}
	if be.get("T1") == nil {
		t.Error("directory failure prevented ticket creation")
	}
}

func TestAcceptWithoutTicketSkips(t *testing.T) {
	be := newFakeBackend("alice")
	svc, _ := newTestService(be, nil)

	outcome := mustProcess(t, svc, domain.CallEvent{
		Kind: domain.CallEventAccepted, CallID: "C404", AgentUser: "alice",
	})
	if outcome != OutcomeSkipped {
		t.Errorf("outcome = %s, want skipped", outcome)
	}
}

func TestAcceptDoesNotReopenClosedTicket(t *testing.T) {
	be := newFakeBackend("alice")
	be.put(&domain.Ticket{
		ID: "T1", ProjectID: "support", Title: "+491234",
		Status: domain.TicketStatusClosed, TrackingCallIDs: "C1, ",
	})
	svc, _ := newTestService(be, nil)

	mustProcess(t, svc, domain.CallEvent{
		Kind: domain.CallEventAccepted, CallID: "C1", AgentUser: "alice",
	})
	if got := be.get("T1").Status; got != domain.TicketStatusClosed {
		t.Errorf("status = %s, closed ticket must stay closed", got)
	}
}

func TestTransferWithoutLedgerLineFails(t *testing.T) {
	be := newFakeBackend("bob")
	be.put(&domain.Ticket{
		ID: "T1", ProjectID: "support", Title: "+491234",
		Status: domain.TicketStatusInProgress, TrackingCallIDs: "C1, ",
		Assignee: "alice", Description: "manual note",
	})
	svc, _ := newTestService(be, nil)

	outcome, err := svc.Process(context.Background(), domain.CallEvent{
		Kind: domain.CallEventTransfer, CallID: "C1", AgentUser: "bob",
	})
	if outcome != OutcomeSkipped {
		t.Errorf("outcome = %s, want skipped", outcome)
	}
	var domainErr *apperrors.DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "LEDGER_INCONSISTENT" {
		t.Fatalf("err = %v, want LEDGER_INCONSISTENT", err)
	}
	// Nothing may be persisted on the failure path.
	ticket := be.get("T1")
	if ticket.Assignee != "alice" || ticket.Description != "manual note" {
		t.Errorf("failed transfer persisted changes: assignee=%q description=%q",
			ticket.Assignee, ticket.Description)
	}
}

func TestHangupWithoutTicketIsTrackingLost(t *testing.T) {
	be := newFakeBackend()
	svc, _ := newTestService(be, nil)

	outcome, err := svc.Process(context.Background(), domain.CallEvent{
		Kind: domain.CallEventHangup, CallID: "C404",
	})
	if outcome != OutcomeSkipped {
		t.Errorf("outcome = %s, want skipped", outcome)
	}
	var domainErr *apperrors.DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "TRACKING_LOST" {
		t.Fatalf("err = %v, want TRACKING_LOST", err)
	}
}

func TestHangupWithoutLedgerLineStillRemovesID(t *testing.T) {
	be := newFakeBackend()
	be.put(&domain.Ticket{
		ID: "T1", ProjectID: "support", Title: "+491234",
		Status: domain.TicketStatusInProgress, TrackingCallIDs: "C1, C2, ",
	})
	svc, _ := newTestService(be, nil)

	mustProcess(t, svc, domain.CallEvent{Kind: domain.CallEventHangup, CallID: "C1"})
	ticket := be.get("T1")
	if ticket.TrackingCallIDs != "C2, " {
		t.Errorf("tracking = %q, want %q", ticket.TrackingCallIDs, "C2, ")
	}
	if ticket.CallEndTimestamp == "" {
		t.Error("hangup did not stamp the end time")
	}
}

func TestHangupUnparsableStartUsesDefaultDuration(t *testing.T) {
	be := newFakeBackend()
	be.put(&domain.Ticket{
		ID: "T1", ProjectID: "support", Title: "+491234",
		Status: domain.TicketStatusInProgress, TrackingCallIDs: "C1, ",
		Description: "alice: Call start: not-a-timestamp (C1)",
	})
	svc, _ := newTestService(be, nil)

	mustProcess(t, svc, domain.CallEvent{Kind: domain.CallEventHangup, CallID: "C1"})
	ticket := be.get("T1")
	if !strings.Contains(ticket.Description, `"Duration: 15min"`) {
		t.Errorf("description = %q, want default 15min duration", ticket.Description)
	}
	if strings.Contains(ticket.Description, "(C1)") {
		t.Errorf("completed line still carries the call id: %q", ticket.Description)
	}
}

func TestHangupPreservesForeignDescriptionLines(t *testing.T) {
	be := newFakeBackend()
	be.put(&domain.Ticket{
		ID: "T1", ProjectID: "support", Title: "+491234",
		Status: domain.TicketStatusInProgress, TrackingCallIDs: "C1, ",
		Description: "customer reported a billing issue\nalice: Call start: 2026-08-26 09:50:00 (C1)",
	})
	svc, clk := newTestService(be, nil)
	clk.now = time.Date(2026, 8, 26, 10, 2, 0, 0, time.Local)

	mustProcess(t, svc, domain.CallEvent{Kind: domain.CallEventHangup, CallID: "C1"})
	ticket := be.get("T1")
	want := "customer reported a billing issue\n" +
		`alice: Call start: 2026-08-26 09:50:00 Call End: 2026-08-26 10:02:00 "Duration: 12min"`
	if ticket.Description != want {
		t.Errorf("description = %q, want %q", ticket.Description, want)
	}
}

func TestUnknownEventKindFailsValidation(t *testing.T) {
	be := newFakeBackend()
	svc, _ := newTestService(be, nil)

	_, err := svc.Process(context.Background(), domain.CallEvent{Kind: "Coffee Break", CallID: "C1"})
	var domainErr *apperrors.DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "VALIDATION_FAILED" {
		t.Fatalf("err = %v, want VALIDATION_FAILED", err)
	}
}

func TestUserVerificationSkipsAcceptFromForeignExtension(t *testing.T) {
	be := newFakeBackend("alice")
	be.put(&domain.Ticket{
		ID: "T1", ProjectID: "support", Title: "+491234",
		Status: domain.TicketStatusNew, TrackingCallIDs: "C1, ",
	})
	svc, _ := newTestService(be, nil)

	outcome := mustProcess(t, svc, domain.CallEvent{
		Kind: domain.CallEventAccepted, CallID: "C1", AgentUser: "intruder",
	})
	if outcome != OutcomeSkipped {
		t.Errorf("outcome = %s, want skipped", outcome)
	}
	if got := be.get("T1").Status; got != domain.TicketStatusNew {
		t.Errorf("status = %s, unverified accept must not mutate", got)
	}
}
