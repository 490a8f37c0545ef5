package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/callbridge/internal/backend"
	"github.com/spec-kit/callbridge/internal/calltrack"
	"github.com/spec-kit/callbridge/internal/config"
	"github.com/spec-kit/callbridge/internal/directory"
	"github.com/spec-kit/callbridge/internal/domain"
	"github.com/spec-kit/callbridge/internal/events"
	"github.com/spec-kit/callbridge/internal/observability"
	apperrors "github.com/spec-kit/callbridge/pkg/util"
)

// Outcome is the engine's per-event result code, consumed by the transport.
type Outcome int

const (
	// OutcomeOK means the event was fully applied.
	OutcomeOK Outcome = 0
	// OutcomeSkipped covers the non-critical cases: unknown agent user, or a
	// missing ticket on accept/transfer. The webhook is still acknowledged.
	OutcomeSkipped Outcome = 1
)

func (o Outcome) String() string {
	if o == OutcomeOK {
		return "ok"
	}
	return "skipped"
}

// CallService is the call-event router: it interprets ring, accept, transfer
// and hangup webhooks for a shared call id and maintains the ticket's
// tracking set and call ledger through the backend collaborator. Each event
// is one short-lived invocation; all cross-event state lives in the backend.
type CallService struct {
	backend    backend.TicketBackend
	directory  directory.Directory
	dispatcher events.Dispatcher
	logger     *zap.Logger
	metrics    *observability.Metrics
	cfg        config.CallConfig

	// clock is swappable for tests.
	clock func() time.Time
}

// CallDependencies bundles collaborators for the call service.
type CallDependencies struct {
	Backend    backend.TicketBackend
	Directory  directory.Directory
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
	Metrics    *observability.Metrics
}

// NewCallService constructs the service.
func NewCallService(cfg config.CallConfig, deps CallDependencies) *CallService {
	dir := deps.Directory
	if dir == nil {
		dir = directory.Noop()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CallService{
		backend:    deps.Backend,
		directory:  dir,
		dispatcher: deps.Dispatcher,
		logger:     logger,
		metrics:    deps.Metrics,
		cfg:        cfg,
		clock:      time.Now,
	}
}

// Process dispatches one call event to its handler and records the outcome.
func (s *CallService) Process(ctx context.Context, call domain.CallEvent) (Outcome, error) {
	s.logger.Info("processing call event",
		zap.String("event", string(call.Kind)),
		zap.String("call_id", call.CallID),
		zap.String("caller", call.CallerNumber),
		zap.String("user", call.AgentUser))

	var (
		outcome Outcome
		err     error
	)
	switch {
	case call.Kind.IsRing():
		outcome, err = s.handleRing(ctx, call)
	case call.Kind == domain.CallEventAccepted:
		outcome, err = s.handleAccepted(ctx, call)
	case call.Kind == domain.CallEventTransfer:
		outcome, err = s.handleTransfer(ctx, call)
	case call.Kind == domain.CallEventHangup:
		outcome, err = s.handleHangup(ctx, call)
	default:
		return OutcomeSkipped, apperrors.NewValidationError("unknown call event", map[string]any{"event": string(call.Kind)})
	}

	result := outcome.String()
	if err != nil {
		result = "error"
	}
	s.metrics.RecordCallEvent(string(call.Kind), result)
	return outcome, err
}

// handleRing resolves or creates the ticket for a starting call. An unknown
// agent user skips the event entirely so foreign extensions and test accounts
// never produce tickets.
func (s *CallService) handleRing(ctx context.Context, call domain.CallEvent) (Outcome, error) {
	if outcome, err := s.verifyUser(ctx, call); outcome != OutcomeOK || err != nil {
		return outcome, err
	}

	caller, err := s.directory.Lookup(ctx, call.CallerNumber)
	if err != nil {
		// The call still needs a ticket; an unreachable directory only costs
		// caller identification.
		s.logger.Warn("directory lookup failed", zap.String("number", call.CallerNumber), zap.Error(err))
		caller = nil
	}

	ticket, created, err := s.resolveTicket(ctx, caller, call)
	if err != nil {
		return OutcomeSkipped, err
	}

	if call.AgentUser != "" {
		ticket.Assignee = call.AgentUser
		if domain.CanEnterInProgress(ticket.Status) {
			ticket.Status = domain.TicketStatusInProgress
		}
	}

	if err := s.backend.Save(ctx, ticket); err != nil {
		return OutcomeSkipped, err
	}

	if created {
		s.publish(ctx, events.Event{
			Type:     events.EventCallTicketCreated,
			TicketID: ticket.ID,
			CallID:   call.CallID,
			Payload: events.TicketCreatedPayload{
				ProjectID:    ticket.ProjectID,
				Title:        ticket.Title,
				CallerNumber: call.CallerNumber,
				KnownContact: caller != nil && len(caller.ProjectIDs) > 0,
			},
		})
	}
	s.publish(ctx, events.Event{Type: events.EventCallRinging, TicketID: ticket.ID, CallID: call.CallID})

	s.logger.Info("ring handled",
		zap.String("ticket_id", ticket.ID),
		zap.String("call_id", call.CallID),
		zap.Bool("created", created))
	return OutcomeOK, nil
}

// handleAccepted moves the ticket to in progress, stamps the first-call start
// time and opens the ledger line for this call. Retried deliveries are
// absorbed by the ledger's duplicate check.
func (s *CallService) handleAccepted(ctx context.Context, call domain.CallEvent) (Outcome, error) {
	if outcome, err := s.verifyUser(ctx, call); outcome != OutcomeOK || err != nil {
		return outcome, err
	}

	ticket, err := s.backend.GetTicketByCallID(ctx, call.CallID)
	if err != nil {
		return OutcomeSkipped, err
	}
	if ticket == nil {
		// The ring should have created it. Non-critical: log and move on.
		s.logger.Error("no ticket for accepted call", zap.String("call_id", call.CallID))
		return OutcomeSkipped, nil
	}

	user := call.AgentUser
	if user == "" {
		user = ticket.Assignee
	}

	if domain.CanEnterInProgress(ticket.Status) {
		ticket.Status = domain.TicketStatusInProgress
	} else {
		s.logger.Error("refusing to reopen closed ticket",
			zap.String("ticket_id", ticket.ID),
			zap.String("call_id", call.CallID))
	}

	now := calltrack.FormatTimestamp(s.clock())
	if ticket.CallStartTimestamp == "" {
		ticket.CallStartTimestamp = now
	}

	if user != "" {
		ticket.Assignee = user
		ledger := calltrack.Decode(ticket.Description)
		if ledger.IsRecorded(user, call.CallID) {
			s.logger.Info("call already recorded, skipping duplicate line",
				zap.String("call_id", call.CallID),
				zap.String("user", user))
		} else {
			ledger.AppendOpen(user, now, call.CallID)
			ticket.Description = ledger.Encode()
		}
	}

	if err := s.backend.Save(ctx, ticket); err != nil {
		return OutcomeSkipped, err
	}

	s.publish(ctx, events.Event{
		Type:     events.EventCallAccepted,
		TicketID: ticket.ID,
		CallID:   call.CallID,
		Payload:  events.CallAcceptedPayload{User: user, Start: now},
	})
	return OutcomeOK, nil
}

// handleTransfer reassigns the ticket and rewrites the call's ledger line to
// the new user, keeping the original start timestamp. A missing line is a
// state inconsistency and fails the event without persisting.
func (s *CallService) handleTransfer(ctx context.Context, call domain.CallEvent) (Outcome, error) {
	ticket, err := s.backend.GetTicketByCallIDContains(ctx, call.CallID)
	if err != nil {
		return OutcomeSkipped, err
	}
	if ticket == nil {
		s.logger.Error("no ticket for transfer", zap.String("call_id", call.CallID))
		return OutcomeSkipped, nil
	}

	if domain.CanEnterInProgress(ticket.Status) {
		ticket.Status = domain.TicketStatusInProgress
	} else {
		s.logger.Error("refusing to reopen closed ticket",
			zap.String("ticket_id", ticket.ID),
			zap.String("call_id", call.CallID))
	}

	if call.AgentUser != "" {
		ticket.Assignee = call.AgentUser
	}

	ledger := calltrack.Decode(ticket.Description)
	if err := ledger.RenameUser(call.CallID, call.AgentUser); err != nil {
		s.logger.Error("ledger line missing on transfer",
			zap.String("ticket_id", ticket.ID),
			zap.String("call_id", call.CallID))
		return OutcomeSkipped, apperrors.NewLedgerInconsistent(call.CallID)
	}
	ticket.Description = ledger.Encode()

	if err := s.backend.Save(ctx, ticket); err != nil {
		return OutcomeSkipped, err
	}

	s.publish(ctx, events.Event{
		Type:     events.EventCallTransferred,
		TicketID: ticket.ID,
		CallID:   call.CallID,
		Payload:  events.CallTransferredPayload{NewUser: call.AgentUser},
	})
	return OutcomeOK, nil
}

// handleHangup finalizes the call: stamps the end time, completes the ledger
// line with the computed duration, and removes the call id from the tracking
// set. A missing ticket here means the bookkeeping is already lost, which is
// escalated instead of swallowed.
func (s *CallService) handleHangup(ctx context.Context, call domain.CallEvent) (Outcome, error) {
	ticket, err := s.backend.GetTicketByCallIDContains(ctx, call.CallID)
	if err != nil {
		return OutcomeSkipped, err
	}
	if ticket == nil {
		return OutcomeSkipped, apperrors.NewTrackingLost(call.CallID)
	}

	end := calltrack.FormatTimestamp(s.clock())
	ticket.CallEndTimestamp = end

	duration := s.cfg.DefaultDurationMinutes
	ledger := calltrack.Decode(ticket.Description)
	if record := ledger.FindOpen(call.CallID); record != nil {
		if minutes, err := calltrack.Minutes(record.Start, end); err != nil {
			s.logger.Error("duration computation failed, using default",
				zap.String("call_id", call.CallID),
				zap.Int("default_minutes", duration),
				zap.Error(err))
		} else {
			duration = minutes
		}
		ledger.Complete(call.CallID, end, duration)
		ticket.Description = ledger.Encode()
	} else {
		s.logger.Info("no ledger line for hangup, removing tracking id only",
			zap.String("ticket_id", ticket.ID),
			zap.String("call_id", call.CallID))
	}

	// The tracking id goes away whether or not a ledger line was found.
	ticket.TrackingCallIDs = calltrack.RemoveCallID(ticket.TrackingCallIDs, call.CallID)

	if err := s.backend.Save(ctx, ticket); err != nil {
		return OutcomeSkipped, err
	}

	s.publish(ctx, events.Event{
		Type:     events.EventCallCompleted,
		TicketID: ticket.ID,
		CallID:   call.CallID,
		Payload:  events.CallCompletedPayload{End: end, DurationMinutes: duration},
	})
	s.logger.Info("hangup handled",
		zap.String("ticket_id", ticket.ID),
		zap.String("call_id", call.CallID),
		zap.Int("duration_minutes", duration))
	return OutcomeOK, nil
}

// verifyUser checks the agent user against the backend when present. Unknown
// users skip the event without any ticket mutation.
func (s *CallService) verifyUser(ctx context.Context, call domain.CallEvent) (Outcome, error) {
	if call.AgentUser == "" {
		return OutcomeOK, nil
	}
	exists, err := s.backend.UserExists(ctx, call.AgentUser)
	if err != nil {
		return OutcomeSkipped, err
	}
	if !exists {
		s.logger.Info("unknown agent user, skipping event",
			zap.String("user", call.AgentUser),
			zap.String("call_id", call.CallID))
		s.publish(ctx, events.Event{
			Type:   events.EventCallSkipped,
			CallID: call.CallID,
			Payload: events.CallSkippedPayload{
				Kind:   call.Kind,
				Reason: "unknown user " + call.AgentUser,
			},
		})
		return OutcomeSkipped, nil
	}
	return OutcomeOK, nil
}

func (s *CallService) publish(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.clock()
	}
	_ = s.dispatcher.Publish(ctx, event)
}
