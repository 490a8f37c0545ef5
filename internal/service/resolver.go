package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/callbridge/internal/calltrack"
	"github.com/spec-kit/callbridge/internal/domain"
)

// resolveTicket finds or creates the ticket a ringing call belongs to. Repeat
// and concurrent calls from the same contact consolidate into the existing
// open ticket instead of spawning duplicates; created reports whether a new
// ticket was made.
func (s *CallService) resolveTicket(ctx context.Context, caller *domain.CallerInfo, call domain.CallEvent) (ticket *domain.Ticket, created bool, err error) {
	if caller != nil && len(caller.ProjectIDs) > 0 {
		return s.resolveKnownContact(ctx, caller, call)
	}
	return s.resolveUnknownNumber(ctx, caller, call)
}

// resolveKnownContact searches the contact's projects in order for an open
// call ticket; the first hit gets the new call id appended. Otherwise a fresh
// ticket is created in the first project, titled "company - name".
func (s *CallService) resolveKnownContact(ctx context.Context, caller *domain.CallerInfo, call domain.CallEvent) (*domain.Ticket, bool, error) {
	for _, projectID := range caller.ProjectIDs {
		ticket, err := s.backend.LatestOpenCallTicketInProject(ctx, projectID)
		if err != nil {
			return nil, false, err
		}
		if ticket != nil {
			ticket.TrackingCallIDs = calltrack.AddCallID(ticket.TrackingCallIDs, call.CallID)
			s.logger.Info("joining open ticket for known contact",
				zap.String("ticket_id", ticket.ID),
				zap.String("project_id", projectID),
				zap.String("call_id", call.CallID))
			return ticket, false, nil
		}
	}

	ticket, err := s.backend.CreateTicket(ctx, caller, call)
	if err != nil {
		return nil, false, err
	}
	if title := caller.DisplayTitle(); title != "" {
		ticket.Title = title
	}
	return ticket, true, nil
}

// resolveUnknownNumber searches the default project, first by the partial
// contact name the directory may have returned, then by the raw caller
// number. Misses create a ticket in the default project.
func (s *CallService) resolveUnknownNumber(ctx context.Context, caller *domain.CallerInfo, call domain.CallEvent) (*domain.Ticket, bool, error) {
	var ticket *domain.Ticket
	var err error

	if caller != nil && caller.Name != "" {
		ticket, err = s.backend.LatestOpenTicketByTitle(ctx, s.cfg.DefaultProjectID, caller.Name)
		if err != nil {
			return nil, false, err
		}
	}
	if ticket == nil {
		ticket, err = s.backend.LatestOpenTicketByTitle(ctx, s.cfg.DefaultProjectID, call.CallerNumber)
		if err != nil {
			return nil, false, err
		}
	}

	if ticket != nil {
		ticket.TrackingCallIDs = calltrack.AddCallID(ticket.TrackingCallIDs, call.CallID)
		s.logger.Info("joining open ticket for unknown number",
			zap.String("ticket_id", ticket.ID),
			zap.String("call_id", call.CallID))
		return ticket, false, nil
	}

	ticket, err = s.backend.CreateTicket(ctx, caller, call)
	if err != nil {
		return nil, false, err
	}
	if caller != nil {
		if title := caller.DisplayTitle(); title != "" {
			ticket.Title = title
		}
	}
	return ticket, true, nil
}
