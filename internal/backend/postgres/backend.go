// Package postgres implements the ticket backend on a Postgres schema owned
// by this service. It is the default backend for deployments without an
// external ticket system; optimistic concurrency uses a lock_version column
// checked on every save.
package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/spec-kit/callbridge/internal/backend"
	"github.com/spec-kit/callbridge/internal/calltrack"
	"github.com/spec-kit/callbridge/internal/config"
	"github.com/spec-kit/callbridge/internal/domain"
	"github.com/spec-kit/callbridge/internal/persistence"
)

func init() {
	backend.Register("postgres", func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (backend.TicketBackend, error) {
		pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			return nil, err
		}
		if cfg.Postgres.RunMigrations {
			if err := runMigrations(ctx, pg.Pool, logger); err != nil {
				pg.Close()
				return nil, err
			}
		}
		return New(pg, cfg.Call, logger), nil
	})
}

// Backend is the Postgres TicketBackend.
type Backend struct {
	pg     *persistence.Postgres
	cfg    config.CallConfig
	logger *zap.Logger
}

// New wraps an established pool.
func New(pg *persistence.Postgres, cfg config.CallConfig, logger *zap.Logger) *Backend {
	return &Backend{pg: pg, cfg: cfg, logger: logger}
}

const ticketColumns = `id, project_id, title, assignee, status, tracking_call_ids, description,
               call_start_ts, call_end_ts, caller_number, dialed_number, lock_version, created_at, updated_at`

func (b *Backend) pool() *pgxpool.Pool { return b.pg.Pool }

// GetTicketByCallID matches the call id as an exact token of the tracking set.
// Candidates come back via substring match; token equality is decided here
// because SQL LIKE cannot express the codec's trimming rules.
func (b *Backend) GetTicketByCallID(ctx context.Context, id string) (*domain.Ticket, error) {
	tickets, err := b.candidatesContaining(ctx, id)
	if err != nil {
		return nil, err
	}
	for i := range tickets {
		for _, token := range calltrack.SplitCallIDs(tickets[i].TrackingCallIDs) {
			if token == id {
				return &tickets[i], nil
			}
		}
	}
	return nil, nil
}

// GetTicketByCallIDContains matches by substring, mirroring the historical
// containment semantics.
func (b *Backend) GetTicketByCallIDContains(ctx context.Context, id string) (*domain.Ticket, error) {
	tickets, err := b.candidatesContaining(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(tickets) == 0 {
		return nil, nil
	}
	return &tickets[0], nil
}

func (b *Backend) candidatesContaining(ctx context.Context, id string) ([]domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + `
        FROM call_tickets
        WHERE tracking_call_ids LIKE '%' || $1 || '%'
        ORDER BY updated_at DESC`
	rows, err := b.pool().Query(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

// LatestOpenCallTicketInProject returns the newest NEW/IN_PROGRESS ticket in
// the project.
func (b *Backend) LatestOpenCallTicketInProject(ctx context.Context, projectID string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + `
        FROM call_tickets
        WHERE project_id=$1 AND status IN ($2, $3)
        ORDER BY updated_at DESC LIMIT 1`
	return b.fetchSingle(ctx, query, projectID, domain.TicketStatusNew, domain.TicketStatusInProgress)
}

// LatestOpenTicketByTitle returns the newest open ticket in the project with
// the exact title.
func (b *Backend) LatestOpenTicketByTitle(ctx context.Context, projectID, title string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + `
        FROM call_tickets
        WHERE project_id=$1 AND title=$2 AND status IN ($3, $4)
        ORDER BY updated_at DESC LIMIT 1`
	return b.fetchSingle(ctx, query, projectID, title, domain.TicketStatusNew, domain.TicketStatusInProgress)
}

// CreateTicket inserts a new ticket tracking exactly the call's id.
func (b *Backend) CreateTicket(ctx context.Context, caller *domain.CallerInfo, call domain.CallEvent) (*domain.Ticket, error) {
	projectID := b.cfg.DefaultProjectID
	if caller != nil && len(caller.ProjectIDs) > 0 && caller.ProjectIDs[0] != "" {
		projectID = caller.ProjectIDs[0]
	}

	ticket := &domain.Ticket{
		ID:              uuid.NewString(),
		ProjectID:       projectID,
		Title:           backend.TitleFor(caller, call, b.cfg.UnknownTitlePrefix),
		Status:          domain.TicketStatusNew,
		TrackingCallIDs: calltrack.AddCallID("", call.CallID),
		CallerNumber:    call.CallerNumber,
		DialedNumber:    call.DialedNumber,
		Assignee:        call.AgentUser,
	}

	const query = `
        INSERT INTO call_tickets (id, project_id, title, assignee, status, tracking_call_ids,
            description, call_start_ts, call_end_ts, caller_number, dialed_number)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
        RETURNING lock_version, created_at, updated_at`
	err := b.pool().QueryRow(ctx, query,
		ticket.ID,
		ticket.ProjectID,
		ticket.Title,
		ticket.Assignee,
		ticket.Status,
		ticket.TrackingCallIDs,
		ticket.Description,
		ticket.CallStartTimestamp,
		ticket.CallEndTimestamp,
		ticket.CallerNumber,
		ticket.DialedNumber,
	).Scan(&ticket.LockVersion, &ticket.CreatedAt, &ticket.UpdatedAt)
	if err != nil {
		return nil, err
	}
	b.logger.Info("created call ticket",
		zap.String("ticket_id", ticket.ID),
		zap.String("project_id", ticket.ProjectID),
		zap.String("call_id", call.CallID))
	return ticket, nil
}

// Save writes the ticket back, bumping lock_version. A vanished row or a
// version mismatch both surface as ErrStaleTicket.
func (b *Backend) Save(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        UPDATE call_tickets SET project_id=$1, title=$2, assignee=$3, status=$4,
            tracking_call_ids=$5, description=$6, call_start_ts=$7, call_end_ts=$8,
            lock_version=lock_version+1, updated_at=NOW()
        WHERE id=$9 AND lock_version=$10`
	cmd, err := b.pool().Exec(ctx, query,
		ticket.ProjectID,
		ticket.Title,
		ticket.Assignee,
		ticket.Status,
		ticket.TrackingCallIDs,
		ticket.Description,
		ticket.CallStartTimestamp,
		ticket.CallEndTimestamp,
		ticket.ID,
		ticket.LockVersion,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return backend.ErrStaleTicket
	}
	ticket.LockVersion++
	return nil
}

// UserExists checks the call_agents table.
func (b *Backend) UserExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := b.pool().QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM call_agents WHERE username=$1)`, name,
	).Scan(&exists)
	return exists, err
}

// Ping verifies connectivity.
func (b *Backend) Ping(ctx context.Context) error {
	return b.pg.Ping(ctx)
}

// Close releases the pool.
func (b *Backend) Close() {
	b.pg.Close()
}

func (b *Backend) fetchSingle(ctx context.Context, query string, args ...any) (*domain.Ticket, error) {
	var ticket domain.Ticket
	err := b.pool().QueryRow(ctx, query, args...).Scan(scanTargets(&ticket)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

func scanTargets(t *domain.Ticket) []any {
	return []any{
		&t.ID,
		&t.ProjectID,
		&t.Title,
		&t.Assignee,
		&t.Status,
		&t.TrackingCallIDs,
		&t.Description,
		&t.CallStartTimestamp,
		&t.CallEndTimestamp,
		&t.CallerNumber,
		&t.DialedNumber,
		&t.LockVersion,
		&t.CreatedAt,
		&t.UpdatedAt,
	}
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	var result []domain.Ticket
	for rows.Next() {
		var ticket domain.Ticket
		if err := rows.Scan(scanTargets(&ticket)...); err != nil {
			return nil, err
		}
		result = append(result, ticket)
	}
	return result, rows.Err()
}
