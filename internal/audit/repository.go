// Package audit persists calendar hand-off lifecycle events to Postgres.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/advisor-booking/internal/handoff"
	"github.com/wolfman30/advisor-booking/pkg/logging"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Repository writes handoff_events rows.
type Repository struct {
	db querier
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("audit: pgx pool required")
	}
	return &Repository{db: pool}
}

func newRepositoryWithQuerier(db querier) *Repository {
	if db == nil {
		panic("audit: querier required")
	}
	return &Repository{db: db}
}

// Record inserts one event.
func (r *Repository) Record(ctx context.Context, ev handoff.Event) error {
	query := `
		INSERT INTO handoff_events (id, session_id, subject, appointment_id, provider_state, kind, detail, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	var appointmentID *int64
	if ev.AppointmentID != 0 {
		id := ev.AppointmentID
		appointmentID = &id
	}
	occurredAt := ev.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	if _, err := r.db.Exec(ctx, query,
		uuid.New(), ev.SessionID, ev.Subject, appointmentID, ev.ProviderState, string(ev.Kind), ev.Detail, occurredAt,
	); err != nil {
		return fmt.Errorf("audit: insert handoff event: %w", err)
	}
	return nil
}

// LogRecorder records events to the structured log. It is used when no
// database is configured.
type LogRecorder struct {
	logger *logging.Logger
}

func NewLogRecorder(logger *logging.Logger) *LogRecorder {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogRecorder{logger: logger.Component("audit")}
}

func (r *LogRecorder) Record(_ context.Context, ev handoff.Event) error {
	r.logger.Info("handoff event",
		"kind", string(ev.Kind),
		"session_id", ev.SessionID,
		"appointment_id", ev.AppointmentID,
		"detail", ev.Detail,
	)
	return nil
}
