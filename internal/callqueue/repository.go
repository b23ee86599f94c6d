package callqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists outbound call tasks.
type Repository struct {
	pool querier
}

// NewRepository creates a repository backed by pgx.
func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("callqueue: pgx pool required")
	}
	return &Repository{pool: pool}
}

func newRepositoryWithQuerier(q querier) *Repository {
	if q == nil {
		panic("callqueue: querier required")
	}
	return &Repository{pool: q}
}

// UpsertTask queues a call, or rewrites the existing row for the same
// calendar event. Last writer wins: a cancellation arriving after a
// confirmation replaces it.
func (r *Repository) UpsertTask(ctx context.Context, t *Task) (*Task, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Status == "" {
		t.Status = TaskPending
	}
	query := `
		INSERT INTO outbound_call_queue (
			id, user_id, calendar_integration_id, calendar_event_id,
			event_start_time, event_end_time, event_summary,
			customer_name, customer_phone, call_type, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (calendar_event_id) DO UPDATE SET
			event_start_time = EXCLUDED.event_start_time,
			event_end_time = EXCLUDED.event_end_time,
			event_summary = EXCLUDED.event_summary,
			customer_name = EXCLUDED.customer_name,
			customer_phone = EXCLUDED.customer_phone,
			call_type = EXCLUDED.call_type,
			status = EXCLUDED.status,
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`
	err := r.pool.QueryRow(ctx, query,
		t.ID, t.UserID, t.IntegrationID, t.CalendarEventID,
		t.EventStart, t.EventEnd, t.EventSummary,
		t.CustomerName, t.CustomerPhone, t.CallType, t.Status,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("callqueue: upsert task: %w", err)
	}
	return t, nil
}

// SkipPendingConfirmation marks any pending confirm_appointment task for
// the event skipped. Called when a cancellation supersedes it.
func (r *Repository) SkipPendingConfirmation(ctx context.Context, calendarEventID string) (bool, error) {
	ct, err := r.pool.Exec(ctx, `
		UPDATE outbound_call_queue
		SET status = 'skipped', updated_at = NOW()
		WHERE calendar_event_id = $1 AND call_type = 'confirm_appointment' AND status = 'pending'`,
		calendarEventID)
	if err != nil {
		return false, fmt.Errorf("callqueue: skip confirmation: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// UpdateEventInPlace rewrites a pending task for a rescheduled event with
// the new event id and times, instead of queuing a duplicate call.
func (r *Repository) UpdateEventInPlace(ctx context.Context, oldEventID, newEventID string, newStart time.Time, newEnd *time.Time) (bool, error) {
	ct, err := r.pool.Exec(ctx, `
		UPDATE outbound_call_queue
		SET calendar_event_id = $2, event_start_time = $3, event_end_time = $4, updated_at = NOW()
		WHERE calendar_event_id = $1 AND status = 'pending'`,
		oldEventID, newEventID, newStart, newEnd)
	if err != nil {
		return false, fmt.Errorf("callqueue: update event in place: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// FindPendingByPhone locates the user's pending task for a customer,
// used to correlate reschedules that do not carry the old event id.
func (r *Repository) FindPendingByPhone(ctx context.Context, userID uuid.UUID, phone string) (*Task, error) {
	query := taskSelect + ` WHERE user_id = $1 AND customer_phone = $2 AND status = 'pending'
		ORDER BY event_start_time LIMIT 1`
	return scanTask(r.pool.QueryRow(ctx, query, userID, phone))
}

// Pending lists queued calls for the dialer, soonest appointment first.
func (r *Repository) Pending(ctx context.Context, userID uuid.UUID, limit int) ([]*Task, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, taskSelect+`
		WHERE user_id = $1 AND status = 'pending'
		ORDER BY event_start_time
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("callqueue: list pending: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("callqueue: list pending: %w", err)
	}
	return tasks, nil
}

// MarkStatus moves a task to a new dialer status.
func (r *Repository) MarkStatus(ctx context.Context, id uuid.UUID, status TaskStatus) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE outbound_call_queue SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("callqueue: mark status: %w", err)
	}
	return nil
}

const taskSelect = `
	SELECT id, user_id, calendar_integration_id, calendar_event_id,
	       event_start_time, event_end_time, event_summary,
	       customer_name, customer_phone, call_type, status,
	       created_at, updated_at
	FROM outbound_call_queue`

func scanTask(row pgx.Row) (*Task, error) {
	var t Task
	err := row.Scan(
		&t.ID, &t.UserID, &t.IntegrationID, &t.CalendarEventID,
		&t.EventStart, &t.EventEnd, &t.EventSummary,
		&t.CustomerName, &t.CustomerPhone, &t.CallType, &t.Status,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("callqueue: scan task: %w", err)
	}
	return &t, nil
}

// ErrTaskNotFound is returned when no task matches the lookup.
var ErrTaskNotFound = errors.New("callqueue: task not found")
