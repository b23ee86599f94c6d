package webhooks

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ProcessedStore records provider deliveries that were already handled,
// so redeliveries collapse into a no-op.
type ProcessedStore struct {
	pool execer
}

func NewProcessedStore(pool *pgxpool.Pool) *ProcessedStore {
	if pool == nil {
		panic("webhooks: pgx pool required")
	}
	return &ProcessedStore{pool: pool}
}

func newProcessedStoreWithExec(exec execer) *ProcessedStore {
	if exec == nil {
		panic("webhooks: exec required")
	}
	return &ProcessedStore{pool: exec}
}

// Claim inserts the delivery id for the provider, returning false when a
// previous delivery already claimed it.
func (s *ProcessedStore) Claim(ctx context.Context, provider, deliveryID string) (bool, error) {
	query := `
		INSERT INTO processed_webhook_events (provider, delivery_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	ct, err := s.pool.Exec(ctx, query, provider, deliveryID)
	if err != nil {
		return false, fmt.Errorf("webhooks: claim delivery: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// Release drops a claim after processing failed, so the provider's
// redelivery is not mistaken for a duplicate.
func (s *ProcessedStore) Release(ctx context.Context, provider, deliveryID string) error {
	query := `
		DELETE FROM processed_webhook_events
		WHERE provider = $1 AND delivery_id = $2
	`
	if _, err := s.pool.Exec(ctx, query, provider, deliveryID); err != nil {
		return fmt.Errorf("webhooks: release delivery: %w", err)
	}
	return nil
}
