package integrations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/calendar-ai-platform/internal/providers"
)

// ErrNotFound is returned when no integration matches the lookup.
var ErrNotFound = errors.New("integrations: not found")

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists integration rows.
type Repository struct {
	pool querier
}

// NewRepository creates a repository backed by pgx.
func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("integrations: pgx pool required")
	}
	return &Repository{pool: pool}
}

func newRepositoryWithQuerier(q querier) *Repository {
	if q == nil {
		panic("integrations: querier required")
	}
	return &Repository{pool: q}
}

const integrationColumns = `
	id, user_id, provider, account_email, encrypted_credentials,
	status, status_message, has_refresh_token,
	google_calendar_id, google_watch_channel_id, google_watch_resource_id,
	google_watch_expiration, last_sync_token,
	acuity_webhook_id, acuity_calendar_id,
	calendly_webhook_id, square_merchant_id,
	last_synced_at, last_webhook_at, created_at, updated_at`

func scanIntegration(row pgx.Row) (*Integration, error) {
	var in Integration
	err := row.Scan(
		&in.ID, &in.UserID, &in.Provider, &in.AccountEmail, &in.EncryptedCredentials,
		&in.Status, &in.StatusMessage, &in.HasRefreshToken,
		&in.GoogleCalendarID, &in.GoogleWatchChannelID, &in.GoogleWatchResourceID,
		&in.GoogleWatchExpiration, &in.LastSyncToken,
		&in.AcuityWebhookID, &in.AcuityCalendarID,
		&in.CalendlyWebhookID, &in.SquareMerchantID,
		&in.LastSyncedAt, &in.LastWebhookAt, &in.CreatedAt, &in.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("integrations: scan row: %w", err)
	}
	return &in, nil
}

// Upsert inserts the integration or, when the user already has one,
// replaces it wholesale. Provider-specific columns of the previous
// provider are cleared because the new row's values win.
func (r *Repository) Upsert(ctx context.Context, in *Integration) (*Integration, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	query := `
		INSERT INTO calendar_integrations (
			id, user_id, provider, account_email, encrypted_credentials,
			status, status_message, has_refresh_token,
			google_calendar_id, google_watch_channel_id, google_watch_resource_id,
			google_watch_expiration, last_sync_token,
			acuity_webhook_id, acuity_calendar_id,
			calendly_webhook_id, square_merchant_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (user_id) DO UPDATE SET
			provider = EXCLUDED.provider,
			account_email = EXCLUDED.account_email,
			encrypted_credentials = EXCLUDED.encrypted_credentials,
			status = EXCLUDED.status,
			status_message = EXCLUDED.status_message,
			has_refresh_token = EXCLUDED.has_refresh_token,
			google_calendar_id = EXCLUDED.google_calendar_id,
			google_watch_channel_id = EXCLUDED.google_watch_channel_id,
			google_watch_resource_id = EXCLUDED.google_watch_resource_id,
			google_watch_expiration = EXCLUDED.google_watch_expiration,
			last_sync_token = EXCLUDED.last_sync_token,
			acuity_webhook_id = EXCLUDED.acuity_webhook_id,
			acuity_calendar_id = EXCLUDED.acuity_calendar_id,
			calendly_webhook_id = EXCLUDED.calendly_webhook_id,
			square_merchant_id = EXCLUDED.square_merchant_id,
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`
	err := r.pool.QueryRow(ctx, query,
		in.ID, in.UserID, in.Provider, in.AccountEmail, in.EncryptedCredentials,
		in.Status, in.StatusMessage, in.HasRefreshToken,
		in.GoogleCalendarID, in.GoogleWatchChannelID, in.GoogleWatchResourceID,
		in.GoogleWatchExpiration, in.LastSyncToken,
		in.AcuityWebhookID, in.AcuityCalendarID,
		in.CalendlyWebhookID, in.SquareMerchantID,
	).Scan(&in.ID, &in.CreatedAt, &in.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("integrations: upsert: %w", err)
	}
	return in, nil
}

// GetByUserID fetches the user's integration.
func (r *Repository) GetByUserID(ctx context.Context, userID uuid.UUID) (*Integration, error) {
	query := `SELECT` + integrationColumns + ` FROM calendar_integrations WHERE user_id = $1`
	return scanIntegration(r.pool.QueryRow(ctx, query, userID))
}

// GetByID fetches an integration by row id.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Integration, error) {
	query := `SELECT` + integrationColumns + ` FROM calendar_integrations WHERE id = $1`
	return scanIntegration(r.pool.QueryRow(ctx, query, id))
}

// FindByGoogleChannel correlates a Google push notification by the channel
// and resource ids it carries.
func (r *Repository) FindByGoogleChannel(ctx context.Context, channelID, resourceID string) (*Integration, error) {
	query := `SELECT` + integrationColumns + `
		FROM calendar_integrations
		WHERE provider = 'google' AND google_watch_channel_id = $1 AND google_watch_resource_id = $2`
	return scanIntegration(r.pool.QueryRow(ctx, query, channelID, resourceID))
}

// FindByAcuityCalendar correlates an Acuity webhook by the calendar id in
// its payload. The stored value is a comma-joined list.
func (r *Repository) FindByAcuityCalendar(ctx context.Context, calendarID string) (*Integration, error) {
	query := `SELECT` + integrationColumns + `
		FROM calendar_integrations
		WHERE provider = 'acuity'
		  AND string_to_array(acuity_calendar_id, ',') @> ARRAY[$1::text]`
	return scanIntegration(r.pool.QueryRow(ctx, query, calendarID))
}

// FindByProviderEmail correlates by account email, used for Calendly where
// deliveries identify the host by email.
func (r *Repository) FindByProviderEmail(ctx context.Context, provider providers.Provider, email string) (*Integration, error) {
	query := `SELECT` + integrationColumns + `
		FROM calendar_integrations WHERE provider = $1 AND account_email = $2`
	return scanIntegration(r.pool.QueryRow(ctx, query, provider, email))
}

// FindBySquareMerchant correlates a Square webhook by merchant id.
func (r *Repository) FindBySquareMerchant(ctx context.Context, merchantID string) (*Integration, error) {
	query := `SELECT` + integrationColumns + `
		FROM calendar_integrations WHERE provider = 'square' AND square_merchant_id = $1`
	return scanIntegration(r.pool.QueryRow(ctx, query, merchantID))
}

// UpdateStatus applies a status transition if the state machine allows it.
// Returns false (without error) when the current status is more specific
// and must not be overwritten.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, to Status, message string) (bool, error) {
	var current Status
	err := r.pool.QueryRow(ctx, `SELECT status FROM calendar_integrations WHERE id = $1`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("integrations: read status: %w", err)
	}
	if !CanTransition(current, to) {
		return false, nil
	}
	_, err = r.pool.Exec(ctx, `
		UPDATE calendar_integrations
		SET status = $2, status_message = $3, updated_at = NOW()
		WHERE id = $1`, id, to, message)
	if err != nil {
		return false, fmt.Errorf("integrations: update status: %w", err)
	}
	return true, nil
}

// UpdateCredentials stores a freshly encrypted credential envelope,
// typically after a token refresh, and applies the accompanying status.
func (r *Repository) UpdateCredentials(ctx context.Context, id uuid.UUID, encrypted string, hasRefresh bool, status Status) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE calendar_integrations
		SET encrypted_credentials = $2, has_refresh_token = $3, status = $4, status_message = '', updated_at = NOW()
		WHERE id = $1`, id, encrypted, hasRefresh, status)
	if err != nil {
		return fmt.Errorf("integrations: update credentials: %w", err)
	}
	return nil
}

// SetGoogleWatch records (or clears) the active watch channel.
func (r *Repository) SetGoogleWatch(ctx context.Context, id uuid.UUID, channelID, resourceID *string, expiration *time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE calendar_integrations
		SET google_watch_channel_id = $2, google_watch_resource_id = $3,
		    google_watch_expiration = $4, updated_at = NOW()
		WHERE id = $1`, id, channelID, resourceID, expiration)
	if err != nil {
		return fmt.Errorf("integrations: set google watch: %w", err)
	}
	return nil
}

// SetAcuityWebhooks records the registered webhook ids and the account's
// calendar ids, both comma-joined.
func (r *Repository) SetAcuityWebhooks(ctx context.Context, id uuid.UUID, webhookIDs, calendarIDs string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE calendar_integrations
		SET acuity_webhook_id = $2, acuity_calendar_id = $3, updated_at = NOW()
		WHERE id = $1`, id, webhookIDs, calendarIDs)
	if err != nil {
		return fmt.Errorf("integrations: set acuity webhooks: %w", err)
	}
	return nil
}

// SetCalendlyWebhook records the webhook subscription URI.
func (r *Repository) SetCalendlyWebhook(ctx context.Context, id uuid.UUID, webhookURI string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE calendar_integrations
		SET calendly_webhook_id = $2, updated_at = NOW()
		WHERE id = $1`, id, webhookURI)
	if err != nil {
		return fmt.Errorf("integrations: set calendly webhook: %w", err)
	}
	return nil
}

// SetSyncToken persists the incremental sync cursor; pass nil to clear it
// after the provider reports the token expired.
func (r *Repository) SetSyncToken(ctx context.Context, id uuid.UUID, token *string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE calendar_integrations
		SET last_sync_token = $2, last_synced_at = NOW(), updated_at = NOW()
		WHERE id = $1`, id, token)
	if err != nil {
		return fmt.Errorf("integrations: set sync token: %w", err)
	}
	return nil
}

// TouchWebhook records the latest webhook delivery time.
func (r *Repository) TouchWebhook(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE calendar_integrations SET last_webhook_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("integrations: touch webhook: %w", err)
	}
	return nil
}

// Delete removes the user's integration row. Returns false when there was
// nothing to delete.
func (r *Repository) Delete(ctx context.Context, userID uuid.UUID) (bool, error) {
	ct, err := r.pool.Exec(ctx, `DELETE FROM calendar_integrations WHERE user_id = $1`, userID)
	if err != nil {
		return false, fmt.Errorf("integrations: delete: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}
