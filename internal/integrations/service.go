package integrations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/calendar-ai-platform/internal/providers"
	"github.com/wolfman30/calendar-ai-platform/internal/vault"
	"github.com/wolfman30/calendar-ai-platform/pkg/logging"
)

// credentialStore is the slice of Repository the service needs.
type credentialStore interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*Integration, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Integration, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, to Status, message string) (bool, error)
	UpdateCredentials(ctx context.Context, id uuid.UUID, encrypted string, hasRefresh bool, status Status) error
}

// Alerter notifies an operator when an integration needs attention. A nil
// Alerter disables notifications.
type Alerter interface {
	ReconnectRequired(ctx context.Context, in *Integration, reason string)
}

// Service mediates credential access: decrypt, refresh-when-stale, persist
// rotated tokens, and downgrade the integration when credentials die.
type Service struct {
	store         credentialStore
	vault         *vault.Vault
	adapters      map[providers.Provider]providers.Adapter
	alerter       Alerter
	refreshBuffer time.Duration
	logger        *logging.Logger
}

// NewService wires the credential service.
func NewService(store credentialStore, v *vault.Vault, adapters map[providers.Provider]providers.Adapter, alerter Alerter, refreshBuffer time.Duration, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	if refreshBuffer <= 0 {
		refreshBuffer = 5 * time.Minute
	}
	return &Service{
		store:         store,
		vault:         v,
		adapters:      adapters,
		alerter:       alerter,
		refreshBuffer: refreshBuffer,
		logger:        logger,
	}
}

// Adapter returns the provider adapter for the integration.
func (s *Service) Adapter(p providers.Provider) (providers.Adapter, error) {
	a, ok := s.adapters[p]
	if !ok {
		return nil, &providers.ConfigError{Provider: p, Reason: "no adapter registered"}
	}
	return a, nil
}

// GetByUserID loads the user's integration.
func (s *Service) GetByUserID(ctx context.Context, userID uuid.UUID) (*Integration, error) {
	return s.store.GetByUserID(ctx, userID)
}

// Decrypt opens the stored credential envelope. A failed decrypt is a
// terminal credential problem: the row is downgraded and the user must
// reconnect.
func (s *Service) Decrypt(ctx context.Context, in *Integration) (*vault.Credentials, error) {
	creds, err := s.vault.Decrypt(in.EncryptedCredentials)
	if err != nil {
		if errors.Is(err, vault.ErrDecryptFailed) {
			s.downgrade(ctx, in, StatusReconnectDecryptionFailure, "stored credentials could not be decrypted")
			return nil, &providers.AuthError{Provider: in.Provider, Reason: "stored credentials could not be decrypted, reconnect required"}
		}
		return nil, fmt.Errorf("integrations: decrypt credentials: %w", err)
	}
	return creds, nil
}

// GetValidCredentials returns credentials that are good for at least the
// refresh buffer, refreshing and persisting them when stale.
func (s *Service) GetValidCredentials(ctx context.Context, in *Integration) (*vault.Credentials, error) {
	creds, err := s.Decrypt(ctx, in)
	if err != nil {
		return nil, err
	}
	if !providers.Expired(creds, s.refreshBuffer) {
		return creds, nil
	}

	if creds.RefreshToken == "" {
		s.downgrade(ctx, in, StatusReconnectNoRefreshToken, "access token expired and no refresh token is stored")
		return nil, &providers.AuthError{Provider: in.Provider, Reason: "no refresh token, reconnect required"}
	}

	adapter, err := s.Adapter(in.Provider)
	if err != nil {
		return nil, err
	}

	s.logger.Info("refreshing provider token", "provider", in.Provider, "integration_id", in.ID)
	fresh, err := adapter.RefreshToken(ctx, creds)
	if err != nil {
		if providers.IsAuthError(err) {
			s.downgrade(ctx, in, StatusReconnectRefreshFailed, "provider rejected the refresh token")
			return nil, err
		}
		// Network trouble: keep the row as is, the next caller retries.
		return nil, err
	}

	if err := s.persistRefreshedToken(ctx, in, fresh); err != nil {
		// The refreshed token is still valid for this call even if it
		// could not be saved.
		s.logger.Error("persist refreshed token failed", "integration_id", in.ID, "error", err)
	}
	return fresh, nil
}

// persistRefreshedToken re-encrypts and stores rotated credentials. A
// successful refresh also recovers the row from any reconnect_required_*
// status, since working credentials disprove it.
func (s *Service) persistRefreshedToken(ctx context.Context, in *Integration, creds *vault.Credentials) error {
	encrypted, err := s.vault.Encrypt(creds)
	if err != nil {
		return fmt.Errorf("integrations: encrypt refreshed credentials: %w", err)
	}

	status := in.Status
	if status.ReconnectRequired() || status == StatusPending {
		if in.watchLive() {
			status = StatusActiveWatching
		} else {
			status = StatusActive
		}
	}
	if err := s.store.UpdateCredentials(ctx, in.ID, encrypted, creds.RefreshToken != "", status); err != nil {
		return err
	}
	in.EncryptedCredentials = encrypted
	in.HasRefreshToken = creds.RefreshToken != ""
	in.Status = status
	return nil
}

// PersistRefreshed stores credentials rotated outside the usual refresh
// path, such as by a sync engine's token source mid-run.
func (s *Service) PersistRefreshed(ctx context.Context, in *Integration, creds *vault.Credentials) error {
	return s.persistRefreshedToken(ctx, in, creds)
}

func (in *Integration) watchLive() bool {
	return in.GoogleWatchChannelID != nil || in.AcuityWebhookID != nil || in.CalendlyWebhookID != nil
}

// downgrade moves the row into a reconnect_required_* status and alerts
// the operator. Best-effort: a failed write is logged, not returned, so
// the caller still sees the original credential error.
func (s *Service) downgrade(ctx context.Context, in *Integration, to Status, reason string) {
	applied, err := s.store.UpdateStatus(ctx, in.ID, to, reason)
	if err != nil {
		s.logger.Error("status downgrade failed", "integration_id", in.ID, "to", to, "error", err)
		return
	}
	if !applied {
		return
	}
	in.Status = to
	in.StatusMessage = reason
	s.logger.Warn("integration needs reconnect", "integration_id", in.ID, "provider", in.Provider, "status", to)
	if s.alerter != nil {
		s.alerter.ReconnectRequired(ctx, in, reason)
	}
}

// RecordProviderError maps a provider API failure onto an error_* status
// without masking a more specific one already present.
func (s *Service) RecordProviderError(ctx context.Context, in *Integration, to Status, reason string) {
	if _, err := s.store.UpdateStatus(ctx, in.ID, to, reason); err != nil {
		s.logger.Error("record provider error failed", "integration_id", in.ID, "to", to, "error", err)
	}
}
