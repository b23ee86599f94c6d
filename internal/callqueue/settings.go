package callqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CallSetting is one call type's activation toggle and lead time.
type CallSetting struct {
	Enabled     bool
	TimingValue int
	TimingUnit  string // minutes, hours, days
}

// Lead converts the configured timing into a duration.
func (s CallSetting) Lead() time.Duration {
	switch s.TimingUnit {
	case "minutes":
		return time.Duration(s.TimingValue) * time.Minute
	case "days":
		return time.Duration(s.TimingValue) * 24 * time.Hour
	default:
		return time.Duration(s.TimingValue) * time.Hour
	}
}

// Settings is a user's call activation configuration. The zero value has
// every call type disabled, which is also the behavior for users with no
// settings row.
type Settings struct {
	UserID       uuid.UUID
	AssistantID  *string
	Confirm      CallSetting
	Cancellation CallSetting
	NoShow       CallSetting
}

// For returns the setting gating the given call type.
func (s *Settings) For(ct CallType) CallSetting {
	switch ct {
	case CallConfirmAppointment:
		return s.Confirm
	case CallRecoverCancel:
		return s.Cancellation
	case CallRescheduleNoShow:
		return s.NoShow
	}
	return CallSetting{}
}

// SettingsStore loads call activation settings.
type SettingsStore struct {
	pool querier
}

func NewSettingsStore(pool querier) *SettingsStore {
	if pool == nil {
		panic("callqueue: querier required")
	}
	return &SettingsStore{pool: pool}
}

const settingsSelect = `
	SELECT user_id, assistant_id,
	       confirm_enabled, confirm_timing_value, confirm_timing_unit,
	       cancellation_enabled, cancellation_timing_value, cancellation_timing_unit,
	       noshow_enabled, noshow_timing_value, noshow_timing_unit
	FROM call_activation_settings`

func scanSettings(row pgx.Row) (*Settings, error) {
	var s Settings
	err := row.Scan(
		&s.UserID, &s.AssistantID,
		&s.Confirm.Enabled, &s.Confirm.TimingValue, &s.Confirm.TimingUnit,
		&s.Cancellation.Enabled, &s.Cancellation.TimingValue, &s.Cancellation.TimingUnit,
		&s.NoShow.Enabled, &s.NoShow.TimingValue, &s.NoShow.TimingUnit,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetByUserID loads the user's settings. A missing row disables every
// call type rather than failing.
func (s *SettingsStore) GetByUserID(ctx context.Context, userID uuid.UUID) (*Settings, error) {
	settings, err := scanSettings(s.pool.QueryRow(ctx, settingsSelect+` WHERE user_id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &Settings{UserID: userID}, nil
		}
		return nil, fmt.Errorf("callqueue: load settings: %w", err)
	}
	return settings, nil
}

// ResolveAssistant maps a voice-platform assistant id to the owning user.
func (s *SettingsStore) ResolveAssistant(ctx context.Context, assistantID string) (uuid.UUID, error) {
	var userID uuid.UUID
	err := s.pool.QueryRow(ctx,
		`SELECT user_id FROM call_activation_settings WHERE assistant_id = $1`, assistantID,
	).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrUnknownAssistant
		}
		return uuid.Nil, fmt.Errorf("callqueue: resolve assistant: %w", err)
	}
	return userID, nil
}

// ErrUnknownAssistant is returned when no user owns the assistant id.
var ErrUnknownAssistant = errors.New("callqueue: unknown assistant id")
