package integrations

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/calendar-ai-platform/internal/providers"
)

// Integration is one user's connected calendar account. A user has at most
// one integration; switching providers replaces the row.
type Integration struct {
	ID                   uuid.UUID
	UserID               uuid.UUID
	Provider             providers.Provider
	AccountEmail         string
	EncryptedCredentials string
	Status               Status
	StatusMessage        string
	HasRefreshToken      bool

	GoogleCalendarID      *string
	GoogleWatchChannelID  *string
	GoogleWatchResourceID *string
	GoogleWatchExpiration *time.Time
	LastSyncToken         *string

	AcuityWebhookID  *string // comma-joined ids, one per subscribed event
	AcuityCalendarID *string // comma-joined ids from the calendar lookup

	CalendlyWebhookID *string

	SquareMerchantID *string

	LastSyncedAt  *time.Time
	LastWebhookAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Anchor builds the provider-specific identifiers adapters need.
func (i *Integration) Anchor() providers.Anchor {
	a := providers.Anchor{}
	if i.GoogleCalendarID != nil {
		a.GoogleCalendarID = *i.GoogleCalendarID
	}
	if i.AcuityCalendarID != nil {
		// Adapters take a single calendar id; the first one is the
		// account's main calendar.
		if ids := strings.Split(*i.AcuityCalendarID, ","); len(ids) > 0 {
			a.AcuityCalendarID = strings.TrimSpace(ids[0])
		}
	}
	if i.SquareMerchantID != nil {
		a.SquareMerchantID = *i.SquareMerchantID
	}
	return a
}

// HasAcuityCalendar reports whether calendarID is one of the integration's
// comma-joined Acuity calendar ids.
func (i *Integration) HasAcuityCalendar(calendarID string) bool {
	if i.AcuityCalendarID == nil || calendarID == "" {
		return false
	}
	for _, id := range strings.Split(*i.AcuityCalendarID, ",") {
		if strings.TrimSpace(id) == calendarID {
			return true
		}
	}
	return false
}
