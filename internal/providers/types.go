package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfman30/calendar-ai-platform/internal/vault"
)

// Provider identifies the external calendar/booking system behind an
// integration.
type Provider string

const (
	Google   Provider = "google"
	Acuity   Provider = "acuity"
	Calendly Provider = "calendly"
	Square   Provider = "square"
)

// All lists the supported providers in display order.
var All = []Provider{Google, Acuity, Calendly, Square}

// Parse validates a provider name from user input.
func Parse(s string) (Provider, error) {
	switch Provider(s) {
	case Google, Acuity, Calendly, Square:
		return Provider(s), nil
	}
	return "", &ValidationError{Reason: fmt.Sprintf("unknown provider %q", s)}
}

// Anchor carries the provider-specific identifiers the adapters need
// beyond credentials. Populated from the integration record; fields for
// other providers stay empty.
type Anchor struct {
	GoogleCalendarID string // defaults to "primary" when empty
	AcuityCalendarID string
	SquareMerchantID string
	SquareLocationID string
}

// AvailabilityRequest asks for busy slots within [Start, End).
type AvailabilityRequest struct {
	Anchor   Anchor
	Start    time.Time
	End      time.Time
	Timezone string
}

// BusySlot is one occupied interval on the connected calendar.
type BusySlot struct {
	Start time.Time
	End   time.Time
}

// Availability is the normalized result of a free-busy query.
type Availability struct {
	Busy []BusySlot
}

// CreateEventRequest books (or, for Calendly, prepares a scheduling link
// for) an appointment.
type CreateEventRequest struct {
	Anchor        Anchor
	Summary       string
	Description   string
	Start         time.Time
	End           time.Time
	CustomerName  string
	CustomerEmail string
	Timezone      string
}

// EventConfirmation is the normalized result of event creation. Message is
// a human-readable confirmation suitable for a voice agent to read back;
// for Calendly it embeds the scheduling link the customer must still click.
type EventConfirmation struct {
	EventID    string
	Message    string
	BookingURL string
}

// Adapter is the uniform contract over the four provider APIs. Errors are
// returned as the typed taxonomy in errors.go; callers branch on
// IsAuthError/IsConflict rather than status codes.
type Adapter interface {
	CheckAvailability(ctx context.Context, creds *vault.Credentials, req AvailabilityRequest) (*Availability, error)
	CreateEvent(ctx context.Context, creds *vault.Credentials, req CreateEventRequest) (*EventConfirmation, error)
	RefreshToken(ctx context.Context, creds *vault.Credentials) (*vault.Credentials, error)
}

// Expired reports whether creds should be refreshed before use. A token
// within buffer of its expiry counts as expired; tokens without an expiry
// are assumed valid.
func Expired(creds *vault.Credentials, buffer time.Duration) bool {
	if creds == nil || creds.ExpiryDate == 0 {
		return false
	}
	expiry := time.UnixMilli(creds.ExpiryDate)
	return time.Now().Add(buffer).After(expiry)
}
