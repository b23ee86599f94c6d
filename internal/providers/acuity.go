package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wolfman30/calendar-ai-platform/internal/vault"
	"github.com/wolfman30/calendar-ai-platform/pkg/logging"
)

const acuityAPIBase = "https://acuityscheduling.com/api/v1"

// AcuityAdapter drives Acuity Scheduling. Busy slots come from the
// appointment list on the connected calendar; bookings go through the
// appointments endpoint against the account's first matching type.
type AcuityAdapter struct {
	oauth      *OAuthApp
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

func NewAcuityAdapter(oauth *OAuthApp, logger *logging.Logger) *AcuityAdapter {
	if logger == nil {
		logger = logging.Default()
	}
	return &AcuityAdapter{
		oauth:      oauth,
		baseURL:    acuityAPIBase,
		httpClient: &http.Client{Timeout: 20 * time.Second},
		logger:     logger,
	}
}

// AcuityAppointment is the subset of an appointment record the engine
// reads, both for availability and for webhook processing.
type AcuityAppointment struct {
	ID         int64  `json:"id"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Phone      string `json:"phone"`
	Email      string `json:"email"`
	Datetime   string `json:"datetime"` // ISO 8601 with offset
	EndTime    string `json:"endTime"`
	CalendarID int64  `json:"calendarID"`
	Canceled   bool   `json:"canceled"`
	NoShow     bool   `json:"noShow"`
	Type       string `json:"type"`
}

func (a *AcuityAppointment) StartEnd() (time.Time, time.Time, error) {
	start, err := time.Parse(time.RFC3339, a.Datetime)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("providers: parse acuity datetime: %w", err)
	}
	end, err := time.Parse(time.RFC3339, a.EndTime)
	if err != nil {
		// endTime is occasionally a bare clock time; fall back to start.
		end = start
	}
	return start, end, nil
}

// CheckAvailability lists appointments in range and reports them as busy.
func (a *AcuityAdapter) CheckAvailability(ctx context.Context, creds *vault.Credentials, req AvailabilityRequest) (*Availability, error) {
	params := url.Values{
		"minDate": {req.Start.Format("2006-01-02")},
		"maxDate": {req.End.Format("2006-01-02")},
	}
	if req.Anchor.AcuityCalendarID != "" {
		params.Set("calendarID", req.Anchor.AcuityCalendarID)
	}

	var appts []AcuityAppointment
	if err := a.get(ctx, creds, "/appointments?"+params.Encode(), &appts); err != nil {
		return nil, err
	}

	var busy []BusySlot
	for _, appt := range appts {
		if appt.Canceled {
			continue
		}
		start, end, err := appt.StartEnd()
		if err != nil {
			continue
		}
		busy = append(busy, BusySlot{Start: start, End: end})
	}
	return &Availability{Busy: busy}, nil
}

// CreateEvent books an appointment using the account's first appointment
// type whose duration matches the request, falling back to the first type.
func (a *AcuityAdapter) CreateEvent(ctx context.Context, creds *vault.Credentials, req CreateEventRequest) (*EventConfirmation, error) {
	typeID, err := a.pickAppointmentType(ctx, creds, int(req.End.Sub(req.Start).Minutes()))
	if err != nil {
		return nil, err
	}

	first, last := splitName(req.CustomerName)
	payload := map[string]any{
		"datetime":          req.Start.Format(time.RFC3339),
		"appointmentTypeID": typeID,
		"firstName":         first,
		"lastName":          last,
		"notes":             req.Description,
	}
	if req.CustomerEmail != "" {
		payload["email"] = req.CustomerEmail
	}
	if req.Anchor.AcuityCalendarID != "" {
		payload["calendarID"] = req.Anchor.AcuityCalendarID
	}

	var created AcuityAppointment
	if err := a.post(ctx, creds, "/appointments", payload, &created); err != nil {
		// Acuity reports an occupied slot as a 400 validation failure.
		if code := StatusCode(err); code == 400 && strings.Contains(err.Error(), "not_available") {
			return nil, &ConflictError{Provider: Acuity, Reason: "requested time is not available"}
		}
		return nil, err
	}

	when := formatLocal(req.Start, req.Timezone)
	msg := fmt.Sprintf("Success: Appointment '%s' has been booked for %s.", req.Summary, when)
	return &EventConfirmation{EventID: fmt.Sprintf("%d", created.ID), Message: msg}, nil
}

// RefreshToken delegates to the OAuth app's refresh grant.
func (a *AcuityAdapter) RefreshToken(ctx context.Context, creds *vault.Credentials) (*vault.Credentials, error) {
	return a.oauth.Refresh(ctx, creds)
}

// FetchAppointment loads full appointment detail for webhook processing.
func (a *AcuityAdapter) FetchAppointment(ctx context.Context, creds *vault.Credentials, id string) (*AcuityAppointment, error) {
	var appt AcuityAppointment
	if err := a.get(ctx, creds, "/appointments/"+url.PathEscape(id), &appt); err != nil {
		return nil, err
	}
	return &appt, nil
}

// ListCalendars returns the account's calendars; the connect flow records
// the first calendar id as the webhook correlation anchor.
func (a *AcuityAdapter) ListCalendars(ctx context.Context, creds *vault.Credentials) ([]AcuityCalendar, error) {
	var cals []AcuityCalendar
	if err := a.get(ctx, creds, "/calendars", &cals); err != nil {
		return nil, err
	}
	return cals, nil
}

type AcuityCalendar struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// acuityWebhookEvents are the appointment lifecycle events the ingestion
// pipeline subscribes to.
var acuityWebhookEvents = []string{
	"appointment.scheduled",
	"appointment.rescheduled",
	"appointment.canceled",
}

// RegisterWebhooks subscribes target to the appointment lifecycle events,
// one subscription per event. Returns the webhook ids in event order.
func (a *AcuityAdapter) RegisterWebhooks(ctx context.Context, creds *vault.Credentials, target string) ([]string, error) {
	ids := make([]string, 0, len(acuityWebhookEvents))
	for _, event := range acuityWebhookEvents {
		var created struct {
			ID int64 `json:"id"`
		}
		payload := map[string]string{"event": event, "target": target}
		if err := a.post(ctx, creds, "/webhooks", payload, &created); err != nil {
			return ids, fmt.Errorf("providers: register acuity webhook %s: %w", event, err)
		}
		ids = append(ids, fmt.Sprintf("%d", created.ID))
	}
	return ids, nil
}

// DeleteWebhook removes one webhook subscription.
func (a *AcuityAdapter) DeleteWebhook(ctx context.Context, creds *vault.Credentials, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, a.baseURL+"/webhooks/"+url.PathEscape(id), nil)
	if err != nil {
		return fmt.Errorf("providers: create acuity request: %w", err)
	}
	return a.do(req, creds, nil)
}

func (a *AcuityAdapter) pickAppointmentType(ctx context.Context, creds *vault.Credentials, durationMinutes int) (int64, error) {
	var types []struct {
		ID       int64 `json:"id"`
		Active   bool  `json:"active"`
		Duration int   `json:"duration"`
	}
	if err := a.get(ctx, creds, "/appointment-types", &types); err != nil {
		return 0, err
	}

	var fallback int64
	for _, t := range types {
		if !t.Active {
			continue
		}
		if fallback == 0 {
			fallback = t.ID
		}
		if t.Duration == durationMinutes {
			return t.ID, nil
		}
	}
	if fallback == 0 {
		return 0, &TransientError{Provider: Acuity, Err: fmt.Errorf("account has no active appointment types")}
	}
	return fallback, nil
}

func (a *AcuityAdapter) get(ctx context.Context, creds *vault.Credentials, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("providers: create acuity request: %w", err)
	}
	return a.do(req, creds, out)
}

func (a *AcuityAdapter) post(ctx context.Context, creds *vault.Credentials, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("providers: marshal acuity payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("providers: create acuity request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return a.do(req, creds, out)
}

func (a *AcuityAdapter) do(req *http.Request, creds *vault.Credentials, out any) error {
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return &TransientError{Provider: Acuity, Err: fmt.Errorf("request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransientError{Provider: Acuity, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(Acuity, resp.StatusCode, string(body))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &TransientError{Provider: Acuity, Err: fmt.Errorf("parse response: %w", err)}
	}
	return nil
}

func splitName(full string) (string, string) {
	parts := strings.Fields(full)
	if len(parts) == 0 {
		return "Guest", ""
	}
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}
