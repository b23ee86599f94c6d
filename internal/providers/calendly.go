package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/wolfman30/calendar-ai-platform/internal/vault"
	"github.com/wolfman30/calendar-ai-platform/pkg/logging"
)

const calendlyAPIBase = "https://api.calendly.com"

// CalendlyAdapter works against Calendly's user-scoped API. Calendly has
// no free-busy concept for one-off meetings, so availability comes from
// the authenticated user's busy-time feed, and "creating" an event
// produces a one-off scheduling link the customer must still click.
type CalendlyAdapter struct {
	oauth      *OAuthApp
	shortener  URLShortener
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

func NewCalendlyAdapter(oauth *OAuthApp, shortener URLShortener, logger *logging.Logger) *CalendlyAdapter {
	if logger == nil {
		logger = logging.Default()
	}
	return &CalendlyAdapter{
		oauth:      oauth,
		shortener:  shortener,
		baseURL:    calendlyAPIBase,
		httpClient: &http.Client{Timeout: 20 * time.Second},
		logger:     logger,
	}
}

// CheckAvailability queries the user's busy-time feed. The person URI is
// captured once during OAuth; without it the account must be reconnected.
func (c *CalendlyAdapter) CheckAvailability(ctx context.Context, creds *vault.Credentials, req AvailabilityRequest) (*Availability, error) {
	if creds.UserURI == "" {
		return nil, &AuthError{Provider: Calendly, Reason: "user URI missing from credentials, reconnect required"}
	}

	params := url.Values{
		"user":       {creds.UserURI},
		"start_time": {req.Start.UTC().Format(time.RFC3339)},
		"end_time":   {req.End.UTC().Format(time.RFC3339)},
	}

	var body struct {
		Collection []struct {
			Type      string    `json:"type"`
			StartTime time.Time `json:"start_time"`
			EndTime   time.Time `json:"end_time"`
		} `json:"collection"`
	}
	if err := c.get(ctx, creds, "/user_busy_times?"+params.Encode(), &body); err != nil {
		return nil, err
	}

	var busy []BusySlot
	for _, slot := range body.Collection {
		busy = append(busy, BusySlot{Start: slot.StartTime, End: slot.EndTime})
	}
	return &Availability{Busy: busy}, nil
}

// CreateEvent creates a one-off event type pinned to the requested day and
// returns a confirmation message embedding the (shortened) scheduling link.
func (c *CalendlyAdapter) CreateEvent(ctx context.Context, creds *vault.Credentials, req CreateEventRequest) (*EventConfirmation, error) {
	if creds.UserURI == "" {
		return nil, &AuthError{Provider: Calendly, Reason: "user URI missing from credentials, reconnect required"}
	}

	duration := int(req.End.Sub(req.Start).Round(time.Minute).Minutes())
	if duration <= 0 {
		return nil, &ValidationError{Reason: "event duration must be positive"}
	}

	loc, err := time.LoadLocation(req.Timezone)
	if err != nil {
		loc = time.UTC
	}
	eventDate := req.Start.In(loc).Format("2006-01-02")

	payload := map[string]any{
		"name":     req.Summary,
		"host":     creds.UserURI,
		"duration": duration,
		"timezone": req.Timezone,
		"date_setting": map[string]string{
			"type":       "date_range",
			"start_date": eventDate,
			"end_date":   eventDate,
		},
		"location": map[string]string{
			"kind":     "custom",
			"location": fmt.Sprintf("Appointment for %s. Details via scheduling link.", req.CustomerName),
		},
	}

	var out struct {
		Resource struct {
			URI           string `json:"uri"`
			SchedulingURL string `json:"scheduling_url"`
		} `json:"resource"`
	}
	if err := c.post(ctx, creds, "/one_off_event_types", payload, &out); err != nil {
		return nil, err
	}

	link := out.Resource.SchedulingURL
	if c.shortener != nil {
		link = c.shortener.Shorten(ctx, link)
	}

	when := formatLocal(req.Start, req.Timezone)
	msg := fmt.Sprintf("A Calendly scheduling link for '%s' for %s has been prepared. Please use the following link to confirm and finalize your booking: %s",
		req.Summary, when, link)
	return &EventConfirmation{EventID: out.Resource.URI, Message: msg, BookingURL: link}, nil
}

// RefreshToken delegates to the OAuth app. The refresh response never
// repeats the person/organization URIs; OAuthApp.Refresh preserves them.
func (c *CalendlyAdapter) RefreshToken(ctx context.Context, creds *vault.Credentials) (*vault.Credentials, error) {
	return c.oauth.Refresh(ctx, creds)
}

// FetchScheduledEvent loads full event detail for webhook processing.
func (c *CalendlyAdapter) FetchScheduledEvent(ctx context.Context, creds *vault.Credentials, eventURI string) (*CalendlyEvent, error) {
	var body struct {
		Resource CalendlyEvent `json:"resource"`
	}
	// Event URIs arrive fully qualified from webhook payloads.
	if err := c.getAbsolute(ctx, creds, eventURI, &body); err != nil {
		return nil, err
	}
	return &body.Resource, nil
}

// CalendlyEvent is the subset of a scheduled-event resource the ingestion
// pipeline needs.
type CalendlyEvent struct {
	URI              string    `json:"uri"`
	Name             string    `json:"name"`
	Status           string    `json:"status"`
	StartTime        time.Time `json:"start_time"`
	EndTime          time.Time `json:"end_time"`
	EventMemberships []struct {
		User      string `json:"user"`
		UserEmail string `json:"user_email"`
	} `json:"event_memberships"`
}

// CreateWebhookSubscription subscribes callbackURL to invitee lifecycle
// events, scoped to the connected user within their organization. Both
// URIs were captured at OAuth time.
func (c *CalendlyAdapter) CreateWebhookSubscription(ctx context.Context, creds *vault.Credentials, callbackURL string) (string, error) {
	if creds.UserURI == "" || creds.OrganizationURI == "" {
		return "", &AuthError{Provider: Calendly, Reason: "user or organization URI missing from credentials, reconnect required"}
	}

	payload := map[string]any{
		"url":          callbackURL,
		"events":       []string{"invitee.created", "invitee.canceled"},
		"organization": creds.OrganizationURI,
		"user":         creds.UserURI,
		"scope":        "user",
	}
	var out struct {
		Resource struct {
			URI string `json:"uri"`
		} `json:"resource"`
	}
	if err := c.post(ctx, creds, "/webhook_subscriptions", payload, &out); err != nil {
		return "", err
	}
	return out.Resource.URI, nil
}

// DeleteWebhookSubscription removes the subscription by its URI.
func (c *CalendlyAdapter) DeleteWebhookSubscription(ctx context.Context, creds *vault.Credentials, subscriptionURI string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, subscriptionURI, nil)
	if err != nil {
		return fmt.Errorf("providers: create calendly request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	return c.do(req, nil)
}

func (c *CalendlyAdapter) get(ctx context.Context, creds *vault.Credentials, path string, out any) error {
	return c.getAbsolute(ctx, creds, c.baseURL+path, out)
}

func (c *CalendlyAdapter) getAbsolute(ctx context.Context, creds *vault.Credentials, fullURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("providers: create calendly request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *CalendlyAdapter) post(ctx context.Context, creds *vault.Credentials, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("providers: marshal calendly payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("providers: create calendly request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *CalendlyAdapter) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransientError{Provider: Calendly, Err: fmt.Errorf("request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransientError{Provider: Calendly, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(Calendly, resp.StatusCode, string(body))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &TransientError{Provider: Calendly, Err: fmt.Errorf("parse response: %w", err)}
	}
	return nil
}
