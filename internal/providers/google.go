package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/wolfman30/calendar-ai-platform/internal/vault"
	"github.com/wolfman30/calendar-ai-platform/pkg/logging"
)

// GoogleAdapter drives Google Calendar through the calendar/v3 API. Events
// are booked directly onto the connected calendar, so creation confirms
// immediately.
type GoogleAdapter struct {
	oauth  *OAuthApp
	logger *logging.Logger

	// newService is swapped in tests to avoid real API calls.
	newService func(ctx context.Context, accessToken string) (*calendar.Service, error)
}

// NewGoogleAdapter builds the adapter around the Google OAuth app.
func NewGoogleAdapter(oauth *OAuthApp, logger *logging.Logger) *GoogleAdapter {
	if logger == nil {
		logger = logging.Default()
	}
	return &GoogleAdapter{
		oauth:      oauth,
		logger:     logger,
		newService: newCalendarService,
	}
}

func newCalendarService(ctx context.Context, accessToken string) (*calendar.Service, error) {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	svc, err := calendar.NewService(ctx, option.WithTokenSource(src))
	if err != nil {
		return nil, fmt.Errorf("providers: init calendar service: %w", err)
	}
	return svc, nil
}

func (g *GoogleAdapter) calendarID(a Anchor) string {
	if a.GoogleCalendarID != "" {
		return a.GoogleCalendarID
	}
	return "primary"
}

// CheckAvailability runs a free-busy query over the requested range.
func (g *GoogleAdapter) CheckAvailability(ctx context.Context, creds *vault.Credentials, req AvailabilityRequest) (*Availability, error) {
	svc, err := g.newService(ctx, creds.AccessToken)
	if err != nil {
		return nil, &TransientError{Provider: Google, Err: err}
	}

	calID := g.calendarID(req.Anchor)
	resp, err := svc.Freebusy.Query(&calendar.FreeBusyRequest{
		TimeMin:  req.Start.Format(time.RFC3339),
		TimeMax:  req.End.Format(time.RFC3339),
		TimeZone: req.Timezone,
		Items:    []*calendar.FreeBusyRequestItem{{Id: calID}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, googleError(err)
	}

	var busy []BusySlot
	if cal, ok := resp.Calendars[calID]; ok {
		for _, period := range cal.Busy {
			start, serr := time.Parse(time.RFC3339, period.Start)
			end, eerr := time.Parse(time.RFC3339, period.End)
			if serr != nil || eerr != nil {
				continue
			}
			busy = append(busy, BusySlot{Start: start, End: end})
		}
	}
	return &Availability{Busy: busy}, nil
}

// CreateEvent inserts the event directly. A 409 from the API is a slot
// conflict the caller surfaces as "pick another time".
func (g *GoogleAdapter) CreateEvent(ctx context.Context, creds *vault.Credentials, req CreateEventRequest) (*EventConfirmation, error) {
	svc, err := g.newService(ctx, creds.AccessToken)
	if err != nil {
		return nil, &TransientError{Provider: Google, Err: err}
	}

	event := &calendar.Event{
		Summary:     req.Summary,
		Description: req.Description,
		Start:       &calendar.EventDateTime{DateTime: req.Start.Format(time.RFC3339), TimeZone: req.Timezone},
		End:         &calendar.EventDateTime{DateTime: req.End.Format(time.RFC3339), TimeZone: req.Timezone},
		Reminders: &calendar.EventReminders{
			UseDefault: false,
			Overrides: []*calendar.EventReminder{
				{Method: "email", Minutes: 60},
				{Method: "popup", Minutes: 15},
			},
			ForceSendFields: []string{"UseDefault"},
		},
	}
	sendUpdates := "none"
	if req.CustomerEmail != "" && req.CustomerName != "" {
		event.Attendees = []*calendar.EventAttendee{{Email: req.CustomerEmail, DisplayName: req.CustomerName}}
		sendUpdates = "all"
	}

	created, err := svc.Events.Insert(g.calendarID(req.Anchor), event).
		SendUpdates(sendUpdates).
		Context(ctx).Do()
	if err != nil {
		return nil, googleError(err)
	}

	when := formatLocal(req.Start, req.Timezone)
	msg := fmt.Sprintf("Success: Appointment '%s' has been booked for %s.", req.Summary, when)
	if sendUpdates == "all" {
		msg += " An invitation has been sent to the customer."
	}
	return &EventConfirmation{EventID: created.Id, Message: msg}, nil
}

// RefreshToken delegates to the OAuth app's refresh grant.
func (g *GoogleAdapter) RefreshToken(ctx context.Context, creds *vault.Credentials) (*vault.Credentials, error) {
	return g.oauth.Refresh(ctx, creds)
}

// WatchResult identifies an established push channel.
type WatchResult struct {
	ChannelID  string
	ResourceID string
	Expiration time.Time
}

// Watch opens a push notification channel on the calendar. The token is
// echoed back on every delivery so the webhook endpoint can verify origin.
func (g *GoogleAdapter) Watch(ctx context.Context, creds *vault.Credentials, anchor Anchor, channelID, token, address string) (*WatchResult, error) {
	svc, err := g.newService(ctx, creds.AccessToken)
	if err != nil {
		return nil, &TransientError{Provider: Google, Err: err}
	}

	ch, err := svc.Events.Watch(g.calendarID(anchor), &calendar.Channel{
		Id:      channelID,
		Type:    "web_hook",
		Address: address,
		Token:   token,
	}).Context(ctx).Do()
	if err != nil {
		return nil, googleError(err)
	}
	return &WatchResult{
		ChannelID:  ch.Id,
		ResourceID: ch.ResourceId,
		Expiration: time.UnixMilli(ch.Expiration),
	}, nil
}

// StopWatch closes a push channel. Channels also lapse on their own, so
// callers treat failures as non-fatal.
func (g *GoogleAdapter) StopWatch(ctx context.Context, creds *vault.Credentials, channelID, resourceID string) error {
	svc, err := g.newService(ctx, creds.AccessToken)
	if err != nil {
		return &TransientError{Provider: Google, Err: err}
	}
	if err := svc.Channels.Stop(&calendar.Channel{Id: channelID, ResourceId: resourceID}).Context(ctx).Do(); err != nil {
		return googleError(err)
	}
	return nil
}

// googleError maps calendar API failures onto the taxonomy.
func googleError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return &AuthError{Provider: Google, Status: gerr.Code, Reason: gerr.Message}
		case http.StatusConflict:
			return &ConflictError{Provider: Google, Reason: gerr.Message}
		}
		return &TransientError{Provider: Google, Err: &httpStatusError{status: gerr.Code, body: truncate(gerr.Message, 200)}}
	}
	return &TransientError{Provider: Google, Err: err}
}

// formatLocal renders an instant in the user's timezone for voice readback.
func formatLocal(t time.Time, tz string) string {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}
	return t.In(loc).Format("January 2, 2006 at 3:04 PM MST")
}
