package gsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/wolfman30/calendar-ai-platform/internal/integrations"
	"github.com/wolfman30/calendar-ai-platform/internal/providers"
	"github.com/wolfman30/calendar-ai-platform/internal/vault"
	"github.com/wolfman30/calendar-ai-platform/internal/webhooks"
	"github.com/wolfman30/calendar-ai-platform/pkg/logging"
)

const (
	pageSize = 250
	// updatedWindow bounds the fallback query when no sync token is
	// stored yet, or after Google expires one.
	updatedWindow = 10 * time.Minute
)

type tokenStore interface {
	SetSyncToken(ctx context.Context, id uuid.UUID, token *string) error
}

type credentialSource interface {
	GetValidCredentials(ctx context.Context, in *integrations.Integration) (*vault.Credentials, error)
	PersistRefreshed(ctx context.Context, in *integrations.Integration, creds *vault.Credentials) error
	RecordProviderError(ctx context.Context, in *integrations.Integration, to integrations.Status, reason string)
}

type refresher interface {
	RefreshToken(ctx context.Context, creds *vault.Credentials) (*vault.Credentials, error)
}

type changeSink interface {
	Process(ctx context.Context, in *integrations.Integration, ch webhooks.Change) error
}

// Engine pulls changed events after a push notification. Google pushes
// carry no event data, so each delivery triggers an incremental
// events.list against the stored sync token.
type Engine struct {
	store   tokenStore
	service credentialSource
	google  refresher
	sink    changeSink
	logger  *logging.Logger

	// newService is swapped in tests to avoid real API calls.
	newService func(ctx context.Context, src oauth2.TokenSource) (*calendar.Service, error)
	now        func() time.Time
}

func NewEngine(store *integrations.Repository, service *integrations.Service, google *providers.GoogleAdapter, sink *webhooks.Processor, logger *logging.Logger) *Engine {
	if store == nil || service == nil || google == nil || sink == nil {
		panic("gsync: store, service, adapter, and sink required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{
		store:      store,
		service:    service,
		google:     google,
		sink:       sink,
		logger:     logger,
		newService: newCalendarService,
		now:        time.Now,
	}
}

func newCalendarService(ctx context.Context, src oauth2.TokenSource) (*calendar.Service, error) {
	svc, err := calendar.NewService(ctx, option.WithTokenSource(src))
	if err != nil {
		return nil, fmt.Errorf("gsync: init calendar service: %w", err)
	}
	return svc, nil
}

// Sync lists changed events and feeds them into classification. A 410
// from the API means the stored token expired: it is cleared and the run
// aborts, so the next delivery falls back to the updated-min window.
func (e *Engine) Sync(ctx context.Context, in *integrations.Integration) error {
	creds, err := e.service.GetValidCredentials(ctx, in)
	if err != nil {
		return err
	}
	svc, err := e.newService(ctx, newPersistingSource(ctx, e, in, creds))
	if err != nil {
		return err
	}

	calID := "primary"
	if in.GoogleCalendarID != nil && *in.GoogleCalendarID != "" {
		calID = *in.GoogleCalendarID
	}

	var (
		pageToken     string
		nextSyncToken string
	)
	for {
		call := svc.Events.List(calID).
			SingleEvents(true).
			ShowDeleted(true).
			MaxResults(pageSize).
			Context(ctx)
		if in.LastSyncToken != nil && *in.LastSyncToken != "" {
			call = call.SyncToken(*in.LastSyncToken)
		} else {
			call = call.UpdatedMin(e.now().Add(-updatedWindow).Format(time.RFC3339))
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			return e.listFailed(ctx, in, err)
		}

		for _, ev := range resp.Items {
			ch, ok := changeFromEvent(ev)
			if !ok {
				continue
			}
			if err := e.sink.Process(ctx, in, ch); err != nil {
				return err
			}
		}

		if resp.NextPageToken != "" {
			pageToken = resp.NextPageToken
			continue
		}
		nextSyncToken = resp.NextSyncToken
		break
	}

	if nextSyncToken != "" {
		if err := e.store.SetSyncToken(ctx, in.ID, &nextSyncToken); err != nil {
			return err
		}
		in.LastSyncToken = &nextSyncToken
	}
	return nil
}

// listFailed maps an events.list failure onto the integration status.
func (e *Engine) listFailed(ctx context.Context, in *integrations.Integration, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusGone:
			// Expired sync token. Clearing it is the recovery, not a
			// failure state.
			e.logger.Info("sync token expired, clearing", "integration_id", in.ID)
			if cerr := e.store.SetSyncToken(ctx, in.ID, nil); cerr != nil {
				return cerr
			}
			in.LastSyncToken = nil
			return nil
		case http.StatusUnauthorized:
			e.service.RecordProviderError(ctx, in, integrations.StatusErrorInvalidCredentials, gerr.Message)
		case http.StatusNotFound:
			e.service.RecordProviderError(ctx, in, integrations.StatusErrorCalendarNotFound, gerr.Message)
		case http.StatusForbidden:
			e.service.RecordProviderError(ctx, in, integrations.StatusErrorGooglePermissions, gerr.Message)
		default:
			e.service.RecordProviderError(ctx, in, integrations.StatusErrorGoogleAPI, gerr.Message)
		}
		return fmt.Errorf("gsync: list events: %w", err)
	}
	return fmt.Errorf("gsync: list events: %w", err)
}

// changeFromEvent extracts the classification input from an event or its
// cancellation tombstone.
func changeFromEvent(ev *calendar.Event) (webhooks.Change, bool) {
	ch := webhooks.Change{
		EventID: ev.Id,
		Summary: ev.Summary,
	}
	switch ev.Status {
	case "cancelled":
		ch.Kind = webhooks.ChangeCancelled
	case "confirmed", "tentative":
		ch.Kind = webhooks.ChangeCreated
	default:
		return webhooks.Change{}, false
	}

	if ev.Start != nil {
		if t, err := parseEventTime(ev.Start); err == nil {
			ch.Start = t
		}
	}
	if ev.End != nil {
		if t, err := parseEventTime(ev.End); err == nil {
			ch.End = &t
		}
	}
	// Tombstones are stripped to the id; without a start there is
	// nothing to classify against.
	if ch.Kind == webhooks.ChangeCreated && ch.Start.IsZero() {
		return webhooks.Change{}, false
	}

	ch.Name = customerName(ev)
	// Booking pages put the customer's number in the body, the location
	// field, or the title itself, so all three are scanned.
	for _, field := range []string{ev.Description, ev.Location, ev.Summary} {
		if phone := webhooks.ExtractPhone(field); phone != "" {
			ch.Phone = phone
			break
		}
	}
	return ch, true
}

var (
	// "Haircut with Jane" or "client: Jane Doe" in the event title.
	nameAfterKeyword = regexp.MustCompile(`(?i:with|client:)\s+([A-Z][a-zA-Z'-]*(?:\s+[A-Z][a-zA-Z'-]*)*)`)
	// A title that simply leads with the customer's full name.
	nameLeadingTitle = regexp.MustCompile(`^[A-Z][a-z'-]+(?:\s+[A-Z][a-z'-]+)+`)
)

// customerName guesses who the appointment is for: a "with <name>" title
// fragment first, then the first guest attendee, then a leading full name.
func customerName(ev *calendar.Event) string {
	if m := nameAfterKeyword.FindStringSubmatch(ev.Summary); m != nil {
		return strings.TrimSpace(m[1])
	}
	for _, att := range ev.Attendees {
		if att.Organizer || att.Self {
			continue
		}
		if att.DisplayName != "" {
			return att.DisplayName
		}
	}
	if m := nameLeadingTitle.FindString(ev.Summary); strings.Contains(m, " ") {
		return m
	}
	return ""
}

func parseEventTime(t *calendar.EventDateTime) (time.Time, error) {
	if t.DateTime != "" {
		return time.Parse(time.RFC3339, t.DateTime)
	}
	return time.Parse("2006-01-02", t.Date)
}
