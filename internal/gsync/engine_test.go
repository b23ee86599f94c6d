package gsync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/wolfman30/calendar-ai-platform/internal/integrations"
	"github.com/wolfman30/calendar-ai-platform/internal/providers"
	"github.com/wolfman30/calendar-ai-platform/internal/vault"
	"github.com/wolfman30/calendar-ai-platform/internal/webhooks"
	"github.com/wolfman30/calendar-ai-platform/pkg/logging"
)

type stubTokenStore struct {
	tokens []*string
}

func (s *stubTokenStore) SetSyncToken(ctx context.Context, id uuid.UUID, token *string) error {
	s.tokens = append(s.tokens, token)
	return nil
}

type stubCredSource struct {
	creds     *vault.Credentials
	persisted []*vault.Credentials
	recorded  []integrations.Status
}

func (s *stubCredSource) GetValidCredentials(ctx context.Context, in *integrations.Integration) (*vault.Credentials, error) {
	return s.creds, nil
}

func (s *stubCredSource) PersistRefreshed(ctx context.Context, in *integrations.Integration, creds *vault.Credentials) error {
	s.persisted = append(s.persisted, creds)
	return nil
}

func (s *stubCredSource) RecordProviderError(ctx context.Context, in *integrations.Integration, to integrations.Status, reason string) {
	s.recorded = append(s.recorded, to)
}

type stubRefresher struct {
	fresh *vault.Credentials
	calls int
}

func (s *stubRefresher) RefreshToken(ctx context.Context, creds *vault.Credentials) (*vault.Credentials, error) {
	s.calls++
	return s.fresh, nil
}

type stubSink struct {
	changes []webhooks.Change
}

func (s *stubSink) Process(ctx context.Context, in *integrations.Integration, ch webhooks.Change) error {
	s.changes = append(s.changes, ch)
	return nil
}

func freshCreds() *vault.Credentials {
	return &vault.Credentials{
		AccessToken:  "at",
		RefreshToken: "rt",
		ExpiryDate:   time.Now().Add(time.Hour).UnixMilli(),
	}
}

func testEngine(t *testing.T, server *httptest.Server) (*Engine, *stubTokenStore, *stubCredSource, *stubSink) {
	t.Helper()
	store := &stubTokenStore{}
	creds := &stubCredSource{creds: freshCreds()}
	sink := &stubSink{}
	e := &Engine{
		store:   store,
		service: creds,
		google:  &stubRefresher{fresh: freshCreds()},
		sink:    sink,
		logger:  logging.Default(),
		now:     time.Now,
		newService: func(ctx context.Context, src oauth2.TokenSource) (*calendar.Service, error) {
			return calendar.NewService(ctx,
				option.WithEndpoint(server.URL),
				option.WithHTTPClient(server.Client()),
			)
		},
	}
	return e, store, creds, sink
}

func syncIntegration(token string) *integrations.Integration {
	in := &integrations.Integration{
		ID:       uuid.New(),
		UserID:   uuid.New(),
		Provider: providers.Google,
		Status:   integrations.StatusActiveWatching,
	}
	if token != "" {
		in.LastSyncToken = &token
	}
	return in
}

func TestSyncUsesStoredTokenAndPersistsNext(t *testing.T) {
	start := time.Now().Add(48 * time.Hour).Format(time.RFC3339)
	end := time.Now().Add(49 * time.Hour).Format(time.RFC3339)
	var sawSyncToken string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawSyncToken = r.URL.Query().Get("syncToken")
		json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{
				{
					"id":      "evt-1",
					"status":  "confirmed",
					"summary": "Consult",
					"start":   map[string]string{"dateTime": start},
					"end":     map[string]string{"dateTime": end},
					"attendees": []map[string]any{
						{"displayName": "Maya Chen", "email": "maya@example.com"},
					},
					"description": "Phone: (512) 555-0134",
				},
			},
			"nextSyncToken": "token-2",
		})
	}))
	defer server.Close()

	e, store, _, sink := testEngine(t, server)
	in := syncIntegration("token-1")
	if err := e.Sync(context.Background(), in); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if sawSyncToken != "token-1" {
		t.Errorf("syncToken sent = %q, want token-1", sawSyncToken)
	}
	if len(sink.changes) != 1 {
		t.Fatalf("processed %d changes, want 1", len(sink.changes))
	}
	ch := sink.changes[0]
	if ch.Kind != webhooks.ChangeCreated || ch.EventID != "evt-1" {
		t.Errorf("change = %+v", ch)
	}
	if ch.Phone != "(512) 555-0134" && ch.Phone != "+15125550134" {
		t.Errorf("Phone = %q", ch.Phone)
	}
	if ch.Name != "Maya Chen" {
		t.Errorf("Name = %q", ch.Name)
	}
	if len(store.tokens) != 1 || store.tokens[0] == nil || *store.tokens[0] != "token-2" {
		t.Errorf("persisted tokens = %v", store.tokens)
	}
}

func TestSyncWithoutTokenUsesUpdatedWindow(t *testing.T) {
	var sawUpdatedMin, sawSyncToken string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawUpdatedMin = r.URL.Query().Get("updatedMin")
		sawSyncToken = r.URL.Query().Get("syncToken")
		json.NewEncoder(w).Encode(map[string]any{"items": []any{}, "nextSyncToken": "token-1"})
	}))
	defer server.Close()

	e, store, _, _ := testEngine(t, server)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	if err := e.Sync(context.Background(), syncIntegration("")); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if sawSyncToken != "" {
		t.Errorf("syncToken sent without a stored token: %q", sawSyncToken)
	}
	want := now.Add(-updatedWindow).Format(time.RFC3339)
	if sawUpdatedMin != want {
		t.Errorf("updatedMin = %q, want %q", sawUpdatedMin, want)
	}
	if len(store.tokens) != 1 {
		t.Errorf("next sync token not persisted")
	}
}

func TestSyncPaginates(t *testing.T) {
	start := time.Now().Add(24 * time.Hour).Format(time.RFC3339)
	page := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page++
		if page == 1 {
			json.NewEncoder(w).Encode(map[string]any{
				"items": []map[string]any{
					{"id": "evt-1", "status": "confirmed", "start": map[string]string{"dateTime": start}},
				},
				"nextPageToken": "page-2",
			})
			return
		}
		if got := r.URL.Query().Get("pageToken"); got != "page-2" {
			t.Errorf("pageToken = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{
				{"id": "evt-2", "status": "confirmed", "start": map[string]string{"dateTime": start}},
			},
			"nextSyncToken": "token-1",
		})
	}))
	defer server.Close()

	e, _, _, sink := testEngine(t, server)
	if err := e.Sync(context.Background(), syncIntegration("tok")); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if page != 2 {
		t.Errorf("pages fetched = %d, want 2", page)
	}
	if len(sink.changes) != 2 {
		t.Errorf("processed %d changes, want 2", len(sink.changes))
	}
}

func TestSyncExpiredTokenClearsAndAborts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": 410, "message": "Sync token is no longer valid"},
		})
	}))
	defer server.Close()

	e, store, creds, sink := testEngine(t, server)
	in := syncIntegration("stale")
	if err := e.Sync(context.Background(), in); err != nil {
		t.Fatalf("Sync after 410: %v", err)
	}
	if len(store.tokens) != 1 || store.tokens[0] != nil {
		t.Errorf("stored token not cleared: %v", store.tokens)
	}
	if in.LastSyncToken != nil {
		t.Error("in-memory token not cleared")
	}
	if len(sink.changes) != 0 {
		t.Error("changes processed after abort")
	}
	if len(creds.recorded) != 0 {
		t.Errorf("410 recorded as provider error: %v", creds.recorded)
	}
}

func TestSyncStatusMapping(t *testing.T) {
	cases := []struct {
		code int
		want integrations.Status
	}{
		{http.StatusUnauthorized, integrations.StatusErrorInvalidCredentials},
		{http.StatusNotFound, integrations.StatusErrorCalendarNotFound},
		{http.StatusForbidden, integrations.StatusErrorGooglePermissions},
		{http.StatusInternalServerError, integrations.StatusErrorGoogleAPI},
	}
	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.code)
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{"code": tc.code, "message": "nope"},
			})
		}))

		e, _, creds, _ := testEngine(t, server)
		if err := e.Sync(context.Background(), syncIntegration("tok")); err == nil {
			t.Errorf("code %d: Sync returned nil error", tc.code)
		}
		if len(creds.recorded) != 1 || creds.recorded[0] != tc.want {
			t.Errorf("code %d: recorded %v, want %s", tc.code, creds.recorded, tc.want)
		}
		server.Close()
	}
}

func TestChangeFromEventTombstone(t *testing.T) {
	ch, ok := changeFromEvent(&calendar.Event{Id: "evt-1", Status: "cancelled"})
	if !ok {
		t.Fatal("tombstone rejected")
	}
	if ch.Kind != webhooks.ChangeCancelled || ch.EventID != "evt-1" {
		t.Errorf("change = %+v", ch)
	}

	// A confirmed event with no start is unusable.
	if _, ok := changeFromEvent(&calendar.Event{Id: "evt-2", Status: "confirmed"}); ok {
		t.Error("confirmed event without start accepted")
	}
}

func TestChangeFromEventCustomerInfo(t *testing.T) {
	cases := []struct {
		name      string
		ev        *calendar.Event
		wantName  string
		wantPhone string
	}{
		{
			name: "phone and name in title",
			ev: &calendar.Event{
				Id:      "evt-1",
				Status:  "confirmed",
				Summary: "Haircut with Jane, +12025551234",
			},
			wantName:  "Jane",
			wantPhone: "+12025551234",
		},
		{
			name: "phone in location",
			ev: &calendar.Event{
				Id:       "evt-2",
				Status:   "confirmed",
				Summary:  "Consult",
				Location: "phone: (512) 555-0134",
			},
			wantPhone: "+15125550134",
		},
		{
			name: "description wins over title",
			ev: &calendar.Event{
				Id:          "evt-3",
				Status:      "confirmed",
				Summary:     "Callback 202-555-9999",
				Description: "Tel: 512.555.0134",
			},
			wantPhone: "+15125550134",
		},
		{
			name: "attendee name when title has no keyword",
			ev: &calendar.Event{
				Id:      "evt-4",
				Status:  "confirmed",
				Summary: "Consult",
				Attendees: []*calendar.EventAttendee{
					{Organizer: true, DisplayName: "Front Desk"},
					{DisplayName: "Maya Chen"},
				},
			},
			wantName: "Maya Chen",
		},
		{
			name: "title leading with a full name",
			ev: &calendar.Event{
				Id:      "evt-5",
				Status:  "confirmed",
				Summary: "Jane Doe 60min massage",
			},
			wantName: "Jane Doe",
		},
		{
			name: "single leading word is not a name",
			ev: &calendar.Event{
				Id:      "evt-6",
				Status:  "confirmed",
				Summary: "Massage",
			},
			wantName: "",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.ev.Start = &calendar.EventDateTime{DateTime: "2026-09-03T10:00:00Z"}
			tc.ev.End = &calendar.EventDateTime{DateTime: "2026-09-03T11:00:00Z"}
			ch, ok := changeFromEvent(tc.ev)
			if !ok {
				t.Fatal("event rejected")
			}
			if ch.Name != tc.wantName {
				t.Errorf("Name = %q, want %q", ch.Name, tc.wantName)
			}
			if ch.Phone != tc.wantPhone {
				t.Errorf("Phone = %q, want %q", ch.Phone, tc.wantPhone)
			}
		})
	}
}

func TestPersistingSourceRotatesAndSaves(t *testing.T) {
	stale := &vault.Credentials{
		AccessToken:  "old",
		RefreshToken: "rt",
		ExpiryDate:   time.Now().Add(time.Minute).UnixMilli(),
	}
	refresher := &stubRefresher{fresh: freshCreds()}
	creds := &stubCredSource{creds: stale}
	e := &Engine{
		service: creds,
		google:  refresher,
		logger:  logging.Default(),
	}

	src := newPersistingSource(context.Background(), e, syncIntegration(""), stale)
	tok, err := src.Token()
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok.AccessToken != "at" {
		t.Errorf("AccessToken = %q, want rotated", tok.AccessToken)
	}
	if refresher.calls != 1 {
		t.Errorf("refresh calls = %d", refresher.calls)
	}
	if len(creds.persisted) != 1 {
		t.Errorf("rotated credentials not persisted")
	}

	// The rotated token is now fresh; no second refresh.
	if _, err := src.Token(); err != nil {
		t.Fatalf("Token: %v", err)
	}
	if refresher.calls != 1 {
		t.Errorf("refresh calls after reuse = %d", refresher.calls)
	}
}
