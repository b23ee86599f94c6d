package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/wolfman30/calendar-ai-platform/internal/vault"
)

type stubShortener struct {
	short string
}

func (s stubShortener) Shorten(_ context.Context, longURL string) string {
	if s.short == "" {
		return longURL
	}
	return s.short
}

func testCalendlyAdapter(server *httptest.Server, shortener URLShortener) *CalendlyAdapter {
	c := NewCalendlyAdapter(NewOAuthApp(Calendly, "id", "secret", "https://example.com/cb", nil), shortener, nil)
	if server != nil {
		c.baseURL = server.URL
	}
	return c
}

func TestCalendlyAvailabilityRequiresUserURI(t *testing.T) {
	c := testCalendlyAdapter(nil, nil)
	_, err := c.CheckAvailability(context.Background(), &vault.Credentials{AccessToken: "at"}, AvailabilityRequest{
		Start: time.Now(), End: time.Now().Add(time.Hour),
	})
	if !IsAuthError(err) {
		t.Fatalf("missing user URI should be an auth failure, got %v", err)
	}
}

func TestCalendlyCheckAvailability(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/user_busy_times" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("user") != "https://api.calendly.com/users/U1" {
			t.Errorf("user = %q", q.Get("user"))
		}
		if q.Get("start_time") == "" || q.Get("end_time") == "" {
			t.Errorf("missing time range: %v", q)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"collection": []map[string]any{
				{"type": "calendly", "start_time": "2026-09-02T15:00:00Z", "end_time": "2026-09-02T15:30:00Z"},
			},
		})
	}))
	defer server.Close()

	c := testCalendlyAdapter(server, nil)
	creds := &vault.Credentials{AccessToken: "at", UserURI: "https://api.calendly.com/users/U1"}
	avail, err := c.CheckAvailability(context.Background(), creds, AvailabilityRequest{
		Start: time.Date(2026, 9, 2, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 9, 3, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("CheckAvailability: %v", err)
	}
	if len(avail.Busy) != 1 {
		t.Fatalf("busy = %d, want 1", len(avail.Busy))
	}
}

func TestCalendlyCreateEvent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/one_off_event_types" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var payload map[string]any
		json.NewDecoder(r.Body).Decode(&payload)
		if payload["host"] != "https://api.calendly.com/users/U1" {
			t.Errorf("host = %v", payload["host"])
		}
		if payload["duration"] != float64(45) {
			t.Errorf("duration = %v, want 45", payload["duration"])
		}
		ds := payload["date_setting"].(map[string]any)
		if ds["type"] != "date_range" || ds["start_date"] != "2026-09-02" || ds["end_date"] != "2026-09-02" {
			t.Errorf("date_setting = %v", ds)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"resource": map[string]string{
				"uri":            "https://api.calendly.com/one_off_event_types/E1",
				"scheduling_url": "https://calendly.com/d/long-link",
			},
		})
	}))
	defer server.Close()

	c := testCalendlyAdapter(server, stubShortener{short: "https://tinyurl.com/abc"})
	creds := &vault.Credentials{AccessToken: "at", UserURI: "https://api.calendly.com/users/U1"}
	start := time.Date(2026, 9, 2, 14, 0, 0, 0, time.UTC)
	conf, err := c.CreateEvent(context.Background(), creds, CreateEventRequest{
		Summary:      "Facial Consultation",
		Start:        start,
		End:          start.Add(45 * time.Minute),
		CustomerName: "Jane Doe",
		Timezone:     "UTC",
	})
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	if conf.BookingURL != "https://tinyurl.com/abc" {
		t.Errorf("booking url = %q", conf.BookingURL)
	}
	if !strings.Contains(conf.Message, "Calendly scheduling link") || !strings.Contains(conf.Message, conf.BookingURL) {
		t.Errorf("confirmation message missing link: %q", conf.Message)
	}
}

func TestCalendlyCreateEventZeroDuration(t *testing.T) {
	c := testCalendlyAdapter(nil, nil)
	creds := &vault.Credentials{AccessToken: "at", UserURI: "https://api.calendly.com/users/U1"}
	now := time.Now()
	_, err := c.CreateEvent(context.Background(), creds, CreateEventRequest{Start: now, End: now})
	if !IsValidation(err) {
		t.Fatalf("expected ValidationError for zero duration, got %v", err)
	}
}

func TestCalendlyFetchScheduledEvent(t *testing.T) {
	var requested string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = r.URL.Path
		json.NewEncoder(w).Encode(map[string]any{
			"resource": map[string]any{
				"uri":        "https://api.calendly.com/scheduled_events/E9",
				"name":       "Consult",
				"status":     "active",
				"start_time": "2026-09-02T15:00:00Z",
				"end_time":   "2026-09-02T15:30:00Z",
				"event_memberships": []map[string]string{
					{"user": "https://api.calendly.com/users/U1", "user_email": "owner@example.com"},
				},
			},
		})
	}))
	defer server.Close()

	c := testCalendlyAdapter(server, nil)
	ev, err := c.FetchScheduledEvent(context.Background(), &vault.Credentials{AccessToken: "at"}, server.URL+"/scheduled_events/E9")
	if err != nil {
		t.Fatalf("FetchScheduledEvent: %v", err)
	}
	if requested != "/scheduled_events/E9" {
		t.Errorf("requested path = %q", requested)
	}
	if ev.Status != "active" || len(ev.EventMemberships) != 1 {
		t.Errorf("unexpected event: %+v", ev)
	}
}
