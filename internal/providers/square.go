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

	"github.com/google/uuid"

	"github.com/wolfman30/calendar-ai-platform/internal/vault"
	"github.com/wolfman30/calendar-ai-platform/pkg/logging"
)

// SquareAdapter drives Square Appointments through the Bookings API.
// Busy slots come from the booking list at the merchant's location.
type SquareAdapter struct {
	oauth      *OAuthApp
	sandbox    bool
	httpClient *http.Client
	logger     *logging.Logger
}

func NewSquareAdapter(oauth *OAuthApp, sandbox bool, logger *logging.Logger) *SquareAdapter {
	if logger == nil {
		logger = logging.Default()
	}
	return &SquareAdapter{
		oauth:      oauth,
		sandbox:    sandbox,
		httpClient: &http.Client{Timeout: 20 * time.Second},
		logger:     logger,
	}
}

func (s *SquareAdapter) baseURL() string {
	if s.sandbox {
		return "https://connect.squareupsandbox.com"
	}
	return "https://connect.squareup.com"
}

// SquareBooking is the subset of a booking record the engine reads.
type SquareBooking struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	StartAt    string `json:"start_at"`
	LocationID string `json:"location_id"`
	CustomerID string `json:"customer_id"`
	Segments   []struct {
		DurationMinutes int    `json:"duration_minutes"`
		TeamMemberID    string `json:"team_member_id"`
	} `json:"appointment_segments"`
}

func (b *SquareBooking) StartEnd() (time.Time, time.Time, error) {
	start, err := time.Parse(time.RFC3339, b.StartAt)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("providers: parse square start_at: %w", err)
	}
	end := start
	for _, seg := range b.Segments {
		end = end.Add(time.Duration(seg.DurationMinutes) * time.Minute)
	}
	return start, end, nil
}

// SquareCustomer carries the contact fields used for call queueing.
type SquareCustomer struct {
	ID          string `json:"id"`
	GivenName   string `json:"given_name"`
	FamilyName  string `json:"family_name"`
	PhoneNumber string `json:"phone_number"`
	Email       string `json:"email_address"`
}

func (c *SquareCustomer) FullName() string {
	switch {
	case c.GivenName != "" && c.FamilyName != "":
		return c.GivenName + " " + c.FamilyName
	case c.GivenName != "":
		return c.GivenName
	default:
		return c.FamilyName
	}
}

// CheckAvailability lists accepted bookings in range and reports them busy.
func (s *SquareAdapter) CheckAvailability(ctx context.Context, creds *vault.Credentials, req AvailabilityRequest) (*Availability, error) {
	params := url.Values{
		"start_at_min": {req.Start.UTC().Format(time.RFC3339)},
		"start_at_max": {req.End.UTC().Format(time.RFC3339)},
	}
	if req.Anchor.SquareLocationID != "" {
		params.Set("location_id", req.Anchor.SquareLocationID)
	}

	var body struct {
		Bookings []SquareBooking `json:"bookings"`
	}
	if err := s.get(ctx, creds, "/v2/bookings?"+params.Encode(), &body); err != nil {
		return nil, err
	}

	var busy []BusySlot
	for _, booking := range body.Bookings {
		if booking.Status == "CANCELLED_BY_CUSTOMER" || booking.Status == "CANCELLED_BY_SELLER" || booking.Status == "DECLINED" {
			continue
		}
		start, end, err := booking.StartEnd()
		if err != nil {
			continue
		}
		busy = append(busy, BusySlot{Start: start, End: end})
	}
	return &Availability{Busy: busy}, nil
}

// CreateEvent creates a customer record and books an appointment with the
// location's first bookable team member.
func (s *SquareAdapter) CreateEvent(ctx context.Context, creds *vault.Credentials, req CreateEventRequest) (*EventConfirmation, error) {
	teamMemberID, err := s.firstTeamMember(ctx, creds, req.Anchor.SquareLocationID)
	if err != nil {
		return nil, err
	}
	customerID, err := s.ensureCustomer(ctx, creds, req.CustomerName, req.CustomerEmail)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"idempotency_key": uuid.NewString(),
		"booking": map[string]any{
			"start_at":      req.Start.UTC().Format(time.RFC3339),
			"location_id":   req.Anchor.SquareLocationID,
			"customer_id":   customerID,
			"customer_note": req.Description,
			"appointment_segments": []map[string]any{{
				"duration_minutes": int(req.End.Sub(req.Start).Minutes()),
				"team_member_id":   teamMemberID,
			}},
		},
	}

	var out struct {
		Booking SquareBooking `json:"booking"`
	}
	if err := s.post(ctx, creds, "/v2/bookings", payload, &out); err != nil {
		if code := StatusCode(err); code == http.StatusConflict {
			return nil, &ConflictError{Provider: Square, Reason: "requested time is not available"}
		}
		return nil, err
	}

	when := formatLocal(req.Start, req.Timezone)
	msg := fmt.Sprintf("Success: Appointment '%s' has been booked for %s.", req.Summary, when)
	return &EventConfirmation{EventID: out.Booking.ID, Message: msg}, nil
}

// RefreshToken delegates to the OAuth app's refresh grant.
func (s *SquareAdapter) RefreshToken(ctx context.Context, creds *vault.Credentials) (*vault.Credentials, error) {
	return s.oauth.Refresh(ctx, creds)
}

// FetchBooking loads full booking detail for webhook processing.
func (s *SquareAdapter) FetchBooking(ctx context.Context, creds *vault.Credentials, bookingID string) (*SquareBooking, error) {
	var body struct {
		Booking SquareBooking `json:"booking"`
	}
	if err := s.get(ctx, creds, "/v2/bookings/"+url.PathEscape(bookingID), &body); err != nil {
		return nil, err
	}
	return &body.Booking, nil
}

// FetchCustomer loads the contact record referenced by a booking.
func (s *SquareAdapter) FetchCustomer(ctx context.Context, creds *vault.Credentials, customerID string) (*SquareCustomer, error) {
	var body struct {
		Customer SquareCustomer `json:"customer"`
	}
	if err := s.get(ctx, creds, "/v2/customers/"+url.PathEscape(customerID), &body); err != nil {
		return nil, err
	}
	return &body.Customer, nil
}

func (s *SquareAdapter) firstTeamMember(ctx context.Context, creds *vault.Credentials, locationID string) (string, error) {
	path := "/v2/bookings/team-member-booking-profiles?bookable_only=true"
	if locationID != "" {
		path += "&location_id=" + url.QueryEscape(locationID)
	}
	var body struct {
		Profiles []struct {
			TeamMemberID string `json:"team_member_id"`
		} `json:"team_member_booking_profiles"`
	}
	if err := s.get(ctx, creds, path, &body); err != nil {
		return "", err
	}
	if len(body.Profiles) == 0 {
		return "", &TransientError{Provider: Square, Err: fmt.Errorf("no bookable team members at location")}
	}
	return body.Profiles[0].TeamMemberID, nil
}

func (s *SquareAdapter) ensureCustomer(ctx context.Context, creds *vault.Credentials, name, email string) (string, error) {
	given, family := splitName(name)
	payload := map[string]any{
		"idempotency_key": uuid.NewString(),
		"given_name":      given,
		"family_name":     family,
	}
	if email != "" {
		payload["email_address"] = email
	}

	var body struct {
		Customer SquareCustomer `json:"customer"`
	}
	if err := s.post(ctx, creds, "/v2/customers", payload, &body); err != nil {
		return "", err
	}
	return body.Customer.ID, nil
}

func (s *SquareAdapter) get(ctx context.Context, creds *vault.Credentials, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL()+path, nil)
	if err != nil {
		return fmt.Errorf("providers: create square request: %w", err)
	}
	return s.do(req, creds, out)
}

func (s *SquareAdapter) post(ctx context.Context, creds *vault.Credentials, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("providers: marshal square payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL()+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("providers: create square request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return s.do(req, creds, out)
}

func (s *SquareAdapter) do(req *http.Request, creds *vault.Credentials, out any) error {
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	req.Header.Set("Square-Version", squareAPIVersion)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &TransientError{Provider: Square, Err: fmt.Errorf("request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransientError{Provider: Square, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(Square, resp.StatusCode, string(body))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &TransientError{Provider: Square, Err: fmt.Errorf("parse response: %w", err)}
	}
	return nil
}
