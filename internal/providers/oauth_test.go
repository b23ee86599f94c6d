package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/wolfman30/calendar-ai-platform/internal/vault"
)

// rewriteTransport redirects every request to the test server while keeping
// the original path, so the hardcoded provider hosts can be intercepted.
type rewriteTransport struct {
	target *url.URL
}

func (t rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = t.target.Scheme
	req.URL.Host = t.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

func testOAuthApp(t *testing.T, provider Provider, server *httptest.Server) *OAuthApp {
	t.Helper()
	app := NewOAuthApp(provider, "client-id", "client-secret", "https://example.com/callback", nil)
	if server != nil {
		u, err := url.Parse(server.URL)
		if err != nil {
			t.Fatalf("parse server url: %v", err)
		}
		app.httpClient = &http.Client{Transport: rewriteTransport{target: u}}
	}
	return app
}

func TestAuthorizationURLGoogle(t *testing.T) {
	app := testOAuthApp(t, Google, nil)
	authURL, err := app.AuthorizationURL("state-123")
	if err != nil {
		t.Fatalf("AuthorizationURL: %v", err)
	}
	for _, want := range []string{
		"accounts.google.com",
		"access_type=offline",
		"prompt=consent",
		"state=state-123",
		url.QueryEscape("https://www.googleapis.com/auth/calendar.events"),
	} {
		if !strings.Contains(authURL, want) {
			t.Errorf("url missing %q: %s", want, authURL)
		}
	}
}

func TestAuthorizationURLSquare(t *testing.T) {
	app := testOAuthApp(t, Square, nil)
	authURL, err := app.AuthorizationURL("s")
	if err != nil {
		t.Fatalf("AuthorizationURL: %v", err)
	}
	if !strings.Contains(authURL, "connect.squareup.com/oauth2/authorize") {
		t.Errorf("expected production square host, got %s", authURL)
	}
	for _, scope := range []string{"APPOINTMENTS_READ", "APPOINTMENTS_WRITE", "MERCHANT_PROFILE_READ"} {
		if !strings.Contains(authURL, scope) {
			t.Errorf("url missing scope %q", scope)
		}
	}

	app.SquareSandbox = true
	authURL, err = app.AuthorizationURL("s")
	if err != nil {
		t.Fatalf("AuthorizationURL sandbox: %v", err)
	}
	if !strings.Contains(authURL, "connect.squareupsandbox.com") {
		t.Errorf("expected sandbox host, got %s", authURL)
	}
}

func TestAuthorizationURLUnconfigured(t *testing.T) {
	app := NewOAuthApp(Acuity, "", "", "https://example.com/callback", nil)
	if _, err := app.AuthorizationURL("s"); err == nil {
		t.Fatal("expected error for missing client credentials")
	} else {
		var ce *ConfigError
		if !errors.As(err, &ce) {
			t.Fatalf("expected ConfigError, got %T: %v", err, err)
		}
	}
}

func TestExchangeCodeSquareReturnsMerchantID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth2/token" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body["grant_type"] != "authorization_code" || body["code"] != "the-code" {
			t.Errorf("unexpected grant request: %v", body)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "at-1",
			"refresh_token": "rt-1",
			"expires_at":    time.Now().Add(30 * 24 * time.Hour).UTC().Format(time.RFC3339),
			"token_type":    "bearer",
			"merchant_id":   "M123",
		})
	}))
	defer server.Close()

	app := testOAuthApp(t, Square, server)
	creds, merchantID, err := app.ExchangeCode(context.Background(), "the-code")
	if err != nil {
		t.Fatalf("ExchangeCode: %v", err)
	}
	if merchantID != "M123" {
		t.Errorf("merchant id = %q, want M123", merchantID)
	}
	if creds.AccessToken != "at-1" || creds.RefreshToken != "rt-1" {
		t.Errorf("unexpected credentials: %+v", creds)
	}
	if creds.ExpiryDate == 0 {
		t.Error("expected expiry date from expires_at")
	}
}

func TestExchangeCodeAcuityFormEncoded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
			t.Errorf("content type = %q", ct)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.PostForm.Get("redirect_uri") != "https://example.com/callback" {
			t.Errorf("redirect_uri = %q", r.PostForm.Get("redirect_uri"))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "at-acuity",
			"refresh_token": "rt-acuity",
			"expires_in":    3600,
			"token_type":    "bearer",
		})
	}))
	defer server.Close()

	app := testOAuthApp(t, Acuity, server)
	creds, _, err := app.ExchangeCode(context.Background(), "code")
	if err != nil {
		t.Fatalf("ExchangeCode: %v", err)
	}
	wantExpiry := time.Now().Add(time.Hour).UnixMilli()
	if diff := creds.ExpiryDate - wantExpiry; diff < -5000 || diff > 5000 {
		t.Errorf("expiry %d not near %d", creds.ExpiryDate, wantExpiry)
	}
}

func TestRefreshPreservesNonRotatingFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// Calendly's refresh response repeats neither the refresh token nor
		// the person/organization URIs.
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at-new",
			"expires_in":   7200,
			"token_type":   "bearer",
		})
	}))
	defer server.Close()

	app := testOAuthApp(t, Calendly, server)
	creds := &vault.Credentials{
		AccessToken:     "at-old",
		RefreshToken:    "rt-keep",
		TokenType:       "bearer",
		UserURI:         "https://api.calendly.com/users/U1",
		OrganizationURI: "https://api.calendly.com/organizations/O1",
	}

	next, err := app.Refresh(context.Background(), creds)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if next.AccessToken != "at-new" {
		t.Errorf("access token = %q", next.AccessToken)
	}
	if next.RefreshToken != "rt-keep" {
		t.Errorf("refresh token not preserved: %q", next.RefreshToken)
	}
	if next.UserURI != creds.UserURI || next.OrganizationURI != creds.OrganizationURI {
		t.Errorf("calendly URIs not preserved: %+v", next)
	}
	if creds.AccessToken != "at-old" {
		t.Error("Refresh mutated its input")
	}
}

func TestRefreshRotatesTokenWhenIssued(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "at-new",
			"refresh_token": "rt-new",
			"expires_in":    3600,
		})
	}))
	defer server.Close()

	app := testOAuthApp(t, Square, server)
	next, err := app.Refresh(context.Background(), &vault.Credentials{RefreshToken: "rt-old", AccessToken: "at"})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if next.RefreshToken != "rt-new" {
		t.Errorf("refresh token = %q, want rt-new", next.RefreshToken)
	}
}

func TestRefreshRejectedIsAuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	app := testOAuthApp(t, Square, server)
	_, err := app.Refresh(context.Background(), &vault.Credentials{RefreshToken: "rt-revoked"})
	if !IsAuthError(err) {
		t.Fatalf("expected AuthError for 400 refresh rejection, got %T: %v", err, err)
	}
	var ae *AuthError
	errors.As(err, &ae)
	if ae.Status != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", ae.Status)
	}
}

func TestRefreshGoogleRejectedIsAuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	u, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	client := &http.Client{Transport: rewriteTransport{target: u}}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, client)

	app := testOAuthApp(t, Google, nil)
	_, err = app.Refresh(ctx, &vault.Credentials{RefreshToken: "rt-revoked"})
	if !IsAuthError(err) {
		t.Fatalf("expected AuthError for 400 refresh rejection, got %T: %v", err, err)
	}
	var ae *AuthError
	errors.As(err, &ae)
	if ae.Status != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", ae.Status)
	}
}

func TestRefreshGoogleTransportFailureIsTransient(t *testing.T) {
	client := &http.Client{Transport: failingTransport{}}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, client)

	app := testOAuthApp(t, Google, nil)
	_, err := app.Refresh(ctx, &vault.Credentials{RefreshToken: "rt-fine"})
	if err == nil {
		t.Fatal("expected error")
	}
	if IsAuthError(err) {
		t.Fatalf("network failure must not revoke the grant: %v", err)
	}
	var te *TransientError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransientError, got %T: %v", err, err)
	}
}

type failingTransport struct{}

func (failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, errors.New("connection refused")
}

func TestRefreshWithoutRefreshToken(t *testing.T) {
	app := testOAuthApp(t, Google, nil)
	_, err := app.Refresh(context.Background(), &vault.Credentials{AccessToken: "at"})
	if !IsAuthError(err) {
		t.Fatalf("expected AuthError, got %v", err)
	}
}

func TestFetchProfileCalendlyRequiresURIs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"resource": map[string]string{
				"email": "owner@example.com",
				"name":  "Owner",
				// uri and current_organization missing
			},
		})
	}))
	defer server.Close()

	app := testOAuthApp(t, Calendly, server)
	if _, err := app.FetchProfile(context.Background(), &vault.Credentials{AccessToken: "at"}, ""); err == nil {
		t.Fatal("expected error when users/me omits uri and organization")
	}
}

func TestFetchProfileSquareUsesMerchant(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/merchants/M123" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if v := r.Header.Get("Square-Version"); v != squareAPIVersion {
			t.Errorf("Square-Version = %q", v)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"merchant": map[string]string{
				"id":            "M123",
				"business_name": "Glow Spa",
			},
		})
	}))
	defer server.Close()

	app := testOAuthApp(t, Square, server)
	profile, err := app.FetchProfile(context.Background(), &vault.Credentials{AccessToken: "at"}, "M123")
	if err != nil {
		t.Fatalf("FetchProfile: %v", err)
	}
	if profile.SquareMerchantID != "M123" || profile.Name != "Glow Spa" {
		t.Errorf("unexpected profile: %+v", profile)
	}
}
