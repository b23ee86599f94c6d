package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/wolfman30/calendar-ai-platform/internal/vault"
	"github.com/wolfman30/calendar-ai-platform/pkg/logging"
)

const squareAPIVersion = "2024-04-17"

// Provider OAuth endpoints. Acuity exchanges at its own host but refreshes
// through the Squarespace login service.
const (
	acuityAuthURL     = "https://acuityscheduling.com/oauth2/authorize"
	acuityTokenURL    = "https://api.acuityscheduling.com/oauth2/token"
	acuityRefreshURL  = "https://oauth.squarespace.com/api/1/login/oauth/provider/token"
	acuityUserInfoURL = "https://api.acuityscheduling.com/api/v1/me"

	calendlyAuthURL     = "https://auth.calendly.com/oauth/authorize"
	calendlyTokenURL    = "https://auth.calendly.com/oauth/token"
	calendlyUserInfoURL = "https://api.calendly.com/users/me"

	googleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"
)

var providerScopes = map[Provider][]string{
	Google: {
		"openid",
		"https://www.googleapis.com/auth/userinfo.email",
		"https://www.googleapis.com/auth/calendar",
		"https://www.googleapis.com/auth/calendar.events",
	},
	Acuity:   {"api-v1"},
	Calendly: {"default"},
	Square: {
		"APPOINTMENTS_READ",
		"APPOINTMENTS_WRITE",
		"MERCHANT_PROFILE_READ",
		"DEVELOPER_APPLICATION_WEBHOOKS_WRITE",
		"DEVELOPER_APPLICATION_WEBHOOKS_READ",
	},
}

// Profile is the identity fetched from a provider after code exchange.
// Calendly's person and organization URIs are mandatory for that provider
// since its API is user scoped rather than calendar-id scoped.
type Profile struct {
	Email            string
	Name             string
	UserURI          string
	OrganizationURI  string
	SquareMerchantID string
}

// OAuthApp holds one provider's OAuth client registration and performs the
// authorization-code and refresh grants.
type OAuthApp struct {
	Provider      Provider
	ClientID      string
	ClientSecret  string
	RedirectURI   string
	SquareSandbox bool

	httpClient *http.Client
	logger     *logging.Logger
}

// NewOAuthApp builds the OAuth client for one provider.
func NewOAuthApp(provider Provider, clientID, clientSecret, redirectURI string, logger *logging.Logger) *OAuthApp {
	if logger == nil {
		logger = logging.Default()
	}
	return &OAuthApp{
		Provider:     provider,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURI:  redirectURI,
		httpClient:   &http.Client{Timeout: 20 * time.Second},
		logger:       logger,
	}
}

func (a *OAuthApp) configured() error {
	if a.ClientID == "" || a.ClientSecret == "" {
		return &ConfigError{Provider: a.Provider, Reason: "oauth client id/secret not configured"}
	}
	return nil
}

func (a *OAuthApp) squareBaseURL() string {
	if a.SquareSandbox {
		return "https://connect.squareupsandbox.com"
	}
	return "https://connect.squareup.com"
}

// googleConfig builds the x/oauth2 config used for Google's grants.
func (a *OAuthApp) googleConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     a.ClientID,
		ClientSecret: a.ClientSecret,
		RedirectURL:  a.RedirectURI,
		Endpoint:     google.Endpoint,
		Scopes:       providerScopes[Google],
	}
}

// AuthorizationURL builds the provider consent URL carrying the opaque
// state token. Google asks for offline access so a refresh token is issued.
func (a *OAuthApp) AuthorizationURL(state string) (string, error) {
	if err := a.configured(); err != nil {
		return "", err
	}

	if a.Provider == Google {
		return a.googleConfig().AuthCodeURL(state,
			oauth2.AccessTypeOffline,
			oauth2.SetAuthURLParam("prompt", "consent"),
		), nil
	}

	base := map[Provider]string{
		Acuity:   acuityAuthURL,
		Calendly: calendlyAuthURL,
		Square:   a.squareBaseURL() + "/oauth2/authorize",
	}[a.Provider]

	params := url.Values{
		"client_id":     {a.ClientID},
		"redirect_uri":  {a.RedirectURI},
		"response_type": {"code"},
		"scope":         {strings.Join(providerScopes[a.Provider], " ")},
		"state":         {state},
	}
	return base + "?" + params.Encode(), nil
}

// tokenResponse is the union of the four providers' token payloads.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    string `json:"expires_at"` // square, RFC3339
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
	MerchantID   string `json:"merchant_id"` // square
}

func (t *tokenResponse) expiryDateMS(fallback time.Duration) int64 {
	if t.ExpiresIn > 0 {
		return time.Now().Add(time.Duration(t.ExpiresIn) * time.Second).UnixMilli()
	}
	if t.ExpiresAt != "" {
		if at, err := time.Parse(time.RFC3339, t.ExpiresAt); err == nil {
			return at.UnixMilli()
		}
	}
	return time.Now().Add(fallback).UnixMilli()
}

// ExchangeCode trades an authorization code for credentials. The Square
// response also carries the merchant id, returned separately for the
// integration record.
func (a *OAuthApp) ExchangeCode(ctx context.Context, code string) (*vault.Credentials, string, error) {
	if err := a.configured(); err != nil {
		return nil, "", err
	}

	if a.Provider == Google {
		tok, err := a.googleConfig().Exchange(ctx, code)
		if err != nil {
			return nil, "", &TransientError{Provider: Google, Err: fmt.Errorf("code exchange: %w", err)}
		}
		creds := &vault.Credentials{
			AccessToken:  tok.AccessToken,
			RefreshToken: tok.RefreshToken,
			TokenType:    tok.TokenType,
		}
		if !tok.Expiry.IsZero() {
			creds.ExpiryDate = tok.Expiry.UnixMilli()
		}
		return creds, "", nil
	}

	data := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {a.RedirectURI},
		"client_id":     {a.ClientID},
		"client_secret": {a.ClientSecret},
	}

	var tok *tokenResponse
	var err error
	switch a.Provider {
	case Acuity:
		tok, err = a.postForm(ctx, acuityTokenURL, data)
	case Calendly:
		tok, err = a.postForm(ctx, calendlyTokenURL, data)
	case Square:
		tok, err = a.postJSON(ctx, a.squareBaseURL()+"/oauth2/token", map[string]string{
			"grant_type":    "authorization_code",
			"code":          code,
			"redirect_uri":  a.RedirectURI,
			"client_id":     a.ClientID,
			"client_secret": a.ClientSecret,
		})
	default:
		return nil, "", &ConfigError{Provider: a.Provider, Reason: "unsupported provider"}
	}
	if err != nil {
		return nil, "", err
	}
	if tok.AccessToken == "" {
		return nil, "", &TransientError{Provider: a.Provider, Err: fmt.Errorf("token response missing access_token")}
	}

	return &vault.Credentials{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiryDate:   tok.expiryDateMS(time.Hour),
		TokenType:    tok.TokenType,
		Scope:        tok.Scope,
	}, tok.MerchantID, nil
}

// Refresh performs the refresh grant for the provider, preserving fields
// the refresh response does not repeat (refresh token, Calendly URIs).
func (a *OAuthApp) Refresh(ctx context.Context, creds *vault.Credentials) (*vault.Credentials, error) {
	if err := a.configured(); err != nil {
		return nil, err
	}
	if creds == nil || creds.RefreshToken == "" {
		return nil, &AuthError{Provider: a.Provider, Reason: "no refresh token"}
	}

	var tok *tokenResponse
	var err error
	switch a.Provider {
	case Google:
		src := a.googleConfig().TokenSource(ctx, &oauth2.Token{RefreshToken: creds.RefreshToken})
		gtok, gerr := src.Token()
		if gerr != nil {
			// Only a definitive rejection from Google revokes the grant.
			// Network trouble or a 5xx must stay retryable.
			var rerr *oauth2.RetrieveError
			if errors.As(gerr, &rerr) && rerr.Response != nil &&
				rerr.Response.StatusCode >= 400 && rerr.Response.StatusCode < 500 {
				return nil, &AuthError{
					Provider: Google,
					Status:   rerr.Response.StatusCode,
					Reason:   fmt.Sprintf("refresh rejected: %v", gerr),
				}
			}
			return nil, &TransientError{
				Provider: Google,
				Err:      fmt.Errorf("refresh token: %w", gerr),
			}
		}
		tok = &tokenResponse{
			AccessToken:  gtok.AccessToken,
			RefreshToken: gtok.RefreshToken,
			TokenType:    gtok.TokenType,
		}
		if !gtok.Expiry.IsZero() {
			tok.ExpiresAt = gtok.Expiry.Format(time.RFC3339)
		}
	case Acuity:
		tok, err = a.postForm(ctx, acuityRefreshURL, url.Values{
			"grant_type":    {"refresh_token"},
			"refresh_token": {creds.RefreshToken},
			"client_id":     {a.ClientID},
			"client_secret": {a.ClientSecret},
		})
	case Calendly:
		tok, err = a.postJSON(ctx, calendlyTokenURL, map[string]string{
			"grant_type":    "refresh_token",
			"refresh_token": creds.RefreshToken,
			"client_id":     a.ClientID,
			"client_secret": a.ClientSecret,
		})
	case Square:
		tok, err = a.postJSON(ctx, a.squareBaseURL()+"/oauth2/token", map[string]string{
			"grant_type":    "refresh_token",
			"refresh_token": creds.RefreshToken,
			"client_id":     a.ClientID,
			"client_secret": a.ClientSecret,
		})
	default:
		return nil, &ConfigError{Provider: a.Provider, Reason: "unsupported provider"}
	}
	if err != nil {
		// A 4xx rejection of the refresh grant means the stored token is no
		// longer usable; network failures stay transient.
		if code := StatusCode(err); code >= 400 && code < 500 {
			return nil, &AuthError{Provider: a.Provider, Status: code, Reason: "refresh grant rejected"}
		}
		return nil, err
	}

	next := *creds
	next.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		next.RefreshToken = tok.RefreshToken
	}
	next.ExpiryDate = tok.expiryDateMS(time.Hour)
	if tok.TokenType != "" {
		next.TokenType = tok.TokenType
	}
	if tok.Scope != "" {
		next.Scope = tok.Scope
	}
	return &next, nil
}

// FetchProfile retrieves the account identity for the connected provider.
// For Square, pass the merchant id returned by ExchangeCode.
func (a *OAuthApp) FetchProfile(ctx context.Context, creds *vault.Credentials, merchantID string) (*Profile, error) {
	switch a.Provider {
	case Google:
		var body struct {
			Email string `json:"email"`
			Name  string `json:"name"`
		}
		if err := a.getJSON(ctx, googleUserInfoURL, creds.AccessToken, nil, &body); err != nil {
			return nil, err
		}
		if body.Email == "" {
			return nil, &TransientError{Provider: Google, Err: fmt.Errorf("userinfo missing email")}
		}
		return &Profile{Email: body.Email, Name: body.Name}, nil

	case Acuity:
		var body struct {
			Email     string `json:"email"`
			FirstName string `json:"firstName"`
			LastName  string `json:"lastName"`
		}
		if err := a.getJSON(ctx, acuityUserInfoURL, creds.AccessToken, nil, &body); err != nil {
			return nil, err
		}
		if body.Email == "" {
			return nil, &TransientError{Provider: Acuity, Err: fmt.Errorf("me endpoint missing email")}
		}
		return &Profile{Email: body.Email, Name: strings.TrimSpace(body.FirstName + " " + body.LastName)}, nil

	case Calendly:
		var body struct {
			Resource struct {
				Email               string `json:"email"`
				Name                string `json:"name"`
				URI                 string `json:"uri"`
				CurrentOrganization string `json:"current_organization"`
			} `json:"resource"`
		}
		if err := a.getJSON(ctx, calendlyUserInfoURL, creds.AccessToken, nil, &body); err != nil {
			return nil, err
		}
		// The person and organization URIs anchor every later Calendly
		// call, so their absence aborts the whole connect flow.
		if body.Resource.Email == "" || body.Resource.URI == "" || body.Resource.CurrentOrganization == "" {
			return nil, &TransientError{Provider: Calendly, Err: fmt.Errorf("users/me missing email, uri, or organization")}
		}
		return &Profile{
			Email:           body.Resource.Email,
			Name:            body.Resource.Name,
			UserURI:         body.Resource.URI,
			OrganizationURI: body.Resource.CurrentOrganization,
		}, nil

	case Square:
		if merchantID == "" {
			return nil, &TransientError{Provider: Square, Err: fmt.Errorf("token response missing merchant_id")}
		}
		var body struct {
			Merchant struct {
				ID           string `json:"id"`
				BusinessName string `json:"business_name"`
				MainLocation string `json:"main_location_id"`
			} `json:"merchant"`
		}
		headers := map[string]string{"Square-Version": squareAPIVersion}
		if err := a.getJSON(ctx, a.squareBaseURL()+"/v2/merchants/"+merchantID, creds.AccessToken, headers, &body); err != nil {
			return nil, err
		}
		name := body.Merchant.BusinessName
		if name == "" {
			name = merchantID
		}
		return &Profile{
			Email:            name, // Square exposes no account email; the business name stands in
			Name:             name,
			SquareMerchantID: merchantID,
		}, nil
	}
	return nil, &ConfigError{Provider: a.Provider, Reason: "unsupported provider"}
}

func (a *OAuthApp) postForm(ctx context.Context, endpoint string, data url.Values) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("providers: create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return a.doToken(req)
}

func (a *OAuthApp) postJSON(ctx context.Context, endpoint string, payload map[string]string) (*tokenResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("providers: marshal token request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("providers: create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.Provider == Square {
		req.Header.Set("Square-Version", squareAPIVersion)
	}
	return a.doToken(req)
}

func (a *OAuthApp) doToken(req *http.Request) (*tokenResponse, error) {
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, &TransientError{Provider: a.Provider, Err: fmt.Errorf("token request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{Provider: a.Provider, Err: fmt.Errorf("read token response: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		a.logger.Error("provider token request failed", "provider", a.Provider, "status", resp.StatusCode)
		return nil, statusError(a.Provider, resp.StatusCode, string(body))
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, &TransientError{Provider: a.Provider, Err: fmt.Errorf("parse token response: %w", err)}
	}
	return &tok, nil
}

func (a *OAuthApp) getJSON(ctx context.Context, endpoint, accessToken string, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("providers: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return &TransientError{Provider: a.Provider, Err: fmt.Errorf("request %s: %w", endpoint, err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransientError{Provider: a.Provider, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return statusError(a.Provider, resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &TransientError{Provider: a.Provider, Err: fmt.Errorf("parse response: %w", err)}
	}
	return nil
}
