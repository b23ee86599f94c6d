package integrations

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/calendar-ai-platform/internal/providers"
	"github.com/wolfman30/calendar-ai-platform/pkg/logging"
)

// allowedReturnPaths are the dashboard locations the callback may redirect
// back to. Anything else falls back to the default.
var allowedReturnPaths = []string{"/onboarding", "/dashboard/integrations", "/dashboard"}

const defaultReturnPath = "/dashboard/integrations"

// oauthState is the round-tripped connect context, carried through the
// provider as an opaque base64 token.
type oauthState struct {
	UserID     string `json:"user_id"`
	Provider   string `json:"provider"`
	Timestamp  int64  `json:"timestamp"` // epoch ms
	ReturnPath string `json:"return_path"`
}

func encodeState(s oauthState) (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("integrations: encode state: %w", err)
	}
	return base64.URLEncoding.EncodeToString(raw), nil
}

func decodeState(token string) (oauthState, error) {
	var s oauthState
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return s, fmt.Errorf("integrations: decode state: %w", err)
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return s, fmt.Errorf("integrations: parse state: %w", err)
	}
	return s, nil
}

// validateState checks completeness, freshness, and the return path.
func validateState(s oauthState, ttl time.Duration) error {
	if s.UserID == "" || s.Provider == "" || s.Timestamp == 0 {
		return errors.New("state missing required fields")
	}
	if _, err := uuid.Parse(s.UserID); err != nil {
		return errors.New("state user id invalid")
	}
	issued := time.UnixMilli(s.Timestamp)
	if time.Since(issued) > ttl || issued.After(time.Now().Add(time.Minute)) {
		return errors.New("state expired")
	}
	if s.ReturnPath != "" {
		if !strings.HasPrefix(s.ReturnPath, "/") || !returnPathAllowed(s.ReturnPath) {
			return errors.New("return path not allowed")
		}
	}
	return nil
}

func returnPathAllowed(path string) bool {
	for _, allowed := range allowedReturnPaths {
		if path == allowed {
			return true
		}
	}
	return false
}

// Handler serves the OAuth connect flow and integration management
// endpoints.
type Handler struct {
	repo       *Repository
	service    *Service
	registrar  *WatchRegistrar
	oauthApps  map[providers.Provider]*providers.OAuthApp
	configured func(providers.Provider) bool

	dashboardURL string
	stateTTL     time.Duration
	logger       *logging.Logger
}

// NewHandler wires the integration HTTP surface.
func NewHandler(repo *Repository, service *Service, registrar *WatchRegistrar, oauthApps map[providers.Provider]*providers.OAuthApp, configured func(providers.Provider) bool, dashboardURL string, stateTTL time.Duration, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	if stateTTL <= 0 {
		stateTTL = 15 * time.Minute
	}
	return &Handler{
		repo:         repo,
		service:      service,
		registrar:    registrar,
		oauthApps:    oauthApps,
		configured:   configured,
		dashboardURL: strings.TrimRight(dashboardURL, "/"),
		stateTTL:     stateTTL,
		logger:       logger,
	}
}

// Routes returns the chi router for /calendar.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/connect", h.HandleConnect)
	r.Get("/callback", h.HandleCallback)
	r.Get("/integration", h.HandleGetIntegration)
	r.Delete("/integration", h.HandleDisconnect)
	r.Get("/health", h.HandleHealth)
	return r
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (h *Handler) userID(r *http.Request) (uuid.UUID, error) {
	raw := r.URL.Query().Get("user_id")
	if raw == "" {
		return uuid.Nil, errors.New("user_id required")
	}
	return uuid.Parse(raw)
}

// HandleConnect begins the OAuth flow.
// GET /calendar/connect?provider=google&user_id=...&return_path=/dashboard
func (h *Handler) HandleConnect(w http.ResponseWriter, r *http.Request) {
	userID, err := h.userID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "valid user_id required")
		return
	}
	provider, err := providers.Parse(r.URL.Query().Get("provider"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	app, ok := h.oauthApps[provider]
	if !ok || !h.configured(provider) {
		writeError(w, http.StatusServiceUnavailable, string(provider)+" is not configured on this server")
		return
	}

	// One integration per user: replacing a provider requires an explicit
	// disconnect first.
	if existing, err := h.repo.GetByUserID(r.Context(), userID); err == nil {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":    "a calendar integration already exists, disconnect it first",
			"provider": string(existing.Provider),
		})
		return
	} else if !errors.Is(err, ErrNotFound) {
		h.logger.Error("integration lookup failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	returnPath := r.URL.Query().Get("return_path")
	if returnPath != "" && (!strings.HasPrefix(returnPath, "/") || !returnPathAllowed(returnPath)) {
		writeError(w, http.StatusBadRequest, "return_path not allowed")
		return
	}

	state, err := encodeState(oauthState{
		UserID:     userID.String(),
		Provider:   string(provider),
		Timestamp:  time.Now().UnixMilli(),
		ReturnPath: returnPath,
	})
	if err != nil {
		h.logger.Error("state encoding failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	authURL, err := app.AuthorizationURL(state)
	if err != nil {
		h.logger.Error("authorization url failed", "provider", provider, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("initiating calendar oauth", "user_id", userID, "provider", provider)
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleCallback completes the OAuth flow.
// GET /calendar/callback?code=...&state=...
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	state, err := decodeState(q.Get("state"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid state")
		return
	}
	if err := validateState(state, h.stateTTL); err != nil {
		h.logger.Warn("oauth state rejected", "reason", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	userID := uuid.MustParse(state.UserID)
	provider := providers.Provider(state.Provider)

	if errParam := q.Get("error"); errParam != "" {
		h.logger.Warn("provider denied oauth", "provider", provider, "error", errParam)
		h.redirectResult(w, r, state.ReturnPath, "calendar_error", errParam)
		return
	}
	code := q.Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing code")
		return
	}

	app, ok := h.oauthApps[provider]
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown provider in state")
		return
	}

	creds, merchantID, err := app.ExchangeCode(ctx, code)
	if err != nil {
		h.logger.Error("code exchange failed", "provider", provider, "error", err)
		h.redirectResult(w, r, state.ReturnPath, "calendar_error", "token_exchange_failed")
		return
	}

	profile, err := app.FetchProfile(ctx, creds, merchantID)
	if err != nil {
		h.logger.Error("profile fetch failed", "provider", provider, "error", err)
		h.redirectResult(w, r, state.ReturnPath, "calendar_error", "profile_fetch_failed")
		return
	}
	creds.UserURI = profile.UserURI
	creds.OrganizationURI = profile.OrganizationURI

	encrypted, err := h.service.vault.Encrypt(creds)
	if err != nil {
		h.logger.Error("credential encryption failed", "provider", provider, "error", err)
		h.redirectResult(w, r, state.ReturnPath, "calendar_error", "internal_error")
		return
	}

	in := &Integration{
		UserID:               userID,
		Provider:             provider,
		AccountEmail:         profile.Email,
		EncryptedCredentials: encrypted,
		Status:               StatusPending,
		HasRefreshToken:      creds.RefreshToken != "",
	}
	if provider == providers.Square && profile.SquareMerchantID != "" {
		in.SquareMerchantID = &profile.SquareMerchantID
	}

	if _, err := h.repo.Upsert(ctx, in); err != nil {
		h.logger.Error("integration upsert failed", "user_id", userID, "error", err)
		h.redirectResult(w, r, state.ReturnPath, "calendar_error", "internal_error")
		return
	}

	// Watch registration failure degrades, never aborts: the connection
	// itself succeeded and polling still works.
	status := h.registrar.Register(ctx, in, creds)
	if _, err := h.repo.UpdateStatus(ctx, in.ID, status, ""); err != nil {
		h.logger.Error("status update failed", "integration_id", in.ID, "error", err)
	}

	h.logger.Info("calendar connected", "user_id", userID, "provider", provider, "status", status)
	h.redirectResult(w, r, state.ReturnPath, "calendar_connected", string(provider))
}

func (h *Handler) redirectResult(w http.ResponseWriter, r *http.Request, returnPath, key, value string) {
	if returnPath == "" {
		returnPath = defaultReturnPath
	}
	target := h.dashboardURL + returnPath + "?" + key + "=" + url.QueryEscape(value)
	http.Redirect(w, r, target, http.StatusFound)
}

// HandleGetIntegration reports the user's integration without credentials.
// GET /calendar/integration?user_id=...
func (h *Handler) HandleGetIntegration(w http.ResponseWriter, r *http.Request) {
	userID, err := h.userID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "valid user_id required")
		return
	}

	in, err := h.repo.GetByUserID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeJSON(w, http.StatusOK, map[string]any{"connected": false})
			return
		}
		h.logger.Error("integration lookup failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"connected":         true,
		"provider":          in.Provider,
		"account_email":     in.AccountEmail,
		"status":            in.Status,
		"status_message":    in.StatusMessage,
		"reconnect_needed":  in.Status.ReconnectRequired(),
		"last_webhook_at":   in.LastWebhookAt,
		"last_synced_at":    in.LastSyncedAt,
		"connected_at":      in.CreatedAt,
		"has_refresh_token": in.HasRefreshToken,
	})
}

// HandleDisconnect removes the integration, tearing down provider-side
// webhooks best-effort first.
// DELETE /calendar/integration?user_id=...
func (h *Handler) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	userID, err := h.userID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "valid user_id required")
		return
	}
	ctx := r.Context()

	in, err := h.repo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "no integration to disconnect")
			return
		}
		h.logger.Error("integration lookup failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	// Provider-side cleanup must never block the disconnect; decryption
	// failure simply means there is nothing we can tear down.
	if creds, derr := h.service.vault.Decrypt(in.EncryptedCredentials); derr == nil {
		h.registrar.Teardown(ctx, in, creds)
	} else {
		h.logger.Warn("skipping provider cleanup, credentials unreadable", "integration_id", in.ID)
	}

	if _, err := h.repo.Delete(ctx, userID); err != nil {
		h.logger.Error("integration delete failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("calendar disconnected", "user_id", userID, "provider", in.Provider)
	writeJSON(w, http.StatusOK, map[string]any{"disconnected": true, "provider": in.Provider})
}

// HandleHealth reports which providers have complete server configuration.
// GET /calendar/health
func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	status := make(map[string]bool, len(providers.All))
	for _, p := range providers.All {
		status[string(p)] = h.configured(p)
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": status})
}
