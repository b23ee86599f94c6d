package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	httpmiddleware "github.com/wolfman30/calendar-ai-platform/internal/http/middleware"
	"github.com/wolfman30/calendar-ai-platform/internal/integrations"
	"github.com/wolfman30/calendar-ai-platform/internal/voicetools"
	"github.com/wolfman30/calendar-ai-platform/internal/webhooks"
	"github.com/wolfman30/calendar-ai-platform/pkg/logging"
)

// Config holds router configuration. Nil handlers skip their routes, so the
// server runs with whatever subset is configured.
type Config struct {
	Logger             *logging.Logger
	Calendar           *integrations.Handler
	Webhooks           *webhooks.Handler
	Voice              *voicetools.Handler
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	// Per-IP rate limit on provider webhook ingestion. Zero disables.
	WebhookRateLimit float64
	WebhookRateBurst int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", handleHealth)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	// OAuth connect flow and integration CRUD for the dashboard.
	if cfg.Calendar != nil {
		r.Mount("/calendar", cfg.Calendar.Routes())
	}

	// Provider push notifications. These are unauthenticated by nature;
	// each ingestor verifies its own signature or channel token.
	if cfg.Webhooks != nil {
		r.Group(func(hooks chi.Router) {
			if cfg.WebhookRateLimit > 0 {
				hooks.Use(httpmiddleware.RateLimit(cfg.WebhookRateLimit, cfg.WebhookRateBurst))
			}
			hooks.Mount("/webhooks", cfg.Webhooks.Routes())
		})
	}

	// Voice agent tool calls.
	if cfg.Voice != nil {
		r.Mount("/voice", cfg.Voice.Routes())
	}

	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
