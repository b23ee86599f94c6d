package webhooks

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/calendar-ai-platform/internal/integrations"
	"github.com/wolfman30/calendar-ai-platform/internal/observability/metrics"
	"github.com/wolfman30/calendar-ai-platform/internal/providers"
	"github.com/wolfman30/calendar-ai-platform/internal/vault"
	"github.com/wolfman30/calendar-ai-platform/pkg/logging"
)

var tracer = otel.Tracer("calendar.internal.webhooks")

const maxBodyBytes = 1 << 20

// Syncer pulls changed Google events after a push notification.
type Syncer interface {
	Sync(ctx context.Context, in *integrations.Integration) error
}

// IntegrationStore is the slice of the integrations repository webhook
// correlation needs.
type IntegrationStore interface {
	FindByGoogleChannel(ctx context.Context, channelID, resourceID string) (*integrations.Integration, error)
	FindByAcuityCalendar(ctx context.Context, calendarID string) (*integrations.Integration, error)
	FindByProviderEmail(ctx context.Context, provider providers.Provider, email string) (*integrations.Integration, error)
	FindBySquareMerchant(ctx context.Context, merchantID string) (*integrations.Integration, error)
	TouchWebhook(ctx context.Context, id uuid.UUID) error
}

// CredentialSource yields usable credentials and records provider
// failures against the integration.
type CredentialSource interface {
	GetValidCredentials(ctx context.Context, in *integrations.Integration) (*vault.Credentials, error)
	RecordProviderError(ctx context.Context, in *integrations.Integration, to integrations.Status, reason string)
}

type acuityFetcher interface {
	FetchAppointment(ctx context.Context, creds *vault.Credentials, id string) (*providers.AcuityAppointment, error)
}

type calendlyFetcher interface {
	FetchScheduledEvent(ctx context.Context, creds *vault.Credentials, eventURI string) (*providers.CalendlyEvent, error)
}

type squareFetcher interface {
	FetchBooking(ctx context.Context, creds *vault.Credentials, bookingID string) (*providers.SquareBooking, error)
	FetchCustomer(ctx context.Context, creds *vault.Credentials, customerID string) (*providers.SquareCustomer, error)
}

// HandlerConfig wires the webhook HTTP surface.
type HandlerConfig struct {
	Integrations IntegrationStore
	Service      CredentialSource

	Acuity   acuityFetcher
	Calendly calendlyFetcher
	Square   squareFetcher

	Syncer    Syncer
	Processor *Processor
	Processed *ProcessedStore
	Runner    *Runner

	Secrets      Secrets
	ChannelToken string
	// PublicBaseURL is the externally visible origin, used to rebuild
	// the notification URL Square signs.
	PublicBaseURL string

	Metrics *metrics.CalendarMetrics
	Logger  *logging.Logger
}

// Handler receives provider push notifications.
type Handler struct {
	cfg    HandlerConfig
	logger *logging.Logger
}

func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Integrations == nil || cfg.Service == nil || cfg.Processor == nil || cfg.Runner == nil {
		panic("webhooks: integrations, service, processor, and runner required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Handler{cfg: cfg, logger: cfg.Logger}
}

// Routes returns the chi router for /webhooks.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/calendar/{provider}", h.HandleDelivery)
	return r
}

// HandleDelivery acks a provider push and hands processing to the
// runner. Business no-ops are 200; only malformed or unauthenticated
// deliveries get a 4xx, so providers do not retry what we chose to drop.
func (h *Handler) HandleDelivery(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "webhooks.delivery")
	defer span.End()

	provider, err := providers.Parse(chi.URLParam(r, "provider"))
	if err != nil {
		http.Error(w, "unknown provider", http.StatusNotFound)
		return
	}
	span.SetAttributes(attribute.String("calendar.provider", string(provider)))

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	switch provider {
	case providers.Google:
		h.handleGoogle(ctx, w, r)
	case providers.Acuity:
		h.handleAcuity(ctx, w, r, body)
	case providers.Calendly:
		h.handleCalendly(ctx, w, r, body)
	case providers.Square:
		h.handleSquare(ctx, w, r, body)
	}
}

// ack ends the delivery with 200 before processing continues.
func (h *Handler) ack(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
}

// schedule runs fn on the runner, timing it and recording a processing
// failure as error_webhook_processing without masking an earlier status.
// A non-empty deliveryID names the dedup claim to give back on failure,
// so the provider's retry is processed instead of dropped.
func (h *Handler) schedule(ctx context.Context, in *integrations.Integration, deliveryID string, fn func(context.Context) error) {
	provider := string(in.Provider)
	h.cfg.Runner.Go(ctx, "webhook."+provider, func(taskCtx context.Context) {
		started := time.Now()
		err := fn(taskCtx)
		h.cfg.Metrics.ObserveProcessing(provider, time.Since(started).Seconds())
		if err != nil {
			h.logger.Error("webhook processing failed",
				"provider", provider, "integration_id", in.ID, "error", err)
			h.releaseClaim(taskCtx, provider, deliveryID)
			h.cfg.Service.RecordProviderError(taskCtx, in, integrations.StatusErrorWebhookProcessing, err.Error())
			h.cfg.Metrics.ObserveWebhook(provider, "error")
			return
		}
		if err := h.cfg.Integrations.TouchWebhook(taskCtx, in.ID); err != nil {
			h.logger.Warn("touch webhook failed", "integration_id", in.ID, "error", err)
		}
		h.cfg.Metrics.ObserveWebhook(provider, "processed")
	})
}

// drop acks a delivery we will not act on.
func (h *Handler) drop(w http.ResponseWriter, provider, reason string) {
	h.logger.Debug("webhook dropped", "provider", provider, "reason", reason)
	h.cfg.Metrics.ObserveWebhook(provider, "dropped")
	w.WriteHeader(http.StatusOK)
}

// claimDelivery gates provider redeliveries. Claim errors fail open: a
// duplicate call task is collapsed by the event-id upsert anyway.
func (h *Handler) claimDelivery(ctx context.Context, provider, deliveryID string) bool {
	if h.cfg.Processed == nil || deliveryID == "" {
		return true
	}
	fresh, err := h.cfg.Processed.Claim(ctx, provider, deliveryID)
	if err != nil {
		h.logger.Warn("delivery claim failed", "provider", provider, "error", err)
		return true
	}
	return fresh
}

func (h *Handler) releaseClaim(ctx context.Context, provider, deliveryID string) {
	if h.cfg.Processed == nil || deliveryID == "" {
		return
	}
	if err := h.cfg.Processed.Release(ctx, provider, deliveryID); err != nil {
		h.logger.Warn("delivery claim release failed", "provider", provider, "error", err)
	}
}

// notificationURL rebuilds the absolute URL the provider signed.
func (h *Handler) notificationURL(r *http.Request) string {
	if h.cfg.PublicBaseURL != "" {
		return strings.TrimRight(h.cfg.PublicBaseURL, "/") + r.URL.Path
	}
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}
	return scheme + "://" + r.Host + r.URL.Path
}

// receiving reports whether the integration should still get pushes.
func receiving(in *integrations.Integration) bool {
	return in.Status.Receiving()
}
