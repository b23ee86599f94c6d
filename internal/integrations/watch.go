package integrations

import (
	"context"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/wolfman30/calendar-ai-platform/internal/providers"
	"github.com/wolfman30/calendar-ai-platform/internal/vault"
	"github.com/wolfman30/calendar-ai-platform/pkg/logging"
)

// WatchRegistrar establishes and tears down provider push channels after
// OAuth. Registration failure is survivable (the integration degrades to
// active_watch_failed); teardown is always best-effort.
type WatchRegistrar struct {
	repo          *Repository
	google        *providers.GoogleAdapter
	acuity        *providers.AcuityAdapter
	calendly      *providers.CalendlyAdapter
	publicBaseURL string
	channelToken  string
	logger        *logging.Logger
}

// NewWatchRegistrar wires the registrar. publicBaseURL is the externally
// reachable server root the providers will call back to.
func NewWatchRegistrar(repo *Repository, google *providers.GoogleAdapter, acuity *providers.AcuityAdapter, calendly *providers.CalendlyAdapter, publicBaseURL, channelToken string, logger *logging.Logger) *WatchRegistrar {
	if logger == nil {
		logger = logging.Default()
	}
	return &WatchRegistrar{
		repo:          repo,
		google:        google,
		acuity:        acuity,
		calendly:      calendly,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		channelToken:  channelToken,
		logger:        logger,
	}
}

func (w *WatchRegistrar) webhookURL(p providers.Provider) string {
	return w.publicBaseURL + "/webhooks/calendar/" + string(p)
}

// Register sets up push delivery for the integration and returns the
// status the row should land in: active_watching on success, active for
// Square (whose webhooks are configured at the application level), and
// active_watch_failed when registration fails.
func (w *WatchRegistrar) Register(ctx context.Context, in *Integration, creds *vault.Credentials) Status {
	switch in.Provider {
	case providers.Google:
		return w.registerGoogle(ctx, in, creds)
	case providers.Acuity:
		return w.registerAcuity(ctx, in, creds)
	case providers.Calendly:
		return w.registerCalendly(ctx, in, creds)
	case providers.Square:
		return StatusActive
	}
	return StatusActiveWatchFailed
}

func (w *WatchRegistrar) registerGoogle(ctx context.Context, in *Integration, creds *vault.Credentials) Status {
	channelID := uuid.NewString()
	result, err := w.google.Watch(ctx, creds, in.Anchor(), channelID, w.channelToken, w.webhookURL(providers.Google))
	if err != nil {
		w.logger.Error("google watch registration failed", "integration_id", in.ID, "error", err)
		return StatusActiveWatchFailed
	}

	expiration := result.Expiration
	if err := w.repo.SetGoogleWatch(ctx, in.ID, &result.ChannelID, &result.ResourceID, &expiration); err != nil {
		w.logger.Error("persist google watch failed", "integration_id", in.ID, "error", err)
		return StatusActiveWatchFailed
	}
	in.GoogleWatchChannelID = &result.ChannelID
	in.GoogleWatchResourceID = &result.ResourceID
	in.GoogleWatchExpiration = &expiration
	w.logger.Info("google watch established", "integration_id", in.ID, "channel_id", result.ChannelID, "expires", expiration)
	return StatusActiveWatching
}

func (w *WatchRegistrar) registerAcuity(ctx context.Context, in *Integration, creds *vault.Credentials) Status {
	cals, err := w.acuity.ListCalendars(ctx, creds)
	if err != nil || len(cals) == 0 {
		w.logger.Error("acuity calendar lookup failed", "integration_id", in.ID, "error", err)
		return StatusActiveWatchFailed
	}

	webhookIDs, err := w.acuity.RegisterWebhooks(ctx, creds, w.webhookURL(providers.Acuity))
	if err != nil {
		// Partial registrations are cleaned up so a retry starts fresh.
		for _, id := range webhookIDs {
			if derr := w.acuity.DeleteWebhook(ctx, creds, id); derr != nil {
				w.logger.Warn("acuity webhook cleanup failed", "webhook_id", id, "error", derr)
			}
		}
		w.logger.Error("acuity webhook registration failed", "integration_id", in.ID, "error", err)
		return StatusActiveWatchFailed
	}

	calIDs := make([]string, len(cals))
	for i, cal := range cals {
		calIDs[i] = strconv.FormatInt(cal.ID, 10)
	}
	joinedHooks := strings.Join(webhookIDs, ",")
	joinedCals := strings.Join(calIDs, ",")
	if err := w.repo.SetAcuityWebhooks(ctx, in.ID, joinedHooks, joinedCals); err != nil {
		w.logger.Error("persist acuity webhooks failed", "integration_id", in.ID, "error", err)
		return StatusActiveWatchFailed
	}
	in.AcuityWebhookID = &joinedHooks
	in.AcuityCalendarID = &joinedCals
	w.logger.Info("acuity webhooks established", "integration_id", in.ID, "webhook_ids", joinedHooks)
	return StatusActiveWatching
}

func (w *WatchRegistrar) registerCalendly(ctx context.Context, in *Integration, creds *vault.Credentials) Status {
	uri, err := w.calendly.CreateWebhookSubscription(ctx, creds, w.webhookURL(providers.Calendly))
	if err != nil {
		w.logger.Error("calendly subscription failed", "integration_id", in.ID, "error", err)
		return StatusActiveWatchFailed
	}
	if err := w.repo.SetCalendlyWebhook(ctx, in.ID, uri); err != nil {
		w.logger.Error("persist calendly subscription failed", "integration_id", in.ID, "error", err)
		return StatusActiveWatchFailed
	}
	in.CalendlyWebhookID = &uri
	w.logger.Info("calendly subscription established", "integration_id", in.ID, "subscription", uri)
	return StatusActiveWatching
}

// Teardown removes provider-side push registrations before the row is
// deleted. Failures are logged and swallowed; a dangling provider webhook
// is harmless once the row is gone.
func (w *WatchRegistrar) Teardown(ctx context.Context, in *Integration, creds *vault.Credentials) {
	if creds == nil {
		return
	}
	switch in.Provider {
	case providers.Google:
		if in.GoogleWatchChannelID != nil && in.GoogleWatchResourceID != nil {
			if err := w.google.StopWatch(ctx, creds, *in.GoogleWatchChannelID, *in.GoogleWatchResourceID); err != nil {
				w.logger.Warn("google channel stop failed", "integration_id", in.ID, "error", err)
			}
		}
	case providers.Acuity:
		if in.AcuityWebhookID != nil {
			for _, id := range strings.Split(*in.AcuityWebhookID, ",") {
				id = strings.TrimSpace(id)
				if id == "" {
					continue
				}
				if err := w.acuity.DeleteWebhook(ctx, creds, id); err != nil {
					w.logger.Warn("acuity webhook delete failed", "webhook_id", id, "error", err)
				}
			}
		}
	case providers.Calendly:
		if in.CalendlyWebhookID != nil {
			if err := w.calendly.DeleteWebhookSubscription(ctx, creds, *in.CalendlyWebhookID); err != nil {
				w.logger.Warn("calendly subscription delete failed", "integration_id", in.ID, "error", err)
			}
		}
	}
}
