package webhooks

import (
	"context"
	"errors"
	"net/http"

	"github.com/wolfman30/calendar-ai-platform/internal/integrations"
)

// handleGoogle correlates a Calendar push notification by channel and
// resource id. The notification carries no event data; processing is an
// incremental sync against the stored token.
func (h *Handler) handleGoogle(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	channelID := r.Header.Get("X-Goog-Channel-ID")
	resourceID := r.Header.Get("X-Goog-Resource-ID")
	if channelID == "" || resourceID == "" {
		http.Error(w, "missing channel headers", http.StatusBadRequest)
		return
	}
	if h.cfg.ChannelToken != "" && r.Header.Get("X-Goog-Channel-Token") != h.cfg.ChannelToken {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Header.Get("X-Goog-Resource-State") == "sync" {
		// Bootstrap ping sent when the watch is created.
		h.ack(w)
		return
	}

	in, err := h.cfg.Integrations.FindByGoogleChannel(ctx, channelID, resourceID)
	if err != nil {
		if !errors.Is(err, integrations.ErrNotFound) {
			h.logger.Error("google channel lookup failed", "channel_id", channelID, "error", err)
		}
		h.drop(w, "google", "unknown channel")
		return
	}
	if !receiving(in) {
		h.drop(w, "google", "integration not receiving")
		return
	}

	h.ack(w)
	// Google pushes carry no claimable delivery id; the sync token makes
	// repeated syncs converge instead.
	h.schedule(ctx, in, "", func(taskCtx context.Context) error {
		return h.cfg.Syncer.Sync(taskCtx, in)
	})
}
