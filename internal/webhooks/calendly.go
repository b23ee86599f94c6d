package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/wolfman30/calendar-ai-platform/internal/integrations"
	"github.com/wolfman30/calendar-ai-platform/internal/providers"
)

type calendlyDelivery struct {
	Event   string `json:"event"`
	Payload struct {
		URI                string `json:"uri"`
		Name               string `json:"name"`
		TextReminderNumber string `json:"text_reminder_number"`
		Rescheduled        bool   `json:"rescheduled"`
		OldInvitee         string `json:"old_invitee"`
		Event              string `json:"event"`
		ScheduledEvent     struct {
			URI              string    `json:"uri"`
			Name             string    `json:"name"`
			StartTime        time.Time `json:"start_time"`
			EndTime          time.Time `json:"end_time"`
			EventMemberships []struct {
				UserEmail string `json:"user_email"`
			} `json:"event_memberships"`
		} `json:"scheduled_event"`
	} `json:"payload"`
}

func (d *calendlyDelivery) hostEmail() string {
	for _, m := range d.Payload.ScheduledEvent.EventMemberships {
		if m.UserEmail != "" {
			return m.UserEmail
		}
	}
	return ""
}

func (d *calendlyDelivery) eventURI() string {
	if d.Payload.ScheduledEvent.URI != "" {
		return d.Payload.ScheduledEvent.URI
	}
	return d.Payload.Event
}

// handleCalendly correlates invitee lifecycle pushes through the host's
// email on the scheduled event, since Calendly payloads carry no account
// identifier of their own.
func (h *Handler) handleCalendly(ctx context.Context, w http.ResponseWriter, r *http.Request, body []byte) {
	if h.cfg.Secrets.Calendly != "" &&
		!VerifyCalendly(h.cfg.Secrets.Calendly, body, r.Header.Get("X-Calendly-Webhook-Signature")) {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var delivery calendlyDelivery
	if err := json.Unmarshal(body, &delivery); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}
	if delivery.Event != "invitee.created" && delivery.Event != "invitee.canceled" {
		h.drop(w, "calendly", "unhandled event type")
		return
	}
	if delivery.Payload.URI == "" || delivery.eventURI() == "" {
		http.Error(w, "missing invitee or event uri", http.StatusBadRequest)
		return
	}

	email := delivery.hostEmail()
	if email == "" {
		h.drop(w, "calendly", "no host email")
		return
	}
	in, err := h.cfg.Integrations.FindByProviderEmail(ctx, providers.Calendly, email)
	if err != nil {
		if !errors.Is(err, integrations.ErrNotFound) {
			h.logger.Error("calendly host lookup failed", "error", err)
		}
		h.drop(w, "calendly", "unknown host")
		return
	}
	if !receiving(in) {
		h.drop(w, "calendly", "integration not receiving")
		return
	}

	// A cancellation that is half of a reschedule is suppressed; the
	// paired invitee.created moves the task instead.
	if delivery.Event == "invitee.canceled" && delivery.Payload.Rescheduled {
		h.drop(w, "calendly", "reschedule cancellation")
		return
	}

	deliveryID := delivery.Event + ":" + delivery.Payload.URI
	if !h.claimDelivery(ctx, "calendly", deliveryID) {
		h.drop(w, "calendly", "duplicate delivery")
		return
	}

	h.ack(w)
	h.schedule(ctx, in, deliveryID, func(taskCtx context.Context) error {
		return h.processCalendly(taskCtx, in, &delivery)
	})
}

func (h *Handler) processCalendly(ctx context.Context, in *integrations.Integration, delivery *calendlyDelivery) error {
	creds, err := h.cfg.Service.GetValidCredentials(ctx, in)
	if err != nil {
		return err
	}
	// The push payload is a pointer; the fetched event carries the
	// authoritative times.
	ev, err := h.cfg.Calendly.FetchScheduledEvent(ctx, creds, delivery.eventURI())
	if err != nil {
		return err
	}

	end := ev.EndTime
	ch := Change{
		EventID: ev.URI,
		Start:   ev.StartTime,
		End:     &end,
		Summary: ev.Name,
		Name:    delivery.Payload.Name,
		Phone:   delivery.Payload.TextReminderNumber,
	}

	switch delivery.Event {
	case "invitee.created":
		if delivery.Payload.OldInvitee != "" {
			moved, err := h.cfg.Processor.RescheduleByPhone(ctx, in, ch)
			if err != nil || moved {
				return err
			}
		}
		ch.Kind = ChangeCreated
		return h.cfg.Processor.Process(ctx, in, ch)
	case "invitee.canceled":
		ch.Kind = ChangeCancelled
		return h.cfg.Processor.Process(ctx, in, ch)
	}
	return nil
}
