package webhooks

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/wolfman30/calendar-ai-platform/internal/integrations"
)

// handleAcuity receives Acuity's form-encoded push. The payload only
// names the appointment; full detail comes from a follow-up fetch.
func (h *Handler) handleAcuity(ctx context.Context, w http.ResponseWriter, r *http.Request, body []byte) {
	if h.cfg.Secrets.Acuity != "" &&
		!VerifyAcuity(h.cfg.Secrets.Acuity, body, r.Header.Get("X-Acuity-Signature")) {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	form, err := url.ParseQuery(string(body))
	if err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}
	action := form.Get("action")
	apptID := form.Get("id")
	calendarID := form.Get("calendarID")
	if action == "" || apptID == "" {
		http.Error(w, "missing action or id", http.StatusBadRequest)
		return
	}
	if calendarID == "" {
		h.drop(w, "acuity", "no calendar id")
		return
	}

	in, err := h.cfg.Integrations.FindByAcuityCalendar(ctx, calendarID)
	if err != nil {
		if !errors.Is(err, integrations.ErrNotFound) {
			h.logger.Error("acuity calendar lookup failed", "calendar_id", calendarID, "error", err)
		}
		h.drop(w, "acuity", "unknown calendar")
		return
	}
	if !receiving(in) {
		h.drop(w, "acuity", "integration not receiving")
		return
	}

	// Scheduled and canceled fire once per appointment, so the action
	// plus id identifies the delivery. Rescheduled can legitimately
	// repeat for the same appointment and is never deduplicated.
	var deliveryID string
	if action != "appointment.rescheduled" {
		deliveryID = action + ":" + apptID
		if !h.claimDelivery(ctx, "acuity", deliveryID) {
			h.drop(w, "acuity", "duplicate delivery")
			return
		}
	}

	h.ack(w)
	h.schedule(ctx, in, deliveryID, func(taskCtx context.Context) error {
		return h.processAcuity(taskCtx, in, action, apptID)
	})
}

func (h *Handler) processAcuity(ctx context.Context, in *integrations.Integration, action, apptID string) error {
	creds, err := h.cfg.Service.GetValidCredentials(ctx, in)
	if err != nil {
		return err
	}
	appt, err := h.cfg.Acuity.FetchAppointment(ctx, creds, apptID)
	if err != nil {
		return err
	}
	start, end, err := appt.StartEnd()
	if err != nil {
		return err
	}

	ch := Change{
		EventID: apptID,
		Start:   start,
		End:     &end,
		Summary: appt.Type,
		Name:    strings.TrimSpace(appt.FirstName + " " + appt.LastName),
		Phone:   appt.Phone,
	}

	switch action {
	case "appointment.scheduled":
		ch.Kind = ChangeCreated
		return h.cfg.Processor.Process(ctx, in, ch)
	case "appointment.rescheduled":
		// Acuity keeps the appointment id across reschedules; only
		// the times move.
		moved, err := h.cfg.Processor.RescheduleByEvent(ctx, in, apptID, ch)
		if err != nil || moved {
			return err
		}
		ch.Kind = ChangeCreated
		return h.cfg.Processor.Process(ctx, in, ch)
	case "appointment.canceled":
		if appt.NoShow {
			ch.Kind = ChangeNoShow
		} else {
			ch.Kind = ChangeCancelled
		}
		return h.cfg.Processor.Process(ctx, in, ch)
	}
	h.logger.Debug("unhandled acuity action", "action", action)
	return nil
}
