package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/wolfman30/calendar-ai-platform/internal/integrations"
)

type squareDelivery struct {
	MerchantID string `json:"merchant_id"`
	EventID    string `json:"event_id"`
	Type       string `json:"type"`
	Data       struct {
		ID string `json:"id"`
	} `json:"data"`
}

// handleSquare correlates booking pushes by merchant id.
func (h *Handler) handleSquare(ctx context.Context, w http.ResponseWriter, r *http.Request, body []byte) {
	if h.cfg.Secrets.Square != "" &&
		!VerifySquare(h.cfg.Secrets.Square, h.notificationURL(r), body, r.Header.Get("x-square-hmacsha256-signature")) {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var delivery squareDelivery
	if err := json.Unmarshal(body, &delivery); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}
	if !strings.HasPrefix(delivery.Type, "booking.") {
		h.drop(w, "square", "unhandled event type")
		return
	}
	if delivery.MerchantID == "" || delivery.Data.ID == "" {
		http.Error(w, "missing merchant or booking id", http.StatusBadRequest)
		return
	}

	in, err := h.cfg.Integrations.FindBySquareMerchant(ctx, delivery.MerchantID)
	if err != nil {
		if !errors.Is(err, integrations.ErrNotFound) {
			h.logger.Error("square merchant lookup failed", "merchant_id", delivery.MerchantID, "error", err)
		}
		h.drop(w, "square", "unknown merchant")
		return
	}
	if !receiving(in) {
		h.drop(w, "square", "integration not receiving")
		return
	}

	if !h.claimDelivery(ctx, "square", delivery.EventID) {
		h.drop(w, "square", "duplicate delivery")
		return
	}

	h.ack(w)
	bookingID := delivery.Data.ID
	h.schedule(ctx, in, delivery.EventID, func(taskCtx context.Context) error {
		return h.processSquare(taskCtx, in, bookingID)
	})
}

func (h *Handler) processSquare(ctx context.Context, in *integrations.Integration, bookingID string) error {
	creds, err := h.cfg.Service.GetValidCredentials(ctx, in)
	if err != nil {
		return err
	}
	booking, err := h.cfg.Square.FetchBooking(ctx, creds, bookingID)
	if err != nil {
		return err
	}
	start, end, err := booking.StartEnd()
	if err != nil {
		return err
	}

	ch := Change{
		EventID: booking.ID,
		Start:   start,
		End:     &end,
	}
	switch booking.Status {
	case "CANCELLED_BY_CUSTOMER", "CANCELLED_BY_SELLER", "DECLINED":
		ch.Kind = ChangeCancelled
	case "NO_SHOW":
		ch.Kind = ChangeNoShow
	default:
		ch.Kind = ChangeCreated
	}

	if booking.CustomerID != "" {
		customer, err := h.cfg.Square.FetchCustomer(ctx, creds, booking.CustomerID)
		if err != nil {
			return err
		}
		ch.Name = customer.FullName()
		ch.Phone = customer.PhoneNumber
	}
	return h.cfg.Processor.Process(ctx, in, ch)
}
