package voicetools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/calendar-ai-platform/internal/callqueue"
	"github.com/wolfman30/calendar-ai-platform/internal/integrations"
	"github.com/wolfman30/calendar-ai-platform/internal/providers"
	"github.com/wolfman30/calendar-ai-platform/internal/vault"
	"github.com/wolfman30/calendar-ai-platform/pkg/logging"
)

var tracer = otel.Tracer("calendar.internal.voicetools")

const maxBodyBytes = 1 << 20

// Spoken responses for failure modes. The agent reads these verbatim.
const (
	msgNoAssistant  = "I couldn't find a calendar linked to this assistant."
	msgNotConnected = "No calendar is connected yet. Please connect one from the dashboard."
	msgReconnect    = "The calendar connection has expired. Please reconnect your calendar from the dashboard."
	msgConflict     = "That time slot is no longer available. Please offer another time."
	msgTransient    = "I couldn't reach the calendar service just now. Please try again in a moment."
)

type assistantResolver interface {
	ResolveAssistant(ctx context.Context, assistantID string) (uuid.UUID, error)
}

type integrationSource interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*integrations.Integration, error)
	GetValidCredentials(ctx context.Context, in *integrations.Integration) (*vault.Credentials, error)
	Adapter(p providers.Provider) (providers.Adapter, error)
}

// Handler serves the voice agent's calendar tools.
type Handler struct {
	resolver assistantResolver
	service  integrationSource
	cache    *AvailabilityCache
	secret   string
	logger   *logging.Logger
	now      func() time.Time
}

// NewHandler wires the voice tool endpoints. secret, when set, must match
// the shared-secret header on every request.
func NewHandler(resolver *callqueue.SettingsStore, service *integrations.Service, cache *AvailabilityCache, secret string, logger *logging.Logger) *Handler {
	if resolver == nil || service == nil {
		panic("voicetools: resolver and service required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		resolver: resolver,
		service:  service,
		cache:    cache,
		secret:   secret,
		logger:   logger,
		now:      time.Now,
	}
}

// Routes returns the chi router for /voice.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/tools/check-calendar-availability", h.HandleCheckAvailability)
	r.Post("/tools/create-calendar-event", h.HandleCreateEvent)
	return r
}

type availabilityArgs struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	Timezone  string `json:"timezone"`
}

type createEventArgs struct {
	Summary         string `json:"summary"`
	Description     string `json:"description"`
	StartTime       string `json:"startTime"`
	DurationMinutes int    `json:"durationMinutes"`
	CustomerName    string `json:"customerName"`
	CustomerEmail   string `json:"customerEmail"`
	Timezone        string `json:"timezone"`
}

// HandleCheckAvailability reads busy times over the requested range.
func (h *Handler) HandleCheckAvailability(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "voicetools.check_availability")
	defer span.End()

	call, assistantID, ok := h.begin(w, r)
	if !ok {
		return
	}
	span.SetAttributes(attribute.String("calendar.assistant_id", assistantID))

	h.respond(w, call.ID, func() string {
		var args availabilityArgs
		if err := call.arguments(&args); err != nil {
			return "I couldn't understand the date range. Please try again."
		}

		in, creds, msg := h.connectedIntegration(ctx, assistantID)
		if msg != "" {
			return msg
		}
		start, end, err := resolveRange(in.Provider, args.StartDate, args.EndDate, args.Timezone, h.now())
		if err != nil {
			return spoken(err)
		}

		if cached, hit := h.cache.Get(ctx, in.UserID, start, end); hit {
			return cached
		}

		adapter, err := h.service.Adapter(in.Provider)
		if err != nil {
			return msgNotConnected
		}
		avail, err := adapter.CheckAvailability(ctx, creds, providers.AvailabilityRequest{
			Anchor:   in.Anchor(),
			Start:    start,
			End:      end,
			Timezone: args.Timezone,
		})
		if err != nil {
			return spoken(err)
		}

		result := formatBusy(avail.Busy, start, end, args.Timezone)
		h.cache.Set(ctx, in.UserID, start, end, result)
		return result
	})
}

// HandleCreateEvent books an appointment on the connected calendar.
func (h *Handler) HandleCreateEvent(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "voicetools.create_event")
	defer span.End()

	call, assistantID, ok := h.begin(w, r)
	if !ok {
		return
	}
	span.SetAttributes(attribute.String("calendar.assistant_id", assistantID))

	h.respond(w, call.ID, func() string {
		var args createEventArgs
		if err := call.arguments(&args); err != nil {
			return "I couldn't understand the appointment details. Please try again."
		}
		if args.StartTime == "" {
			return "I need a start time to book the appointment."
		}
		start, err := time.Parse(time.RFC3339, args.StartTime)
		if err != nil {
			loc := loadLocation(args.Timezone)
			start, err = time.ParseInLocation("2006-01-02T15:04:05", args.StartTime, loc)
			if err != nil {
				return fmt.Sprintf("I couldn't understand the start time %q.", args.StartTime)
			}
		}
		if start.Before(h.now()) {
			return "That time is already in the past. Please pick an upcoming time."
		}
		duration := defaultDuration
		if args.DurationMinutes > 0 {
			duration = time.Duration(args.DurationMinutes) * time.Minute
		}
		if args.Summary == "" {
			args.Summary = "Appointment"
		}

		in, creds, msg := h.connectedIntegration(ctx, assistantID)
		if msg != "" {
			return msg
		}
		adapter, err := h.service.Adapter(in.Provider)
		if err != nil {
			return msgNotConnected
		}
		confirmation, err := adapter.CreateEvent(ctx, creds, providers.CreateEventRequest{
			Anchor:        in.Anchor(),
			Summary:       args.Summary,
			Description:   args.Description,
			Start:         start,
			End:           start.Add(duration),
			CustomerName:  args.CustomerName,
			CustomerEmail: args.CustomerEmail,
			Timezone:      args.Timezone,
		})
		if err != nil {
			return spoken(err)
		}
		return confirmation.Message
	})
}

// begin authenticates the request and parses the envelope.
func (h *Handler) begin(w http.ResponseWriter, r *http.Request) (*toolCall, string, bool) {
	if h.secret != "" && r.Header.Get("x-vapi-secret") != h.secret {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return nil, "", false
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return nil, "", false
	}
	req, call, err := parseEnvelope(body)
	if err != nil {
		http.Error(w, "malformed envelope", http.StatusBadRequest)
		return nil, "", false
	}
	return call, req.Message.Call.AssistantID, true
}

// respond runs the tool and always answers 200 with a flat string.
func (h *Handler) respond(w http.ResponseWriter, toolCallID string, run func() string) {
	result := run()
	writeJSON(w, http.StatusOK, toolResponse{
		Results: []toolResult{{ToolCallID: toolCallID, Result: result}},
	})
}

// connectedIntegration resolves assistant → user → usable credentials,
// returning a spoken message when any step fails.
func (h *Handler) connectedIntegration(ctx context.Context, assistantID string) (*integrations.Integration, *vault.Credentials, string) {
	userID, err := h.resolver.ResolveAssistant(ctx, assistantID)
	if err != nil {
		if errors.Is(err, callqueue.ErrUnknownAssistant) {
			return nil, nil, msgNoAssistant
		}
		h.logger.Error("assistant lookup failed", "error", err)
		return nil, nil, msgTransient
	}
	in, err := h.service.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, integrations.ErrNotFound) {
			return nil, nil, msgNotConnected
		}
		h.logger.Error("integration lookup failed", "user_id", userID, "error", err)
		return nil, nil, msgTransient
	}
	if in.Status.ReconnectRequired() {
		return nil, nil, msgReconnect
	}
	creds, err := h.service.GetValidCredentials(ctx, in)
	if err != nil {
		return nil, nil, spoken(err)
	}
	return in, creds, ""
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// spoken maps the provider error taxonomy onto voice-ready strings.
func spoken(err error) string {
	switch {
	case providers.IsAuthError(err):
		return msgReconnect
	case providers.IsConflict(err):
		return msgConflict
	case providers.IsValidation(err):
		var verr *providers.ValidationError
		errors.As(err, &verr)
		return verr.Reason
	default:
		return msgTransient
	}
}
