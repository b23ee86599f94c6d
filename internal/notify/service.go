package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/calendar-ai-platform/internal/integrations"
	"github.com/wolfman30/calendar-ai-platform/internal/providers"
	"github.com/wolfman30/calendar-ai-platform/pkg/logging"
)

const sendTimeout = 10 * time.Second

// Service emails the account owner when their calendar connection dies and
// they must redo OAuth. It satisfies the integrations.Alerter interface.
// A nil email sender disables alerts.
type Service struct {
	email        EmailSender
	dashboardURL string
	logger       *logging.Logger
}

// NewService creates the reconnect-alert service. dashboardURL is linked in
// the email so the user can reconnect directly.
func NewService(email EmailSender, dashboardURL string, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		email:        email,
		dashboardURL: dashboardURL,
		logger:       logger,
	}
}

var _ integrations.Alerter = (*Service)(nil)

// ReconnectRequired sends a one-off alert that the integration's credentials
// are dead. Failures are logged, never propagated: the credential downgrade
// must not fail because email did.
func (s *Service) ReconnectRequired(ctx context.Context, in *integrations.Integration, reason string) {
	if s == nil || s.email == nil {
		return
	}
	if in.AccountEmail == "" {
		s.logger.Warn("reconnect alert skipped, no account email",
			"integration_id", in.ID, "provider", in.Provider)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
	defer cancel()

	provider := providerLabel(in.Provider)
	msg := EmailMessage{
		To:      in.AccountEmail,
		Subject: fmt.Sprintf("Action needed: reconnect your %s calendar", provider),
		Body:    s.plainBody(provider, reason),
		HTML:    s.htmlBody(provider, reason),
	}
	if err := s.email.Send(ctx, msg); err != nil {
		s.logger.Error("reconnect alert failed",
			"integration_id", in.ID, "provider", in.Provider, "error", err)
		return
	}
	s.logger.Info("reconnect alert sent",
		"integration_id", in.ID, "provider", in.Provider)
}

func (s *Service) plainBody(provider, reason string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `Your %s calendar connection has stopped working and appointment syncing is paused.

Reason: %s

Reconnect your calendar to resume automatic confirmation and follow-up calls.`, provider, reason)
	if s.dashboardURL != "" {
		fmt.Fprintf(&b, "\n\nReconnect here: %s", s.dashboardURL)
	}
	b.WriteString("\n\n— Calendar AI")
	return b.String()
}

func (s *Service) htmlBody(provider, reason string) string {
	link := ""
	if s.dashboardURL != "" {
		link = fmt.Sprintf(`<p><a href="%s" style="background: #2563eb; color: #fff; padding: 10px 18px; border-radius: 6px; text-decoration: none;">Reconnect calendar</a></p>`, s.dashboardURL)
	}
	return fmt.Sprintf(`<div style="font-family: sans-serif; max-width: 600px;">
<h2 style="color: #dc2626;">Calendar connection lost</h2>
<p>Your <strong>%s</strong> calendar connection has stopped working and appointment syncing is paused.</p>
<p style="background: #fef2f2; padding: 12px; border-radius: 8px; border-left: 4px solid #dc2626;">%s</p>
<p>Reconnect your calendar to resume automatic confirmation and follow-up calls.</p>
%s
<p style="color: #6b7280; font-size: 12px; margin-top: 20px;">— Calendar AI</p>
</div>`, provider, reason, link)
}

func providerLabel(p providers.Provider) string {
	switch p {
	case providers.Google:
		return "Google Calendar"
	case providers.Acuity:
		return "Acuity Scheduling"
	case providers.Calendly:
		return "Calendly"
	case providers.Square:
		return "Square Appointments"
	default:
		return string(p)
	}
}
