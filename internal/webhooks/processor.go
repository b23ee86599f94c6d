package webhooks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/calendar-ai-platform/internal/callqueue"
	"github.com/wolfman30/calendar-ai-platform/internal/integrations"
	"github.com/wolfman30/calendar-ai-platform/internal/observability/metrics"
	"github.com/wolfman30/calendar-ai-platform/pkg/logging"
)

type taskStore interface {
	UpsertTask(ctx context.Context, t *callqueue.Task) (*callqueue.Task, error)
	SkipPendingConfirmation(ctx context.Context, calendarEventID string) (bool, error)
	UpdateEventInPlace(ctx context.Context, oldEventID, newEventID string, newStart time.Time, newEnd *time.Time) (bool, error)
	FindPendingByPhone(ctx context.Context, userID uuid.UUID, phone string) (*callqueue.Task, error)
}

type settingsLoader interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*callqueue.Settings, error)
}

type taskPublisher interface {
	Publish(ctx context.Context, t *callqueue.Task) error
}

// Processor turns appointment changes into outbound call tasks.
type Processor struct {
	tasks     taskStore
	settings  settingsLoader
	publisher taskPublisher
	metrics   *metrics.CalendarMetrics
	logger    *logging.Logger
	now       func() time.Time
}

func NewProcessor(tasks *callqueue.Repository, settings *callqueue.SettingsStore, publisher *callqueue.SQSPublisher, m *metrics.CalendarMetrics, logger *logging.Logger) *Processor {
	if tasks == nil || settings == nil {
		panic("webhooks: task repository and settings store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Processor{
		tasks:     tasks,
		settings:  settings,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// Process classifies the change and queues a call when the user's
// settings ask for one. A missing or non-NANP phone drops the change.
func (p *Processor) Process(ctx context.Context, in *integrations.Integration, ch Change) error {
	phone := NormalizePhone(ch.Phone)
	if phone == "" {
		p.logger.Debug("change dropped, no usable phone",
			"provider", in.Provider, "event_id", ch.EventID)
		p.metrics.ObserveWebhook(string(in.Provider), "no_phone")
		return nil
	}

	settings, err := p.settings.GetByUserID(ctx, in.UserID)
	if err != nil {
		return fmt.Errorf("webhooks: load settings: %w", err)
	}
	callType, ok := classify(ch, settings, p.now())
	if !ok {
		p.metrics.ObserveWebhook(string(in.Provider), "no_action")
		return nil
	}

	if callType == callqueue.CallRecoverCancel {
		if skipped, err := p.tasks.SkipPendingConfirmation(ctx, ch.EventID); err != nil {
			return err
		} else if skipped {
			p.logger.Info("pending confirmation superseded by cancellation",
				"event_id", ch.EventID)
		}
	}

	task, err := p.tasks.UpsertTask(ctx, &callqueue.Task{
		UserID:          in.UserID,
		IntegrationID:   &in.ID,
		CalendarEventID: ch.EventID,
		EventStart:      ch.Start,
		EventEnd:        ch.End,
		EventSummary:    ch.Summary,
		CustomerName:    ch.Name,
		CustomerPhone:   phone,
		CallType:        callType,
	})
	if err != nil {
		return err
	}
	p.metrics.ObserveCallQueued(string(callType))

	if p.publisher != nil {
		if err := p.publisher.Publish(ctx, task); err != nil {
			// The dialer also polls the table, so a mirror failure
			// is not fatal to the task.
			p.logger.Warn("task mirror failed", "task_id", task.ID, "error", err)
		}
	}
	p.logger.Info("call task queued",
		"provider", in.Provider, "call_type", callType, "event_id", ch.EventID)
	return nil
}

// RescheduleByEvent moves a pending task for oldEventID onto the new
// event id and times. Returns false when nothing was pending, in which
// case the caller treats the change as newly created.
func (p *Processor) RescheduleByEvent(ctx context.Context, in *integrations.Integration, oldEventID string, ch Change) (bool, error) {
	moved, err := p.tasks.UpdateEventInPlace(ctx, oldEventID, ch.EventID, ch.Start, ch.End)
	if err != nil {
		return false, err
	}
	if moved {
		p.logger.Info("pending task moved to rescheduled event",
			"provider", in.Provider, "old_event_id", oldEventID, "event_id", ch.EventID)
	}
	return moved, nil
}

// RescheduleByPhone handles reschedules that do not carry the old event
// id: the customer's pending task, if any, is moved in place.
func (p *Processor) RescheduleByPhone(ctx context.Context, in *integrations.Integration, ch Change) (bool, error) {
	phone := NormalizePhone(ch.Phone)
	if phone == "" {
		return false, nil
	}
	pending, err := p.tasks.FindPendingByPhone(ctx, in.UserID, phone)
	if err != nil {
		if errors.Is(err, callqueue.ErrTaskNotFound) {
			return false, nil
		}
		return false, err
	}
	return p.RescheduleByEvent(ctx, in, pending.CalendarEventID, ch)
}
