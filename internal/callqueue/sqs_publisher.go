package callqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/wolfman30/calendar-ai-platform/pkg/logging"
)

// sqsAPI is the slice of the SQS client the publisher uses.
type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSPublisher mirrors newly queued call tasks onto the dialer's queue.
// The database row remains the source of truth; a publish failure is
// logged and the dialer picks the task up from its poll instead.
type SQSPublisher struct {
	client   sqsAPI
	queueURL string
	logger   *logging.Logger
}

// NewSQSPublisher creates the publisher. A nil client or empty URL yields
// a nil publisher, which disables mirroring.
func NewSQSPublisher(client *sqs.Client, queueURL string, logger *logging.Logger) *SQSPublisher {
	if client == nil || queueURL == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SQSPublisher{client: client, queueURL: queueURL, logger: logger}
}

// taskMessage is the queue payload contract with the dialer.
type taskMessage struct {
	TaskID          string     `json:"task_id"`
	UserID          string     `json:"user_id"`
	CalendarEventID string     `json:"calendar_event_id"`
	CallType        CallType   `json:"call_type"`
	CustomerName    string     `json:"customer_name"`
	CustomerPhone   string     `json:"customer_phone"`
	EventStart      time.Time  `json:"event_start_time"`
	EventEnd        *time.Time `json:"event_end_time,omitempty"`
	EventSummary    string     `json:"event_summary"`
}

// Publish sends the task to the dialer queue. Safe on a nil publisher.
func (p *SQSPublisher) Publish(ctx context.Context, t *Task) error {
	if p == nil {
		return nil
	}
	body, err := json.Marshal(taskMessage{
		TaskID:          t.ID.String(),
		UserID:          t.UserID.String(),
		CalendarEventID: t.CalendarEventID,
		CallType:        t.CallType,
		CustomerName:    t.CustomerName,
		CustomerPhone:   t.CustomerPhone,
		EventStart:      t.EventStart,
		EventEnd:        t.EventEnd,
		EventSummary:    t.EventSummary,
	})
	if err != nil {
		return fmt.Errorf("callqueue: marshal task message: %w", err)
	}

	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("callqueue: publish task: %w", err)
	}
	p.logger.Info("call task mirrored to dialer queue", "task_id", t.ID, "call_type", t.CallType)
	return nil
}
