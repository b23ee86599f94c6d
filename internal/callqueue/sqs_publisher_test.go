package callqueue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"

	"github.com/wolfman30/calendar-ai-platform/pkg/logging"
)

type stubSQS struct {
	inputs []*sqs.SendMessageInput
	err    error
}

func (s *stubSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	s.inputs = append(s.inputs, params)
	if s.err != nil {
		return nil, s.err
	}
	return &sqs.SendMessageOutput{}, nil
}

func TestPublishSendsTaskMessage(t *testing.T) {
	stub := &stubSQS{}
	pub := &SQSPublisher{client: stub, queueURL: "https://sqs.test/queue", logger: logging.Default()}

	task := &Task{
		ID:              uuid.New(),
		UserID:          uuid.New(),
		CalendarEventID: "evt-123",
		EventStart:      time.Now().Add(24 * time.Hour),
		EventSummary:    "Consult",
		CustomerName:    "Maya Chen",
		CustomerPhone:   "+15125550134",
		CallType:        CallConfirmAppointment,
	}
	if err := pub.Publish(context.Background(), task); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(stub.inputs) != 1 {
		t.Fatalf("sent %d messages, want 1", len(stub.inputs))
	}
	if got := *stub.inputs[0].QueueUrl; got != "https://sqs.test/queue" {
		t.Errorf("queue URL = %s", got)
	}

	var msg taskMessage
	if err := json.Unmarshal([]byte(*stub.inputs[0].MessageBody), &msg); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if msg.TaskID != task.ID.String() || msg.CallType != CallConfirmAppointment || msg.CustomerPhone != "+15125550134" {
		t.Errorf("unexpected message: %+v", msg)
	}
}

func TestPublishNilPublisherIsNoop(t *testing.T) {
	var pub *SQSPublisher
	if err := pub.Publish(context.Background(), &Task{}); err != nil {
		t.Fatalf("nil publisher: %v", err)
	}
}

func TestNewSQSPublisherDisabledWithoutQueue(t *testing.T) {
	if p := NewSQSPublisher(nil, "", nil); p != nil {
		t.Error("publisher should be nil without a client")
	}
}
