package callqueue

import (
	"time"

	"github.com/google/uuid"
)

// CallType classifies why the dialer should call the customer.
type CallType string

const (
	CallConfirmAppointment CallType = "confirm_appointment"
	CallRecoverCancel      CallType = "recover_cancellation"
	CallRescheduleNoShow   CallType = "reschedule_noshow"
)

// TaskStatus is the dialer-facing lifecycle of a queued call.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskSkipped    TaskStatus = "skipped"
	TaskDone       TaskStatus = "done"
	TaskFailed     TaskStatus = "failed"
)

// Task is one outbound call the voice agent should place. Tasks are keyed
// by the provider's event id so webhook redeliveries collapse into one row.
type Task struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	IntegrationID   *uuid.UUID
	CalendarEventID string
	EventStart      time.Time
	EventEnd        *time.Time
	EventSummary    string
	CustomerName    string
	CustomerPhone   string // E.164
	CallType        CallType
	Status          TaskStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
