package webhooks

import (
	"time"

	"github.com/wolfman30/calendar-ai-platform/internal/callqueue"
)

// ChangeKind is what happened to the appointment on the provider side.
type ChangeKind string

const (
	ChangeCreated   ChangeKind = "created"
	ChangeCancelled ChangeKind = "cancelled"
	ChangeNoShow    ChangeKind = "no_show"
)

// Change is one appointment change after the full detail fetch, ready
// for classification. Phone is raw as the provider reported it.
type Change struct {
	Kind    ChangeKind
	EventID string
	Start   time.Time
	End     *time.Time
	Summary string
	Name    string
	Phone   string
}

// classify gates the change against the user's call activation settings
// and maps it to a call type. Appointments already in the past never
// produce a confirmation call.
func classify(ch Change, settings *callqueue.Settings, now time.Time) (callqueue.CallType, bool) {
	switch ch.Kind {
	case ChangeCreated:
		if ch.Start.After(now) && settings.Confirm.Enabled {
			return callqueue.CallConfirmAppointment, true
		}
	case ChangeCancelled:
		if settings.Cancellation.Enabled {
			return callqueue.CallRecoverCancel, true
		}
	case ChangeNoShow:
		if settings.NoShow.Enabled {
			return callqueue.CallRescheduleNoShow, true
		}
	}
	return "", false
}
