package webhooks

import (
	"testing"
	"time"

	"github.com/wolfman30/calendar-ai-platform/internal/callqueue"
)

func TestClassify(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	allOn := &callqueue.Settings{
		Confirm:      callqueue.CallSetting{Enabled: true},
		Cancellation: callqueue.CallSetting{Enabled: true},
		NoShow:       callqueue.CallSetting{Enabled: true},
	}
	allOff := &callqueue.Settings{}

	cases := []struct {
		name     string
		ch       Change
		settings *callqueue.Settings
		want     callqueue.CallType
		ok       bool
	}{
		{
			name:     "future created confirms",
			ch:       Change{Kind: ChangeCreated, Start: now.Add(time.Hour)},
			settings: allOn,
			want:     callqueue.CallConfirmAppointment,
			ok:       true,
		},
		{
			name:     "past created never confirms",
			ch:       Change{Kind: ChangeCreated, Start: now.Add(-time.Hour)},
			settings: allOn,
		},
		{
			name:     "created with confirmations off",
			ch:       Change{Kind: ChangeCreated, Start: now.Add(time.Hour)},
			settings: allOff,
		},
		{
			name:     "cancellation recovers",
			ch:       Change{Kind: ChangeCancelled, Start: now.Add(time.Hour)},
			settings: allOn,
			want:     callqueue.CallRecoverCancel,
			ok:       true,
		},
		{
			name:     "past cancellation still recovers",
			ch:       Change{Kind: ChangeCancelled, Start: now.Add(-time.Hour)},
			settings: allOn,
			want:     callqueue.CallRecoverCancel,
			ok:       true,
		},
		{
			name:     "no-show reschedules",
			ch:       Change{Kind: ChangeNoShow, Start: now.Add(-time.Hour)},
			settings: allOn,
			want:     callqueue.CallRescheduleNoShow,
			ok:       true,
		},
		{
			name:     "no-show with toggle off",
			ch:       Change{Kind: ChangeNoShow, Start: now.Add(-time.Hour)},
			settings: allOff,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := classify(tc.ch, tc.settings, now)
			if ok != tc.ok || got != tc.want {
				t.Errorf("classify = (%q, %v), want (%q, %v)", got, ok, tc.want, tc.ok)
			}
		})
	}
}
