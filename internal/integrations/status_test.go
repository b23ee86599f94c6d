package integrations

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{"active to watching", StatusActive, StatusActiveWatching, true},
		{"watching to generic webhook error", StatusActiveWatching, StatusErrorWebhookProcessing, true},
		{"pending to generic webhook error", StatusPending, StatusErrorWebhookProcessing, true},
		{"specific error survives generic", StatusErrorCalendarNotFound, StatusErrorWebhookProcessing, false},
		{"reconnect survives generic", StatusReconnectRefreshFailed, StatusErrorWebhookProcessing, false},
		{"reconnect recovered by refresh", StatusReconnectRefreshFailed, StatusActive, true},
		{"reconnect recovered to watching", StatusReconnectDecryptionFailure, StatusActiveWatching, true},
		{"reconnect not masked by api error", StatusReconnectNoRefreshToken, StatusErrorGoogleAPI, false},
		{"reconnect replaced by fresh oauth", StatusReconnectNoRefreshToken, StatusPending, true},
		{"same status", StatusActiveWatching, StatusActiveWatching, true},
		{"watching to specific error", StatusActiveWatching, StatusErrorInvalidCredentials, true},
		{"specific error to reconnect", StatusErrorGoogleAPI, StatusReconnectRefreshFailed, true},
		{"specific error survives generic api error", StatusErrorInvalidCredentials, StatusErrorGoogleAPI, false},
		{"permissions error survives generic api error", StatusErrorGooglePermissions, StatusErrorGoogleAPI, false},
		{"watching to generic api error", StatusActiveWatching, StatusErrorGoogleAPI, true},
		{"generic errors exchange freely", StatusErrorWebhookProcessing, StatusErrorGoogleAPI, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanTransition(tc.from, tc.to); got != tc.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
			}
		})
	}
}

func TestStatusPredicates(t *testing.T) {
	if !StatusReconnectNoRefreshToken.ReconnectRequired() || StatusActive.ReconnectRequired() {
		t.Error("ReconnectRequired misclassified")
	}
	if !StatusActiveWatchFailed.Healthy() || StatusErrorGoogleAPI.Healthy() {
		t.Error("Healthy misclassified")
	}
	if !StatusActiveWatching.Receiving() || !StatusActive.Receiving() || StatusActiveWatchFailed.Receiving() {
		t.Error("Receiving misclassified")
	}
}
