package integrations

// Status is the lifecycle state of a calendar integration. The zero value
// is not valid; rows are created as StatusPending.
type Status string

const (
	StatusPending           Status = "pending"
	StatusActive            Status = "active"
	StatusActiveWatching    Status = "active_watching"
	StatusActiveWatchFailed Status = "active_watch_failed"

	// reconnect_required_* means the stored credentials can no longer be
	// used and the user must go through OAuth again.
	StatusReconnectDecryptionFailure Status = "reconnect_required_decryption_failure"
	StatusReconnectNoRefreshToken    Status = "reconnect_required_no_refresh_token"
	StatusReconnectRefreshFailed     Status = "reconnect_required_refresh_failed"

	// error_* statuses record provider-side failures observed during sync
	// or webhook processing. Credentials may still be fine.
	StatusErrorInvalidCredentials Status = "error_invalid_credentials"
	StatusErrorCalendarNotFound   Status = "error_calendar_not_found"
	StatusErrorGooglePermissions  Status = "error_google_api_permissions"
	StatusErrorGoogleAPI          Status = "error_google_api"
	StatusErrorWebhookProcessing  Status = "error_webhook_processing"
)

// ReconnectRequired reports whether the user must redo OAuth.
func (s Status) ReconnectRequired() bool {
	switch s {
	case StatusReconnectDecryptionFailure, StatusReconnectNoRefreshToken, StatusReconnectRefreshFailed:
		return true
	}
	return false
}

// Healthy reports whether the integration is usable for bookings.
func (s Status) Healthy() bool {
	switch s {
	case StatusActive, StatusActiveWatching, StatusActiveWatchFailed:
		return true
	}
	return false
}

// Receiving reports whether webhook deliveries for this integration should
// be processed. Square integrations never carry a watch, so plain active
// counts.
func (s Status) Receiving() bool {
	return s == StatusActiveWatching || s == StatusActive
}

// genericError reports whether the status names a failure with no root
// cause attached: error_webhook_processing and error_google_api.
func (s Status) genericError() bool {
	return s == StatusErrorWebhookProcessing || s == StatusErrorGoogleAPI
}

// CanTransition reports whether moving from one status to another is
// allowed. Two rules beyond "anything else goes":
//   - a generic error status (error_webhook_processing, error_google_api)
//     never overwrites a more specific error_* or reconnect_required_*
//     status, and
//   - reconnect_required_* statuses are only left by a successful refresh
//     or a fresh OAuth pass (targets pending/active/active_watching).
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	if to.genericError() {
		return from.Healthy() || from == StatusPending || from.genericError()
	}
	if from.ReconnectRequired() {
		switch to {
		case StatusPending, StatusActive, StatusActiveWatching, StatusActiveWatchFailed:
			return true
		}
		return false
	}
	return true
}
