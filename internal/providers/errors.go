package providers

import (
	"errors"
	"fmt"
)

// AuthError marks a provider rejection of the stored credentials (401/403,
// missing or revoked refresh token). Callers downgrade the integration to a
// reconnect-required status and never retry in-line.
type AuthError struct {
	Provider Provider
	Status   int
	Reason   string
}

func (e *AuthError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: auth rejected (status %d): %s", e.Provider, e.Status, e.Reason)
	}
	return fmt.Sprintf("%s: auth rejected: %s", e.Provider, e.Reason)
}

// ConflictError marks a 409 on event creation: the slot was taken between
// the availability check and the booking. The integration itself is healthy.
type ConflictError struct {
	Provider Provider
	Reason   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: scheduling conflict: %s", e.Provider, e.Reason)
}

// ConfigError marks missing server-side configuration (client id/secret,
// API key). Fatal for the operation, never retried automatically.
type ConfigError struct {
	Provider Provider
	Reason   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: configuration error: %s", e.Provider, e.Reason)
}

// TransientError wraps network failures and non-auth provider errors. The
// operation fails for this invocation and is left for the next natural
// retry (webhook redelivery or the next poll).
type TransientError struct {
	Provider Provider
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient failure: %v", e.Provider, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// ValidationError marks malformed caller input (bad date range, bad
// arguments). Rejected immediately with no side effects.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "invalid request: " + e.Reason }

// IsAuthError reports whether err is (or wraps) an AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// httpStatusError preserves the provider's HTTP status through error
// wrapping so callers can make status-dependent decisions.
type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.status, e.body)
}

// StatusCode extracts the provider HTTP status from err, or 0 when the
// failure never reached the provider (network error, parse error).
func StatusCode(err error) int {
	var hse *httpStatusError
	if errors.As(err, &hse) {
		return hse.status
	}
	return 0
}

// statusError maps an HTTP status from a provider API call to the error
// taxonomy: 401/403 always auth, 409 a booking conflict, everything else
// transient for the caller.
func statusError(provider Provider, status int, body string) error {
	switch status {
	case 401, 403:
		return &AuthError{Provider: provider, Status: status, Reason: truncate(body, 200)}
	case 409:
		return &ConflictError{Provider: provider, Reason: truncate(body, 200)}
	}
	return &TransientError{Provider: provider, Err: &httpStatusError{status: status, body: truncate(body, 200)}}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
