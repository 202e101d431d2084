package asr

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	// ErrNoCredentials is returned when app id, key or secret is missing.
	ErrNoCredentials = errors.New("asr: credentials required")

	// ErrSessionClosed is returned when the service closed the connection
	// before sending a final result.
	ErrSessionClosed = errors.New("asr: session closed before final result")

	// ErrFinalTimeout is returned when no final result arrives in time
	// after the last audio frame.
	ErrFinalTimeout = errors.New("asr: timed out waiting for final result")
)

// Service error codes with dedicated helpers.
const (
	codeAuthFailed     = 11200
	codeAppIDInvalid   = 10313
	codeLicenseLimit   = 11201
	codeSessionTimeout = 10114
	codeReadTimeout    = 10200
	codeEngineBusy     = 10700
)

// APIError is a non-zero code returned by the service, or a failed
// websocket handshake (Code is then the HTTP status).
type APIError struct {
	Code    int
	Message string
	SID     string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.SID != "" {
		return fmt.Sprintf("asr: API error %d (sid %s): %s", e.Code, e.SID, e.Message)
	}
	return fmt.Sprintf("asr: API error %d: %s", e.Code, e.Message)
}

// IsUnauthorized reports a signature, app id or handshake auth failure.
func (e *APIError) IsUnauthorized() bool {
	return e.Code == codeAuthFailed || e.Code == codeAppIDInvalid || e.Code == 401 || e.Code == 403
}

// IsQuotaExceeded reports that the daily call limit was reached.
func (e *APIError) IsQuotaExceeded() bool {
	return e.Code == codeLicenseLimit
}

// IsTimeout reports a server-side session or read timeout.
func (e *APIError) IsTimeout() bool {
	return e.Code == codeSessionTimeout || e.Code == codeReadTimeout
}

// IsRetryable returns true if the request should be retried.
func (e *APIError) IsRetryable() bool {
	return e.IsTimeout() || e.Code == codeEngineBusy || (e.Code >= 500 && e.Code < 600)
}
