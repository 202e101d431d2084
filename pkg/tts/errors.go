package tts

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	// ErrNoCredentials is returned when app id, key or secret is missing.
	ErrNoCredentials = errors.New("tts: credentials required")

	// ErrNoVoice is returned when the voice is missing.
	ErrNoVoice = errors.New("tts: voice required")

	// ErrInvalidProsody is returned when speed, volume or pitch is outside 0-100.
	ErrInvalidProsody = errors.New("tts: speed, volume and pitch must be 0-100")

	// ErrEmptyText is returned when there is nothing to say.
	ErrEmptyText = errors.New("tts: empty text")

	// ErrTextTooLong is returned when text exceeds MaxTextBytes.
	ErrTextTooLong = errors.New("tts: text too long")

	// ErrIncomplete is returned when the connection ends before the last frame.
	ErrIncomplete = errors.New("tts: stream ended before final frame")
)

// APIError is a non-zero code returned by the service, or a failed
// websocket handshake (Code is then the HTTP status).
type APIError struct {
	// Code is the service or HTTP status code.
	Code int

	// Message is the error message from the API.
	Message string

	// SID is the service session id.
	SID string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.SID != "" {
		return fmt.Sprintf("tts: API error %d (sid %s): %s", e.Code, e.SID, e.Message)
	}
	return fmt.Sprintf("tts: API error %d: %s", e.Code, e.Message)
}

// IsUnauthorized returns true for signature, app id or handshake auth failures.
func (e *APIError) IsUnauthorized() bool {
	return e.Code == 11200 || e.Code == 10313 || e.Code == 401 || e.Code == 403
}

// IsQuotaExceeded returns true when the daily call limit was reached.
func (e *APIError) IsQuotaExceeded() bool {
	return e.Code == 11201
}

// IsServerError returns true for engine or HTTP 5xx failures.
func (e *APIError) IsServerError() bool {
	return (e.Code >= 500 && e.Code < 600) || e.Code == 10700
}

// IsRetryable returns true if the request should be retried.
func (e *APIError) IsRetryable() bool {
	return e.IsServerError()
}

// ProviderError wraps an error with provider context.
type ProviderError struct {
	Provider string
	Err      error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("tts [%s]: %v", e.Provider, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// WrapError wraps an error with provider context.
func WrapError(provider string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{Provider: provider, Err: err}
}
