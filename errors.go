package forgeauth

import (
	"errors"
	"fmt"
	"time"
)

// Error type identifiers carried by *Error.Type.
const (
	ErrorTypeConfiguration = "Configuration"
	ErrorTypeNetwork       = "Network"
	ErrorTypeServer        = "Server"
	ErrorTypeTimeout       = "Timeout"
	ErrorTypeCircuitOpen   = "CircuitOpen"
	ErrorTypeToken         = "Token"
	ErrorTypeValidation    = "Validation"
)

// Sentinel errors for common failure scenarios
var (
	// ErrCircuitOpen is returned when the circuit breaker is in open state.
	ErrCircuitOpen = errors.New("forgeauth: circuit open")

	// ErrMissingEndpoint is returned when a request has no destination URL.
	ErrMissingEndpoint = errors.New("forgeauth: request has no destination URL")

	// ErrMissingCredentials is returned when client id or client secret is unset
	// at token acquisition time.
	ErrMissingCredentials = errors.New("forgeauth: client id or client secret not configured")

	// ErrAttemptTimeout is returned when a single attempt exceeds the per-attempt
	// timeout. It is retried like any transport failure.
	ErrAttemptTimeout = errors.New("forgeauth: attempt timed out")
)

// Error is the typed error returned by the client. Type identifies the failure
// class, Cause (if any) preserves the underlying error for errors.Is/As.
type Error struct {
	Type       string
	Message    string
	Cause      error
	Method     string
	URL        string
	Scope      string
	StatusCode int
	Attempt    int
	Timestamp  time.Time
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Scope != "" {
		msg = fmt.Sprintf("%s (scope %q)", msg, e.Scope)
	}
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Attempt > 0 {
		msg = fmt.Sprintf("%s (attempt %d)", msg, e.Attempt)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error types for errors.Is.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	if targetErr, ok := target.(*Error); ok {
		return e.Type == targetErr.Type
	}
	return false
}

// IsTransient determines if an error represents a transient failure that might
// succeed on retry. Configuration and validation errors are permanent; network,
// timeout and server errors are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrAttemptTimeout) {
		return true
	}

	var clientErr *Error
	if errors.As(err, &clientErr) {
		switch clientErr.Type {
		case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeServer, ErrorTypeCircuitOpen:
			return true
		default:
			return false
		}
	}

	return false
}
