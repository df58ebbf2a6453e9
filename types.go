package forgeauth

import (
	"context"
	"net/http"
	"time"
)

// RetryCondition reports whether an attempt outcome qualifies as a transient
// failure. The same predicate drives both the retry policy and the circuit
// breaker's failure counting.
type RetryCondition func(resp *http.Response, err error) bool

// Middleware represents a middleware function wrapped around the transport send.
type Middleware func(req *http.Request, next RoundTripper) (*http.Response, error)

// RoundTripper represents the HTTP transport interface.
type RoundTripper interface {
	RoundTrip(*http.Request) (*http.Response, error)
}

// RoundTripperFunc adapts a function to the RoundTripper interface.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// CircuitBreakerConfig holds circuit breaker configuration.
type CircuitBreakerConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	SuccessThreshold int
}

// CircuitState represents the state of the circuit breaker.
type CircuitState int64

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// TokenSource produces cacheable Authorization header values for a scope.
// Implementations must be safe for concurrent use. ignoreCache forces a fresh
// acquisition even when a live token exists for the scope.
type TokenSource interface {
	Token(ctx context.Context, scope string, ignoreCache bool) (string, error)
}

// Option represents a configuration option.
type Option func(*Client)

// Context keys for per-request annotations.
type contextKey string

const scopeKey contextKey = "forgeauth_scope"
