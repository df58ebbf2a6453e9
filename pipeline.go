package forgeauth

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/erymski/forgeauth/internal/backoff"
)

// Pipeline defaults.
const (
	DefaultMaxRetries     = 3
	DefaultInitialDelay   = 500 * time.Millisecond
	DefaultMaxDelay       = 20 * time.Second
	DefaultAttemptTimeout = 10 * time.Second
)

// DefaultRetryCondition qualifies transport-level failures and the transient
// status codes 408, 429, 502, 503 and 504. The circuit breaker counts
// failures with the same predicate.
func DefaultRetryCondition(resp *http.Response, err error) bool {
	if err != nil {
		return true
	}
	switch resp.StatusCode {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Pipeline is the composed resiliency policy applied to every outbound send,
// token acquisition included. It is immutable once built and shared read-only
// across requests; the circuit breaker is its only mutable state.
//
// Stage order, outer to inner, is retry → circuit breaker → per-attempt
// timeout. Every retry attempt independently consults the breaker (so a
// request's retries cannot evade the failure count) and runs under a fresh
// timeout (so the budget is per attempt, not per retry sequence).
type Pipeline struct {
	maxRetries     int
	initialDelay   time.Duration
	maxDelay       time.Duration
	attemptTimeout time.Duration
	breaker        *CircuitBreaker
	retryCondition RetryCondition
	logger         Logger
	debug          *DebugConfig
	metrics        *MetricsCollector
}

// NewPipeline builds a pipeline around the given breaker using the default
// retry budget, jitter window and attempt timeout.
func NewPipeline(breaker *CircuitBreaker) *Pipeline {
	if breaker == nil {
		breaker = NewCircuitBreaker(CircuitBreakerConfig{})
	}
	return &Pipeline{
		maxRetries:     DefaultMaxRetries,
		initialDelay:   DefaultInitialDelay,
		maxDelay:       DefaultMaxDelay,
		attemptTimeout: DefaultAttemptTimeout,
		breaker:        breaker,
		retryCondition: DefaultRetryCondition,
	}
}

// Breaker exposes the pipeline's circuit breaker.
func (p *Pipeline) Breaker() *CircuitBreaker {
	return p.breaker
}

// Execute sends req through send under the composed policy. The last outcome
// is returned once the retry budget is spent. Caller cancellation aborts
// backoff sleeps and in-flight attempts and is reported as the context error,
// never as a breaker failure.
func (p *Pipeline) Execute(req *http.Request, send RoundTripper) (*http.Response, error) {
	ctx := req.Context()

	var resp *http.Response
	var err error

	for attempt := 0; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		if !p.breaker.Allow() {
			if p.metrics != nil {
				p.metrics.RecordError(ErrorTypeCircuitOpen, req.Method)
			}
			if p.debug.on(p.logger) && p.debug.LogCircuit {
				p.logger.Warn("Circuit breaker open", "method", req.Method, "url", req.URL.String())
			}
			return nil, &Error{
				Type:      ErrorTypeCircuitOpen,
				Message:   "circuit breaker is open",
				Cause:     ErrCircuitOpen,
				Method:    req.Method,
				URL:       req.URL.String(),
				Attempt:   attempt,
				Timestamp: time.Now(),
			}
		}

		if attempt > 0 {
			if p.metrics != nil {
				p.metrics.RecordRetry(req.Method, attempt)
			}
			if rewindErr := rewindBody(req); rewindErr != nil {
				return nil, &Error{
					Type:      ErrorTypeNetwork,
					Message:   "request body could not be rewound for retry",
					Cause:     rewindErr,
					Method:    req.Method,
					URL:       req.URL.String(),
					Attempt:   attempt,
					Timestamp: time.Now(),
				}
			}
		}

		resp, err = p.attempt(req, send)

		// Caller cancellation aborts the operation outright; it says nothing
		// about the health of the remote and must not trip the breaker.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		qualifies := p.retryCondition(resp, err)
		if qualifies {
			p.breaker.RecordFailure()
		} else {
			p.breaker.RecordSuccess()
		}
		if p.metrics != nil {
			p.metrics.RecordCircuitBreakerState(p.breaker.State())
		}

		if !qualifies || attempt >= p.maxRetries {
			break
		}

		delay := backoff.Jitter(nil, attempt+1, p.initialDelay, p.maxDelay)
		if resp != nil {
			delay += backoff.ParseRetryAfter(resp.Header.Get("Retry-After"))
			drainBody(resp)
		}

		if p.debug.on(p.logger) && p.debug.LogRetries {
			p.logger.Info("Scheduling retry", "attempt", attempt+1, "maxRetries", p.maxRetries, "backoff", delay, "url", req.URL.String())
		}

		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return nil, sleepErr
		}
	}

	if err != nil {
		var typed *Error
		if errors.As(err, &typed) {
			return nil, err
		}
		if p.metrics != nil {
			p.metrics.RecordError(ErrorTypeNetwork, req.Method)
		}
		return nil, &Error{
			Type:      ErrorTypeNetwork,
			Message:   "request failed",
			Cause:     err,
			Method:    req.Method,
			URL:       req.URL.String(),
			Timestamp: time.Now(),
		}
	}

	return resp, nil
}

// attempt performs one try under its own timeout. The timeout context is
// released when the response body is closed, not when the attempt returns,
// so callers can still read the body.
func (p *Pipeline) attempt(req *http.Request, send RoundTripper) (*http.Response, error) {
	ctx := req.Context()
	cancel := context.CancelFunc(func() {})
	if p.attemptTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, p.attemptTimeout)
	}

	resp, err := send.RoundTrip(req.Clone(ctx))
	if err != nil {
		cancel()
		// A deadline on the attempt context (with the parent still live) means
		// this try timed out; surface it as a retriable timeout failure.
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && req.Context().Err() == nil {
			if p.metrics != nil {
				p.metrics.RecordError(ErrorTypeTimeout, req.Method)
			}
			return nil, &Error{
				Type:      ErrorTypeTimeout,
				Message:   "attempt exceeded timeout",
				Cause:     ErrAttemptTimeout,
				Method:    req.Method,
				URL:       req.URL.String(),
				Timestamp: time.Now(),
			}
		}
		return nil, err
	}

	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelOnClose releases an attempt's timeout context once the response body
// is fully consumed or closed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// rewindBody resets a consumed request body ahead of a re-send.
func rewindBody(req *http.Request) error {
	if req.Body == nil || req.GetBody == nil {
		return nil
	}
	body, err := req.GetBody()
	if err != nil {
		return err
	}
	req.Body = body
	return nil
}

// drainBody discards and closes an abandoned response body so the underlying
// connection can be reused.
func drainBody(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	_ = resp.Body.Close()
}

// sleep waits for the backoff delay or until ctx is cancelled.
func sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
