package forgeauth

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/erymski/forgeauth/internal/singleflight"
)

// Client is an outbound HTTP middleware that injects OAuth2 client-credentials
// tokens into requests annotated with a scope and sends every request through
// a composed retry / circuit-breaker / timeout pipeline. It is safe for
// concurrent use; construct one instance and share it.
type Client struct {
	transport  RoundTripper
	middleware []Middleware
	send       RoundTripper

	maxRetries     int
	initialDelay   time.Duration
	maxDelay       time.Duration
	attemptTimeout time.Duration
	retryCondition RetryCondition
	breakerConfig  CircuitBreakerConfig

	breaker  *CircuitBreaker
	pipeline *Pipeline
	cache    *TokenCache
	tokens   TokenSource
	config   Config
	coalesce bool

	metrics *MetricsCollector
	debug   *DebugConfig
	logger  Logger

	validationError error
}

// New constructs a Client using the provided functional options. A best effort
// validation is performed; call IsValid / ValidationError for errors.
func New(options ...Option) *Client {
	c := &Client{
		transport:      http.DefaultTransport,
		maxRetries:     DefaultMaxRetries,
		initialDelay:   DefaultInitialDelay,
		maxDelay:       DefaultMaxDelay,
		attemptTimeout: DefaultAttemptTimeout,
		retryCondition: DefaultRetryCondition,
		cache:          NewTokenCache(),
		debug:          DefaultDebugConfig(),
	}

	for _, option := range options {
		option(c)
	}

	if err := c.ValidateConfiguration(); err != nil {
		c.validationError = err
	}

	c.send = chainMiddleware(c.transport, c.middleware)

	if c.breaker == nil {
		c.breaker = NewCircuitBreaker(c.breakerConfig)
	}
	c.pipeline = &Pipeline{
		maxRetries:     c.maxRetries,
		initialDelay:   c.initialDelay,
		maxDelay:       c.maxDelay,
		attemptTimeout: c.attemptTimeout,
		breaker:        c.breaker,
		retryCondition: c.retryCondition,
		logger:         c.logger,
		debug:          c.debug,
		metrics:        c.metrics,
	}

	if c.tokens == nil {
		source := NewClientCredentialsSource(c.config, c.cache, c.pipeline, c.send)
		source.logger = c.logger
		source.debug = c.debug
		source.metrics = c.metrics
		if c.coalesce {
			source.group = singleflight.New()
		}
		c.tokens = source
	}

	return c
}

// Get performs an HTTP GET with context.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Post performs an HTTP POST with the given content type.
func (c *Client) Post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	return c.Do(req)
}

// Do executes a prepared *http.Request. When the request context carries a
// scope annotation and no Authorization header is set, a cached or freshly
// acquired token is injected and a 401 answer triggers exactly one
// cache-bypassing token refresh and re-send. Requests that bring their own
// Authorization header, or no scope, are sent under the base pipeline only
// and own their 401 handling.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	start := time.Now()

	if req.URL == nil || req.URL.String() == "" {
		return nil, &Error{
			Type:      ErrorTypeConfiguration,
			Message:   "request has no destination URL",
			Cause:     ErrMissingEndpoint,
			Method:    req.Method,
			Timestamp: time.Now(),
		}
	}

	if c.debug.on(c.logger) && c.debug.LogRequests {
		c.logger.Debug("Starting request", "method", req.Method, "url", req.URL.String())
	}

	scope, hasScope := RequestScope(req.Context())

	var resp *http.Response
	var err error
	if hasScope && req.Header.Get("Authorization") == "" {
		resp, err = c.doAuthenticated(req, scope)
	} else {
		resp, err = c.pipeline.Execute(req, c.send)
	}

	if c.metrics != nil {
		statusCode := 0
		if resp != nil {
			statusCode = resp.StatusCode
		}
		c.metrics.RecordRequest(req.Method, statusCode, time.Since(start))
	}

	return resp, err
}

// doAuthenticated injects a token for scope and layers the one-shot
// 401-refresh policy over the base pipeline.
func (c *Client) doAuthenticated(req *http.Request, scope string) (*http.Response, error) {
	token, err := c.tokens.Token(req.Context(), scope, false)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", token)

	resp, err := c.pipeline.Execute(req, c.send)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	// The server rejected the injected token. Refresh it once, bypassing the
	// cache, and re-send. A second 401 goes back to the caller untouched.
	if c.metrics != nil {
		c.metrics.RecordRefreshRetry(scope)
	}
	if c.debug.on(c.logger) && c.debug.LogTokens {
		c.logger.Info("Token rejected, refreshing", "scope", scope, "url", req.URL.String())
	}

	token, err = c.tokens.Token(req.Context(), scope, true)
	if err != nil {
		drainBody(resp)
		return nil, err
	}
	drainBody(resp)

	req.Header.Set("Authorization", token)
	if err := rewindBody(req); err != nil {
		return nil, &Error{
			Type:      ErrorTypeNetwork,
			Message:   "request body could not be rewound for refresh retry",
			Cause:     err,
			Method:    req.Method,
			URL:       req.URL.String(),
			Scope:     scope,
			Timestamp: time.Now(),
		}
	}

	return c.pipeline.Execute(req, c.send)
}

// Transport returns an http.RoundTripper view of the client, so it can serve
// as the transport of a plain *http.Client. The request is cloned before any
// mutation, per the RoundTripper contract.
func (c *Client) Transport() http.RoundTripper {
	return roundTripAdapter{client: c}
}

type roundTripAdapter struct {
	client *Client
}

func (a roundTripAdapter) RoundTrip(req *http.Request) (*http.Response, error) {
	return a.client.Do(req.Clone(req.Context()))
}

// Breaker exposes the client's circuit breaker state for observability.
func (c *Client) Breaker() *CircuitBreaker {
	return c.breaker
}

// IsValid reports whether configuration validation passed at construction.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (c *Client) ValidationError() error {
	return c.validationError
}

// chainMiddleware wraps transport with the middleware slice, first entry
// outermost.
func chainMiddleware(transport RoundTripper, middleware []Middleware) RoundTripper {
	current := transport
	for i := len(middleware) - 1; i >= 0; i-- {
		mw := middleware[i]
		next := current
		current = RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			return mw(r, next)
		})
	}
	return current
}

// WithRequestScope annotates ctx with the OAuth scope the request requires.
// The scope rides the context as a side channel; it is never sent as a header.
func WithRequestScope(ctx context.Context, scope string) context.Context {
	return context.WithValue(ctx, scopeKey, scope)
}

// RequestScope extracts the scope annotation from ctx.
func RequestScope(ctx context.Context) (string, bool) {
	scope, ok := ctx.Value(scopeKey).(string)
	if !ok || scope == "" {
		return "", false
	}
	return scope, true
}
