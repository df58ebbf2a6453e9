package forgeauth

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// WithConfig sets the client-credentials configuration.
func WithConfig(config Config) Option {
	return func(c *Client) {
		c.config = config
	}
}

// WithCredentials sets the OAuth2 client id and secret.
func WithCredentials(clientID, clientSecret string) Option {
	return func(c *Client) {
		c.config.ClientID = clientID
		c.config.ClientSecret = clientSecret
	}
}

// WithTokenURL sets the authentication endpoint.
func WithTokenURL(tokenURL string) Option {
	return func(c *Client) {
		c.config.TokenURL = tokenURL
	}
}

// WithTransport sets the underlying transport that performs socket I/O.
func WithTransport(transport RoundTripper) Option {
	return func(c *Client) {
		c.transport = transport
	}
}

// WithHTTPClient routes sends through an existing *http.Client. Its Transport
// is used when set. Note the client's own Timeout would span all retries; the
// pipeline's per-attempt timeout is usually what you want instead.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client.Transport != nil {
			c.transport = client.Transport
		} else {
			c.transport = http.DefaultTransport
		}
	}
}

// WithMiddleware adds middleware around the transport send, inside the
// resiliency pipeline: middleware runs on every attempt.
func WithMiddleware(middleware ...Middleware) Option {
	return func(c *Client) {
		c.middleware = append(c.middleware, middleware...)
	}
}

// WithMaxRetries sets the maximum number of retry attempts.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithInitialBackoff sets the lower bound of the jitter window.
func WithInitialBackoff(d time.Duration) Option {
	return func(c *Client) {
		c.initialDelay = d
	}
}

// WithMaxBackoff sets the cap of the jitter window.
func WithMaxBackoff(d time.Duration) Option {
	return func(c *Client) {
		c.maxDelay = d
	}
}

// WithAttemptTimeout sets the timeout applied to each individual attempt.
func WithAttemptTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.attemptTimeout = d
	}
}

// WithRetryCondition sets a custom transient-failure predicate. The circuit
// breaker counts failures with the same predicate.
func WithRetryCondition(fn RetryCondition) Option {
	return func(c *Client) {
		c.retryCondition = fn
	}
}

// WithCircuitBreaker sets the circuit breaker configuration.
func WithCircuitBreaker(config CircuitBreakerConfig) Option {
	return func(c *Client) {
		c.breakerConfig = config
		c.breaker = NewCircuitBreaker(config)
	}
}

// WithTokenCache sets a custom token cache (one is created by default).
func WithTokenCache(cache *TokenCache) Option {
	return func(c *Client) {
		c.cache = cache
	}
}

// WithTokenSource replaces the client-credentials token source entirely.
func WithTokenSource(source TokenSource) Option {
	return func(c *Client) {
		c.tokens = source
	}
}

// WithTokenCoalescing collapses concurrent acquisitions for the same scope
// into a single token request. Off by default: the default behavior lets
// concurrent misses race, last write to the cache wins.
func WithTokenCoalescing() Option {
	return func(c *Client) {
		c.coalesce = true
	}
}

// WithMetrics enables Prometheus metrics collection on the default registry.
func WithMetrics() Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollector()
	}
}

// WithMetricsCollector sets a custom metrics collector.
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = collector
	}
}

// WithLogger sets a custom logger for debug output.
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithZerolog routes debug output through a zerolog.Logger.
func WithZerolog(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = NewZerologLogger(logger)
	}
}

// WithSimpleLogger enables debug logging with a console logger.
func WithSimpleLogger() Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
		c.logger = NewSimpleLogger()
	}
}

// WithDebug enables debug logging with the default configuration.
func WithDebug() Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
	}
}

// WithDebugConfig sets custom debug configuration.
func WithDebugConfig(config *DebugConfig) Option {
	return func(c *Client) {
		c.debug = config
	}
}

// ValidateConfiguration validates the client configuration and returns an
// error if invalid.
func (c *Client) ValidateConfiguration() error {
	var problems []string

	problems = append(problems, c.validateRetryConfig()...)
	problems = append(problems, c.validateCircuitBreakerConfig()...)

	if len(problems) > 0 {
		return &Error{
			Type:      ErrorTypeValidation,
			Message:   "configuration validation failed",
			Cause:     fmt.Errorf("validation errors: %v", problems),
			Timestamp: time.Now(),
		}
	}

	return nil
}

func (c *Client) validateRetryConfig() []string {
	var problems []string

	if c.maxRetries < 0 {
		problems = append(problems, "maxRetries must be non-negative")
	}
	if c.initialDelay <= 0 {
		problems = append(problems, "initialBackoff must be positive")
	}
	if c.maxDelay < c.initialDelay {
		problems = append(problems, "maxBackoff must be greater than or equal to initialBackoff")
	}
	if c.attemptTimeout <= 0 {
		problems = append(problems, "attemptTimeout must be positive")
	}
	if c.retryCondition == nil {
		problems = append(problems, "retryCondition must not be nil")
	}

	return problems
}

func (c *Client) validateCircuitBreakerConfig() []string {
	var problems []string

	if c.breakerConfig.FailureThreshold < 0 {
		problems = append(problems, "circuitBreaker FailureThreshold must be non-negative")
	}
	if c.breakerConfig.RecoveryTimeout < 0 {
		problems = append(problems, "circuitBreaker RecoveryTimeout must be non-negative")
	}
	if c.breakerConfig.SuccessThreshold < 0 {
		problems = append(problems, "circuitBreaker SuccessThreshold must be non-negative")
	}

	return problems
}
