package forgeauth

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector provides Prometheus metrics for the request lifecycle,
// retries, circuit breaker state and token handling. It is safe for
// concurrent use.
type MetricsCollector struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	retriesTotal *prometheus.CounterVec
	errorsTotal  *prometheus.CounterVec

	circuitBreakerState prometheus.Gauge

	tokenCacheHits    *prometheus.CounterVec
	tokenCacheMisses  *prometheus.CounterVec
	tokenAcquisitions *prometheus.CounterVec
	refreshRetries    *prometheus.CounterVec
}

// NewMetricsCollector registers and returns a collector on the default
// Prometheus registry.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegisterer(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegisterer registers and returns a collector on the
// given registry. Tests use this with a fresh registry per collector.
func NewMetricsCollectorWithRegisterer(reg prometheus.Registerer) *MetricsCollector {
	m := &MetricsCollector{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forgeauth_requests_total",
			Help: "Total outbound requests by method and final status code.",
		}, []string{"method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "forgeauth_request_duration_seconds",
			Help:    "Outbound request duration including retries and token refresh.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		retriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forgeauth_retries_total",
			Help: "Retry attempts by method.",
		}, []string{"method"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forgeauth_errors_total",
			Help: "Errors by type and method.",
		}, []string{"type", "method"}),
		circuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "forgeauth_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
		}),
		tokenCacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forgeauth_token_cache_hits_total",
			Help: "Token cache hits by scope.",
		}, []string{"scope"}),
		tokenCacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forgeauth_token_cache_misses_total",
			Help: "Token cache misses by scope.",
		}, []string{"scope"}),
		tokenAcquisitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forgeauth_token_acquisitions_total",
			Help: "Token acquisitions by scope, split by cache-bypassing refreshes.",
		}, []string{"scope", "refresh"}),
		refreshRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forgeauth_token_refresh_retries_total",
			Help: "One-shot 401 refresh retries by scope.",
		}, []string{"scope"}),
	}

	reg.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.retriesTotal,
		m.errorsTotal,
		m.circuitBreakerState,
		m.tokenCacheHits,
		m.tokenCacheMisses,
		m.tokenAcquisitions,
		m.refreshRetries,
	)

	return m
}

// RecordRequest records a completed request with its final status code.
func (m *MetricsCollector) RecordRequest(method string, statusCode int, duration time.Duration) {
	m.requestsTotal.WithLabelValues(method, strconv.Itoa(statusCode)).Inc()
	m.requestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordRetry records a retry attempt.
func (m *MetricsCollector) RecordRetry(method string, attempt int) {
	m.retriesTotal.WithLabelValues(method).Inc()
}

// RecordError records an error by type.
func (m *MetricsCollector) RecordError(errorType, method string) {
	m.errorsTotal.WithLabelValues(errorType, method).Inc()
}

// RecordCircuitBreakerState records the current breaker state.
func (m *MetricsCollector) RecordCircuitBreakerState(state CircuitState) {
	m.circuitBreakerState.Set(float64(state))
}

// RecordTokenCacheHit records a token cache hit for scope.
func (m *MetricsCollector) RecordTokenCacheHit(scope string) {
	m.tokenCacheHits.WithLabelValues(scope).Inc()
}

// RecordTokenCacheMiss records a token cache miss for scope.
func (m *MetricsCollector) RecordTokenCacheMiss(scope string) {
	m.tokenCacheMisses.WithLabelValues(scope).Inc()
}

// RecordTokenAcquisition records a token acquisition; refresh marks a
// cache-bypassing re-acquisition.
func (m *MetricsCollector) RecordTokenAcquisition(scope string, refresh bool) {
	m.tokenAcquisitions.WithLabelValues(scope, strconv.FormatBool(refresh)).Inc()
}

// RecordRefreshRetry records a 401-triggered refresh-and-resend.
func (m *MetricsCollector) RecordRefreshRetry(scope string) {
	m.refreshRetries.WithLabelValues(scope).Inc()
}
