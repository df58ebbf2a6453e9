package forgeauth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsCollectorRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsCollectorWithRegisterer(reg)

	m.RecordRequest(http.MethodGet, 200, 25*time.Millisecond)
	m.RecordRetry(http.MethodGet, 1)
	m.RecordError(ErrorTypeNetwork, http.MethodGet)
	m.RecordCircuitBreakerState(StateOpen)
	m.RecordTokenCacheHit("data:read")
	m.RecordTokenCacheMiss("data:read")
	m.RecordTokenAcquisition("data:read", false)
	m.RecordTokenAcquisition("data:read", true)
	m.RecordRefreshRetry("data:read")

	if got := testutil.ToFloat64(m.retriesTotal.WithLabelValues(http.MethodGet)); got != 1 {
		t.Errorf("Expected 1 retry recorded, got %v", got)
	}
	if got := testutil.ToFloat64(m.circuitBreakerState); got != float64(StateOpen) {
		t.Errorf("Expected breaker state gauge=%d, got %v", StateOpen, got)
	}
	if got := testutil.ToFloat64(m.tokenAcquisitions.WithLabelValues("data:read", "true")); got != 1 {
		t.Errorf("Expected 1 refreshing acquisition, got %v", got)
	}
}

func TestClientRecordsTokenMetrics(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"token_type":"Bearer","access_token":"xyz","expires_in":"3600"}`)
	}))
	defer tokenSrv.Close()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	reg := prometheus.NewRegistry()
	m := NewMetricsCollectorWithRegisterer(reg)
	client := newTestClient(tokenSrv.URL, WithMetricsCollector(m))

	ctx := WithRequestScope(context.Background(), "data:read")
	for i := 0; i < 2; i++ {
		resp, err := client.Get(ctx, server.URL)
		if err != nil {
			t.Fatalf("Get() returned error: %v", err)
		}
		resp.Body.Close()
	}

	if got := testutil.ToFloat64(m.tokenCacheMisses.WithLabelValues("data:read")); got != 1 {
		t.Errorf("Expected 1 cache miss, got %v", got)
	}
	if got := testutil.ToFloat64(m.tokenCacheHits.WithLabelValues("data:read")); got != 1 {
		t.Errorf("Expected 1 cache hit, got %v", got)
	}
	if got := testutil.ToFloat64(m.tokenAcquisitions.WithLabelValues("data:read", "false")); got != 1 {
		t.Errorf("Expected 1 acquisition, got %v", got)
	}
	if got := testutil.ToFloat64(m.requestsTotal.WithLabelValues(http.MethodGet, "200")); got != 2 {
		t.Errorf("Expected 2 completed requests, got %v", got)
	}
}
