package forgeauth_test

import (
	"context"
	"net/http"
	"time"

	"github.com/erymski/forgeauth"
)

// Example demonstrating construction with functional options and a scoped
// request. The scope rides the context; the Authorization header is injected
// and refreshed transparently.
func ExampleNew() {
	client := forgeauth.New(
		forgeauth.WithCredentials("client-id", "client-secret"),
		forgeauth.WithTokenURL("https://auth.example.com/token"),
		forgeauth.WithMaxRetries(3),
		forgeauth.WithAttemptTimeout(10*time.Second),
		forgeauth.WithCircuitBreaker(forgeauth.CircuitBreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  10 * time.Second,
		}),
	)

	ctx := forgeauth.WithRequestScope(context.Background(), "data:read")
	resp, err := client.Get(ctx, "https://api.example.com/data")
	if err != nil {
		return
	}
	defer resp.Body.Close()
}

// Example using the client as the transport of a plain *http.Client.
func ExampleClient_Transport() {
	client := forgeauth.New(
		forgeauth.WithCredentials("client-id", "client-secret"),
		forgeauth.WithTokenURL("https://auth.example.com/token"),
	)

	httpClient := &http.Client{Transport: client.Transport()}
	_ = httpClient
}
