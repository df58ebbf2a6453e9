// Package forgeauth provides an outbound HTTP middleware that handles OAuth2
// client‑credentials authentication and wraps every send in a composed
// resiliency pipeline:
//
//   - Per‑scope access token caching (in memory, server‑declared lifetime)
//   - Transparent Authorization header injection for requests that declare a scope
//   - One‑shot token refresh + re‑send when the server answers 401
//   - Retries with bounded uniform jitter and Retry‑After awareness
//   - Circuit breaker (open / half‑open / closed states) shared across requests
//   - Per‑attempt timeout, independent of the retry sequence
//   - Prometheus metrics and lightweight structured debug logging
//
// Design goals:
//   - Small surface area – functional options configure everything
//   - Safe concurrent use of a single *Client instance
//   - Policy ordering is explicit: retry wraps the breaker, the breaker wraps
//     the per‑attempt timeout, so every retry consults the breaker and gets a
//     fresh timeout
//   - Extensibility via user supplied middleware & pluggable logger / metrics
//
// Typical usage:
//
//	client := forgeauth.New(
//	    forgeauth.WithConfig(forgeauth.Config{
//	        ClientID:     "id",
//	        ClientSecret: "secret",
//	        TokenURL:     "https://auth.example.com/token",
//	    }),
//	)
//	ctx := forgeauth.WithRequestScope(context.Background(), "data:read")
//	resp, err := client.Get(ctx, "https://api.example.com/data")
//
// A request that already carries an Authorization header, or whose context has
// no scope annotation, is sent as‑is: the caller owns authentication and 401
// responses are returned untouched.
package forgeauth
