package forgeauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/erymski/forgeauth/internal/singleflight"
)

// grantClientCredentials is the only grant type this middleware implements.
const grantClientCredentials = "client_credentials"

// ClientCredentialsSource acquires access tokens with the OAuth2
// client-credentials grant and maintains the per-scope token cache. Token
// requests travel through the same resiliency pipeline as ordinary requests,
// so a flaky authentication endpoint is retried identically.
type ClientCredentialsSource struct {
	config    Config
	cache     *TokenCache
	pipeline  *Pipeline
	transport RoundTripper

	// group, when set, coalesces concurrent acquisitions per scope. Off by
	// default: concurrent misses may race and last write wins, which is
	// harmless since any valid token is usable.
	group *singleflight.Group

	logger  Logger
	debug   *DebugConfig
	metrics *MetricsCollector
}

// NewClientCredentialsSource returns a token source backed by the given cache
// and pipeline. transport performs the actual socket I/O for token requests.
func NewClientCredentialsSource(config Config, cache *TokenCache, pipeline *Pipeline, transport RoundTripper) *ClientCredentialsSource {
	if cache == nil {
		cache = NewTokenCache()
	}
	if pipeline == nil {
		pipeline = NewPipeline(nil)
	}
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &ClientCredentialsSource{
		config:    config,
		cache:     cache,
		pipeline:  pipeline,
		transport: transport,
	}
}

// Token returns a scheme-prefixed Authorization value for scope, consulting
// the cache unless ignoreCache forces a fresh acquisition.
func (s *ClientCredentialsSource) Token(ctx context.Context, scope string, ignoreCache bool) (string, error) {
	if !ignoreCache {
		if value, ok := s.cache.TryGet(scope); ok {
			if s.metrics != nil {
				s.metrics.RecordTokenCacheHit(scope)
			}
			if s.debug.on(s.logger) && s.debug.LogTokens {
				s.logger.Debug("Token cache hit", "scope", scope)
			}
			return value, nil
		}
		if s.metrics != nil {
			s.metrics.RecordTokenCacheMiss(scope)
		}
		if s.group != nil {
			return s.group.Do(scope, func() (string, error) {
				return s.acquire(ctx, scope, false)
			})
		}
		return s.acquire(ctx, scope, false)
	}

	// A forced refresh must not share the result of an older in-flight
	// acquisition that may carry the very token the server just rejected.
	if s.group != nil {
		s.group.Forget(scope)
	}
	return s.acquire(ctx, scope, true)
}

func (s *ClientCredentialsSource) acquire(ctx context.Context, scope string, refresh bool) (string, error) {
	if s.config.ClientID == "" || s.config.ClientSecret == "" {
		return "", &Error{
			Type:      ErrorTypeConfiguration,
			Message:   "client credentials are not configured",
			Cause:     ErrMissingCredentials,
			Scope:     scope,
			Timestamp: time.Now(),
		}
	}
	if s.config.TokenURL == "" {
		return "", &Error{
			Type:      ErrorTypeConfiguration,
			Message:   "token endpoint is not configured",
			Cause:     ErrMissingEndpoint,
			Scope:     scope,
			Timestamp: time.Now(),
		}
	}

	form := url.Values{
		"client_id":     {s.config.ClientID},
		"client_secret": {s.config.ClientSecret},
		"grant_type":    {grantClientCredentials},
		"scope":         {scope},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", &Error{
			Type:      ErrorTypeConfiguration,
			Message:   "token request could not be built",
			Cause:     err,
			Scope:     scope,
			Timestamp: time.Now(),
		}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	if s.debug.on(s.logger) && s.debug.LogTokens {
		s.logger.Debug("Acquiring token", "scope", scope, "refresh", refresh, "endpoint", s.config.TokenURL)
	}

	resp, err := s.pipeline.Execute(req, s.transport)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		return "", &Error{
			Type:       ErrorTypeToken,
			Message:    "token endpoint returned an error status",
			Scope:      scope,
			StatusCode: resp.StatusCode,
			URL:        s.config.TokenURL,
			Method:     http.MethodPost,
			Timestamp:  time.Now(),
		}
	}

	value, ttl, err := parseTokenResponse(resp.Body)
	if err != nil {
		return "", &Error{
			Type:      ErrorTypeToken,
			Message:   "token response could not be parsed",
			Cause:     err,
			Scope:     scope,
			Timestamp: time.Now(),
		}
	}

	s.cache.Put(scope, value, ttl)
	if s.metrics != nil {
		s.metrics.RecordTokenAcquisition(scope, refresh)
	}
	if s.debug.on(s.logger) && s.debug.LogTokens {
		s.logger.Debug("Token acquired", "scope", scope, "ttl", ttl)
	}

	return value, nil
}

// expirySeconds accepts expires_in both as a JSON number and as a
// numeric string, which token endpoints disagree on.
type expirySeconds int64

func (e *expirySeconds) UnmarshalJSON(data []byte) error {
	trimmed := strings.Trim(string(data), `"`)
	seconds, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid expires_in %q: %w", string(data), err)
	}
	*e = expirySeconds(seconds)
	return nil
}

// parseTokenResponse extracts the cacheable Authorization value and its
// time-to-live from a token endpoint response body.
func parseTokenResponse(body io.Reader) (string, time.Duration, error) {
	var payload struct {
		TokenType   string        `json:"token_type"`
		AccessToken string        `json:"access_token"`
		ExpiresIn   expirySeconds `json:"expires_in"`
	}

	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		return "", 0, err
	}
	if payload.AccessToken == "" {
		return "", 0, fmt.Errorf("token response has no access_token")
	}
	if payload.TokenType == "" {
		payload.TokenType = "Bearer"
	}

	value := payload.TokenType + " " + payload.AccessToken
	return value, time.Duration(payload.ExpiresIn) * time.Second, nil
}
