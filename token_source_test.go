package forgeauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erymski/forgeauth/internal/singleflight"
)

func newTestSource(config Config) *ClientCredentialsSource {
	return NewClientCredentialsSource(config, NewTokenCache(), newTestPipeline(nil), http.DefaultTransport)
}

func TestTokenRequestShape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		assert.Equal(t, "my-id", r.PostForm.Get("client_id"))
		assert.Equal(t, "my-secret", r.PostForm.Get("client_secret"))
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "data:read", r.PostForm.Get("scope"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"token_type":"Bearer","access_token":"xyz","expires_in":"1799"}`)
	}))
	defer server.Close()

	source := newTestSource(Config{ClientID: "my-id", ClientSecret: "my-secret", TokenURL: server.URL})

	token, err := source.Token(context.Background(), "data:read", false)
	require.NoError(t, err)
	assert.Equal(t, "Bearer xyz", token)
}

func TestTokenResponseExpiresInFormats(t *testing.T) {
	for name, body := range map[string]string{
		"numeric-string": `{"token_type":"Bearer","access_token":"xyz","expires_in":"3600"}`,
		"bare-number":    `{"token_type":"Bearer","access_token":"xyz","expires_in":3600}`,
	} {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, body)
			}))
			defer server.Close()

			cache := NewTokenCache()
			source := NewClientCredentialsSource(
				Config{ClientID: "id", ClientSecret: "secret", TokenURL: server.URL},
				cache, newTestPipeline(nil), http.DefaultTransport)

			token, err := source.Token(context.Background(), "s", false)
			require.NoError(t, err)
			assert.Equal(t, "Bearer xyz", token)

			cached, ok := cache.TryGet("s")
			assert.True(t, ok, "a one hour token must be cached and live")
			assert.Equal(t, "Bearer xyz", cached)
		})
	}
}

func TestTokenResponseMalformed(t *testing.T) {
	for name, body := range map[string]string{
		"no-access-token": `{"token_type":"Bearer","expires_in":"3600"}`,
		"bad-expires-in":  `{"token_type":"Bearer","access_token":"xyz","expires_in":"soon"}`,
		"not-json":        `<html>nope</html>`,
	} {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, body)
			}))
			defer server.Close()

			source := newTestSource(Config{ClientID: "id", ClientSecret: "secret", TokenURL: server.URL})

			_, err := source.Token(context.Background(), "s", false)
			require.Error(t, err)
			var typed *Error
			require.ErrorAs(t, err, &typed)
			assert.Equal(t, ErrorTypeToken, typed.Type)
		})
	}
}

func TestTokenMissingCredentialsFailsBeforeNetwork(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	source := newTestSource(Config{ClientID: "id", TokenURL: server.URL})

	_, err := source.Token(context.Background(), "s", false)
	require.ErrorIs(t, err, ErrMissingCredentials)
	var typed *Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, ErrorTypeConfiguration, typed.Type)
	assert.Zero(t, atomic.LoadInt32(&calls), "no network call may happen without credentials")
}

func TestTokenMissingEndpoint(t *testing.T) {
	source := newTestSource(Config{ClientID: "id", ClientSecret: "secret"})

	_, err := source.Token(context.Background(), "s", false)
	require.ErrorIs(t, err, ErrMissingEndpoint)
}

func TestTokenAcquisitionRetriesThroughPipeline(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"token_type":"Bearer","access_token":"xyz","expires_in":"3600"}`)
	}))
	defer server.Close()

	source := newTestSource(Config{ClientID: "id", ClientSecret: "secret", TokenURL: server.URL})

	token, err := source.Token(context.Background(), "s", false)
	require.NoError(t, err)
	assert.Equal(t, "Bearer xyz", token)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls), "the flaky endpoint is retried like any request")
}

func TestTokenCacheBypass(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		fmt.Fprintf(w, `{"token_type":"Bearer","access_token":"tok%d","expires_in":"3600"}`, n)
	}))
	defer server.Close()

	source := newTestSource(Config{ClientID: "id", ClientSecret: "secret", TokenURL: server.URL})

	first, err := source.Token(context.Background(), "s", false)
	require.NoError(t, err)

	// Warm cache: no acquisition.
	again, err := source.Token(context.Background(), "s", false)
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))

	// ignoreCache forces a fresh token even while the cached one is live.
	fresh, err := source.Token(context.Background(), "s", true)
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok2", fresh)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestTokenNonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	source := newTestSource(Config{ClientID: "id", ClientSecret: "secret", TokenURL: server.URL})

	_, err := source.Token(context.Background(), "s", false)
	require.Error(t, err)
	var typed *Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, ErrorTypeToken, typed.Type)
	assert.Equal(t, http.StatusForbidden, typed.StatusCode)
}

func TestTokenCoalescingCollapsesConcurrentMisses(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(50 * time.Millisecond)
		fmt.Fprint(w, `{"token_type":"Bearer","access_token":"xyz","expires_in":"3600"}`)
	}))
	defer server.Close()

	source := newTestSource(Config{ClientID: "id", ClientSecret: "secret", TokenURL: server.URL})
	source.group = singleflight.New()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := source.Token(context.Background(), "s", false)
			assert.NoError(t, err)
			assert.Equal(t, "Bearer xyz", token)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "concurrent misses must coalesce into one acquisition")
}

func TestTokenDefaultTokenType(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"access_token":"xyz","expires_in":"3600"}`)
	}))
	defer server.Close()

	source := newTestSource(Config{ClientID: "id", ClientSecret: "secret", TokenURL: server.URL})

	token, err := source.Token(context.Background(), "s", false)
	require.NoError(t, err)
	assert.Equal(t, "Bearer xyz", token)
}

func TestTokenErrorIsNotTransient(t *testing.T) {
	source := newTestSource(Config{})
	_, err := source.Token(context.Background(), "s", false)
	require.Error(t, err)
	assert.False(t, IsTransient(err))
	assert.False(t, errors.Is(err, ErrCircuitOpen))
}
