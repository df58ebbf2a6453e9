package forgeauth

import (
	"sync"
	"time"
)

// cachedToken is a scheme-prefixed Authorization value ("Bearer xyz") with its
// absolute expiry. The server-declared lifetime is taken verbatim: no safety
// margin is subtracted, the 401 refresh path covers a token that expires
// between the cache check and the wire.
type cachedToken struct {
	value     string
	expiresAt time.Time
}

// TokenCache is an in-memory mapping from OAuth scope to access token. It is
// safe for concurrent use. Entries are only ever replaced by a newer
// acquisition for the same scope; there is no eviction, so memory is bounded
// by the number of distinct scopes the process uses.
type TokenCache struct {
	mu    sync.RWMutex
	store map[string]cachedToken
	now   func() time.Time
}

// NewTokenCache returns an empty token cache.
func NewTokenCache() *TokenCache {
	return &TokenCache{
		store: make(map[string]cachedToken),
		now:   time.Now,
	}
}

// TryGet returns the cached token for scope if present and unexpired.
func (c *TokenCache) TryGet(scope string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.store[scope]
	if !exists {
		return "", false
	}

	if !c.now().Before(entry.expiresAt) {
		return "", false
	}

	return entry.value, true
}

// Put unconditionally overwrites the entry for scope, recording
// expiry = now + ttl. Concurrent writers for the same scope race benignly:
// last write wins and any successfully acquired token is usable.
func (c *TokenCache) Put(scope, value string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.store[scope] = cachedToken{
		value:     value,
		expiresAt: c.now().Add(ttl),
	}
}

// Len reports the number of cached entries, expired or not.
func (c *TokenCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}
