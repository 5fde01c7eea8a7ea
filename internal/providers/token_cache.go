package providers

import (
	"context"
	"sync"
	"time"
)

// tokenRefreshBuffer is taken off every TTL so tokens are renewed before the
// server expires them.
const tokenRefreshBuffer = 5 * time.Second

// RefreshFunc obtains a new token and its lifetime.
type RefreshFunc func(ctx context.Context) (token string, ttl time.Duration, err error)

// TokenCache holds one auth token in memory. Tokens are never persisted.
type TokenCache struct {
	mu        sync.RWMutex
	token     string
	expiresAt time.Time

	refreshMu sync.Mutex
	now       func() time.Time
}

// NewTokenCache creates an empty cache.
func NewTokenCache() *TokenCache {
	return &TokenCache{now: time.Now}
}

// Get returns the cached token if present and unexpired.
func (c *TokenCache) Get() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == "" || c.now().After(c.expiresAt) {
		return "", false
	}
	return c.token, true
}

// Set stores token for ttl minus the refresh buffer. A non-positive ttl
// caches the token until Clear.
func (c *TokenCache) Set(token string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.token = token
	switch {
	case ttl <= 0:
		c.expiresAt = time.Unix(1<<62, 0)
	case ttl > tokenRefreshBuffer:
		c.expiresAt = c.now().Add(ttl - tokenRefreshBuffer)
	default:
		c.expiresAt = c.now().Add(ttl)
	}
}

// Clear drops the cached token.
func (c *TokenCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.expiresAt = time.Time{}
}

// TTL returns the remaining lifetime, or 0 when expired or unset.
func (c *TokenCache) TTL() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == "" {
		return 0
	}
	if remaining := c.expiresAt.Sub(c.now()); remaining > 0 {
		return remaining
	}
	return 0
}

// Token returns the cached token or calls refresh once to obtain a new one.
// Concurrent callers share a single refresh.
func (c *TokenCache) Token(ctx context.Context, refresh RefreshFunc) (string, error) {
	if tok, ok := c.Get(); ok {
		return tok, nil
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	if tok, ok := c.Get(); ok {
		return tok, nil
	}
	tok, ttl, err := refresh(ctx)
	if err != nil {
		return "", err
	}
	c.Set(tok, ttl)
	return tok, nil
}
