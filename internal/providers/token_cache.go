package providers

import (
	"sync"
	"time"

	"github.com/systmms/dsvault/pkg/secure"
)

// tokenRefreshBuffer is subtracted from a token's TTL so it is refreshed
// before the backend expires it.
const tokenRefreshBuffer = 5 * time.Second

// TokenCache holds one authentication token in protected memory until it
// expires. It is never persisted. Safe for concurrent use.
type TokenCache struct {
	mu        sync.RWMutex
	token     *secure.String
	expiresAt time.Time

	now func() time.Time
}

// NewTokenCache creates a new empty token cache
func NewTokenCache() *TokenCache {
	return &TokenCache{now: time.Now}
}

// Get returns a copy of the cached token if it has not expired. The caller
// owns the copy and destroys it.
func (c *TokenCache) Get() (*secure.String, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.token.Len() == 0 || c.now().After(c.expiresAt) {
		return nil, false
	}
	return c.token.Clone(), true
}

// Set stores token for ttl, replacing and wiping any previous token
func (c *TokenCache) Set(token string, ttl time.Duration) {
	if ttl > tokenRefreshBuffer {
		ttl -= tokenRefreshBuffer
	}

	fresh := secure.NewString(token)
	c.mu.Lock()
	old := c.token
	c.token = fresh
	c.expiresAt = c.now().Add(ttl)
	c.mu.Unlock()

	old.Destroy()
}

// Clear wipes the cached token
func (c *TokenCache) Clear() {
	c.mu.Lock()
	old := c.token
	c.token = nil
	c.expiresAt = time.Time{}
	c.mu.Unlock()

	old.Destroy()
}

// TTL returns the remaining time until the token expires.
// Returns 0 if the token is expired or not set.
func (c *TokenCache) TTL() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.token.Len() == 0 {
		return 0
	}
	remaining := c.expiresAt.Sub(c.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}
