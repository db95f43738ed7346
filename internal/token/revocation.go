package token

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// RevocationCache is the small shared structure consulted during local token
// validation. A self-verifying token cannot know it was revoked before its
// natural expiry, so revoked jtis are listed here until the token would have
// expired anyway. How quickly this cache is synchronized across validators
// bounds the revocation-propagation delay of token mode.
type RevocationCache struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]time.Time // jti -> natural expiry (zero time = no expiry)

	stop    chan struct{}
	stopped sync.Once
}

// NewRevocationCache creates a cache and starts its eviction janitor.
// Callers must Close it.
func NewRevocationCache(sweepInterval time.Duration) *RevocationCache {
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	c := &RevocationCache{
		entries: make(map[uuid.UUID]time.Time),
		stop:    make(chan struct{}),
	}
	go c.janitor(sweepInterval)
	return c
}

// Revoke lists the jti. The natural expiry lets the janitor drop the entry
// once the token would no longer verify anyway; a zero expiry pins it forever.
func (c *RevocationCache) Revoke(jti uuid.UUID, naturalExpiry time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[jti] = naturalExpiry
}

// IsRevoked reports whether the jti has been revoked.
func (c *RevocationCache) IsRevoked(jti uuid.UUID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, revoked := c.entries[jti]
	return revoked
}

// Len returns the number of listed revocations, for operational visibility.
func (c *RevocationCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the janitor goroutine.
func (c *RevocationCache) Close() {
	c.stopped.Do(func() { close(c.stop) })
}

func (c *RevocationCache) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case now := <-ticker.C:
			c.evictExpired(now.UTC())
		}
	}
}

func (c *RevocationCache) evictExpired(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for jti, expiry := range c.entries {
		if !expiry.IsZero() && now.After(expiry) {
			delete(c.entries, jti)
		}
	}
}
