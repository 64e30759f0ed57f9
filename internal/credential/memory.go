package credential

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// MemoryCache is a process-wide credential cache.
//
// Concurrent misses for the same key share a single computation, so each key
// is regenerated at most once per expiry window. The computation is detached
// from the cancellation of the caller that started it; every caller waits on
// its own context.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]Credential
	group   singleflight.Group
	now     Clock
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache(opts ...Option) *MemoryCache {
	s := newSettings(opts)
	return &MemoryCache{
		entries: make(map[string]Credential),
		now:     s.now,
	}
}

// GetOrCompute implements Cache.
func (c *MemoryCache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute ComputeFunc) (Credential, error) {
	if cred, ok := c.lookup(key); ok {
		return cred, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		// A flight that finished between our lookup and DoChan has already stored a value.
		if cred, ok := c.lookup(key); ok {
			return cred, nil
		}

		issuedAt := c.now()
		token, err := compute(context.WithoutCancel(ctx))
		if err != nil {
			return Credential{}, err
		}

		cred := Credential{Token: token, ExpiresAt: issuedAt.Add(ttl)}
		c.mu.Lock()
		c.entries[key] = cred
		c.mu.Unlock()
		return cred, nil
	})

	select {
	case <-ctx.Done():
		return Credential{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Credential{}, res.Err
		}
		return res.Val.(Credential), nil
	}
}

// Invalidate drops the entry for key so the next call regenerates it.
func (c *MemoryCache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *MemoryCache) lookup(key string) (Credential, bool) {
	c.mu.RLock()
	cred, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || !cred.ValidAt(c.now()) {
		return Credential{}, false
	}
	return cred, true
}
