package credential

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// Store is the subset of the Redis client the credential cache needs.
// cache.RedisClient satisfies it.
type Store interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// RedisCache shares credentials between service instances.
//
// Within one process misses are collapsed with singleflight. Across processes
// a few redundant regenerations can happen right after expiry; they are
// harmless because every generated credential is independently valid.
// Redis failures degrade to computing the credential locally.
type RedisCache struct {
	store  Store
	group  singleflight.Group
	prefix string
	now    Clock
	logger *slog.Logger
}

// NewRedisCache creates a cache backed by store.
func NewRedisCache(store Store, opts ...Option) *RedisCache {
	s := newSettings(opts)
	return &RedisCache{
		store:  store,
		prefix: s.prefix,
		now:    s.now,
		logger: s.logger.With("component", "RedisCredentialCache"),
	}
}

// GetOrCompute implements Cache.
func (c *RedisCache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute ComputeFunc) (Credential, error) {
	fullKey := c.prefix + key
	if cred, ok := c.lookup(ctx, fullKey); ok {
		return cred, nil
	}

	ch := c.group.DoChan(fullKey, func() (any, error) {
		detached := context.WithoutCancel(ctx)
		if cred, ok := c.lookup(detached, fullKey); ok {
			return cred, nil
		}

		issuedAt := c.now()
		token, err := compute(detached)
		if err != nil {
			return Credential{}, err
		}

		cred := Credential{Token: token, ExpiresAt: issuedAt.Add(ttl)}
		if ttl > 0 {
			if err := c.store.Set(detached, fullKey, cred, ttl); err != nil {
				c.logger.Warn("Failed to store credential in redis", "key", fullKey, "err", err)
			}
		}
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

func (c *RedisCache) lookup(ctx context.Context, key string) (Credential, bool) {
	var cred Credential
	if err := c.store.Get(ctx, key, &cred); err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("Credential cache read failed, treating as miss", "key", key, "err", err)
		}
		return Credential{}, false
	}
	if !cred.ValidAt(c.now()) {
		return Credential{}, false
	}
	return cred, true
}
