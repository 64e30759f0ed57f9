package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tinywideclouds/go-native-push/pkg/dispatch"
	"github.com/tinywideclouds/go-native-push/pkg/push"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns the value or redis.Nil if not found.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

// CachedTokenStore is a Decorator that adds Read-Aside caching to any TokenStore.
type CachedTokenStore struct {
	realStore dispatch.TokenStore
	cache     CacheClient
	ttl       time.Duration
	logger    *slog.Logger
}

// NewCachedTokenStore creates the decorator.
func NewCachedTokenStore(realStore dispatch.TokenStore, cache CacheClient, ttl time.Duration, logger *slog.Logger) *CachedTokenStore {
	return &CachedTokenStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
		logger:    logger.With("component", "CachedTokenStore"),
	}
}

// --- READ PATH (Read-Aside) ---

func (s *CachedTokenStore) Fetch(ctx context.Context, user urn.URN) ([]dispatch.Device, error) {
	key := s.cacheKey(user)

	// 1. Try Cache
	var cached []dispatch.Device
	err := s.cache.Get(ctx, key, &cached)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, redis.Nil) {
		s.logger.Warn("Device cache read failed, falling back to store", "user", user.String(), "err", err)
	}

	// 2. Fallback to Real Store
	devices, err := s.realStore.Fetch(ctx, user)
	if err != nil {
		return nil, err
	}

	// 3. Populate Cache. Caching is an optimization; a Redis outage only costs a store read.
	if err := s.cache.Set(ctx, key, devices, s.ttl); err != nil {
		s.logger.Warn("Device cache write failed", "user", user.String(), "err", err)
	}
	return devices, nil
}

// --- WRITE PATHS (Invalidate-on-Write) ---

func (s *CachedTokenStore) Register(ctx context.Context, user urn.URN, device dispatch.Device) error {
	// 1. Write to Source of Truth
	if err := s.realStore.Register(ctx, user, device); err != nil {
		return err
	}
	// 2. Invalidate Cache
	return s.invalidate(ctx, user)
}

// Unregister must clear the cache even though the store write already
// succeeded, so pruned devices stop receiving pushes immediately.
func (s *CachedTokenStore) Unregister(ctx context.Context, user urn.URN, backend push.Backend, token string) error {
	if err := s.realStore.Unregister(ctx, user, backend, token); err != nil {
		return err
	}
	return s.invalidate(ctx, user)
}

// --- Helpers ---

func (s *CachedTokenStore) invalidate(ctx context.Context, user urn.URN) error {
	if err := s.cache.Del(ctx, s.cacheKey(user)); err != nil {
		return fmt.Errorf("failed to invalidate device cache: %w", err)
	}
	return nil
}

func (s *CachedTokenStore) cacheKey(user urn.URN) string {
	return fmt.Sprintf("push:devices:%s", user.String())
}
