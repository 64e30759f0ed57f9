// Package credential caches the short-lived bearer credentials the push
// backends require. Entries are computed lazily on first use, kept for a
// fixed window and replaced wholesale once that window lapses.
package credential

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// DefaultTTL sits under the providers' 60 minute token lifetime.
const DefaultTTL = 3540 * time.Second

// Credential is an opaque bearer token and the instant it stops being served.
type Credential struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ValidAt reports whether the credential may still be served at now.
func (c Credential) ValidAt(now time.Time) bool {
	return c.Token != "" && now.Before(c.ExpiresAt)
}

// ComputeFunc produces a fresh bearer token. It may block on network I/O.
type ComputeFunc func(ctx context.Context) (string, error)

// Cache is a get-or-compute store for credentials.
//
// On a miss or after expiry GetOrCompute runs compute, stores the result for
// ttl and returns it. A failed compute stores nothing.
type Cache interface {
	GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute ComputeFunc) (Credential, error)
}

// Clock returns the current time.
type Clock func() time.Time

// Option configures a cache implementation.
type Option func(*settings)

type settings struct {
	now    Clock
	logger *slog.Logger
	prefix string
}

func newSettings(opts []Option) settings {
	s := settings{
		now:    time.Now,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		prefix: "nativepush:credential:",
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now Clock) Option {
	return func(s *settings) { s.now = now }
}

// WithLogger sets the logger used to report degraded cache operations.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithKeyPrefix namespaces keys in a shared store. Only the Redis cache uses it.
func WithKeyPrefix(prefix string) Option {
	return func(s *settings) { s.prefix = prefix }
}
