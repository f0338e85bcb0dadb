package redis

import (
	"context"
)

// Pinger is an interface for health check operations.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CacheStore defines the cache operations used by application services.
type CacheStore[T any] interface {
	// Get returns ErrCacheMiss if the key does not exist.
	Get(ctx context.Context, key string) (*T, error)
	Set(ctx context.Context, key string, value T) error
	Delete(ctx context.Context, key string) error
	GetOrSet(ctx context.Context, key string, loader func(ctx context.Context) (*T, error)) (*T, error)
}

// RateLimiterStore defines the rate limiter operations used by middleware.
type RateLimiterStore interface {
	Allow(ctx context.Context, key string) (*RateLimitResult, error)
	Reset(ctx context.Context, key string) error
	Limit() int
}

// StateStorer defines single-use OAuth state storage.
type StateStorer interface {
	Save(ctx context.Context, state, value string) error
	Consume(ctx context.Context, state string) (string, error)
}

var (
	_ Pinger               = (*Client)(nil)
	_ CacheStore[struct{}] = (*Cache[struct{}])(nil)
	_ RateLimiterStore     = (*RateLimiter)(nil)
	_ StateStorer          = (*StateStore)(nil)
)
