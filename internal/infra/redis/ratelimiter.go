package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// allowScript trims the sliding window, then admits and records one request
// if the window still has room. Returns {allowed, remaining, retry_at_ms}.
var allowScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local window_ms = tonumber(ARGV[3])
	local limit = tonumber(ARGV[4])
	local request_id = ARGV[5]

	redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)

	local count = redis.call('ZCARD', key)

	if count < limit then
		redis.call('ZADD', key, now, request_id)
		redis.call('PEXPIRE', key, window_ms)
		return {1, limit - count - 1, now + window_ms}
	end

	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	local retry_at = oldest[2] and (tonumber(oldest[2]) + window_ms) or (now + window_ms)
	return {0, 0, retry_at}
`)

// RateLimiter is a sliding window log limiter shared by every API replica.
type RateLimiter struct {
	client    *Client
	keyPrefix string
	limit     int
	window    time.Duration
}

// RateLimitResult contains the result of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	// RetryAt is when the oldest request in the window falls out of it.
	RetryAt time.Time
}

// RetryAfter returns the duration until RetryAt, rounded up to whole seconds.
func (r *RateLimitResult) RetryAfter(now time.Time) time.Duration {
	d := r.RetryAt.Sub(now)
	if d <= 0 {
		return time.Second
	}
	return d.Round(time.Second) + time.Second
}

// NewRateLimiter creates a distributed rate limiter.
func NewRateLimiter(client *Client, keyPrefix string, limit int, window time.Duration) (*RateLimiter, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if keyPrefix == "" {
		return nil, errors.New("key prefix is required")
	}
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}
	if window <= 0 {
		return nil, errors.New("window must be positive")
	}

	return &RateLimiter{
		client:    client,
		keyPrefix: keyPrefix,
		limit:     limit,
		window:    window,
	}, nil
}

func (r *RateLimiter) buildKey(key string) string {
	return fmt.Sprintf("%s:%s", r.keyPrefix, key)
}

// Allow consumes one request for key.
func (r *RateLimiter) Allow(ctx context.Context, key string) (*RateLimitResult, error) {
	if key == "" {
		return nil, errors.New("key is required")
	}

	now := time.Now()
	nowMs := now.UnixMilli()
	windowMs := r.window.Milliseconds()

	done := Timed("ratelimit_allow")
	values, err := allowScript.Run(ctx, r.client.client,
		[]string{r.buildKey(key)},
		nowMs, nowMs-windowMs, windowMs, r.limit, uuid.NewString(),
	).Int64Slice()
	done(err)
	if err != nil {
		return nil, fmt.Errorf("rate limit check: %w", err)
	}
	if len(values) != 3 {
		return nil, fmt.Errorf("rate limit check: unexpected script result %v", values)
	}

	result := &RateLimitResult{
		Allowed:   values[0] == 1,
		Remaining: int(values[1]),
		RetryAt:   time.UnixMilli(values[2]),
	}

	DefaultMetrics.RecordRateLimitResult(r.keyPrefix, result.Allowed)
	if !result.Allowed {
		r.client.logger.Debug("rate limit exceeded", "limiter", r.keyPrefix, "retry_at", result.RetryAt)
	}

	return result, nil
}

// Attempt consumes one request for key and reports whether it fits in the
// window. It adapts the limiter to per-subject attempt caps.
func (r *RateLimiter) Attempt(ctx context.Context, key string) (bool, error) {
	result, err := r.Allow(ctx, key)
	if err != nil {
		return false, err
	}
	return result.Allowed, nil
}

// Reset clears the window for key.
func (r *RateLimiter) Reset(ctx context.Context, key string) error {
	if key == "" {
		return errors.New("key is required")
	}
	if err := r.client.client.Del(ctx, r.buildKey(key)).Err(); err != nil {
		return fmt.Errorf("rate limit reset: %w", err)
	}
	return nil
}

// Limit returns the maximum number of requests per window.
func (r *RateLimiter) Limit() int {
	return r.limit
}

// Window returns the window duration.
func (r *RateLimiter) Window() time.Duration {
	return r.window
}
