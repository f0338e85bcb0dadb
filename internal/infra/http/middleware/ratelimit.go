package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/openctemio/invitations/internal/config"
	redisinfra "github.com/openctemio/invitations/internal/infra/redis"
	"github.com/openctemio/invitations/pkg/apierror"
	"github.com/openctemio/invitations/pkg/logger"
)

// LimitExceededFunc is called once for every rejected request.
type LimitExceededFunc func(r *http.Request)

// RateLimiter is an in-process per-IP token bucket. It backs the public
// endpoints when Redis is unavailable.
type RateLimiter struct {
	visitors  map[string]*visitor
	mu        sync.Mutex
	rate      rate.Limit
	burst     int
	idleTTL   time.Duration
	onLimited LimitExceededFunc
	log       *logger.Logger
	done      chan struct{}
	stopped   chan struct{}
	stopOnce  sync.Once
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows cfg.Requests per cfg.Window per client IP, with a
// burst of cfg.Requests.
func NewRateLimiter(cfg config.RateLimitConfig, onLimited LimitExceededFunc, log *logger.Logger) *RateLimiter {
	requests := max(cfg.Requests, 1)
	window := cfg.Window
	if window <= 0 {
		window = time.Minute
	}
	if log == nil {
		log = logger.NewNop()
	}

	rl := &RateLimiter{
		visitors:  make(map[string]*visitor),
		rate:      rate.Limit(float64(requests) / window.Seconds()),
		burst:     requests,
		idleTTL:   2 * window,
		onLimited: onLimited,
		log:       log,
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	go rl.cleanupVisitors()
	return rl
}

// Stop stops the cleanup goroutine. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.done)
	})
	<-rl.stopped
}

func (rl *RateLimiter) limiterFor(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	return v.limiter
}

func (rl *RateLimiter) cleanupVisitors() {
	ticker := time.NewTicker(rl.idleTTL)
	defer ticker.Stop()
	defer close(rl.stopped)

	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			rl.mu.Lock()
			for ip, v := range rl.visitors {
				if time.Since(v.lastSeen) > rl.idleTTL {
					delete(rl.visitors, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// Allow consumes one token for ip.
func (rl *RateLimiter) Allow(ip string) bool {
	return rl.limiterFor(ip).Allow()
}

// Middleware returns the in-process rate limiting middleware.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := rateLimitKey(r)
			limiter := rl.limiterFor(ip)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.burst))
			if !limiter.Allow() {
				rl.reject(w, r, ip, secondsPerToken(rl.rate))
				return
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(int(limiter.Tokens()), 0)))

			next.ServeHTTP(w, r)
		})
	}
}

// secondsPerToken is how long the bucket takes to refill one token.
func secondsPerToken(r rate.Limit) int {
	if r <= 0 {
		return 1
	}
	return max(int(math.Ceil(1/float64(r))), 1)
}

func (rl *RateLimiter) reject(w http.ResponseWriter, r *http.Request, key string, retryAfter int) {
	rl.log.Warn("rate limit exceeded",
		"key", key,
		"path", RedactTokenPath(r.URL.Path),
		"request_id", GetRequestID(r.Context()),
	)
	writeRateLimited(w, r, retryAfter, rl.onLimited)
}

func writeRateLimited(w http.ResponseWriter, r *http.Request, retryAfter int, onLimited LimitExceededFunc) {
	rateLimitedTotal.Inc()
	if onLimited != nil {
		onLimited(r)
	}
	w.Header().Set("X-RateLimit-Remaining", "0")
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	apierror.TooManyRequests("Too many requests, please try again later").
		WriteJSONWithRequestID(w, GetRequestID(r.Context()))
}

// DistributedRateLimitConfig configures the Redis-backed limiter.
type DistributedRateLimitConfig struct {
	Limiter redisinfra.RateLimiterStore
	// KeyFunc extracts the key; defaults to the client IP.
	KeyFunc func(r *http.Request) string
	// Fallback serves requests when Redis cannot be reached. Nil fails open.
	Fallback  func(http.Handler) http.Handler
	OnLimited LimitExceededFunc
	Logger    *logger.Logger
}

// DistributedRateLimit limits requests with a sliding window shared by
// every instance through Redis.
func DistributedRateLimit(cfg DistributedRateLimitConfig) func(http.Handler) http.Handler {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = rateLimitKey
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}

	return func(next http.Handler) http.Handler {
		fallback := next
		if cfg.Fallback != nil {
			fallback = cfg.Fallback(next)
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := cfg.KeyFunc(r)
			result, err := cfg.Limiter.Allow(r.Context(), key)
			if err != nil {
				cfg.Logger.Error("distributed rate limit check failed",
					"error", err,
					"request_id", GetRequestID(r.Context()),
				)
				fallback.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Limiter.Limit()))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))

			if !result.Allowed {
				cfg.Logger.Warn("rate limit exceeded",
					"key", key,
					"path", RedactTokenPath(r.URL.Path),
					"retry_at", result.RetryAt,
					"request_id", GetRequestID(r.Context()),
				)
				writeRateLimited(w, r, int(result.RetryAfter(time.Now()).Seconds()), cfg.OnLimited)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
