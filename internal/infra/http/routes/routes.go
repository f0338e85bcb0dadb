// Package routes registers the HTTP routes of the invitation API.
package routes

import (
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openctemio/invitations/internal/config"
	infrahttp "github.com/openctemio/invitations/internal/infra/http"
	"github.com/openctemio/invitations/internal/infra/http/handler"
	"github.com/openctemio/invitations/internal/infra/http/middleware"
	redisinfra "github.com/openctemio/invitations/internal/infra/redis"
	"github.com/openctemio/invitations/pkg/logger"
)

// Middleware is an alias to the http package's Middleware type.
type Middleware = infrahttp.Middleware

// Router is an alias to the http package's Router interface.
type Router = infrahttp.Router

// Handlers holds all HTTP handlers for route registration.
type Handlers struct {
	Health       *handler.HealthHandler
	Invitation   *handler.InvitationHandler
	Report       *handler.InvitationReportHandler
	Acceptance   *handler.AcceptanceHandler
	Verification *handler.VerificationHandler
}

// Options carries the middleware the route groups need.
type Options struct {
	// TokenValidator checks bearer session tokens.
	TokenValidator middleware.AccessTokenValidator
	// PublicRateLimit guards the unauthenticated acceptance endpoints. Nil
	// disables limiting.
	PublicRateLimit Middleware
	// Decompress configures compressed bulk bodies. Nil uses the defaults.
	Decompress *middleware.DecompressConfig
}

// Register registers every route on router.
func Register(router Router, h Handlers, opts Options, log *logger.Logger) {
	registerHealthRoutes(router, h.Health)

	auth := middleware.Auth(opts.TokenValidator, log)

	router.Group("/api/v1", func(r Router) {
		registerInvitationRoutes(r, h.Invitation, h.Report, auth, middleware.Decompress(opts.Decompress))
		registerAcceptanceRoutes(r, h.Acceptance, opts.PublicRateLimit)
		registerVerificationRoutes(r, h.Verification, auth, opts.PublicRateLimit)
	})
}

func registerHealthRoutes(router Router, h *handler.HealthHandler) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	router.GET("/metrics", promhttp.Handler().ServeHTTP)
}

// PublicRateLimit builds the limiter for the public endpoints: a Redis
// sliding window shared by all instances, falling back to a per-process
// token bucket while Redis is unreachable. The returned stop func releases
// the fallback's cleanup goroutine.
func PublicRateLimit(cfg config.RateLimitConfig, store redisinfra.RateLimiterStore, onLimited middleware.LimitExceededFunc, log *logger.Logger) (Middleware, func()) {
	if !cfg.Enabled {
		return nil, func() {}
	}

	local := middleware.NewRateLimiter(cfg, onLimited, log)
	if store == nil {
		return local.Middleware(), local.Stop
	}

	return middleware.DistributedRateLimit(middleware.DistributedRateLimitConfig{
		Limiter:   store,
		Fallback:  local.Middleware(),
		OnLimited: onLimited,
		Logger:    log,
	}), local.Stop
}

// optional drops nil middleware so callers can pass disabled ones.
func optional(mws ...Middleware) []Middleware {
	out := make([]Middleware, 0, len(mws))
	for _, mw := range mws {
		if mw != nil {
			out = append(out, mw)
		}
	}
	return out
}
