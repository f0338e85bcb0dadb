package main

import (
	"github.com/openctemio/invitations/internal/infra/http/handler"
	"github.com/openctemio/invitations/internal/infra/http/routes"
	"github.com/openctemio/invitations/internal/infra/postgres"
	"github.com/openctemio/invitations/internal/infra/redis"
	"github.com/openctemio/invitations/pkg/logger"
	"github.com/openctemio/invitations/pkg/validator"
)

// HandlerDeps contains dependencies needed to create handlers.
type HandlerDeps struct {
	Log         *logger.Logger
	Validator   *validator.Validator
	DB          *postgres.DB
	RedisClient *redis.Client
	Services    *Services
	Version     string
}

// NewHandlers initializes all HTTP handlers.
func NewHandlers(deps *HandlerDeps) routes.Handlers {
	svc := deps.Services
	log := deps.Log
	v := deps.Validator

	return routes.Handlers{
		Health: handler.NewHealthHandler(
			handler.WithDatabase(deps.DB),
			handler.WithRedis(deps.RedisClient),
			handler.WithVersion(deps.Version),
		),
		Invitation:   handler.NewInvitationHandler(svc.Invitation, svc.Bulk, svc.Audit, v, log),
		Report:       handler.NewInvitationReportHandler(svc.Report, log),
		Acceptance:   handler.NewAcceptanceHandler(svc.Tokens, svc.Acceptance, v, log),
		Verification: handler.NewVerificationHandler(svc.Acceptance, v, log),
	}
}
