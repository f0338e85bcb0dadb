package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/openctemio/invitations/internal/app"
	"github.com/openctemio/invitations/internal/config"
	"github.com/openctemio/invitations/internal/infra/archive"
	"github.com/openctemio/invitations/internal/infra/oauth"
	"github.com/openctemio/invitations/internal/infra/redis"
	"github.com/openctemio/invitations/pkg/email"
	"github.com/openctemio/invitations/pkg/jwt"
	"github.com/openctemio/invitations/pkg/logger"
	"github.com/openctemio/invitations/pkg/password"
)

// Services holds all application service instances.
type Services struct {
	Audit      *app.AuditService
	Invitation *app.InvitationService
	Bulk       *app.InvitationBulkService
	Report     *app.InvitationReportService
	Tokens     *app.TokenValidator
	Acceptance *app.AcceptanceService
	Email      *app.EmailService
	Retention  *app.RetentionService
	Sessions   *jwt.Generator
}

// ServiceDeps contains dependencies needed to create services.
type ServiceDeps struct {
	Config        *config.Config
	Log           *logger.Logger
	Repos         *Repositories
	RedisClient   *redis.Client
	EmailEnqueuer app.EmailJobEnqueuer
}

// NewServices initializes all application services.
func NewServices(ctx context.Context, deps *ServiceDeps) (*Services, error) {
	cfg := deps.Config
	log := deps.Log
	repos := deps.Repos

	s := &Services{}

	s.Audit = app.NewAuditService(repos.Audit, log)
	s.Sessions = jwt.NewGenerator(jwt.TokenConfig{
		Secret:              cfg.Auth.JWTSecret,
		Issuer:              cfg.Auth.JWTIssuer,
		AccessTokenDuration: cfg.Auth.AccessTokenDuration,
	})

	s.Invitation = app.NewInvitationService(repos.Invitation, repos.Tenant, repos.User, repos.Role, s.Audit, cfg.Invitation.TTL, log)
	s.Invitation.SetEmailJobEnqueuer(deps.EmailEnqueuer)

	s.Tokens = app.NewTokenValidator(repos.Invitation, repos.Tenant, repos.User, repos.Role, s.Invitation, s.Audit, log)
	s.Invitation.SetTokenValidator(s.Tokens)

	s.Bulk = app.NewInvitationBulkService(s.Invitation, repos.Invitation, s.Audit, app.BulkLimits{
		Create: cfg.Invitation.BulkCreateLimit,
		Action: cfg.Invitation.BulkActionLimit,
	}, log)

	statsCache, err := redis.NewCache[app.InvitationStatistics](deps.RedisClient, "invitation_stats", cfg.Invitation.StatsCacheTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create statistics cache: %w", err)
	}
	s.Report = app.NewInvitationReportService(repos.Stats, s.Audit, statsCache, log)

	hasher := password.New(password.WithCost(cfg.Auth.BcryptCost))
	codes := app.NewVerificationCodes(cfg.App.Name, cfg.Invitation.VerificationTTL)
	s.Acceptance = app.NewAcceptanceService(s.Tokens, s.Invitation, repos.User, repos.Role, repos.Tenant, hasher, s.Sessions, codes, s.Audit, log)
	s.Acceptance.SetEmailJobEnqueuer(deps.EmailEnqueuer)

	verifyAttempts, err := redis.NewRateLimiter(deps.RedisClient, "email_verification", cfg.Auth.VerifyMaxAttempts, cfg.Auth.VerifyAttemptWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to create verification attempt limiter: %w", err)
	}
	s.Acceptance.SetVerificationAttemptLimiter(verifyAttempts)

	if err := initGoogleSignIn(s.Acceptance, cfg, deps.RedisClient, log); err != nil {
		return nil, err
	}

	s.Email = app.NewEmailService(newEmailSender(cfg, log), cfg.App.Name, cfg.Email.InvitationURL, log)

	archiver, err := newArchiver(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	s.Retention = app.NewRetentionService(repos.Invitation, s.Audit, archiver, app.RetentionConfig{
		RetentionDays:      cfg.Invitation.RetentionDays,
		AuditRetentionDays: cfg.Invitation.AuditRetention,
		BatchSize:          cfg.Invitation.SweepBatchSize,
	}, log)

	return s, nil
}

func initGoogleSignIn(acceptance *app.AcceptanceService, cfg *config.Config, redisClient *redis.Client, log *logger.Logger) error {
	if !cfg.OAuth.Google.IsConfigured() {
		log.Info("google sign-in disabled")
		return nil
	}

	provider, err := oauth.NewGoogleProvider(cfg.OAuth.Google, cfg.OAuth.HTTPTimeout)
	if err != nil {
		return fmt.Errorf("failed to create google provider: %w", err)
	}
	states, err := redis.NewStateStore(redisClient, cfg.OAuth.StateDuration)
	if err != nil {
		return fmt.Errorf("failed to create oauth state store: %w", err)
	}

	acceptance.SetGoogleProvider(provider, states)
	log.Info("google sign-in enabled")
	return nil
}

func newEmailSender(cfg *config.Config, log *logger.Logger) email.Sender {
	switch cfg.Email.Provider {
	case config.EmailProviderSendGrid:
		log.Info("email provider configured", "provider", "sendgrid")
		return email.NewSendGridSender(email.SendGridConfig{
			APIKey:   cfg.SendGrid.APIKey,
			From:     cfg.SendGrid.From,
			FromName: cfg.SendGrid.FromName,
		})
	case config.EmailProviderSMTP:
		if cfg.SMTP.IsConfigured() {
			log.Info("email provider configured", "provider", "smtp", "host", cfg.SMTP.Host)
			return email.NewSMTPSender(email.Config{
				Host:       cfg.SMTP.Host,
				Port:       cfg.SMTP.Port,
				User:       cfg.SMTP.User,
				Password:   cfg.SMTP.Password,
				From:       cfg.SMTP.From,
				FromName:   cfg.SMTP.FromName,
				TLS:        cfg.SMTP.TLS,
				SkipVerify: cfg.SMTP.SkipVerify,
				Timeout:    cfg.SMTP.Timeout,
			})
		}
		log.Warn("SMTP not configured, emails will be dropped")
	}
	return email.NewNoOpSender()
}

// newArchiver returns nil when archiving is disabled.
func newArchiver(ctx context.Context, cfg *config.Config, log *logger.Logger) (app.Archiver, error) {
	archiver, err := archive.NewS3Archiver(ctx, cfg.Archive, log)
	if errors.Is(err, archive.ErrDisabled) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create archiver: %w", err)
	}
	return archiver, nil
}
