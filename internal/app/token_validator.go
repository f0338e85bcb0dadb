package app

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/openctemio/invitations/internal/metrics"
	"github.com/openctemio/invitations/pkg/crypto"
	"github.com/openctemio/invitations/pkg/domain/audit"
	"github.com/openctemio/invitations/pkg/domain/invitation"
	"github.com/openctemio/invitations/pkg/domain/role"
	"github.com/openctemio/invitations/pkg/domain/shared"
	"github.com/openctemio/invitations/pkg/domain/tenant"
	"github.com/openctemio/invitations/pkg/domain/user"
	"github.com/openctemio/invitations/pkg/logger"
	"github.com/openctemio/invitations/pkg/tracing"
)

// ErrTokenValidationFailed is returned when validation could not complete.
// The cause is logged, never returned.
var ErrTokenValidationFailed = fmt.Errorf("%w: Token validation failed", shared.ErrValidation)

// InvitationDetails is an invitation with its tenant, inviter and roles resolved.
type InvitationDetails struct {
	Invitation *invitation.Invitation
	Tenant     *tenant.Tenant
	Inviter    *user.User // nil when the inviter no longer exists
	Roles      []*role.Role
}

// ValidationResult is the outcome of validating a token. Details is set
// whenever the token matched an invitation.
type ValidationResult struct {
	Valid   bool
	Status  invitation.StatusKind
	Reason  string
	Details *InvitationDetails
}

// ExpiryReconciler persists the PENDING to EXPIRED transition.
type ExpiryReconciler interface {
	ReconcileExpiry(ctx context.Context, inv *invitation.Invitation) (*invitation.Invitation, error)
}

// detailsResolver loads the relations shown alongside an invitation.
type detailsResolver struct {
	tenantRepo tenant.Repository
	userRepo   user.Repository
	roleRepo   role.Repository
}

func (r detailsResolver) resolve(ctx context.Context, inv *invitation.Invitation) (*InvitationDetails, error) {
	t, err := r.tenantRepo.GetByID(ctx, inv.TenantID())
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant: %w", err)
	}

	inviter, err := r.userRepo.GetByID(ctx, inv.TenantID(), inv.InvitedBy())
	if err != nil {
		if !shared.IsNotFound(err) {
			return nil, fmt.Errorf("failed to load inviter: %w", err)
		}
		inviter = nil
	}

	roles := []*role.Role{}
	if len(inv.RoleIDs()) > 0 {
		roles, err = r.roleRepo.FindByIDs(ctx, inv.TenantID(), inv.RoleIDs())
		if err != nil {
			return nil, fmt.Errorf("failed to load roles: %w", err)
		}
	}

	return &InvitationDetails{
		Invitation: inv,
		Tenant:     t,
		Inviter:    inviter,
		Roles:      roles,
	}, nil
}

// TokenValidator decides whether an invitation token may be used. Every call
// to Validate writes exactly one audit entry.
type TokenValidator struct {
	repo       invitation.Repository
	resolver   detailsResolver
	reconciler ExpiryReconciler
	audit      *AuditService
	now        func() time.Time
	logger     *logger.Logger
}

// NewTokenValidator creates a new TokenValidator.
func NewTokenValidator(
	repo invitation.Repository,
	tenantRepo tenant.Repository,
	userRepo user.Repository,
	roleRepo role.Repository,
	reconciler ExpiryReconciler,
	auditService *AuditService,
	log *logger.Logger,
) *TokenValidator {
	return &TokenValidator{
		repo:       repo,
		resolver:   detailsResolver{tenantRepo: tenantRepo, userRepo: userRepo, roleRepo: roleRepo},
		reconciler: reconciler,
		audit:      auditService,
		now:        time.Now,
		logger:     log.With("service", "token_validator"),
	}
}

// Validate checks the token format, looks the invitation up, and checks its
// status and expiry. A pending invitation found past its expiry is moved to
// EXPIRED before the result is returned.
func (v *TokenValidator) Validate(ctx context.Context, token string, vctx ValidationContext) (*ValidationResult, error) {
	ctx, span := tracing.Tracer().Start(ctx, "invitation.validate_token")
	defer span.End()

	start := time.Now()
	result, err := v.validate(ctx, token, vctx)
	metrics.TokenValidationDuration.Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		metrics.TokenValidationsTotal.WithLabelValues("error").Inc()
		tracing.RecordError(span, err)
	case result.Valid:
		metrics.TokenValidationsTotal.WithLabelValues("valid").Inc()
		span.SetAttributes(attribute.Bool("invitation.valid", true))
	default:
		metrics.TokenValidationsTotal.WithLabelValues("invalid").Inc()
		span.SetAttributes(
			attribute.Bool("invitation.valid", false),
			attribute.String("invitation.reason", result.Reason),
		)
	}
	return result, err
}

func (v *TokenValidator) validate(ctx context.Context, token string, vctx ValidationContext) (*ValidationResult, error) {
	log := v.logger.WithContext(ctx).With("token_prefix", invitation.TruncateToken(token))

	if !invitation.IsValidTokenFormat(token) {
		log.Warn("security event: malformed invitation token", "ip", vctx.IP)
		v.recordFailure(ctx, vctx, nil, audit.CodeInvalidFormat, invitation.ReasonInvalidFormat)
		return &ValidationResult{Reason: invitation.ReasonInvalidFormat}, nil
	}
	token = invitation.NormalizeToken(token)

	inv, err := v.repo.GetByToken(ctx, token)
	if err != nil {
		if shared.IsNotFound(err) {
			log.Warn("security event: unknown invitation token", "ip", vctx.IP)
			v.recordFailure(ctx, vctx, nil, audit.CodeNotFound, invitation.ReasonNotFound)
			return &ValidationResult{Reason: invitation.ReasonNotFound}, nil
		}
		log.Error("invitation lookup failed", "error", err)
		v.recordFailure(ctx, vctx, nil, audit.CodeInternal, "Token validation failed")
		return nil, ErrTokenValidationFailed
	}

	details, err := v.resolver.resolve(ctx, inv)
	if err != nil {
		log.Error("failed to resolve invitation details", "invitation_id", inv.ID().String(), "error", err)
		v.recordFailure(ctx, vctx, inv, audit.CodeInternal, "Token validation failed")
		return nil, ErrTokenValidationFailed
	}

	if code, reason, ok := statusFailure(inv); !ok {
		log.Warn("invitation not usable", "invitation_id", inv.ID().String(), "reason", reason)
		v.recordFailure(ctx, vctx, inv, code, reason)
		return &ValidationResult{Status: inv.StatusKind(), Reason: reason, Details: details}, nil
	}

	if invitation.IsExpired(inv, v.now()) {
		updated, err := v.reconciler.ReconcileExpiry(ctx, inv)
		if err != nil {
			log.Error("failed to expire invitation", "invitation_id", inv.ID().String(), "error", err)
			v.recordFailure(ctx, vctx, inv, audit.CodeInternal, "Token validation failed")
			return nil, ErrTokenValidationFailed
		}
		details.Invitation = updated

		code, reason := audit.CodeExpired, invitation.ReasonExpired
		if c, r, ok := statusFailure(updated); !ok && updated.StatusKind() != invitation.StatusExpired {
			code, reason = c, r
		}
		log.Info("invitation expired on validation", "invitation_id", inv.ID().String())
		v.recordFailure(ctx, vctx, updated, code, reason)
		return &ValidationResult{Status: updated.StatusKind(), Reason: reason, Details: details}, nil
	}

	v.audit.RecordBestEffort(ctx, vctx, newEntry(audit.ActionValidated, inv.TenantID(), inv.ID()))
	return &ValidationResult{Valid: true, Status: inv.StatusKind(), Details: details}, nil
}

// ValidateCryptographically runs Validate, then compares digests of the
// provided and stored tokens in constant time. The lookup already matched
// the token exactly, so a mismatch indicates a storage or driver fault.
func (v *TokenValidator) ValidateCryptographically(ctx context.Context, token string, vctx ValidationContext) (*ValidationResult, error) {
	result, err := v.Validate(ctx, token, vctx)
	if err != nil || !result.Valid {
		return result, err
	}

	stored := result.Details.Invitation.Token()
	if !crypto.DigestsEqual(crypto.HashToken(invitation.NormalizeToken(token)), crypto.HashToken(stored)) {
		v.logger.WithContext(ctx).Error("security event: token_hash_mismatch",
			"token_prefix", invitation.TruncateToken(token),
			"invitation_id", result.Details.Invitation.ID().String(),
		)
		return &ValidationResult{
			Status:  result.Status,
			Reason:  invitation.ReasonNotFound,
			Details: result.Details,
		}, nil
	}
	return result, nil
}

func (v *TokenValidator) recordFailure(ctx context.Context, vctx ValidationContext, inv *invitation.Invitation, code, reason string) {
	var entry *audit.Entry
	if inv == nil {
		entry = newEntry(audit.ActionValidationFailed, shared.ID{}, shared.ID{})
	} else {
		entry = newEntry(audit.ActionValidationFailed, inv.TenantID(), inv.ID())
	}
	v.audit.RecordBestEffort(ctx, vctx, entry.WithFailure(code, reason))
}

// statusFailure maps a non-pending status to its audit code and reason.
// ok is true for a pending invitation.
func statusFailure(inv *invitation.Invitation) (code, reason string, ok bool) {
	switch inv.Status().(type) {
	case invitation.Pending:
		return "", "", true
	case invitation.Accepted:
		return audit.CodeAlreadyAccepted, invitation.ReasonAlreadyAccepted, false
	case invitation.Cancelled:
		return audit.CodeCancelled, invitation.ReasonCancelled, false
	case invitation.Expired:
		return audit.CodeExpired, invitation.ReasonExpired, false
	default:
		return audit.CodeInvalidStatus, invitation.ReasonInvalidStatus, false
	}
}

// reasonError turns a failed validation into a client error.
func reasonError(result *ValidationResult) error {
	return fmt.Errorf("%w: %s", shared.ErrValidation, result.Reason)
}
