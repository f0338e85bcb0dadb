package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openctemio/invitations/internal/metrics"
	"github.com/openctemio/invitations/pkg/domain/audit"
	"github.com/openctemio/invitations/pkg/domain/invitation"
	"github.com/openctemio/invitations/pkg/domain/role"
	"github.com/openctemio/invitations/pkg/domain/shared"
	"github.com/openctemio/invitations/pkg/domain/tenant"
	"github.com/openctemio/invitations/pkg/domain/user"
	"github.com/openctemio/invitations/pkg/logger"
	"github.com/openctemio/invitations/pkg/pagination"
)

// CreateInvitationInput represents the input for creating an invitation.
type CreateInvitationInput struct {
	Email     string   `validate:"required,email,max=254"`
	RoleIDs   []string `validate:"max=20,dive,uuid"`
	ExpiresAt *time.Time
	Message   string `validate:"max=1000"`
}

// ListInvitationsInput represents the input for listing invitations.
type ListInvitationsInput struct {
	Statuses    []string `validate:"dive,invitation_status"`
	Email       string   `validate:"max=254"`
	InvitedBy   string   `validate:"omitempty,uuid"`
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	ExpiresFrom *time.Time
	ExpiresTo   *time.Time
	Sort        string
	Page        int `validate:"min=0"`
	PerPage     int `validate:"min=0,max=100"`
}

// InvitationService manages the invitation lifecycle. Every operation is
// scoped to a tenant; records of other tenants are reported as not found.
type InvitationService struct {
	repo          invitation.Repository
	roleRepo      role.Repository
	resolver      detailsResolver
	validator     *TokenValidator
	emailEnqueuer EmailJobEnqueuer
	audit         *AuditService
	ttl           time.Duration
	now           func() time.Time
	logger        *logger.Logger
}

// NewInvitationService creates a new InvitationService. ttl is the default
// invitation lifetime.
func NewInvitationService(
	repo invitation.Repository,
	tenantRepo tenant.Repository,
	userRepo user.Repository,
	roleRepo role.Repository,
	auditService *AuditService,
	ttl time.Duration,
	log *logger.Logger,
) *InvitationService {
	if ttl <= 0 {
		ttl = invitation.DefaultExpiry
	}
	return &InvitationService{
		repo:     repo,
		roleRepo: roleRepo,
		resolver: detailsResolver{tenantRepo: tenantRepo, userRepo: userRepo, roleRepo: roleRepo},
		audit:    auditService,
		ttl:      ttl,
		now:      time.Now,
		logger:   log.With("service", "invitation"),
	}
}

// SetTokenValidator sets the validator used by AcceptInvitation.
func (s *InvitationService) SetTokenValidator(v *TokenValidator) {
	s.validator = v
}

// SetEmailJobEnqueuer sets the email job enqueuer.
func (s *InvitationService) SetEmailJobEnqueuer(e EmailJobEnqueuer) {
	s.emailEnqueuer = e
}

// TTL returns the default invitation lifetime.
func (s *InvitationService) TTL() time.Duration {
	return s.ttl
}

// CreateInvitation invites an email address into the tenant.
func (s *InvitationService) CreateInvitation(ctx context.Context, tenantID, invitedBy shared.ID, input CreateInvitationInput, actx AuditContext) (*InvitationDetails, error) {
	now := s.now()
	email := invitation.NormalizeEmail(input.Email)
	if !invitation.IsValidEmail(email) {
		return nil, fmt.Errorf("%w: Invalid email format", shared.ErrValidation)
	}

	t, err := s.resolver.tenantRepo.GetByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !t.Settings().Security.IsDomainAllowed(email) {
		return nil, fmt.Errorf("%w: Email domain is not allowed for this tenant", shared.ErrValidation)
	}

	roleIDs, err := shared.IDsFromStrings(input.RoleIDs)
	if err != nil {
		return nil, err
	}
	if err := s.checkRoles(ctx, tenantID, roleIDs); err != nil {
		return nil, err
	}

	pending, err := s.repo.HasPending(ctx, tenantID, email)
	if err != nil {
		return nil, fmt.Errorf("failed to check pending invitations: %w", err)
	}
	if pending {
		return nil, invitation.ErrPendingExists
	}

	expiresAt := now.Add(s.ttl)
	if input.ExpiresAt != nil {
		if !input.ExpiresAt.After(now) {
			return nil, fmt.Errorf("%w: Expiration date must be in the future", shared.ErrValidation)
		}
		expiresAt = *input.ExpiresAt
	}

	inv, err := invitation.NewInvitation(tenantID, invitedBy, email, roleIDs, expiresAt, strings.TrimSpace(input.Message), now)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, inv); err != nil {
		return nil, err
	}

	s.logger.WithContext(ctx).Info("invitation created",
		"invitation_id", inv.ID().String(),
		"tenant_id", tenantID.String(),
		"role_count", len(roleIDs),
	)
	metrics.InvitationsTotal.WithLabelValues("created").Inc()

	s.audit.RecordBestEffort(ctx, actx, newEntry(audit.ActionCreated, tenantID, inv.ID()).
		WithMetadata("email", email).
		WithMetadata("role_ids", shared.IDStrings(roleIDs)).
		WithMetadata("expires_at", inv.ExpiresAt()))

	details, err := s.resolver.resolve(ctx, inv)
	if err != nil {
		return nil, err
	}

	s.sendInvitationEmail(ctx, details, actx, audit.ActionSent)
	return details, nil
}

// checkRoles fails unless every id is a role of the tenant.
func (s *InvitationService) checkRoles(ctx context.Context, tenantID shared.ID, roleIDs []shared.ID) error {
	if len(roleIDs) == 0 {
		return nil
	}

	found, err := s.roleRepo.FindByIDs(ctx, tenantID, roleIDs)
	if err != nil {
		return fmt.Errorf("failed to load roles: %w", err)
	}

	known := make(map[shared.ID]struct{}, len(found))
	for _, r := range found {
		known[r.ID()] = struct{}{}
	}

	var invalid []string
	for _, id := range roleIDs {
		if _, ok := known[id]; !ok {
			invalid = append(invalid, id.String())
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("%w: Invalid role IDs for tenant: %s", shared.ErrValidation, strings.Join(invalid, ", "))
	}
	return nil
}

// ResendInvitation issues a fresh token and extends the expiry. Roles and
// message are unchanged.
func (s *InvitationService) ResendInvitation(ctx context.Context, tenantID, id shared.ID, actx AuditContext) (*InvitationDetails, error) {
	inv, err := s.repo.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	previousExpiry := inv.ExpiresAt()
	if err := inv.Resend(s.now(), s.ttl); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, inv, invitation.StatusPending); err != nil {
		return nil, err
	}

	s.logger.WithContext(ctx).Info("invitation resent",
		"invitation_id", inv.ID().String(),
		"tenant_id", tenantID.String(),
	)
	metrics.InvitationsTotal.WithLabelValues("resent").Inc()

	s.audit.RecordBestEffort(ctx, actx, newEntry(audit.ActionResent, tenantID, inv.ID()).
		WithMetadata("previous_expires_at", previousExpiry).
		WithMetadata("expires_at", inv.ExpiresAt()))

	details, err := s.resolver.resolve(ctx, inv)
	if err != nil {
		return nil, err
	}

	s.sendInvitationEmail(ctx, details, actx, "")
	return details, nil
}

// CancelInvitation cancels a pending invitation.
func (s *InvitationService) CancelInvitation(ctx context.Context, tenantID, id shared.ID, actx AuditContext) (*invitation.Invitation, error) {
	inv, err := s.repo.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	if err := inv.Cancel(s.now()); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, inv, invitation.StatusPending); err != nil {
		return nil, err
	}

	s.logger.WithContext(ctx).Info("invitation cancelled",
		"invitation_id", inv.ID().String(),
		"tenant_id", tenantID.String(),
	)
	metrics.InvitationsTotal.WithLabelValues("cancelled").Inc()

	s.audit.RecordBestEffort(ctx, actx, newEntry(audit.ActionCancelled, tenantID, inv.ID()))
	return inv, nil
}

// AcceptInvitation re-validates the token and marks the invitation accepted.
// It only changes the invitation; user creation is done by AcceptanceService.
func (s *InvitationService) AcceptInvitation(ctx context.Context, token string, actx AuditContext) (*invitation.Invitation, error) {
	result, err := s.validator.Validate(ctx, token, actx)
	if err != nil {
		return nil, err
	}
	if !result.Valid {
		return nil, reasonError(result)
	}

	inv := result.Details.Invitation
	if err := inv.Accept(s.now()); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, inv, invitation.StatusPending); err != nil {
		if errors.Is(err, invitation.ErrStatusChanged) {
			s.logger.WithContext(ctx).Warn("concurrent acceptance lost",
				"invitation_id", inv.ID().String(),
				"token_prefix", invitation.TruncateToken(token),
			)
		}
		return nil, err
	}

	s.logger.WithContext(ctx).Info("invitation accepted",
		"invitation_id", inv.ID().String(),
		"tenant_id", inv.TenantID().String(),
	)
	metrics.InvitationsTotal.WithLabelValues("accepted").Inc()

	s.audit.RecordBestEffort(ctx, actx, newEntry(audit.ActionAccepted, inv.TenantID(), inv.ID()))
	s.sendAcceptedNotice(ctx, result.Details)
	return inv, nil
}

// ReconcileExpiry persists the expiry of a pending invitation past its
// expiresAt. It is a no-op for any other invitation. When another request
// changed the status first, the stored record is returned.
func (s *InvitationService) ReconcileExpiry(ctx context.Context, inv *invitation.Invitation) (*invitation.Invitation, error) {
	if !inv.ReconcileExpiry(s.now()) {
		return inv, nil
	}

	err := s.repo.Update(ctx, inv, invitation.StatusPending)
	if errors.Is(err, invitation.ErrStatusChanged) {
		return s.repo.GetByID(ctx, inv.TenantID(), inv.ID())
	}
	if err != nil {
		return nil, err
	}

	metrics.InvitationsTotal.WithLabelValues("expired").Inc()
	return inv, nil
}

// ExpireOverdue expires pending invitations past their expiry across all
// tenants, auditing each one. It returns how many were expired.
func (s *InvitationService) ExpireOverdue(ctx context.Context, batchSize int) (int, error) {
	expired, err := s.repo.ExpirePending(ctx, s.now(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to expire invitations: %w", err)
	}

	for _, inv := range expired {
		s.audit.RecordBestEffort(ctx, AuditContext{}, newEntry(audit.ActionExpired, inv.TenantID(), inv.ID()).
			WithMetadata("source", "sweep").
			WithMetadata("expires_at", inv.ExpiresAt()))
	}

	metrics.InvitationsTotal.WithLabelValues("expired").Add(float64(len(expired)))
	return len(expired), nil
}

// GetInvitation returns an invitation of the tenant with its relations.
func (s *InvitationService) GetInvitation(ctx context.Context, tenantID, id shared.ID) (*InvitationDetails, error) {
	inv, err := s.repo.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	return s.resolver.resolve(ctx, inv)
}

// ListInvitations returns a page of the tenant's invitations.
func (s *InvitationService) ListInvitations(ctx context.Context, tenantID shared.ID, input ListInvitationsInput) (pagination.Result[*invitation.Invitation], error) {
	filter := invitation.Filter{
		Email:       strings.TrimSpace(input.Email),
		CreatedFrom: input.CreatedFrom,
		CreatedTo:   input.CreatedTo,
		ExpiresFrom: input.ExpiresFrom,
		ExpiresTo:   input.ExpiresTo,
	}

	for _, raw := range input.Statuses {
		status, err := invitation.ParseStatusKind(raw)
		if err != nil {
			return pagination.Result[*invitation.Invitation]{}, err
		}
		filter.Statuses = append(filter.Statuses, status)
	}

	if input.InvitedBy != "" {
		inviter, err := shared.IDFromString(input.InvitedBy)
		if err != nil {
			return pagination.Result[*invitation.Invitation]{}, err
		}
		filter.InvitedBy = &inviter
	}

	opts := invitation.ListOptions{}
	if input.Sort != "" {
		opts.Sort = pagination.NewSortOption(invitation.SortFields).Parse(input.Sort)
	}

	return s.repo.List(ctx, tenantID, filter, opts, pagination.New(input.Page, input.PerPage))
}

// sendInvitationEmail enqueues the invitation email. When sentAction is set,
// the enqueue outcome is audited under it.
func (s *InvitationService) sendInvitationEmail(ctx context.Context, details *InvitationDetails, actx AuditContext, sentAction audit.Action) {
	if s.emailEnqueuer == nil {
		return
	}
	inv := details.Invitation

	inviterName := "A team member"
	if details.Inviter != nil {
		inviterName = details.Inviter.Name()
	}

	job := InvitationEmailJob{
		InvitationID:   inv.ID().String(),
		TenantID:       inv.TenantID().String(),
		RecipientEmail: inv.Email(),
		InviterName:    inviterName,
		TenantName:     details.Tenant.Name(),
		Token:          inv.Token(),
		Message:        inv.Message(),
		ExpiresIn:      inv.ExpiresAt().Sub(s.now()),
	}

	err := s.emailEnqueuer.EnqueueInvitationEmail(ctx, job)
	if err != nil {
		s.logger.WithContext(ctx).Error("failed to enqueue invitation email",
			"invitation_id", inv.ID().String(),
			"error", err,
		)
	}

	if sentAction == "" {
		return
	}
	entry := newEntry(sentAction, inv.TenantID(), inv.ID()).WithMetadata("channel", "email")
	if err != nil {
		entry.WithFailure(audit.CodeInternal, "Failed to queue invitation email")
	}
	s.audit.RecordBestEffort(ctx, actx, entry)
}

func (s *InvitationService) sendAcceptedNotice(ctx context.Context, details *InvitationDetails) {
	if s.emailEnqueuer == nil || details.Inviter == nil {
		return
	}
	bestEffort(ctx, s.logger, "enqueue_accepted_notice", func() error {
		return s.emailEnqueuer.EnqueueAcceptedNotice(ctx, AcceptedNoticeJob{
			InvitationID: details.Invitation.ID().String(),
			InviterEmail: details.Inviter.Email(),
			InviterName:  details.Inviter.Name(),
			MemberEmail:  details.Invitation.Email(),
			TenantName:   details.Tenant.Name(),
		})
	})
}
