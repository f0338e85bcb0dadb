package app

import (
	"context"
	"fmt"
	"time"

	"github.com/openctemio/invitations/pkg/domain/audit"
	"github.com/openctemio/invitations/pkg/domain/shared"
	"github.com/openctemio/invitations/pkg/logger"
	"github.com/openctemio/invitations/pkg/pagination"
)

// AuditContext holds request metadata attached to audit entries.
type AuditContext struct {
	ActorID   shared.ID
	IP        string
	UserAgent string
	RequestID string
}

// ValidationContext is the request context passed to token validation.
type ValidationContext = AuditContext

// AuditService writes the invitation audit trail.
type AuditService struct {
	repo   audit.Repository
	logger *logger.Logger
}

// NewAuditService creates a new AuditService.
func NewAuditService(repo audit.Repository, log *logger.Logger) *AuditService {
	return &AuditService{
		repo:   repo,
		logger: log.With("service", "audit"),
	}
}

// Record attaches the request context to entry and persists it. Security
// events are also written to the log.
func (s *AuditService) Record(ctx context.Context, actx AuditContext, entry *audit.Entry) error {
	entry.WithActor(actx.ActorID).WithNetwork(actx.IP, actx.UserAgent)
	if actx.RequestID != "" {
		entry.WithMetadata("request_id", actx.RequestID)
	}

	if entry.Action().IsSecurityEvent() {
		s.logger.WithContext(ctx).Warn("security event",
			"action", entry.Action().String(),
			"error_code", entry.ErrorCode(),
			"reason", entry.ErrorMessage(),
			"ip", actx.IP,
		)
	}

	if err := s.repo.Create(ctx, entry); err != nil {
		return fmt.Errorf("failed to persist audit entry: %w", err)
	}
	return nil
}

// RecordBestEffort is Record with failures logged and swallowed.
func (s *AuditService) RecordBestEffort(ctx context.Context, actx AuditContext, entry *audit.Entry) {
	bestEffort(ctx, s.logger, "audit."+entry.Action().String(), func() error {
		return s.Record(ctx, actx, entry)
	})
}

// RecordRateLimitExceeded audits a rejected request on a public endpoint.
func (s *AuditService) RecordRateLimitExceeded(ctx context.Context, actx AuditContext, path string) {
	entry := newEntry(audit.ActionRateLimitExceeded, shared.ID{}, shared.ID{})
	entry.WithFailure(audit.CodeRateLimited, "Rate limit exceeded").WithMetadata("path", path)
	s.RecordBestEffort(ctx, actx, entry)
}

// ListInvitationTrail returns the audit entries of one invitation.
func (s *AuditService) ListInvitationTrail(ctx context.Context, tenantID, invitationID shared.ID, page pagination.Pagination) (pagination.Result[*audit.Entry], error) {
	return s.repo.ListByInvitation(ctx, tenantID, invitationID, page)
}

// CountSince counts a tenant's entries for action since t.
func (s *AuditService) CountSince(ctx context.Context, tenantID shared.ID, action audit.Action, t time.Time) (int64, error) {
	return s.repo.CountByAction(ctx, &tenantID, action, t)
}

// Purge deletes entries created before cutoff.
func (s *AuditService) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.repo.DeleteOlderThan(ctx, cutoff)
}

// newEntry builds an entry for an invitation. It panics on an unknown action;
// callers pass the audit.Action constants.
func newEntry(action audit.Action, tenantID, invitationID shared.ID) *audit.Entry {
	entry, err := audit.NewEntry(action)
	if err != nil {
		panic(err)
	}
	return entry.WithTenant(tenantID).WithInvitation(invitationID)
}
