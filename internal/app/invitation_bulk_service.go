package app

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/openctemio/invitations/internal/metrics"
	"github.com/openctemio/invitations/pkg/domain/audit"
	"github.com/openctemio/invitations/pkg/domain/invitation"
	"github.com/openctemio/invitations/pkg/domain/shared"
	"github.com/openctemio/invitations/pkg/logger"
)

const unknownEmail = "unknown"

// BulkLimits caps the size of bulk requests.
type BulkLimits struct {
	Create int
	Action int
}

// DefaultBulkLimits returns the default bulk caps.
func DefaultBulkLimits() BulkLimits {
	return BulkLimits{Create: 100, Action: 50}
}

// BulkCreateInput represents the input for inviting several emails at once.
type BulkCreateInput struct {
	Emails    []string
	RoleIDs   []string
	ExpiresAt *time.Time
	Message   string
}

// BulkSuccess is an item that was processed.
type BulkSuccess struct {
	Email        string
	InvitationID shared.ID
}

// BulkFailure is an item that failed, with a client-safe message.
type BulkFailure struct {
	Email        string
	InvitationID string
	Error        string
}

// BulkSummary counts the outcome of a bulk request.
type BulkSummary struct {
	Total      int
	Successful int
	Failed     int
}

// BulkResult is the per-item outcome of a bulk request.
type BulkResult struct {
	BatchID    string
	Summary    BulkSummary
	Successful []BulkSuccess
	Failed     []BulkFailure
}

func newBulkResult(total int) *BulkResult {
	return &BulkResult{
		BatchID:    ulid.Make().String(),
		Summary:    BulkSummary{Total: total},
		Successful: []BulkSuccess{},
		Failed:     []BulkFailure{},
	}
}

func (r *BulkResult) succeed(item BulkSuccess) {
	r.Successful = append(r.Successful, item)
	r.Summary.Successful++
}

func (r *BulkResult) fail(item BulkFailure) {
	r.Failed = append(r.Failed, item)
	r.Summary.Failed++
}

// InvitationBulkService runs lifecycle operations over many invitations.
// A failing item never aborts the batch.
type InvitationBulkService struct {
	invitations *InvitationService
	repo        invitation.Repository
	audit       *AuditService
	limits      BulkLimits
	logger      *logger.Logger
}

// NewInvitationBulkService creates a new InvitationBulkService.
func NewInvitationBulkService(invitations *InvitationService, repo invitation.Repository, auditService *AuditService, limits BulkLimits, log *logger.Logger) *InvitationBulkService {
	defaults := DefaultBulkLimits()
	if limits.Create <= 0 {
		limits.Create = defaults.Create
	}
	if limits.Action <= 0 {
		limits.Action = defaults.Action
	}
	return &InvitationBulkService{
		invitations: invitations,
		repo:        repo,
		audit:       auditService,
		limits:      limits,
		logger:      log.With("service", "invitation_bulk"),
	}
}

// CreateBulkInvitations invites every distinct email in the input.
// Summary.Total is the number of emails given, before de-duplication.
func (s *InvitationBulkService) CreateBulkInvitations(ctx context.Context, tenantID, actorID shared.ID, input BulkCreateInput, actx AuditContext) (*BulkResult, error) {
	if len(input.Emails) == 0 {
		return nil, fmt.Errorf("%w: At least one email is required", shared.ErrValidation)
	}
	if len(input.Emails) > s.limits.Create {
		return nil, fmt.Errorf("%w: Cannot invite more than %d users at once", shared.ErrValidation, s.limits.Create)
	}

	result := newBulkResult(len(input.Emails))
	for _, email := range dedupeEmails(input.Emails) {
		if !invitation.IsValidEmail(email) {
			result.fail(BulkFailure{Email: email, Error: "Invalid email format"})
			continue
		}

		details, err := s.invitations.CreateInvitation(ctx, tenantID, actorID, CreateInvitationInput{
			Email:     email,
			RoleIDs:   input.RoleIDs,
			ExpiresAt: input.ExpiresAt,
			Message:   input.Message,
		}, actx)
		if err != nil {
			result.fail(BulkFailure{Email: email, Error: s.itemError(ctx, "create", err)})
			continue
		}
		result.succeed(BulkSuccess{Email: email, InvitationID: details.Invitation.ID()})
	}

	s.finish(ctx, tenantID, actx, audit.ActionBulkCreated, "create", result)
	return result, nil
}

// CancelBulkInvitations cancels each invitation independently.
func (s *InvitationBulkService) CancelBulkInvitations(ctx context.Context, tenantID shared.ID, ids []string, actx AuditContext) (*BulkResult, error) {
	if err := s.checkActionSize(ids); err != nil {
		return nil, err
	}

	result := newBulkResult(len(ids))
	for _, raw := range ids {
		id, err := shared.IDFromString(raw)
		if err != nil {
			result.fail(BulkFailure{Email: unknownEmail, InvitationID: raw, Error: "Invalid invitation ID"})
			continue
		}

		email := s.displayEmail(ctx, tenantID, id)
		if _, err := s.invitations.CancelInvitation(ctx, tenantID, id, actx); err != nil {
			result.fail(BulkFailure{Email: email, InvitationID: raw, Error: s.itemError(ctx, "cancel", err)})
			continue
		}
		result.succeed(BulkSuccess{Email: email, InvitationID: id})
	}

	s.finish(ctx, tenantID, actx, audit.ActionBulkCancelled, "cancel", result)
	return result, nil
}

// ResendBulkInvitations resends each invitation independently.
func (s *InvitationBulkService) ResendBulkInvitations(ctx context.Context, tenantID shared.ID, ids []string, actx AuditContext) (*BulkResult, error) {
	if err := s.checkActionSize(ids); err != nil {
		return nil, err
	}

	result := newBulkResult(len(ids))
	for _, raw := range ids {
		id, err := shared.IDFromString(raw)
		if err != nil {
			result.fail(BulkFailure{Email: unknownEmail, InvitationID: raw, Error: "Invalid invitation ID"})
			continue
		}

		details, err := s.invitations.ResendInvitation(ctx, tenantID, id, actx)
		if err != nil {
			result.fail(BulkFailure{
				Email:        s.displayEmail(ctx, tenantID, id),
				InvitationID: raw,
				Error:        s.itemError(ctx, "resend", err),
			})
			continue
		}
		result.succeed(BulkSuccess{Email: details.Invitation.Email(), InvitationID: id})
	}

	s.finish(ctx, tenantID, actx, audit.ActionBulkResent, "resend", result)
	return result, nil
}

func (s *InvitationBulkService) checkActionSize(ids []string) error {
	if len(ids) == 0 {
		return fmt.Errorf("%w: At least one invitation ID is required", shared.ErrValidation)
	}
	if len(ids) > s.limits.Action {
		return fmt.Errorf("%w: Cannot process more than %d invitations at once", shared.ErrValidation, s.limits.Action)
	}
	return nil
}

// displayEmail looks an invitation's email up for reporting. Any failure
// degrades to a placeholder.
func (s *InvitationBulkService) displayEmail(ctx context.Context, tenantID, id shared.ID) string {
	inv, err := s.repo.GetByID(ctx, tenantID, id)
	if err != nil {
		return unknownEmail
	}
	return inv.Email()
}

// itemError returns the client-safe message of a failed item. Unexpected
// errors are logged and replaced.
func (s *InvitationBulkService) itemError(ctx context.Context, op string, err error) string {
	if shared.IsValidation(err) || shared.IsNotFound(err) || shared.IsConflict(err) {
		return shared.Message(err)
	}
	s.logger.WithContext(ctx).Error("bulk item failed", "operation", op, "error", err)
	return fmt.Sprintf("Failed to %s invitation", op)
}

func (s *InvitationBulkService) finish(ctx context.Context, tenantID shared.ID, actx AuditContext, action audit.Action, op string, result *BulkResult) {
	metrics.BulkItemsTotal.WithLabelValues(op, metrics.StatusSuccess).Add(float64(result.Summary.Successful))
	metrics.BulkItemsTotal.WithLabelValues(op, metrics.StatusFailed).Add(float64(result.Summary.Failed))

	s.logger.WithContext(ctx).Info("bulk operation finished",
		"operation", op,
		"batch_id", result.BatchID,
		"total", result.Summary.Total,
		"successful", result.Summary.Successful,
		"failed", result.Summary.Failed,
	)

	entry := newEntry(action, tenantID, shared.ID{}).
		WithMetadata("batch_id", result.BatchID).
		WithMetadata("total", result.Summary.Total).
		WithMetadata("successful", result.Summary.Successful).
		WithMetadata("failed", result.Summary.Failed)
	s.audit.RecordBestEffort(ctx, actx, entry)
}

// dedupeEmails normalises emails and drops case-insensitive duplicates,
// keeping first-seen order.
func dedupeEmails(emails []string) []string {
	seen := make(map[string]struct{}, len(emails))
	out := make([]string, 0, len(emails))
	for _, raw := range emails {
		email := invitation.NormalizeEmail(raw)
		if _, ok := seen[email]; ok {
			continue
		}
		seen[email] = struct{}{}
		out = append(out, email)
	}
	return out
}
