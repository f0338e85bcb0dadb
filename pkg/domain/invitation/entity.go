// Package invitation defines the tenant invitation aggregate and its lifecycle.
package invitation

import (
	"fmt"
	"time"

	"github.com/openctemio/invitations/pkg/domain/shared"
)

// DefaultExpiry is how long an invitation stays valid when no expiry is given.
const DefaultExpiry = 7 * 24 * time.Hour

// MaxMessageLength bounds the optional personal message.
const MaxMessageLength = 1000

// Invitation is an offer for an email address to join a tenant with a set of roles.
type Invitation struct {
	id        shared.ID
	tenantID  shared.ID
	email     string
	token     string
	invitedBy shared.ID
	roleIDs   []shared.ID
	message   string
	expiresAt time.Time
	status    Status
	createdAt time.Time
	updatedAt time.Time
}

// NewInvitation creates a pending invitation with a fresh token.
// expiresAt must be strictly after now.
func NewInvitation(
	tenantID, invitedBy shared.ID,
	email string,
	roleIDs []shared.ID,
	expiresAt time.Time,
	message string,
	now time.Time,
) (*Invitation, error) {
	if tenantID.IsZero() {
		return nil, fmt.Errorf("%w: tenantID is required", shared.ErrValidation)
	}
	if invitedBy.IsZero() {
		return nil, fmt.Errorf("%w: invitedBy is required", shared.ErrValidation)
	}

	email = NormalizeEmail(email)
	if !IsValidEmail(email) {
		return nil, fmt.Errorf("%w: Invalid email format", shared.ErrValidation)
	}
	if !expiresAt.After(now) {
		return nil, fmt.Errorf("%w: Expiration date must be in the future", shared.ErrValidation)
	}
	if len(message) > MaxMessageLength {
		return nil, fmt.Errorf("%w: message must be at most %d characters", shared.ErrValidation, MaxMessageLength)
	}

	token, err := GenerateToken()
	if err != nil {
		return nil, err
	}

	now = now.UTC()
	return &Invitation{
		id:        shared.NewID(),
		tenantID:  tenantID,
		email:     email,
		token:     token,
		invitedBy: invitedBy,
		roleIDs:   dedupeIDs(roleIDs),
		message:   message,
		expiresAt: expiresAt.UTC(),
		status:    Pending{},
		createdAt: now,
		updatedAt: now,
	}, nil
}

// Reconstitute recreates an Invitation from persistence.
func Reconstitute(
	id, tenantID shared.ID,
	email, token string,
	invitedBy shared.ID,
	roleIDs []shared.ID,
	message string,
	expiresAt time.Time,
	status Status,
	createdAt, updatedAt time.Time,
) *Invitation {
	return &Invitation{
		id:        id,
		tenantID:  tenantID,
		email:     email,
		token:     token,
		invitedBy: invitedBy,
		roleIDs:   roleIDs,
		message:   message,
		expiresAt: expiresAt,
		status:    status,
		createdAt: createdAt,
		updatedAt: updatedAt,
	}
}

// ID returns the invitation ID.
func (i *Invitation) ID() shared.ID {
	return i.id
}

// TenantID returns the owning tenant.
func (i *Invitation) TenantID() shared.ID {
	return i.tenantID
}

// Email returns the normalised invitee email.
func (i *Invitation) Email() string {
	return i.email
}

// Token returns the invitation token.
func (i *Invitation) Token() string {
	return i.token
}

// InvitedBy returns the user who sent the invitation.
func (i *Invitation) InvitedBy() shared.ID {
	return i.invitedBy
}

// RoleIDs returns the roles granted on acceptance.
func (i *Invitation) RoleIDs() []shared.ID {
	return i.roleIDs
}

func (i *Invitation) Message() string {
	return i.message
}

// ExpiresAt returns when the invitation expires.
func (i *Invitation) ExpiresAt() time.Time {
	return i.expiresAt
}

func (i *Invitation) Status() Status {
	return i.status
}

// StatusKind returns the persisted status discriminator.
func (i *Invitation) StatusKind() StatusKind {
	return i.status.Kind()
}

func (i *Invitation) CreatedAt() time.Time {
	return i.createdAt
}

func (i *Invitation) UpdatedAt() time.Time {
	return i.updatedAt
}

// IsPending reports whether the stored status is PENDING. It does not look at
// the expiry; use IsExpired for that.
func (i *Invitation) IsPending() bool {
	_, ok := i.status.(Pending)
	return ok
}

// AcceptedAt returns when the invitation was accepted, or nil.
func (i *Invitation) AcceptedAt() *time.Time {
	if s, ok := i.status.(Accepted); ok {
		at := s.At
		return &at
	}
	return nil
}

// CancelledAt returns when the invitation was cancelled, or nil.
func (i *Invitation) CancelledAt() *time.Time {
	if s, ok := i.status.(Cancelled); ok {
		at := s.At
		return &at
	}
	return nil
}

// IsExpired reports whether a pending invitation has passed its expiry.
// Invitations in any other status are never "expired" by this predicate.
func IsExpired(inv *Invitation, now time.Time) bool {
	return inv.IsPending() && !inv.expiresAt.After(now)
}

// ReconcileExpiry moves a pending invitation past its expiry to Expired.
// It returns true when the status changed.
func (i *Invitation) ReconcileExpiry(now time.Time) bool {
	if !IsExpired(i, now) {
		return false
	}
	i.status = Expired{}
	i.updatedAt = now.UTC()
	return true
}

// Accept marks a pending, unexpired invitation as accepted.
func (i *Invitation) Accept(now time.Time) error {
	if !i.IsPending() {
		return transitionError("accept", i.StatusKind())
	}
	if IsExpired(i, now) {
		return fmt.Errorf("%w: %s", shared.ErrValidation, ReasonExpired)
	}
	now = now.UTC()
	i.status = Accepted{At: now}
	i.updatedAt = now
	return nil
}

// Cancel marks a pending invitation as cancelled.
func (i *Invitation) Cancel(now time.Time) error {
	if !i.IsPending() {
		return transitionError("cancel", i.StatusKind())
	}
	now = now.UTC()
	i.status = Cancelled{At: now}
	i.updatedAt = now
	return nil
}

// Resend rotates the token and pushes the expiry out by ttl. The new expiry
// is always strictly later than the previous one.
func (i *Invitation) Resend(now time.Time, ttl time.Duration) error {
	if !i.IsPending() {
		return transitionError("resend", i.StatusKind())
	}
	if ttl <= 0 {
		ttl = DefaultExpiry
	}

	token, err := GenerateToken()
	if err != nil {
		return err
	}

	now = now.UTC()
	expiresAt := now.Add(ttl)
	if !expiresAt.After(i.expiresAt) {
		expiresAt = i.expiresAt.Add(ttl)
	}

	i.token = token
	i.expiresAt = expiresAt
	i.updatedAt = now
	return nil
}

func dedupeIDs(ids []shared.ID) []shared.ID {
	if len(ids) == 0 {
		return []shared.ID{}
	}
	seen := make(map[shared.ID]struct{}, len(ids))
	out := make([]shared.ID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
