package invitation

import (
	"context"
	"time"

	"github.com/openctemio/invitations/pkg/domain/shared"
	"github.com/openctemio/invitations/pkg/pagination"
)

// Repository persists invitations. Every tenant-facing method takes the
// tenant explicitly; a record outside the tenant is reported as not found.
type Repository interface {
	// Create persists the invitation and its role rows atomically.
	// Returns ErrPendingExists when the pending-email unique index fires.
	Create(ctx context.Context, inv *Invitation) error

	// GetByID returns an invitation of the tenant.
	GetByID(ctx context.Context, tenantID, id shared.ID) (*Invitation, error)

	// GetByToken looks an invitation up by exact token across tenants.
	GetByToken(ctx context.Context, token string) (*Invitation, error)

	// HasPending reports whether a pending invitation exists for the email.
	HasPending(ctx context.Context, tenantID shared.ID, email string) (bool, error)

	// Update writes token, expiry and status, but only if the stored status
	// still equals expected. Returns ErrStatusChanged otherwise.
	Update(ctx context.Context, inv *Invitation, expected StatusKind) error

	// List returns a page of the tenant's invitations.
	List(ctx context.Context, tenantID shared.ID, filter Filter, opts ListOptions, page pagination.Pagination) (pagination.Result[*Invitation], error)

	// ExpirePending flips every pending invitation whose expiry is at or
	// before now to EXPIRED and returns the flipped records.
	ExpirePending(ctx context.Context, now time.Time, limit int) ([]*Invitation, error)

	// ListTerminalBefore returns terminal invitations last updated before cutoff.
	ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Invitation, error)

	// DeleteByIDs hard-deletes invitations and their role rows.
	DeleteByIDs(ctx context.Context, ids []shared.ID) (int64, error)
}

// StatsRepository answers the aggregate queries used by reporting.
type StatsRepository interface {
	// CountByStatus counts invitations per status, optionally limited to
	// those created at or after since.
	CountByStatus(ctx context.Context, tenantID shared.ID, since *time.Time) (map[StatusKind]int64, error)

	// CountCreatedBetween counts invitations created in [from, to).
	CountCreatedBetween(ctx context.Context, tenantID shared.ID, from, to time.Time) (int64, error)

	// CountAcceptedBetween counts invitations accepted in [from, to).
	CountAcceptedBetween(ctx context.Context, tenantID shared.ID, from, to time.Time) (int64, error)

	// CountPendingExpiringBetween counts pending invitations whose expiry is in [from, to).
	CountPendingExpiringBetween(ctx context.Context, tenantID shared.ID, from, to time.Time) (int64, error)

	// CountExpiredBetween counts EXPIRED invitations whose expiry is in [from, to).
	CountExpiredBetween(ctx context.Context, tenantID shared.ID, from, to time.Time) (int64, error)

	// CountPendingCreatedBefore counts pending invitations created before t.
	CountPendingCreatedBefore(ctx context.Context, tenantID shared.ID, t time.Time) (int64, error)

	// TopInviters returns inviters ordered by invitation volume.
	TopInviters(ctx context.Context, tenantID shared.ID, limit int) ([]InviterCount, error)

	// RoleDistribution returns roles ordered by assignment count.
	RoleDistribution(ctx context.Context, tenantID shared.ID, limit int) ([]RoleCount, error)

	// ListForReport projects invitations into flat report rows.
	ListForReport(ctx context.Context, tenantID shared.ID, filter ReportFilter) ([]ReportRow, error)
}

// Filter narrows invitation listings.
type Filter struct {
	Statuses    []StatusKind
	Email       string // substring, case-insensitive
	InvitedBy   *shared.ID
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	ExpiresFrom *time.Time
	ExpiresTo   *time.Time
}

// ListOptions carries sorting for listings.
type ListOptions struct {
	Sort *pagination.SortOption
}

// SortFields maps request sort keys to columns.
var SortFields = map[string]string{
	"created_at": "created_at",
	"expires_at": "expires_at",
	"email":      "email",
	"status":     "status",
}

// ReportFilter narrows report generation.
type ReportFilter struct {
	Status         *StatusKind
	From           *time.Time
	To             *time.Time
	IncludeExpired bool
}

// ReportRow is a flat projection of an invitation for reporting and export.
type ReportRow struct {
	ID           shared.ID
	Email        string
	Status       StatusKind
	InvitedBy    shared.ID
	InviterEmail string
	Roles        []string
	Message      string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	AcceptedAt   *time.Time
	CancelledAt  *time.Time
}

// InviterCount is an inviter and the number of invitations they sent.
// Email is empty when the inviter no longer resolves to a user.
type InviterCount struct {
	UserID shared.ID
	Email  string
	Count  int64
}

// RoleCount is a role and how many invitations assign it.
type RoleCount struct {
	RoleID   shared.ID
	RoleName string
	Count    int64
}
