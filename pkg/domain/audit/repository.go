package audit

import (
	"context"
	"time"

	"github.com/openctemio/invitations/pkg/domain/shared"
	"github.com/openctemio/invitations/pkg/pagination"
)

// Repository persists audit entries. Entries are never updated.
type Repository interface {
	// Create appends an entry.
	Create(ctx context.Context, entry *Entry) error

	// ListByInvitation returns the trail of a single invitation, newest first.
	ListByInvitation(ctx context.Context, tenantID, invitationID shared.ID, page pagination.Pagination) (pagination.Result[*Entry], error)

	// CountByAction counts entries for an action since a point in time.
	CountByAction(ctx context.Context, tenantID *shared.ID, action Action, since time.Time) (int64, error)

	// DeleteOlderThan removes entries created before the cutoff.
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}
