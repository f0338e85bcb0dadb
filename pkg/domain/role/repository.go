package role

import (
	"context"

	"github.com/openctemio/invitations/pkg/domain/shared"
)

// Repository reads tenant roles.
type Repository interface {
	// FindByIDs returns the subset of ids that are roles of the tenant.
	FindByIDs(ctx context.Context, tenantID shared.ID, ids []shared.ID) ([]*Role, error)

	// GetByName returns a tenant role by name. Returns shared.ErrNotFound if missing.
	GetByName(ctx context.Context, tenantID shared.ID, name string) (*Role, error)

	// ListForUser returns the roles currently assigned to a user.
	ListForUser(ctx context.Context, tenantID, userID shared.ID) ([]*Role, error)
}
