// Package role provides tenant roles granted to users.
package role

import (
	"time"

	"github.com/openctemio/invitations/pkg/domain/shared"
)

// DefaultMemberRoleName is the role assigned when an invitation carries none.
const DefaultMemberRoleName = "Member"

// Role is a named set of permissions scoped to a tenant.
type Role struct {
	id          shared.ID
	tenantID    shared.ID
	name        string
	description string
	createdAt   time.Time
}

// Reconstitute recreates a Role from persistence.
func Reconstitute(id, tenantID shared.ID, name, description string, createdAt time.Time) *Role {
	return &Role{
		id:          id,
		tenantID:    tenantID,
		name:        name,
		description: description,
		createdAt:   createdAt,
	}
}

// ID returns the role ID.
func (r *Role) ID() shared.ID {
	return r.id
}

// TenantID returns the owning tenant.
func (r *Role) TenantID() shared.ID {
	return r.tenantID
}

// Name returns the role name.
func (r *Role) Name() string {
	return r.name
}

func (r *Role) Description() string {
	return r.description
}

func (r *Role) CreatedAt() time.Time {
	return r.createdAt
}

// IDs returns the IDs of roles.
func IDs(roles []*Role) []shared.ID {
	ids := make([]shared.ID, 0, len(roles))
	for _, r := range roles {
		ids = append(ids, r.id)
	}
	return ids
}

// Names returns the names of roles.
func Names(roles []*Role) []string {
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.name)
	}
	return names
}
