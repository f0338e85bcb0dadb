// Package tenant provides the tenant (organisation) domain model.
package tenant

import (
	"context"
	"time"

	"github.com/openctemio/invitations/pkg/domain/shared"
)

// Tenant is an isolated organisation that owns users, roles and invitations.
type Tenant struct {
	id        shared.ID
	name      string
	slug      string
	settings  Settings
	createdAt time.Time
	updatedAt time.Time
}

// Reconstitute recreates a Tenant from persistence.
func Reconstitute(id shared.ID, name, slug string, settings Settings, createdAt, updatedAt time.Time) *Tenant {
	return &Tenant{
		id:        id,
		name:      name,
		slug:      slug,
		settings:  settings,
		createdAt: createdAt,
		updatedAt: updatedAt,
	}
}

// ID returns the tenant ID.
func (t *Tenant) ID() shared.ID {
	return t.id
}

// Name returns the display name.
func (t *Tenant) Name() string {
	return t.name
}

func (t *Tenant) Slug() string {
	return t.slug
}

// Settings returns the typed tenant settings.
func (t *Tenant) Settings() Settings {
	return t.settings
}

func (t *Tenant) CreatedAt() time.Time {
	return t.createdAt
}

func (t *Tenant) UpdatedAt() time.Time {
	return t.updatedAt
}

// GoogleSSOEnabled reports whether members may sign in with Google.
func (t *Tenant) GoogleSSOEnabled() bool {
	return t.settings.Security.GoogleSSOEnabled
}

// Repository reads tenants.
type Repository interface {
	GetByID(ctx context.Context, id shared.ID) (*Tenant, error)
}
