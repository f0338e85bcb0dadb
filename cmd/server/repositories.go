package main

import (
	"github.com/openctemio/invitations/internal/infra/postgres"
	"github.com/openctemio/invitations/pkg/crypto"
)

// Repositories holds all repository instances.
type Repositories struct {
	Invitation *postgres.InvitationRepository
	Stats      *postgres.InvitationStatsRepository
	Audit      *postgres.AuditRepository
	Tenant     *postgres.TenantRepository
	User       *postgres.UserRepository
	Role       *postgres.RoleRepository
}

// NewRepositories initializes all repositories. enc protects verification
// secrets at rest.
func NewRepositories(db *postgres.DB, enc crypto.Encryptor) *Repositories {
	return &Repositories{
		Invitation: postgres.NewInvitationRepository(db),
		Stats:      postgres.NewInvitationStatsRepository(db),
		Audit:      postgres.NewAuditRepository(db),
		Tenant:     postgres.NewTenantRepository(db),
		User:       postgres.NewUserRepository(db, enc),
		Role:       postgres.NewRoleRepository(db),
	}
}
