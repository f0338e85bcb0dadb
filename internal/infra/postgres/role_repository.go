package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/openctemio/invitations/pkg/domain/role"
	"github.com/openctemio/invitations/pkg/domain/shared"
)

// RoleRepository implements role.Repository using PostgreSQL.
type RoleRepository struct {
	db *DB
}

// NewRoleRepository creates a new RoleRepository.
func NewRoleRepository(db *DB) *RoleRepository {
	return &RoleRepository{db: db}
}

// FindByIDs returns the roles among ids that belong to the tenant.
func (r *RoleRepository) FindByIDs(ctx context.Context, tenantID shared.ID, ids []shared.ID) ([]*role.Role, error) {
	if len(ids) == 0 {
		return []*role.Role{}, nil
	}
	query := `
		SELECT id, tenant_id, name, description, created_at
		FROM roles
		WHERE tenant_id = $1 AND id = ANY($2::uuid[])
		ORDER BY name
	`
	return r.query(ctx, query, tenantID.String(), pq.Array(shared.IDStrings(ids)))
}

// GetByName returns the tenant's role with the given name.
func (r *RoleRepository) GetByName(ctx context.Context, tenantID shared.ID, name string) (*role.Role, error) {
	query := `
		SELECT id, tenant_id, name, description, created_at
		FROM roles
		WHERE tenant_id = $1 AND name = $2
	`
	ro, err := r.doScan(r.db.QueryRowContext(ctx, query, tenantID.String(), name).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: role %q not found", shared.ErrNotFound, name)
		}
		return nil, err
	}
	return ro, nil
}

// ListForUser returns the roles assigned to a user.
func (r *RoleRepository) ListForUser(ctx context.Context, tenantID, userID shared.ID) ([]*role.Role, error) {
	query := `
		SELECT ro.id, ro.tenant_id, ro.name, ro.description, ro.created_at
		FROM roles ro
		JOIN user_roles ur ON ur.role_id = ro.id
		WHERE ur.user_id = $1 AND ro.tenant_id = $2
		ORDER BY ro.name
	`
	return r.query(ctx, query, userID.String(), tenantID.String())
}

func (r *RoleRepository) query(ctx context.Context, query string, args ...any) ([]*role.Role, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query roles: %w", err)
	}
	defer rows.Close()

	roles := make([]*role.Role, 0)
	for rows.Next() {
		ro, err := r.doScan(rows.Scan)
		if err != nil {
			return nil, err
		}
		roles = append(roles, ro)
	}
	return roles, rows.Err()
}

func (r *RoleRepository) doScan(scan func(dest ...any) error) (*role.Role, error) {
	var (
		idStr, tenantIDStr, name, description string
		createdAt                             time.Time
	)
	if err := scan(&idStr, &tenantIDStr, &name, &description, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan role: %w", err)
	}
	id, _ := shared.IDFromString(idStr)
	tenantID, _ := shared.IDFromString(tenantIDStr)
	return role.Reconstitute(id, tenantID, name, description, createdAt), nil
}
