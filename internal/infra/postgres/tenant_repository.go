package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/openctemio/invitations/pkg/domain/shared"
	"github.com/openctemio/invitations/pkg/domain/tenant"
)

// TenantRepository implements tenant.Repository using PostgreSQL.
type TenantRepository struct {
	db *DB
}

// NewTenantRepository creates a new TenantRepository.
func NewTenantRepository(db *DB) *TenantRepository {
	return &TenantRepository{db: db}
}

// GetByID retrieves a tenant by ID.
func (r *TenantRepository) GetByID(ctx context.Context, id shared.ID) (*tenant.Tenant, error) {
	query := `
		SELECT id, name, slug, settings, created_at, updated_at
		FROM tenants
		WHERE id = $1
	`

	var (
		idStr, name, slug    string
		settingsJSON         []byte
		createdAt, updatedAt time.Time
	)
	err := r.db.QueryRowContext(ctx, query, id.String()).
		Scan(&idStr, &name, &slug, &settingsJSON, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: tenant not found", shared.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to scan tenant: %w", err)
	}

	tenantID, _ := shared.IDFromString(idStr)

	settings, err := tenant.ParseSettings(settingsJSON)
	if err != nil {
		return nil, err
	}

	return tenant.Reconstitute(tenantID, name, slug, settings, createdAt, updatedAt), nil
}
