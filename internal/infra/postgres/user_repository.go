package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/openctemio/invitations/pkg/crypto"
	"github.com/openctemio/invitations/pkg/domain/shared"
	"github.com/openctemio/invitations/pkg/domain/user"
)

const constraintUserEmail = "ux_users_tenant_email"

// UserRepository implements user.Repository using PostgreSQL. Verification
// secrets are encrypted before they are written.
type UserRepository struct {
	db  *DB
	enc crypto.Encryptor
}

// NewUserRepository creates a new UserRepository. A nil encryptor stores
// secrets as-is.
func NewUserRepository(db *DB, enc crypto.Encryptor) *UserRepository {
	if enc == nil {
		enc = crypto.NoOpEncryptor{}
	}
	return &UserRepository{db: db, enc: enc}
}

// GetByID retrieves a user of the tenant.
func (r *UserRepository) GetByID(ctx context.Context, tenantID, id shared.ID) (*user.User, error) {
	query := `
		SELECT id, tenant_id, email, first_name, last_name, password_hash, auth_provider,
			external_id, email_verified, verification_secret, created_at, updated_at
		FROM users
		WHERE id = $1 AND tenant_id = $2
	`
	return r.scanUser(r.db.QueryRowContext(ctx, query, id.String(), tenantID.String()))
}

// ExistsByEmail reports whether the tenant has a user with the email.
func (r *UserRepository) ExistsByEmail(ctx context.Context, tenantID shared.ID, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE tenant_id = $1 AND email = $2)`,
		tenantID.String(), email,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check user email: %w", err)
	}
	return exists, nil
}

// CreateWithRoles inserts the user and its role assignments atomically.
func (r *UserRepository) CreateWithRoles(ctx context.Context, u *user.User, roleIDs []shared.ID) error {
	secret, err := r.enc.EncryptString(u.VerificationSecret())
	if err != nil {
		return fmt.Errorf("failed to encrypt verification secret: %w", err)
	}

	return r.db.InTx(ctx, func(tx *sql.Tx) error {
		query := `
			INSERT INTO users (
				id, tenant_id, email, first_name, last_name, password_hash, auth_provider,
				external_id, email_verified, verification_secret, created_at, updated_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`
		_, err := tx.ExecContext(ctx, query,
			u.ID().String(),
			u.TenantID().String(),
			u.Email(),
			u.FirstName(),
			u.LastName(),
			nullString(u.PasswordHash()),
			u.AuthProvider().String(),
			nullString(u.ExternalID()),
			u.EmailVerified(),
			nullString(secret),
			u.CreatedAt(),
			u.UpdatedAt(),
		)
		if err != nil {
			if constraint, ok := uniqueViolation(err); ok && constraint == constraintUserEmail {
				return user.ErrEmailTaken
			}
			return fmt.Errorf("failed to create user: %w", err)
		}

		for _, roleID := range roleIDs {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO user_roles (user_id, role_id, assigned_at) VALUES ($1, $2, $3)
				ON CONFLICT (user_id, role_id) DO NOTHING`,
				u.ID().String(), roleID.String(), u.CreatedAt(),
			)
			if err != nil {
				return fmt.Errorf("failed to assign role %s: %w", roleID, err)
			}
		}
		return nil
	})
}

// Update persists the verification state of a user.
func (r *UserRepository) Update(ctx context.Context, u *user.User) error {
	secret, err := r.enc.EncryptString(u.VerificationSecret())
	if err != nil {
		return fmt.Errorf("failed to encrypt verification secret: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET first_name = $3, last_name = $4, email_verified = $5, verification_secret = $6, updated_at = $7
		WHERE id = $1 AND tenant_id = $2
	`,
		u.ID().String(),
		u.TenantID().String(),
		u.FirstName(),
		u.LastName(),
		u.EmailVerified(),
		nullString(secret),
		u.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: user not found", shared.ErrNotFound)
	}
	return nil
}

func (r *UserRepository) scanUser(row *sql.Row) (*user.User, error) {
	var (
		idStr, tenantIDStr, email, firstName, lastName, provider string
		passwordHash, externalID, secret                         sql.NullString
		emailVerified                                            bool
		createdAt, updatedAt                                     time.Time
	)

	err := row.Scan(
		&idStr, &tenantIDStr, &email, &firstName, &lastName, &passwordHash, &provider,
		&externalID, &emailVerified, &secret, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: user not found", shared.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}

	id, _ := shared.IDFromString(idStr)
	tenantID, _ := shared.IDFromString(tenantIDStr)

	plainSecret := ""
	if secret.Valid {
		plainSecret, err = r.enc.DecryptString(secret.String)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt verification secret: %w", err)
		}
	}

	return user.Reconstitute(
		id, tenantID,
		email, firstName, lastName, passwordHash.String,
		user.AuthProvider(provider),
		externalID.String,
		emailVerified,
		plainSecret,
		createdAt, updatedAt,
	), nil
}
