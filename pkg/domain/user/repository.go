package user

import (
	"context"
	"fmt"

	"github.com/openctemio/invitations/pkg/domain/shared"
)

// ErrEmailTaken is returned when the tenant already has a user with the email.
var ErrEmailTaken = fmt.Errorf("%w: User already exists in this tenant", shared.ErrAlreadyExists)

// Repository persists users.
type Repository interface {
	// GetByID returns a user of the tenant.
	GetByID(ctx context.Context, tenantID, id shared.ID) (*User, error)

	// ExistsByEmail reports whether a user with the email exists in the tenant.
	ExistsByEmail(ctx context.Context, tenantID shared.ID, email string) (bool, error)

	// CreateWithRoles creates the user and its role rows in one transaction.
	// Either both are stored or neither is.
	CreateWithRoles(ctx context.Context, u *User, roleIDs []shared.ID) error

	// Update persists verification state.
	Update(ctx context.Context, u *User) error
}
