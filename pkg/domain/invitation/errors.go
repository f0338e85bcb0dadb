package invitation

import (
	"fmt"

	"github.com/openctemio/invitations/pkg/domain/shared"
)

// Validation failure reasons surfaced to callers of token validation.
const (
	ReasonInvalidFormat   = "Invalid token format"
	ReasonNotFound        = "Token not found"
	ReasonAlreadyAccepted = "Invitation has already been accepted"
	ReasonCancelled       = "Invitation has been cancelled"
	ReasonExpired         = "Invitation has expired"
	ReasonInvalidStatus   = "Invalid invitation status"
)

var (
	// ErrPendingExists is returned when a pending invitation already exists
	// for the same tenant and email.
	ErrPendingExists = fmt.Errorf("%w: A pending invitation already exists for this email", shared.ErrAlreadyExists)

	// ErrStatusChanged is returned when a conditional status update lost a race.
	ErrStatusChanged = fmt.Errorf("%w: invitation status changed concurrently", shared.ErrConflict)
)

// transitionError builds the error returned when an operation requires the
// invitation to be pending.
func transitionError(action string, current StatusKind) error {
	return fmt.Errorf("%w: Cannot %s invitation with status: %s", shared.ErrValidation, action, current)
}
