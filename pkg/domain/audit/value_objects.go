package audit

// Action is what an audit entry records.
type Action string

const (
	ActionCreated           Action = "invitation.created"
	ActionSent              Action = "invitation.sent"
	ActionResent            Action = "invitation.resent"
	ActionCancelled         Action = "invitation.cancelled"
	ActionAccepted          Action = "invitation.accepted"
	ActionExpired           Action = "invitation.expired"
	ActionValidated         Action = "invitation.validated"
	ActionValidationFailed  Action = "invitation.validation_failed"
	ActionRateLimitExceeded Action = "invitation.rate_limit_exceeded"
	ActionCleanup           Action = "invitation.cleanup"
	ActionBulkCreated       Action = "invitation.bulk_created"
	ActionBulkCancelled     Action = "invitation.bulk_cancelled"
	ActionBulkResent        Action = "invitation.bulk_resent"
	ActionEmailVerified     Action = "user.email_verified"
)

// AllActions returns every known action.
func AllActions() []Action {
	return []Action{
		ActionCreated, ActionSent, ActionResent, ActionCancelled, ActionAccepted,
		ActionExpired, ActionValidated, ActionValidationFailed, ActionRateLimitExceeded,
		ActionCleanup, ActionBulkCreated, ActionBulkCancelled, ActionBulkResent,
		ActionEmailVerified,
	}
}

// IsValid checks if the action is known.
func (a Action) IsValid() bool {
	for _, known := range AllActions() {
		if a == known {
			return true
		}
	}
	return false
}

// IsSecurityEvent reports whether the action should also be logged as a
// security event.
func (a Action) IsSecurityEvent() bool {
	switch a {
	case ActionValidationFailed, ActionRateLimitExceeded:
		return true
	}
	return false
}

func (a Action) String() string {
	return string(a)
}

// Error codes recorded on failed entries.
const (
	CodeInvalidFormat   = "INVALID_FORMAT"
	CodeNotFound        = "NOT_FOUND"
	CodeAlreadyAccepted = "ALREADY_ACCEPTED"
	CodeCancelled       = "CANCELLED"
	CodeExpired         = "EXPIRED"
	CodeInvalidStatus   = "INVALID_STATUS"
	CodeHashMismatch    = "HASH_MISMATCH"
	CodeRateLimited     = "RATE_LIMITED"
	CodeInternal        = "INTERNAL_ERROR"
)
