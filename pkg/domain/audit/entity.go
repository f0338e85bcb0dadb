// Package audit defines the append-only invitation audit log.
package audit

import (
	"fmt"
	"net"
	"time"

	"github.com/openctemio/invitations/pkg/domain/shared"
)

// Entry is a single append-only audit record.
type Entry struct {
	id           shared.ID
	action       Action
	invitationID *shared.ID
	tenantID     *shared.ID
	actorID      *shared.ID
	ipAddress    string
	userAgent    string
	success      bool
	errorCode    string
	errorMessage string
	metadata     map[string]any
	createdAt    time.Time
}

// NewEntry creates a successful entry for action. Use the With* methods to
// attach context before persisting.
func NewEntry(action Action) (*Entry, error) {
	if !action.IsValid() {
		return nil, fmt.Errorf("%w: invalid audit action %q", shared.ErrValidation, action)
	}
	return &Entry{
		id:        shared.NewID(),
		action:    action,
		success:   true,
		metadata:  make(map[string]any),
		createdAt: time.Now().UTC(),
	}, nil
}

// Reconstitute recreates an Entry from persistence.
func Reconstitute(
	id shared.ID,
	action Action,
	invitationID, tenantID, actorID *shared.ID,
	ipAddress, userAgent string,
	success bool,
	errorCode, errorMessage string,
	metadata map[string]any,
	createdAt time.Time,
) *Entry {
	if metadata == nil {
		metadata = make(map[string]any)
	}
	return &Entry{
		id:           id,
		action:       action,
		invitationID: invitationID,
		tenantID:     tenantID,
		actorID:      actorID,
		ipAddress:    ipAddress,
		userAgent:    userAgent,
		success:      success,
		errorCode:    errorCode,
		errorMessage: errorMessage,
		metadata:     metadata,
		createdAt:    createdAt,
	}
}

// WithInvitation ties the entry to an invitation.
func (e *Entry) WithInvitation(id shared.ID) *Entry {
	if !id.IsZero() {
		e.invitationID = &id
	}
	return e
}

// WithTenant ties the entry to a tenant.
func (e *Entry) WithTenant(id shared.ID) *Entry {
	if !id.IsZero() {
		e.tenantID = &id
	}
	return e
}

// WithActor records who performed the action.
func (e *Entry) WithActor(id shared.ID) *Entry {
	if !id.IsZero() {
		e.actorID = &id
	}
	return e
}

// WithNetwork records request metadata. An ip that does not parse is
// dropped rather than stored.
func (e *Entry) WithNetwork(ip, userAgent string) *Entry {
	e.ipAddress = ""
	if parsed := net.ParseIP(ip); parsed != nil {
		e.ipAddress = parsed.String()
	}
	e.userAgent = userAgent
	return e
}

// WithFailure marks the entry as failed.
func (e *Entry) WithFailure(code, message string) *Entry {
	e.success = false
	e.errorCode = code
	e.errorMessage = message
	return e
}

// WithMetadata adds a metadata key.
func (e *Entry) WithMetadata(key string, value any) *Entry {
	e.metadata[key] = value
	return e
}

func (e *Entry) ID() shared.ID {
	return e.id
}

func (e *Entry) Action() Action {
	return e.action
}

func (e *Entry) InvitationID() *shared.ID {
	return e.invitationID
}

func (e *Entry) TenantID() *shared.ID {
	return e.tenantID
}

func (e *Entry) ActorID() *shared.ID {
	return e.actorID
}

func (e *Entry) IPAddress() string {
	return e.ipAddress
}

func (e *Entry) UserAgent() string {
	return e.userAgent
}

func (e *Entry) Success() bool {
	return e.success
}

func (e *Entry) ErrorCode() string {
	return e.errorCode
}

func (e *Entry) ErrorMessage() string {
	return e.errorMessage
}

func (e *Entry) Metadata() map[string]any {
	return e.metadata
}

func (e *Entry) CreatedAt() time.Time {
	return e.createdAt
}
