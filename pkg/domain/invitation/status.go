package invitation

import (
	"fmt"
	"strings"
	"time"

	"github.com/openctemio/invitations/pkg/domain/shared"
)

// StatusKind is the persisted discriminator of an invitation status.
type StatusKind string

const (
	StatusPending   StatusKind = "PENDING"
	StatusAccepted  StatusKind = "ACCEPTED"
	StatusExpired   StatusKind = "EXPIRED"
	StatusCancelled StatusKind = "CANCELLED"
)

// AllStatusKinds returns every known status kind.
func AllStatusKinds() []StatusKind {
	return []StatusKind{StatusPending, StatusAccepted, StatusExpired, StatusCancelled}
}

// IsValid reports whether the kind is a known status.
func (k StatusKind) IsValid() bool {
	switch k {
	case StatusPending, StatusAccepted, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed.
func (k StatusKind) IsTerminal() bool {
	return k == StatusAccepted || k == StatusExpired || k == StatusCancelled
}

// String returns the string representation.
func (k StatusKind) String() string {
	return string(k)
}

// ParseStatusKind parses a status kind, case-insensitively.
func ParseStatusKind(s string) (StatusKind, error) {
	k := StatusKind(strings.ToUpper(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", fmt.Errorf("%w: invalid invitation status: %s", shared.ErrValidation, s)
	}
	return k, nil
}

// Status is the lifecycle state of an invitation. The concrete types are
// Pending, Accepted, Expired and Cancelled.
type Status interface {
	Kind() StatusKind
	isStatus()
}

// Pending is the only non-terminal status.
type Pending struct{}

// Accepted records when the invitation was accepted.
type Accepted struct {
	At time.Time
}

// Expired marks an invitation whose expiry passed while pending.
type Expired struct{}

// Cancelled records when the invitation was cancelled.
type Cancelled struct {
	At time.Time
}

func (Pending) Kind() StatusKind {
	return StatusPending
}

func (Accepted) Kind() StatusKind {
	return StatusAccepted
}

func (Expired) Kind() StatusKind {
	return StatusExpired
}

func (Cancelled) Kind() StatusKind {
	return StatusCancelled
}

func (Pending) isStatus()   {}
func (Accepted) isStatus()  {}
func (Expired) isStatus()   {}
func (Cancelled) isStatus() {}

// StatusFromRecord rebuilds a Status from its persisted columns.
func StatusFromRecord(kind string, acceptedAt, cancelledAt *time.Time) (Status, error) {
	switch StatusKind(kind) {
	case StatusPending:
		return Pending{}, nil
	case StatusAccepted:
		if acceptedAt == nil {
			return nil, fmt.Errorf("accepted invitation without accepted_at")
		}
		return Accepted{At: *acceptedAt}, nil
	case StatusExpired:
		return Expired{}, nil
	case StatusCancelled:
		if cancelledAt == nil {
			return nil, fmt.Errorf("cancelled invitation without cancelled_at")
		}
		return Cancelled{At: *cancelledAt}, nil
	}
	return nil, fmt.Errorf("unknown invitation status: %q", kind)
}
