package invitation

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/invitations/pkg/domain/shared"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newPending(t *testing.T) *Invitation {
	t.Helper()
	inv, err := NewInvitation(
		shared.NewID(), shared.NewID(),
		"  New@X.com ",
		[]shared.ID{shared.NewID()},
		testNow.Add(DefaultExpiry),
		"welcome",
		testNow,
	)
	require.NoError(t, err)
	return inv
}

func TestNewInvitation(t *testing.T) {
	inv := newPending(t)

	assert.Equal(t, "new@x.com", inv.Email())
	assert.Equal(t, StatusPending, inv.StatusKind())
	assert.True(t, IsValidTokenFormat(inv.Token()))
	assert.Equal(t, testNow.Add(DefaultExpiry), inv.ExpiresAt())
	assert.Nil(t, inv.AcceptedAt())
	assert.Nil(t, inv.CancelledAt())
}

func TestNewInvitation_Validation(t *testing.T) {
	tenantID, inviter := shared.NewID(), shared.NewID()

	tests := []struct {
		name      string
		tenantID  shared.ID
		invitedBy shared.ID
		email     string
		expiresAt time.Time
	}{
		{"missing tenant", shared.ID{}, inviter, "a@x.com", testNow.Add(time.Hour)},
		{"missing inviter", tenantID, shared.ID{}, "a@x.com", testNow.Add(time.Hour)},
		{"bad email", tenantID, inviter, "not-an-email", testNow.Add(time.Hour)},
		{"expiry in past", tenantID, inviter, "a@x.com", testNow.Add(-time.Hour)},
		{"expiry equal to now", tenantID, inviter, "a@x.com", testNow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewInvitation(tt.tenantID, tt.invitedBy, tt.email, nil, tt.expiresAt, "", testNow)
			require.Error(t, err)
			assert.True(t, errors.Is(err, shared.ErrValidation))
		})
	}
}

func TestNewInvitation_DedupesRoles(t *testing.T) {
	r := shared.NewID()
	inv, err := NewInvitation(shared.NewID(), shared.NewID(), "a@x.com", []shared.ID{r, r}, testNow.Add(time.Hour), "", testNow)
	require.NoError(t, err)
	assert.Equal(t, []shared.ID{r}, inv.RoleIDs())
}

func TestIsExpired(t *testing.T) {
	inv := newPending(t)

	assert.False(t, IsExpired(inv, testNow))
	assert.True(t, IsExpired(inv, inv.ExpiresAt()), "expiry boundary counts as expired")
	assert.True(t, IsExpired(inv, inv.ExpiresAt().Add(time.Second)))

	require.NoError(t, inv.Cancel(testNow))
	assert.False(t, IsExpired(inv, inv.ExpiresAt().Add(time.Hour)), "terminal invitations are never expired by the predicate")
}

func TestReconcileExpiry(t *testing.T) {
	inv := newPending(t)
	later := inv.ExpiresAt().Add(time.Minute)

	assert.False(t, inv.ReconcileExpiry(testNow))
	assert.Equal(t, StatusPending, inv.StatusKind())

	assert.True(t, inv.ReconcileExpiry(later))
	assert.Equal(t, StatusExpired, inv.StatusKind())

	assert.False(t, inv.ReconcileExpiry(later), "second reconcile is a no-op")
}

func TestAccept(t *testing.T) {
	inv := newPending(t)

	require.NoError(t, inv.Accept(testNow))
	assert.Equal(t, StatusAccepted, inv.StatusKind())
	require.NotNil(t, inv.AcceptedAt())
	assert.Equal(t, testNow, *inv.AcceptedAt())

	err := inv.Accept(testNow)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Cannot accept invitation with status: ACCEPTED")
}

func TestAccept_Expired(t *testing.T) {
	inv := newPending(t)
	err := inv.Accept(inv.ExpiresAt())
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrValidation))
	assert.Equal(t, StatusPending, inv.StatusKind())
}

func TestCancel(t *testing.T) {
	inv := newPending(t)
	require.NoError(t, inv.Cancel(testNow))
	assert.Equal(t, StatusCancelled, inv.StatusKind())
	require.NotNil(t, inv.CancelledAt())

	accepted := newPending(t)
	require.NoError(t, accepted.Accept(testNow))
	err := accepted.Cancel(testNow)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Cannot cancel invitation with status: ACCEPTED")
	assert.Equal(t, StatusAccepted, accepted.StatusKind())
}

func TestResend(t *testing.T) {
	inv := newPending(t)
	oldToken, oldExpiry := inv.Token(), inv.ExpiresAt()

	require.NoError(t, inv.Resend(testNow.Add(time.Hour), DefaultExpiry))
	assert.NotEqual(t, oldToken, inv.Token())
	assert.True(t, inv.ExpiresAt().After(oldExpiry))
	assert.Equal(t, "welcome", inv.Message(), "resend keeps the message")
}

func TestResend_ExtendsLongCustomExpiry(t *testing.T) {
	inv, err := NewInvitation(shared.NewID(), shared.NewID(), "a@x.com", nil, testNow.Add(30*24*time.Hour), "", testNow)
	require.NoError(t, err)
	oldExpiry := inv.ExpiresAt()

	require.NoError(t, inv.Resend(testNow, DefaultExpiry))
	assert.True(t, inv.ExpiresAt().After(oldExpiry))
}

func TestResend_RequiresPending(t *testing.T) {
	inv := newPending(t)
	require.NoError(t, inv.Cancel(testNow))
	oldToken := inv.Token()

	err := inv.Resend(testNow, DefaultExpiry)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Cannot resend invitation with status: CANCELLED")
	assert.Equal(t, oldToken, inv.Token())
}

func TestStatusFromRecord(t *testing.T) {
	at := testNow

	s, err := StatusFromRecord("ACCEPTED", &at, nil)
	require.NoError(t, err)
	assert.Equal(t, Accepted{At: at}, s)

	s, err = StatusFromRecord("CANCELLED", nil, &at)
	require.NoError(t, err)
	assert.Equal(t, Cancelled{At: at}, s)

	_, err = StatusFromRecord("ACCEPTED", nil, nil)
	assert.Error(t, err)

	_, err = StatusFromRecord("UNKNOWN", nil, nil)
	assert.Error(t, err)
}

func TestParseStatusKind(t *testing.T) {
	k, err := ParseStatusKind("pending")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, k)

	_, err = ParseStatusKind("archived")
	assert.True(t, errors.Is(err, shared.ErrValidation))

	assert.True(t, StatusExpired.IsTerminal())
	assert.False(t, StatusPending.IsTerminal())
}
