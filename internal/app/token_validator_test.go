package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/invitations/pkg/domain/audit"
	"github.com/openctemio/invitations/pkg/domain/invitation"
	"github.com/openctemio/invitations/pkg/domain/shared"
)

func TestValidate_ValidToken(t *testing.T) {
	env := newTestEnv(t)
	inv := env.invite(t, "valid@example.com", env.adminRole.ID())
	env.audits.Reset()

	result, err := env.validator.Validate(context.Background(), inv.Token(), ValidationContext{IP: "1.2.3.4"})
	require.NoError(t, err)

	assert.True(t, result.Valid)
	assert.Equal(t, invitation.StatusPending, result.Status)
	assert.Empty(t, result.Reason)
	require.NotNil(t, result.Details)
	assert.Equal(t, inv.ID(), result.Details.Invitation.ID())
	assert.Equal(t, "Acme", result.Details.Tenant.Name())
	require.Len(t, result.Details.Roles, 1)

	entries := env.audits.Find(audit.ActionValidated)
	require.Len(t, entries, 1)
	assert.Equal(t, "1.2.3.4", entries[0].IPAddress())
}

func TestValidate_UppercaseTokenIsNormalised(t *testing.T) {
	env := newTestEnv(t)
	inv := env.invite(t, "upper@example.com")

	result, err := env.validator.Validate(context.Background(), strings.ToUpper(inv.Token()), ValidationContext{})
	require.NoError(t, err)
	assert.True(t, result.Valid)
}

func TestValidate_Failures(t *testing.T) {
	env := newTestEnv(t)
	accepted := env.seed("accepted@example.com", invitation.Accepted{At: time.Now()}, time.Now().Add(time.Hour))
	cancelled := env.seed("cancelled@example.com", invitation.Cancelled{At: time.Now()}, time.Now().Add(time.Hour))
	expired := env.seed("expired@example.com", invitation.Expired{}, time.Now().Add(-time.Hour))
	unknown, _ := invitation.GenerateToken()

	tests := []struct {
		name   string
		token  string
		reason string
		code   string
	}{
		{"too short", "abc123", invitation.ReasonInvalidFormat, audit.CodeInvalidFormat},
		{"non hex", strings.Repeat("g", 64), invitation.ReasonInvalidFormat, audit.CodeInvalidFormat},
		{"empty", "", invitation.ReasonInvalidFormat, audit.CodeInvalidFormat},
		{"unknown", unknown, invitation.ReasonNotFound, audit.CodeNotFound},
		{"accepted", accepted.Token(), invitation.ReasonAlreadyAccepted, audit.CodeAlreadyAccepted},
		{"cancelled", cancelled.Token(), invitation.ReasonCancelled, audit.CodeCancelled},
		{"expired", expired.Token(), invitation.ReasonExpired, audit.CodeExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env.audits.Reset()

			result, err := env.validator.Validate(context.Background(), tt.token, ValidationContext{})
			require.NoError(t, err)
			assert.False(t, result.Valid)
			assert.Equal(t, tt.reason, result.Reason)

			actions := env.audits.Actions()
			require.Len(t, actions, 1, "exactly one audit entry per validation")
			entry := env.audits.Find(audit.ActionValidationFailed)[0]
			assert.Equal(t, tt.code, entry.ErrorCode())
			assert.False(t, entry.Success())
		})
	}
}

func TestValidate_ExpiresPendingOnFirstCheck(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inv := env.seed("lapsed@example.com", invitation.Pending{}, time.Now().Add(-time.Second))

	result, err := env.validator.Validate(ctx, inv.Token(), ValidationContext{})
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, invitation.ReasonExpired, result.Reason)
	assert.Equal(t, invitation.StatusExpired, result.Status)

	stored, err := env.invitations.GetByID(ctx, env.tenant.ID(), inv.ID())
	require.NoError(t, err)
	assert.Equal(t, invitation.StatusExpired, stored.StatusKind())

	// A second call sees the persisted status and changes nothing.
	result, err = env.validator.Validate(ctx, inv.Token(), ValidationContext{})
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, invitation.ReasonExpired, result.Reason)

	assert.Len(t, env.audits.Actions(), 2)
	assert.Empty(t, env.audits.Find(audit.ActionExpired))
}

func TestValidate_ExpiryRaceReturnsStoredStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inv := env.seed("raced@example.com", invitation.Pending{}, time.Now().Add(-time.Second))

	// Another request cancelled it between the read and the write.
	raced := inv
	require.NoError(t, raced.Cancel(time.Now()))
	reconciler := &racingReconciler{repo: env.invitations, stored: raced}
	env.validator.reconciler = reconciler

	result, err := env.validator.Validate(ctx, inv.Token(), ValidationContext{})
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, invitation.ReasonCancelled, result.Reason)
}

type racingReconciler struct {
	repo   *MockInvitationRepository
	stored *invitation.Invitation
}

func (r *racingReconciler) ReconcileExpiry(ctx context.Context, inv *invitation.Invitation) (*invitation.Invitation, error) {
	r.repo.Put(r.stored)
	return r.stored, nil
}

func TestValidate_LookupErrorIsGeneric(t *testing.T) {
	env := newTestEnv(t)
	env.validator.repo = failingTokenRepo{MockInvitationRepository: env.invitations}
	token, _ := invitation.GenerateToken()

	_, err := env.validator.Validate(context.Background(), token, ValidationContext{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTokenValidationFailed))
	assert.Equal(t, "Token validation failed", shared.Message(err))
	assert.NotContains(t, err.Error(), "connection reset")
}

type failingTokenRepo struct {
	*MockInvitationRepository
}

func (failingTokenRepo) GetByToken(ctx context.Context, token string) (*invitation.Invitation, error) {
	return nil, errors.New("connection reset by peer")
}

func TestValidate_MissingInviterStillResolves(t *testing.T) {
	env := newTestEnv(t)
	token, _ := invitation.GenerateToken()
	now := time.Now()
	inv := invitation.Reconstitute(shared.NewID(), env.tenant.ID(), "orphan@example.com", token, shared.NewID(),
		nil, "", now.Add(time.Hour), invitation.Pending{}, now, now)
	env.invitations.Put(inv)

	result, err := env.validator.Validate(context.Background(), token, ValidationContext{})
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Nil(t, result.Details.Inviter)
}

func TestValidateCryptographically(t *testing.T) {
	env := newTestEnv(t)
	inv := env.invite(t, "crypto@example.com")

	result, err := env.validator.ValidateCryptographically(context.Background(), inv.Token(), ValidationContext{})
	require.NoError(t, err)
	assert.True(t, result.Valid)

	env.validator.repo = mismatchedTokenRepo{MockInvitationRepository: env.invitations}
	result, err = env.validator.ValidateCryptographically(context.Background(), inv.Token(), ValidationContext{})
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, invitation.ReasonNotFound, result.Reason)
}

// mismatchedTokenRepo returns a record whose stored token differs from the
// one looked up.
type mismatchedTokenRepo struct {
	*MockInvitationRepository
}

func (m mismatchedTokenRepo) GetByToken(ctx context.Context, token string) (*invitation.Invitation, error) {
	inv, err := m.MockInvitationRepository.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	other, _ := invitation.GenerateToken()
	return invitation.Reconstitute(inv.ID(), inv.TenantID(), inv.Email(), other, inv.InvitedBy(),
		inv.RoleIDs(), inv.Message(), inv.ExpiresAt(), inv.Status(), inv.CreatedAt(), inv.UpdatedAt()), nil
}
