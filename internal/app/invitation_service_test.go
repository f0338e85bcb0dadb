package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/invitations/pkg/domain/audit"
	"github.com/openctemio/invitations/pkg/domain/invitation"
	"github.com/openctemio/invitations/pkg/domain/shared"
)

func TestCreateInvitation_Defaults(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	before := time.Now()

	details, err := env.invitationSvc.CreateInvitation(ctx, env.tenant.ID(), env.inviter.ID(), CreateInvitationInput{
		Email:   "  New.Person@Example.COM ",
		Message: "  welcome  ",
	}, AuditContext{ActorID: env.inviter.ID(), IP: "10.0.0.1"})
	require.NoError(t, err)

	inv := details.Invitation
	assert.Equal(t, "new.person@example.com", inv.Email())
	assert.Equal(t, invitation.StatusPending, inv.StatusKind())
	assert.True(t, invitation.IsValidTokenFormat(inv.Token()))
	assert.Equal(t, "welcome", inv.Message())
	assert.Empty(t, inv.RoleIDs())
	assert.WithinDuration(t, before.Add(7*24*time.Hour), inv.ExpiresAt(), 5*time.Second)

	assert.Equal(t, env.tenant.ID(), details.Tenant.ID())
	require.NotNil(t, details.Inviter)
	assert.Equal(t, env.inviter.ID(), details.Inviter.ID())

	assert.Equal(t, []audit.Action{audit.ActionCreated, audit.ActionSent}, env.audits.Actions())
	require.Len(t, env.emails.invitations, 1)
	job := env.emails.invitations[0]
	assert.Equal(t, inv.Token(), job.Token)
	assert.Equal(t, "Olive Owner", job.InviterName)
	assert.Equal(t, "Acme", job.TenantName)
}

func TestCreateInvitation_WithRolesAndExpiry(t *testing.T) {
	env := newTestEnv(t)
	expiresAt := time.Now().Add(48 * time.Hour).UTC()

	details, err := env.invitationSvc.CreateInvitation(context.Background(), env.tenant.ID(), env.inviter.ID(), CreateInvitationInput{
		Email:     "a@example.com",
		RoleIDs:   []string{env.adminRole.ID().String()},
		ExpiresAt: &expiresAt,
	}, AuditContext{})
	require.NoError(t, err)

	assert.Equal(t, []shared.ID{env.adminRole.ID()}, details.Invitation.RoleIDs())
	assert.Equal(t, expiresAt, details.Invitation.ExpiresAt())
	require.Len(t, details.Roles, 1)
	assert.Equal(t, "Admin", details.Roles[0].Name())
}

func TestCreateInvitation_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	past := time.Now().Add(-time.Minute)
	foreign := shared.NewID()

	tests := []struct {
		name    string
		input   CreateInvitationInput
		message string
	}{
		{"invalid email", CreateInvitationInput{Email: "not-an-email"}, "Invalid email format"},
		{"past expiry", CreateInvitationInput{Email: "a@example.com", ExpiresAt: &past}, "Expiration date must be in the future"},
		{"foreign role", CreateInvitationInput{Email: "a@example.com", RoleIDs: []string{foreign.String()}}, "Invalid role IDs for tenant: " + foreign.String()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.invitationSvc.CreateInvitation(ctx, env.tenant.ID(), env.inviter.ID(), tt.input, AuditContext{})
			require.Error(t, err)
			assert.True(t, shared.IsValidation(err))
			assert.Equal(t, tt.message, shared.Message(err))
		})
	}
	assert.Zero(t, env.invitations.Count())
}

func TestCreateInvitation_DomainNotAllowed(t *testing.T) {
	env := newTestEnv(t, withAllowedDomains("acme.com"))
	ctx := context.Background()

	_, err := env.invitationSvc.CreateInvitation(ctx, env.tenant.ID(), env.inviter.ID(), CreateInvitationInput{Email: "x@other.com"}, AuditContext{})
	require.Error(t, err)
	assert.Equal(t, "Email domain is not allowed for this tenant", shared.Message(err))

	_, err = env.invitationSvc.CreateInvitation(ctx, env.tenant.ID(), env.inviter.ID(), CreateInvitationInput{Email: "x@ACME.com"}, AuditContext{})
	require.NoError(t, err)
}

func TestCreateInvitation_OnePendingPerEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.invite(t, "dup@example.com")

	_, err := env.invitationSvc.CreateInvitation(ctx, env.tenant.ID(), env.inviter.ID(), CreateInvitationInput{Email: "DUP@example.com"}, AuditContext{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, invitation.ErrPendingExists))
	assert.True(t, shared.IsConflict(err))
	assert.Equal(t, 1, env.invitations.Count())
}

func TestCreateInvitation_AfterCancelAllowsNewInvite(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	first := env.invite(t, "again@example.com")

	_, err := env.invitationSvc.CancelInvitation(ctx, env.tenant.ID(), first.ID(), AuditContext{})
	require.NoError(t, err)

	second := env.invite(t, "again@example.com")
	assert.NotEqual(t, first.ID(), second.ID())
}

func TestCreateInvitation_EnqueueFailureIsAudited(t *testing.T) {
	env := newTestEnv(t)
	env.emails.err = errors.New("redis down")

	inv := env.invite(t, "queued@example.com")
	assert.Equal(t, invitation.StatusPending, inv.StatusKind())

	sent := env.audits.Find(audit.ActionSent)
	require.Len(t, sent, 1)
	assert.False(t, sent[0].Success())
	assert.Equal(t, audit.CodeInternal, sent[0].ErrorCode())
}

func TestResendInvitation_RotatesTokenAndExtendsExpiry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inv := env.invite(t, "resend@example.com", env.adminRole.ID())

	details, err := env.invitationSvc.ResendInvitation(ctx, env.tenant.ID(), inv.ID(), AuditContext{})
	require.NoError(t, err)

	resent := details.Invitation
	assert.NotEqual(t, inv.Token(), resent.Token())
	assert.True(t, resent.ExpiresAt().After(inv.ExpiresAt()))
	assert.Equal(t, inv.RoleIDs(), resent.RoleIDs())
	assert.Equal(t, invitation.StatusPending, resent.StatusKind())

	_, err = env.invitations.GetByToken(ctx, inv.Token())
	assert.True(t, shared.IsNotFound(err), "old token must stop resolving")

	assert.Contains(t, env.audits.Actions(), audit.ActionResent)
	require.Len(t, env.emails.invitations, 2)
	assert.Equal(t, resent.Token(), env.emails.invitations[1].Token)
}

func TestResendInvitation_NotPending(t *testing.T) {
	env := newTestEnv(t)
	inv := env.seed("gone@example.com", invitation.Expired{}, time.Now().Add(-time.Hour))

	_, err := env.invitationSvc.ResendInvitation(context.Background(), env.tenant.ID(), inv.ID(), AuditContext{})
	require.Error(t, err)
	assert.Equal(t, "Cannot resend invitation with status: EXPIRED", shared.Message(err))
}

func TestCancelInvitation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inv := env.invite(t, "cancel@example.com")

	cancelled, err := env.invitationSvc.CancelInvitation(ctx, env.tenant.ID(), inv.ID(), AuditContext{})
	require.NoError(t, err)
	assert.Equal(t, invitation.StatusCancelled, cancelled.StatusKind())
	assert.NotNil(t, cancelled.CancelledAt())

	_, err = env.invitationSvc.CancelInvitation(ctx, env.tenant.ID(), inv.ID(), AuditContext{})
	require.Error(t, err)
	assert.Equal(t, "Cannot cancel invitation with status: CANCELLED", shared.Message(err))
}

func TestCancelInvitation_Accepted(t *testing.T) {
	env := newTestEnv(t)
	inv := env.seed("done@example.com", invitation.Accepted{At: time.Now()}, time.Now().Add(time.Hour))

	_, err := env.invitationSvc.CancelInvitation(context.Background(), env.tenant.ID(), inv.ID(), AuditContext{})
	require.Error(t, err)
	assert.Equal(t, "Cannot cancel invitation with status: ACCEPTED", shared.Message(err))
}

func TestCancelInvitation_OtherTenantIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	inv := env.invite(t, "scoped@example.com")

	_, err := env.invitationSvc.CancelInvitation(context.Background(), shared.NewID(), inv.ID(), AuditContext{})
	require.Error(t, err)
	assert.True(t, shared.IsNotFound(err))
}

func TestAcceptInvitation_LosesRace(t *testing.T) {
	env := newTestEnv(t)
	inv := env.invite(t, "race@example.com")
	env.invitations.updateErr = invitation.ErrStatusChanged

	_, err := env.invitationSvc.AcceptInvitation(context.Background(), inv.Token(), AuditContext{})
	require.Error(t, err)
	assert.True(t, shared.IsConflict(err))
}

func TestExpireOverdue(t *testing.T) {
	env := newTestEnv(t)
	overdue := env.seed("late@example.com", invitation.Pending{}, time.Now().Add(-time.Minute))
	fresh := env.invite(t, "fresh@example.com")

	n, err := env.invitationSvc.ExpireOverdue(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := env.invitations.GetByID(context.Background(), env.tenant.ID(), overdue.ID())
	require.NoError(t, err)
	assert.Equal(t, invitation.StatusExpired, got.StatusKind())

	got, err = env.invitations.GetByID(context.Background(), env.tenant.ID(), fresh.ID())
	require.NoError(t, err)
	assert.Equal(t, invitation.StatusPending, got.StatusKind())

	expired := env.audits.Find(audit.ActionExpired)
	require.Len(t, expired, 1)
	assert.Equal(t, "sweep", expired[0].Metadata()["source"])

	n, err = env.invitationSvc.ExpireOverdue(context.Background(), 100)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestListInvitations_FiltersByStatus(t *testing.T) {
	env := newTestEnv(t)
	env.invite(t, "one@example.com")
	env.seed("two@example.com", invitation.Expired{}, time.Now().Add(-time.Hour))

	result, err := env.invitationSvc.ListInvitations(context.Background(), env.tenant.ID(), ListInvitationsInput{Statuses: []string{"pending"}})
	require.NoError(t, err)
	require.Len(t, result.Data, 1)
	assert.Equal(t, "one@example.com", result.Data[0].Email())

	_, err = env.invitationSvc.ListInvitations(context.Background(), env.tenant.ID(), ListInvitationsInput{Statuses: []string{"bogus"}})
	assert.True(t, shared.IsValidation(err))
}
