package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/invitations/pkg/domain/invitation"
	"github.com/openctemio/invitations/pkg/domain/shared"
	"github.com/openctemio/invitations/pkg/pagination"
)

var invitationRowColumns = []string{
	"id", "tenant_id", "email", "token", "invited_by", "message", "status",
	"expires_at", "accepted_at", "cancelled_at", "created_at", "updated_at", "role_ids",
}

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return Wrap(db), mock
}

func newPendingInvitation(t *testing.T, roleIDs ...shared.ID) *invitation.Invitation {
	t.Helper()
	now := time.Now()
	inv, err := invitation.NewInvitation(shared.NewID(), shared.NewID(), "Alice@Example.com", roleIDs, now.Add(time.Hour), "", now)
	require.NoError(t, err)
	return inv
}

func TestInvitationRepository_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewInvitationRepository(db)
		inv := newPendingInvitation(t, shared.NewID(), shared.NewID())

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO invitations").
			WithArgs(inv.ID().String(), inv.TenantID().String(), "alice@example.com", inv.Token(),
				inv.InvitedBy().String(), sqlmock.AnyArg(), "PENDING",
				sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO invitation_roles").
			WithArgs(inv.ID().String(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectCommit()

		require.NoError(t, repo.Create(ctx, inv))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("PendingUniqueViolation", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewInvitationRepository(db)
		inv := newPendingInvitation(t)

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO invitations").
			WillReturnError(&pq.Error{Code: pqUniqueViolation, Constraint: constraintPendingEmail})
		mock.ExpectRollback()

		err := repo.Create(ctx, inv)
		require.Error(t, err)
		assert.True(t, errors.Is(err, invitation.ErrPendingExists))
		assert.True(t, shared.IsAlreadyExists(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("RoleInsertFailureRollsBack", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewInvitationRepository(db)
		inv := newPendingInvitation(t, shared.NewID())

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO invitations").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO invitation_roles").
			WillReturnError(&pq.Error{Code: pqForeignKeyViolation})
		mock.ExpectRollback()

		err := repo.Create(ctx, inv)
		require.Error(t, err)
		assert.True(t, shared.IsValidation(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestInvitationRepository_GetByToken(t *testing.T) {
	ctx := context.Background()
	db, mock := newMockDB(t)
	repo := NewInvitationRepository(db)

	id, tenantID, inviter, roleID := shared.NewID(), shared.NewID(), shared.NewID(), shared.NewID()
	token := "abcdef0123456789abcdef0123456789abcdef0123456789abcdef0123456789"
	accepted := time.Now().Add(-time.Minute)

	t.Run("Accepted", func(t *testing.T) {
		rows := sqlmock.NewRows(invitationRowColumns).AddRow(
			id.String(), tenantID.String(), "bob@example.com", token, inviter.String(), nil, "ACCEPTED",
			time.Now().Add(time.Hour), accepted, nil, time.Now(), time.Now(), "{"+roleID.String()+"}",
		)
		mock.ExpectQuery("FROM invitations i WHERE i.token = \\$1").
			WithArgs(token).
			WillReturnRows(rows)

		inv, err := repo.GetByToken(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, invitation.StatusAccepted, inv.StatusKind())
		require.NotNil(t, inv.AcceptedAt())
		assert.Equal(t, []shared.ID{roleID}, inv.RoleIDs())
	})

	t.Run("NotFound", func(t *testing.T) {
		mock.ExpectQuery("FROM invitations i WHERE i.token = \\$1").
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows(invitationRowColumns))

		inv, err := repo.GetByToken(ctx, "missing")
		assert.Nil(t, inv)
		assert.True(t, shared.IsNotFound(err))
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvitationRepository_Update_ConditionalOnStatus(t *testing.T) {
	ctx := context.Background()
	db, mock := newMockDB(t)
	repo := NewInvitationRepository(db)
	inv := newPendingInvitation(t)
	require.NoError(t, inv.Accept(time.Now()))

	t.Run("Applied", func(t *testing.T) {
		mock.ExpectExec("UPDATE invitations").
			WithArgs(inv.ID().String(), "PENDING", inv.Token(), sqlmock.AnyArg(), "ACCEPTED",
				sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repo.Update(ctx, inv, invitation.StatusPending))
	})

	t.Run("LostRace", func(t *testing.T) {
		mock.ExpectExec("UPDATE invitations").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.Update(ctx, inv, invitation.StatusPending)
		assert.True(t, errors.Is(err, invitation.ErrStatusChanged))
		assert.True(t, shared.IsConflict(err))
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvitationRepository_List_BuildsFilter(t *testing.T) {
	ctx := context.Background()
	db, mock := newMockDB(t)
	repo := NewInvitationRepository(db)

	tenantID := shared.NewID()
	filter := invitation.Filter{
		Statuses: []invitation.StatusKind{invitation.StatusPending},
		Email:    "50%_off",
	}
	sort := pagination.NewSortOption(map[string]string{"expires_at": "i.expires_at"}).Parse("-expires_at")

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM invitations i WHERE i.tenant_id = \$1 AND i.status = ANY\(\$2\) AND i.email ILIKE \$3`).
		WithArgs(tenantID.String(), sqlmock.AnyArg(), `%50\%\_off%`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`ORDER BY i.expires_at DESC LIMIT 20 OFFSET 0`).
		WillReturnRows(sqlmock.NewRows(invitationRowColumns))

	result, err := repo.List(ctx, tenantID, filter, invitation.ListOptions{Sort: sort}, pagination.New(1, 20))
	require.NoError(t, err)
	assert.Empty(t, result.Data)
	assert.Equal(t, int64(0), result.Total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvitationRepository_ExpirePending(t *testing.T) {
	ctx := context.Background()
	db, mock := newMockDB(t)
	repo := NewInvitationRepository(db)
	now := time.Now()

	rows := sqlmock.NewRows(invitationRowColumns).AddRow(
		shared.NewID().String(), shared.NewID().String(), "c@example.com",
		"0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef",
		shared.NewID().String(), "hi", "EXPIRED",
		now.Add(-time.Minute), nil, nil, now.Add(-time.Hour), now, "{}",
	)
	mock.ExpectQuery("WITH expired AS").
		WithArgs(now, 100).
		WillReturnRows(rows)

	expired, err := repo.ExpirePending(ctx, now, 100)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, invitation.StatusExpired, expired[0].StatusKind())
	assert.Equal(t, "hi", expired[0].Message())
	assert.NoError(t, mock.ExpectationsWereMet())
}
