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
	"github.com/openctemio/invitations/pkg/logger"
)

type recordingArchiver struct {
	keys   []string
	bodies [][]byte
	err    error
}

func (a *recordingArchiver) Archive(ctx context.Context, key string, body []byte) error {
	if a.err != nil {
		return a.err
	}
	a.keys = append(a.keys, key)
	a.bodies = append(a.bodies, body)
	return nil
}

func seedAged(repo *MockInvitationRepository, tenantID shared.ID, email string, status invitation.Status, age time.Duration) *invitation.Invitation {
	token, _ := invitation.GenerateToken()
	at := time.Now().Add(-age)
	inv := invitation.Reconstitute(shared.NewID(), tenantID, email, token, shared.NewID(), nil, "", at, status, at, at)
	repo.Put(inv)
	return inv
}

func TestRetentionCleanup(t *testing.T) {
	repo := NewMockInvitationRepository()
	audits := &MockAuditRepository{}
	archiver := &recordingArchiver{}
	tenantID := shared.NewID()
	old := 100 * 24 * time.Hour

	seedAged(repo, tenantID, "old-expired@example.com", invitation.Expired{}, old)
	seedAged(repo, tenantID, "old-cancelled@example.com", invitation.Cancelled{At: time.Now().Add(-old)}, old)
	keptPending := seedAged(repo, tenantID, "old-pending@example.com", invitation.Pending{}, old)
	keptRecent := seedAged(repo, tenantID, "recent@example.com", invitation.Expired{}, 24*time.Hour)

	svc := NewRetentionService(repo, NewAuditService(audits, logger.NewNop()), archiver, RetentionConfig{
		RetentionDays:      90,
		AuditRetentionDays: 365,
		BatchSize:          10,
	}, logger.NewNop())

	result, err := svc.Cleanup(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(2), result.InvitationsDeleted)
	assert.Equal(t, 2, repo.Count())
	_, err = repo.GetByID(context.Background(), tenantID, keptPending.ID())
	assert.NoError(t, err)
	_, err = repo.GetByID(context.Background(), tenantID, keptRecent.ID())
	assert.NoError(t, err)

	require.Len(t, archiver.keys, 1)
	assert.Equal(t, result.Archived, archiver.keys)
	body := string(archiver.bodies[0])
	assert.True(t, strings.HasPrefix(body, `"ID","Tenant ID","Email"`))
	assert.Contains(t, body, `"old-expired@example.com"`)
	assert.NotContains(t, body, "recent@example.com")

	cleanup := audits.Find(audit.ActionCleanup)
	require.Len(t, cleanup, 1)
	assert.Equal(t, int64(2), cleanup[0].Metadata()["invitations_deleted"])
}

func TestRetentionCleanup_ArchiveFailureKeepsRecords(t *testing.T) {
	repo := NewMockInvitationRepository()
	seedAged(repo, shared.NewID(), "x@example.com", invitation.Expired{}, 100*24*time.Hour)

	svc := NewRetentionService(repo, NewAuditService(&MockAuditRepository{}, logger.NewNop()),
		&recordingArchiver{err: errors.New("s3 unavailable")}, RetentionConfig{RetentionDays: 90}, logger.NewNop())

	_, err := svc.Cleanup(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, repo.Count())
}

func TestRetentionCleanup_Batches(t *testing.T) {
	repo := NewMockInvitationRepository()
	tenantID := shared.NewID()
	for i := 0; i < 5; i++ {
		seedAged(repo, tenantID, "b"+string(rune('a'+i))+"@example.com", invitation.Expired{}, 100*24*time.Hour)
	}

	svc := NewRetentionService(repo, NewAuditService(&MockAuditRepository{}, logger.NewNop()), nil,
		RetentionConfig{RetentionDays: 90, BatchSize: 2}, logger.NewNop())

	result, err := svc.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), result.InvitationsDeleted)
	assert.Zero(t, repo.Count())
	assert.Empty(t, result.Archived)
}
