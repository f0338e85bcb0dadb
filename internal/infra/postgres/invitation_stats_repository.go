package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/openctemio/invitations/pkg/domain/invitation"
	"github.com/openctemio/invitations/pkg/domain/shared"
)

// InvitationStatsRepository implements invitation.StatsRepository.
type InvitationStatsRepository struct {
	db *DB
}

// NewInvitationStatsRepository creates a new InvitationStatsRepository.
func NewInvitationStatsRepository(db *DB) *InvitationStatsRepository {
	return &InvitationStatsRepository{db: db}
}

// CountByStatus counts the tenant's invitations per status.
func (r *InvitationStatsRepository) CountByStatus(ctx context.Context, tenantID shared.ID, since *time.Time) (map[invitation.StatusKind]int64, error) {
	query := `SELECT status, COUNT(*) FROM invitations WHERE tenant_id = $1`
	args := []any{tenantID.String()}
	if since != nil {
		query += ` AND created_at >= $2`
		args = append(args, *since)
	}
	query += ` GROUP BY status`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count invitations by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[invitation.StatusKind]int64, 4)
	for _, k := range invitation.AllStatusKinds() {
		counts[k] = 0
	}
	for rows.Next() {
		var (
			status string
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[invitation.StatusKind(status)] = count
	}
	return counts, rows.Err()
}

// CountCreatedBetween counts invitations created in [from, to).
func (r *InvitationStatsRepository) CountCreatedBetween(ctx context.Context, tenantID shared.ID, from, to time.Time) (int64, error) {
	return r.count(ctx, `
		SELECT COUNT(*) FROM invitations
		WHERE tenant_id = $1 AND created_at >= $2 AND created_at < $3
	`, tenantID.String(), from, to)
}

// CountAcceptedBetween counts invitations accepted in [from, to).
func (r *InvitationStatsRepository) CountAcceptedBetween(ctx context.Context, tenantID shared.ID, from, to time.Time) (int64, error) {
	return r.count(ctx, `
		SELECT COUNT(*) FROM invitations
		WHERE tenant_id = $1 AND status = 'ACCEPTED' AND accepted_at >= $2 AND accepted_at < $3
	`, tenantID.String(), from, to)
}

// CountPendingExpiringBetween counts pending invitations expiring in [from, to).
func (r *InvitationStatsRepository) CountPendingExpiringBetween(ctx context.Context, tenantID shared.ID, from, to time.Time) (int64, error) {
	return r.count(ctx, `
		SELECT COUNT(*) FROM invitations
		WHERE tenant_id = $1 AND status = 'PENDING' AND expires_at >= $2 AND expires_at < $3
	`, tenantID.String(), from, to)
}

// CountExpiredBetween counts expired invitations whose expiry fell in [from, to).
func (r *InvitationStatsRepository) CountExpiredBetween(ctx context.Context, tenantID shared.ID, from, to time.Time) (int64, error) {
	return r.count(ctx, `
		SELECT COUNT(*) FROM invitations
		WHERE tenant_id = $1 AND status = 'EXPIRED' AND expires_at >= $2 AND expires_at < $3
	`, tenantID.String(), from, to)
}

// CountPendingCreatedBefore counts pending invitations created before t.
func (r *InvitationStatsRepository) CountPendingCreatedBefore(ctx context.Context, tenantID shared.ID, t time.Time) (int64, error) {
	return r.count(ctx, `
		SELECT COUNT(*) FROM invitations
		WHERE tenant_id = $1 AND status = 'PENDING' AND created_at <= $2
	`, tenantID.String(), t)
}

// TopInviters returns the tenant's most active inviters.
func (r *InvitationStatsRepository) TopInviters(ctx context.Context, tenantID shared.ID, limit int) ([]invitation.InviterCount, error) {
	query := `
		SELECT i.invited_by, COALESCE(u.email, ''), COUNT(*) AS sent
		FROM invitations i
		LEFT JOIN users u ON u.id = i.invited_by
		WHERE i.tenant_id = $1
		GROUP BY i.invited_by, u.email
		ORDER BY sent DESC, i.invited_by
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, tenantID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top inviters: %w", err)
	}
	defer rows.Close()

	var out []invitation.InviterCount
	for rows.Next() {
		var (
			idStr, email string
			count        int64
		)
		if err := rows.Scan(&idStr, &email, &count); err != nil {
			return nil, fmt.Errorf("failed to scan inviter: %w", err)
		}
		id, err := shared.IDFromString(idStr)
		if err != nil {
			continue
		}
		out = append(out, invitation.InviterCount{UserID: id, Email: email, Count: count})
	}
	return out, rows.Err()
}

// RoleDistribution returns roles by how many invitations assign them.
func (r *InvitationStatsRepository) RoleDistribution(ctx context.Context, tenantID shared.ID, limit int) ([]invitation.RoleCount, error) {
	query := `
		SELECT ro.id, ro.name, COUNT(*) AS assigned
		FROM invitation_roles ir
		JOIN invitations i ON i.id = ir.invitation_id
		JOIN roles ro ON ro.id = ir.role_id
		WHERE i.tenant_id = $1
		GROUP BY ro.id, ro.name
		ORDER BY assigned DESC, ro.name
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, tenantID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query role distribution: %w", err)
	}
	defer rows.Close()

	var out []invitation.RoleCount
	for rows.Next() {
		var (
			idStr, name string
			count       int64
		)
		if err := rows.Scan(&idStr, &name, &count); err != nil {
			return nil, fmt.Errorf("failed to scan role count: %w", err)
		}
		id, err := shared.IDFromString(idStr)
		if err != nil {
			continue
		}
		out = append(out, invitation.RoleCount{RoleID: id, RoleName: name, Count: count})
	}
	return out, rows.Err()
}

// ListForReport projects invitations into report rows, newest first.
// Expired invitations are left out unless asked for, either through
// IncludeExpired or an explicit EXPIRED status filter.
func (r *InvitationStatsRepository) ListForReport(ctx context.Context, tenantID shared.ID, filter invitation.ReportFilter) ([]invitation.ReportRow, error) {
	w := &whereBuilder{}
	w.add("i.tenant_id = ?", tenantID.String())
	if filter.Status != nil {
		w.add("i.status = ?", filter.Status.String())
	} else if !filter.IncludeExpired {
		w.add("i.status <> 'EXPIRED'")
	}
	if filter.From != nil {
		w.add("i.created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		w.add("i.created_at <= ?", *filter.To)
	}

	query := `
		SELECT i.id, i.email, i.status, i.invited_by, COALESCE(u.email, ''), i.message,
			i.created_at, i.expires_at, i.accepted_at, i.cancelled_at,
			ARRAY(
				SELECT ro.name FROM invitation_roles ir
				JOIN roles ro ON ro.id = ir.role_id
				WHERE ir.invitation_id = i.id
				ORDER BY ro.name
			) AS roles
		FROM invitations i
		LEFT JOIN users u ON u.id = i.invited_by` + w.sql() + `
		ORDER BY i.created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query invitation report: %w", err)
	}
	defer rows.Close()

	var out []invitation.ReportRow
	for rows.Next() {
		var (
			idStr, email, status, invitedByStr, inviterEmail string
			message                                          sql.NullString
			createdAt, expiresAt                             time.Time
			acceptedAt, cancelledAt                          sql.NullTime
			roles                                            pq.StringArray
		)
		if err := rows.Scan(
			&idStr, &email, &status, &invitedByStr, &inviterEmail, &message,
			&createdAt, &expiresAt, &acceptedAt, &cancelledAt, &roles,
		); err != nil {
			return nil, fmt.Errorf("failed to scan report row: %w", err)
		}

		id, err := shared.IDFromString(idStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse invitation id: %w", err)
		}
		invitedBy, _ := shared.IDFromString(invitedByStr)

		out = append(out, invitation.ReportRow{
			ID:           id,
			Email:        email,
			Status:       invitation.StatusKind(status),
			InvitedBy:    invitedBy,
			InviterEmail: inviterEmail,
			Roles:        []string(roles),
			Message:      message.String,
			CreatedAt:    createdAt,
			ExpiresAt:    expiresAt,
			AcceptedAt:   nullTimeValue(acceptedAt),
			CancelledAt:  nullTimeValue(cancelledAt),
		})
	}
	return out, rows.Err()
}

func (r *InvitationStatsRepository) count(ctx context.Context, query string, args ...any) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count invitations: %w", err)
	}
	return n, nil
}
