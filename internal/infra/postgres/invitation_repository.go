package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/openctemio/invitations/pkg/domain/invitation"
	"github.com/openctemio/invitations/pkg/domain/shared"
	"github.com/openctemio/invitations/pkg/pagination"
)

const (
	constraintPendingEmail = "ux_invitations_pending_email"
	constraintToken        = "ux_invitations_token"
)

// invitationColumns is shared by every query that rebuilds an Invitation.
// role_ids is aggregated from invitation_roles.
const invitationColumns = `
	i.id, i.tenant_id, i.email, i.token, i.invited_by, i.message, i.status,
	i.expires_at, i.accepted_at, i.cancelled_at, i.created_at, i.updated_at,
	ARRAY(SELECT ir.role_id::text FROM invitation_roles ir WHERE ir.invitation_id = i.id ORDER BY ir.role_id) AS role_ids
`

// InvitationRepository implements invitation.Repository using PostgreSQL.
type InvitationRepository struct {
	db *DB
}

// NewInvitationRepository creates a new InvitationRepository.
func NewInvitationRepository(db *DB) *InvitationRepository {
	return &InvitationRepository{db: db}
}

// Create persists the invitation together with its role snapshot.
func (r *InvitationRepository) Create(ctx context.Context, inv *invitation.Invitation) error {
	return r.db.InTx(ctx, func(tx *sql.Tx) error {
		query := `
			INSERT INTO invitations (
				id, tenant_id, email, token, invited_by, message, status,
				expires_at, accepted_at, cancelled_at, created_at, updated_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`
		_, err := tx.ExecContext(ctx, query,
			inv.ID().String(),
			inv.TenantID().String(),
			inv.Email(),
			inv.Token(),
			inv.InvitedBy().String(),
			nullString(inv.Message()),
			inv.StatusKind().String(),
			inv.ExpiresAt(),
			nullTime(inv.AcceptedAt()),
			nullTime(inv.CancelledAt()),
			inv.CreatedAt(),
			inv.UpdatedAt(),
		)
		if err != nil {
			return mapInvitationWriteError(err)
		}

		if len(inv.RoleIDs()) == 0 {
			return nil
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO invitation_roles (invitation_id, role_id)
			SELECT $1, UNNEST($2::uuid[])
		`, inv.ID().String(), pq.Array(shared.IDStrings(inv.RoleIDs())))
		if err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("%w: Invalid role IDs for tenant", shared.ErrValidation)
			}
			return fmt.Errorf("failed to create invitation roles: %w", err)
		}
		return nil
	})
}

// GetByID retrieves an invitation of the tenant.
func (r *InvitationRepository) GetByID(ctx context.Context, tenantID, id shared.ID) (*invitation.Invitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM invitations i WHERE i.id = $1 AND i.tenant_id = $2`
	return r.scanInvitation(r.db.QueryRowContext(ctx, query, id.String(), tenantID.String()))
}

// GetByToken retrieves an invitation by exact token.
func (r *InvitationRepository) GetByToken(ctx context.Context, token string) (*invitation.Invitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM invitations i WHERE i.token = $1`
	return r.scanInvitation(r.db.QueryRowContext(ctx, query, token))
}

// HasPending reports whether the tenant has a pending invitation for email.
func (r *InvitationRepository) HasPending(ctx context.Context, tenantID shared.ID, email string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM invitations
			WHERE tenant_id = $1 AND email = $2 AND status = 'PENDING'
		)
	`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, tenantID.String(), email).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check pending invitation: %w", err)
	}
	return exists, nil
}

// Update writes the mutable fields if the stored status still equals expected.
func (r *InvitationRepository) Update(ctx context.Context, inv *invitation.Invitation, expected invitation.StatusKind) error {
	query := `
		UPDATE invitations
		SET token = $3, expires_at = $4, status = $5, accepted_at = $6, cancelled_at = $7, updated_at = $8
		WHERE id = $1 AND status = $2
	`
	result, err := r.db.ExecContext(ctx, query,
		inv.ID().String(),
		expected.String(),
		inv.Token(),
		inv.ExpiresAt(),
		inv.StatusKind().String(),
		nullTime(inv.AcceptedAt()),
		nullTime(inv.CancelledAt()),
		inv.UpdatedAt(),
	)
	if err != nil {
		return mapInvitationWriteError(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return invitation.ErrStatusChanged
	}
	return nil
}

// List returns a filtered, sorted page of the tenant's invitations.
func (r *InvitationRepository) List(
	ctx context.Context,
	tenantID shared.ID,
	filter invitation.Filter,
	opts invitation.ListOptions,
	page pagination.Pagination,
) (pagination.Result[*invitation.Invitation], error) {
	where := buildInvitationWhere(tenantID, filter)

	var total int64
	countQuery := `SELECT COUNT(*) FROM invitations i` + where.sql()
	if err := r.db.QueryRowContext(ctx, countQuery, where.args...).Scan(&total); err != nil {
		return pagination.Result[*invitation.Invitation]{}, fmt.Errorf("failed to count invitations: %w", err)
	}

	orderBy := "i.created_at DESC"
	if opts.Sort != nil {
		orderBy = opts.Sort.SQLWithDefault(orderBy)
	}

	query := `SELECT ` + invitationColumns + ` FROM invitations i` + where.sql() +
		` ORDER BY ` + orderBy + fmt.Sprintf(" LIMIT %d OFFSET %d", page.Limit(), page.Offset())

	rows, err := r.db.QueryContext(ctx, query, where.args...)
	if err != nil {
		return pagination.Result[*invitation.Invitation]{}, fmt.Errorf("failed to query invitations: %w", err)
	}
	defer rows.Close()

	invitations, err := r.collect(rows)
	if err != nil {
		return pagination.Result[*invitation.Invitation]{}, err
	}

	return pagination.NewResult(invitations, total, page), nil
}

// ExpirePending flips overdue pending invitations to EXPIRED in one
// statement and returns them. Rows locked by a concurrent writer are skipped
// and picked up by the next sweep.
func (r *InvitationRepository) ExpirePending(ctx context.Context, now time.Time, limit int) ([]*invitation.Invitation, error) {
	query := `
		WITH expired AS (
			UPDATE invitations
			SET status = 'EXPIRED', updated_at = $1
			WHERE id IN (
				SELECT id FROM invitations
				WHERE status = 'PENDING' AND expires_at <= $1
				ORDER BY expires_at
				LIMIT $2
				FOR UPDATE SKIP LOCKED
			)
			RETURNING *
		)
		SELECT ` + invitationColumns + `
		FROM expired i
	`
	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to expire invitations: %w", err)
	}
	defer rows.Close()

	return r.collect(rows)
}

// ListTerminalBefore returns terminal invitations last touched before cutoff.
func (r *InvitationRepository) ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]*invitation.Invitation, error) {
	query := `SELECT ` + invitationColumns + `
		FROM invitations i
		WHERE i.status IN ('ACCEPTED', 'EXPIRED', 'CANCELLED') AND i.updated_at < $1
		ORDER BY i.updated_at
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list terminal invitations: %w", err)
	}
	defer rows.Close()

	return r.collect(rows)
}

// DeleteByIDs removes invitations; their role rows cascade.
func (r *InvitationRepository) DeleteByIDs(ctx context.Context, ids []shared.ID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM invitations WHERE id = ANY($1::uuid[])`,
		pq.Array(shared.IDStrings(ids)),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete invitations: %w", err)
	}
	return result.RowsAffected()
}

func buildInvitationWhere(tenantID shared.ID, filter invitation.Filter) *whereBuilder {
	w := &whereBuilder{}
	w.add("i.tenant_id = ?", tenantID.String())

	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = s.String()
		}
		w.add("i.status = ANY(?)", pq.Array(statuses))
	}
	if filter.Email != "" {
		w.add("i.email ILIKE ?", wrapLikePattern(strings.ToLower(filter.Email)))
	}
	if filter.InvitedBy != nil {
		w.add("i.invited_by = ?", filter.InvitedBy.String())
	}
	if filter.CreatedFrom != nil {
		w.add("i.created_at >= ?", *filter.CreatedFrom)
	}
	if filter.CreatedTo != nil {
		w.add("i.created_at <= ?", *filter.CreatedTo)
	}
	if filter.ExpiresFrom != nil {
		w.add("i.expires_at >= ?", *filter.ExpiresFrom)
	}
	if filter.ExpiresTo != nil {
		w.add("i.expires_at <= ?", *filter.ExpiresTo)
	}
	return w
}

func mapInvitationWriteError(err error) error {
	if constraint, ok := uniqueViolation(err); ok {
		switch constraint {
		case constraintPendingEmail:
			return invitation.ErrPendingExists
		case constraintToken:
			return fmt.Errorf("%w: invitation token collision", shared.ErrConflict)
		}
		return fmt.Errorf("%w: %s", shared.ErrConflict, constraint)
	}
	return fmt.Errorf("failed to write invitation: %w", err)
}

func (r *InvitationRepository) collect(rows *sql.Rows) ([]*invitation.Invitation, error) {
	var invitations []*invitation.Invitation
	for rows.Next() {
		inv, err := r.doScan(rows.Scan)
		if err != nil {
			return nil, err
		}
		invitations = append(invitations, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate invitations: %w", err)
	}
	return invitations, nil
}

func (r *InvitationRepository) scanInvitation(row *sql.Row) (*invitation.Invitation, error) {
	inv, err := r.doScan(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: invitation not found", shared.ErrNotFound)
		}
		return nil, err
	}
	return inv, nil
}

func (r *InvitationRepository) doScan(scan func(dest ...any) error) (*invitation.Invitation, error) {
	var (
		idStr, tenantIDStr, email, token, invitedByStr, statusStr string
		message                                                   sql.NullString
		expiresAt, createdAt, updatedAt                           time.Time
		acceptedAt, cancelledAt                                   sql.NullTime
		roleIDs                                                   pq.StringArray
	)

	err := scan(
		&idStr, &tenantIDStr, &email, &token, &invitedByStr, &message, &statusStr,
		&expiresAt, &acceptedAt, &cancelledAt, &createdAt, &updatedAt,
		&roleIDs,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan invitation: %w", err)
	}

	id, err := shared.IDFromString(idStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse invitation id: %w", err)
	}
	tenantID, err := shared.IDFromString(tenantIDStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse tenant id: %w", err)
	}
	invitedBy, err := shared.IDFromString(invitedByStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse inviter id: %w", err)
	}

	status, err := invitation.StatusFromRecord(statusStr, nullTimeValue(acceptedAt), nullTimeValue(cancelledAt))
	if err != nil {
		return nil, err
	}

	return invitation.Reconstitute(
		id, tenantID,
		email, token,
		invitedBy,
		parseIDs(roleIDs),
		message.String,
		expiresAt,
		status,
		createdAt, updatedAt,
	), nil
}
