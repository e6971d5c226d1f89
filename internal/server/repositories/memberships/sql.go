// Package memberships stores org membership and roles.
package memberships

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/armadillo/internal/common"
	"github.com/dmitrijs2005/armadillo/internal/dbx"
	"github.com/dmitrijs2005/armadillo/internal/server/models"
)

type SQLRepository struct {
	db      dbx.DBTX
	dialect dbx.Dialect
}

func NewSQLRepository(db dbx.DBTX, dialect dbx.Dialect) *SQLRepository {
	return &SQLRepository{db: db, dialect: dialect}
}

func (r *SQLRepository) Get(ctx context.Context, orgID, memberID string) (*models.Membership, error) {
	query := r.dialect.Rebind(`
		SELECT org_id, member_id, role, created_at, revoked_at
		FROM org_memberships WHERE org_id = ? AND member_id = ?`)

	var (
		m       models.Membership
		revoked sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, orgID, memberID).
		Scan(&m.OrgID, &m.MemberID, &m.Role, &m.CreatedAt, &revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	if revoked.Valid {
		m.RevokedAt = &revoked.Time
	}
	return &m, nil
}

func (r *SQLRepository) Upsert(ctx context.Context, m *models.Membership) error {
	query := r.dialect.Rebind(`
		INSERT INTO org_memberships (org_id, member_id, role, created_at, revoked_at)
		VALUES (?, ?, ?, ?, NULL)
		ON CONFLICT (org_id, member_id)
		DO UPDATE SET role = EXCLUDED.role, revoked_at = NULL;
	`)
	if _, err := r.db.ExecContext(ctx, query, m.OrgID, m.MemberID, string(m.Role), m.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *SQLRepository) Revoke(ctx context.Context, orgID, memberID string, at time.Time) (bool, error) {
	query := r.dialect.Rebind(`
		UPDATE org_memberships SET revoked_at = ?
		WHERE org_id = ? AND member_id = ? AND revoked_at IS NULL`)
	res, err := r.db.ExecContext(ctx, query, at.UTC(), orgID, memberID)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n > 0, nil
}

func (r *SQLRepository) ListActive(ctx context.Context, orgID string) ([]*models.Membership, error) {
	query := r.dialect.Rebind(`
		SELECT org_id, member_id, role, created_at
		FROM org_memberships WHERE org_id = ? AND revoked_at IS NULL
		ORDER BY created_at, member_id`)
	rows, err := r.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to select memberships: %w", err)
	}
	defer rows.Close()

	var result []*models.Membership
	for rows.Next() {
		var m models.Membership
		if err := rows.Scan(&m.OrgID, &m.MemberID, &m.Role, &m.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLRepository) CountActive(ctx context.Context, orgID string) (int, error) {
	query := r.dialect.Rebind(`SELECT COUNT(*) FROM org_memberships WHERE org_id = ? AND revoked_at IS NULL`)
	var n int
	if err := r.db.QueryRowContext(ctx, query, orgID).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
