// Package audit persists the org audit trail.
package audit

import (
	"context"
	"fmt"

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

func (r *SQLRepository) Append(ctx context.Context, e *models.AuditEntry) error {
	query := r.dialect.Rebind(`
		INSERT INTO audit_log (id, org_id, actor_id, action, target_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if _, err := r.db.ExecContext(ctx, query,
		e.ID, e.OrgID, e.ActorID, e.Action, e.TargetID, e.Timestamp.UTC()); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *SQLRepository) List(ctx context.Context, orgID string, before Cursor, limit int) ([]*models.AuditEntry, error) {
	query := `SELECT id, org_id, actor_id, action, target_id, created_at FROM audit_log WHERE org_id = ?`
	args := []any{orgID}
	if !before.IsZero() {
		ts := before.Timestamp.UTC()
		query += ` AND (created_at < ? OR (created_at = ? AND id < ?))`
		args = append(args, ts, ts, before.ID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select audit entries: %w", err)
	}
	defer rows.Close()

	var result []*models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.OrgID, &e.ActorID, &e.Action, &e.TargetID, &e.Timestamp); err != nil {
			return nil, err
		}
		result = append(result, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
