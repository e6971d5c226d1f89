// Package snapshots provides SQL-backed storage for encrypted vault snapshots.
package snapshots

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/armadillo/internal/common"
	"github.com/dmitrijs2005/armadillo/internal/dbx"
	"github.com/dmitrijs2005/armadillo/internal/server/models"
)

// SQLRepository implements snapshot storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type SQLRepository struct {
	db      dbx.DBTX
	dialect dbx.Dialect
}

// NewSQLRepository constructs a repository bound to the given DBTX.
func NewSQLRepository(db dbx.DBTX, dialect dbx.Dialect) *SQLRepository {
	return &SQLRepository{db: db, dialect: dialect}
}

const selectColumns = `SELECT owner_id, vault_id, revision, encrypted_file, updated_at FROM snapshots`

func (r *SQLRepository) Get(ctx context.Context, ownerID, vaultID string) (*models.Snapshot, error) {
	query := r.dialect.Rebind(selectColumns + ` WHERE owner_id = ? AND vault_id = ?`)

	var s models.Snapshot
	err := r.db.QueryRowContext(ctx, query, ownerID, vaultID).
		Scan(&s.OwnerID, &s.VaultID, &s.Revision, &s.EncryptedFile, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &s, nil
}

// CompareAndSwap is a single conditional upsert, so two concurrent pushes
// against the same prior revision cannot both win.
func (r *SQLRepository) CompareAndSwap(ctx context.Context, snap *models.Snapshot) (bool, error) {
	query := r.dialect.Rebind(`
		INSERT INTO snapshots (owner_id, vault_id, revision, encrypted_file, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (owner_id, vault_id)
		DO UPDATE SET
			revision = EXCLUDED.revision,
			encrypted_file = EXCLUDED.encrypted_file,
			updated_at = EXCLUDED.updated_at
			WHERE snapshots.revision < EXCLUDED.revision;
	`)
	res, err := r.db.ExecContext(ctx, query,
		snap.OwnerID, snap.VaultID, snap.Revision, nonNil(snap.EncryptedFile), snap.UpdatedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return true, nil
	case 0:
		return false, nil
	default:
		return false, fmt.Errorf("unexpected rows affected: %d", n)
	}
}

func (r *SQLRepository) ListByOwner(ctx context.Context, ownerID string) ([]*models.Snapshot, error) {
	return r.list(ctx, selectColumns+` WHERE owner_id = ? ORDER BY updated_at DESC, vault_id`, ownerID)
}

func (r *SQLRepository) ListByOwnerPrefix(ctx context.Context, prefix string) ([]*models.Snapshot, error) {
	return r.list(ctx,
		selectColumns+` WHERE owner_id LIKE ? ESCAPE '\' ORDER BY updated_at DESC, vault_id`,
		escapeLike(prefix)+"%")
}

func (r *SQLRepository) list(ctx context.Context, query string, args ...any) ([]*models.Snapshot, error) {
	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select snapshots: %w", err)
	}
	defer rows.Close()

	var result []*models.Snapshot
	for rows.Next() {
		var s models.Snapshot
		if err := rows.Scan(&s.OwnerID, &s.VaultID, &s.Revision, &s.EncryptedFile, &s.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
