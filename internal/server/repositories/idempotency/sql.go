// Package idempotency stores the outcome of keyed snapshot pushes so client
// retries within the TTL replay the first result.
package idempotency

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

func (r *SQLRepository) Get(ctx context.Context, ownerID, vaultID, key string) (*models.IdempotencyEntry, error) {
	query := r.dialect.Rebind(`
		SELECT key, owner_id, vault_id, accepted, revision, expires_at
		FROM idempotency_keys WHERE owner_id = ? AND vault_id = ? AND key = ?`)

	var e models.IdempotencyEntry
	err := r.db.QueryRowContext(ctx, query, ownerID, vaultID, key).
		Scan(&e.Key, &e.OwnerID, &e.VaultID, &e.Accepted, &e.Revision, &e.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &e, nil
}

// Put only replaces an existing row once it has expired.
func (r *SQLRepository) Put(ctx context.Context, e *models.IdempotencyEntry, now time.Time) error {
	query := r.dialect.Rebind(`
		INSERT INTO idempotency_keys (owner_id, vault_id, key, accepted, revision, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner_id, vault_id, key)
		DO UPDATE SET
			accepted = EXCLUDED.accepted,
			revision = EXCLUDED.revision,
			expires_at = EXCLUDED.expires_at
			WHERE idempotency_keys.expires_at <= ?;
	`)
	_, err := r.db.ExecContext(ctx, query,
		e.OwnerID, e.VaultID, e.Key, e.Accepted, e.Revision, e.ExpiresAt.UTC(), now.UTC())
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *SQLRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.dialect.Rebind(`DELETE FROM idempotency_keys WHERE expires_at <= ?`), now.UTC())
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}
