// Package blobs provides SQL-backed storage for encrypted attachments.
package blobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

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

// Upsert overwrites an existing blob of the same owner and keeps its
// created_at.
func (r *SQLRepository) Upsert(ctx context.Context, b *models.Blob) error {
	query := r.dialect.Rebind(`
		INSERT INTO blobs (vault_id, blob_id, owner_id, nonce, ciphertext, object_key,
			size_bytes, sha256, mime_type, file_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (vault_id, blob_id)
		DO UPDATE SET
			nonce = EXCLUDED.nonce,
			ciphertext = EXCLUDED.ciphertext,
			object_key = EXCLUDED.object_key,
			size_bytes = EXCLUDED.size_bytes,
			sha256 = EXCLUDED.sha256,
			mime_type = EXCLUDED.mime_type,
			file_name = EXCLUDED.file_name,
			updated_at = EXCLUDED.updated_at
			WHERE blobs.owner_id = EXCLUDED.owner_id;
	`)
	res, err := r.db.ExecContext(ctx, query,
		b.VaultID, b.BlobID, b.OwnerID, b.Nonce, b.Ciphertext, b.ObjectKey,
		b.SizeBytes, b.SHA256, b.MimeType, b.FileName, b.CreatedAt.UTC(), b.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return common.ErrorForbidden
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}

func (r *SQLRepository) Get(ctx context.Context, ownerID, vaultID, blobID string) (*models.Blob, error) {
	query := r.dialect.Rebind(`
		SELECT vault_id, blob_id, owner_id, nonce, ciphertext, object_key,
			size_bytes, sha256, mime_type, file_name, created_at, updated_at
		FROM blobs WHERE owner_id = ? AND vault_id = ? AND blob_id = ?`)

	var b models.Blob
	err := r.db.QueryRowContext(ctx, query, ownerID, vaultID, blobID).Scan(
		&b.VaultID, &b.BlobID, &b.OwnerID, &b.Nonce, &b.Ciphertext, &b.ObjectKey,
		&b.SizeBytes, &b.SHA256, &b.MimeType, &b.FileName, &b.CreatedAt, &b.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &b, nil
}

func (r *SQLRepository) Delete(ctx context.Context, ownerID, vaultID, blobID string) (bool, error) {
	query := r.dialect.Rebind(`DELETE FROM blobs WHERE owner_id = ? AND vault_id = ? AND blob_id = ?`)
	res, err := r.db.ExecContext(ctx, query, ownerID, vaultID, blobID)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n > 0, nil
}

func (r *SQLRepository) ListMeta(ctx context.Context, ownerID, vaultID string) ([]*models.BlobMeta, error) {
	query := r.dialect.Rebind(`
		SELECT vault_id, blob_id, owner_id, size_bytes, sha256, mime_type, file_name, created_at, updated_at
		FROM blobs WHERE owner_id = ? AND vault_id = ?
		ORDER BY updated_at DESC, blob_id`)
	rows, err := r.db.QueryContext(ctx, query, ownerID, vaultID)
	if err != nil {
		return nil, fmt.Errorf("failed to select blobs: %w", err)
	}
	defer rows.Close()

	var result []*models.BlobMeta
	for rows.Next() {
		var m models.BlobMeta
		if err := rows.Scan(
			&m.VaultID, &m.BlobID, &m.OwnerID, &m.SizeBytes, &m.SHA256,
			&m.MimeType, &m.FileName, &m.CreatedAt, &m.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLRepository) Usage(ctx context.Context, ownerID, vaultID string) (int64, error) {
	query := r.dialect.Rebind(`SELECT COALESCE(SUM(size_bytes), 0) FROM blobs WHERE owner_id = ? AND vault_id = ?`)
	var total int64
	if err := r.db.QueryRowContext(ctx, query, ownerID, vaultID).Scan(&total); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return total, nil
}
