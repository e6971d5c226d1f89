package blobs

import (
	"context"

	"github.com/dmitrijs2005/armadillo/internal/server/models"
)

// Repository stores blobs keyed by (vaultID, blobID). Every read and delete
// is scoped to the owner that wrote the blob.
type Repository interface {
	// Upsert returns common.ErrorForbidden when the key belongs to another owner.
	Upsert(ctx context.Context, blob *models.Blob) error
	Get(ctx context.Context, ownerID, vaultID, blobID string) (*models.Blob, error)
	Delete(ctx context.Context, ownerID, vaultID, blobID string) (bool, error)
	ListMeta(ctx context.Context, ownerID, vaultID string) ([]*models.BlobMeta, error)
	Usage(ctx context.Context, ownerID, vaultID string) (int64, error)
}
