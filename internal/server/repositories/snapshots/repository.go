package snapshots

import (
	"context"

	"github.com/dmitrijs2005/armadillo/internal/server/models"
)

type Repository interface {
	// Get returns common.ErrorNotFound when no row exists for the key.
	Get(ctx context.Context, ownerID, vaultID string) (*models.Snapshot, error)
	// CompareAndSwap stores snap when no row exists or the stored revision is
	// strictly lower. It reports whether the row was written.
	CompareAndSwap(ctx context.Context, snap *models.Snapshot) (bool, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*models.Snapshot, error)
	// ListByOwnerPrefix returns rows whose owner id starts with prefix.
	ListByOwnerPrefix(ctx context.Context, prefix string) ([]*models.Snapshot, error)
}
