package idempotency

import (
	"context"
	"time"

	"github.com/dmitrijs2005/armadillo/internal/server/models"
)

type Repository interface {
	// Get returns common.ErrorNotFound when no entry exists. Expired entries
	// are returned as-is; callers check Live.
	Get(ctx context.Context, ownerID, vaultID, key string) (*models.IdempotencyEntry, error)
	// Put stores e unless a live entry for the same key exists at now.
	Put(ctx context.Context, e *models.IdempotencyEntry, now time.Time) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
