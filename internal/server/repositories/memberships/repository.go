package memberships

import (
	"context"
	"time"

	"github.com/dmitrijs2005/armadillo/internal/server/models"
)

type Repository interface {
	// Get returns the membership including revoked ones, or common.ErrorNotFound.
	Get(ctx context.Context, orgID, memberID string) (*models.Membership, error)
	// Upsert sets the role and clears any revocation. CreatedAt of an
	// existing row is kept.
	Upsert(ctx context.Context, m *models.Membership) error
	Revoke(ctx context.Context, orgID, memberID string, at time.Time) (bool, error)
	ListActive(ctx context.Context, orgID string) ([]*models.Membership, error)
	CountActive(ctx context.Context, orgID string) (int, error)
}
