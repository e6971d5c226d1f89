// Package repomanager vends the repositories of one storage backend and runs
// its schema migrations. Services depend only on RepositoryManager, never on a
// concrete backend.
package repomanager

import (
	"context"

	"github.com/dmitrijs2005/armadillo/internal/server/repositories/audit"
	"github.com/dmitrijs2005/armadillo/internal/server/repositories/blobs"
	"github.com/dmitrijs2005/armadillo/internal/server/repositories/idempotency"
	"github.com/dmitrijs2005/armadillo/internal/server/repositories/memberships"
	"github.com/dmitrijs2005/armadillo/internal/server/repositories/snapshots"
)

// Repositories is one consistent view of the store.
type Repositories struct {
	Snapshots   snapshots.Repository
	Blobs       blobs.Repository
	Idempotency idempotency.Repository
	Memberships memberships.Repository
	Audit       audit.Repository
}

type RepositoryManager interface {
	RunMigrations(ctx context.Context) error
	// Repos returns repositories where each call commits on its own.
	Repos() Repositories
	// WithTx runs fn atomically: either every write made through repos is
	// committed or none is.
	WithTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
	Ping(ctx context.Context) error
	Close() error
}
