package repomanager

import (
	"context"

	"github.com/dmitrijs2005/armadillo/internal/server/repositories/filestore"
)

// FileRepositoryManager vends repositories over a flat JSON data file.
type FileRepositoryManager struct {
	store *filestore.Store
}

func NewFileRepositoryManager(path string) (*FileRepositoryManager, error) {
	store, err := filestore.Open(path)
	if err != nil {
		return nil, err
	}
	return &FileRepositoryManager{store: store}, nil
}

// RunMigrations is a no-op; the document carries its own version.
func (m *FileRepositoryManager) RunMigrations(context.Context) error {
	return nil
}

func bindFile(tx *filestore.Tx) Repositories {
	return Repositories{
		Snapshots:   tx.Snapshots(),
		Blobs:       tx.Blobs(),
		Idempotency: tx.Idempotency(),
		Memberships: tx.Memberships(),
		Audit:       tx.Audit(),
	}
}

func (m *FileRepositoryManager) Repos() Repositories {
	return bindFile(m.store.Repos())
}

func (m *FileRepositoryManager) WithTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error {
	return m.store.Update(ctx, func(ctx context.Context, tx *filestore.Tx) error {
		return fn(ctx, bindFile(tx))
	})
}

func (m *FileRepositoryManager) Ping(ctx context.Context) error {
	return m.store.Ping(ctx)
}

func (m *FileRepositoryManager) Close() error {
	return nil
}
