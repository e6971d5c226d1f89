package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/armadillo/internal/common"
	"github.com/dmitrijs2005/armadillo/internal/logging"
	"github.com/dmitrijs2005/armadillo/internal/server/models"
	"github.com/dmitrijs2005/armadillo/internal/server/objectstore"
	"github.com/dmitrijs2005/armadillo/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/armadillo/internal/timex"
)

type PutBlobInput struct {
	OwnerID    string
	VaultID    string
	BlobID     string
	Nonce      []byte
	Ciphertext []byte
	SizeBytes  int64
	SHA256     string
	MimeType   string
	FileName   string
}

// BlobService stores encrypted attachments. When objects is set, ciphertext
// goes to the object store and only metadata is kept in the repositories.
type BlobService struct {
	repomanager repomanager.RepositoryManager
	objects     objectstore.Store
	publisher   Publisher
	recorder    Recorder
	clock       timex.Clock
	log         logging.Logger
}

func NewBlobService(m repomanager.RepositoryManager, objects objectstore.Store, p Publisher, r Recorder,
	clock timex.Clock, log logging.Logger) *BlobService {
	if p == nil {
		p = nopPublisher{}
	}
	if r == nil {
		r = nopRecorder{}
	}
	if clock == nil {
		clock = timex.Real()
	}
	if log == nil {
		log = logging.Nop{}
	}
	return &BlobService{
		repomanager: m,
		objects:     objects,
		publisher:   p,
		recorder:    r,
		clock:       clock,
		log:         log.With("module", "blobs"),
	}
}

// Put creates or overwrites the blob. Writing over another owner's
// (vaultId, blobId) fails with common.ErrorForbidden.
func (s *BlobService) Put(ctx context.Context, in PutBlobInput) (*models.BlobMeta, error) {
	switch {
	case in.OwnerID == "":
		return nil, common.ErrorUnauthorized
	case in.VaultID == "" || in.BlobID == "":
		return nil, fmt.Errorf("%w: vaultId and blobId are required", common.ErrorBadRequest)
	case len(in.Ciphertext) == 0:
		return nil, fmt.Errorf("%w: ciphertext is required", common.ErrorBadRequest)
	case in.SizeBytes < 0:
		return nil, fmt.Errorf("%w: sizeBytes must be >= 0", common.ErrorBadRequest)
	}

	now := s.clock.Now()
	blob := &models.Blob{
		BlobMeta: models.BlobMeta{
			VaultID:   in.VaultID,
			BlobID:    in.BlobID,
			OwnerID:   in.OwnerID,
			SizeBytes: in.SizeBytes,
			SHA256:    in.SHA256,
			MimeType:  in.MimeType,
			FileName:  in.FileName,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Nonce:      in.Nonce,
		Ciphertext: in.Ciphertext,
	}

	if s.objects != nil {
		blob.ObjectKey = objectstore.BlobKey(in.OwnerID, in.VaultID, in.BlobID)
		if err := s.objects.Put(ctx, blob.ObjectKey, in.Ciphertext); err != nil {
			return nil, fmt.Errorf("error storing blob payload: %w", err)
		}
		blob.Ciphertext = nil
	}

	if err := s.repomanager.Repos().Blobs.Upsert(ctx, blob); err != nil {
		if errors.Is(err, common.ErrorForbidden) {
			// The payload key is scoped to the caller, so nothing else references it.
			if blob.ObjectKey != "" {
				if derr := s.objects.Delete(ctx, blob.ObjectKey); derr != nil {
					s.log.Warn(ctx, "orphaned blob payload", "key", blob.ObjectKey, "error", derr)
				}
			}
			s.log.Warn(ctx, "blob owned by another tenant", "owner", in.OwnerID, "vault", in.VaultID, "blob", in.BlobID)
			return nil, err
		}
		return nil, fmt.Errorf("error storing blob: %w", err)
	}

	publish(s.publisher, s.recorder, models.ChangeEvent{
		Type:    models.EventBlobPut,
		OwnerID: in.OwnerID,
		VaultID: in.VaultID,
		BlobID:  in.BlobID,
		At:      now,
	})

	meta := blob.BlobMeta
	return &meta, nil
}

// Get returns nil when the caller has no such blob.
func (s *BlobService) Get(ctx context.Context, ownerID, vaultID, blobID string) (*models.Blob, error) {
	b, err := s.repomanager.Repos().Blobs.Get(ctx, ownerID, vaultID, blobID)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error getting blob: %w", err)
	}
	if b.ObjectKey == "" {
		return b, nil
	}

	if s.objects == nil {
		return nil, fmt.Errorf("blob %s/%s is offloaded but no object store is configured", vaultID, blobID)
	}
	data, err := s.objects.Get(ctx, b.ObjectKey)
	if errors.Is(err, common.ErrorNotFound) {
		s.log.Warn(ctx, "blob payload missing", "key", b.ObjectKey)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error getting blob payload: %w", err)
	}
	b.Ciphertext = data
	return b, nil
}

// Delete reports whether a blob was removed. Deleting a missing blob is not
// an error.
func (s *BlobService) Delete(ctx context.Context, ownerID, vaultID, blobID string) (bool, error) {
	repo := s.repomanager.Repos().Blobs

	b, err := repo.Get(ctx, ownerID, vaultID, blobID)
	if errors.Is(err, common.ErrorNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("error getting blob: %w", err)
	}

	deleted, err := repo.Delete(ctx, ownerID, vaultID, blobID)
	if err != nil {
		return false, fmt.Errorf("error deleting blob: %w", err)
	}
	if !deleted {
		return false, nil
	}

	if b.ObjectKey != "" && s.objects != nil {
		if err := s.objects.Delete(ctx, b.ObjectKey); err != nil {
			s.log.Warn(ctx, "orphaned blob payload", "key", b.ObjectKey, "error", err)
		}
	}

	publish(s.publisher, s.recorder, models.ChangeEvent{
		Type:    models.EventBlobDelete,
		OwnerID: ownerID,
		VaultID: vaultID,
		BlobID:  blobID,
		At:      s.clock.Now(),
	})
	return true, nil
}

func (s *BlobService) ListMeta(ctx context.Context, ownerID, vaultID string) ([]*models.BlobMeta, error) {
	list, err := s.repomanager.Repos().Blobs.ListMeta(ctx, ownerID, vaultID)
	if err != nil {
		return nil, fmt.Errorf("error listing blobs: %w", err)
	}
	return list, nil
}

// Usage sums the declared sizes of the caller's blobs in vaultID.
func (s *BlobService) Usage(ctx context.Context, ownerID, vaultID string) (int64, error) {
	n, err := s.repomanager.Repos().Blobs.Usage(ctx, ownerID, vaultID)
	if err != nil {
		return 0, fmt.Errorf("error computing usage: %w", err)
	}
	return n, nil
}
