package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dmitrijs2005/armadillo/internal/common"
	"github.com/dmitrijs2005/armadillo/internal/logging"
	"github.com/dmitrijs2005/armadillo/internal/server/identity"
	"github.com/dmitrijs2005/armadillo/internal/server/metrics"
	"github.com/dmitrijs2005/armadillo/internal/server/models"
	"github.com/dmitrijs2005/armadillo/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/armadillo/internal/timex"
)

// MaxIdempotencyKeyLen bounds client-supplied idempotency keys.
const MaxIdempotencyKeyLen = 255

type PushInput struct {
	OwnerID        string
	VaultID        string
	Revision       int64
	EncryptedFile  []byte
	UpdatedAt      time.Time
	IdempotencyKey string
}

// PushResult reports the outcome of a push. A stale revision is a normal
// outcome (Accepted false), not an error.
type PushResult struct {
	Accepted        bool
	Replayed        bool
	CurrentRevision int64
}

type SnapshotService struct {
	repomanager    repomanager.RepositoryManager
	publisher      Publisher
	recorder       Recorder
	clock          timex.Clock
	idempotencyTTL time.Duration
	log            logging.Logger
}

func NewSnapshotService(m repomanager.RepositoryManager, p Publisher, r Recorder, clock timex.Clock,
	idempotencyTTL time.Duration, log logging.Logger) *SnapshotService {
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
	return &SnapshotService{
		repomanager:    m,
		publisher:      p,
		recorder:       r,
		clock:          clock,
		idempotencyTTL: idempotencyTTL,
		log:            log.With("module", "snapshots"),
	}
}

// Pull returns the caller's snapshot of vaultID, or nil when there is none.
// An authenticated caller without a row of its own falls back to the newest
// matching snapshot written under its pre-login anonymous identity.
func (s *SnapshotService) Pull(ctx context.Context, ac models.AuthContext, vaultID string) (*models.Snapshot, error) {
	if vaultID == "" {
		return nil, common.ErrorBadRequest
	}
	repo := s.repomanager.Repos().Snapshots

	snap, err := repo.Get(ctx, ac.OwnerID, vaultID)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return nil, fmt.Errorf("error getting snapshot: %w", err)
	}

	var legacy []*models.Snapshot
	for _, prefix := range identity.LegacyOwnerPrefixes(ac) {
		list, err := repo.ListByOwnerPrefix(ctx, prefix)
		if err != nil {
			return nil, fmt.Errorf("error listing legacy snapshots: %w", err)
		}
		for _, l := range list {
			if l.VaultID == vaultID {
				legacy = append(legacy, l)
			}
		}
	}
	if len(legacy) == 0 {
		return nil, nil
	}
	sortSnapshots(legacy, ac.OwnerID)
	return legacy[0], nil
}

// ListByOwner returns the caller's snapshots plus, for authenticated callers,
// those under legacy anonymous owners. See sortSnapshots for the order.
func (s *SnapshotService) ListByOwner(ctx context.Context, ac models.AuthContext) ([]*models.Snapshot, error) {
	repo := s.repomanager.Repos().Snapshots

	all, err := repo.ListByOwner(ctx, ac.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("error listing snapshots: %w", err)
	}
	for _, prefix := range identity.LegacyOwnerPrefixes(ac) {
		list, err := repo.ListByOwnerPrefix(ctx, prefix)
		if err != nil {
			return nil, fmt.Errorf("error listing legacy snapshots: %w", err)
		}
		all = append(all, list...)
	}

	type dedupKey struct {
		owner, vault string
		revision     int64
		updatedAt    int64
	}
	seen := make(map[dedupKey]struct{}, len(all))
	out := all[:0]
	for _, snap := range all {
		k := dedupKey{snap.OwnerID, snap.VaultID, snap.Revision, snap.UpdatedAt.UnixNano()}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, snap)
	}

	sortSnapshots(out, ac.OwnerID)
	return out, nil
}

// PullByOwner is the single-vault convenience path: the caller's most
// recently updated snapshot, else the newest legacy one, else nil.
func (s *SnapshotService) PullByOwner(ctx context.Context, ac models.AuthContext) (*models.Snapshot, error) {
	list, err := s.ListByOwner(ctx, ac)
	if err != nil {
		return nil, err
	}
	for _, snap := range list {
		if snap.OwnerID == ac.OwnerID {
			return snap, nil
		}
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// sortSnapshots orders by updatedAt descending, then vaultId ascending, then
// the primary owner before legacy owners, then ownerId ascending.
func sortSnapshots(list []*models.Snapshot, primary string) {
	slices.SortStableFunc(list, func(a, b *models.Snapshot) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		if c := strings.Compare(a.VaultID, b.VaultID); c != 0 {
			return c
		}
		ap, bp := a.OwnerID == primary, b.OwnerID == primary
		switch {
		case ap && !bp:
			return -1
		case bp && !ap:
			return 1
		}
		return strings.Compare(a.OwnerID, b.OwnerID)
	})
}

// Push stores in.EncryptedFile as the vault's new snapshot if in.Revision is
// newer than the stored one. With an idempotency key, a retry within the TTL
// returns the first result without writing again.
func (s *SnapshotService) Push(ctx context.Context, in PushInput) (PushResult, error) {
	if err := validatePush(&in); err != nil {
		return PushResult{}, err
	}

	now := s.clock.Now()
	if in.UpdatedAt.IsZero() {
		in.UpdatedAt = now
	}

	var result PushResult
	err := s.repomanager.WithTx(ctx, func(ctx context.Context, repos repomanager.Repositories) error {
		result = PushResult{}

		replay, ok, err := s.replay(ctx, repos, in, now)
		if err != nil {
			return err
		}
		if ok {
			result = replay
			return nil
		}

		accepted, err := repos.Snapshots.CompareAndSwap(ctx, &models.Snapshot{
			OwnerID:       in.OwnerID,
			VaultID:       in.VaultID,
			Revision:      in.Revision,
			EncryptedFile: in.EncryptedFile,
			UpdatedAt:     in.UpdatedAt,
		})
		if err != nil {
			return fmt.Errorf("error storing snapshot: %w", err)
		}

		if !accepted {
			// A concurrent push with the same key may have won the row.
			replay, ok, err := s.replay(ctx, repos, in, now)
			if err != nil {
				return err
			}
			if ok {
				result = replay
				return nil
			}
			cur, err := repos.Snapshots.Get(ctx, in.OwnerID, in.VaultID)
			if err != nil {
				return fmt.Errorf("error reading current snapshot: %w", err)
			}
			result.CurrentRevision = cur.Revision
			return nil
		}

		result = PushResult{Accepted: true, CurrentRevision: in.Revision}
		if in.IdempotencyKey == "" {
			return nil
		}
		return repos.Idempotency.Put(ctx, &models.IdempotencyEntry{
			Key:       in.IdempotencyKey,
			OwnerID:   in.OwnerID,
			VaultID:   in.VaultID,
			Accepted:  true,
			Revision:  in.Revision,
			ExpiresAt: now.Add(s.idempotencyTTL),
		}, now)
	})
	if err != nil {
		s.log.Error(ctx, "push failed", "owner", in.OwnerID, "vault", in.VaultID, "error", err)
		return PushResult{}, err
	}

	switch {
	case result.Replayed:
		s.recorder.Push(metrics.PushReplayed)
	case result.Accepted:
		s.recorder.Push(metrics.PushAccepted)
		publish(s.publisher, s.recorder, models.ChangeEvent{
			Type:     models.EventSnapshot,
			OwnerID:  in.OwnerID,
			VaultID:  in.VaultID,
			Revision: in.Revision,
			At:       now,
		})
	default:
		s.recorder.Push(metrics.PushConflict)
		s.log.Debug(ctx, "stale push rejected", "owner", in.OwnerID, "vault", in.VaultID,
			"revision", in.Revision, "current", result.CurrentRevision)
	}
	return result, nil
}

func (s *SnapshotService) replay(ctx context.Context, repos repomanager.Repositories, in PushInput, now time.Time) (PushResult, bool, error) {
	if in.IdempotencyKey == "" {
		return PushResult{}, false, nil
	}
	e, err := repos.Idempotency.Get(ctx, in.OwnerID, in.VaultID, in.IdempotencyKey)
	if errors.Is(err, common.ErrorNotFound) {
		return PushResult{}, false, nil
	}
	if err != nil {
		return PushResult{}, false, fmt.Errorf("error reading idempotency key: %w", err)
	}
	if !e.Live(now) {
		return PushResult{}, false, nil
	}
	return PushResult{Accepted: e.Accepted, Replayed: true, CurrentRevision: e.Revision}, true, nil
}

func validatePush(in *PushInput) error {
	switch {
	case in.OwnerID == "":
		return common.ErrorUnauthorized
	case in.VaultID == "":
		return fmt.Errorf("%w: vaultId is required", common.ErrorBadRequest)
	case in.Revision < 0:
		return fmt.Errorf("%w: revision must be >= 0", common.ErrorBadRequest)
	case len(in.EncryptedFile) == 0:
		return fmt.Errorf("%w: encryptedFile is required", common.ErrorBadRequest)
	case len(in.IdempotencyKey) > MaxIdempotencyKeyLen:
		return fmt.Errorf("%w: idempotency key too long", common.ErrorBadRequest)
	}
	return nil
}

// PurgeExpiredIdempotency drops idempotency entries past their TTL.
func (s *SnapshotService) PurgeExpiredIdempotency(ctx context.Context) (int64, error) {
	n, err := s.repomanager.Repos().Idempotency.DeleteExpired(ctx, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("error purging idempotency keys: %w", err)
	}
	return n, nil
}
