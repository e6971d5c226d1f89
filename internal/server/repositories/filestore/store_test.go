package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/armadillo/internal/common"
	"github.com/dmitrijs2005/armadillo/internal/server/models"
	"github.com/dmitrijs2005/armadillo/internal/server/repositories/audit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "armadillo.json")
	s, err := Open(path)
	require.NoError(t, err)
	return s, path
}

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func TestOpen_MissingFileStartsEmpty(t *testing.T) {
	s, path := openTemp(t)
	_, err := os.Stat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	list, err := s.Repos().Snapshots().ListByOwner(context.Background(), "user:a")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestOpen_RejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "armadillo.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := Open(path)
	assert.ErrorContains(t, err, "decode data file")
}

func TestSnapshots_PersistAcrossReopen(t *testing.T) {
	s, path := openTemp(t)
	ctx := context.Background()
	repo := s.Repos().Snapshots()

	ok, err := repo.CompareAndSwap(ctx, &models.Snapshot{OwnerID: "user:a", VaultID: "v1", Revision: 1, EncryptedFile: []byte("x"), UpdatedAt: t0})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.CompareAndSwap(ctx, &models.Snapshot{OwnerID: "user:a", VaultID: "v1", Revision: 1, EncryptedFile: []byte("y"), UpdatedAt: t0})
	require.NoError(t, err)
	assert.False(t, ok)

	reopened, err := Open(path)
	require.NoError(t, err)
	got, err := reopened.Repos().Snapshots().Get(ctx, "user:a", "v1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Revision)
	assert.Equal(t, []byte("x"), got.EncryptedFile)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")

	var doc document
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, documentVersion, doc.Version)
}

func TestSnapshots_ReturnedCopiesAreIsolated(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()
	repo := s.Repos().Snapshots()

	_, err := repo.CompareAndSwap(ctx, &models.Snapshot{OwnerID: "user:a", VaultID: "v1", Revision: 1, EncryptedFile: []byte("abc"), UpdatedAt: t0})
	require.NoError(t, err)

	got, err := repo.Get(ctx, "user:a", "v1")
	require.NoError(t, err)
	got.EncryptedFile[0] = 'z'

	again, err := repo.Get(ctx, "user:a", "v1")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again.EncryptedFile)
}

func TestSnapshots_ListByOwnerPrefixAndOrder(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()
	repo := s.Repos().Snapshots()

	for _, snap := range []*models.Snapshot{
		{OwnerID: "anon:alice", VaultID: "b", Revision: 1, UpdatedAt: t0},
		{OwnerID: "anon:alice-phone", VaultID: "a", Revision: 1, UpdatedAt: t0},
		{OwnerID: "anon:alic", VaultID: "c", Revision: 1, UpdatedAt: t0.Add(time.Hour)},
		{OwnerID: "anon:alice", VaultID: "d", Revision: 1, UpdatedAt: t0.Add(time.Minute)},
	} {
		_, err := repo.CompareAndSwap(ctx, snap)
		require.NoError(t, err)
	}

	list, err := repo.ListByOwnerPrefix(ctx, "anon:alice")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "d", list[0].VaultID)
	assert.Equal(t, "a", list[1].VaultID)
	assert.Equal(t, "b", list[2].VaultID)
}

func TestUpdate_RollsBackOnError(t *testing.T) {
	s, path := openTemp(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Update(ctx, func(ctx context.Context, tx *Tx) error {
		_, err := tx.Snapshots().CompareAndSwap(ctx, &models.Snapshot{OwnerID: "user:a", VaultID: "v1", Revision: 1, UpdatedAt: t0})
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.Repos().Snapshots().Get(ctx, "user:a", "v1")
	assert.ErrorIs(t, err, common.ErrorNotFound)
	_, err = os.Stat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestUpdate_CommitsAllWrites(t *testing.T) {
	s, path := openTemp(t)
	ctx := context.Background()

	err := s.Update(ctx, func(ctx context.Context, tx *Tx) error {
		if _, err := tx.Snapshots().CompareAndSwap(ctx, &models.Snapshot{OwnerID: "user:a", VaultID: "v1", Revision: 1, UpdatedAt: t0}); err != nil {
			return err
		}
		return tx.Idempotency().Put(ctx, &models.IdempotencyEntry{Key: "k", OwnerID: "user:a", VaultID: "v1", Accepted: true, Revision: 1, ExpiresAt: t0.Add(time.Hour)}, t0)
	})
	require.NoError(t, err)

	reopened, err := Open(path)
	require.NoError(t, err)
	e, err := reopened.Repos().Idempotency().Get(ctx, "user:a", "v1", "k")
	require.NoError(t, err)
	assert.True(t, e.Accepted)
}

func TestSnapshots_ConcurrentCompareAndSwap(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()
	repo := s.Repos().Snapshots()

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.CompareAndSwap(ctx, &models.Snapshot{OwnerID: "user:a", VaultID: "v1", Revision: 5, UpdatedAt: t0})
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, won)
}

func TestBlobs_OwnerGuardAndUsage(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()
	repo := s.Repos().Blobs()

	b := &models.Blob{
		BlobMeta: models.BlobMeta{VaultID: "v1", BlobID: "b1", OwnerID: "user:a", SizeBytes: 6, FileName: "secret.txt", CreatedAt: t0, UpdatedAt: t0},
		Nonce:    []byte("n"), Ciphertext: []byte("c"),
	}
	require.NoError(t, repo.Upsert(ctx, b))

	later := *b
	later.SizeBytes = 10
	later.CreatedAt = t0.Add(time.Hour)
	later.UpdatedAt = t0.Add(time.Hour)
	require.NoError(t, repo.Upsert(ctx, &later))

	got, err := repo.Get(ctx, "user:a", "v1", "b1")
	require.NoError(t, err)
	assert.Equal(t, t0, got.CreatedAt)
	assert.Equal(t, int64(10), got.SizeBytes)

	intruder := *b
	intruder.OwnerID = "user:b"
	assert.ErrorIs(t, repo.Upsert(ctx, &intruder), common.ErrorForbidden)

	_, err = repo.Get(ctx, "user:b", "v1", "b1")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	total, err := repo.Usage(ctx, "user:a", "v1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), total)

	ok, err := repo.Delete(ctx, "user:b", "v1", "b1")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = repo.Delete(ctx, "user:a", "v1", "b1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIdempotency_PutKeepsLiveEntry(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()
	repo := s.Repos().Idempotency()

	first := &models.IdempotencyEntry{Key: "k", OwnerID: "o", VaultID: "v", Accepted: true, Revision: 1, ExpiresAt: t0.Add(time.Minute)}
	require.NoError(t, repo.Put(ctx, first, t0))

	second := *first
	second.Accepted = false
	require.NoError(t, repo.Put(ctx, &second, t0.Add(30*time.Second)))

	e, err := repo.Get(ctx, "o", "v", "k")
	require.NoError(t, err)
	assert.True(t, e.Accepted)

	n, err := repo.DeleteExpired(ctx, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMembershipsAndAudit(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()
	tx := s.Repos()

	require.NoError(t, tx.Memberships().Upsert(ctx, &models.Membership{OrgID: "acme", MemberID: "user:a", Role: models.RoleOwner, CreatedAt: t0}))
	require.NoError(t, tx.Memberships().Upsert(ctx, &models.Membership{OrgID: "acme", MemberID: "user:b", Role: models.RoleViewer, CreatedAt: t0.Add(time.Second)}))

	n, err := tx.Memberships().CountActive(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ok, err := tx.Memberships().Revoke(ctx, "acme", "user:b", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = tx.Memberships().Revoke(ctx, "acme", "user:b", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	active, err := tx.Memberships().ListActive(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "user:a", active[0].MemberID)

	for i := 0; i < 3; i++ {
		require.NoError(t, tx.Audit().Append(ctx, &models.AuditEntry{
			ID: string(rune('a' + i)), OrgID: "acme", ActorID: "user:a", Action: models.ActionMemberAdd,
			Timestamp: t0.Add(time.Duration(i) * time.Minute),
		}))
	}
	page, err := tx.Audit().List(ctx, "acme", audit.Cursor{}, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "c", page[0].ID)
	assert.Equal(t, "b", page[1].ID)

	page, err = tx.Audit().List(ctx, "acme", audit.CursorOf(page[1]), 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "a", page[0].ID)
}

func TestAudit_TiedTimestampsAcrossPages(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()
	tx := s.Repos()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, tx.Audit().Append(ctx, &models.AuditEntry{
			ID: id, OrgID: "acme", ActorID: "user:a", Action: models.ActionMemberAdd, Timestamp: t0,
		}))
	}

	page, err := tx.Audit().List(ctx, "acme", audit.Cursor{}, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "c", page[0].ID)
	assert.Equal(t, "b", page[1].ID)

	page, err = tx.Audit().List(ctx, "acme", audit.CursorOf(page[1]), 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "a", page[0].ID)
}
