package repomanager

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/armadillo/internal/common"
	"github.com/dmitrijs2005/armadillo/internal/dbx"
	"github.com/dmitrijs2005/armadillo/internal/logging"
	"github.com/dmitrijs2005/armadillo/internal/server/models"
	"github.com/dmitrijs2005/armadillo/internal/server/repositories/audit"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialectFromDSN(t *testing.T) {
	tests := []struct {
		dsn     string
		dialect dbx.Dialect
		driver  string
		ok      bool
		wantErr bool
	}{
		{dsn: ""},
		{dsn: "postgres://u:p@db/armadillo", dialect: dbx.Postgres, driver: "postgres://u:p@db/armadillo", ok: true},
		{dsn: "postgresql://db/x", dialect: dbx.Postgres, driver: "postgresql://db/x", ok: true},
		{dsn: "sqlite:///var/lib/a.db", dialect: dbx.SQLite, driver: "/var/lib/a.db", ok: true},
		{dsn: "sqlite::memory:", dialect: dbx.SQLite, driver: ":memory:", ok: true},
		{dsn: "file:a.db?cache=shared", dialect: dbx.SQLite, driver: "file:a.db?cache=shared", ok: true},
		{dsn: "mysql://x", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.dsn, func(t *testing.T) {
			d, driver, ok, err := DialectFromDSN(tt.dsn)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.dialect, d)
			assert.Equal(t, tt.driver, driver)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestNewSQLRepositoryManager_RejectsUnknownDialect(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = NewSQLRepositoryManager(db, "oracle", nil)
	assert.Error(t, err)
}

func TestRunMigrations_UsesDialectDir(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	orig := gooseUpContext
	defer func() { gooseUpContext = orig }()

	var gotDir string
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		gotDir = dir
		return nil
	}

	m, err := NewSQLRepositoryManager(db, dbx.Postgres, nil)
	require.NoError(t, err)
	require.NoError(t, m.RunMigrations(context.Background()))
	assert.Equal(t, "postgres", gotDir)
}

func TestRunMigrations_Error(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	orig := gooseUpContext
	defer func() { gooseUpContext = orig }()
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return errors.New("boom")
	}

	m, err := NewSQLRepositoryManager(db, dbx.SQLite, nil)
	require.NoError(t, err)
	assert.EqualError(t, m.RunMigrations(context.Background()), "boom")
}

func TestWithTx_SQLRollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	m, err := NewSQLRepositoryManager(db, dbx.Postgres, nil)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO audit_log`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	boom := errors.New("boom")
	err = m.WithTx(context.Background(), func(ctx context.Context, repos Repositories) error {
		require.NoError(t, repos.Audit.Append(ctx, &models.AuditEntry{ID: "1", OrgID: "o"}))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

// managers returns one manager per real backend: a temp data file and an
// in-memory SQLite database migrated with the embedded schema.
func managers(t *testing.T) map[string]RepositoryManager {
	t.Helper()
	ctx := context.Background()

	file, err := Open(ctx, "", filepath.Join(t.TempDir(), "armadillo.json"), nil)
	require.NoError(t, err)

	lite, err := Open(ctx, "sqlite::memory:", "", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = lite.Close() })

	return map[string]RepositoryManager{"file": file, "sqlite": lite}
}

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func TestBackends_SnapshotCompareAndSwap(t *testing.T) {
	for name, m := range managers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := m.Repos().Snapshots
			require.NoError(t, m.Ping(ctx))

			ok, err := repo.CompareAndSwap(ctx, &models.Snapshot{OwnerID: "user:a", VaultID: "v", Revision: 2, EncryptedFile: []byte("two"), UpdatedAt: t0})
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = repo.CompareAndSwap(ctx, &models.Snapshot{OwnerID: "user:a", VaultID: "v", Revision: 2, EncryptedFile: []byte("dup"), UpdatedAt: t0})
			require.NoError(t, err)
			assert.False(t, ok)

			ok, err = repo.CompareAndSwap(ctx, &models.Snapshot{OwnerID: "user:a", VaultID: "v", Revision: 1, EncryptedFile: []byte("old"), UpdatedAt: t0})
			require.NoError(t, err)
			assert.False(t, ok)

			got, err := repo.Get(ctx, "user:a", "v")
			require.NoError(t, err)
			assert.Equal(t, int64(2), got.Revision)
			assert.Equal(t, []byte("two"), got.EncryptedFile)
			assert.True(t, t0.Equal(got.UpdatedAt))

			_, err = repo.Get(ctx, "user:a", "missing")
			assert.ErrorIs(t, err, common.ErrorNotFound)
		})
	}
}

func TestBackends_ConcurrentPushesKeepHighestRevision(t *testing.T) {
	for name, m := range managers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := m.Repos().Snapshots

			_, err := repo.CompareAndSwap(ctx, &models.Snapshot{OwnerID: "user:a", VaultID: "v", Revision: 1, UpdatedAt: t0})
			require.NoError(t, err)

			var wg sync.WaitGroup
			for _, rev := range []int64{2, 3, 2, 3} {
				wg.Add(1)
				go func(rev int64) {
					defer wg.Done()
					_, err := repo.CompareAndSwap(ctx, &models.Snapshot{OwnerID: "user:a", VaultID: "v", Revision: rev, UpdatedAt: t0})
					assert.NoError(t, err)
				}(rev)
			}
			wg.Wait()

			got, err := repo.Get(ctx, "user:a", "v")
			require.NoError(t, err)
			assert.Equal(t, int64(3), got.Revision)
		})
	}
}

func TestBackends_WithTxAtomicity(t *testing.T) {
	for name, m := range managers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			boom := errors.New("boom")

			err := m.WithTx(ctx, func(ctx context.Context, repos Repositories) error {
				if _, err := repos.Snapshots.CompareAndSwap(ctx, &models.Snapshot{OwnerID: "user:a", VaultID: "tx", Revision: 1, UpdatedAt: t0}); err != nil {
					return err
				}
				return boom
			})
			assert.ErrorIs(t, err, boom)

			_, err = m.Repos().Snapshots.Get(ctx, "user:a", "tx")
			assert.ErrorIs(t, err, common.ErrorNotFound)
		})
	}
}

func TestBackends_BlobsAndOrgs(t *testing.T) {
	for name, m := range managers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			r := m.Repos()

			b := &models.Blob{
				BlobMeta: models.BlobMeta{VaultID: "v", BlobID: "b1", OwnerID: "user:a", SizeBytes: 6, SHA256: "h", FileName: "secret.txt", CreatedAt: t0, UpdatedAt: t0},
				Nonce:    []byte("n"), Ciphertext: []byte("cipher"),
			}
			require.NoError(t, r.Blobs.Upsert(ctx, b))

			other := *b
			other.OwnerID = "user:b"
			assert.ErrorIs(t, r.Blobs.Upsert(ctx, &other), common.ErrorForbidden)

			got, err := r.Blobs.Get(ctx, "user:a", "v", "b1")
			require.NoError(t, err)
			assert.Equal(t, "secret.txt", got.FileName)
			assert.Equal(t, []byte("cipher"), got.Ciphertext)

			usage, err := r.Blobs.Usage(ctx, "user:a", "v")
			require.NoError(t, err)
			assert.Equal(t, int64(6), usage)

			require.NoError(t, r.Memberships.Upsert(ctx, &models.Membership{OrgID: "acme", MemberID: "user:a", Role: models.RoleOwner, CreatedAt: t0}))
			mem, err := r.Memberships.Get(ctx, "acme", "user:a")
			require.NoError(t, err)
			assert.Equal(t, models.RoleOwner, mem.Role)
			assert.True(t, mem.Active())

			require.NoError(t, r.Audit.Append(ctx, &models.AuditEntry{ID: "e1", OrgID: "acme", ActorID: "user:a", Action: models.ActionOrgBootstrap, TargetID: "user:a", Timestamp: t0}))
			entries, err := r.Audit.List(ctx, "acme", audit.Cursor{}, 10)
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, models.ActionOrgBootstrap, entries[0].Action)

			require.NoError(t, r.Idempotency.Put(ctx, &models.IdempotencyEntry{Key: "k", OwnerID: "user:a", VaultID: "v", Accepted: true, Revision: 2, ExpiresAt: t0.Add(time.Hour)}, t0))
			e, err := r.Idempotency.Get(ctx, "user:a", "v", "k")
			require.NoError(t, err)
			assert.True(t, e.Accepted)
			n, err := r.Idempotency.DeleteExpired(ctx, t0.Add(2*time.Hour))
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)
		})
	}
}

func TestOpen_MigrationOutputGoesToLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := logging.New(logging.Options{Format: "json"}, &buf)
	require.NoError(t, err)

	m, err := Open(context.Background(), "sqlite::memory:", "", log)
	require.NoError(t, err)
	defer m.Close()

	out := buf.String()
	assert.Contains(t, out, `"module":"migrations"`)
	assert.Contains(t, out, "00001_snapshots.sql")
}

func TestGooseLogger_Printf(t *testing.T) {
	var buf bytes.Buffer
	log, err := logging.New(logging.Options{Format: "text"}, &buf)
	require.NoError(t, err)

	gooseLogger{log: log}.Printf("OK   %s\n", "00002_blobs.sql")
	assert.Contains(t, buf.String(), "OK   00002_blobs.sql")
	assert.NotContains(t, buf.String(), `\n`)
}
