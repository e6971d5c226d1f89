package memberships

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/armadillo/internal/common"
	"github.com/dmitrijs2005/armadillo/internal/dbx"
	"github.com/dmitrijs2005/armadillo/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepoWithMock(t *testing.T) (*SQLRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return NewSQLRepository(db, dbx.SQLite), mock, db
}

func TestGet_ActiveAndRevoked(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cols := []string{"org_id", "member_id", "role", "created_at", "revoked_at"}

	mock.ExpectQuery(`FROM org_memberships WHERE org_id = \? AND member_id = \?`).
		WithArgs("acme", "user:a").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("acme", "user:a", "admin", ts, nil))
	m, err := repo.Get(context.Background(), "acme", "user:a")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, m.Role)
	assert.True(t, m.Active())

	mock.ExpectQuery(`FROM org_memberships`).
		WillReturnRows(sqlmock.NewRows(cols).AddRow("acme", "user:b", "viewer", ts, ts.Add(time.Hour)))
	m, err = repo.Get(context.Background(), "acme", "user:b")
	require.NoError(t, err)
	assert.False(t, m.Active())

	mock.ExpectQuery(`FROM org_memberships`).WillReturnError(sql.ErrNoRows)
	_, err = repo.Get(context.Background(), "acme", "user:c")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestUpsert(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(`INSERT INTO org_memberships .* ON CONFLICT \(org_id, member_id\)\s+DO UPDATE SET role = EXCLUDED\.role, revoked_at = NULL;`).
		WithArgs("acme", "user:a", "editor", ts).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Upsert(context.Background(), &models.Membership{OrgID: "acme", MemberID: "user:a", Role: models.RoleEditor, CreatedAt: ts})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRevoke(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(`UPDATE org_memberships SET revoked_at = \?\s+WHERE org_id = \? AND member_id = \? AND revoked_at IS NULL`).
		WithArgs(ts, "acme", "user:a").
		WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := repo.Revoke(context.Background(), "acme", "user:a", ts)
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectExec(`UPDATE org_memberships`).WillReturnError(errors.New("boom"))
	_, err = repo.Revoke(context.Background(), "acme", "user:a", ts)
	assert.ErrorContains(t, err, "boom")
}

func TestListAndCountActive(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`FROM org_memberships WHERE org_id = \? AND revoked_at IS NULL\s+ORDER BY created_at, member_id`).
		WithArgs("acme").
		WillReturnRows(sqlmock.NewRows([]string{"org_id", "member_id", "role", "created_at"}).
			AddRow("acme", "user:a", "owner", ts).
			AddRow("acme", "user:b", "viewer", ts))
	ms, err := repo.ListActive(context.Background(), "acme")
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.Equal(t, models.RoleViewer, ms[1].Role)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM org_memberships`).
		WithArgs("acme").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	n, err := repo.CountActive(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
