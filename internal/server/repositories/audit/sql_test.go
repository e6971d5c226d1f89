package audit

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/armadillo/internal/dbx"
	"github.com/dmitrijs2005/armadillo/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepoWithMock(t *testing.T) (*SQLRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return NewSQLRepository(db, dbx.Postgres), mock, db
}

func TestAppend(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(`INSERT INTO audit_log \(id, org_id, actor_id, action, target_id, created_at\)`).
		WithArgs("id1", "acme", "user:a", models.ActionMemberAdd, "user:b", ts).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Append(context.Background(), &models.AuditEntry{
		ID: "id1", OrgID: "acme", ActorID: "user:a", Action: models.ActionMemberAdd, TargetID: "user:b", Timestamp: ts,
	})
	require.NoError(t, err)

	mock.ExpectExec(`INSERT INTO audit_log`).WillReturnError(errors.New("boom"))
	assert.ErrorContains(t, repo.Append(context.Background(), &models.AuditEntry{}), "db error: boom")
}

func TestList_WithAndWithoutCursor(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cols := []string{"id", "org_id", "actor_id", "action", "target_id", "created_at"}

	mock.ExpectQuery(`FROM audit_log WHERE org_id = \$1 ORDER BY created_at DESC, id DESC LIMIT \$2`).
		WithArgs("acme", 50).
		WillReturnRows(sqlmock.NewRows(cols).AddRow("id2", "acme", "user:a", "member.add", "user:b", ts))
	got, err := repo.List(context.Background(), "acme", Cursor{}, 50)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "id2", got[0].ID)

	mock.ExpectQuery(`FROM audit_log WHERE org_id = \$1 AND \(created_at < \$2 OR \(created_at = \$3 AND id < \$4\)\) ORDER BY created_at DESC, id DESC LIMIT \$5`).
		WithArgs("acme", ts, ts, "id2", 10).
		WillReturnRows(sqlmock.NewRows(cols))
	got, err = repo.List(context.Background(), "acme", Cursor{Timestamp: ts, ID: "id2"}, 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCursor_RoundTripAndOrder(t *testing.T) {
	ts := time.Date(2025, 1, 1, 0, 0, 0, 500, time.UTC)
	c := CursorOf(&models.AuditEntry{ID: "b", Timestamp: ts})

	parsed, err := ParseCursor(c.String())
	require.NoError(t, err)
	assert.True(t, parsed.Timestamp.Equal(ts))
	assert.Equal(t, "b", parsed.ID)

	assert.True(t, c.Admits(ts, "a"))
	assert.False(t, c.Admits(ts, "b"))
	assert.False(t, c.Admits(ts, "c"))
	assert.True(t, c.Admits(ts.Add(-time.Nanosecond), "z"))
	assert.False(t, c.Admits(ts.Add(time.Nanosecond), "a"))

	bare, err := ParseCursor("2025-01-01T00:00:00Z")
	require.NoError(t, err)
	assert.Empty(t, bare.ID)
	assert.False(t, bare.Admits(bare.Timestamp, "a"))

	_, err = ParseCursor("yesterday")
	assert.Error(t, err)

	zero, err := ParseCursor("")
	require.NoError(t, err)
	assert.True(t, zero.IsZero())
	assert.Empty(t, zero.String())
}
