package repomanager

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"github.com/dmitrijs2005/armadillo/internal/dbx"
	"github.com/dmitrijs2005/armadillo/internal/logging"
	"github.com/dmitrijs2005/armadillo/internal/server/migrations"
	"github.com/dmitrijs2005/armadillo/internal/server/repositories/audit"
	"github.com/dmitrijs2005/armadillo/internal/server/repositories/blobs"
	"github.com/dmitrijs2005/armadillo/internal/server/repositories/idempotency"
	"github.com/dmitrijs2005/armadillo/internal/server/repositories/memberships"
	"github.com/dmitrijs2005/armadillo/internal/server/repositories/snapshots"
	"github.com/pressly/goose/v3"
)

// SQLRepositoryManager vends SQL-backed repositories for PostgreSQL or SQLite.
type SQLRepositoryManager struct {
	db      *sql.DB
	dialect dbx.Dialect
	log     logging.Logger
}

// NewSQLRepositoryManager wraps an open database of the given dialect. A nil
// log discards migration output.
func NewSQLRepositoryManager(db *sql.DB, dialect dbx.Dialect, log logging.Logger) (*SQLRepositoryManager, error) {
	switch dialect {
	case dbx.Postgres, dbx.SQLite:
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}
	if log == nil {
		log = logging.Nop{}
	}
	return &SQLRepositoryManager{db: db, dialect: dialect, log: log.With("module", "migrations")}, nil
}

// gooseLogger routes goose output through logging.Logger.
type gooseLogger struct {
	log logging.Logger
}

func (g gooseLogger) Printf(format string, v ...any) {
	g.log.Info(context.Background(), strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// Fatalf keeps goose's contract: it does not return.
func (g gooseLogger) Fatalf(format string, v ...any) {
	g.log.Error(context.Background(), strings.TrimSpace(fmt.Sprintf(format, v...)))
	os.Exit(1)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

var gooseDialects = map[dbx.Dialect]string{
	dbx.Postgres: "pgx",
	dbx.SQLite:   "sqlite3",
}

// RunMigrations sets up goose with the embedded migrations of the manager's
// dialect and applies them.
func (m *SQLRepositoryManager) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	goose.SetLogger(gooseLogger{log: m.log})
	if err := goose.SetDialect(gooseDialects[m.dialect]); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, m.db, string(m.dialect)); err != nil {
		return err
	}
	return nil
}

func (m *SQLRepositoryManager) bind(db dbx.DBTX) Repositories {
	return Repositories{
		Snapshots:   snapshots.NewSQLRepository(db, m.dialect),
		Blobs:       blobs.NewSQLRepository(db, m.dialect),
		Idempotency: idempotency.NewSQLRepository(db, m.dialect),
		Memberships: memberships.NewSQLRepository(db, m.dialect),
		Audit:       audit.NewSQLRepository(db, m.dialect),
	}
}

func (m *SQLRepositoryManager) Repos() Repositories {
	return m.bind(m.db)
}

func (m *SQLRepositoryManager) WithTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error {
	return dbx.WithTx(ctx, m.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, m.bind(tx))
	})
}

func (m *SQLRepositoryManager) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

func (m *SQLRepositoryManager) Close() error {
	return m.db.Close()
}
