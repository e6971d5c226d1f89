package repomanager

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/armadillo/internal/dbx"
	"github.com/dmitrijs2005/armadillo/internal/logging"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// DialectFromDSN picks the backend for a connection string. An empty DSN
// means file mode and returns ok=false.
func DialectFromDSN(dsn string) (dialect dbx.Dialect, driverDSN string, ok bool, err error) {
	switch {
	case dsn == "":
		return "", "", false, nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return dbx.Postgres, dsn, true, nil
	case strings.HasPrefix(dsn, "sqlite://"):
		return dbx.SQLite, strings.TrimPrefix(dsn, "sqlite://"), true, nil
	case strings.HasPrefix(dsn, "sqlite:"):
		return dbx.SQLite, strings.TrimPrefix(dsn, "sqlite:"), true, nil
	case strings.HasPrefix(dsn, "file:"):
		return dbx.SQLite, dsn, true, nil
	}
	return "", "", false, fmt.Errorf("unsupported database url scheme: %q", dsn)
}

var driverNames = map[dbx.Dialect]string{
	dbx.Postgres: "pgx",
	dbx.SQLite:   "sqlite",
}

// sqlOpen is a seam for tests.
var sqlOpen = sql.Open

// Open returns the manager for dsn, or a file manager over dataFile when dsn
// is empty. Migrations are applied before returning and log through log.
func Open(ctx context.Context, dsn, dataFile string, log logging.Logger) (RepositoryManager, error) {
	dialect, driverDSN, ok, err := DialectFromDSN(dsn)
	if err != nil {
		return nil, err
	}
	if !ok {
		return NewFileRepositoryManager(dataFile)
	}

	db, err := sqlOpen(driverNames[dialect], driverDSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dialect == dbx.SQLite {
		// One connection serializes writers and keeps :memory: databases shared.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	m, err := NewSQLRepositoryManager(db, dialect, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := m.RunMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return m, nil
}
