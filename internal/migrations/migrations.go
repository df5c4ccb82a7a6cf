// Package migrations applies the portfolio schema to MySQL or PostgreSQL
// with goose. One migration set is embedded per dialect.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"sync"

	"portfolio-query/internal/logging"

	"github.com/pressly/goose/v3"
)

//go:embed mysql/*.sql postgres/*.sql
var embedded embed.FS

// DefaultTable is the goose version table.
const DefaultTable = "goose_db_version"

// goose keeps its dialect, table and filesystem in package state.
var gooseMu sync.Mutex

// Seams for testing the goose entry points.
var (
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return goose.UpContext(ctx, db, dir, opts...)
	}
	gooseDownContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return goose.DownContext(ctx, db, dir, opts...)
	}
	gooseVersionContext = func(ctx context.Context, db *sql.DB) (int64, error) {
		return goose.GetDBVersionContext(ctx, db)
	}
)

// Source returns the migration files for driver.
func Source(driver string) (fs.FS, error) {
	dir, _, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	return fs.Sub(embedded, dir)
}

func dialectFor(driver string) (dir string, dialect string, err error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "mysql", "tidb":
		return "mysql", "mysql", nil
	case "postgres", "postgresql", "pgx":
		return "postgres", "pgx", nil
	default:
		return "", "", fmt.Errorf("migrations: unsupported driver %q", driver)
	}
}

// Migrator runs the embedded migrations against one database.
type Migrator struct {
	db      *sql.DB
	dir     string
	dialect string
	table   string
	logger  *logging.Logger
}

// New creates a Migrator for db. An empty table selects DefaultTable.
func New(db *sql.DB, driver, table string, logger *logging.Logger) (*Migrator, error) {
	if db == nil {
		return nil, fmt.Errorf("migrations: database is required")
	}
	dir, dialect, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	if table == "" {
		table = DefaultTable
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Migrator{db: db, dir: dir, dialect: dialect, table: table, logger: logger}, nil
}

// Up applies every pending migration.
func (m *Migrator) Up(ctx context.Context) error {
	return m.run(func() error {
		if err := gooseUpContext(ctx, m.db, m.dir); err != nil {
			return fmt.Errorf("migrations: up: %w", err)
		}
		return nil
	})
}

// Down rolls back the most recent migration.
func (m *Migrator) Down(ctx context.Context) error {
	return m.run(func() error {
		if err := gooseDownContext(ctx, m.db, m.dir); err != nil {
			return fmt.Errorf("migrations: down: %w", err)
		}
		return nil
	})
}

// Version returns the current schema version.
func (m *Migrator) Version(ctx context.Context) (int64, error) {
	var version int64
	err := m.run(func() error {
		v, err := gooseVersionContext(ctx, m.db)
		if err != nil {
			return fmt.Errorf("migrations: version: %w", err)
		}
		version = v
		return nil
	})
	return version, err
}

func (m *Migrator) run(fn func() error) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(embedded)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect(m.dialect); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	goose.SetTableName(m.table)
	goose.SetLogger(gooseLogger{logger: m.logger})

	m.logger.Debug("running migrations",
		slog.String("dialect", m.dialect),
		slog.String("table", m.table),
	)
	return fn()
}

// gooseLogger routes goose output through the structured logger.
type gooseLogger struct {
	logger *logging.Logger
}

func (l gooseLogger) Printf(format string, v ...any) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, v...)), slog.String("component", "goose"))
}

// Fatalf is reported as an error; the failing call returns it to the caller.
func (l gooseLogger) Fatalf(format string, v ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, v...)), slog.String("component", "goose"))
}
