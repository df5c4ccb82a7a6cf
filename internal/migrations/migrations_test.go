package migrations

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-query/internal/logging"
)

func newDB(t *testing.T) *sql.DB {
	t.Helper()
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSourceEmbedsEveryDialect(t *testing.T) {
	for _, driver := range []string{"mysql", "postgres"} {
		t.Run(driver, func(t *testing.T) {
			src, err := Source(driver)
			require.NoError(t, err)
			names, err := fs.Glob(src, "*.sql")
			require.NoError(t, err)
			assert.Contains(t, names, "00001_portfolio_schema.sql")

			body, err := fs.ReadFile(src, "00001_portfolio_schema.sql")
			require.NoError(t, err)
			assert.Contains(t, string(body), "-- +goose Up")
			assert.Contains(t, string(body), "-- +goose Down")
			assert.Contains(t, string(body), "ON DELETE SET NULL ON UPDATE CASCADE")
		})
	}
}

func TestSourceUnknownDriver(t *testing.T) {
	_, err := Source("sqlite")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported driver")
}

func TestNewValidates(t *testing.T) {
	_, err := New(nil, "mysql", "", nil)
	require.Error(t, err)

	_, err = New(newDB(t), "oracle", "", nil)
	require.Error(t, err)

	m, err := New(newDB(t), "pgx", "", nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultTable, m.table)
	assert.Equal(t, "postgres", m.dir)
	assert.Equal(t, "pgx", m.dialect)
}

func TestUpUsesDialectDirectory(t *testing.T) {
	db := newDB(t)
	orig := gooseUpContext
	t.Cleanup(func() { gooseUpContext = orig })

	var gotDir string
	gooseUpContext = func(_ context.Context, got *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		assert.Same(t, db, got)
		assert.Empty(t, opts)
		gotDir = dir
		return nil
	}

	m, err := New(db, "mysql", "schema_versions", nil)
	require.NoError(t, err)
	require.NoError(t, m.Up(context.Background()))
	assert.Equal(t, "mysql", gotDir)
}

func TestUpError(t *testing.T) {
	orig := gooseUpContext
	t.Cleanup(func() { gooseUpContext = orig })
	gooseUpContext = func(context.Context, *sql.DB, string, ...goose.OptionsFunc) error {
		return errors.New("boom")
	}

	m, err := New(newDB(t), "postgres", "", nil)
	require.NoError(t, err)
	err = m.Up(context.Background())
	require.Error(t, err)
	assert.Equal(t, "migrations: up: boom", err.Error())
}

func TestDownAndVersion(t *testing.T) {
	origDown, origVersion := gooseDownContext, gooseVersionContext
	t.Cleanup(func() {
		gooseDownContext = origDown
		gooseVersionContext = origVersion
	})

	downs := 0
	gooseDownContext = func(context.Context, *sql.DB, string, ...goose.OptionsFunc) error {
		downs++
		return nil
	}
	gooseVersionContext = func(context.Context, *sql.DB) (int64, error) {
		return 1, nil
	}

	m, err := New(newDB(t), "mysql", "", nil)
	require.NoError(t, err)
	require.NoError(t, m.Down(context.Background()))
	assert.Equal(t, 1, downs)

	version, err := m.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
}

func TestGooseLoggerWritesStructuredRecords(t *testing.T) {
	var buf bytes.Buffer
	l := gooseLogger{logger: logging.NewLogger(logging.Config{Level: "info", Format: "text", Output: &buf})}

	l.Printf("OK   %s (%s)\n", "00001_portfolio_schema.sql", "12ms")
	assert.Contains(t, buf.String(), "00001_portfolio_schema.sql")
	assert.Contains(t, buf.String(), "component=goose")
}
