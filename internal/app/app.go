// Package app wires configuration, observability, the database and the query
// engine into one lifecycle used by the command line.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"portfolio-query/internal/config"
	"portfolio-query/internal/engine"
	"portfolio-query/internal/logging"
	"portfolio-query/internal/migrations"
	"portfolio-query/internal/observability"
	"portfolio-query/internal/schema"
	"portfolio-query/internal/schemacheck"
)

// App owns the runtime resources of one portfolioq invocation.
type App struct {
	cfg    *config.Config
	logger *logging.Logger

	loggerProvider *observability.LoggerProvider

	effectiveDatabase string
	databaseSource    string
	dsnPresent        bool

	meterProvider  *observability.MeterProvider
	metrics        *observability.EngineMetrics
	tracerProvider *observability.TracerProvider

	db         *sql.DB
	dbStatsReg interface{ Unregister() error }

	registry *schema.Registry
	client   *engine.Client

	cleanup cleanupStack

	stateMu     sync.Mutex
	initialized bool

	shutdownOnce sync.Once
}

// New creates an App lifecycle wrapper.
func New(cfg *config.Config, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	a := &App{cfg: cfg, logger: logger}
	if cfg.Engine.Backend != config.BackendMemory {
		effectiveDatabase, databaseSource, err := cfg.Database.EffectiveDatabaseName()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve effective database configuration: %w", err)
		}
		a.effectiveDatabase = effectiveDatabase
		a.databaseSource = databaseSource
		a.dsnPresent = strings.TrimSpace(cfg.Database.ConnectionString) != ""
	}
	return a, nil
}

// AttachLoggerProvider registers an optional logger provider for shutdown cleanup.
func (a *App) AttachLoggerProvider(provider *observability.LoggerProvider) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.loggerProvider = provider
}

// Client returns the engine client. It is nil before Init.
func (a *App) Client() *engine.Client {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.client
}

// Registry returns the model registry. It is nil before Init.
func (a *App) Registry() *schema.Registry {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.registry
}

func (a *App) database() (*sql.DB, error) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	if !a.initialized {
		return nil, fmt.Errorf("app is not initialized")
	}
	if a.db == nil {
		return nil, fmt.Errorf("engine backend %q has no database; use the %s backend", a.cfg.Engine.Backend, config.BackendSQL)
	}
	return a.db, nil
}

// Migrator returns a migrator over the configured database.
func (a *App) Migrator() (*migrations.Migrator, error) {
	db, err := a.database()
	if err != nil {
		return nil, err
	}
	return migrations.New(db, a.cfg.Database.Driver, a.cfg.Database.MigrationsTable, a.logger)
}

// CheckSchema compares the live database with the model registry.
func (a *App) CheckSchema(ctx context.Context) (*schemacheck.Report, error) {
	db, err := a.database()
	if err != nil {
		return nil, err
	}
	tables, err := schemacheck.Introspect(ctx, db, a.cfg.Database.Driver, a.effectiveDatabase)
	if err != nil {
		return nil, err
	}
	return schemacheck.Compare(a.Registry(), tables), nil
}
