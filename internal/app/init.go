package app

import (
	"context"
	"fmt"
	"log/slog"

	"portfolio-query/internal/config"
	"portfolio-query/internal/naming"
	"portfolio-query/internal/schema"
)

// Init initializes all runtime resources. It is idempotent.
func (a *App) Init(ctx context.Context) error {
	a.stateMu.Lock()
	if a.initialized {
		a.stateMu.Unlock()
		return nil
	}
	a.stateMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	cleanup := cleanupStack{}
	success := false
	defer func() {
		if !success {
			cleanup.run(context.Background(), a.logger)
		}
	}()

	if a.loggerProvider != nil {
		cleanup.push("logger provider", func(shutdownCtx context.Context) error {
			return a.loggerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	meterProvider, metrics, err := initMetrics(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry metrics: %w", err)
	}
	if meterProvider != nil {
		cleanup.push("meter provider", func(shutdownCtx context.Context) error {
			return meterProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
		if a.cfg.Observability.MetricsDump != "" {
			// Pushed after the provider so the dump runs before it shuts down.
			cleanup.push("metrics dump", func(_ context.Context) error {
				return dumpMetrics(meterProvider, a.cfg.Observability.MetricsDump)
			})
		}
	}

	tracerProvider, err := initTracing(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry tracing: %w", err)
	}
	if tracerProvider != nil {
		cleanup.push("tracer provider", func(shutdownCtx context.Context) error {
			return tracerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	registry, err := schema.Portfolio(naming.New(a.cfg.Naming, a.logger.Logger))
	if err != nil {
		return fmt.Errorf("failed to build model registry: %w", err)
	}

	state := initState{}
	if a.cfg.Engine.Backend == config.BackendMemory {
		a.logger.Info("using in-memory store", slog.Int("models", len(registry.Models())))
	} else {
		a.logger.Info("connecting to database",
			slog.String("driver", a.cfg.Database.Driver),
			slog.String("host", a.cfg.Database.Host),
			slog.Int("port", a.cfg.Database.EffectivePort()),
			slog.String("database_effective", a.effectiveDatabase),
			slog.String("database_source", a.databaseSource),
			slog.Bool("dsn_present", a.dsnPresent),
		)

		db, dbStatsReg, err := connectDB(a.cfg, a.logger)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		cleanup.push("database", func(_ context.Context) error {
			if dbStatsReg != nil {
				if err := dbStatsReg.Unregister(); err != nil {
					a.logger.Warn("failed to unregister DB stats metrics", slog.String("error", err.Error()))
				}
			}
			return db.Close()
		})

		if err := configureDatabase(ctx, a.cfg, a.logger, db, a.effectiveDatabase, a.databaseSource, a.dsnPresent); err != nil {
			return fmt.Errorf("failed to verify database connection: %w", err)
		}
		state.db = db
		state.dbStatsReg = dbStatsReg
	}

	client, err := buildClient(a.cfg, a.logger, registry, state.db, metrics)
	if err != nil {
		return fmt.Errorf("failed to initialize query engine: %w", err)
	}

	a.stateMu.Lock()
	a.meterProvider = meterProvider
	a.metrics = metrics
	a.tracerProvider = tracerProvider
	a.db = state.db
	a.dbStatsReg = state.dbStatsReg
	a.registry = registry
	a.client = client
	a.cleanup = cleanup
	a.initialized = true
	a.stateMu.Unlock()

	success = true
	return nil
}
