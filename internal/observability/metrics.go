package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// EngineMetrics holds the instruments recorded around query executions.
type EngineMetrics struct {
	operationDuration metric.Float64Histogram
	operationCounter  metric.Int64Counter
	activeOperations  metric.Int64UpDownCounter
	rowsReturned      metric.Int64Histogram
	validationErrors  metric.Int64Counter
	batchSize         metric.Int64Histogram
}

// InitEngineMetrics creates the engine instruments on the global meter provider.
func InitEngineMetrics() (*EngineMetrics, error) {
	meter := otel.Meter("portfolio-query")

	operationDuration, err := meter.Float64Histogram(
		"portfolioq.operation.duration",
		metric.WithDescription("Duration of executed operations in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create operation duration histogram: %w", err)
	}

	operationCounter, err := meter.Int64Counter(
		"portfolioq.operations.total",
		metric.WithDescription("Total number of executed operations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create operation counter: %w", err)
	}

	activeOperations, err := meter.Int64UpDownCounter(
		"portfolioq.operations.active",
		metric.WithDescription("Number of operations currently executing"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active operations counter: %w", err)
	}

	rowsReturned, err := meter.Int64Histogram(
		"portfolioq.rows.returned",
		metric.WithDescription("Number of records returned or affected per operation"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rows returned histogram: %w", err)
	}

	validationErrors, err := meter.Int64Counter(
		"portfolioq.validation.errors",
		metric.WithDescription("Queries rejected before execution, by error kind"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation error counter: %w", err)
	}

	batchSize, err := meter.Int64Histogram(
		"portfolioq.transaction.size",
		metric.WithDescription("Number of operations submitted in one transaction"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction size histogram: %w", err)
	}

	return &EngineMetrics{
		operationDuration: operationDuration,
		operationCounter:  operationCounter,
		activeOperations:  activeOperations,
		rowsReturned:      rowsReturned,
		validationErrors:  validationErrors,
		batchSize:         batchSize,
	}, nil
}

// RecordOperation records one execution with its duration and outcome.
// outcome is "success" or an error kind.
func (m *EngineMetrics) RecordOperation(ctx context.Context, model, operation, outcome string, duration time.Duration, rows int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	)
	m.operationDuration.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	m.operationCounter.Add(ctx, 1, attrs)
	if outcome == "success" {
		m.rowsReturned.Record(ctx, rows, metric.WithAttributes(
			attribute.String("model", model),
			attribute.String("operation", operation),
		))
	}
}

// RecordValidationError counts a query rejected while planning.
func (m *EngineMetrics) RecordValidationError(ctx context.Context, model, operation, kind string) {
	if m == nil {
		return
	}
	m.validationErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("operation", operation),
		attribute.String("kind", kind),
	))
}

// RecordTransaction records the size of a submitted transaction.
func (m *EngineMetrics) RecordTransaction(ctx context.Context, size int, outcome string) {
	if m == nil {
		return
	}
	m.batchSize.Record(ctx, int64(size), metric.WithAttributes(attribute.String("outcome", outcome)))
}

// IncrementActiveOperations increments the active operations counter
func (m *EngineMetrics) IncrementActiveOperations(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeOperations.Add(ctx, 1)
}

// DecrementActiveOperations decrements the active operations counter
func (m *EngineMetrics) DecrementActiveOperations(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeOperations.Add(ctx, -1)
}

// InitMetrics initializes the engine metrics and logs once they are ready.
func InitMetrics(logger *slog.Logger) (*EngineMetrics, error) {
	metrics, err := InitEngineMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize engine metrics: %w", err)
	}

	logger.Debug("engine metrics initialized")
	return metrics, nil
}
