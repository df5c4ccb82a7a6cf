package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"portfolio-query/internal/logging"
	"portfolio-query/internal/planner"
	"portfolio-query/internal/queryerr"

	"go.opentelemetry.io/otel/attribute"
)

// Query is a validated operation ready to run.
type Query struct {
	client *Client
	op     planner.Operation
}

// Operation returns the planned operation.
func (q *Query) Operation() planner.Operation {
	return q.op
}

// Exec runs the query. Writes run in their own transaction.
func (q *Query) Exec(ctx context.Context) (*Result, error) {
	return q.client.execute(ctx, q.op)
}

// Result is the outcome of one executed query.
type Result struct {
	op  planner.Operation
	raw *planner.Result
}

// Records returns the returned rows. Batch writes, count and aggregate
// return none.
func (r *Result) Records() []planner.Row {
	if r.raw.Rows == nil {
		return []planner.Row{}
	}
	return r.raw.Rows
}

// Record returns the single returned row, or nil when there is none.
func (r *Result) Record() planner.Row {
	return r.raw.First()
}

// Count returns the affected rows of a batch write or the total of a count.
func (r *Result) Count() int64 {
	return r.raw.Count
}

// Value returns the client-facing value of the result: a record or nil for
// single-row verbs, a list for findMany and groupBy, {count: n} for batch
// writes, and the nested aggregate object for count with select and
// aggregate.
func (r *Result) Value() any {
	switch op := r.op.(type) {
	case *planner.FindOp:
		if op.Single() {
			if row := r.Record(); row != nil {
				return row
			}
			return nil
		}
		return r.Records()
	case *planner.GroupByOp:
		return r.Records()
	case *planner.CreateManyOp, *planner.UpdateManyOp, *planner.DeleteManyOp:
		return map[string]any{"count": r.raw.Count}
	case *planner.CountOp:
		if op.Selection != nil {
			return op.Selection.Shape(r.raw.Aggregate)
		}
		return r.raw.Count
	case *planner.AggregateOp:
		return op.Selection.Shape(r.raw.Aggregate)
	default:
		if row := r.Record(); row != nil {
			return row
		}
		return nil
	}
}

func (r *Result) size() int64 {
	switch r.op.(type) {
	case *planner.CreateManyOp, *planner.UpdateManyOp, *planner.DeleteManyOp, *planner.CountOp:
		return r.raw.Count
	case *planner.AggregateOp:
		return 1
	default:
		return int64(len(r.raw.Rows))
	}
}

func (c *Client) execute(ctx context.Context, op planner.Operation) (*Result, error) {
	model, verb := op.ModelName(), string(op.Verb())
	logger := c.loggerFor(ctx).WithFields(slog.String("model", model), slog.String("operation", verb))
	ctx = logging.WithLogger(ctx, logger)

	ctx, span := startEngineSpan(ctx, "engine."+verb,
		attribute.String("portfolioq.model", model),
		attribute.String("portfolioq.operation", verb),
	)
	defer span.End()

	c.metrics.IncrementActiveOperations(ctx)
	start := time.Now()
	raw, err := c.exec.Execute(ctx, op)
	elapsed := time.Since(start)
	c.metrics.DecrementActiveOperations(ctx)

	var res *Result
	var rows int64
	if err == nil {
		if raw == nil {
			raw = &planner.Result{}
		}
		res = &Result{op: op, raw: raw}
		rows = res.size()
		span.SetAttributes(attribute.Int64("portfolioq.rows", rows))
	}
	outcome := outcomeOf(err)
	c.metrics.RecordOperation(ctx, model, verb, outcome, elapsed, rows)
	finishEngineSpan(span, err, outcome)

	if err != nil {
		logFailure(logger, "query failed", err, slog.Duration("duration", elapsed))
		return nil, err
	}
	logger.Debug("query executed", slog.Duration("duration", elapsed), slog.Int64("rows", rows))
	return res, nil
}

// Transaction runs queries in order as one all-or-nothing batch and returns
// their results in the same order.
func (c *Client) Transaction(ctx context.Context, queries ...*Query) ([]*Result, error) {
	if len(queries) == 0 {
		return nil, nil
	}
	ops := make([]planner.Operation, len(queries))
	for i, q := range queries {
		if q == nil || q.client != c {
			return nil, fmt.Errorf("engine: query %d was not prepared by this client", i)
		}
		ops[i] = q.op
	}

	logger := c.loggerFor(ctx).WithFields(slog.Int("operations", len(ops)))
	ctx = logging.WithLogger(ctx, logger)
	ctx, span := startEngineSpan(ctx, "engine.transaction",
		attribute.Int("portfolioq.transaction.size", len(ops)),
	)
	defer span.End()

	c.metrics.IncrementActiveOperations(ctx)
	start := time.Now()
	raw, err := c.exec.ExecuteBatch(ctx, ops)
	elapsed := time.Since(start)
	c.metrics.DecrementActiveOperations(ctx)

	outcome := outcomeOf(err)
	c.metrics.RecordTransaction(ctx, len(ops), outcome)
	finishEngineSpan(span, err, outcome)
	if err != nil {
		logFailure(logger, "transaction failed", err, slog.Duration("duration", elapsed))
		return nil, err
	}
	if len(raw) != len(ops) {
		return nil, fmt.Errorf("engine: executor returned %d results for %d operations", len(raw), len(ops))
	}

	results := make([]*Result, len(ops))
	for i, op := range ops {
		r := raw[i]
		if r == nil {
			r = &planner.Result{}
		}
		results[i] = &Result{op: op, raw: r}
	}
	logger.Debug("transaction committed", slog.Duration("duration", elapsed))
	return results, nil
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	if kind := queryerr.KindOf(err); kind != queryerr.KindUnknown {
		return kind.String()
	}
	return "error"
}

// logFailure logs constraint, not-found and cancellation failures at warn
// and everything else at error.
func logFailure(logger *logging.Logger, msg string, err error, attrs ...any) {
	args := append([]any{slog.String("error", err.Error())}, attrs...)
	if outcomeOf(err) == "error" {
		logger.Error(msg, args...)
		return
	}
	logger.Warn(msg, args...)
}
