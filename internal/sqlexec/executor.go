// Package sqlexec runs planned operations against MySQL or PostgreSQL.
//
// Reads run directly on the pool. Writes, and every operation of a batch,
// run inside one read-committed transaction that is committed only when all
// of them succeed.
package sqlexec

import (
	"context"
	"fmt"
	"log/slog"

	"portfolio-query/internal/dbexec"
	"portfolio-query/internal/logging"
	"portfolio-query/internal/planner"
	"portfolio-query/internal/schema"
	"portfolio-query/internal/sqlbuild"
)

// Executor implements planner.Executor over a database.
type Executor struct {
	reg   *schema.Registry
	db    dbexec.QueryExecutor
	build *sqlbuild.Builder
}

// New creates an executor for reg running statements on db in dialect.
func New(reg *schema.Registry, db dbexec.QueryExecutor, dialect sqlbuild.Dialect) *Executor {
	return &Executor{reg: reg, db: db, build: sqlbuild.NewBuilder(reg, dialect)}
}

// Execute runs one operation. Writes run in their own transaction.
func (e *Executor) Execute(ctx context.Context, op planner.Operation) (*planner.Result, error) {
	if op.Verb().IsWrite() {
		results, err := e.ExecuteBatch(ctx, []planner.Operation{op})
		if err != nil {
			return nil, err
		}
		return results[0], nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := &session{reg: e.reg, q: e.db, b: e.build}
	return s.run(ctx, op)
}

// ExecuteBatch runs ops in order inside one transaction.
func (e *Executor) ExecuteBatch(ctx context.Context, ops []planner.Operation) (results []*planner.Result, err error) {
	tx, err := e.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logging.FromContext(ctx).Warn("rollback failed", slog.String("error", rbErr.Error()))
			}
		}
	}()

	s := &session{reg: e.reg, q: tx, b: e.build}
	results = make([]*planner.Result, 0, len(ops))
	for i, op := range ops {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := s.run(ctx, op)
		if err != nil {
			if len(ops) > 1 {
				return nil, fmt.Errorf("operation %d (%s %s): %w", i, op.ModelName(), op.Verb(), err)
			}
			return nil, err
		}
		results = append(results, res)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	logging.FromContext(ctx).Debug("sql commit",
		slog.Int("operations", len(ops)),
		slog.Int("statements", s.statements),
	)
	return results, nil
}

// session runs operations over one Queryer: the pool for plain reads, a
// transaction otherwise.
type session struct {
	reg *schema.Registry
	q   dbexec.Queryer
	b   *sqlbuild.Builder

	statements int
}

func (s *session) run(ctx context.Context, op planner.Operation) (*planner.Result, error) {
	switch o := op.(type) {
	case *planner.FindOp:
		rows, err := s.read(ctx, o.Read)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 && o.Verb().ThrowsOnEmpty() {
			return nil, o.NotFound()
		}
		return &planner.Result{Rows: rows, Count: int64(len(rows))}, nil
	case *planner.CountOp:
		return s.count(ctx, o)
	case *planner.AggregateOp:
		return s.aggregateOp(ctx, o)
	case *planner.GroupByOp:
		rows, err := s.groupBy(ctx, o)
		if err != nil {
			return nil, err
		}
		return &planner.Result{Rows: rows, Count: int64(len(rows))}, nil
	case *planner.CreateOp:
		row, err := s.create(ctx, o)
		if err != nil {
			return nil, err
		}
		return s.single(ctx, o.Fetch, row)
	case *planner.CreateManyOp:
		n, err := s.createMany(ctx, o)
		if err != nil {
			return nil, err
		}
		return &planner.Result{Count: n}, nil
	case *planner.UpdateOp:
		row, err := s.update(ctx, o, "update")
		if err != nil {
			return nil, err
		}
		return s.single(ctx, o.Fetch, row)
	case *planner.UpdateManyOp:
		n, err := s.updateMany(ctx, o)
		if err != nil {
			return nil, err
		}
		return &planner.Result{Count: n}, nil
	case *planner.UpsertOp:
		row, err := s.upsert(ctx, o)
		if err != nil {
			return nil, err
		}
		return s.single(ctx, o.Fetch, row)
	case *planner.DeleteOp:
		return s.deleteOne(ctx, o)
	case *planner.DeleteManyOp:
		n, err := s.deleteMany(ctx, o)
		if err != nil {
			return nil, err
		}
		return &planner.Result{Count: n}, nil
	default:
		return nil, fmt.Errorf("sqlexec: unsupported operation %T", op)
	}
}

// query runs a statement and hands every result row to scan as driver values.
func (s *session) query(ctx context.Context, q sqlbuild.SQLQuery, width int, scan func(raw []any) error) error {
	s.statements++
	rows, err := s.q.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		raw := make([]any, width)
		dest := make([]any, width)
		for i := range raw {
			dest[i] = &raw[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return err
		}
		if err := scan(raw); err != nil {
			return err
		}
	}
	return rows.Err()
}

// load runs q and scans fields of m from every row.
func (s *session) load(ctx context.Context, m *schema.Model, fields []string, q sqlbuild.SQLQuery) ([]planner.Row, error) {
	var out []planner.Row
	err := s.query(ctx, q, len(fields), func(raw []any) error {
		row, err := sqlbuild.ScanRow(m, fields, raw)
		if err != nil {
			return err
		}
		out = append(out, row)
		return nil
	})
	return out, err
}

// exec runs a write statement and maps integrity errors onto m.
func (s *session) exec(ctx context.Context, m *schema.Model, stmt statement, q sqlbuild.SQLQuery) error {
	s.statements++
	if _, err := s.q.ExecContext(ctx, q.SQL, q.Args...); err != nil {
		return normalizeError(err, m.Name, stmt)
	}
	return nil
}
