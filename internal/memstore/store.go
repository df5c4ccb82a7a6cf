// Package memstore is an in-memory planner.Executor. It enforces the same
// constraints the SQL schema does: unique keys, foreign keys, required
// fields and referential actions on delete.
//
// Every write runs against a copy-on-write snapshot of the tables that is
// swapped in only when the whole operation (or batch) succeeded, so a failed
// write leaves no partial state behind.
package memstore

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"portfolio-query/internal/logging"
	"portfolio-query/internal/planner"
	"portfolio-query/internal/schema"
)

// Store holds rows for every model of a registry.
type Store struct {
	reg *schema.Registry

	mu     sync.RWMutex
	tables tables
}

type tables map[string][]planner.Row

// clone copies the table index and row slices. Rows themselves are shared
// and must be replaced, never mutated, by writers.
func (t tables) clone() tables {
	out := make(tables, len(t))
	for name, rows := range t {
		out[name] = slices.Clone(rows)
	}
	return out
}

// New creates an empty store for reg.
func New(reg *schema.Registry) *Store {
	t := make(tables)
	for _, m := range reg.Models() {
		t[m.Name] = nil
	}
	return &Store{reg: reg, tables: t}
}

// Rows returns a copy of the stored rows of model in insertion order.
func (s *Store) Rows(model string) ([]planner.Row, error) {
	m, err := s.reg.Model(model)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]planner.Row, len(s.tables[m.Name]))
	for i, r := range s.tables[m.Name] {
		out[i] = copyRow(r)
	}
	return out, nil
}

// Execute runs one operation.
func (s *Store) Execute(ctx context.Context, op planner.Operation) (*planner.Result, error) {
	if !op.Verb().IsWrite() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.mu.RLock()
		defer s.mu.RUnlock()
		tx := &txn{reg: s.reg, tables: s.tables}
		return tx.run(op)
	}
	results, err := s.ExecuteBatch(ctx, []planner.Operation{op})
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// ExecuteBatch runs ops in order against one snapshot and commits only if
// every operation succeeded and ctx is still live.
func (s *Store) ExecuteBatch(ctx context.Context, ops []planner.Operation) ([]*planner.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &txn{reg: s.reg, tables: s.tables.clone()}
	results := make([]*planner.Result, 0, len(ops))
	for i, op := range ops {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := tx.run(op)
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
	s.tables = tx.tables
	logging.FromContext(ctx).Debug("memstore commit",
		slog.Int("operations", len(ops)),
		slog.Int("inserted", tx.inserted),
		slog.Int("updated", tx.updated),
		slog.Int("deleted", tx.deleted),
	)
	return results, nil
}

func copyRow(r planner.Row) planner.Row {
	out := make(planner.Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
