package sqlexec

import (
	"context"
	"fmt"

	"portfolio-query/internal/planner"
	"portfolio-query/internal/queryerr"
	"portfolio-query/internal/schema"
	"portfolio-query/internal/sqlbuild"
)

// single re-reads the written row through plan and returns it as a result.
func (s *session) single(ctx context.Context, plan *planner.FetchPlan, row planner.Row) (*planner.Result, error) {
	shaped, err := s.fetch(ctx, plan, row)
	if err != nil {
		return nil, err
	}
	return &planner.Result{Rows: []planner.Row{shaped}, Count: 1}, nil
}

// fetch loads the row identified by row's identity key through plan.
func (s *session) fetch(ctx context.Context, plan *planner.FetchPlan, row planner.Row) (planner.Row, error) {
	m := plan.Model
	q := &planner.ReadQuery{
		Model: m,
		Where: planner.KeyPredicate(m, m.IdentityKey().Fields, row),
		Fetch: plan,
	}
	rows, err := s.read(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sqlexec: %s row not readable after write", m.Name)
	}
	return rows[0], nil
}

// lookup returns the first row of m matching pred with every scalar field.
func (s *session) lookup(ctx context.Context, m *schema.Model, pred planner.Predicate, lock bool) (planner.Row, bool, error) {
	rows, err := s.keys(ctx, m, pred, m.ScalarFieldNames(), lock)
	if err != nil || len(rows) == 0 {
		return nil, false, err
	}
	return rows[0], true, nil
}

// keys loads fields of every row of m matching pred.
func (s *session) keys(ctx context.Context, m *schema.Model, pred planner.Predicate, fields []string, lock bool) ([]planner.Row, error) {
	query, err := s.b.SelectWhere(m, pred, fields, lock)
	if err != nil {
		return nil, err
	}
	return s.load(ctx, m, fields, query)
}

// identityScope addresses rows by their identity key.
func identityScope(m *schema.Model, rows []planner.Row) *sqlbuild.Scope {
	fields := m.IdentityKey().Fields
	scope := &sqlbuild.Scope{Fields: fields, Keys: make([][]any, len(rows))}
	for i, r := range rows {
		key := make([]any, len(fields))
		for j, f := range fields {
			key[j] = r[f]
		}
		scope.Keys[i] = key
	}
	return scope
}

func (s *session) create(ctx context.Context, op *planner.CreateOp) (planner.Row, error) {
	var main planner.Row
	for i, ins := range op.Inserts {
		row, err := s.insert(ctx, ins, nil)
		if err != nil {
			return nil, err
		}
		if i == op.Main {
			main = row
		}
	}
	return main, nil
}

func (s *session) createMany(ctx context.Context, op *planner.CreateManyOp) (int64, error) {
	var n int64
	for _, ins := range op.Inserts {
		if op.SkipDuplicates {
			// A failed INSERT aborts a PostgreSQL transaction, so duplicates
			// are detected before writing.
			dup, err := s.duplicate(ctx, ins)
			if err != nil {
				return 0, err
			}
			if dup {
				continue
			}
		}
		if _, err := s.insert(ctx, ins, nil); err != nil {
			return 0, err
		}
		n++
	}
	return n, nil
}

// duplicate reports whether a stored row shares a unique key with ins.
func (s *session) duplicate(ctx context.Context, ins *planner.RowInsert) (bool, error) {
	m := ins.Model
	keys, err := s.reg.UniqueKeysOf(m.Name)
	if err != nil {
		return false, err
	}
	var preds []planner.Predicate
	for _, key := range keys {
		complete := true
		for _, f := range key.Fields {
			complete = complete && ins.Values[f] != nil
		}
		if complete {
			preds = append(preds, planner.KeyPredicate(m, key.Fields, ins.Values))
		}
	}
	if len(preds) == 0 {
		return false, nil
	}
	rows, err := s.keys(ctx, m, &planner.Or{Children: preds}, m.IdentityKey().Fields, false)
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// insert resolves ins's links and parent key and writes the row. parent is
// the row an update's nested creates hang off.
func (s *session) insert(ctx context.Context, ins *planner.RowInsert, parent planner.Row) (planner.Row, error) {
	m := ins.Model
	values := make(planner.Row, len(ins.Values))
	for k, v := range ins.Values {
		values[k] = v
	}
	if err := s.resolveLinks(ctx, values, ins.Links); err != nil {
		return nil, err
	}
	if ins.FromParent != nil {
		if parent == nil {
			return nil, fmt.Errorf("sqlexec: %s row needs a parent for %s", m.Name, ins.FromParent.Name)
		}
		for i, local := range ins.FromParent.LocalFields {
			values[local] = parent[ins.FromParent.RemoteFields[i]]
		}
	}
	query, err := s.b.Insert(m, values)
	if err != nil {
		return nil, err
	}
	if err := s.exec(ctx, m, stmtInsert, query); err != nil {
		return nil, err
	}
	return values, nil
}

// resolveLinks copies the referenced keys of link targets into values.
func (s *session) resolveLinks(ctx context.Context, values planner.Row, links []planner.Link) error {
	for _, link := range links {
		target, err := s.reg.Model(link.Relation.Target)
		if err != nil {
			return err
		}
		pred := planner.KeyPredicate(target, link.Target.Key.Fields, link.Target.Values)
		rows, err := s.keys(ctx, target, pred, link.Relation.RemoteFields, false)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return &queryerr.NotFoundError{Model: target.Name, Operation: "connect", Key: link.Target.Values}
		}
		for i, local := range link.Relation.LocalFields {
			values[local] = rows[0][link.Relation.RemoteFields[i]]
		}
	}
	return nil
}

func (s *session) update(ctx context.Context, op *planner.UpdateOp, operation string) (planner.Row, error) {
	m := op.Model
	current, found, err := s.lookup(ctx, m, op.Where(), true)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &queryerr.NotFoundError{Model: m.Name, Operation: operation, Key: op.Target.Values}
	}
	for _, ins := range op.Before {
		if _, err := s.insert(ctx, ins, nil); err != nil {
			return nil, err
		}
	}

	set := append([]planner.Assignment(nil), op.Set...)
	if len(op.Links) > 0 {
		linked := planner.Row{}
		if err := s.resolveLinks(ctx, linked, op.Links); err != nil {
			return nil, err
		}
		for _, f := range m.Fields {
			if v, ok := linked[f.Name]; ok {
				set = append(set, planner.Assignment{Field: f, Op: planner.AssignSet, Value: v})
			}
		}
	}
	if len(set) > 0 {
		query, err := s.b.Update(m, set, identityScope(m, []planner.Row{current}))
		if err != nil {
			return nil, err
		}
		if err := s.exec(ctx, m, stmtUpdate, query); err != nil {
			return nil, err
		}
	}

	// Identity fields may be reassigned; the new row is found by its new key.
	identity := make(planner.Row, len(m.IdentityKey().Fields))
	for _, f := range m.IdentityKey().Fields {
		identity[f] = current[f]
	}
	for _, a := range set {
		if _, ok := identity[a.Field.Name]; ok && a.Op == planner.AssignSet {
			identity[a.Field.Name] = a.Value
		}
	}
	next, found, err := s.lookup(ctx, m, planner.KeyPredicate(m, m.IdentityKey().Fields, identity), false)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("sqlexec: %s row not readable after update", m.Name)
	}
	for _, ins := range op.After {
		if _, err := s.insert(ctx, ins, next); err != nil {
			return nil, err
		}
	}
	return next, nil
}

func (s *session) updateMany(ctx context.Context, op *planner.UpdateManyOp) (int64, error) {
	rows, err := s.keys(ctx, op.Model, op.Where, op.Model.IdentityKey().Fields, true)
	if err != nil || len(rows) == 0 {
		return 0, err
	}
	query, err := s.b.Update(op.Model, op.Set, identityScope(op.Model, rows))
	if err != nil {
		return 0, err
	}
	if err := s.exec(ctx, op.Model, stmtUpdate, query); err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

func (s *session) upsert(ctx context.Context, op *planner.UpsertOp) (planner.Row, error) {
	m := op.Model
	_, found, err := s.lookup(ctx, m, op.Update.Where(), true)
	if err != nil {
		return nil, err
	}
	if found {
		return s.update(ctx, op.Update, "upsert")
	}
	key := planner.KeyPredicate(m, op.Target.Key.Fields, op.Target.Values)
	if _, exists, err := s.lookup(ctx, m, key, false); err != nil {
		return nil, err
	} else if exists {
		return nil, &queryerr.ConstraintError{
			Constraint: queryerr.UniqueViolation,
			Model:      m.Name,
			Fields:     op.Target.Key.Fields,
		}
	}
	return s.create(ctx, op.Create)
}

func (s *session) deleteOne(ctx context.Context, op *planner.DeleteOp) (*planner.Result, error) {
	m := op.Model
	current, found, err := s.lookup(ctx, m, op.Where(), true)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &queryerr.NotFoundError{Model: m.Name, Operation: "delete", Key: op.Target.Values}
	}
	res, err := s.single(ctx, op.Fetch, current)
	if err != nil {
		return nil, err
	}
	query, err := s.b.Delete(m, identityScope(m, []planner.Row{current}))
	if err != nil {
		return nil, err
	}
	if err := s.exec(ctx, m, stmtDelete, query); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *session) deleteMany(ctx context.Context, op *planner.DeleteManyOp) (int64, error) {
	rows, err := s.keys(ctx, op.Model, op.Where, op.Model.IdentityKey().Fields, true)
	if err != nil || len(rows) == 0 {
		return 0, err
	}
	query, err := s.b.Delete(op.Model, identityScope(op.Model, rows))
	if err != nil {
		return 0, err
	}
	if err := s.exec(ctx, op.Model, stmtDelete, query); err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}
