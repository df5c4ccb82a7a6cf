package memstore

import (
	"fmt"

	"portfolio-query/internal/cursor"
	"portfolio-query/internal/planner"
	"portfolio-query/internal/queryerr"
	"portfolio-query/internal/scalars"
	"portfolio-query/internal/schema"
)

// txn applies operations to one set of tables. Reads use the live tables
// directly; writes get a private clone.
type txn struct {
	reg    *schema.Registry
	tables tables

	inserted, updated, deleted int
}

// Related implements planner.RelationLoader over the transaction's tables.
func (tx *txn) Related(rel schema.Relation, row planner.Row) []planner.Row {
	local := make([]any, len(rel.LocalFields))
	for i, f := range rel.LocalFields {
		if row[f] == nil {
			return nil
		}
		local[i] = row[f]
	}
	var out []planner.Row
	for _, candidate := range tx.tables[rel.Target] {
		if keyEquals(candidate, rel.RemoteFields, local) {
			out = append(out, candidate)
		}
	}
	return out
}

func keyEquals(row planner.Row, fields []string, values []any) bool {
	for i, f := range fields {
		if !scalars.Equal(row[f], values[i]) {
			return false
		}
	}
	return true
}

func (tx *txn) run(op planner.Operation) (*planner.Result, error) {
	switch o := op.(type) {
	case *planner.FindOp:
		rows := tx.read(o.Read)
		if len(rows) == 0 && o.Verb().ThrowsOnEmpty() {
			return nil, o.NotFound()
		}
		return &planner.Result{Rows: rows, Count: int64(len(rows))}, nil
	case *planner.CountOp:
		rows := o.Read.Apply(tx.tables[o.Read.Model.Name], tx)
		res := &planner.Result{Count: int64(len(rows))}
		if o.Selection != nil {
			res.Aggregate = planner.ComputeAggregates(o.Read.Model, rows, o.Selection.Terms())
		}
		return res, nil
	case *planner.AggregateOp:
		rows := o.Read.Apply(tx.tables[o.Read.Model.Name], tx)
		return &planner.Result{
			Count:     int64(len(rows)),
			Aggregate: planner.ComputeAggregates(o.Read.Model, rows, o.Selection.Terms()),
		}, nil
	case *planner.GroupByOp:
		rows := planner.EvaluateGroupBy(o, tx.tables[o.Model.Name], tx)
		return &planner.Result{Rows: rows, Count: int64(len(rows))}, nil
	case *planner.CreateOp:
		row, err := tx.create(o)
		if err != nil {
			return nil, err
		}
		return tx.single(o.Fetch, row), nil
	case *planner.CreateManyOp:
		n, err := tx.createMany(o)
		if err != nil {
			return nil, err
		}
		return &planner.Result{Count: n}, nil
	case *planner.UpdateOp:
		row, err := tx.update(o, "update")
		if err != nil {
			return nil, err
		}
		return tx.single(o.Fetch, row), nil
	case *planner.UpdateManyOp:
		n, err := tx.updateMany(o)
		if err != nil {
			return nil, err
		}
		return &planner.Result{Count: n}, nil
	case *planner.UpsertOp:
		row, err := tx.upsert(o)
		if err != nil {
			return nil, err
		}
		return tx.single(o.Fetch, row), nil
	case *planner.DeleteOp:
		return tx.deleteOne(o)
	case *planner.DeleteManyOp:
		removed, err := tx.deleteWhere(o.Model, o.Where)
		if err != nil {
			return nil, err
		}
		return &planner.Result{Count: int64(len(removed))}, nil
	default:
		return nil, fmt.Errorf("memstore: unsupported operation %T", op)
	}
}

func (tx *txn) single(plan *planner.FetchPlan, row planner.Row) *planner.Result {
	return &planner.Result{Rows: []planner.Row{plan.Reshape(tx.expand(plan, row))}, Count: 1}
}

// read runs q and returns shaped records.
func (tx *txn) read(q *planner.ReadQuery) []planner.Row {
	rows := q.Apply(tx.tables[q.Model.Name], tx)
	out := make([]planner.Row, len(rows))
	for i, r := range rows {
		out[i] = q.Fetch.Reshape(tx.expand(q.Fetch, r))
	}
	return out
}

// expand attaches the relations and counts plan asks for to a copy of row.
// Nested rows are expanded but not reshaped; Reshape handles every level.
func (tx *txn) expand(plan *planner.FetchPlan, row planner.Row) planner.Row {
	if len(plan.Relations) == 0 && len(plan.Counts) == 0 {
		return row
	}
	out := copyRow(row)
	for _, rf := range plan.Relations {
		related := tx.Related(rf.Relation, row)
		if rf.Relation.IsList() {
			page := rf.Query.Apply(related, tx)
			expanded := make([]planner.Row, len(page))
			for i, r := range page {
				expanded[i] = tx.expand(rf.Query.Fetch, r)
			}
			out[rf.Relation.Name] = expanded
			continue
		}
		if len(related) == 0 {
			out[rf.Relation.Name] = nil
			continue
		}
		out[rf.Relation.Name] = tx.expand(rf.Query.Fetch, related[0])
	}
	if len(plan.Counts) > 0 {
		counts := make(planner.Row, len(plan.Counts))
		for _, rc := range plan.Counts {
			var n int64
			for _, r := range tx.Related(rc.Relation, row) {
				if planner.Matches(rc.Where, r, tx) {
					n++
				}
			}
			counts[rc.Relation.Name] = n
		}
		out["_count"] = counts
	}
	return out
}

// find returns the index of the first row of m matching pred, or -1.
func (tx *txn) find(m *schema.Model, pred planner.Predicate) int {
	for i, r := range tx.tables[m.Name] {
		if planner.Matches(pred, r, tx) {
			return i
		}
	}
	return -1
}

func (tx *txn) lookup(model string, c *cursor.Cursor) (planner.Row, bool) {
	for _, r := range tx.tables[model] {
		if c.Matches(r) {
			return r, true
		}
	}
	return nil, false
}

func (tx *txn) create(op *planner.CreateOp) (planner.Row, error) {
	var main planner.Row
	for i, ins := range op.Inserts {
		row, err := tx.insert(ins, nil)
		if err != nil {
			return nil, err
		}
		if i == op.Main {
			main = row
		}
	}
	return main, nil
}

func (tx *txn) createMany(op *planner.CreateManyOp) (int64, error) {
	var n int64
	for _, ins := range op.Inserts {
		if _, err := tx.insert(ins, nil); err != nil {
			if op.SkipDuplicates && isUniqueViolation(err) {
				continue
			}
			return 0, err
		}
		n++
	}
	return n, nil
}

// insert resolves ins's links and parent key, checks constraints and stores
// the row. parent is the row an update's nested creates hang off.
func (tx *txn) insert(ins *planner.RowInsert, parent planner.Row) (planner.Row, error) {
	m := ins.Model
	values := copyRow(ins.Values)
	if err := tx.resolveLinks(values, ins.Links); err != nil {
		return nil, err
	}
	if ins.FromParent != nil {
		if parent == nil {
			return nil, fmt.Errorf("memstore: %s row needs a parent for %s", m.Name, ins.FromParent.Name)
		}
		for i, local := range ins.FromParent.LocalFields {
			values[local] = parent[ins.FromParent.RemoteFields[i]]
		}
	}
	if err := tx.check(m, values, -1); err != nil {
		return nil, err
	}
	tx.tables[m.Name] = append(tx.tables[m.Name], values)
	tx.inserted++
	return values, nil
}

func (tx *txn) resolveLinks(values planner.Row, links []planner.Link) error {
	for _, link := range links {
		target, ok := tx.lookup(link.Relation.Target, link.Target)
		if !ok {
			return &queryerr.NotFoundError{Model: link.Relation.Target, Operation: "connect", Key: link.Target.Values}
		}
		for i, local := range link.Relation.LocalFields {
			values[local] = target[link.Relation.RemoteFields[i]]
		}
	}
	return nil
}

func (tx *txn) update(op *planner.UpdateOp, operation string) (planner.Row, error) {
	idx := tx.find(op.Model, op.Where())
	if idx < 0 {
		return nil, &queryerr.NotFoundError{Model: op.Model.Name, Operation: operation, Key: op.Target.Values}
	}
	for _, ins := range op.Before {
		if _, err := tx.insert(ins, nil); err != nil {
			return nil, err
		}
	}
	current := tx.tables[op.Model.Name][idx]
	next, err := tx.assign(op.Model, current, op.Set)
	if err != nil {
		return nil, err
	}
	if err := tx.resolveLinks(next, op.Links); err != nil {
		return nil, err
	}
	if err := tx.check(op.Model, next, idx); err != nil {
		return nil, err
	}
	tx.replace(op.Model, idx, current, next)
	for _, ins := range op.After {
		if _, err := tx.insert(ins, next); err != nil {
			return nil, err
		}
	}
	return next, nil
}

func (tx *txn) updateMany(op *planner.UpdateManyOp) (int64, error) {
	var matched []int
	for i, r := range tx.tables[op.Model.Name] {
		if planner.Matches(op.Where, r, tx) {
			matched = append(matched, i)
		}
	}
	for _, idx := range matched {
		current := tx.tables[op.Model.Name][idx]
		next, err := tx.assign(op.Model, current, op.Set)
		if err != nil {
			return 0, err
		}
		if err := tx.check(op.Model, next, idx); err != nil {
			return 0, err
		}
		tx.replace(op.Model, idx, current, next)
	}
	return int64(len(matched)), nil
}

// assign applies set to a copy of current. Numeric operations read the
// stored value, so concurrent batches never lose increments.
func (tx *txn) assign(m *schema.Model, current planner.Row, set []planner.Assignment) (planner.Row, error) {
	next := copyRow(current)
	for _, a := range set {
		v, err := a.Apply(current[a.Field.Name])
		if err != nil {
			return nil, fmt.Errorf("update %s.%s: %w", m.Name, a.Field.Name, err)
		}
		next[a.Field.Name] = v
	}
	return next, nil
}

// replace stores next at idx. When a referenced key changes, rows pointing
// at the old key follow it.
func (tx *txn) replace(m *schema.Model, idx int, current, next planner.Row) {
	tx.tables[m.Name][idx] = next
	tx.updated++
	for _, dep := range tx.reg.Dependents(m.Name) {
		old := make([]any, len(dep.RemoteFields))
		changed := false
		for i, f := range dep.RemoteFields {
			old[i] = current[f]
			if !scalars.Equal(current[f], next[f]) {
				changed = true
			}
		}
		if !changed {
			continue
		}
		rows := tx.tables[dep.Model]
		for i, r := range rows {
			if !keyEquals(r, dep.LocalFields, old) {
				continue
			}
			moved := copyRow(r)
			for j, local := range dep.LocalFields {
				moved[local] = next[dep.RemoteFields[j]]
			}
			rows[i] = moved
		}
	}
}

func (tx *txn) upsert(op *planner.UpsertOp) (planner.Row, error) {
	if tx.find(op.Model, op.Update.Where()) >= 0 {
		return tx.update(op.Update, "upsert")
	}
	if _, found := tx.lookup(op.Model.Name, op.Target); found {
		// The key exists but the extra filter rejected it; creating would
		// violate the key.
		return nil, &queryerr.ConstraintError{
			Constraint: queryerr.UniqueViolation,
			Model:      op.Model.Name,
			Fields:     op.Target.Key.Fields,
		}
	}
	return tx.create(op.Create)
}

func (tx *txn) deleteOne(op *planner.DeleteOp) (*planner.Result, error) {
	idx := tx.find(op.Model, op.Where())
	if idx < 0 {
		return nil, &queryerr.NotFoundError{Model: op.Model.Name, Operation: "delete", Key: op.Target.Values}
	}
	row := tx.tables[op.Model.Name][idx]
	res := tx.single(op.Fetch, row)
	if _, err := tx.deleteWhere(op.Model, op.Where()); err != nil {
		return nil, err
	}
	return res, nil
}

// deleteWhere removes the rows of m matching pred and applies each
// dependent relation's referential action.
func (tx *txn) deleteWhere(m *schema.Model, pred planner.Predicate) ([]planner.Row, error) {
	return tx.remove(m, func(r planner.Row) bool { return planner.Matches(pred, r, tx) })
}

func (tx *txn) remove(m *schema.Model, match func(planner.Row) bool) ([]planner.Row, error) {
	var kept, removed []planner.Row
	for _, r := range tx.tables[m.Name] {
		if match(r) {
			removed = append(removed, r)
		} else {
			kept = append(kept, r)
		}
	}
	if len(removed) == 0 {
		return nil, nil
	}
	tx.tables[m.Name] = kept
	tx.deleted += len(removed)

	for _, dep := range tx.reg.Dependents(m.Name) {
		owner, err := tx.reg.Model(dep.Model)
		if err != nil {
			return nil, err
		}
		refs := referencedKeys(dep, removed)
		references := func(r planner.Row) bool {
			for _, key := range refs {
				if keyEquals(r, dep.LocalFields, key) {
					return true
				}
			}
			return false
		}
		switch dep.OnDelete {
		case schema.Cascade:
			if _, err := tx.remove(owner, references); err != nil {
				return nil, err
			}
		case schema.SetNull:
			rows := tx.tables[owner.Name]
			for i, r := range rows {
				if !references(r) {
					continue
				}
				cleared := copyRow(r)
				for _, local := range dep.LocalFields {
					cleared[local] = nil
				}
				rows[i] = cleared
				tx.updated++
			}
		default:
			for _, r := range tx.tables[owner.Name] {
				if references(r) {
					return nil, &queryerr.ConstraintError{
						Constraint: queryerr.RelationViolation,
						Model:      m.Name,
						Fields:     dep.RemoteFields,
						Detail:     fmt.Sprintf("%s rows still reference it through %s", owner.Name, dep.Name),
					}
				}
			}
		}
	}
	return removed, nil
}

func referencedKeys(dep schema.Relation, removed []planner.Row) [][]any {
	out := make([][]any, 0, len(removed))
	for _, r := range removed {
		key := make([]any, len(dep.RemoteFields))
		complete := true
		for i, f := range dep.RemoteFields {
			key[i] = r[f]
			complete = complete && r[f] != nil
		}
		if complete {
			out = append(out, key)
		}
	}
	return out
}
