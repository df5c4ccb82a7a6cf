package sqlexec

import (
	"context"
	"slices"
	"strings"

	"portfolio-query/internal/cursor"
	"portfolio-query/internal/planner"
	"portfolio-query/internal/scalars"
	"portfolio-query/internal/schema"
	"portfolio-query/internal/sqlbuild"
	"portfolio-query/internal/sqltype"
)

// read runs q and returns shaped records.
func (s *session) read(ctx context.Context, q *planner.ReadQuery) ([]planner.Row, error) {
	rows, err := s.page(ctx, q, q.Fetch.Columns())
	if err != nil {
		return nil, err
	}
	if err := s.attach(ctx, q.Fetch, rows); err != nil {
		return nil, err
	}
	out := make([]planner.Row, len(rows))
	for i, r := range rows {
		out[i] = q.Fetch.Reshape(r)
	}
	return out, nil
}

// page loads the window of q with columns. Windows SQL cannot express are
// applied in memory over every matching row.
func (s *session) page(ctx context.Context, q *planner.ReadQuery, columns []string) ([]planner.Row, error) {
	if !sqlbuild.CanPushWindow(q) {
		fields := pageColumns(q, columns)
		query, err := s.b.Select(q, fields, nil, nil)
		if err != nil {
			return nil, err
		}
		rows, err := s.load(ctx, q.Model, fields, query)
		if err != nil {
			return nil, err
		}
		return q.Page(rows), nil
	}

	var anchor planner.Row
	if q.Cursor != nil {
		query, fields, err := s.b.AnchorQuery(q)
		if err != nil {
			return nil, err
		}
		found, err := s.load(ctx, q.Model, fields, query)
		if err != nil {
			return nil, err
		}
		if len(found) == 0 {
			return []planner.Row{}, nil
		}
		anchor = found[0]
	}
	w := sqlbuild.WindowFor(q, anchor)
	query, err := s.b.Select(q, columns, w, nil)
	if err != nil {
		return nil, err
	}
	rows, err := s.load(ctx, q.Model, columns, query)
	if err != nil {
		return nil, err
	}
	if w.Backward {
		slices.Reverse(rows)
	}
	if rows == nil {
		rows = []planner.Row{}
	}
	return rows, nil
}

// pageColumns adds to columns the fields an in-memory page reads.
func pageColumns(q *planner.ReadQuery, columns []string) []string {
	need := map[string]bool{}
	for _, name := range columns {
		need[name] = true
	}
	for _, t := range q.OrderBy {
		need[t.Field] = true
	}
	for _, name := range q.Distinct {
		need[name] = true
	}
	if q.Cursor != nil {
		for _, name := range q.Cursor.Key.Fields {
			need[name] = true
		}
	}
	out := make([]string, 0, len(need))
	for _, f := range q.Model.Fields {
		if need[f.Name] {
			out = append(out, f.Name)
		}
	}
	return out
}

// attach loads the relations and counts plan asks for and stores them on
// rows. Related rows are loaded with one statement per relation and level.
func (s *session) attach(ctx context.Context, plan *planner.FetchPlan, rows []planner.Row) error {
	if len(rows) == 0 {
		return nil
	}
	for _, rf := range plan.Relations {
		if err := s.attachRelation(ctx, rf, rows); err != nil {
			return err
		}
	}
	for _, rc := range plan.Counts {
		if err := s.attachCount(ctx, rc, rows); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) attachRelation(ctx context.Context, rf *planner.RelationFetch, rows []planner.Row) error {
	rel := rf.Relation
	q := rf.Query
	keys := parentKeys(rows, rel.LocalFields)

	groups := map[string][]planner.Row{}
	if len(keys) > 0 {
		fields := pageColumns(q, mergeFields(q.Model, q.Fetch.Columns(), rel.RemoteFields))
		query, err := s.b.Select(q, fields, nil, &sqlbuild.Scope{Fields: rel.RemoteFields, Keys: keys})
		if err != nil {
			return err
		}
		related, err := s.load(ctx, q.Model, fields, query)
		if err != nil {
			return err
		}
		if err := s.attach(ctx, q.Fetch, related); err != nil {
			return err
		}
		for _, r := range related {
			if k, ok := tupleKey(r, rel.RemoteFields); ok {
				groups[k] = append(groups[k], r)
			}
		}
	}

	for _, row := range rows {
		k, ok := tupleKey(row, rel.LocalFields)
		var group []planner.Row
		if ok {
			group = slices.Clone(groups[k])
		}
		if rel.IsList() {
			row[rel.Name] = q.Page(group)
			continue
		}
		if len(group) == 0 {
			row[rel.Name] = nil
			continue
		}
		row[rel.Name] = group[0]
	}
	return nil
}

func (s *session) attachCount(ctx context.Context, rc *planner.RelationCount, rows []planner.Row) error {
	rel := rc.Relation
	keys := parentKeys(rows, rel.LocalFields)
	counts := map[string]int64{}
	if len(keys) > 0 {
		target, err := s.reg.Model(rel.Target)
		if err != nil {
			return err
		}
		query, err := s.b.RelationCounts(rel, rc.Where, keys)
		if err != nil {
			return err
		}
		width := len(rel.RemoteFields)
		err = s.query(ctx, query, width+1, func(raw []any) error {
			key, err := sqlbuild.ScanRow(target, rel.RemoteFields, raw[:width])
			if err != nil {
				return err
			}
			n, err := scalars.Coerce(sqltype.TypeInt, raw[width])
			if err != nil {
				return err
			}
			if k, ok := tupleKey(key, rel.RemoteFields); ok {
				counts[k] = n.(int64)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	for _, row := range rows {
		bucket := planner.AsRow(row[string(planner.AggCount)])
		if bucket == nil {
			bucket = planner.Row{}
			row[string(planner.AggCount)] = bucket
		}
		var n int64
		if k, ok := tupleKey(row, rel.LocalFields); ok {
			n = counts[k]
		}
		bucket[rel.Name] = n
	}
	return nil
}

// parentKeys returns the distinct complete values of fields across rows.
func parentKeys(rows []planner.Row, fields []string) [][]any {
	seen := map[string]bool{}
	var out [][]any
	for _, row := range rows {
		k, ok := tupleKey(row, fields)
		if !ok || seen[k] {
			continue
		}
		seen[k] = true
		key := make([]any, len(fields))
		for i, f := range fields {
			key[i] = row[f]
		}
		out = append(out, key)
	}
	return out
}

// tupleKey encodes the values of fields in row. ok is false when any of
// them is null.
func tupleKey(row planner.Row, fields []string) (key string, ok bool) {
	parts := make([]string, len(fields))
	for i, f := range fields {
		v := row[f]
		if v == nil {
			return "", false
		}
		parts[i] = scalars.Key(v)
	}
	return strings.Join(parts, "\x1f"), true
}

// mergeFields returns the union of a and b in m's declaration order.
func mergeFields(m *schema.Model, a, b []string) []string {
	need := map[string]bool{}
	for _, name := range a {
		need[name] = true
	}
	for _, name := range b {
		need[name] = true
	}
	out := make([]string, 0, len(need))
	for _, f := range m.Fields {
		if need[f.Name] {
			out = append(out, f.Name)
		}
	}
	return out
}

// count runs a CountOp with its optional per-field counts.
func (s *session) count(ctx context.Context, op *planner.CountOp) (*planner.Result, error) {
	var selection []planner.AggregateTerm
	if op.Selection != nil {
		selection = op.Selection.Terms()
	}
	total, flat, err := s.aggregate(ctx, op.Read, selection)
	if err != nil {
		return nil, err
	}
	res := &planner.Result{Count: total}
	if op.Selection != nil {
		res.Aggregate = flat
	}
	return res, nil
}

func (s *session) aggregateOp(ctx context.Context, op *planner.AggregateOp) (*planner.Result, error) {
	total, flat, err := s.aggregate(ctx, op.Read, op.Selection.Terms())
	if err != nil {
		return nil, err
	}
	return &planner.Result{Count: total, Aggregate: flat}, nil
}

// aggregate computes the row count and terms over the window of q.
func (s *session) aggregate(ctx context.Context, q *planner.ReadQuery, terms []planner.AggregateTerm) (int64, planner.Row, error) {
	if !sqlbuild.CanPushWindow(q) {
		rows, err := s.page(ctx, q, q.Model.ScalarFieldNames())
		if err != nil {
			return 0, nil, err
		}
		return int64(len(rows)), planner.ComputeAggregates(q.Model, rows, terms), nil
	}

	var w *sqlbuild.Window
	if q.Cursor != nil || !q.Window.IsZero() {
		var anchor planner.Row
		if q.Cursor != nil {
			query, fields, err := s.b.AnchorQuery(q)
			if err != nil {
				return 0, nil, err
			}
			found, err := s.load(ctx, q.Model, fields, query)
			if err != nil {
				return 0, nil, err
			}
			if len(found) == 0 {
				return 0, planner.ComputeAggregates(q.Model, nil, terms), nil
			}
			anchor = found[0]
		}
		w = sqlbuild.WindowFor(q, anchor)
	}

	all := append([]planner.AggregateTerm{{Func: planner.AggCount}}, terms...)
	query, err := s.b.Aggregate(q, all, w)
	if err != nil {
		return 0, nil, err
	}
	var total int64
	flat := make(planner.Row, len(terms))
	err = s.query(ctx, query, len(all), func(raw []any) error {
		n, err := scalars.Coerce(sqltype.TypeInt, raw[0])
		if err != nil {
			return err
		}
		total = n.(int64)
		for i, term := range terms {
			v, err := planner.CoerceAggregate(q.Model, term, raw[i+1])
			if err != nil {
				return err
			}
			flat[term.Key()] = v
		}
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	return total, flat, nil
}

// groupBy runs op in the database. A negative take is applied to the
// ordered groups in memory.
func (s *session) groupBy(ctx context.Context, op *planner.GroupByOp) ([]planner.Row, error) {
	terms := planner.RequiredAggregates(op)
	query, windowed, err := s.b.GroupBy(op, terms)
	if err != nil {
		return nil, err
	}
	width := len(op.By)
	var flat []planner.Row
	err = s.query(ctx, query, width+len(terms), func(raw []any) error {
		row, err := sqlbuild.ScanRow(op.Model, op.By, raw[:width])
		if err != nil {
			return err
		}
		for i, term := range terms {
			v, err := planner.CoerceAggregate(op.Model, term, raw[width+i])
			if err != nil {
				return err
			}
			row[term.Key()] = v
		}
		flat = append(flat, row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !windowed {
		flat = cursor.Slice(flat, nil, op.Window, rowValues)
	}
	return planner.ShapeGroups(op, flat), nil
}

func rowValues(r planner.Row) map[string]any { return r }
