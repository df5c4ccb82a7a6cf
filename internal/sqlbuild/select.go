package sqlbuild

import (
	"fmt"
	"strings"

	"portfolio-query/internal/planner"
	"portfolio-query/internal/schema"

	sq "github.com/Masterminds/squirrel"
)

const rootAlias = "t0"

// Builder renders planner operations for one dialect.
type Builder struct {
	reg     *schema.Registry
	dialect Dialect
}

// NewBuilder returns a builder over reg.
func NewBuilder(reg *schema.Registry, dialect Dialect) *Builder {
	return &Builder{reg: reg, dialect: dialect}
}

// Dialect returns the builder's dialect.
func (b *Builder) Dialect() Dialect {
	return b.dialect
}

func (b *Builder) state() *buildState {
	return &buildState{reg: b.reg, dialect: b.dialect}
}

// Window is the part of a read's take/skip/cursor window rendered into SQL.
type Window struct {
	// Anchor holds the cursor row's ordering values. Rows before it in scan
	// order are excluded.
	Anchor planner.Row
	// Backward scans in reverse order; the caller reverses the result.
	Backward bool
	Offset   int
	Limit    *int
}

// CanPushWindow reports whether q's window can be rendered into SQL.
// Distinct applies before the window and a negative skip reaches before
// the cursor, so both are windowed in memory.
func CanPushWindow(q *planner.ReadQuery) bool {
	return len(q.Distinct) == 0 && q.Window.Skip >= 0
}

// WindowFor returns the SQL window of q. anchor is the cursor row, or nil
// when q has no cursor.
func WindowFor(q *planner.ReadQuery, anchor planner.Row) *Window {
	w := &Window{Anchor: anchor, Offset: q.Window.Skip}
	if take := q.Window.Take; take != nil {
		limit := *take
		if limit < 0 {
			w.Backward = true
			limit = -limit
		}
		w.Limit = &limit
	}
	return w
}

// Scope restricts a read to the rows whose Fields carry one of Keys.
type Scope struct {
	Fields []string
	Keys   [][]any
}

func (b *Builder) scope(m *schema.Model, alias string, s *Scope) sq.Sqlizer {
	if len(s.Keys) == 0 {
		return sqlFalse
	}
	fields := make([]schema.Field, len(s.Fields))
	for i, name := range s.Fields {
		fields[i], _ = m.Field(name)
	}
	if len(fields) == 1 {
		marks := make([]string, len(s.Keys))
		args := make([]any, len(s.Keys))
		for i, key := range s.Keys {
			marks[i] = "?"
			args[i] = bindValue(fields[0], key[0])
		}
		return sq.Expr(b.dialect.Column(alias, fields[0].Column)+" IN ("+strings.Join(marks, ", ")+")", args...)
	}
	branches := make(sq.Or, 0, len(s.Keys))
	for _, key := range s.Keys {
		all := make(sq.And, 0, len(fields))
		for i, f := range fields {
			all = append(all, sq.Expr(b.dialect.Column(alias, f.Column)+" = ?", bindValue(f, key[i])))
		}
		branches = append(branches, all)
	}
	return branches
}

// Select renders a row query returning columns (field names of q's model).
// A nil window loads every matching row in order.
func (b *Builder) Select(q *planner.ReadQuery, columns []string, w *Window, scope *Scope) (SQLQuery, error) {
	exprs, err := b.columnList(q.Model, rootAlias, columns)
	if err != nil {
		return SQLQuery{}, err
	}
	builder := sq.Select(exprs...).From(b.dialect.Table(q.Model.Table, rootAlias))
	if builder, err = b.filter(builder, q.Model, q.Where); err != nil {
		return SQLQuery{}, err
	}
	if scope != nil {
		builder = builder.Where(b.scope(q.Model, rootAlias, scope))
	}

	terms := q.OrderBy
	if w != nil && w.Backward {
		terms = reverseOrder(terms)
	}
	if w != nil && w.Anchor != nil {
		seek, err := b.seek(q.Model, rootAlias, terms, w.Anchor)
		if err != nil {
			return SQLQuery{}, err
		}
		builder = builder.Where(seek)
	}
	order, err := b.orderBy(q.Model, rootAlias, terms)
	if err != nil {
		return SQLQuery{}, err
	}
	builder = builder.OrderBy(order...)
	if w != nil {
		switch {
		case w.Limit != nil:
			builder = builder.Limit(uint64(*w.Limit))
		case w.Offset > 0 && b.dialect.offsetLimit > 0:
			builder = builder.Limit(b.dialect.offsetLimit)
		}
		if w.Offset > 0 {
			builder = builder.Offset(uint64(w.Offset))
		}
	}
	return b.dialect.Render(builder)
}

// AnchorQuery renders the lookup of q's cursor row among the rows matching
// q's filter. It returns the ordering fields it loads.
func (b *Builder) AnchorQuery(q *planner.ReadQuery) (SQLQuery, []string, error) {
	if q.Cursor == nil {
		return SQLQuery{}, nil, fmt.Errorf("%s query has no cursor", q.Model.Name)
	}
	fields := orderFields(q.OrderBy)
	for _, f := range q.Cursor.Key.Fields {
		if !containsField(fields, f) {
			fields = append(fields, f)
		}
	}
	anchor := &planner.ReadQuery{
		Model:   q.Model,
		Where:   planner.AllOf(q.Where, planner.KeyPredicate(q.Model, q.Cursor.Key.Fields, q.Cursor.Values)),
		OrderBy: q.OrderBy,
	}
	one := 1
	query, err := b.Select(anchor, fields, &Window{Limit: &one}, nil)
	return query, fields, err
}

// SelectWhere renders a plain lookup of columns over the rows of m matching
// pred. lock adds FOR UPDATE.
func (b *Builder) SelectWhere(m *schema.Model, pred planner.Predicate, columns []string, lock bool) (SQLQuery, error) {
	exprs, err := b.columnList(m, rootAlias, columns)
	if err != nil {
		return SQLQuery{}, err
	}
	builder := sq.Select(exprs...).From(b.dialect.Table(m.Table, rootAlias))
	if builder, err = b.filter(builder, m, pred); err != nil {
		return SQLQuery{}, err
	}
	if lock {
		builder = builder.Suffix("FOR UPDATE")
	}
	return b.dialect.Render(builder)
}

// RelationCounts renders per-parent counts of rel's target rows matching
// where, grouped by the target's foreign key.
func (b *Builder) RelationCounts(rel schema.Relation, where planner.Predicate, keys [][]any) (SQLQuery, error) {
	target, err := b.reg.Model(rel.Target)
	if err != nil {
		return SQLQuery{}, err
	}
	group := make([]string, len(rel.RemoteFields))
	for i, name := range rel.RemoteFields {
		f, ok := target.Field(name)
		if !ok {
			return SQLQuery{}, fmt.Errorf("unknown field %s.%s", target.Name, name)
		}
		group[i] = b.dialect.Column(rootAlias, f.Column)
	}
	builder := sq.Select(append(append([]string(nil), group...), "COUNT(*)")...).
		From(b.dialect.Table(target.Table, rootAlias))
	if builder, err = b.filter(builder, target, where); err != nil {
		return SQLQuery{}, err
	}
	builder = builder.
		Where(b.scope(target, rootAlias, &Scope{Fields: rel.RemoteFields, Keys: keys})).
		GroupBy(group...)
	return b.dialect.Render(builder)
}

// filter adds pred to builder unless it is trivially true.
func (b *Builder) filter(builder sq.SelectBuilder, m *schema.Model, pred planner.Predicate) (sq.SelectBuilder, error) {
	if planner.IsTrue(pred) {
		return builder, nil
	}
	cond, err := b.state().where(m, rootAlias, pred)
	if err != nil {
		return builder, err
	}
	return builder.Where(cond), nil
}

func (b *Builder) columnList(m *schema.Model, alias string, columns []string) ([]string, error) {
	exprs := make([]string, len(columns))
	for i, name := range columns {
		f, ok := m.Field(name)
		if !ok {
			return nil, fmt.Errorf("unknown field %s.%s", m.Name, name)
		}
		exprs[i] = b.dialect.Column(alias, f.Column)
	}
	return exprs, nil
}

func (b *Builder) orderBy(m *schema.Model, alias string, terms []planner.OrderTerm) ([]string, error) {
	var out []string
	for _, t := range terms {
		f, ok := m.Field(t.Field)
		if !ok && t.Field != planner.CountAll {
			return nil, fmt.Errorf("unknown field %s.%s", m.Name, t.Field)
		}
		expr := b.dialect.Column(alias, f.Column)
		if t.Aggregate != "" {
			expr = aggregateExpr(b.dialect, alias, planner.AggregateTerm{Func: t.Aggregate, Field: t.Field}, f.Column)
		}
		out = append(out, b.dialect.OrderTerm(expr, t.Desc, t.NullsFirstEffective())...)
	}
	return out, nil
}

// seek renders "at or after anchor" under the total order terms:
// (a > x) OR (a = x AND b > y) OR ... OR (a = x AND b = y AND ...).
func (b *Builder) seek(m *schema.Model, alias string, terms []planner.OrderTerm, anchor planner.Row) (sq.Sqlizer, error) {
	branches := make(sq.Or, 0, len(terms)+1)
	equal := make(sq.And, 0, len(terms))
	for _, t := range terms {
		f, ok := m.Field(t.Field)
		if !ok {
			return nil, fmt.Errorf("unknown field %s.%s", m.Name, t.Field)
		}
		col := b.dialect.Column(alias, f.Column)
		v := anchor[t.Field]

		branch := append(sq.And{}, equal...)
		branch = append(branch, after(col, f, t, v))
		branches = append(branches, branch)

		if v == nil {
			equal = append(equal, sq.Expr(col+" IS NULL"))
		} else {
			equal = append(equal, sq.Expr(col+" = ?", bindValue(f, v)))
		}
	}
	branches = append(branches, equal)
	return branches, nil
}

// after renders "strictly after v" for one ordering term.
func after(col string, f schema.Field, t planner.OrderTerm, v any) sq.Sqlizer {
	nullsFirst := t.NullsFirstEffective()
	if v == nil {
		if nullsFirst {
			return sq.Expr(col + " IS NOT NULL")
		}
		return sqlFalse
	}
	op := " > ?"
	if t.Desc {
		op = " < ?"
	}
	cmp := sq.Expr(col+op, bindValue(f, v))
	if nullsFirst || !f.Optional {
		return cmp
	}
	return sq.Or{cmp, sq.Expr(col + " IS NULL")}
}

func reverseOrder(terms []planner.OrderTerm) []planner.OrderTerm {
	out := make([]planner.OrderTerm, len(terms))
	for i, t := range terms {
		nulls := planner.NullsFirst
		if t.NullsFirstEffective() {
			nulls = planner.NullsLast
		}
		out[i] = planner.OrderTerm{Field: t.Field, Aggregate: t.Aggregate, Desc: !t.Desc, Nulls: nulls}
	}
	return out
}

func orderFields(terms []planner.OrderTerm) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if !containsField(out, t.Field) {
			out = append(out, t.Field)
		}
	}
	return out
}

func containsField(list []string, name string) bool {
	for _, v := range list {
		if v == name {
			return true
		}
	}
	return false
}
