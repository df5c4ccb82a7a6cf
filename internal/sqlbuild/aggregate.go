package sqlbuild

import (
	"fmt"

	"portfolio-query/internal/planner"
	"portfolio-query/internal/schema"

	sq "github.com/Masterminds/squirrel"
)

const windowAlias = "t"

// aggregateAlias names the result column of the i-th aggregate term.
func aggregateAlias(i int) string {
	return fmt.Sprintf("a%d", i)
}

// Aggregate renders terms over the windowed rows of q:
//
//	SELECT SUM(t.amount) AS a0 FROM (SELECT ... LIMIT n) AS t
//
// The result is one row with one column per term, in order. A nil window
// aggregates every matching row.
func (b *Builder) Aggregate(q *planner.ReadQuery, terms []planner.AggregateTerm, w *Window) (SQLQuery, error) {
	if len(terms) == 0 {
		return SQLQuery{}, fmt.Errorf("%s aggregate needs at least one term", q.Model.Name)
	}
	if w == nil {
		q = &planner.ReadQuery{Model: q.Model, Where: q.Where}
	}
	columns := aggregateColumns(q.Model, terms)
	inner, err := b.Select(q, columns, w, nil)
	if err != nil {
		return SQLQuery{}, err
	}

	exprs := make([]string, len(terms))
	for i, term := range terms {
		column := ""
		if f, ok := q.Model.Field(term.Field); ok {
			column = f.Column
		}
		exprs[i] = aggregateExpr(b.dialect, windowAlias, term, column) + " AS " + b.dialect.Quote(aggregateAlias(i))
	}
	// The inner statement is already rendered with dialect placeholders, so
	// the outer one is assembled without re-rendering.
	outer, _, err := sq.Select(exprs...).From("(" + inner.SQL + ") AS " + b.dialect.Quote(windowAlias)).ToSql()
	if err != nil {
		return SQLQuery{}, err
	}
	return SQLQuery{SQL: outer, Args: inner.Args}, nil
}

// aggregateColumns lists the fields the window subquery must expose: every
// aggregated field, or the identity key when only rows are counted.
func aggregateColumns(m *schema.Model, terms []planner.AggregateTerm) []string {
	need := map[string]bool{}
	for _, term := range terms {
		if term.Field != "" && term.Field != planner.CountAll {
			need[term.Field] = true
		}
	}
	var out []string
	for _, f := range m.Fields {
		if need[f.Name] {
			out = append(out, f.Name)
		}
	}
	if len(out) == 0 {
		out = append(out, m.IdentityKey().Fields...)
	}
	return out
}

// GroupBy renders op's grouping with the aggregates in terms. The result
// columns are op.By (in order) followed by one column per term. windowed
// reports whether take/skip were rendered; a negative take is applied by the
// caller.
func (b *Builder) GroupBy(op *planner.GroupByOp, terms []planner.AggregateTerm) (query SQLQuery, windowed bool, err error) {
	m := op.Model
	by, err := b.columnList(m, rootAlias, op.By)
	if err != nil {
		return SQLQuery{}, false, err
	}
	exprs := append([]string(nil), by...)
	for i, term := range terms {
		column := ""
		if f, ok := m.Field(term.Field); ok {
			column = f.Column
		}
		exprs = append(exprs, aggregateExpr(b.dialect, rootAlias, term, column)+" AS "+b.dialect.Quote(aggregateAlias(i)))
	}

	builder := sq.Select(exprs...).From(b.dialect.Table(m.Table, rootAlias))
	if builder, err = b.filter(builder, m, op.Where); err != nil {
		return SQLQuery{}, false, err
	}
	builder = builder.GroupBy(by...)
	if !planner.IsTrue(op.Having) {
		having, err := b.state().where(m, rootAlias, op.Having)
		if err != nil {
			return SQLQuery{}, false, err
		}
		builder = builder.Having(having)
	}
	order, err := b.orderBy(m, rootAlias, planner.GroupOrder(op))
	if err != nil {
		return SQLQuery{}, false, err
	}
	builder = builder.OrderBy(order...)

	take := op.Window.Take
	windowed = take == nil || *take >= 0
	if windowed {
		switch {
		case take != nil:
			builder = builder.Limit(uint64(*take))
		case op.Window.Skip > 0 && b.dialect.offsetLimit > 0:
			builder = builder.Limit(b.dialect.offsetLimit)
		}
		if op.Window.Skip > 0 {
			builder = builder.Offset(uint64(op.Window.Skip))
		}
	}
	query, err = b.dialect.Render(builder)
	return query, windowed, err
}
