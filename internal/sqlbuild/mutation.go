package sqlbuild

import (
	"fmt"

	"portfolio-query/internal/planner"
	"portfolio-query/internal/schema"
	"portfolio-query/internal/sqltype"

	sq "github.com/Masterminds/squirrel"
)

// Insert renders an INSERT of values. Columns follow the model's field
// declaration order; fields absent from values are left to the database.
func (b *Builder) Insert(m *schema.Model, values planner.Row) (SQLQuery, error) {
	columns := make([]string, 0, len(values))
	args := make([]any, 0, len(values))
	for _, f := range m.Fields {
		v, ok := values[f.Name]
		if !ok {
			continue
		}
		columns = append(columns, b.dialect.Quote(f.Column))
		args = append(args, bindValue(f, v))
	}
	if len(columns) == 0 {
		return SQLQuery{}, fmt.Errorf("%s insert has no values", m.Name)
	}
	return b.dialect.Render(sq.Insert(b.dialect.Quote(m.Table)).Columns(columns...).Values(args...))
}

// Update renders an UPDATE applying set to the rows identified by scope.
// Numeric operations are evaluated by the database against the stored value.
func (b *Builder) Update(m *schema.Model, set []planner.Assignment, scope *Scope) (SQLQuery, error) {
	if len(set) == 0 {
		return SQLQuery{}, fmt.Errorf("%s update has no assignments", m.Name)
	}
	builder := sq.Update(b.dialect.Quote(m.Table))
	for _, a := range set {
		value, err := b.assignment(a)
		if err != nil {
			return SQLQuery{}, err
		}
		builder = builder.Set(b.dialect.Quote(a.Field.Column), value)
	}
	builder = builder.Where(b.scope(m, "", scope))
	return b.dialect.Render(builder)
}

func (b *Builder) assignment(a planner.Assignment) (any, error) {
	if a.Op == planner.AssignSet {
		if a.Value == nil {
			return nil, nil
		}
		return bindValue(a.Field, a.Value), nil
	}
	col := b.dialect.Quote(a.Field.Column)
	switch a.Op {
	case planner.AssignIncrement:
		return sq.Expr(col+" + ?", a.Value), nil
	case planner.AssignDecrement:
		return sq.Expr(col+" - ?", a.Value), nil
	case planner.AssignMultiply:
		return sq.Expr(col+" * ?", a.Value), nil
	case planner.AssignDivide:
		op := "/"
		if a.Field.Type == sqltype.TypeInt {
			op = b.dialect.intDivide
		}
		return sq.Expr(col+" "+op+" ?", a.Value), nil
	default:
		return nil, fmt.Errorf("unsupported assignment %s on %s", a.Op, a.Field.Name)
	}
}

// Delete renders a DELETE of the rows identified by scope. Dependent rows
// follow the foreign keys' ON DELETE actions.
func (b *Builder) Delete(m *schema.Model, scope *Scope) (SQLQuery, error) {
	return b.dialect.Render(sq.Delete(b.dialect.Quote(m.Table)).Where(b.scope(m, "", scope)))
}
