package sqlbuild

import (
	"fmt"
	"strings"

	"portfolio-query/internal/planner"
	"portfolio-query/internal/schema"
	"portfolio-query/internal/sqltype"
	"portfolio-query/internal/sqlutil"

	sq "github.com/Masterminds/squirrel"
)

var (
	sqlTrue  = sq.Expr("1=1")
	sqlFalse = sq.Expr("1=0")
)

// buildState numbers the aliases of correlated subqueries within one
// statement.
type buildState struct {
	reg          *schema.Registry
	dialect      Dialect
	aliasCounter int
}

func (s *buildState) nextAlias() string {
	s.aliasCounter++
	return fmt.Sprintf("r%d", s.aliasCounter)
}

// where renders pred against model m referenced as alias ("" for the bare
// table name). Null handling follows two-valued logic: a NOT over a
// condition that evaluates to NULL holds.
func (s *buildState) where(m *schema.Model, alias string, pred planner.Predicate) (sq.Sqlizer, error) {
	switch node := pred.(type) {
	case nil:
		return sqlTrue, nil
	case *planner.And:
		if len(node.Children) == 0 {
			return sqlTrue, nil
		}
		parts := make(sq.And, 0, len(node.Children))
		for _, child := range node.Children {
			cond, err := s.where(m, alias, child)
			if err != nil {
				return nil, err
			}
			parts = append(parts, cond)
		}
		if len(parts) == 1 {
			return parts[0], nil
		}
		return parts, nil
	case *planner.Or:
		if len(node.Children) == 0 {
			return sqlFalse, nil
		}
		parts := make(sq.Or, 0, len(node.Children))
		for _, child := range node.Children {
			cond, err := s.where(m, alias, child)
			if err != nil {
				return nil, err
			}
			parts = append(parts, cond)
		}
		if len(parts) == 1 {
			return parts[0], nil
		}
		return parts, nil
	case *planner.Not:
		cond, err := s.where(m, alias, node.Child)
		if err != nil {
			return nil, err
		}
		return not(cond)
	case *planner.Comparison:
		expr := s.dialect.Column(alias, node.Field.Column)
		if node.Aggregate != "" {
			expr = aggregateExpr(s.dialect, alias, planner.AggregateTerm{Func: node.Aggregate, Field: node.Field.Name}, node.Field.Column)
		}
		return comparison(expr, node)
	case *planner.RelationFilter:
		return s.relationFilter(m, alias, node)
	default:
		return nil, fmt.Errorf("unsupported predicate %T", pred)
	}
}

func not(cond sq.Sqlizer) (sq.Sqlizer, error) {
	query, args, err := cond.ToSql()
	if err != nil {
		return nil, err
	}
	return sq.Expr("NOT COALESCE(("+query+"), FALSE)", args...), nil
}

func comparison(expr string, c *planner.Comparison) (sq.Sqlizer, error) {
	value := bindValue(c.Field, c.Value)
	lhs, rhs := expr, "?"
	if c.Insensitive && c.Field.Type.IsText() {
		lhs, rhs = "LOWER("+expr+")", "LOWER(?)"
	}

	switch c.Op {
	case planner.OpEquals:
		if c.Value == nil {
			return sq.Expr(expr + " IS NULL"), nil
		}
		return sq.Expr(lhs+" = "+rhs, value), nil
	case planner.OpNot:
		if c.Value == nil {
			return sq.Expr(expr + " IS NOT NULL"), nil
		}
		return sq.Expr(lhs+" <> "+rhs, value), nil
	case planner.OpIn, planner.OpNotIn:
		if len(c.Values) == 0 {
			if c.Op == planner.OpIn {
				return sqlFalse, nil
			}
			return sq.Expr(expr + " IS NOT NULL"), nil
		}
		marks := make([]string, len(c.Values))
		args := make([]any, len(c.Values))
		for i, v := range c.Values {
			marks[i] = rhs
			args[i] = bindValue(c.Field, v)
		}
		op := " IN "
		if c.Op == planner.OpNotIn {
			op = " NOT IN "
		}
		return sq.Expr(lhs+op+"("+strings.Join(marks, ", ")+")", args...), nil
	case planner.OpLt:
		return sq.Expr(lhs+" < "+rhs, value), nil
	case planner.OpLte:
		return sq.Expr(lhs+" <= "+rhs, value), nil
	case planner.OpGt:
		return sq.Expr(lhs+" > "+rhs, value), nil
	case planner.OpGte:
		return sq.Expr(lhs+" >= "+rhs, value), nil
	case planner.OpContains, planner.OpStartsWith, planner.OpEndsWith:
		needle, _ := c.Value.(string)
		pattern := sqlutil.EscapeLike(needle)
		switch c.Op {
		case planner.OpContains:
			pattern = "%" + pattern + "%"
		case planner.OpStartsWith:
			pattern += "%"
		default:
			pattern = "%" + pattern
		}
		return sq.Expr(lhs+" LIKE "+rhs, pattern), nil
	default:
		return nil, fmt.Errorf("unsupported operator %s", c.Op)
	}
}

// relationFilter renders a quantified relation filter as a correlated
// EXISTS subquery over the relation's target table.
func (s *buildState) relationFilter(m *schema.Model, alias string, node *planner.RelationFilter) (sq.Sqlizer, error) {
	target, err := s.reg.Model(node.Relation.Target)
	if err != nil {
		return nil, err
	}
	outer := alias
	if outer == "" {
		outer = m.Table
	}
	inner := s.nextAlias()

	builder := sq.Select("1").From(s.dialect.Table(target.Table, inner))
	for i, local := range node.Relation.LocalFields {
		lf, _ := m.Field(local)
		rf, _ := target.Field(node.Relation.RemoteFields[i])
		builder = builder.Where(s.dialect.Column(inner, rf.Column) + " = " + s.dialect.Column(outer, lf.Column))
	}

	cond, err := s.where(target, inner, node.Where)
	if err != nil {
		return nil, err
	}
	exists := true
	switch node.Quantifier {
	case planner.QuantSome, planner.QuantIs:
	case planner.QuantNone, planner.QuantIsNot:
		exists = false
	case planner.QuantEvery:
		exists = false
		if cond, err = not(cond); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported quantifier %s", node.Quantifier)
	}
	if !planner.IsTrue(node.Where) || node.Quantifier == planner.QuantEvery {
		builder = builder.Where(cond)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}
	prefix := "EXISTS"
	if !exists {
		prefix = "NOT EXISTS"
	}
	return sq.Expr(fmt.Sprintf("%s (%s)", prefix, query), args...), nil
}

// aggregateExpr renders term over column (the field's column name).
func aggregateExpr(d Dialect, alias string, term planner.AggregateTerm, column string) string {
	if term.Func == planner.AggCount && (term.Field == "" || term.Field == planner.CountAll) {
		return "COUNT(*)"
	}
	col := d.Column(alias, column)
	switch term.Func {
	case planner.AggCount:
		return "COUNT(" + col + ")"
	case planner.AggAvg:
		return "AVG(" + col + ")"
	case planner.AggSum:
		return "SUM(" + col + ")"
	case planner.AggMin:
		return "MIN(" + col + ")"
	default:
		return "MAX(" + col + ")"
	}
}

// bindValue converts a canonical value into a driver argument.
func bindValue(f schema.Field, v any) any {
	if v == nil {
		return nil
	}
	if f.Type == sqltype.TypeJSON {
		return jsonArg(v)
	}
	return v
}
