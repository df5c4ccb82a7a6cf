package planner

import (
	"portfolio-query/internal/schema"
)

// Operator is a scalar comparison operator.
type Operator string

const (
	OpEquals     Operator = "equals"
	OpNot        Operator = "not"
	OpIn         Operator = "in"
	OpNotIn      Operator = "notIn"
	OpLt         Operator = "lt"
	OpLte        Operator = "lte"
	OpGt         Operator = "gt"
	OpGte        Operator = "gte"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "startsWith"
	OpEndsWith   Operator = "endsWith"
)

// Quantifier selects how a relation filter applies to the related rows.
type Quantifier string

const (
	// QuantSome holds when at least one related row matches.
	QuantSome Quantifier = "some"
	// QuantEvery holds when all related rows match, including when there are none.
	QuantEvery Quantifier = "every"
	// QuantNone holds when no related row matches.
	QuantNone Quantifier = "none"
	// QuantIs holds when the to-one related row exists and matches.
	QuantIs Quantifier = "is"
	// QuantIsNot holds unless the to-one related row exists and matches.
	QuantIsNot Quantifier = "isNot"
)

// Predicate is a node of a normalized filter tree. The concrete types are
// Comparison, RelationFilter, And, Or and Not.
type Predicate interface {
	predicate()
}

// Comparison tests one scalar field, or one aggregate of it inside having.
//
// A comparison against a null value is false for every operator except
// equals null and not null, which test for absence and presence.
type Comparison struct {
	Field       schema.Field
	Aggregate   AggregateFunc
	Op          Operator
	Value       any
	Values      []any
	Insensitive bool
}

// Key returns the row key the comparison reads.
func (c *Comparison) Key() string {
	if c.Aggregate != "" {
		return AggregateKey(c.Aggregate, c.Field.Name)
	}
	return c.Field.Name
}

// RelationFilter applies Where, scoped to the relation's target model, to the
// related rows of a relation.
type RelationFilter struct {
	Relation   schema.Relation
	Quantifier Quantifier
	Where      Predicate
}

// And holds when every child holds. An empty And is true.
type And struct {
	Children []Predicate
}

// Or holds when any child holds. An empty Or is false.
type Or struct {
	Children []Predicate
}

// Not negates its child.
type Not struct {
	Child Predicate
}

func (*Comparison) predicate()     {}
func (*RelationFilter) predicate() {}
func (*And) predicate()            {}
func (*Or) predicate()             {}
func (*Not) predicate()            {}

// True returns the always-true predicate.
func True() Predicate {
	return &And{}
}

// IsTrue reports whether p is trivially true.
func IsTrue(p Predicate) bool {
	if p == nil {
		return true
	}
	and, ok := p.(*And)
	return ok && len(and.Children) == 0
}

// AllOf combines predicates with And, dropping trivially true ones.
func AllOf(preds ...Predicate) Predicate {
	children := make([]Predicate, 0, len(preds))
	for _, pred := range preds {
		if IsTrue(pred) {
			continue
		}
		children = append(children, pred)
	}
	if len(children) == 1 {
		return children[0]
	}
	return &And{Children: children}
}

// KeyPredicate returns the equality filter selecting the row whose fields
// carry values.
func KeyPredicate(m *schema.Model, fields []string, values map[string]any) Predicate {
	preds := make([]Predicate, 0, len(fields))
	for _, name := range fields {
		f, _ := m.Field(name)
		preds = append(preds, &Comparison{Field: f, Op: OpEquals, Value: values[name]})
	}
	return AllOf(preds...)
}
