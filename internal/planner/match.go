package planner

import (
	"strings"

	"portfolio-query/internal/scalars"
	"portfolio-query/internal/schema"
)

// RelationLoader returns the rows related to row through rel. Executors that
// evaluate predicates in memory supply one.
type RelationLoader interface {
	Related(rel schema.Relation, row Row) []Row
}

// RelationLoaderFunc adapts a function to RelationLoader.
type RelationLoaderFunc func(rel schema.Relation, row Row) []Row

// Related calls f.
func (f RelationLoaderFunc) Related(rel schema.Relation, row Row) []Row {
	return f(rel, row)
}

// Matches evaluates pred against row with two-valued logic: a comparison
// against a null value is false, and Not is the plain negation of its child.
// A nil loader behaves as if no row had related rows.
func Matches(pred Predicate, row Row, loader RelationLoader) bool {
	switch node := pred.(type) {
	case nil:
		return true
	case *And:
		for _, child := range node.Children {
			if !Matches(child, row, loader) {
				return false
			}
		}
		return true
	case *Or:
		for _, child := range node.Children {
			if Matches(child, row, loader) {
				return true
			}
		}
		return false
	case *Not:
		return !Matches(node.Child, row, loader)
	case *Comparison:
		return compare(node, row[node.Key()])
	case *RelationFilter:
		var related []Row
		if loader != nil {
			related = loader.Related(node.Relation, row)
		}
		return quantify(node, related, loader)
	default:
		return false
	}
}

func quantify(node *RelationFilter, related []Row, loader RelationLoader) bool {
	switch node.Quantifier {
	case QuantSome:
		for _, r := range related {
			if Matches(node.Where, r, loader) {
				return true
			}
		}
		return false
	case QuantEvery:
		for _, r := range related {
			if !Matches(node.Where, r, loader) {
				return false
			}
		}
		return true
	case QuantNone:
		for _, r := range related {
			if Matches(node.Where, r, loader) {
				return false
			}
		}
		return true
	case QuantIs:
		return len(related) > 0 && Matches(node.Where, related[0], loader)
	case QuantIsNot:
		return len(related) == 0 || !Matches(node.Where, related[0], loader)
	default:
		return false
	}
}

func compare(c *Comparison, value any) bool {
	switch c.Op {
	case OpEquals:
		if c.Value == nil {
			return value == nil
		}
		return value != nil && equal(c, value, c.Value)
	case OpNot:
		if c.Value == nil {
			return value != nil
		}
		return value != nil && !equal(c, value, c.Value)
	}

	if value == nil {
		return false
	}
	switch c.Op {
	case OpIn:
		for _, candidate := range c.Values {
			if equal(c, value, candidate) {
				return true
			}
		}
		return false
	case OpNotIn:
		for _, candidate := range c.Values {
			if equal(c, value, candidate) {
				return false
			}
		}
		return true
	case OpLt, OpLte, OpGt, OpGte:
		a, b := value, c.Value
		if c.Insensitive {
			a, b = fold(a), fold(b)
		}
		result, ok := scalars.Compare(a, b)
		if !ok {
			return false
		}
		switch c.Op {
		case OpLt:
			return result < 0
		case OpLte:
			return result <= 0
		case OpGt:
			return result > 0
		default:
			return result >= 0
		}
	case OpContains, OpStartsWith, OpEndsWith:
		s, ok := value.(string)
		if !ok {
			return false
		}
		needle, _ := c.Value.(string)
		if c.Insensitive {
			s, needle = strings.ToLower(s), strings.ToLower(needle)
		}
		switch c.Op {
		case OpContains:
			return strings.Contains(s, needle)
		case OpStartsWith:
			return strings.HasPrefix(s, needle)
		default:
			return strings.HasSuffix(s, needle)
		}
	}
	return false
}

func equal(c *Comparison, a, b any) bool {
	if c.Insensitive {
		return scalars.Equal(fold(a), fold(b))
	}
	return scalars.Equal(a, b)
}

func fold(v any) any {
	if s, ok := v.(string); ok {
		return strings.ToLower(s)
	}
	return v
}
