package planner

import (
	"fmt"
	"sort"
	"strings"

	"portfolio-query/internal/queryerr"
	"portfolio-query/internal/scalars"
	"portfolio-query/internal/schema"
)

// NullsOrder places null values within an ordering.
type NullsOrder int

const (
	// NullsDefault sorts nulls as the smallest value: first ascending, last descending.
	NullsDefault NullsOrder = iota
	NullsFirst
	NullsLast
)

// OrderTerm orders by one field, or by one aggregate of a field in groupBy.
type OrderTerm struct {
	Field     string
	Aggregate AggregateFunc
	Desc      bool
	Nulls     NullsOrder
}

// Key returns the row key the term reads.
func (t OrderTerm) Key() string {
	if t.Aggregate != "" {
		return AggregateKey(t.Aggregate, t.Field)
	}
	return t.Field
}

// NullsFirstEffective reports whether nulls come before values.
func (t OrderTerm) NullsFirstEffective() bool {
	switch t.Nulls {
	case NullsFirst:
		return true
	case NullsLast:
		return false
	default:
		return !t.Desc
	}
}

// parseOrderBy reads an orderBy argument: one object or a list of objects,
// each with exactly one key. Values are "asc", "desc" or {sort, nulls}.
// Aggregate keys are accepted only when grouped is set.
func parseOrderBy(m *schema.Model, raw any, grouped bool) ([]OrderTerm, error) {
	if raw == nil {
		return nil, nil
	}
	items, err := objectList(m.Name, "orderBy", raw)
	if err != nil {
		return nil, err
	}
	terms := make([]OrderTerm, 0, len(items))
	for _, item := range items {
		if len(item) != 1 {
			return nil, &queryerr.InvalidArgumentError{Model: m.Name, Argument: "orderBy", Message: "each orderBy object needs exactly one field"}
		}
		for key, value := range item {
			if fn, ok := parseAggregateFunc(key); ok {
				if !grouped {
					return nil, &queryerr.InvalidArgumentError{Model: m.Name, Argument: "orderBy", Message: fmt.Sprintf("ordering by %s is only valid in groupBy", key)}
				}
				aggTerms, err := parseAggregateOrder(m, fn, value)
				if err != nil {
					return nil, err
				}
				terms = append(terms, aggTerms...)
				continue
			}
			field, ok := m.Field(key)
			if !ok {
				if _, isRel := m.Relation(key); isRel {
					return nil, &queryerr.InvalidArgumentError{Model: m.Name, Argument: "orderBy", Message: "ordering by relation " + key + " is not supported"}
				}
				return nil, &queryerr.UnknownFieldError{Model: m.Name, Field: key}
			}
			term, err := parseDirection(m, field.Name, value)
			if err != nil {
				return nil, err
			}
			if term.Nulls != NullsDefault && !field.Optional {
				return nil, &queryerr.InvalidArgumentError{Model: m.Name, Argument: "orderBy", Message: "nulls ordering requires an optional field, " + key + " is required"}
			}
			terms = append(terms, term)
		}
	}
	return terms, nil
}

func parseAggregateOrder(m *schema.Model, fn AggregateFunc, raw any) ([]OrderTerm, error) {
	obj, err := objectArg(m.Name, "orderBy."+string(fn), raw)
	if err != nil {
		return nil, err
	}
	terms := make([]OrderTerm, 0, len(obj))
	for _, key := range sortedKeys(obj) {
		if key == CountAll && fn == AggCount {
			term, err := parseDirection(m, CountAll, obj[key])
			if err != nil {
				return nil, err
			}
			term.Aggregate = fn
			terms = append(terms, term)
			continue
		}
		field, ok := m.Field(key)
		if !ok {
			return nil, &queryerr.UnknownFieldError{Model: m.Name, Field: key}
		}
		if _, err := aggregateResultType(m, field, fn); err != nil {
			return nil, err
		}
		term, err := parseDirection(m, key, obj[key])
		if err != nil {
			return nil, err
		}
		term.Aggregate = fn
		terms = append(terms, term)
	}
	return terms, nil
}

func parseDirection(m *schema.Model, field string, raw any) (OrderTerm, error) {
	term := OrderTerm{Field: field}
	switch v := raw.(type) {
	case string:
		desc, err := parseSort(m, field, v)
		if err != nil {
			return term, err
		}
		term.Desc = desc
	case map[string]any:
		sortRaw, _ := v["sort"].(string)
		desc, err := parseSort(m, field, sortRaw)
		if err != nil {
			return term, err
		}
		term.Desc = desc
		if nullsRaw, ok := v["nulls"]; ok {
			nulls, _ := nullsRaw.(string)
			switch nulls {
			case "first":
				term.Nulls = NullsFirst
			case "last":
				term.Nulls = NullsLast
			default:
				return term, &queryerr.InvalidArgumentError{Model: m.Name, Argument: "orderBy." + field + ".nulls", Message: `expected "first" or "last"`}
			}
		}
		for k := range v {
			if k != "sort" && k != "nulls" {
				return term, &queryerr.InvalidArgumentError{Model: m.Name, Argument: "orderBy." + field, Message: "unknown key " + k}
			}
		}
	default:
		return term, &queryerr.InvalidArgumentError{Model: m.Name, Argument: "orderBy." + field, Message: `expected "asc", "desc" or {sort, nulls}`}
	}
	return term, nil
}

func parseSort(m *schema.Model, field, s string) (bool, error) {
	switch strings.ToLower(s) {
	case "asc":
		return false, nil
	case "desc":
		return true, nil
	default:
		return false, &queryerr.InvalidArgumentError{Model: m.Name, Argument: "orderBy." + field, Message: `expected "asc" or "desc"`}
	}
}

// withTiebreaker appends the identity key so that orderings are total and
// cursors stable.
func withTiebreaker(m *schema.Model, terms []OrderTerm) []OrderTerm {
	present := make(map[string]bool, len(terms))
	for _, t := range terms {
		if t.Aggregate == "" {
			present[t.Field] = true
		}
	}
	out := append([]OrderTerm(nil), terms...)
	for _, f := range m.IdentityKey().Fields {
		if !present[f] {
			out = append(out, OrderTerm{Field: f})
		}
	}
	return out
}

// SortRows sorts rows in place by terms. The sort is stable.
func SortRows(rows []Row, terms []OrderTerm) {
	if len(terms) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return CompareRows(rows[i], rows[j], terms) < 0
	})
}

// CompareRows orders two rows by terms.
func CompareRows(a, b Row, terms []OrderTerm) int {
	for _, t := range terms {
		key := t.Key()
		av, bv := a[key], b[key]
		switch {
		case av == nil && bv == nil:
			continue
		case av == nil || bv == nil:
			nullFirst := t.NullsFirstEffective()
			if (av == nil) == nullFirst {
				return -1
			}
			return 1
		}
		c, ok := scalars.Compare(av, bv)
		if !ok || c == 0 {
			continue
		}
		if t.Desc {
			return -c
		}
		return c
	}
	return 0
}
