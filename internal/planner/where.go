package planner

import (
	"fmt"
	"strings"

	"portfolio-query/internal/queryerr"
	"portfolio-query/internal/scalars"
	"portfolio-query/internal/schema"
	"portfolio-query/internal/sqltype"
)

type whereMode int

const (
	modeWhere whereMode = iota
	modeHaving
)

// Where parses a filter tree scoped to model.
func (p *Planner) Where(model string, input map[string]any) (Predicate, error) {
	m, err := p.reg.Model(model)
	if err != nil {
		return nil, err
	}
	return p.parseWhere(m, input, modeWhere)
}

func (p *Planner) parseWhere(m *schema.Model, input map[string]any, mode whereMode) (Predicate, error) {
	conditions := make([]Predicate, 0, len(input))
	for _, key := range sortedKeys(input) {
		value := input[key]
		switch key {
		case "AND", "OR", "NOT":
			items, err := objectList(m.Name, key, value)
			if err != nil {
				return nil, err
			}
			children := make([]Predicate, 0, len(items))
			for _, item := range items {
				child, err := p.parseWhere(m, item, mode)
				if err != nil {
					return nil, err
				}
				children = append(children, child)
			}
			switch key {
			case "AND":
				conditions = append(conditions, &And{Children: children})
			case "OR":
				conditions = append(conditions, &Or{Children: children})
			default:
				// NOT: [a, b] holds when neither a nor b holds.
				negated := make([]Predicate, len(children))
				for i, child := range children {
					negated[i] = &Not{Child: child}
				}
				if len(negated) == 1 {
					conditions = append(conditions, negated[0])
				} else {
					conditions = append(conditions, &And{Children: negated})
				}
			}

		default:
			if field, ok := m.Field(key); ok {
				cond, err := p.parseFieldFilter(m, field, value, mode)
				if err != nil {
					return nil, err
				}
				conditions = append(conditions, cond)
				continue
			}
			rel, ok := m.Relation(key)
			if !ok {
				return nil, &queryerr.UnknownFieldError{Model: m.Name, Field: key}
			}
			if mode == modeHaving {
				return nil, &queryerr.InvalidArgumentError{Model: m.Name, Argument: "having", Message: fmt.Sprintf("relation %s cannot be filtered in having", key)}
			}
			cond, err := p.parseRelationFilter(m, rel, value)
			if err != nil {
				return nil, err
			}
			conditions = append(conditions, cond)
		}
	}
	if len(conditions) == 1 {
		return conditions[0], nil
	}
	return &And{Children: conditions}, nil
}

func (p *Planner) parseRelationFilter(m *schema.Model, rel schema.Relation, value any) (Predicate, error) {
	target, err := p.reg.Model(rel.Target)
	if err != nil {
		return nil, err
	}

	if value == nil {
		if rel.IsList() {
			return nil, &queryerr.InvalidArgumentError{Model: m.Name, Argument: rel.Name, Message: "list relation filters must use some, every or none"}
		}
		return &RelationFilter{Relation: rel, Quantifier: QuantIsNot, Where: True()}, nil
	}
	filter, ok := value.(map[string]any)
	if !ok {
		return nil, &queryerr.InvalidArgumentError{Model: m.Name, Argument: rel.Name, Message: "relation filter must be an object"}
	}

	quantified := false
	for key := range filter {
		switch Quantifier(key) {
		case QuantSome, QuantEvery, QuantNone, QuantIs, QuantIsNot:
			quantified = true
		}
	}
	if !quantified {
		if rel.IsList() {
			return nil, &queryerr.InvalidArgumentError{Model: m.Name, Argument: rel.Name, Message: "list relation filters must use some, every or none"}
		}
		where, err := p.parseWhere(target, filter, modeWhere)
		if err != nil {
			return nil, err
		}
		return &RelationFilter{Relation: rel, Quantifier: QuantIs, Where: where}, nil
	}

	conditions := make([]Predicate, 0, len(filter))
	for _, key := range sortedKeys(filter) {
		q := Quantifier(key)
		switch q {
		case QuantSome, QuantEvery, QuantNone:
			if !rel.IsList() {
				return nil, &queryerr.InvalidQuantifierError{Model: m.Name, Relation: rel.Name, Quantifier: key}
			}
		case QuantIs, QuantIsNot:
			if rel.IsList() {
				return nil, &queryerr.InvalidQuantifierError{Model: m.Name, Relation: rel.Name, Quantifier: key}
			}
		default:
			return nil, &queryerr.InvalidQuantifierError{Model: m.Name, Relation: rel.Name, Quantifier: key}
		}

		raw := filter[key]
		if raw == nil {
			// is: null matches rows without a related row, isNot: null the opposite.
			if rel.IsList() {
				return nil, &queryerr.InvalidArgumentError{Model: m.Name, Argument: rel.Name + "." + key, Message: "expected an object"}
			}
			flipped := QuantIsNot
			if q == QuantIsNot {
				flipped = QuantIs
			}
			conditions = append(conditions, &RelationFilter{Relation: rel, Quantifier: flipped, Where: True()})
			continue
		}
		nested, err := objectArg(m.Name, rel.Name+"."+key, raw)
		if err != nil {
			return nil, err
		}
		where, err := p.parseWhere(target, nested, modeWhere)
		if err != nil {
			return nil, err
		}
		conditions = append(conditions, &RelationFilter{Relation: rel, Quantifier: q, Where: where})
	}
	if len(conditions) == 1 {
		return conditions[0], nil
	}
	return &And{Children: conditions}, nil
}

func (p *Planner) parseFieldFilter(m *schema.Model, field schema.Field, value any, mode whereMode) (Predicate, error) {
	ops, isObject := value.(map[string]any)
	if !isObject {
		v, err := p.coerce(m, field, value)
		if err != nil {
			return nil, err
		}
		return &Comparison{Field: field, Op: OpEquals, Value: v}, nil
	}
	return p.parseOperators(m, field, "", ops, mode)
}

func (p *Planner) parseOperators(m *schema.Model, field schema.Field, agg AggregateFunc, ops map[string]any, mode whereMode) (Predicate, error) {
	insensitive := false
	if raw, ok := ops["mode"]; ok {
		s, _ := raw.(string)
		switch s {
		case "insensitive":
			insensitive = true
		case "default":
		default:
			return nil, &queryerr.InvalidArgumentError{Model: m.Name, Argument: field.Name + ".mode", Message: `expected "default" or "insensitive"`}
		}
		if !field.Type.IsText() || agg != "" {
			return nil, &queryerr.TypeMismatchError{Model: m.Name, Field: field.Name, Expected: field.Type.String(), Operator: "mode"}
		}
	}

	valueType := field.Type
	if agg != "" {
		var err error
		valueType, err = aggregateResultType(m, field, agg)
		if err != nil {
			return nil, err
		}
	}
	coerce := func(raw any) (any, error) {
		if agg != "" {
			return p.coerceAs(m, field, valueType, raw)
		}
		return p.coerce(m, field, raw)
	}

	conditions := make([]Predicate, 0, len(ops))
	for _, key := range sortedKeys(ops) {
		raw := ops[key]
		if key == "mode" {
			continue
		}
		if strings.HasPrefix(key, "_") {
			if mode != modeHaving || agg != "" {
				return nil, &queryerr.InvalidArgumentError{Model: m.Name, Argument: field.Name, Message: fmt.Sprintf("aggregate filter %s is only valid in having", key)}
			}
			fn, ok := parseAggregateFunc(key)
			if !ok {
				return nil, &queryerr.InvalidArgumentError{Model: m.Name, Argument: field.Name, Message: "unknown aggregate " + key}
			}
			nested, err := objectArg(m.Name, field.Name+"."+key, raw)
			if err != nil {
				return nil, err
			}
			cond, err := p.parseOperators(m, field, fn, nested, mode)
			if err != nil {
				return nil, err
			}
			conditions = append(conditions, cond)
			continue
		}

		op := Operator(key)
		switch op {
		case OpEquals:
			v, err := coerce(raw)
			if err != nil {
				return nil, err
			}
			conditions = append(conditions, &Comparison{Field: field, Aggregate: agg, Op: OpEquals, Value: v, Insensitive: insensitive})

		case OpNot:
			if nested, ok := raw.(map[string]any); ok {
				nestedOps := nested
				if insensitive {
					nestedOps = withMode(nested)
				}
				cond, err := p.parseOperators(m, field, agg, nestedOps, mode)
				if err != nil {
					return nil, err
				}
				conditions = append(conditions, &Not{Child: cond})
				continue
			}
			v, err := coerce(raw)
			if err != nil {
				return nil, err
			}
			conditions = append(conditions, &Comparison{Field: field, Aggregate: agg, Op: OpNot, Value: v, Insensitive: insensitive})

		case OpIn, OpNotIn:
			items, ok := anyList(raw)
			if !ok {
				return nil, &queryerr.InvalidArgumentError{Model: m.Name, Argument: field.Name + "." + key, Message: "expected a list"}
			}
			values := make([]any, 0, len(items))
			for _, item := range items {
				if item == nil {
					return nil, &queryerr.TypeMismatchError{Model: m.Name, Field: field.Name, Expected: valueType.String(), Value: item, Operator: key}
				}
				v, err := coerce(item)
				if err != nil {
					return nil, err
				}
				values = append(values, v)
			}
			conditions = append(conditions, &Comparison{Field: field, Aggregate: agg, Op: op, Values: values, Insensitive: insensitive})

		case OpLt, OpLte, OpGt, OpGte:
			if !valueType.IsComparable() {
				return nil, &queryerr.TypeMismatchError{Model: m.Name, Field: field.Name, Expected: valueType.String(), Operator: key}
			}
			if raw == nil {
				return nil, &queryerr.TypeMismatchError{Model: m.Name, Field: field.Name, Expected: valueType.String(), Value: raw, Operator: key}
			}
			v, err := coerce(raw)
			if err != nil {
				return nil, err
			}
			conditions = append(conditions, &Comparison{Field: field, Aggregate: agg, Op: op, Value: v, Insensitive: insensitive})

		case OpContains, OpStartsWith, OpEndsWith:
			if !valueType.IsText() {
				return nil, &queryerr.TypeMismatchError{Model: m.Name, Field: field.Name, Expected: valueType.String(), Operator: key}
			}
			s, ok := raw.(string)
			if !ok {
				return nil, &queryerr.TypeMismatchError{Model: m.Name, Field: field.Name, Expected: valueType.String(), Value: raw, Operator: key}
			}
			conditions = append(conditions, &Comparison{Field: field, Aggregate: agg, Op: op, Value: s, Insensitive: insensitive})

		default:
			return nil, &queryerr.InvalidArgumentError{Model: m.Name, Argument: field.Name, Message: "unknown filter operator " + key}
		}
	}
	if len(conditions) == 1 {
		return conditions[0], nil
	}
	return &And{Children: conditions}, nil
}

func withMode(ops map[string]any) map[string]any {
	out := make(map[string]any, len(ops)+1)
	for k, v := range ops {
		out[k] = v
	}
	if _, ok := out["mode"]; !ok {
		out["mode"] = "insensitive"
	}
	return out
}

// coerce converts a filter or data value to the field's canonical form.
// nil is accepted only for optional fields.
func (p *Planner) coerce(m *schema.Model, field schema.Field, raw any) (any, error) {
	if raw == nil {
		if !field.Optional {
			return nil, &queryerr.TypeMismatchError{Model: m.Name, Field: field.Name, Expected: field.Type.String(), Value: raw}
		}
		return nil, nil
	}
	v, err := scalars.Coerce(field.Type, raw)
	if err != nil {
		return nil, &queryerr.TypeMismatchError{Model: m.Name, Field: field.Name, Expected: field.Type.String(), Value: raw}
	}
	if field.Type == sqltype.TypeEnum {
		domain, ok := p.reg.Enum(field.Enum)
		if ok && !domain.Contains(v.(string)) {
			return nil, &queryerr.TypeMismatchError{Model: m.Name, Field: field.Name, Expected: "enum " + field.Enum, Value: raw}
		}
	}
	return v, nil
}

func (p *Planner) coerceAs(m *schema.Model, field schema.Field, t sqltype.ScalarType, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	v, err := scalars.Coerce(t, raw)
	if err != nil {
		return nil, &queryerr.TypeMismatchError{Model: m.Name, Field: field.Name, Expected: t.String(), Value: raw}
	}
	return v, nil
}

// HavingFields lists the fields a having filter compares directly, in sorted
// order. Fields filtered only through aggregates (amount: {_sum: {...}}) are
// not included, and neither are the AND/OR/NOT combinators themselves.
func HavingFields(having map[string]any) []string {
	seen := map[string]struct{}{}
	collectHavingFields(having, seen)
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	return sortStrings(out)
}

func collectHavingFields(having map[string]any, seen map[string]struct{}) {
	for key, value := range having {
		switch key {
		case "AND", "OR", "NOT":
			switch v := value.(type) {
			case map[string]any:
				collectHavingFields(v, seen)
			case []map[string]any:
				for _, item := range v {
					collectHavingFields(item, seen)
				}
			case []any:
				for _, item := range v {
					if obj, ok := item.(map[string]any); ok {
						collectHavingFields(obj, seen)
					}
				}
			}
			continue
		}
		if ops, ok := value.(map[string]any); ok && len(ops) > 0 && onlyAggregateKeys(ops) {
			continue
		}
		seen[key] = struct{}{}
	}
}

func onlyAggregateKeys(ops map[string]any) bool {
	for k := range ops {
		if !strings.HasPrefix(k, "_") {
			return false
		}
	}
	return true
}
