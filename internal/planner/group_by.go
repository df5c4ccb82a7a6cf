package planner

import (
	"strings"

	"portfolio-query/internal/cursor"
	"portfolio-query/internal/queryerr"
	"portfolio-query/internal/scalars"
	"portfolio-query/internal/schema"
)

// GroupByOp groups the filtered rows by By, computes the selected aggregates
// per group, filters groups with Having, then orders and windows them.
type GroupByOp struct {
	Model     *schema.Model
	By        []string
	Where     Predicate
	Having    Predicate
	OrderBy   []OrderTerm
	Window    cursor.Window
	Selection AggregateSelection
}

func (*GroupByOp) Verb() Verb { return VerbGroupBy }

func (o *GroupByOp) ModelName() string { return o.Model.Name }

// GroupBy plans a groupBy. Shape checks run in a fixed order before any other
// parsing, see ValidateGroupBy.
func (p *Planner) GroupBy(model string, args Args) (*GroupByOp, error) {
	m, err := p.reg.Model(model)
	if err != nil {
		return nil, err
	}
	if err := checkArgs(m.Name, args, "by", "where", "having", "orderBy", "take", "skip", "_count", "_avg", "_sum", "_min", "_max"); err != nil {
		return nil, err
	}

	var by []string
	if raw, ok := args["by"]; ok && raw != nil {
		if by, err = fieldList(m, "by", raw); err != nil {
			return nil, err
		}
	}
	var having map[string]any
	if raw, ok := args["having"]; ok && raw != nil {
		if having, err = objectArg(m.Name, "having", raw); err != nil {
			return nil, err
		}
	}
	_, hasTake := args["take"]
	_, hasSkip := args["skip"]
	orderFields, hasOrderBy := rawOrderFields(m, args["orderBy"])

	if err := ValidateGroupBy(m, by, HavingFields(having), hasTake || hasSkip, hasOrderBy, orderFields); err != nil {
		return nil, err
	}

	op := &GroupByOp{Model: m, By: by, Where: True(), Having: True()}
	if raw, ok := args["where"]; ok && raw != nil {
		obj, err := objectArg(m.Name, "where", raw)
		if err != nil {
			return nil, err
		}
		if op.Where, err = p.parseWhere(m, obj, modeWhere); err != nil {
			return nil, err
		}
	}
	if having != nil {
		if op.Having, err = p.parseWhere(m, having, modeHaving); err != nil {
			return nil, err
		}
	}
	if op.OrderBy, err = parseOrderBy(m, args["orderBy"], true); err != nil {
		return nil, err
	}
	if op.Window, err = p.parseWindow(m, args, false); err != nil {
		return nil, err
	}
	if op.Selection, err = p.parseAggregateSelection(m, args); err != nil {
		return nil, err
	}
	return op, nil
}

// ValidateGroupBy checks the shape of a groupBy request. When several
// problems are present the first in this list is reported:
//
//  1. by is empty
//  2. a field compared in having is not in by
//  3. take or skip is given without orderBy
//  4. a field named in orderBy is not in by (aggregate keys excluded)
//
// Offending fields are reported in declaration order.
func ValidateGroupBy(m *schema.Model, by, havingFields []string, hasWindow, hasOrderBy bool, orderFields []string) error {
	if len(by) == 0 {
		return &queryerr.EmptyGroupByError{Model: m.Name}
	}
	grouped := make(map[string]bool, len(by))
	for _, f := range by {
		grouped[f] = true
	}
	if missing := ungrouped(m, havingFields, grouped); len(missing) > 0 {
		return &queryerr.HavingFieldNotGroupedError{Model: m.Name, Fields: missing}
	}
	if hasWindow && !hasOrderBy {
		return &queryerr.OrderByRequiredError{Model: m.Name}
	}
	if missing := ungrouped(m, orderFields, grouped); len(missing) > 0 {
		return &queryerr.OrderFieldNotGroupedError{Model: m.Name, Fields: missing}
	}
	return nil
}

func ungrouped(m *schema.Model, fields []string, grouped map[string]bool) []string {
	var missing []string
	for _, f := range fields {
		if !grouped[f] && !containsString(missing, f) {
			missing = append(missing, f)
		}
	}
	return declarationOrder(m, missing)
}

// rawOrderFields lists the plain field keys of a raw orderBy argument.
// Malformed input yields no fields here and is rejected by parseOrderBy.
func rawOrderFields(m *schema.Model, raw any) (fields []string, present bool) {
	if raw == nil {
		return nil, false
	}
	items, err := objectList(m.Name, "orderBy", raw)
	if err != nil {
		return nil, true
	}
	for _, item := range items {
		for _, key := range sortedKeys(item) {
			if strings.HasPrefix(key, "_") {
				continue
			}
			fields = append(fields, key)
		}
	}
	return fields, len(items) > 0
}

// declarationOrder sorts names by their position in the model. Unknown names
// keep their relative order at the end.
func declarationOrder(m *schema.Model, names []string) []string {
	if len(names) < 2 {
		return names
	}
	index := make(map[string]int, len(m.Fields))
	for i, f := range m.Fields {
		index[f.Name] = i
	}
	out := make([]string, 0, len(names))
	for _, f := range m.Fields {
		if containsString(names, f.Name) {
			out = append(out, f.Name)
		}
	}
	for _, n := range names {
		if _, known := index[n]; !known {
			out = append(out, n)
		}
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// RequiredAggregates lists every aggregate an executor must compute: the
// selected ones plus those read by having and orderBy.
func RequiredAggregates(op *GroupByOp) []AggregateTerm {
	var terms []AggregateTerm
	seen := map[string]bool{}
	add := func(t AggregateTerm) {
		if !seen[t.Key()] {
			seen[t.Key()] = true
			terms = append(terms, t)
		}
	}
	for _, t := range op.Selection.Terms() {
		add(t)
	}
	walkComparisons(op.Having, func(c *Comparison) {
		if c.Aggregate != "" {
			add(AggregateTerm{Func: c.Aggregate, Field: c.Field.Name})
		}
	})
	for _, o := range op.OrderBy {
		if o.Aggregate != "" {
			add(AggregateTerm{Func: o.Aggregate, Field: o.Field})
		}
	}
	return terms
}

func walkComparisons(pred Predicate, fn func(*Comparison)) {
	switch node := pred.(type) {
	case *Comparison:
		fn(node)
	case *And:
		for _, c := range node.Children {
			walkComparisons(c, fn)
		}
	case *Or:
		for _, c := range node.Children {
			walkComparisons(c, fn)
		}
	case *Not:
		walkComparisons(node.Child, fn)
	}
}

// GroupOrder returns the ordering of the output groups: the requested terms
// followed by any by-field they do not mention.
func GroupOrder(op *GroupByOp) []OrderTerm {
	terms := append([]OrderTerm(nil), op.OrderBy...)
	for _, f := range op.By {
		mentioned := false
		for _, t := range op.OrderBy {
			if t.Aggregate == "" && t.Field == f {
				mentioned = true
				break
			}
		}
		if !mentioned {
			terms = append(terms, OrderTerm{Field: f})
		}
	}
	return terms
}

// EvaluateGroupBy runs op over rows in memory. Each output row holds the
// by-fields and the shaped aggregates.
func EvaluateGroupBy(op *GroupByOp, rows []Row, loader RelationLoader) []Row {
	type group struct {
		key  Row
		rows []Row
	}
	var order []string
	groups := map[string]*group{}
	for _, row := range rows {
		if !Matches(op.Where, row, loader) {
			continue
		}
		parts := make([]string, len(op.By))
		for i, f := range op.By {
			parts[i] = scalars.Key(row[f])
		}
		k := strings.Join(parts, "\x1f")
		g, ok := groups[k]
		if !ok {
			key := make(Row, len(op.By))
			for _, f := range op.By {
				key[f] = row[f]
			}
			g = &group{key: key}
			groups[k] = g
			order = append(order, k)
		}
		g.rows = append(g.rows, row)
	}

	terms := RequiredAggregates(op)
	flat := make([]Row, 0, len(order))
	for _, k := range order {
		g := groups[k]
		r := ComputeAggregates(op.Model, g.rows, terms)
		for f, v := range g.key {
			r[f] = v
		}
		if Matches(op.Having, r, nil) {
			flat = append(flat, r)
		}
	}
	SortRows(flat, GroupOrder(op))
	flat = cursor.Slice(flat, nil, op.Window, rowValues)

	return ShapeGroups(op, flat)
}

// ShapeGroups turns flat group rows into output rows.
func ShapeGroups(op *GroupByOp, flat []Row) []Row {
	out := make([]Row, 0, len(flat))
	for _, r := range flat {
		shaped := make(Row, len(op.By)+5)
		for _, f := range op.By {
			shaped[f] = r[f]
		}
		for k, v := range op.Selection.Shape(r) {
			shaped[k] = v
		}
		out = append(out, shaped)
	}
	return out
}
