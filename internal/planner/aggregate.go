package planner

import (
	"portfolio-query/internal/queryerr"
	"portfolio-query/internal/scalars"
	"portfolio-query/internal/schema"
	"portfolio-query/internal/sqltype"

	"github.com/shopspring/decimal"
)

// AggregateFunc names an aggregate.
type AggregateFunc string

const (
	AggCount AggregateFunc = "_count"
	AggAvg   AggregateFunc = "_avg"
	AggSum   AggregateFunc = "_sum"
	AggMin   AggregateFunc = "_min"
	AggMax   AggregateFunc = "_max"
)

// CountAll is the pseudo-field counting every row.
const CountAll = "_all"

var aggregateFuncs = []AggregateFunc{AggCount, AggAvg, AggSum, AggMin, AggMax}

func parseAggregateFunc(name string) (AggregateFunc, bool) {
	for _, fn := range aggregateFuncs {
		if string(fn) == name {
			return fn, true
		}
	}
	return "", false
}

// AggregateKey is the flat row key under which executors return an
// aggregate: "_sum.amount", "_count._all", or "_count" for a plain count.
func AggregateKey(fn AggregateFunc, field string) string {
	if field == "" {
		return string(fn)
	}
	return string(fn) + "." + field
}

// AggregateTerm is one aggregate over one field. Field is CountAll for a
// row count inside _count, or empty for a plain _count: true.
type AggregateTerm struct {
	Func  AggregateFunc
	Field string
}

// Key returns the term's flat row key.
func (t AggregateTerm) Key() string {
	return AggregateKey(t.Func, t.Field)
}

// CountSelection is the _count part of an aggregate request.
type CountSelection struct {
	// Plain is set by _count: true; the result is a bare number.
	Plain  bool
	All    bool
	Fields []string
}

// Terms lists the count terms in output order.
func (c *CountSelection) Terms() []AggregateTerm {
	var terms []AggregateTerm
	if c.Plain {
		terms = append(terms, AggregateTerm{Func: AggCount})
	}
	if c.All {
		terms = append(terms, AggregateTerm{Func: AggCount, Field: CountAll})
	}
	for _, f := range c.Fields {
		terms = append(terms, AggregateTerm{Func: AggCount, Field: f})
	}
	return terms
}

// Shape returns the _count value: a bare number for Plain, otherwise an
// object keyed by _all and field names.
func (c *CountSelection) Shape(flat Row) any {
	if c.Plain {
		return flat[AggregateKey(AggCount, "")]
	}
	counts := map[string]any{}
	if c.All {
		counts[CountAll] = flat[AggregateKey(AggCount, CountAll)]
	}
	for _, f := range c.Fields {
		counts[f] = flat[AggregateKey(AggCount, f)]
	}
	return counts
}

// AggregateSelection lists the requested aggregates.
type AggregateSelection struct {
	Count *CountSelection
	Avg   []string
	Sum   []string
	Min   []string
	Max   []string
}

// IsEmpty reports whether no aggregate was requested.
func (s AggregateSelection) IsEmpty() bool {
	return s.Count == nil && len(s.Avg) == 0 && len(s.Sum) == 0 && len(s.Min) == 0 && len(s.Max) == 0
}

// Terms lists the selection's aggregates in output order.
func (s AggregateSelection) Terms() []AggregateTerm {
	var terms []AggregateTerm
	if s.Count != nil {
		terms = append(terms, s.Count.Terms()...)
	}
	for _, group := range []struct {
		fn     AggregateFunc
		fields []string
	}{{AggAvg, s.Avg}, {AggSum, s.Sum}, {AggMin, s.Min}, {AggMax, s.Max}} {
		for _, f := range group.fields {
			terms = append(terms, AggregateTerm{Func: group.fn, Field: f})
		}
	}
	return terms
}

// Shape nests flat aggregate values into the result object:
// {_count: {...} | n, _avg: {...}, _sum: {...}, _min: {...}, _max: {...}}.
func (s AggregateSelection) Shape(flat Row) map[string]any {
	out := map[string]any{}
	if s.Count != nil {
		out[string(AggCount)] = s.Count.Shape(flat)
	}
	for _, group := range []struct {
		fn     AggregateFunc
		fields []string
	}{{AggAvg, s.Avg}, {AggSum, s.Sum}, {AggMin, s.Min}, {AggMax, s.Max}} {
		if len(group.fields) == 0 {
			continue
		}
		values := make(map[string]any, len(group.fields))
		for _, f := range group.fields {
			values[f] = flat[AggregateKey(group.fn, f)]
		}
		out[string(group.fn)] = values
	}
	return out
}

// AggregateOp computes aggregates over the windowed, filtered row set.
type AggregateOp struct {
	Read      *ReadQuery
	Selection AggregateSelection
}

func (*AggregateOp) Verb() Verb { return VerbAggregate }

func (o *AggregateOp) ModelName() string { return o.Read.Model.Name }

// CountOp counts the windowed, filtered row set. With Selection set the
// result is an object of per-field non-null counts.
type CountOp struct {
	Read      *ReadQuery
	Selection *CountSelection
}

func (*CountOp) Verb() Verb { return VerbCount }

func (o *CountOp) ModelName() string { return o.Read.Model.Name }

// Aggregate plans an aggregate query.
func (p *Planner) Aggregate(model string, args Args) (*AggregateOp, error) {
	m, err := p.reg.Model(model)
	if err != nil {
		return nil, err
	}
	if err := checkArgs(m.Name, args, "where", "orderBy", "cursor", "take", "skip", "_count", "_avg", "_sum", "_min", "_max"); err != nil {
		return nil, err
	}
	read, err := p.readQuery(m, args, false)
	if err != nil {
		return nil, err
	}
	sel, err := p.parseAggregateSelection(m, args)
	if err != nil {
		return nil, err
	}
	return &AggregateOp{Read: read, Selection: sel}, nil
}

// Count plans a count query.
func (p *Planner) Count(model string, args Args) (*CountOp, error) {
	m, err := p.reg.Model(model)
	if err != nil {
		return nil, err
	}
	if err := checkArgs(m.Name, args, "where", "orderBy", "cursor", "take", "skip", "select"); err != nil {
		return nil, err
	}
	read, err := p.readQuery(m, args, false)
	if err != nil {
		return nil, err
	}
	op := &CountOp{Read: read}
	if raw, ok := args["select"]; ok {
		if b, isBool := raw.(bool); isBool {
			if !b {
				return nil, &queryerr.InvalidArgumentError{Model: m.Name, Argument: "select", Message: "expected true or an object"}
			}
			return op, nil
		}
		sel, err := p.parseCountSelection(m, raw)
		if err != nil {
			return nil, err
		}
		op.Selection = sel
	}
	return op, nil
}

func (p *Planner) parseAggregateSelection(m *schema.Model, args Args) (AggregateSelection, error) {
	var sel AggregateSelection
	if raw, ok := args[string(AggCount)]; ok {
		if b, isBool := raw.(bool); isBool {
			if b {
				sel.Count = &CountSelection{Plain: true}
			}
		} else {
			count, err := p.parseCountSelection(m, raw)
			if err != nil {
				return sel, err
			}
			sel.Count = count
		}
	}
	targets := map[AggregateFunc]*[]string{AggAvg: &sel.Avg, AggSum: &sel.Sum, AggMin: &sel.Min, AggMax: &sel.Max}
	for _, fn := range []AggregateFunc{AggAvg, AggSum, AggMin, AggMax} {
		raw, ok := args[string(fn)]
		if !ok {
			continue
		}
		obj, err := objectArg(m.Name, string(fn), raw)
		if err != nil {
			return sel, err
		}
		fields, err := selectedFields(m, string(fn), obj, false)
		if err != nil {
			return sel, err
		}
		for _, name := range fields {
			f, _ := m.Field(name)
			if _, err := aggregateResultType(m, f, fn); err != nil {
				return sel, err
			}
		}
		*targets[fn] = fields
	}
	return sel, nil
}

func (p *Planner) parseCountSelection(m *schema.Model, raw any) (*CountSelection, error) {
	obj, err := objectArg(m.Name, string(AggCount), raw)
	if err != nil {
		return nil, err
	}
	count := &CountSelection{}
	if all, ok := obj[CountAll]; ok {
		b, err := boolArg(m.Name, "_count._all", all)
		if err != nil {
			return nil, err
		}
		count.All = b
	}
	fields, err := selectedFields(m, string(AggCount), obj, true)
	if err != nil {
		return nil, err
	}
	count.Fields = fields
	return count, nil
}

// selectedFields reads a {field: true} object and returns the selected
// fields in declaration order. CountAll is skipped when allowAll is set.
func selectedFields(m *schema.Model, argument string, obj map[string]any, allowAll bool) ([]string, error) {
	chosen := make(map[string]bool, len(obj))
	for _, key := range sortedKeys(obj) {
		if key == CountAll && allowAll {
			continue
		}
		if _, ok := m.Field(key); !ok {
			return nil, &queryerr.UnknownFieldError{Model: m.Name, Field: key}
		}
		b, err := boolArg(m.Name, argument+"."+key, obj[key])
		if err != nil {
			return nil, err
		}
		chosen[key] = b
	}
	out := make([]string, 0, len(chosen))
	for _, f := range m.Fields {
		if chosen[f.Name] {
			out = append(out, f.Name)
		}
	}
	return out, nil
}

// aggregateResultType returns the scalar type of fn applied to field.
func aggregateResultType(m *schema.Model, field schema.Field, fn AggregateFunc) (sqltype.ScalarType, error) {
	switch fn {
	case AggCount:
		return sqltype.TypeInt, nil
	case AggAvg, AggSum:
		if !field.Type.IsNumeric() {
			return 0, &queryerr.NonNumericAggregateError{Model: m.Name, Field: field.Name, Aggregate: string(fn)}
		}
		if fn == AggAvg && field.Type != sqltype.TypeDecimal {
			return sqltype.TypeFloat, nil
		}
		return field.Type, nil
	default:
		if !field.Type.IsComparable() {
			return 0, &queryerr.TypeMismatchError{Model: m.Name, Field: field.Name, Expected: field.Type.String(), Operator: string(fn)}
		}
		return field.Type, nil
	}
}

// CoerceAggregate converts a raw aggregate value returned by a database into
// its canonical form.
func CoerceAggregate(m *schema.Model, term AggregateTerm, raw any) (any, error) {
	if term.Func == AggCount {
		return scalars.Coerce(sqltype.TypeInt, raw)
	}
	field, ok := m.Field(term.Field)
	if !ok {
		return nil, &queryerr.UnknownFieldError{Model: m.Name, Field: term.Field}
	}
	t, err := aggregateResultType(m, field, term.Func)
	if err != nil {
		return nil, err
	}
	return scalars.Coerce(t, raw)
}

// ComputeAggregates evaluates terms over rows in memory and returns the
// values under their flat keys.
func ComputeAggregates(m *schema.Model, rows []Row, terms []AggregateTerm) Row {
	out := make(Row, len(terms))
	for _, term := range terms {
		out[term.Key()] = computeAggregate(m, rows, term)
	}
	return out
}

func computeAggregate(m *schema.Model, rows []Row, term AggregateTerm) any {
	if term.Func == AggCount && (term.Field == "" || term.Field == CountAll) {
		return int64(len(rows))
	}
	values := make([]any, 0, len(rows))
	for _, r := range rows {
		if v := r[term.Field]; v != nil {
			values = append(values, v)
		}
	}
	if term.Func == AggCount {
		return int64(len(values))
	}
	if len(values) == 0 {
		return nil
	}
	field, _ := m.Field(term.Field)

	switch term.Func {
	case AggSum, AggAvg:
		switch field.Type {
		case sqltype.TypeDecimal:
			sum := decimal.Zero
			for _, v := range values {
				if d, ok := toDecimal(v); ok {
					sum = sum.Add(d)
				}
			}
			if term.Func == AggAvg {
				return sum.Div(decimal.NewFromInt(int64(len(values))))
			}
			return sum
		case sqltype.TypeInt:
			var sum int64
			for _, v := range values {
				if i, ok := v.(int64); ok {
					sum += i
				}
			}
			if term.Func == AggAvg {
				return float64(sum) / float64(len(values))
			}
			return sum
		default:
			var sum float64
			for _, v := range values {
				if f, err := scalars.Coerce(sqltype.TypeFloat, v); err == nil {
					sum += f.(float64)
				}
			}
			if term.Func == AggAvg {
				return sum / float64(len(values))
			}
			return sum
		}
	default:
		best := values[0]
		for _, v := range values[1:] {
			c, ok := scalars.Compare(v, best)
			if !ok {
				continue
			}
			if (term.Func == AggMin && c < 0) || (term.Func == AggMax && c > 0) {
				best = v
			}
		}
		return best
	}
}

func toDecimal(v any) (decimal.Decimal, bool) {
	d, err := scalars.Coerce(sqltype.TypeDecimal, v)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d.(decimal.Decimal), true
}
