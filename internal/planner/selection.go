package planner

import (
	"fmt"

	"portfolio-query/internal/queryerr"
	"portfolio-query/internal/schema"
)

// Selection is a parsed select or include directive for one scope. Its
// variants are FieldSelection and RelationInclusion. A nil Selection selects
// every scalar field.
type Selection interface {
	selection()
}

// FieldSelection comes from select: only the listed fields, relations and
// counts are returned.
type FieldSelection struct {
	Fields    []string
	Relations []RelationSelection
	Count     *RelationCountSelection
}

// RelationInclusion comes from include: every scalar field plus the listed
// relations and counts.
type RelationInclusion struct {
	Relations []RelationSelection
	Count     *RelationCountSelection
}

func (*FieldSelection) selection()    {}
func (*RelationInclusion) selection() {}

// RelationSelection names a relation to attach. Args holds the nested
// arguments, or nil for a bare true.
type RelationSelection struct {
	Relation string
	Args     Args
}

// RelationCountSelection is a _count directive. All counts every list
// relation of the model; otherwise Relations lists the counted relations
// with their own optional where.
type RelationCountSelection struct {
	All       bool
	Relations []RelationSelection
}

// FetchPlan describes the rows and related rows an operation returns.
type FetchPlan struct {
	Model     *schema.Model
	Fields    []string
	Relations []*RelationFetch
	Counts    []*RelationCount
}

// RelationFetch attaches related rows. Query is scoped to the target model;
// for to-one relations only its Fetch is meaningful.
type RelationFetch struct {
	Relation schema.Relation
	Query    *ReadQuery
}

// RelationCount counts related rows matching Where.
type RelationCount struct {
	Relation schema.Relation
	Where    Predicate
}

// ParseSelection reads the select/include arguments of one scope. path names
// the scope in diagnostics.
func ParseSelection(m *schema.Model, args Args, path string) (Selection, error) {
	rawSelect, hasSelect := args["select"]
	rawInclude, hasInclude := args["include"]
	if hasSelect && hasInclude {
		return nil, &queryerr.ConflictingSelectionError{Model: m.Name, Path: path}
	}
	switch {
	case hasSelect:
		obj, err := objectArg(m.Name, "select", rawSelect)
		if err != nil {
			return nil, err
		}
		return parseFieldSelection(m, obj)
	case hasInclude:
		obj, err := objectArg(m.Name, "include", rawInclude)
		if err != nil {
			return nil, err
		}
		return parseRelationInclusion(m, obj)
	default:
		return nil, nil
	}
}

func parseFieldSelection(m *schema.Model, obj map[string]any) (*FieldSelection, error) {
	sel := &FieldSelection{}
	chosen := map[string]bool{}
	for _, key := range sortedKeys(obj) {
		value := obj[key]
		if key == string(AggCount) {
			count, err := parseRelationCount(m, value)
			if err != nil {
				return nil, err
			}
			sel.Count = count
			continue
		}
		if _, ok := m.Field(key); ok {
			b, err := boolArg(m.Name, "select."+key, value)
			if err != nil {
				return nil, err
			}
			chosen[key] = b
			continue
		}
		rs, ok, err := parseRelationEntry(m, "select", key, value)
		if err != nil {
			return nil, err
		}
		if ok {
			sel.Relations = append(sel.Relations, rs)
		}
	}
	for _, f := range m.Fields {
		if chosen[f.Name] {
			sel.Fields = append(sel.Fields, f.Name)
		}
	}
	if len(sel.Fields) == 0 && len(sel.Relations) == 0 && sel.Count == nil {
		return nil, &queryerr.InvalidArgumentError{Model: m.Name, Argument: "select", Message: "select must contain at least one truthy value"}
	}
	return sel, nil
}

func parseRelationInclusion(m *schema.Model, obj map[string]any) (*RelationInclusion, error) {
	inc := &RelationInclusion{}
	for _, key := range sortedKeys(obj) {
		value := obj[key]
		if key == string(AggCount) {
			count, err := parseRelationCount(m, value)
			if err != nil {
				return nil, err
			}
			inc.Count = count
			continue
		}
		if _, ok := m.Field(key); ok {
			return nil, &queryerr.InvalidArgumentError{Model: m.Name, Argument: "include." + key, Message: "include only accepts relations, use select for fields"}
		}
		rs, ok, err := parseRelationEntry(m, "include", key, value)
		if err != nil {
			return nil, err
		}
		if ok {
			inc.Relations = append(inc.Relations, rs)
		}
	}
	return inc, nil
}

func parseRelationEntry(m *schema.Model, argument, key string, value any) (RelationSelection, bool, error) {
	if _, ok := m.Relation(key); !ok {
		return RelationSelection{}, false, &queryerr.UnknownFieldError{Model: m.Name, Field: key}
	}
	switch v := value.(type) {
	case bool:
		return RelationSelection{Relation: key}, v, nil
	case map[string]any:
		return RelationSelection{Relation: key, Args: v}, true, nil
	default:
		return RelationSelection{}, false, &queryerr.InvalidArgumentError{Model: m.Name, Argument: argument + "." + key, Message: "expected a boolean or an object"}
	}
}

func parseRelationCount(m *schema.Model, value any) (*RelationCountSelection, error) {
	switch v := value.(type) {
	case bool:
		if !v {
			return nil, nil
		}
		return &RelationCountSelection{All: true}, nil
	case map[string]any:
		if err := checkArgs(m.Name, v, "select"); err != nil {
			return nil, err
		}
		obj, err := objectArg(m.Name, "_count.select", v["select"])
		if err != nil {
			return nil, err
		}
		count := &RelationCountSelection{}
		for _, key := range sortedKeys(obj) {
			rel, ok := m.Relation(key)
			if !ok {
				return nil, &queryerr.UnknownFieldError{Model: m.Name, Field: key}
			}
			if !rel.IsList() {
				return nil, &queryerr.InvalidArgumentError{Model: m.Name, Argument: "_count." + key, Message: "only list relations can be counted"}
			}
			rs, ok, err := parseRelationEntry(m, "_count.select", key, obj[key])
			if err != nil {
				return nil, err
			}
			if ok {
				count.Relations = append(count.Relations, rs)
			}
		}
		return count, nil
	default:
		return nil, &queryerr.InvalidArgumentError{Model: m.Name, Argument: "_count", Message: "expected true or {select: {...}}"}
	}
}

// PlanSelection resolves sel into a fetch plan for model.
func (p *Planner) PlanSelection(model string, sel Selection) (*FetchPlan, error) {
	m, err := p.reg.Model(model)
	if err != nil {
		return nil, err
	}
	return p.planSelection(m, sel, 1, "")
}

func (p *Planner) planSelection(m *schema.Model, sel Selection, depth int, path string) (*FetchPlan, error) {
	if p.limits.MaxDepth > 0 && depth > p.limits.MaxDepth {
		return nil, &queryerr.InvalidArgumentError{Model: m.Name, Argument: "include", Message: fmt.Sprintf("nesting exceeds the maximum depth of %d", p.limits.MaxDepth)}
	}
	plan := &FetchPlan{Model: m}
	var relations []RelationSelection
	var count *RelationCountSelection

	switch s := sel.(type) {
	case nil:
		plan.Fields = m.ScalarFieldNames()
	case *FieldSelection:
		plan.Fields = append([]string(nil), s.Fields...)
		relations, count = s.Relations, s.Count
	case *RelationInclusion:
		plan.Fields = m.ScalarFieldNames()
		relations, count = s.Relations, s.Count
	}

	for _, rs := range relations {
		rel, _ := m.Relation(rs.Relation)
		target, err := p.reg.Model(rel.Target)
		if err != nil {
			return nil, err
		}
		nestedPath := joinPath(path, rel.Name)
		args := rs.Args
		if args == nil {
			args = Args{}
		}
		if rel.IsList() {
			if err := checkArgs(target.Name, args, "where", "orderBy", "cursor", "take", "skip", "distinct", "select", "include"); err != nil {
				return nil, err
			}
		} else if err := checkArgs(target.Name, args, "select", "include"); err != nil {
			return nil, err
		}
		query, err := p.readQueryAt(target, args, true, depth+1, nestedPath)
		if err != nil {
			return nil, err
		}
		plan.Relations = append(plan.Relations, &RelationFetch{Relation: rel, Query: query})
	}

	if count != nil {
		if count.All {
			for _, rel := range m.Relations {
				if rel.IsList() {
					plan.Counts = append(plan.Counts, &RelationCount{Relation: rel, Where: True()})
				}
			}
		}
		for _, rs := range count.Relations {
			rel, _ := m.Relation(rs.Relation)
			where := True()
			if rs.Args != nil {
				target, err := p.reg.Model(rel.Target)
				if err != nil {
					return nil, err
				}
				if err := checkArgs(target.Name, rs.Args, "where"); err != nil {
					return nil, err
				}
				if rawWhere, ok := rs.Args["where"]; ok {
					obj, err := objectArg(target.Name, "where", rawWhere)
					if err != nil {
						return nil, err
					}
					where, err = p.parseWhere(target, obj, modeWhere)
					if err != nil {
						return nil, err
					}
				}
			}
			plan.Counts = append(plan.Counts, &RelationCount{Relation: rel, Where: where})
		}
	}
	return plan, nil
}

func joinPath(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

// Columns lists the scalar fields an executor must load to serve the plan:
// the requested fields, the identity key, and the keys relations join on.
func (f *FetchPlan) Columns() []string {
	need := map[string]bool{}
	for _, name := range f.Fields {
		need[name] = true
	}
	for _, name := range f.Model.IdentityKey().Fields {
		need[name] = true
	}
	for _, rf := range f.Relations {
		for _, name := range rf.Relation.LocalFields {
			need[name] = true
		}
	}
	for _, rc := range f.Counts {
		for _, name := range rc.Relation.LocalFields {
			need[name] = true
		}
	}
	out := make([]string, 0, len(need))
	for _, field := range f.Model.Fields {
		if need[field.Name] {
			out = append(out, field.Name)
		}
	}
	return out
}

// Reshape returns a copy of row holding exactly what the plan asked for.
func (f *FetchPlan) Reshape(row Row) Row {
	if row == nil {
		return nil
	}
	out := make(Row, len(f.Fields)+len(f.Relations)+1)
	for _, name := range f.Fields {
		out[name] = row[name]
	}
	for _, rf := range f.Relations {
		nested := rf.Query.Fetch
		value := row[rf.Relation.Name]
		if rf.Relation.IsList() {
			related := AsRows(value)
			shaped := make([]Row, 0, len(related))
			for _, r := range related {
				shaped = append(shaped, nested.Reshape(r))
			}
			out[rf.Relation.Name] = shaped
			continue
		}
		if related := AsRow(value); related != nil {
			out[rf.Relation.Name] = nested.Reshape(related)
		} else {
			out[rf.Relation.Name] = nil
		}
	}
	if len(f.Counts) > 0 {
		counts := AsRow(row[string(AggCount)])
		shaped := make(Row, len(f.Counts))
		for _, rc := range f.Counts {
			if v, ok := counts[rc.Relation.Name]; ok {
				shaped[rc.Relation.Name] = v
			} else {
				shaped[rc.Relation.Name] = int64(0)
			}
		}
		out[string(AggCount)] = shaped
	}
	return out
}

// AsRow converts a nested record value to a Row.
func AsRow(v any) Row {
	switch r := v.(type) {
	case Row:
		return r
	case map[string]any:
		return Row(r)
	default:
		return nil
	}
}

// AsRows converts a nested list value to rows.
func AsRows(v any) []Row {
	switch rows := v.(type) {
	case []Row:
		return rows
	case []map[string]any:
		out := make([]Row, len(rows))
		for i, r := range rows {
			out[i] = Row(r)
		}
		return out
	case []any:
		out := make([]Row, 0, len(rows))
		for _, r := range rows {
			if row := AsRow(r); row != nil {
				out = append(out, row)
			}
		}
		return out
	default:
		return nil
	}
}
