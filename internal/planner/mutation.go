package planner

import (
	"fmt"
	"strings"

	"portfolio-query/internal/cursor"
	"portfolio-query/internal/queryerr"
	"portfolio-query/internal/scalars"
	"portfolio-query/internal/schema"
	"portfolio-query/internal/sqltype"

	"github.com/shopspring/decimal"
)

// AssignOp is the kind of change an update applies to one field.
type AssignOp string

const (
	AssignSet       AssignOp = "set"
	AssignIncrement AssignOp = "increment"
	AssignDecrement AssignOp = "decrement"
	AssignMultiply  AssignOp = "multiply"
	AssignDivide    AssignOp = "divide"
)

// Assignment changes one field. Numeric ops are applied atomically by the
// executor against the stored value.
type Assignment struct {
	Field schema.Field
	Op    AssignOp
	Value any
}

// Apply returns the field's new value given its current one. Numeric ops on
// a null value leave it null.
func (a Assignment) Apply(current any) (any, error) {
	if a.Op == AssignSet {
		return a.Value, nil
	}
	if current == nil {
		return nil, nil
	}
	switch a.Field.Type {
	case sqltype.TypeInt:
		cur, err := scalars.Coerce(sqltype.TypeInt, current)
		if err != nil {
			return nil, err
		}
		x, y := cur.(int64), a.Value.(int64)
		switch a.Op {
		case AssignIncrement:
			return x + y, nil
		case AssignDecrement:
			return x - y, nil
		case AssignMultiply:
			return x * y, nil
		default:
			return x / y, nil
		}
	case sqltype.TypeFloat:
		cur, err := scalars.Coerce(sqltype.TypeFloat, current)
		if err != nil {
			return nil, err
		}
		x, y := cur.(float64), a.Value.(float64)
		switch a.Op {
		case AssignIncrement:
			return x + y, nil
		case AssignDecrement:
			return x - y, nil
		case AssignMultiply:
			return x * y, nil
		default:
			return x / y, nil
		}
	case sqltype.TypeDecimal:
		x, ok := toDecimal(current)
		if !ok {
			return nil, fmt.Errorf("cannot apply %s to %v", a.Op, current)
		}
		y := a.Value.(decimal.Decimal)
		switch a.Op {
		case AssignIncrement:
			return x.Add(y), nil
		case AssignDecrement:
			return x.Sub(y), nil
		case AssignMultiply:
			return x.Mul(y), nil
		default:
			return x.Div(y), nil
		}
	}
	return nil, fmt.Errorf("cannot apply %s to field %s of type %s", a.Op, a.Field.Name, a.Field.Type)
}

// Link resolves an owning relation's foreign key at execution time by
// looking up Target. A missing target row is a NotFoundError.
type Link struct {
	Relation schema.Relation
	Target   *cursor.Cursor
}

// RowInsert is one row to insert. Values holds every scalar field of the
// model once defaults are applied, except foreign keys filled from Links or
// FromParent.
type RowInsert struct {
	Model  *schema.Model
	Values Row
	Links  []Link
	// FromParent is set on rows nested under an update: the relation's
	// foreign key is copied from the updated row before inserting.
	FromParent *schema.Relation
}

// ChangeSet lists row inserts in apply order.
type ChangeSet []*RowInsert

// CreateOp inserts Inserts in order. Inserts[Main] is the row the caller
// created; the others come from nested relation input.
type CreateOp struct {
	Model   *schema.Model
	Inserts ChangeSet
	Main    int
	Fetch   *FetchPlan
}

func (*CreateOp) Verb() Verb { return VerbCreate }

func (o *CreateOp) ModelName() string { return o.Model.Name }

// Row returns the planned main row.
func (o *CreateOp) Row() *RowInsert { return o.Inserts[o.Main] }

// CreateManyOp inserts flat rows. With SkipDuplicates rows violating a
// unique key are dropped instead of failing the operation.
type CreateManyOp struct {
	Model          *schema.Model
	Inserts        ChangeSet
	SkipDuplicates bool
}

func (*CreateManyOp) Verb() Verb { return VerbCreateMany }

func (o *CreateManyOp) ModelName() string { return o.Model.Name }

// UpdateOp changes the single row identified by Target that also satisfies
// Filter. Before rows are inserted first (nested to-one creates), After rows
// once the update applied (nested to-many creates).
type UpdateOp struct {
	Model  *schema.Model
	Target *cursor.Cursor
	Filter Predicate
	Set    []Assignment
	Links  []Link
	Before ChangeSet
	After  ChangeSet
	Fetch  *FetchPlan
}

func (*UpdateOp) Verb() Verb { return VerbUpdate }

func (o *UpdateOp) ModelName() string { return o.Model.Name }

// Where returns the predicate selecting the target row.
func (o *UpdateOp) Where() Predicate {
	return AllOf(KeyPredicate(o.Model, o.Target.Key.Fields, o.Target.Values), o.Filter)
}

// UpdateManyOp applies Set to every row matching Where.
type UpdateManyOp struct {
	Model *schema.Model
	Where Predicate
	Set   []Assignment
}

func (*UpdateManyOp) Verb() Verb { return VerbUpdateMany }

func (o *UpdateManyOp) ModelName() string { return o.Model.Name }

// UpsertOp updates the row identified by Target or creates it when absent.
// Both branches are fully planned before execution.
type UpsertOp struct {
	Model  *schema.Model
	Target *cursor.Cursor
	Filter Predicate
	Create *CreateOp
	Update *UpdateOp
	Fetch  *FetchPlan
}

func (*UpsertOp) Verb() Verb { return VerbUpsert }

func (o *UpsertOp) ModelName() string { return o.Model.Name }

// DeleteOp deletes one row and returns it as it was.
type DeleteOp struct {
	Model  *schema.Model
	Target *cursor.Cursor
	Filter Predicate
	Fetch  *FetchPlan
}

func (*DeleteOp) Verb() Verb { return VerbDelete }

func (o *DeleteOp) ModelName() string { return o.Model.Name }

// Where returns the predicate selecting the target row.
func (o *DeleteOp) Where() Predicate {
	return AllOf(KeyPredicate(o.Model, o.Target.Key.Fields, o.Target.Values), o.Filter)
}

// DeleteManyOp deletes every row matching Where.
type DeleteManyOp struct {
	Model *schema.Model
	Where Predicate
}

func (*DeleteManyOp) Verb() Verb { return VerbDeleteMany }

func (o *DeleteManyOp) ModelName() string { return o.Model.Name }

// parentLink ties a nested row to the row it is created under. values is
// nil when the parent is only known at execution time.
type parentLink struct {
	relation schema.Relation
	values   Row
}

// Create plans a create.
func (p *Planner) Create(model string, args Args) (*CreateOp, error) {
	m, err := p.reg.Model(model)
	if err != nil {
		return nil, err
	}
	if err := checkArgs(m.Name, args, "data", "select", "include"); err != nil {
		return nil, err
	}
	data, err := requiredObject(m, args, "data")
	if err != nil {
		return nil, err
	}
	op, err := p.planCreate(m, data)
	if err != nil {
		return nil, err
	}
	if op.Fetch, err = p.fetchFor(m, args); err != nil {
		return nil, err
	}
	return op, nil
}

func (p *Planner) planCreate(m *schema.Model, data map[string]any) (*CreateOp, error) {
	inserts, main, err := p.planInsert(m, data, nil, 1)
	if err != nil {
		return nil, err
	}
	return &CreateOp{Model: m, Inserts: inserts, Main: main}, nil
}

// CreateMany plans a createMany. Rows take scalar fields only; foreign keys
// are given directly.
func (p *Planner) CreateMany(model string, args Args) (*CreateManyOp, error) {
	m, err := p.reg.Model(model)
	if err != nil {
		return nil, err
	}
	if err := checkArgs(m.Name, args, "data", "skipDuplicates"); err != nil {
		return nil, err
	}
	raw, ok := args["data"]
	if !ok || raw == nil {
		return nil, &queryerr.MissingFieldError{Model: m.Name, Field: "data"}
	}
	items, err := objectList(m.Name, "data", raw)
	if err != nil {
		return nil, err
	}
	op := &CreateManyOp{Model: m}
	if rawSkip, ok := args["skipDuplicates"]; ok {
		if op.SkipDuplicates, err = boolArg(m.Name, "skipDuplicates", rawSkip); err != nil {
			return nil, err
		}
	}
	for _, item := range items {
		for key := range item {
			if _, isRel := m.Relation(key); isRel {
				return nil, &queryerr.InvalidArgumentError{Model: m.Name, Argument: "data." + key, Message: "createMany does not accept relation input"}
			}
		}
		inserts, _, err := p.planInsert(m, item, nil, 1)
		if err != nil {
			return nil, err
		}
		op.Inserts = append(op.Inserts, inserts...)
	}
	return op, nil
}

// planInsert plans the row described by data and every row nested in it.
// The change set is in apply order and main indexes the row itself.
func (p *Planner) planInsert(m *schema.Model, data map[string]any, parent *parentLink, depth int) (ChangeSet, int, error) {
	if p.limits.MaxDepth > 0 && depth > p.limits.MaxDepth {
		return nil, 0, &queryerr.InvalidArgumentError{Model: m.Name, Argument: "data", Message: fmt.Sprintf("nesting exceeds the maximum depth of %d", p.limits.MaxDepth)}
	}
	row := &RowInsert{Model: m, Values: Row{}}
	relInput := map[string]map[string]any{}

	for _, key := range sortedKeys(data) {
		value := data[key]
		if field, ok := m.Field(key); ok {
			if field.UpdatedAt {
				return nil, 0, &queryerr.InvalidArgumentError{Model: m.Name, Argument: "data." + key, Message: key + " is set automatically"}
			}
			if parent != nil && containsString(parent.relation.LocalFields, key) {
				return nil, 0, &queryerr.InvalidArgumentError{Model: m.Name, Argument: "data." + key, Message: "set by the enclosing " + parent.relation.Name + " relation"}
			}
			v, err := p.coerce(m, field, value)
			if err != nil {
				return nil, 0, err
			}
			row.Values[key] = v
			continue
		}
		if rel, ok := m.Relation(key); ok {
			if parent != nil && rel.Name == parent.relation.Name {
				return nil, 0, &queryerr.InvalidArgumentError{Model: m.Name, Argument: "data." + key, Message: "set by the enclosing relation"}
			}
			obj, err := objectArg(m.Name, "data."+key, value)
			if err != nil {
				return nil, 0, err
			}
			relInput[rel.Name] = obj
			continue
		}
		return nil, 0, &queryerr.UnknownFieldError{Model: m.Name, Field: key}
	}

	if err := checkAmbiguity(m, relInput, row.Values); err != nil {
		return nil, 0, err
	}
	if parent != nil {
		if parent.values != nil {
			for i, local := range parent.relation.LocalFields {
				row.Values[local] = parent.values[parent.relation.RemoteFields[i]]
			}
		} else {
			rel := parent.relation
			row.FromParent = &rel
		}
	}

	var before, after ChangeSet
	var toMany []schema.Relation
	for _, rel := range m.Relations {
		input, ok := relInput[rel.Name]
		if !ok {
			continue
		}
		if rel.IsList() {
			toMany = append(toMany, rel)
			continue
		}
		nested, err := p.planToOne(m, rel, input, row.Values, &row.Links, false, depth)
		if err != nil {
			return nil, 0, err
		}
		before = append(before, nested...)
	}

	if err := p.applyDefaults(m, row); err != nil {
		return nil, 0, err
	}

	for _, rel := range toMany {
		nested, err := p.planToManyCreate(m, rel, relInput[rel.Name], row.Values, depth)
		if err != nil {
			return nil, 0, err
		}
		after = append(after, nested...)
	}

	inserts := make(ChangeSet, 0, len(before)+1+len(after))
	inserts = append(inserts, before...)
	main := len(inserts)
	inserts = append(inserts, row)
	inserts = append(inserts, after...)
	return inserts, main, nil
}

// checkAmbiguity rejects relations given both through nested input and
// through their foreign key scalars.
func checkAmbiguity(m *schema.Model, relInput map[string]map[string]any, values Row) error {
	for _, rel := range m.Relations {
		if _, ok := relInput[rel.Name]; !ok || !rel.Owning {
			continue
		}
		var fields []string
		for _, local := range rel.LocalFields {
			if _, set := values[local]; set {
				fields = append(fields, local)
			}
		}
		if len(fields) > 0 {
			return &queryerr.AmbiguousRelationInputError{Model: m.Name, Relation: rel.Name, Fields: fields}
		}
	}
	return nil
}

// applyDefaults fills omitted fields and reports the first required one
// that is still missing. A missing foreign key is reported by relation name.
func (p *Planner) applyDefaults(m *schema.Model, row *RowInsert) error {
	linked := map[string]bool{}
	for _, l := range row.Links {
		for _, f := range l.Relation.LocalFields {
			linked[f] = true
		}
	}
	if row.FromParent != nil {
		for _, f := range row.FromParent.LocalFields {
			linked[f] = true
		}
	}
	now := p.timestamp()
	for _, f := range m.Fields {
		if _, set := row.Values[f.Name]; set || linked[f.Name] {
			continue
		}
		switch {
		case f.UpdatedAt:
			row.Values[f.Name] = now
		case f.Default != nil:
			switch f.Default.Kind {
			case schema.DefaultNow:
				row.Values[f.Name] = now
			case schema.DefaultUUID:
				row.Values[f.Name] = p.newID()
			default:
				row.Values[f.Name] = f.Default.Value
			}
		case f.Optional:
			row.Values[f.Name] = nil
		default:
			if rel, ok := m.ForeignKeyRelation(f.Name); ok {
				return &queryerr.MissingFieldError{Model: m.Name, Field: rel.Name}
			}
			return &queryerr.MissingFieldError{Model: m.Name, Field: f.Name}
		}
	}
	return nil
}

// planToOne handles connect/create/disconnect on an owning to-one relation.
// It writes the foreign key into values, records a Link when the target is
// addressed by another unique key, and returns rows to insert first.
func (p *Planner) planToOne(m *schema.Model, rel schema.Relation, input map[string]any, values Row, links *[]Link, update bool, depth int) (ChangeSet, error) {
	if !rel.Owning {
		return nil, &queryerr.InvalidArgumentError{Model: m.Name, Argument: "data." + rel.Name, Message: "nested writes are only supported from the side holding the foreign key"}
	}
	allowed := []string{"connect", "create"}
	if update {
		allowed = append(allowed, "disconnect")
	}
	if err := checkArgs(m.Name, input, allowed...); err != nil {
		return nil, relationOpError(m, rel, err)
	}
	if len(input) != 1 {
		return nil, &queryerr.InvalidArgumentError{Model: m.Name, Argument: "data." + rel.Name, Message: "expected exactly one of " + strings.Join(allowed, ", ")}
	}
	target, err := p.reg.Model(rel.Target)
	if err != nil {
		return nil, err
	}

	if raw, ok := input["disconnect"]; ok {
		b, err := boolArg(m.Name, "data."+rel.Name+".disconnect", raw)
		if err != nil {
			return nil, err
		}
		if !rel.Optional {
			return nil, &queryerr.InvalidArgumentError{Model: m.Name, Argument: "data." + rel.Name + ".disconnect", Message: "relation " + rel.Name + " is required and cannot be disconnected"}
		}
		if b {
			for _, local := range rel.LocalFields {
				values[local] = nil
			}
		}
		return nil, nil
	}

	if raw, ok := input["connect"]; ok {
		obj, err := objectArg(m.Name, "data."+rel.Name+".connect", raw)
		if err != nil {
			return nil, err
		}
		keys, err := p.reg.UniqueKeysOf(target.Name)
		if err != nil {
			return nil, err
		}
		c, rest, err := cursor.Resolve(target, keys, obj, "connect")
		if err != nil {
			return nil, err
		}
		if len(rest) > 0 {
			return nil, &queryerr.InvalidArgumentError{Model: m.Name, Argument: "data." + rel.Name + ".connect", Message: "connect accepts unique key fields only"}
		}
		if sameFields(c.Key.Fields, rel.RemoteFields) {
			for i, local := range rel.LocalFields {
				values[local] = c.Values[rel.RemoteFields[i]]
			}
			return nil, nil
		}
		*links = append(*links, Link{Relation: rel, Target: c})
		return nil, nil
	}

	obj, err := objectArg(m.Name, "data."+rel.Name+".create", input["create"])
	if err != nil {
		return nil, err
	}
	nested, main, err := p.planInsert(target, obj, nil, depth+1)
	if err != nil {
		return nil, err
	}
	created := nested[main].Values
	for i, local := range rel.LocalFields {
		values[local] = created[rel.RemoteFields[i]]
	}
	return nested, nil
}

// planToManyCreate plans nested creates on a list relation. parentValues
// carries the parent's key, or is nil when it is resolved during execution.
func (p *Planner) planToManyCreate(m *schema.Model, rel schema.Relation, input map[string]any, parentValues Row, depth int) (ChangeSet, error) {
	if err := checkArgs(m.Name, input, "create"); err != nil {
		return nil, relationOpError(m, rel, err)
	}
	target, err := p.reg.Model(rel.Target)
	if err != nil {
		return nil, err
	}
	back, ok := target.Relation(rel.Inverse)
	if !ok {
		return nil, &queryerr.UnknownFieldError{Model: target.Name, Field: rel.Inverse}
	}
	raw, ok := input["create"]
	if !ok {
		return nil, nil
	}
	items, err := objectList(m.Name, "data."+rel.Name+".create", raw)
	if err != nil {
		return nil, err
	}
	var out ChangeSet
	for _, item := range items {
		nested, _, err := p.planInsert(target, item, &parentLink{relation: back, values: parentValues}, depth+1)
		if err != nil {
			return nil, err
		}
		out = append(out, nested...)
	}
	return out, nil
}

func relationOpError(m *schema.Model, rel schema.Relation, err error) error {
	if ia, ok := err.(*queryerr.InvalidArgumentError); ok {
		return &queryerr.InvalidArgumentError{Model: m.Name, Argument: "data." + rel.Name + "." + ia.Argument, Message: "unsupported nested operation"}
	}
	return err
}

// Update plans an update of one row.
func (p *Planner) Update(model string, args Args) (*UpdateOp, error) {
	m, err := p.reg.Model(model)
	if err != nil {
		return nil, err
	}
	if err := checkArgs(m.Name, args, "where", "data", "select", "include"); err != nil {
		return nil, err
	}
	target, filter, err := p.uniqueWhere(m, args["where"])
	if err != nil {
		return nil, err
	}
	data, err := requiredObject(m, args, "data")
	if err != nil {
		return nil, err
	}
	op, err := p.planUpdate(m, target, filter, data)
	if err != nil {
		return nil, err
	}
	if op.Fetch, err = p.fetchFor(m, args); err != nil {
		return nil, err
	}
	return op, nil
}

func (p *Planner) planUpdate(m *schema.Model, target *cursor.Cursor, filter Predicate, data map[string]any) (*UpdateOp, error) {
	op := &UpdateOp{Model: m, Target: target, Filter: filter}
	values := Row{}
	relInput := map[string]map[string]any{}
	for _, key := range sortedKeys(data) {
		if _, isRel := m.Relation(key); isRel {
			obj, err := objectArg(m.Name, "data."+key, data[key])
			if err != nil {
				return nil, err
			}
			relInput[key] = obj
		}
	}
	set, err := p.planAssignments(m, data, true)
	if err != nil {
		return nil, err
	}
	for _, a := range set {
		values[a.Field.Name] = a.Value
	}
	if err := checkAmbiguity(m, relInput, values); err != nil {
		return nil, err
	}

	for _, rel := range m.Relations {
		input, ok := relInput[rel.Name]
		if !ok {
			continue
		}
		if rel.IsList() {
			nested, err := p.planToManyCreate(m, rel, input, nil, 1)
			if err != nil {
				return nil, err
			}
			op.After = append(op.After, nested...)
			continue
		}
		fk := Row{}
		nested, err := p.planToOne(m, rel, input, fk, &op.Links, true, 1)
		if err != nil {
			return nil, err
		}
		op.Before = append(op.Before, nested...)
		for _, local := range rel.LocalFields {
			if v, ok := fk[local]; ok {
				f, _ := m.Field(local)
				set = append(set, Assignment{Field: f, Op: AssignSet, Value: v})
			}
		}
	}
	op.Set = append(set, p.touch(m)...)
	return op, nil
}

// touch returns the updatedAt assignments every update carries.
func (p *Planner) touch(m *schema.Model) []Assignment {
	var out []Assignment
	now := p.timestamp()
	for _, f := range m.Fields {
		if f.UpdatedAt {
			out = append(out, Assignment{Field: f, Op: AssignSet, Value: now})
		}
	}
	return out
}

// planAssignments parses the scalar entries of update data. Relation keys
// are skipped when allowRelations is set and rejected otherwise.
func (p *Planner) planAssignments(m *schema.Model, data map[string]any, allowRelations bool) ([]Assignment, error) {
	var out []Assignment
	for _, key := range sortedKeys(data) {
		value := data[key]
		field, ok := m.Field(key)
		if !ok {
			if _, isRel := m.Relation(key); isRel {
				if allowRelations {
					continue
				}
				return nil, &queryerr.InvalidArgumentError{Model: m.Name, Argument: "data." + key, Message: "relation input is not accepted here"}
			}
			return nil, &queryerr.UnknownFieldError{Model: m.Name, Field: key}
		}
		if field.UpdatedAt || field.Name == "createdAt" {
			return nil, &queryerr.InvalidArgumentError{Model: m.Name, Argument: "data." + key, Message: key + " is set automatically"}
		}
		a, err := p.parseAssignment(m, field, value)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (p *Planner) parseAssignment(m *schema.Model, field schema.Field, value any) (Assignment, error) {
	obj, isObj := value.(map[string]any)
	if !isObj || (field.Type == sqltype.TypeJSON && !isAssignObject(obj)) {
		v, err := p.coerce(m, field, value)
		if err != nil {
			return Assignment{}, err
		}
		return Assignment{Field: field, Op: AssignSet, Value: v}, nil
	}
	if len(obj) != 1 {
		return Assignment{}, &queryerr.InvalidArgumentError{Model: m.Name, Argument: "data." + field.Name, Message: "expected exactly one of set, increment, decrement, multiply, divide"}
	}
	for name, raw := range obj {
		op := AssignOp(name)
		switch op {
		case AssignSet:
			v, err := p.coerce(m, field, raw)
			if err != nil {
				return Assignment{}, err
			}
			return Assignment{Field: field, Op: op, Value: v}, nil
		case AssignIncrement, AssignDecrement, AssignMultiply, AssignDivide:
			if !field.Type.IsNumeric() {
				return Assignment{}, &queryerr.TypeMismatchError{Model: m.Name, Field: field.Name, Expected: field.Type.String(), Operator: name}
			}
			if raw == nil {
				return Assignment{}, &queryerr.TypeMismatchError{Model: m.Name, Field: field.Name, Expected: field.Type.String(), Value: raw}
			}
			v, err := p.coerceAs(m, field, field.Type, raw)
			if err != nil {
				return Assignment{}, err
			}
			if op == AssignDivide && isZero(v) {
				return Assignment{}, &queryerr.InvalidArgumentError{Model: m.Name, Argument: "data." + field.Name + ".divide", Message: "division by zero"}
			}
			return Assignment{Field: field, Op: op, Value: v}, nil
		default:
			return Assignment{}, &queryerr.InvalidArgumentError{Model: m.Name, Argument: "data." + field.Name, Message: "unknown update operation " + name}
		}
	}
	return Assignment{}, nil
}

func isAssignObject(obj map[string]any) bool {
	if len(obj) != 1 {
		return false
	}
	for name := range obj {
		switch AssignOp(name) {
		case AssignSet, AssignIncrement, AssignDecrement, AssignMultiply, AssignDivide:
			return true
		}
	}
	return false
}

func isZero(v any) bool {
	switch n := v.(type) {
	case int64:
		return n == 0
	case float64:
		return n == 0
	case decimal.Decimal:
		return n.IsZero()
	default:
		return false
	}
}

// UpdateMany plans an updateMany. Data takes scalar fields only.
func (p *Planner) UpdateMany(model string, args Args) (*UpdateManyOp, error) {
	m, err := p.reg.Model(model)
	if err != nil {
		return nil, err
	}
	if err := checkArgs(m.Name, args, "where", "data"); err != nil {
		return nil, err
	}
	where, err := p.optionalWhere(m, args)
	if err != nil {
		return nil, err
	}
	data, err := requiredObject(m, args, "data")
	if err != nil {
		return nil, err
	}
	set, err := p.planAssignments(m, data, false)
	if err != nil {
		return nil, err
	}
	return &UpdateManyOp{Model: m, Where: where, Set: append(set, p.touch(m)...)}, nil
}

// Upsert plans an upsert. Both the create and the update branch are
// validated here, so neither runs when the other is malformed.
func (p *Planner) Upsert(model string, args Args) (*UpsertOp, error) {
	m, err := p.reg.Model(model)
	if err != nil {
		return nil, err
	}
	if err := checkArgs(m.Name, args, "where", "create", "update", "select", "include"); err != nil {
		return nil, err
	}
	target, filter, err := p.uniqueWhere(m, args["where"])
	if err != nil {
		return nil, err
	}
	createData, err := requiredObject(m, args, "create")
	if err != nil {
		return nil, err
	}
	updateData, err := requiredObject(m, args, "update")
	if err != nil {
		return nil, err
	}
	create, err := p.planCreate(m, createData)
	if err != nil {
		return nil, err
	}
	update, err := p.planUpdate(m, target, filter, updateData)
	if err != nil {
		return nil, err
	}
	fetch, err := p.fetchFor(m, args)
	if err != nil {
		return nil, err
	}
	create.Fetch, update.Fetch = fetch, fetch
	return &UpsertOp{Model: m, Target: target, Filter: filter, Create: create, Update: update, Fetch: fetch}, nil
}

// Delete plans a delete of one row.
func (p *Planner) Delete(model string, args Args) (*DeleteOp, error) {
	m, err := p.reg.Model(model)
	if err != nil {
		return nil, err
	}
	if err := checkArgs(m.Name, args, "where", "select", "include"); err != nil {
		return nil, err
	}
	target, filter, err := p.uniqueWhere(m, args["where"])
	if err != nil {
		return nil, err
	}
	fetch, err := p.fetchFor(m, args)
	if err != nil {
		return nil, err
	}
	return &DeleteOp{Model: m, Target: target, Filter: filter, Fetch: fetch}, nil
}

// DeleteMany plans a deleteMany. A missing where deletes every row.
func (p *Planner) DeleteMany(model string, args Args) (*DeleteManyOp, error) {
	m, err := p.reg.Model(model)
	if err != nil {
		return nil, err
	}
	if err := checkArgs(m.Name, args, "where"); err != nil {
		return nil, err
	}
	where, err := p.optionalWhere(m, args)
	if err != nil {
		return nil, err
	}
	return &DeleteManyOp{Model: m, Where: where}, nil
}

func (p *Planner) optionalWhere(m *schema.Model, args Args) (Predicate, error) {
	raw, ok := args["where"]
	if !ok || raw == nil {
		return True(), nil
	}
	obj, err := objectArg(m.Name, "where", raw)
	if err != nil {
		return nil, err
	}
	return p.parseWhere(m, obj, modeWhere)
}

func (p *Planner) fetchFor(m *schema.Model, args Args) (*FetchPlan, error) {
	sel, err := ParseSelection(m, args, "")
	if err != nil {
		return nil, err
	}
	return p.planSelection(m, sel, 1, "")
}

func requiredObject(m *schema.Model, args Args, name string) (map[string]any, error) {
	raw, ok := args[name]
	if !ok || raw == nil {
		return nil, &queryerr.MissingFieldError{Model: m.Name, Field: name}
	}
	return objectArg(m.Name, name, raw)
}

func sameFields(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for _, f := range a {
		if !containsString(b, f) {
			return false
		}
	}
	return true
}

