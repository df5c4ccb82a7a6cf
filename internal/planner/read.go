package planner

import (
	"fmt"

	"portfolio-query/internal/cursor"
	"portfolio-query/internal/queryerr"
	"portfolio-query/internal/schema"
)

// ReadQuery is a validated row query: filter, total order, cursor window and
// distinct fields. Fetch is nil for queries that return no records.
type ReadQuery struct {
	Model    *schema.Model
	Where    Predicate
	OrderBy  []OrderTerm
	Cursor   *cursor.Cursor
	Window   cursor.Window
	Distinct []string
	Fetch    *FetchPlan
}

// Apply filters, sorts, deduplicates and windows rows in memory. Rows must
// carry every field the predicate reads; loader resolves relation filters.
func (q *ReadQuery) Apply(rows []Row, loader RelationLoader) []Row {
	out := make([]Row, 0, len(rows))
	for _, row := range rows {
		if Matches(q.Where, row, loader) {
			out = append(out, row)
		}
	}
	return q.Page(out)
}

// Page sorts, deduplicates and windows rows that already satisfy Where. It
// sorts rows in place.
func (q *ReadQuery) Page(rows []Row) []Row {
	SortRows(rows, q.OrderBy)
	rows = cursor.Distinct(rows, q.Distinct, rowValues)
	page := cursor.Slice(rows, q.Cursor, q.Window, rowValues)
	if page == nil {
		return []Row{}
	}
	return page
}

func rowValues(r Row) map[string]any { return r }

// FindOp is a planned findUnique/findFirst/findMany.
type FindOp struct {
	verb Verb
	Read *ReadQuery
	// Unique is the key lookup of findUnique variants.
	Unique *cursor.Cursor
}

func (o *FindOp) Verb() Verb { return o.verb }

func (o *FindOp) ModelName() string { return o.Read.Model.Name }

// Single reports whether the operation returns at most one record.
func (o *FindOp) Single() bool { return o.verb != VerbFindMany }

// NotFound returns the error an OrThrow variant raises for an empty result.
func (o *FindOp) NotFound() error {
	err := &queryerr.NotFoundError{Model: o.Read.Model.Name, Operation: string(o.verb)}
	if o.Unique != nil {
		err.Key = o.Unique.Values
	}
	return err
}

// FindMany plans a findMany.
func (p *Planner) FindMany(model string, args Args) (*FindOp, error) {
	m, err := p.reg.Model(model)
	if err != nil {
		return nil, err
	}
	if err := checkArgs(m.Name, args, "where", "orderBy", "cursor", "take", "skip", "distinct", "select", "include"); err != nil {
		return nil, err
	}
	read, err := p.readQuery(m, args, true)
	if err != nil {
		return nil, err
	}
	return &FindOp{verb: VerbFindMany, Read: read}, nil
}

// FindFirst plans a findFirst. Take defaults to 1; a negative take returns
// the last matching row.
func (p *Planner) FindFirst(model string, args Args, orThrow bool) (*FindOp, error) {
	m, err := p.reg.Model(model)
	if err != nil {
		return nil, err
	}
	if err := checkArgs(m.Name, args, "where", "orderBy", "cursor", "take", "skip", "distinct", "select", "include"); err != nil {
		return nil, err
	}
	read, err := p.readQuery(m, args, true)
	if err != nil {
		return nil, err
	}
	one := 1
	if read.Window.Take != nil {
		switch {
		case *read.Window.Take < 0:
			one = -1
		case *read.Window.Take == 0:
			one = 0
		}
	}
	read.Window.Take = &one
	verb := VerbFindFirst
	if orThrow {
		verb = VerbFindFirstOrThrow
	}
	return &FindOp{verb: verb, Read: read}, nil
}

// FindUnique plans a findUnique. where must name a unique key; any other
// entries are extra filters on the same row.
func (p *Planner) FindUnique(model string, args Args, orThrow bool) (*FindOp, error) {
	m, err := p.reg.Model(model)
	if err != nil {
		return nil, err
	}
	if err := checkArgs(m.Name, args, "where", "select", "include"); err != nil {
		return nil, err
	}
	key, filter, err := p.uniqueWhere(m, args["where"])
	if err != nil {
		return nil, err
	}
	read := &ReadQuery{
		Model:   m,
		Where:   AllOf(KeyPredicate(m, key.Key.Fields, key.Values), filter),
		OrderBy: withTiebreaker(m, nil),
	}
	one := 1
	read.Window.Take = &one
	sel, err := ParseSelection(m, args, "")
	if err != nil {
		return nil, err
	}
	if read.Fetch, err = p.planSelection(m, sel, 1, ""); err != nil {
		return nil, err
	}
	verb := VerbFindUnique
	if orThrow {
		verb = VerbFindUniqueOrThrow
	}
	return &FindOp{verb: verb, Read: read, Unique: key}, nil
}

// uniqueWhere resolves a where that must identify one row and parses its
// remaining entries as filters.
func (p *Planner) uniqueWhere(m *schema.Model, raw any) (*cursor.Cursor, Predicate, error) {
	if raw == nil {
		return nil, nil, &queryerr.MissingFieldError{Model: m.Name, Field: "where"}
	}
	obj, err := objectArg(m.Name, "where", raw)
	if err != nil {
		return nil, nil, err
	}
	keys, err := p.reg.UniqueKeysOf(m.Name)
	if err != nil {
		return nil, nil, err
	}
	key, rest, err := cursor.Resolve(m, keys, obj, "where")
	if err != nil {
		return nil, nil, err
	}
	filter, err := p.parseWhere(m, rest, modeWhere)
	if err != nil {
		return nil, nil, err
	}
	return key, filter, nil
}

func (p *Planner) readQuery(m *schema.Model, args Args, withFetch bool) (*ReadQuery, error) {
	return p.readQueryAt(m, args, withFetch, 1, "")
}

func (p *Planner) readQueryAt(m *schema.Model, args Args, withFetch bool, depth int, path string) (*ReadQuery, error) {
	q := &ReadQuery{Model: m, Where: True()}
	if raw, ok := args["where"]; ok && raw != nil {
		obj, err := objectArg(m.Name, "where", raw)
		if err != nil {
			return nil, err
		}
		if q.Where, err = p.parseWhere(m, obj, modeWhere); err != nil {
			return nil, err
		}
	}
	terms, err := parseOrderBy(m, args["orderBy"], false)
	if err != nil {
		return nil, err
	}
	q.OrderBy = withTiebreaker(m, terms)

	if raw, ok := args["cursor"]; ok && raw != nil {
		if q.Cursor, err = p.parseCursor(m, raw); err != nil {
			return nil, err
		}
	}
	if q.Window, err = p.parseWindow(m, args, q.Cursor != nil); err != nil {
		return nil, err
	}
	if raw, ok := args["distinct"]; ok && raw != nil {
		if q.Distinct, err = fieldList(m, "distinct", raw); err != nil {
			return nil, err
		}
	}
	if withFetch {
		sel, err := ParseSelection(m, args, path)
		if err != nil {
			return nil, err
		}
		if q.Fetch, err = p.planSelection(m, sel, depth, path); err != nil {
			return nil, err
		}
	}
	return q, nil
}

// parseCursor accepts a unique-key object or an opaque token produced by
// cursor.Encode.
func (p *Planner) parseCursor(m *schema.Model, raw any) (*cursor.Cursor, error) {
	keys, err := p.reg.UniqueKeysOf(m.Name)
	if err != nil {
		return nil, err
	}
	if token, ok := raw.(string); ok {
		c, err := cursor.Decode(m, keys, token)
		if err != nil {
			return nil, &queryerr.InvalidArgumentError{Model: m.Name, Argument: "cursor", Message: err.Error()}
		}
		return c, nil
	}
	obj, err := objectArg(m.Name, "cursor", raw)
	if err != nil {
		return nil, err
	}
	c, rest, err := cursor.Resolve(m, keys, obj, "cursor")
	if err != nil {
		return nil, err
	}
	if len(rest) > 0 {
		return nil, &queryerr.InvalidArgumentError{Model: m.Name, Argument: "cursor", Message: "cursor accepts unique key fields only"}
	}
	return c, nil
}

func (p *Planner) parseWindow(m *schema.Model, args Args, hasCursor bool) (cursor.Window, error) {
	var w cursor.Window
	if raw, ok := args["take"]; ok && raw != nil {
		take, err := intArg(m.Name, "take", raw)
		if err != nil {
			return w, err
		}
		if p.limits.MaxTake > 0 && (take > p.limits.MaxTake || -take > p.limits.MaxTake) {
			return w, &queryerr.InvalidArgumentError{Model: m.Name, Argument: "take", Message: fmt.Sprintf("take must not exceed %d", p.limits.MaxTake)}
		}
		w.Take = &take
	}
	if raw, ok := args["skip"]; ok && raw != nil {
		skip, err := intArg(m.Name, "skip", raw)
		if err != nil {
			return w, err
		}
		if skip < 0 && !hasCursor {
			return w, &queryerr.InvalidArgumentError{Model: m.Name, Argument: "skip", Message: "skip must not be negative without a cursor"}
		}
		w.Skip = skip
	}
	return w, nil
}

// fieldList reads a list of scalar field names and validates each.
func fieldList(m *schema.Model, argument string, raw any) ([]string, error) {
	names, err := stringList(m.Name, argument, raw)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		if _, ok := m.Field(name); !ok {
			return nil, &queryerr.UnknownFieldError{Model: m.Name, Field: name}
		}
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out, nil
}
