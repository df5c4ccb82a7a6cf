package querydoc

import (
	"fmt"
	"strconv"
	"strings"

	"portfolio-query/internal/planner"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
	"github.com/graphql-go/graphql/language/source"
)

// ParseGraphQL reads a GraphQL-syntax document. Every root field of the
// selected operation becomes one request; mutation operations are atomic.
//
// Arguments become the request args verbatim. The selection set becomes
// select for reads and returning writes, the select of count, the aggregate
// directives of aggregate and groupBy, and the by list of a groupBy that
// does not pass one.
func ParseGraphQL(src string, opts Options) (*Document, error) {
	if strings.TrimSpace(src) == "" {
		return nil, fmt.Errorf("querydoc: document is empty")
	}

	doc, err := parser.Parse(parser.ParseParams{
		Source: source.NewSource(&source.Source{
			Body: []byte(src),
			Name: "querydoc",
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("querydoc: %w", err)
	}

	op, err := selectOperation(doc, opts.OperationName)
	if err != nil {
		return nil, fmt.Errorf("querydoc: %w", err)
	}

	b := &builder{
		fragments: buildFragmentMap(doc),
		variables: map[string]any{},
	}
	for _, def := range op.VariableDefinitions {
		if def == nil || def.Variable == nil || def.Variable.Name == nil {
			continue
		}
		name := def.Variable.Name.Value
		if v, ok := opts.Variables[name]; ok {
			b.variables[name] = v
			continue
		}
		if def.DefaultValue != nil {
			v, err := b.value(def.DefaultValue)
			if err != nil {
				return nil, fmt.Errorf("querydoc: default of $%s: %w", name, err)
			}
			b.variables[name] = v
		}
	}
	for name, v := range opts.Variables {
		if _, ok := b.variables[name]; !ok {
			b.variables[name] = v
		}
	}

	fields, err := b.fields(op.SelectionSet, map[string]bool{})
	if err != nil {
		return nil, fmt.Errorf("querydoc: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("querydoc: operation selects no fields")
	}

	out := &Document{Atomic: op.Operation == ast.OperationTypeMutation}
	seen := map[string]bool{}
	for _, f := range fields {
		req, err := b.request(f)
		if err != nil {
			return nil, fmt.Errorf("querydoc: %w", err)
		}
		if seen[req.Key] {
			return nil, fmt.Errorf("querydoc: duplicate response key %q; use an alias", req.Key)
		}
		seen[req.Key] = true
		out.Requests = append(out.Requests, req)
	}
	return out, nil
}

func buildFragmentMap(doc *ast.Document) map[string]*ast.FragmentDefinition {
	fragments := map[string]*ast.FragmentDefinition{}
	if doc == nil {
		return fragments
	}
	for _, def := range doc.Definitions {
		fragment, ok := def.(*ast.FragmentDefinition)
		if !ok || fragment == nil || fragment.Name == nil || fragment.Name.Value == "" {
			continue
		}
		fragments[fragment.Name.Value] = fragment
	}
	return fragments
}

func selectOperation(doc *ast.Document, operationName string) (*ast.OperationDefinition, error) {
	operations := make([]*ast.OperationDefinition, 0)
	for _, def := range doc.Definitions {
		op, ok := def.(*ast.OperationDefinition)
		if ok && op != nil {
			operations = append(operations, op)
		}
	}

	if operationName != "" {
		for _, op := range operations {
			if op.Name != nil && op.Name.Value == operationName {
				return op, nil
			}
		}
		return nil, fmt.Errorf("unknown operation named %q", operationName)
	}
	switch len(operations) {
	case 1:
		if operations[0].Operation == ast.OperationTypeSubscription {
			return nil, fmt.Errorf("subscriptions are not supported")
		}
		return operations[0], nil
	case 0:
		return nil, fmt.Errorf("document does not include an operation")
	default:
		return nil, fmt.Errorf("an operation name is required when the document has multiple operations")
	}
}

type builder struct {
	fragments map[string]*ast.FragmentDefinition
	variables map[string]any
}

// fields flattens fragments into the fields of one selection set.
func (b *builder) fields(set *ast.SelectionSet, inFlight map[string]bool) ([]*ast.Field, error) {
	if set == nil {
		return nil, nil
	}
	var out []*ast.Field
	for _, selection := range set.Selections {
		switch sel := selection.(type) {
		case *ast.Field:
			out = append(out, sel)
		case *ast.InlineFragment:
			nested, err := b.fields(sel.SelectionSet, inFlight)
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
		case *ast.FragmentSpread:
			name := ""
			if sel.Name != nil {
				name = sel.Name.Value
			}
			fragment, ok := b.fragments[name]
			if !ok {
				return nil, fmt.Errorf("unknown fragment %q", name)
			}
			if inFlight[name] {
				return nil, fmt.Errorf("fragment %q spreads itself", name)
			}
			inFlight[name] = true
			nested, err := b.fields(fragment.SelectionSet, inFlight)
			delete(inFlight, name)
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
		}
	}
	return out, nil
}

func (b *builder) request(f *ast.Field) (Request, error) {
	name := f.Name.Value
	idx := strings.LastIndex(name, "_")
	if idx <= 0 || idx == len(name)-1 {
		return Request{}, fmt.Errorf("root field %q must be named <model>_<operation>", name)
	}
	verb, err := ParseVerb(name[idx+1:])
	if err != nil {
		return Request{}, err
	}
	key := name
	if f.Alias != nil && f.Alias.Value != "" {
		key = f.Alias.Value
	}

	args, err := b.arguments(f.Arguments)
	if err != nil {
		return Request{}, fmt.Errorf("%s: %w", key, err)
	}
	if err := b.applySelection(verb, f.SelectionSet, args); err != nil {
		return Request{}, fmt.Errorf("%s: %w", key, err)
	}
	return Request{Key: key, Model: upperFirst(name[:idx]), Verb: verb, Args: args}, nil
}

func (b *builder) applySelection(verb planner.Verb, set *ast.SelectionSet, args planner.Args) error {
	fields, err := b.fields(set, map[string]bool{})
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}

	switch verb {
	case planner.VerbCreateMany, planner.VerbUpdateMany, planner.VerbDeleteMany:
		// Batch writes only return a count.
		for _, f := range fields {
			if f.Name.Value != "count" {
				return fmt.Errorf("%s returns only count", verb)
			}
		}
		return nil
	case planner.VerbAggregate, planner.VerbGroupBy:
		var by []any
		for _, f := range fields {
			fieldName := f.Name.Value
			if strings.HasPrefix(fieldName, "_") {
				directive, err := b.leafSelection(f)
				if err != nil {
					return err
				}
				args[fieldName] = directive
				continue
			}
			if verb == planner.VerbAggregate {
				return fmt.Errorf("aggregate selects only _count, _avg, _sum, _min and _max, got %q", fieldName)
			}
			by = append(by, fieldName)
		}
		if verb == planner.VerbGroupBy {
			if _, ok := args["by"]; !ok && len(by) > 0 {
				args["by"] = by
			}
		}
		return nil
	case planner.VerbCount:
		sel, err := b.selection(fields)
		if err != nil {
			return err
		}
		args["select"] = sel
		return nil
	default:
		if _, ok := args["select"]; ok {
			return fmt.Errorf("select argument and selection set cannot both be given")
		}
		if _, ok := args["include"]; ok {
			return fmt.Errorf("include argument and selection set cannot both be given")
		}
		sel, err := b.selection(fields)
		if err != nil {
			return err
		}
		args["select"] = sel
		return nil
	}
}

// selection maps fields onto a select object. A leaf is true; a field with
// arguments or a selection set becomes nested args with its own select.
func (b *builder) selection(fields []*ast.Field) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		name := f.Name.Value
		if f.Alias != nil && f.Alias.Value != "" && f.Alias.Value != name {
			return nil, fmt.Errorf("aliases are only supported on root fields, got %s: %s", f.Alias.Value, name)
		}
		if name == "_count" {
			v, err := b.relationCount(f)
			if err != nil {
				return nil, err
			}
			out[name] = v
			continue
		}
		if len(f.Arguments) == 0 && f.SelectionSet == nil {
			out[name] = true
			continue
		}
		nested, err := b.arguments(f.Arguments)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		children, err := b.fields(f.SelectionSet, map[string]bool{})
		if err != nil {
			return nil, err
		}
		if len(children) > 0 {
			sel, err := b.selection(children)
			if err != nil {
				return nil, err
			}
			nested["select"] = sel
		}
		out[name] = nested
	}
	return out, nil
}

// relationCount maps _count { sections projects(where: ...) } onto
// {select: {...}}, and a bare _count onto true.
func (b *builder) relationCount(f *ast.Field) (any, error) {
	children, err := b.fields(f.SelectionSet, map[string]bool{})
	if err != nil {
		return nil, err
	}
	if len(children) == 0 {
		return true, nil
	}
	sel := make(map[string]any, len(children))
	for _, c := range children {
		if len(c.Arguments) == 0 {
			sel[c.Name.Value] = true
			continue
		}
		nested, err := b.arguments(c.Arguments)
		if err != nil {
			return nil, fmt.Errorf("_count.%s: %w", c.Name.Value, err)
		}
		sel[c.Name.Value] = nested
	}
	return map[string]any{"select": sel}, nil
}

// leafSelection maps _sum { amount } onto {amount: true} and a bare _count
// onto true.
func (b *builder) leafSelection(f *ast.Field) (any, error) {
	children, err := b.fields(f.SelectionSet, map[string]bool{})
	if err != nil {
		return nil, err
	}
	if len(children) == 0 {
		return true, nil
	}
	out := make(map[string]any, len(children))
	for _, c := range children {
		if c.SelectionSet != nil {
			return nil, fmt.Errorf("%s.%s cannot have a selection set", f.Name.Value, c.Name.Value)
		}
		out[c.Name.Value] = true
	}
	return out, nil
}

func (b *builder) arguments(arguments []*ast.Argument) (planner.Args, error) {
	args := planner.Args{}
	for _, arg := range arguments {
		if arg == nil || arg.Name == nil {
			continue
		}
		v, err := b.value(arg.Value)
		if err != nil {
			return nil, fmt.Errorf("argument %s: %w", arg.Name.Value, err)
		}
		args[arg.Name.Value] = v
	}
	return args, nil
}

// value converts a literal into the engine's argument form. Enum literals
// become strings; integers become int64 and floats float64.
func (b *builder) value(v ast.Value) (any, error) {
	switch val := v.(type) {
	case *ast.Variable:
		name := val.Name.Value
		bound, ok := b.variables[name]
		if !ok {
			return nil, fmt.Errorf("variable $%s is not defined", name)
		}
		return bound, nil
	case *ast.IntValue:
		n, err := strconv.ParseInt(val.Value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %s", val.Value)
		}
		return n, nil
	case *ast.FloatValue:
		f, err := strconv.ParseFloat(val.Value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid float %s", val.Value)
		}
		return f, nil
	case *ast.StringValue:
		return val.Value, nil
	case *ast.BooleanValue:
		return val.Value, nil
	case *ast.EnumValue:
		return val.Value, nil
	case *ast.ListValue:
		out := make([]any, 0, len(val.Values))
		for _, item := range val.Values {
			converted, err := b.value(item)
			if err != nil {
				return nil, err
			}
			out = append(out, converted)
		}
		return out, nil
	case *ast.ObjectValue:
		out := make(map[string]any, len(val.Fields))
		for _, field := range val.Fields {
			converted, err := b.value(field.Value)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", field.Name.Value, err)
			}
			out[field.Name.Value] = converted
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value %T", v)
	}
}
