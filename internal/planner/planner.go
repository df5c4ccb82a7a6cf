// Package planner validates query and mutation arguments against the schema
// registry and turns them into executable operations: predicate trees, fetch
// plans, aggregate and group-by plans, cursor windows and change sets.
//
// Planning is pure. A Planner holds no mutable state and may be shared across
// goroutines; every error it returns is raised before any I/O.
package planner

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"time"

	"portfolio-query/internal/queryerr"
	"portfolio-query/internal/schema"
	"portfolio-query/internal/uuidutil"
)

// DefaultMaxDepth bounds select/include nesting.
const DefaultMaxDepth = 8

// Row is one record as exchanged with executors, keyed by field name.
// Included relations appear under the relation name and relation counts
// under "_count".
type Row map[string]any

// Args is the raw argument object of one operation.
type Args = map[string]any

// Limits defines bounds applied during planning. Zero values disable a limit.
type Limits struct {
	MaxDepth int
	MaxTake  int
}

// Planner plans operations against one registry.
type Planner struct {
	reg    *schema.Registry
	limits Limits
	now    func() time.Time
	newID  uuidutil.Generator
}

// Option customizes a Planner.
type Option func(*Planner)

// WithLimits sets planning limits.
func WithLimits(limits Limits) Option {
	return func(p *Planner) {
		p.limits = limits
	}
}

// WithClock sets the clock used for createdAt/updatedAt and now() defaults.
func WithClock(now func() time.Time) Option {
	return func(p *Planner) {
		if now != nil {
			p.now = now
		}
	}
}

// WithIDGenerator sets the generator used for uuid() defaults.
func WithIDGenerator(gen uuidutil.Generator) Option {
	return func(p *Planner) {
		if gen != nil {
			p.newID = gen
		}
	}
}

// New creates a Planner over reg.
func New(reg *schema.Registry, opts ...Option) *Planner {
	p := &Planner{
		reg:    reg,
		limits: Limits{MaxDepth: DefaultMaxDepth},
		now:    time.Now,
		newID:  uuidutil.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Registry returns the registry the planner validates against.
func (p *Planner) Registry() *schema.Registry {
	return p.reg
}

// Limits returns the active planning limits.
func (p *Planner) Limits() Limits {
	return p.limits
}

func (p *Planner) timestamp() time.Time {
	return p.now().UTC()
}

// checkArgs rejects argument names outside allowed.
func checkArgs(model string, args Args, allowed ...string) error {
	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		known := false
		for _, a := range allowed {
			if a == name {
				known = true
				break
			}
		}
		if !known {
			return &queryerr.InvalidArgumentError{Model: model, Argument: name, Message: "unknown argument"}
		}
	}
	return nil
}

// intArg reads an integer argument. JSON decoding yields float64 or
// json.Number, Go callers usually pass int.
func intArg(model, name string, raw any) (int, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case float64:
		if v == math.Trunc(v) && !math.IsInf(v, 0) {
			return int(v), nil
		}
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n), nil
		}
	}
	return 0, &queryerr.InvalidArgumentError{Model: model, Argument: name, Message: fmt.Sprintf("expected an integer, got %T", raw)}
}

func boolArg(model, name string, raw any) (bool, error) {
	b, ok := raw.(bool)
	if !ok {
		return false, &queryerr.InvalidArgumentError{Model: model, Argument: name, Message: fmt.Sprintf("expected a boolean, got %T", raw)}
	}
	return b, nil
}

func objectArg(model, name string, raw any) (map[string]any, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, &queryerr.InvalidArgumentError{Model: model, Argument: name, Message: "expected an object"}
	}
	return obj, nil
}

// objectList accepts one object or a list of objects.
func objectList(model, name string, raw any) ([]map[string]any, error) {
	switch v := raw.(type) {
	case map[string]any:
		return []map[string]any{v}, nil
	case []map[string]any:
		return v, nil
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, item := range v {
			obj, ok := item.(map[string]any)
			if !ok {
				return nil, &queryerr.InvalidArgumentError{Model: model, Argument: name, Message: "list items must be objects"}
			}
			out = append(out, obj)
		}
		return out, nil
	}
	return nil, &queryerr.InvalidArgumentError{Model: model, Argument: name, Message: "expected an object or a list of objects"}
}

// stringList accepts one string or a list of strings.
func stringList(model, name string, raw any) ([]string, error) {
	switch v := raw.(type) {
	case string:
		return []string{v}, nil
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, &queryerr.InvalidArgumentError{Model: model, Argument: name, Message: "list items must be field names"}
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, &queryerr.InvalidArgumentError{Model: model, Argument: name, Message: "expected a field name or a list of field names"}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortStrings(s []string) []string {
	sort.Strings(s)
	return s
}

// anyList accepts any slice value.
func anyList(raw any) ([]any, bool) {
	if items, ok := raw.([]any); ok {
		return items, true
	}
	rv := reflect.ValueOf(raw)
	if !rv.IsValid() || rv.Kind() != reflect.Slice {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
