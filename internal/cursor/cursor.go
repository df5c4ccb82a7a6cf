// Package cursor resolves unique-key cursors and applies take/skip windows
// over sorted row sets. It also encodes cursors as opaque continuation tokens.
package cursor

import (
	"fmt"
	"sort"
	"strings"

	"portfolio-query/internal/queryerr"
	"portfolio-query/internal/scalars"
	"portfolio-query/internal/schema"
)

// Cursor identifies one row through the values of a unique key.
type Cursor struct {
	Model  string
	Key    schema.UniqueKey
	Values map[string]any
}

// Matches reports whether row carries the cursor's key values.
func (c *Cursor) Matches(row map[string]any) bool {
	for _, field := range c.Key.Fields {
		if !scalars.Equal(c.Values[field], row[field]) {
			return false
		}
	}
	return true
}

// OrderedValues returns the key values in key field order.
func (c *Cursor) OrderedValues() []any {
	out := make([]any, len(c.Key.Fields))
	for i, field := range c.Key.Fields {
		out[i] = c.Values[field]
	}
	return out
}

// Resolve matches input against keys (primary key first) and returns the
// cursor plus whatever entries of input are not part of the matched key.
// Compound keys may be given flat ({provider: .., providerAccountId: ..}) or
// under their compound name ({provider_providerAccountId: {...}}).
func Resolve(m *schema.Model, keys []schema.UniqueKey, input map[string]any, argument string) (*Cursor, map[string]any, error) {
	for _, key := range keys {
		if !key.IsCompound() {
			continue
		}
		raw, ok := input[key.Name]
		if !ok {
			continue
		}
		nested, ok := raw.(map[string]any)
		if !ok || len(nested) != len(key.Fields) {
			return nil, nil, &queryerr.InvalidArgumentError{
				Model:    m.Name,
				Argument: argument,
				Message:  fmt.Sprintf("%s must be an object with %s", key.Name, strings.Join(key.Fields, ", ")),
			}
		}
		c, err := build(m, key, nested)
		if err != nil {
			return nil, nil, err
		}
		return c, without(input, key.Name), nil
	}

	for _, key := range keys {
		if !hasPlainValues(input, key.Fields) {
			continue
		}
		c, err := build(m, key, input)
		if err != nil {
			return nil, nil, err
		}
		return c, without(input, key.Fields...), nil
	}

	names := make([]string, len(keys))
	for i, key := range keys {
		names[i] = key.Name
	}
	return nil, nil, &queryerr.InvalidArgumentError{
		Model:    m.Name,
		Argument: argument,
		Message:  "expected one of the unique keys " + strings.Join(names, ", "),
	}
}

func build(m *schema.Model, key schema.UniqueKey, source map[string]any) (*Cursor, error) {
	values := make(map[string]any, len(key.Fields))
	for _, name := range key.Fields {
		field, ok := m.Field(name)
		if !ok {
			return nil, &queryerr.UnknownFieldError{Model: m.Name, Field: name}
		}
		raw, ok := source[name]
		if !ok {
			return nil, &queryerr.InvalidArgumentError{Model: m.Name, Argument: key.Name, Message: "missing " + name}
		}
		value, err := scalars.Coerce(field.Type, raw)
		if err != nil || value == nil {
			return nil, &queryerr.TypeMismatchError{Model: m.Name, Field: name, Expected: field.Type.String(), Value: raw}
		}
		values[name] = value
	}
	return &Cursor{Model: m.Name, Key: key, Values: values}, nil
}

func hasPlainValues(input map[string]any, fields []string) bool {
	for _, f := range fields {
		v, ok := input[f]
		if !ok || v == nil {
			return false
		}
		if _, isFilter := v.(map[string]any); isFilter {
			return false
		}
	}
	return true
}

func without(input map[string]any, drop ...string) map[string]any {
	out := make(map[string]any, len(input))
	for k, v := range input {
		out[k] = v
	}
	for _, k := range drop {
		delete(out, k)
	}
	return out
}

// Window is a take/skip request. Take may be negative to page backward;
// nil Take means no limit.
type Window struct {
	Skip int
	Take *int
}

// IsZero reports whether the window leaves the row set untouched.
func (w Window) IsZero() bool {
	return w.Skip == 0 && w.Take == nil
}

// Bounds returns the half-open index range [start, end) selected from n
// sorted rows. anchor is the cursor row's index, or -1 without a cursor.
//
// Without a cursor skip/take are offset/limit, and a negative take selects
// the last rows. With a cursor the window starts at the cursor row (positive
// take) or ends at it (negative take), shifted by skip away from the cursor.
func (w Window) Bounds(n, anchor int) (start, end int) {
	backward := w.Take != nil && *w.Take < 0
	switch {
	case anchor < 0 && !backward:
		start = w.Skip
		end = n
		if w.Take != nil {
			end = start + *w.Take
		}
	case anchor < 0:
		end = n - w.Skip
		start = end + *w.Take
	case !backward:
		start = anchor + w.Skip
		end = n
		if w.Take != nil {
			end = start + *w.Take
		}
	default:
		end = anchor + 1 - w.Skip
		start = end + *w.Take
	}
	start = clamp(start, 0, n)
	end = clamp(end, 0, n)
	if start > end {
		start = end
	}
	return start, end
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Locate returns the index of the row matching c, or -1.
func Locate[T any](rows []T, c *Cursor, values func(T) map[string]any) int {
	for i, row := range rows {
		if c.Matches(values(row)) {
			return i
		}
	}
	return -1
}

// Slice applies c and w to sorted rows. A cursor that matches no row yields an
// empty page.
func Slice[T any](rows []T, c *Cursor, w Window, values func(T) map[string]any) []T {
	anchor := -1
	if c != nil {
		anchor = Locate(rows, c, values)
		if anchor < 0 {
			return nil
		}
	}
	start, end := w.Bounds(len(rows), anchor)
	return rows[start:end]
}

// Distinct keeps the first row of every distinct combination of fields.
func Distinct[T any](rows []T, fields []string, values func(T) map[string]any) []T {
	if len(fields) == 0 {
		return rows
	}
	seen := make(map[string]struct{}, len(rows))
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		v := values(row)
		parts := make([]string, len(fields))
		for i, f := range fields {
			parts[i] = scalars.Key(v[f])
		}
		key := strings.Join(parts, "\x1f")
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, row)
	}
	return out
}

// SortedFields returns the cursor's field names alphabetically, for
// deterministic diagnostics.
func (c *Cursor) SortedFields() []string {
	names := append([]string(nil), c.Key.Fields...)
	sort.Strings(names)
	return names
}
