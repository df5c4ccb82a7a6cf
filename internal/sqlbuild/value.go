package sqlbuild

import (
	"encoding/json"
	"fmt"

	"portfolio-query/internal/planner"
	"portfolio-query/internal/scalars"
	"portfolio-query/internal/schema"
	"portfolio-query/internal/sqltype"
)

// jsonArg encodes a Json value for a JSON column. Strings are stored as
// given so callers can pass pre-encoded documents.
func jsonArg(v any) any {
	switch doc := v.(type) {
	case string:
		return doc
	case []byte:
		return string(doc)
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		return v
	}
	return string(encoded)
}

// ScanRow converts driver values read for fields into a canonical row.
func ScanRow(m *schema.Model, fields []string, raw []any) (planner.Row, error) {
	row := make(planner.Row, len(fields))
	for i, name := range fields {
		f, ok := m.Field(name)
		if !ok {
			row[name] = raw[i]
			continue
		}
		v := raw[i]
		// Some drivers return JSON columns as text.
		if s, isString := v.(string); isString && f.Type == sqltype.TypeJSON {
			v = []byte(s)
		}
		value, err := scalars.Coerce(f.Type, v)
		if err != nil {
			return nil, fmt.Errorf("scan %s.%s: %w", m.Name, name, err)
		}
		row[name] = value
	}
	return row, nil
}
