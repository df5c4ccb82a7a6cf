package cursor

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"portfolio-query/internal/scalars"
	"portfolio-query/internal/schema"
	"portfolio-query/internal/sqltype"
)

type payload struct {
	Version int      `json:"v"`
	Model   string   `json:"m"`
	Key     string   `json:"k"`
	Values  []string `json:"vals"`
}

// Encode builds an opaque continuation token for c. Values are
// string-coerced so integers survive the JSON round trip.
func Encode(c *Cursor) string {
	values := make([]string, 0, len(c.Key.Fields))
	for _, v := range c.OrderedValues() {
		values = append(values, coerceToString(v))
	}
	data, err := json.Marshal(payload{Version: 1, Model: c.Model, Key: c.Key.Name, Values: values})
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(data)
}

// Decode parses a token produced by Encode and checks it against m.
func Decode(m *schema.Model, keys []schema.UniqueKey, token string) (*Cursor, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor: %w", err)
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil || p.Version != 1 {
		return nil, fmt.Errorf("invalid cursor format")
	}
	if p.Model != m.Name {
		return nil, fmt.Errorf("cursor model mismatch: expected %s, got %s", m.Name, p.Model)
	}

	var key *schema.UniqueKey
	for i := range keys {
		if keys[i].Name == p.Key {
			key = &keys[i]
			break
		}
	}
	if key == nil {
		return nil, fmt.Errorf("cursor key %s is not a unique key of %s", p.Key, m.Name)
	}
	if len(p.Values) != len(key.Fields) {
		return nil, fmt.Errorf("cursor value count mismatch: expected %d, got %d", len(key.Fields), len(p.Values))
	}

	values := make(map[string]any, len(key.Fields))
	for i, name := range key.Fields {
		field, ok := m.Field(name)
		if !ok {
			return nil, fmt.Errorf("cursor key field %s is not on %s", name, m.Name)
		}
		parsed, err := parseValue(field.Type, p.Values[i])
		if err != nil {
			return nil, fmt.Errorf("invalid cursor value for %s: %w", name, err)
		}
		values[name] = parsed
	}
	return &Cursor{Model: m.Name, Key: *key, Values: values}, nil
}

func parseValue(t sqltype.ScalarType, raw string) (any, error) {
	switch t {
	case sqltype.TypeInt:
		return strconv.ParseInt(raw, 10, 64)
	case sqltype.TypeFloat:
		return strconv.ParseFloat(raw, 64)
	case sqltype.TypeBoolean:
		return strconv.ParseBool(raw)
	default:
		return scalars.Coerce(t, raw)
	}
}

func coerceToString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case decimal.Decimal:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
