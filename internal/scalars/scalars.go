// Package scalars coerces caller-supplied values into the canonical Go
// representation of each scalar type and compares canonical values.
//
// Canonical forms: String and Enum are string, Int is int64, Float is
// float64, Decimal is decimal.Decimal, Boolean is bool, DateTime is a UTC
// time.Time, and Json is left as supplied.
package scalars

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"portfolio-query/internal/sqltype"
)

const dateLayout = "2006-01-02"

// ErrIncompatible is returned when a value cannot represent the requested type.
var ErrIncompatible = errors.New("incompatible value")

// Coerce converts v to the canonical form of t. nil is returned unchanged.
func Coerce(t sqltype.ScalarType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case sqltype.TypeString, sqltype.TypeEnum:
		switch s := v.(type) {
		case string:
			return s, nil
		case []byte:
			return string(s), nil
		}
	case sqltype.TypeInt:
		if i, ok := toInt64(v); ok {
			return i, nil
		}
	case sqltype.TypeFloat:
		if f, ok := toFloat64(v); ok {
			return f, nil
		}
	case sqltype.TypeDecimal:
		if d, ok := toDecimal(v); ok {
			return d, nil
		}
	case sqltype.TypeBoolean:
		switch b := v.(type) {
		case bool:
			return b, nil
		case int64:
			// MySQL returns BOOLEAN columns as tinyint.
			return b != 0, nil
		}
	case sqltype.TypeDateTime:
		if ts, ok := toTime(v); ok {
			return ts, nil
		}
	case sqltype.TypeJSON:
		if raw, ok := v.([]byte); ok {
			var decoded any
			if err := json.Unmarshal(raw, &decoded); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrIncompatible, err)
			}
			return decoded, nil
		}
		return v, nil
	}
	return nil, ErrIncompatible
}

// Compare orders two canonical values. ok is false when the values have no
// defined order (mismatched types, Json, or nil).
func Compare(a, b any) (result int, ok bool) {
	if a == nil || b == nil {
		return 0, false
	}
	switch av := a.(type) {
	case string:
		bv, isString := b.(string)
		if !isString {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case bool:
		bv, isBool := b.(bool)
		if !isBool {
			return 0, false
		}
		switch {
		case av == bv:
			return 0, true
		case !av:
			return -1, true
		default:
			return 1, true
		}
	case time.Time:
		bv, isTime := b.(time.Time)
		if !isTime {
			return 0, false
		}
		return av.Compare(bv), true
	case decimal.Decimal:
		bv, isNum := toDecimal(b)
		if !isNum {
			return 0, false
		}
		return av.Cmp(bv), true
	case int64:
		switch bv := b.(type) {
		case int64:
			return cmpOrdered(av, bv), true
		case float64:
			return cmpOrdered(float64(av), bv), true
		case decimal.Decimal:
			return decimal.NewFromInt(av).Cmp(bv), true
		}
	case float64:
		switch bv := b.(type) {
		case float64:
			return cmpOrdered(av, bv), true
		case int64:
			return cmpOrdered(av, float64(bv)), true
		case decimal.Decimal:
			return decimal.NewFromFloat(av).Cmp(bv), true
		}
	}
	return 0, false
}

// Equal reports whether two canonical values are the same. Json values are
// compared structurally.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if c, ok := Compare(a, b); ok {
		return c == 0
	}
	return reflect.DeepEqual(a, b)
}

// Key renders a canonical value as a string usable as a map key, so that
// equal values produce equal keys.
func Key(v any) string {
	switch val := v.(type) {
	case nil:
		return "\x00null"
	case string:
		return "s:" + val
	case int64:
		return "n:" + decimal.NewFromInt(val).String()
	case float64:
		return "n:" + decimal.NewFromFloat(val).String()
	case decimal.Decimal:
		return "n:" + val.String()
	case bool:
		return "b:" + strconv.FormatBool(val)
	case time.Time:
		return "t:" + val.UTC().Format(time.RFC3339Nano)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("j:%v", val)
		}
		return "j:" + string(data)
	}
}

func cmpOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), uint64(n) <= math.MaxInt64
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), n <= math.MaxInt64
	case float32:
		return toInt64(float64(n))
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || n > math.MaxInt64 || n < math.MinInt64 {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		parsed, err := n.Int64()
		return parsed, err == nil
	case []byte:
		parsed, err := strconv.ParseInt(string(n), 10, 64)
		return parsed, err == nil
	default:
		return 0, false
	}
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n)
	case float32:
		return float64(n), true
	case json.Number:
		parsed, err := n.Float64()
		return parsed, err == nil
	case decimal.Decimal:
		return n.InexactFloat64(), true
	case []byte:
		parsed, err := strconv.ParseFloat(string(n), 64)
		return parsed, err == nil
	}
	if i, ok := toInt64(v); ok {
		return float64(i), true
	}
	return 0, false
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, true
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(n))
		return d, err == nil
	case []byte:
		d, err := decimal.NewFromString(string(n))
		return d, err == nil
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return decimal.Decimal{}, false
		}
		return decimal.NewFromFloat(n), true
	case float32:
		return decimal.NewFromFloat32(n), true
	}
	if i, ok := toInt64(v); ok {
		return decimal.NewFromInt(i), true
	}
	return decimal.Decimal{}, false
}

func toTime(v any) (time.Time, bool) {
	switch ts := v.(type) {
	case time.Time:
		return ts.UTC(), true
	case *time.Time:
		if ts == nil {
			return time.Time{}, false
		}
		return ts.UTC(), true
	case []byte:
		return toTime(string(ts))
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999", dateLayout} {
			if parsed, err := time.Parse(layout, ts); err == nil {
				return parsed.UTC(), true
			}
		}
	}
	return time.Time{}, false
}
