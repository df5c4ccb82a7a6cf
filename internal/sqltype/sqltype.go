// Package sqltype defines the scalar type categories shared by the schema
// registry, predicate coercion, and the SQL executors.
package sqltype

import "strings"

// ScalarType is the category of a model field's value.
type ScalarType int

const (
	// TypeString is free text.
	TypeString ScalarType = iota
	// TypeInt is a 64-bit signed integer.
	TypeInt
	// TypeFloat is a double-precision float.
	TypeFloat
	// TypeDecimal is an exact signed decimal.
	TypeDecimal
	// TypeBoolean is true/false.
	TypeBoolean
	// TypeDateTime is a UTC timestamp.
	TypeDateTime
	// TypeJSON is an opaque JSON document.
	TypeJSON
	// TypeEnum is a closed set of string values.
	TypeEnum
)

// MapToScalar converts a SQL data type string to its scalar category.
// The input is case-insensitive. Size specifiers like (10,2) or (255) are stripped before matching.
// This handles both INFORMATION_SCHEMA.COLUMNS.DATA_TYPE (base type only) and COLUMN_TYPE (full type with size).
func MapToScalar(sqlType string) ScalarType {
	if idx := strings.Index(sqlType, "("); idx != -1 {
		sqlType = sqlType[:idx]
	}
	switch strings.ToUpper(strings.TrimSpace(sqlType)) {
	case "TINYINT", "SMALLINT", "MEDIUMINT", "INT",
		"INTEGER", "BIGINT", "SERIAL", "BIGSERIAL", "INT2", "INT4", "INT8":
		return TypeInt
	case "FLOAT", "DOUBLE", "REAL", "DOUBLE PRECISION", "FLOAT4", "FLOAT8":
		return TypeFloat
	case "DECIMAL", "NUMERIC":
		return TypeDecimal
	case "BOOL", "BOOLEAN":
		return TypeBoolean
	case "JSON", "JSONB":
		return TypeJSON
	case "ENUM", "USER-DEFINED":
		return TypeEnum
	case "DATE", "DATETIME", "TIMESTAMP", "TIMESTAMPTZ",
		"TIMESTAMP WITHOUT TIME ZONE", "TIMESTAMP WITH TIME ZONE":
		return TypeDateTime
	default:
		return TypeString
	}
}

// String returns the scalar type name used in diagnostics.
func (t ScalarType) String() string {
	switch t {
	case TypeInt:
		return "Int"
	case TypeFloat:
		return "Float"
	case TypeDecimal:
		return "Decimal"
	case TypeBoolean:
		return "Boolean"
	case TypeDateTime:
		return "DateTime"
	case TypeJSON:
		return "Json"
	case TypeEnum:
		return "Enum"
	default:
		return "String"
	}
}

// IsNumeric reports whether _avg and _sum apply to the type.
func (t ScalarType) IsNumeric() bool {
	return t == TypeInt || t == TypeFloat || t == TypeDecimal
}

// IsText reports whether string matching operators apply to the type.
func (t ScalarType) IsText() bool {
	return t == TypeString
}

// IsComparable reports whether range operators (lt/lte/gt/gte) and
// _min/_max apply to the type.
func (t ScalarType) IsComparable() bool {
	switch t {
	case TypeInt, TypeFloat, TypeDecimal, TypeDateTime, TypeString, TypeEnum:
		return true
	default:
		return false
	}
}

// Compatible reports whether a column of category actual can back a field of
// category t. Enums are commonly stored as text columns.
func (t ScalarType) Compatible(actual ScalarType) bool {
	if t == actual {
		return true
	}
	switch t {
	case TypeEnum, TypeJSON:
		return actual == TypeString
	case TypeBoolean:
		// MySQL reports BOOLEAN as tinyint.
		return actual == TypeInt
	case TypeFloat:
		return actual == TypeDecimal
	}
	return false
}
