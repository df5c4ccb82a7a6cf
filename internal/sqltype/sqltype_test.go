package sqltype

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapToScalar(t *testing.T) {
	tests := []struct {
		sqlType  string
		expected ScalarType
	}{
		{"TINYINT", TypeInt},
		{"int", TypeInt},
		{"bigint(20)", TypeInt},
		{"int8", TypeInt},
		{"DOUBLE", TypeFloat},
		{"double precision", TypeFloat},
		{"DECIMAL(12,2)", TypeDecimal},
		{"numeric", TypeDecimal},
		{"boolean", TypeBoolean},
		{"JSON", TypeJSON},
		{"jsonb", TypeJSON},
		{"enum('A','B')", TypeEnum},
		{"USER-DEFINED", TypeEnum},
		{"DATETIME(3)", TypeDateTime},
		{"timestamp with time zone", TypeDateTime},
		{"VARCHAR(191)", TypeString},
		{"text", TypeString},
		{"geometry", TypeString},
	}

	for _, tt := range tests {
		t.Run(tt.sqlType, func(t *testing.T) {
			assert.Equal(t, tt.expected, MapToScalar(tt.sqlType))
		})
	}
}

func TestScalarTypeString(t *testing.T) {
	assert.Equal(t, "Int", TypeInt.String())
	assert.Equal(t, "Decimal", TypeDecimal.String())
	assert.Equal(t, "DateTime", TypeDateTime.String())
	assert.Equal(t, "Json", TypeJSON.String())
	assert.Equal(t, "Enum", TypeEnum.String())
	assert.Equal(t, "String", TypeString.String())
}

func TestScalarTypeCapabilities(t *testing.T) {
	t.Run("numeric", func(t *testing.T) {
		assert.True(t, TypeInt.IsNumeric())
		assert.True(t, TypeFloat.IsNumeric())
		assert.True(t, TypeDecimal.IsNumeric())
		assert.False(t, TypeString.IsNumeric())
		assert.False(t, TypeDateTime.IsNumeric())
		assert.False(t, TypeBoolean.IsNumeric())
	})

	t.Run("comparable", func(t *testing.T) {
		assert.True(t, TypeDateTime.IsComparable())
		assert.True(t, TypeString.IsComparable())
		assert.False(t, TypeBoolean.IsComparable())
		assert.False(t, TypeJSON.IsComparable())
	})

	t.Run("text", func(t *testing.T) {
		assert.True(t, TypeString.IsText())
		assert.False(t, TypeEnum.IsText())
	})
}

func TestCompatible(t *testing.T) {
	assert.True(t, TypeEnum.Compatible(TypeString))
	assert.True(t, TypeBoolean.Compatible(TypeInt))
	assert.True(t, TypeDecimal.Compatible(TypeDecimal))
	assert.False(t, TypeDecimal.Compatible(TypeString))
	assert.False(t, TypeInt.Compatible(TypeString))
}
