package uuidutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewString(t *testing.T) {
	first := NewString()
	second := NewString()
	assert.NotEqual(t, first, second)

	parsed, canonical, err := ParseString(first)
	require.NoError(t, err)
	assert.Equal(t, first, canonical)
	assert.Equal(t, 4, int(parsed.Version()))
}

func TestSequence(t *testing.T) {
	next := Sequence("project")
	assert.Equal(t, "project-1", next())
	assert.Equal(t, "project-2", next())

	other := Sequence("client")
	assert.Equal(t, "client-1", other())
}

func TestParseString(t *testing.T) {
	u, canonical, err := ParseString("550E8400-E29B-41D4-A716-446655440000")
	require.NoError(t, err)
	assert.Equal(t, "550e8400-e29b-41d4-a716-446655440000", canonical)
	assert.Equal(t, canonical, u.String())

	_, _, err = ParseString("not-a-uuid")
	require.Error(t, err)
}
