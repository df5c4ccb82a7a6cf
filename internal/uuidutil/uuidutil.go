// Package uuidutil generates and normalizes the opaque string identifiers
// assigned to new rows.
package uuidutil

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator returns a new identifier on each call.
type Generator func() string

// NewString returns a random (version 4) UUID in canonical lower-case form.
func NewString() string {
	return uuid.NewString()
}

// Sequence returns a Generator that yields prefix-1, prefix-2, ... for
// deterministic fixtures.
func Sequence(prefix string) Generator {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("%s-%d", prefix, n.Add(1))
	}
}

// ParseString parses common UUID string formats and returns a normalized lower-case UUID.
func ParseString(raw string) (uuid.UUID, string, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("invalid UUID value")
	}
	return parsed, strings.ToLower(parsed.String()), nil
}
