// Package naming maps model and field names to SQL table and column names,
// including pluralization and per-model overrides.
package naming

// Config holds naming customization options
type Config struct {
	// PluralOverrides maps singular -> custom plural
	// Example: {"person": "people", "status": "statuses"}
	PluralOverrides map[string]string `mapstructure:"plural_overrides"`

	// TableOverrides maps a model name to an explicit table name.
	// Example: {"TeamMember": "staff"}
	TableOverrides map[string]string `mapstructure:"table_overrides"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		PluralOverrides: make(map[string]string),
		TableOverrides:  make(map[string]string),
	}
}
