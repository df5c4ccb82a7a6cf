package naming

import (
	"log/slog"
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"
)

// Namer converts model and field names into SQL identifiers.
type Namer struct {
	config Config
	logger *slog.Logger
}

// New creates a Namer with the given configuration
func New(cfg Config, logger *slog.Logger) *Namer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PluralOverrides == nil {
		cfg.PluralOverrides = map[string]string{}
	}
	if cfg.TableOverrides == nil {
		cfg.TableOverrides = map[string]string{}
	}
	return &Namer{config: cfg, logger: logger}
}

// Default returns a Namer with default configuration
func Default() *Namer {
	return New(DefaultConfig(), nil)
}

// TableName returns the table backing a model.
// Example: "ProjectSection" -> "project_sections"
func (n *Namer) TableName(model string) string {
	if override, ok := n.config.TableOverrides[model]; ok {
		n.logger.Debug("using table override",
			slog.String("model", model),
			slog.String("table", override),
		)
		return override
	}
	snake := ToSnakeCase(model)
	idx := strings.LastIndex(snake, "_")
	return snake[:idx+1] + n.Pluralize(snake[idx+1:])
}

// Pluralize returns the plural of a single lower-case word. Configured
// overrides win over the inflection rules.
func (n *Namer) Pluralize(word string) string {
	if plural, ok := n.config.PluralOverrides[word]; ok {
		return plural
	}
	return inflection.Plural(word)
}

// ColumnName returns the column backing a field.
// Example: "providerAccountId" -> "provider_account_id"
func (n *Namer) ColumnName(field string) string {
	return ToSnakeCase(field)
}

// CompoundKeyName joins the fields of a compound unique key the way callers
// address it in lookups.
// Example: ["provider", "providerAccountId"] -> "provider_providerAccountId"
func CompoundKeyName(fields []string) string {
	return strings.Join(fields, "_")
}

// ToSnakeCase converts camelCase or PascalCase to snake_case. Runs of capitals
// are treated as one word and existing underscores are kept.
// Example: "demoURL" -> "demo_url", "refresh_token" -> "refresh_token"
func ToSnakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && runes[i-1] != '_' {
				prevLower := unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1])
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if prevLower || (nextLower && unicode.IsUpper(runes[i-1])) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ToCamelCase converts snake_case to camelCase
func ToCamelCase(s string) string {
	parts := strings.Split(s, "_")
	for i := 1; i < len(parts); i++ {
		if len(parts[i]) > 0 {
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
	}
	return strings.Join(parts, "")
}
