// Package sqlutil provides SQL utility functions.
package sqlutil

import "strings"

// QuoteIdentifier quotes a SQL identifier (table name, column name, etc.)
// with backticks and escapes any backticks within the identifier.
func QuoteIdentifier(name string) string {
	escaped := strings.ReplaceAll(name, "`", "``")
	return "`" + escaped + "`"
}

// QuoteIdentifierANSI quotes an identifier with double quotes, as PostgreSQL
// expects, doubling any embedded double quotes.
func QuoteIdentifierANSI(name string) string {
	escaped := strings.ReplaceAll(name, `"`, `""`)
	return `"` + escaped + `"`
}

// LikeEscapeChar is the escape character used by EscapeLike.
const LikeEscapeChar = `\`

// EscapeLike escapes LIKE metacharacters so s matches literally inside a
// LIKE pattern using LikeEscapeChar.
func EscapeLike(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(s)
}
