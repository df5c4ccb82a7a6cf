// Package sqlbuild renders planner operations into SQL statements with
// squirrel. Statements are dialect-aware: identifier quoting, placeholders,
// integer division and null ordering differ between MySQL and PostgreSQL.
package sqlbuild

import (
	"fmt"
	"math"
	"strings"

	"portfolio-query/internal/sqlutil"

	sq "github.com/Masterminds/squirrel"
)

// Dialect captures the syntax differences between supported databases.
type Dialect struct {
	Name        string
	quote       func(string) string
	placeholder sq.PlaceholderFormat
	// nativeNulls is set when ORDER BY accepts NULLS FIRST/LAST.
	nativeNulls bool
	intDivide   string
	// offsetLimit is the LIMIT rendered with an OFFSET that has none, for
	// dialects that cannot express OFFSET alone.
	offsetLimit uint64
}

var (
	// MySQL covers MySQL and TiDB.
	MySQL = Dialect{Name: "mysql", quote: sqlutil.QuoteIdentifier, placeholder: sq.Question, intDivide: "DIV", offsetLimit: math.MaxUint64}
	// Postgres covers PostgreSQL.
	Postgres = Dialect{Name: "postgres", quote: sqlutil.QuoteIdentifierANSI, placeholder: sq.Dollar, nativeNulls: true, intDivide: "/"}
)

// DialectFor returns the dialect registered under name.
func DialectFor(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mysql", "tidb", "":
		return MySQL, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported sql dialect %q", name)
	}
}

// Quote quotes an identifier.
func (d Dialect) Quote(name string) string {
	return d.quote(name)
}

// Column returns a column reference, qualified when alias is set.
func (d Dialect) Column(alias, column string) string {
	if alias == "" {
		return d.quote(column)
	}
	return d.quote(alias) + "." + d.quote(column)
}

// Table returns a FROM item, aliased when alias is set.
func (d Dialect) Table(table, alias string) string {
	if alias == "" {
		return d.quote(table)
	}
	return d.quote(table) + " AS " + d.quote(alias)
}

// OrderTerm renders one ORDER BY item. Nulls sort as the smallest value
// unless nullsFirst says otherwise.
func (d Dialect) OrderTerm(expr string, desc, nullsFirst bool) []string {
	dir := "ASC"
	if desc {
		dir = "DESC"
	}
	if d.nativeNulls {
		nulls := "NULLS LAST"
		if nullsFirst {
			nulls = "NULLS FIRST"
		}
		return []string{expr + " " + dir + " " + nulls}
	}
	// MySQL places nulls first ascending and last descending.
	if nullsFirst == !desc {
		return []string{expr + " " + dir}
	}
	nullDir := "ASC"
	if nullsFirst {
		nullDir = "DESC"
	}
	return []string{"(" + expr + " IS NULL) " + nullDir, expr + " " + dir}
}

// Render finalizes a Sqlizer with the dialect's placeholder format.
func (d Dialect) Render(s sq.Sqlizer) (SQLQuery, error) {
	query, args, err := s.ToSql()
	if err != nil {
		return SQLQuery{}, err
	}
	query, err = d.placeholder.ReplacePlaceholders(query)
	if err != nil {
		return SQLQuery{}, err
	}
	return SQLQuery{SQL: query, Args: args}, nil
}

// SQLQuery represents a planned SQL statement with bound args.
type SQLQuery struct {
	SQL  string
	Args []any
}
