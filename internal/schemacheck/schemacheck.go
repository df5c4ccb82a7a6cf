// Package schemacheck compares the schema registry with the tables a
// database actually has. It reads INFORMATION_SCHEMA.COLUMNS and reports
// missing tables, missing columns, type mismatches and nullability drift.
package schemacheck

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"portfolio-query/internal/schema"
	"portfolio-query/internal/sqltype"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Column is one column as reported by the database.
type Column struct {
	Name       string
	DataType   string
	IsNullable bool
}

// Table is one table as reported by the database.
type Table struct {
	Name    string
	Columns []Column
}

// Column finds a column by name.
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Queryer provides query access for schema introspection.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const mysqlColumnsQuery = `
		SELECT
			TABLE_NAME,
			COLUMN_NAME,
			DATA_TYPE,
			IS_NULLABLE
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = ?
		ORDER BY TABLE_NAME, ORDINAL_POSITION
	`

const postgresColumnsQuery = `
		SELECT
			TABLE_NAME,
			COLUMN_NAME,
			DATA_TYPE,
			IS_NULLABLE
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_CATALOG = $1 AND TABLE_SCHEMA = current_schema()
		ORDER BY TABLE_NAME, ORDINAL_POSITION
	`

// Introspect returns every table of databaseName keyed by table name.
func Introspect(ctx context.Context, db Queryer, driver, databaseName string) (map[string]Table, error) {
	ctx, span := startSpan(ctx, "schemacheck.introspect",
		attribute.String("db.name", databaseName),
		attribute.String("db.system", driver),
	)
	defer span.End()

	query := mysqlColumnsQuery
	if driver == "postgres" {
		query = postgresColumnsQuery
	}

	rows, err := db.QueryContext(ctx, query, databaseName)
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	tables := map[string]Table{}
	for rows.Next() {
		var tableName, isNullable string
		var col Column
		if err := rows.Scan(&tableName, &col.Name, &col.DataType, &isNullable); err != nil {
			recordSpanError(span, err)
			return nil, err
		}
		col.IsNullable = strings.ToUpper(isNullable) == "YES"
		t := tables[tableName]
		t.Name = tableName
		t.Columns = append(t.Columns, col)
		tables[tableName] = t
	}
	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("schemacheck.tables", len(tables)))
	return tables, nil
}

// ProblemKind classifies a difference between registry and database.
type ProblemKind string

const (
	MissingTable     ProblemKind = "missing_table"
	MissingColumn    ProblemKind = "missing_column"
	TypeMismatch     ProblemKind = "type_mismatch"
	NullableMismatch ProblemKind = "nullable_mismatch"
)

// Problem is one difference found by Compare.
type Problem struct {
	Kind    ProblemKind `json:"kind"`
	Model   string      `json:"model"`
	Table   string      `json:"table"`
	Field   string      `json:"field,omitempty"`
	Column  string      `json:"column,omitempty"`
	Message string      `json:"message"`
}

func (p Problem) String() string {
	if p.Column == "" {
		return fmt.Sprintf("%s (%s): %s", p.Model, p.Table, p.Message)
	}
	return fmt.Sprintf("%s.%s (%s.%s): %s", p.Model, p.Field, p.Table, p.Column, p.Message)
}

// Report lists the problems found for every model.
type Report struct {
	Problems []Problem `json:"problems"`
}

// OK reports whether the database matches the registry.
func (r *Report) OK() bool {
	return len(r.Problems) == 0
}

// Err returns an error naming every problem, or nil when there are none.
func (r *Report) Err() error {
	if r.OK() {
		return nil
	}
	msgs := make([]string, len(r.Problems))
	for i, p := range r.Problems {
		msgs[i] = p.String()
	}
	return fmt.Errorf("schema check found %d problem(s): %s", len(r.Problems), strings.Join(msgs, "; "))
}

// Compare checks every model of reg against tables. Extra tables and columns
// in the database are ignored.
func Compare(reg *schema.Registry, tables map[string]Table) *Report {
	report := &Report{}
	for _, m := range reg.Models() {
		table, ok := tables[m.Table]
		if !ok {
			report.Problems = append(report.Problems, Problem{
				Kind:    MissingTable,
				Model:   m.Name,
				Table:   m.Table,
				Message: "table does not exist",
			})
			continue
		}
		for _, f := range m.Fields {
			report.Problems = append(report.Problems, compareField(m, f, table)...)
		}
	}
	sort.SliceStable(report.Problems, func(i, j int) bool {
		if report.Problems[i].Model != report.Problems[j].Model {
			return report.Problems[i].Model < report.Problems[j].Model
		}
		return report.Problems[i].Field < report.Problems[j].Field
	})
	return report
}

func compareField(m *schema.Model, f schema.Field, table Table) []Problem {
	base := Problem{Model: m.Name, Table: m.Table, Field: f.Name, Column: f.Column}
	col, ok := table.Column(f.Column)
	if !ok {
		base.Kind = MissingColumn
		base.Message = "column does not exist"
		return []Problem{base}
	}

	var problems []Problem
	actual := sqltype.MapToScalar(col.DataType)
	if !f.Type.Compatible(actual) {
		p := base
		p.Kind = TypeMismatch
		p.Message = fmt.Sprintf("column type %s cannot hold %s", col.DataType, f.Type)
		problems = append(problems, p)
	}
	if f.Optional && !col.IsNullable {
		p := base
		p.Kind = NullableMismatch
		p.Message = "field is optional but column is NOT NULL"
		problems = append(problems, p)
	}
	if !f.Optional && col.IsNullable {
		p := base
		p.Kind = NullableMismatch
		p.Message = "field is required but column allows NULL"
		problems = append(problems, p)
	}
	return problems
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer("portfolio-query/schemacheck")
	ctx, span := tracer.Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
