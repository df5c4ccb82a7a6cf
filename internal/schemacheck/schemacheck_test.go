package schemacheck

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-query/internal/naming"
	"portfolio-query/internal/schema"
	"portfolio-query/internal/sqltype"
)

func portfolio(t *testing.T) *schema.Registry {
	t.Helper()
	reg, err := schema.Portfolio(naming.Default())
	require.NoError(t, err)
	return reg
}

// matchingTables describes a database created by the bundled migrations.
func matchingTables(reg *schema.Registry) map[string]Table {
	tables := map[string]Table{}
	for _, m := range reg.Models() {
		t := Table{Name: m.Table}
		for _, f := range m.Fields {
			t.Columns = append(t.Columns, Column{Name: f.Column, DataType: mysqlType(f.Type), IsNullable: f.Optional})
		}
		tables[m.Table] = t
	}
	return tables
}

func mysqlType(t sqltype.ScalarType) string {
	switch t {
	case sqltype.TypeInt:
		return "int"
	case sqltype.TypeDecimal:
		return "decimal"
	case sqltype.TypeBoolean:
		return "tinyint"
	case sqltype.TypeDateTime:
		return "datetime"
	default:
		return "varchar"
	}
}

func TestCompareMatching(t *testing.T) {
	reg := portfolio(t)
	report := Compare(reg, matchingTables(reg))
	assert.True(t, report.OK())
	assert.NoError(t, report.Err())
}

func TestCompareFindsDrift(t *testing.T) {
	reg := portfolio(t)
	tables := matchingTables(reg)

	delete(tables, "team_members")

	projects := tables["projects"]
	for i, c := range projects.Columns {
		switch c.Name {
		case "featured":
			projects.Columns[i].DataType = "datetime"
		case "client_id":
			projects.Columns[i].IsNullable = false
		}
	}
	tables["projects"] = projects

	accounts := tables["accounts"]
	accounts.Columns = accounts.Columns[:len(accounts.Columns)-1]
	tables["accounts"] = accounts

	report := Compare(reg, tables)
	require.False(t, report.OK())
	require.Len(t, report.Problems, 4)

	assert.Equal(t, Problem{
		Kind: MissingColumn, Model: "Account", Table: "accounts",
		Field: "session_state", Column: "session_state", Message: "column does not exist",
	}, report.Problems[0])
	assert.Equal(t, NullableMismatch, report.Problems[1].Kind)
	assert.Equal(t, "clientId", report.Problems[1].Field)
	assert.Equal(t, TypeMismatch, report.Problems[2].Kind)
	assert.Equal(t, "featured", report.Problems[2].Field)
	assert.Equal(t, Problem{
		Kind: MissingTable, Model: "TeamMember", Table: "team_members", Message: "table does not exist",
	}, report.Problems[3])

	err := report.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "4 problem(s)")
	assert.Contains(t, err.Error(), "Project.featured (projects.featured): column type datetime cannot hold Boolean")
}

func TestIntrospectMySQL(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	rows := sqlmock.NewRows([]string{"TABLE_NAME", "COLUMN_NAME", "DATA_TYPE", "IS_NULLABLE"}).
		AddRow("clients", "id", "varchar", "NO").
		AddRow("clients", "email", "varchar", "YES").
		AddRow("projects", "id", "varchar", "NO")
	mock.ExpectQuery(regexp.QuoteMeta("WHERE TABLE_SCHEMA = ?")).
		WithArgs("portfolio").
		WillReturnRows(rows)

	tables, err := Introspect(context.Background(), db, "mysql", "portfolio")
	require.NoError(t, err)
	require.Len(t, tables, 2)

	clients := tables["clients"]
	assert.Equal(t, "clients", clients.Name)
	email, ok := clients.Column("email")
	require.True(t, ok)
	assert.True(t, email.IsNullable)
	_, ok = clients.Column("phone")
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIntrospectPostgresQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE TABLE_CATALOG = $1 AND TABLE_SCHEMA = current_schema()")).
		WithArgs("portfolio").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME", "COLUMN_NAME", "DATA_TYPE", "IS_NULLABLE"}))

	tables, err := Introspect(context.Background(), db, "postgres", "portfolio")
	require.NoError(t, err)
	assert.Empty(t, tables)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIntrospectQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("INFORMATION_SCHEMA.COLUMNS").WillReturnError(errors.New("access denied"))

	_, err = Introspect(context.Background(), db, "mysql", "portfolio")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}
