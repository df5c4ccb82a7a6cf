package sqlexec

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-query/internal/dbexec"
	"portfolio-query/internal/planner"
	"portfolio-query/internal/queryerr"
	"portfolio-query/internal/schema"
	"portfolio-query/internal/sqlbuild"
	"portfolio-query/internal/uuidutil"
)

type fixture struct {
	t    *testing.T
	reg  *schema.Registry
	p    *planner.Planner
	b    *sqlbuild.Builder
	mock sqlmock.Sqlmock
	exec *Executor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	reg, err := schema.Portfolio(nil)
	require.NoError(t, err)
	p := planner.New(reg,
		planner.WithClock(func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }),
		planner.WithIDGenerator(uuidutil.Sequence("id")),
	)
	return &fixture{
		t:    t,
		reg:  reg,
		p:    p,
		b:    sqlbuild.NewBuilder(reg, sqlbuild.MySQL),
		mock: mock,
		exec: New(reg, dbexec.NewStandardExecutor(db), sqlbuild.MySQL),
	}
}

func (f *fixture) model(name string) *schema.Model {
	f.t.Helper()
	m, err := f.reg.Model(name)
	require.NoError(f.t, err)
	return m
}

func (f *fixture) sql(q sqlbuild.SQLQuery, err error) string {
	f.t.Helper()
	require.NoError(f.t, err)
	return regexp.QuoteMeta(q.SQL)
}

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		stmt statement
		want queryerr.ConstraintKind
	}{
		{name: "mysql duplicate", err: &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}, stmt: stmtInsert, want: queryerr.UniqueViolation},
		{name: "mysql parent row", err: &mysql.MySQLError{Number: 1451, Message: "Cannot delete"}, stmt: stmtDelete, want: queryerr.RelationViolation},
		{name: "mysql child row", err: &mysql.MySQLError{Number: 1452, Message: "Cannot add"}, stmt: stmtInsert, want: queryerr.ForeignKeyViolation},
		{name: "mysql not null", err: &mysql.MySQLError{Number: 1048, Message: "cannot be null"}, stmt: stmtUpdate, want: queryerr.NotNullViolation},
		{name: "postgres unique", err: &pgconn.PgError{Code: "23505"}, stmt: stmtInsert, want: queryerr.UniqueViolation},
		{name: "postgres fk on insert", err: &pgconn.PgError{Code: "23503"}, stmt: stmtInsert, want: queryerr.ForeignKeyViolation},
		{name: "postgres fk on delete", err: &pgconn.PgError{Code: "23503"}, stmt: stmtDelete, want: queryerr.RelationViolation},
		{name: "wrapped", err: fmt.Errorf("exec: %w", &mysql.MySQLError{Number: 1062}), stmt: stmtInsert, want: queryerr.UniqueViolation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := normalizeError(tt.err, "Project", tt.stmt)
			var ce *queryerr.ConstraintError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.want, ce.Constraint)
			assert.Equal(t, "Project", ce.Model)
			assert.ErrorIs(t, err, tt.err)
		})
	}

	t.Run("not null column", func(t *testing.T) {
		err := normalizeError(&pgconn.PgError{Code: "23502", ColumnName: "title"}, "Project", stmtInsert)
		var ce *queryerr.ConstraintError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, []string{"title"}, ce.Fields)
	})

	t.Run("passthrough", func(t *testing.T) {
		plain := errors.New("connection reset")
		assert.Same(t, plain, normalizeError(plain, "Project", stmtInsert))
		assert.NoError(t, normalizeError(nil, "Project", stmtInsert))
		mysqlErr := &mysql.MySQLError{Number: 1213}
		assert.Same(t, mysqlErr, normalizeError(mysqlErr, "Project", stmtUpdate))
	})
}

func TestFindManyWithInclude(t *testing.T) {
	f := newFixture(t)
	op, err := f.p.FindMany("Client", planner.Args{
		"select": map[string]any{
			"name":     true,
			"projects": map[string]any{"select": map[string]any{"title": true}},
		},
	})
	require.NoError(t, err)
	q := op.Read

	f.mock.ExpectQuery(f.sql(f.b.Select(q, []string{"id", "name"}, sqlbuild.WindowFor(q, nil), nil))).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow("c1", "Acme").AddRow("c2", "Globex"))

	child := q.Fetch.Relations[0].Query
	scope := &sqlbuild.Scope{Fields: []string{"clientId"}, Keys: [][]any{{"c1"}, {"c2"}}}
	f.mock.ExpectQuery(f.sql(f.b.Select(child, []string{"id", "title", "clientId"}, nil, scope))).
		WithArgs("c1", "c2").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "client_id"}).
			AddRow("p2", "Beta", "c1").
			AddRow("p1", []byte("Atlas"), "c1"))

	res, err := f.exec.Execute(context.Background(), op)
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, planner.Row{
		"name":     "Acme",
		"projects": []planner.Row{{"title": "Atlas"}, {"title": "Beta"}},
	}, res.Rows[0])
	assert.Equal(t, planner.Row{"name": "Globex", "projects": []planner.Row{}}, res.Rows[1])
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestFindManyRelationCount(t *testing.T) {
	f := newFixture(t)
	op, err := f.p.FindMany("Project", planner.Args{
		"select": map[string]any{"slug": true, "_count": map[string]any{"select": map[string]any{"sections": true}}},
	})
	require.NoError(t, err)
	q := op.Read

	f.mock.ExpectQuery(f.sql(f.b.Select(q, []string{"id", "slug"}, sqlbuild.WindowFor(q, nil), nil))).
		WillReturnRows(sqlmock.NewRows([]string{"id", "slug"}).AddRow("p1", "atlas").AddRow("p2", "beacon"))
	rc := q.Fetch.Counts[0]
	f.mock.ExpectQuery(f.sql(f.b.RelationCounts(rc.Relation, rc.Where, [][]any{{"p1"}, {"p2"}}))).
		WillReturnRows(sqlmock.NewRows([]string{"project_id", "count"}).AddRow("p1", int64(3)))

	res, err := f.exec.Execute(context.Background(), op)
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, planner.Row{"sections": int64(3)}, res.Rows[0]["_count"])
	assert.Equal(t, planner.Row{"sections": int64(0)}, res.Rows[1]["_count"])
}

func TestCursorNotFoundReturnsEmpty(t *testing.T) {
	f := newFixture(t)
	op, err := f.p.FindMany("Project", planner.Args{
		"cursor": map[string]any{"slug": "missing"},
		"take":   2,
		"select": map[string]any{"title": true},
	})
	require.NoError(t, err)

	anchor, _, err := f.b.AnchorQuery(op.Read)
	require.NoError(t, err)
	f.mock.ExpectQuery(regexp.QuoteMeta(anchor.SQL)).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "slug"}))

	res, err := f.exec.Execute(context.Background(), op)
	require.NoError(t, err)
	assert.Empty(t, res.Rows)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCursorPageBackward(t *testing.T) {
	f := newFixture(t)
	op, err := f.p.FindMany("Project", planner.Args{
		"cursor": map[string]any{"id": "p3"},
		"take":   -2,
		"select": map[string]any{"id": true},
	})
	require.NoError(t, err)
	q := op.Read

	anchorSQL, fields, err := f.b.AnchorQuery(q)
	require.NoError(t, err)
	require.Equal(t, []string{"id"}, fields)
	f.mock.ExpectQuery(regexp.QuoteMeta(anchorSQL.SQL)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("p3"))

	w := sqlbuild.WindowFor(q, planner.Row{"id": "p3"})
	require.True(t, w.Backward)
	f.mock.ExpectQuery(f.sql(f.b.Select(q, []string{"id"}, w, nil))).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("p3").AddRow("p2"))

	res, err := f.exec.Execute(context.Background(), op)
	require.NoError(t, err)
	assert.Equal(t, []planner.Row{{"id": "p2"}, {"id": "p3"}}, res.Rows)
}

func TestFindFirstOrThrow(t *testing.T) {
	f := newFixture(t)
	op, err := f.p.FindFirst("Project", planner.Args{
		"where":  map[string]any{"slug": "nope"},
		"select": map[string]any{"id": true},
	}, true)
	require.NoError(t, err)

	q := op.Read
	f.mock.ExpectQuery(f.sql(f.b.Select(q, []string{"id"}, sqlbuild.WindowFor(q, nil), nil))).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = f.exec.Execute(context.Background(), op)
	var nf *queryerr.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "Project", nf.Model)
	assert.Equal(t, queryerr.KindNotFound, queryerr.KindOf(err))
}

func TestCountPushedDown(t *testing.T) {
	f := newFixture(t)
	op, err := f.p.Count("Project", planner.Args{"where": map[string]any{"featured": true}})
	require.NoError(t, err)

	f.mock.ExpectQuery(f.sql(f.b.Aggregate(op.Read, []planner.AggregateTerm{{Func: planner.AggCount}}, nil))).
		WithArgs(true).
		WillReturnRows(sqlmock.NewRows([]string{"a0"}).AddRow([]byte("3")))

	res, err := f.exec.Execute(context.Background(), op)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Count)
	assert.Nil(t, res.Aggregate)
}

func TestAggregateSum(t *testing.T) {
	f := newFixture(t)
	op, err := f.p.Aggregate("Transaction", planner.Args{"_sum": map[string]any{"amount": true}})
	require.NoError(t, err)

	terms := append([]planner.AggregateTerm{{Func: planner.AggCount}}, op.Selection.Terms()...)
	f.mock.ExpectQuery(f.sql(f.b.Aggregate(op.Read, terms, nil))).
		WillReturnRows(sqlmock.NewRows([]string{"a0", "a1"}).AddRow(int64(2), []byte("120.50")))

	res, err := f.exec.Execute(context.Background(), op)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Count)
	sum, ok := res.Aggregate[planner.AggregateKey(planner.AggSum, "amount")].(decimal.Decimal)
	require.True(t, ok)
	assert.True(t, decimal.RequireFromString("120.5").Equal(sum))
}

func TestGroupBy(t *testing.T) {
	f := newFixture(t)
	op, err := f.p.GroupBy("Transaction", planner.Args{
		"by":      []string{"type"},
		"orderBy": []any{map[string]any{"_sum": map[string]any{"amount": "desc"}}},
		"take":    1,
		"_sum":    map[string]any{"amount": true},
	})
	require.NoError(t, err)

	terms := planner.RequiredAggregates(op)
	query, windowed, err := f.b.GroupBy(op, terms)
	require.NoError(t, err)
	require.True(t, windowed)

	columns := []string{"type"}
	values := []driver.Value{"INCOME"}
	for i, term := range terms {
		columns = append(columns, fmt.Sprintf("a%d", i))
		if term.Func == planner.AggCount {
			values = append(values, int64(2))
		} else {
			values = append(values, []byte("500.50"))
		}
	}
	f.mock.ExpectQuery(regexp.QuoteMeta(query.SQL)).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(values...))

	res, err := f.exec.Execute(context.Background(), op)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "INCOME", res.Rows[0]["type"])
	sum := res.Rows[0]["_sum"].(map[string]any)["amount"].(decimal.Decimal)
	assert.True(t, decimal.RequireFromString("500.5").Equal(sum))
}

func TestCreateDuplicateSlug(t *testing.T) {
	f := newFixture(t)
	op, err := f.p.Create("Project", planner.Args{"data": map[string]any{
		"title": "Atlas", "slug": "atlas", "description": "", "category": "WEB_DEVELOPMENT",
	}})
	require.NoError(t, err)

	f.mock.ExpectBegin()
	f.mock.ExpectExec(f.sql(f.b.Insert(op.Model, op.Row().Values))).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'atlas' for key 'projects.slug'"})
	f.mock.ExpectRollback()

	_, err = f.exec.Execute(context.Background(), op)
	var ce *queryerr.ConstraintError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, queryerr.UniqueViolation, ce.Constraint)
	assert.Equal(t, "Project", ce.Model)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCreateConnectMissingTarget(t *testing.T) {
	f := newFixture(t)
	op, err := f.p.Create("Account", planner.Args{"data": map[string]any{
		"type": "oauth", "provider": "github", "providerAccountId": "42",
		"user": map[string]any{"connect": map[string]any{"email": "ghost@example.com"}},
	}})
	require.NoError(t, err)

	user := f.model("User")
	link := op.Row().Links[0]
	f.mock.ExpectBegin()
	f.mock.ExpectQuery(f.sql(f.b.SelectWhere(user, planner.KeyPredicate(user, link.Target.Key.Fields, link.Target.Values), []string{"id"}, false))).
		WithArgs("ghost@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	f.mock.ExpectRollback()

	_, err = f.exec.Execute(context.Background(), op)
	var nf *queryerr.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "User", nf.Model)
	assert.Equal(t, "connect", nf.Operation)
}

func TestBatchRollsBack(t *testing.T) {
	f := newFixture(t)
	clients, err := f.p.CreateMany("Client", planner.Args{"data": []any{map[string]any{"name": "Acme"}}})
	require.NoError(t, err)
	projects, err := f.p.CreateMany("Project", planner.Args{"data": []any{map[string]any{
		"title": "Atlas", "slug": "atlas", "description": "", "category": "WEB_DEVELOPMENT", "clientId": "missing",
	}}})
	require.NoError(t, err)

	f.mock.ExpectBegin()
	f.mock.ExpectExec(f.sql(f.b.Insert(clients.Model, clients.Inserts[0].Values))).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(f.sql(f.b.Insert(projects.Model, projects.Inserts[0].Values))).
		WillReturnError(&mysql.MySQLError{Number: 1452, Message: "Cannot add or update a child row"})
	f.mock.ExpectRollback()

	_, err = f.exec.ExecuteBatch(context.Background(), []planner.Operation{clients, projects})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "operation 1 (Project createMany)")
	var ce *queryerr.ConstraintError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, queryerr.ForeignKeyViolation, ce.Constraint)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCreateManySkipDuplicates(t *testing.T) {
	f := newFixture(t)
	op, err := f.p.CreateMany("Project", planner.Args{
		"data": []any{
			map[string]any{"title": "Atlas", "slug": "atlas", "description": "", "category": "WEB_DEVELOPMENT"},
			map[string]any{"title": "Beacon", "slug": "beacon", "description": "", "category": "WEB_DEVELOPMENT"},
		},
		"skipDuplicates": true,
	})
	require.NoError(t, err)
	m := op.Model

	probe := func(ins *planner.RowInsert) string {
		keys, err := f.reg.UniqueKeysOf(m.Name)
		require.NoError(t, err)
		var preds []planner.Predicate
		for _, key := range keys {
			preds = append(preds, planner.KeyPredicate(m, key.Fields, ins.Values))
		}
		return f.sql(f.b.SelectWhere(m, &planner.Or{Children: preds}, []string{"id"}, false))
	}

	f.mock.ExpectBegin()
	f.mock.ExpectQuery(probe(op.Inserts[0])).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("p0"))
	f.mock.ExpectQuery(probe(op.Inserts[1])).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	f.mock.ExpectExec(f.sql(f.b.Insert(m, op.Inserts[1].Values))).WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectCommit()

	res, err := f.exec.Execute(context.Background(), op)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Count)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestUpdateManyIncrement(t *testing.T) {
	f := newFixture(t)
	op, err := f.p.UpdateMany("Transaction", planner.Args{
		"where": map[string]any{"projectId": "p1"},
		"data":  map[string]any{"amount": map[string]any{"increment": 10}},
	})
	require.NoError(t, err)
	m := op.Model

	f.mock.ExpectBegin()
	f.mock.ExpectQuery(f.sql(f.b.SelectWhere(m, op.Where, []string{"id"}, true))).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("x1").AddRow("x2"))
	update, err := f.b.Update(m, op.Set, &sqlbuild.Scope{Fields: []string{"id"}, Keys: [][]any{{"x1"}, {"x2"}}})
	require.NoError(t, err)
	assert.Contains(t, update.SQL, "`amount` = `amount` + ?")
	f.mock.ExpectExec(regexp.QuoteMeta(update.SQL)).WillReturnResult(sqlmock.NewResult(0, 2))
	f.mock.ExpectCommit()

	res, err := f.exec.Execute(context.Background(), op)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Count)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestDeleteNotFound(t *testing.T) {
	f := newFixture(t)
	op, err := f.p.Delete("Project", planner.Args{"where": map[string]any{"id": "p404"}})
	require.NoError(t, err)

	f.mock.ExpectBegin()
	f.mock.ExpectQuery(f.sql(f.b.SelectWhere(op.Model, op.Where(), op.Model.ScalarFieldNames(), true))).
		WithArgs("p404").
		WillReturnRows(sqlmock.NewRows(op.Model.ScalarFieldNames()))
	f.mock.ExpectRollback()

	_, err = f.exec.Execute(context.Background(), op)
	var nf *queryerr.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "delete", nf.Operation)
	assert.Equal(t, map[string]any{"id": "p404"}, nf.Key)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestDeleteManyRestricted(t *testing.T) {
	f := newFixture(t)
	op, err := f.p.DeleteMany("Project", planner.Args{"where": map[string]any{"featured": false}})
	require.NoError(t, err)
	m := op.Model

	f.mock.ExpectBegin()
	f.mock.ExpectQuery(f.sql(f.b.SelectWhere(m, op.Where, []string{"id"}, true))).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("p1"))
	f.mock.ExpectExec(f.sql(f.b.Delete(m, &sqlbuild.Scope{Fields: []string{"id"}, Keys: [][]any{{"p1"}}}))).
		WithArgs("p1").
		WillReturnError(&mysql.MySQLError{Number: 1451, Message: "Cannot delete or update a parent row"})
	f.mock.ExpectRollback()

	_, err = f.exec.Execute(context.Background(), op)
	var ce *queryerr.ConstraintError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, queryerr.RelationViolation, ce.Constraint)
}

func TestCanceledBatch(t *testing.T) {
	f := newFixture(t)
	op, err := f.p.DeleteMany("Project", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = f.exec.ExecuteBatch(ctx, []planner.Operation{op})
	assert.ErrorIs(t, err, context.Canceled)
}
