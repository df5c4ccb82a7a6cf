package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-query/internal/planner"
	"portfolio-query/internal/queryerr"
	"portfolio-query/internal/schema"
	"portfolio-query/internal/uuidutil"
)

type fixture struct {
	t     *testing.T
	p     *planner.Planner
	store *Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg, err := schema.Portfolio(nil)
	require.NoError(t, err)
	p := planner.New(reg,
		planner.WithClock(func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }),
		planner.WithIDGenerator(uuidutil.Sequence("id")),
	)
	return &fixture{t: t, p: p, store: New(reg)}
}

func (f *fixture) run(op planner.Operation, err error) (*planner.Result, error) {
	f.t.Helper()
	require.NoError(f.t, err)
	return f.store.Execute(context.Background(), op)
}

func (f *fixture) mustRun(op planner.Operation, err error) *planner.Result {
	f.t.Helper()
	res, err := f.run(op, err)
	require.NoError(f.t, err)
	return res
}

func (f *fixture) create(model string, data map[string]any) planner.Row {
	f.t.Helper()
	return f.mustRun(f.p.Create(model, planner.Args{"data": data})).First()
}

func (f *fixture) count(model string) int {
	f.t.Helper()
	rows, err := f.store.Rows(model)
	require.NoError(f.t, err)
	return len(rows)
}

func (f *fixture) seedProject() planner.Row {
	f.t.Helper()
	return f.create("Project", map[string]any{
		"title": "Atlas", "slug": "atlas", "description": "Design system", "category": "WEB_DEVELOPMENT",
		"sections": map[string]any{"create": []any{
			map[string]any{
				"key": "intro", "title": "Intro", "description": "", "order": 0,
				"subsections": map[string]any{"create": []any{
					map[string]any{"key": "a", "title": "A", "description": ""},
					map[string]any{"key": "b", "title": "B", "description": ""},
				}},
			},
			map[string]any{"key": "stack", "title": "Stack", "description": "", "order": 1},
		}},
	})
}

func TestCreateAndFind(t *testing.T) {
	f := newFixture(t)
	project := f.seedProject()
	assert.Equal(t, "IN_DEVELOPMENT", project["status"])

	res := f.mustRun(f.p.FindUnique("Project", planner.Args{
		"where": map[string]any{"slug": "atlas"},
		"include": map[string]any{
			"sections": map[string]any{"orderBy": map[string]any{"order": "asc"}, "include": map[string]any{"subsections": true}},
			"_count":   map[string]any{"select": map[string]any{"sections": true}},
		},
	}, false))
	row := res.First()
	require.NotNil(t, row)
	sections := row["sections"].([]planner.Row)
	require.Len(t, sections, 2)
	assert.Equal(t, "intro", sections[0]["key"])
	assert.Len(t, sections[0]["subsections"].([]planner.Row), 2)
	assert.Empty(t, sections[1]["subsections"])
	assert.Equal(t, planner.Row{"sections": int64(2)}, row["_count"])
}

func TestCursorNotFoundReturnsEmpty(t *testing.T) {
	f := newFixture(t)
	f.seedProject()

	res := f.mustRun(f.p.FindMany("ProjectSection", planner.Args{"cursor": map[string]any{"id": "missing"}, "take": 5}))
	assert.NotNil(t, res.Rows)
	assert.Empty(t, res.Rows)
}

func TestCompoundUniqueViolation(t *testing.T) {
	f := newFixture(t)
	user := f.create("User", map[string]any{"email": "ada@example.test"})
	data := map[string]any{"type": "oauth", "provider": "github", "providerAccountId": "42", "userId": user["id"]}

	first := f.create("Account", data)
	_, err := f.run(f.p.Create("Account", planner.Args{"data": data}))

	var ce *queryerr.ConstraintError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, queryerr.UniqueViolation, ce.Constraint)
	assert.Equal(t, []string{"provider", "providerAccountId"}, ce.Fields)
	assert.Equal(t, queryerr.KindConstraint, queryerr.KindOf(err))

	rows, err := f.store.Rows("Account")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, first["id"], rows[0]["id"])
}

func TestDeleteCascadesAndSetsNull(t *testing.T) {
	f := newFixture(t)
	project := f.seedProject()
	other := f.create("Project", map[string]any{"title": "Beacon", "slug": "beacon", "description": "", "category": "OTHER"})
	tx := f.create("Transaction", map[string]any{"type": "INCOME", "amount": "120.00", "description": "Kickoff", "projectId": project["id"]})
	f.create("Transaction", map[string]any{"type": "INCOME", "amount": "10", "description": "Other", "projectId": other["id"]})
	require.Equal(t, 2, f.count("ProjectSection"))
	require.Equal(t, 2, f.count("ProjectSubsection"))

	res := f.mustRun(f.p.Delete("Project", planner.Args{"where": map[string]any{"id": project["id"]}}))
	assert.Equal(t, "atlas", res.First()["slug"])

	assert.Equal(t, 0, f.count("ProjectSection"))
	assert.Equal(t, 0, f.count("ProjectSubsection"))
	assert.Equal(t, 1, f.count("Project"))

	found := f.mustRun(f.p.FindUnique("Transaction", planner.Args{"where": map[string]any{"id": tx["id"]}}, true)).First()
	assert.Nil(t, found["projectId"])
	kept := f.mustRun(f.p.FindMany("Transaction", planner.Args{"where": map[string]any{"projectId": other["id"]}}))
	assert.Len(t, kept.Rows, 1)
}

func TestConnectByUniqueKey(t *testing.T) {
	f := newFixture(t)
	user := f.create("User", map[string]any{"email": "ada@example.test"})

	account := f.create("Account", map[string]any{
		"type": "oauth", "provider": "github", "providerAccountId": "1",
		"user": map[string]any{"connect": map[string]any{"email": "ada@example.test"}},
	})
	assert.Equal(t, user["id"], account["userId"])

	_, err := f.run(f.p.Create("Account", planner.Args{"data": map[string]any{
		"type": "oauth", "provider": "github", "providerAccountId": "2",
		"user": map[string]any{"connect": map[string]any{"email": "nobody@example.test"}},
	}}))
	var notFound *queryerr.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "connect", notFound.Operation)
	assert.Equal(t, 1, f.count("Account"))
}

func TestForeignKeyViolation(t *testing.T) {
	f := newFixture(t)

	_, err := f.run(f.p.Create("Testimonial", planner.Args{"data": map[string]any{"content": "Great", "clientId": "nope"}}))
	var ce *queryerr.ConstraintError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, queryerr.ForeignKeyViolation, ce.Constraint)
	assert.Equal(t, []string{"clientId"}, ce.Fields)
}

func TestUpdateAtomicAndNotFound(t *testing.T) {
	f := newFixture(t)
	tx := f.create("Transaction", map[string]any{"type": "INCOME", "amount": "100", "description": "Retainer"})

	for i := 0; i < 3; i++ {
		f.mustRun(f.p.Update("Transaction", planner.Args{
			"where": map[string]any{"id": tx["id"]},
			"data":  map[string]any{"amount": map[string]any{"increment": "2.50"}},
		}))
	}
	row := f.mustRun(f.p.FindUnique("Transaction", planner.Args{"where": map[string]any{"id": tx["id"]}}, false)).First()
	assert.True(t, decimal.RequireFromString("107.5").Equal(row["amount"].(decimal.Decimal)))

	_, err := f.run(f.p.Update("Transaction", planner.Args{
		"where": map[string]any{"id": "missing"},
		"data":  map[string]any{"description": "x"},
	}))
	var notFound *queryerr.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "update", notFound.Operation)
}

func TestUpdateNestedCreateAndDisconnect(t *testing.T) {
	f := newFixture(t)
	client := f.create("Client", map[string]any{"name": "Acme"})
	project := f.create("Project", map[string]any{
		"title": "Atlas", "slug": "atlas", "description": "", "category": "OTHER",
		"client": map[string]any{"connect": map[string]any{"id": client["id"]}},
	})
	assert.Equal(t, client["id"], project["clientId"])

	updated := f.mustRun(f.p.Update("Project", planner.Args{
		"where":   map[string]any{"slug": "atlas"},
		"data":    map[string]any{"client": map[string]any{"disconnect": true}, "images": map[string]any{"create": map[string]any{"url": "/a.png"}}},
		"include": map[string]any{"images": true},
	})).First()
	assert.Nil(t, updated["clientId"])
	images := updated["images"].([]planner.Row)
	require.Len(t, images, 1)
	assert.Equal(t, project["id"], images[0]["projectId"])
}

func TestUpsert(t *testing.T) {
	f := newFixture(t)
	args := func(name string) planner.Args {
		return planner.Args{
			"where":  map[string]any{"id": "m1"},
			"create": map[string]any{"id": "m1", "name": name, "role": "Lead"},
			"update": map[string]any{"name": name},
		}
	}

	created := f.mustRun(f.p.Upsert("TeamMember", args("Ada"))).First()
	assert.Equal(t, "Ada", created["name"])
	updated := f.mustRun(f.p.Upsert("TeamMember", args("Grace"))).First()
	assert.Equal(t, "Grace", updated["name"])
	assert.Equal(t, 1, f.count("TeamMember"))
}

func TestCreateManySkipDuplicates(t *testing.T) {
	f := newFixture(t)
	f.create("User", map[string]any{"email": "ada@example.test"})

	items := []any{
		map[string]any{"email": "ada@example.test"},
		map[string]any{"email": "grace@example.test"},
	}
	_, err := f.run(f.p.CreateMany("User", planner.Args{"data": items}))
	require.Error(t, err)
	assert.Equal(t, 1, f.count("User"))

	res := f.mustRun(f.p.CreateMany("User", planner.Args{"data": items, "skipDuplicates": true}))
	assert.Equal(t, int64(1), res.Count)
	assert.Equal(t, 2, f.count("User"))
}

func TestBatchIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	f.create("User", map[string]any{"email": "ada@example.test"})

	first, err := f.p.Create("User", planner.Args{"data": map[string]any{"email": "grace@example.test"}})
	require.NoError(t, err)
	second, err := f.p.Create("User", planner.Args{"data": map[string]any{"email": "ada@example.test"}})
	require.NoError(t, err)

	_, err = f.store.ExecuteBatch(context.Background(), []planner.Operation{first, second})
	require.Error(t, err)
	assert.Equal(t, queryerr.KindConstraint, queryerr.KindOf(err))
	assert.Equal(t, 1, f.count("User"))
}

func TestCanceledContextDoesNotCommit(t *testing.T) {
	f := newFixture(t)
	op, err := f.p.Create("Client", planner.Args{"data": map[string]any{"name": "Acme"}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.store.Execute(ctx, op)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, f.count("Client"))
}

func TestOrThrow(t *testing.T) {
	f := newFixture(t)

	_, err := f.run(f.p.FindUnique("Project", planner.Args{"where": map[string]any{"slug": "nope"}}, true))
	var notFound *queryerr.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, map[string]any{"slug": "nope"}, notFound.Key)

	res, err := f.run(f.p.FindFirst("Project", planner.Args{}, false))
	require.NoError(t, err)
	assert.Nil(t, res.First())
}

func TestAggregatesAndGroupBy(t *testing.T) {
	f := newFixture(t)
	for _, tx := range []map[string]any{
		{"type": "INCOME", "amount": "120", "description": "a", "category": "design"},
		{"type": "INCOME", "amount": "80", "description": "b", "category": "design"},
		{"type": "EXPENSE", "amount": "40", "description": "c", "category": "hosting"},
	} {
		f.create("Transaction", tx)
	}

	agg := f.mustRun(f.p.Aggregate("Transaction", planner.Args{"_sum": map[string]any{"amount": true}, "_count": true}))
	assert.Equal(t, int64(3), agg.Aggregate["_count"])
	assert.True(t, decimal.NewFromInt(240).Equal(agg.Aggregate["_sum.amount"].(decimal.Decimal)))

	count := f.mustRun(f.p.Count("Transaction", planner.Args{"where": map[string]any{"type": "INCOME"}}))
	assert.Equal(t, int64(2), count.Count)

	groups := f.mustRun(f.p.GroupBy("Transaction", planner.Args{
		"by":      []string{"type"},
		"orderBy": map[string]any{"type": "desc"},
		"_count":  map[string]any{"_all": true},
	}))
	require.Len(t, groups.Rows, 2)
	assert.Equal(t, "INCOME", groups.Rows[0]["type"])
	assert.Equal(t, map[string]any{"_all": int64(2)}, groups.Rows[0]["_count"])
}

func TestRelationFilters(t *testing.T) {
	f := newFixture(t)
	f.seedProject()
	f.create("Project", map[string]any{"title": "Beacon", "slug": "beacon", "description": "", "category": "OTHER"})

	res := f.mustRun(f.p.FindMany("Project", planner.Args{
		"where": map[string]any{"sections": map[string]any{"some": map[string]any{"key": "stack"}}},
	}))
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "atlas", res.Rows[0]["slug"])

	none := f.mustRun(f.p.FindMany("Project", planner.Args{
		"where": map[string]any{"sections": map[string]any{"none": map[string]any{}}},
	}))
	require.Len(t, none.Rows, 1)
	assert.Equal(t, "beacon", none.Rows[0]["slug"])
}

func TestDeleteManyAndUpdateMany(t *testing.T) {
	f := newFixture(t)
	for _, name := range []string{"Ada", "Grace", "Linus"} {
		f.create("TeamMember", map[string]any{"name": name, "role": "Engineer"})
	}

	upd := f.mustRun(f.p.UpdateMany("TeamMember", planner.Args{
		"where": map[string]any{"name": map[string]any{"in": []string{"Ada", "Grace"}}},
		"data":  map[string]any{"order": map[string]any{"increment": 5}},
	}))
	assert.Equal(t, int64(2), upd.Count)

	del := f.mustRun(f.p.DeleteMany("TeamMember", planner.Args{"where": map[string]any{"order": map[string]any{"gte": 5}}}))
	assert.Equal(t, int64(2), del.Count)
	assert.Equal(t, 1, f.count("TeamMember"))
}
