package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-query/internal/queryerr"
)

func TestSelectAndIncludeConflict(t *testing.T) {
	p := newTestPlanner(t)

	t.Run("top level", func(t *testing.T) {
		_, err := p.FindMany("Project", Args{
			"select":  map[string]any{"title": true},
			"include": map[string]any{"client": true},
		})
		var conflict *queryerr.ConflictingSelectionError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, "", conflict.Path)
	})

	t.Run("nested", func(t *testing.T) {
		_, err := p.FindMany("Project", Args{
			"include": map[string]any{
				"sections": map[string]any{
					"include": map[string]any{
						"subsections": map[string]any{
							"select":  map[string]any{"key": true},
							"include": map[string]any{"section": true},
						},
					},
				},
			},
		})
		var conflict *queryerr.ConflictingSelectionError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, "sections.subsections", conflict.Path)
	})
}

func TestPlanSelectionDefaults(t *testing.T) {
	p := newTestPlanner(t)

	plan, err := p.PlanSelection("Client", nil)
	require.NoError(t, err)
	assert.Equal(t, model(t, p, "Client").ScalarFieldNames(), plan.Fields)
	assert.Empty(t, plan.Relations)
	assert.Empty(t, plan.Counts)
}

func TestNestedIncludeArguments(t *testing.T) {
	p := newTestPlanner(t)

	op, err := p.FindMany("Project", Args{
		"include": map[string]any{
			"sections": map[string]any{
				"where":   map[string]any{"key": map[string]any{"not": "draft"}},
				"orderBy": map[string]any{"order": "desc"},
				"take":    2,
				"select":  map[string]any{"key": true, "subsections": true},
			},
			"client": true,
			"_count": map[string]any{"select": map[string]any{"images": true, "transactions": map[string]any{"where": map[string]any{"type": "INCOME"}}}},
		},
	})
	require.NoError(t, err)

	plan := op.Read.Fetch
	require.Len(t, plan.Relations, 2)
	byName := map[string]*RelationFetch{}
	for _, rf := range plan.Relations {
		byName[rf.Relation.Name] = rf
	}
	sections := byName["sections"]
	require.NotNil(t, sections)
	assert.Equal(t, 2, *sections.Query.Window.Take)
	assert.Equal(t, []string{"key"}, sections.Query.Fetch.Fields)
	assert.Equal(t, "order", sections.Query.OrderBy[0].Field)
	assert.True(t, sections.Query.OrderBy[0].Desc)
	require.Len(t, sections.Query.Fetch.Relations, 1)
	assert.Equal(t, "subsections", sections.Query.Fetch.Relations[0].Relation.Name)

	require.Len(t, plan.Counts, 2)
	assert.Equal(t, "images", plan.Counts[0].Relation.Name)
	assert.True(t, IsTrue(plan.Counts[0].Where))
	assert.Equal(t, "transactions", plan.Counts[1].Relation.Name)
	assert.False(t, IsTrue(plan.Counts[1].Where))
}

func TestSelectionErrors(t *testing.T) {
	p := newTestPlanner(t)

	tests := []struct {
		name string
		args Args
	}{
		{name: "empty select", args: Args{"select": map[string]any{"title": false}}},
		{name: "include of a scalar", args: Args{"include": map[string]any{"title": true}}},
		{name: "paging args on to-one", args: Args{"include": map[string]any{"client": map[string]any{"take": 1}}}},
		{name: "count of to-one", args: Args{"include": map[string]any{"_count": map[string]any{"select": map[string]any{"client": true}}}}},
		{name: "unknown relation", args: Args{"include": map[string]any{"owner": true}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.FindMany("Project", tt.args)
			require.Error(t, err)
		})
	}
}

func TestMaxDepth(t *testing.T) {
	p := newTestPlanner(t, WithLimits(Limits{MaxDepth: 2}))

	_, err := p.FindMany("Project", Args{"include": map[string]any{"sections": true}})
	require.NoError(t, err)

	_, err = p.FindMany("Project", Args{
		"include": map[string]any{"sections": map[string]any{"include": map[string]any{"subsections": true}}},
	})
	var invalid *queryerr.InvalidArgumentError
	require.ErrorAs(t, err, &invalid)
	assert.Contains(t, invalid.Message, "maximum depth")
}

func TestReshape(t *testing.T) {
	p := newTestPlanner(t)

	op, err := p.FindMany("Project", Args{
		"select": map[string]any{
			"title":    true,
			"sections": map[string]any{"select": map[string]any{"key": true}},
			"client":   map[string]any{"select": map[string]any{"name": true}},
			"_count":   map[string]any{"select": map[string]any{"images": true}},
		},
	})
	require.NoError(t, err)
	plan := op.Read.Fetch

	row := Row{
		"id": "p1", "title": "Atlas", "slug": "atlas", "clientId": "c1",
		"sections": []Row{{"id": "s1", "key": "intro", "projectId": "p1"}},
		"client":   Row{"id": "c1", "name": "Acme", "email": "hi@acme.test"},
		"_count":   Row{"images": int64(3)},
	}
	assert.Equal(t, Row{
		"title":    "Atlas",
		"sections": []Row{{"key": "intro"}},
		"client":   Row{"name": "Acme"},
		"_count":   Row{"images": int64(3)},
	}, plan.Reshape(row))

	missing := Row{"id": "p2", "title": "Beacon", "clientId": nil}
	assert.Equal(t, Row{
		"title":    "Beacon",
		"sections": []Row{},
		"client":   nil,
		"_count":   Row{"images": int64(0)},
	}, plan.Reshape(missing))
}

func TestFetchPlanColumns(t *testing.T) {
	p := newTestPlanner(t)

	op, err := p.FindMany("Project", Args{
		"select": map[string]any{"title": true, "client": true},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "title", "clientId"}, op.Read.Fetch.Columns())
}
