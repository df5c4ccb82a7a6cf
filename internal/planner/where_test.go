package planner

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-query/internal/queryerr"
)

func TestWhereScalarShorthand(t *testing.T) {
	p := newTestPlanner(t)

	pred, err := p.Where("Project", map[string]any{"slug": "atlas"})
	require.NoError(t, err)

	cmp, ok := pred.(*Comparison)
	require.True(t, ok)
	assert.Equal(t, "slug", cmp.Field.Name)
	assert.Equal(t, OpEquals, cmp.Op)
	assert.Equal(t, "atlas", cmp.Value)
}

func TestWhereOperators(t *testing.T) {
	p := newTestPlanner(t)

	pred, err := p.Where("Transaction", map[string]any{
		"amount": map[string]any{"gte": "10.50", "lt": 100},
		"date":   map[string]any{"gt": "2024-01-01T00:00:00Z"},
	})
	require.NoError(t, err)

	and, ok := pred.(*And)
	require.True(t, ok)
	require.Len(t, and.Children, 2)

	amount, ok := and.Children[0].(*And)
	require.True(t, ok)
	require.Len(t, amount.Children, 2)
	gte := amount.Children[0].(*Comparison)
	assert.Equal(t, OpGte, gte.Op)
	assert.True(t, decimal.RequireFromString("10.50").Equal(gte.Value.(decimal.Decimal)))

	date := and.Children[1].(*Comparison)
	assert.Equal(t, OpGt, date.Op)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), date.Value)
}

func TestWhereInsensitiveMode(t *testing.T) {
	p := newTestPlanner(t)

	pred, err := p.Where("Client", map[string]any{
		"name": map[string]any{"contains": "acme", "mode": "insensitive"},
	})
	require.NoError(t, err)
	cmp := pred.(*Comparison)
	assert.True(t, cmp.Insensitive)
	assert.Equal(t, OpContains, cmp.Op)
}

func TestWhereCombinators(t *testing.T) {
	p := newTestPlanner(t)

	t.Run("NOT list negates each item", func(t *testing.T) {
		pred, err := p.Where("Project", map[string]any{
			"NOT": []any{
				map[string]any{"status": "PAUSED"},
				map[string]any{"featured": true},
			},
		})
		require.NoError(t, err)
		and, ok := pred.(*And)
		require.True(t, ok)
		require.Len(t, and.Children, 2)
		for _, child := range and.Children {
			_, isNot := child.(*Not)
			assert.True(t, isNot)
		}
	})

	t.Run("OR", func(t *testing.T) {
		pred, err := p.Where("Project", map[string]any{
			"OR": []map[string]any{{"status": "PAUSED"}, {"status": "COMPLETED"}},
		})
		require.NoError(t, err)
		or, ok := pred.(*Or)
		require.True(t, ok)
		assert.Len(t, or.Children, 2)
	})

	t.Run("not with nested filter", func(t *testing.T) {
		pred, err := p.Where("Project", map[string]any{
			"title": map[string]any{"not": map[string]any{"startsWith": "Draft"}},
		})
		require.NoError(t, err)
		not, ok := pred.(*Not)
		require.True(t, ok)
		assert.Equal(t, OpStartsWith, not.Child.(*Comparison).Op)
	})
}

func TestWhereRelationFilters(t *testing.T) {
	p := newTestPlanner(t)

	t.Run("some on list relation", func(t *testing.T) {
		pred, err := p.Where("Project", map[string]any{
			"sections": map[string]any{"some": map[string]any{"key": "intro"}},
		})
		require.NoError(t, err)
		rf := pred.(*RelationFilter)
		assert.Equal(t, QuantSome, rf.Quantifier)
		assert.Equal(t, "sections", rf.Relation.Name)
	})

	t.Run("bare object on to-one means is", func(t *testing.T) {
		pred, err := p.Where("Project", map[string]any{
			"client": map[string]any{"name": "Acme"},
		})
		require.NoError(t, err)
		assert.Equal(t, QuantIs, pred.(*RelationFilter).Quantifier)
	})

	t.Run("is null", func(t *testing.T) {
		pred, err := p.Where("Project", map[string]any{
			"client": map[string]any{"is": nil},
		})
		require.NoError(t, err)
		rf := pred.(*RelationFilter)
		assert.Equal(t, QuantIsNot, rf.Quantifier)
		assert.True(t, IsTrue(rf.Where))
	})

	t.Run("list quantifier on to-one", func(t *testing.T) {
		_, err := p.Where("Project", map[string]any{
			"client": map[string]any{"some": map[string]any{"name": "Acme"}},
		})
		var invalid *queryerr.InvalidQuantifierError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, "some", invalid.Quantifier)
	})

	t.Run("is on list relation", func(t *testing.T) {
		_, err := p.Where("Project", map[string]any{
			"sections": map[string]any{"is": map[string]any{"key": "intro"}},
		})
		var invalid *queryerr.InvalidQuantifierError
		require.ErrorAs(t, err, &invalid)
	})
}

func TestWhereErrors(t *testing.T) {
	p := newTestPlanner(t)

	tests := []struct {
		name  string
		model string
		input map[string]any
		kind  queryerr.Kind
	}{
		{name: "unknown field", model: "Project", input: map[string]any{"budget": 1}, kind: queryerr.KindSchema},
		{name: "enum outside domain", model: "Project", input: map[string]any{"status": "ARCHIVED"}, kind: queryerr.KindType},
		{name: "wrong scalar type", model: "ProjectImage", input: map[string]any{"order": "first"}, kind: queryerr.KindType},
		{name: "range on boolean", model: "Project", input: map[string]any{"featured": map[string]any{"gt": true}}, kind: queryerr.KindType},
		{name: "contains on int", model: "TeamMember", input: map[string]any{"order": map[string]any{"contains": "1"}}, kind: queryerr.KindType},
		{name: "mode on int", model: "TeamMember", input: map[string]any{"order": map[string]any{"equals": 1, "mode": "insensitive"}}, kind: queryerr.KindType},
		{name: "null on required field", model: "Project", input: map[string]any{"title": nil}, kind: queryerr.KindType},
		{name: "aggregate filter outside having", model: "Transaction", input: map[string]any{"amount": map[string]any{"_sum": map[string]any{"gt": 1}}}, kind: queryerr.KindShape},
		{name: "unknown operator", model: "Project", input: map[string]any{"title": map[string]any{"like": "a%"}}, kind: queryerr.KindShape},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Where(tt.model, tt.input)
			require.Error(t, err)
			assert.Equal(t, tt.kind, queryerr.KindOf(err))
		})
	}
}

func TestWhereNullOnOptionalField(t *testing.T) {
	p := newTestPlanner(t)

	pred, err := p.Where("Project", map[string]any{"clientId": nil})
	require.NoError(t, err)
	cmp := pred.(*Comparison)
	assert.Equal(t, OpEquals, cmp.Op)
	assert.Nil(t, cmp.Value)
}

func TestHavingFields(t *testing.T) {
	got := HavingFields(map[string]any{
		"category": map[string]any{"not": "OTHER"},
		"amount":   map[string]any{"_sum": map[string]any{"gt": 100}},
		"OR": []any{
			map[string]any{"type": "INCOME"},
		},
	})
	assert.Equal(t, []string{"category", "type"}, got)
}
