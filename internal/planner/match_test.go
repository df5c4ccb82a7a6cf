package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-query/internal/schema"
)

func projectRows() []Row {
	return []Row{
		{"id": "p1", "title": "Atlas", "slug": "atlas", "status": "COMPLETED", "featured": true, "clientId": "c1", "shortDesc": nil},
		{"id": "p2", "title": "Beacon", "slug": "beacon", "status": "PAUSED", "featured": false, "clientId": nil, "shortDesc": "light"},
		{"id": "p3", "title": "atlas mobile", "slug": "atlas-mobile", "status": "IN_DEVELOPMENT", "featured": false, "clientId": "c1", "shortDesc": nil},
	}
}

func sectionLoader(sections map[string][]Row) RelationLoader {
	return RelationLoaderFunc(func(rel schema.Relation, row Row) []Row {
		if rel.Name != "sections" {
			return nil
		}
		return sections[row["id"].(string)]
	})
}

func matching(t *testing.T, p *Planner, where map[string]any, rows []Row, loader RelationLoader) []string {
	t.Helper()
	pred, err := p.Where("Project", where)
	require.NoError(t, err)
	var ids []string
	for _, r := range rows {
		if Matches(pred, r, loader) {
			ids = append(ids, r["id"].(string))
		}
	}
	return ids
}

func TestMatchesScalars(t *testing.T) {
	p := newTestPlanner(t)
	rows := projectRows()

	tests := []struct {
		name  string
		where map[string]any
		want  []string
	}{
		{name: "equals", where: map[string]any{"status": "PAUSED"}, want: []string{"p2"}},
		{name: "in", where: map[string]any{"status": map[string]any{"in": []string{"PAUSED", "COMPLETED"}}}, want: []string{"p1", "p2"}},
		{name: "notIn", where: map[string]any{"status": map[string]any{"notIn": []any{"PAUSED"}}}, want: []string{"p1", "p3"}},
		{name: "startsWith case sensitive", where: map[string]any{"title": map[string]any{"startsWith": "atlas"}}, want: []string{"p3"}},
		{name: "startsWith insensitive", where: map[string]any{"title": map[string]any{"startsWith": "atlas", "mode": "insensitive"}}, want: []string{"p1", "p3"}},
		{name: "endsWith", where: map[string]any{"slug": map[string]any{"endsWith": "mobile"}}, want: []string{"p3"}},
		{name: "equals null", where: map[string]any{"clientId": nil}, want: []string{"p2"}},
		{name: "not null", where: map[string]any{"clientId": map[string]any{"not": nil}}, want: []string{"p1", "p3"}},
		{name: "comparison against null column is false", where: map[string]any{"shortDesc": map[string]any{"not": "light"}}, want: nil},
		{name: "lt on strings", where: map[string]any{"slug": map[string]any{"lt": "b"}}, want: []string{"p1", "p3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matching(t, p, tt.where, rows, nil))
		})
	}
}

func TestMatchesCombinatorLaws(t *testing.T) {
	p := newTestPlanner(t)
	rows := projectRows()
	a := map[string]any{"featured": false}
	b := map[string]any{"clientId": "c1"}

	pa, err := p.Where("Project", a)
	require.NoError(t, err)
	pb, err := p.Where("Project", b)
	require.NoError(t, err)
	and, err := p.Where("Project", map[string]any{"AND": []any{a, b}})
	require.NoError(t, err)
	not, err := p.Where("Project", map[string]any{"NOT": a})
	require.NoError(t, err)

	for _, r := range rows {
		assert.Equal(t, Matches(pa, r, nil) && Matches(pb, r, nil), Matches(and, r, nil))
		assert.Equal(t, !Matches(pa, r, nil), Matches(not, r, nil))
	}
}

func TestMatchesRelations(t *testing.T) {
	p := newTestPlanner(t)
	rows := projectRows()
	loader := sectionLoader(map[string][]Row{
		"p1": {{"id": "s1", "key": "intro", "order": int64(0)}, {"id": "s2", "key": "stack", "order": int64(1)}},
		"p2": {{"id": "s3", "key": "intro", "order": int64(0)}},
	})

	tests := []struct {
		name  string
		where map[string]any
		want  []string
	}{
		{name: "some", where: map[string]any{"sections": map[string]any{"some": map[string]any{"key": "stack"}}}, want: []string{"p1"}},
		{name: "every holds vacuously", where: map[string]any{"sections": map[string]any{"every": map[string]any{"key": "intro"}}}, want: []string{"p2", "p3"}},
		{name: "none", where: map[string]any{"sections": map[string]any{"none": map[string]any{"key": "intro"}}}, want: []string{"p3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matching(t, p, tt.where, rows, loader))
		})
	}
}

func TestMatchesToOne(t *testing.T) {
	p := newTestPlanner(t)
	rows := projectRows()
	clients := map[string]Row{"c1": {"id": "c1", "name": "Acme"}}
	loader := RelationLoaderFunc(func(rel schema.Relation, row Row) []Row {
		id, _ := row["clientId"].(string)
		if c, ok := clients[id]; ok {
			return []Row{c}
		}
		return nil
	})

	assert.Equal(t, []string{"p2"}, matching(t, p, map[string]any{"client": map[string]any{"is": nil}}, rows, loader))
	assert.Equal(t, []string{"p1", "p3"}, matching(t, p, map[string]any{"client": map[string]any{"name": "Acme"}}, rows, loader))
	assert.Equal(t, []string{"p2"}, matching(t, p, map[string]any{"client": map[string]any{"isNot": map[string]any{"name": "Acme"}}}, rows, loader))
}
