package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-query/internal/cursor"
	"portfolio-query/internal/queryerr"
)

func ids(rows []Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r["id"].(string)
	}
	return out
}

func sectionRows() []Row {
	return []Row{
		{"id": "s1", "key": "intro", "order": int64(0), "projectId": "p1"},
		{"id": "s2", "key": "stack", "order": int64(1), "projectId": "p1"},
		{"id": "s3", "key": "intro", "order": int64(2), "projectId": "p2"},
		{"id": "s4", "key": "gallery", "order": int64(3), "projectId": "p2"},
		{"id": "s5", "key": "outro", "order": int64(4), "projectId": "p2"},
	}
}

func TestFindManyWindow(t *testing.T) {
	p := newTestPlanner(t)

	tests := []struct {
		name string
		args Args
		want []string
	}{
		{name: "take", args: Args{"orderBy": map[string]any{"order": "asc"}, "take": 2}, want: []string{"s1", "s2"}},
		{name: "skip and take", args: Args{"orderBy": map[string]any{"order": "asc"}, "skip": 1, "take": 2}, want: []string{"s2", "s3"}},
		{name: "negative take without cursor", args: Args{"orderBy": map[string]any{"order": "asc"}, "take": -2}, want: []string{"s4", "s5"}},
		{name: "cursor forward", args: Args{"cursor": map[string]any{"id": "s2"}, "take": 2}, want: []string{"s2", "s3"}},
		{name: "cursor backward", args: Args{"cursor": map[string]any{"id": "s4"}, "take": -3}, want: []string{"s2", "s3", "s4"}},
		{name: "cursor with skip", args: Args{"cursor": map[string]any{"id": "s2"}, "skip": 1, "take": 2}, want: []string{"s3", "s4"}},
		{name: "cursor not found", args: Args{"cursor": map[string]any{"id": "s9"}, "take": 2}, want: []string{}},
		{name: "distinct before take", args: Args{"distinct": []string{"key"}, "take": 3}, want: []string{"s1", "s2", "s4"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, err := p.FindMany("ProjectSection", tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(op.Read.Apply(sectionRows(), nil)))
		})
	}
}

func TestFindManyCursorToken(t *testing.T) {
	p := newTestPlanner(t)
	m := model(t, p, "ProjectSection")

	token := cursor.Encode(&cursor.Cursor{Model: m.Name, Key: m.IdentityKey(), Values: map[string]any{"id": "s3"}})
	op, err := p.FindMany("ProjectSection", Args{"cursor": token, "take": 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"s3"}, ids(op.Read.Apply(sectionRows(), nil)))
}

func TestFindManyArgumentErrors(t *testing.T) {
	p := newTestPlanner(t, WithLimits(Limits{MaxDepth: DefaultMaxDepth, MaxTake: 100}))

	tests := []struct {
		name string
		args Args
	}{
		{name: "unknown argument", args: Args{"limit": 1}},
		{name: "take above limit", args: Args{"take": 101}},
		{name: "negative take above limit", args: Args{"take": -101}},
		{name: "negative skip without cursor", args: Args{"skip": -1}},
		{name: "cursor on non-unique field", args: Args{"cursor": map[string]any{"key": "intro"}}},
		{name: "cursor with extra fields", args: Args{"cursor": map[string]any{"id": "s1", "key": "intro"}}},
		{name: "bad cursor token", args: Args{"cursor": "not-a-token"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.FindMany("ProjectSection", tt.args)
			require.Error(t, err)
			assert.Equal(t, queryerr.KindShape, queryerr.KindOf(err))
		})
	}
}

func TestFindFirst(t *testing.T) {
	p := newTestPlanner(t)

	op, err := p.FindFirst("ProjectSection", Args{"where": map[string]any{"projectId": "p2"}, "orderBy": map[string]any{"order": "desc"}}, false)
	require.NoError(t, err)
	assert.Equal(t, VerbFindFirst, op.Verb())
	assert.True(t, op.Single())
	assert.Equal(t, []string{"s5"}, ids(op.Read.Apply(sectionRows(), nil)))

	last, err := p.FindFirst("ProjectSection", Args{"take": -5}, true)
	require.NoError(t, err)
	assert.Equal(t, VerbFindFirstOrThrow, last.Verb())
	assert.Equal(t, []string{"s5"}, ids(last.Read.Apply(sectionRows(), nil)))
}

func TestFindUnique(t *testing.T) {
	p := newTestPlanner(t)

	t.Run("compound key", func(t *testing.T) {
		op, err := p.FindUnique("Account", Args{
			"where": map[string]any{
				"provider_providerAccountId": map[string]any{"provider": "github", "providerAccountId": "42"},
			},
		}, false)
		require.NoError(t, err)
		require.NotNil(t, op.Unique)
		assert.Equal(t, []string{"provider", "providerAccountId"}, op.Unique.Key.Fields)

		rows := []Row{
			{"id": "a1", "provider": "github", "providerAccountId": "41"},
			{"id": "a2", "provider": "github", "providerAccountId": "42"},
		}
		assert.Equal(t, []string{"a2"}, ids(op.Read.Apply(rows, nil)))
	})

	t.Run("unique key with extra filter", func(t *testing.T) {
		op, err := p.FindUnique("Project", Args{"where": map[string]any{"slug": "atlas", "featured": true}}, true)
		require.NoError(t, err)
		assert.Equal(t, VerbFindUniqueOrThrow, op.Verb())
		assert.Equal(t, []string{"p1"}, ids(op.Read.Apply(projectRows(), nil)))
	})

	t.Run("non-unique where", func(t *testing.T) {
		_, err := p.FindUnique("Project", Args{"where": map[string]any{"title": "Atlas"}}, false)
		var invalid *queryerr.InvalidArgumentError
		require.ErrorAs(t, err, &invalid)
	})

	t.Run("missing where", func(t *testing.T) {
		_, err := p.FindUnique("Project", Args{}, false)
		var missing *queryerr.MissingFieldError
		require.ErrorAs(t, err, &missing)
	})

	t.Run("orderBy not accepted", func(t *testing.T) {
		_, err := p.FindUnique("Project", Args{"where": map[string]any{"id": "p1"}, "orderBy": map[string]any{"title": "asc"}}, false)
		require.Error(t, err)
	})
}
