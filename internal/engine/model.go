package engine

import (
	"portfolio-query/internal/planner"
)

// ModelClient prepares operations on one model.
type ModelClient struct {
	client *Client
	model  string
}

// Name returns the model name.
func (m *ModelClient) Name() string {
	return m.model
}

// FindUnique looks a row up by a unique key. Exec yields nil when absent.
func (m *ModelClient) FindUnique(args planner.Args) (*Query, error) {
	return m.client.Prepare(m.model, planner.VerbFindUnique, args)
}

// FindUniqueOrThrow is FindUnique with a NotFoundError for an absent row.
func (m *ModelClient) FindUniqueOrThrow(args planner.Args) (*Query, error) {
	return m.client.Prepare(m.model, planner.VerbFindUniqueOrThrow, args)
}

// FindFirst returns the first matching row or nil.
func (m *ModelClient) FindFirst(args planner.Args) (*Query, error) {
	return m.client.Prepare(m.model, planner.VerbFindFirst, args)
}

// FindFirstOrThrow is FindFirst with a NotFoundError for an empty result.
func (m *ModelClient) FindFirstOrThrow(args planner.Args) (*Query, error) {
	return m.client.Prepare(m.model, planner.VerbFindFirstOrThrow, args)
}

func (m *ModelClient) FindMany(args planner.Args) (*Query, error) {
	return m.client.Prepare(m.model, planner.VerbFindMany, args)
}

func (m *ModelClient) Create(args planner.Args) (*Query, error) {
	return m.client.Prepare(m.model, planner.VerbCreate, args)
}

func (m *ModelClient) CreateMany(args planner.Args) (*Query, error) {
	return m.client.Prepare(m.model, planner.VerbCreateMany, args)
}

func (m *ModelClient) Update(args planner.Args) (*Query, error) {
	return m.client.Prepare(m.model, planner.VerbUpdate, args)
}

func (m *ModelClient) UpdateMany(args planner.Args) (*Query, error) {
	return m.client.Prepare(m.model, planner.VerbUpdateMany, args)
}

// Upsert validates both the create and the update branch up front.
func (m *ModelClient) Upsert(args planner.Args) (*Query, error) {
	return m.client.Prepare(m.model, planner.VerbUpsert, args)
}

func (m *ModelClient) Delete(args planner.Args) (*Query, error) {
	return m.client.Prepare(m.model, planner.VerbDelete, args)
}

func (m *ModelClient) DeleteMany(args planner.Args) (*Query, error) {
	return m.client.Prepare(m.model, planner.VerbDeleteMany, args)
}

func (m *ModelClient) Count(args planner.Args) (*Query, error) {
	return m.client.Prepare(m.model, planner.VerbCount, args)
}

func (m *ModelClient) Aggregate(args planner.Args) (*Query, error) {
	return m.client.Prepare(m.model, planner.VerbAggregate, args)
}

// GroupBy runs its shape checks in a fixed order, see planner.ValidateGroupBy.
func (m *ModelClient) GroupBy(args planner.Args) (*Query, error) {
	return m.client.Prepare(m.model, planner.VerbGroupBy, args)
}
