package planner

import "context"

// Verb names a client operation.
type Verb string

const (
	VerbFindUnique        Verb = "findUnique"
	VerbFindUniqueOrThrow Verb = "findUniqueOrThrow"
	VerbFindFirst         Verb = "findFirst"
	VerbFindFirstOrThrow  Verb = "findFirstOrThrow"
	VerbFindMany          Verb = "findMany"
	VerbCreate            Verb = "create"
	VerbCreateMany        Verb = "createMany"
	VerbUpdate            Verb = "update"
	VerbUpdateMany        Verb = "updateMany"
	VerbUpsert            Verb = "upsert"
	VerbDelete            Verb = "delete"
	VerbDeleteMany        Verb = "deleteMany"
	VerbCount             Verb = "count"
	VerbAggregate         Verb = "aggregate"
	VerbGroupBy           Verb = "groupBy"
)

// IsWrite reports whether the verb mutates data.
func (v Verb) IsWrite() bool {
	switch v {
	case VerbCreate, VerbCreateMany, VerbUpdate, VerbUpdateMany, VerbUpsert, VerbDelete, VerbDeleteMany:
		return true
	default:
		return false
	}
}

// ThrowsOnEmpty reports whether an empty result is a NotFoundError.
func (v Verb) ThrowsOnEmpty() bool {
	return v == VerbFindUniqueOrThrow || v == VerbFindFirstOrThrow
}

// Operation is a validated, executable plan.
type Operation interface {
	Verb() Verb
	ModelName() string
}

// Result is what an executor returns for one operation. Rows holds shaped
// records for reads, returning writes and groupBy; Count holds affected or
// counted rows; Aggregate holds flat aggregate keys (see AggregateKey).
type Result struct {
	Rows      []Row
	Count     int64
	Aggregate Row
}

// First returns the first row or nil.
func (r *Result) First() Row {
	if r == nil || len(r.Rows) == 0 {
		return nil
	}
	return r.Rows[0]
}

// Executor runs planned operations against a store. ExecuteBatch runs every
// operation in one transaction and commits only if all succeed.
type Executor interface {
	Execute(ctx context.Context, op Operation) (*Result, error)
	ExecuteBatch(ctx context.Context, ops []Operation) ([]*Result, error)
}
