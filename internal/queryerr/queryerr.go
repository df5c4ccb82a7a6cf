// Package queryerr defines the typed errors raised by the query engine.
//
// Every error belongs to one Kind. Schema, shape and type errors are raised
// while a query is planned, before any I/O. Constraint and not-found errors
// are raised after an execution attempt and always name the model involved.
package queryerr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies an engine error.
type Kind int

const (
	// KindUnknown is returned by KindOf for errors outside this package.
	KindUnknown Kind = iota
	// KindSchema marks references to models or fields absent from the registry.
	KindSchema
	// KindShape marks structurally invalid requests.
	KindShape
	// KindType marks values or aggregates incompatible with a field's type.
	KindType
	// KindConstraint marks violations reported by the execution collaborator.
	KindConstraint
	// KindNotFound marks missing rows for OrThrow lookups and connects.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindSchema:
		return "schema"
	case KindShape:
		return "shape"
	case KindType:
		return "type"
	case KindConstraint:
		return "constraint"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error is implemented by every error in this package.
type Error interface {
	error
	Kind() Kind
}

// KindOf returns the Kind of the first engine error in err's chain.
func KindOf(err error) Kind {
	var e Error
	if errors.As(err, &e) {
		return e.Kind()
	}
	return KindUnknown
}

// UnknownModelError reports a model name absent from the registry.
type UnknownModelError struct {
	Model string
}

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("unknown model: %s", e.Model)
}

func (e *UnknownModelError) Kind() Kind { return KindSchema }

// UnknownFieldError reports a field or relation name absent from a model.
type UnknownFieldError struct {
	Model string
	Field string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("unknown field %s on model %s", e.Field, e.Model)
}

func (e *UnknownFieldError) Kind() Kind { return KindSchema }

// TypeMismatchError reports a value that cannot be assigned to a field, or an
// operator that does not apply to the field's type.
type TypeMismatchError struct {
	Model    string
	Field    string
	Expected string
	Value    any
	Operator string
}

func (e *TypeMismatchError) Error() string {
	if e.Operator != "" && e.Value == nil {
		return fmt.Sprintf("operator %s does not apply to %s field %s.%s", e.Operator, e.Expected, e.Model, e.Field)
	}
	return fmt.Sprintf("invalid value for %s.%s: expected %s, got %T (%v)", e.Model, e.Field, e.Expected, e.Value, e.Value)
}

func (e *TypeMismatchError) Kind() Kind { return KindType }

// InvalidQuantifierError reports a relation filter quantifier that does not
// fit the relation's cardinality, such as some on a to-one relation.
type InvalidQuantifierError struct {
	Model      string
	Relation   string
	Quantifier string
}

func (e *InvalidQuantifierError) Error() string {
	return fmt.Sprintf("quantifier %s is not valid for relation %s.%s", e.Quantifier, e.Model, e.Relation)
}

func (e *InvalidQuantifierError) Kind() Kind { return KindShape }

// ConflictingSelectionError reports select and include given at one scope.
type ConflictingSelectionError struct {
	Model string
	Path  string
}

func (e *ConflictingSelectionError) Error() string {
	scope := e.Model
	if e.Path != "" {
		scope = e.Model + "." + e.Path
	}
	return fmt.Sprintf("select and include cannot be used together on %s", scope)
}

func (e *ConflictingSelectionError) Kind() Kind { return KindShape }

// AmbiguousRelationInputError reports a write payload that sets a relation
// both through its foreign key and through a nested connect/create.
type AmbiguousRelationInputError struct {
	Model    string
	Relation string
	Fields   []string
}

func (e *AmbiguousRelationInputError) Error() string {
	return fmt.Sprintf("relation %s.%s cannot be set through both %s and nested input",
		e.Model, e.Relation, strings.Join(e.Fields, ", "))
}

func (e *AmbiguousRelationInputError) Kind() Kind { return KindShape }

// MissingFieldError reports a required create field that has no default.
type MissingFieldError struct {
	Model string
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("argument %s is missing for %s", e.Field, e.Model)
}

func (e *MissingFieldError) Kind() Kind { return KindShape }

// InvalidArgumentError reports an argument with the wrong structure.
type InvalidArgumentError struct {
	Model    string
	Argument string
	Message  string
}

func (e *InvalidArgumentError) Error() string {
	if e.Model == "" {
		return fmt.Sprintf("invalid %s: %s", e.Argument, e.Message)
	}
	return fmt.Sprintf("invalid %s for %s: %s", e.Argument, e.Model, e.Message)
}

func (e *InvalidArgumentError) Kind() Kind { return KindShape }

// EmptyGroupByError reports a groupBy without grouping fields.
type EmptyGroupByError struct {
	Model string
}

func (e *EmptyGroupByError) Error() string { return "by must not be empty" }

func (e *EmptyGroupByError) Kind() Kind { return KindShape }

// HavingFieldNotGroupedError reports having fields missing from by.
type HavingFieldNotGroupedError struct {
	Model  string
	Fields []string
}

func (e *HavingFieldNotGroupedError) Error() string {
	if len(e.Fields) == 1 {
		return fmt.Sprintf("field %s used in having needs to be provided in by", e.Fields[0])
	}
	return fmt.Sprintf("fields %s used in having need to be provided in by", strings.Join(e.Fields, ", "))
}

func (e *HavingFieldNotGroupedError) Kind() Kind { return KindShape }

// OrderByRequiredError reports take or skip on a groupBy without orderBy.
type OrderByRequiredError struct {
	Model string
}

func (e *OrderByRequiredError) Error() string {
	return "if you provide take/skip you also need to provide orderBy"
}

func (e *OrderByRequiredError) Kind() Kind { return KindShape }

// OrderFieldNotGroupedError reports orderBy fields missing from by.
type OrderFieldNotGroupedError struct {
	Model  string
	Fields []string
}

func (e *OrderFieldNotGroupedError) Error() string {
	if len(e.Fields) == 1 {
		return fmt.Sprintf("field %s in orderBy needs to be provided in by", e.Fields[0])
	}
	return fmt.Sprintf("fields %s in orderBy need to be provided in by", strings.Join(e.Fields, ", "))
}

func (e *OrderFieldNotGroupedError) Kind() Kind { return KindShape }

// NonNumericAggregateError reports _avg or _sum on a non-numeric field.
type NonNumericAggregateError struct {
	Model     string
	Field     string
	Aggregate string
}

func (e *NonNumericAggregateError) Error() string {
	return fmt.Sprintf("%s requires a numeric field, %s.%s is not numeric", e.Aggregate, e.Model, e.Field)
}

func (e *NonNumericAggregateError) Kind() Kind { return KindType }

// ConstraintKind names the violated constraint.
type ConstraintKind string

const (
	UniqueViolation     ConstraintKind = "unique"
	ForeignKeyViolation ConstraintKind = "foreign_key"
	NotNullViolation    ConstraintKind = "not_null"
	RelationViolation   ConstraintKind = "required_relation"
)

// ConstraintError reports a write rejected by a data constraint. Cause holds
// the driver error when the violation came from a database.
type ConstraintError struct {
	Constraint ConstraintKind
	Model      string
	Fields     []string
	Detail     string
	Cause      error
}

func (e *ConstraintError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s constraint failed on %s", e.Constraint, e.Model)
	if len(e.Fields) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(e.Fields, ", "))
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

func (e *ConstraintError) Kind() Kind { return KindConstraint }

func (e *ConstraintError) Unwrap() error { return e.Cause }

// NotFoundError reports a row required by an operation that does not exist.
type NotFoundError struct {
	Model     string
	Operation string
	Key       map[string]any
}

func (e *NotFoundError) Error() string {
	if len(e.Key) == 0 {
		return fmt.Sprintf("no %s found for %s", e.Model, e.Operation)
	}
	return fmt.Sprintf("no %s found for %s with key %s", e.Model, e.Operation, formatKey(e.Key))
}

func (e *NotFoundError) Kind() Kind { return KindNotFound }

func formatKey(key map[string]any) string {
	names := make([]string, 0, len(key))
	for name := range key {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%v", name, key[name])
	}
	return strings.Join(parts, ", ")
}
