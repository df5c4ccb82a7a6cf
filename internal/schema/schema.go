// Package schema describes the models the query engine operates on: fields,
// scalar types, nullability, enum domains, relations and unique keys.
package schema

import (
	"portfolio-query/internal/naming"
	"portfolio-query/internal/sqltype"
)

// DefaultKind selects how a create fills an omitted field.
type DefaultKind int

const (
	// DefaultLiteral uses Default.Value as is.
	DefaultLiteral DefaultKind = iota
	// DefaultNow uses the current UTC time.
	DefaultNow
	// DefaultUUID generates a random identifier.
	DefaultUUID
)

// Default is the creation-time value of an omitted field.
type Default struct {
	Kind  DefaultKind
	Value any
}

// Field is a scalar attribute of a model.
type Field struct {
	Name   string
	Column string
	Type   sqltype.ScalarType
	// Enum names the enum domain when Type is TypeEnum.
	Enum     string
	Optional bool
	Default  *Default
	IsID     bool
	// UpdatedAt fields are assigned by the system on create and on every update.
	UpdatedAt bool
}

// Required reports whether a create must supply the field.
func (f Field) Required() bool {
	return !f.Optional && f.Default == nil && !f.UpdatedAt
}

// RelationKind is the cardinality of a relation seen from its owner.
type RelationKind int

const (
	// ToOne relations resolve to at most one row.
	ToOne RelationKind = iota
	// ToMany relations resolve to a list of rows.
	ToMany
)

func (k RelationKind) String() string {
	if k == ToMany {
		return "to-many"
	}
	return "to-one"
}

// ReferentialAction is applied to owning rows when the referenced row is deleted.
type ReferentialAction int

const (
	// Restrict rejects the delete while dependents exist.
	Restrict ReferentialAction = iota
	// Cascade deletes dependents with the referenced row.
	Cascade
	// SetNull clears the dependents' foreign key.
	SetNull
)

func (a ReferentialAction) String() string {
	switch a {
	case Cascade:
		return "CASCADE"
	case SetNull:
		return "SET NULL"
	default:
		return "RESTRICT"
	}
}

// Relation connects two models. The owning side holds the foreign key.
type Relation struct {
	Name   string
	Model  string
	Target string
	Kind   RelationKind
	// Optional is true when a to-one relation may be absent.
	Optional bool
	Owning   bool
	// LocalFields/RemoteFields are ordered positional mappings between keys.
	// Owning side: LocalFields are the foreign key, RemoteFields the referenced key.
	// Inverse side: LocalFields are the referenced key, RemoteFields the foreign key on Target.
	LocalFields  []string
	RemoteFields []string
	// OnDelete applies to owning relations.
	OnDelete ReferentialAction
	// Inverse names the opposite relation on Target.
	Inverse string
}

// IsList reports whether the relation resolves to many rows.
func (r Relation) IsList() bool {
	return r.Kind == ToMany
}

// UniqueKey is a single-field or compound uniqueness constraint.
type UniqueKey struct {
	Name   string
	Fields []string
}

// IsCompound reports whether the key spans more than one field.
func (k UniqueKey) IsCompound() bool {
	return len(k.Fields) > 1
}

// NewUniqueKey builds a key named after its fields.
func NewUniqueKey(fields ...string) UniqueKey {
	return UniqueKey{Name: naming.CompoundKeyName(fields), Fields: fields}
}

// Enum is a closed set of values.
type Enum struct {
	Name   string
	Values []string
}

// Contains reports whether value is in the domain.
func (e Enum) Contains(value string) bool {
	for _, v := range e.Values {
		if v == value {
			return true
		}
	}
	return false
}

// Model is one entity of the schema. Models returned by a Registry are
// shared and must be treated as read-only.
type Model struct {
	Name       string
	Table      string
	Fields     []Field
	Relations  []Relation
	UniqueKeys []UniqueKey
	// PrimaryKey lists the id fields; it may be empty when a unique key
	// identifies rows instead.
	PrimaryKey []string
}

// Field finds a scalar field by name.
func (m *Model) Field(name string) (Field, bool) {
	for _, f := range m.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Relation finds a relation by name.
func (m *Model) Relation(name string) (Relation, bool) {
	for _, r := range m.Relations {
		if r.Name == name {
			return r, true
		}
	}
	return Relation{}, false
}

// IdentityKey returns the key used to address single rows: the primary key
// when present, otherwise the first unique key.
func (m *Model) IdentityKey() UniqueKey {
	if len(m.PrimaryKey) > 0 {
		return NewUniqueKey(m.PrimaryKey...)
	}
	if len(m.UniqueKeys) > 0 {
		return m.UniqueKeys[0]
	}
	return UniqueKey{}
}

// ScalarFieldNames lists the model's fields in declaration order.
func (m *Model) ScalarFieldNames() []string {
	names := make([]string, len(m.Fields))
	for i, f := range m.Fields {
		names[i] = f.Name
	}
	return names
}

// ForeignKeyRelation returns the owning relation whose foreign key includes
// field, if any.
func (m *Model) ForeignKeyRelation(field string) (Relation, bool) {
	for _, r := range m.Relations {
		if !r.Owning {
			continue
		}
		for _, local := range r.LocalFields {
			if local == field {
				return r, true
			}
		}
	}
	return Relation{}, false
}
