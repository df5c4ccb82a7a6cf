package schema

import (
	"fmt"

	"portfolio-query/internal/naming"
	"portfolio-query/internal/queryerr"
	"portfolio-query/internal/sqltype"
)

// Registry is the immutable model catalogue handed to the engine.
type Registry struct {
	models     map[string]*Model
	order      []string
	enums      map[string]Enum
	dependents map[string][]Relation
}

// NewRegistry validates models and enums and builds a registry. Empty table
// and column names are derived with namer.
func NewRegistry(models []Model, enums []Enum, namer *naming.Namer) (*Registry, error) {
	if namer == nil {
		namer = naming.Default()
	}
	r := &Registry{
		models:     make(map[string]*Model, len(models)),
		order:      make([]string, 0, len(models)),
		enums:      make(map[string]Enum, len(enums)),
		dependents: make(map[string][]Relation),
	}

	for _, e := range enums {
		if e.Name == "" || len(e.Values) == 0 {
			return nil, fmt.Errorf("enum %q must have a name and at least one value", e.Name)
		}
		if _, dup := r.enums[e.Name]; dup {
			return nil, fmt.Errorf("duplicate enum %s", e.Name)
		}
		r.enums[e.Name] = Enum{Name: e.Name, Values: append([]string(nil), e.Values...)}
	}

	for i := range models {
		m := cloneModel(models[i])
		if m.Name == "" {
			return nil, fmt.Errorf("model at position %d has no name", i)
		}
		if _, dup := r.models[m.Name]; dup {
			return nil, fmt.Errorf("duplicate model %s", m.Name)
		}
		if m.Table == "" {
			m.Table = namer.TableName(m.Name)
		}
		for j := range m.Fields {
			if m.Fields[j].Column == "" {
				m.Fields[j].Column = namer.ColumnName(m.Fields[j].Name)
			}
		}
		for j := range m.Relations {
			m.Relations[j].Model = m.Name
		}
		r.models[m.Name] = m
		r.order = append(r.order, m.Name)
	}

	for _, name := range r.order {
		if err := r.validateModel(r.models[name]); err != nil {
			return nil, err
		}
	}

	for _, name := range r.order {
		for _, rel := range r.models[name].Relations {
			if rel.Owning {
				r.dependents[rel.Target] = append(r.dependents[rel.Target], rel)
			}
		}
	}

	return r, nil
}

func (r *Registry) validateModel(m *Model) error {
	seen := make(map[string]struct{}, len(m.Fields)+len(m.Relations))
	for _, f := range m.Fields {
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("model %s declares %s twice", m.Name, f.Name)
		}
		seen[f.Name] = struct{}{}
		if f.Type == sqltype.TypeEnum {
			e, ok := r.enums[f.Enum]
			if !ok {
				return fmt.Errorf("field %s.%s references unknown enum %q", m.Name, f.Name, f.Enum)
			}
			if f.Default != nil && f.Default.Kind == DefaultLiteral {
				value, _ := f.Default.Value.(string)
				if !e.Contains(value) {
					return fmt.Errorf("default %v of %s.%s is not in enum %s", f.Default.Value, m.Name, f.Name, e.Name)
				}
			}
		}
	}

	for _, rel := range m.Relations {
		if _, dup := seen[rel.Name]; dup {
			return fmt.Errorf("model %s declares %s twice", m.Name, rel.Name)
		}
		seen[rel.Name] = struct{}{}
		target, ok := r.models[rel.Target]
		if !ok {
			return fmt.Errorf("relation %s.%s targets unknown model %s", m.Name, rel.Name, rel.Target)
		}
		if len(rel.LocalFields) == 0 || len(rel.LocalFields) != len(rel.RemoteFields) {
			return fmt.Errorf("relation %s.%s has mismatched key mapping", m.Name, rel.Name)
		}
		for _, f := range rel.LocalFields {
			if _, ok := m.Field(f); !ok {
				return fmt.Errorf("relation %s.%s references unknown local field %s", m.Name, rel.Name, f)
			}
		}
		for _, f := range rel.RemoteFields {
			if _, ok := target.Field(f); !ok {
				return fmt.Errorf("relation %s.%s references unknown field %s.%s", m.Name, rel.Name, target.Name, f)
			}
		}
		if rel.Owning && rel.Kind == ToMany {
			return fmt.Errorf("relation %s.%s cannot own a foreign key and be a list", m.Name, rel.Name)
		}
		if rel.Owning && rel.OnDelete == SetNull {
			for _, f := range rel.LocalFields {
				field, _ := m.Field(f)
				if !field.Optional {
					return fmt.Errorf("relation %s.%s uses SET NULL on required field %s", m.Name, rel.Name, f)
				}
			}
		}
		if rel.Inverse != "" {
			inv, ok := target.Relation(rel.Inverse)
			if !ok {
				return fmt.Errorf("relation %s.%s names missing inverse %s.%s", m.Name, rel.Name, target.Name, rel.Inverse)
			}
			if inv.Owning == rel.Owning {
				return fmt.Errorf("relation %s.%s and its inverse must have exactly one owning side", m.Name, rel.Name)
			}
		}
	}

	for _, key := range m.UniqueKeys {
		for _, f := range key.Fields {
			if _, ok := m.Field(f); !ok {
				return fmt.Errorf("unique key %s on %s references unknown field %s", key.Name, m.Name, f)
			}
		}
	}
	for _, f := range m.PrimaryKey {
		if _, ok := m.Field(f); !ok {
			return fmt.Errorf("primary key of %s references unknown field %s", m.Name, f)
		}
	}
	if len(m.IdentityKey().Fields) == 0 {
		return fmt.Errorf("model %s has neither a primary key nor a unique key", m.Name)
	}
	return nil
}

// Model returns the named model.
func (r *Registry) Model(name string) (*Model, error) {
	m, ok := r.models[name]
	if !ok {
		return nil, &queryerr.UnknownModelError{Model: name}
	}
	return m, nil
}

// Models returns all models in declaration order.
func (r *Registry) Models() []*Model {
	out := make([]*Model, len(r.order))
	for i, name := range r.order {
		out[i] = r.models[name]
	}
	return out
}

// FieldsOf lists a model's scalar fields.
func (r *Registry) FieldsOf(model string) ([]Field, error) {
	m, err := r.Model(model)
	if err != nil {
		return nil, err
	}
	return append([]Field(nil), m.Fields...), nil
}

// RelationsOf lists a model's relations.
func (r *Registry) RelationsOf(model string) ([]Relation, error) {
	m, err := r.Model(model)
	if err != nil {
		return nil, err
	}
	return append([]Relation(nil), m.Relations...), nil
}

// UniqueKeysOf lists the keys that identify a single row, primary key first.
func (r *Registry) UniqueKeysOf(model string) ([]UniqueKey, error) {
	m, err := r.Model(model)
	if err != nil {
		return nil, err
	}
	keys := make([]UniqueKey, 0, len(m.UniqueKeys)+1)
	if len(m.PrimaryKey) > 0 {
		keys = append(keys, NewUniqueKey(m.PrimaryKey...))
	}
	keys = append(keys, m.UniqueKeys...)
	return keys, nil
}

// Field returns one scalar field.
func (r *Registry) Field(model, field string) (Field, error) {
	m, err := r.Model(model)
	if err != nil {
		return Field{}, err
	}
	f, ok := m.Field(field)
	if !ok {
		return Field{}, &queryerr.UnknownFieldError{Model: model, Field: field}
	}
	return f, nil
}

// Relation returns one relation.
func (r *Registry) Relation(model, name string) (Relation, error) {
	m, err := r.Model(model)
	if err != nil {
		return Relation{}, err
	}
	rel, ok := m.Relation(name)
	if !ok {
		return Relation{}, &queryerr.UnknownFieldError{Model: model, Field: name}
	}
	return rel, nil
}

// Enum returns a named enum domain.
func (r *Registry) Enum(name string) (Enum, bool) {
	e, ok := r.enums[name]
	return e, ok
}

// Dependents lists the owning relations on other models that reference model.
func (r *Registry) Dependents(model string) []Relation {
	return append([]Relation(nil), r.dependents[model]...)
}

func cloneModel(m Model) *Model {
	out := m
	out.Fields = append([]Field(nil), m.Fields...)
	out.Relations = make([]Relation, len(m.Relations))
	for i, rel := range m.Relations {
		rel.LocalFields = append([]string(nil), rel.LocalFields...)
		rel.RemoteFields = append([]string(nil), rel.RemoteFields...)
		out.Relations[i] = rel
	}
	out.UniqueKeys = make([]UniqueKey, len(m.UniqueKeys))
	for i, key := range m.UniqueKeys {
		key.Fields = append([]string(nil), key.Fields...)
		if key.Name == "" {
			key.Name = naming.CompoundKeyName(key.Fields)
		}
		out.UniqueKeys[i] = key
	}
	out.PrimaryKey = append([]string(nil), m.PrimaryKey...)
	return &out
}
