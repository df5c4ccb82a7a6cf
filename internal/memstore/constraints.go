package memstore

import (
	"errors"
	"fmt"

	"portfolio-query/internal/planner"
	"portfolio-query/internal/queryerr"
	"portfolio-query/internal/schema"
)

// check validates values as the row at index self of m (-1 for a new row):
// required fields are set, owning foreign keys point at existing rows, and
// no other row shares a unique key.
func (tx *txn) check(m *schema.Model, values planner.Row, self int) error {
	for _, f := range m.Fields {
		if !f.Optional && values[f.Name] == nil {
			return &queryerr.ConstraintError{Constraint: queryerr.NotNullViolation, Model: m.Name, Fields: []string{f.Name}}
		}
	}

	for _, rel := range m.Relations {
		if !rel.Owning {
			continue
		}
		if len(tx.Related(rel, values)) > 0 {
			continue
		}
		set := false
		for _, f := range rel.LocalFields {
			if values[f] != nil {
				set = true
			}
		}
		if !set {
			continue
		}
		return &queryerr.ConstraintError{
			Constraint: queryerr.ForeignKeyViolation,
			Model:      m.Name,
			Fields:     rel.LocalFields,
			Detail:     fmt.Sprintf("no %s row matches relation %s", rel.Target, rel.Name),
		}
	}

	keys, err := tx.reg.UniqueKeysOf(m.Name)
	if err != nil {
		return err
	}
	for _, key := range keys {
		probe := make([]any, len(key.Fields))
		complete := true
		for i, f := range key.Fields {
			probe[i] = values[f]
			complete = complete && values[f] != nil
		}
		if !complete {
			continue
		}
		for i, r := range tx.tables[m.Name] {
			if i != self && keyEquals(r, key.Fields, probe) {
				return &queryerr.ConstraintError{
					Constraint: queryerr.UniqueViolation,
					Model:      m.Name,
					Fields:     key.Fields,
					Detail:     "key " + key.Name + " already exists",
				}
			}
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var ce *queryerr.ConstraintError
	return errors.As(err, &ce) && ce.Constraint == queryerr.UniqueViolation
}
