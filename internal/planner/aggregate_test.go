package planner

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-query/internal/queryerr"
)

func transactionRows() []Row {
	d := decimal.RequireFromString
	return []Row{
		{"id": "t1", "type": "INCOME", "amount": d("120.00"), "category": "design", "projectId": "p1"},
		{"id": "t2", "type": "INCOME", "amount": d("80.50"), "category": "design", "projectId": "p1"},
		{"id": "t3", "type": "EXPENSE", "amount": d("40.00"), "category": "hosting", "projectId": nil},
		{"id": "t4", "type": "INCOME", "amount": d("300.00"), "category": nil, "projectId": "p2"},
	}
}

func TestAggregatePlan(t *testing.T) {
	p := newTestPlanner(t)

	op, err := p.Aggregate("Transaction", Args{
		"where":  map[string]any{"type": "INCOME"},
		"_count": map[string]any{"_all": true, "category": true},
		"_sum":   map[string]any{"amount": true},
		"_avg":   map[string]any{"amount": true},
		"_max":   map[string]any{"amount": true},
	})
	require.NoError(t, err)
	assert.Equal(t, VerbAggregate, op.Verb())

	rows := op.Read.Apply(transactionRows(), nil)
	flat := ComputeAggregates(op.Read.Model, rows, op.Selection.Terms())
	shaped := op.Selection.Shape(flat)

	assert.Equal(t, map[string]any{"_all": int64(3), "category": int64(2)}, shaped["_count"])
	sum := shaped["_sum"].(map[string]any)["amount"].(decimal.Decimal)
	assert.True(t, decimal.RequireFromString("500.50").Equal(sum), sum.String())
	avg := shaped["_avg"].(map[string]any)["amount"].(decimal.Decimal)
	assert.True(t, sum.Div(decimal.NewFromInt(3)).Equal(avg))
	maxAmount := shaped["_max"].(map[string]any)["amount"].(decimal.Decimal)
	assert.True(t, decimal.RequireFromString("300").Equal(maxAmount))
}

func TestAggregateWindowAppliesFirst(t *testing.T) {
	p := newTestPlanner(t)

	op, err := p.Aggregate("Transaction", Args{
		"orderBy": map[string]any{"amount": "desc"},
		"take":    2,
		"_count":  map[string]any{"_all": true},
		"_min":    map[string]any{"amount": true},
	})
	require.NoError(t, err)

	flat := ComputeAggregates(op.Read.Model, op.Read.Apply(transactionRows(), nil), op.Selection.Terms())
	assert.Equal(t, int64(2), flat["_count._all"])
	assert.True(t, decimal.RequireFromString("120").Equal(flat["_min.amount"].(decimal.Decimal)))
}

func TestAggregateEmptySet(t *testing.T) {
	p := newTestPlanner(t)
	op, err := p.Aggregate("Transaction", Args{"_sum": map[string]any{"amount": true}, "_count": true})
	require.NoError(t, err)

	flat := ComputeAggregates(op.Read.Model, nil, op.Selection.Terms())
	shaped := op.Selection.Shape(flat)
	assert.Equal(t, int64(0), shaped["_count"])
	assert.Nil(t, shaped["_sum"].(map[string]any)["amount"])
}

func TestAggregateTypeErrors(t *testing.T) {
	p := newTestPlanner(t)

	t.Run("sum of text", func(t *testing.T) {
		_, err := p.Aggregate("Transaction", Args{"_sum": map[string]any{"description": true}})
		var nonNumeric *queryerr.NonNumericAggregateError
		require.ErrorAs(t, err, &nonNumeric)
		assert.Equal(t, "description", nonNumeric.Field)
		assert.Equal(t, "_sum", nonNumeric.Aggregate)
	})

	t.Run("avg of enum", func(t *testing.T) {
		_, err := p.Aggregate("Transaction", Args{"_avg": map[string]any{"type": true}})
		var nonNumeric *queryerr.NonNumericAggregateError
		require.ErrorAs(t, err, &nonNumeric)
	})

	t.Run("max of boolean", func(t *testing.T) {
		_, err := p.Aggregate("Project", Args{"_max": map[string]any{"featured": true}})
		var mismatch *queryerr.TypeMismatchError
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, "_max", mismatch.Operator)
	})

	t.Run("unknown field", func(t *testing.T) {
		_, err := p.Aggregate("Transaction", Args{"_min": map[string]any{"budget": true}})
		var unknown *queryerr.UnknownFieldError
		require.ErrorAs(t, err, &unknown)
	})
}

func TestIntAverageIsFloat(t *testing.T) {
	p := newTestPlanner(t)
	m := model(t, p, "Testimonial")
	rows := []Row{{"rating": int64(5)}, {"rating": int64(4)}}

	flat := ComputeAggregates(m, rows, []AggregateTerm{{Func: AggAvg, Field: "rating"}, {Func: AggSum, Field: "rating"}})
	assert.Equal(t, 4.5, flat["_avg.rating"])
	assert.Equal(t, int64(9), flat["_sum.rating"])
}

func TestCount(t *testing.T) {
	p := newTestPlanner(t)

	op, err := p.Count("Transaction", Args{"where": map[string]any{"category": map[string]any{"not": nil}}})
	require.NoError(t, err)
	assert.Equal(t, VerbCount, op.Verb())
	assert.Nil(t, op.Selection)
	assert.Len(t, op.Read.Apply(transactionRows(), nil), 3)

	selected, err := p.Count("Transaction", Args{"select": map[string]any{"_all": true, "projectId": true}})
	require.NoError(t, err)
	require.NotNil(t, selected.Selection)
	assert.True(t, selected.Selection.All)
	assert.Equal(t, []string{"projectId"}, selected.Selection.Fields)
}

func TestCoerceAggregate(t *testing.T) {
	p := newTestPlanner(t)
	m := model(t, p, "Transaction")

	v, err := CoerceAggregate(m, AggregateTerm{Func: AggSum, Field: "amount"}, []byte("12.30"))
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("12.3").Equal(v.(decimal.Decimal)))

	n, err := CoerceAggregate(m, AggregateTerm{Func: AggCount, Field: CountAll}, int64(7))
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}
