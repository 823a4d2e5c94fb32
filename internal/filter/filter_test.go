package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/rafs-ddms/internal/errors"
	"github.com/kyleking/rafs-ddms/internal/schema"
)

const testSchema = `{
  "type": "object",
  "properties": {
    "Field1": {"type": "string"},
    "Field2": {"type": "integer"},
    "Field3": {"$ref": "#/definitions/Field3"},
    "Depth": {"type": "number"},
    "Valid": {"type": "boolean"},
    "Results": {"type": "array", "items": {"$ref": "#/definitions/Result"}}
  },
  "definitions": {
    "Field3": {"type": "object", "properties": {"nested_field": {"type": "string"}}},
    "Result": {"type": "object", "properties": {"Value": {"type": "number"}}}
  }
}`

const validColumns = "{Depth, Field1, Field2, Field3, Results, Valid}"

func newSchema(t *testing.T) *schema.Schema {
	t.Helper()

	s, err := schema.Build("Sample", "1.0.0", []byte(testSchema))
	require.NoError(t, err)

	return s
}

func requireValidationMessage(t *testing.T, err error, expected string) {
	t.Helper()

	require.Error(t, err)
	assert.Equal(t, errors.ErrTypeFilterValidation, errors.GetType(err))

	var structErr *errors.Error
	require.ErrorAs(t, err, &structErr)
	assert.Equal(t, expected, structErr.Message)
}

func TestParseRowsFilterOperators(t *testing.T) {
	s := newSchema(t)

	tests := []struct {
		name     string
		expected Operator
	}{
		{"eq", OpEq},
		{"gt", OpGt},
		{"lt", OpLt},
		{"neq", OpNeq},
		{"lte", OpLte},
		{"gte", OpGte},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pred, err := ParseRowsFilter("Field2,"+tt.name+",7", s)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, pred.Operator)
			assert.Equal(t, int64(7), pred.CompValue)
		})
	}
}

func TestParseRowsFilterCoercion(t *testing.T) {
	s := newSchema(t)

	tests := []struct {
		raw      string
		expected interface{}
		typ      schema.FieldType
	}{
		{"Field1,eq,abc", "abc", schema.String},
		{"Field2,gt,42", int64(42), schema.Integer},
		{"Depth,lte,12.5", 12.5, schema.Number},
		{"Depth,lte,3", 3.0, schema.Number},
		{"Valid,eq,TRUE", true, schema.Boolean},
		{"Valid,eq,yes", false, schema.Boolean},
		{"Results.Value,gt,1.5", 1.5, schema.Number},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			pred, err := ParseRowsFilter(tt.raw, s)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, pred.CompValue)
			assert.Equal(t, tt.typ, pred.Type)
		})
	}
}

func TestParseRowsFilterNestedField(t *testing.T) {
	pred, err := ParseRowsFilter("Field3.nested_field,eq,value1", newSchema(t))
	require.NoError(t, err)

	assert.Equal(t, "Field3", pred.Column)
	assert.Equal(t, OpEq, pred.Operator)
	assert.Equal(t, "value1", pred.CompValue)
	assert.Equal(t, "nested_field", pred.Field)
	assert.Equal(t, "Field3.nested_field", pred.Path.Dotted())
	assert.Equal(t, "Field3.nested_field = value1", pred.String())
}

func TestParseRowsFilterArrayPath(t *testing.T) {
	pred, err := ParseRowsFilter("Results.Value,gt,1", newSchema(t))
	require.NoError(t, err)

	require.Len(t, pred.Path, 2)
	assert.True(t, pred.Path[0].Array)
	assert.Equal(t, "Results[].Value", pred.Path.String())
}

func TestParseRowsFilterErrors(t *testing.T) {
	s := newSchema(t)

	tests := []struct {
		raw      string
		expected string
	}{
		{"Field1,eq", msgBadRowsFilter},
		{"Field1,eq,a,b", msgBadRowsFilter},
		{"Field3.nested.deep,eq,a", msgBadDottedName},
		{"Field3.,eq,a", msgBadDottedName},
		{".nested_field,eq,a", msgBadDottedName},
		{"Field3.bad-name,eq,a", msgBadDottedName},
		{"Field1,like,a", "Invalid comparison operator not in: {eq, gt, gte, lt, lte, neq}"},
		{"Unknown,eq,a", "For filter column select one of " + validColumns},
		{"Field3.other,eq,a", "'other' is not defined in the Field3 schema: {nested_field}"},
		{"Field2,eq,abc", "Invalid value 'abc' for Field2 of type integer"},
		{"Field2,eq,1.5", "Invalid value '1.5' for Field2 of type integer"},
		{"Depth,gt,deep", "Invalid value 'deep' for Depth of type number"},
		{"Field3,eq,value1", "Filter not supported on object"},
		{"Results,gt,3", "Filter not supported on array"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			_, err := ParseRowsFilter(tt.raw, s)
			requireValidationMessage(t, err, tt.expected)
		})
	}
}

func TestParseRowsFilterValidationOrder(t *testing.T) {
	s := newSchema(t)

	// bad dotted name is reported before the unknown operator and column
	_, err := ParseRowsFilter("Nope.a.b,like,x", s)
	requireValidationMessage(t, err, msgBadDottedName)

	// unknown operator is reported before the unknown column
	_, err = ParseRowsFilter("Nope,like,x", s)
	requireValidationMessage(t, err, "Invalid comparison operator not in: {eq, gt, gte, lt, lte, neq}")
}

func TestParseColumnsFilter(t *testing.T) {
	s := newSchema(t)

	cf, err := ParseColumnsFilter("Field2,Field1,Field2", s)
	require.NoError(t, err)
	assert.Equal(t, []string{"Field2", "Field1"}, cf.Columns)

	_, err = ParseColumnsFilter("Field1,Bogus,Other", s)
	requireValidationMessage(t, err, "Invalid columns: {Bogus, Other}. Select one of "+validColumns)
	assert.True(t, errors.IsType(err, errors.ErrTypeSchemaFieldNotFound))

	_, err = ParseColumnsFilter("Field2,", s)
	requireValidationMessage(t, err, "Invalid columns: {''}. Select one of "+validColumns)
}

func TestParseColumnsAggregation(t *testing.T) {
	s := newSchema(t)

	agg, err := ParseColumnsAggregation("Field2,sum", s)
	require.NoError(t, err)
	assert.Equal(t, &ColumnsAggregation{Column: "Field2", Function: AggSum}, agg)

	agg, err = ParseColumnsAggregation("Field3.nested_field,count", s)
	require.NoError(t, err)
	assert.Equal(t, "Field3.nested_field", agg.Label())
	assert.Equal(t, AggCount, agg.Function)

	tests := []struct {
		raw      string
		expected string
	}{
		{"Field1", msgBadAggregation},
		{"Field1,count,x", msgBadAggregation},
		{"Field1,average", "Invalid aggregation operator not in: {count, describe, max, mean, min, sum}"},
		{"Missing,max", "For aggregation column select one of " + validColumns},
		{"Field3.a.b,max", msgBadDottedName},
		{"Field3.missing,max", "'missing' is not defined in the Field3 schema: {nested_field}"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			_, err := ParseColumnsAggregation(tt.raw, s)
			requireValidationMessage(t, err, tt.expected)
		})
	}
}

func TestParseRowsMultipleFilter(t *testing.T) {
	s := newSchema(t)

	raw := `{"$and": [
		{"Field2": {"$gt": 3}},
		{"$or": [
			{"Field3.nested_field": {"$eq": "a"}},
			{"Results.Value": {"$lte": "2.5"}}
		]}
	]}`

	expr, err := ParseRowsMultipleFilter(raw, s)
	require.NoError(t, err)

	root, ok := expr.(*LogicalExpr)
	require.True(t, ok)
	assert.Equal(t, And, root.Operator)
	require.Len(t, root.Operands, 2)

	leaf, ok := root.Operands[0].(*PredicateExpr)
	require.True(t, ok)
	assert.Equal(t, int64(3), leaf.Predicate.CompValue)
	assert.Equal(t, OpGt, leaf.Predicate.Operator)

	inner, ok := root.Operands[1].(*LogicalExpr)
	require.True(t, ok)
	assert.Equal(t, Or, inner.Operator)

	nested := inner.Operands[1].(*PredicateExpr).Predicate
	assert.Equal(t, "Results", nested.Column)
	assert.Equal(t, "Value", nested.Field)
	assert.Equal(t, 2.5, nested.CompValue)

	assert.Equal(t, "(Field2 > 3 AND (Field3.nested_field = a OR Results.Value <= 2.5))", expr.String())
}

func TestParseRowsMultipleFilterCollapsesSingleOperand(t *testing.T) {
	expr, err := ParseRowsMultipleFilter(`{"$or": [{"Valid": {"$eq": true}}]}`, newSchema(t))
	require.NoError(t, err)

	leaf, ok := expr.(*PredicateExpr)
	require.True(t, ok)
	assert.Equal(t, true, leaf.Predicate.CompValue)
}

func TestParseRowsMultipleFilterErrors(t *testing.T) {
	s := newSchema(t)

	tests := []struct {
		name     string
		raw      string
		contains string
	}{
		{"invalid json", `{"$and": [`, "Json load error"},
		{"not a dict", `[{"Field1": {"$eq": "a"}}]`, "Must be a dict"},
		{"empty operands", `{"$and": []}`, "$and operator content should be a non-empty array"},
		{"operands not a list", `{"$or": {"Field1": {"$eq": "a"}}}`, "$or operator content should be a non-empty array"},
		{"two operators", `{"$and": [{"Field1": {"$eq": "a"}}], "$or": []}`, "Only one operator per filter object is allowed"},
		{"unknown operator", `{"Field1": {"$like": "a"}}`, "Wrong format in filter object"},
		{"unknown column", `{"Nope": {"$eq": "a"}}`, "Wrong property name: Nope"},
		{"unsupported type", `{"Field3": {"$eq": "a"}}`, "Filter not supported on object"},
		{"bad value", `{"Field2": {"$eq": "x"}}`, "Invalid value 'x' for Field2 of type integer"},
		{"null value", `{"Field2": {"$eq": null}}`, "Invalid value"},
		{"leaf in list not a dict", `{"$and": [1, 2]}`, "Must be a dict"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRowsMultipleFilter(tt.raw, s)
			require.Error(t, err)
			assert.Equal(t, errors.ErrTypeFilterValidation, errors.GetType(err))
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestParseRowsMultipleFilterDepthLimit(t *testing.T) {
	raw := `{"Field1": {"$eq": "a"}}`
	for range MaxNestingDepth + 1 {
		raw = `{"$and": [` + raw + `, {"Field1": {"$eq": "b"}}]}`
	}

	_, err := ParseRowsMultipleFilter(raw, newSchema(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Nested filter exceeds")
}

func TestValidatorMemoizes(t *testing.T) {
	raw := RawFilters{
		ColumnsFilter:      "Field1,Field2",
		RowsFilter:         "Field2,gt,1",
		ColumnsAggregation: "Field2,max",
		RowsMultipleFilter: `{"Field1": {"$eq": "a"}}`,
	}

	v := NewValidator(newSchema(t), raw)
	assert.True(t, v.IsNonEmpty())

	cols1, err := v.ValidColumnsFilter()
	require.NoError(t, err)

	// mutating the caller's copy must not affect later accesses
	raw.ColumnsFilter = "Bogus"

	cols2, err := v.ValidColumnsFilter()
	require.NoError(t, err)
	assert.Same(t, cols1, cols2)

	rows1, _ := v.ValidRowsFilter()
	rows2, _ := v.ValidRowsFilter()
	assert.Same(t, rows1, rows2)

	agg1, _ := v.ValidColumnsAggregation()
	agg2, _ := v.ValidColumnsAggregation()
	assert.Same(t, agg1, agg2)

	multi1, _ := v.ValidRowsMultipleFilter()
	multi2, _ := v.ValidRowsMultipleFilter()
	assert.Same(t, multi1, multi2)

	set, err := v.Set()
	require.NoError(t, err)
	assert.Same(t, rows1, set.RowsFilter)
	assert.Equal(t, multi1, set.Selection())
	assert.True(t, set.HasAggregation())

	noAgg := set.WithoutAggregation()
	assert.False(t, noAgg.HasAggregation())
	assert.Same(t, cols1, noAgg.ColumnsFilter)
	assert.True(t, set.HasAggregation())
}

func TestValidatorCachesErrors(t *testing.T) {
	v := NewValidator(newSchema(t), RawFilters{RowsFilter: "Field2,eq,x"})

	_, err1 := v.ValidRowsFilter()
	_, err2 := v.ValidRowsFilter()
	require.Error(t, err1)
	assert.Same(t, err1, err2)

	_, err := v.Set()
	require.Error(t, err)
}

func TestValidatorEmpty(t *testing.T) {
	v := NewValidator(newSchema(t), RawFilters{})
	assert.False(t, v.IsNonEmpty())

	set, err := v.Set()
	require.NoError(t, err)
	assert.True(t, set.IsEmpty())
	assert.Nil(t, set.Selection())
}

func TestSetSelectionFallsBackToRowsFilter(t *testing.T) {
	v := NewValidator(newSchema(t), RawFilters{RowsFilter: "Field1,eq,a"})

	set, err := v.Set()
	require.NoError(t, err)

	leaf, ok := set.Selection().(*PredicateExpr)
	require.True(t, ok)
	assert.Same(t, set.RowsFilter, leaf.Predicate)
}
