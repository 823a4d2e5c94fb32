package filter

import (
	"sync"

	"github.com/kyleking/rafs-ddms/internal/schema"
)

// memo caches the outcome of one parse
type memo[T any] struct {
	once  sync.Once
	value T
	err   error
}

func (m *memo[T]) get(parse func() (T, error)) (T, error) {
	m.once.Do(func() {
		m.value, m.err = parse()
	})

	return m.value, m.err
}

// Validator validates the raw filter parameters of one request against a
// schema. Each Valid* accessor parses once and returns the cached outcome on
// every later call.
type Validator struct {
	schema *schema.Schema
	raw    RawFilters

	columns     memo[*ColumnsFilter]
	rows        memo[*RowPredicate]
	aggregation memo[*ColumnsAggregation]
	multiple    memo[Expr]
}

// NewValidator creates a validator over a copy of raw
func NewValidator(s *schema.Schema, raw RawFilters) *Validator {
	return &Validator{schema: s, raw: raw}
}

// Schema returns the schema filters are validated against
func (v *Validator) Schema() *schema.Schema {
	return v.schema
}

// Raw returns the raw parameters the validator was built from
func (v *Validator) Raw() RawFilters {
	return v.raw
}

// IsNonEmpty reports whether any filter parameter was given
func (v *Validator) IsNonEmpty() bool {
	return !v.raw.IsEmpty()
}

// ValidColumnsFilter returns the projection, or nil when none was requested
func (v *Validator) ValidColumnsFilter() (*ColumnsFilter, error) {
	return v.columns.get(func() (*ColumnsFilter, error) {
		if v.raw.ColumnsFilter == "" {
			return nil, nil
		}

		return ParseColumnsFilter(v.raw.ColumnsFilter, v.schema)
	})
}

// ValidRowsFilter returns the row predicate, or nil when none was requested
func (v *Validator) ValidRowsFilter() (*RowPredicate, error) {
	return v.rows.get(func() (*RowPredicate, error) {
		if v.raw.RowsFilter == "" {
			return nil, nil
		}

		return ParseRowsFilter(v.raw.RowsFilter, v.schema)
	})
}

// ValidColumnsAggregation returns the aggregation, or nil when none was requested
func (v *Validator) ValidColumnsAggregation() (*ColumnsAggregation, error) {
	return v.aggregation.get(func() (*ColumnsAggregation, error) {
		if v.raw.ColumnsAggregation == "" {
			return nil, nil
		}

		return ParseColumnsAggregation(v.raw.ColumnsAggregation, v.schema)
	})
}

// ValidRowsMultipleFilter returns the nested predicate tree, or nil when none was requested
func (v *Validator) ValidRowsMultipleFilter() (Expr, error) {
	return v.multiple.get(func() (Expr, error) {
		if v.raw.RowsMultipleFilter == "" {
			return nil, nil
		}

		return ParseRowsMultipleFilter(v.raw.RowsMultipleFilter, v.schema)
	})
}

// Set validates every parameter and returns the immutable filter set. It is
// the fail-fast entry point to call before any fetch.
func (v *Validator) Set() (*Set, error) {
	agg, err := v.ValidColumnsAggregation()
	if err != nil {
		return nil, err
	}

	columns, err := v.ValidColumnsFilter()
	if err != nil {
		return nil, err
	}

	rows, err := v.ValidRowsFilter()
	if err != nil {
		return nil, err
	}

	multiple, err := v.ValidRowsMultipleFilter()
	if err != nil {
		return nil, err
	}

	return &Set{
		RowsFilter:         rows,
		RowsMultipleFilter: multiple,
		ColumnsFilter:      columns,
		ColumnsAggregation: agg,
	}, nil
}
