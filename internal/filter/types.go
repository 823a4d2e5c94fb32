package filter

import (
	"fmt"
	"strings"

	"github.com/kyleking/rafs-ddms/internal/schema"
)

// Operator is a symbolic comparison operator
type Operator string

const (
	OpEq  Operator = "="
	OpNeq Operator = "!="
	OpGt  Operator = ">"
	OpGte Operator = ">="
	OpLt  Operator = "<"
	OpLte Operator = "<="
)

// comparisonOperators maps query-string operator names to symbols
var comparisonOperators = map[string]Operator{
	"eq":  OpEq,
	"neq": OpNeq,
	"gt":  OpGt,
	"gte": OpGte,
	"lt":  OpLt,
	"lte": OpLte,
}

// jsonOperators maps nested filter operator keys to symbols
var jsonOperators = map[string]Operator{
	"$eq":  OpEq,
	"$neq": OpNeq,
	"$gt":  OpGt,
	"$gte": OpGte,
	"$lt":  OpLt,
	"$lte": OpLte,
}

// AggregationFunction is a group-free column reduction
type AggregationFunction string

const (
	AggCount    AggregationFunction = "count"
	AggDescribe AggregationFunction = "describe"
	AggMax      AggregationFunction = "max"
	AggMean     AggregationFunction = "mean"
	AggMin      AggregationFunction = "min"
	AggSum      AggregationFunction = "sum"
)

var aggregationFunctions = map[string]AggregationFunction{
	"count":    AggCount,
	"describe": AggDescribe,
	"max":      AggMax,
	"mean":     AggMean,
	"min":      AggMin,
	"sum":      AggSum,
}

// LogicalOperator joins operands of a nested filter
type LogicalOperator string

const (
	And LogicalOperator = "$and"
	Or  LogicalOperator = "$or"
)

// RowPredicate is a single column/operator/value condition
type RowPredicate struct {
	Column    string
	Operator  Operator
	CompValue interface{}
	// Field is the nested field below Column, dotted when deeper than one level
	Field string
	Path  schema.Path
	Type  schema.FieldType
}

// Label returns Column or Column.Field
func (p *RowPredicate) Label() string {
	if p.Field == "" {
		return p.Column
	}

	return p.Column + "." + p.Field
}

func (p *RowPredicate) String() string {
	return fmt.Sprintf("%s %s %v", p.Label(), p.Operator, p.CompValue)
}

// Expr is a node of a logical predicate tree
type Expr interface {
	fmt.Stringer
	isExpr()
}

// PredicateExpr is a leaf holding one predicate
type PredicateExpr struct {
	Predicate *RowPredicate
}

// LogicalExpr combines two or more operands
type LogicalExpr struct {
	Operator LogicalOperator
	Operands []Expr
}

func (*PredicateExpr) isExpr() {}
func (*LogicalExpr) isExpr()   {}

func (e *PredicateExpr) String() string {
	return e.Predicate.String()
}

func (e *LogicalExpr) String() string {
	parts := make([]string, len(e.Operands))
	for i, op := range e.Operands {
		parts[i] = op.String()
	}

	sep := " AND "
	if e.Operator == Or {
		sep = " OR "
	}

	return "(" + strings.Join(parts, sep) + ")"
}

// ColumnsFilter is a validated column projection
type ColumnsFilter struct {
	Columns []string
}

// ColumnsAggregation is a validated column reduction
type ColumnsAggregation struct {
	Column   string
	Function AggregationFunction
	Field    string
}

// Label returns Column or Column.Field
func (a *ColumnsAggregation) Label() string {
	if a.Field == "" {
		return a.Column
	}

	return a.Column + "." + a.Field
}

// RawFilters holds the unparsed filter parameters of one request
type RawFilters struct {
	ColumnsFilter      string
	RowsFilter         string
	ColumnsAggregation string
	RowsMultipleFilter string
}

// IsEmpty reports whether no filter parameter was given
func (r RawFilters) IsEmpty() bool {
	return r.ColumnsFilter == "" && r.RowsFilter == "" &&
		r.ColumnsAggregation == "" && r.RowsMultipleFilter == ""
}

// Set is the validated filter set of one request. It is never mutated.
type Set struct {
	RowsFilter         *RowPredicate
	RowsMultipleFilter Expr
	ColumnsFilter      *ColumnsFilter
	ColumnsAggregation *ColumnsAggregation
}

// Selection returns the row selection to apply; the nested filter wins over
// the single row filter
func (s *Set) Selection() Expr {
	if s == nil {
		return nil
	}

	if s.RowsMultipleFilter != nil {
		return s.RowsMultipleFilter
	}

	if s.RowsFilter != nil {
		return &PredicateExpr{Predicate: s.RowsFilter}
	}

	return nil
}

// HasAggregation reports whether an aggregation was requested
func (s *Set) HasAggregation() bool {
	return s != nil && s.ColumnsAggregation != nil
}

// IsEmpty reports whether the set does nothing to a table
func (s *Set) IsEmpty() bool {
	return s == nil || (s.RowsFilter == nil && s.RowsMultipleFilter == nil &&
		s.ColumnsFilter == nil && s.ColumnsAggregation == nil)
}

// WithoutAggregation returns the same selection and projection without the aggregation
func (s *Set) WithoutAggregation() *Set {
	if s == nil {
		return nil
	}

	return &Set{
		RowsFilter:         s.RowsFilter,
		RowsMultipleFilter: s.RowsMultipleFilter,
		ColumnsFilter:      s.ColumnsFilter,
	}
}
