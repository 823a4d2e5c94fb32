package filter

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/kyleking/rafs-ddms/internal/errors"
	"github.com/kyleking/rafs-ddms/internal/schema"
)

const (
	rowsFilterTokens  = 3
	aggregationTokens = 2

	// MaxNestingDepth bounds the recursion of nested logical filters
	MaxNestingDepth = 32
)

const (
	msgBadRowsFilter     = "Bad rows_filter expression. Correct form 'ColumnName[.FieldName],operator,value'"
	msgBadAggregation    = "Bad aggregation expression. Correct form 'ColumnName[.FieldName],operator'"
	msgBadDottedName     = "Wrong Column or Field name syntax: correct form: {ColumnName.FieldName}"
	msgNestedFilterForm  = `{"$and": [{"ColumnName[.FieldName]": {"$gt": "Value"}}, {"$or": [...]}]}`
	msgBadMultipleFilter = "Bad rows_multiple_filter expression. Correct form " + msgNestedFilterForm
)

var fieldNamePattern = regexp.MustCompile(`^\w+$`)

// ParseRowsFilter parses "Column[.Field],operator,value"
func ParseRowsFilter(raw string, s *schema.Schema) (*RowPredicate, error) {
	tokens := strings.Split(raw, ",")
	if len(tokens) != rowsFilterTokens {
		return nil, errors.NewFilterValidation(msgBadRowsFilter)
	}

	column, field, err := parseColumnName(tokens[0])
	if err != nil {
		return nil, err
	}

	op, ok := comparisonOperators[tokens[1]]
	if !ok {
		return nil, errors.NewFilterValidation("Invalid comparison operator not in: %s",
			schema.FormatSet(sortedNames(comparisonOperators)))
	}

	typ, err := resolveColumn(s, column, field, "filter")
	if err != nil {
		return nil, err
	}

	if !typ.Scalar() {
		return nil, errors.NewFilterValidation("Filter not supported on %s", typ)
	}

	pred := &RowPredicate{
		Column:   column,
		Operator: op,
		Field:    field,
		Path:     columnPath(s, column, field),
		Type:     typ,
	}

	value, err := coerceString(tokens[2], typ)
	if err != nil {
		return nil, errors.NewFilterValidation("Invalid value '%s' for %s of type %s", tokens[2], pred.Label(), typ)
	}

	pred.CompValue = value

	return pred, nil
}

// ParseColumnsFilter parses a comma separated projection list
func ParseColumnsFilter(raw string, s *schema.Schema) (*ColumnsFilter, error) {
	var (
		columns []string
		invalid []string
		seen    = make(map[string]bool)
	)

	for _, name := range strings.Split(raw, ",") {
		if seen[name] {
			continue
		}

		seen[name] = true

		if name == "" || !s.HasColumn(name) {
			if name == "" {
				name = "''"
			}

			invalid = append(invalid, name)

			continue
		}

		columns = append(columns, name)
	}

	if len(invalid) > 0 {
		return nil, errors.NewSchemaFieldNotFound("Invalid columns: %s. Select one of %s",
			schema.FormatSet(invalid), s.ColumnSet())
	}

	return &ColumnsFilter{Columns: columns}, nil
}

// ParseColumnsAggregation parses "Column[.Field],function"
func ParseColumnsAggregation(raw string, s *schema.Schema) (*ColumnsAggregation, error) {
	tokens := strings.Split(raw, ",")
	if len(tokens) != aggregationTokens {
		return nil, errors.NewFilterValidation(msgBadAggregation)
	}

	column, field, err := parseColumnName(tokens[0])
	if err != nil {
		return nil, err
	}

	fn, ok := aggregationFunctions[tokens[1]]
	if !ok {
		return nil, errors.NewFilterValidation("Invalid aggregation operator not in: %s",
			schema.FormatSet(sortedNames(aggregationFunctions)))
	}

	if _, err := resolveColumn(s, column, field, "aggregation"); err != nil {
		return nil, err
	}

	return &ColumnsAggregation{Column: column, Function: fn, Field: field}, nil
}

// ParseRowsMultipleFilter parses a JSON document of nested $and/$or predicates
func ParseRowsMultipleFilter(raw string, s *schema.Schema) (Expr, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()

	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.NewFilterValidation("%s. Json load error: %v", msgBadMultipleFilter, err)
	}

	return parseNode(doc, s, 0)
}

func parseNode(node interface{}, s *schema.Schema, depth int) (Expr, error) {
	if depth > MaxNestingDepth {
		return nil, errors.NewFilterValidation("Nested filter exceeds %d levels", MaxNestingDepth)
	}

	obj, ok := node.(map[string]interface{})
	if !ok {
		return nil, errors.NewFilterValidation("Must be a dict. %s", msgBadMultipleFilter)
	}

	if isPredicate(obj) {
		pred, err := parsePredicateObject(obj, s)
		if err != nil {
			return nil, err
		}

		return &PredicateExpr{Predicate: pred}, nil
	}

	op, ok := logicalOperator(obj)
	if !ok {
		return nil, errors.NewFilterValidation(
			"Wrong format in filter object. Valid predicate operators %s. Valid logical operators {$and, $or}. Example: %s",
			schema.FormatSet(sortedNames(jsonOperators)), msgNestedFilterForm)
	}

	if len(obj) != 1 {
		return nil, errors.NewFilterValidation(
			"Only one operator per filter object is allowed. See Example %s", msgNestedFilterForm)
	}

	items, ok := obj[string(op)].([]interface{})
	if !ok || len(items) == 0 {
		return nil, errors.NewFilterValidation("%s operator content should be a non-empty array", op)
	}

	operands := make([]Expr, 0, len(items))

	for _, item := range items {
		child, err := parseNode(item, s, depth+1)
		if err != nil {
			return nil, err
		}

		operands = append(operands, child)
	}

	if len(operands) == 1 {
		return operands[0], nil
	}

	return &LogicalExpr{Operator: op, Operands: operands}, nil
}

// isPredicate matches {"Name": {"$op": value}}
func isPredicate(obj map[string]interface{}) bool {
	if len(obj) != 1 {
		return false
	}

	for _, v := range obj {
		inner, ok := v.(map[string]interface{})
		if !ok || len(inner) != 1 {
			return false
		}

		for k := range inner {
			_, known := jsonOperators[k]
			return known
		}
	}

	return false
}

func logicalOperator(obj map[string]interface{}) (LogicalOperator, bool) {
	for _, op := range []LogicalOperator{And, Or} {
		if _, ok := obj[string(op)]; ok {
			return op, true
		}
	}

	return "", false
}

func parsePredicateObject(obj map[string]interface{}, s *schema.Schema) (*RowPredicate, error) {
	var (
		name  string
		inner map[string]interface{}
	)

	for k, v := range obj {
		name = k
		inner, _ = v.(map[string]interface{})
	}

	path, typ, err := s.ResolvePath(name)
	if err != nil {
		return nil, err
	}

	var (
		opKey string
		raw   interface{}
	)

	for k, v := range inner {
		opKey, raw = k, v
	}

	if !typ.Scalar() {
		return nil, errors.NewFilterValidation("Filter not supported on %s", typ)
	}

	value, err := coerceJSON(raw, typ)
	if err != nil {
		return nil, errors.NewFilterValidation("Invalid value '%v' for %s of type %s", raw, name, typ)
	}

	pred := &RowPredicate{
		Column:    path[0].Name,
		Operator:  jsonOperators[opKey],
		CompValue: value,
		Path:      path,
		Type:      typ,
	}

	if len(path) > 1 {
		pred.Field = path[1:].Dotted()
	}

	return pred, nil
}

// parseColumnName splits "Column" or "Column.Field"
func parseColumnName(token string) (string, string, error) {
	if !strings.Contains(token, ".") {
		return token, "", nil
	}

	parts := strings.Split(token, ".")
	if len(parts) != 2 || parts[0] == "" || !fieldNamePattern.MatchString(parts[1]) {
		return "", "", errors.NewFilterValidation(msgBadDottedName)
	}

	return parts[0], parts[1], nil
}

// resolveColumn checks the column and the optional nested field, returning the governing type
func resolveColumn(s *schema.Schema, column, field, usage string) (schema.FieldType, error) {
	if !s.HasColumn(column) {
		return schema.Unknown, errors.NewSchemaFieldNotFound("For %s column select one of %s", usage, s.ColumnSet())
	}

	if field == "" {
		return s.FieldType(column)
	}

	return s.NestedFieldType(column, field)
}

func columnPath(s *schema.Schema, column, field string) schema.Path {
	f, _ := s.Lookup(column)
	path := schema.Path{{Name: column, Array: f != nil && f.Type == schema.Array}}

	if field != "" {
		path = append(path, schema.Segment{Name: field})
	}

	return path
}

// coerceString converts a query-string value to the declared type
func coerceString(value string, typ schema.FieldType) (interface{}, error) {
	switch typ {
	case schema.Integer:
		return strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	case schema.Number:
		return strconv.ParseFloat(strings.TrimSpace(value), 64)
	case schema.Boolean:
		return strings.EqualFold(value, "true"), nil
	default:
		return value, nil
	}
}

// coerceJSON converts a decoded JSON value to the declared scalar type
func coerceJSON(value interface{}, typ schema.FieldType) (interface{}, error) {
	switch v := value.(type) {
	case json.Number:
		switch typ {
		case schema.Integer:
			return v.Int64()
		case schema.Number:
			return v.Float64()
		case schema.Boolean:
			f, err := v.Float64()
			return f != 0, err
		default:
			return v.String(), nil
		}
	case string:
		return coerceString(v, typ)
	case bool:
		switch typ {
		case schema.Boolean:
			return v, nil
		case schema.String:
			return strconv.FormatBool(v), nil
		}
	}

	return nil, fmt.Errorf("cannot convert %T to %s", value, typ)
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}

	sort.Strings(names)

	return names
}
