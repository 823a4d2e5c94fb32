package table

import (
	"fmt"
	"strings"

	"github.com/kyleking/rafs-ddms/internal/filter"
)

// opError is an execution-time failure of a value operation
type opError struct {
	kind string
	msg  string
}

func (e *opError) Error() string {
	return e.msg
}

func typeError(format string, args ...interface{}) error {
	return &opError{kind: "TypeError", msg: fmt.Sprintf(format, args...)}
}

func keyError(format string, args ...interface{}) error {
	return &opError{kind: "KeyError", msg: fmt.Sprintf(format, args...)}
}

// typeName names a cell type the way error messages report it
func typeName(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case int64:
		return "int"
	case float64:
		return "float"
	case bool:
		return "bool"
	case string:
		return "str"
	case map[string]interface{}:
		return "dict"
	case []interface{}:
		return "list"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	default:
		return 0, false
	}
}

// compareValues reports the ordering of a and b: -1, 0 or 1. ok is false when
// the two values have no common ordering.
func compareValues(a, b interface{}) (int, bool) {
	if ai, ok := a.(int64); ok {
		if bi, ok := b.(int64); ok {
			switch {
			case ai < bi:
				return -1, true
			case ai > bi:
				return 1, true
			default:
				return 0, true
			}
		}
	}

	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			default:
				return 0, true
			}
		}

		return 0, false
	}

	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), true
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0, true
			case !x:
				return -1, true
			default:
				return 1, true
			}
		}
	}

	return 0, false
}

// compare evaluates `cell op value`. A null cell only satisfies !=. Values of
// different kinds are unequal and have no ordering.
func compare(cell interface{}, op filter.Operator, value interface{}) (bool, error) {
	if cell == nil {
		return op == filter.OpNeq, nil
	}

	cmp, ok := compareValues(cell, value)
	if !ok {
		switch op {
		case filter.OpEq:
			return false, nil
		case filter.OpNeq:
			return true, nil
		default:
			return false, typeError("'%s' not supported between instances of '%s' and '%s'",
				op, typeName(cell), typeName(value))
		}
	}

	switch op {
	case filter.OpEq:
		return cmp == 0, nil
	case filter.OpNeq:
		return cmp != 0, nil
	case filter.OpGt:
		return cmp > 0, nil
	case filter.OpGte:
		return cmp >= 0, nil
	case filter.OpLt:
		return cmp < 0, nil
	case filter.OpLte:
		return cmp <= 0, nil
	default:
		return false, typeError("unknown operator '%s'", op)
	}
}
