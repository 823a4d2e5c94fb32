package table

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/kyleking/rafs-ddms/internal/errors"
	"github.com/kyleking/rafs-ddms/internal/filter"
	"github.com/kyleking/rafs-ddms/internal/logging"
	"github.com/kyleking/rafs-ddms/internal/schema"
)

// Engine applies validated filter sets to tables
type Engine struct {
	logger *logging.Logger
}

// NewEngine creates an engine logging through the global logger
func NewEngine() *Engine {
	return &Engine{logger: logging.GetLogger()}
}

// NewEngineWithLogger creates an engine logging through l
func NewEngineWithLogger(l *logging.Logger) *Engine {
	return &Engine{logger: l}
}

// ApplyBytes decodes a parquet payload and applies s to it
func (e *Engine) ApplyBytes(ctx context.Context, payload []byte, s *filter.Set) (*Table, error) {
	t, err := ReadParquet(ctx, payload)
	if err != nil {
		return nil, err
	}

	return e.Apply(t, s)
}

// Apply runs selection, then projection, then aggregation. The aggregation,
// when requested, is computed from the selected rows and is the final shape.
// Failures of value operations are reported as unprocessable.
func (e *Engine) Apply(t *Table, s *filter.Set) (out *Table, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = e.unprocessable(&opError{kind: "panic", msg: fmt.Sprint(r)})
			out = nil
		}
	}()

	if s.IsEmpty() {
		return t, nil
	}

	selected := t

	if expr := s.Selection(); expr != nil {
		mask, err := evalExpr(t, expr)
		if err != nil {
			return nil, e.unprocessable(err)
		}

		positions := make([]int, 0, len(mask))
		for i, keep := range mask {
			if keep {
				positions = append(positions, i)
			}
		}

		selected = t.Take(positions)
	}

	if s.ColumnsAggregation != nil {
		result, err := aggregate(selected, s.ColumnsAggregation)
		if err != nil {
			return nil, e.unprocessable(err)
		}

		return result, nil
	}

	if s.ColumnsFilter != nil && len(s.ColumnsFilter.Columns) > 0 {
		for _, c := range s.ColumnsFilter.Columns {
			if !selected.HasColumn(c) {
				return nil, e.unprocessable(keyError("'%s'", c))
			}
		}

		projected, err := selected.Select(s.ColumnsFilter.Columns)
		if err != nil {
			return nil, e.unprocessable(err)
		}

		return projected, nil
	}

	return selected, nil
}

func (e *Engine) unprocessable(err error) error {
	kind := "error"

	var op *opError
	if stderrors.As(err, &op) {
		kind = op.kind
	}

	wrapped := errors.Newf(errors.ErrTypeUnprocessable, "Processing filter exception (%s): %s", kind, err.Error())
	e.logger.WithError(err).Warn(wrapped.Message)

	return wrapped
}

// evalExpr returns the per-row match mask of expr. And keeps the rows every
// operand matches, Or the rows any operand matches, both in table order.
func evalExpr(t *Table, expr filter.Expr) ([]bool, error) {
	switch x := expr.(type) {
	case *filter.PredicateExpr:
		return evalPredicate(t, x.Predicate)
	case *filter.LogicalExpr:
		var result []bool

		for i, operand := range x.Operands {
			mask, err := evalExpr(t, operand)
			if err != nil {
				return nil, err
			}

			if i == 0 {
				result = mask
				continue
			}

			for r := range result {
				if x.Operator == filter.And {
					result[r] = result[r] && mask[r]
				} else {
					result[r] = result[r] || mask[r]
				}
			}
		}

		return result, nil
	default:
		return nil, typeError("unsupported filter node %T", expr)
	}
}

func evalPredicate(t *Table, p *filter.RowPredicate) ([]bool, error) {
	col, ok := t.Column(p.Column)
	if !ok {
		return nil, keyError("'%s'", p.Column)
	}

	path := p.Path
	if len(path) == 0 {
		path = schema.Path{{Name: p.Column}}
	}

	mask := make([]bool, len(col))

	for r, cell := range col {
		matched, err := matchValue(cell, path[0].Array, path[1:], p)
		if err != nil {
			return nil, err
		}

		mask[r] = matched
	}

	return mask, nil
}

// matchValue compares the value reached by following rest from v. When v is
// an array any element may match.
func matchValue(v interface{}, isArray bool, rest schema.Path, p *filter.RowPredicate) (bool, error) {
	if isArray || len(rest) > 0 {
		v = decodeNested(v)
	}

	if items, ok := v.([]interface{}); ok && isArray {
		for _, item := range items {
			matched, err := matchValue(item, false, rest, p)
			if err != nil {
				return false, err
			}

			if matched {
				return true, nil
			}
		}

		return false, nil
	}

	if len(rest) == 0 {
		return compare(v, p.Operator, p.CompValue)
	}

	var next interface{}
	if m, ok := v.(map[string]interface{}); ok {
		next = m[rest[0].Name]
	}

	return matchValue(next, rest[0].Array, rest[1:], p)
}

// decodeNested parses nested values that were stored as JSON text
func decodeNested(v interface{}) interface{} {
	s, ok := v.(string)
	if !ok {
		return v
	}

	trimmed := strings.TrimSpace(s)
	if trimmed == "" || (trimmed[0] != '{' && trimmed[0] != '[') {
		return v
	}

	var decoded interface{}

	dec := json.NewDecoder(bytes.NewReader([]byte(trimmed)))
	dec.UseNumber()

	if err := dec.Decode(&decoded); err != nil {
		return v
	}

	return Normalize(decoded)
}
