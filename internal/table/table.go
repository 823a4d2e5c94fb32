package table

import (
	"fmt"
	"math"
	"strings"

	"github.com/goccy/go-json"

	"github.com/kyleking/rafs-ddms/internal/errors"
)

// Table is an immutable set of equally long named columns with row labels.
// Cells hold nil, int64, float64, bool, string, map[string]interface{} or
// []interface{}.
type Table struct {
	columns  []string
	position map[string]int
	index    []interface{}
	data     [][]interface{}
}

// New builds a table from row-major data with a default 0..n-1 index
func New(columns []string, rows [][]interface{}) (*Table, error) {
	return NewWithIndex(columns, nil, rows)
}

// NewWithIndex builds a table from row-major data; a nil index means 0..n-1
func NewWithIndex(columns []string, index []interface{}, rows [][]interface{}) (*Table, error) {
	if index != nil && len(index) != len(rows) {
		return nil, errors.Newf(errors.ErrTypeBadRequest,
			"Data error: 'index' lenght: %d != 'data' lenght: %d", len(index), len(rows))
	}

	position := make(map[string]int, len(columns))
	for i, c := range columns {
		if _, dup := position[c]; dup {
			return nil, errors.Newf(errors.ErrTypeBadRequest, "Data error: duplicate column '%s'", c)
		}

		position[c] = i
	}

	data := make([][]interface{}, len(columns))
	for c := range data {
		data[c] = make([]interface{}, len(rows))
	}

	for r, row := range rows {
		if len(row) != len(columns) {
			return nil, errors.Newf(errors.ErrTypeBadRequest,
				"Data error: row %d has %d values, expected %d", r, len(row), len(columns))
		}

		for c, v := range row {
			data[c][r] = Normalize(v)
		}
	}

	if index == nil {
		index = defaultIndex(len(rows))
	} else {
		normalized := make([]interface{}, len(index))
		for i, v := range index {
			normalized[i] = Normalize(v)
		}

		index = normalized
	}

	return &Table{
		columns:  append([]string(nil), columns...),
		position: position,
		index:    index,
		data:     data,
	}, nil
}

// fromColumns builds a table from column-major data without copying
func fromColumns(columns []string, index []interface{}, data [][]interface{}) *Table {
	position := make(map[string]int, len(columns))
	for i, c := range columns {
		position[c] = i
	}

	return &Table{columns: columns, position: position, index: index, data: data}
}

// Empty returns a table with the given columns and no rows
func Empty(columns ...string) *Table {
	data := make([][]interface{}, len(columns))
	for i := range data {
		data[i] = []interface{}{}
	}

	return fromColumns(append([]string(nil), columns...), []interface{}{}, data)
}

func defaultIndex(n int) []interface{} {
	index := make([]interface{}, n)
	for i := range index {
		index[i] = int64(i)
	}

	return index
}

// Columns returns the column names in order
func (t *Table) Columns() []string {
	out := make([]string, len(t.columns))
	copy(out, t.columns)

	return out
}

// NumRows returns the number of rows
func (t *Table) NumRows() int {
	return len(t.index)
}

// NumCols returns the number of columns
func (t *Table) NumCols() int {
	return len(t.columns)
}

// IsEmpty reports whether the table has no rows
func (t *Table) IsEmpty() bool {
	return t == nil || len(t.index) == 0
}

// HasColumn reports whether the table has the named column
func (t *Table) HasColumn(name string) bool {
	_, ok := t.position[name]
	return ok
}

// Column returns the values of the named column
func (t *Table) Column(name string) ([]interface{}, bool) {
	i, ok := t.position[name]
	if !ok {
		return nil, false
	}

	return t.data[i], true
}

// Index returns the row labels
func (t *Table) Index() []interface{} {
	out := make([]interface{}, len(t.index))
	copy(out, t.index)

	return out
}

// Row returns the values of row r in column order
func (t *Table) Row(r int) []interface{} {
	row := make([]interface{}, len(t.columns))
	for c := range t.columns {
		row[c] = t.data[c][r]
	}

	return row
}

// Rows returns the data in row-major order
func (t *Table) Rows() [][]interface{} {
	rows := make([][]interface{}, t.NumRows())
	for r := range rows {
		rows[r] = t.Row(r)
	}

	return rows
}

// Take returns a new table with the rows at the given positions
func (t *Table) Take(positions []int) *Table {
	index := make([]interface{}, len(positions))
	for i, p := range positions {
		index[i] = t.index[p]
	}

	data := make([][]interface{}, len(t.columns))
	for c := range t.columns {
		col := make([]interface{}, len(positions))
		for i, p := range positions {
			col[i] = t.data[c][p]
		}

		data[c] = col
	}

	return fromColumns(t.Columns(), index, data)
}

// Select returns a new table with only the named columns, in the given order
func (t *Table) Select(columns []string) (*Table, error) {
	data := make([][]interface{}, len(columns))

	for i, name := range columns {
		pos, ok := t.position[name]
		if !ok {
			return nil, errors.Newf(errors.ErrTypeUnprocessable, "column '%s' not found in table", name)
		}

		data[i] = t.data[pos]
	}

	return fromColumns(append([]string(nil), columns...), t.Index(), data), nil
}

// Slice returns up to limit rows starting at offset
func (t *Table) Slice(offset, limit int) *Table {
	n := t.NumRows()
	start := min(max(offset, 0), n)
	end := n

	if limit >= 0 {
		end = min(start+limit, n)
	}

	positions := make([]int, 0, end-start)
	for i := start; i < end; i++ {
		positions = append(positions, i)
	}

	return t.Take(positions)
}

// Concat stacks tables vertically. Columns are unioned in first-seen order
// and cells missing from a table are nil. Row labels are kept.
func Concat(tables ...*Table) *Table {
	var columns []string

	seen := make(map[string]bool)

	for _, t := range tables {
		if t == nil {
			continue
		}

		for _, c := range t.columns {
			if !seen[c] {
				seen[c] = true
				columns = append(columns, c)
			}
		}
	}

	var index []interface{}

	data := make([][]interface{}, len(columns))

	for _, t := range tables {
		if t == nil {
			continue
		}

		index = append(index, t.index...)

		for c, name := range columns {
			if col, ok := t.Column(name); ok {
				data[c] = append(data[c], col...)
				continue
			}

			data[c] = append(data[c], make([]interface{}, t.NumRows())...)
		}
	}

	if index == nil {
		index = []interface{}{}
	}

	for c := range data {
		if data[c] == nil {
			data[c] = []interface{}{}
		}
	}

	return fromColumns(columns, index, data)
}

// Normalize converts a decoded value to the cell representation
func Normalize(v interface{}) interface{} {
	switch x := v.(type) {
	case nil, bool, string, int64:
		return x
	case float64:
		if math.IsNaN(x) {
			return nil
		}

		return x
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		if x > math.MaxInt64 {
			return float64(x)
		}

		return int64(x)
	case float32:
		return Normalize(float64(x))
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}

		if f, err := x.Float64(); err == nil {
			return f
		}

		return x.String()
	case json.RawMessage:
		var decoded interface{}
		if err := unmarshalNumbers(x, &decoded); err != nil {
			return string(x)
		}

		return Normalize(decoded)
	case []byte:
		return string(x)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, val := range x {
			out[k] = Normalize(val)
		}

		return out
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, val := range x {
			out[i] = Normalize(val)
		}

		return out
	default:
		return fmt.Sprint(x)
	}
}

// String renders a small table for debugging
func (t *Table) String() string {
	var b strings.Builder

	b.WriteString(strings.Join(t.columns, "\t"))

	for r := range t.NumRows() {
		b.WriteString("\n")

		cells := make([]string, len(t.columns))
		for c := range t.columns {
			cells[c] = FormatCell(t.data[c][r])
		}

		b.WriteString(strings.Join(cells, "\t"))
	}

	return b.String()
}

// FormatCell renders a cell as text; nested values become JSON
func FormatCell(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case map[string]interface{}, []interface{}:
		data, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}

		return string(data)
	default:
		return fmt.Sprint(x)
	}
}
