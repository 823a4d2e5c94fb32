package table

import (
	"bytes"
	"math"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/kyleking/rafs-ddms/internal/errors"
)

// SplitDocument is the {"columns","index","data"} JSON orientation
type SplitDocument struct {
	Columns []string        `json:"columns"`
	Index   []interface{}   `json:"index"`
	Data    [][]interface{} `json:"data"`
}

// ValidateSplit checks that index and data agree in length and that every row
// has one value per column
func ValidateSplit(doc *SplitDocument) error {
	if doc.Index != nil && len(doc.Index) != len(doc.Data) {
		return errors.Newf(errors.ErrTypeBadRequest,
			"Data error: 'index' lenght: %d != 'data' lenght: %d", len(doc.Index), len(doc.Data))
	}

	for i, row := range doc.Data {
		if len(row) != len(doc.Columns) {
			return errors.Newf(errors.ErrTypeBadRequest,
				"Data error: row %d has %d values, expected %d", i, len(row), len(doc.Columns))
		}
	}

	return nil
}

// DecodeSplit parses a split JSON document into a table
func DecodeSplit(data []byte) (*Table, error) {
	var doc SplitDocument
	if err := unmarshalNumbers(data, &doc); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeBadRequest, "invalid split JSON document")
	}

	if err := ValidateSplit(&doc); err != nil {
		return nil, err
	}

	t, err := NewWithIndex(doc.Columns, doc.Index, doc.Data)
	if err != nil {
		return nil, err
	}

	for c := range t.data {
		widenIntegers(t.data[c])
	}

	return t, nil
}

// widenIntegers turns a column of mixed int64 and float64 into float64
func widenIntegers(col []interface{}) {
	hasFloat := false

	for _, v := range col {
		switch v.(type) {
		case nil, int64:
		case float64:
			hasFloat = true
		default:
			return
		}
	}

	if !hasFloat {
		return
	}

	for i, v := range col {
		if n, ok := v.(int64); ok {
			col[i] = float64(n)
		}
	}
}

// ToSplit converts a table to the split orientation
func ToSplit(t *Table) *SplitDocument {
	return &SplitDocument{
		Columns: t.Columns(),
		Index:   t.Index(),
		Data:    t.Rows(),
	}
}

// EncodeSplit renders a table as a split JSON document
func EncodeSplit(t *Table) ([]byte, error) {
	doc := ToSplit(t)
	for _, row := range doc.Data {
		for i, v := range row {
			row[i] = encodable(v)
		}
	}

	for i, v := range doc.Index {
		doc.Index[i] = encodable(v)
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeInternal, "failed to encode table")
	}

	return data, nil
}

// jsonFloat keeps a decimal point on whole floats so they decode as floats
type jsonFloat float64

func (f jsonFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return []byte("null"), nil
	}

	s := strconv.FormatFloat(v, 'f', -1, 64)
	if v == math.Trunc(v) && math.Abs(v) < 1e21 {
		s += ".0"
	}

	return []byte(s), nil
}

func encodable(v interface{}) interface{} {
	switch x := v.(type) {
	case float64:
		return jsonFloat(x)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, val := range x {
			out[k] = encodable(val)
		}

		return out
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, val := range x {
			out[i] = encodable(val)
		}

		return out
	default:
		return v
	}
}

func unmarshalNumbers(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	return dec.Decode(v)
}
