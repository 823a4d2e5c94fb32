package table

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/kyleking/rafs-ddms/internal/errors"
)

const (
	rowGroupSize = 64 * 1024

	// pandas stores a non-default index as an extra column with this prefix
	pandasIndexPrefix = "__index_level_"
)

// ReadParquet decodes a parquet payload into a table
func ReadParquet(ctx context.Context, payload []byte) (*Table, error) {
	mem := memory.NewGoAllocator()

	tbl, err := pqarrow.ReadTable(ctx, bytes.NewReader(payload), parquet.NewReaderProperties(mem),
		pqarrow.ArrowReadProperties{}, mem)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeUnprocessable, "failed to read parquet payload")
	}
	defer tbl.Release()

	n := int(tbl.NumRows())
	columns := make([]string, 0, tbl.NumCols())
	data := make([][]interface{}, 0, tbl.NumCols())
	index := defaultIndex(n)

	for c := range int(tbl.NumCols()) {
		col := tbl.Column(c)

		values := make([]interface{}, 0, n)

		for _, chunk := range col.Data().Chunks() {
			for i := range chunk.Len() {
				if chunk.IsNull(i) {
					values = append(values, nil)
					continue
				}

				values = append(values, Normalize(chunk.GetOneForMarshal(i)))
			}
		}

		if strings.HasPrefix(col.Name(), pandasIndexPrefix) {
			index = values
			continue
		}

		columns = append(columns, col.Name())
		data = append(data, values)
	}

	return fromColumns(columns, index, data), nil
}

// WriteParquet encodes a table as parquet. Columns holding nested or mixed
// values are written as text; stringify writes every column as text.
func WriteParquet(t *Table, w io.Writer, stringify bool) error {
	mem := memory.NewGoAllocator()

	fields := make([]arrow.Field, t.NumCols())
	for c, name := range t.columns {
		var dtype arrow.DataType = arrow.BinaryTypes.String
		if !stringify {
			dtype = inferType(t.data[c])
		}

		fields[c] = arrow.Field{Name: name, Type: dtype, Nullable: true}
	}

	sc := arrow.NewSchema(fields, nil)

	builder := array.NewRecordBuilder(mem, sc)
	defer builder.Release()

	for c := range t.columns {
		appendColumn(builder.Field(c), t.data[c])
	}

	rec := builder.NewRecord()
	defer rec.Release()

	tbl := array.NewTableFromRecords(sc, []arrow.Record{rec})
	defer tbl.Release()

	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy))

	if err := pqarrow.WriteTable(tbl, w, rowGroupSize, props, pqarrow.DefaultWriterProps()); err != nil {
		return errors.Wrap(err, errors.ErrTypeInternal, "failed to write parquet payload")
	}

	return nil
}

// EncodeParquet renders a table as a parquet byte buffer
func EncodeParquet(t *Table, stringify bool) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteParquet(t, &buf, stringify); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// inferType picks the arrow type of a column from its non-null values
func inferType(col []interface{}) arrow.DataType {
	var (
		hasInt, hasFloat, hasBool, hasOther bool
	)

	for _, v := range col {
		switch v.(type) {
		case nil:
		case int64:
			hasInt = true
		case float64:
			hasFloat = true
		case bool:
			hasBool = true
		default:
			hasOther = true
		}
	}

	switch {
	case hasOther || (hasBool && (hasInt || hasFloat)):
		return arrow.BinaryTypes.String
	case hasFloat:
		return arrow.PrimitiveTypes.Float64
	case hasInt:
		return arrow.PrimitiveTypes.Int64
	case hasBool:
		return arrow.FixedWidthTypes.Boolean
	default:
		return arrow.BinaryTypes.String
	}
}

func appendColumn(b array.Builder, col []interface{}) {
	for _, v := range col {
		if v == nil {
			b.AppendNull()
			continue
		}

		switch fb := b.(type) {
		case *array.Int64Builder:
			fb.Append(v.(int64))
		case *array.Float64Builder:
			f, _ := toFloat(v)
			fb.Append(f)
		case *array.BooleanBuilder:
			fb.Append(v.(bool))
		case *array.StringBuilder:
			fb.Append(FormatCell(v))
		}
	}
}
