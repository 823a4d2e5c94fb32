package table

import (
	"math"
	"sort"

	"github.com/kyleking/rafs-ddms/internal/filter"
)

var (
	numericDescribe = []string{"count", "mean", "std", "min", "25%", "50%", "75%", "max"}
	objectDescribe  = []string{"count", "unique", "top", "freq"}
)

// aggregate reduces one column of t. The result has a single column named
// after the aggregated column and one row per statistic.
func aggregate(t *Table, agg *filter.ColumnsAggregation) (*Table, error) {
	col, ok := t.Column(agg.Column)
	if !ok {
		return nil, keyError("'%s'", agg.Column)
	}

	values := columnValues(col, agg.Field)
	label := agg.Label()

	if agg.Function == filter.AggDescribe {
		stats, results := describe(values)
		return single(label, stats, results), nil
	}

	var (
		result interface{}
		err    error
	)

	switch agg.Function {
	case filter.AggCount:
		result = int64(len(values))
	case filter.AggSum:
		result, err = sum(values)
	case filter.AggMean:
		result, err = mean(values)
	case filter.AggMax:
		result, err = extreme(values, 1)
	case filter.AggMin:
		result, err = extreme(values, -1)
	default:
		err = typeError("unsupported aggregation '%s'", agg.Function)
	}

	if err != nil {
		return nil, err
	}

	return single(label, []string{string(agg.Function)}, []interface{}{result}), nil
}

func single(column string, index []string, values []interface{}) *Table {
	labels := make([]interface{}, len(index))
	for i, s := range index {
		labels[i] = s
	}

	return fromColumns([]string{column}, labels, [][]interface{}{values})
}

// columnValues returns the non-null values of a column, or of a nested field
// of it; array cells contribute every element
func columnValues(col []interface{}, field string) []interface{} {
	var out []interface{}

	var collect func(v interface{})
	collect = func(v interface{}) {
		if field != "" {
			v = decodeNested(v)
		}

		switch x := v.(type) {
		case nil:
		case []interface{}:
			if field == "" {
				out = append(out, x)
				return
			}

			for _, item := range x {
				collect(item)
			}
		case map[string]interface{}:
			if field == "" {
				out = append(out, x)
				return
			}

			if nested := x[field]; nested != nil {
				out = append(out, nested)
			}
		default:
			if field == "" {
				out = append(out, x)
			}
		}
	}

	for _, v := range col {
		collect(v)
	}

	return out
}

// asNumber treats booleans as 0/1
func asNumber(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	case bool:
		if x {
			return 1, true
		}

		return 0, true
	default:
		return 0, false
	}
}

func sum(values []interface{}) (interface{}, error) {
	var (
		intTotal   int64
		floatTotal float64
		isFloat    bool
	)

	for _, v := range values {
		switch x := v.(type) {
		case int64:
			intTotal += x
			floatTotal += float64(x)
		case bool:
			if x {
				intTotal++
				floatTotal++
			}
		case float64:
			isFloat = true
			floatTotal += x
		default:
			return nil, typeError("unsupported operand type(s) for +: 'int' and '%s'", typeName(v))
		}
	}

	if isFloat {
		return floatTotal, nil
	}

	return intTotal, nil
}

func mean(values []interface{}) (interface{}, error) {
	if len(values) == 0 {
		return nil, nil
	}

	total := 0.0

	for _, v := range values {
		f, ok := asNumber(v)
		if !ok {
			return nil, typeError("Could not convert %v to numeric", v)
		}

		total += f
	}

	return total / float64(len(values)), nil
}

// extreme returns the max (sign 1) or min (sign -1) value
func extreme(values []interface{}, sign int) (interface{}, error) {
	if len(values) == 0 {
		return nil, nil
	}

	best := values[0]

	for _, v := range values[1:] {
		cmp, ok := compareValues(v, best)
		if !ok {
			return nil, typeError("'>' not supported between instances of '%s' and '%s'", typeName(v), typeName(best))
		}

		if cmp*sign > 0 {
			best = v
		}
	}

	if _, ok := compareValues(best, best); !ok {
		return nil, typeError("'>' not supported for '%s'", typeName(best))
	}

	return best, nil
}

// describe summarizes a column. Numeric columns report count, mean, std and
// quantiles; other columns report count, unique, top and freq.
func describe(values []interface{}) ([]string, []interface{}) {
	numbers := make([]float64, 0, len(values))

	for _, v := range values {
		f, ok := toFloat(v)
		if !ok {
			return objectDescribe, describeObjects(values)
		}

		numbers = append(numbers, f)
	}

	n := len(numbers)
	if n == 0 {
		return numericDescribe, []interface{}{int64(0), nil, nil, nil, nil, nil, nil, nil}
	}

	sort.Float64s(numbers)

	total := 0.0
	for _, f := range numbers {
		total += f
	}

	avg := total / float64(n)

	var std interface{}

	if n > 1 {
		sq := 0.0
		for _, f := range numbers {
			sq += (f - avg) * (f - avg)
		}

		std = math.Sqrt(sq / float64(n-1))
	}

	return numericDescribe, []interface{}{
		int64(n),
		avg,
		std,
		numbers[0],
		quantile(numbers, 0.25),
		quantile(numbers, 0.5),
		quantile(numbers, 0.75),
		numbers[n-1],
	}
}

// quantile interpolates linearly between the closest ranks of sorted
func quantile(sorted []float64, q float64) float64 {
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))

	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}

func describeObjects(values []interface{}) []interface{} {
	counts := make(map[string]int)
	first := make(map[string]interface{})

	var order []string

	for _, v := range values {
		key := typeName(v) + ":" + FormatCell(v)
		if _, ok := counts[key]; !ok {
			order = append(order, key)
			first[key] = v
		}

		counts[key]++
	}

	var (
		top  interface{}
		freq int
	)

	for _, key := range order {
		if counts[key] > freq {
			top, freq = first[key], counts[key]
		}
	}

	return []interface{}{int64(len(values)), int64(len(order)), top, int64(freq)}
}
