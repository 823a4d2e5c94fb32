package formatter

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/rafs-ddms/internal/batch"
	"github.com/kyleking/rafs-ddms/internal/errors"
	"github.com/kyleking/rafs-ddms/internal/storage"
	"github.com/kyleking/rafs-ddms/internal/table"
)

func newTestFormatter(isTTY bool) (*Formatter, *bytes.Buffer) {
	var buf bytes.Buffer

	return NewFormatter(&buf, isTTY, 80), &buf
}

func sampleTable(t *testing.T) *table.Table {
	t.Helper()

	tbl, err := table.New([]string{"SampleID", "Depth", "Pressure"}, [][]interface{}{
		{"s1", 100, map[string]interface{}{"value": 1.5}},
		{"s2", nil, nil},
	})
	require.NoError(t, err)

	return tbl
}

func TestParseOutputFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    OutputFormat
		wantErr bool
	}{
		{input: "table", want: FormatTable},
		{input: "JSON", want: FormatJSON},
		{input: "parquet", want: FormatParquet},
		{input: "csv", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseOutputFormat(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, errors.ErrTypeBadRequest, errors.GetType(err))

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWriteTable(t *testing.T) {
	t.Run("plain output is tab separated without header", func(t *testing.T) {
		f, buf := newTestFormatter(false)

		require.NoError(t, f.WriteTable(sampleTable(t), FormatTable))
		assert.Equal(t, "0\ts1\t100\t{\"value\":1.5}\n1\ts2\t\t\n", buf.String())
	})

	t.Run("terminal output has a header", func(t *testing.T) {
		f, buf := newTestFormatter(true)

		require.NoError(t, f.WriteTable(sampleTable(t), FormatTable))

		lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
		require.Len(t, lines, 3)
		assert.Contains(t, strings.ToUpper(lines[0]), "SAMPLEID")
		assert.Contains(t, lines[1], "s1")
	})

	t.Run("json", func(t *testing.T) {
		f, buf := newTestFormatter(false)

		require.NoError(t, f.WriteTable(sampleTable(t), FormatJSON))
		assert.JSONEq(t,
			`{"columns":["SampleID","Depth","Pressure"],"index":[0,1],"data":[["s1",100,{"value":1.5}],["s2",null,null]]}`,
			buf.String())
	})

	t.Run("parquet keeps types", func(t *testing.T) {
		f, buf := newTestFormatter(false)

		require.NoError(t, f.WriteTable(sampleTable(t), FormatParquet))

		decoded, err := table.ReadParquet(context.Background(), buf.Bytes())
		require.NoError(t, err)

		depth, ok := decoded.Column("Depth")
		require.True(t, ok)
		assert.Equal(t, []interface{}{int64(100), nil}, depth)
	})
}

func TestWritePage(t *testing.T) {
	tests := []struct {
		name   string
		page   *batch.Page
		format OutputFormat
		want   string
	}{
		{
			name:   "record ids",
			page:   &batch.Page{Mode: batch.ModeSearchIDs, RecordIDs: []string{"r1", "r2"}, Limit: 2, TotalSize: 7},
			format: FormatTable,
			want:   "r1\nr2\n\nsearch-ids: offset 0, page limit 2, total 7\n",
		},
		{
			name:   "empty data page",
			page:   &batch.Page{Mode: batch.ModeData, Result: table.Concat(), Offset: 5, Limit: 100},
			format: FormatTable,
			want:   "\ndata: offset 5, page limit 100, total 0\n",
		},
		{
			name:   "json",
			page:   &batch.Page{Mode: batch.ModeListing, RecordIDs: []string{"r1"}, Limit: 1, TotalSize: 3},
			format: FormatJSON,
			want:   `{"result":["r1"],"offset":0,"page_limit":1,"total_size":3}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, buf := newTestFormatter(false)

			require.NoError(t, f.WritePage(tt.page, tt.format))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestWriteStats(t *testing.T) {
	now := time.Date(2024, 9, 14, 12, 0, 0, 0, time.UTC)

	f, buf := newTestFormatter(false)
	f.now = func() time.Time { return now }

	stats := &storage.Stats{
		TotalRecords:   3,
		TotalVersions:  5,
		TotalDatasets:  2,
		DatabaseSizeMB: 1.5,
		LastUpdated:    now.Add(-3 * 24 * time.Hour),
		KindBreakdown:  map[string]int{"osdu:wks:b:1.0.0": 1, "osdu:wks:a:1.0.0": 1, "osdu:wks:c:1.0.0": 2},
	}

	require.NoError(t, f.WriteStats(stats, FormatTable))

	want := strings.Join([]string{
		"Records: 3",
		"Versions: 5",
		"Datasets: 2",
		"Database size: 1.50 MB",
		"Last updated: 3 days ago",
		"",
		"Kinds:",
		"osdu:wks:c:1.0.0\t2",
		"osdu:wks:a:1.0.0\t1",
		"osdu:wks:b:1.0.0\t1",
		"",
	}, "\n")
	assert.Equal(t, want, buf.String())

	buf.Reset()
	require.NoError(t, f.WriteStats(stats, FormatJSON))
	assert.Contains(t, buf.String(), `"total_records": 3`)
}

func TestHumanizeAge(t *testing.T) {
	now := time.Date(2024, 9, 14, 12, 0, 0, 0, time.UTC)

	f, _ := newTestFormatter(false)
	f.now = func() time.Time { return now }

	tests := []struct {
		name     string
		input    time.Time
		expected string
	}{
		{name: "zero time", input: time.Time{}, expected: "?"},
		{name: "same day", input: now.Add(-2 * time.Hour), expected: "today"},
		{name: "one day ago", input: now.Add(-24 * time.Hour), expected: "1 day ago"},
		{name: "multiple days ago", input: now.Add(-5 * 24 * time.Hour), expected: "5 days ago"},
		{name: "one month ago", input: now.Add(-30 * 24 * time.Hour), expected: "1 month ago"},
		{name: "multiple months ago", input: now.Add(-90 * 24 * time.Hour), expected: "3 months ago"},
		{name: "one year ago", input: now.Add(-365 * 24 * time.Hour), expected: "1 year ago"},
		{name: "multiple years ago", input: now.Add(-2 * 365 * 24 * time.Hour), expected: "2 years ago"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, f.humanizeAge(tt.input))
		})
	}
}

func TestFormatInt(t *testing.T) {
	f, _ := newTestFormatter(false)

	assert.Equal(t, "?", f.formatInt(-1))
	assert.Equal(t, "0", f.formatInt(0))
	assert.Equal(t, "42", f.formatInt(42))
}
