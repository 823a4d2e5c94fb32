package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/rafs-ddms/internal/errors"
	"github.com/kyleking/rafs-ddms/internal/filter"
	"github.com/kyleking/rafs-ddms/internal/logging"
	"github.com/kyleking/rafs-ddms/internal/table"
	"github.com/kyleking/rafs-ddms/internal/testutil"
)

var contentColumns = []string{"SampleID", "Depth", "Valid"}

const contentSplit = `{
  "columns": ["SampleID", "Depth", "Valid"],
  "index": [0, 1, 2],
  "data": [["s1", 100, true], ["s2", 250, false], ["s3", 400, true]]
}`

// writeFile writes data under a temporary directory and returns its path
func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	return path
}

func TestQueryFile(t *testing.T) {
	splitPath := writeFile(t, "pvt.json", []byte(contentSplit))
	parquetPath := writeFile(t, "pvt.parquet", testutil.ParquetPayload(t, contentColumns,
		[]interface{}{"s1", 100, true},
		[]interface{}{"s2", 250, false},
	))
	untypedPath := writeFile(t, "pvt.bin", []byte(contentSplit))

	tests := []struct {
		name     string
		opts     queryFileOptions
		wantCols []string
		wantRows [][]interface{}
	}{
		{
			name:     "whole split file",
			opts:     queryFileOptions{Path: splitPath},
			wantCols: contentColumns,
			wantRows: [][]interface{}{{"s1", int64(100), true}, {"s2", int64(250), false}, {"s3", int64(400), true}},
		},
		{
			name: "filtered split file",
			opts: queryFileOptions{
				Path:       splitPath,
				EntityType: "pvt",
				Filters:    filter.RawFilters{RowsFilter: "Depth,gt,150", ColumnsFilter: "SampleID"},
			},
			wantCols: []string{"SampleID"},
			wantRows: [][]interface{}{{"s2"}, {"s3"}},
		},
		{
			name: "parquet by extension",
			opts: queryFileOptions{
				Path:          parquetPath,
				EntityType:    "pvt",
				SchemaVersion: testutil.TestSchemaVersion,
				Filters:       filter.RawFilters{RowsFilter: "Valid,eq,true"},
			},
			wantCols: contentColumns,
			wantRows: [][]interface{}{{"s1", int64(100), true}},
		},
		{
			name:     "explicit content type",
			opts:     queryFileOptions{Path: untypedPath, ContentType: "application/json; charset=utf-8"},
			wantCols: contentColumns,
			wantRows: [][]interface{}{{"s1", int64(100), true}, {"s2", int64(250), false}, {"s3", int64(400), true}},
		},
	}

	engine := table.NewEngineWithLogger(logging.NewNop())
	registry := testutil.NewTestRegistry(t, "pvt")

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := queryFile(context.Background(), engine, registry, tt.opts)
			require.NoError(t, err)

			assert.Equal(t, tt.wantCols, got.Columns())
			assert.Equal(t, tt.wantRows, got.Rows())
		})
	}
}

func TestQueryFileErrors(t *testing.T) {
	splitPath := writeFile(t, "pvt.json", []byte(contentSplit))
	missing := filepath.Join(t.TempDir(), "missing.json")

	tests := []struct {
		name     string
		opts     queryFileOptions
		wantType errors.ErrorType
	}{
		{
			name:     "filters need an entity type",
			opts:     queryFileOptions{Path: splitPath, Filters: filter.RawFilters{ColumnsFilter: "SampleID"}},
			wantType: errors.ErrTypeBadRequest,
		},
		{
			name: "invalid filter is reported before the file is read",
			opts: queryFileOptions{
				Path:       missing,
				EntityType: "pvt",
				Filters:    filter.RawFilters{RowsFilter: "Depth,gt,deep"},
			},
			wantType: errors.ErrTypeFilterValidation,
		},
		{
			name:     "unsupported extension",
			opts:     queryFileOptions{Path: writeFile(t, "pvt.csv", []byte("a,b"))},
			wantType: errors.ErrTypeBadRequest,
		},
		{
			name:     "missing file",
			opts:     queryFileOptions{Path: missing},
			wantType: errors.ErrTypeBadRequest,
		},
		{
			name: "unknown aggregation operator",
			opts: queryFileOptions{
				Path:       splitPath,
				EntityType: "pvt",
				Filters:    filter.RawFilters{ColumnsAggregation: "Depth,median"},
			},
			wantType: errors.ErrTypeFilterValidation,
		},
	}

	engine := table.NewEngineWithLogger(logging.NewNop())
	registry := testutil.NewTestRegistry(t, "pvt")

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := queryFile(context.Background(), engine, registry, tt.opts)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, tt.wantType), "got %v", err)
		})
	}
}
