package cmd

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/rafs-ddms/internal/formatter"
	"github.com/kyleking/rafs-ddms/internal/records"
	"github.com/kyleking/rafs-ddms/internal/storage"
	"github.com/kyleking/rafs-ddms/internal/testutil"
)

func TestRunStats(t *testing.T) {
	analysis := testutil.NewTestRecord(
		testutil.WithID(testutil.TestPartition+":work-product-component--SamplesAnalysis:a"),
		testutil.WithDatasets(testutil.DatasetURN("pvt", "a", "ds-a").String()),
	)
	sample := testutil.NewTestRecord(
		testutil.WithID(testutil.TestPartition+":master-data--Sample:s1"),
		testutil.WithKind(testutil.TestSampleKind),
	)

	tests := []struct {
		name     string
		recs     []*records.Record
		format   formatter.OutputFormat
		contains []string
	}{
		{
			name:   "table",
			recs:   []*records.Record{analysis, sample},
			format: formatter.FormatTable,
			contains: []string{
				"Records: 2\n",
				"Versions: 2\n",
				"Datasets: 1\n",
				"Last updated: today\n",
				"\nKinds:\n",
				testutil.TestAnalysisKind + "\t1\n",
				testutil.TestSampleKind + "\t1\n",
			},
		},
		{
			name:   "json",
			recs:   []*records.Record{analysis},
			format: formatter.FormatJSON,
			contains: []string{
				`"total_records": 1`,
				`"total_datasets": 1`,
				`"` + testutil.TestAnalysisKind + `": 1`,
			},
		},
		{
			name:     "empty store",
			format:   formatter.FormatTable,
			contains: []string{"Records: 0\n", "Last updated: ?\n"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := storage.NewTestDB(t)
			if len(tt.recs) > 0 {
				_, err := repo.UpsertRecords(context.Background(), tt.recs)
				require.NoError(t, err)
			}

			var buf bytes.Buffer

			err := runStatsWithStorage(context.Background(), repo, formatter.NewFormatter(&buf, false, 0), tt.format)
			require.NoError(t, err)

			for _, want := range tt.contains {
				assert.Contains(t, buf.String(), want)
			}
		})
	}
}
