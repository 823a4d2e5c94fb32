package service

import (
	"context"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/rafs-ddms/internal/batch"
	"github.com/kyleking/rafs-ddms/internal/errors"
	"github.com/kyleking/rafs-ddms/internal/filter"
	"github.com/kyleking/rafs-ddms/internal/logging"
	"github.com/kyleking/rafs-ddms/internal/records"
	"github.com/kyleking/rafs-ddms/internal/search"
	"github.com/kyleking/rafs-ddms/internal/table"
	"github.com/kyleking/rafs-ddms/internal/testutil"
)

const pvtType = testutil.TestPartition + ":reference-data--SampleAnalysisType:PVT"

// searchFixture indexes three PVT analyses and one CCE analysis
func searchFixture(t *testing.T) (*Search, *testutil.MockSearchBackend, *testutil.MockBlobStore) {
	t.Helper()

	var (
		recs  []*records.Record
		blobs = testutil.NewMockBlobStore()
	)

	add := func(name, analysisType, entityType string, rows ...[]interface{}) {
		id := testutil.TestPartition + ":work-product-component--SamplesAnalysis:" + name
		urn := testutil.DatasetURN(entityType, id, "ds-"+name)

		recs = append(recs, testutil.NewTestRecord(
			testutil.WithID(id),
			testutil.WithData("SampleAnalysisTypeIDs", []interface{}{analysisType}),
			testutil.WithDatasets(urn.String()),
		))

		testutil.WithPayload(urn.ObjectKey(), testutil.ParquetPayload(t, contentColumns, rows...))(blobs)
	}

	add("c", pvtType, "pvt", []interface{}{"s5", 500, true})
	add("a", pvtType, "pvt", []interface{}{"s1", 100, true}, []interface{}{"s2", 250, false})
	add("b", pvtType, "pvt", []interface{}{"s3", 50, true})
	add("d", testutil.TestPartition+":reference-data--SampleAnalysisType:CCE", "cce", []interface{}{"s9", 900, true})

	backend := testutil.NewMockSearchBackend(recs...)
	orchestrator := batch.NewOrchestrator(blobs, table.NewEngineWithLogger(logging.NewNop()),
		batch.WithBatchSize(2), batch.WithWorkers(2))

	svc := NewSearch(search.NewIDResolver(backend, 2), orchestrator, testutil.NewTestRegistry(t, "pvt"))

	return svc, backend, blobs
}

func recordIDs(names ...string) []string {
	ids := make([]string, len(names))
	for i, n := range names {
		ids[i] = testutil.TestPartition + ":work-product-component--SamplesAnalysis:" + n
	}

	return ids
}

func TestSearchRun(t *testing.T) {
	ctx := context.Background()
	query := search.BuildIDQuery("SampleAnalysisTypeIDs", []string{pvtType})

	tests := []struct {
		name      string
		filters   filter.RawFilters
		page      PageParams
		withData  bool
		wantMode  batch.Mode
		wantIDs   []string
		wantRows  [][]interface{}
		wantTotal int
	}{
		{
			name:      "listing",
			page:      PageParams{Offset: 1, PageLimit: 10},
			wantMode:  batch.ModeListing,
			wantIDs:   recordIDs("b", "c"),
			wantTotal: 3,
		},
		{
			name:      "record ids with matching rows",
			filters:   filter.RawFilters{RowsFilter: "Depth,gte,100"},
			page:      PageParams{PageLimit: 10},
			wantMode:  batch.ModeSearchIDs,
			wantIDs:   recordIDs("a", "c"),
			wantTotal: 2,
		},
		{
			name:      "rows",
			filters:   filter.RawFilters{RowsFilter: "Valid,eq,true", ColumnsFilter: "SampleID"},
			page:      PageParams{PageLimit: 10},
			withData:  true,
			wantMode:  batch.ModeData,
			wantRows:  [][]interface{}{{"s1"}, {"s3"}, {"s5"}},
			wantTotal: 3,
		},
		{
			name:      "aggregation",
			filters:   filter.RawFilters{ColumnsAggregation: "Depth,sum"},
			page:      PageParams{PageLimit: 10},
			withData:  true,
			wantMode:  batch.ModeData,
			wantRows:  [][]interface{}{{int64(900)}},
			wantTotal: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _ := searchFixture(t)

			page, err := svc.Run(ctx, SearchRequest{
				EntityType:    "pvt",
				Query:         query,
				SchemaVersion: testutil.TestSchemaVersion,
				Filters:       tt.filters,
				Page:          tt.page,
				WithData:      tt.withData,
			})
			require.NoError(t, err)

			assert.Equal(t, tt.wantMode, page.Mode)
			assert.Equal(t, tt.wantTotal, page.TotalSize)

			if tt.wantMode == batch.ModeData {
				assert.Equal(t, tt.wantRows, page.Result.Rows())
				return
			}

			assert.Equal(t, tt.wantIDs, page.RecordIDs)
		})
	}
}

func TestSearchRunFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid filter fails before searching", func(t *testing.T) {
		svc, backend, _ := searchFixture(t)

		_, err := svc.Run(ctx, SearchRequest{
			EntityType:    "pvt",
			SchemaVersion: testutil.TestSchemaVersion,
			Filters:       filter.RawFilters{ColumnsFilter: "Depth,Color"},
		})
		require.Error(t, err)
		assert.Equal(t, errors.ErrTypeFilterValidation, errors.GetType(err))
		assert.Empty(t, backend.Queries())
	})

	t.Run("failed datasets are reported by record", func(t *testing.T) {
		svc, _, blobs := searchFixture(t)
		failing := testutil.NewMockBlobStore(testutil.WithBlobError("pvt/ds-b", errors.New(errors.ErrTypeNetwork, "connection reset")))

		payload, _ := blobs.Payload("pvt/ds-a")
		testutil.WithPayload("pvt/ds-a", payload)(failing)
		payload, _ = blobs.Payload("pvt/ds-c")
		testutil.WithPayload("pvt/ds-c", payload)(failing)

		svc.orchestrator = batch.NewOrchestrator(failing, table.NewEngineWithLogger(logging.NewNop()))

		_, err := svc.Run(ctx, SearchRequest{
			EntityType:    "pvt",
			SchemaVersion: testutil.TestSchemaVersion,
			Filters:       filter.RawFilters{RowsFilter: "Depth,gt,0"},
			Page:          PageParams{PageLimit: 10},
		})
		require.Error(t, err)

		var agg *errors.AggregateError
		require.ErrorAs(t, err, &agg)
		assert.Equal(t, recordIDs("b"), agg.IDs())
		assert.Equal(t, 500, errors.HTTPStatus(err))
	})

	t.Run("no backend", func(t *testing.T) {
		svc := NewSearch(nil, nil, nil)

		_, err := svc.Run(ctx, SearchRequest{})
		assert.Equal(t, errors.ErrTypeConfig, errors.GetType(err))
	})
}

func TestEncodePage(t *testing.T) {
	rows := testutil.NewTestTable(t, []string{"SampleID", "Depth"},
		[]interface{}{"s1", 100}, []interface{}{"s2", 2.5})

	tests := []struct {
		name string
		page *batch.Page
		want string
	}{
		{
			name: "record ids",
			page: &batch.Page{Mode: batch.ModeSearchIDs, RecordIDs: []string{"r1"}, Limit: 10, TotalSize: 1},
			want: `{"result":["r1"],"offset":0,"page_limit":10,"total_size":1}`,
		},
		{
			name: "no ids",
			page: &batch.Page{Mode: batch.ModeListing, Limit: 10},
			want: `{"result":[],"offset":0,"page_limit":10,"total_size":0}`,
		},
		{
			name: "rows",
			page: &batch.Page{Mode: batch.ModeData, Result: rows, Offset: 2, Limit: 2, TotalSize: 4},
			want: `{"result":{"columns":["SampleID","Depth"],"index":[0,1],"data":[["s1",100],["s2",2.5]]},` +
				`"offset":2,"page_limit":2,"total_size":4}`,
		},
		{
			name: "no rows",
			page: &batch.Page{Mode: batch.ModeData, Result: table.Concat(), Limit: 100},
			want: `{"result":{},"offset":0,"page_limit":100,"total_size":0}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodePage(tt.page, ContentJSON)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}

	t.Run("parquet rows are text", func(t *testing.T) {
		got, err := EncodePage(&batch.Page{Mode: batch.ModeData, Result: rows}, ContentParquet)
		require.NoError(t, err)

		decoded, err := table.ReadParquet(context.Background(), got)
		require.NoError(t, err)
		assert.Equal(t, [][]interface{}{{"s1", "100"}, {"s2", "2.5"}}, decoded.Rows())
	})

	t.Run("parquet without rows is empty", func(t *testing.T) {
		got, err := EncodePage(&batch.Page{Mode: batch.ModeData, Result: table.Concat()}, ContentParquet)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("response decodes", func(t *testing.T) {
		got, err := EncodePage(&batch.Page{Mode: batch.ModeData, Result: rows, Limit: 2}, ContentJSON)
		require.NoError(t, err)

		var resp struct {
			Result table.SplitDocument `json:"result"`
		}
		require.NoError(t, json.Unmarshal(got, &resp))
		assert.Equal(t, []string{"SampleID", "Depth"}, resp.Result.Columns)
	})
}
