package records

import (
	"context"
	stderrors "errors"
	"slices"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/rafs-ddms/internal/errors"
	"github.com/kyleking/rafs-ddms/internal/schema"
)

func TestParseIDVersion(t *testing.T) {
	tests := []struct {
		name        string
		fullID      string
		wantID      string
		wantVersion int64
		wantErr     string
	}{
		{name: "no version", fullID: "opendes:master-data--Well:1", wantID: "opendes:master-data--Well:1"},
		{name: "version", fullID: "opendes:master-data--Well:1:123", wantID: "opendes:master-data--Well:1", wantVersion: 123},
		{name: "trailing colon", fullID: "opendes:master-data--Well:1:", wantID: "opendes:master-data--Well:1"},
		{name: "colon in id", fullID: "opendes:wpc:a:b:7", wantID: "opendes:wpc:a:b", wantVersion: 7},
		{name: "non numeric", fullID: "opendes:master-data--Well:1:x", wantErr: "Record id version 'x' should be numeric"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, version, err := ParseIDVersion(tt.fullID)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Equal(t, errors.ErrTypeUnprocessable, errors.GetType(err))

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantID, id)
			assert.Equal(t, tt.wantVersion, version)
		})
	}
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("osdu:wks:work-product-component--SamplesAnalysis:1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "SamplesAnalysis", k.TypeName())
	assert.Equal(t, "1.0.0", k.Version)
	assert.Equal(t, "osdu:wks:work-product-component--SamplesAnalysis:1.0.0", k.String())

	_, err = ParseKind("osdu:wks::1.0.0")
	assert.Equal(t, errors.ErrTypeRecordValidation, errors.GetType(err))
}

func TestDatasetURN(t *testing.T) {
	urn := NewDatasetURN("rafs", "v2", "pvt", "opendes:work-product-component--SamplesAnalysis:abc")
	assert.NotEmpty(t, urn.DatasetID)

	s := urn.String()
	assert.True(t, strings.HasPrefix(s, "urn://rafs-v2/pvt/opendes:work-product-component--SamplesAnalysis:abc/"))

	parsed, err := ParseDatasetURN(s)
	require.NoError(t, err)
	assert.Equal(t, urn, parsed)
	assert.Equal(t, "pvt/"+urn.DatasetID, parsed.ObjectKey())

	parsed, err = ParseDatasetURN("urn://rafs-ddms-v2/cce/rec:1/ds")
	require.NoError(t, err)
	assert.Equal(t, "rafs-ddms", parsed.DDMSID)
	assert.Equal(t, "v2", parsed.APIVersion)
}

func TestParseDatasetURNErrors(t *testing.T) {
	tests := []string{
		"http://rafs-v2/pvt/rec/ds",
		"urn://rafs-v2/pvt/rec",
		"urn://rafsv2/pvt/rec/ds",
		"urn://rafs-/pvt/rec/ds",
		"urn://rafs-v2//rec/ds",
	}

	for _, raw := range tests {
		t.Run(raw, func(t *testing.T) {
			_, err := ParseDatasetURN(raw)
			require.Error(t, err)
			assert.Equal(t, errors.ErrTypeBadRequest, errors.GetType(err))
		})
	}
}

func TestAddDDMSDatasetReplacesSameEntityType(t *testing.T) {
	rec := &Record{ID: "opendes:wpc:1", Data: map[string]interface{}{
		DDMSDatasetsField: []interface{}{
			"urn://rafs-v2/pvt/opendes:wpc:1/old",
			"urn://rafs-v2/cce/opendes:wpc:1/keep",
		},
	}}

	rec.AddDDMSDataset(DatasetURN{DDMSID: "rafs", APIVersion: "v2", EntityType: "pvt", RecordID: "opendes:wpc:1", DatasetID: "new"})

	assert.Equal(t, []string{
		"urn://rafs-v2/cce/opendes:wpc:1/keep",
		"urn://rafs-v2/pvt/opendes:wpc:1/new",
	}, rec.DDMSDatasets())

	u, ok := FindDataset(rec.DDMSDatasets(), "pvt")
	require.True(t, ok)
	assert.Equal(t, "new", u.DatasetID)

	_, ok = FindDataset(rec.DDMSDatasets(), "missing")
	assert.False(t, ok)

	empty := &Record{}
	empty.AddDDMSDataset(DatasetURN{DDMSID: "rafs", APIVersion: "v2", EntityType: "pvt", RecordID: "r", DatasetID: "d"})
	assert.Len(t, empty.DDMSDatasets(), 1)
}

func TestWalkIDs(t *testing.T) {
	data := map[string]interface{}{
		"WellboreID": "opendes:master-data--Wellbore:1:",
		"Name":       "ignored",
		"SampleIDs":  []interface{}{"s1", "s2"},
		"Nested": map[string]interface{}{
			"CoringID": "ignored because parent key has no ID",
		},
		"ParentIDs": map[string]interface{}{
			"ReportID": "r1",
			"Comment":  "ignored",
		},
	}

	var got []string
	for id := range WalkIDs(data, WalkOptions{}) {
		got = append(got, id)
	}

	assert.Equal(t, []string{"r1", "s1", "s2", "opendes:master-data--Wellbore:1:"}, got)

	again := slices.Collect(WalkIDs(data, WalkOptions{}))
	assert.Equal(t, got, again, "sequence is restartable")
}

func TestWalkIDsEarlyStopAndDepth(t *testing.T) {
	var first []string
	for id := range WalkIDs([]interface{}{"a", "b", "c"}, WalkOptions{}) {
		first = append(first, id)
		break
	}

	assert.Equal(t, []string{"a"}, first)

	deep := interface{}("leaf")
	for range 10 {
		deep = map[string]interface{}{"ChildID": deep}
	}

	assert.Empty(t, slices.Collect(WalkIDs(deep, WalkOptions{MaxDepth: 5})))
	assert.Equal(t, []string{"leaf"}, slices.Collect(WalkIDs(deep, WalkOptions{MaxDepth: 10})))

	custom := WalkOptions{IsIDKey: func(k string) bool { return k == "ref" }}
	assert.Equal(t, []string{"x"}, slices.Collect(WalkIDs(map[string]interface{}{"ref": "x", "OtherID": "y"}, custom)))
}

type fakeQuerier struct {
	mu     sync.Mutex
	known  map[string]bool
	chunks [][]string
	err    error
}

func (f *fakeQuerier) QueryRecords(_ context.Context, ids []string) (*QueryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.chunks = append(f.chunks, ids)

	if f.err != nil {
		return nil, f.err
	}

	result := &QueryResult{}

	for _, id := range ids {
		if f.known[id] {
			result.Records = append(result.Records, &Record{ID: id})
		} else {
			result.InvalidRecords = append(result.InvalidRecords, id)
		}
	}

	return result, nil
}

func TestIntegrityCheckerMandatoryFields(t *testing.T) {
	checker := NewIntegrityChecker(&fakeQuerier{}, 10, WalkOptions{})

	recs := []*Record{
		{ID: "opendes:wpc:1", Data: map[string]interface{}{"SampleAnalysisTypeIDs": []interface{}{"opendes:ref:a:"}}},
		{ID: "opendes:wpc:2", Data: map[string]interface{}{"SampleAnalysisTypeIDs": []interface{}{}}},
	}

	err := checker.Check(context.Background(), recs, []string{"SampleAnalysisTypeIDs", "ParentSamplesAnalysesReports"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrTypeRecordValidation, errors.GetType(err))

	var structErr *errors.Error
	require.ErrorAs(t, err, &structErr)
	assert.Equal(t,
		"Missing ParentSamplesAnalysesReports in index 0; Missing SampleAnalysisTypeIDs in index 1; "+
			"Missing ParentSamplesAnalysesReports in index 1",
		structErr.Message)
}

func TestIntegrityCheckerMissingReferences(t *testing.T) {
	store := &fakeQuerier{known: map[string]bool{"opendes:ref:0": true, "opendes:ref:2": true}}
	checker := NewIntegrityChecker(store, 2, WalkOptions{})

	recs := []*Record{
		{ID: "opendes:wpc:1:5", Data: map[string]interface{}{
			"RefIDs":  []interface{}{"opendes:ref:0:1", "opendes:ref:1", "opendes:ref:2"},
			"SelfID":  "opendes:wpc:1",
			"OtherID": "opendes:ref:3:",
		}},
	}

	assert.Equal(t, []string{"opendes:ref:0", "opendes:ref:1", "opendes:ref:2", "opendes:ref:3"}, checker.ReferencedIDs(recs))

	err := checker.Check(context.Background(), recs, nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrTypeRecordValidation, errors.GetType(err))
	assert.Contains(t, err.Error(),
		"Request can't be processed due to missing referenced records. Records not found: ['opendes:ref:1', 'opendes:ref:3']")

	require.Len(t, store.chunks, 2)

	for _, c := range store.chunks {
		assert.Len(t, c, 2)
	}
}

func TestIntegrityCheckerStoreFailure(t *testing.T) {
	checker := NewIntegrityChecker(&fakeQuerier{err: stderrors.New("boom")}, 0, WalkOptions{})

	err := checker.Check(context.Background(), []*Record{{ID: "a:b:c", Data: map[string]interface{}{"XID": "x:y:z"}}}, nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrTypeStorage, errors.GetType(err))
}

const wpcSchema = `{
  "type": "object",
  "required": ["kind", "data"],
  "properties": {
    "kind": {"type": "string"},
    "data": {
      "type": "object",
      "required": ["Name"],
      "properties": {"Name": {"type": "string"}}
    }
  }
}`

func newRecordValidator(t *testing.T) *Validator {
	t.Helper()

	s, err := schema.Build("SamplesAnalysis", "1.0.0", []byte(wpcSchema))
	require.NoError(t, err)

	reg, err := schema.NewRegistry(s)
	require.NoError(t, err)

	return NewValidator(reg)
}

func TestValidator(t *testing.T) {
	const kind = "osdu:wks:work-product-component--SamplesAnalysis:1.0.0"

	v := newRecordValidator(t)

	t.Run("valid", func(t *testing.T) {
		err := v.Validate([]*Record{{ID: "a", Kind: kind, Data: map[string]interface{}{"Name": "n"}}}, []string{kind})
		assert.NoError(t, err)
	})

	t.Run("unsupported kind", func(t *testing.T) {
		err := v.Validate([]*Record{{Kind: "osdu:wks:other:1.0.0"}}, []string{kind})
		require.Error(t, err)
		assert.Contains(t, err.Error(),
			"Kind `osdu:wks:other:1.0.0` not supported. Supported kinds for this endpoint: ['"+kind+"']")
	})

	t.Run("skipped records", func(t *testing.T) {
		err := v.Validate([]*Record{
			{ID: "good", Kind: kind, Data: map[string]interface{}{"Name": "n"}},
			{Kind: kind, Data: map[string]interface{}{"Name": 3}},
			{ID: "bad", Kind: kind, Data: map[string]interface{}{}},
		}, []string{kind})
		require.Error(t, err)
		assert.Equal(t, errors.ErrTypeRecordValidation, errors.GetType(err))

		var skipped *SkippedRecordsError
		require.ErrorAs(t, err, &skipped)
		require.Len(t, skipped.Skipped, 2)

		ids := []string{skipped.Skipped[0].ID, skipped.Skipped[1].ID}
		sort.Strings(ids)
		assert.Equal(t, []string{"bad", "record_at_index_1"}, ids)
		assert.Contains(t, skipped.Skipped[1].Reason, "Name")
	})

	t.Run("unknown schema version", func(t *testing.T) {
		other := "osdu:wks:work-product-component--SamplesAnalysis:9.9.9"

		err := v.Validate([]*Record{{ID: "x", Kind: other, Data: map[string]interface{}{}}}, []string{other})

		var skipped *SkippedRecordsError
		require.ErrorAs(t, err, &skipped)
		assert.Contains(t, skipped.Skipped[0].Reason, "Version 9.9.9 not supported")
	})
}
