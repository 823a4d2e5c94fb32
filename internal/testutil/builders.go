package testutil

import (
	"testing"

	"github.com/kyleking/rafs-ddms/internal/records"
	"github.com/kyleking/rafs-ddms/internal/schema"
	"github.com/kyleking/rafs-ddms/internal/table"
)

// RecordOption is a functional option for configuring test records
type RecordOption func(*records.Record)

// WithID sets the record id
func WithID(id string) RecordOption {
	return func(r *records.Record) {
		r.ID = id
	}
}

// WithKind sets the record kind
func WithKind(kind string) RecordOption {
	return func(r *records.Record) {
		r.Kind = kind
	}
}

// WithData sets a data field
func WithData(key string, value interface{}) RecordOption {
	return func(r *records.Record) {
		r.Data[key] = value
	}
}

// WithDatasets sets the dataset URNs of the record
func WithDatasets(urns ...string) RecordOption {
	return func(r *records.Record) {
		list := make([]interface{}, len(urns))
		for i, u := range urns {
			list[i] = u
		}

		r.Data[records.DDMSDatasetsField] = list
	}
}

// NewTestRecord creates an analysis record with sensible defaults
// and applies any provided options.
func NewTestRecord(opts ...RecordOption) *records.Record {
	rec := &records.Record{
		ID:   TestPartition + ":work-product-component--SamplesAnalysis:test",
		Kind: TestAnalysisKind,
		ACL: map[string]interface{}{
			"owners":  []interface{}{"data.default.owners@" + TestPartition},
			"viewers": []interface{}{"data.default.viewers@" + TestPartition},
		},
		Legal: map[string]interface{}{
			"legaltags":                  []interface{}{TestPartition + "-public"},
			"otherRelevantDataCountries": []interface{}{"US"},
		},
		Data: map[string]interface{}{},
	}

	for _, opt := range opts {
		opt(rec)
	}

	return rec
}

// DatasetURN returns a test URN of the entity type for recordID
func DatasetURN(entityType, recordID, datasetID string) records.DatasetURN {
	return records.DatasetURN{
		DDMSID:     TestDDMSID,
		APIVersion: TestAPIVersion,
		EntityType: entityType,
		RecordID:   recordID,
		DatasetID:  datasetID,
	}
}

// NewTestTable builds a table, failing the test on error
func NewTestTable(t *testing.T, columns []string, rows ...[]interface{}) *table.Table {
	t.Helper()

	tbl, err := table.New(columns, rows)
	if err != nil {
		t.Fatalf("failed to build test table: %v", err)
	}

	return tbl
}

// ParquetPayload encodes a table built from columns and rows as parquet
func ParquetPayload(t *testing.T, columns []string, rows ...[]interface{}) []byte {
	t.Helper()

	payload, err := table.EncodeParquet(NewTestTable(t, columns, rows...), false)
	if err != nil {
		t.Fatalf("failed to encode test payload: %v", err)
	}

	return payload
}

// NewTestRegistry registers TestContentSchema under the given entity types
// at TestSchemaVersion
func NewTestRegistry(t *testing.T, entityTypes ...string) *schema.Registry {
	t.Helper()

	schemas := make([]*schema.Schema, 0, len(entityTypes))

	for _, entityType := range entityTypes {
		s, err := schema.Build(entityType, TestSchemaVersion, []byte(TestContentSchema))
		if err != nil {
			t.Fatalf("failed to build test schema: %v", err)
		}

		schemas = append(schemas, s)
	}

	reg, err := schema.NewRegistry(schemas...)
	if err != nil {
		t.Fatalf("failed to build test registry: %v", err)
	}

	return reg
}
