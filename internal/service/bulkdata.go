// Package service ties the record store, blob store, filter validation and
// table engine together into the bulk data operations exposed by the CLI.
package service

import (
	"context"
	"slices"

	"github.com/kyleking/rafs-ddms/internal/blob"
	"github.com/kyleking/rafs-ddms/internal/config"
	"github.com/kyleking/rafs-ddms/internal/errors"
	"github.com/kyleking/rafs-ddms/internal/filter"
	"github.com/kyleking/rafs-ddms/internal/logging"
	"github.com/kyleking/rafs-ddms/internal/records"
	"github.com/kyleking/rafs-ddms/internal/schema"
	"github.com/kyleking/rafs-ddms/internal/table"
)

// RecordStore is the part of the record backend bulk data operations use
type RecordStore interface {
	records.Querier
	FetchRecord(ctx context.Context, fullID string) (*records.Record, error)
	UpsertRecords(ctx context.Context, recs []*records.Record) ([]string, error)
}

// BulkData reads and writes the datasets attached to single records
type BulkData struct {
	store   RecordStore
	blobs   blob.Fetcher
	schemas schema.Provider
	engine  *table.Engine
	ddms    config.DDMSConfig
}

// NewBulkData creates the bulk data service. Uploads need blobs to be a
// blob.Store.
func NewBulkData(store RecordStore, blobs blob.Fetcher, schemas schema.Provider, engine *table.Engine, ddms config.DDMSConfig) *BulkData {
	return &BulkData{store: store, blobs: blobs, schemas: schemas, engine: engine, ddms: ddms}
}

// DatasetRequest selects one dataset of a record and the filters to apply
type DatasetRequest struct {
	RecordID      string
	Dataset       string
	SchemaVersion string
	Filters       filter.RawFilters
}

// Dataset is a filtered dataset read from the blob store
type Dataset struct {
	URN   records.DatasetURN
	Table *table.Table
}

// GetDataset fetches the record, locates the dataset among its URNs, reads
// the payload and applies the filters. Filters are validated before the
// payload is read.
func (s *BulkData) GetDataset(ctx context.Context, req DatasetRequest) (*Dataset, error) {
	rec, err := s.store.FetchRecord(ctx, req.RecordID)
	if err != nil {
		return nil, err
	}

	urn, ok := records.FindDataset(rec.DDMSDatasets(), req.Dataset)
	if !ok {
		return nil, errors.Newf(errors.ErrTypeNotFound, "%s does not exist in current record.", req.Dataset)
	}

	set, err := s.filterSet(urn.EntityType, req.SchemaVersion, req.Filters)
	if err != nil {
		return nil, err
	}

	payload, err := s.blobs.GetPayload(ctx, urn.ObjectKey())
	if err != nil {
		return nil, err
	}

	if len(payload) == 0 {
		return nil, errors.Newf(errors.ErrTypeMissingContent, "%s exist in record but without content.", req.Dataset)
	}

	t, err := s.engine.ApplyBytes(ctx, payload, set)
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).WithField("dataset", urn.String()).
		Debugf("read %d rows x %d columns", t.NumRows(), t.NumCols())

	return &Dataset{URN: urn, Table: t}, nil
}

// filterSet validates raw filters against the content schema. Without
// filters no schema is needed.
func (s *BulkData) filterSet(entityType, version string, raw filter.RawFilters) (*filter.Set, error) {
	if raw.IsEmpty() {
		return nil, nil
	}

	sc, err := s.schemas.Get(entityType, version)
	if err != nil {
		return nil, err
	}

	return filter.NewValidator(sc, raw).Set()
}

// UploadRequest carries a dataset payload for one record
type UploadRequest struct {
	RecordID      string
	EntityType    string
	SchemaVersion string
	ContentType   ContentType
	Payload       []byte
}

// UploadResult names the stored record version and its new dataset
type UploadResult struct {
	RecordID string `json:"record_id"`
	URN      string `json:"ddms_urn"`
}

// UploadDataset validates the payload, stores it as parquet under a new
// dataset id and points the record at it
func (s *BulkData) UploadDataset(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	store, ok := s.blobs.(blob.Store)
	if !ok {
		return nil, blob.ErrReadOnly
	}

	t, err := req.ContentType.Decode(ctx, req.Payload)
	if err != nil {
		return nil, err
	}

	if err := s.checkColumns(t, req.EntityType, req.SchemaVersion); err != nil {
		return nil, err
	}

	rec, err := s.store.FetchRecord(ctx, req.RecordID)
	if err != nil {
		return nil, err
	}

	urn := records.NewDatasetURN(s.ddms.ID, s.ddms.APIVersion, req.EntityType, rec.ID)

	parquet, err := table.EncodeParquet(t, false)
	if err != nil {
		return nil, err
	}

	if err := store.PutPayload(ctx, urn.ObjectKey(), parquet, string(ContentParquet)); err != nil {
		return nil, err
	}

	rec.AddDDMSDataset(urn)

	ids, err := s.store.UpsertRecords(ctx, []*records.Record{rec})
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).WithField("dataset", urn.String()).
		Infof("stored %d rows for %s", t.NumRows(), ids[0])

	return &UploadResult{RecordID: ids[0], URN: urn.String()}, nil
}

// checkColumns rejects payload columns the content schema does not declare
func (s *BulkData) checkColumns(t *table.Table, entityType, version string) error {
	if version == "" {
		return nil
	}

	sc, err := s.schemas.Get(entityType, version)
	if err != nil {
		return err
	}

	var unknown []string

	for _, column := range t.Columns() {
		if !sc.HasColumn(column) {
			unknown = append(unknown, column)
		}
	}

	if len(unknown) > 0 {
		slices.Sort(unknown)

		return errors.Newf(errors.ErrTypeRecordValidation,
			"Data error: columns %s are not defined in %s", schema.FormatSet(unknown), sc)
	}

	return nil
}
