package service

import (
	"context"

	"github.com/kyleking/rafs-ddms/internal/config"
	"github.com/kyleking/rafs-ddms/internal/records"
	"github.com/kyleking/rafs-ddms/internal/schema"
)

// RecordsPolicy names the kinds accepted by a record endpoint and the id
// fields every record must fill
type RecordsPolicy struct {
	ValidKinds      []string
	MandatoryFields []string
}

// Records validates metadata records and stores them
type Records struct {
	store     RecordStore
	validator *records.Validator
	integrity *records.IntegrityChecker
}

// NewRecords creates the record service
func NewRecords(store RecordStore, schemas schema.Provider, cfg config.QueryConfig) *Records {
	return &Records{
		store:     store,
		validator: records.NewValidator(schemas),
		integrity: records.NewIntegrityChecker(store, cfg.StorageQueryLimit, records.WalkOptions{MaxDepth: cfg.MaxIDDepth}),
	}
}

// PostRecords checks recs against their JSON schemas and the store's
// existing records, then upserts them. It returns the stored "id:version"
// ids.
func (s *Records) PostRecords(ctx context.Context, recs []*records.Record, policy RecordsPolicy) ([]string, error) {
	if err := s.validator.Validate(recs, policy.ValidKinds); err != nil {
		return nil, err
	}

	if err := s.integrity.Check(ctx, recs, policy.MandatoryFields); err != nil {
		return nil, err
	}

	return s.store.UpsertRecords(ctx, recs)
}

// GetRecord returns the latest record, or the version named by fullID
func (s *Records) GetRecord(ctx context.Context, fullID string) (*records.Record, error) {
	return s.store.FetchRecord(ctx, fullID)
}
