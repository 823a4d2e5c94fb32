package search

import (
	"context"

	"github.com/kyleking/rafs-ddms/internal/batch"
	"github.com/kyleking/rafs-ddms/internal/errors"
	"github.com/kyleking/rafs-ddms/internal/logging"
	"github.com/kyleking/rafs-ddms/internal/records"
)

// DefaultPageSize is how many hits one backend call returns
const DefaultPageSize = 1000

// IDResolver turns a search into the datasets a bulk search has to read
type IDResolver struct {
	backend  Backend
	pageSize int
}

// NewIDResolver creates a resolver paging through backend pageSize hits at a time
func NewIDResolver(backend Backend, pageSize int) *IDResolver {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	return &IDResolver{backend: backend, pageSize: pageSize}
}

// EntityType matches dataset URNs of one entity type
func EntityType(name string) func(records.DatasetURN) bool {
	return func(u records.DatasetURN) bool { return u.EntityType == name }
}

// Hits pages through every hit of query until the backend returns an empty page
func (r *IDResolver) Hits(ctx context.Context, query string) ([]map[string]interface{}, error) {
	var hits []map[string]interface{}

	for offset := 0; ; offset += r.pageSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := r.backend.FindRecords(ctx, query, offset, r.pageSize)
		if err != nil {
			return nil, err
		}

		if len(page.Hits) == 0 {
			break
		}

		hits = append(hits, page.Hits...)
	}

	logging.FromContext(ctx).Debugf("search %q matched %d records", query, len(hits))

	return hits, nil
}

// Resolve returns a ref for every dataset URN of every hit accepted by match
// (nil accepts all), ordered by record id. The ref id is the dataset's blob key.
func (r *IDResolver) Resolve(ctx context.Context, query string, match func(records.DatasetURN) bool) ([]batch.Ref, error) {
	hits, err := r.Hits(ctx, query)
	if err != nil {
		return nil, err
	}

	logger := logging.FromContext(ctx)

	var refs []batch.Ref

	for _, hit := range hits {
		rec := hitRecord(hit)

		for _, raw := range rec.DDMSDatasets() {
			urn, err := records.ParseDatasetURN(raw)
			if err != nil {
				logger.WithField("record", rec.ID).Warnf("skipping dataset: %v", err)
				continue
			}

			if match != nil && !match(urn) {
				continue
			}

			recordID := urn.RecordID
			if rec.ID != "" {
				recordID = rec.ID
			}

			refs = append(refs, batch.Ref{ID: urn.ObjectKey(), RecordID: recordID})
		}
	}

	return batch.SortRefs(refs), nil
}

func hitRecord(hit map[string]interface{}) *records.Record {
	rec := &records.Record{}

	if id, ok := hit["id"].(string); ok {
		if stripped, _, err := records.ParseIDVersion(id); err == nil {
			rec.ID = stripped
		}
	}

	if kind, ok := hit["kind"].(string); ok {
		rec.Kind = kind
	}

	if data, ok := hit["data"].(map[string]interface{}); ok {
		rec.Data = data
	}

	return rec
}

// ErrNoBackend is returned when a search is attempted without a backend
var ErrNoBackend = errors.New(errors.ErrTypeConfig, "search backend not configured")
