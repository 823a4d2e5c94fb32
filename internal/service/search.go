package service

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/kyleking/rafs-ddms/internal/batch"
	"github.com/kyleking/rafs-ddms/internal/filter"
	"github.com/kyleking/rafs-ddms/internal/logging"
	"github.com/kyleking/rafs-ddms/internal/schema"
	"github.com/kyleking/rafs-ddms/internal/search"
	"github.com/kyleking/rafs-ddms/internal/table"
)

// Search answers bulk searches: it resolves the datasets matching a backend
// query and runs the filters over them in batches
type Search struct {
	resolver     *search.IDResolver
	orchestrator *batch.Orchestrator
	schemas      schema.Provider
}

// NewSearch creates the search service
func NewSearch(resolver *search.IDResolver, orchestrator *batch.Orchestrator, schemas schema.Provider) *Search {
	return &Search{resolver: resolver, orchestrator: orchestrator, schemas: schemas}
}

// SearchRequest describes one bulk search
type SearchRequest struct {
	// EntityType selects which dataset of each record is read
	EntityType    string
	Query         string
	SchemaVersion string
	Filters       filter.RawFilters
	Page          PageParams
	WithData      bool
}

// Run validates the filters, resolves the datasets and returns one page
func (s *Search) Run(ctx context.Context, req SearchRequest) (*batch.Page, error) {
	if s.resolver == nil {
		return nil, search.ErrNoBackend
	}

	var set *filter.Set

	if !req.Filters.IsEmpty() {
		sc, err := s.schemas.Get(req.EntityType, req.SchemaVersion)
		if err != nil {
			return nil, err
		}

		if set, err = filter.NewValidator(sc, req.Filters).Set(); err != nil {
			return nil, err
		}
	}

	refs, err := s.resolver.Resolve(ctx, req.Query, search.EntityType(req.EntityType))
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"entity_type": req.EntityType,
		"datasets":    len(refs),
	}).Infof("running search")

	return s.orchestrator.Search(ctx, refs, set, batch.Request{
		Offset:   req.Page.Offset,
		Limit:    req.Page.PageLimit,
		WithData: req.WithData,
	})
}

// SearchResponse is the JSON answer of a search
type SearchResponse struct {
	Result    interface{} `json:"result"`
	Offset    int         `json:"offset"`
	PageLimit int         `json:"page_limit"`
	TotalSize int         `json:"total_size"`
}

// NewSearchResponse shapes a page: record ids for id searches, a split
// document for data (an empty object when no rows matched)
func NewSearchResponse(page *batch.Page) (*SearchResponse, error) {
	resp := &SearchResponse{
		Offset:    page.Offset,
		PageLimit: page.Limit,
		TotalSize: page.TotalSize,
	}

	if page.Mode != batch.ModeData {
		ids := page.RecordIDs
		if ids == nil {
			ids = []string{}
		}

		resp.Result = ids

		return resp, nil
	}

	if page.Result == nil || page.Result.NumCols() == 0 {
		resp.Result = map[string]interface{}{}
		return resp, nil
	}

	split, err := table.EncodeSplit(page.Result)
	if err != nil {
		return nil, err
	}

	resp.Result = json.RawMessage(split)

	return resp, nil
}

// EncodePage renders a data page in the content type. Parquet pages carry
// only the rows, written as text; JSON pages are a SearchResponse.
func EncodePage(page *batch.Page, ct ContentType) ([]byte, error) {
	if ct == ContentParquet && page.Mode == batch.ModeData {
		if page.Result == nil || page.Result.NumCols() == 0 {
			return []byte{}, nil
		}

		return table.EncodeParquet(page.Result, true)
	}

	resp, err := NewSearchResponse(page)
	if err != nil {
		return nil, err
	}

	return json.Marshal(resp)
}
