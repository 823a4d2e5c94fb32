// Package batch fans dataset fetches out in fixed-size batches and merges
// the filtered tables into one paginated search result.
package batch

import (
	"context"
	stderrors "errors"
	"iter"
	"sort"
	"time"

	"github.com/kyleking/rafs-ddms/internal/blob"
	"github.com/kyleking/rafs-ddms/internal/config"
	"github.com/kyleking/rafs-ddms/internal/errors"
	"github.com/kyleking/rafs-ddms/internal/filter"
	"github.com/kyleking/rafs-ddms/internal/logging"
	"github.com/kyleking/rafs-ddms/internal/monitor"
	"github.com/kyleking/rafs-ddms/internal/table"
)

// DefaultBatchSize is how many datasets one batch fetches
const DefaultBatchSize = 100

// Ref identifies a dataset and the record it belongs to
type Ref struct {
	ID       string
	RecordID string
}

// FetchResult is the outcome of fetching and filtering one dataset. Table
// is meaningful only when Err is nil; an empty table is a valid result.
type FetchResult struct {
	ID       string
	RecordID string
	Table    *table.Table
	Err      error
}

// Mode is the shape of a search answer
type Mode int

const (
	// ModeListing pages over record ids without fetching anything
	ModeListing Mode = iota
	// ModeSearchIDs returns the ids of records whose filtered table has rows
	ModeSearchIDs
	// ModeData returns the filtered rows themselves
	ModeData
)

func (m Mode) String() string {
	switch m {
	case ModeListing:
		return "listing"
	case ModeSearchIDs:
		return "search-ids"
	case ModeData:
		return "data"
	default:
		return "unknown"
	}
}

// Request selects the page and whether rows are returned
type Request struct {
	Offset   int
	Limit    int
	WithData bool
}

// Page is one page of a search answer
type Page struct {
	Mode      Mode
	RecordIDs []string
	Result    *table.Table
	Offset    int
	Limit     int
	TotalSize int
}

// Orchestrator runs batched fetches and applies a filter set to each table
type Orchestrator struct {
	fetcher   blob.Fetcher
	engine    *table.Engine
	pool      *WorkerPool
	batchSize int
	metrics   *Metrics
	memory    *monitor.MemoryMonitor
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithBatchSize sets how many datasets are fetched per batch
func WithBatchSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithWorkers sets the fan-out width within a batch
func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.pool = NewWorkerPool(n)
		}
	}
}

// WithMetrics records fetch and batch metrics
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithMemoryMonitor samples memory after every batch
func WithMemoryMonitor(m *monitor.MemoryMonitor) Option {
	return func(o *Orchestrator) { o.memory = m }
}

// NewOrchestrator creates an orchestrator reading payloads through fetcher
func NewOrchestrator(fetcher blob.Fetcher, engine *table.Engine, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		fetcher:   fetcher,
		engine:    engine,
		pool:      NewWorkerPool(config.DefaultWorkers()),
		batchSize: DefaultBatchSize,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// SortRefs returns refs ordered by record id, keeping the input order of
// refs sharing a record
func SortRefs(refs []Ref) []Ref {
	sorted := append([]Ref(nil), refs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].RecordID < sorted[j].RecordID })

	return sorted
}

// ForEachBatch fetches the datasets of refs, ordered by record id, batch by
// batch, applies set to each table and hands every batch to fn. Batches run
// one after the other. A failed fetch is carried in its result and does not
// affect the others. It stops early when fn fails or ctx ends.
func (o *Orchestrator) ForEachBatch(ctx context.Context, refs []Ref, set *filter.Set, fn func([]FetchResult) error) error {
	sorted := SortRefs(refs)
	logger := logging.FromContext(ctx)

	for start := 0; start < len(sorted); start += o.batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch := sorted[start:min(start+o.batchSize, len(sorted))]
		logger.Debugf("fetching batch of %d datasets (%d/%d)", len(batch), start+len(batch), len(sorted))

		results := o.runBatch(ctx, batch, set)
		o.afterBatch()

		if err := fn(results); err != nil {
			return err
		}
	}

	return ctx.Err()
}

var errStopIteration = stderrors.New("stop iteration")

// Batches is ForEachBatch as an iterator. A non-nil error is yielded last.
func (o *Orchestrator) Batches(ctx context.Context, refs []Ref, set *filter.Set) iter.Seq2[[]FetchResult, error] {
	return func(yield func([]FetchResult, error) bool) {
		err := o.ForEachBatch(ctx, refs, set, func(results []FetchResult) error {
			if !yield(results, nil) {
				return errStopIteration
			}

			return nil
		})

		if err != nil && !stderrors.Is(err, errStopIteration) {
			yield(nil, err)
		}
	}
}

func (o *Orchestrator) runBatch(ctx context.Context, refs []Ref, set *filter.Set) []FetchResult {
	tasks := make([]Task[*table.Table], len(refs))
	for i, ref := range refs {
		tasks[i] = Task[*table.Table]{
			ID: ref.ID,
			Func: func(ctx context.Context) (*table.Table, error) {
				return o.fetch(ctx, ref, set)
			},
		}
	}

	results := Execute(ctx, o.pool, tasks)

	out := make([]FetchResult, len(results))
	for i, r := range results {
		out[i] = FetchResult{ID: refs[i].ID, RecordID: refs[i].RecordID, Table: r.Data, Err: r.Error}
	}

	return out
}

func (o *Orchestrator) fetch(ctx context.Context, ref Ref, set *filter.Set) (*table.Table, error) {
	started := time.Now()

	payload, err := o.fetcher.GetPayload(ctx, ref.ID)

	var t *table.Table

	switch {
	case err != nil:
	case len(payload) == 0:
		err = errors.Newf(errors.ErrTypeMissingContent, "%s exist in record but without content.", ref.ID)
	default:
		t, err = o.engine.ApplyBytes(ctx, payload, set)
	}

	outcome := OutcomeOK

	switch {
	case err != nil:
		outcome = OutcomeError
		logging.FromContext(ctx).WithField("dataset", ref.ID).WithError(err).Debug("dataset fetch failed")
	case t.IsEmpty():
		outcome = OutcomeEmpty
	}

	o.metrics.observeFetch(outcome, time.Since(started).Seconds())

	return t, err
}

func (o *Orchestrator) afterBatch() {
	var allocMB float64

	if o.memory != nil {
		allocMB = o.memory.AfterBatch().AllocMB
	}

	o.metrics.observeBatch(allocMB)
}

// Search answers a search over refs. Without a filter it lists record ids,
// or reads the datasets of the page when rows are requested. Otherwise every dataset is fetched and filtered; req.WithData selects
// whether rows or record ids are returned. Per-dataset failures are reported
// together, by record id, once every batch has run.
func (o *Orchestrator) Search(ctx context.Context, refs []Ref, set *filter.Set, req Request) (*Page, error) {
	sorted := SortRefs(refs)

	switch {
	case set.IsEmpty() && req.WithData:
		return o.unfiltered(ctx, sorted, req)
	case set.IsEmpty():
		return listRecords(sorted, req), nil
	case !req.WithData:
		return o.searchIDs(ctx, sorted, set, req)
	case set.HasAggregation():
		return o.aggregate(ctx, sorted, set, req)
	default:
		return o.data(ctx, sorted, set, req)
	}
}

func listRecords(refs []Ref, req Request) *Page {
	ids := distinctRecordIDs(refs)

	return &Page{
		Mode:      ModeListing,
		RecordIDs: pageOf(ids, req),
		Offset:    req.Offset,
		Limit:     req.Limit,
		TotalSize: len(ids),
	}
}

// unfiltered reads only the datasets of the requested page; the total is the
// number of datasets
func (o *Orchestrator) unfiltered(ctx context.Context, refs []Ref, req Request) (*Page, error) {
	start := min(max(req.Offset, 0), len(refs))
	end := len(refs)

	if req.Limit > 0 {
		end = min(start+req.Limit, len(refs))
	}

	var kept []*table.Table

	err := o.collect(ctx, refs[start:end], nil, func(r FetchResult) {
		kept = append(kept, r.Table)
	})
	if err != nil {
		return nil, err
	}

	return &Page{
		Mode:      ModeData,
		Result:    table.Concat(kept...),
		Offset:    req.Offset,
		Limit:     req.Limit,
		TotalSize: len(refs),
	}, nil
}

func (o *Orchestrator) searchIDs(ctx context.Context, refs []Ref, set *filter.Set, req Request) (*Page, error) {
	var matched []Ref

	err := o.collect(ctx, refs, set.WithoutAggregation(), func(r FetchResult) {
		matched = append(matched, Ref{ID: r.ID, RecordID: r.RecordID})
	})
	if err != nil {
		return nil, err
	}

	ids := distinctRecordIDs(matched)

	return &Page{
		Mode:      ModeSearchIDs,
		RecordIDs: pageOf(ids, req),
		Offset:    req.Offset,
		Limit:     req.Limit,
		TotalSize: len(ids),
	}, nil
}

func (o *Orchestrator) data(ctx context.Context, refs []Ref, set *filter.Set, req Request) (*Page, error) {
	var (
		kept  []*table.Table
		total int
	)

	err := o.collect(ctx, refs, set, func(r FetchResult) {
		if inPage(total, req) {
			kept = append(kept, r.Table)
		}

		total++
	})
	if err != nil {
		return nil, err
	}

	return &Page{
		Mode:      ModeData,
		Result:    table.Concat(kept...),
		Offset:    req.Offset,
		Limit:     req.Limit,
		TotalSize: total,
	}, nil
}

// aggregate filters every table, concatenates the selected rows and
// aggregates them once
func (o *Orchestrator) aggregate(ctx context.Context, refs []Ref, set *filter.Set, req Request) (*Page, error) {
	selection := &filter.Set{RowsFilter: set.RowsFilter, RowsMultipleFilter: set.RowsMultipleFilter}

	var tables []*table.Table

	err := o.collect(ctx, refs, selection, func(r FetchResult) {
		tables = append(tables, r.Table)
	})
	if err != nil {
		return nil, err
	}

	combined := table.Empty(set.ColumnsAggregation.Column)
	if len(tables) > 0 {
		combined = table.Concat(tables...)
	}

	result, err := o.engine.Apply(combined, &filter.Set{ColumnsAggregation: set.ColumnsAggregation})
	if err != nil {
		return nil, err
	}

	return &Page{
		Mode:      ModeData,
		Result:    result,
		Offset:    req.Offset,
		Limit:     req.Limit,
		TotalSize: len(tables),
	}, nil
}

// collect runs every batch and calls keep, in ref order, for each non-empty
// table. Failures are gathered into an aggregate error returned at the end.
func (o *Orchestrator) collect(ctx context.Context, refs []Ref, set *filter.Set, keep func(FetchResult)) error {
	failures := errors.NewAggregateError()

	err := o.ForEachBatch(ctx, refs, set, func(results []FetchResult) error {
		for _, r := range results {
			switch {
			case r.Err != nil:
				failures.Add(r.RecordID, r.Err)
			case !r.Table.IsEmpty():
				keep(r)
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	if failures.Len() > 0 {
		logging.FromContext(ctx).Warnf("%d of %d datasets failed", failures.Len(), len(refs))
	}

	return failures.ErrOrNil()
}

func distinctRecordIDs(refs []Ref) []string {
	ids := make([]string, 0, len(refs))
	seen := make(map[string]bool, len(refs))

	for _, r := range refs {
		if !seen[r.RecordID] {
			seen[r.RecordID] = true
			ids = append(ids, r.RecordID)
		}
	}

	return ids
}

func inPage(pos int, req Request) bool {
	if pos < req.Offset {
		return false
	}

	return req.Limit <= 0 || pos < req.Offset+req.Limit
}

func pageOf(ids []string, req Request) []string {
	start := min(max(req.Offset, 0), len(ids))
	end := len(ids)

	if req.Limit > 0 {
		end = min(start+req.Limit, len(ids))
	}

	return ids[start:end]
}
