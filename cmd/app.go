package cmd

import (
	"context"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kyleking/rafs-ddms/internal/batch"
	"github.com/kyleking/rafs-ddms/internal/blob"
	"github.com/kyleking/rafs-ddms/internal/cache"
	"github.com/kyleking/rafs-ddms/internal/config"
	"github.com/kyleking/rafs-ddms/internal/errors"
	"github.com/kyleking/rafs-ddms/internal/logging"
	"github.com/kyleking/rafs-ddms/internal/monitor"
	"github.com/kyleking/rafs-ddms/internal/schema"
	"github.com/kyleking/rafs-ddms/internal/search"
	"github.com/kyleking/rafs-ddms/internal/service"
	"github.com/kyleking/rafs-ddms/internal/storage"
	"github.com/kyleking/rafs-ddms/internal/table"
)

// app holds the backends shared by the commands
type app struct {
	cfg     *config.Config
	repo    storage.Repository
	blobs   blob.Fetcher
	schemas schema.Provider
	engine  *table.Engine
	closers []io.Closer
}

// initializeStorage opens and migrates the record store
func initializeStorage(ctx context.Context, cfg *config.Config) (storage.Repository, error) {
	repo, err := storage.NewDuckDBRepositoryFromConfig(cfg.Storage)
	if err != nil {
		return nil, err
	}

	if err := repo.Initialize(ctx); err != nil {
		_ = repo.Close()
		return nil, err
	}

	return repo, nil
}

// newApp opens the record store, the blob backend (behind the payload cache
// when enabled) and the schema registry
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	repo, err := initializeStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		repo:    repo,
		engine:  table.NewEngineWithLogger(logging.FromContext(ctx)),
		closers: []io.Closer{repo},
	}

	if a.blobs, err = blob.NewFetcher(cfg.Blob); err != nil {
		a.Close()
		return nil, err
	}

	if cfg.Cache.Enabled {
		c, err := cache.New(cfg.Cache)
		if err != nil {
			a.Close()
			return nil, err
		}

		a.closers = append(a.closers, c)
		a.blobs = blob.NewCachedFetcher(a.blobs, c, config.Duration(cfg.Cache.TTL, 10*time.Minute))
	}

	if a.schemas, err = schema.LoadRegistryDir(config.ExpandPath(cfg.DDMS.SchemaDir)); err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			logging.Warnf("failed to close backend: %v", err)
		}
	}
}

func (a *app) bulkData() *service.BulkData {
	return service.NewBulkData(a.repo, a.blobs, a.schemas, a.engine, a.cfg.DDMS)
}

func (a *app) records() *service.Records {
	return service.NewRecords(a.repo, a.schemas, a.cfg.Query)
}

// search wires the search backend and the batch orchestrator. Metrics are
// registered on reg when metrics are enabled.
func (a *app) search(reg prometheus.Registerer) (*service.Search, error) {
	backend, err := search.NewElasticsearchBackend(a.cfg.Search)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeConfig, "failed to create search backend")
	}

	opts := []batch.Option{
		batch.WithBatchSize(a.cfg.Query.BatchSize),
		batch.WithWorkers(a.cfg.Query.EffectiveWorkers()),
	}

	if a.cfg.Metrics.Enabled && reg != nil {
		opts = append(opts, batch.WithMetrics(batch.NewMetrics(reg, a.cfg.Metrics.Namespace)))
	}

	if a.cfg.Query.MemoryReleaseMB > 0 {
		opts = append(opts, batch.WithMemoryMonitor(monitor.NewMemoryMonitor(int64(a.cfg.Query.MemoryReleaseMB), time.Second)))
	}

	resolver := search.NewIDResolver(backend, a.cfg.Search.PageSize)

	return service.NewSearch(resolver, batch.NewOrchestrator(a.blobs, a.engine, opts...), a.schemas), nil
}
