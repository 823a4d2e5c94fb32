package blob

import (
	"context"
	stderrors "errors"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kyleking/rafs-ddms/internal/cache"
	"github.com/kyleking/rafs-ddms/internal/logging"
)

// CachedFetcher serves payloads from a cache and coalesces identical
// in-flight fetches. Cache failures are logged and otherwise ignored.
type CachedFetcher struct {
	next   Fetcher
	cache  cache.Cache
	ttl    time.Duration
	group  singleflight.Group
	logger *logging.Logger
}

// NewCachedFetcher wraps next with c; a zero ttl uses the cache default
func NewCachedFetcher(next Fetcher, c cache.Cache, ttl time.Duration) *CachedFetcher {
	return &CachedFetcher{
		next:   next,
		cache:  c,
		ttl:    ttl,
		logger: logging.GetLogger().WithField("component", "blob_cache"),
	}
}

// GetPayload returns the cached payload of id, fetching it on a miss
func (f *CachedFetcher) GetPayload(ctx context.Context, id string) ([]byte, error) {
	key := cache.Key("payload", id)

	data, err := f.cache.Get(ctx, key)
	if err == nil {
		return data, nil
	}

	if !stderrors.Is(err, cache.ErrMiss) {
		f.logger.WithError(err).Warnf("cache read failed for %s", id)
	}

	// the shared fetch outlives any single caller; each caller still
	// stops waiting when its own ctx is done
	shared := context.WithoutCancel(ctx)

	ch := f.group.DoChan(key, func() (interface{}, error) {
		payload, err := f.next.GetPayload(shared, id)
		if err != nil {
			return nil, err
		}

		if err := f.cache.Set(shared, key, payload, f.ttl); err != nil {
			f.logger.WithError(err).Warnf("cache write failed for %s", id)
		}

		return payload, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}

		return res.Val.([]byte), nil
	}
}

// PutPayload writes through to the wrapped store and refreshes the cache
func (f *CachedFetcher) PutPayload(ctx context.Context, id string, data []byte, contentType string) error {
	store, ok := f.next.(Store)
	if !ok {
		return ErrReadOnly
	}

	if err := store.PutPayload(ctx, id, data, contentType); err != nil {
		return err
	}

	if err := f.cache.Set(ctx, cache.Key("payload", id), data, f.ttl); err != nil {
		f.logger.WithError(err).Warnf("cache write failed for %s", id)
	}

	return nil
}
