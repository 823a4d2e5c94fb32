package cache

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kyleking/rafs-ddms/internal/errors"
)

const (
	keyPrefix = "rafs-ddms:payload:"
	scanCount = 100
)

// RedisOptions configures a RedisCache
type RedisOptions struct {
	Addr       string
	DB         int
	Password   string
	DefaultTTL time.Duration
}

// RedisCache implements Cache on a Redis server. Expiry is left to Redis.
type RedisCache struct {
	client     *redis.Client
	defaultTTL time.Duration
	hits       atomic.Int64
	misses     atomic.Int64
}

// NewRedisCache connects lazily to the configured server
func NewRedisCache(opts RedisOptions) *RedisCache {
	return NewRedisCacheWithClient(redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		DB:       opts.DB,
		Password: opts.Password,
	}), opts.DefaultTTL)
}

// NewRedisCacheWithClient wraps an existing client
func NewRedisCacheWithClient(client *redis.Client, defaultTTL time.Duration) *RedisCache {
	return &RedisCache{client: client, defaultTTL: defaultTTL}
}

// Get retrieves a payload
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if stderrors.Is(err, redis.Nil) {
		c.misses.Add(1)
		return nil, ErrMiss
	}

	if err != nil {
		c.misses.Add(1)
		return nil, errors.Wrap(err, errors.ErrTypeNetwork, "redis get failed")
	}

	c.hits.Add(1)

	return data, nil
}

// Set stores a payload; a zero ttl uses the default
func (c *RedisCache) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.defaultTTL
	}

	if err := c.client.Set(ctx, keyPrefix+key, data, ttl).Err(); err != nil {
		return errors.Wrap(err, errors.ErrTypeNetwork, "redis set failed")
	}

	return nil
}

// Delete removes an entry
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return errors.Wrap(err, errors.ErrTypeNetwork, "redis del failed")
	}

	return nil
}

// Clear removes every payload entry and resets statistics
func (c *RedisCache) Clear(ctx context.Context) error {
	keys, err := c.keys(ctx)
	if err != nil {
		return err
	}

	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			return errors.Wrap(err, errors.ErrTypeNetwork, "redis del failed")
		}
	}

	c.hits.Store(0)
	c.misses.Store(0)

	return nil
}

// Size returns the total length of cached payloads in bytes
func (c *RedisCache) Size(ctx context.Context) (int64, error) {
	keys, err := c.keys(ctx)
	if err != nil {
		return 0, err
	}

	return c.size(ctx, keys)
}

// Cleanup is a no-op; Redis expires keys itself
func (c *RedisCache) Cleanup(context.Context) error {
	return nil
}

// GetStats returns entry counts, sizes and hit rates
func (c *RedisCache) GetStats(ctx context.Context) (*Stats, error) {
	keys, err := c.keys(ctx)
	if err != nil {
		return nil, err
	}

	size, err := c.size(ctx, keys)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		TotalEntries: int64(len(keys)),
		TotalSize:    size,
		Hits:         c.hits.Load(),
		Misses:       c.misses.Load(),
	}
	stats.computeRates()

	return stats, nil
}

// Close closes the client
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) keys(ctx context.Context) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)

	for {
		batch, next, err := c.client.Scan(ctx, cursor, keyPrefix+"*", scanCount).Result()
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrTypeNetwork, "redis scan failed")
		}

		keys = append(keys, batch...)

		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

func (c *RedisCache) size(ctx context.Context, keys []string) (int64, error) {
	var total int64

	for _, key := range keys {
		n, err := c.client.StrLen(ctx, key).Result()
		if err != nil {
			return 0, errors.Wrap(err, errors.ErrTypeNetwork, "redis strlen failed")
		}

		total += n
	}

	return total, nil
}
