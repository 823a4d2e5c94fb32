package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/rafs-ddms/internal/config"
)

type backend struct {
	name   string
	create func(t *testing.T) (Cache, func(d time.Duration))
}

func backends() []backend {
	return []backend{
		{
			name: "file",
			create: func(t *testing.T) (Cache, func(time.Duration)) {
				c, err := NewFileCache(t.TempDir(), 10, time.Hour, time.Minute)
				require.NoError(t, err)
				t.Cleanup(func() { c.Close() })

				return c, time.Sleep
			},
		},
		{
			name: "redis",
			create: func(t *testing.T) (Cache, func(time.Duration)) {
				mr := miniredis.RunT(t)
				c := NewRedisCache(RedisOptions{Addr: mr.Addr(), DefaultTTL: time.Hour})
				t.Cleanup(func() { c.Close() })

				return c, mr.FastForward
			},
		},
	}
}

func TestCacheBasicOperations(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			c, _ := b.create(t)
			ctx := context.Background()

			_, err := c.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrMiss)

			require.NoError(t, c.Set(ctx, "dataset-1", []byte("payload"), 0))

			data, err := c.Get(ctx, "dataset-1")
			require.NoError(t, err)
			assert.Equal(t, []byte("payload"), data)

			require.NoError(t, c.Delete(ctx, "dataset-1"))

			_, err = c.Get(ctx, "dataset-1")
			assert.ErrorIs(t, err, ErrMiss)
		})
	}
}

func TestCacheExpiry(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			c, advance := b.create(t)
			ctx := context.Background()

			require.NoError(t, c.Set(ctx, "short", []byte("a"), 50*time.Millisecond))
			require.NoError(t, c.Set(ctx, "long", []byte("b"), time.Hour))

			advance(100 * time.Millisecond)
			require.NoError(t, c.Cleanup(ctx))

			_, err := c.Get(ctx, "short")
			assert.ErrorIs(t, err, ErrMiss)

			data, err := c.Get(ctx, "long")
			require.NoError(t, err)
			assert.Equal(t, []byte("b"), data)
		})
	}
}

func TestCacheStatsAndClear(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			c, _ := b.create(t)
			ctx := context.Background()

			for i := range 5 {
				require.NoError(t, c.Set(ctx, fmt.Sprintf("key-%d", i), []byte("data"), time.Hour))
			}

			for i := range 3 {
				_, err := c.Get(ctx, fmt.Sprintf("key-%d", i))
				require.NoError(t, err)
			}

			for i := 10; i < 12; i++ {
				_, err := c.Get(ctx, fmt.Sprintf("key-%d", i))
				require.ErrorIs(t, err, ErrMiss)
			}

			stats, err := c.GetStats(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(5), stats.TotalEntries)
			assert.Equal(t, int64(20), stats.TotalSize)
			assert.Equal(t, int64(3), stats.Hits)
			assert.Equal(t, int64(2), stats.Misses)
			assert.InDelta(t, 0.6, stats.HitRate, 1e-9)

			size, err := c.Size(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(20), size)

			require.NoError(t, c.Clear(ctx))

			stats, err = c.GetStats(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(0), stats.TotalEntries)
			assert.Equal(t, int64(0), stats.Hits)
		})
	}
}

func TestFileCacheSizeLimit(t *testing.T) {
	c, err := NewFileCache(t.TempDir(), 1, time.Hour, time.Minute)
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	large := make([]byte, 512*1024)

	for i := range 3 {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("large-%d", i), large, time.Hour))
	}

	size, err := c.Size(ctx)
	require.NoError(t, err)
	assert.LessOrEqual(t, size, int64(1024*1024))

	_, err = c.Get(ctx, "large-2")
	assert.NoError(t, err, "newest entry survives eviction")
}

func TestFileCacheCanceledContext(t *testing.T) {
	c, err := NewFileCache(t.TempDir(), 1, time.Hour, 0)
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, c.Set(ctx, "k", nil, 0), context.Canceled)
}

func TestKey(t *testing.T) {
	assert.Len(t, Key("id"), 64)
	assert.Equal(t, Key("a", "b"), Key("a", "b"))
	assert.NotEqual(t, Key("a", "b"), Key("ab"))
}

func TestNew(t *testing.T) {
	mr := miniredis.RunT(t)

	tests := []struct {
		name    string
		cfg     config.CacheConfig
		want    interface{}
		wantErr bool
	}{
		{
			name: "file",
			cfg:  config.CacheConfig{Backend: "file", Directory: t.TempDir(), MaxSizeMB: 1, TTL: "1m", CleanupFreq: "1h"},
			want: &FileCache{},
		},
		{
			name: "redis",
			cfg:  config.CacheConfig{Backend: "redis", RedisAddr: mr.Addr(), TTL: "1m"},
			want: &RedisCache{},
		},
		{
			name:    "unknown",
			cfg:     config.CacheConfig{Backend: "memcached"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			defer c.Close()

			assert.IsType(t, tt.want, c)
		})
	}
}
