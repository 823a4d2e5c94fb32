package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/kyleking/rafs-ddms/internal/config"
	"github.com/kyleking/rafs-ddms/internal/errors"
)

// ErrMiss is returned by Get when the key is absent or expired
var ErrMiss = stderrors.New("cache miss")

// Cache stores columnar payloads by key
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Size(ctx context.Context) (int64, error)
	Cleanup(ctx context.Context) error
	GetStats(ctx context.Context) (*Stats, error)
	Close() error
}

// Entry is the metadata kept next to each cached payload
type Entry struct {
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Size      int64     `json:"size"`
}

// Stats represents cache statistics
type Stats struct {
	TotalEntries int64   `json:"total_entries"`
	TotalSize    int64   `json:"total_size"`
	HitRate      float64 `json:"hit_rate"`
	MissRate     float64 `json:"miss_rate"`
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
}

func (s *Stats) computeRates() {
	total := s.Hits + s.Misses
	if total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
		s.MissRate = float64(s.Misses) / float64(total)
	}
}

// Key derives a fixed-length cache key from its parts
func Key(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])
}

// New builds the cache selected by cfg.Backend
func New(cfg config.CacheConfig) (Cache, error) {
	ttl := config.Duration(cfg.TTL, 10*time.Minute)

	switch cfg.Backend {
	case "redis":
		return NewRedisCache(RedisOptions{
			Addr:       cfg.RedisAddr,
			DB:         cfg.RedisDB,
			Password:   cfg.RedisPassword,
			DefaultTTL: ttl,
		}), nil
	case "file", "":
		return NewFileCache(cfg.Directory, cfg.MaxSizeMB, ttl, config.Duration(cfg.CleanupFreq, time.Hour))
	default:
		return nil, errors.NewConfigError("unknown cache backend: "+cfg.Backend, "cache.backend")
	}
}

// FileCache implements Cache on the local filesystem
type FileCache struct {
	directory   string
	maxBytes    int64
	defaultTTL  time.Duration
	cleanupFreq time.Duration
	mu          sync.RWMutex
	stats       Stats
	stopCleanup chan struct{}
	cleanupOnce sync.Once
}

// NewFileCache creates a file cache rooted at directory and starts its
// background cleanup
func NewFileCache(directory string, maxSizeMB int, defaultTTL, cleanupFreq time.Duration) (*FileCache, error) {
	directory = config.ExpandPath(directory)

	if err := os.MkdirAll(directory, 0755); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeStorage, "failed to create cache directory")
	}

	c := &FileCache{
		directory:   directory,
		maxBytes:    int64(maxSizeMB) * 1024 * 1024,
		defaultTTL:  defaultTTL,
		cleanupFreq: cleanupFreq,
		stopCleanup: make(chan struct{}),
	}

	if cleanupFreq > 0 {
		go c.backgroundCleanup()
	}

	return c, nil
}

// Get retrieves a payload; expired entries are removed and reported as a miss
func (c *FileCache) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	dataPath, metaPath := c.paths(key)

	metaData, err := os.ReadFile(metaPath)
	if err != nil {
		c.stats.Misses++
		return nil, ErrMiss
	}

	var entry Entry
	if err := json.Unmarshal(metaData, &entry); err != nil {
		c.stats.Misses++
		return nil, errors.Wrap(err, errors.ErrTypeStorage, "failed to parse cache metadata")
	}

	if time.Now().After(entry.ExpiresAt) {
		c.stats.Misses++

		os.Remove(dataPath)
		os.Remove(metaPath)

		return nil, ErrMiss
	}

	data, err := os.ReadFile(dataPath)
	if err != nil {
		c.stats.Misses++
		return nil, ErrMiss
	}

	c.stats.Hits++

	return data, nil
}

// Set stores a payload; a zero ttl uses the default
func (c *FileCache) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if ttl == 0 {
		ttl = c.defaultTTL
	}

	now := time.Now()
	entry := Entry{
		Key:       key,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Size:      int64(len(data)),
	}

	if err := c.enforceSize(entry.Size); err != nil {
		return err
	}

	dataPath, metaPath := c.paths(key)

	if err := os.WriteFile(dataPath, data, 0600); err != nil {
		return errors.Wrap(err, errors.ErrTypeStorage, "failed to write cache data")
	}

	metaData, err := json.Marshal(entry)
	if err != nil {
		os.Remove(dataPath)
		return errors.Wrap(err, errors.ErrTypeStorage, "failed to marshal cache metadata")
	}

	if err := os.WriteFile(metaPath, metaData, 0600); err != nil {
		os.Remove(dataPath)
		return errors.Wrap(err, errors.ErrTypeStorage, "failed to write cache metadata")
	}

	return nil
}

// Delete removes an entry; missing entries are ignored
func (c *FileCache) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	dataPath, metaPath := c.paths(key)
	os.Remove(dataPath)
	os.Remove(metaPath)

	return nil
}

// Clear removes every entry and resets statistics
func (c *FileCache) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := os.ReadDir(c.directory)
	if err != nil {
		return errors.Wrap(err, errors.ErrTypeStorage, "failed to read cache directory")
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			os.Remove(filepath.Join(c.directory, entry.Name()))
		}
	}

	c.stats = Stats{}

	return nil
}

// Size returns the total size of cached payloads in bytes
func (c *FileCache) Size(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	files, err := c.dataFiles()
	if err != nil {
		return 0, err
	}

	var total int64
	for _, f := range files {
		total += f.size
	}

	return total, nil
}

// Cleanup removes expired entries
func (c *FileCache) Cleanup(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := os.ReadDir(c.directory)
	if err != nil {
		return errors.Wrap(err, errors.ErrTypeStorage, "failed to read cache directory")
	}

	now := time.Now()

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".meta") {
			continue
		}

		metaPath := filepath.Join(c.directory, entry.Name())

		metaData, err := os.ReadFile(metaPath)
		if err != nil {
			continue
		}

		var meta Entry
		if err := json.Unmarshal(metaData, &meta); err != nil {
			continue
		}

		if now.After(meta.ExpiresAt) {
			os.Remove(strings.TrimSuffix(metaPath, ".meta") + ".data")
			os.Remove(metaPath)
		}
	}

	return nil
}

// GetStats returns entry counts, sizes and hit rates
func (c *FileCache) GetStats(ctx context.Context) (*Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	files, err := c.dataFiles()
	if err != nil {
		return nil, err
	}

	stats := c.stats
	stats.TotalEntries = int64(len(files))

	for _, f := range files {
		stats.TotalSize += f.size
	}

	stats.computeRates()

	return &stats, nil
}

// Close stops the background cleanup goroutine
func (c *FileCache) Close() error {
	c.cleanupOnce.Do(func() {
		close(c.stopCleanup)
	})

	return nil
}

func (c *FileCache) paths(key string) (string, string) {
	base := filepath.Join(c.directory, Key(key)[:32])
	return base + ".data", base + ".meta"
}

type dataFile struct {
	base    string
	modTime time.Time
	size    int64
}

func (c *FileCache) dataFiles() ([]dataFile, error) {
	entries, err := os.ReadDir(c.directory)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeStorage, "failed to read cache directory")
	}

	var files []dataFile

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".data") {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		files = append(files, dataFile{
			base:    filepath.Join(c.directory, strings.TrimSuffix(entry.Name(), ".data")),
			modTime: info.ModTime(),
			size:    info.Size(),
		})
	}

	return files, nil
}

// enforceSize evicts the oldest entries until newSize fits. Callers hold the write lock.
func (c *FileCache) enforceSize(newSize int64) error {
	if c.maxBytes <= 0 {
		return nil
	}

	files, err := c.dataFiles()
	if err != nil {
		return err
	}

	var current int64
	for _, f := range files {
		current += f.size
	}

	if current+newSize <= c.maxBytes {
		return nil
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})

	needed := current + newSize - c.maxBytes

	var freed int64

	for _, f := range files {
		if freed >= needed {
			break
		}

		os.Remove(f.base + ".data")
		os.Remove(f.base + ".meta")

		freed += f.size
	}

	return nil
}

func (c *FileCache) backgroundCleanup() {
	ticker := time.NewTicker(c.cleanupFreq)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = c.Cleanup(context.Background())
		case <-c.stopCleanup:
			return
		}
	}
}
