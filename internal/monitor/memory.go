package monitor

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"
)

const bytesPerMB = 1024 * 1024

// MemoryMonitor samples process memory between batches and hands memory back
// to the OS when allocation grows past a threshold
type MemoryMonitor struct {
	mu          sync.Mutex
	stats       MemoryStats
	releaseMB   float64
	minInterval time.Duration
	lastRelease time.Time
	releases    int
}

// MemoryStats represents memory usage statistics
type MemoryStats struct {
	AllocMB        float64   `json:"alloc_mb"`
	TotalAllocMB   float64   `json:"total_alloc_mb"`
	SysMB          float64   `json:"sys_mb"`
	HeapInUseMB    float64   `json:"heap_in_use_mb"`
	NumGC          uint32    `json:"num_gc"`
	GoroutineCount int       `json:"goroutine_count"`
	LastUpdated    time.Time `json:"last_updated"`
}

// NewMemoryMonitor creates a monitor releasing memory once allocation
// exceeds releaseMB, at most once per minInterval. A zero releaseMB only samples.
func NewMemoryMonitor(releaseMB int64, minInterval time.Duration) *MemoryMonitor {
	return &MemoryMonitor{
		releaseMB:   float64(releaseMB),
		minInterval: minInterval,
	}
}

// Sample reads the current memory statistics
func (m *MemoryMonitor) Sample() MemoryStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.updateStats()

	return m.stats
}

// GetStats returns the last sampled statistics
func (m *MemoryMonitor) GetStats() MemoryStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.stats
}

// AfterBatch samples memory and releases it when the threshold is crossed.
// It returns the statistics after any release.
func (m *MemoryMonitor) AfterBatch() MemoryStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.updateStats()

	if m.shouldRelease(time.Now()) {
		runtime.GC()
		debug.FreeOSMemory()

		m.lastRelease = time.Now()
		m.releases++
		m.updateStats()
	}

	return m.stats
}

// Releases returns how many times memory was handed back
func (m *MemoryMonitor) Releases() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.releases
}

// GetMemoryPressure returns a value from 0-1 indicating memory pressure
func (m *MemoryMonitor) GetMemoryPressure() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.stats.pressure()
}

func (m *MemoryMonitor) shouldRelease(now time.Time) bool {
	if m.releaseMB <= 0 || m.stats.AllocMB <= m.releaseMB {
		return false
	}

	return m.lastRelease.IsZero() || now.Sub(m.lastRelease) >= m.minInterval
}

func (m *MemoryMonitor) updateStats() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.stats = MemoryStats{
		AllocMB:        float64(memStats.Alloc) / bytesPerMB,
		TotalAllocMB:   float64(memStats.TotalAlloc) / bytesPerMB,
		SysMB:          float64(memStats.Sys) / bytesPerMB,
		HeapInUseMB:    float64(memStats.HeapInuse) / bytesPerMB,
		NumGC:          memStats.NumGC,
		GoroutineCount: runtime.NumGoroutine(),
		LastUpdated:    time.Now(),
	}
}

func (s MemoryStats) pressure() float64 {
	if s.SysMB == 0 {
		return 0
	}

	return min(s.AllocMB/s.SysMB, 1.0)
}

// String returns human-readable memory statistics
func (s MemoryStats) String() string {
	return fmt.Sprintf(`Memory Statistics:
  Allocated: %.2f MB
  Total Allocated: %.2f MB
  System: %.2f MB
  Heap In Use: %.2f MB
  Goroutines: %d
  GC Runs: %d
  Memory Pressure: %.2f`,
		s.AllocMB,
		s.TotalAllocMB,
		s.SysMB,
		s.HeapInUseMB,
		s.GoroutineCount,
		s.NumGC,
		s.pressure(),
	)
}
