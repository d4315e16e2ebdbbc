package tangguh

import (
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// CleanupConfig bounds the query cache. Immutable per manager instance.
type CleanupConfig struct {
	// MaxAgeNonCritical is the age past which non-critical entries are
	// removed by age cleanup.
	MaxAgeNonCritical time.Duration

	// MaxAgeCritical bounds how old a critical entry may be when restored
	// from a persisted snapshot. Live critical entries are never removed
	// by cleanup regardless of age.
	MaxAgeCritical time.Duration

	// MaxQueries caps the number of cached entries.
	MaxQueries int

	// SizeLimitBytes caps the estimated serialized cache size. Soft: see
	// EnforceSizeLimit.
	SizeLimitBytes int64
}

// DefaultCleanupConfig returns the standard bounds: 1h non-critical age,
// 24h critical restore age, 100 entries, 50 MB.
func DefaultCleanupConfig() CleanupConfig {
	return CleanupConfig{
		MaxAgeNonCritical: time.Hour,
		MaxAgeCritical:    24 * time.Hour,
		MaxQueries:        100,
		SizeLimitBytes:    50 * 1024 * 1024,
	}
}

// CacheStats is a derived snapshot of the live entry set, recomputed on
// demand and never cached.
type CacheStats struct {
	TotalQueries       int
	CriticalQueries    int
	NonCriticalQueries int
	EstimatedSizeBytes int64
	OldestEntryAge     time.Duration
	NewestEntryAge     time.Duration
}

// CleanupResult reports what a cleanup or eviction pass removed.
type CleanupResult struct {
	RemovedCount   int
	FreedBytes     int64
	RemainingCount int
	RemainingBytes int64
}

func (r CleanupResult) add(other CleanupResult) CleanupResult {
	return CleanupResult{
		RemovedCount:   r.RemovedCount + other.RemovedCount,
		FreedBytes:     r.FreedBytes + other.FreedBytes,
		RemainingCount: other.RemainingCount,
		RemainingBytes: other.RemainingBytes,
	}
}

// InvalidateOptions controls SmartInvalidate's blast radius.
type InvalidateOptions struct {
	// InvalidateRelated also removes the one-segment module-root key.
	InvalidateRelated bool

	// InvalidateModule also removes every entry of the key's module.
	InvalidateModule bool
}

// DefaultAutoCleanupInterval is the period of the background cleanup task.
const DefaultAutoCleanupInterval = 5 * time.Minute

// CacheManager owns classification-aware bookkeeping over a QueryStore:
// statistics, age-based cleanup, size and count eviction, smart
// invalidation, and the auto-cleanup lifecycle.
type CacheManager struct {
	store   *QueryStore
	config  CleanupConfig
	logger  Logger
	metrics *MetricsCollector
	now     func() time.Time

	mu     sync.Mutex
	stopCh chan struct{}
}

// NewCacheManager creates a manager over store with the given bounds.
func NewCacheManager(store *QueryStore, config CleanupConfig) *CacheManager {
	if config.MaxAgeNonCritical <= 0 {
		config.MaxAgeNonCritical = time.Hour
	}
	if config.MaxAgeCritical <= 0 {
		config.MaxAgeCritical = 24 * time.Hour
	}
	if config.MaxQueries <= 0 {
		config.MaxQueries = 100
	}
	if config.SizeLimitBytes <= 0 {
		config.SizeLimitBytes = 50 * 1024 * 1024
	}
	return &CacheManager{
		store:  store,
		config: config,
		now:    time.Now,
	}
}

// SetLogger attaches a logger.
func (m *CacheManager) SetLogger(logger Logger) {
	m.logger = logger
}

// SetMetrics attaches a metrics collector.
func (m *CacheManager) SetMetrics(metrics *MetricsCollector) {
	m.metrics = metrics
}

// Config returns the manager's bounds.
func (m *CacheManager) Config() CleanupConfig {
	return m.config
}

// estimateSize returns the serialized size of an entry's value, or 0 when
// the value cannot be serialized. Exact byte accounting is a
// bound-enforcement heuristic, not a correctness requirement, so failures
// are absorbed instead of propagated.
func estimateSize(entry *CacheEntry) int64 {
	data, err := json.Marshal(entry.Value)
	if err != nil {
		return 0
	}
	return int64(len(data))
}

// Stats scans the live entry set. It never fails: unserializable values
// contribute zero to the size estimate.
func (m *CacheManager) Stats() CacheStats {
	now := m.now()
	stats := CacheStats{}

	first := true
	for _, entry := range m.store.Entries() {
		stats.TotalQueries++
		if entry.Critical() {
			stats.CriticalQueries++
		} else {
			stats.NonCriticalQueries++
		}
		stats.EstimatedSizeBytes += estimateSize(entry)

		age := entry.Age(now)
		if age > stats.OldestEntryAge {
			stats.OldestEntryAge = age
		}
		if first || age < stats.NewestEntryAge {
			stats.NewestEntryAge = age
			first = false
		}
	}

	m.metrics.RecordCacheStats(stats)
	return stats
}

// IsSizeLimitExceeded reports whether the estimated size is over the cap.
func (m *CacheManager) IsSizeLimitExceeded() bool {
	return m.Stats().EstimatedSizeBytes > m.config.SizeLimitBytes
}

// IsQueryCountLimitExceeded reports whether the entry count is over the cap.
func (m *CacheManager) IsQueryCountLimitExceeded() bool {
	return m.Stats().TotalQueries > m.config.MaxQueries
}

// CleanupOldQueries removes non-critical entries older than maxAge
// (MaxAgeNonCritical when zero). Critical entries are exempt regardless
// of age.
func (m *CacheManager) CleanupOldQueries(maxAge time.Duration) CleanupResult {
	if maxAge <= 0 {
		maxAge = m.config.MaxAgeNonCritical
	}
	now := m.now()

	removed := m.store.DeleteWhere(func(entry *CacheEntry) bool {
		return !entry.Critical() && entry.Age(now) > maxAge
	})

	var freed int64
	for _, entry := range removed {
		freed += estimateSize(entry)
	}

	m.metrics.RecordEviction("age", len(removed))
	if m.logger != nil && len(removed) > 0 {
		m.logger.Debug("age cleanup removed entries", "removed", len(removed), "freedBytes", freed)
	}

	stats := m.Stats()
	return CleanupResult{
		RemovedCount:   len(removed),
		FreedBytes:     freed,
		RemainingCount: stats.TotalQueries,
		RemainingBytes: stats.EstimatedSizeBytes,
	}
}

// nonCriticalOldestFirst snapshots non-critical entries sorted ascending
// by last update, alongside the full current size estimate.
func (m *CacheManager) nonCriticalOldestFirst() ([]*CacheEntry, int64) {
	var candidates []*CacheEntry
	var totalSize int64
	for _, entry := range m.store.Entries() {
		totalSize += estimateSize(entry)
		if !entry.Critical() {
			candidates = append(candidates, entry)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].LastUpdatedAt.Before(candidates[j].LastUpdatedAt)
	})
	return candidates, totalSize
}

// EnforceSizeLimit evicts non-critical entries oldest-first until the
// estimated size is at or under the cap. Critical entries are never
// evicted: when removing every non-critical entry is still insufficient
// the cap is left exceeded. The cap is a soft limit by design.
func (m *CacheManager) EnforceSizeLimit() CleanupResult {
	candidates, size := m.nonCriticalOldestFirst()
	if size <= m.config.SizeLimitBytes {
		stats := m.Stats()
		return CleanupResult{RemainingCount: stats.TotalQueries, RemainingBytes: stats.EstimatedSizeBytes}
	}

	var removed int
	var freed int64
	for _, entry := range candidates {
		if size <= m.config.SizeLimitBytes {
			break
		}
		if m.store.Delete(entry.Key) {
			entrySize := estimateSize(entry)
			size -= entrySize
			freed += entrySize
			removed++
		}
	}

	m.metrics.RecordEviction("size", removed)
	if m.logger != nil && removed > 0 {
		m.logger.Info("size limit eviction", "removed", removed, "freedBytes", freed, "overLimit", size > m.config.SizeLimitBytes)
	}

	stats := m.Stats()
	return CleanupResult{
		RemovedCount:   removed,
		FreedBytes:     freed,
		RemainingCount: stats.TotalQueries,
		RemainingBytes: stats.EstimatedSizeBytes,
	}
}

// EnforceQueryCountLimit evicts non-critical entries oldest-first until
// the entry count is at or under MaxQueries. Critical entries are never
// evicted by this path either.
func (m *CacheManager) EnforceQueryCountLimit() CleanupResult {
	candidates, _ := m.nonCriticalOldestFirst()
	total := m.store.Len()
	excess := total - m.config.MaxQueries
	if excess <= 0 {
		stats := m.Stats()
		return CleanupResult{RemainingCount: stats.TotalQueries, RemainingBytes: stats.EstimatedSizeBytes}
	}

	var removed int
	var freed int64
	for _, entry := range candidates {
		if removed >= excess {
			break
		}
		if m.store.Delete(entry.Key) {
			freed += estimateSize(entry)
			removed++
		}
	}

	m.metrics.RecordEviction("count", removed)

	stats := m.Stats()
	return CleanupResult{
		RemovedCount:   removed,
		FreedBytes:     freed,
		RemainingCount: stats.TotalQueries,
		RemainingBytes: stats.EstimatedSizeBytes,
	}
}

// PerformCleanup runs age cleanup, then size enforcement, then count
// enforcement, and returns the summed result. Age cleanup goes first
// because it can make the later enforcement passes unnecessary.
func (m *CacheManager) PerformCleanup() CleanupResult {
	result := m.CleanupOldQueries(0)
	result = result.add(m.EnforceSizeLimit())
	result = result.add(m.EnforceQueryCountLimit())
	return result
}

// SmartInvalidate removes the exact key and, per opts, the module-root
// key and every entry whose leading segment matches the key's module.
// The three invalidations run concurrently; the call returns once all
// complete. Returns the number of entries removed.
func (m *CacheManager) SmartInvalidate(key QueryKey, opts InvalidateOptions) int {
	module := key.Module()

	var wg sync.WaitGroup
	var mu sync.Mutex
	removed := 0

	count := func(n int) {
		mu.Lock()
		removed += n
		mu.Unlock()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if m.store.Delete(key) {
			count(1)
		}
	}()

	if opts.InvalidateRelated {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.store.Delete(key.ModuleKey()) {
				count(1)
			}
		}()
	}

	if opts.InvalidateModule {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dropped := m.store.DeleteWhere(func(entry *CacheEntry) bool {
				return entry.Key.Module() == module
			})
			count(len(dropped))
		}()
	}

	wg.Wait()
	m.metrics.RecordEviction("invalidate", removed)
	return removed
}

// StartAutoCleanup schedules PerformCleanup every interval
// (DefaultAutoCleanupInterval when zero). Starting while already running
// stops the previous timer first, so there is never more than one.
func (m *CacheManager) StartAutoCleanup(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultAutoCleanupInterval
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopCh != nil {
		close(m.stopCh)
	}
	stopCh := make(chan struct{})
	m.stopCh = stopCh

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.PerformCleanup()
			case <-stopCh:
				return
			}
		}
	}()
}

// StopAutoCleanup cancels the background cleanup task.
func (m *CacheManager) StopAutoCleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopCh != nil {
		close(m.stopCh)
		m.stopCh = nil
	}
}
