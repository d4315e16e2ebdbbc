package tangguh

import (
	"hash/fnv"
	"sync"
	"time"
)

// CacheEntry is one cached query result. Entries are replaced atomically
// by reference on refetch and must not be mutated after insertion.
type CacheEntry struct {
	Key           QueryKey  `json:"key"`
	Value         any       `json:"value"`
	LastUpdatedAt time.Time `json:"lastUpdatedAt"`
	FetchedAt     time.Time `json:"fetchedAt"`
}

// Age returns how long ago the entry was last updated.
func (e *CacheEntry) Age(now time.Time) time.Duration {
	return now.Sub(e.LastUpdatedAt)
}

// Critical reports the classification of the entry's key.
func (e *CacheEntry) Critical() bool {
	return e.Key.Critical()
}

// QueryStore is a sharded in-memory map of query cache entries keyed by
// the canonical key form. Safe for concurrent use.
type QueryStore struct {
	shards    []*storeShard
	numShards int
	now       func() time.Time
}

type storeShard struct {
	mu      sync.RWMutex
	entries map[string]*CacheEntry
}

// NewQueryStore returns an empty store.
func NewQueryStore() *QueryStore {
	numShards := 16
	shards := make([]*storeShard, numShards)
	for i := range shards {
		shards[i] = &storeShard{entries: make(map[string]*CacheEntry)}
	}
	return &QueryStore{
		shards:    shards,
		numShards: numShards,
		now:       time.Now,
	}
}

func (s *QueryStore) getShard(canonical string) *storeShard {
	h := fnv.New32a()
	h.Write([]byte(canonical))
	return s.shards[h.Sum32()%uint32(s.numShards)]
}

// Get returns the live entry for key, if any.
func (s *QueryStore) Get(key QueryKey) (*CacheEntry, bool) {
	shard := s.getShard(key.Canonical())
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	entry, ok := shard.entries[key.Canonical()]
	return entry, ok
}

// Set stores value under key, stamping both timestamps with the current
// time. An existing entry is replaced wholesale.
func (s *QueryStore) Set(key QueryKey, value any) *CacheEntry {
	now := s.now()
	entry := &CacheEntry{
		Key:           key,
		Value:         value,
		LastUpdatedAt: now,
		FetchedAt:     now,
	}
	s.Put(entry)
	return entry
}

// Put inserts an entry as-is, preserving its timestamps. Used when
// restoring persisted entries.
func (s *QueryStore) Put(entry *CacheEntry) {
	canonical := entry.Key.Canonical()
	shard := s.getShard(canonical)
	shard.mu.Lock()
	shard.entries[canonical] = entry
	shard.mu.Unlock()
}

// Delete removes the entry for key, reporting whether one existed.
func (s *QueryStore) Delete(key QueryKey) bool {
	return s.deleteCanonical(key.Canonical())
}

func (s *QueryStore) deleteCanonical(canonical string) bool {
	shard := s.getShard(canonical)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if _, ok := shard.entries[canonical]; !ok {
		return false
	}
	delete(shard.entries, canonical)
	return true
}

// DeleteWhere removes every entry matching pred and returns the removed
// entries. The predicate runs against a point-in-time snapshot per shard.
func (s *QueryStore) DeleteWhere(pred func(*CacheEntry) bool) []*CacheEntry {
	var removed []*CacheEntry
	for _, shard := range s.shards {
		shard.mu.Lock()
		for canonical, entry := range shard.entries {
			if pred(entry) {
				delete(shard.entries, canonical)
				removed = append(removed, entry)
			}
		}
		shard.mu.Unlock()
	}
	return removed
}

// Clear drops all entries.
func (s *QueryStore) Clear() {
	for _, shard := range s.shards {
		shard.mu.Lock()
		shard.entries = make(map[string]*CacheEntry)
		shard.mu.Unlock()
	}
}

// Len returns the number of live entries.
func (s *QueryStore) Len() int {
	total := 0
	for _, shard := range s.shards {
		shard.mu.RLock()
		total += len(shard.entries)
		shard.mu.RUnlock()
	}
	return total
}

// Entries returns a snapshot of all live entries in unspecified order.
func (s *QueryStore) Entries() []*CacheEntry {
	entries := make([]*CacheEntry, 0, s.Len())
	for _, shard := range s.shards {
		shard.mu.RLock()
		for _, entry := range shard.entries {
			entries = append(entries, entry)
		}
		shard.mu.RUnlock()
	}
	return entries
}
