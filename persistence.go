package tangguh

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// cacheStorageKey is the fixed Storage key the critical snapshot lives
// under.
const cacheStorageKey = "tangguh_query_cache"

type snapshotEntry struct {
	Key           QueryKey        `json:"key"`
	Value         json.RawMessage `json:"value"`
	LastUpdatedAt time.Time       `json:"lastUpdatedAt"`
	FetchedAt     time.Time       `json:"fetchedAt"`
}

type cacheSnapshot struct {
	SavedAt time.Time       `json:"savedAt"`
	Entries []snapshotEntry `json:"entries"`
}

// SnapshotCritical serializes the critical entries of store into a JSON
// document for the persistence adapter. Non-critical entries are filtered
// out; entries whose values cannot be serialized are skipped rather than
// failing the snapshot.
func SnapshotCritical(store *QueryStore, now time.Time) ([]byte, error) {
	snapshot := cacheSnapshot{SavedAt: now}

	for _, entry := range store.Entries() {
		if !entry.Critical() {
			continue
		}
		value, err := json.Marshal(entry.Value)
		if err != nil {
			continue
		}
		snapshot.Entries = append(snapshot.Entries, snapshotEntry{
			Key:           entry.Key,
			Value:         value,
			LastUpdatedAt: entry.LastUpdatedAt,
			FetchedAt:     entry.FetchedAt,
		})
	}

	return json.Marshal(snapshot)
}

// RestoreSnapshot loads entries from a persisted snapshot into store,
// skipping entries older than maxAge. Malformed input restores nothing:
// the cache simply starts empty. Returns the number of entries restored.
func RestoreSnapshot(store *QueryStore, data []byte, maxAge time.Duration, now time.Time) int {
	var snapshot cacheSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return 0
	}

	restored := 0
	for _, se := range snapshot.Entries {
		if maxAge > 0 && now.Sub(se.LastUpdatedAt) > maxAge {
			continue
		}
		if len(se.Value) == 0 || !json.Valid(se.Value) {
			continue
		}
		// Values stay as raw JSON; Query hands them back verbatim.
		store.Put(&CacheEntry{
			Key:           se.Key,
			Value:         se.Value,
			LastUpdatedAt: se.LastUpdatedAt,
			FetchedAt:     se.FetchedAt,
		})
		restored++
	}
	return restored
}

// SaveCritical writes the critical snapshot through the Storage boundary.
func (m *CacheManager) SaveCritical(ctx context.Context, storage Storage) error {
	data, err := SnapshotCritical(m.store, m.now())
	if err != nil {
		return err
	}
	return storage.Set(ctx, cacheStorageKey, data)
}

// LoadCritical restores persisted critical entries, bounded by
// MaxAgeCritical. A missing or malformed snapshot restores nothing and
// returns no error.
func (m *CacheManager) LoadCritical(ctx context.Context, storage Storage) (int, error) {
	data, err := storage.Get(ctx, cacheStorageKey)
	if err != nil {
		if errors.Is(err, ErrStorageKeyNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return RestoreSnapshot(m.store, data, m.config.MaxAgeCritical, m.now()), nil
}
