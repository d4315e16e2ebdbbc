package tangguh

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// queueStorageKey is the fixed Storage key the queue is persisted under,
// as a JSON array in FIFO order.
const queueStorageKey = "tangguh_offline_queue"

const (
	// DefaultQueueLimit caps the queue; oldest items are dropped first
	// when it is exceeded.
	DefaultQueueLimit = 100

	// DefaultItemMaxRetries bounds delivery attempts per queued item.
	DefaultItemMaxRetries = 3
)

// QueueItem is one pending mutation. RetryCount is incremented in place
// across drain passes; the item is dropped once it exceeds MaxRetries.
type QueueItem struct {
	ID         string            `json:"id"`
	EnqueuedAt time.Time         `json:"enqueuedAt"`
	Method     string            `json:"method"`
	URL        string            `json:"url"`
	Body       json.RawMessage   `json:"body,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	RetryCount int               `json:"retryCount"`
	MaxRetries int               `json:"maxRetries"`
}

// DrainResult reports one drain pass.
type DrainResult struct {
	Delivered int
	Retained  int
	Dropped   int
}

// OfflineQueue is a durable FIFO of pending mutations. Items are added
// when writes fail offline and replayed through the transport when
// connectivity returns. Delivery is at-most-(MaxRetries+1) attempts per
// item with observable drops, not exactly-once.
type OfflineQueue struct {
	mu         sync.Mutex
	items      []*QueueItem
	storage    Storage
	transport  Transport
	online     func() bool
	limit      int
	maxRetries int
	draining   atomic.Bool
	logger     Logger
	metrics    *MetricsCollector
	now        func() time.Time
	newID      func() string
}

// NewOfflineQueue creates a queue persisting through storage and
// delivering through transport. online gates drains; nil means always
// online.
func NewOfflineQueue(storage Storage, transport Transport, online func() bool) *OfflineQueue {
	if online == nil {
		online = func() bool { return true }
	}
	return &OfflineQueue{
		storage:    storage,
		transport:  transport,
		online:     online,
		limit:      DefaultQueueLimit,
		maxRetries: DefaultItemMaxRetries,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// SetLimit overrides the queue cap.
func (q *OfflineQueue) SetLimit(limit int) {
	if limit > 0 {
		q.limit = limit
	}
}

// SetMaxRetries overrides the per-item retry bound.
func (q *OfflineQueue) SetMaxRetries(maxRetries int) {
	if maxRetries >= 0 {
		q.maxRetries = maxRetries
	}
}

// SetLogger attaches a logger.
func (q *OfflineQueue) SetLogger(logger Logger) {
	q.logger = logger
}

// SetMetrics attaches a metrics collector.
func (q *OfflineQueue) SetMetrics(metrics *MetricsCollector) {
	q.metrics = metrics
}

// Load reads the persisted queue. Called once on startup, before the
// connectivity observer starts reporting. A missing key or malformed
// payload yields an empty queue, never an error.
func (q *OfflineQueue) Load(ctx context.Context) error {
	data, err := q.storage.Get(ctx, queueStorageKey)
	if err != nil {
		if !errors.Is(err, ErrStorageKeyNotFound) && q.logger != nil {
			q.logger.Warn("offline queue load failed, starting empty", "error", err)
		}
		return nil
	}

	var items []*QueueItem
	if err := json.Unmarshal(data, &items); err != nil {
		if q.logger != nil {
			q.logger.Warn("offline queue payload malformed, starting empty", "error", err)
		}
		items = nil
	}

	q.mu.Lock()
	q.items = items
	depth := len(items)
	q.mu.Unlock()

	q.metrics.RecordQueueDepth(depth)
	return nil
}

// Add enqueues a mutation and persists the queue. When the cap is
// exceeded the oldest items are dropped first. Returns the new item's id.
func (q *OfflineQueue) Add(ctx context.Context, method, url string, body []byte, headers map[string]string) (string, error) {
	item := &QueueItem{
		ID:         q.newID(),
		EnqueuedAt: q.now(),
		Method:     method,
		URL:        url,
		Body:       body,
		Headers:    headers,
		MaxRetries: q.maxRetries,
	}

	q.mu.Lock()
	q.items = append(q.items, item)
	overflow := len(q.items) - q.limit
	if overflow > 0 {
		q.items = q.items[overflow:]
	}
	snapshot := q.snapshotLocked()
	depth := len(q.items)
	q.mu.Unlock()

	q.metrics.RecordQueueEnqueued()
	q.metrics.RecordQueueDepth(depth)
	if overflow > 0 {
		q.metrics.RecordQueueDropped("overflow", overflow)
		if q.logger != nil {
			q.logger.Warn("offline queue overflow, oldest items dropped", "dropped", overflow)
		}
	}

	q.persist(ctx, snapshot)
	return item.ID, nil
}

// Items returns a copy of the pending items in FIFO order, for
// inspection. Drops after exhausted retries are observed here, not via
// errors.
func (q *OfflineQueue) Items() []QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := make([]QueueItem, len(q.items))
	for i, item := range q.items {
		items[i] = *item
	}
	return items
}

// Len returns the number of pending items.
func (q *OfflineQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear drops all pending items and persists the empty queue.
func (q *OfflineQueue) Clear(ctx context.Context) {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()

	q.metrics.RecordQueueDepth(0)
	q.persist(ctx, []byte("[]"))
}

// Drain attempts to deliver every pending item in enqueue order. A drain
// already in progress makes the call a no-op, as does being offline or
// empty. Per-item outcomes never surface as errors: successes are
// removed, failures with retries left stay for the next drain with
// RetryCount incremented, and exhausted items are dropped silently.
func (q *OfflineQueue) Drain(ctx context.Context) DrainResult {
	if !q.draining.CompareAndSwap(false, true) {
		return DrainResult{}
	}
	defer q.draining.Store(false)

	if !q.online() {
		return DrainResult{}
	}

	q.mu.Lock()
	pending := make([]*QueueItem, len(q.items))
	copy(pending, q.items)
	q.mu.Unlock()

	if len(pending) == 0 {
		return DrainResult{}
	}

	if q.logger != nil {
		q.logger.Info("draining offline queue", "pending", len(pending))
	}

	var result DrainResult
	retained := make([]bool, len(pending))
	for i, item := range pending {
		_, err := q.transport(ctx, item.Method, item.URL, item.Body, item.Headers)
		if err == nil {
			result.Delivered++
			q.metrics.RecordQueueDelivered()
			continue
		}

		if item.RetryCount < item.MaxRetries {
			retained[i] = true
			result.Retained++
			continue
		}

		result.Dropped++
		q.metrics.RecordQueueDropped("max_retries", 1)
		if q.logger != nil {
			q.logger.Warn("offline mutation dropped after max retries",
				"id", item.ID, "method", item.Method, "url", item.URL, "error", err)
		}
	}

	// Rebuild under the lock. Retry counts are only ever written here, so
	// concurrent Items/Add snapshots never observe a torn item. Items
	// enqueued while transport calls were in flight are kept after the
	// survivors, untouched, so they get their own delivery attempts on the
	// next pass.
	q.mu.Lock()
	processed := make(map[string]bool, len(pending))
	var survivors []*QueueItem
	for i, item := range pending {
		processed[item.ID] = true
		if retained[i] {
			item.RetryCount++
			survivors = append(survivors, item)
		}
	}
	for _, item := range q.items {
		if !processed[item.ID] {
			survivors = append(survivors, item)
		}
	}
	q.items = survivors
	snapshot := q.snapshotLocked()
	depth := len(q.items)
	q.mu.Unlock()

	q.metrics.RecordQueueDepth(depth)
	q.persist(ctx, snapshot)
	return result
}

// snapshotLocked serializes the current items; the caller holds q.mu.
func (q *OfflineQueue) snapshotLocked() []byte {
	data, err := json.Marshal(q.items)
	if err != nil {
		return []byte("[]")
	}
	if q.items == nil {
		return []byte("[]")
	}
	return data
}

// persist writes the queue to storage. Persistence failures are logged
// and absorbed: the in-memory queue stays authoritative for this process.
func (q *OfflineQueue) persist(ctx context.Context, data []byte) {
	if err := q.storage.Set(ctx, queueStorageKey, data); err != nil && q.logger != nil {
		q.logger.Warn("offline queue persist failed", "error", err)
	}
}
