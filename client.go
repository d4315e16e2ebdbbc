package tangguh

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Transport performs the actual network call. It must return an error on
// non-2xx responses (ideally via FromStatus so the status survives
// classification) and on network/timeout failures. Protocol details —
// header handling, body encoding — live entirely on the caller's side of
// this boundary.
type Transport func(ctx context.Context, method, url string, body []byte, headers map[string]string) ([]byte, error)

// DefaultStaleAfter is how long a cached query result is served without
// consulting the transport.
const DefaultStaleAfter = 5 * time.Minute

// QueryOptions tunes one read.
type QueryOptions struct {
	// StaleAfter overrides the staleness bound (DefaultStaleAfter when
	// zero).
	StaleAfter time.Duration

	// Headers are passed through to the transport.
	Headers map[string]string

	// Retry overrides the client's read retry preset.
	Retry *RetryConfig
}

// MutateOptions tunes one write.
type MutateOptions struct {
	// Headers are passed through to the transport.
	Headers map[string]string

	// Invalidate lists query keys to smart-invalidate after a successful
	// mutation (exact + module root + whole module each).
	Invalidate []QueryKey

	// Retry overrides the client's write retry preset.
	Retry *RetryConfig
}

// MutationResult reports how a write concluded: delivered data, or parked
// in the offline queue under QueueID.
type MutationResult struct {
	Data    []byte
	Queued  bool
	QueueID string
}

// Client is the cache-backed fetch façade tying the resilience layers
// together. Reads are served from the query cache while fresh; misses go
// to the transport behind per-endpoint circuit breakers, the retry engine
// and request de-duplication. Writes that fail for connectivity reasons
// land in the offline queue and replay when the device comes back online.
// Safe for concurrent use.
type Client struct {
	transport Transport
	store     *QueryStore
	manager   *CacheManager
	breakers  *BreakerRegistry
	tracker   *RequestTracker
	queue     *OfflineQueue
	monitor   *NetworkMonitor
	storage   Storage

	readRetry  RetryConfig
	writeRetry RetryConfig
	staleAfter time.Duration
	random     RandFunc

	cleanupConfig       CleanupConfig
	breakerConfig       BreakerConfig
	dedupWindow         time.Duration
	queueLimit          int
	queueMaxRetries     int
	autoCleanupInterval time.Duration
	connectivity        ConnectivitySource

	metrics *MetricsCollector
	logger  Logger

	validationError error
}

// New constructs a Client around transport using the provided functional
// options. A best effort validation is performed; call IsValid /
// ValidationError for errors.
func New(transport Transport, options ...Option) *Client {
	c := &Client{
		transport:       transport,
		storage:         NewMemoryStorage(),
		readRetry:       ReadRetryConfig(),
		writeRetry:      WriteRetryConfig(),
		staleAfter:      DefaultStaleAfter,
		cleanupConfig:   DefaultCleanupConfig(),
		dedupWindow:     DefaultDedupWindow,
		queueLimit:      DefaultQueueLimit,
		queueMaxRetries: DefaultItemMaxRetries,
	}

	for _, option := range options {
		option(c)
	}

	c.store = NewQueryStore()
	c.manager = NewCacheManager(c.store, c.cleanupConfig)
	c.manager.SetLogger(c.logger)
	c.manager.SetMetrics(c.metrics)
	c.breakers = NewBreakerRegistry(c.breakerConfig)
	c.tracker = NewRequestTracker(c.dedupWindow)
	c.monitor = NewNetworkMonitor(c.connectivity)
	c.monitor.SetLogger(c.logger)
	c.queue = NewOfflineQueue(c.storage, transport, c.monitor.Online)
	c.queue.SetLimit(c.queueLimit)
	c.queue.SetMaxRetries(c.queueMaxRetries)
	c.queue.SetLogger(c.logger)
	c.queue.SetMetrics(c.metrics)

	if err := c.ValidateConfiguration(); err != nil {
		c.validationError = err
	}

	return c
}

// Start loads persisted state and begins observing connectivity: the
// offline queue and critical cache snapshot are read before the observer
// reports its first state, the dedup sweeper starts, and the queue drain
// is wired to the offline → online edge.
func (c *Client) Start(ctx context.Context) error {
	if err := c.queue.Load(ctx); err != nil {
		return err
	}
	if restored, err := c.manager.LoadCritical(ctx, c.storage); err == nil && restored > 0 && c.logger != nil {
		c.logger.Info("restored critical cache entries", "count", restored)
	}

	c.tracker.Start()
	c.monitor.SetOnOnline(func() {
		go c.queue.Drain(context.Background())
	})
	if c.autoCleanupInterval > 0 {
		c.manager.StartAutoCleanup(c.autoCleanupInterval)
	}
	return c.monitor.Start(ctx)
}

// Stop tears the client down: background tasks halt, in-flight requests
// are cancelled, and the critical snapshot is saved.
func (c *Client) Stop() {
	c.monitor.Stop()
	c.manager.StopAutoCleanup()
	c.tracker.Stop()
	c.tracker.CancelAll()

	if err := c.manager.SaveCritical(context.Background(), c.storage); err != nil && c.logger != nil {
		c.logger.Warn("critical cache snapshot failed", "error", err)
	}
}

// Cache returns the cache manager for stats, cleanup and invalidation.
func (c *Client) Cache() *CacheManager { return c.manager }

// Store returns the underlying query store.
func (c *Client) Store() *QueryStore { return c.store }

// Queue returns the offline mutation queue for inspection.
func (c *Client) Queue() *OfflineQueue { return c.queue }

// Monitor returns the network monitor.
func (c *Client) Monitor() *NetworkMonitor { return c.monitor }

// Breakers returns the per-endpoint circuit breaker registry.
func (c *Client) Breakers() *BreakerRegistry { return c.breakers }

// Query performs a cache-backed read. A fresh cached entry is returned
// directly; a miss or stale entry goes to the transport with the read
// retry policy. When the refetch of a stale entry fails, the stale value
// is served instead of the error.
func (c *Client) Query(ctx context.Context, key QueryKey, url string, opts *QueryOptions) ([]byte, error) {
	if opts == nil {
		opts = &QueryOptions{}
	}
	staleAfter := opts.StaleAfter
	if staleAfter <= 0 {
		staleAfter = c.staleAfter
	}

	entry, cached := c.store.Get(key)
	if cached && entry.Age(time.Now()) <= staleAfter {
		c.metrics.RecordCacheHit(key.Module())
		return valueBytes(entry.Value)
	}
	c.metrics.RecordCacheMiss(key.Module())

	retry := c.readRetry
	if opts.Retry != nil {
		retry = *opts.Retry
	}
	if key.Critical() && opts.Retry == nil {
		retry = CriticalRetryConfig()
	}

	data, err := c.fetchWithRetry(ctx, "GET", url, nil, opts.Headers, retry)
	if err != nil {
		if cached {
			if c.logger != nil {
				c.logger.Warn("refetch failed, serving stale entry", "key", key.Canonical(), "error", err)
			}
			return valueBytes(entry.Value)
		}
		return nil, err
	}

	c.store.Set(key, json.RawMessage(data))
	return data, nil
}

// Invalidate smart-invalidates a key with both related and module
// invalidation enabled.
func (c *Client) Invalidate(key QueryKey) int {
	return c.manager.SmartInvalidate(key, InvalidateOptions{InvalidateRelated: true, InvalidateModule: true})
}

// Mutate performs a write. Offline, the mutation is parked in the queue
// immediately; online, it runs with the write retry policy, and a final
// connectivity-kind failure parks it as well. Queued outcomes are not
// errors: check MutationResult.Queued.
func (c *Client) Mutate(ctx context.Context, method, url string, body []byte, opts *MutateOptions) (*MutationResult, error) {
	if opts == nil {
		opts = &MutateOptions{}
	}

	if !c.monitor.Online() {
		id, err := c.queue.Add(ctx, method, url, body, opts.Headers)
		if err != nil {
			return nil, err
		}
		if c.logger != nil {
			c.logger.Info("offline, mutation queued", "method", method, "url", url, "id", id)
		}
		return &MutationResult{Queued: true, QueueID: id}, nil
	}

	retry := c.writeRetry
	if opts.Retry != nil {
		retry = *opts.Retry
	}

	data, err := c.fetchWithRetry(ctx, method, url, body, opts.Headers, retry)
	if err != nil {
		switch KindOf(err) {
		case KindNetwork, KindTimeout:
			id, addErr := c.queue.Add(ctx, method, url, body, opts.Headers)
			if addErr != nil {
				return nil, addErr
			}
			if c.logger != nil {
				c.logger.Info("transport unreachable, mutation queued", "method", method, "url", url, "id", id)
			}
			return &MutationResult{Queued: true, QueueID: id}, nil
		}
		return nil, err
	}

	for _, key := range opts.Invalidate {
		c.manager.SmartInvalidate(key, InvalidateOptions{InvalidateRelated: true, InvalidateModule: true})
	}

	return &MutationResult{Data: data}, nil
}

// ProcessOfflineQueue triggers a drain outside the automatic online-edge
// hook, e.g. from a manual "sync now" action.
func (c *Client) ProcessOfflineQueue(ctx context.Context) DrainResult {
	return c.queue.Drain(ctx)
}

// CancelRequest cancels the in-flight operation with the given identity.
func (c *Client) CancelRequest(id string) {
	c.tracker.CancelRequest(id)
}

// CancelAllRequests cancels every tracked in-flight operation. Used on
// logout and teardown.
func (c *Client) CancelAllRequests() {
	c.tracker.CancelAll()
}

// fetchWithRetry runs one logical request through the breaker gate, the
// dedup tracker and the retry engine. The transport call observes both
// the caller's context and the shared controller's, so cancelling either
// aborts it; a result arriving after cancellation is discarded by the
// transport erroring out.
func (c *Client) fetchWithRetry(ctx context.Context, method, url string, body []byte, headers map[string]string, cfg RetryConfig) ([]byte, error) {
	endpoint := url
	var identityBody any
	if body != nil {
		identityBody = json.RawMessage(body)
	}
	id := RequestIdentity(method, url, identityBody)

	failures := 0
	for {
		cb := c.breakers.Get(endpoint)
		if !cb.CanProceed() {
			if c.logger != nil {
				c.logger.Warn("circuit open, request skipped", "method", method, "endpoint", endpoint)
			}
			return nil, fmt.Errorf("endpoint %s: %w", endpoint, ErrCircuitOpen)
		}

		ctrl, shared := c.tracker.Controller(id, url, method)
		if shared {
			c.metrics.RecordDeduplicationHit(method)
		}

		callCtx, cancel := context.WithCancel(ctx)
		stop := context.AfterFunc(ctrl.Context(), cancel)
		start := time.Now()
		data, err := c.transport(callCtx, method, url, body, headers)
		stop()
		cancel()
		duration := time.Since(start)

		if err == nil {
			cb.RecordSuccess()
			c.metrics.RecordCircuitBreakerState(endpoint, cb.State())
			c.metrics.RecordRequest(method, endpoint, "success", duration)
			return data, nil
		}

		classified := Classify(err)
		cb.RecordFailure()
		c.metrics.RecordCircuitBreakerState(endpoint, cb.State())
		c.metrics.RecordRequest(method, endpoint, "failure", duration)
		c.metrics.RecordError(classified.Kind, method, endpoint)

		failures++
		if !ShouldRetry(failures, classified, cfg) {
			annotated := *classified
			annotated.Retryable = IsRetryableKind(classified.Kind)
			return nil, &annotated
		}

		delay := RetryDelayWith(failures, cfg, c.random)
		c.metrics.RecordRetry(method, endpoint, failures)
		if c.logger != nil {
			c.logger.Debug("scheduling retry",
				"method", method, "endpoint", endpoint, "failures", failures, "delay", delay)
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// valueBytes renders a cached value back to the raw payload handed to
// Set. Restored snapshot values round-trip through json.RawMessage.
func valueBytes(value any) ([]byte, error) {
	switch v := value.(type) {
	case json.RawMessage:
		return v, nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(v)
	}
}

// IsValid reports whether configuration validation passed at construction.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (c *Client) ValidationError() error {
	return c.validationError
}
