package tangguh

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// DefaultDedupWindow is how long identical requests share one in-flight
// operation instead of issuing duplicates.
const DefaultDedupWindow = time.Second

const sweepInterval = 5 * time.Second

// RequestIdentity computes the stable identity of a request:
// method + ":" + url + ":" + JSON(body), with a nil body encoding as "".
func RequestIdentity(method, url string, body any) string {
	if body == nil {
		body = ""
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		encoded = []byte(fmt.Sprintf("%v", body))
	}
	return method + ":" + url + ":" + string(encoded)
}

// RequestController is the cancellation handle for one in-flight request
// identity. Cancellation is cooperative: the context signals the transport
// to abort, and results arriving after cancellation are discardable.
type RequestController struct {
	id        string
	method    string
	url       string
	ctx       context.Context
	cancel    context.CancelFunc
	createdAt time.Time
}

// Context returns the context governing the in-flight operation.
func (rc *RequestController) Context() context.Context {
	return rc.ctx
}

// Cancel aborts the in-flight operation.
func (rc *RequestController) Cancel() {
	rc.cancel()
}

// RequestTracker deduplicates in-flight requests: identical requests
// issued within the dedup window share one RequestController. A periodic
// sweep drops entries older than twice the window so memory stays bounded
// even when callers never clean up.
type RequestTracker struct {
	mu      sync.Mutex
	entries map[string]*RequestController
	window  time.Duration
	stopCh  chan struct{}
	now     func() time.Time
}

// NewRequestTracker returns a tracker with the given dedup window
// (DefaultDedupWindow when zero).
func NewRequestTracker(window time.Duration) *RequestTracker {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &RequestTracker{
		entries: make(map[string]*RequestController),
		window:  window,
		now:     time.Now,
	}
}

// Controller returns the cancellation handle for the given identity and
// whether it was shared with an earlier caller. An active entry younger
// than the window is shared as-is; an older one is cancelled and replaced
// by a fresh handle.
func (t *RequestTracker) Controller(id, url, method string) (*RequestController, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if existing, ok := t.entries[id]; ok {
		if now.Sub(existing.createdAt) < t.window {
			return existing, true
		}
		existing.cancel()
	}

	ctx, cancel := context.WithCancel(context.Background())
	rc := &RequestController{
		id:        id,
		method:    method,
		url:       url,
		ctx:       ctx,
		cancel:    cancel,
		createdAt: now,
	}
	t.entries[id] = rc
	return rc, false
}

// CancelRequest cancels and removes the entry for id, if present.
func (t *RequestTracker) CancelRequest(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rc, ok := t.entries[id]; ok {
		rc.cancel()
		delete(t.entries, id)
	}
}

// CancelAll cancels and clears every tracked entry. Used on logout and
// teardown.
func (t *RequestTracker) CancelAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, rc := range t.entries {
		rc.cancel()
		delete(t.entries, id)
	}
}

// Len returns the number of tracked entries.
func (t *RequestTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Start launches the periodic sweeper. Starting an already-started
// tracker is a no-op.
func (t *RequestTracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopCh != nil {
		return
	}
	stopCh := make(chan struct{})
	t.stopCh = stopCh

	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.sweep()
			case <-stopCh:
				return
			}
		}
	}()
}

// Stop halts the sweeper.
func (t *RequestTracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopCh != nil {
		close(t.stopCh)
		t.stopCh = nil
	}
}

// sweep drops entries older than twice the dedup window.
func (t *RequestTracker) sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-2 * t.window)
	for id, rc := range t.entries {
		if rc.createdAt.Before(cutoff) {
			rc.cancel()
			delete(t.entries, id)
		}
	}
}
