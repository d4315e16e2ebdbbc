package tangguh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okTransport(ctx context.Context, method, url string, body []byte, headers map[string]string) ([]byte, error) {
	return []byte(`{}`), nil
}

func failTransport(ctx context.Context, method, url string, body []byte, headers map[string]string) ([]byte, error) {
	return nil, errors.New("connection refused")
}

func TestQueueAddPersistsFIFO(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	q := NewOfflineQueue(storage, okTransport, nil)

	var ids []string
	for _, url := range []string{"/api/a", "/api/b", "/api/c"} {
		id, err := q.Add(ctx, "POST", url, []byte(`{"n":1}`), nil)
		require.NoError(t, err)
		require.NotEmpty(t, id)
		ids = append(ids, id)
	}
	assert.Equal(t, 3, q.Len())

	// The persisted payload is a JSON array in enqueue order.
	data, err := storage.Get(ctx, queueStorageKey)
	require.NoError(t, err)
	var persisted []QueueItem
	require.NoError(t, json.Unmarshal(data, &persisted))
	require.Len(t, persisted, 3)
	assert.Equal(t, "/api/a", persisted[0].URL)
	assert.Equal(t, "/api/c", persisted[2].URL)
	assert.Equal(t, ids[0], persisted[0].ID)
}

func TestQueueLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()

	first := NewOfflineQueue(storage, okTransport, nil)
	_, err := first.Add(ctx, "POST", "/api/a", []byte(`{"n":1}`), map[string]string{"X-Req": "1"})
	require.NoError(t, err)
	_, err = first.Add(ctx, "PUT", "/api/b", nil, nil)
	require.NoError(t, err)

	// A fresh queue over the same storage sees the same items.
	second := NewOfflineQueue(storage, okTransport, nil)
	require.NoError(t, second.Load(ctx))

	items := second.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "POST", items[0].Method)
	assert.Equal(t, "/api/a", items[0].URL)
	assert.JSONEq(t, `{"n":1}`, string(items[0].Body))
	assert.Equal(t, "1", items[0].Headers["X-Req"])
	assert.Equal(t, "PUT", items[1].Method)
}

func TestQueueLoadMissingOrMalformed(t *testing.T) {
	ctx := context.Background()

	t.Run("missing key", func(t *testing.T) {
		q := NewOfflineQueue(NewMemoryStorage(), okTransport, nil)
		require.NoError(t, q.Load(ctx))
		assert.Equal(t, 0, q.Len())
	})

	t.Run("malformed payload", func(t *testing.T) {
		storage := NewMemoryStorage()
		require.NoError(t, storage.Set(ctx, queueStorageKey, []byte("not json")))

		q := NewOfflineQueue(storage, okTransport, nil)
		require.NoError(t, q.Load(ctx), "malformed queue starts empty, never errors")
		assert.Equal(t, 0, q.Len())
	})
}

func TestQueueOverflowDropsOldest(t *testing.T) {
	ctx := context.Background()
	q := NewOfflineQueue(NewMemoryStorage(), okTransport, nil)
	q.SetLimit(3)

	for i := 0; i < 5; i++ {
		_, err := q.Add(ctx, "POST", fmt.Sprintf("/api/%d", i), nil, nil)
		require.NoError(t, err)
	}

	items := q.Items()
	require.Len(t, items, 3)
	assert.Equal(t, "/api/2", items[0].URL, "oldest items are dropped first")
	assert.Equal(t, "/api/4", items[2].URL)
}

func TestQueueDrainDeliversInOrder(t *testing.T) {
	ctx := context.Background()

	var delivered []string
	transport := func(ctx context.Context, method, url string, body []byte, headers map[string]string) ([]byte, error) {
		delivered = append(delivered, url)
		return []byte(`{}`), nil
	}

	q := NewOfflineQueue(NewMemoryStorage(), transport, nil)
	for _, url := range []string{"/api/a", "/api/b", "/api/c"} {
		_, err := q.Add(ctx, "POST", url, nil, nil)
		require.NoError(t, err)
	}

	result := q.Drain(ctx)

	assert.Equal(t, DrainResult{Delivered: 3}, result)
	assert.Equal(t, []string{"/api/a", "/api/b", "/api/c"}, delivered)
	assert.Equal(t, 0, q.Len())
}

func TestQueueDrainRetainsFailures(t *testing.T) {
	ctx := context.Background()

	transport := func(ctx context.Context, method, url string, body []byte, headers map[string]string) ([]byte, error) {
		if url == "/api/b" {
			return nil, errors.New("still failing")
		}
		return []byte(`{}`), nil
	}

	q := NewOfflineQueue(NewMemoryStorage(), transport, nil)
	for _, url := range []string{"/api/a", "/api/b", "/api/c"} {
		_, err := q.Add(ctx, "POST", url, nil, nil)
		require.NoError(t, err)
	}

	result := q.Drain(ctx)

	assert.Equal(t, DrainResult{Delivered: 2, Retained: 1}, result)
	items := q.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "/api/b", items[0].URL)
	assert.Equal(t, 1, items[0].RetryCount, "failed delivery increments the retry count")
}

func TestQueueDrainDropsAfterMaxRetries(t *testing.T) {
	ctx := context.Background()
	q := NewOfflineQueue(NewMemoryStorage(), failTransport, nil)
	q.SetMaxRetries(2)

	_, err := q.Add(ctx, "POST", "/api/doomed", nil, nil)
	require.NoError(t, err)

	// Passes 1 and 2 retain with retries left; pass 3 drops silently.
	assert.Equal(t, DrainResult{Retained: 1}, q.Drain(ctx))
	assert.Equal(t, DrainResult{Retained: 1}, q.Drain(ctx))
	assert.Equal(t, DrainResult{Dropped: 1}, q.Drain(ctx))
	assert.Equal(t, 0, q.Len(), "drops are observed via Items/Len, not errors")
}

func TestQueueDrainOfflineNoOp(t *testing.T) {
	ctx := context.Background()
	online := false
	q := NewOfflineQueue(NewMemoryStorage(), okTransport, func() bool { return online })

	_, err := q.Add(ctx, "POST", "/api/a", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, DrainResult{}, q.Drain(ctx), "offline drain is a no-op")
	assert.Equal(t, 1, q.Len())

	online = true
	assert.Equal(t, DrainResult{Delivered: 1}, q.Drain(ctx))
}

func TestQueueDrainSingleFlight(t *testing.T) {
	ctx := context.Background()

	release := make(chan struct{})
	started := make(chan struct{})
	var calls int
	transport := func(ctx context.Context, method, url string, body []byte, headers map[string]string) ([]byte, error) {
		calls++
		close(started)
		<-release
		return []byte(`{}`), nil
	}

	q := NewOfflineQueue(NewMemoryStorage(), transport, nil)
	_, err := q.Add(ctx, "POST", "/api/a", nil, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		q.Drain(ctx)
	}()

	<-started
	// A second drain while the first is in flight returns immediately.
	assert.Equal(t, DrainResult{}, q.Drain(ctx))
	close(release)
	wg.Wait()

	assert.Equal(t, 1, calls, "items must not be delivered twice by overlapping drains")
}

func TestQueueDrainKeepsItemsAddedMidDrain(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()

	inFlight := make(chan struct{})
	release := make(chan struct{})
	transport := func(ctx context.Context, method, url string, body []byte, headers map[string]string) ([]byte, error) {
		close(inFlight)
		<-release
		return []byte(`{}`), nil
	}

	q := NewOfflineQueue(storage, transport, nil)
	_, err := q.Add(ctx, "POST", "/api/a", nil, nil)
	require.NoError(t, err)

	done := make(chan DrainResult, 1)
	go func() { done <- q.Drain(ctx) }()

	// Enqueue while the drain's transport call is in flight.
	<-inFlight
	_, err = q.Add(ctx, "POST", "/api/b", nil, nil)
	require.NoError(t, err)
	close(release)
	result := <-done

	assert.Equal(t, DrainResult{Delivered: 1}, result)
	items := q.Items()
	require.Len(t, items, 1, "item enqueued during the drain must survive the pass")
	assert.Equal(t, "/api/b", items[0].URL)
	assert.Equal(t, 0, items[0].RetryCount, "the surviving item has had no delivery attempts")

	data, err := storage.Get(ctx, queueStorageKey)
	require.NoError(t, err)
	var persisted []QueueItem
	require.NoError(t, json.Unmarshal(data, &persisted))
	require.Len(t, persisted, 1)
	assert.Equal(t, "/api/b", persisted[0].URL)
}

func TestQueueDrainMidDrainAddOrderedAfterSurvivors(t *testing.T) {
	ctx := context.Background()

	inFlight := make(chan struct{})
	release := make(chan struct{})
	transport := func(ctx context.Context, method, url string, body []byte, headers map[string]string) ([]byte, error) {
		close(inFlight)
		<-release
		return nil, errors.New("still failing")
	}

	q := NewOfflineQueue(NewMemoryStorage(), transport, nil)
	_, err := q.Add(ctx, "POST", "/api/a", nil, nil)
	require.NoError(t, err)

	done := make(chan DrainResult, 1)
	go func() { done <- q.Drain(ctx) }()

	<-inFlight
	_, err = q.Add(ctx, "POST", "/api/b", nil, nil)
	require.NoError(t, err)
	close(release)
	result := <-done

	assert.Equal(t, DrainResult{Retained: 1}, result)
	items := q.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "/api/a", items[0].URL, "retained survivors keep their FIFO position")
	assert.Equal(t, 1, items[0].RetryCount)
	assert.Equal(t, "/api/b", items[1].URL, "mid-drain additions queue behind survivors")
	assert.Equal(t, 0, items[1].RetryCount)
}

func TestQueueDrainPersistsSurvivors(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	q := NewOfflineQueue(storage, failTransport, nil)

	_, err := q.Add(ctx, "POST", "/api/a", nil, nil)
	require.NoError(t, err)
	q.Drain(ctx)

	data, err := storage.Get(ctx, queueStorageKey)
	require.NoError(t, err)
	var persisted []QueueItem
	require.NoError(t, json.Unmarshal(data, &persisted))
	require.Len(t, persisted, 1)
	assert.Equal(t, 1, persisted[0].RetryCount, "incremented retry count survives restarts")
}

func TestQueueClear(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	q := NewOfflineQueue(storage, okTransport, nil)

	_, err := q.Add(ctx, "POST", "/api/a", nil, nil)
	require.NoError(t, err)
	q.Clear(ctx)

	assert.Equal(t, 0, q.Len())
	data, err := storage.Get(ctx, queueStorageKey)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestQueueEnqueuedAtStamped(t *testing.T) {
	ctx := context.Background()
	q := NewOfflineQueue(NewMemoryStorage(), okTransport, nil)
	fixed := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return fixed }
	q.newID = func() string { return "fixed-id" }

	id, err := q.Add(ctx, "POST", "/api/a", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", id)

	items := q.Items()
	require.Len(t, items, 1)
	assert.True(t, items[0].EnqueuedAt.Equal(fixed))
	assert.Equal(t, DefaultItemMaxRetries, items[0].MaxRetries)
}
