package tangguh

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastRetry keeps test retries sub-millisecond.
func fastRetry(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:   maxRetries,
		InitialDelay: time.Microsecond,
		MaxDelay:     time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestNewValidation(t *testing.T) {
	t.Run("valid defaults", func(t *testing.T) {
		c := New(okTransport)
		assert.True(t, c.IsValid())
		assert.NoError(t, c.ValidationError())
	})

	t.Run("nil transport", func(t *testing.T) {
		c := New(nil)
		assert.False(t, c.IsValid())
		assert.Equal(t, KindValidation, KindOf(c.ValidationError()))
	})

	t.Run("bad retry config", func(t *testing.T) {
		c := New(okTransport, WithReadRetry(RetryConfig{MaxRetries: -1}))
		assert.False(t, c.IsValid())
	})

	t.Run("bad queue limit", func(t *testing.T) {
		c := New(okTransport, WithQueueLimit(0))
		assert.False(t, c.IsValid())
	})
}

func TestClientQueryCachesResult(t *testing.T) {
	var calls int
	transport := func(ctx context.Context, method, url string, body []byte, headers map[string]string) ([]byte, error) {
		calls++
		return []byte(`{"total":100}`), nil
	}

	c := New(transport)
	ctx := context.Background()
	key := Key("sales", "detail", 42)

	first, err := c.Query(ctx, key, "/api/sales/42", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"total":100}`, string(first))
	assert.Equal(t, 1, calls)

	// Fresh entry: served from cache without touching the transport.
	second, err := c.Query(ctx, key, "/api/sales/42", nil)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
	assert.Equal(t, 1, calls)
}

func TestClientQueryRetriesThenSucceeds(t *testing.T) {
	var calls int
	transport := func(ctx context.Context, method, url string, body []byte, headers map[string]string) ([]byte, error) {
		calls++
		if calls < 3 {
			return nil, FromStatus(503, "unavailable")
		}
		return []byte(`{"ok":true}`), nil
	}

	c := New(transport)
	retry := fastRetry(3)

	data, err := c.Query(context.Background(), Key("sales", "list"), "/api/sales", &QueryOptions{Retry: &retry})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(data))
	assert.Equal(t, 3, calls)
}

func TestClientQueryNonRetryableFailsFast(t *testing.T) {
	var calls int
	transport := func(ctx context.Context, method, url string, body []byte, headers map[string]string) ([]byte, error) {
		calls++
		return nil, FromStatus(404, "missing")
	}

	c := New(transport)
	retry := fastRetry(3)

	_, err := c.Query(context.Background(), Key("sales", "detail", 1), "/api/sales/1", &QueryOptions{Retry: &retry})
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.Equal(t, 1, calls, "404 must not be retried")

	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.False(t, apiErr.Retryable)
}

func TestClientQueryServesStaleOnRefetchFailure(t *testing.T) {
	var fail bool
	transport := func(ctx context.Context, method, url string, body []byte, headers map[string]string) ([]byte, error) {
		if fail {
			return nil, errors.New("connection refused")
		}
		return []byte(`{"v":1}`), nil
	}

	c := New(transport, WithReadRetry(fastRetry(0)))
	ctx := context.Background()
	key := Key("sales", "list")

	_, err := c.Query(ctx, key, "/api/sales", nil)
	require.NoError(t, err)

	// Age the entry past the staleness bound, then break the transport.
	entry, ok := c.Store().Get(key)
	require.True(t, ok)
	old := time.Now().Add(-time.Hour)
	c.Store().Put(&CacheEntry{Key: key, Value: entry.Value, LastUpdatedAt: old, FetchedAt: old})
	fail = true

	data, err := c.Query(ctx, key, "/api/sales", nil)
	require.NoError(t, err, "refetch failure should fall back to the stale value")
	assert.JSONEq(t, `{"v":1}`, string(data))
}

func TestClientQueryCircuitOpen(t *testing.T) {
	transport := func(ctx context.Context, method, url string, body []byte, headers map[string]string) ([]byte, error) {
		return nil, FromStatus(500, "boom")
	}

	c := New(transport,
		WithReadRetry(fastRetry(0)),
		WithBreakerConfig(BreakerConfig{FailureThreshold: 1, OpenTimeout: time.Minute}),
	)
	ctx := context.Background()

	_, err := c.Query(ctx, Key("sales", "list"), "/api/sales", nil)
	require.Error(t, err)

	// The breaker tripped: the next call is rejected without a transport hit.
	_, err = c.Query(ctx, Key("sales", "list"), "/api/sales", nil)
	require.ErrorIs(t, err, ErrCircuitOpen)

	// Other endpoints have their own breakers.
	states := c.Breakers().States()
	assert.Equal(t, StateOpen, states["/api/sales"])
}

func TestClientMutateOnline(t *testing.T) {
	var gotMethod, gotURL string
	transport := func(ctx context.Context, method, url string, body []byte, headers map[string]string) ([]byte, error) {
		gotMethod, gotURL = method, url
		return []byte(`{"id":7}`), nil
	}

	c := New(transport)
	result, err := c.Mutate(context.Background(), "POST", "/api/sales", []byte(`{"order":1}`), nil)
	require.NoError(t, err)

	assert.False(t, result.Queued)
	assert.JSONEq(t, `{"id":7}`, string(result.Data))
	assert.Equal(t, "POST", gotMethod)
	assert.Equal(t, "/api/sales", gotURL)
}

func TestClientMutateOfflineQueues(t *testing.T) {
	source := &fakeSource{state: stateOffline}
	c := New(okTransport, WithConnectivitySource(source))
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	defer c.Stop()

	result, err := c.Mutate(ctx, "POST", "/api/sales", []byte(`{"order":1}`), nil)
	require.NoError(t, err, "queued mutations are not errors")

	assert.True(t, result.Queued)
	assert.NotEmpty(t, result.QueueID)
	assert.Equal(t, 1, c.Queue().Len())
}

func TestClientMutateConnectivityFailureQueues(t *testing.T) {
	transport := func(ctx context.Context, method, url string, body []byte, headers map[string]string) ([]byte, error) {
		return nil, errors.New("connection refused")
	}

	c := New(transport, WithWriteRetry(fastRetry(0)))
	result, err := c.Mutate(context.Background(), "POST", "/api/sales", []byte(`{"order":1}`), nil)
	require.NoError(t, err)

	assert.True(t, result.Queued, "network-kind write failures park in the queue")
	assert.Equal(t, 1, c.Queue().Len())
}

func TestClientMutateServerFailureDoesNotQueue(t *testing.T) {
	transport := func(ctx context.Context, method, url string, body []byte, headers map[string]string) ([]byte, error) {
		return nil, FromStatus(422, "invalid payload")
	}

	c := New(transport, WithWriteRetry(fastRetry(0)))
	_, err := c.Mutate(context.Background(), "POST", "/api/sales", []byte(`{}`), nil)

	require.Error(t, err, "non-connectivity failures surface to the caller")
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Equal(t, 0, c.Queue().Len())
}

func TestClientMutateInvalidates(t *testing.T) {
	c := New(okTransport)
	ctx := context.Background()

	c.Store().Set(Key("sales", "detail", 42), "cached")
	c.Store().Set(Key("sales", "list"), "cached")
	c.Store().Set(Key("stock", "list"), "cached")

	_, err := c.Mutate(ctx, "PUT", "/api/sales/42", []byte(`{}`), &MutateOptions{
		Invalidate: []QueryKey{Key("sales", "detail", 42)},
	})
	require.NoError(t, err)

	_, ok := c.Store().Get(Key("sales", "detail", 42))
	assert.False(t, ok)
	_, ok = c.Store().Get(Key("sales", "list"))
	assert.False(t, ok, "module invalidation removes siblings")
	_, ok = c.Store().Get(Key("stock", "list"))
	assert.True(t, ok)
}

func TestClientDrainOnOnlineEdge(t *testing.T) {
	source := &fakeSource{state: stateOffline}

	var delivered int
	transport := func(ctx context.Context, method, url string, body []byte, headers map[string]string) ([]byte, error) {
		delivered++
		return []byte(`{}`), nil
	}

	c := New(transport, WithConnectivitySource(source))
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	defer c.Stop()

	for i := 0; i < 3; i++ {
		result, err := c.Mutate(ctx, "POST", "/api/sales", []byte(`{}`), nil)
		require.NoError(t, err)
		require.True(t, result.Queued)
	}

	source.emit(stateOnline)

	require.Eventually(t, func() bool {
		return c.Queue().Len() == 0
	}, time.Second, 5*time.Millisecond, "reconnect should drain the queue")
	assert.Equal(t, 3, delivered)
}

func TestClientPersistenceAcrossRestart(t *testing.T) {
	storage := NewMemoryStorage()
	ctx := context.Background()

	first := New(okTransport, WithStorage(storage))
	require.NoError(t, first.Start(ctx))
	_, err := first.Query(ctx, Key("user", "profile"), "/api/me", nil)
	require.NoError(t, err)
	_, err = first.Query(ctx, Key("sales", "list"), "/api/sales", nil)
	require.NoError(t, err)
	first.Stop() // snapshots critical entries

	second := New(okTransport, WithStorage(storage))
	require.NoError(t, second.Start(ctx))
	defer second.Stop()

	_, ok := second.Store().Get(Key("user", "profile"))
	assert.True(t, ok, "critical entries survive restart")
	_, ok = second.Store().Get(Key("sales", "list"))
	assert.False(t, ok, "non-critical entries do not")
}

func TestClientCancelAllRequests(t *testing.T) {
	c := New(okTransport)

	// Track an in-flight identity, then tear everything down.
	ctrl, _ := c.tracker.Controller("id-1", "/api/sales", "GET")
	c.CancelAllRequests()

	select {
	case <-ctrl.Context().Done():
	default:
		t.Error("CancelAllRequests should cancel tracked contexts")
	}
}

func TestClientProcessOfflineQueue(t *testing.T) {
	c := New(okTransport)
	ctx := context.Background()

	_, err := c.Queue().Add(ctx, "POST", "/api/sales", nil, nil)
	require.NoError(t, err)

	result := c.ProcessOfflineQueue(ctx)
	assert.Equal(t, DrainResult{Delivered: 1}, result)
}

func TestClientInvalidate(t *testing.T) {
	c := New(okTransport)
	c.Store().Set(Key("sales", "detail", 42), "v")
	c.Store().Set(Key("sales", "list"), "v")

	removed := c.Invalidate(Key("sales", "detail", 42))
	assert.Equal(t, 2, removed)
	assert.Equal(t, 0, c.Store().Len())
}
