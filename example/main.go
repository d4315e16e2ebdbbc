// Command example demonstrates the resilience layer end to end: a flaky
// in-memory transport, cache-backed reads, a forced offline window with
// queued mutations, and the drain that runs once connectivity returns.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/lmittmann/tint"

	"github.com/ambiyansyah-risyal/tangguh"
)

// flakySource is a scriptable connectivity source.
type flakySource struct {
	mu        sync.Mutex
	state     tangguh.NetworkState
	listeners []func(tangguh.NetworkState)
}

func (s *flakySource) Current(context.Context) (tangguh.NetworkState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, nil
}

func (s *flakySource) Subscribe(fn func(tangguh.NetworkState)) (func(), error) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
	return func() {}, nil
}

func (s *flakySource) set(state tangguh.NetworkState) {
	s.mu.Lock()
	s.state = state
	listeners := append([]func(tangguh.NetworkState){}, s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(state)
	}
}

func main() {
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelDebug}))

	source := &flakySource{state: tangguh.NetworkState{
		IsConnected:         true,
		IsInternetReachable: true,
		ConnectionType:      "wifi",
	}}

	var calls int
	var online = true
	transport := func(ctx context.Context, method, url string, body []byte, headers map[string]string) ([]byte, error) {
		if !online {
			return nil, errors.New("connection refused")
		}
		calls++
		// Every third call fails with a 500 to exercise retries.
		if calls%3 == 0 {
			return nil, tangguh.FromStatus(500, "internal server error")
		}
		return []byte(fmt.Sprintf(`{"method":%q,"url":%q}`, method, url)), nil
	}

	client := tangguh.New(transport,
		tangguh.WithStorage(tangguh.NewFileStorage(".tangguh-example")),
		tangguh.WithConnectivitySource(source),
		tangguh.WithLogger(tangguh.NewSlogLogger(logger)),
		tangguh.WithMetrics(),
		tangguh.WithAutoCleanup(time.Minute),
	)
	if !client.IsValid() {
		logger.Error("invalid configuration", "error", client.ValidationError())
		os.Exit(1)
	}

	ctx := context.Background()
	if err := client.Start(ctx); err != nil {
		logger.Error("start failed", "error", err)
		os.Exit(1)
	}
	defer client.Stop()

	// Cache-backed reads: the second call is served from cache.
	for i := 0; i < 2; i++ {
		data, err := client.Query(ctx, tangguh.Key("sales", "detail", 42), "/api/sales/42", nil)
		if err != nil {
			logger.Error("query failed", "error", err)
			continue
		}
		logger.Info("query result", "attempt", i+1, "data", string(data))
	}

	// Go offline and issue writes: they land in the queue.
	online = false
	source.set(tangguh.NetworkState{IsConnected: false, IsInternetReachable: false, ConnectionType: "none"})

	for i := 0; i < 3; i++ {
		result, err := client.Mutate(ctx, "POST", "/api/sales",
			[]byte(fmt.Sprintf(`{"order":%d}`, i)), nil)
		if err != nil {
			logger.Error("mutate failed", "error", err)
			continue
		}
		logger.Info("mutation outcome", "queued", result.Queued, "id", result.QueueID)
	}
	logger.Info("queue depth while offline", "depth", client.Queue().Len())

	// Back online: the monitor's edge fires a drain.
	online = true
	source.set(tangguh.NetworkState{IsConnected: true, IsInternetReachable: true, ConnectionType: "wifi"})
	time.Sleep(200 * time.Millisecond)
	logger.Info("queue depth after drain", "depth", client.Queue().Len())

	stats := client.Cache().Stats()
	logger.Info("cache stats",
		"total", stats.TotalQueries,
		"critical", stats.CriticalQueries,
		"sizeBytes", stats.EstimatedSizeBytes)
}
