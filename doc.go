// Package tangguh is an offline-first data-access resilience layer for
// API clients: a query-keyed result cache with bounded eviction, a retry
// engine with per-endpoint circuit breakers, a durable offline mutation
// queue drained when connectivity returns, and in-flight request
// de-duplication with shared cancellation handles.
//
//   - Query cache keyed by hierarchical keys ([module, "list", filters]),
//     with critical/non-critical classification, age cleanup, and
//     size/count-bounded eviction that never touches critical entries
//   - Retries with exponential backoff + jitter and per-error-kind presets
//   - Circuit breaker per endpoint (open / half-open / closed states)
//   - Offline mutation queue persisted through a pluggable Storage
//     (memory, file, Redis), drained in FIFO order with bounded retries
//   - Request de-duplication inside a short window, sharing one
//     cancellation handle between identical callers
//   - Prometheus metrics and lightweight structured logging
//
// Design goals:
//   - Small surface area – functional options configure everything
//   - The transport is caller supplied: any func that performs the actual
//     network call and rejects on non-2xx / network / timeout failures
//   - Safe concurrent use of a single *Client instance
//   - Isolated instances – no package-level registries, so tests can run
//     independent clients side by side
//
// Typical usage:
//
//	client := tangguh.New(transport,
//	    tangguh.WithStorage(tangguh.NewFileStorage(dir)),
//	    tangguh.WithConnectivitySource(source),
//	    tangguh.WithMetrics(),
//	)
//	client.Start(ctx)
//	defer client.Stop()
//
//	data, err := client.Query(ctx, tangguh.Key("sales", "detail", 42), url, nil)
//
// Reads are served from cache while fresh; misses and stale entries go to
// the transport behind the retry engine and circuit breaker. Writes that
// fail while offline are parked in the offline queue and replayed once the
// network monitor reports the device back online.
package tangguh
