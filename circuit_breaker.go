package tangguh

import (
	"sync"
	"sync/atomic"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int64

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

// String returns the state name.
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds circuit breaker configuration.
type BreakerConfig struct {
	FailureThreshold int
	OpenTimeout      time.Duration
}

// CircuitBreaker is a per-endpoint breaker. A breaker stops calls to its
// endpoint after FailureThreshold failures; once OpenTimeout elapses a
// single trial call is let through (half-open), and one success fully
// closes the circuit again.
type CircuitBreaker struct {
	config      BreakerConfig
	state       int64
	failures    int64
	lastFailure int64
}

// NewCircuitBreaker creates a breaker, applying defaults for zero fields
// (threshold 5, open timeout 60s).
func NewCircuitBreaker(config BreakerConfig) *CircuitBreaker {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.OpenTimeout == 0 {
		config.OpenTimeout = 60 * time.Second
	}

	return &CircuitBreaker{
		config: config,
		state:  int64(StateClosed),
	}
}

// CanProceed reports whether a call may be attempted. When the circuit is
// open and the open timeout has elapsed, exactly one caller performs the
// open → half-open transition (resetting the failure count); every caller
// arriving after the elapsed timeout is allowed through. CanProceed never
// returns an error: a false return is a signal the caller must honor by
// skipping the attempt.
func (cb *CircuitBreaker) CanProceed() bool {
	switch CircuitState(atomic.LoadInt64(&cb.state)) {
	case StateOpen:
		lastFailure := atomic.LoadInt64(&cb.lastFailure)
		if time.Now().UnixNano()-lastFailure > int64(cb.config.OpenTimeout) {
			if atomic.CompareAndSwapInt64(&cb.state, int64(StateOpen), int64(StateHalfOpen)) {
				atomic.StoreInt64(&cb.failures, 0)
			}
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess resets the failure count and closes the circuit
// unconditionally: a single success while half-open fully recovers.
func (cb *CircuitBreaker) RecordSuccess() {
	atomic.StoreInt64(&cb.failures, 0)
	atomic.StoreInt64(&cb.state, int64(StateClosed))
}

// RecordFailure stamps the failure time and increments the count; at
// FailureThreshold the circuit opens.
func (cb *CircuitBreaker) RecordFailure() {
	atomic.StoreInt64(&cb.lastFailure, time.Now().UnixNano())
	failures := atomic.AddInt64(&cb.failures, 1)
	if failures >= int64(cb.config.FailureThreshold) {
		atomic.StoreInt64(&cb.state, int64(StateOpen))
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	return CircuitState(atomic.LoadInt64(&cb.state))
}

// Failures returns the current consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	return int(atomic.LoadInt64(&cb.failures))
}

// BreakerRegistry holds one breaker per distinct endpoint string, created
// lazily and kept for the registry's lifetime. Owned by a Client rather
// than the package, so isolated instances can coexist.
type BreakerRegistry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	config   BreakerConfig
}

// NewBreakerRegistry creates an empty registry; config applies to every
// breaker it creates.
func NewBreakerRegistry(config BreakerConfig) *BreakerRegistry {
	return &BreakerRegistry{
		breakers: make(map[string]*CircuitBreaker),
		config:   config,
	}
}

// Get returns the breaker for endpoint, creating it on first use.
func (r *BreakerRegistry) Get(endpoint string) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[endpoint]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[endpoint]; ok {
		return cb
	}
	cb = NewCircuitBreaker(r.config)
	r.breakers[endpoint] = cb
	return cb
}

// States returns a snapshot of every known endpoint's breaker state.
func (r *BreakerRegistry) States() map[string]CircuitState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	states := make(map[string]CircuitState, len(r.breakers))
	for endpoint, cb := range r.breakers {
		states[endpoint] = cb.State()
	}
	return states
}
