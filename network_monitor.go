package tangguh

import (
	"context"
	"sync"
)

// NetworkState is the connectivity snapshot reported by the platform
// observer. The device counts as online only when it is both connected
// and the internet is actually reachable.
type NetworkState struct {
	IsConnected         bool
	IsInternetReachable bool
	ConnectionType      string
}

// Online reports full connectivity.
func (s NetworkState) Online() bool {
	return s.IsConnected && s.IsInternetReachable
}

// ConnectivitySource is the platform boundary the monitor subscribes to.
// On mobile this bridges a NetInfo-style observer; servers and tests can
// supply their own.
type ConnectivitySource interface {
	// Current fetches the present state.
	Current(ctx context.Context) (NetworkState, error)

	// Subscribe registers fn for every state change and returns an
	// unsubscribe func.
	Subscribe(fn func(NetworkState)) (func(), error)
}

// NetworkMonitor tracks NetworkState, fans changes out to listeners, and
// fires the online hook on every not-online → online transition. With a
// nil source the monitor defaults to always online rather than blocking
// callers.
type NetworkMonitor struct {
	mu          sync.Mutex
	source      ConnectivitySource
	state       NetworkState
	listeners   map[int]func(NetworkState)
	nextID      int
	onOnline    func()
	unsubscribe func()
	started     bool
	logger      Logger
}

// NewNetworkMonitor creates a monitor over source (nil for always-online).
func NewNetworkMonitor(source ConnectivitySource) *NetworkMonitor {
	return &NetworkMonitor{
		source:    source,
		state:     NetworkState{IsConnected: true, IsInternetReachable: true, ConnectionType: "unknown"},
		listeners: make(map[int]func(NetworkState)),
	}
}

// SetLogger attaches a logger for state-change diagnostics.
func (m *NetworkMonitor) SetLogger(logger Logger) {
	m.mu.Lock()
	m.logger = logger
	m.mu.Unlock()
}

// SetOnOnline registers the hook fired once per offline → online edge.
// The offline queue wires its drain here.
func (m *NetworkMonitor) SetOnOnline(fn func()) {
	m.mu.Lock()
	m.onOnline = fn
	m.mu.Unlock()
}

// Start performs the initial state fetch and subscribes to changes.
// Source failures leave the monitor in its always-online default.
func (m *NetworkMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started || m.source == nil {
		m.started = true
		m.mu.Unlock()
		return nil
	}
	source := m.source
	m.started = true
	m.mu.Unlock()

	if state, err := source.Current(ctx); err == nil {
		m.apply(state)
	}

	unsubscribe, err := source.Subscribe(m.apply)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.unsubscribe = unsubscribe
	m.mu.Unlock()
	return nil
}

// Stop unsubscribes from the connectivity source.
func (m *NetworkMonitor) Stop() {
	m.mu.Lock()
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	m.started = false
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// State returns the current connectivity snapshot.
func (m *NetworkMonitor) State() NetworkState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Online reports whether the device is fully online right now.
func (m *NetworkMonitor) Online() bool {
	return m.State().Online()
}

// AddListener registers fn for every state change; each call receives the
// full new state. The returned func removes the listener.
func (m *NetworkMonitor) AddListener(fn func(NetworkState)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// apply installs a new state, notifies listeners, and fires the online
// hook when the previous state was not fully online and the new one is.
func (m *NetworkMonitor) apply(state NetworkState) {
	m.mu.Lock()
	prev := m.state
	m.state = state
	listeners := make([]func(NetworkState), 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	onOnline := m.onOnline
	logger := m.logger
	m.mu.Unlock()

	if logger != nil && prev.Online() != state.Online() {
		logger.Info("connectivity changed",
			"online", state.Online(),
			"connectionType", state.ConnectionType)
	}

	for _, fn := range listeners {
		fn(state)
	}

	if onOnline != nil && !prev.Online() && state.Online() {
		onOnline()
	}
}
