package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cascade-irc/client/internal/constants"
	"github.com/cascade-irc/client/internal/logger"
	"github.com/cascade-irc/client/internal/state"
)

// Manager owns every configured network's Connection and staggers their
// initial auto-connect attempts, grounded on the reference client's
// connectingNetworks in-progress tracking in app.go (there keyed per
// connection attempt; here one Connection per network for the lifetime of
// the process).
type Manager struct {
	mu          sync.Mutex
	connections map[string]*Connection
	cancels     map[string]context.CancelFunc
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{
		connections: make(map[string]*Connection),
		cancels:     make(map[string]context.CancelFunc),
	}
}

// Add registers a network's Connection under its NetworkKey. It is an error
// to add the same network twice while it is still registered.
func (m *Manager) Add(opts Options) (*Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := opts.Info.NetworkKey()
	if _, exists := m.connections[key]; exists {
		return nil, fmt.Errorf("orchestrator: network %s already registered", key)
	}
	conn := New(opts)
	m.connections[key] = conn
	return conn, nil
}

// Connect starts the reconnect loop for one already-added network, in its
// own goroutine. It does not stop a loop already running for that network,
// and a network stopped by Disconnect stays stopped: its Connection's Run
// returns at once.
func (m *Manager) Connect(ctx context.Context, networkKey string) error {
	m.mu.Lock()
	conn, ok := m.connections[networkKey]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("orchestrator: unknown network %s", networkKey)
	}
	attemptCtx, cancel := context.WithCancel(ctx)
	m.cancels[networkKey] = cancel
	m.mu.Unlock()

	go conn.Run(attemptCtx)
	return nil
}

// AutoConnectAll starts every registered network whose ConnectionInfo has a
// non-empty host, staggering each start by ConnectionStaggerDelay after the
// initial AutoConnectDelay, per the reference client's startup sequencing.
func (m *Manager) AutoConnectAll(ctx context.Context) {
	m.mu.Lock()
	keys := make([]string, 0, len(m.connections))
	for k, conn := range m.connections {
		if conn.opts.Info.Host != "" {
			keys = append(keys, k)
		}
	}
	m.mu.Unlock()

	go func() {
		select {
		case <-time.After(constants.AutoConnectDelay):
		case <-ctx.Done():
			return
		}
		for _, key := range keys {
			if err := m.Connect(ctx, key); err != nil {
				logger.Log.Warn().Err(err).Str("network", key).Msg("orchestrator: auto-connect failed to start")
			}
			select {
			case <-time.After(constants.ConnectionStaggerDelay):
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Disconnect stops one network's reconnect loop and closes its active
// connection.
func (m *Manager) Disconnect(networkKey string) {
	m.mu.Lock()
	conn, ok := m.connections[networkKey]
	cancel := m.cancels[networkKey]
	delete(m.cancels, networkKey)
	m.mu.Unlock()
	if !ok {
		return
	}
	conn.Stop()
	if cancel != nil {
		cancel()
	}
}

// Get returns the Connection for a network key, if registered.
func (m *Manager) Get(networkKey string) (*Connection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.connections[networkKey]
	return conn, ok
}

// States returns a snapshot of every registered network's current
// ConnectionState, keyed by network.
func (m *Manager) States() map[string]state.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]state.ConnectionState, len(m.connections))
	for k, conn := range m.connections {
		out[k] = conn.State()
	}
	return out
}
