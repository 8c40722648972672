// Package manager maintains the named registry of tunnels, serializes
// control-plane operations per network, and drives autostart/shutdown
// across the whole registry.
package manager

import (
	"context"
	"sync"

	"github.com/tunnelmesh/wgagentd/agentlog"
	"github.com/tunnelmesh/wgagentd/config"
	"github.com/tunnelmesh/wgagentd/platform"
	"github.com/tunnelmesh/wgagentd/tunnel"
)

// maxParallelShutdown bounds how many tunnels are stopped concurrently
// during ShutdownAll, so a large fleet doesn't open hundreds of
// goroutines tearing down TUN devices at once.
const maxParallelShutdown = 8

// Manager owns the registry of tunnel.Tunnel instances keyed by network
// name. Registry mutations (Register) hold mu; individual
// tunnel lifecycle calls are serialized by the Tunnel itself, never by
// Manager, matching the "manager lock before tunnel lock, never the
// reverse" ordering rule.
type Manager struct {
	log        *agentlog.Logger
	capability platform.Capability

	mu      sync.RWMutex
	tunnels map[string]*tunnel.Tunnel
}

// New constructs an empty registry bound to a single platform capability
// shared by every tunnel this process manages.
func New(log *agentlog.Logger, capability platform.Capability) *Manager {
	return &Manager{
		log:        log,
		capability: capability,
		tunnels:    make(map[string]*tunnel.Tunnel),
	}
}

// Register adds a tunnel for name to the registry without starting it.
// Re-registering an existing name replaces its entry; callers are
// responsible for stopping the old tunnel first.
func (m *Manager) Register(name string, cfg config.NetworkConfig) *tunnel.Tunnel {
	t := tunnel.New(name, cfg, m.capability, m.log.With("network", name))

	m.mu.Lock()
	m.tunnels[name] = t
	m.mu.Unlock()

	return t
}

func (m *Manager) lookup(name string) (*tunnel.Tunnel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tunnels[name]
	if !ok {
		return nil, notFound(name)
	}
	return t, nil
}

// AutoStart registers and starts every network with enable_wireguard set,
// logging failures per network without aborting the remaining ones.
func (m *Manager) AutoStart(ctx context.Context, cfg *config.Config) {
	for name, netCfg := range cfg.Networks {
		if !netCfg.EnableWireGuard {
			continue
		}
		t := m.Register(name, netCfg)
		if err := t.Start(ctx); err != nil {
			m.log.Error("autostart failed", "network", name, "error", err)
			continue
		}
		m.log.Info("autostart succeeded", "network", name)
	}
}

// Connect starts the named tunnel. A tunnel already Starting, Active, or
// Stopping reports InvalidState rather than attempting a concurrent
// transition.
func (m *Manager) Connect(ctx context.Context, name string) error {
	t, err := m.lookup(name)
	if err != nil {
		return err
	}
	switch t.State() {
	case tunnel.Active, tunnel.Starting, tunnel.Stopping:
		return invalidState(name, t.State())
	}
	return t.Start(ctx)
}

// Disconnect stops the named tunnel. Stopping an already-stopped tunnel
// is a no-op success, matching Tunnel.Stop's idempotence.
func (m *Manager) Disconnect(ctx context.Context, name string) error {
	t, err := m.lookup(name)
	if err != nil {
		return err
	}
	return t.Stop(ctx)
}

// Reload replaces the named tunnel's configuration via stop-then-start.
func (m *Manager) Reload(ctx context.Context, name string, cfg config.NetworkConfig) error {
	t, err := m.lookup(name)
	if err != nil {
		return err
	}
	return t.Reload(ctx, cfg)
}

// Status returns a point-in-time snapshot for the named tunnel.
func (m *Manager) Status(name string) (tunnel.Snapshot, error) {
	t, err := m.lookup(name)
	if err != nil {
		return tunnel.Snapshot{}, err
	}
	return t.Stats(), nil
}

// ListStatus returns snapshots for every registered tunnel, read-only.
func (m *Manager) ListStatus() []tunnel.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]tunnel.Snapshot, 0, len(m.tunnels))
	for _, t := range m.tunnels {
		out = append(out, t.Stats())
	}
	return out
}

// ShutdownAll stops every registered tunnel, bounded to maxParallelShutdown
// concurrent stops, and awaits completion before returning.
func (m *Manager) ShutdownAll(ctx context.Context) {
	m.mu.RLock()
	tunnels := make([]*tunnel.Tunnel, 0, len(m.tunnels))
	for _, t := range m.tunnels {
		tunnels = append(tunnels, t)
	}
	m.mu.RUnlock()

	sem := make(chan struct{}, maxParallelShutdown)
	var wg sync.WaitGroup
	for _, t := range tunnels {
		t := t
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if err := t.Stop(ctx); err != nil {
				m.log.Error("shutdown failed", "network", t.Name(), "error", err)
			}
		}()
	}
	wg.Wait()
}
