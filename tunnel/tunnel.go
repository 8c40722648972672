// Package tunnel implements the per-network lifecycle state machine that
// wraps one packet engine: it owns the platform side effects (TUN,
// address, routes, DNS) and reports aggregate stats, but delegates all
// cryptographic and data-plane work to package engine.
package tunnel

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tunnelmesh/wgagentd/agentlog"
	"github.com/tunnelmesh/wgagentd/config"
	"github.com/tunnelmesh/wgagentd/engine"
	"github.com/tunnelmesh/wgagentd/platform"
	"github.com/tunnelmesh/wgagentd/wgkey"
)

// StartTimeout bounds how long Start may take before it gives up.
const StartTimeout = 10 * time.Second

// StopTimeout bounds how long Stop awaits task drain before forcing
// resource close anyway.
const StopTimeout = 5 * time.Second

// Snapshot is the point-in-time view returned by Stats.
type Snapshot struct {
	Network         string
	State           State
	Interface       string
	PeersTotal      int
	PeersActive     int
	PeerNames       []string
	TxBytes         uint64
	RxBytes         uint64
	DropsNoPeer     uint64
	DropsNoEndpoint uint64
	TUNReadErrors   uint64
	RxAuthFailures  uint64
	TxDrops         uint64
}

// Tunnel owns one network's lifecycle.
type Tunnel struct {
	name string
	capability platform.Capability
	log  *agentlog.Logger

	mu     sync.Mutex // serializes Start/Stop/Reload
	cfg    config.NetworkConfig
	state  atomic.Int32
	reason string

	// handlesMu guards eng/tunHandle independently of mu, so Stats can
	// read a consistent pair of pointers without blocking for the
	// duration of a Start/Stop/Reload call.
	handlesMu sync.RWMutex
	eng       *engine.Engine
	tunHandle platform.TUN

	routes     []*net.IPNet
	dnsApplied bool
	privKey    wgkey.PrivateKey
}

// New constructs a Tunnel in the Uninitialized state.
func New(name string, cfg config.NetworkConfig, capability platform.Capability, log *agentlog.Logger) *Tunnel {
	t := &Tunnel{name: name, cfg: cfg, capability: capability, log: log}
	t.state.Store(int32(Uninitialized))
	return t
}

// State returns the current lifecycle state, lock-free.
func (t *Tunnel) State() State {
	return State(t.state.Load())
}

func (t *Tunnel) setState(s State) {
	t.state.Store(int32(s))
}

// Name returns the network name this tunnel was constructed for.
func (t *Tunnel) Name() string { return t.name }

func (t *Tunnel) setTunHandle(tun platform.TUN) {
	t.handlesMu.Lock()
	t.tunHandle = tun
	t.handlesMu.Unlock()
}

func (t *Tunnel) setEngine(eng *engine.Engine) {
	t.handlesMu.Lock()
	t.eng = eng
	t.handlesMu.Unlock()
}

func (t *Tunnel) handles() (*engine.Engine, platform.TUN) {
	t.handlesMu.RLock()
	defer t.handlesMu.RUnlock()
	return t.eng, t.tunHandle
}

// Start opens the TUN device, applies platform side effects, builds the
// packet engine, adds configured peers, and transitions to Active. Any
// failure rewinds partial side effects (best-effort) and transitions to
// Errored.
func (t *Tunnel) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.State() {
	case Active:
		return fmt.Errorf("tunnel %s: already active", t.name)
	case Starting, Stopping:
		return fmt.Errorf("tunnel %s: lifecycle transition already in flight", t.name)
	}

	ctx, cancel := context.WithTimeout(ctx, StartTimeout)
	defer cancel()

	t.setState(Starting)

	if err := t.start(ctx); err != nil {
		t.rollback()
		t.reason = err.Error()
		t.setState(Errored)
		return err
	}

	t.setState(Active)
	return nil
}

func (t *Tunnel) start(ctx context.Context) error {
	priv, err := loadPrivateKey(t.cfg.PrivateKeyPath)
	if err != nil {
		return fmt.Errorf("loading private key: %w", err)
	}
	t.privKey = priv

	tun, err := t.capability.OpenTUN(t.cfg.Interface, t.cfg.MTU)
	if err != nil {
		return fmt.Errorf("opening TUN device: %w", err)
	}
	t.setTunHandle(tun)

	if t.cfg.Address != "" {
		ip, cidr, err := net.ParseCIDR(t.cfg.Address)
		if err != nil {
			return fmt.Errorf("parsing interface address: %w", err)
		}
		cidr.IP = ip
		if err := t.capability.SetAddress(tun.Name(), cidr); err != nil {
			return fmt.Errorf("setting interface address: %w", err)
		}
	}

	eng, err := engine.New(tun, priv, uint16(t.cfg.ListenPort), t.log)
	if err != nil {
		return fmt.Errorf("constructing packet engine: %w", err)
	}
	t.setEngine(eng)

	for _, dst := range dedupRoutes(t.cfg.Peers) {
		if err := t.capability.AddRoute(tun.Name(), dst); err != nil {
			return fmt.Errorf("adding route %s: %w", dst, err)
		}
		t.routes = append(t.routes, dst)
	}

	if len(t.cfg.DNS) > 0 {
		servers := make([]net.IP, 0, len(t.cfg.DNS))
		for _, s := range t.cfg.DNS {
			if ip := net.ParseIP(s); ip != nil {
				servers = append(servers, ip)
			}
		}
		if err := t.capability.ApplyDNS(tun.Name(), servers); err != nil {
			return fmt.Errorf("applying DNS: %w", err)
		}
		t.dnsApplied = true
	}

	if err := eng.Up(); err != nil {
		return fmt.Errorf("bringing up packet engine: %w", err)
	}

	for _, p := range t.cfg.Peers {
		spec, err := toPeerSpec(p)
		if err != nil {
			return fmt.Errorf("peer %s: %w", p.Name, err)
		}
		if _, err := eng.Apply(ctx, engine.ControlOp{Kind: engine.OpAddPeer, Peer: spec}); err != nil {
			return fmt.Errorf("adding peer %s: %w", p.Name, err)
		}
	}

	return nil
}

// rollback best-effort unwinds whatever partial state start() built up.
func (t *Tunnel) rollback() {
	eng, tunHandle := t.handles()

	if eng != nil {
		eng.Shutdown()
		t.setEngine(nil)
	}
	if tunHandle != nil {
		name := tunHandle.Name()
		for _, dst := range t.routes {
			_ = t.capability.DelRoute(name, dst)
		}
		if t.dnsApplied {
			_ = t.capability.ClearDNS(name)
		}
		_ = tunHandle.Close()
		t.setTunHandle(nil)
	}
	t.routes = nil
	t.dnsApplied = false
	t.privKey.Zero()
}

// Stop signals the engine to shut down, tears down routes/DNS/TUN, and
// transitions to Stopped. Calling Stop on an already-Stopped tunnel is a
// no-op success.
func (t *Tunnel) Stop(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.State() == Stopped || t.State() == Uninitialized {
		return nil
	}

	t.setState(Stopping)

	done := make(chan struct{})
	go func() {
		t.rollback()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(StopTimeout):
		t.log.Warn("tunnel stop timed out, forcing resource close", "network", t.name)
	}

	t.setState(Stopped)
	return nil
}

// Reload is stop-then-start with a new configuration; it does not
// preserve per-session handshake state across the boundary.
func (t *Tunnel) Reload(ctx context.Context, cfg config.NetworkConfig) error {
	t.mu.Lock()
	t.cfg = cfg
	t.mu.Unlock()

	if err := t.Stop(ctx); err != nil {
		return err
	}
	return t.Start(ctx)
}

// Stats returns a point-in-time snapshot. It reads eng/tunHandle through
// a dedicated mutex rather than the lifecycle mutex, so a concurrent
// Start/Stop/Reload never blocks it, while still never observing a torn
// pair of pointers mid-transition.
func (t *Tunnel) Stats() Snapshot {
	eng, tunHandle := t.handles()

	snap := Snapshot{Network: t.name, State: t.State()}
	if tunHandle != nil {
		snap.Interface = tunHandle.Name()
	}
	if eng == nil {
		return snap
	}

	ds := eng.Stats()
	snap.TxBytes = ds.TxBytes
	snap.RxBytes = ds.RxBytes
	snap.PeersTotal = len(ds.Peers)
	snap.PeersActive = ds.ActivePeers(0)
	for _, p := range ds.Peers {
		snap.PeerNames = append(snap.PeerNames, p.PublicKey.String())
	}

	counters := eng.CountersSnapshot()
	snap.DropsNoPeer = counters.DropsNoPeer.Load()
	snap.DropsNoEndpoint = counters.DropsNoEndpoint.Load()
	snap.TUNReadErrors = counters.TUNReadErrors.Load()
	snap.RxAuthFailures = counters.RxAuthFailures.Load()
	snap.TxDrops = counters.TxDrops.Load()
	return snap
}

// ErrorReason returns the error text recorded on transition to Errored.
func (t *Tunnel) ErrorReason() string { return t.reason }

func loadPrivateKey(path string) (wgkey.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return wgkey.PrivateKey{}, err
	}
	return wgkey.ParsePrivateKey(strings.TrimSpace(string(data)))
}

func toPeerSpec(p config.PeerConfig) (engine.PeerSpec, error) {
	pub, err := wgkey.ParsePublicKey(p.PublicKey)
	if err != nil {
		return engine.PeerSpec{}, fmt.Errorf("invalid public_key: %w", err)
	}

	var ep wgkey.Endpoint
	if p.Endpoint != "" {
		ep, err = wgkey.ParseEndpoint(p.Endpoint)
		if err != nil {
			return engine.PeerSpec{}, err
		}
	}

	cidrs := make([]*net.IPNet, 0, len(p.AllowedIPs))
	for _, c := range p.AllowedIPs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			return engine.PeerSpec{}, fmt.Errorf("invalid allowed_ip %s: %w", c, err)
		}
		cidrs = append(cidrs, n)
	}

	return engine.PeerSpec{
		PublicKey:           pub,
		Endpoint:            ep,
		AllowedIPs:          cidrs,
		PersistentKeepalive: uint16(p.PersistentKeepaliveSecs),
	}, nil
}

// dedupRoutes returns one route per distinct allowed-IP CIDR across all
// peers, matching the "one per allowed-IP across peers, deduplicated"
// requirement.
func dedupRoutes(peers []config.PeerConfig) []*net.IPNet {
	seen := make(map[string]*net.IPNet)
	var order []string
	for _, p := range peers {
		for _, c := range p.AllowedIPs {
			if _, n, err := net.ParseCIDR(c); err == nil {
				key := n.String()
				if _, ok := seen[key]; !ok {
					seen[key] = n
					order = append(order, key)
				}
			}
		}
	}
	out := make([]*net.IPNet, 0, len(order))
	for _, k := range order {
		out = append(out, seen[k])
	}
	return out
}
