// Package engine wraps golang.zx2c4.com/wireguard/device — the reference
// userspace WireGuard implementation — into the per-tunnel packet engine
// described by this repository's tunnel lifecycle. It does not
// reimplement the WireGuard v1 cryptographic protocol: device.Device owns
// the TUN/UDP read-write loops, handshake state machine, and timers.
// Engine's job is the translation layer around it — control-plane intent
// in, PeerSession/DeviceStats snapshots out — plus the counters that
// device.Device's own diagnostics don't expose directly.
package engine

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.zx2c4.com/wireguard/conn"
	"golang.zx2c4.com/wireguard/device"

	"github.com/tunnelmesh/wgagentd/agentlog"
	"github.com/tunnelmesh/wgagentd/platform"
	"github.com/tunnelmesh/wgagentd/wgkey"
)

// TickInterval is how often the timer task polls IpcGet and republishes
// peer/device stats. It satisfies the spec's <=250ms bound on session
// timer ticks.
const TickInterval = 200 * time.Millisecond

// Counters are the atomic, lock-free aggregate counters the metrics
// publisher reads. TUNReadErrors, RxAuthFailures and TxDrops are
// incremented by the data-plane log sink below; DropsNoPeer and
// DropsNoEndpoint by outboundTap's classifyOutbound. The control task
// never increments them.
type Counters struct {
	DropsNoPeer     atomic.Uint64
	DropsNoEndpoint atomic.Uint64
	TUNReadErrors   atomic.Uint64
	RxAuthFailures  atomic.Uint64
	TxDrops         atomic.Uint64
}

// PeerSession is a read-mostly snapshot of one peer's live state, rebuilt
// from IpcGet output on every tick. It carries the public key, endpoint,
// tx/rx byte counters and last-handshake time; it has no packet counters.
// It never holds the cryptographic session itself, which lives inside
// device.Device.
type PeerSession struct {
	PublicKey       wgkey.PublicKey
	Endpoint        wgkey.Endpoint
	TxBytes         uint64
	RxBytes         uint64
	LastHandshake   time.Time
	HasHandshake    bool
}

// DeviceStats is the aggregate, tunnel-wide snapshot assembled from the
// peer sessions plus the counters above.
type DeviceStats struct {
	Peers          []PeerSession
	TxBytes        uint64
	RxBytes        uint64
	ActiveWithin   time.Duration
}

// ActivePeers returns the peers whose last handshake is within window.
func (s DeviceStats) ActivePeers(window time.Duration) int {
	if window <= 0 {
		window = s.ActiveWithin
	}
	n := 0
	cutoff := time.Now().Add(-window)
	for _, p := range s.Peers {
		if p.HasHandshake && p.LastHandshake.After(cutoff) {
			n++
		}
	}
	return n
}

// ControlOpKind enumerates the mutations the control task accepts.
type ControlOpKind int

const (
	OpAddPeer ControlOpKind = iota
	OpRemovePeer
	OpUpdateEndpoint
)

// ControlOp is one command submitted to Engine.Apply.
type ControlOp struct {
	Kind     ControlOpKind
	Peer     PeerSpec
	PeerKey  wgkey.PublicKey // used by OpRemovePeer/OpUpdateEndpoint
	Endpoint wgkey.Endpoint  // used by OpUpdateEndpoint
}

// Engine owns exactly one device.Device plus the translation state around
// it: the allowed-IP table mirrored from peer configuration (kept
// in-engine so tests can assert routing decisions without touching
// device.Device), the per-peer config used to (re)build UAPI stanzas, and
// the aggregate counters.
type Engine struct {
	dev      *device.Device
	tunName  string
	log      *agentlog.Logger
	counters Counters

	mu          sync.RWMutex
	allowedIPs  *allowedIPTable
	peerConfigs map[wgkey.PublicKey]PeerSpec

	keepaliveWindow time.Duration

	stopTick chan struct{}
	tickWG   sync.WaitGroup

	statsMu sync.RWMutex
	stats   DeviceStats
}

// New constructs an Engine around an open TUN device, binding WireGuard's
// default UDP transport (golang.zx2c4.com/wireguard/conn.NewDefaultBind),
// and applies the device-level UAPI configuration (private key, listen
// port). The device is left down; call Up to start its data-plane tasks.
func New(tun platform.TUN, priv wgkey.PrivateKey, listenPort uint16, log *agentlog.Logger) (*Engine, error) {
	e := &Engine{
		tunName:         tun.Name(),
		log:             log,
		allowedIPs:      newAllowedIPTable(),
		peerConfigs:     make(map[wgkey.PublicKey]PeerSpec),
		keepaliveWindow: 3 * 25 * time.Second,
		stopTick:        make(chan struct{}),
	}

	wrapped := platform.WrapTUN(&outboundTap{inner: tun, eng: e})

	wgLogger := &device.Logger{
		Verbosef: func(format string, args ...any) {
			log.Debug(fmt.Sprintf(format, args...), "component", "wireguard")
		},
		Errorf: func(format string, args ...any) {
			msg := fmt.Sprintf(format, args...)
			log.Error(msg, "component", "wireguard")
			classifyAndCount(&e.counters, msg)
		},
	}

	bind := conn.NewDefaultBind()
	e.dev = device.NewDevice(wrapped, bind, wgLogger)

	if err := e.dev.IpcSet(buildDeviceUAPI(priv, listenPort)); err != nil {
		e.dev.Close()
		return nil, fmt.Errorf("configuring wireguard device: %w", err)
	}

	return e, nil
}

func classifyAndCount(c *Counters, msg string) {
	switch {
	case strings.Contains(msg, "Failed to read packet"):
		c.TUNReadErrors.Add(1)
	case strings.Contains(msg, "Failed to send data packet"):
		c.TxDrops.Add(1)
	case strings.Contains(msg, "Invalid handshake") || strings.Contains(msg, "Failed to decrypt"):
		c.RxAuthFailures.Add(1)
	}
}

// Up brings the wrapped device's data-plane tasks online and starts the
// engine's own timer task.
func (e *Engine) Up() error {
	if err := e.dev.Up(); err != nil {
		return fmt.Errorf("bringing up wireguard device: %w", err)
	}
	e.tickWG.Add(1)
	go e.tickLoop()
	return nil
}

// InterfaceName returns the TUN interface name this engine was built on.
func (e *Engine) InterfaceName() string { return e.tunName }

// Apply processes one control-plane mutation synchronously: the UAPI
// write completes before Apply returns, satisfying "the mutation happens
// before the next tick observes the change".
func (e *Engine) Apply(ctx context.Context, op ControlOp) (Outcome, error) {
	select {
	case <-ctx.Done():
		return Err, ctx.Err()
	default:
	}

	switch op.Kind {
	case OpAddPeer:
		return e.applyAddPeer(op.Peer)
	case OpRemovePeer:
		return e.applyRemovePeer(op.PeerKey)
	case OpUpdateEndpoint:
		return e.applyUpdateEndpoint(op.PeerKey, op.Endpoint)
	default:
		return Err, fmt.Errorf("unknown control op %v", op.Kind)
	}
}

func (e *Engine) applyAddPeer(p PeerSpec) (Outcome, error) {
	if err := e.dev.IpcSet(buildPeerUAPI(p)); err != nil {
		return Err, fmt.Errorf("adding peer: %w", err)
	}

	e.mu.Lock()
	e.peerConfigs[p.PublicKey] = p
	e.allowedIPs.RemovePeer(p.PublicKey)
	for _, cidr := range p.AllowedIPs {
		if err := e.allowedIPs.Insert(cidr, p.PublicKey); err != nil {
			e.mu.Unlock()
			return Err, err
		}
	}
	e.mu.Unlock()

	if !p.Endpoint.IsZero() {
		return QueueHandshake, nil
	}
	return Consumed, nil
}

func (e *Engine) applyRemovePeer(pub wgkey.PublicKey) (Outcome, error) {
	e.mu.Lock()
	_, existed := e.peerConfigs[pub]
	delete(e.peerConfigs, pub)
	e.allowedIPs.RemovePeer(pub)
	e.mu.Unlock()

	if err := e.dev.IpcSet(buildRemovePeerUAPI(pub)); err != nil {
		return Err, fmt.Errorf("removing peer: %w", err)
	}
	if !existed {
		return Drop, nil
	}
	return Consumed, nil
}

func (e *Engine) applyUpdateEndpoint(pub wgkey.PublicKey, ep wgkey.Endpoint) (Outcome, error) {
	e.mu.Lock()
	spec, ok := e.peerConfigs[pub]
	if !ok {
		e.mu.Unlock()
		return Drop, nil
	}
	spec.Endpoint = ep
	e.peerConfigs[pub] = spec
	e.mu.Unlock()

	if err := e.dev.IpcSet(buildPeerUAPI(spec)); err != nil {
		return Err, fmt.Errorf("updating peer endpoint: %w", err)
	}
	return Consumed, nil
}

// RouteFor returns the peer owning the longest-prefix-match allowed-IP
// covering dst, used by tests asserting outbound routing decisions.
func (e *Engine) RouteFor(dst net.IP) (wgkey.PublicKey, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.allowedIPs.Lookup(dst)
}

// Stats returns the most recently polled aggregate snapshot.
func (e *Engine) Stats() DeviceStats {
	e.statsMu.RLock()
	defer e.statsMu.RUnlock()
	return e.stats
}

// CountersSnapshot returns a copy of the engine's atomic failure counters.
func (e *Engine) CountersSnapshot() Counters {
	var c Counters
	c.DropsNoPeer.Store(e.counters.DropsNoPeer.Load())
	c.DropsNoEndpoint.Store(e.counters.DropsNoEndpoint.Load())
	c.TUNReadErrors.Store(e.counters.TUNReadErrors.Load())
	c.RxAuthFailures.Store(e.counters.RxAuthFailures.Load())
	c.TxDrops.Store(e.counters.TxDrops.Load())
	return c
}

func (e *Engine) tickLoop() {
	defer e.tickWG.Done()
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopTick:
			return
		case <-ticker.C:
			e.poll()
		}
	}
}

func (e *Engine) poll() {
	raw, err := e.dev.IpcGet()
	if err != nil {
		return
	}
	stats := parseIpcStatus(raw)
	e.statsMu.Lock()
	e.stats = stats
	e.statsMu.Unlock()
}

// Shutdown closes the UDP bind and TUN handle (causing device.Device's
// own data-plane tasks to observe closed/EOF), stops the timer task, and
// awaits drain before returning.
func (e *Engine) Shutdown() {
	close(e.stopTick)
	e.tickWG.Wait()
	e.dev.Close()
}
