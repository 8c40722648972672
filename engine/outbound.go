package engine

import (
	"net"

	"github.com/tunnelmesh/wgagentd/platform"
)

// outboundTap wraps the TUN device engine reads outbound (host-to-peer)
// packets from. device.Device enforces its own allowed-IP routing and
// silently drops what it won't forward, but exposes no counters for why —
// so this tap mirrors the same lookup against the engine's allowedIPTable
// purely to classify those drops before handing the packet on unchanged.
type outboundTap struct {
	inner platform.TUN
	eng   *Engine
}

func (o *outboundTap) Read(buf []byte) (int, error) {
	n, err := o.inner.Read(buf)
	if n > 0 {
		o.eng.classifyOutbound(buf[:n])
	}
	return n, err
}

func (o *outboundTap) Write(buf []byte) (int, error) { return o.inner.Write(buf) }
func (o *outboundTap) Name() string                  { return o.inner.Name() }
func (o *outboundTap) MTU() int                      { return o.inner.MTU() }
func (o *outboundTap) Close() error                  { return o.inner.Close() }

// classifyOutbound counts an outbound packet toward drops_no_peer if no
// allowed-IP entry covers its destination, or toward drops_no_endpoint if
// the owning peer has no endpoint to send it to. The packet itself is
// never altered or actually dropped here; device.Device makes the real
// forwarding decision independently, using its own copy of the same
// allowed-IP configuration applied via IpcSet.
func (e *Engine) classifyOutbound(packet []byte) {
	dst, ok := packetDestination(packet)
	if !ok {
		return
	}

	e.mu.RLock()
	peer, matched := e.allowedIPs.Lookup(dst)
	var hasEndpoint bool
	if matched {
		spec, ok := e.peerConfigs[peer]
		hasEndpoint = ok && !spec.Endpoint.IsZero()
	}
	e.mu.RUnlock()

	if !matched {
		e.counters.DropsNoPeer.Add(1)
		return
	}
	if !hasEndpoint {
		e.counters.DropsNoEndpoint.Add(1)
	}
}

// packetDestination extracts the destination address from a raw IPv4 or
// IPv6 packet, identified by the version nibble in the first byte.
func packetDestination(packet []byte) (net.IP, bool) {
	if len(packet) < 1 {
		return nil, false
	}
	switch packet[0] >> 4 {
	case 4:
		if len(packet) < 20 {
			return nil, false
		}
		return net.IP(packet[16:20]), true
	case 6:
		if len(packet) < 40 {
			return nil, false
		}
		return net.IP(packet[24:40]), true
	default:
		return nil, false
	}
}
