package engine

import (
	"fmt"
	"net"
	"strings"

	"github.com/tunnelmesh/wgagentd/wgkey"
)

// PeerSpec is the control-plane intent for one peer, the input to
// OpAddPeer/OpUpdateEndpoint.
type PeerSpec struct {
	PublicKey          wgkey.PublicKey
	PresharedKey       *wgkey.PrivateKey
	Endpoint           wgkey.Endpoint
	AllowedIPs         []*net.IPNet
	PersistentKeepalive uint16
}

// buildDeviceUAPI renders the device-level UAPI stanza (private key and
// listen port) that golang.zx2c4.com/wireguard/device.Device.IpcSet
// expects at device construction time.
func buildDeviceUAPI(priv wgkey.PrivateKey, listenPort uint16) string {
	var b strings.Builder
	fmt.Fprintf(&b, "private_key=%s\n", priv.HexLower())
	fmt.Fprintf(&b, "listen_port=%d\n", listenPort)
	return b.String()
}

// buildPeerUAPI renders an add-or-update peer stanza.
func buildPeerUAPI(p PeerSpec) string {
	var b strings.Builder
	fmt.Fprintf(&b, "public_key=%s\n", p.PublicKey.HexLower())
	b.WriteString("replace_allowed_ips=true\n")
	if !p.Endpoint.IsZero() {
		fmt.Fprintf(&b, "endpoint=%s\n", p.Endpoint.String())
	}
	if p.PresharedKey != nil {
		fmt.Fprintf(&b, "preshared_key=%s\n", p.PresharedKey.HexLower())
	}
	if p.PersistentKeepalive > 0 {
		fmt.Fprintf(&b, "persistent_keepalive_interval=%d\n", p.PersistentKeepalive)
	}
	for _, ip := range p.AllowedIPs {
		fmt.Fprintf(&b, "allowed_ip=%s\n", ip.String())
	}
	return b.String()
}

// buildRemovePeerUAPI renders a remove-peer stanza.
func buildRemovePeerUAPI(pub wgkey.PublicKey) string {
	var b strings.Builder
	fmt.Fprintf(&b, "public_key=%s\n", pub.HexLower())
	b.WriteString("remove=true\n")
	return b.String()
}
