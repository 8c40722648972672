package engine

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/tunnelmesh/wgagentd/wgkey"
)

func TestBuildPeerUAPIIncludesAllowedIPsAndKeepalive(t *testing.T) {
	pub := mustKey(t)
	cidr := mustCIDR(t, "10.0.0.0/24")
	spec := PeerSpec{
		PublicKey:           pub,
		AllowedIPs:          []*net.IPNet{cidr},
		PersistentKeepalive: 25,
	}
	uapi := buildPeerUAPI(spec)

	if !strings.Contains(uapi, "public_key="+pub.HexLower()) {
		t.Error("missing public_key line")
	}
	if !strings.Contains(uapi, "allowed_ip=10.0.0.0/24") {
		t.Error("missing allowed_ip line")
	}
	if !strings.Contains(uapi, "persistent_keepalive_interval=25") {
		t.Error("missing keepalive line")
	}
}

func TestBuildRemovePeerUAPI(t *testing.T) {
	pub := mustKey(t)
	uapi := buildRemovePeerUAPI(pub)
	if !strings.Contains(uapi, "remove=true") {
		t.Error("missing remove=true")
	}
}

func TestBuildDeviceUAPI(t *testing.T) {
	priv, err := wgkey.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	uapi := buildDeviceUAPI(priv, 51820)
	if !strings.Contains(uapi, "listen_port=51820") {
		t.Error("missing listen_port line")
	}
	if strings.Contains(uapi, priv.String()) {
		t.Error("redacted string must not leak into uapi builder inadvertently")
	}
}

func TestParseIpcStatusMultiPeer(t *testing.T) {
	a := mustKey(t)
	b := mustKey(t)
	raw := "private_key=deadbeef\n" +
		"listen_port=51820\n" +
		"public_key=" + a.HexLower() + "\n" +
		"endpoint=203.0.113.1:51820\n" +
		"last_handshake_time_sec=1700000000\n" +
		"last_handshake_time_nsec=0\n" +
		"tx_bytes=100\n" +
		"rx_bytes=200\n" +
		"public_key=" + b.HexLower() + "\n" +
		"tx_bytes=5\n" +
		"rx_bytes=7\n"

	stats := parseIpcStatus(raw)
	if len(stats.Peers) != 2 {
		t.Fatalf("expected 2 peers, got %d", len(stats.Peers))
	}
	if stats.TxBytes != 105 || stats.RxBytes != 207 {
		t.Fatalf("aggregate mismatch: tx=%d rx=%d", stats.TxBytes, stats.RxBytes)
	}
	if !stats.Peers[0].HasHandshake {
		t.Fatal("expected first peer to have a handshake timestamp")
	}
	if stats.Peers[1].HasHandshake {
		t.Fatal("second peer has no handshake fields, should not report one")
	}
}

func TestDeviceStatsActivePeers(t *testing.T) {
	stats := DeviceStats{
		Peers: []PeerSession{
			{HasHandshake: true, LastHandshake: time.Now()},
			{HasHandshake: true, LastHandshake: time.Now().Add(-time.Hour)},
			{HasHandshake: false},
		},
	}
	if got := stats.ActivePeers(time.Minute); got != 1 {
		t.Fatalf("ActivePeers = %d, want 1", got)
	}
}

func TestClassifyAndCount(t *testing.T) {
	var c Counters
	classifyAndCount(&c, "Failed to read packet from TUN device: eof")
	classifyAndCount(&c, "Failed to send data packet: would block")
	classifyAndCount(&c, "Invalid handshake initiation")
	if c.TUNReadErrors.Load() != 1 || c.TxDrops.Load() != 1 || c.RxAuthFailures.Load() != 1 {
		t.Fatalf("counters not classified: %+v", c)
	}
}
