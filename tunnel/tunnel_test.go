package tunnel

import (
	"context"
	"encoding/base64"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tunnelmesh/wgagentd/agentlog"
	"github.com/tunnelmesh/wgagentd/config"
	"github.com/tunnelmesh/wgagentd/platform"
	"github.com/tunnelmesh/wgagentd/wgkey"
)

type fakeTUN struct {
	name string
	mtu  int
}

func (f *fakeTUN) Read(buf []byte) (int, error)  { return 0, nil }
func (f *fakeTUN) Write(buf []byte) (int, error) { return len(buf), nil }
func (f *fakeTUN) Name() string                  { return f.name }
func (f *fakeTUN) MTU() int                      { return f.mtu }
func (f *fakeTUN) Close() error                  { return nil }

type fakeCapability struct {
	openErr       error
	setAddressErr error
	addRouteErr   error
	applyDNSErr   error
	delRouteCalls int
	clearDNSCalls int
	closeCalls    int
}

func (f *fakeCapability) OpenTUN(nameHint string, mtu int) (platform.TUN, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	return &fakeTUN{name: "tun-test", mtu: mtu}, nil
}

func (f *fakeCapability) SetAddress(ifName string, cidr *net.IPNet) error { return f.setAddressErr }
func (f *fakeCapability) AddRoute(ifName string, dst *net.IPNet) error    { return f.addRouteErr }
func (f *fakeCapability) DelRoute(ifName string, dst *net.IPNet) error {
	f.delRouteCalls++
	return nil
}
func (f *fakeCapability) ApplyDNS(ifName string, servers []net.IP) error { return f.applyDNSErr }
func (f *fakeCapability) ClearDNS(ifName string) error {
	f.clearDNSCalls++
	return nil
}
func (f *fakeCapability) Capabilities() platform.Capabilities { return platform.Capabilities{} }

func testLogger() *agentlog.Logger { return agentlog.New("error") }

func TestStartFailsOnMissingPrivateKeyFile(t *testing.T) {
	cfg := config.NetworkConfig{
		Interface:      "wg0",
		MTU:            1280,
		PrivateKeyPath: filepath.Join(t.TempDir(), "does-not-exist"),
	}
	tn := New("n1", cfg, &fakeCapability{}, testLogger())

	if err := tn.Start(context.Background()); err == nil {
		t.Fatal("expected error for missing key file")
	}
	if tn.State() != Errored {
		t.Fatalf("state = %v, want Errored", tn.State())
	}
	if tn.ErrorReason() == "" {
		t.Fatal("expected error reason to be recorded")
	}
}

func TestStartFailsOnOpenTUNError(t *testing.T) {
	boom := errors.New("boom")
	cap := &fakeCapability{openErr: boom}
	cfg := config.NetworkConfig{
		Interface:      "wg0",
		MTU:            1280,
		PrivateKeyPath: genKeyFile(t),
	}
	tn := New("n1", cfg, cap, testLogger())

	err := tn.Start(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if tn.State() != Errored {
		t.Fatalf("state = %v, want Errored", tn.State())
	}
}

func TestStartFailsOnBadAddressRollsBack(t *testing.T) {
	cap := &fakeCapability{setAddressErr: errors.New("denied")}
	cfg := config.NetworkConfig{
		Interface:      "wg0",
		MTU:            1280,
		Address:        "10.0.0.1/24",
		PrivateKeyPath: genKeyFile(t),
	}
	tn := New("n1", cfg, cap, testLogger())

	if err := tn.Start(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if tn.State() != Errored {
		t.Fatalf("state = %v, want Errored", tn.State())
	}
	if tn.tunHandle != nil {
		t.Fatal("expected TUN handle to be cleared on rollback")
	}
}

func TestStartRejectsWhenAlreadyActive(t *testing.T) {
	tn := New("n1", config.NetworkConfig{}, &fakeCapability{}, testLogger())
	tn.setState(Active)

	if err := tn.Start(context.Background()); err == nil {
		t.Fatal("expected error starting an already-active tunnel")
	}
}

func TestStopOnUninitializedIsNoop(t *testing.T) {
	tn := New("n1", config.NetworkConfig{}, &fakeCapability{}, testLogger())
	if err := tn.Stop(context.Background()); err != nil {
		t.Fatalf("Stop on uninitialized tunnel: %v", err)
	}
	if tn.State() != Uninitialized {
		t.Fatalf("state = %v, want unchanged Uninitialized", tn.State())
	}
}

func TestStopOnStoppedIsIdempotent(t *testing.T) {
	tn := New("n1", config.NetworkConfig{}, &fakeCapability{}, testLogger())
	tn.setState(Stopped)
	if err := tn.Stop(context.Background()); err != nil {
		t.Fatalf("idempotent Stop: %v", err)
	}
	if tn.State() != Stopped {
		t.Fatalf("state = %v, want Stopped", tn.State())
	}
}

func TestDedupRoutesAcrossPeers(t *testing.T) {
	peers := []config.PeerConfig{
		{Name: "a", AllowedIPs: []string{"10.0.0.0/24", "10.1.0.0/24"}},
		{Name: "b", AllowedIPs: []string{"10.0.0.0/24", "10.2.0.0/24"}},
	}
	routes := dedupRoutes(peers)
	if len(routes) != 3 {
		t.Fatalf("dedupRoutes = %d entries, want 3", len(routes))
	}
}

func TestToPeerSpecRejectsBadPublicKey(t *testing.T) {
	_, err := toPeerSpec(config.PeerConfig{Name: "p", PublicKey: "not-a-key", AllowedIPs: []string{"10.0.0.0/24"}})
	if err == nil {
		t.Fatal("expected error for invalid public key")
	}
}

func TestToPeerSpecRejectsBadAllowedIP(t *testing.T) {
	key, err := wgkey.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	_, err = toPeerSpec(config.PeerConfig{Name: "p", PublicKey: key.Public().String(), AllowedIPs: []string{"not-a-cidr"}})
	if err == nil {
		t.Fatal("expected error for invalid allowed_ip")
	}
}

func TestToPeerSpecParsesEndpointAndKeepalive(t *testing.T) {
	key, err := wgkey.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	spec, err := toPeerSpec(config.PeerConfig{
		Name:                    "p",
		PublicKey:               key.Public().String(),
		Endpoint:                "203.0.113.5:51820",
		AllowedIPs:              []string{"10.0.0.0/24"},
		PersistentKeepaliveSecs: 25,
	})
	if err != nil {
		t.Fatalf("toPeerSpec: %v", err)
	}
	if spec.Endpoint.IsZero() {
		t.Fatal("expected endpoint to be set")
	}
	if spec.PersistentKeepalive != 25 {
		t.Fatalf("keepalive = %d, want 25", spec.PersistentKeepalive)
	}
}

func TestStatsOnUninitializedTunnelIsZeroValue(t *testing.T) {
	tn := New("n1", config.NetworkConfig{}, &fakeCapability{}, testLogger())
	snap := tn.Stats()
	if snap.Network != "n1" || snap.State != Uninitialized {
		t.Fatalf("snap = %+v", snap)
	}
	if snap.Interface != "" || snap.PeersTotal != 0 || snap.DropsNoPeer != 0 {
		t.Fatalf("expected all-zero snapshot fields, got %+v", snap)
	}
}

func TestStatsDoesNotBlockOnLifecycleMutex(t *testing.T) {
	tn := New("n1", config.NetworkConfig{}, &fakeCapability{}, testLogger())

	tn.mu.Lock()
	defer tn.mu.Unlock()

	done := make(chan struct{})
	go func() {
		tn.Stats()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stats blocked while the lifecycle mutex was held")
	}
}

// genKeyFile writes a freshly generated private key to a temp file in the
// base64 wire form loadPrivateKey expects, since PrivateKey.String is
// intentionally redacted.
func genKeyFile(t *testing.T) string {
	t.Helper()
	key, err := wgkey.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	raw := key.Bytes()
	path := filepath.Join(t.TempDir(), "privkey")
	if err := os.WriteFile(path, []byte(base64.StdEncoding.EncodeToString(raw[:])), 0600); err != nil {
		t.Fatalf("writing key file: %v", err)
	}
	return path
}
