package manager

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/tunnelmesh/wgagentd/agentlog"
	"github.com/tunnelmesh/wgagentd/config"
	"github.com/tunnelmesh/wgagentd/platform"
	"github.com/tunnelmesh/wgagentd/tunnel"
)

// failCapability always fails OpenTUN, letting tests drive a tunnel into
// Errored without building a real WireGuard device.
type failCapability struct{}

func (failCapability) OpenTUN(nameHint string, mtu int) (platform.TUN, error) {
	return nil, errors.New("no permission")
}
func (failCapability) SetAddress(ifName string, cidr *net.IPNet) error { return nil }
func (failCapability) AddRoute(ifName string, dst *net.IPNet) error    { return nil }
func (failCapability) DelRoute(ifName string, dst *net.IPNet) error    { return nil }
func (failCapability) ApplyDNS(ifName string, servers []net.IP) error  { return nil }
func (failCapability) ClearDNS(ifName string) error                    { return nil }
func (failCapability) Capabilities() platform.Capabilities             { return platform.Capabilities{} }

func testLogger() *agentlog.Logger { return agentlog.New("error") }

func TestConnectUnknownNetworkReturnsNotFound(t *testing.T) {
	m := New(testLogger(), failCapability{})
	err := m.Connect(context.Background(), "missing")
	if !errors.Is(err, ErrNetworkNotFound) {
		t.Fatalf("err = %v, want ErrNetworkNotFound", err)
	}
}

func TestDisconnectUnknownNetworkReturnsNotFound(t *testing.T) {
	m := New(testLogger(), failCapability{})
	err := m.Disconnect(context.Background(), "missing")
	if !errors.Is(err, ErrNetworkNotFound) {
		t.Fatalf("err = %v, want ErrNetworkNotFound", err)
	}
}

func TestStatusUnknownNetworkReturnsNotFound(t *testing.T) {
	m := New(testLogger(), failCapability{})
	_, err := m.Status("missing")
	if !errors.Is(err, ErrNetworkNotFound) {
		t.Fatalf("err = %v, want ErrNetworkNotFound", err)
	}
}

func TestInvalidStateErrorUnwrapsToSentinel(t *testing.T) {
	err := invalidState("n1", tunnel.Active)
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("err = %v, want wrapping ErrInvalidState", err)
	}
	var invalid *InvalidStateError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want InvalidStateError", err)
	}
	if invalid.Network != "n1" || invalid.State != tunnel.Active {
		t.Fatalf("invalid = %+v, want {n1 Active}", invalid)
	}
}

func TestDisconnectOnNeverStartedIsIdempotent(t *testing.T) {
	m := New(testLogger(), failCapability{})
	m.Register("n1", config.NetworkConfig{Interface: "wg0", MTU: 1280})

	if err := m.Disconnect(context.Background(), "n1"); err != nil {
		t.Fatalf("Disconnect on never-started tunnel: %v", err)
	}
}

func TestListStatusReturnsAllRegistered(t *testing.T) {
	m := New(testLogger(), failCapability{})
	m.Register("n1", config.NetworkConfig{Interface: "wg0", MTU: 1280})
	m.Register("n2", config.NetworkConfig{Interface: "wg1", MTU: 1280})

	statuses := m.ListStatus()
	if len(statuses) != 2 {
		t.Fatalf("len(statuses) = %d, want 2", len(statuses))
	}
}

func TestAutoStartSkipsDisabledNetworks(t *testing.T) {
	m := New(testLogger(), failCapability{})
	cfg := &config.Config{Networks: map[string]config.NetworkConfig{
		"disabled": {EnableWireGuard: false},
	}}
	m.AutoStart(context.Background(), cfg)

	if _, err := m.Status("disabled"); !errors.Is(err, ErrNetworkNotFound) {
		t.Fatalf("disabled network should never be registered, got err = %v", err)
	}
}

func TestShutdownAllStopsEveryTunnel(t *testing.T) {
	m := New(testLogger(), failCapability{})
	m.Register("n1", config.NetworkConfig{Interface: "wg0", MTU: 1280})
	m.Register("n2", config.NetworkConfig{Interface: "wg1", MTU: 1280})

	m.ShutdownAll(context.Background())

	for _, name := range []string{"n1", "n2"} {
		status, err := m.Status(name)
		if err != nil {
			t.Fatalf("Status(%s): %v", name, err)
		}
		if status.State != tunnel.Stopped && status.State != tunnel.Uninitialized {
			t.Fatalf("tunnel %s state = %v, want Stopped or Uninitialized", name, status.State)
		}
	}
}
