package platform

import (
	"net"
	"testing"
)

func TestMinBufferSize(t *testing.T) {
	cases := []struct {
		mtu  int
		want int
	}{
		{mtu: 576, want: 2048},
		{mtu: 1280, want: 2048},
		{mtu: 1500, want: 2048 - (1500 - 1500)},
		{mtu: 9000, want: 9000 + Overhead},
	}
	for _, c := range cases {
		if got := MinBufferSize(c.mtu); got != c.want {
			t.Errorf("MinBufferSize(%d) = %d, want %d", c.mtu, got, c.want)
		}
	}
}

func TestIPStrings(t *testing.T) {
	servers := []net.IP{net.ParseIP("1.1.1.1"), net.ParseIP("8.8.8.8")}
	got := ipStrings(servers)
	if len(got) != 2 || got[0] != "1.1.1.1" || got[1] != "8.8.8.8" {
		t.Fatalf("ipStrings = %v", got)
	}
}
