package engine

import (
	"fmt"
	"net"

	"github.com/tunnelmesh/wgagentd/wgkey"
)

// allowedIPTable is the longest-prefix-match structure from destination IP
// to owning peer, built from the union of all peers' allowed-IP CIDRs.
// Overlapping-but-distinct prefixes resolve by longest match; two peers
// configured with the identical prefix is rejected at Insert time, per
// the routing-table invariant.
type allowedIPTable struct {
	entries []ipEntry
}

type ipEntry struct {
	prefix *net.IPNet
	peer   wgkey.PublicKey
}

func newAllowedIPTable() *allowedIPTable {
	return &allowedIPTable{}
}

// Insert adds one allowed-IP prefix for peer. It returns an error if an
// identical prefix is already owned by a different peer.
func (t *allowedIPTable) Insert(prefix *net.IPNet, peer wgkey.PublicKey) error {
	for i, e := range t.entries {
		if sameNet(e.prefix, prefix) {
			if e.peer.Equal(peer) {
				return nil
			}
			return fmt.Errorf("allowed-ip %s already assigned to a different peer", prefix)
		}
		_ = i
	}
	t.entries = append(t.entries, ipEntry{prefix: prefix, peer: peer})
	return nil
}

// RemovePeer drops every prefix owned by peer.
func (t *allowedIPTable) RemovePeer(peer wgkey.PublicKey) {
	kept := t.entries[:0]
	for _, e := range t.entries {
		if !e.peer.Equal(peer) {
			kept = append(kept, e)
		}
	}
	t.entries = kept
}

// Lookup returns the peer whose allowed-IP prefix is the longest match for
// ip, and whether any prefix matched at all.
func (t *allowedIPTable) Lookup(ip net.IP) (wgkey.PublicKey, bool) {
	var best *ipEntry
	bestLen := -1
	for i := range t.entries {
		e := &t.entries[i]
		if !e.prefix.Contains(ip) {
			continue
		}
		ones, _ := e.prefix.Mask.Size()
		if ones > bestLen {
			bestLen = ones
			best = e
		}
	}
	if best == nil {
		return wgkey.PublicKey{}, false
	}
	return best.peer, true
}

func sameNet(a, b *net.IPNet) bool {
	return a.String() == b.String()
}
