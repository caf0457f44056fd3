package device

import (
	"net/netip"
	"testing"
)

func TestAllowedIPsLookupExactAndPrefix(t *testing.T) {
	var ips AllowedIPs
	peerA := &Peer{}
	peerB := &Peer{}

	ips.Insert(netip.MustParsePrefix("10.0.0.0/24"), peerA)
	ips.Insert(netip.MustParsePrefix("10.0.0.128/25"), peerB)

	if got := ips.Lookup(netip.MustParseAddr("10.0.0.5")); got != peerA {
		t.Fatal("address outside the more specific /25 should route to peerA")
	}
	if got := ips.Lookup(netip.MustParseAddr("10.0.0.200")); got != peerB {
		t.Fatal("address inside the more specific /25 should route to peerB")
	}
}

func TestAllowedIPsLookupMiss(t *testing.T) {
	var ips AllowedIPs
	ips.Insert(netip.MustParsePrefix("10.0.0.0/24"), &Peer{})
	if got := ips.Lookup(netip.MustParseAddr("192.168.1.1")); got != nil {
		t.Fatal("address outside every inserted prefix should not match")
	}
}

func TestAllowedIPsInsertReplacesExact(t *testing.T) {
	var ips AllowedIPs
	peerA := &Peer{}
	peerB := &Peer{}
	prefix := netip.MustParsePrefix("10.0.0.0/24")

	ips.Insert(prefix, peerA)
	ips.Insert(prefix, peerB)

	if got := ips.Lookup(netip.MustParseAddr("10.0.0.1")); got != peerB {
		t.Fatal("re-inserting the same prefix should replace the owning peer")
	}
	if peerA.nodes.Len() != 0 {
		t.Fatal("replaced peer should have its back-reference removed")
	}
	if peerB.nodes.Len() != 1 {
		t.Fatal("new owner should have exactly one back-reference")
	}
}

func TestAllowedIPsIPv6(t *testing.T) {
	var ips AllowedIPs
	peer := &Peer{}
	ips.Insert(netip.MustParsePrefix("2001:db8::/32"), peer)

	if got := ips.Lookup(netip.MustParseAddr("2001:db8::1")); got != peer {
		t.Fatal("IPv6 address within the prefix should match")
	}
	if got := ips.Lookup(netip.MustParseAddr("2001:db9::1")); got != nil {
		t.Fatal("IPv6 address outside the prefix should not match")
	}
}

func TestAllowedIPsRemovePeer(t *testing.T) {
	var ips AllowedIPs
	peer := &Peer{}
	ips.Insert(netip.MustParsePrefix("10.0.0.0/24"), peer)
	ips.Insert(netip.MustParsePrefix("10.0.1.0/24"), peer)

	ips.RemovePeer(peer)

	if got := ips.Lookup(netip.MustParseAddr("10.0.0.1")); got != nil {
		t.Fatal("route should be gone after RemovePeer")
	}
	if got := ips.Lookup(netip.MustParseAddr("10.0.1.1")); got != nil {
		t.Fatal("second route for the same peer should also be gone")
	}
	if peer.nodes.Len() != 0 {
		t.Fatal("peer.nodes should be empty after RemovePeer")
	}
}

func TestAllowedIPsMultiplePeersDisjoint(t *testing.T) {
	var ips AllowedIPs
	peerA := &Peer{}
	peerB := &Peer{}
	ips.Insert(netip.MustParsePrefix("10.0.0.0/24"), peerA)
	ips.Insert(netip.MustParsePrefix("10.0.1.0/24"), peerB)

	ips.RemovePeer(peerA)

	if got := ips.Lookup(netip.MustParseAddr("10.0.0.1")); got != nil {
		t.Fatal("peerA's route should be removed")
	}
	if got := ips.Lookup(netip.MustParseAddr("10.0.1.1")); got != peerB {
		t.Fatal("peerB's route should be unaffected by peerA's removal")
	}
}
