package ratelimit

import (
	"net/netip"
	"testing"
)

func TestAllowAdmitsWithinBudget(t *testing.T) {
	l := New([5]uint32{1, 2, 3, 4, 5})
	addr := netip.MustParseAddr("10.0.0.1")
	admitted := 0
	for i := 0; i < baselineBudget; i++ {
		if l.Allow(addr) {
			admitted++
		}
	}
	if admitted == 0 {
		t.Fatal("expected at least some packets admitted within baseline budget")
	}
}

func TestAllowSaturatesUnderFlood(t *testing.T) {
	l := New([5]uint32{1, 2, 3, 4, 5})
	addr := netip.MustParseAddr("10.0.0.2")
	rejected := false
	for i := 0; i < PacketAccum*2; i++ {
		if !l.Allow(addr) {
			rejected = true
			break
		}
	}
	if !rejected {
		t.Fatal("expected sustained traffic from one source to eventually be rejected")
	}
}

func TestUnderLoadReflectsRecentUsage(t *testing.T) {
	l := New([5]uint32{1, 2, 3, 4, 5})
	if l.UnderLoad() {
		t.Fatal("fresh limiter should not report under load")
	}
	l.Allow(netip.MustParseAddr("10.0.0.3"))
	if !l.UnderLoad() {
		t.Fatal("limiter should report under load after admitting a packet")
	}
	l.Periodic([5]uint32{6, 7, 8, 9, 10})
	if l.UnderLoad() {
		t.Fatal("Periodic should clear the usage counter for the next window")
	}
}

func TestPeriodicDecaysBins(t *testing.T) {
	l := New([5]uint32{1, 2, 3, 4, 5})
	addr := netip.MustParseAddr("10.0.0.4")
	for i := 0; i < 50; i++ {
		l.Allow(addr)
	}
	for i := 0; i < 300; i++ {
		l.Periodic([5]uint32{1, 2, 3, 4, 5})
	}
	if !l.Allow(addr) {
		t.Fatal("after enough decay cycles the source should be admitted again")
	}
}
