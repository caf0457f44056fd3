// Package ratelimit implements the two-hash CountMin admission filter
// used to gate expensive handshake-initiation crypto. It is grounded
// directly on original_source/wireguard_proto.h's WgRateLimit: two
// 4096-byte bins, each indexed by an independent SipHash-2-4 of the
// source address, decaying once per second and backing off
// exponentially under sustained flood.
//
// No library in the retrieval pack implements SipHash (see
// internal/siphash), so this package is built on that hand-written
// primitive rather than an ecosystem dependency.
package ratelimit

import (
	"encoding/binary"
	"net/netip"
	"sync"

	"github.com/vpncore/wgcore/internal/siphash"
)

const (
	binSize = 4096

	// PacketAccum is the per-source-IP admission threshold: an
	// initiation is admitted only while the smaller of its two CountMin
	// cells is still below this count.
	PacketAccum = 100

	baselineBudget = 25
	maxBudget      = 25000
)

// Limiter is the device-wide rate limiter keyed by source IP.
type Limiter struct {
	mu sync.Mutex

	keyA0, keyA1 uint64
	keyB0, keyB1 uint64

	binA [binSize]uint8
	binB [binSize]uint8

	budget  uint32
	usedLastSecond uint32
}

// New constructs a Limiter seeded with five fresh random 32-bit words,
// matching the Periodic reseed contract (§4.6).
func New(seed [5]uint32) *Limiter {
	l := &Limiter{budget: baselineBudget}
	l.reseed(seed)
	return l
}

func (l *Limiter) reseed(seed [5]uint32) {
	l.keyA0 = uint64(seed[0])<<32 | uint64(seed[1])
	l.keyA1 = uint64(seed[2])<<32 | uint64(seed[3])
	l.keyB0 = uint64(seed[4])<<32 | uint64(seed[1]^seed[3])
	l.keyB1 = uint64(seed[0])<<32 | uint64(seed[2])
}

func addrKey(addr netip.Addr) uint64 {
	if addr.Is4() {
		b := addr.As4()
		return uint64(binary.BigEndian.Uint32(b[:]))
	}
	b := addr.As16()
	return binary.BigEndian.Uint64(b[:8]) ^ binary.BigEndian.Uint64(b[8:])
}

// Allow reports whether a packet from addr should be admitted, per the
// CountMin + global-budget discipline in §4.6. It both tests and
// updates cell state, matching the spec's "increments both cells and
// is admitted if..." phrasing.
func (l *Limiter) Allow(addr netip.Addr) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := addrKey(addr)
	idxA := siphash.HashUint64(l.keyA0, l.keyA1, k) % binSize
	idxB := siphash.HashUint64(l.keyB0, l.keyB1, k) % binSize

	if l.binA[idxA] < 255 {
		l.binA[idxA]++
	}
	if l.binB[idxB] < 255 {
		l.binB[idxB]++
	}

	cellMin := l.binA[idxA]
	if l.binB[idxB] < cellMin {
		cellMin = l.binB[idxB]
	}
	if uint32(cellMin) >= PacketAccum {
		return false
	}

	if l.usedLastSecond >= l.budget {
		return false
	}
	l.usedLastSecond++
	return true
}

// UnderLoad reports whether any admission activity has been observed
// this decay period; used by the device to decide whether mac2 is
// required on incoming handshake initiations (§4.1).
func (l *Limiter) UnderLoad() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.usedLastSecond > 0
}

// Periodic is called once per second from the device's timer tick. It
// decays both CountMin bins toward zero, adjusts the admitted-packet
// budget (scaling up under sustained load and halving whenever the
// cap was exceeded, giving exponential back-off under flood), and
// reseeds the SipHash keys with fresh random words when the limiter
// has been idle.
func (l *Limiter) Periodic(seed [5]uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.binA {
		if l.binA[i] > 0 {
			l.binA[i]--
		}
	}
	for i := range l.binB {
		if l.binB[i] > 0 {
			l.binB[i]--
		}
	}

	if l.usedLastSecond >= l.budget {
		if l.budget < maxBudget {
			l.budget *= 2
			if l.budget > maxBudget {
				l.budget = maxBudget
			}
		} else {
			l.budget /= 2
			if l.budget < baselineBudget {
				l.budget = baselineBudget
			}
		}
	} else if l.usedLastSecond == 0 {
		l.budget = baselineBudget
		if seed != ([5]uint32{}) {
			l.reseed(seed)
		}
	}
	l.usedLastSecond = 0
}
