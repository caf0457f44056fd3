package device

import (
	"crypto/cipher"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vpncore/wgcore/replay"
	"github.com/vpncore/wgcore/suite"
)

/* Due to limitations in Go and /x/crypto there is currently
 * no way to ensure that key material is securely erased in memory.
 *
 * Since this may harm the forward secrecy property,
 * we plan to resolve this issue; whenever Go allows us to do so.
 */

// Keypair is one derived session under a peer's three-slot ring
// (§3, §4.3). cipherSuite/shortMAC record what was negotiated for
// this specific session, since a rekey can switch suites.
type Keypair struct {
	sendNonce    atomic.Uint64
	send         cipher.AEAD
	receive      cipher.AEAD
	replayFilter replay.Filter
	isInitiator  bool
	created      time.Time
	localIndex   uint32
	remoteIndex  uint32
	peer           *Peer
	cipherSuite    suite.ID
	shortMAC       bool
	useShortHeader bool
}

// expired reports whether this keypair is past REJECT_AFTER_TIME or
// has handled REJECT_AFTER_MESSAGES packets (§4.3, §7).
func (kp *Keypair) expired(now time.Time) bool {
	if kp == nil {
		return true
	}
	if now.Sub(kp.created) >= RejectAfterTime {
		return true
	}
	return kp.sendNonce.Load() >= RejectAfterMessages
}

// Keypairs is the three-slot ring: prev/curr/next, matching §4.3 and
// the §9 three-slot-ring design note: a nil *Keypair stands in for the
// "Empty" tagged variant since Go has no sum types.
type Keypairs struct {
	sync.RWMutex
	current  *Keypair
	previous *Keypair
	next     atomic.Pointer[Keypair]
}

func (k *Keypairs) Current() *Keypair {
	k.RLock()
	defer k.RUnlock()
	return k.current
}

// Slot returns the keypair bound to a short-header key-slot selector
// (1=previous, 2=current, 3=next), or nil if that slot is empty.
func (k *Keypairs) Slot(slot uint8) *Keypair {
	k.RLock()
	defer k.RUnlock()
	switch slot {
	case 1:
		return k.previous
	case 2:
		return k.current
	case 3:
		return k.next.Load()
	default:
		return nil
	}
}

func (d *Device) DeleteKeypair(key *Keypair) {
	if key != nil {
		d.indexTable.Delete(key.localIndex)
	}
}
