package device

import (
	"container/list"
	"encoding/base64"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vpncore/wgcore/suite"
	"github.com/vpncore/wgcore/wireext"
)

// Peer tracks one configured remote endpoint: its Noise identity, the
// live handshake/keypair state, negotiated extensions, and the small
// amount of queued traffic that accumulates while a handshake is in
// flight (§3).
type Peer struct {
	device    *Device
	handshake Handshake
	keypairs  Keypairs

	isRunning                   atomic.Bool
	lastHandshake               atomic.Int64 // unix nanoseconds
	persistentKeepaliveInterval atomic.Uint32

	endpointMu sync.RWMutex
	endpoint   netip.AddrPort

	// cipherSuites is this peer's advertised preference order (§3,
	// §6); remoteCipherSuites/remoteSetCipherPrio are what the last
	// handshake told us about the other side.
	cipherSuites        []uint8
	remoteCipherSuites  wireext.CipherSuites
	remoteSetCipherPrio bool
	activeCipherSuite   atomic.Uint32 // suite.ID, valid once a keypair exists; see resolvedCipherSuite

	localFeatures      wireext.Features
	remoteFeatures     wireext.Features
	negotiatedFeatures [wireext.NumFeatures]bool

	queueMu sync.Mutex
	queue   [][]byte

	timers peerTimers

	// nodes links this peer back to every allowed_ips trie node that
	// references it, so removing a peer can unlink them all without a
	// full trie walk (device/allowed_ips.go).
	nodes list.List
}

// peerTimers holds the deadlines checkTimers(now) polls against,
// replacing a per-event time.AfterFunc with a once-a-second sweep
// driven by Device.Tick (§4.8 — a deliberate departure from the
// upstream per-timer goroutine model).
type peerTimers struct {
	lastHandshakeInit       atomic.Int64
	lastRekeyAttempt        atomic.Int64
	lastDataSent            atomic.Int64
	lastDataReceived        atomic.Int64
	lastAnyPacketSent       atomic.Int64
	lastAnyPacketReceived   atomic.Int64
	lastPersistentKeepalive atomic.Int64

	handshakeAttempts       atomic.Uint32
	sentLastMinuteHandshake atomic.Bool
	needAnotherKeepalive    atomic.Bool
	wantHandshakeSince      atomic.Int64 // 0 if no handshake is wanted right now
}

func newPeer(d *Device) *Peer {
	p := &Peer{device: d}
	p.keypairs = Keypairs{}
	return p
}

// String abbreviates the peer's static public key for log lines,
// e.g. "peer(AbCd…WxYz)".
func (peer *Peer) String() string {
	b64 := base64.StdEncoding.EncodeToString(peer.handshake.remoteStatic[:])
	return "peer(" + b64[:4] + "…" + b64[len(b64)-4:] + ")"
}

func (peer *Peer) Endpoint() netip.AddrPort {
	peer.endpointMu.RLock()
	defer peer.endpointMu.RUnlock()
	return peer.endpoint
}

func (peer *Peer) SetEndpoint(addr netip.AddrPort) {
	peer.endpointMu.Lock()
	peer.endpoint = addr
	peer.endpointMu.Unlock()
}

// resolvedCipherSuite applies the §9 Open Question (a) tie-break using
// the last handshake's advertised preference lists.
func (peer *Peer) resolvedCipherSuite() suite.ID {
	id, ok := wireext.ResolveCipherSuite(peer.cipherSuites, peer.remoteCipherSuites, peer.remoteSetCipherPrio)
	if !ok {
		return suite.ChaCha20Poly1305
	}
	return suite.ID(id)
}

// EnqueuePacket stores an outbound packet while a handshake is
// pending, dropping the oldest once MaxQueuedPackets is reached (§3,
// §7).
func (peer *Peer) EnqueuePacket(packet []byte) {
	peer.queueMu.Lock()
	defer peer.queueMu.Unlock()
	if len(peer.queue) >= MaxQueuedPackets {
		peer.queue = peer.queue[1:]
	}
	peer.queue = append(peer.queue, packet)
}

// DrainQueue removes and returns every queued packet, in order.
func (peer *Peer) DrainQueue() [][]byte {
	peer.queueMu.Lock()
	defer peer.queueMu.Unlock()
	q := peer.queue
	peer.queue = nil
	return q
}

func (peer *Peer) markHandshakeComplete(now time.Time) {
	peer.lastHandshake.Store(now.UnixNano())
	peer.timers.handshakeAttempts.Store(0)
	peer.timers.sentLastMinuteHandshake.Store(false)
	peer.timers.wantHandshakeSince.Store(0)
}

func (peer *Peer) markDataSent(now time.Time) {
	peer.timers.lastDataSent.Store(now.UnixNano())
	peer.markAnyPacketSent(now)
}

func (peer *Peer) markDataReceived(now time.Time) {
	peer.timers.lastDataReceived.Store(now.UnixNano())
	peer.markAnyPacketReceived(now)
}

func (peer *Peer) markAnyPacketSent(now time.Time) {
	peer.timers.lastAnyPacketSent.Store(now.UnixNano())
}

func (peer *Peer) markAnyPacketReceived(now time.Time) {
	peer.timers.lastAnyPacketReceived.Store(now.UnixNano())
	if peer.timers.needAnotherKeepalive.Load() {
		peer.timers.needAnotherKeepalive.Store(false)
	}
}

func sinceUnixNano(nano int64, now time.Time) time.Duration {
	if nano == 0 {
		return time.Duration(1<<63 - 1)
	}
	return now.Sub(time.Unix(0, nano))
}
