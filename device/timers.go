package device

import (
	"math/rand"
	"time"
)

// Tick drives every peer's deadline checks once. The engine's caller
// is expected to call this roughly once a second (§4.8) instead of
// the per-event time.AfterFunc model upstream WireGuard uses — a
// polled sweep is simpler to reason about and test deterministically,
// and the spec's timer table is expressed as deadlines rather than as
// scheduled callbacks.
func (d *Device) Tick(now time.Time) {
	d.peers.RLock()
	peers := make([]*Peer, 0, len(d.peers.p))
	for _, peer := range d.peers.p {
		peers = append(peers, peer)
	}
	d.peers.RUnlock()

	for _, peer := range peers {
		peer.checkTimers(now)
	}

	d.cookieChecker.rotateIfStale(now)
	d.rateLimiter.Periodic(d.nextRateLimitSeed())
}

func rekeyJitter() time.Duration {
	return time.Millisecond * time.Duration(rand.Int63n(RekeyTimeoutJitterMaxMs))
}

// checkTimers implements the five per-peer deadline checks of §4.8:
// rekey-on-time, keepalive-on-idle, persistent-keepalive,
// handshake-retransmit-with-attempt-limit, and keypair-expiry.
func (peer *Peer) checkTimers(now time.Time) {
	if !peer.isRunning.Load() {
		return
	}
	t := &peer.timers

	// handshake-retransmit-with-attempt-limit
	if wantedSince := t.wantHandshakeSince.Load(); wantedSince != 0 {
		lastAttempt := t.lastRekeyAttempt.Load()
		elapsed := sinceUnixNano(lastAttempt, now)
		if elapsed >= RekeyTimeout+rekeyJitter() {
			attempts := t.handshakeAttempts.Load()
			if attempts >= MaxHandshakeAttempts {
				peer.device.log.Verbosef("%v - handshake did not complete after %d attempts, giving up", peer, attempts)
				t.wantHandshakeSince.Store(0)
				peer.FlushQueuedPackets()
			} else {
				t.handshakeAttempts.Add(1)
				t.lastRekeyAttempt.Store(now.UnixNano())
				peer.device.log.Verbosef("%v - retrying handshake, attempt %d", peer, attempts+1)
				peer.initiateHandshake(now)
			}
		}
	} else {
		// rekey-on-time: initiate a fresh handshake once the current
		// session ages past REKEY_AFTER_TIME/REKEY_AFTER_MESSAGES, or
		// once we've been sending without a reply for too long.
		if kp := peer.keypairs.Current(); kp != nil && kp.isInitiator {
			age := now.Sub(kp.created)
			if age >= RekeyAfterTime || kp.sendNonce.Load() >= RekeyAfterMessages {
				peer.initiateHandshake(now)
			}
		}
		lastSent := t.lastDataSent.Load()
		lastRecv := t.lastAnyPacketReceived.Load()
		if lastSent != 0 && sinceUnixNano(lastRecv, now) > KeepaliveTimeout+RekeyTimeout {
			peer.initiateHandshake(now)
		}
	}

	// keepalive-on-idle: ack a recently received data packet if we
	// haven't sent anything back within KeepaliveTimeout.
	if sinceUnixNano(t.lastDataReceived.Load(), now) < KeepaliveTimeout &&
		sinceUnixNano(t.lastAnyPacketSent.Load(), now) >= KeepaliveTimeout {
		peer.SendKeepalive(now)
	}

	// persistent-keepalive
	if interval := peer.persistentKeepaliveInterval.Load(); interval > 0 {
		if sinceUnixNano(t.lastAnyPacketSent.Load(), now) >= time.Duration(interval)*time.Second {
			peer.SendKeepalive(now)
		}
	}

	// keypair-expiry: drop sessions that outlived REJECT_AFTER_TIME
	// with no replacement negotiated (residue of an abandoned rekey).
	peer.keypairs.Lock()
	if peer.keypairs.previous.expired(now) {
		peer.device.DeleteKeypair(peer.keypairs.previous)
		peer.keypairs.previous = nil
	}
	if kp := peer.keypairs.next.Load(); kp.expired(now) && kp != nil {
		peer.device.DeleteKeypair(kp)
		peer.keypairs.next.Store(nil)
	}
	peer.keypairs.Unlock()
}

// initiateHandshake marks a handshake as wanted and sends the first
// initiation message; checkTimers retries it on a timeout until
// MaxHandshakeAttempts is reached.
func (peer *Peer) initiateHandshake(now time.Time) {
	t := &peer.timers
	if t.wantHandshakeSince.Load() == 0 {
		t.wantHandshakeSince.Store(now.UnixNano())
	}
	t.lastRekeyAttempt.Store(now.UnixNano())
	if err := peer.device.sendHandshakeInitiation(peer); err != nil {
		peer.device.log.Errorf("%v - failed to send handshake initiation: %v", peer, err)
	}
}

// SendKeepalive transmits an empty transport message to keep NAT
// state alive and/or acknowledge recently received data.
func (peer *Peer) SendKeepalive(now time.Time) {
	if err := peer.device.sendKeepalive(peer); err != nil {
		peer.device.log.Errorf("%v - failed to send keepalive: %v", peer, err)
		return
	}
	peer.markDataSent(now)
}

// FlushQueuedPackets discards packets queued while a handshake was
// pending, once the handshake attempt budget has been exhausted.
func (peer *Peer) FlushQueuedPackets() {
	peer.DrainQueue()
}

// ZeroAndFlushAll destroys every keypair and drops queued packets
// (§7, session-expired cleanup path).
func (peer *Peer) ZeroAndFlushAll() {
	peer.keypairs.Lock()
	peer.device.DeleteKeypair(peer.keypairs.current)
	peer.device.DeleteKeypair(peer.keypairs.previous)
	peer.device.DeleteKeypair(peer.keypairs.next.Load())
	peer.keypairs.current = nil
	peer.keypairs.previous = nil
	peer.keypairs.next.Store(nil)
	peer.keypairs.Unlock()
	peer.FlushQueuedPackets()
}

func (peer *Peer) timersDataSent(now time.Time) {
	peer.markDataSent(now)
}

func (peer *Peer) timersDataReceived(now time.Time) {
	peer.markDataReceived(now)
}

func (peer *Peer) timersHandshakeComplete(now time.Time) {
	peer.markHandshakeComplete(now)
}

func (peer *Peer) timersSessionDerived(now time.Time) {
	peer.markAnyPacketSent(now)
	peer.markAnyPacketReceived(now)
}
