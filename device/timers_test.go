package device

import (
	"testing"
	"time"
)

func newTestPeerNoDevice() *Peer {
	return &Peer{}
}

func TestSinceUnixNanoNeverSet(t *testing.T) {
	d := sinceUnixNano(0, time.Now())
	if d < time.Hour*24*365 {
		t.Fatalf("an unset deadline should report an effectively-infinite duration, got %v", d)
	}
}

func TestSinceUnixNanoElapsed(t *testing.T) {
	now := time.Now()
	past := now.Add(-5 * time.Second)
	d := sinceUnixNano(past.UnixNano(), now)
	if d < 4*time.Second || d > 6*time.Second {
		t.Fatalf("expected ~5s elapsed, got %v", d)
	}
}

func TestMarkHandshakeCompleteResetsAttempts(t *testing.T) {
	peer := newTestPeerNoDevice()
	peer.timers.handshakeAttempts.Store(7)
	peer.timers.wantHandshakeSince.Store(123)
	peer.timers.sentLastMinuteHandshake.Store(true)

	now := time.Now()
	peer.markHandshakeComplete(now)

	if peer.timers.handshakeAttempts.Load() != 0 {
		t.Fatal("handshake attempts should reset to 0")
	}
	if peer.timers.wantHandshakeSince.Load() != 0 {
		t.Fatal("wantHandshakeSince should clear")
	}
	if peer.timers.sentLastMinuteHandshake.Load() {
		t.Fatal("sentLastMinuteHandshake should clear")
	}
	if peer.lastHandshake.Load() != now.UnixNano() {
		t.Fatal("lastHandshake should be stamped")
	}
}

func TestMarkDataSentAndReceivedUpdateAnyPacketTimers(t *testing.T) {
	peer := newTestPeerNoDevice()
	now := time.Now()

	peer.markDataSent(now)
	if peer.timers.lastDataSent.Load() != now.UnixNano() {
		t.Fatal("lastDataSent should be stamped")
	}
	if peer.timers.lastAnyPacketSent.Load() != now.UnixNano() {
		t.Fatal("markDataSent should also stamp lastAnyPacketSent")
	}

	peer.timers.needAnotherKeepalive.Store(true)
	peer.markDataReceived(now)
	if peer.timers.lastDataReceived.Load() != now.UnixNano() {
		t.Fatal("lastDataReceived should be stamped")
	}
	if peer.timers.needAnotherKeepalive.Load() {
		t.Fatal("markDataReceived should clear needAnotherKeepalive")
	}
}

func TestCheckTimersKeypairExpiryClearsSlots(t *testing.T) {
	d, err := NewDevice(mustTestPrivateKey(t))
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}
	peer := newPeer(d)
	peer.isRunning.Store(true)

	old := &Keypair{created: time.Now().Add(-RejectAfterTime - time.Second)}
	peer.keypairs.previous = old
	peer.keypairs.next.Store(old)

	peer.checkTimers(time.Now())

	if peer.keypairs.previous != nil {
		t.Fatal("expired previous keypair should be cleared")
	}
	if peer.keypairs.next.Load() != nil {
		t.Fatal("expired next keypair should be cleared")
	}
}

func mustTestPrivateKey(t *testing.T) NoisePrivateKey {
	t.Helper()
	priv, err := newPrivateKey()
	if err != nil {
		t.Fatalf("newPrivateKey: %v", err)
	}
	return priv
}
