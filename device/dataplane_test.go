package device

import (
	"net/netip"
	"testing"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
)

func newTestKeypairPair(t *testing.T) (send, recv *Keypair) {
	t.Helper()
	var key [chacha20poly1305.KeySize]byte
	for i := range key {
		key[i] = byte(i)
	}
	sendAEAD, err := chacha20poly1305.New(key[:])
	if err != nil {
		t.Fatalf("chacha20poly1305.New: %v", err)
	}
	recvAEAD, err := chacha20poly1305.New(key[:])
	if err != nil {
		t.Fatalf("chacha20poly1305.New: %v", err)
	}
	send = &Keypair{send: sendAEAD, receive: recvAEAD, created: time.Now()}
	recv = send
	return send, recv
}

func TestEncryptAndSendFullHeaderRoundTrip(t *testing.T) {
	d, err := NewDevice(mustTestPrivateKey(t))
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}
	peer := newPeer(d)
	kp, _ := newTestKeypairPair(t)
	kp.peer = peer
	peer.keypairs.current = kp
	peer.SetEndpoint(netip.MustParseAddrPort("10.0.0.1:1"))

	var captured []byte
	d.transport = capturingTransport{out: &captured}

	if err := d.EncryptAndSend(peer, []byte("payload")); err != nil {
		t.Fatalf("EncryptAndSend: %v", err)
	}
	if len(captured) == 0 {
		t.Fatal("expected a datagram to be sent")
	}
	if IsShortHeader(captured) {
		t.Fatal("useShortHeader is false; datagram should use the full transport header")
	}

	var delivered []byte
	d.onReceive = func(p *Peer, data []byte) { delivered = append([]byte(nil), data...) }
	d.decryptAndDeliver(peer, kp, peer.Endpoint(), captured)

	if string(delivered) != "payload" {
		t.Fatalf("decrypted payload mismatch: got %q", delivered)
	}
}

func TestEncryptAndSendShortHeaderRoundTrip(t *testing.T) {
	d, err := NewDevice(mustTestPrivateKey(t))
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}
	peer := newPeer(d)
	kp, _ := newTestKeypairPair(t)
	kp.peer = peer
	kp.useShortHeader = true
	peer.keypairs.current = kp
	peer.SetEndpoint(netip.MustParseAddrPort("10.0.0.1:1"))

	var captured []byte
	d.transport = capturingTransport{out: &captured}

	if err := d.EncryptAndSend(peer, []byte("short")); err != nil {
		t.Fatalf("EncryptAndSend: %v", err)
	}
	if !IsShortHeader(captured) {
		t.Fatal("useShortHeader is true; datagram should carry a short header")
	}

	hdr, n, err := DecodeShortHeader(captured)
	if err != nil {
		t.Fatalf("DecodeShortHeader: %v", err)
	}
	if hdr.KeySlot != 2 {
		t.Fatalf("current-slot keypair should encode KeySlot 2, got %d", hdr.KeySlot)
	}

	var delivered []byte
	d.onReceive = func(p *Peer, data []byte) { delivered = append([]byte(nil), data...) }
	d.decryptShortHeaderAndDeliver(peer, kp, peer.Endpoint(), hdr, captured[n:])

	if string(delivered) != "short" {
		t.Fatalf("decrypted payload mismatch: got %q", delivered)
	}
}

func TestOpenAndDeliverRejectsReplay(t *testing.T) {
	d, err := NewDevice(mustTestPrivateKey(t))
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}
	peer := newPeer(d)
	kp, _ := newTestKeypairPair(t)
	kp.peer = peer
	peer.keypairs.current = kp

	var deliveries int
	d.onReceive = func(p *Peer, data []byte) { deliveries++ }

	var captured []byte
	d.transport = capturingTransport{out: &captured}
	if err := d.EncryptAndSend(peer, []byte("x")); err != nil {
		t.Fatalf("EncryptAndSend: %v", err)
	}

	src := netip.MustParseAddrPort("10.0.0.1:1")
	d.decryptAndDeliver(peer, kp, src, captured)
	d.decryptAndDeliver(peer, kp, src, captured)

	if deliveries != 1 {
		t.Fatalf("replayed datagram should only be delivered once, got %d deliveries", deliveries)
	}
}

func TestEncryptAndSendQueuesWhenNoSession(t *testing.T) {
	d, err := NewDevice(mustTestPrivateKey(t))
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}
	peer := newPeer(d)
	peer.isRunning.Store(true)

	var captured []byte
	d.transport = capturingTransport{out: &captured}

	err = d.EncryptAndSend(peer, []byte("queued"))
	if err == nil {
		t.Fatal("expected an error when no session exists yet")
	}
	q := peer.DrainQueue()
	if len(q) != 1 || string(q[0]) != "queued" {
		t.Fatalf("packet should have been queued pending a handshake, got %v", q)
	}
}

type capturingTransport struct {
	out *[]byte
}

func (c capturingTransport) SendTo(addr netip.AddrPort, data []byte) error {
	*c.out = append([]byte(nil), data...)
	return nil
}
