package device

import (
	"net/netip"
	"time"

	"github.com/vpncore/wgcore/suite"
	"github.com/vpncore/wgcore/wgerr"
)

// OnReceive is invoked with decrypted inner packets as they arrive.
// Keepalives (zero-length content) are delivered too; callers that
// only want data packets can filter on len(data) == 0.
type OnReceive func(peer *Peer, data []byte)

func WithOnReceive(f OnReceive) Option {
	return func(d *Device) { d.onReceive = f }
}

// EncryptAndSend seals plaintext under peer's current session and
// transmits it. A nil/empty plaintext sends a keepalive. If no
// session exists yet, the packet is queued and a handshake is
// initiated instead (§3, §4.2).
func (d *Device) EncryptAndSend(peer *Peer, plaintext []byte) error {
	kp := peer.keypairs.Current()
	now := time.Now()
	if kp == nil || kp.expired(now) {
		if len(plaintext) > 0 {
			peer.EnqueuePacket(plaintext)
		}
		peer.initiateHandshake(now)
		return wgerr.ErrSessionExpired
	}

	// Counters start at 1: the replay filter always rejects seq == 0
	// as a sentinel for "nothing received yet" (see replay.Filter).
	counter := kp.sendNonce.Add(1)
	if counter >= RejectAfterMessages {
		peer.initiateHandshake(now)
		return wgerr.ErrSessionExpired
	}

	nonce := suite.Nonce(counter)
	// The AEAD tag always travels at full width: crypto/cipher.AEAD's
	// Open is all-or-nothing, so an 8-byte "compressed" tag would need
	// a hand-rolled verification step beneath the standard interface.
	// A negotiated short-MAC feature is only recorded in
	// Keypair.shortMAC; nothing on the wire changes because of it.
	sealed := kp.send.Seal(nil, nonce[:], plaintext, nil)

	var datagram []byte
	if kp.useShortHeader {
		slot := slotForKeypair(peer, kp)
		hdr := ShortHeader{KeySlot: slot, Width: Width4, CounterLow: counter}
		datagram = append(EncodeShortHeader(hdr), sealed...)
	} else {
		b := make([]byte, MessageTransportHeaderSize)
		putLE32(b, MessageTransportType)
		putLE32(b[MessageTransportOffsetReceiver:], kp.remoteIndex)
		putLE64(b[MessageTransportOffsetCounter:], counter)
		datagram = append(b, sealed...)
	}

	d.sendRaw(peer.Endpoint(), datagram)
	peer.markDataSent(now)
	return nil
}

func slotForKeypair(peer *Peer, kp *Keypair) uint8 {
	switch {
	case peer.keypairs.Slot(3) == kp:
		return 3
	case peer.keypairs.Slot(2) == kp:
		return 2
	default:
		return 1
	}
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func putLE64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func (d *Device) decryptAndDeliver(peer *Peer, kp *Keypair, src netip.AddrPort, buf []byte) {
	counter := leUint64(buf[MessageTransportOffsetCounter:])
	content := buf[MessageTransportOffsetContent:]
	d.openAndDeliver(peer, kp, src, counter, content)
}

func (d *Device) decryptShortHeaderAndDeliver(peer *Peer, kp *Keypair, src netip.AddrPort, hdr ShortHeader, content []byte) {
	expected := kp.replayFilter.Expected()
	counter := ReconstructCounter(hdr.CounterLow, hdr.Width, expected)
	d.openAndDeliver(peer, kp, src, counter, content)
}

func (d *Device) openAndDeliver(peer *Peer, kp *Keypair, src netip.AddrPort, counter uint64, content []byte) {
	if !kp.replayFilter.CheckReplay(counter) {
		return
	}
	nonce := suite.Nonce(counter)

	plaintext, err := kp.receive.Open(nil, nonce[:], content, nil)
	if err != nil {
		return
	}

	now := time.Now()
	peer.ReceivedWithKeypair(kp)
	peer.markDataReceived(now)
	peer.SetEndpoint(src)
	d.addrTable.Update(src, peer, kp, now)

	if d.onReceive != nil {
		d.onReceive(peer, plaintext)
	}
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}
