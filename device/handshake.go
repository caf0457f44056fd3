package device

import (
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/vpncore/wgcore/suite"
	"github.com/vpncore/wgcore/tai64n"
	"github.com/vpncore/wgcore/wireext"
	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/chacha20poly1305"
)

func init() {
	InitialChainKey = blake2s.Sum256([]byte(NoiseConstruction))
	mixHash(&InitialHash, &InitialChainKey, []byte(WGIdentifier))
}

type handshakeState int

const (
	handshakeZeroed handshakeState = iota
	handshakeInitiationCreated
	handshakeInitiationConsumed
	handshakeResponseCreated
	handshakeResponseConsumed
)

func (hs handshakeState) String() string {
	switch hs {
	case handshakeZeroed:
		return "handshakeZeroed"
	case handshakeInitiationCreated:
		return "handshakeInitiationCreated"
	case handshakeInitiationConsumed:
		return "handshakeInitiationConsumed"
	case handshakeResponseCreated:
		return "handshakeResponseCreated"
	case handshakeResponseConsumed:
		return "handshakeResponseConsumed"
	default:
		return fmt.Sprintf("unknown handshake state: %d", int(hs))
	}
}

const (
	NoiseConstruction = "Noise_IKpsk2_25519_ChaChaPoly_BLAKE2s"
	WGIdentifier      = "WireGuard v1 zx2c4 Jason@zx2c4.com"
	WGLabelMAC1       = "mac1----"
	WGLabelCookie     = "cookie--"
)

var (
	InitialChainKey [blake2s.Size]byte
	InitialHash     [blake2s.Size]byte
	ZeroNonce       [chacha20poly1305.NonceSize]byte
)

// Handshake holds the live Noise_IKpsk2 transcript state for a peer
// while an initiation/response exchange is in progress (§3, §4.2).
type Handshake struct {
	state                     handshakeState
	hash                      [blake2s.Size]byte
	chainKey                  [blake2s.Size]byte
	presharedKey              NoisePresharedKey
	localEphemeral            NoisePrivateKey
	localIndex                uint32
	remoteIndex               uint32
	remoteStatic              NoisePublicKey
	remoteEphemeral           NoisePublicKey
	precomputedSharedSecret   [NoisePublicKeySize]byte
	lastTimestamp             tai64n.Timestamp
	lastInitiationConsumption time.Time
	lastSentHandshake         time.Time
	sync.RWMutex
}

func (h *Handshake) Clear() {
	setZero(h.hash[:])
	setZero(h.chainKey[:])
	setZero(h.localEphemeral[:])
	setZero(h.remoteEphemeral[:])
	h.state = handshakeZeroed
	h.localIndex = 0
}

func (h *Handshake) mixHash(data []byte) {
	mixHash(&h.hash, &h.hash, data)
}

func (h *Handshake) mixKey(data []byte) {
	mixKey(&h.chainKey, &h.chainKey, data)
}

func mixKey(dst, c *[blake2s.Size]byte, data []byte) {
	KDF1(dst, c[:], data)
}

func mixHash(dst, h *[blake2s.Size]byte, data []byte) {
	hash, _ := blake2s.New256(nil)
	hash.Write(h[:])
	hash.Write(data)
	hash.Sum(dst[:0])
	hash.Reset()
}

// localExtensionPayload builds the TLV blob this device embeds inside
// the first handshake AEAD payload: the cipher-suite list when the peer
// has one, and always the boolean-features entry. Returns nil only if
// encoding fails. Neither fixed-size handshake message has room for the
// result, so both creators fall back to the plain WireGuard payload.
func (d *Device) localExtensionPayload(peer *Peer) []byte {
	var entries []wireext.Entry
	if len(peer.cipherSuites) > 0 {
		entries = append(entries, wireext.Entry{
			Type:  wireext.TypeCipherSuites,
			Value: wireext.CipherSuites(peer.cipherSuites).Marshal(),
		})
	}
	entries = append(entries, wireext.Entry{
		Type:  wireext.TypeBooleanFeatures,
		Value: peer.localFeatures.Marshal(),
	})
	encoded, err := wireext.Encode(entries)
	if err != nil || len(encoded) == 0 {
		return nil
	}
	return encoded
}

func (d *Device) applyRemoteExtensionPayload(peer *Peer, payload []byte) {
	entries, err := wireext.Decode(payload)
	if err != nil {
		return
	}
	for _, e := range entries {
		switch e.Type {
		case wireext.TypeBooleanFeatures:
			if f, err := wireext.UnmarshalFeatures(e.Value); err == nil {
				peer.remoteFeatures = f
			}
		case wireext.TypeCipherSuites:
			if cs, err := wireext.UnmarshalCipherSuites(e.Value); err == nil {
				peer.remoteCipherSuites = cs
			}
		case wireext.TypeCipherSuitesPrio:
			peer.remoteSetCipherPrio = len(e.Value) > 0 && e.Value[0] != 0
		}
	}
	peer.negotiatedFeatures = wireext.Negotiate(peer.localFeatures, peer.remoteFeatures)
}

func (d *Device) CreateMessageInitiation(peer *Peer) (*MessageInitiation, error) {
	d.keys.RLock()
	defer d.keys.RUnlock()
	hs := &peer.handshake
	hs.Lock()
	defer hs.Unlock()
	var err error
	hs.hash = InitialHash
	hs.chainKey = InitialChainKey
	hs.localEphemeral, err = newPrivateKey()
	if err != nil {
		return nil, err
	}
	hs.mixHash(hs.remoteStatic[:])
	msg := MessageInitiation{
		Type:      MessageInitiationType,
		Ephemeral: hs.localEphemeral.publicKey(),
	}
	hs.mixKey(msg.Ephemeral[:])
	hs.mixHash(msg.Ephemeral[:])
	shared, err := hs.localEphemeral.sharedSecret(hs.remoteStatic)
	if err != nil {
		return nil, err
	}
	var key [chacha20poly1305.KeySize]byte
	KDF2(&hs.chainKey, &key, hs.chainKey[:], shared[:])
	aead, _ := chacha20poly1305.New(key[:])
	aead.Seal(msg.Static[:0], ZeroNonce[:], d.keys.publicKey[:], hs.hash[:])
	hs.mixHash(msg.Static[:])
	if isZero(hs.precomputedSharedSecret[:]) {
		return nil, errInvalidPublicKey
	}
	KDF2(&hs.chainKey, &key, hs.chainKey[:], hs.precomputedSharedSecret[:])
	timestamp := tai64n.Now()
	payload := timestamp[:]
	if ext := d.localExtensionPayload(peer); ext != nil {
		payload = append(append([]byte{}, timestamp[:]...), ext...)
	}
	sealed := make([]byte, 0, len(payload)+chacha20poly1305.Overhead)
	aead, _ = chacha20poly1305.New(key[:])
	sealed = aead.Seal(sealed, ZeroNonce[:], payload, hs.hash[:])
	if len(sealed) == len(msg.Timestamp) {
		copy(msg.Timestamp[:], sealed)
	} else {
		// no room for the extension blob in the fixed-size field;
		// fall back to timestamp-only, matching plain WireGuard wire size.
		aead.Seal(msg.Timestamp[:0], ZeroNonce[:], timestamp[:], hs.hash[:])
	}
	d.indexTable.Delete(hs.localIndex)
	msg.Sender, err = d.indexTable.NewIndexForHandshake(peer, hs)
	if err != nil {
		return nil, err
	}
	hs.localIndex = msg.Sender
	hs.mixHash(msg.Timestamp[:])
	hs.state = handshakeInitiationCreated
	hs.lastSentHandshake = time.Now()
	return &msg, nil
}

func (d *Device) ConsumeMessageInitiation(msg *MessageInitiation, src netip.AddrPort) *Peer {
	if msg.Type != MessageInitiationType {
		return nil
	}
	d.keys.RLock()
	defer d.keys.RUnlock()
	var (
		hash     [blake2s.Size]byte
		chainKey [blake2s.Size]byte
	)
	mixHash(&hash, &InitialHash, d.keys.publicKey[:])
	mixHash(&hash, &hash, msg.Ephemeral[:])
	mixKey(&chainKey, &InitialChainKey, msg.Ephemeral[:])
	var peerPublicKey NoisePublicKey
	var key [chacha20poly1305.KeySize]byte
	shared, err := d.keys.privateKey.sharedSecret(msg.Ephemeral)
	if err != nil {
		return nil
	}
	KDF2(&chainKey, &key, chainKey[:], shared[:])
	aead, _ := chacha20poly1305.New(key[:])
	_, err = aead.Open(peerPublicKey[:0], ZeroNonce[:], msg.Static[:], hash[:])
	if err != nil {
		return nil
	}
	mixHash(&hash, &hash, msg.Static[:])
	peer := d.LookupPeer(peerPublicKey)
	if peer == nil {
		if d.onUnknownPeer == nil || d.onUnknownPeer(peerPublicKey, src) != AuthorizeUnknownPeer {
			return nil
		}
		var err error
		peer, err = d.AddPeer(peerPublicKey, NoisePresharedKey{}, nil)
		if err != nil {
			return nil
		}
	}
	if !peer.isRunning.Load() {
		return nil
	}
	hs := &peer.handshake
	var timestamp tai64n.Timestamp
	var extensionPayload []byte
	hs.RLock()
	if isZero(hs.precomputedSharedSecret[:]) {
		hs.RUnlock()
		return nil
	}
	KDF2(&chainKey, &key, chainKey[:], hs.precomputedSharedSecret[:])
	aead, _ = chacha20poly1305.New(key[:])
	opened, err := aead.Open(nil, ZeroNonce[:], msg.Timestamp[:], hash[:])
	if err != nil {
		hs.RUnlock()
		return nil
	}
	copy(timestamp[:], opened[:tai64n.TimestampSize])
	if len(opened) > tai64n.TimestampSize {
		extensionPayload = opened[tai64n.TimestampSize:]
	}
	mixHash(&hash, &hash, msg.Timestamp[:])
	replay := !timestamp.After(hs.lastTimestamp)
	flood := time.Since(hs.lastInitiationConsumption) <= MinHandshakeInterval
	hs.RUnlock()
	if replay {
		d.log.Verbosef("%v - ConsumeMessageInitiation: stale handshake timestamp @ %v", peer, timestamp)
		return nil
	}
	if flood {
		d.log.Verbosef("%v - ConsumeMessageInitiation: handshake rate limited", peer)
		return nil
	}
	hs.Lock()
	hs.hash = hash
	hs.chainKey = chainKey
	hs.remoteIndex = msg.Sender
	hs.remoteEphemeral = msg.Ephemeral
	if timestamp.After(hs.lastTimestamp) {
		hs.lastTimestamp = timestamp
	}
	now := time.Now()
	if now.After(hs.lastInitiationConsumption) {
		hs.lastInitiationConsumption = now
	}
	hs.state = handshakeInitiationConsumed
	hs.Unlock()
	if extensionPayload != nil {
		d.applyRemoteExtensionPayload(peer, extensionPayload)
	}
	setZero(hash[:])
	setZero(chainKey[:])
	return peer
}

func (d *Device) CreateMessageResponse(peer *Peer) (*MessageResponse, error) {
	hs := &peer.handshake
	hs.Lock()
	defer hs.Unlock()
	if hs.state != handshakeInitiationConsumed {
		return nil, errors.New("handshake initiation must be consumed first")
	}
	var err error
	d.indexTable.Delete(hs.localIndex)
	hs.localIndex, err = d.indexTable.NewIndexForHandshake(peer, hs)
	if err != nil {
		return nil, err
	}
	var msg MessageResponse
	msg.Type = MessageResponseType
	msg.Sender = hs.localIndex
	msg.Receiver = hs.remoteIndex
	hs.localEphemeral, err = newPrivateKey()
	if err != nil {
		return nil, err
	}
	msg.Ephemeral = hs.localEphemeral.publicKey()
	hs.mixHash(msg.Ephemeral[:])
	hs.mixKey(msg.Ephemeral[:])
	shared, err := hs.localEphemeral.sharedSecret(hs.remoteEphemeral)
	if err != nil {
		return nil, err
	}
	hs.mixKey(shared[:])
	shared, err = hs.localEphemeral.sharedSecret(hs.remoteStatic)
	if err != nil {
		return nil, err
	}
	hs.mixKey(shared[:])
	var tau [blake2s.Size]byte
	var key [chacha20poly1305.KeySize]byte
	KDF3(&hs.chainKey, &tau, &key, hs.chainKey[:], hs.presharedKey[:])
	hs.mixHash(tau[:])
	aead, _ := chacha20poly1305.New(key[:])
	payload := d.localExtensionPayload(peer)
	sealed := aead.Seal(nil, ZeroNonce[:], payload, hs.hash[:])
	if len(sealed) == len(msg.Empty) {
		copy(msg.Empty[:], sealed)
	} else {
		// no room for the extension blob in the fixed-size field;
		// fall back to an empty payload, matching plain WireGuard wire size.
		aead.Seal(msg.Empty[:0], ZeroNonce[:], nil, hs.hash[:])
	}
	hs.mixHash(msg.Empty[:])
	hs.state = handshakeResponseCreated
	hs.lastSentHandshake = time.Now()
	return &msg, nil
}

func (d *Device) ConsumeMessageResponse(msg *MessageResponse) *Peer {
	if msg.Type != MessageResponseType {
		return nil
	}
	index := d.indexTable.Get(msg.Receiver)
	hs := index.handshake
	if hs == nil {
		return nil
	}
	var (
		hash     [blake2s.Size]byte
		chainKey [blake2s.Size]byte
	)
	ok := func() bool {
		hs.RLock()
		defer hs.RUnlock()
		if hs.state != handshakeInitiationCreated {
			return false
		}
		d.keys.RLock()
		defer d.keys.RUnlock()
		mixHash(&hash, &hs.hash, msg.Ephemeral[:])
		mixKey(&chainKey, &hs.chainKey, msg.Ephemeral[:])
		shared, err := hs.localEphemeral.sharedSecret(msg.Ephemeral)
		if err != nil {
			return false
		}
		mixKey(&chainKey, &chainKey, shared[:])
		setZero(shared[:])
		shared, err = d.keys.privateKey.sharedSecret(msg.Ephemeral)
		if err != nil {
			return false
		}
		mixKey(&chainKey, &chainKey, shared[:])
		setZero(shared[:])
		var tau [blake2s.Size]byte
		var key [chacha20poly1305.KeySize]byte
		KDF3(&chainKey, &tau, &key, chainKey[:], hs.presharedKey[:])
		mixHash(&hash, &hash, tau[:])
		aead, _ := chacha20poly1305.New(key[:])
		opened, err := aead.Open(nil, ZeroNonce[:], msg.Empty[:], hash[:])
		if err != nil {
			return false
		}
		mixHash(&hash, &hash, msg.Empty[:])
		if len(opened) > 0 {
			index.peer.device.applyRemoteExtensionPayload(index.peer, opened)
		}
		return true
	}()
	if !ok {
		return nil
	}
	hs.Lock()
	hs.hash = hash
	hs.chainKey = chainKey
	hs.remoteIndex = msg.Sender
	hs.state = handshakeResponseConsumed
	hs.Unlock()
	setZero(hash[:])
	setZero(chainKey[:])
	return index.peer
}

// BeginSymmetricSession derives a new keypair from the completed
// handshake transcript and installs it into the peer's three-slot
// ring (§4.2, §4.3).
func (peer *Peer) BeginSymmetricSession() error {
	d := peer.device
	hs := &peer.handshake
	hs.Lock()
	defer hs.Unlock()
	var (
		isInitiator bool
		sendKey     [chacha20poly1305.KeySize]byte
		recvKey     [chacha20poly1305.KeySize]byte
	)
	switch hs.state {
	case handshakeResponseConsumed:
		KDF2(&sendKey, &recvKey, hs.chainKey[:], nil)
		isInitiator = true
	case handshakeResponseCreated:
		KDF2(&recvKey, &sendKey, hs.chainKey[:], nil)
		isInitiator = false
	default:
		return fmt.Errorf("invalid state for keypair derivation: %v", hs.state)
	}
	setZero(hs.chainKey[:])
	setZero(hs.hash[:])
	setZero(hs.localEphemeral[:])
	hs.state = handshakeZeroed

	keypair := new(Keypair)
	keypair.cipherSuite = peer.resolvedCipherSuite()
	send, sendErr := suite.New(keypair.cipherSuite, sendKey[:])
	receive, recvErr := suite.New(keypair.cipherSuite, recvKey[:])
	if sendErr != nil || recvErr != nil || send == nil || receive == nil {
		keypair.cipherSuite = suite.ChaCha20Poly1305
		send, _ = chacha20poly1305.New(sendKey[:])
		receive, _ = chacha20poly1305.New(recvKey[:])
	}
	keypair.send = send
	keypair.receive = receive
	setZero(sendKey[:])
	setZero(recvKey[:])
	keypair.created = time.Now()
	keypair.replayFilter.Reset()
	keypair.isInitiator = isInitiator
	keypair.localIndex = hs.localIndex
	keypair.remoteIndex = hs.remoteIndex
	keypair.peer = peer
	keypair.shortMAC = peer.negotiatedFeatures[wireext.FeatureShortMAC]
	keypair.useShortHeader = peer.negotiatedFeatures[wireext.FeatureShortHeader]

	d.indexTable.SwapIndexForKeypair(hs.localIndex, keypair)
	hs.localIndex = 0

	keypairs := &peer.keypairs
	keypairs.Lock()
	defer keypairs.Unlock()
	previous := keypairs.previous
	next := keypairs.next.Load()
	current := keypairs.current
	if isInitiator {
		if next != nil {
			keypairs.next.Store(nil)
			keypairs.previous = next
			d.DeleteKeypair(current)
		} else {
			keypairs.previous = current
		}
		d.DeleteKeypair(previous)
		keypairs.current = keypair
	} else {
		keypairs.next.Store(keypair)
		d.DeleteKeypair(next)
		keypairs.previous = nil
		d.DeleteKeypair(previous)
	}
	return nil
}

// ReceivedWithKeypair implements the "switch on first inbound" ring
// promotion rule (§4.3): the first authenticated packet decrypted
// under `next` promotes it to `curr`, demoting the old `curr` to
// `prev`.
func (peer *Peer) ReceivedWithKeypair(receivedKeypair *Keypair) bool {
	kp := &peer.keypairs
	if kp.next.Load() != receivedKeypair {
		return false
	}
	kp.Lock()
	defer kp.Unlock()
	if kp.next.Load() != receivedKeypair {
		return false
	}
	old := kp.previous
	kp.previous = kp.current
	peer.device.DeleteKeypair(old)
	kp.current = kp.next.Load()
	kp.next.Store(nil)
	return true
}
