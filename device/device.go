package device

import (
	"crypto/rand"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/vpncore/wgcore/obfuscate"
	"github.com/vpncore/wgcore/ratelimit"
	"github.com/vpncore/wgcore/wgerr"
	"github.com/vpncore/wgcore/wglog"
	"github.com/vpncore/wgcore/wireext"
)

// UnknownPeerAction tells the device how to handle an initiation from
// a public key it has no configured Peer for.
type UnknownPeerAction int

const (
	RejectUnknownPeer UnknownPeerAction = iota
	AuthorizeUnknownPeer
)

// OnUnknownPeer mirrors vpdotnet-wgnet's UnknownPeerFunc: it is
// consulted when a handshake initiation arrives from a public key
// with no configured Peer, and decides whether the device should
// create one on the fly.
type OnUnknownPeer func(publicKey NoisePublicKey, remote netip.AddrPort) UnknownPeerAction

// Transport is the minimal send surface the device needs from its
// caller: a way to hand a finished datagram to an address. It keeps
// device free of any concrete socket implementation, matching the
// spec's non-goal of a bundled UDP/TUN layer.
type Transport interface {
	SendTo(addr netip.AddrPort, data []byte) error
}

// Option configures a Device at construction time, in the style of
// vpdotnet-wgnet's Config struct generalized to functional options.
type Option func(*Device)

func WithLogger(l *wglog.Logger) Option {
	return func(d *Device) { d.log = l }
}

func WithOnUnknownPeer(f OnUnknownPeer) Option {
	return func(d *Device) { d.onUnknownPeer = f }
}

func WithTransport(t Transport) Option {
	return func(d *Device) { d.transport = t }
}

func WithObfuscationKey(secret [obfuscate.KeySize]byte) Option {
	return func(d *Device) {
		k := obfuscate.NewKey(secret)
		d.obfuscationKey = &k
	}
}

// Device owns everything not specific to a single peer: the local
// static identity, the peer set, the key-id and address-binding
// tables, the cookie secret, and the rate limiter (§3).
type Device struct {
	keys          keys
	peers         peers
	indexTable    IndexTable
	addrTable     *AddrTable
	allowedIPs    AllowedIPs
	pools         pools
	rateLimiter   *ratelimit.Limiter
	cookieChecker CookieChecker
	cookieGen     CookieGenerator

	obfuscationKey *obfuscate.Key
	onUnknownPeer  OnUnknownPeer
	onReceive      OnReceive
	transport      Transport

	log *wglog.Logger
}

type keys struct {
	privateKey NoisePrivateKey
	publicKey  NoisePublicKey
	sync.RWMutex
}

type peers struct {
	p map[NoisePublicKey]*Peer
	sync.RWMutex
}

type pools struct {
	outItemsSynced *WaitPool
	inItemsSynced  *WaitPool
	outItems       *WaitPool
	inItems        *WaitPool
	msgBufs        *WaitPool
}

// NewDevice constructs a device around a local static private key.
func NewDevice(privateKey NoisePrivateKey, opts ...Option) (*Device, error) {
	d := &Device{
		log: wglog.Disabled(),
	}
	d.peers.p = make(map[NoisePublicKey]*Peer)
	d.indexTable.Init()
	d.addrTable = NewAddrTable()
	d.PopulatePools()

	seed, err := randRateLimitSeed()
	if err != nil {
		return nil, err
	}
	d.rateLimiter = ratelimit.New(seed)

	for _, opt := range opts {
		opt(d)
	}

	d.keys.privateKey = privateKey
	d.keys.publicKey = privateKey.publicKey()
	d.cookieChecker.Init(d.keys.publicKey)
	d.cookieGen.Init(d.keys.publicKey)

	return d, nil
}

func randRateLimitSeed() ([5]uint32, error) {
	var raw [20]byte
	var seed [5]uint32
	if _, err := rand.Read(raw[:]); err != nil {
		return seed, err
	}
	for i := range seed {
		seed[i] = uint32(raw[4*i])<<24 | uint32(raw[4*i+1])<<16 | uint32(raw[4*i+2])<<8 | uint32(raw[4*i+3])
	}
	return seed, nil
}

func (d *Device) nextRateLimitSeed() [5]uint32 {
	seed, err := randRateLimitSeed()
	if err != nil {
		// Reseeding is best-effort housekeeping, not correctness
		// critical; keep the existing keys on read failure.
		return [5]uint32{}
	}
	return seed
}

func (d *Device) isUp() bool {
	return true
}

func (d *Device) PublicKey() NoisePublicKey {
	d.keys.RLock()
	defer d.keys.RUnlock()
	return d.keys.publicKey
}

// AddPeer configures a new peer for remoteStatic, with an optional
// preshared key and advertised cipher-suite preference list.
func (d *Device) AddPeer(remoteStatic NoisePublicKey, presharedKey NoisePresharedKey, cipherSuites []uint8) (*Peer, error) {
	if remoteStatic.Equals(d.keys.publicKey) {
		return nil, fmt.Errorf("device: cannot add self as peer")
	}
	peer := newPeer(d)
	peer.handshake.remoteStatic = remoteStatic
	peer.handshake.presharedKey = presharedKey
	shared, err := d.keys.privateKey.sharedSecret(remoteStatic)
	if err != nil {
		return nil, err
	}
	peer.handshake.precomputedSharedSecret = shared
	peer.cipherSuites = cipherSuites
	peer.localFeatures = defaultFeatures()
	peer.isRunning.Store(true)

	d.peers.Lock()
	d.peers.p[remoteStatic] = peer
	d.peers.Unlock()

	return peer, nil
}

func defaultFeatures() wireext.Features {
	var f wireext.Features
	for i := range f {
		f[i] = wireext.LevelSupports
	}
	return f
}

func (d *Device) RemovePeer(remoteStatic NoisePublicKey) {
	d.peers.Lock()
	peer, ok := d.peers.p[remoteStatic]
	if ok {
		delete(d.peers.p, remoteStatic)
	}
	d.peers.Unlock()
	if !ok {
		return
	}
	peer.isRunning.Store(false)
	peer.ZeroAndFlushAll()
	d.addrTable.RemovePeer(peer)
	d.allowedIPs.RemovePeer(peer)
}

// AddAllowedIP binds prefix to peer in the external IP→peer map used
// to route outbound packets (§4.1, §6).
func (d *Device) AddAllowedIP(peer *Peer, prefix netip.Prefix) {
	d.allowedIPs.Insert(prefix, peer)
}

// RoutePeer returns the peer, if any, whose allowed-IP set contains
// dst via longest-prefix match.
func (d *Device) RoutePeer(dst netip.Addr) *Peer {
	return d.allowedIPs.Lookup(dst)
}

// Send routes plaintext to the peer responsible for dstIP and
// encrypts it under that peer's session.
func (d *Device) Send(dstIP netip.Addr, plaintext []byte) error {
	peer := d.RoutePeer(dstIP)
	if peer == nil {
		return fmt.Errorf("device: no peer for destination %v", dstIP)
	}
	return d.EncryptAndSend(peer, plaintext)
}

func (d *Device) LookupPeer(pk NoisePublicKey) *Peer {
	d.peers.RLock()
	defer d.peers.RUnlock()
	return d.peers.p[pk]
}

func (d *Device) underLoad() bool {
	return d.rateLimiter.UnderLoad()
}

// HandleIncomingDatagram implements §4.1's five-step dispatch. It
// always returns nil except for a caller-fault error (malformed
// input); every protocol-level failure is swallowed per §7's error
// taxonomy, optionally logged.
func (d *Device) HandleIncomingDatagram(src netip.AddrPort, datagram []byte) error {
	buf := datagram
	if d.obfuscationKey != nil && len(buf) > 0 {
		salt := uint64(len(datagram))
		deobfuscated := append([]byte(nil), buf...)
		d.obfuscationKey.Apply(deobfuscated, salt)
		if !IsShortHeader(deobfuscated) && len(deobfuscated) >= 4 && isKnownType(deobfuscated) {
			buf = deobfuscated
		}
	}

	if IsShortHeader(buf) {
		d.handleShortHeaderData(src, buf)
		return nil
	}

	if len(buf) < 4 {
		return wgerr.ErrMalformedMessage
	}

	msgType := leUint32(buf)
	switch msgType {
	case MessageInitiationType:
		d.handleInitiation(src, buf)
	case MessageResponseType:
		d.handleResponse(src, buf)
	case MessageCookieReplyType:
		d.handleCookieReply(buf)
	case MessageTransportType:
		d.handleTransport(src, buf)
	default:
		d.log.Verbosef("device: dropping malformed message from %v", src)
		return nil
	}
	return nil
}

func isKnownType(buf []byte) bool {
	t := leUint32(buf)
	return t >= MessageInitiationType && t <= MessageTransportType
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func (d *Device) handleInitiation(src netip.AddrPort, buf []byte) {
	if len(buf) != MessageInitiationSize {
		return
	}
	var msg MessageInitiation
	if err := msg.unmarshal(buf); err != nil {
		return
	}

	if !d.cookieChecker.CheckMAC1(buf) {
		d.log.Verbosef("device: bad mac1 on initiation from %v", src)
		return
	}
	if d.underLoad() && !d.cookieChecker.CheckMAC2(buf, srcBytes(src)) {
		reply, err := d.cookieChecker.CreateReply(buf, msg.Sender, srcBytes(src))
		if err == nil {
			d.sendCookieReply(src, reply)
		}
		return
	}
	if !d.rateLimiter.Allow(src.Addr()) {
		return
	}

	peer := d.ConsumeMessageInitiation(&msg, src)
	if peer == nil {
		return
	}
	peer.SetEndpoint(src)

	resp, err := d.CreateMessageResponse(peer)
	if err != nil {
		d.log.Errorf("device: failed to create handshake response for %v: %v", src, err)
		return
	}
	b := marshalResponse(resp)
	d.cookieGen.AddMacs(b)
	if err := peer.BeginSymmetricSession(); err != nil {
		d.log.Errorf("device: failed to begin session for %v: %v", src, err)
		return
	}
	peer.timersHandshakeComplete(time.Now())
	d.sendRaw(src, b)
}

func (d *Device) handleResponse(src netip.AddrPort, buf []byte) {
	if len(buf) != MessageResponseSize {
		return
	}
	var msg MessageResponse
	if err := msg.unmarshal(buf); err != nil {
		return
	}
	if !d.cookieChecker.CheckMAC1(buf) {
		return
	}
	if d.underLoad() && !d.cookieChecker.CheckMAC2(buf, srcBytes(src)) {
		reply, err := d.cookieChecker.CreateReply(buf, msg.Sender, srcBytes(src))
		if err == nil {
			d.sendCookieReply(src, reply)
		}
		return
	}

	peer := d.ConsumeMessageResponse(&msg)
	if peer == nil {
		return
	}
	peer.SetEndpoint(src)
	if err := peer.BeginSymmetricSession(); err != nil {
		d.log.Errorf("device: failed to begin session with %v: %v", src, err)
		return
	}
	peer.timersHandshakeComplete(time.Now())
	for _, packet := range peer.DrainQueue() {
		_ = d.EncryptAndSend(peer, packet)
	}
}

func (d *Device) handleCookieReply(buf []byte) {
	if len(buf) != MessageCookieReplySize {
		return
	}
	var msg MessageCookieReply
	if err := msg.unmarshal(buf); err != nil {
		return
	}
	index := d.indexTable.Get(msg.Receiver)
	if index.peer == nil {
		return
	}
	d.cookieGen.ConsumeReply(&msg)
}

func (d *Device) handleTransport(src netip.AddrPort, buf []byte) {
	if len(buf) < MessageTransportHeaderSize {
		return
	}
	receiver := leUint32(buf[MessageTransportOffsetReceiver:])
	index := d.indexTable.Get(receiver)
	if index.keypair == nil {
		d.log.Verbosef("device: unknown key id from %v", src)
		return
	}
	d.decryptAndDeliver(index.peer, index.keypair, src, buf)
}

func (d *Device) handleShortHeaderData(src netip.AddrPort, buf []byte) {
	hdr, n, err := DecodeShortHeader(buf)
	if err != nil {
		return
	}
	entry := d.addrTable.Lookup(src)
	if entry == nil {
		return
	}
	kp := entry.peer.keypairs.Slot(hdr.KeySlot)
	if kp == nil {
		return
	}
	d.decryptShortHeaderAndDeliver(entry.peer, kp, src, hdr, buf[n:])
}

func srcBytes(addr netip.AddrPort) []byte {
	a := addr.Addr()
	if a.Is4() {
		b := a.As4()
		return append(b[:], byte(addr.Port()), byte(addr.Port()>>8))
	}
	b := a.As16()
	return append(b[:], byte(addr.Port()), byte(addr.Port()>>8))
}

func marshalResponse(m *MessageResponse) []byte {
	b := make([]byte, MessageResponseSize)
	_ = m.marshal(b)
	return b
}

func (d *Device) sendRaw(addr netip.AddrPort, data []byte) {
	if d.transport == nil {
		return
	}
	if err := d.transport.SendTo(addr, data); err != nil {
		d.log.Errorf("device: send to %v failed: %v", addr, err)
	}
}

func (d *Device) sendCookieReply(addr netip.AddrPort, reply *MessageCookieReply) {
	b := make([]byte, MessageCookieReplySize)
	_ = reply.marshal(b)
	d.sendRaw(addr, b)
}

func (d *Device) sendHandshakeInitiation(peer *Peer) error {
	msg, err := d.CreateMessageInitiation(peer)
	if err != nil {
		return err
	}
	b := make([]byte, MessageInitiationSize)
	if err := msg.marshal(b); err != nil {
		return err
	}
	d.cookieGen.AddMacs(b)
	d.sendRaw(peer.Endpoint(), b)
	return nil
}

func (d *Device) sendKeepalive(peer *Peer) error {
	return d.EncryptAndSend(peer, nil)
}

func (cc *CookieChecker) rotateIfStale(now time.Time) {
	cc.RLock()
	stale := time.Since(cc.mac2.secretSet) > CookieRefreshTime
	cc.RUnlock()
	if !stale {
		return
	}
	cc.Lock()
	defer cc.Unlock()
	if time.Since(cc.mac2.secretSet) <= CookieRefreshTime {
		return
	}
	cc.mac2.prevSecret = cc.mac2.secret
	cc.mac2.havePrev = !isZero(cc.mac2.prevSecret[:])
	if _, err := rand.Read(cc.mac2.secret[:]); err == nil {
		cc.mac2.secretSet = now
	}
}
