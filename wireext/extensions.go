// Package wireext codes the TunSafe handshake extension TLVs carried
// inside the first handshake AEAD payload (§6). Layouts are grounded
// on original_source/wireguard_proto.h's extension type constants and
// WgPacketCompressionVer01 struct, since spec.md names the extension
// semantics but leaves exact byte layout to the original.
package wireext

import (
	"encoding/binary"
	"errors"
	"net"
)

// Extension type ids, straight from the original protocol header.
const (
	TypePacketCompression ID = 0x15
	TypeBooleanFeatures   ID = 0x16
	TypeCipherSuites      ID = 0x18
	TypeCipherSuitesPrio  ID = 0x19
)

type ID uint8

// MaxPayload bounds the total TLV blob embedded in a handshake
// message (§6).
const MaxPayload = 1024

var ErrTruncated = errors.New("wireext: truncated TLV payload")

// Entry is one decoded TLV record.
type Entry struct {
	Type  ID
	Value []byte
}

// Decode parses a flat list of type/length/value records until the
// payload is exhausted. Unknown type ids are kept (not rejected) so
// a future extension can be added without breaking older peers.
func Decode(payload []byte) ([]Entry, error) {
	var entries []Entry
	for len(payload) > 0 {
		if len(payload) < 2 {
			return nil, ErrTruncated
		}
		typ := ID(payload[0])
		length := int(payload[1])
		payload = payload[2:]
		if len(payload) < length {
			return nil, ErrTruncated
		}
		entries = append(entries, Entry{Type: typ, Value: payload[:length]})
		payload = payload[length:]
	}
	return entries, nil
}

// Encode serializes entries back into the flat TLV form, enforcing
// MaxPayload.
func Encode(entries []Entry) ([]byte, error) {
	var out []byte
	for _, e := range entries {
		if len(e.Value) > 255 {
			return nil, errors.New("wireext: value too long for an 8-bit length")
		}
		out = append(out, byte(e.Type), byte(len(e.Value)))
		out = append(out, e.Value...)
	}
	if len(out) > MaxPayload {
		return nil, errors.New("wireext: extension payload exceeds MaxPayload")
	}
	return out, nil
}

// PacketCompression is the 0x15 extension, WgPacketCompressionVer01 in
// the original header: a 24-byte struct advertising TTL/direction
// hints and the endpoint addresses the compression codec can use.
type PacketCompression struct {
	Version uint16
	TTL     uint8
	Flags   uint8
	IPv4    [4]byte
	IPv6    [16]byte
}

const packetCompressionSize = 2 + 1 + 1 + 4 + 16 // 24

func (p PacketCompression) Marshal() []byte {
	b := make([]byte, packetCompressionSize)
	binary.LittleEndian.PutUint16(b[0:2], p.Version)
	b[2] = p.TTL
	b[3] = p.Flags
	copy(b[4:8], p.IPv4[:])
	copy(b[8:24], p.IPv6[:])
	return b
}

func UnmarshalPacketCompression(b []byte) (PacketCompression, error) {
	var p PacketCompression
	if len(b) != packetCompressionSize {
		return p, ErrTruncated
	}
	p.Version = binary.LittleEndian.Uint16(b[0:2])
	p.TTL = b[2]
	p.Flags = b[3]
	copy(p.IPv4[:], b[4:8])
	copy(p.IPv6[:], b[8:24])
	return p, nil
}

func (p PacketCompression) EndpointIPv4() net.IP { return net.IP(p.IPv4[:]) }
func (p PacketCompression) EndpointIPv6() net.IP { return net.IP(p.IPv6[:]) }

// FeatureID enumerates the six boolean features negotiated via 0x16.
type FeatureID uint8

const (
	FeatureShortHeader FeatureID = iota
	FeatureShortMAC
	FeatureCompression
	FeatureAckPiggyback
	FeatureSpeedTest
	FeatureHeaderObfuscation

	NumFeatures = int(FeatureHeaderObfuscation) + 1
)

// FeatureLevel is the four-way negotiation value each side states for
// a feature.
type FeatureLevel uint8

const (
	LevelOff FeatureLevel = iota
	LevelSupports
	LevelWants
	LevelEnforces
)

// Features is the fixed six-entry boolean feature vector a peer
// advertises in its 0x16 extension.
type Features [NumFeatures]FeatureLevel

func (f Features) Marshal() []byte {
	b := make([]byte, NumFeatures)
	for i, level := range f {
		b[i] = byte(level)
	}
	return b
}

func UnmarshalFeatures(b []byte) (Features, error) {
	var f Features
	if len(b) != NumFeatures {
		return f, ErrTruncated
	}
	for i := range f {
		f[i] = FeatureLevel(b[i])
	}
	return f, nil
}

// Negotiate resolves each feature to on iff both sides say at least
// "supports" and at least one side says "wants" or "enforces" (§6).
func Negotiate(local, remote Features) (resolved [NumFeatures]bool) {
	for i := range resolved {
		bothSupport := local[i] >= LevelSupports && remote[i] >= LevelSupports
		eitherWants := local[i] >= LevelWants || remote[i] >= LevelWants
		resolved[i] = bothSupport && eitherWants
	}
	return resolved
}

// CipherSuites is the 0x18 extension: a length-prefixed list (≤4) of
// one-byte suite ids.
type CipherSuites []uint8

func (cs CipherSuites) Marshal() []byte {
	return append([]byte(nil), cs...)
}

func UnmarshalCipherSuites(b []byte) (CipherSuites, error) {
	if len(b) > 4 {
		return nil, errors.New("wireext: cipher suite list longer than 4")
	}
	return append(CipherSuites(nil), b...), nil
}

// ResolveCipherSuite implements the §9 Open Question (a) tie-break:
// the responder's preference order wins whenever it set its priority
// flag; otherwise the initiator's order wins. Returns the first
// mutually-supported suite in the winning order, or false if there is
// no overlap (falling back to suite 0 is the caller's job per §4.4).
func ResolveCipherSuite(initiatorOrder, responderOrder CipherSuites, responderSetPriority bool) (uint8, bool) {
	primary, secondary := initiatorOrder, responderOrder
	if responderSetPriority {
		primary, secondary = responderOrder, initiatorOrder
	}
	supported := make(map[uint8]bool, len(secondary))
	for _, id := range secondary {
		supported[id] = true
	}
	for _, id := range primary {
		if supported[id] {
			return id, true
		}
	}
	return 0, false
}
