package device

import (
	"encoding/binary"
	"errors"

	"github.com/vpncore/wgcore/tai64n"
	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	MessageInitiationType  = 1
	MessageResponseType    = 2
	MessageCookieReplyType = 3
	MessageTransportType   = 4
)

const (
	// size of handshake initiation message
	MessageInitiationSize = 148
	// size of response message
	MessageResponseSize = 92
	// size of cookie reply message
	MessageCookieReplySize = 64
	// size of data preceding content in a full-header transport message
	MessageTransportHeaderSize = 16
	// size of an empty full-header transport message (16-byte tag)
	MessageTransportSize = MessageTransportHeaderSize + chacha20poly1305.Overhead
	// size of a full-header keepalive
	MessageKeepaliveSize = MessageTransportSize
	// size of the largest handshake-related message
	MessageHandshakeSize = MessageInitiationSize
)

const (
	MessageTransportOffsetReceiver = 4
	MessageTransportOffsetCounter  = 8
	MessageTransportOffsetContent  = 16
)

var errMessageLenMismatch = errors.New("message length mismatch")

// Type is an 8-bit field followed by 3 nul bytes; marshalling in
// little-endian byte order lets us treat it as a 32-bit unsigned int.

type MessageInitiation struct {
	Type      uint32
	Sender    uint32
	Ephemeral NoisePublicKey
	Static    [NoisePublicKeySize + chacha20poly1305.Overhead]byte
	Timestamp [tai64n.TimestampSize + chacha20poly1305.Overhead]byte
	MAC1      [blake2s.Size128]byte
	MAC2      [blake2s.Size128]byte
}

func (m *MessageInitiation) marshal(b []byte) error {
	if len(b) != MessageInitiationSize {
		return errMessageLenMismatch
	}
	binary.LittleEndian.PutUint32(b, m.Type)
	binary.LittleEndian.PutUint32(b[4:], m.Sender)
	off := 8
	off += copy(b[off:], m.Ephemeral[:])
	off += copy(b[off:], m.Static[:])
	off += copy(b[off:], m.Timestamp[:])
	off += copy(b[off:], m.MAC1[:])
	copy(b[off:], m.MAC2[:])
	return nil
}

func (m *MessageInitiation) unmarshal(b []byte) error {
	if len(b) != MessageInitiationSize {
		return errMessageLenMismatch
	}
	m.Type = binary.LittleEndian.Uint32(b)
	m.Sender = binary.LittleEndian.Uint32(b[4:])
	off := 8
	off += copy(m.Ephemeral[:], b[off:])
	off += copy(m.Static[:], b[off:])
	off += copy(m.Timestamp[:], b[off:])
	off += copy(m.MAC1[:], b[off:])
	copy(m.MAC2[:], b[off:])
	return nil
}

// macPrefix returns the bytes covered by mac1 (everything up to, not
// including, the mac1 field itself).
func (m *MessageInitiation) macPrefix(b []byte) []byte {
	return b[:MessageInitiationSize-2*blake2s.Size128]
}

type MessageResponse struct {
	Type      uint32
	Sender    uint32
	Receiver  uint32
	Ephemeral NoisePublicKey
	Empty     [chacha20poly1305.Overhead]byte
	MAC1      [blake2s.Size128]byte
	MAC2      [blake2s.Size128]byte
}

func (m *MessageResponse) marshal(b []byte) error {
	if len(b) != MessageResponseSize {
		return errMessageLenMismatch
	}
	binary.LittleEndian.PutUint32(b, m.Type)
	binary.LittleEndian.PutUint32(b[4:], m.Sender)
	binary.LittleEndian.PutUint32(b[8:], m.Receiver)
	off := 12
	off += copy(b[off:], m.Ephemeral[:])
	off += copy(b[off:], m.Empty[:])
	off += copy(b[off:], m.MAC1[:])
	copy(b[off:], m.MAC2[:])
	return nil
}

func (m *MessageResponse) unmarshal(b []byte) error {
	if len(b) != MessageResponseSize {
		return errMessageLenMismatch
	}
	m.Type = binary.LittleEndian.Uint32(b)
	m.Sender = binary.LittleEndian.Uint32(b[4:])
	m.Receiver = binary.LittleEndian.Uint32(b[8:])
	off := 12
	off += copy(m.Ephemeral[:], b[off:])
	off += copy(m.Empty[:], b[off:])
	off += copy(m.MAC1[:], b[off:])
	copy(m.MAC2[:], b[off:])
	return nil
}

func (m *MessageResponse) macPrefix(b []byte) []byte {
	return b[:MessageResponseSize-2*blake2s.Size128]
}

type MessageTransport struct {
	Type     uint32
	Receiver uint32
	Counter  uint64
	Content  []byte
}

type MessageCookieReply struct {
	Type     uint32
	Receiver uint32
	Nonce    [chacha20poly1305.NonceSizeX]byte
	Cookie   [blake2s.Size128 + chacha20poly1305.Overhead]byte
}

func (m *MessageCookieReply) marshal(b []byte) error {
	if len(b) != MessageCookieReplySize {
		return errMessageLenMismatch
	}
	binary.LittleEndian.PutUint32(b, m.Type)
	binary.LittleEndian.PutUint32(b[4:], m.Receiver)
	off := 8
	off += copy(b[off:], m.Nonce[:])
	copy(b[off:], m.Cookie[:])
	return nil
}

func (m *MessageCookieReply) unmarshal(b []byte) error {
	if len(b) != MessageCookieReplySize {
		return errMessageLenMismatch
	}
	m.Type = binary.LittleEndian.Uint32(b)
	m.Receiver = binary.LittleEndian.Uint32(b[4:])
	off := 8
	off += copy(m.Nonce[:], b[off:])
	copy(m.Cookie[:], b[off:])
	return nil
}

// Short-header data framing (§4.4, §6). The high bit of the leading
// byte distinguishes this form from the 32-bit type field of the
// other three message kinds, all of which always have that bit clear
// (their type ids are 1-4).

const (
	shortHeaderBit    = 0x80
	shortHeaderKeySlotMask  = 0x60
	shortHeaderKeySlotShift = 5
	shortHeaderAckBit       = 0x10
	shortHeaderWidthMask    = 0x03
)

// CounterWidth is the delta-encoded counter width carried in a short
// header's low flag bits.
type CounterWidth uint8

const (
	Width1 CounterWidth = 0
	Width2 CounterWidth = 1
	Width4 CounterWidth = 2
)

func (w CounterWidth) Bytes() int {
	switch w {
	case Width1:
		return 1
	case Width2:
		return 2
	case Width4:
		return 4
	default:
		return 1
	}
}

// ShortHeader describes a decoded short-header data packet (§6): the
// flags byte's key-slot selector, optional ACK piggyback, and the
// delta-encoded counter low bits.
type ShortHeader struct {
	KeySlot      uint8 // 1, 2, or 3 -- selects prev/curr/next
	HasACK       bool
	Width        CounterWidth
	CounterLow   uint64
	AckCounterLow uint64 // valid only if HasACK
}

// IsShortHeader reports whether the leading byte of buf marks a
// short-header data packet.
func IsShortHeader(buf []byte) bool {
	return len(buf) > 0 && buf[0]&shortHeaderBit != 0
}

// EncodeShortHeader writes the flags byte (and any ACK piggyback
// bytes) followed by the delta-encoded counter, per §6's bit layout.
func EncodeShortHeader(h ShortHeader) []byte {
	flags := byte(shortHeaderBit)
	flags |= (h.KeySlot << shortHeaderKeySlotShift) & shortHeaderKeySlotMask
	if h.HasACK {
		flags |= shortHeaderAckBit
	}
	flags |= byte(h.Width) & shortHeaderWidthMask

	out := []byte{flags}
	out = appendCounterLow(out, h.CounterLow, h.Width)
	if h.HasACK {
		out = appendCounterLow(out, h.AckCounterLow, h.Width)
	}
	return out
}

func appendCounterLow(out []byte, v uint64, width CounterWidth) []byte {
	switch width {
	case Width1:
		return append(out, byte(v))
	case Width2:
		return append(out, byte(v), byte(v>>8))
	default:
		return append(out, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
	}
}

// DecodeShortHeader parses a short header from buf, returning the
// header and the number of bytes it occupied.
func DecodeShortHeader(buf []byte) (ShortHeader, int, error) {
	if len(buf) < 1 {
		return ShortHeader{}, 0, errMessageLenMismatch
	}
	flags := buf[0]
	h := ShortHeader{
		KeySlot: (flags & shortHeaderKeySlotMask) >> shortHeaderKeySlotShift,
		HasACK:  flags&shortHeaderAckBit != 0,
		Width:   CounterWidth(flags & shortHeaderWidthMask),
	}
	n := 1 + h.Width.Bytes()
	if h.HasACK {
		n += h.Width.Bytes()
	}
	if len(buf) < n {
		return ShortHeader{}, 0, errMessageLenMismatch
	}
	h.CounterLow = readCounterLow(buf[1:], h.Width)
	if h.HasACK {
		h.AckCounterLow = readCounterLow(buf[1+h.Width.Bytes():], h.Width)
	}
	return h, n, nil
}

func readCounterLow(buf []byte, width CounterWidth) uint64 {
	switch width {
	case Width1:
		return uint64(buf[0])
	case Width2:
		return uint64(buf[0]) | uint64(buf[1])<<8
	default:
		return uint64(buf[0]) | uint64(buf[1])<<8 | uint64(buf[2])<<16 | uint64(buf[3])<<24
	}
}

// ReconstructCounter recovers the full 64-bit counter from a
// delta-encoded low value, choosing the value congruent to low modulo
// 2^(8*width) nearest to expected (§4.4, invariant 10).
func ReconstructCounter(low uint64, width CounterWidth, expected uint64) uint64 {
	span := uint64(1) << (8 * uint(width.Bytes()))
	base := expected &^ (span - 1)
	candidate := base | low

	half := span / 2
	if candidate+half < expected {
		candidate += span
	} else if candidate > expected+half && candidate >= span {
		candidate -= span
	}
	return candidate
}
