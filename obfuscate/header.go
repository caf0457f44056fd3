// Package obfuscate implements the optional 4-way SipHash-XOR header
// obfuscation referenced in §4.1. The device uses it whenever an
// obfuscation key is configured; no per-peer negotiation switches it
// on or off. It XORs the leading header bytes of a datagram with a
// per-packet keystream derived from SipHash-2-4 over a device-wide
// obfuscation key and a length-dependent salt, so that the real
// message type/flags byte is not visible to a passive observer.
package obfuscate

import (
	"encoding/binary"

	"github.com/vpncore/wgcore/internal/siphash"
)

// KeySize is the length of the shared obfuscation key.
const KeySize = 16

// Key holds the two 64-bit SipHash subkeys derived from the
// device-wide obfuscation secret.
type Key struct {
	k0, k1 uint64
}

func NewKey(secret [KeySize]byte) Key {
	return Key{
		k0: binary.LittleEndian.Uint64(secret[:8]),
		k1: binary.LittleEndian.Uint64(secret[8:]),
	}
}

// Apply XORs the first min(len(header), 4*8) bytes of header in place
// with a keystream generated by hashing the salt under four distinct
// domain-separated SipHash invocations, one per 8-byte lane. Applying
// it twice with the same salt reverses the transform, so this one
// function serves both obfuscation and deobfuscation.
func (k Key) Apply(header []byte, salt uint64) {
	for lane := 0; lane*8 < len(header) && lane < 4; lane++ {
		word := siphash.HashUint64(k.k0^uint64(lane), k.k1, salt)
		n := min(8, len(header)-lane*8)
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], word)
		for i := 0; i < n; i++ {
			header[lane*8+i] ^= buf[i]
		}
	}
}
