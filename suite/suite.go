// Package suite provides the uniform AEAD calling convention over the
// four cipher suites negotiable by the handshake extension codec, and
// a tag-compression transform for WG_FEATURE_ID_SHORT_MAC (§4.4) that
// the device's data path does not call. Suite 0 and the cookie AEAD are wired to
// golang.org/x/crypto/chacha20poly1305, same as the teacher; suites 1
// and 2 use the standard library's crypto/cipher.NewGCM over
// crypto/aes since no repository in the retrieval pack vendors a
// third-party AES-GCM implementation.
package suite

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/poly1305"
)

// ID identifies a negotiated cipher suite.
type ID uint8

const (
	ChaCha20Poly1305 ID = 0
	AES128GCM        ID = 1
	AES256GCM        ID = 2
	NonePoly1305     ID = 3
)

func (id ID) String() string {
	switch id {
	case ChaCha20Poly1305:
		return "ChaCha20Poly1305"
	case AES128GCM:
		return "AES-128-GCM"
	case AES256GCM:
		return "AES-256-GCM"
	case NonePoly1305:
		return "None-Poly1305"
	default:
		return "unknown"
	}
}

// FullTagSize is the wire tag length before short-MAC compression.
const FullTagSize = 16

// ShortTagSize is the length of the compressed tag CompressMacKeys
// produces for WG_FEATURE_ID_SHORT_MAC.
const ShortTagSize = 8

// New builds the cipher.AEAD for a suite and 32-byte key. NonePoly1305
// has no cipher.AEAD form here: New returns (nil, nil) for it, and the
// device then uses ChaCha20-Poly1305 for that session instead.
func New(id ID, key []byte) (cipher.AEAD, error) {
	switch id {
	case ChaCha20Poly1305:
		return chacha20poly1305.New(key)
	case AES128GCM:
		block, err := aes.NewCipher(key[:16])
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	case AES256GCM:
		block, err := aes.NewCipher(key[:32])
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	case NonePoly1305:
		return nil, nil
	default:
		return nil, fmt.Errorf("suite: unknown cipher suite %d", id)
	}
}

// Nonce builds the 12-byte little-endian, zero-padded AEAD nonce from
// a 64-bit session counter (§4.4).
func Nonce(counter uint64) [12]byte {
	var n [12]byte
	binary.LittleEndian.PutUint64(n[4:], counter)
	return n
}

// CompressMacKeys folds a full 16-byte AEAD tag down to 8 bytes: each
// 64-bit half of the tag is multiplied by a distinct odd constant and
// the two products are XORed. The device's data path does not call it;
// tags always travel at full width.
func CompressMacKeys(full [FullTagSize]byte) [ShortTagSize]byte {
	hi := binary.LittleEndian.Uint64(full[:8])
	lo := binary.LittleEndian.Uint64(full[8:])
	mixed := (hi * 0x9E3779B97F4A7C15) ^ (lo * 0xC2B2AE3D27D4EB4F)
	var out [ShortTagSize]byte
	binary.LittleEndian.PutUint64(out[:], mixed)
	return out
}

// Poly1305Tag computes a standalone Poly1305 tag, the MAC-only
// construction of the None-Poly1305 suite. The device's data path does
// not call it.
func Poly1305Tag(key *[32]byte, msg []byte) [16]byte {
	var tag [16]byte
	poly1305.Sum(&tag, msg, key)
	return tag
}

// VerifyPoly1305Tag checks a standalone Poly1305 tag in constant time.
func VerifyPoly1305Tag(key *[32]byte, msg []byte, tag [16]byte) bool {
	return poly1305.Verify(&tag, msg, key)
}

// TagSize returns ShortTagSize when shortMAC is set and FullTagSize
// otherwise. The device's data path does not call it.
func TagSize(shortMAC bool) int {
	if shortMAC {
		return ShortTagSize
	}
	return FullTagSize
}
