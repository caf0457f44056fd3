package tai64n

import (
	"bytes"
	"encoding/binary"
	"time"
)

const (
	TimestampSize = 12
	// By adding this large base value, WireGuard guarantees
	// that all TAI64N timestamps are positive 64-bit integers,
	// avoiding issues with signed/unsigned integer handling
	// across different systems.
	base         = uint64(0x400000000000000a)
	whitenerMask = uint32(0xffffff)
)

// First 8 bytes are seconds, last 4 bytes nanoseconds.
// Values encoded in big-endian order.
type Timestamp [TimestampSize]byte

func stampFrom(t time.Time) Timestamp {
	secs := base + uint64(t.Unix())
	// nanosecond whitening: clears the low 24 bits so the wire value
	// doesn't leak sub-16ms timing information about the local clock.
	nano := uint32(t.Nanosecond()) &^ whitenerMask
	var ts Timestamp
	binary.BigEndian.PutUint64(ts[:], secs)
	binary.BigEndian.PutUint32(ts[8:], nano)
	return ts
}

func Now() Timestamp {
	return stampFrom(time.Now())
}

// After reports whether t is strictly later than other.
func (t Timestamp) After(other Timestamp) bool {
	return bytes.Compare(t[:], other[:]) > 0
}

// IsZero reports whether t is the unset timestamp.
func (t Timestamp) IsZero() bool {
	return t == Timestamp{}
}

func (t Timestamp) String() string {
	secs := int64(binary.BigEndian.Uint64(t[:8]) - base)
	nano := int64(binary.BigEndian.Uint32(t[8:12]))
	return time.Unix(secs, nano).String()
}
