package device

import "testing"

func TestShortHeaderEncodeDecodeRoundTrip(t *testing.T) {
	h := ShortHeader{KeySlot: 2, Width: Width2, CounterLow: 0xBEEF}
	encoded := EncodeShortHeader(h)
	if !IsShortHeader(encoded) {
		t.Fatal("encoded header should set the short-header bit")
	}
	decoded, n, err := DecodeShortHeader(encoded)
	if err != nil {
		t.Fatalf("DecodeShortHeader: %v", err)
	}
	if n != len(encoded) {
		t.Fatalf("decoded length %d should match encoded length %d", n, len(encoded))
	}
	if decoded.KeySlot != h.KeySlot || decoded.Width != h.Width || decoded.CounterLow != h.CounterLow {
		t.Fatalf("round trip mismatch: got %+v want %+v", decoded, h)
	}
}

func TestShortHeaderWithACK(t *testing.T) {
	h := ShortHeader{KeySlot: 1, Width: Width1, CounterLow: 7, HasACK: true, AckCounterLow: 3}
	encoded := EncodeShortHeader(h)
	decoded, n, err := DecodeShortHeader(encoded)
	if err != nil {
		t.Fatalf("DecodeShortHeader: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 1 flags byte + 2x1-byte counters, got %d bytes", n)
	}
	if !decoded.HasACK || decoded.AckCounterLow != 3 {
		t.Fatalf("ACK piggyback not decoded correctly: %+v", decoded)
	}
}

func TestIsShortHeaderDistinguishesFullHeaderTypes(t *testing.T) {
	for _, typ := range []byte{MessageInitiationType, MessageResponseType, MessageCookieReplyType, MessageTransportType} {
		buf := []byte{typ, 0, 0, 0}
		if IsShortHeader(buf) {
			t.Fatalf("type %d must not be mistaken for a short header", typ)
		}
	}
}

func TestReconstructCounterNearestCongruentValue(t *testing.T) {
	expected := uint64(1000)
	// low value congruent to 1005 mod 256 (Width1)
	got := ReconstructCounter(1005%256, Width1, expected)
	if got != 1005 {
		t.Fatalf("expected 1005, got %d", got)
	}
}

func TestReconstructCounterWrapsBackward(t *testing.T) {
	expected := uint64(770)
	// low value 255 just after a 256-wide wraparound boundary (768): the
	// nearest congruent counter lies below that boundary, not above it
	got := ReconstructCounter(255, Width1, expected)
	if got != 767 {
		t.Fatalf("expected nearest congruent value to 770 (767), got %d", got)
	}
}

func TestMessageInitiationMarshalUnmarshalRoundTrip(t *testing.T) {
	var m MessageInitiation
	m.Type = MessageInitiationType
	m.Sender = 42
	m.Ephemeral[0] = 0xAB

	b := make([]byte, MessageInitiationSize)
	if err := m.marshal(b); err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got MessageInitiation
	if err := got.unmarshal(b); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Sender != m.Sender || got.Ephemeral != m.Ephemeral {
		t.Fatalf("round trip mismatch: got %+v", got)
	}
}

func TestMessageLenMismatchErrors(t *testing.T) {
	var m MessageInitiation
	if err := m.marshal(make([]byte, MessageInitiationSize-1)); err == nil {
		t.Fatal("expected error for undersized buffer")
	}
	if err := m.unmarshal(make([]byte, MessageInitiationSize+1)); err == nil {
		t.Fatal("expected error for oversized buffer")
	}
}
