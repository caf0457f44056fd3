package wireext

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	entries := []Entry{
		{Type: TypeCipherSuites, Value: []byte{0, 1, 2}},
		{Type: TypeBooleanFeatures, Value: Features{LevelSupports, LevelWants}.Marshal()},
	}
	encoded, err := Encode(entries)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(decoded) != len(entries) {
		t.Fatalf("got %d entries, want %d", len(decoded), len(entries))
	}
	for i := range entries {
		if decoded[i].Type != entries[i].Type || !bytes.Equal(decoded[i].Value, entries[i].Value) {
			t.Fatalf("entry %d mismatch: got %+v want %+v", i, decoded[i], entries[i])
		}
	}
}

func TestDecodeTruncated(t *testing.T) {
	if _, err := Decode([]byte{0x15, 24, 1, 2}); err != ErrTruncated {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestPacketCompressionRoundTrip(t *testing.T) {
	p := PacketCompression{Version: 1, TTL: 64, Flags: 0x03, IPv4: [4]byte{10, 0, 0, 1}}
	b := p.Marshal()
	if len(b) != packetCompressionSize {
		t.Fatalf("marshaled size = %d, want %d", len(b), packetCompressionSize)
	}
	got, err := UnmarshalPacketCompression(b)
	if err != nil {
		t.Fatalf("UnmarshalPacketCompression: %v", err)
	}
	if got != p {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, p)
	}
}

func TestNegotiateRequiresSupportAndWant(t *testing.T) {
	var local, remote Features
	local[FeatureShortHeader] = LevelSupports
	remote[FeatureShortHeader] = LevelWants
	resolved := Negotiate(local, remote)
	if !resolved[FeatureShortHeader] {
		t.Fatal("feature should resolve on when one side wants and both support")
	}

	local[FeatureShortMAC] = LevelOff
	remote[FeatureShortMAC] = LevelWants
	resolved = Negotiate(local, remote)
	if resolved[FeatureShortMAC] {
		t.Fatal("feature must not resolve on when one side is off")
	}
}

func TestNegotiateEnforceImpliesWant(t *testing.T) {
	var local, remote Features
	local[FeatureCompression] = LevelSupports
	remote[FeatureCompression] = LevelEnforces
	resolved := Negotiate(local, remote)
	if !resolved[FeatureCompression] {
		t.Fatal("enforces should satisfy the 'at least one wants' condition")
	}
}

func TestResolveCipherSuiteInitiatorWinsByDefault(t *testing.T) {
	initiator := CipherSuites{2, 0, 1}
	responder := CipherSuites{1, 0, 2}
	id, ok := ResolveCipherSuite(initiator, responder, false)
	if !ok || id != 2 {
		t.Fatalf("expected initiator's first mutually supported suite (2), got id=%d ok=%v", id, ok)
	}
}

func TestResolveCipherSuiteResponderPriorityWins(t *testing.T) {
	initiator := CipherSuites{2, 0, 1}
	responder := CipherSuites{1, 0, 2}
	id, ok := ResolveCipherSuite(initiator, responder, true)
	if !ok || id != 1 {
		t.Fatalf("expected responder's first mutually supported suite (1), got id=%d ok=%v", id, ok)
	}
}

func TestResolveCipherSuiteNoOverlap(t *testing.T) {
	initiator := CipherSuites{2}
	responder := CipherSuites{1}
	_, ok := ResolveCipherSuite(initiator, responder, false)
	if ok {
		t.Fatal("expected no overlap to report false")
	}
}
