package device

import (
	"testing"

	"github.com/vpncore/wgcore/wireext"
)

func TestPeerStringAbbreviatesKey(t *testing.T) {
	priv, err := newPrivateKey()
	if err != nil {
		t.Fatalf("newPrivateKey: %v", err)
	}
	peer := &Peer{}
	peer.handshake.remoteStatic = priv.publicKey()
	s := peer.String()
	if len(s) < len("peer(____…____)") {
		t.Fatalf("unexpected peer string shape: %q", s)
	}
}

func TestPeerEnqueueDequeueOrder(t *testing.T) {
	peer := &Peer{}
	peer.EnqueuePacket([]byte("a"))
	peer.EnqueuePacket([]byte("b"))
	peer.EnqueuePacket([]byte("c"))

	got := peer.DrainQueue()
	if len(got) != 3 || string(got[0]) != "a" || string(got[1]) != "b" || string(got[2]) != "c" {
		t.Fatalf("unexpected drained queue: %v", got)
	}
	if len(peer.DrainQueue()) != 0 {
		t.Fatal("queue should be empty after draining")
	}
}

func TestPeerEnqueueBounded(t *testing.T) {
	peer := &Peer{}
	for i := 0; i < MaxQueuedPackets+10; i++ {
		peer.EnqueuePacket([]byte{byte(i)})
	}
	got := peer.DrainQueue()
	if len(got) != MaxQueuedPackets {
		t.Fatalf("queue should be capped at MaxQueuedPackets, got %d", len(got))
	}
	if got[0][0] != byte(10) {
		t.Fatalf("oldest packets should have been dropped, got first byte %d", got[0][0])
	}
}

func TestResolvedCipherSuiteFallsBackWithNoOverlap(t *testing.T) {
	peer := &Peer{}
	if peer.resolvedCipherSuite() != 0 {
		t.Fatal("with nothing advertised, resolvedCipherSuite should fall back to ChaCha20Poly1305 (0)")
	}
}

func TestNegotiatedFeaturesRequireBothSupportAndOneWants(t *testing.T) {
	local := defaultFeatures()
	var remote wireext.Features
	for i := range remote {
		remote[i] = wireext.LevelWants
	}
	resolved := wireext.Negotiate(local, remote)
	for i, on := range resolved {
		if !on {
			t.Fatalf("feature %d should negotiate on when one side wants and both support", i)
		}
	}

	var neitherWants wireext.Features
	for i := range neitherWants {
		neitherWants[i] = wireext.LevelSupports
	}
	resolved = wireext.Negotiate(local, neitherWants)
	for i, on := range resolved {
		if on {
			t.Fatalf("feature %d should stay off when neither side wants it", i)
		}
	}
}

func TestApplyRemoteExtensionPayloadUpdatesPeerState(t *testing.T) {
	d := &Device{}
	peer := &Peer{localFeatures: defaultFeatures()}

	var remoteFeatures wireext.Features
	for i := range remoteFeatures {
		remoteFeatures[i] = wireext.LevelWants
	}
	entries := []wireext.Entry{
		{Type: wireext.TypeBooleanFeatures, Value: remoteFeatures.Marshal()},
		{Type: wireext.TypeCipherSuites, Value: wireext.CipherSuites{2, 0}.Marshal()},
	}
	encoded, err := wireext.Encode(entries)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	d.applyRemoteExtensionPayload(peer, encoded)

	if len(peer.remoteCipherSuites) != 2 || peer.remoteCipherSuites[0] != 2 {
		t.Fatalf("unexpected remote cipher suites: %v", peer.remoteCipherSuites)
	}
	for i, on := range peer.negotiatedFeatures {
		if !on {
			t.Fatalf("feature %d should have negotiated on", i)
		}
	}
}
