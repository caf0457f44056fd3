package replay

import "testing"

func TestFilterAcceptsInOrder(t *testing.T) {
	var f Filter
	for i := uint64(1); i <= 100; i++ {
		if !f.CheckReplay(i) {
			t.Fatalf("counter %d unexpectedly rejected", i)
		}
	}
	if f.Expected() != 100 {
		t.Fatalf("expected 100, got %d", f.Expected())
	}
}

func TestFilterRejectsZero(t *testing.T) {
	var f Filter
	if f.CheckReplay(0) {
		t.Fatal("counter 0 must always be rejected")
	}
}

func TestFilterRejectsReplay(t *testing.T) {
	var f Filter
	if !f.CheckReplay(5) {
		t.Fatal("first delivery of counter 5 should be accepted")
	}
	if f.CheckReplay(5) {
		t.Fatal("replayed counter 5 should be rejected")
	}
	if f.Expected() != 5 {
		t.Fatalf("expected_seq_nr should not move on a rejected replay, got %d", f.Expected())
	}
}

func TestFilterAcceptsOutOfOrderWithinWindow(t *testing.T) {
	var f Filter
	if !f.CheckReplay(100) {
		t.Fatal("counter 100 should be accepted")
	}
	if !f.CheckReplay(50) {
		t.Fatal("counter 50 is within the window and should be accepted")
	}
	if f.CheckReplay(50) {
		t.Fatal("replayed counter 50 should now be rejected")
	}
}

func TestFilterRejectsTooFarBehind(t *testing.T) {
	var f Filter
	if !f.CheckReplay(windowSize + 1000) {
		t.Fatal("setup counter should be accepted")
	}
	if f.CheckReplay(1) {
		t.Fatal("counter far behind the window should be rejected")
	}
}

func TestFilterMonotonicExpected(t *testing.T) {
	var f Filter
	seqs := []uint64{3, 1, 10, 2, 9}
	for _, s := range seqs {
		f.CheckReplay(s)
	}
	if f.Expected() != 10 {
		t.Fatalf("expected_seq_nr should track the max seen, got %d", f.Expected())
	}
}

func TestFilterReset(t *testing.T) {
	var f Filter
	f.CheckReplay(5)
	f.Reset()
	if f.Expected() != 0 {
		t.Fatalf("reset should zero expected_seq_nr, got %d", f.Expected())
	}
	if !f.CheckReplay(5) {
		t.Fatal("counter 5 should be acceptable again after reset")
	}
}
