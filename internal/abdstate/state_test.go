package abdstate

import "testing"

func TestWritePrepareAdvancesTimestamp(t *testing.T) {
	s := New[string]()

	ts, val := s.WritePrepare("Haskell")
	if ts != 1 || val != "Haskell" {
		t.Fatalf("got (%d, %q), want (1, Haskell)", ts, val)
	}

	ts, val = s.WritePrepare("Erlang")
	if ts != 2 || val != "Erlang" {
		t.Fatalf("got (%d, %q), want (2, Erlang)", ts, val)
	}
}

func TestAdoptOnlyAcceptsStrictlyNewerTimestamps(t *testing.T) {
	s := New[string]()
	s.WritePrepare("a") // ts=1

	if s.Adopt(1, "b") {
		t.Fatalf("Adopt must reject an equal timestamp")
	}
	if ts, val := s.Snapshot(); ts != 1 || val != "a" {
		t.Fatalf("state mutated by a rejected Adopt: got (%d, %q)", ts, val)
	}

	if !s.Adopt(2, "b") {
		t.Fatalf("Adopt must accept a strictly greater timestamp")
	}
	if ts, val := s.Snapshot(); ts != 2 || val != "b" {
		t.Fatalf("got (%d, %q), want (2, b)", ts, val)
	}
}

func TestReadPhaseSequenceNumbersAreMonotonic(t *testing.T) {
	s := New[string]()

	seq1, _, _ := s.ReadPhase1Prepare()
	seq2, _, _ := s.ReadPhase1Prepare()
	if seq2 <= seq1 {
		t.Fatalf("read-phase-1 sequence numbers must strictly increase: %d then %d", seq1, seq2)
	}
	if got := s.R1Seq(); got != seq2 {
		t.Fatalf("R1Seq() = %d, want %d", got, seq2)
	}
}

func TestReadPhase2PrepareAdoptsDiscoveredValue(t *testing.T) {
	s := New[string]()
	s.WritePrepare("stale") // ts=1

	seq, ts, val := s.ReadPhase2Prepare(5, "fresh")
	if seq != 1 {
		t.Fatalf("first ReadPhase2Prepare should return seq 1, got %d", seq)
	}
	if ts != 5 || val != "fresh" {
		t.Fatalf("got (%d, %q), want (5, fresh)", ts, val)
	}
	if gotTS, gotVal := s.Snapshot(); gotTS != 5 || gotVal != "fresh" {
		t.Fatalf("discovered value was not adopted: got (%d, %q)", gotTS, gotVal)
	}
}

func TestReadPhase2PrepareKeepsLocalValueWhenNewer(t *testing.T) {
	s := New[string]()
	s.WritePrepare("local") // ts=1

	_, ts, val := s.ReadPhase2Prepare(0, "older")
	if ts != 1 || val != "local" {
		t.Fatalf("got (%d, %q), want (1, local): a lower discovered timestamp must not overwrite local state", ts, val)
	}
}
