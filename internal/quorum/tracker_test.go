package quorum

import (
	"testing"
	"time"
)

func TestAwaitMajorityReached(t *testing.T) {
	tr := New(2)
	tr.Begin()

	done := make(chan WaitResult, 1)
	go func() {
		done <- tr.AwaitMajority(time.Second)
	}()

	tr.RecordAck(1)
	if tr.HasMajority() {
		t.Fatalf("majority reached after a single ack with threshold 2")
	}
	tr.RecordAck(2)
	if !tr.HasMajority() {
		t.Fatalf("expected majority after two distinct acks")
	}
	tr.Complete()

	select {
	case res := <-done:
		if res != Reached {
			t.Fatalf("got %v, want Reached", res)
		}
	case <-time.After(time.Second):
		t.Fatal("AwaitMajority did not return after Complete")
	}
}

func TestAwaitMajorityTimesOut(t *testing.T) {
	tr := New(3)
	tr.Begin()
	tr.RecordAck(1)

	res := tr.AwaitMajority(20 * time.Millisecond)
	if res != TimedOut {
		t.Fatalf("got %v, want TimedOut", res)
	}
}

func TestRecordAckIsASet(t *testing.T) {
	tr := New(2)
	tr.Begin()
	tr.RecordAck(1)
	tr.RecordAck(1)
	if tr.HasMajority() {
		t.Fatalf("duplicate acks from the same node must not count twice")
	}
}

func TestBeginPanicsWhenAlreadyInProgress(t *testing.T) {
	tr := New(2)
	tr.Begin()

	defer func() {
		if recover() == nil {
			t.Fatal("expected Begin to panic on a second Begin before Complete")
		}
	}()
	tr.Begin()
}

func TestCompleteResetsToIdle(t *testing.T) {
	tr := New(1)
	tr.Begin()
	tr.RecordAck(1)
	tr.Complete()

	// Idle again: Begin must not panic, and the prior ack must be gone.
	tr.Begin()
	if tr.HasMajority() {
		t.Fatalf("acks from the previous phase leaked into the new one")
	}
}

func TestStragglerAckBetweenCompleteAndBeginIsDropped(t *testing.T) {
	tr := New(3)
	tr.Begin()
	tr.RecordAck(1)
	tr.RecordAck(2)
	tr.RecordAck(3)
	tr.Complete()

	// A late ack for the just-completed operation (matching ts/seq,
	// since nothing has advanced it yet) arrives while idle.
	tr.RecordAck(4)

	tr.Begin()
	tr.RecordAck(1)
	tr.RecordAck(2)
	if tr.HasMajority() {
		t.Fatalf("straggler ack from before Begin() counted toward the new phase")
	}
}
