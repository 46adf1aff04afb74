// Package abdstate holds the single piece of mutable replica state an ABD
// node keeps: the current (timestamp, value) pair, plus the two sequence
// counters used to tell a fresh read phase's acks apart from a stale one
// (spec.md §4.2, §5).
package abdstate

import "sync"

// State is the replica state for one node. All four mutation disciplines
// described in spec.md §5 — write-prepare, adopt, read-phase-1-prepare,
// read-phase-2-prepare — go through the same mutex; the lock is never held
// across network I/O (spec invariant: lock order is state lock before
// quorum lock, never the other way around, and never across a send/recv).
type State[V any] struct {
	mu sync.Mutex

	ts  int64
	val V

	r1Seq int64
	r2Seq int64
}

// New returns replica state initialised to the zero timestamp and the zero
// value of V, matching every node's state before the first write.
func New[V any]() *State[V] {
	return &State[V]{}
}

// WritePrepare bumps the timestamp strictly past the current one and
// installs newVal, then returns the new (ts, val) pair to broadcast in a
// WriteMessage. Per spec.md §4.4.1, the writer is the sole source of new
// timestamps, so this always advances ts by exactly 1 rather than racing
// other writers — single-writer is a precondition of the whole protocol,
// not something this method enforces.
func (s *State[V]) WritePrepare(newVal V) (ts int64, val V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ts++
	s.val = newVal
	return s.ts, s.val
}

// Adopt installs (ts, val) if ts is strictly greater than the locally held
// timestamp, and reports whether it did. Used by the WriteMessage and
// Read2Message handlers when the incoming (ts, val) is newer than this
// node's own — the standard ABD "adopt the highest timestamp seen" rule.
func (s *State[V]) Adopt(ts int64, val V) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ts <= s.ts {
		return false
	}
	s.ts = ts
	s.val = val
	return true
}

// Snapshot returns the current (ts, val) pair without mutating anything.
func (s *State[V]) Snapshot() (ts int64, val V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ts, s.val
}

// ReadPhase1Prepare allocates a fresh read-phase-1 sequence number and
// returns it alongside the current (ts, val) snapshot. The sequence number
// is what lets a Read1Ack handler reject acks belonging to an earlier,
// abandoned read (spec.md §4.4.4, §5 ack-sequence filtering).
func (s *State[V]) ReadPhase1Prepare() (seq int64, ts int64, val V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.r1Seq++
	return s.r1Seq, s.ts, s.val
}

// R1Seq returns the sequence number of the most recently started
// read-phase-1, for filtering incoming Read1Ack messages.
func (s *State[V]) R1Seq() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r1Seq
}

// ReadPhase2Prepare adopts the highest (ts, val) discovered during phase 1
// — so that phase 2's writeback broadcasts a value this node itself now
// holds — and allocates a fresh read-phase-2 sequence number for filtering
// Read2Ack messages the same way R1Seq filters Read1Ack ones.
func (s *State[V]) ReadPhase2Prepare(discoveredTS int64, discoveredVal V) (seq int64, ts int64, val V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if discoveredTS > s.ts {
		s.ts = discoveredTS
		s.val = discoveredVal
	}
	s.r2Seq++
	return s.r2Seq, s.ts, s.val
}

// R2Seq returns the sequence number of the most recently started
// read-phase-2, for filtering incoming Read2Ack messages.
func (s *State[V]) R2Seq() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r2Seq
}
