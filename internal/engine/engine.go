// Package engine implements the per-node ABD replication engine: the
// write and two-phase read operations, the six message handlers, and the
// reliable-broadcast-until-majority retransmission loop (spec.md §4.4).
package engine

import (
	"encoding/json"
	"sync"
	"time"

	"distributed-swmr-register/internal/abdstate"
	"distributed-swmr-register/internal/logging"
	"distributed-swmr-register/internal/quorum"
	"distributed-swmr-register/internal/wire"
)

// DefaultRetransmitInterval is T_retx from spec.md §4.4.1: the interval at
// which an in-flight write or read rebroadcasts its message while waiting
// for a majority of acks.
const DefaultRetransmitInterval = 100 * time.Millisecond

// Transport is the outbound half of the transport contract the engine
// consumes (spec.md §6.2). Inbound bytes reach the engine through
// HandleDatagram instead of a callback type, since Go lets the engine
// expose that method directly to whatever owns the socket.
type Transport interface {
	SendTo(peer int, payload []byte) error
	Broadcast(payload []byte) error
}

// Stats is a snapshot of the engine's operation and message counters,
// supplementing spec.md with the lightweight evaluation-counter feature
// carried over from the original source's run-result reporting (see
// SPEC_FULL.md §4) — deliberately just a counter struct, not a harness.
type Stats struct {
	WritesStarted    uint64
	WritesCompleted  uint64
	ReadsStarted     uint64
	ReadsCompleted   uint64
	MessagesSent     uint64
	MessagesReceived uint64
	MessagesDropped  uint64
}

// Engine is one node's ABD replication engine. V is carried by value
// throughout; callers must only instantiate Engine with a plain value
// type (no shared mutable state reachable through V, e.g. avoid slice or
// map value types) since the protocol's correctness relies on Go's
// ordinary value-copy semantics to give each held (ts, val) snapshot the
// "clonable" property spec.md assumes.
type Engine[V any] struct {
	self     int
	peers    []int
	majority int
	retx     time.Duration

	transport Transport
	log       logging.Logger

	state *abdstate.State[V]

	writeQuorum *quorum.Tracker
	read1Quorum *quorum.Tracker
	read2Quorum *quorum.Tracker

	writeMu sync.Mutex // serialises concurrent Write callers
	readMu  sync.Mutex // serialises concurrent Read callers

	read1mu  sync.Mutex // protects the phase-1 discovery accumulator below
	read1TS  int64
	read1Val V

	statsMu sync.Mutex
	stats   Stats
}

// Config carries the construction-time inputs spec.md §6.3 requires other
// than the transport, which New takes as a separate argument: the local
// node ID and the full node set N. Nodes must include self; majority is
// derived as ⌊|N|/2⌋+1.
type Config struct {
	Self  int
	Nodes []int
}

// New builds an idle engine. The transport must be supplied after
// construction via SetTransport if it has its own back-reference to the
// engine to wire up first (spec.md §9's two-step construction pattern);
// passing it here directly is also fine when the transport has no such
// back-reference.
func New[V any](cfg Config, transport Transport, log logging.Logger) *Engine[V] {
	if log == nil {
		log = logging.Default(cfg.Self)
	}
	majority := len(cfg.Nodes)/2 + 1
	return &Engine[V]{
		self:        cfg.Self,
		peers:       append([]int(nil), cfg.Nodes...),
		majority:    majority,
		retx:        DefaultRetransmitInterval,
		transport:   transport,
		log:         log,
		state:       abdstate.New[V](),
		writeQuorum: quorum.New(majority),
		read1Quorum: quorum.New(majority),
		read2Quorum: quorum.New(majority),
	}
}

// SetTransport completes two-step construction (spec.md §9): build the
// engine, build the transport with a reference to the engine for
// HandleDatagram delivery, then call SetTransport before any thread reads
// or writes. Must not be called after the receiver thread starts.
func (e *Engine[V]) SetTransport(t Transport) {
	e.transport = t
}

// SetRetransmitInterval overrides DefaultRetransmitInterval, mainly for
// tests that want the retransmit loop to spin faster than 100ms.
func (e *Engine[V]) SetRetransmitInterval(d time.Duration) {
	e.retx = d
}

// Majority returns this node's majority threshold, ⌊|N|/2⌋+1.
func (e *Engine[V]) Majority() int {
	return e.majority
}

// Stats returns a snapshot of the engine's counters.
func (e *Engine[V]) Stats() Stats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.stats
}

func (e *Engine[V]) broadcast(payload []byte) {
	e.statsMu.Lock()
	e.stats.MessagesSent += uint64(len(e.peers))
	e.statsMu.Unlock()
	if err := e.transport.Broadcast(payload); err != nil {
		e.log.Errorf("broadcast failed: %v", err)
	}
}

func (e *Engine[V]) unicast(peer int, payload []byte) {
	e.statsMu.Lock()
	e.stats.MessagesSent++
	e.statsMu.Unlock()
	if err := e.transport.SendTo(peer, payload); err != nil {
		e.log.Errorf("send to node %d failed: %v", peer, err)
	}
}

// Write performs the single-writer ABD write described in spec.md §4.4.1.
// It blocks until a majority of nodes (including self) have acked the
// value's timestamp; there is no user-visible timeout or error return, by
// design (spec.md §7).
func (e *Engine[V]) Write(val V) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	e.statsMu.Lock()
	e.stats.WritesStarted++
	e.statsMu.Unlock()

	ts, v := e.state.WritePrepare(val)
	e.writeQuorum.Begin()

	payload, err := json.Marshal(wire.WriteMessage[V]{Sender: e.self, Timestamp: ts, Value: v})
	if err != nil {
		// V failed to marshal: nothing retrying will fix, so give up on
		// this write rather than spin forever broadcasting garbage.
		e.log.Errorf("write: failed to encode value: %v", err)
		e.writeQuorum.Complete()
		return
	}

	e.broadcast(payload)
	for e.writeQuorum.AwaitMajority(e.retx) == quorum.TimedOut {
		e.log.Infof("write: retransmitting timestamp %d after timeout", ts)
		e.broadcast(payload)
	}

	e.statsMu.Lock()
	e.stats.WritesCompleted++
	e.statsMu.Unlock()
}

// Read performs the two-phase ABD read described in spec.md §4.4.4:
// discover the highest (ts, val) known to a majority, then write it back
// to a majority before returning it. Like Write, it blocks until it can
// safely terminate and never returns an error.
func (e *Engine[V]) Read() V {
	e.readMu.Lock()
	defer e.readMu.Unlock()

	e.statsMu.Lock()
	e.stats.ReadsStarted++
	e.statsMu.Unlock()

	maxTS, maxVal := e.readPhase1()
	result := e.readPhase2(maxTS, maxVal)

	e.statsMu.Lock()
	e.stats.ReadsCompleted++
	e.statsMu.Unlock()
	return result
}

func (e *Engine[V]) readPhase1() (int64, V) {
	seq, localTS, localVal := e.state.ReadPhase1Prepare()

	e.read1mu.Lock()
	e.read1TS, e.read1Val = localTS, localVal
	e.read1mu.Unlock()

	e.read1Quorum.Begin()

	payload, err := json.Marshal(wire.Read1Message{Sender: e.self, SequenceNumber: seq})
	if err != nil {
		e.log.Errorf("read phase 1: failed to encode request: %v", err)
		e.read1Quorum.Complete()
		e.read1mu.Lock()
		defer e.read1mu.Unlock()
		return e.read1TS, e.read1Val
	}

	e.broadcast(payload)
	for e.read1Quorum.AwaitMajority(e.retx) == quorum.TimedOut {
		e.log.Infof("read phase 1: retransmitting sequence %d after timeout", seq)
		e.broadcast(payload)
	}

	e.read1mu.Lock()
	defer e.read1mu.Unlock()
	return e.read1TS, e.read1Val
}

func (e *Engine[V]) readPhase2(maxTS int64, maxVal V) V {
	seq, ts, val := e.state.ReadPhase2Prepare(maxTS, maxVal)

	e.read2Quorum.Begin()

	payload, err := json.Marshal(wire.Read2Message[V]{Sender: e.self, Timestamp: ts, Value: val, SequenceNumber: seq})
	if err != nil {
		e.log.Errorf("read phase 2: failed to encode writeback: %v", err)
		e.read2Quorum.Complete()
		return val
	}

	e.broadcast(payload)
	for e.read2Quorum.AwaitMajority(e.retx) == quorum.TimedOut {
		e.log.Infof("read phase 2: retransmitting sequence %d after timeout", seq)
		e.broadcast(payload)
	}
	return val
}

// HandleDatagram is the engine's half of the transport contract's
// on_bytes callback (spec.md §6.2): the transport's receiver thread calls
// this for every inbound datagram. Decode failures and unrecognised kinds
// are logged and dropped, never fatal (spec.md §4.3, §7).
func (e *Engine[V]) HandleDatagram(raw []byte) {
	e.statsMu.Lock()
	e.stats.MessagesReceived++
	e.statsMu.Unlock()

	err := wire.Dispatch(raw, wire.Handlers[V]{
		OnWrite:    e.onWrite,
		OnWriteAck: e.onWriteAck,
		OnRead1:    e.onRead1,
		OnRead1Ack: e.onRead1Ack,
		OnRead2:    e.onRead2,
		OnRead2Ack: e.onRead2Ack,
	})
	if err != nil {
		e.statsMu.Lock()
		e.stats.MessagesDropped++
		e.statsMu.Unlock()
		e.log.Errorf("dropping datagram: %v", err)
	}
}

// onWrite implements spec.md §4.4.2.
func (e *Engine[V]) onWrite(m wire.WriteMessage[V]) {
	// Adopt only on strictly-greater timestamp; an equal timestamp must
	// not overwrite val (spec.md boundary behaviour (c)).
	e.state.Adopt(m.Timestamp, m.Value)
	ack, err := json.Marshal(wire.WriteAckMessage{Sender: e.self, Timestamp: m.Timestamp})
	if err != nil {
		e.log.Errorf("on_write: failed to encode ack: %v", err)
		return
	}
	e.unicast(m.Sender, ack)
}

// onWriteAck implements spec.md §4.4.3: acceptance is by equality on
// timestamp, not ≥ — preserved from the original source as a documented,
// deliberately un-optimised choice (spec.md §9 Open Questions).
func (e *Engine[V]) onWriteAck(m wire.WriteAckMessage) {
	currentTS, _ := e.state.Snapshot()
	if m.Timestamp != currentTS {
		return
	}
	e.writeQuorum.RecordAck(m.Sender)
	if e.writeQuorum.HasMajority() {
		e.writeQuorum.Complete()
	}
}

// onRead1 replies to a discover request with this node's current
// (timestamp, value), echoing the sequence number.
func (e *Engine[V]) onRead1(m wire.Read1Message) {
	ts, val := e.state.Snapshot()
	ack, err := json.Marshal(wire.Read1AckMessage[V]{
		Sender:         e.self,
		Timestamp:      ts,
		Value:          val,
		SequenceNumber: m.SequenceNumber,
	})
	if err != nil {
		e.log.Errorf("on_read1: failed to encode ack: %v", err)
		return
	}
	e.unicast(m.Sender, ack)
}

// onRead1Ack accumulates the highest (ts, val) seen across acks whose
// sequence number matches the currently active read-phase-1; stale acks
// are ignored (spec.md §4.4.4, §8 invariant 4).
func (e *Engine[V]) onRead1Ack(m wire.Read1AckMessage[V]) {
	if m.SequenceNumber != e.currentR1Seq() {
		return
	}
	e.read1mu.Lock()
	if m.Timestamp > e.read1TS {
		e.read1TS, e.read1Val = m.Timestamp, m.Value
	}
	e.read1mu.Unlock()

	e.read1Quorum.RecordAck(m.Sender)
	if e.read1Quorum.HasMajority() {
		e.read1Quorum.Complete()
	}
}

func (e *Engine[V]) currentR1Seq() int64 {
	return e.state.R1Seq()
}

// onRead2 adopts the writeback value if it is newer than local state,
// then acks it (spec.md §4.4.4 phase 2).
func (e *Engine[V]) onRead2(m wire.Read2Message[V]) {
	e.state.Adopt(m.Timestamp, m.Value)
	ack, err := json.Marshal(wire.Read2AckMessage{Sender: e.self, SequenceNumber: m.SequenceNumber})
	if err != nil {
		e.log.Errorf("on_read2: failed to encode ack: %v", err)
		return
	}
	e.unicast(m.Sender, ack)
}

// onRead2Ack mirrors onRead1Ack's sequence-number filtering for phase 2.
func (e *Engine[V]) onRead2Ack(m wire.Read2AckMessage) {
	if m.SequenceNumber != e.state.R2Seq() {
		return
	}
	e.read2Quorum.RecordAck(m.Sender)
	if e.read2Quorum.HasMajority() {
		e.read2Quorum.Complete()
	}
}
