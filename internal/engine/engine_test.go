package engine

import (
	"sync"
	"testing"
	"time"

	"distributed-swmr-register/internal/logging"
	"distributed-swmr-register/internal/wire"
)

// fakeNetwork wires a set of engines together in-process: Broadcast and
// SendTo hand bytes directly to the target engine's HandleDatagram on a
// goroutine, standing in for spec.md §6.2's best-effort datagram
// transport without an actual socket.
type fakeNetwork struct {
	mu      sync.Mutex
	engines map[int]*Engine[string]
	dropTo  map[int]bool // peers that silently swallow inbound messages
	noSelf  map[int]bool // nodes whose own broadcasts are not delivered back to them

	inflight sync.WaitGroup // deliveries whose HandleDatagram has not returned yet
}

// settle waits until every delivery handed to a goroutine so far, and every
// reply those deliveries sent in turn, has been handled.
func (n *fakeNetwork) settle() {
	n.inflight.Wait()
}

func (n *fakeNetwork) deliver(e *Engine[string], payload []byte) {
	n.inflight.Add(1)
	go func() {
		defer n.inflight.Done()
		e.HandleDatagram(payload)
	}()
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{
		engines: make(map[int]*Engine[string]),
		dropTo:  make(map[int]bool),
		noSelf:  make(map[int]bool),
	}
}

func (n *fakeNetwork) register(id int, e *Engine[string]) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.engines[id] = e
}

func (n *fakeNetwork) setDrop(id int, drop bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dropTo[id] = drop
}

func (n *fakeNetwork) setNoSelfDelivery(id int, on bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.noSelf[id] = on
}

type fakeTransport struct {
	net  *fakeNetwork
	self int
}

func (t *fakeTransport) SendTo(peer int, payload []byte) error {
	t.net.mu.Lock()
	e, ok := t.net.engines[peer]
	drop := t.net.dropTo[peer]
	t.net.mu.Unlock()
	if !ok || drop {
		return nil
	}
	t.net.deliver(e, payload)
	return nil
}

func (t *fakeTransport) Broadcast(payload []byte) error {
	t.net.mu.Lock()
	targets := make([]*Engine[string], 0, len(t.net.engines))
	for id, e := range t.net.engines {
		if !t.net.dropTo[id] && !(id == t.self && t.net.noSelf[id]) {
			targets = append(targets, e)
		}
	}
	t.net.mu.Unlock()
	for _, e := range targets {
		t.net.deliver(e, payload)
	}
	return nil
}

func newCluster(ids []int) (*fakeNetwork, map[int]*Engine[string]) {
	net := newFakeNetwork()
	engines := make(map[int]*Engine[string])
	for _, id := range ids {
		e := New[string](Config{Self: id, Nodes: ids}, &fakeTransport{net: net, self: id}, logging.Nop)
		e.SetRetransmitInterval(20 * time.Millisecond)
		net.register(id, e)
		engines[id] = e
	}
	return net, engines
}

func TestHappyPathWrite(t *testing.T) {
	net, engines := newCluster([]int{1, 2, 3, 4})

	engines[1].Write("Haskell")
	// Write returns on a majority of acks; let the remaining deliveries land
	// before looking at every node.
	net.settle()

	for id, e := range engines {
		ts, val := e.state.Snapshot()
		if ts != 1 || val != "Haskell" {
			t.Errorf("node %d: got (%d, %q), want (1, Haskell)", id, ts, val)
		}
	}
}

func TestWriteTerminatesWithBareMajority(t *testing.T) {
	net, engines := newCluster([]int{1, 2, 3, 4})
	net.setDrop(4, true)

	done := make(chan struct{})
	go func() {
		engines[1].Write("Haskell")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("write did not terminate with a bare majority of {1,2,3}")
	}
}

func TestWriteDoesNotTerminateOnMinority(t *testing.T) {
	net, engines := newCluster([]int{1, 2, 3, 4})
	net.setNoSelfDelivery(1, true) // writer never receives its own self-ack
	net.setDrop(4, true)

	done := make(chan struct{})
	go func() {
		engines[1].Write("Haskell")
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("write returned despite only a minority acking")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestReadReturnsLatestWriteback(t *testing.T) {
	_, engines := newCluster([]int{1, 2, 3, 4})
	engines[1].Write("Haskell")

	got := engines[2].Read()
	if got != "Haskell" {
		t.Fatalf("Read() = %q, want Haskell", got)
	}

	for id, e := range engines {
		ts, _ := e.state.Snapshot()
		if ts < 1 {
			t.Errorf("node %d: ts=%d, want >=1 after read's writeback", id, ts)
		}
	}
}

// bringToTimestamp drives e's local state up to exactly ts via repeated
// WritePrepare calls, to set up the "ts = 20" preconditions the stale/
// newer write scenarios in spec.md §8 specify directly.
func bringToTimestamp(e *Engine[string], ts int64) {
	for {
		cur, _ := e.state.Snapshot()
		if cur >= ts {
			return
		}
		e.state.WritePrepare("")
	}
}

func TestStaleWriteIsIgnored(t *testing.T) {
	_, engines := newCluster([]int{1, 2})
	e := engines[1]
	bringToTimestamp(e, 20) // each WritePrepare("") along the way also sets val to ""

	e.onWrite(wire.WriteMessage[string]{Sender: 2, Timestamp: 3, Value: "Rust"})
	ts, val := e.state.Snapshot()
	if ts != 20 || val != "" {
		t.Fatalf("stale write mutated state: got (%d, %q), want (20, \"\")", ts, val)
	}
}

func TestNewerWriteIsAdopted(t *testing.T) {
	_, engines := newCluster([]int{1, 2})
	e := engines[1]
	bringToTimestamp(e, 20)

	e.onWrite(wire.WriteMessage[string]{Sender: 2, Timestamp: 30, Value: "Rust"})
	ts, val := e.state.Snapshot()
	if ts != 30 || val != "Rust" {
		t.Fatalf("got (%d, %q), want (30, Rust)", ts, val)
	}
}
