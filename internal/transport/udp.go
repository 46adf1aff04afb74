// Package transport implements the datagram transport spec.md §6.2
// requires the engine to be given: best-effort unicast and broadcast over
// UDP, with inbound bytes handed to the engine's HandleDatagram on a
// dedicated receiver goroutine.
//
// No pack dependency offers a thinner best-effort-datagram abstraction
// than net.UDPConn itself (see SPEC_FULL.md §3), so this stays on the
// standard library, the same choice original_source/.../communicator.rs
// makes for the same contract.
package transport

import (
	"net"
	"sync"

	"github.com/cockroachdb/errors"

	"distributed-swmr-register/internal/logging"
)

// ReceiveBufferSize bounds the size of a single inbound datagram, matching
// the 4096-byte buffer spec.md §6.1 calls out as the source's convention.
// Senders should keep outbound payloads at or below this size.
const ReceiveBufferSize = 4096

// Handler is called once per inbound datagram, on the receiver goroutine.
// It must not block for long: spec.md §5 requires handlers to perform
// only bounded work.
type Handler func(payload []byte)

// UDP is a best-effort UDP datagram transport addressed by integer node
// ID. Peers is the full node->address map, including self — Broadcast
// sends to every entry, self included, which is how self-delivery (spec.md
// §4.4.1, "self-delivery is the source of the writer's own ack") is
// realised over a real socket instead of an in-process loopback.
type UDP struct {
	self  int
	peers map[int]*net.UDPAddr

	log logging.Logger

	mu      sync.RWMutex
	handler Handler

	conn *net.UDPConn
}

// NewUDP binds a UDP socket for self's address in peers and returns a
// transport ready to Broadcast/SendTo. Call SetHandler before Serve so
// the two-step construction described in spec.md §9 can wire the engine
// and transport together with neither one fully alive before the other
// exists: build the engine, build the transport, call
// engine.SetTransport(t) and t.SetHandler(engine.HandleDatagram), then
// start Serve.
func NewUDP(self int, peers map[int]string, log logging.Logger) (*UDP, error) {
	if log == nil {
		log = logging.Default(self)
	}
	selfAddrStr, ok := peers[self]
	if !ok {
		return nil, errors.Newf("transport: self node %d missing from peer map", self)
	}
	selfAddr, err := net.ResolveUDPAddr("udp", selfAddrStr)
	if err != nil {
		return nil, errors.Wrapf(err, "transport: resolving self address %q", selfAddrStr)
	}

	resolved := make(map[int]*net.UDPAddr, len(peers))
	for id, addrStr := range peers {
		addr, err := net.ResolveUDPAddr("udp", addrStr)
		if err != nil {
			return nil, errors.Wrapf(err, "transport: resolving peer %d address %q", id, addrStr)
		}
		resolved[id] = addr
	}

	conn, err := net.ListenUDP("udp", selfAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "transport: binding %s", selfAddrStr)
	}

	return &UDP{
		self:  self,
		peers: resolved,
		log:   log,
		conn:  conn,
	}, nil
}

// SetHandler installs the callback invoked for every inbound datagram.
// Must be called before Serve and never again afterwards (spec.md §9: the
// back-edge is valid for the object's lifetime and never mutated once
// threads start).
func (u *UDP) SetHandler(h Handler) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.handler = h
}

// Serve runs the receiver loop on the calling goroutine until the socket
// is closed. Per spec.md §5, the receiver thread blocks only on the
// socket; dispatch into the handler happens synchronously on this
// goroutine, matching the engine's expectation that HandleDatagram is
// called from a single receiver thread.
func (u *UDP) Serve() error {
	buf := make([]byte, ReceiveBufferSize)
	for {
		n, _, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			// A permanent socket error is fatal to the process per
			// spec.md §7's error taxonomy.
			return errors.Wrap(err, "transport: receive failed")
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])

		u.mu.RLock()
		h := u.handler
		u.mu.RUnlock()
		if h != nil {
			h(payload)
		} else {
			u.log.Errorf("dropping datagram: no handler installed yet")
		}
	}
}

// Close releases the underlying socket, unblocking Serve.
func (u *UDP) Close() error {
	return u.conn.Close()
}

// SendTo implements engine.Transport: best-effort unicast to peer.
func (u *UDP) SendTo(peer int, payload []byte) error {
	addr, ok := u.peers[peer]
	if !ok {
		return errors.Newf("transport: unknown peer %d", peer)
	}
	if len(payload) > ReceiveBufferSize {
		return errors.Newf("transport: payload of %d bytes exceeds receive buffer of %d", len(payload), ReceiveBufferSize)
	}
	_, err := u.conn.WriteToUDP(payload, addr)
	if err != nil {
		return errors.Wrapf(err, "transport: send to node %d at %s", peer, addr)
	}
	return nil
}

// Broadcast implements engine.Transport: best-effort send to every node in
// the peer map, including self.
func (u *UDP) Broadcast(payload []byte) error {
	var firstErr error
	for id := range u.peers {
		if err := u.SendTo(id, payload); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
