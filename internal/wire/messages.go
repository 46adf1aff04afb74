// Package wire defines the six ABD message kinds and their JSON encoding,
// and the dispatcher that routes an inbound datagram to the right handler
// (spec.md §4.3, §6.1).
//
// Each message is a single JSON object whose sole top-level key names the
// message kind and whose value is the sender ID; struct tags alone produce
// that exact shape, so no custom (Un)MarshalJSON is needed anywhere in this
// package.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// WriteMessage is broadcast by the writer to propose (timestamp, value).
type WriteMessage[V any] struct {
	Sender    int   `json:"WriteMessage"`
	Timestamp int64 `json:"timestamp"`
	Value     V     `json:"value"`
}

// WriteAckMessage acknowledges a WriteMessage, echoing back the timestamp
// it was received with (not necessarily the acker's current timestamp).
type WriteAckMessage struct {
	Sender    int   `json:"WriteAckMessage"`
	Timestamp int64 `json:"timestamp"`
}

// Read1Message starts the discover phase of a read.
type Read1Message struct {
	Sender         int   `json:"Read1Message"`
	SequenceNumber int64 `json:"sequence_number"`
}

// Read1AckMessage replies to a Read1Message with the replica's current
// (timestamp, value), echoing the sequence number so the reader can filter
// stale acks.
type Read1AckMessage[V any] struct {
	Sender         int   `json:"Read1AckMessage"`
	Timestamp      int64 `json:"timestamp"`
	Value          V     `json:"value"`
	SequenceNumber int64 `json:"sequence_number"`
}

// Read2Message carries the writeback of the maximum (timestamp, value)
// discovered during phase 1.
type Read2Message[V any] struct {
	Sender         int   `json:"Read2Message"`
	Timestamp      int64 `json:"timestamp"`
	Value          V     `json:"value"`
	SequenceNumber int64 `json:"sequence_number"`
}

// Read2AckMessage acknowledges a Read2Message.
type Read2AckMessage struct {
	Sender         int   `json:"Read2AckMessage"`
	SequenceNumber int64 `json:"sequence_number"`
}

// kind-name byte prefixes used by Dispatch. None of these six names is a
// prefix of another, so a byte-prefix test against the raw datagram
// unambiguously identifies the kind without a full JSON parse first — the
// "string-prefix test... bit-exact" dispatch spec.md §6.1 calls for.
var (
	prefixWrite    = []byte(`{"WriteMessage":`)
	prefixWriteAck = []byte(`{"WriteAckMessage":`)
	prefixRead1    = []byte(`{"Read1Message":`)
	prefixRead1Ack = []byte(`{"Read1AckMessage":`)
	prefixRead2    = []byte(`{"Read2Message":`)
	prefixRead2Ack = []byte(`{"Read2AckMessage":`)
)

// Handlers is the set of callbacks Dispatch invokes, one per message kind.
// Exactly one is called per successfully decoded datagram. A nil handler
// for a kind that arrives is treated like a decode failure: logged and
// dropped.
type Handlers[V any] struct {
	OnWrite    func(WriteMessage[V])
	OnWriteAck func(WriteAckMessage)
	OnRead1    func(Read1Message)
	OnRead1Ack func(Read1AckMessage[V])
	OnRead2    func(Read2Message[V])
	OnRead2Ack func(Read2AckMessage)
}

// Dispatch decodes raw and invokes the matching handler in h. It returns an
// error describing why the datagram was dropped (unknown kind, malformed
// JSON, or no handler registered for the kind); per spec.md §4.3 and §7,
// the caller's job on a non-nil error is only to log it — dropping a
// datagram is never fatal.
func Dispatch[V any](raw []byte, h Handlers[V]) error {
	switch {
	// Read1AckMessage is checked before Read1Message, and Read2AckMessage
	// before Read2Message: "Read1AckMessage" is not a byte-prefix of
	// "Read1Message" (they diverge at the 6th character), so ordering
	// doesn't change the match, but checking the longer, more specific
	// name first keeps the switch readable as such.
	case bytes.HasPrefix(raw, prefixWrite):
		var m WriteMessage[V]
		if err := json.Unmarshal(raw, &m); err != nil {
			return decodeError("WriteMessage", err)
		}
		if h.OnWrite == nil {
			return noHandlerError("WriteMessage")
		}
		h.OnWrite(m)
	case bytes.HasPrefix(raw, prefixWriteAck):
		var m WriteAckMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return decodeError("WriteAckMessage", err)
		}
		if h.OnWriteAck == nil {
			return noHandlerError("WriteAckMessage")
		}
		h.OnWriteAck(m)
	case bytes.HasPrefix(raw, prefixRead1Ack):
		var m Read1AckMessage[V]
		if err := json.Unmarshal(raw, &m); err != nil {
			return decodeError("Read1AckMessage", err)
		}
		if h.OnRead1Ack == nil {
			return noHandlerError("Read1AckMessage")
		}
		h.OnRead1Ack(m)
	case bytes.HasPrefix(raw, prefixRead1):
		var m Read1Message
		if err := json.Unmarshal(raw, &m); err != nil {
			return decodeError("Read1Message", err)
		}
		if h.OnRead1 == nil {
			return noHandlerError("Read1Message")
		}
		h.OnRead1(m)
	case bytes.HasPrefix(raw, prefixRead2Ack):
		var m Read2AckMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return decodeError("Read2AckMessage", err)
		}
		if h.OnRead2Ack == nil {
			return noHandlerError("Read2AckMessage")
		}
		h.OnRead2Ack(m)
	case bytes.HasPrefix(raw, prefixRead2):
		var m Read2Message[V]
		if err := json.Unmarshal(raw, &m); err != nil {
			return decodeError("Read2Message", err)
		}
		if h.OnRead2 == nil {
			return noHandlerError("Read2Message")
		}
		h.OnRead2(m)
	default:
		return unknownKindError(raw)
	}
	return nil
}

func decodeError(kind string, cause error) error {
	return fmt.Errorf("wire: malformed %s datagram: %w", kind, cause)
}

func noHandlerError(kind string) error {
	return fmt.Errorf("wire: no handler registered for %s", kind)
}

func unknownKindError(raw []byte) error {
	n := len(raw)
	if n > 32 {
		n = 32
	}
	return fmt.Errorf("wire: unrecognised message kind, starts with %q", raw[:n])
}
