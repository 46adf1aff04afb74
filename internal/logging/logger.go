// Package logging defines the logging seam used across the register's
// packages so that the engine, transport, and control plane can all log
// through the same small interface instead of calling the stdlib log
// package directly.
package logging

import (
	"fmt"
	"log"
)

// Logger is the logging interface accepted by the engine, transport, and
// control plane. Implementations must be safe for concurrent use.
type Logger interface {
	Infof(format string, args ...any)
	Errorf(format string, args ...any)
}

// Nop discards all log output. Useful in tests that don't want noisy
// retransmit/drop messages cluttering -v output.
var Nop Logger = nopLogger{}

type nopLogger struct{}

func (nopLogger) Infof(string, ...any)  {}
func (nopLogger) Errorf(string, ...any) {}

// Default logs to the standard log package, prefixed so that multi-node
// runs in one process (as in tests) can still be told apart.
func Default(nodeID int) Logger {
	return &stdLogger{prefix: fmt.Sprintf("[node %d] ", nodeID)}
}

type stdLogger struct {
	prefix string
}

func (l *stdLogger) Infof(format string, args ...any) {
	log.Printf(l.prefix+format, args...)
}

func (l *stdLogger) Errorf(format string, args ...any) {
	log.Printf(l.prefix+"ERROR: "+format, args...)
}
