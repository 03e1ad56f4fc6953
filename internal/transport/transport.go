// Package transport runs a simulator subprocess and exposes a byte channel to
// it through blocking, deadline-bounded reads and writes.
package transport

import (
	"context"
	"time"
)

// NoTimeout makes Read and Write wait indefinitely.
const NoTimeout time.Duration = -1

// Transport is the four-method capability consumed by the protocol front end.
type Transport interface {
	Open(ctx context.Context) (Timeouts, error)
	Close() error
	Read(n int, timeout time.Duration) ([]byte, error)
	Write(data []byte, timeout time.Duration) (int, error)
}

// State is the lifecycle state of a Session.
type State int32

const (
	StateUnopened State = iota
	StateStarting
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Timeouts tell the protocol front end how to pace its own session
// handshake. The transport does not enforce them.
type Timeouts struct {
	SessionStartRetry  time.Duration `yaml:"session_start_retry"`
	SessionStart       time.Duration `yaml:"session_start"`
	SessionEstablished time.Duration `yaml:"session_established"`
}

// DefaultTimeouts returns the timeouts advertised for an ETISS virtual
// prototype.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		SessionStartRetry:  1 * time.Second,
		SessionStart:       10 * time.Second,
		SessionEstablished: 10 * time.Second,
	}
}
