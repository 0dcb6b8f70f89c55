package monitor

import (
	"fmt"
	"time"
)

// StateKind identifies one state of the connection state machine.
type StateKind int

const (
	// StateConnecting is the initial connection attempt.
	StateConnecting StateKind = iota

	// StateConnected means the manager endpoint is live and position clients
	// are (re)established.
	StateConnected

	// StateDisconnected means the last attempt or live connection failed;
	// Since and Reason describe the failure.
	StateDisconnected

	// StateReconnecting means a retry is scheduled; Attempt is the zero-based
	// attempt number feeding the backoff policy.
	StateReconnecting
)

// String returns a short label for the kind.
func (k StateKind) String() string {
	switch k {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// ConnectionState is the single source of truth for "is the subsystem usable
// right now". Written only by the manager's own run loop; read from anywhere.
type ConnectionState struct {
	Kind    StateKind
	Since   time.Time // Set for StateDisconnected: when the failure occurred
	Reason  string    // Set for StateDisconnected: last failure description
	Attempt uint32    // Set for StateReconnecting
}

// String renders the state for logs and status surfaces.
func (s ConnectionState) String() string {
	switch s.Kind {
	case StateDisconnected:
		if s.Reason != "" {
			return fmt.Sprintf("disconnected (%s)", s.Reason)
		}
		return "disconnected"
	case StateReconnecting:
		return fmt.Sprintf("reconnecting (attempt %d)", s.Attempt)
	default:
		return s.Kind.String()
	}
}

func connecting() ConnectionState {
	return ConnectionState{Kind: StateConnecting}
}

func connected() ConnectionState {
	return ConnectionState{Kind: StateConnected}
}

func disconnected(reason error) ConnectionState {
	s := ConnectionState{Kind: StateDisconnected, Since: time.Now()}
	if reason != nil {
		s.Reason = reason.Error()
	}
	return s
}

func reconnecting(attempt uint32) ConnectionState {
	return ConnectionState{Kind: StateReconnecting, Attempt: attempt}
}
