package rpc

import "fmt"

// ErrorKind classifies a ClientError.
type ErrorKind int

const (
	// KindConnectionFailed means the transport could not be established or
	// broke mid-call.
	KindConnectionFailed ErrorKind = iota

	// KindCallFailed means the server returned an application-level error.
	KindCallFailed

	// KindProtocolViolation means a response could not be decoded or did not
	// match the expected shape.
	KindProtocolViolation

	// KindNotFound means the requested resource does not exist.
	KindNotFound

	// KindTimedOut means the per-call timeout elapsed before a response.
	KindTimedOut

	// KindDisconnected means the session is not usable (connection lost or
	// operation attempted while disconnected).
	KindDisconnected
)

// String returns the snake_case label for the kind, used in logs and metric
// labels.
func (k ErrorKind) String() string {
	switch k {
	case KindConnectionFailed:
		return "connection_failed"
	case KindCallFailed:
		return "call_failed"
	case KindProtocolViolation:
		return "protocol_violation"
	case KindNotFound:
		return "not_found"
	case KindTimedOut:
		return "timed_out"
	case KindDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// ClientError is the unified error type for all client operations. It carries
// enough context for diagnostics without exposing transport library types.
type ClientError struct {
	Kind     ErrorKind
	Endpoint string // Set for KindConnectionFailed
	Op       string // Operation name, set for KindCallFailed and KindTimedOut
	Code     string // Server error code, set for KindCallFailed
	Resource string // Resource kind, set for KindNotFound
	ID       string // Resource identifier, set for KindNotFound
	Message  string // Server message or protocol detail
	Err      error  // Wrapped cause, if any
}

// Error implements the error interface.
func (e *ClientError) Error() string {
	return e.DisplayMessage()
}

// Unwrap returns the wrapped cause.
func (e *ClientError) Unwrap() error {
	return e.Err
}

// Retriable reports whether the failure might be recoverable via retry.
// Connection failures, timeouts, and disconnections are retriable; not-found
// and protocol violations never are. A CallFailed is retriable only when the
// server marked it with a transient code.
func (e *ClientError) Retriable() bool {
	switch e.Kind {
	case KindConnectionFailed, KindTimedOut, KindDisconnected:
		return true
	case KindCallFailed:
		switch e.Code {
		case CodeUnavailable, CodeAborted, CodeDeadline:
			return true
		}
		return false
	default:
		return false
	}
}

// DisplayMessage returns a human-readable message suitable for user-facing
// surfaces.
func (e *ClientError) DisplayMessage() string {
	switch e.Kind {
	case KindConnectionFailed:
		return fmt.Sprintf("failed to connect to %s", e.Endpoint)
	case KindCallFailed:
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	case KindProtocolViolation:
		return fmt.Sprintf("protocol error: %s", e.Message)
	case KindNotFound:
		return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
	case KindTimedOut:
		return fmt.Sprintf("operation timed out: %s", e.Op)
	case KindDisconnected:
		return "connection lost"
	default:
		return "unknown error"
	}
}

// ConnectionFailed builds a connection-establishment failure.
func ConnectionFailed(endpoint string, err error) *ClientError {
	return &ClientError{Kind: KindConnectionFailed, Endpoint: endpoint, Err: err}
}

// CallFailed builds a server-reported application error.
func CallFailed(op, code, message string) *ClientError {
	return &ClientError{Kind: KindCallFailed, Op: op, Code: code, Message: message}
}

// ProtocolViolation builds a decode/shape failure.
func ProtocolViolation(detail string, err error) *ClientError {
	return &ClientError{Kind: KindProtocolViolation, Message: detail, Err: err}
}

// NotFound builds a missing-resource failure.
func NotFound(resource, id string) *ClientError {
	return &ClientError{Kind: KindNotFound, Resource: resource, ID: id}
}

// TimedOut builds a per-call timeout failure.
func TimedOut(op string) *ClientError {
	return &ClientError{Kind: KindTimedOut, Op: op}
}

// Disconnected builds the synthetic "not connected" failure.
func Disconnected() *ClientError {
	return &ClientError{Kind: KindDisconnected}
}
