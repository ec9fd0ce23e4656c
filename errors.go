package mpdmux

import (
	"errors"
	"fmt"
)

// Sentinel errors for the engine.
var (
	// ErrNotConnected is wrapped by the ConnectionError a request fails
	// with when issued without an established connection.
	ErrNotConnected = errors.New("not connected")

	// ErrConnectionLost is wrapped by the ConnectionError outstanding
	// requests fail with when the connection goes away beneath them.
	ErrConnectionLost = errors.New("connection lost")

	// ErrCancelled resolves a request abandoned through Cancel.
	ErrCancelled = errors.New("request cancelled")

	// ErrPending is returned by Result while a request is unresolved.
	ErrPending = errors.New("request still pending")
)

// ConnectionError resolves a request when the connection is absent or was
// lost while the request was outstanding. It is terminal for that request;
// the engine never retries on the caller's behalf. Reason carries the
// disconnect reason when a teardown produced the error, ReasonNotConnected
// otherwise.
type ConnectionError struct {
	Reason  DisconnectReason
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	if e.Cause != nil && e.Cause != ErrNotConnected && e.Cause != ErrConnectionLost {
		return fmt.Sprintf("connection error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("connection error: %s", e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// NewConnectionError creates a connection error.
func NewConnectionError(message string, cause error) error {
	return &ConnectionError{Message: message, Cause: cause}
}

// IsConnectionError reports whether err is or wraps a ConnectionError.
// Background tasks treat such errors as ordinary termination.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// ReplyError reports a command the server rejected with an ACK line. Index
// is the protocol-reported position of the failing command within a batch
// (0 for a single command).
type ReplyError struct {
	Code    int    // numeric protocol error code
	Index   int    // failing position within a batch
	Command string // command name echoed by the server
	Message string // server's message
	Line    string // wire line of the failing command
}

// Error implements the error interface.
func (e *ReplyError) Error() string {
	if e.Line != "" {
		return fmt.Sprintf("server rejected %q: %s", e.Line, e.Message)
	}
	return fmt.Sprintf("server rejected %s: %s", e.Command, e.Message)
}

// ProtocolError reports a structurally malformed or unexpected reply. It is
// surfaced to the caller of the affected request and logged; the connection
// is not torn down on its account.
type ProtocolError struct {
	Line   string
	Reason string
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if e.Line == "" {
		return fmt.Sprintf("protocol error: %s", e.Reason)
	}
	return fmt.Sprintf("protocol error: %s: %q", e.Reason, e.Line)
}

// CommandError reports caller misuse detected at construction time, before
// anything touches the wire.
type CommandError struct {
	Name   string
	Reason string
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("command %q: %s", e.Name, e.Reason)
	}
	return fmt.Sprintf("command error: %s", e.Reason)
}

// DisconnectReason tells disconnect observers why the connection went away.
type DisconnectReason int

const (
	// ReasonNotConnected is the zero reason; the engine never reports it.
	ReasonNotConnected DisconnectReason = iota
	// ReasonFailedConnect: the TCP connect attempt failed.
	ReasonFailedConnect
	// ReasonError: the connection broke underneath outstanding requests.
	ReasonError
	// ReasonRequested: the application called Disconnect.
	ReasonRequested
	// ReasonReconnect: the connection is being replaced by a new one.
	ReasonReconnect
	// ReasonShutdown: the client is closing for good.
	ReasonShutdown
	// ReasonPassword: the server rejected the configured password.
	ReasonPassword
)

// String returns a short description of the reason.
func (r DisconnectReason) String() string {
	switch r {
	case ReasonNotConnected:
		return "not connected"
	case ReasonFailedConnect:
		return "connect failed"
	case ReasonError:
		return "connection error"
	case ReasonRequested:
		return "disconnect requested"
	case ReasonReconnect:
		return "reconnecting"
	case ReasonShutdown:
		return "shutdown"
	case ReasonPassword:
		return "password rejected"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}
