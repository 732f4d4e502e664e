package transport

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by all transports.
var (
	// ErrAlreadyConnected is returned by Connect on a connected transport.
	ErrAlreadyConnected = errors.New("transport already connected")

	// ErrNotConnected is returned by Send while no channel is open.
	ErrNotConnected = errors.New("transport not connected")

	// ErrNoSession is returned by the push-stream transport when Send is
	// called before the server has delivered a session identifier.
	ErrNoSession = errors.New("no active session")
)

// ConnectError wraps a failure to establish the channel.
type ConnectError struct {
	Transport Type
	Err       error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("%s connect failed: %v", e.Transport, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// SendError wraps an underlying transmission failure.
type SendError struct {
	Transport Type
	Err       error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("%s send failed: %v", e.Transport, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// TimeoutError indicates a connection or request exceeded its bound.
type TimeoutError struct {
	Op      string
	Timeout string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timeout after %s", e.Op, e.Timeout)
}

// AuthError indicates the peer rejected the presented credential. The
// session layer treats it as terminal for the current reconnection cycle.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

// CloseError reports an abnormal channel closure.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("connection closed abnormally (code %d): %s", e.Code, e.Reason)
	}
	return fmt.Sprintf("connection closed abnormally (code %d)", e.Code)
}
