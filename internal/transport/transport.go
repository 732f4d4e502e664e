// Package transport provides the wire transports for a VoxLink realtime
// session. Three mutually exclusive implementations exist (a full-duplex
// WebSocket, a server-push event stream with a companion send channel, and
// interval polling), all behind the same capability contract so the session
// layer can rotate between them without caring which is active.
package transport

import (
	"context"
	"fmt"

	"github.com/voxhealth/voxlink/internal/protocol"
)

// Status is the observable connection state of a transport.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusOpen       Status = "open"
	StatusClosed     Status = "closed"
	StatusError      Status = "error"
)

// Type identifies a transport implementation.
type Type string

const (
	TypeWebSocket Type = "websocket"
	TypeSSE       Type = "sse"
	TypePolling   Type = "polling"
)

// Next returns the successor in the fixed rotation order
// websocket → sse → polling → websocket. Reconnection advances through this
// cycle so a transport-specific outage cannot wedge recovery.
func (t Type) Next() Type {
	switch t {
	case TypeWebSocket:
		return TypeSSE
	case TypeSSE:
		return TypePolling
	default:
		return TypeWebSocket
	}
}

// ParseType parses a transport name from configuration.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case TypeWebSocket, TypeSSE, TypePolling:
		return Type(s), nil
	}
	return "", fmt.Errorf("unknown transport type %q", s)
}

// MessageHandler receives inbound messages in arrival order.
type MessageHandler func(protocol.Message)

// StatusHandler receives status transitions.
type StatusHandler func(Status)

// ErrorHandler receives transport-level errors.
type ErrorHandler func(error)

// Transport is the capability contract shared by all wire transports.
//
// Handler registration is single-slot: the last registration wins, and
// handlers are never invoked before Connect. Implementations guarantee the
// open status is emitted before any message delivery, and a terminal
// closed/error status after any message already in flight.
type Transport interface {
	// Connect establishes the channel using the session parameters. It fails
	// with ErrAlreadyConnected when called on a connected transport and with
	// a *ConnectError (possibly wrapping a *TimeoutError) when the channel
	// cannot be established.
	Connect(ctx context.Context, cfg *protocol.SessionConfig) error

	// Disconnect idempotently tears down the channel and emits a terminal
	// closed status. It never fails.
	Disconnect() error

	// Send transmits one message. Fails with ErrNotConnected while not
	// connected, or a *SendError wrapping the underlying failure.
	Send(msg protocol.Message) error

	OnMessage(h MessageHandler)
	OnStatus(h StatusHandler)
	OnError(h ErrorHandler)

	Type() Type
	IsConnected() bool
}

// handlers is the single-slot handler registry embedded by every
// implementation. Registration replaces, never adds. Access is guarded by
// the owning transport's mutex; invocation happens outside it so a handler
// may call back into the transport.
type handlers struct {
	onMessage MessageHandler
	onStatus  StatusHandler
	onError   ErrorHandler
}
