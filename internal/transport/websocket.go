package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/voxhealth/voxlink/internal/protocol"
)

const (
	wsConnectTimeout = 10 * time.Second
	wsWriteTimeout   = 10 * time.Second
)

// Close codes the service uses for credential rejection, alongside the
// standard policy-violation code.
const (
	closeAuthFailed   = 4001
	closeTokenExpired = 4003
)

// WebSocket is the full-duplex transport: one physical connection carries
// both directions.
type WebSocket struct {
	baseURL      string
	realtimePath string
	log          zerolog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	closing   bool // set by Disconnect so the read loop stays quiet

	handlers
}

// NewWebSocket creates a full-duplex transport against the given API base.
func NewWebSocket(baseURL, realtimePath string, log zerolog.Logger) *WebSocket {
	return &WebSocket{
		baseURL:      baseURL,
		realtimePath: realtimePath,
		log:          log.With().Str("transport", string(TypeWebSocket)).Logger(),
	}
}

func (w *WebSocket) Type() Type { return TypeWebSocket }

func (w *WebSocket) IsConnected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connected
}

func (w *WebSocket) OnMessage(h MessageHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onMessage = h
}

func (w *WebSocket) OnStatus(h StatusHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onStatus = h
}

func (w *WebSocket) OnError(h ErrorHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onError = h
}

// buildURL derives the socket URL from the HTTP base: secure base gives a
// secure socket scheme, and the session parameters travel as query values.
func (w *WebSocket) buildURL(cfg *protocol.SessionConfig) (string, error) {
	u, err := url.Parse(w.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + w.realtimePath

	q := u.Query()
	q.Set("practice_id", strconv.Itoa(cfg.PracticeID))
	q.Set("conversation_id", cfg.ConversationID)
	q.Set("timezone", cfg.Timezone)
	if cfg.PatientID != "" {
		q.Set("patient_id", cfg.PatientID)
	}
	if cfg.AuthToken != "" {
		q.Set("auth_token", cfg.AuthToken)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect dials the socket, bounded by wsConnectTimeout. A half-open attempt
// that exceeds the bound is abandoned and reported as a timeout.
func (w *WebSocket) Connect(ctx context.Context, cfg *protocol.SessionConfig) error {
	w.mu.Lock()
	if w.connected {
		w.mu.Unlock()
		return ErrAlreadyConnected
	}
	w.closing = false
	w.mu.Unlock()

	target, err := w.buildURL(cfg)
	if err != nil {
		return &ConnectError{Transport: TypeWebSocket, Err: err}
	}

	w.emitStatus(StatusConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, wsConnectTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, target, nil)
	if err != nil {
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
			err = &TimeoutError{Op: "websocket connect", Timeout: wsConnectTimeout.String()}
		}
		w.emitStatus(StatusError)
		return &ConnectError{Transport: TypeWebSocket, Err: err}
	}

	w.mu.Lock()
	w.conn = conn
	w.connected = true
	w.mu.Unlock()

	w.emitStatus(StatusOpen)
	w.log.Debug().Str("url", target).Msg("websocket open")

	go w.readLoop(conn)
	return nil
}

// readLoop is the single reader for the connection. Binary frames are raw
// audio; text frames are JSON messages. A frame that fails to decode becomes
// a synthetic PARSE_ERROR message so the stream is never interrupted.
func (w *WebSocket) readLoop(conn *websocket.Conn) {
	for {
		kind, raw, err := conn.ReadMessage()
		if err != nil {
			w.handleReadError(err)
			return
		}

		switch kind {
		case websocket.BinaryMessage:
			w.emitMessage(protocol.NewAudioMessage(raw, protocol.DirectionReceived))
		case websocket.TextMessage:
			var msg protocol.Message
			if err := json.Unmarshal(raw, &msg); err != nil {
				w.log.Debug().Err(err).Msg("dropping malformed frame")
				w.emitMessage(protocol.NewErrorMessage(protocol.ErrCodeParse, "Received a malformed message from the server"))
				continue
			}
			msg.EnsureIdentity()
			w.emitMessage(msg)
		}
	}
}

// handleReadError maps the close condition onto a status transition. Normal
// and going-away closures end quietly; policy-violation and the service's
// custom credential codes become authentication failures; everything else is
// an abnormal closure.
func (w *WebSocket) handleReadError(err error) {
	w.mu.Lock()
	wasClosing := w.closing
	w.conn = nil
	w.connected = false
	w.mu.Unlock()

	if wasClosing {
		return // Disconnect already emitted the terminal status
	}

	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		switch ce.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway:
			w.emitStatus(StatusClosed)
			return
		case websocket.ClosePolicyViolation, closeAuthFailed, closeTokenExpired:
			w.emitError(&AuthError{Reason: fmt.Sprintf("server rejected credentials (close code %d)", ce.Code)})
			w.emitStatus(StatusError)
			return
		default:
			w.emitError(&CloseError{Code: ce.Code, Reason: ce.Text})
			w.emitStatus(StatusError)
			return
		}
	}

	w.emitError(fmt.Errorf("connection read failed: %w", err))
	w.emitStatus(StatusError)
}

// Send writes one JSON frame. Writes are serialized by the transport mutex;
// gorilla permits only one concurrent writer.
func (w *WebSocket) Send(msg protocol.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.connected || w.conn == nil {
		return ErrNotConnected
	}
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := w.conn.WriteJSON(msg); err != nil {
		return &SendError{Transport: TypeWebSocket, Err: err}
	}
	return nil
}

// Disconnect tears the channel down. Safe to call repeatedly; always leaves
// the transport in a terminal closed state.
func (w *WebSocket) Disconnect() error {
	w.mu.Lock()
	conn := w.conn
	w.closing = true
	w.conn = nil
	w.connected = false
	w.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = conn.Close()
	}

	w.emitStatus(StatusClosed)
	return nil
}

// Handler access under the mutex; invocation outside it so a handler may call
// back into the transport.

func (w *WebSocket) emitMessage(m protocol.Message) {
	w.mu.Lock()
	h := w.onMessage
	w.mu.Unlock()
	if h != nil {
		h(m)
	}
}

func (w *WebSocket) emitStatus(s Status) {
	w.mu.Lock()
	h := w.onStatus
	w.mu.Unlock()
	if h != nil {
		h(s)
	}
}

func (w *WebSocket) emitError(err error) {
	w.mu.Lock()
	h := w.onError
	w.mu.Unlock()
	if h != nil {
		h(err)
	}
}
