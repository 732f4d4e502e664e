package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/voxhealth/voxlink/internal/protocol"
)

const (
	sseDefaultRetry = 2 * time.Second
	sseSendTimeout  = 10 * time.Second
)

// Named event types the server uses in place of the default message event.
// A named event fills in the message's type field when the payload omits it.
var sseNamedEvents = map[string]protocol.MessageType{
	"session_established": protocol.TypeSessionEstablished,
	"audio":               protocol.TypeAudio,
	"transcript":          protocol.TypeTranscript,
	"status":              protocol.TypeStatus,
	"error":               protocol.TypeError,
}

// SSE is the push-stream transport: a unidirectional event stream carries
// inbound data, and outbound messages go through a companion POST endpoint.
// The server must deliver a session identifier (session_established event)
// before any outbound send can succeed.
type SSE struct {
	baseURL      string
	realtimePath string
	log          zerolog.Logger
	client       *http.Client

	mu        sync.Mutex
	connected bool
	closing   bool
	sessionID string
	cfg       *protocol.SessionConfig
	cancel    context.CancelFunc
	retry     time.Duration

	handlers
}

// NewSSE creates a push-stream transport against the given API base.
func NewSSE(baseURL, realtimePath string, log zerolog.Logger) *SSE {
	return &SSE{
		baseURL:      baseURL,
		realtimePath: realtimePath,
		log:          log.With().Str("transport", string(TypeSSE)).Logger(),
		client:       &http.Client{},
		retry:        sseDefaultRetry,
	}
}

func (s *SSE) Type() Type { return TypeSSE }

func (s *SSE) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *SSE) OnMessage(h MessageHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMessage = h
}

func (s *SSE) OnStatus(h StatusHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStatus = h
}

func (s *SSE) OnError(h ErrorHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = h
}

func (s *SSE) streamURL(cfg *protocol.SessionConfig) (string, error) {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	u.Path = strings.TrimRight(u.Path, "/") + s.realtimePath + "/sse"

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

func (s *SSE) endpoint(suffix string) string {
	return strings.TrimRight(s.baseURL, "/") + s.realtimePath + suffix
}

// Connect opens the event stream and starts the reader.
func (s *SSE) Connect(ctx context.Context, cfg *protocol.SessionConfig) error {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.closing = false
	s.cfg = cfg
	s.mu.Unlock()

	s.emitStatus(StatusConnecting)

	streamCtx, cancel := context.WithCancel(context.Background())
	body, err := s.openStream(streamCtx, cfg)
	if err != nil {
		cancel()
		s.emitStatus(StatusError)
		return &ConnectError{Transport: TypeSSE, Err: err}
	}

	s.mu.Lock()
	s.cancel = cancel
	s.connected = true
	s.mu.Unlock()

	s.emitStatus(StatusOpen)
	go s.readLoop(streamCtx, body)
	return nil
}

func (s *SSE) openStream(ctx context.Context, cfg *protocol.SessionConfig) (io.ReadCloser, error) {
	target, err := s.streamURL(cfg)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, &AuthError{Reason: fmt.Sprintf("stream rejected with HTTP %d", resp.StatusCode)}
		}
		return nil, fmt.Errorf("stream rejected with HTTP %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// readLoop consumes the event stream. On an unexpected drop it performs one
// silent re-open in the manner of a browser EventSource, surfacing the gap
// as a "connecting" status; a second consecutive failure is terminal and
// surfaces as "error".
func (s *SSE) readLoop(ctx context.Context, body io.ReadCloser) {
	for {
		s.consume(body)
		body.Close()

		s.mu.Lock()
		closing := s.closing
		cfg := s.cfg
		retry := s.retry
		s.mu.Unlock()

		if closing {
			return
		}

		s.emitStatus(StatusConnecting)
		select {
		case <-ctx.Done():
			return
		case <-time.After(retry):
		}

		next, err := s.openStream(ctx, cfg)
		if err != nil {
			s.mu.Lock()
			closing = s.closing
			s.connected = false
			s.mu.Unlock()
			if closing {
				return
			}
			s.emitError(fmt.Errorf("event stream connection lost: %w", err))
			s.emitStatus(StatusError)
			return
		}
		body = next
		s.emitStatus(StatusOpen)
	}
}

// consume reads one stream until EOF or error, dispatching complete events.
func (s *SSE) consume(body io.Reader) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var event string
	var data bytes.Buffer

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				s.dispatch(event, data.String())
			}
			event = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case strings.HasPrefix(line, "retry:"):
			if ms, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "retry:"))); err == nil && ms > 0 {
				s.mu.Lock()
				s.retry = time.Duration(ms) * time.Millisecond
				s.mu.Unlock()
			}
		}
	}
	if data.Len() > 0 {
		s.dispatch(event, data.String())
	}
}

// dispatch decodes one event payload. Malformed payloads become synthetic
// PARSE_ERROR messages; the subscriber's stream is never interrupted.
func (s *SSE) dispatch(event, data string) {
	var msg protocol.Message
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		s.log.Debug().Err(err).Str("event", event).Msg("dropping malformed event")
		s.emitMessage(protocol.NewErrorMessage(protocol.ErrCodeParse, "Received a malformed message from the server"))
		return
	}

	if t, ok := sseNamedEvents[event]; ok && msg.Type == "" {
		msg.Type = t
	}

	if msg.Type == protocol.TypeSessionEstablished && msg.SessionID != "" {
		s.mu.Lock()
		s.sessionID = msg.SessionID
		s.mu.Unlock()
		s.log.Debug().Str("session_id", msg.SessionID).Msg("session established")
	}

	msg.EnsureIdentity()
	s.emitMessage(msg)
}

// Send posts one message through the companion request channel. The server's
// session identifier must have arrived first.
func (s *SSE) Send(msg protocol.Message) error {
	s.mu.Lock()
	connected := s.connected
	sessionID := s.sessionID
	s.mu.Unlock()

	if !connected {
		return ErrNotConnected
	}
	if sessionID == "" {
		return &SendError{Transport: TypeSSE, Err: ErrNoSession}
	}

	payload, err := json.Marshal(map[string]interface{}{
		"session_id": sessionID,
		"message":    msg,
	})
	if err != nil {
		return &SendError{Transport: TypeSSE, Err: err}
	}

	ctx, cancel := context.WithTimeout(context.Background(), sseSendTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint("/send"), bytes.NewReader(payload))
	if err != nil {
		return &SendError{Transport: TypeSSE, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return &SendError{Transport: TypeSSE, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &SendError{Transport: TypeSSE, Err: fmt.Errorf("send rejected with HTTP %d", resp.StatusCode)}
	}
	return nil
}

// Disconnect closes the stream. Idempotent; always emits a terminal closed
// status.
func (s *SSE) Disconnect() error {
	s.mu.Lock()
	s.closing = true
	s.connected = false
	s.sessionID = ""
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.emitStatus(StatusClosed)
	return nil
}

func (s *SSE) emitMessage(m protocol.Message) {
	s.mu.Lock()
	h := s.onMessage
	s.mu.Unlock()
	if h != nil {
		h(m)
	}
}

func (s *SSE) emitStatus(st Status) {
	s.mu.Lock()
	h := s.onStatus
	s.mu.Unlock()
	if h != nil {
		h(st)
	}
}

func (s *SSE) emitError(err error) {
	s.mu.Lock()
	h := s.onError
	s.mu.Unlock()
	if h != nil {
		h(err)
	}
}
