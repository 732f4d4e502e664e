package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/voxhealth/voxlink/internal/protocol"
)

const (
	pollInterval    = time.Second
	pollTimeout     = 30 * time.Second
	pollInitTimeout = 10 * time.Second
	pollSendTimeout = 10 * time.Second
)

// Polling is the fallback transport for environments where neither sockets
// nor event streams survive the network path. There is no persistent
// channel: an init call obtains a server-side session, then a fixed-cadence
// poll loop drains queued messages.
type Polling struct {
	baseURL      string
	realtimePath string
	log          zerolog.Logger
	client       *http.Client

	mu        sync.Mutex
	connected bool
	sessionID string
	cancel    context.CancelFunc

	handlers
}

// NewPolling creates a polling transport against the given API base.
func NewPolling(baseURL, realtimePath string, log zerolog.Logger) *Polling {
	return &Polling{
		baseURL:      baseURL,
		realtimePath: realtimePath,
		log:          log.With().Str("transport", string(TypePolling)).Logger(),
		client:       &http.Client{},
	}
}

func (p *Polling) Type() Type { return TypePolling }

func (p *Polling) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *Polling) OnMessage(h MessageHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onMessage = h
}

func (p *Polling) OnStatus(h StatusHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onStatus = h
}

func (p *Polling) OnError(h ErrorHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onError = h
}

func (p *Polling) endpoint(suffix string) string {
	return strings.TrimRight(p.baseURL, "/") + p.realtimePath + suffix
}

// Connect performs the one-shot init call and starts the poll loop.
func (p *Polling) Connect(ctx context.Context, cfg *protocol.SessionConfig) error {
	p.mu.Lock()
	if p.connected {
		p.mu.Unlock()
		return ErrAlreadyConnected
	}
	p.mu.Unlock()

	p.emitStatus(StatusConnecting)

	sessionID, err := p.initSession(ctx, cfg)
	if err != nil {
		p.emitStatus(StatusError)
		return &ConnectError{Transport: TypePolling, Err: err}
	}

	loopCtx, cancel := context.WithCancel(context.Background())

	p.mu.Lock()
	p.sessionID = sessionID
	p.cancel = cancel
	p.connected = true
	p.mu.Unlock()

	p.emitStatus(StatusOpen)
	p.log.Debug().Str("session_id", sessionID).Msg("polling session initialized")

	go p.pollLoop(loopCtx, sessionID)
	return nil
}

func (p *Polling) initSession(ctx context.Context, cfg *protocol.SessionConfig) (string, error) {
	body, err := json.Marshal(map[string]interface{}{
		"practice_id":     cfg.PracticeID,
		"conversation_id": cfg.ConversationID,
		"patient_id":      cfg.PatientID,
		"timezone":        cfg.Timezone,
		"metadata":        cfg.Metadata,
	})
	if err != nil {
		return "", err
	}

	initCtx, cancel := context.WithTimeout(ctx, pollInitTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(initCtx, http.MethodPost, p.endpoint("/init"), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.AuthToken)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", &AuthError{Reason: fmt.Sprintf("init rejected with HTTP %d", resp.StatusCode)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("init rejected with HTTP %d", resp.StatusCode)
	}

	var out struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("invalid init response: %w", err)
	}
	if out.SessionID == "" {
		return "", fmt.Errorf("init response missing session_id")
	}
	return out.SessionID, nil
}

// pollLoop drains the server queue on a fixed cadence until the context is
// cancelled or the server discards the session.
func (p *Polling) pollLoop(ctx context.Context, sessionID string) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !p.pollOnce(ctx, sessionID) {
				return
			}
		}
	}
}

// pollOnce performs one bounded poll call. Returns false when polling must
// stop: the session is gone server-side or the loop context was cancelled.
func (p *Polling) pollOnce(ctx context.Context, sessionID string) bool {
	reqCtx, cancel := context.WithTimeout(ctx, pollTimeout)
	defer cancel()

	target := p.endpoint("/poll") + "?session_id=" + url.QueryEscape(sessionID)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		p.emitError(fmt.Errorf("polling failed: %w", err))
		return true
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false // cancelled by Disconnect
		}
		p.emitError(fmt.Errorf("polling failed: %w", err))
		return true
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// Server discarded the session; recovery belongs to the session
		// layer's reconnect machinery, so stop polling here.
		p.mu.Lock()
		p.connected = false
		p.mu.Unlock()
		p.emitError(errors.New("Session not found on server"))
		p.emitStatus(StatusError)
		return false
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.emitError(fmt.Errorf("polling failed with HTTP %d", resp.StatusCode))
		return true
	}

	var out struct {
		Messages []protocol.Message `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		p.emitMessage(protocol.NewErrorMessage(protocol.ErrCodeParse, "Received a malformed message from the server"))
		return true
	}

	for _, msg := range out.Messages {
		msg.EnsureIdentity()
		p.emitMessage(msg)
	}
	return true
}

// Send posts one message to the send endpoint using the session id.
func (p *Polling) Send(msg protocol.Message) error {
	p.mu.Lock()
	connected := p.connected
	sessionID := p.sessionID
	p.mu.Unlock()

	if !connected || sessionID == "" {
		return ErrNotConnected
	}

	payload, err := json.Marshal(map[string]interface{}{
		"session_id": sessionID,
		"message":    msg,
	})
	if err != nil {
		return &SendError{Transport: TypePolling, Err: err}
	}

	ctx, cancel := context.WithTimeout(context.Background(), pollSendTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint("/send"), bytes.NewReader(payload))
	if err != nil {
		return &SendError{Transport: TypePolling, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return &SendError{Transport: TypePolling, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &SendError{Transport: TypePolling, Err: fmt.Errorf("send rejected with HTTP %d", resp.StatusCode)}
	}
	return nil
}

// Disconnect cancels any in-flight poll, stops the loop, and best-effort
// notifies the server to close the session. Idempotent.
func (p *Polling) Disconnect() error {
	p.mu.Lock()
	p.connected = false
	sessionID := p.sessionID
	p.sessionID = ""
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if sessionID != "" {
		if err := p.closeSession(sessionID); err != nil {
			p.log.Debug().Err(err).Msg("session close notification failed")
		}
	}

	p.emitStatus(StatusClosed)
	return nil
}

func (p *Polling) closeSession(sessionID string) error {
	payload, _ := json.Marshal(map[string]string{"session_id": sessionID})

	ctx, cancel := context.WithTimeout(context.Background(), pollSendTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint("/close"), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (p *Polling) emitMessage(m protocol.Message) {
	p.mu.Lock()
	h := p.onMessage
	p.mu.Unlock()
	if h != nil {
		h(m)
	}
}

func (p *Polling) emitStatus(s Status) {
	p.mu.Lock()
	h := p.onStatus
	p.mu.Unlock()
	if h != nil {
		h(s)
	}
}

func (p *Polling) emitError(err error) {
	p.mu.Lock()
	h := p.onError
	p.mu.Unlock()
	if h != nil {
		h(err)
	}
}
