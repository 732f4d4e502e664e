// Package session owns the lifecycle of a VoxLink realtime session: it
// mediates connect/disconnect/send over exactly one active transport,
// classifies failures, and drives scheduled reconnection with transport
// rotation when an established connection drops.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/voxhealth/voxlink/internal/config"
	"github.com/voxhealth/voxlink/internal/protocol"
	"github.com/voxhealth/voxlink/internal/transport"
)

// Reconnection is only considered when at least this long has passed since
// the previous connection attempt. Suppresses retry storms when loss events
// arrive in quick succession.
const minReconnectInterval = 2 * time.Second

const reconnectConnectTimeout = 15 * time.Second

// Synthetic error-message codes, by classification.
const (
	errCodeAuth    = "AUTH_ERROR"
	errCodeNetwork = "NETWORK_ERROR"
	errCodeUnknown = "SESSION_ERROR"
)

// ConnectionState is the authoritative, observer-visible connection state.
// Written only by the coordinator.
type ConnectionState struct {
	Status            transport.Status
	Transport         transport.Type
	Latency           time.Duration // connect round-trip, 0 while unknown
	LastError         string
	ReconnectAttempts int
	ReconnectDelay    time.Duration
}

// Factory builds a transport instance for the given type. Injected so tests
// can substitute doubles.
type Factory func(transport.Type) transport.Transport

// DefaultFactory wires the three production transports against the
// configured API base.
func DefaultFactory(cfg *config.Config, log zerolog.Logger) Factory {
	return func(t transport.Type) transport.Transport {
		switch t {
		case transport.TypeSSE:
			return transport.NewSSE(cfg.BaseURL, cfg.RealtimePath, log)
		case transport.TypePolling:
			return transport.NewPolling(cfg.BaseURL, cfg.RealtimePath, log)
		default:
			return transport.NewWebSocket(cfg.BaseURL, cfg.RealtimePath, log)
		}
	}
}

// StateHandler observes connection-state updates.
type StateHandler func(ConnectionState)

// Coordinator owns exactly one transport instance at a time and the
// authoritative connection state. All callbacks funnel through it.
type Coordinator struct {
	cfg     *config.Config
	factory Factory
	log     zerolog.Logger
	recon   *Reconnector

	mu               sync.Mutex
	active           transport.Transport
	session          *protocol.SessionConfig
	status           transport.Status
	transportType    transport.Type
	latency          time.Duration
	lastError        string
	manualDisconnect bool
	authFailed       bool
	lastAttempt      time.Time
	proposals        []protocol.SpeakProposal
	onState          StateHandler
	onMessage        transport.MessageHandler

	ring *messageRing
}

// NewCoordinator builds a coordinator for the given configuration.
func NewCoordinator(cfg *config.Config, factory Factory, log zerolog.Logger) *Coordinator {
	preferred := transport.TypeWebSocket
	if t, err := transport.ParseType(cfg.Transport); err == nil {
		preferred = t
	}

	c := &Coordinator{
		cfg:           cfg,
		factory:       factory,
		log:           log.With().Str("component", "session").Logger(),
		transportType: preferred,
		status:        transport.StatusClosed,
		ring:          newMessageRing(cfg.MaxMessages),
	}

	c.recon = NewReconnector(BackoffConfig{
		InitialDelay: cfg.InitialDelay(),
		MaxDelay:     cfg.MaxDelay(),
		Multiplier:   2.0,
		Jitter:       0.2,
		MaxAttempts:  cfg.ReconnectMaxAttempts,
	}, c.reconnectAttempt, log)

	return c
}

// OnStateChange registers the single state observer. Last registration wins.
func (c *Coordinator) OnStateChange(h StateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = h
}

// OnMessage registers the single message observer. Last registration wins.
func (c *Coordinator) OnMessage(h transport.MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = h
}

// Connect establishes a session on the preferred transport. Any existing
// transport is torn down first, so overlapping calls cannot leak a second
// instance. A connect failure is routed through the error classifier before
// propagating to the caller.
func (c *Coordinator) Connect(ctx context.Context, sc *protocol.SessionConfig) error {
	if err := sc.Validate(); err != nil {
		return fmt.Errorf("invalid session config: %w", err)
	}

	c.mu.Lock()
	old := c.active
	c.active = nil
	c.mu.Unlock()
	c.teardown(old)

	// A fresh connect always starts from the configured preference, not
	// from wherever a previous rotation ended up.
	preferred := transport.TypeWebSocket
	if t, err := transport.ParseType(c.cfg.Transport); err == nil {
		preferred = t
	}
	t := c.factory(preferred)

	c.mu.Lock()
	c.manualDisconnect = false
	c.authFailed = false
	c.session = sc
	c.lastAttempt = time.Now()
	c.active = t
	c.transportType = t.Type()
	c.status = transport.StatusConnecting
	c.lastError = ""
	c.latency = 0
	c.mu.Unlock()

	c.wire(t)
	c.notifyState()

	if err := t.Connect(ctx, sc); err != nil {
		c.handleError(err)
		return err
	}
	return nil
}

// Disconnect ends the session on purpose: any reconnection in flight is
// stopped and the status-change handler is told not to start another.
// Idempotent.
func (c *Coordinator) Disconnect() error {
	c.mu.Lock()
	c.manualDisconnect = true
	c.session = nil
	old := c.active
	c.active = nil
	c.mu.Unlock()

	c.recon.Stop()
	c.teardown(old)

	c.mu.Lock()
	c.status = transport.StatusClosed
	c.mu.Unlock()
	c.notifyState()
	return nil
}

// ForceReconnect drops the backoff state and retries immediately on the
// current transport type.
func (c *Coordinator) ForceReconnect() {
	c.mu.Lock()
	c.manualDisconnect = false
	c.authFailed = false
	tt := c.transportType
	c.mu.Unlock()
	c.recon.ForceReconnect(tt)
}

// SendMessage sanitizes and transmits a payload: a string (or []byte) is
// taken as raw JSON, anything else is serialized first; control characters
// are stripped and the result re-validated before it reaches the wire.
// Failures come back as the classifier's user-facing message.
func (c *Coordinator) SendMessage(payload interface{}) error {
	c.mu.Lock()
	t := c.active
	c.mu.Unlock()

	if t == nil || !t.IsConnected() {
		return c.userError(transport.ErrNotConnected)
	}

	msg, err := sanitizePayload(payload)
	if err != nil {
		c.log.Debug().Err(err).Msg("rejecting unsendable payload")
		return errors.New("Message could not be prepared for sending.")
	}

	if err := t.Send(msg); err != nil {
		return c.userError(err)
	}

	c.ring.Append(msg)
	return nil
}

// ApproveProposal answers a pending speak proposal positively.
func (c *Coordinator) ApproveProposal(id string) error {
	return c.respondProposal(id, true)
}

// DenyProposal answers a pending speak proposal negatively.
func (c *Coordinator) DenyProposal(id string) error {
	return c.respondProposal(id, false)
}

// respondProposal sends a proposal_response and removes the entry. The
// removal happens regardless of the send outcome; a failed response is only
// logged.
func (c *Coordinator) respondProposal(id string, approved bool) error {
	c.mu.Lock()
	idx := -1
	for i, p := range c.proposals {
		if p.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		return fmt.Errorf("no pending proposal %q", id)
	}
	c.proposals = append(c.proposals[:idx], c.proposals[idx+1:]...)
	t := c.active
	c.mu.Unlock()

	if t == nil {
		c.log.Warn().Str("proposal_id", id).Msg("proposal response dropped, no active transport")
		return nil
	}
	if err := t.Send(protocol.NewProposalResponse(id, approved)); err != nil {
		c.log.Warn().Err(err).Str("proposal_id", id).Msg("proposal response send failed")
	}
	return nil
}

// State returns the current connection state.
func (c *Coordinator) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// Messages returns the buffered message history in arrival order.
func (c *Coordinator) Messages() []protocol.Message {
	return c.ring.Snapshot()
}

// PendingProposals returns the speak proposals awaiting a response.
func (c *Coordinator) PendingProposals() []protocol.SpeakProposal {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.SpeakProposal, len(c.proposals))
	copy(out, c.proposals)
	return out
}

// ReconnectState exposes the controller snapshot for observers.
func (c *Coordinator) ReconnectState() ReconnectState {
	return c.recon.State()
}

// reconnectAttempt is the controller's injected attempt callback: tear down
// the previous transport, bring up the next candidate, connect.
func (c *Coordinator) reconnectAttempt(tt transport.Type) error {
	c.mu.Lock()
	sc := c.session
	manual := c.manualDisconnect
	old := c.active
	c.active = nil
	c.mu.Unlock()

	if sc == nil || manual {
		return errors.New("no session to reconnect")
	}

	c.teardown(old)

	t := c.factory(tt)

	c.mu.Lock()
	c.active = t
	c.transportType = tt
	c.lastAttempt = time.Now()
	c.status = transport.StatusConnecting
	c.mu.Unlock()

	c.wire(t)
	c.notifyState()
	c.log.Info().Str("transport", string(tt)).Msg("reconnecting")

	ctx, cancel := context.WithTimeout(context.Background(), reconnectConnectTimeout)
	defer cancel()

	if err := t.Connect(ctx, sc); err != nil {
		c.handleError(err)
		return err
	}
	return nil
}

// wire registers the coordinator's callbacks on a fresh transport instance.
func (c *Coordinator) wire(t transport.Transport) {
	t.OnMessage(c.handleMessage)
	t.OnStatus(c.handleStatus)
	t.OnError(c.handleError)
}

// teardown detaches and closes a transport the coordinator no longer owns,
// so late events from it cannot reach the handlers.
func (c *Coordinator) teardown(t transport.Transport) {
	if t == nil {
		return
	}
	t.OnMessage(nil)
	t.OnStatus(nil)
	t.OnError(nil)
	_ = t.Disconnect()
}

// handleStatus applies a transport status transition and decides whether to
// start reconnecting. Reconnection requires every guard to hold: the
// connection actually was open (never auto-retry one that never succeeded),
// a session is present, fallback is enabled, the disconnect was not manual,
// no authentication failure is latched, and the storm-suppression interval
// has passed.
func (c *Coordinator) handleStatus(s transport.Status) {
	c.mu.Lock()
	prev := c.status
	c.status = s
	if s == transport.StatusOpen && prev != transport.StatusOpen {
		c.latency = time.Since(c.lastAttempt)
		c.lastError = ""
	}
	sessionPresent := c.session != nil
	manual := c.manualDisconnect
	authFailed := c.authFailed
	sinceAttempt := time.Since(c.lastAttempt)
	activeType := c.transportType
	c.mu.Unlock()

	if s == transport.StatusOpen && prev != transport.StatusOpen {
		c.recon.Reset()
		c.log.Info().Str("transport", string(activeType)).Msg("connection open")
	}

	lost := s == transport.StatusClosed || s == transport.StatusError
	if lost && sessionPresent && c.cfg.FallbackEnabled() && !manual && !authFailed &&
		prev == transport.StatusOpen && sinceAttempt >= minReconnectInterval {
		c.recon.Start(activeType)
	}

	c.notifyState()
}

// handleError is the single classification point for every propagated
// failure. Authentication failures are terminal for the reconnection cycle:
// retrying with the same rejected credential would only hammer the server.
func (c *Coordinator) handleError(err error) {
	cls := Classify(err)
	c.log.Debug().Err(err).Int("kind", int(cls.Kind)).Msg("session error")

	c.mu.Lock()
	c.lastError = cls.UserMessage
	if cls.Kind == ErrorKindAuth {
		c.authFailed = true
	}
	c.mu.Unlock()

	if cls.Kind == ErrorKindAuth {
		c.recon.Stop()
	}

	code := errCodeUnknown
	switch cls.Kind {
	case ErrorKindAuth:
		code = errCodeAuth
	case ErrorKindNetwork:
		code = errCodeNetwork
	}
	c.deliver(protocol.NewErrorMessage(code, cls.UserMessage))

	c.notifyState()
}

// handleMessage routes one inbound message: into the ring, through the
// proposal tracker, and on to the subscriber.
func (c *Coordinator) handleMessage(m protocol.Message) {
	if m.Type == protocol.TypeSpeakProposal && m.ProposalID != "" {
		c.mu.Lock()
		c.proposals = append(c.proposals, protocol.SpeakProposal{
			ID:        m.ProposalID,
			Summary:   m.Summary,
			CreatedAt: time.Now(),
		})
		c.mu.Unlock()
	}
	c.deliver(m)
}

// deliver appends to the ring and forwards to the message subscriber.
func (c *Coordinator) deliver(m protocol.Message) {
	c.ring.Append(m)
	c.mu.Lock()
	h := c.onMessage
	c.mu.Unlock()
	if h != nil {
		h(m)
	}
}

func (c *Coordinator) stateLocked() ConnectionState {
	rs := c.recon.State()
	return ConnectionState{
		Status:            c.status,
		Transport:         c.transportType,
		Latency:           c.latency,
		LastError:         c.lastError,
		ReconnectAttempts: rs.Attempts,
		ReconnectDelay:    rs.NextDelay,
	}
}

func (c *Coordinator) notifyState() {
	c.mu.Lock()
	h := c.onState
	st := c.stateLocked()
	c.mu.Unlock()
	if h != nil {
		h(st)
	}
}

// userError classifies a failure and returns only the short user-facing
// message; the technical detail stays in the internal log.
func (c *Coordinator) userError(err error) error {
	cls := Classify(err)
	c.log.Debug().Err(err).Msg("operation failed")
	return errors.New(cls.UserMessage)
}

// sanitizePayload normalizes an outbound payload to a validated wire
// message: serialize if needed, strip control characters, re-parse.
func sanitizePayload(payload interface{}) (protocol.Message, error) {
	var raw []byte
	switch v := payload.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return protocol.Message{}, fmt.Errorf("payload not serializable: %w", err)
		}
		raw = b
	}

	clean := stripControl(string(raw))

	var msg protocol.Message
	if err := json.Unmarshal([]byte(clean), &msg); err != nil {
		return protocol.Message{}, fmt.Errorf("payload is not a valid message: %w", err)
	}
	if msg.Type == "" {
		return protocol.Message{}, errors.New("payload is missing a message type")
	}
	msg.EnsureIdentity()
	return msg, nil
}

// stripControl removes control characters that must never reach the wire,
// keeping the whitespace JSON itself allows between tokens.
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}
