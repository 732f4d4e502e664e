package protocol

import (
	"encoding/base64"
	"time"

	"github.com/google/uuid"
)

// MessageType discriminates the wire message union. Every payload exchanged
// after connection establishment carries exactly one of these tags.
type MessageType string

const (
	// Client → server.
	TypeAudio                MessageType = "audio"
	TypeAudioCommit          MessageType = "audio_commit"
	TypeListeningMode        MessageType = "listening_mode"
	TypeProposalResponse     MessageType = "proposal_response"
	TypeClientMetadataUpdate MessageType = "client_metadata_update"
	TypeResponseCancel       MessageType = "response.cancel"

	// Server → client.
	TypeTranscript         MessageType = "transcript"
	TypeSpeakProposal      MessageType = "speak_proposal"
	TypeStatus             MessageType = "status"
	TypeError              MessageType = "error"
	TypeSessionEstablished MessageType = "session_established"
)

// Audio direction relative to this client.
const (
	DirectionSent     = "sent"
	DirectionReceived = "received"
)

// Transcript roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrCodeParse tags synthetic messages produced when a peer frame cannot be
// decoded. Parse failures never escape a transport as errors; they become
// in-band messages so one malformed frame cannot terminate the session.
const ErrCodeParse = "PARSE_ERROR"

// Message is the wire payload. Type selects the variant; only the fields of
// that variant are populated. ID and Timestamp are always present on
// delivered messages; transports backfill both when the peer omits them.
type Message struct {
	ID        string      `json:"id,omitempty"`
	Type      MessageType `json:"type"`
	Timestamp string      `json:"timestamp,omitempty"`

	// audio
	Data      string `json:"data,omitempty"` // base64
	Direction string `json:"direction,omitempty"`

	// transcript
	Role string `json:"role,omitempty"`
	Text string `json:"text,omitempty"`

	// status
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`

	// error
	ErrorCode string                 `json:"error_code,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`

	// speak_proposal / proposal_response
	ProposalID string `json:"proposalId,omitempty"`
	Summary    string `json:"summary,omitempty"`
	Approved   *bool  `json:"approved,omitempty"`

	// listening_mode
	Enabled *bool `json:"enabled,omitempty"`

	// client_metadata_update
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// session_established
	SessionID string `json:"session_id,omitempty"`
}

// EnsureIdentity backfills ID and Timestamp if the peer omitted them.
func (m *Message) EnsureIdentity() {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp == "" {
		m.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
}

// NewAudioMessage wraps raw audio bytes into an audio message.
func NewAudioMessage(data []byte, direction string) Message {
	m := Message{
		Type:      TypeAudio,
		Data:      base64.StdEncoding.EncodeToString(data),
		Direction: direction,
	}
	m.EnsureIdentity()
	return m
}

// NewTranscriptMessage builds a transcript message for the given role.
func NewTranscriptMessage(role, text string) Message {
	m := Message{Type: TypeTranscript, Role: role, Text: text}
	m.EnsureIdentity()
	return m
}

// NewErrorMessage builds a synthetic error message for in-band delivery.
func NewErrorMessage(code, text string) Message {
	m := Message{Type: TypeError, ErrorCode: code, Message: text}
	m.EnsureIdentity()
	return m
}

// NewProposalResponse answers a speak proposal.
func NewProposalResponse(proposalID string, approved bool) Message {
	m := Message{Type: TypeProposalResponse, ProposalID: proposalID, Approved: &approved}
	m.EnsureIdentity()
	return m
}

// NewListeningMode toggles server-side listening.
func NewListeningMode(enabled bool) Message {
	m := Message{Type: TypeListeningMode, Enabled: &enabled}
	m.EnsureIdentity()
	return m
}

// SpeakProposal is a pending request from the assistant to speak. It lives
// until the session holder approves or denies it.
type SpeakProposal struct {
	ID        string    `json:"proposalId"`
	Summary   string    `json:"summary"`
	CreatedAt time.Time `json:"createdAt"`
}
