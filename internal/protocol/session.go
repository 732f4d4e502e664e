package protocol

import "fmt"

// Limits on session parameters. The server enforces the same bounds; failing
// locally avoids burning a connection attempt on input that cannot succeed.
const (
	maxConversationIDLen = 255
	maxPatientIDLen      = 255
	maxTimezoneLen       = 100
	maxAuthTokenLen      = 1000
)

// SessionConfig holds the immutable parameters for one connection attempt.
// Build it once before connecting; replace it wholesale for a new session.
type SessionConfig struct {
	PracticeID     int
	ConversationID string
	PatientID      string
	Timezone       string
	AuthToken      string
	Metadata       map[string]interface{}
}

// Validate checks the parameter bounds before a connection attempt.
func (c *SessionConfig) Validate() error {
	if c.PracticeID <= 0 {
		return fmt.Errorf("practice id must be a positive integer, got %d", c.PracticeID)
	}
	if c.ConversationID == "" {
		return fmt.Errorf("conversation id is required")
	}
	if len(c.ConversationID) > maxConversationIDLen {
		return fmt.Errorf("conversation id exceeds %d characters", maxConversationIDLen)
	}
	if len(c.PatientID) > maxPatientIDLen {
		return fmt.Errorf("patient id exceeds %d characters", maxPatientIDLen)
	}
	if c.Timezone == "" {
		return fmt.Errorf("timezone is required")
	}
	if len(c.Timezone) > maxTimezoneLen {
		return fmt.Errorf("timezone exceeds %d characters", maxTimezoneLen)
	}
	if len(c.AuthToken) > maxAuthTokenLen {
		return fmt.Errorf("auth token exceeds %d characters", maxAuthTokenLen)
	}
	return nil
}
