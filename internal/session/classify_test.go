package session

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/voxhealth/voxlink/internal/transport"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      ErrorKind
		retryable bool
	}{
		{"nil", nil, ErrorKindUnknown, false},
		{"unauthorized", errors.New("server said: Unauthorized"), ErrorKindAuth, false},
		{"forbidden", errors.New("HTTP 403 Forbidden"), ErrorKindAuth, false},
		{"status code", errors.New("init rejected with HTTP 401"), ErrorKindAuth, false},
		{"invalid token", errors.New("close: Invalid Token"), ErrorKindAuth, false},
		{"expired token", errors.New("expired token, please refresh"), ErrorKindAuth, false},
		{"auth error type", &transport.AuthError{Reason: "bad credential"}, ErrorKindAuth, false},
		{"network", errors.New("network is down"), ErrorKindNetwork, true},
		{"timeout", errors.New("dial timeout after 10s"), ErrorKindNetwork, true},
		{"refused", errors.New("dial tcp: ECONNREFUSED"), ErrorKindNetwork, true},
		{"unreachable", errors.New("host unreachable"), ErrorKindNetwork, true},
		{"offline", errors.New("client is offline"), ErrorKindNetwork, true},
		{"close error type", &transport.CloseError{Code: 1011}, ErrorKindNetwork, true},
		{"unknown", errors.New("something odd happened"), ErrorKindUnknown, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cls := Classify(tt.err)
			assert.Equal(t, tt.kind, cls.Kind)
			assert.Equal(t, tt.retryable, cls.Retryable)
			assert.NotEmpty(t, cls.UserMessage)
		})
	}
}

// A message carrying both auth and network vocabulary must classify as auth,
// otherwise a rejected credential would be retried forever.
func TestClassifyAuthWinsOverNetwork(t *testing.T) {
	cls := Classify(errors.New("connection closed: invalid token"))
	assert.Equal(t, ErrorKindAuth, cls.Kind)
	assert.False(t, cls.Retryable)
	assert.Equal(t, msgAuthFailure, cls.UserMessage)
}

func TestClassifyUserMessagesHideDetail(t *testing.T) {
	cls := Classify(errors.New("dial tcp 10.0.0.5:443: i/o timeout"))
	assert.Equal(t, msgNetworkFailure, cls.UserMessage)
	assert.NotContains(t, cls.UserMessage, "10.0.0.5")
}
