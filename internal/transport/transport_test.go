package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeRotationOrder(t *testing.T) {
	assert.Equal(t, TypeSSE, TypeWebSocket.Next())
	assert.Equal(t, TypePolling, TypeSSE.Next())
	assert.Equal(t, TypeWebSocket, TypePolling.Next())
}

func TestTypeRotationIsCyclic(t *testing.T) {
	cur := TypeWebSocket
	seen := map[Type]int{}
	for i := 0; i < 9; i++ {
		cur = cur.Next()
		seen[cur]++
	}
	// Nine advances visit each of the three types exactly three times.
	assert.Equal(t, 3, seen[TypeWebSocket])
	assert.Equal(t, 3, seen[TypeSSE])
	assert.Equal(t, 3, seen[TypePolling])
}

func TestParseType(t *testing.T) {
	for _, name := range []string{"websocket", "sse", "polling"} {
		parsed, err := ParseType(name)
		require.NoError(t, err)
		assert.Equal(t, Type(name), parsed)
	}

	_, err := ParseType("carrier-pigeon")
	assert.Error(t, err)
}
