package session

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxhealth/voxlink/internal/protocol"
)

func TestMessageRingKeepsArrivalOrder(t *testing.T) {
	r := newMessageRing(10)
	for i := 0; i < 5; i++ {
		r.Append(protocol.Message{ID: fmt.Sprintf("m%d", i)})
	}

	got := r.Snapshot()
	require.Len(t, got, 5)
	for i, m := range got {
		assert.Equal(t, fmt.Sprintf("m%d", i), m.ID)
	}
}

func TestMessageRingEvictsOldest(t *testing.T) {
	r := newMessageRing(3)
	for i := 0; i < 7; i++ {
		r.Append(protocol.Message{ID: fmt.Sprintf("m%d", i)})
	}

	got := r.Snapshot()
	require.Len(t, got, 3)
	assert.Equal(t, "m4", got[0].ID)
	assert.Equal(t, "m5", got[1].ID)
	assert.Equal(t, "m6", got[2].ID)
	assert.Equal(t, 3, r.Len())
}

func TestMessageRingDefaultCapacity(t *testing.T) {
	r := newMessageRing(0)
	for i := 0; i < 1005; i++ {
		r.Append(protocol.Message{ID: fmt.Sprintf("m%d", i)})
	}
	assert.Equal(t, 1000, r.Len())
	assert.Equal(t, "m5", r.Snapshot()[0].ID)
}

func TestMessageRingSnapshotIsACopy(t *testing.T) {
	r := newMessageRing(5)
	r.Append(protocol.Message{ID: "a"})

	snap := r.Snapshot()
	snap[0].ID = "mutated"
	assert.Equal(t, "a", r.Snapshot()[0].ID)
}
