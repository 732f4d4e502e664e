package session

import (
	"sync"

	"github.com/voxhealth/voxlink/internal/protocol"
)

// messageRing is the bounded, append-only message history. Entries are never
// mutated after insertion; the oldest entry is evicted on overflow.
type messageRing struct {
	mu       sync.Mutex
	capacity int
	entries  []protocol.Message
}

func newMessageRing(capacity int) *messageRing {
	if capacity <= 0 {
		capacity = 1000
	}
	return &messageRing{capacity: capacity}
}

func (r *messageRing) Append(m protocol.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, m)
	if len(r.entries) > r.capacity {
		r.entries = r.entries[len(r.entries)-r.capacity:]
	}
}

// Snapshot returns the buffered messages in arrival order.
func (r *messageRing) Snapshot() []protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.Message, len(r.entries))
	copy(out, r.entries)
	return out
}

func (r *messageRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
