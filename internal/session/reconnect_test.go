package session

import (
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxhealth/voxlink/internal/logging"
	"github.com/voxhealth/voxlink/internal/transport"
)

func TestBackoffDelayFirstAttempt(t *testing.T) {
	cfg := DefaultBackoffConfig()
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 200; i++ {
		base, jittered := backoffDelay(cfg, 0, rng)
		assert.Equal(t, time.Second, base)
		assert.GreaterOrEqual(t, jittered, 800*time.Millisecond)
		assert.LessOrEqual(t, jittered, 1200*time.Millisecond)
	}
}

func TestBackoffDelayDoublesAndCaps(t *testing.T) {
	cfg := DefaultBackoffConfig()
	cfg.Jitter = 0
	rng := rand.New(rand.NewSource(1))

	want := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}

	var prev time.Duration
	for i, w := range want {
		base, jittered := backoffDelay(cfg, prev, rng)
		assert.Equal(t, w, base, "attempt %d", i+1)
		assert.Equal(t, base, jittered, "no jitter configured")
		prev = base
	}
}

func TestBackoffDelayJitterStaysWithinBand(t *testing.T) {
	cfg := DefaultBackoffConfig()
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		base, jittered := backoffDelay(cfg, 4*time.Second, rng)
		require.Equal(t, 8*time.Second, base)
		assert.GreaterOrEqual(t, jittered, time.Duration(float64(base)*0.8))
		assert.LessOrEqual(t, jittered, time.Duration(float64(base)*1.2))
	}
}

// attemptRecorder is an AttemptFunc that records the transport of each
// attempt and fails until the configured attempt number.
type attemptRecorder struct {
	mu        sync.Mutex
	types     []transport.Type
	succeedAt int // 1-based attempt that succeeds, 0 = never
	done      chan struct{}
}

func newAttemptRecorder(succeedAt int) *attemptRecorder {
	return &attemptRecorder{succeedAt: succeedAt, done: make(chan struct{})}
}

func (a *attemptRecorder) fn(tt transport.Type) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.types = append(a.types, tt)
	if a.succeedAt > 0 && len(a.types) >= a.succeedAt {
		close(a.done)
		return nil
	}
	return errors.New("still down")
}

func (a *attemptRecorder) snapshot() []transport.Type {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]transport.Type, len(a.types))
	copy(out, a.types)
	return out
}

func fastBackoff(maxAttempts int) BackoffConfig {
	return BackoffConfig{
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     40 * time.Millisecond,
		Multiplier:   1.5,
		Jitter:       0,
		MaxAttempts:  maxAttempts,
	}
}

func TestReconnectorRotatesTransports(t *testing.T) {
	rec := newAttemptRecorder(3)
	r := NewReconnector(fastBackoff(10), rec.fn, logging.Discard())

	r.Start(transport.TypeWebSocket)

	select {
	case <-rec.done:
	case <-time.After(3 * time.Second):
		t.Fatal("reconnection never succeeded")
	}

	// The drop happened on websocket, so attempts start from its successor.
	assert.Equal(t, []transport.Type{
		transport.TypeSSE,
		transport.TypePolling,
		transport.TypeWebSocket,
	}, rec.snapshot())
	assert.False(t, r.State().Reconnecting)
}

func TestReconnectorStartWhileRunningIsNoOp(t *testing.T) {
	rec := newAttemptRecorder(0)
	r := NewReconnector(fastBackoff(10), rec.fn, logging.Discard())
	defer r.Stop()

	r.Start(transport.TypeWebSocket)
	r.Start(transport.TypePolling) // must not reset the schedule

	time.Sleep(50 * time.Millisecond)
	types := rec.snapshot()
	require.NotEmpty(t, types)
	assert.Equal(t, transport.TypeSSE, types[0], "rotation keeps the original starting point")
}

func TestReconnectorStopsAtMaxAttempts(t *testing.T) {
	rec := newAttemptRecorder(0)
	r := NewReconnector(fastBackoff(3), rec.fn, logging.Discard())

	r.Start(transport.TypeWebSocket)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		st := r.State()
		if st.MaxAttemptsReached {
			assert.False(t, st.Reconnecting)
			assert.Len(t, rec.snapshot(), 3)

			// The latch holds until something resets it.
			time.Sleep(100 * time.Millisecond)
			assert.Len(t, rec.snapshot(), 3)
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("max attempts latch never engaged")
}

func TestReconnectorStopCancelsPendingAttempt(t *testing.T) {
	rec := newAttemptRecorder(0)
	cfg := fastBackoff(10)
	cfg.InitialDelay = 200 * time.Millisecond
	r := NewReconnector(cfg, rec.fn, logging.Discard())

	r.Start(transport.TypeWebSocket)
	r.Stop()

	time.Sleep(400 * time.Millisecond)
	assert.Empty(t, rec.snapshot(), "no attempt may fire after Stop")
	assert.False(t, r.State().Reconnecting)
}

func TestReconnectorResetClearsCounters(t *testing.T) {
	rec := newAttemptRecorder(0)
	r := NewReconnector(fastBackoff(10), rec.fn, logging.Discard())

	r.Start(transport.TypeWebSocket)
	time.Sleep(80 * time.Millisecond)
	require.NotEmpty(t, rec.snapshot())

	r.Reset()
	st := r.State()
	assert.False(t, st.Reconnecting)
	assert.Zero(t, st.Attempts)
	assert.Zero(t, st.NextDelay)
	assert.False(t, st.MaxAttemptsReached)
}

func TestReconnectorCountdownTracksWallClock(t *testing.T) {
	rec := newAttemptRecorder(0)
	cfg := BackoffConfig{
		InitialDelay: 3 * time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       0,
		MaxAttempts:  5,
	}
	r := NewReconnector(cfg, rec.fn, logging.Discard())
	defer r.Stop()

	r.Start(transport.TypeWebSocket)
	require.Equal(t, 3, r.State().CountdownSeconds)

	// The remaining time is recomputed from the arm timestamp on each tick,
	// not decremented, so it stays correct after a stall.
	time.Sleep(1100 * time.Millisecond)
	got := r.State().CountdownSeconds
	assert.Less(t, got, 3)
	assert.GreaterOrEqual(t, got, 1)

	r.Stop()
	assert.Zero(t, r.State().CountdownSeconds)
}

func TestReconnectorForceReconnect(t *testing.T) {
	rec := newAttemptRecorder(1)
	r := NewReconnector(fastBackoff(10), rec.fn, logging.Discard())

	// Forced reconnect retries the active transport immediately, with no
	// rotation and no backoff wait.
	start := time.Now()
	r.ForceReconnect(transport.TypePolling)

	select {
	case <-rec.done:
	case <-time.After(time.Second):
		t.Fatal("forced attempt never ran")
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, []transport.Type{transport.TypePolling}, rec.snapshot())
}

func TestReconnectorForceReconnectResetsMaxAttemptsLatch(t *testing.T) {
	rec := newAttemptRecorder(0)
	r := NewReconnector(fastBackoff(2), rec.fn, logging.Discard())

	r.Start(transport.TypeWebSocket)
	deadline := time.Now().Add(3 * time.Second)
	for !r.State().MaxAttemptsReached {
		if time.Now().After(deadline) {
			t.Fatal("latch never engaged")
		}
		time.Sleep(10 * time.Millisecond)
	}

	r.ForceReconnect(transport.TypeWebSocket)
	time.Sleep(50 * time.Millisecond)
	assert.False(t, r.State().MaxAttemptsReached)
	assert.Greater(t, len(rec.snapshot()), 2, "forced attempt runs despite the exhausted budget")
	r.Stop()
}
