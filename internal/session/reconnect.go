package session

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/voxhealth/voxlink/internal/transport"
)

// BackoffConfig controls reconnection scheduling.
type BackoffConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64 // fraction of the capped delay, 0 disables
	MaxAttempts  int
}

// DefaultBackoffConfig returns the standard 1 s → 30 s doubling schedule
// with ±20 % jitter and a 10 attempt budget.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
		MaxAttempts:  10,
	}
}

func (c BackoffConfig) withDefaults() BackoffConfig {
	if c.InitialDelay <= 0 {
		c.InitialDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.Multiplier < 1 {
		c.Multiplier = 2.0
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	return c
}

// backoffDelay computes the next un-jittered base delay from the previous
// one, then applies a uniform ±jitter offset proportional to the capped
// value. The first attempt (prev == 0) uses the initial delay.
func backoffDelay(cfg BackoffConfig, prev time.Duration, rng *rand.Rand) (base, jittered time.Duration) {
	if prev <= 0 {
		base = cfg.InitialDelay
	} else {
		base = time.Duration(float64(prev) * cfg.Multiplier)
		if base > cfg.MaxDelay {
			base = cfg.MaxDelay
		}
	}
	jittered = base
	if cfg.Jitter > 0 {
		offset := (rng.Float64()*2 - 1) * cfg.Jitter * float64(base)
		jittered = base + time.Duration(offset)
		if jittered < 0 {
			jittered = 0
		}
	}
	return base, jittered
}

// AttemptFunc performs one reconnection attempt on the given transport type.
// Injected at construction so the controller never holds a reference back
// into the coordinator.
type AttemptFunc func(transport.Type) error

// ReconnectState is a point-in-time snapshot of the controller.
type ReconnectState struct {
	Reconnecting       bool
	Attempts           int
	NextDelay          time.Duration
	CountdownSeconds   int
	Candidate          transport.Type
	MaxAttemptsReached bool
}

// Reconnector schedules reconnection attempts with exponential backoff and
// jitter, rotating through the transport types so a transport-specific
// outage cannot wedge recovery. At most one timer is ever pending: arming
// always clears the previous timer first.
type Reconnector struct {
	cfg     BackoffConfig
	attempt AttemptFunc
	log     zerolog.Logger
	rng     *rand.Rand

	mu           sync.Mutex
	reconnecting bool
	attempts     int
	baseDelay    time.Duration // last un-jittered delay
	nextDelay    time.Duration
	candidate    transport.Type
	maxReached   bool
	timer        *time.Timer
	tickDone     chan struct{}
	armedAt      time.Time
	armedFor     time.Duration
	countdown    int
}

// NewReconnector creates a controller that calls attempt for each scheduled
// reconnection.
func NewReconnector(cfg BackoffConfig, attempt AttemptFunc, log zerolog.Logger) *Reconnector {
	return &Reconnector{
		cfg:     cfg.withDefaults(),
		attempt: attempt,
		log:     log.With().Str("component", "reconnector").Logger(),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Start begins reconnection from a clean slate. The first scheduled attempt
// uses the successor of the transport that was active when the connection
// dropped. Calling Start while already reconnecting is a no-op.
func (r *Reconnector) Start(active transport.Type) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reconnecting {
		return
	}
	r.attempts = 0
	r.baseDelay = 0
	r.maxReached = false
	r.reconnecting = true
	r.candidate = active
	r.scheduleLocked()
}

// Stop cancels all pending timers and returns to idle.
func (r *Reconnector) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clearTimersLocked()
	r.reconnecting = false
	r.countdown = 0
}

// Reset clears the attempt counters. Call on a confirmed successful open.
func (r *Reconnector) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clearTimersLocked()
	r.reconnecting = false
	r.attempts = 0
	r.baseDelay = 0
	r.nextDelay = 0
	r.countdown = 0
	r.maxReached = false
}

// ForceReconnect cancels pending timers, resets the counters, and attempts
// an immediate reconnect on the given (currently active) transport type. An
// immediate failure falls back to normal scheduled reconnection.
func (r *Reconnector) ForceReconnect(active transport.Type) {
	r.mu.Lock()
	r.clearTimersLocked()
	r.attempts = 0
	r.baseDelay = 0
	r.nextDelay = 0
	r.countdown = 0
	r.maxReached = false
	r.reconnecting = true
	r.candidate = active
	attempt := r.attempt
	r.mu.Unlock()

	go func() {
		if err := attempt(active); err != nil {
			r.log.Debug().Err(err).Msg("forced reconnect failed, falling back to scheduled retries")
			r.mu.Lock()
			if r.reconnecting {
				r.scheduleLocked()
			}
			r.mu.Unlock()
			return
		}
		r.mu.Lock()
		r.reconnecting = false
		r.mu.Unlock()
	}()
}

// State returns a snapshot for observers.
func (r *Reconnector) State() ReconnectState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ReconnectState{
		Reconnecting:       r.reconnecting,
		Attempts:           r.attempts,
		NextDelay:          r.nextDelay,
		CountdownSeconds:   r.countdown,
		Candidate:          r.candidate,
		MaxAttemptsReached: r.maxReached,
	}
}

// scheduleLocked arms the timer for the next attempt. Caller holds r.mu.
func (r *Reconnector) scheduleLocked() {
	r.clearTimersLocked()

	if r.attempts >= r.cfg.MaxAttempts {
		r.maxReached = true
		r.reconnecting = false
		r.countdown = 0
		r.log.Warn().Int("attempts", r.attempts).Msg("reconnect attempt budget exhausted")
		return
	}

	r.attempts++
	base, jittered := backoffDelay(r.cfg, r.baseDelay, r.rng)
	r.baseDelay = base
	r.nextDelay = jittered
	r.candidate = r.candidate.Next()

	r.armedAt = time.Now()
	r.armedFor = jittered
	r.countdown = int(math.Ceil(jittered.Seconds()))

	r.log.Info().
		Int("attempt", r.attempts).
		Dur("delay", jittered).
		Str("transport", string(r.candidate)).
		Msg("reconnect scheduled")

	r.timer = time.AfterFunc(jittered, r.fire)
	r.startCountdownLocked()
}

// startCountdownLocked begins the one-second countdown ticker. The remaining
// time is recomputed from the arm timestamp on every tick, so the display
// self-corrects if the process stalls. Caller holds r.mu.
func (r *Reconnector) startCountdownLocked() {
	done := make(chan struct{})
	r.tickDone = done

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				r.mu.Lock()
				remaining := r.armedFor - time.Since(r.armedAt)
				if remaining < 0 {
					remaining = 0
				}
				r.countdown = int(math.Ceil(remaining.Seconds()))
				r.mu.Unlock()
			}
		}
	}()
}

// fire runs one scheduled attempt. A failure schedules the next attempt; a
// success leaves the counters for the coordinator to clear via Reset once
// the open status is confirmed.
func (r *Reconnector) fire() {
	r.mu.Lock()
	if !r.reconnecting {
		r.mu.Unlock()
		return
	}
	if r.tickDone != nil {
		close(r.tickDone)
		r.tickDone = nil
	}
	r.countdown = 0
	candidate := r.candidate
	attempt := r.attempt
	r.mu.Unlock()

	err := attempt(candidate)

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.reconnecting {
		return
	}
	if err != nil {
		r.log.Debug().Err(err).Str("transport", string(candidate)).Msg("reconnect attempt failed")
		r.scheduleLocked()
		return
	}
	r.reconnecting = false
}

// clearTimersLocked stops the pending timer and countdown. Caller holds r.mu.
func (r *Reconnector) clearTimersLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	if r.tickDone != nil {
		close(r.tickDone)
		r.tickDone = nil
	}
}
