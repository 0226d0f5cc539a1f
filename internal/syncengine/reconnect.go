package syncengine

import (
	"math"
	"sync"
	"time"
)

// ReconnectConfig controls exponential backoff between redial attempts to
// a peer address.
type ReconnectConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	MaxAttempts  int // 0 means unlimited
	Jitter       float64
}

// DefaultReconnectConfig returns sensible defaults for reconnection.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		InitialDelay: 1 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  0,
		Jitter:       0.2,
	}
}

// reconnectState tracks the state of reconnection attempts for one address.
type reconnectState struct {
	attempts    int
	nextDelay   time.Duration
	lastAttempt time.Time
	timer       *time.Timer
}

// Reconnector redials a registered peer address with exponential backoff
// after its connection drops. The core sync engine schedules and cancels
// reconnects through this type but never retries an individual request: a
// dropped stream re-covers its gap through the initial clock exchange on
// the next successful connection, not through Reconnector retrying the
// request itself.
type Reconnector struct {
	cfg      ReconnectConfig
	callback func(addr string) error

	mu     sync.Mutex
	states map[string]*reconnectState
	closed bool
	paused bool
}

// NewReconnector creates a new reconnector that calls callback to attempt
// a redial.
func NewReconnector(cfg ReconnectConfig, callback func(addr string) error) *Reconnector {
	return &Reconnector{
		cfg:      cfg,
		callback: callback,
		states:   make(map[string]*reconnectState),
	}
}

// Schedule schedules a reconnection attempt for the given address.
func (r *Reconnector) Schedule(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.paused {
		return
	}

	state, exists := r.states[addr]
	if !exists {
		state = &reconnectState{nextDelay: r.cfg.InitialDelay}
		r.states[addr] = state
	}

	if state.timer != nil {
		state.timer.Stop()
	}

	if r.cfg.MaxAttempts > 0 && state.attempts >= r.cfg.MaxAttempts {
		delete(r.states, addr)
		return
	}

	delay := r.addJitter(state.nextDelay)
	state.timer = time.AfterFunc(delay, func() {
		r.attemptReconnect(addr)
	})
}

func (r *Reconnector) attemptReconnect(addr string) {
	r.mu.Lock()
	state, exists := r.states[addr]
	if !exists || r.closed {
		r.mu.Unlock()
		return
	}

	state.attempts++
	state.lastAttempt = time.Now()

	nextDelay := time.Duration(float64(state.nextDelay) * r.cfg.Multiplier)
	if nextDelay > r.cfg.MaxDelay {
		nextDelay = r.cfg.MaxDelay
	}
	state.nextDelay = nextDelay
	r.mu.Unlock()

	err := r.callback(addr)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}

	if err != nil {
		if r.cfg.MaxAttempts == 0 || state.attempts < r.cfg.MaxAttempts {
			delay := r.addJitter(state.nextDelay)
			state.timer = time.AfterFunc(delay, func() {
				r.attemptReconnect(addr)
			})
		} else {
			delete(r.states, addr)
		}
	} else {
		delete(r.states, addr)
	}
}

func (r *Reconnector) addJitter(d time.Duration) time.Duration {
	if r.cfg.Jitter <= 0 {
		return d
	}
	jitterRange := float64(d) * r.cfg.Jitter
	jitter := (float64(time.Now().UnixNano()%1000)/1000.0 - 0.5) * 2 * jitterRange
	result := time.Duration(float64(d) + jitter)
	if result < 0 {
		result = d
	}
	return result
}

// Cancel cancels any pending reconnection for the given address.
func (r *Reconnector) Cancel(addr string) {
	r.clearState(addr)
}

func (r *Reconnector) clearState(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if state, exists := r.states[addr]; exists {
		if state.timer != nil {
			state.timer.Stop()
		}
		delete(r.states, addr)
	}
}

// GetAttempts returns the number of reconnection attempts for an address.
func (r *Reconnector) GetAttempts(addr string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if state, exists := r.states[addr]; exists {
		return state.attempts
	}
	return 0
}

// IsPending returns true if a reconnection is pending for the address.
func (r *Reconnector) IsPending(addr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.states[addr]
	return exists
}

// Stop permanently stops all reconnection attempts.
func (r *Reconnector) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	for addr, state := range r.states {
		if state.timer != nil {
			state.timer.Stop()
		}
		delete(r.states, addr)
	}
}

// BackoffCalculator computes backoff delays without the scheduling side
// effects of Reconnector, useful for tests and diagnostics.
type BackoffCalculator struct {
	cfg ReconnectConfig
}

// NewBackoffCalculator creates a new backoff calculator.
func NewBackoffCalculator(cfg ReconnectConfig) *BackoffCalculator {
	return &BackoffCalculator{cfg: cfg}
}

// CalculateDelay calculates the delay for the given attempt number (0-indexed).
func (b *BackoffCalculator) CalculateDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return b.cfg.InitialDelay
	}
	delay := float64(b.cfg.InitialDelay) * math.Pow(b.cfg.Multiplier, float64(attempt))
	if delay > float64(b.cfg.MaxDelay) {
		delay = float64(b.cfg.MaxDelay)
	}
	return time.Duration(delay)
}
