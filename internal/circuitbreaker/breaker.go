package circuitbreaker

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/relaymesh/gateway/internal/config"
	"github.com/relaymesh/gateway/internal/errors"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Failing, reject requests
	StateHalfOpen              // Testing recovery
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker gates calls to one upstream. Failures are tracked in a bounded
// ring of recent outcomes; only the latest windowSize outcomes count.
type Breaker struct {
	mu sync.Mutex

	state         State
	window        []bool // ring of outcomes, true = failure
	windowPos     int
	windowFilled  int
	successStreak int
	halfOpenCount int
	nextAttemptAt time.Time

	failureThreshold int
	successThreshold int
	halfOpenRequests int
	windowSize       int
	timeout          time.Duration

	// Metrics (atomic for lock-free reads)
	totalRequests  atomic.Int64
	totalFailures  atomic.Int64
	totalSuccesses atomic.Int64
	totalRejected  atomic.Int64
}

// NewBreaker creates a new circuit breaker
func NewBreaker(cfg config.CircuitBreakerConfig) *Breaker {
	failureThreshold := cfg.FailureThreshold
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	successThreshold := cfg.SuccessThreshold
	if successThreshold <= 0 {
		successThreshold = 2
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	halfOpenRequests := cfg.HalfOpenRequests
	if halfOpenRequests <= 0 {
		halfOpenRequests = 1
	}
	windowSize := cfg.WindowSize
	if windowSize < failureThreshold {
		windowSize = failureThreshold * 2
	}

	return &Breaker{
		state:            StateClosed,
		window:           make([]bool, windowSize),
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		halfOpenRequests: halfOpenRequests,
		windowSize:       windowSize,
		timeout:          timeout,
	}
}

// Execute runs op under the breaker: it either invokes op and records the
// outcome, or fails fast with a circuit-open error.
func (b *Breaker) Execute(op func() error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	err := op()
	b.Record(err == nil)
	return err
}

// Allow checks whether a call may proceed. Callers must follow up with
// Record for every allowed call.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalRequests.Add(1)

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		if time.Now().Before(b.nextAttemptAt) {
			b.totalRejected.Add(1)
			return errors.ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.halfOpenCount = 1
		b.successStreak = 0
		return nil

	case StateHalfOpen:
		if b.halfOpenCount < b.halfOpenRequests {
			b.halfOpenCount++
			return nil
		}
		b.totalRejected.Add(1)
		return errors.ErrCircuitOpen
	}

	b.totalRejected.Add(1)
	return errors.ErrCircuitOpen
}

// Record feeds a call outcome into the breaker.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		b.totalSuccesses.Add(1)
	} else {
		b.totalFailures.Add(1)
	}

	switch b.state {
	case StateClosed:
		b.push(!success)
		if !success && b.windowFailures() >= b.failureThreshold {
			b.trip()
		}

	case StateHalfOpen:
		if success {
			b.successStreak++
			if b.successStreak >= b.successThreshold {
				b.state = StateClosed
				b.resetWindow()
				b.successStreak = 0
				b.halfOpenCount = 0
			}
		} else {
			b.trip()
		}
	}
}

// trip moves to OPEN and schedules the next probe.
func (b *Breaker) trip() {
	b.state = StateOpen
	b.nextAttemptAt = time.Now().Add(b.timeout)
	b.successStreak = 0
	b.halfOpenCount = 0
}

// push appends an outcome to the ring.
func (b *Breaker) push(failure bool) {
	b.window[b.windowPos] = failure
	b.windowPos = (b.windowPos + 1) % b.windowSize
	if b.windowFilled < b.windowSize {
		b.windowFilled++
	}
}

// windowFailures counts failures among the retained outcomes.
func (b *Breaker) windowFailures() int {
	count := 0
	for i := 0; i < b.windowFilled; i++ {
		if b.window[i] {
			count++
		}
	}
	return count
}

func (b *Breaker) resetWindow() {
	for i := range b.window {
		b.window[i] = false
	}
	b.windowPos = 0
	b.windowFilled = 0
}

// State returns the current state, read under the breaker lock.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ForceState moves the breaker into a state. Intended for tests and the
// admin surface.
func (b *Breaker) ForceState(s State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = s
	switch s {
	case StateOpen:
		b.nextAttemptAt = time.Now().Add(b.timeout)
	case StateClosed:
		b.resetWindow()
	case StateHalfOpen:
		b.halfOpenCount = 0
		b.successStreak = 0
	}
}

// Snapshot returns a point-in-time view of the breaker state
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Snapshot{
		State:            b.state.String(),
		WindowFailures:   b.windowFailures(),
		SuccessStreak:    b.successStreak,
		FailureThreshold: b.failureThreshold,
		SuccessThreshold: b.successThreshold,
		NextAttemptAt:    b.nextAttemptAt,
		TotalRequests:    b.totalRequests.Load(),
		TotalFailures:    b.totalFailures.Load(),
		TotalSuccesses:   b.totalSuccesses.Load(),
		TotalRejected:    b.totalRejected.Load(),
	}
}

// Snapshot is a point-in-time view of a circuit breaker
type Snapshot struct {
	State            string    `json:"state"`
	WindowFailures   int       `json:"window_failures"`
	SuccessStreak    int       `json:"success_streak"`
	FailureThreshold int       `json:"failure_threshold"`
	SuccessThreshold int       `json:"success_threshold"`
	NextAttemptAt    time.Time `json:"next_attempt_at"`
	TotalRequests    int64     `json:"total_requests"`
	TotalFailures    int64     `json:"total_failures"`
	TotalSuccesses   int64     `json:"total_successes"`
	TotalRejected    int64     `json:"total_rejected"`
}

// Manager holds one breaker per upstream. The map is built once at startup
// (or configuration swap) and read-only afterwards.
type Manager struct {
	breakers map[string]*Breaker
}

// NewManager builds breakers for the given upstream ids.
func NewManager(cfg config.CircuitBreakerConfig, upstreamIDs []string) *Manager {
	m := &Manager{breakers: make(map[string]*Breaker, len(upstreamIDs))}
	for _, id := range upstreamIDs {
		m.breakers[id] = NewBreaker(cfg)
	}
	return m
}

// Get returns the breaker for an upstream, or nil.
func (m *Manager) Get(upstreamID string) *Breaker {
	return m.breakers[upstreamID]
}

// Snapshots returns snapshots of all circuit breakers
func (m *Manager) Snapshots() map[string]Snapshot {
	result := make(map[string]Snapshot, len(m.breakers))
	for id, b := range m.breakers {
		result[id] = b.Snapshot()
	}
	return result
}
