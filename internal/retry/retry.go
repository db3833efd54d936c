package retry

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/relaymesh/gateway/internal/circuitbreaker"
	"github.com/relaymesh/gateway/internal/config"
	"github.com/relaymesh/gateway/internal/errors"
)

// DefaultRetryableStatuses are HTTP status codes that trigger a retry
var DefaultRetryableStatuses = []int{502, 503, 504, 408, 429}

// DefaultRetryableMethods are the idempotent HTTP methods safe to retry
var DefaultRetryableMethods = []string{"GET", "HEAD", "OPTIONS", "PUT", "DELETE"}

// Manager executes operations with bounded retries, exponential backoff,
// and a shared time budget across attempts.
type Manager struct {
	maxAttempts       int
	initialDelay      time.Duration
	maxDelay          time.Duration
	backoffMultiplier float64
	jitter            bool
	budget            time.Duration
	retryableStatuses map[int]bool
	retryableMethods  map[string]bool

	stats Stats
}

// Stats counts retry manager activity.
type Stats struct {
	Attempts            atomic.Int64
	SuccessesAfterRetry atomic.Int64
	Failures            atomic.Int64
}

// StatsSnapshot is a point-in-time copy of retry statistics.
type StatsSnapshot struct {
	Attempts            int64 `json:"attempts"`
	SuccessesAfterRetry int64 `json:"successes_after_retry"`
	Failures            int64 `json:"failures"`
}

// Result describes one Execute call.
type Result struct {
	Err       error
	Attempts  int
	Retried   bool
	TotalTime time.Duration
}

// NewManager creates a retry manager from config.
func NewManager(cfg config.RetryConfig) *Manager {
	m := &Manager{
		maxAttempts:       cfg.MaxAttempts,
		initialDelay:      cfg.InitialDelay,
		maxDelay:          cfg.MaxDelay,
		backoffMultiplier: cfg.BackoffMultiplier,
		jitter:            cfg.Jitter,
		budget:            cfg.Timeout,
	}
	if m.maxAttempts <= 0 {
		m.maxAttempts = 3
	}
	if m.initialDelay <= 0 {
		m.initialDelay = 100 * time.Millisecond
	}
	if m.maxDelay <= 0 {
		m.maxDelay = 10 * time.Second
	}
	if m.backoffMultiplier <= 0 {
		m.backoffMultiplier = 2.0
	}
	if m.budget <= 0 {
		m.budget = 30 * time.Second
	}

	statuses := cfg.RetryableStatuses
	if len(statuses) == 0 {
		statuses = DefaultRetryableStatuses
	}
	m.retryableStatuses = make(map[int]bool, len(statuses))
	for _, s := range statuses {
		m.retryableStatuses[s] = true
	}

	methods := cfg.RetryableMethods
	if len(methods) == 0 {
		methods = DefaultRetryableMethods
	}
	m.retryableMethods = make(map[string]bool, len(methods))
	for _, s := range methods {
		m.retryableMethods[strings.ToUpper(s)] = true
	}

	return m
}

// newSchedule builds the deterministic backoff curve for one Execute call:
// initialDelay × multiplier^(attempt-1), capped at maxDelay. Full jitter
// (uniform in [0, delay]) is sampled separately so the cap applies to the
// undithered delay.
func (m *Manager) newSchedule() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.initialDelay
	b.MaxInterval = m.maxDelay
	b.Multiplier = m.backoffMultiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Execute runs op with retry semantics. Non-idempotent methods execute
// exactly once. The breaker, when given, is consulted before each retry
// and stops retrying as soon as it opens; outcome recording stays with the
// caller's normal path.
func (m *Manager) Execute(ctx context.Context, method string, breaker *circuitbreaker.Breaker, op func(context.Context) error) Result {
	start := time.Now()

	if !m.retryableMethods[strings.ToUpper(method)] {
		m.stats.Attempts.Add(1)
		err := op(ctx)
		if err != nil {
			m.stats.Failures.Add(1)
		}
		return Result{Err: err, Attempts: 1, TotalTime: time.Since(start)}
	}

	schedule := m.newSchedule()
	var lastErr error
	attempts := 0

	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		if attempt > 1 {
			delay := schedule.NextBackOff()
			if m.jitter {
				delay = time.Duration(rand.Int64N(int64(delay) + 1))
			}

			// Shrink the delay into whatever budget remains; stop when spent.
			remaining := m.budget - time.Since(start)
			if remaining <= 0 {
				break
			}
			if delay > remaining {
				delay = remaining
			}

			select {
			case <-ctx.Done():
				m.stats.Failures.Add(1)
				return Result{Err: ctx.Err(), Attempts: attempts, Retried: true, TotalTime: time.Since(start)}
			case <-time.After(delay):
			}

			if breaker != nil && breaker.State() == circuitbreaker.StateOpen {
				break
			}
		}

		m.stats.Attempts.Add(1)
		attempts++
		err := op(ctx)
		if err == nil {
			if attempt > 1 {
				m.stats.SuccessesAfterRetry.Add(1)
			}
			return Result{Attempts: attempts, Retried: attempt > 1, TotalTime: time.Since(start)}
		}
		lastErr = err

		if !m.isRetryable(err) {
			break
		}
	}

	m.stats.Failures.Add(1)
	return Result{Err: lastErr, Attempts: attempts, Retried: attempts > 1, TotalTime: time.Since(start)}
}

// isRetryable classifies an error. Gateway errors declare retryability and
// carry a status checked against the retryable set; circuit-open errors are
// never retried; bare network errors are matched by message.
func (m *Manager) isRetryable(err error) bool {
	var ge *errors.GatewayError
	if errors.As(err, &ge) {
		if ge.Category == errors.CategoryCircuitBreaker {
			return false
		}
		if !ge.Retryable {
			return false
		}
		if ge.Category == errors.CategoryServer || ge.Category == errors.CategoryClient {
			return m.retryableStatuses[ge.StatusCode]
		}
		return true
	}
	return errors.IsNetworkMessage(err.Error())
}

// StatsSnapshot returns current retry counters.
func (m *Manager) StatsSnapshot() StatsSnapshot {
	return StatsSnapshot{
		Attempts:            m.stats.Attempts.Load(),
		SuccessesAfterRetry: m.stats.SuccessesAfterRetry.Load(),
		Failures:            m.stats.Failures.Load(),
	}
}
