package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/relaymesh/gateway/internal/errors"
)

// Aggregator collects gateway-wide counters, the latency histogram, and
// per-route / per-upstream rollups. Counters are shared across all request
// handlers and tolerate concurrent increments.
type Aggregator struct {
	totalRequests     atomic.Int64
	totalErrors       atomic.Int64
	bytesSent         atomic.Int64
	bytesReceived     atomic.Int64
	activeConnections atomic.Int64

	errClient         atomic.Int64
	errServer         atomic.Int64
	errNetwork        atomic.Int64
	errTimeout        atomic.Int64
	errCircuitBreaker atomic.Int64
	errTransformation atomic.Int64
	errOther          atomic.Int64

	latency *Histogram

	mu        sync.RWMutex
	routes    map[string]*Rollup
	upstreams map[string]*Rollup

	history *historyRing
	started time.Time
}

// Rollup accumulates per-route or per-upstream statistics.
type Rollup struct {
	mu           sync.Mutex
	requests     int64
	errs         int64
	totalLatency time.Duration
	bytesIn      int64
	bytesOut     int64
	statusCodes  map[int]int64
}

// NewAggregator creates a metrics aggregator with the given histogram window.
func NewAggregator(window time.Duration) *Aggregator {
	return &Aggregator{
		latency:   NewHistogram(window),
		routes:    make(map[string]*Rollup),
		upstreams: make(map[string]*Rollup),
		history:   newHistoryRing(120),
		started:   time.Now(),
	}
}

// RecordRequest records a completed request.
func (a *Aggregator) RecordRequest(routeID, upstreamID string, status int, latency time.Duration, bytesIn, bytesOut int64) {
	a.totalRequests.Add(1)
	a.bytesReceived.Add(bytesIn)
	a.bytesSent.Add(bytesOut)
	a.latency.Record(latency)

	if routeID != "" {
		a.rollupFor(&a.routes, routeID).record(status, latency, bytesIn, bytesOut)
	}
	if upstreamID != "" {
		a.rollupFor(&a.upstreams, upstreamID).record(status, latency, bytesIn, bytesOut)
	}
}

// RecordError counts an error by category.
func (a *Aggregator) RecordError(category errors.Category) {
	a.totalErrors.Add(1)
	switch category {
	case errors.CategoryClient:
		a.errClient.Add(1)
	case errors.CategoryServer:
		a.errServer.Add(1)
	case errors.CategoryNetwork:
		a.errNetwork.Add(1)
	case errors.CategoryTimeout:
		a.errTimeout.Add(1)
	case errors.CategoryCircuitBreaker:
		a.errCircuitBreaker.Add(1)
	case errors.CategoryTransformation:
		a.errTransformation.Add(1)
	default:
		a.errOther.Add(1)
	}
}

// ConnOpened / ConnClosed track live client connections.
func (a *Aggregator) ConnOpened() { a.activeConnections.Add(1) }
func (a *Aggregator) ConnClosed() { a.activeConnections.Add(-1) }

func (a *Aggregator) rollupFor(m *map[string]*Rollup, key string) *Rollup {
	a.mu.RLock()
	r, ok := (*m)[key]
	a.mu.RUnlock()
	if ok {
		return r
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if r, ok = (*m)[key]; ok {
		return r
	}
	r = &Rollup{statusCodes: make(map[int]int64)}
	(*m)[key] = r
	return r
}

func (r *Rollup) record(status int, latency time.Duration, bytesIn, bytesOut int64) {
	r.mu.Lock()
	r.requests++
	if status >= 400 {
		r.errs++
	}
	r.totalLatency += latency
	r.bytesIn += bytesIn
	r.bytesOut += bytesOut
	r.statusCodes[status]++
	r.mu.Unlock()
}

// RollupSnapshot is a point-in-time rollup view.
type RollupSnapshot struct {
	Requests     int64         `json:"requests"`
	Errors       int64         `json:"errors"`
	TotalLatency float64       `json:"total_latency_ms"`
	AvgLatency   float64       `json:"avg_latency_ms"`
	BytesIn      int64         `json:"bytes_in"`
	BytesOut     int64         `json:"bytes_out"`
	StatusCodes  map[int]int64 `json:"status_codes"`
}

func (r *Rollup) snapshot() RollupSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := RollupSnapshot{
		Requests:     r.requests,
		Errors:       r.errs,
		TotalLatency: float64(r.totalLatency) / float64(time.Millisecond),
		BytesIn:      r.bytesIn,
		BytesOut:     r.bytesOut,
		StatusCodes:  make(map[int]int64, len(r.statusCodes)),
	}
	if r.requests > 0 {
		snap.AvgLatency = snap.TotalLatency / float64(r.requests)
	}
	for code, count := range r.statusCodes {
		snap.StatusCodes[code] = count
	}
	return snap
}

// ErrorsSnapshot breaks totals down by category.
type ErrorsSnapshot struct {
	Total          int64 `json:"total"`
	Client         int64 `json:"client"`
	Server         int64 `json:"server"`
	Network        int64 `json:"network"`
	Timeout        int64 `json:"timeout"`
	CircuitBreaker int64 `json:"circuit_breaker"`
	Transformation int64 `json:"transformation"`
	Other          int64 `json:"other"`
}

// Summary is the top-level metrics snapshot.
type Summary struct {
	UptimeSeconds     float64        `json:"uptime_seconds"`
	TotalRequests     int64          `json:"total_requests"`
	TotalErrors       int64          `json:"total_errors"`
	BytesSent         int64          `json:"bytes_sent"`
	BytesReceived     int64          `json:"bytes_received"`
	ActiveConnections int64          `json:"active_connections"`
	LatencyP50        float64        `json:"latency_p50_ms"`
	LatencyP95        float64        `json:"latency_p95_ms"`
	LatencyP99        float64        `json:"latency_p99_ms"`
	Errors            ErrorsSnapshot `json:"errors"`
}

// Summary returns the aggregate snapshot.
func (a *Aggregator) Summary() Summary {
	p50, p95, p99 := a.latency.Percentiles()
	return Summary{
		UptimeSeconds:     time.Since(a.started).Seconds(),
		TotalRequests:     a.totalRequests.Load(),
		TotalErrors:       a.totalErrors.Load(),
		BytesSent:         a.bytesSent.Load(),
		BytesReceived:     a.bytesReceived.Load(),
		ActiveConnections: a.activeConnections.Load(),
		LatencyP50:        p50,
		LatencyP95:        p95,
		LatencyP99:        p99,
		Errors:            a.ErrorsSnapshot(),
	}
}

// ErrorsSnapshot returns error counters by category.
func (a *Aggregator) ErrorsSnapshot() ErrorsSnapshot {
	return ErrorsSnapshot{
		Total:          a.totalErrors.Load(),
		Client:         a.errClient.Load(),
		Server:         a.errServer.Load(),
		Network:        a.errNetwork.Load(),
		Timeout:        a.errTimeout.Load(),
		CircuitBreaker: a.errCircuitBreaker.Load(),
		Transformation: a.errTransformation.Load(),
		Other:          a.errOther.Load(),
	}
}

// Routes returns per-route rollup snapshots.
func (a *Aggregator) Routes() map[string]RollupSnapshot {
	return a.snapshots(a.routes)
}

// Upstreams returns per-upstream rollup snapshots.
func (a *Aggregator) Upstreams() map[string]RollupSnapshot {
	return a.snapshots(a.upstreams)
}

func (a *Aggregator) snapshots(m map[string]*Rollup) map[string]RollupSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	result := make(map[string]RollupSnapshot, len(m))
	for key, r := range m {
		result[key] = r.snapshot()
	}
	return result
}

// Histogram exposes the latency histogram for exposition.
func (a *Aggregator) Histogram() *Histogram { return a.latency }

// historyRing keeps one Summary per SampleHistory call for
// /api/metrics/history, dropping the oldest beyond max.
type historyRing struct {
	mu      sync.Mutex
	entries []HistoryPoint
	max     int
}

// HistoryPoint is one timestamped summary sample.
type HistoryPoint struct {
	At      time.Time `json:"at"`
	Summary Summary   `json:"summary"`
}

func newHistoryRing(max int) *historyRing {
	return &historyRing{max: max}
}

// SampleHistory appends the current summary to the history ring.
func (a *Aggregator) SampleHistory() {
	a.history.mu.Lock()
	defer a.history.mu.Unlock()
	a.history.entries = append(a.history.entries, HistoryPoint{At: time.Now(), Summary: a.Summary()})
	if len(a.history.entries) > a.history.max {
		a.history.entries = a.history.entries[len(a.history.entries)-a.history.max:]
	}
}

// History returns samples within the trailing window.
func (a *Aggregator) History(window time.Duration) []HistoryPoint {
	a.history.mu.Lock()
	defer a.history.mu.Unlock()
	cutoff := time.Now().Add(-window)
	var out []HistoryPoint
	for _, p := range a.history.entries {
		if p.At.After(cutoff) {
			out = append(out, p)
		}
	}
	return out
}
