package health

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relaymesh/gateway/internal/config"
	"github.com/relaymesh/gateway/internal/loadbalancer"
	"github.com/relaymesh/gateway/internal/logging"
)

// Status represents health status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// StatusRange represents a range of HTTP status codes.
type StatusRange struct {
	Lo, Hi int
}

// ParseStatusRange parses a status range string like "200", "2xx", "200-299".
func ParseStatusRange(s string) (StatusRange, error) {
	s = strings.TrimSpace(s)
	// Pattern: Nxx (e.g. "4xx", "5xx")
	if len(s) == 3 && s[1] == 'x' && s[2] == 'x' {
		base := int(s[0]-'0') * 100
		if base < 100 || base > 500 {
			return StatusRange{}, fmt.Errorf("invalid status range %q", s)
		}
		return StatusRange{base, base + 99}, nil
	}
	// Pattern: N-M (e.g. "200-299")
	if parts := strings.SplitN(s, "-", 2); len(parts) == 2 {
		lo, err1 := strconv.Atoi(parts[0])
		hi, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil || lo < 100 || hi > 599 || lo > hi {
			return StatusRange{}, fmt.Errorf("invalid status range %q", s)
		}
		return StatusRange{lo, hi}, nil
	}
	// Pattern: single code (e.g. "200")
	code, err := strconv.Atoi(s)
	if err != nil || code < 100 || code > 599 {
		return StatusRange{}, fmt.Errorf("invalid status code %q", s)
	}
	return StatusRange{code, code}, nil
}

// matchStatus checks if a status code falls within any of the given ranges.
func matchStatus(code int, ranges []StatusRange) bool {
	for _, r := range ranges {
		if code >= r.Lo && code <= r.Hi {
			return true
		}
	}
	return false
}

// targetState tracks one upstream's streaks and decision.
type targetState struct {
	upstream *loadbalancer.Upstream

	path           string
	interval       time.Duration
	timeout        time.Duration
	expected       []StatusRange
	healthyAfter   int
	unhealthyAfter int
	gracePeriod    time.Duration

	// decision is the binary healthy/unhealthy verdict mirrored onto the
	// upstream flag. The reported Status adds a degraded intermediate when
	// a streak is building but neither threshold has been met.
	decision        bool
	consecutivePass int
	consecutiveFail int
	firstFailAt     time.Time
	lastCheck       time.Time
	lastError       error
	latency         time.Duration
}

func (st *targetState) status() Status {
	if st.decision {
		if st.consecutiveFail > 0 {
			return StatusDegraded
		}
		return StatusHealthy
	}
	if st.consecutivePass > 0 {
		return StatusDegraded
	}
	return StatusUnhealthy
}

// Checker performs active probes and aggregates passive outcomes per
// upstream. It is the single writer of each upstream's health flag; the
// load balancer only reads it.
type Checker struct {
	client  *http.Client
	mu      sync.RWMutex
	targets map[string]*targetState
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Defaults applied to unset health-check config fields.
const (
	defaultInterval       = 10 * time.Second
	defaultProbeTimeout   = 5 * time.Second
	defaultHealthyAfter   = 2
	defaultUnhealthyAfter = 3
)

// NewChecker creates a health checker over the given upstreams. Upstreams
// without health-check config are probed passively only.
func NewChecker(upstreams []*loadbalancer.Upstream) *Checker {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Checker{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		targets: make(map[string]*targetState, len(upstreams)),
		ctx:     ctx,
		cancel:  cancel,
	}

	for _, u := range upstreams {
		st := &targetState{
			upstream:       u,
			decision:       true,
			path:           "/health",
			interval:       defaultInterval,
			timeout:        defaultProbeTimeout,
			expected:       []StatusRange{{200, 399}},
			healthyAfter:   defaultHealthyAfter,
			unhealthyAfter: defaultUnhealthyAfter,
		}
		if hc := u.HealthCheck; hc != nil {
			if hc.Path != "" {
				st.path = hc.Path
			}
			if hc.Interval > 0 {
				st.interval = hc.Interval
			}
			if hc.Timeout > 0 {
				st.timeout = hc.Timeout
			}
			if hc.HealthyThreshold > 0 {
				st.healthyAfter = hc.HealthyThreshold
			}
			if hc.UnhealthyThreshold > 0 {
				st.unhealthyAfter = hc.UnhealthyThreshold
			}
			st.gracePeriod = hc.GracePeriod
			if len(hc.ExpectedStatus) > 0 {
				st.expected = st.expected[:0]
				for _, s := range hc.ExpectedStatus {
					if r, err := ParseStatusRange(s); err == nil {
						st.expected = append(st.expected, r)
					}
				}
			}
		}
		c.targets[u.ID] = st
	}
	return c
}

// Start launches probe loops for upstreams with active checks configured.
func (c *Checker) Start() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for id, st := range c.targets {
		if st.upstream.HealthCheck == nil {
			continue
		}
		c.wg.Add(1)
		go c.probeLoop(id, st.interval)
	}
}

// Stop terminates all probe loops and waits for them to exit.
func (c *Checker) Stop() {
	c.cancel()
	c.wg.Wait()
}

func (c *Checker) probeLoop(id string, interval time.Duration) {
	defer c.wg.Done()

	c.probe(id)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.probe(id)
		}
	}
}

// probe issues one active health check against an upstream.
func (c *Checker) probe(id string) {
	c.mu.RLock()
	st, ok := c.targets[id]
	if !ok {
		c.mu.RUnlock()
		return
	}
	u := st.upstream
	probeURL := u.Scheme + "://" + u.Address() + st.path
	timeout := st.timeout
	expected := st.expected
	c.mu.RUnlock()

	start := time.Now()
	ctx, cancel := context.WithTimeout(c.ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		c.record(id, false, time.Since(start), err)
		return
	}

	resp, err := c.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		c.record(id, false, latency, err)
		return
	}
	defer resp.Body.Close()

	ok = matchStatus(resp.StatusCode, expected)
	var checkErr error
	if !ok {
		checkErr = fmt.Errorf("unhealthy status code: %d", resp.StatusCode)
	}
	c.record(id, ok, latency, checkErr)
}

// RecordOutcome feeds a passive observation from real proxied traffic.
func (c *Checker) RecordOutcome(upstreamID string, success bool) {
	c.record(upstreamID, success, 0, nil)
}

// record updates streaks and applies the threshold state machine.
func (c *Checker) record(id string, success bool, latency time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.targets[id]
	if !ok {
		return
	}

	now := time.Now()
	st.lastCheck = now
	st.lastError = err
	if latency > 0 {
		st.latency = latency
	}

	old := st.status()

	if success {
		st.consecutiveFail = 0
		st.firstFailAt = time.Time{}
		st.consecutivePass++
		if st.consecutivePass >= st.healthyAfter {
			st.decision = true
		}
	} else {
		st.consecutivePass = 0
		st.consecutiveFail++
		if st.firstFailAt.IsZero() {
			st.firstFailAt = now
		}
		graceOver := now.Sub(st.firstFailAt) >= st.gracePeriod
		if st.consecutiveFail >= st.unhealthyAfter && graceOver {
			st.decision = false
		}
	}

	// Mirror the decision onto the upstream's atomic flag.
	st.upstream.SetHealthy(st.decision)

	if cur := st.status(); cur != old {
		logging.Info("upstream health changed",
			zap.String("upstream", id),
			zap.String("from", string(old)),
			zap.String("to", string(cur)),
			zap.Error(err))
	}
}

// Result is a point-in-time health view of one upstream.
type Result struct {
	UpstreamID string        `json:"upstream_id"`
	Status     Status        `json:"status"`
	Latency    time.Duration `json:"latency"`
	LastCheck  time.Time     `json:"last_check"`
	Error      string        `json:"error,omitempty"`
}

// StatusOf returns the decision for one upstream.
func (c *Checker) StatusOf(id string) Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if st, ok := c.targets[id]; ok {
		return st.status()
	}
	return StatusHealthy
}

// Results returns the health of all upstreams.
func (c *Checker) Results() map[string]Result {
	c.mu.RLock()
	defer c.mu.RUnlock()

	results := make(map[string]Result, len(c.targets))
	for id, st := range c.targets {
		r := Result{
			UpstreamID: id,
			Status:     st.status(),
			Latency:    st.latency,
			LastCheck:  st.lastCheck,
		}
		if st.lastError != nil {
			r.Error = st.lastError.Error()
		}
		results[id] = r
	}
	return results
}
