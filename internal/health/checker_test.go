package health

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/relaymesh/gateway/internal/config"
	"github.com/relaymesh/gateway/internal/loadbalancer"
)

func TestParseStatusRange(t *testing.T) {
	cases := []struct {
		in     string
		lo, hi int
		ok     bool
	}{
		{"200", 200, 200, true},
		{"2xx", 200, 299, true},
		{"200-299", 200, 299, true},
		{"418", 418, 418, true},
		{"6xx", 0, 0, false},
		{"abc", 0, 0, false},
		{"300-200", 0, 0, false},
	}
	for _, c := range cases {
		r, err := ParseStatusRange(c.in)
		if c.ok && (err != nil || r.Lo != c.lo || r.Hi != c.hi) {
			t.Errorf("%q: expected %d-%d, got %v %v", c.in, c.lo, c.hi, r, err)
		}
		if !c.ok && err == nil {
			t.Errorf("%q: expected error", c.in)
		}
	}
}

func upstreamFor(id string, hc *config.HealthCheckConfig) *loadbalancer.Upstream {
	return loadbalancer.NewUpstream(config.UpstreamConfig{
		ID: id, Scheme: "http", Host: "127.0.0.1", Port: 1, HealthCheck: hc,
	})
}

func TestPassiveUnhealthyAfterThreshold(t *testing.T) {
	u := upstreamFor("u1", &config.HealthCheckConfig{UnhealthyThreshold: 3})
	c := NewChecker([]*loadbalancer.Upstream{u})

	c.RecordOutcome("u1", false)
	c.RecordOutcome("u1", false)
	if !u.Healthy() {
		t.Fatal("still under the threshold")
	}
	if c.StatusOf("u1") != StatusDegraded {
		t.Errorf("a failing streak below threshold is degraded, got %s", c.StatusOf("u1"))
	}

	c.RecordOutcome("u1", false)
	if u.Healthy() {
		t.Error("three consecutive failures flip the flag")
	}
	if c.StatusOf("u1") != StatusUnhealthy {
		t.Errorf("expected unhealthy, got %s", c.StatusOf("u1"))
	}
}

func TestGracePeriodDelaysUnhealthy(t *testing.T) {
	u := upstreamFor("u1", &config.HealthCheckConfig{
		UnhealthyThreshold: 2,
		GracePeriod:        50 * time.Millisecond,
	})
	c := NewChecker([]*loadbalancer.Upstream{u})

	c.RecordOutcome("u1", false)
	c.RecordOutcome("u1", false)
	if !u.Healthy() {
		t.Fatal("grace period not elapsed; flag must hold")
	}

	time.Sleep(60 * time.Millisecond)
	c.RecordOutcome("u1", false)
	if u.Healthy() {
		t.Error("threshold met and grace period over")
	}
}

func TestRecoveryAfterSuccessStreak(t *testing.T) {
	u := upstreamFor("u1", &config.HealthCheckConfig{UnhealthyThreshold: 1, HealthyThreshold: 2})
	c := NewChecker([]*loadbalancer.Upstream{u})

	c.RecordOutcome("u1", false)
	if u.Healthy() {
		t.Fatal("expected unhealthy")
	}

	c.RecordOutcome("u1", true)
	if c.StatusOf("u1") != StatusDegraded {
		t.Errorf("one success from unhealthy is degraded, got %s", c.StatusOf("u1"))
	}
	if u.Healthy() {
		t.Error("flag stays down until the healthy threshold is met")
	}

	c.RecordOutcome("u1", true)
	if !u.Healthy() {
		t.Error("healthy threshold reached; flag must flip back")
	}
	if c.StatusOf("u1") != StatusHealthy {
		t.Errorf("expected healthy, got %s", c.StatusOf("u1"))
	}
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	u := upstreamFor("u1", &config.HealthCheckConfig{UnhealthyThreshold: 3})
	c := NewChecker([]*loadbalancer.Upstream{u})

	c.RecordOutcome("u1", false)
	c.RecordOutcome("u1", false)
	c.RecordOutcome("u1", true)
	c.RecordOutcome("u1", false)
	c.RecordOutcome("u1", false)

	if !u.Healthy() {
		t.Error("streak was broken; threshold never reached")
	}
}

func TestActiveProbe(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	var probes atomic.Int64

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		probes.Add(1)
		if r.URL.Path != "/healthz" {
			t.Errorf("unexpected probe path %s", r.URL.Path)
		}
		if healthy.Load() {
			w.WriteHeader(200)
		} else {
			w.WriteHeader(503)
		}
	}))
	defer ts.Close()

	tsURL, _ := url.Parse(ts.URL)
	port, _ := strconv.Atoi(tsURL.Port())

	u := loadbalancer.NewUpstream(config.UpstreamConfig{
		ID: "u1", Scheme: "http", Host: tsURL.Hostname(), Port: port,
		HealthCheck: &config.HealthCheckConfig{
			Path:               "/healthz",
			Interval:           20 * time.Millisecond,
			Timeout:            time.Second,
			ExpectedStatus:     []string{"2xx"},
			HealthyThreshold:   1,
			UnhealthyThreshold: 2,
		},
	})

	c := NewChecker([]*loadbalancer.Upstream{u})
	c.Start()
	defer c.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for c.StatusOf("u1") != StatusHealthy && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if c.StatusOf("u1") != StatusHealthy {
		t.Fatal("probes against a 200 endpoint must report healthy")
	}

	healthy.Store(false)
	deadline = time.Now().Add(2 * time.Second)
	for u.Healthy() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if u.Healthy() {
		t.Error("repeated 503 probes must flip the flag")
	}
	if probes.Load() < 3 {
		t.Errorf("expected several probes, got %d", probes.Load())
	}
}

func TestResults(t *testing.T) {
	u := upstreamFor("u1", nil)
	c := NewChecker([]*loadbalancer.Upstream{u})
	c.RecordOutcome("u1", true)

	results := c.Results()
	r, ok := results["u1"]
	if !ok {
		t.Fatal("expected a result for u1")
	}
	if r.Status != StatusHealthy {
		t.Errorf("expected healthy, got %s", r.Status)
	}
}
