package loadbalancer

import (
	"testing"

	"github.com/relaymesh/gateway/internal/config"
)

func pool(ids ...string) []*Upstream {
	ups := make([]*Upstream, 0, len(ids))
	for i, id := range ids {
		ups = append(ups, NewUpstream(config.UpstreamConfig{
			ID: id, Scheme: "http", Host: "127.0.0.1", Port: 9000 + i, Weight: 1,
		}))
	}
	return ups
}

func TestRoundRobinSequence(t *testing.T) {
	b := New(config.LoadBalancerConfig{Strategy: StrategyRoundRobin, HealthAware: true}, pool("u1", "u2", "u3"))

	want := []string{"u1", "u2", "u3", "u1", "u2"}
	for i, expected := range want {
		got := b.Select("")
		if got == nil || got.ID != expected {
			t.Fatalf("request %d: expected %s, got %v", i+1, expected, got)
		}
	}
}

func TestHealthAwareFiltering(t *testing.T) {
	ups := pool("u1", "u2", "u3")
	b := New(config.LoadBalancerConfig{Strategy: StrategyRoundRobin, HealthAware: true}, ups)

	ups[1].SetHealthy(false)

	for i := 0; i < 10; i++ {
		got := b.Select("")
		if got == nil {
			t.Fatal("expected a selection")
		}
		if got.ID == "u2" {
			t.Fatal("unhealthy upstream selected")
		}
	}
}

func TestEmptyCandidateSet(t *testing.T) {
	ups := pool("u1")
	b := New(config.LoadBalancerConfig{Strategy: StrategyRoundRobin, HealthAware: true}, ups)

	ups[0].SetHealthy(false)
	if got := b.Select(""); got != nil {
		t.Errorf("expected nil with no healthy candidates, got %v", got.ID)
	}
}

func TestWeightedRoundRobin(t *testing.T) {
	ups := []*Upstream{
		NewUpstream(config.UpstreamConfig{ID: "heavy", Scheme: "http", Host: "h", Port: 1, Weight: 3}),
		NewUpstream(config.UpstreamConfig{ID: "light", Scheme: "http", Host: "h", Port: 2, Weight: 1}),
	}
	b := New(config.LoadBalancerConfig{Strategy: StrategyWeightedRoundRobin}, ups)

	counts := map[string]int{}
	for i := 0; i < 40; i++ {
		counts[b.Select("").ID]++
	}
	if counts["heavy"] != 30 || counts["light"] != 10 {
		t.Errorf("weight 3:1 expected 30:10, got %v", counts)
	}
}

func TestLeastConnections(t *testing.T) {
	ups := pool("u1", "u2")
	b := New(config.LoadBalancerConfig{Strategy: StrategyLeastConnections}, ups)

	ups[0].IncrActive()
	ups[0].IncrActive()
	ups[1].IncrActive()

	if got := b.Select(""); got.ID != "u2" {
		t.Errorf("expected the least-loaded upstream, got %s", got.ID)
	}

	// Ties break by first encountered.
	ups[0].DecrActive()
	if got := b.Select(""); got.ID != "u1" {
		t.Errorf("tie should go to the first candidate, got %s", got.ID)
	}
}

func TestRandomSelectsFromPool(t *testing.T) {
	b := New(config.LoadBalancerConfig{Strategy: StrategyRandom}, pool("u1", "u2"))

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		got := b.Select("")
		if got == nil {
			t.Fatal("expected a selection")
		}
		seen[got.ID] = true
	}
	if !seen["u1"] || !seen["u2"] {
		t.Errorf("random selection never hit one candidate: %v", seen)
	}
}

func TestIPHashSticky(t *testing.T) {
	b := New(config.LoadBalancerConfig{Strategy: StrategyIPHash}, pool("u1", "u2", "u3"))

	first := b.Select("203.0.113.9")
	for i := 0; i < 20; i++ {
		if got := b.Select("203.0.113.9"); got.ID != first.ID {
			t.Fatal("ip_hash must be sticky per client")
		}
	}
}

func TestIPHashEmptyDegradesToRoundRobin(t *testing.T) {
	b := New(config.LoadBalancerConfig{Strategy: StrategyIPHash}, pool("u1", "u2"))

	first := b.Select("")
	second := b.Select("")
	if first == nil || second == nil {
		t.Fatal("degraded selection must still pick")
	}
	if first.ID == second.ID {
		t.Error("expected round-robin rotation when the client IP is empty")
	}
}

func TestByID(t *testing.T) {
	b := New(config.LoadBalancerConfig{}, pool("u1", "u2"))
	if got := b.ByID("u2"); got == nil || got.ID != "u2" {
		t.Error("ByID lookup failed")
	}
	if b.ByID("nope") != nil {
		t.Error("unknown id must return nil")
	}
}

func TestUpstreamDefaults(t *testing.T) {
	u := NewUpstream(config.UpstreamConfig{ID: "u", Scheme: "http", Host: "h", Port: 8080})
	if u.Weight != 1 {
		t.Errorf("weight defaults to 1, got %d", u.Weight)
	}
	if !u.Healthy() {
		t.Error("upstreams start healthy")
	}
	if u.Address() != "h:8080" {
		t.Errorf("unexpected address %s", u.Address())
	}
}
