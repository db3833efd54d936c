package loadbalancer

import (
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/relaymesh/gateway/internal/config"
	"github.com/relaymesh/gateway/internal/logging"
)

// Strategy names accepted by New.
const (
	StrategyRoundRobin         = "round_robin"
	StrategyWeightedRoundRobin = "weighted_round_robin"
	StrategyLeastConnections   = "least_connections"
	StrategyRandom             = "random"
	StrategyIPHash             = "ip_hash"
)

// Balancer picks one upstream per request. The candidate slice is immutable
// after construction; a configuration swap builds a new Balancer.
type Balancer struct {
	strategy    string
	healthAware bool
	upstreams   []*Upstream
	expanded    []*Upstream // weight-expanded list for weighted round robin
	cursor      atomic.Uint64

	// ip_hash degradation logging, at most once per interval.
	lastDegradeLog atomic.Int64
}

// degradeLogInterval limits how often the empty-client-IP degradation is logged.
const degradeLogInterval = time.Minute

// New creates a balancer over the given upstreams.
func New(cfg config.LoadBalancerConfig, upstreams []*Upstream) *Balancer {
	b := &Balancer{
		strategy:    cfg.Strategy,
		healthAware: cfg.HealthAware,
		upstreams:   upstreams,
	}
	if b.strategy == "" {
		b.strategy = StrategyRoundRobin
	}
	if b.strategy == StrategyWeightedRoundRobin {
		for _, u := range upstreams {
			for i := 0; i < u.Weight; i++ {
				b.expanded = append(b.expanded, u)
			}
		}
	}
	return b
}

// Upstreams returns the full candidate set.
func (b *Balancer) Upstreams() []*Upstream { return b.upstreams }

// ByID returns the upstream with the given id, or nil.
func (b *Balancer) ByID(id string) *Upstream {
	for _, u := range b.upstreams {
		if u.ID == id {
			return u
		}
	}
	return nil
}

// candidates filters to healthy upstreams in health-aware mode.
func (b *Balancer) candidates(pool []*Upstream) []*Upstream {
	if !b.healthAware {
		return pool
	}
	for _, u := range pool {
		if !u.Healthy() {
			// At least one unhealthy: allocate filtered slice.
			healthy := make([]*Upstream, 0, len(pool))
			for _, c := range pool {
				if c.Healthy() {
					healthy = append(healthy, c)
				}
			}
			return healthy
		}
	}
	return pool
}

// Select picks one upstream for a request, or nil when no candidate remains.
// clientIP is only consulted by the ip_hash strategy.
func (b *Balancer) Select(clientIP string) *Upstream {
	switch b.strategy {
	case StrategyWeightedRoundRobin:
		return b.nextOf(b.candidates(b.expanded))
	case StrategyLeastConnections:
		return b.leastConnections()
	case StrategyRandom:
		return b.random()
	case StrategyIPHash:
		return b.ipHash(clientIP)
	default:
		return b.nextOf(b.candidates(b.upstreams))
	}
}

// nextOf advances the shared atomic cursor over the candidate list.
func (b *Balancer) nextOf(pool []*Upstream) *Upstream {
	if len(pool) == 0 {
		return nil
	}
	idx := b.cursor.Add(1)
	return pool[(idx-1)%uint64(len(pool))]
}

// leastConnections picks the candidate with the fewest active requests.
// Ties are broken by first encountered.
func (b *Balancer) leastConnections() *Upstream {
	pool := b.candidates(b.upstreams)
	if len(pool) == 0 {
		return nil
	}
	best := pool[0]
	bestActive := best.Active()
	for _, u := range pool[1:] {
		if active := u.Active(); active < bestActive {
			best = u
			bestActive = active
		}
	}
	return best
}

func (b *Balancer) random() *Upstream {
	pool := b.candidates(b.upstreams)
	if len(pool) == 0 {
		return nil
	}
	return pool[rand.IntN(len(pool))]
}

// ipHash gives sticky affinity by client address. An empty client IP
// degrades to round-robin, logged at most once per interval.
func (b *Balancer) ipHash(clientIP string) *Upstream {
	if clientIP == "" {
		now := time.Now().UnixNano()
		last := b.lastDegradeLog.Load()
		if now-last > int64(degradeLogInterval) && b.lastDegradeLog.CompareAndSwap(last, now) {
			logging.Warn("ip_hash: empty client address, degrading to round robin",
				zap.String("strategy", b.strategy))
		}
		return b.nextOf(b.candidates(b.upstreams))
	}
	pool := b.candidates(b.upstreams)
	if len(pool) == 0 {
		return nil
	}
	h := xxhash.Sum64String(clientIP)
	return pool[h%uint64(len(pool))]
}
