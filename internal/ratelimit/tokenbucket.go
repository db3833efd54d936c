package ratelimit

import (
	"time"

	"github.com/relaymesh/gateway/internal/config"
)

// Decision is the outcome of one limiter check.
type Decision struct {
	Allowed    bool
	Remaining  int
	Limit      int
	ResetIn    time.Duration
	RetryAfter time.Duration // zero when allowed
}

// Limiter is the shared contract of both rate limiting algorithms.
type Limiter interface {
	// Consume attempts to spend cost units for key.
	Consume(key string, cost float64) Decision
	// Check reports the current decision for key without mutating state.
	Check(key string) Decision
	// Keys returns the number of tracked keys.
	Keys() int
}

// bucket is one key's token state.
type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// TokenBucket implements token bucket rate limiting with a bounded,
// LRU-evicted key map.
type TokenBucket struct {
	rate     float64 // tokens per second
	capacity float64
	buckets  *shardedLRU[bucket]
}

// NewTokenBucket creates a token bucket limiter.
func NewTokenBucket(cfg config.RateLimitConfig) *TokenBucket {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = 100
	}
	rate := cfg.RefillRate
	if rate <= 0 {
		rate = capacity
	}
	return &TokenBucket{
		rate:     rate,
		capacity: capacity,
		buckets:  newShardedLRU[bucket](cfg.MaxKeys),
	}
}

// refill advances a bucket to now, capping at capacity.
func (tb *TokenBucket) refill(b bucket, now time.Time) bucket {
	if b.lastRefill.IsZero() {
		return bucket{tokens: tb.capacity, lastRefill: now}
	}
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * tb.rate
	if b.tokens > tb.capacity {
		b.tokens = tb.capacity
	}
	b.lastRefill = now
	return b
}

// Consume spends cost tokens for key if available.
func (tb *TokenBucket) Consume(key string, cost float64) Decision {
	if cost <= 0 {
		cost = 1
	}
	now := time.Now()

	var d Decision
	tb.buckets.update(key,
		func() bucket { return bucket{tokens: tb.capacity, lastRefill: now} },
		func(b bucket) bucket {
			b = tb.refill(b, now)
			d.Limit = int(tb.capacity)
			if b.tokens >= cost {
				b.tokens -= cost
				d.Allowed = true
				d.Remaining = int(b.tokens)
				d.ResetIn = tb.timeToFull(b.tokens)
				return b
			}
			d.Remaining = int(b.tokens)
			d.RetryAfter = time.Duration((cost - b.tokens) / tb.rate * float64(time.Second))
			d.ResetIn = d.RetryAfter
			return b
		})
	return d
}

// Check reports the decision for key without spending tokens.
func (tb *TokenBucket) Check(key string) Decision {
	d := Decision{Limit: int(tb.capacity), Allowed: true, Remaining: int(tb.capacity)}
	b, ok := tb.buckets.peek(key)
	if !ok {
		return d
	}
	b = tb.refill(b, time.Now())
	d.Remaining = int(b.tokens)
	d.Allowed = b.tokens >= 1
	if !d.Allowed {
		d.RetryAfter = time.Duration((1 - b.tokens) / tb.rate * float64(time.Second))
	}
	d.ResetIn = tb.timeToFull(b.tokens)
	return d
}

// timeToFull is how long until the bucket refills to capacity.
func (tb *TokenBucket) timeToFull(tokens float64) time.Duration {
	missing := tb.capacity - tokens
	if missing <= 0 {
		return 0
	}
	return time.Duration(missing / tb.rate * float64(time.Second))
}

// Keys returns the number of tracked keys.
func (tb *TokenBucket) Keys() int { return tb.buckets.len() }

// Reset drops the state for one key.
func (tb *TokenBucket) Reset(key string) { tb.buckets.remove(key) }
