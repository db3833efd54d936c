package ratelimit

import (
	"time"

	"github.com/relaymesh/gateway/internal/config"
)

// arrivals is one key's timestamped ring of admitted requests.
type arrivals struct {
	times []time.Time
}

// SlidingWindow implements sliding window log rate limiting with the same
// bounded LRU key discipline as the token bucket.
type SlidingWindow struct {
	max     int
	window  time.Duration
	entries *shardedLRU[arrivals]
}

// NewSlidingWindow creates a sliding window limiter.
func NewSlidingWindow(cfg config.RateLimitConfig) *SlidingWindow {
	max := cfg.MaxRequests
	if max <= 0 {
		max = 100
	}
	window := cfg.Window
	if window <= 0 {
		window = time.Minute
	}
	return &SlidingWindow{
		max:     max,
		window:  window,
		entries: newShardedLRU[arrivals](cfg.MaxKeys),
	}
}

// prune drops timestamps older than the window start.
func prune(a arrivals, cutoff time.Time) arrivals {
	i := 0
	for i < len(a.times) && !a.times[i].After(cutoff) {
		i++
	}
	if i > 0 {
		a.times = append(a.times[:0], a.times[i:]...)
	}
	return a
}

// Consume admits the request if fewer than max arrivals remain in the window.
func (sw *SlidingWindow) Consume(key string, cost float64) Decision {
	n := int(cost)
	if n <= 0 {
		n = 1
	}
	now := time.Now()
	cutoff := now.Add(-sw.window)

	var d Decision
	sw.entries.update(key,
		func() arrivals { return arrivals{} },
		func(a arrivals) arrivals {
			a = prune(a, cutoff)
			d.Limit = sw.max
			if len(a.times)+n <= sw.max {
				for i := 0; i < n; i++ {
					a.times = append(a.times, now)
				}
				d.Allowed = true
				d.Remaining = sw.max - len(a.times)
				d.ResetIn = sw.window
				return a
			}
			d.Remaining = sw.max - len(a.times)
			if d.Remaining < 0 {
				d.Remaining = 0
			}
			if len(a.times) > 0 {
				d.RetryAfter = a.times[0].Add(sw.window).Sub(now)
				d.ResetIn = d.RetryAfter
			}
			return a
		})
	return d
}

// Check reports the decision for key without recording an arrival.
func (sw *SlidingWindow) Check(key string) Decision {
	d := Decision{Limit: sw.max, Allowed: true, Remaining: sw.max}
	a, ok := sw.entries.peek(key)
	if !ok {
		return d
	}
	now := time.Now()
	count := 0
	cutoff := now.Add(-sw.window)
	var oldest time.Time
	for _, t := range a.times {
		if t.After(cutoff) {
			if count == 0 {
				oldest = t
			}
			count++
		}
	}
	d.Remaining = sw.max - count
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	d.Allowed = count < sw.max
	if !d.Allowed {
		d.RetryAfter = oldest.Add(sw.window).Sub(now)
		d.ResetIn = d.RetryAfter
	}
	return d
}

// Keys returns the number of tracked keys.
func (sw *SlidingWindow) Keys() int { return sw.entries.len() }

// Reset drops the state for one key.
func (sw *SlidingWindow) Reset(key string) { sw.entries.remove(key) }
