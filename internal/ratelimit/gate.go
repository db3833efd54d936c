package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/relaymesh/gateway/internal/config"
)

// Gate binds a limiter to a key extraction strategy and writes the
// standard rate-limit headers.
type Gate struct {
	limiter Limiter
	keyFn   func(*http.Request) string
}

// NewGate creates a rate-limit gate from config. Strategy sliding_window
// selects the window log; everything else gets a token bucket.
func NewGate(cfg config.RateLimitConfig) *Gate {
	var l Limiter
	if cfg.Strategy == "sliding_window" {
		l = NewSlidingWindow(cfg)
	} else {
		l = NewTokenBucket(cfg)
	}
	return &Gate{
		limiter: l,
		keyFn:   buildKeyFunc(cfg.KeyBy),
	}
}

// buildKeyFunc returns the per-request key extractor. Header strategies
// fall back to client IP when the header is absent.
func buildKeyFunc(keyBy string) func(*http.Request) string {
	if name, ok := strings.CutPrefix(keyBy, "header:"); ok {
		prefix := "header:" + name + ":"
		return func(r *http.Request) string {
			if v := r.Header.Get(name); v != "" {
				return prefix + v
			}
			return clientIP(r)
		}
	}
	return clientIP
}

// clientIP extracts the caller address, honoring X-Forwarded-For.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.IndexByte(xff, ','); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	addr := r.RemoteAddr
	if idx := strings.LastIndexByte(addr, ':'); idx != -1 {
		return addr[:idx]
	}
	return addr
}

// Admit evaluates the request and sets rate-limit headers. The caller
// terminates the request with 429 when the decision denies.
func (g *Gate) Admit(w http.ResponseWriter, r *http.Request) Decision {
	d := g.limiter.Consume(g.keyFn(r), 1)

	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))

	if !d.Allowed {
		retryAfter := int(ceilSeconds(d.RetryAfter))
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}
	return d
}

// Limiter exposes the underlying limiter for checks and stats.
func (g *Gate) Limiter() Limiter { return g.limiter }

func ceilSeconds(d time.Duration) int64 {
	secs := d / time.Second
	if d%time.Second != 0 {
		secs++
	}
	return int64(secs)
}
