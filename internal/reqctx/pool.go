package reqctx

import (
	"strconv"
	"sync/atomic"
	"time"
)

// Pool is a bounded free list of request contexts. Acquire never blocks:
// an empty pool allocates (counted as a miss). Release resets the context
// and returns it; overflow beyond the ceiling is discarded for the GC.
type Pool struct {
	free chan *Context

	requestSeq atomic.Uint64

	hits        atomic.Int64
	misses      atomic.Int64
	allocations atomic.Int64
	inUse       atomic.Int64
}

// NewPool creates a context pool with the given ceiling.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1024
	}
	return &Pool{
		free: make(chan *Context, size),
	}
}

// Acquire returns a ready-to-fill context.
func (p *Pool) Acquire() *Context {
	p.inUse.Add(1)

	var c *Context
	select {
	case c = <-p.free:
		p.hits.Add(1)
	default:
		c = &Context{}
		p.misses.Add(1)
		p.allocations.Add(1)
	}

	seq := p.requestSeq.Add(1)
	c.RequestID = strconv.FormatInt(time.Now().UnixMilli(), 36) + "-" + strconv.FormatUint(seq, 36)
	return c
}

// Release resets the context and returns it to the pool.
func (p *Pool) Release(c *Context) {
	if c == nil {
		return
	}
	p.inUse.Add(-1)
	c.reset()
	select {
	case p.free <- c:
	default:
		// Pool is at its ceiling; drop the context.
	}
}

// Stats is a point-in-time view of pool counters.
type Stats struct {
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Allocations int64 `json:"allocations"`
	InUse       int64 `json:"in_use"`
}

// Stats returns current pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Hits:        p.hits.Load(),
		Misses:      p.misses.Load(),
		Allocations: p.allocations.Load(),
		InUse:       p.inUse.Load(),
	}
}
