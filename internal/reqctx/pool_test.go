package reqctx

import (
	"net/http/httptest"
	"reflect"
	"testing"
)

func TestAcquireRelease(t *testing.T) {
	p := NewPool(4)

	c := p.Acquire()
	if c == nil {
		t.Fatal("expected a context")
	}
	if c.RequestID == "" {
		t.Error("expected a request id")
	}

	stats := p.Stats()
	if stats.InUse != 1 {
		t.Errorf("expected 1 in use, got %d", stats.InUse)
	}
	if stats.Misses != 1 {
		t.Errorf("empty pool acquire must count a miss, got %d", stats.Misses)
	}

	p.Release(c)
	if p.Stats().InUse != 0 {
		t.Error("release must decrement in-use")
	}

	// Second acquire reuses the pooled object.
	c2 := p.Acquire()
	if p.Stats().Hits != 1 {
		t.Errorf("expected a pool hit, got %d", p.Stats().Hits)
	}
	p.Release(c2)
}

func TestReleaseZeroesEverything(t *testing.T) {
	p := NewPool(1)

	r := httptest.NewRequest("POST", "/x/y?a=1", nil)
	w := httptest.NewRecorder()

	c := p.Acquire()
	c.Bind(r, w)
	c.RouteID = "r1"
	c.UpstreamID = "u1"
	c.PathParams = map[string]string{"id": "7"}
	c.Body = []byte("payload")
	c.Status = 200
	c.Responded = true
	c.SetPluginState("p", 1)
	c.Query()

	p.Release(c)

	got := p.Acquire()
	defer p.Release(got)
	if got != c {
		t.Fatal("expected the same pooled object back")
	}

	// Every poolable field observes its zero value after release; the
	// pool assigns only a fresh request id.
	fresh := Context{RequestID: got.RequestID}
	if !reflect.DeepEqual(*got, fresh) {
		t.Errorf("context not fully reset: %+v", *got)
	}
}

func TestOverflowDiscarded(t *testing.T) {
	p := NewPool(1)

	a := p.Acquire()
	b := p.Acquire()
	p.Release(a)
	p.Release(b) // over the ceiling; discarded

	stats := p.Stats()
	if stats.Allocations != 2 {
		t.Errorf("expected 2 allocations, got %d", stats.Allocations)
	}
	if stats.InUse != 0 {
		t.Errorf("expected 0 in use, got %d", stats.InUse)
	}
}

func TestAcquireNeverBlocks(t *testing.T) {
	p := NewPool(1)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			p.Acquire()
		}
		close(done)
	}()
	<-done
}

func TestClientIP(t *testing.T) {
	c := &Context{}
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.9:4312"
	c.Bind(r, httptest.NewRecorder())

	if ip := c.ClientIP(); ip != "10.0.0.9" {
		t.Errorf("expected 10.0.0.9, got %s", ip)
	}

	r.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	if ip := c.ClientIP(); ip != "203.0.113.5" {
		t.Errorf("expected forwarded ip, got %s", ip)
	}
}

func TestLazyQuery(t *testing.T) {
	c := &Context{}
	r := httptest.NewRequest("GET", "/p?x=1&y=2", nil)
	c.Bind(r, httptest.NewRecorder())

	q := c.Query()
	if q.Get("x") != "1" || q.Get("y") != "2" {
		t.Errorf("unexpected query %v", q)
	}
}
