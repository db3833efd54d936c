package cache

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/relaymesh/gateway/internal/config"
)

func entry(body string, ttl time.Duration) *Entry {
	return &Entry{
		StatusCode: 200,
		Headers:    http.Header{"Content-Type": []string{"text/plain"}},
		Body:       []byte(body),
		TTL:        ttl,
		Size:       int64(len(body)),
	}
}

func TestRoundTrip(t *testing.T) {
	c := New(config.CacheConfig{DefaultTTL: time.Minute})

	key := GenerateKey("GET", "/data", nil, nil)
	c.Set(key, entry("hello", time.Minute))

	got, fresh, stale := c.Get(key)
	if got == nil || !fresh || stale {
		t.Fatalf("expected fresh hit, got %v fresh=%v stale=%v", got, fresh, stale)
	}
	if string(got.Body) != "hello" {
		t.Errorf("expected hello, got %s", got.Body)
	}
}

func TestMiss(t *testing.T) {
	c := New(config.CacheConfig{})
	if got, _, _ := c.Get("nope"); got != nil {
		t.Error("expected miss")
	}
	if c.Stats().Misses != 1 {
		t.Error("miss not counted")
	}
}

func TestExpiry(t *testing.T) {
	c := New(config.CacheConfig{})
	c.Set("k", entry("x", 10*time.Millisecond))

	time.Sleep(30 * time.Millisecond)
	if got, _, _ := c.Get("k"); got != nil {
		t.Error("expired entry must not be returned")
	}
}

func TestStaleWhileRevalidate(t *testing.T) {
	c := New(config.CacheConfig{StaleWhileRevalidate: time.Minute})
	c.Set("k", entry("x", 10*time.Millisecond))

	time.Sleep(30 * time.Millisecond)
	got, fresh, stale := c.Get("k")
	if got == nil || fresh || !stale {
		t.Errorf("expected stale hit within tolerance, fresh=%v stale=%v", fresh, stale)
	}
}

func TestOversizeRejectedOutright(t *testing.T) {
	c := New(config.CacheConfig{MaxBytes: 1000, MaxEntryBytes: 10})

	if c.Set("big", entry("this body is larger than ten bytes", time.Minute)) {
		t.Fatal("oversize entry must be rejected, not admitted-then-evicted")
	}
	if c.Stats().Entries != 0 {
		t.Error("nothing should be cached")
	}
	if c.Stats().Rejected != 1 {
		t.Error("rejection not counted")
	}
}

func TestByteBoundEviction(t *testing.T) {
	c := New(config.CacheConfig{MaxBytes: 10, MaxEntryBytes: 5})

	c.Set("a", entry("aaaaa", time.Minute))
	c.Set("b", entry("bbbbb", time.Minute))
	c.Set("c", entry("ccccc", time.Minute)) // evicts the LRU entry

	stats := c.Stats()
	if stats.Bytes > 10 {
		t.Errorf("byte bound violated: %d", stats.Bytes)
	}
	if stats.Entries != 2 {
		t.Errorf("expected 2 entries after eviction, got %d", stats.Entries)
	}
	if got, _, _ := c.Get("a"); got != nil {
		t.Error("least-recently-used entry should have been evicted")
	}
}

func TestEntryCountEviction(t *testing.T) {
	c := New(config.CacheConfig{MaxEntries: 2})

	c.Set("a", entry("1", time.Minute))
	c.Set("b", entry("2", time.Minute))
	c.Get("a") // refresh recency
	c.Set("c", entry("3", time.Minute))

	if got, _, _ := c.Get("b"); got != nil {
		t.Error("b was least recently used and should be gone")
	}
	if got, _, _ := c.Get("a"); got == nil {
		t.Error("a was refreshed and should remain")
	}
}

func TestGenerateKeyVary(t *testing.T) {
	h1 := http.Header{"Accept": []string{"application/json"}}
	h2 := http.Header{"Accept": []string{"text/html"}}

	k1 := GenerateKey("GET", "/data", []string{"Accept"}, h1)
	k2 := GenerateKey("GET", "/data", []string{"Accept"}, h2)
	k3 := GenerateKey("GET", "/data", []string{"Accept"}, h1)

	if k1 == k2 {
		t.Error("different vary values must produce different keys")
	}
	if k1 != k3 {
		t.Error("key generation must be stable")
	}
	if GenerateKey("GET", "/data", nil, nil) == GenerateKey("HEAD", "/data", nil, nil) {
		t.Error("method participates in the key")
	}
}

func TestCacheable(t *testing.T) {
	ok := http.Header{}
	if !Cacheable("GET", 200, ok) {
		t.Error("plain GET 200 is cacheable")
	}
	if Cacheable("POST", 200, ok) {
		t.Error("POST is not cacheable")
	}
	if Cacheable("GET", 500, ok) {
		t.Error("non-200 is not cacheable")
	}
	for _, directive := range []string{"no-store", "no-cache", "private"} {
		h := http.Header{"Cache-Control": []string{directive}}
		if Cacheable("GET", 200, h) {
			t.Errorf("%s must prevent caching", directive)
		}
	}
}

func TestDeriveTTL(t *testing.T) {
	def := 5 * time.Second

	h := http.Header{"Cache-Control": []string{"max-age=60"}}
	if got := DeriveTTL(h, def); got != 60*time.Second {
		t.Errorf("expected 60s from max-age, got %v", got)
	}

	h = http.Header{"Cache-Control": []string{"max-age=60, s-maxage=120"}}
	if got := DeriveTTL(h, def); got != 120*time.Second {
		t.Errorf("s-maxage wins over max-age, got %v", got)
	}

	if got := DeriveTTL(http.Header{}, def); got != def {
		t.Errorf("expected default, got %v", got)
	}
}

func TestConditional304(t *testing.T) {
	e := entry("body", time.Minute)
	PopulateConditionalFields(e)
	if e.ETag == "" {
		t.Fatal("expected a generated ETag")
	}

	r := httptest.NewRequest("GET", "/data", nil)
	r.Header.Set("If-None-Match", e.ETag)

	w := httptest.NewRecorder()
	sent304 := WriteCached(w, r, e)
	if !sent304 {
		t.Fatal("matching If-None-Match selects the 304 path")
	}
	if w.Code != http.StatusNotModified {
		t.Errorf("expected 304, got %d", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Error("304 must not carry a body")
	}
	if w.Header().Get("ETag") != e.ETag {
		t.Error("304 keeps the cached ETag header")
	}
}

func TestConditionalList(t *testing.T) {
	e := entry("body", time.Minute)
	PopulateConditionalFields(e)

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("If-None-Match", `"other", `+e.ETag)
	if !CheckConditional(r, e) {
		t.Error("comma-separated list containing the ETag must match")
	}

	r.Header.Set("If-None-Match", "*")
	if !CheckConditional(r, e) {
		t.Error("wildcard must match")
	}

	r.Header.Set("If-None-Match", `"nope"`)
	if CheckConditional(r, e) {
		t.Error("non-matching ETag must not match")
	}
}

func TestIfModifiedSince(t *testing.T) {
	e := entry("body", time.Minute)
	PopulateConditionalFields(e)

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("If-Modified-Since", e.LastModified.Add(time.Hour).UTC().Format(http.TimeFormat))
	if !CheckConditional(r, e) {
		t.Error("later If-Modified-Since must match")
	}

	r.Header.Set("If-Modified-Since", e.LastModified.Add(-time.Hour).UTC().Format(http.TimeFormat))
	if CheckConditional(r, e) {
		t.Error("earlier If-Modified-Since must not match")
	}
}

func TestWriteCachedHit(t *testing.T) {
	e := entry("cached body", time.Minute)
	e.StoredAt = time.Now().Add(-2 * time.Second)
	PopulateConditionalFields(e)

	r := httptest.NewRequest("GET", "/data", nil)
	w := httptest.NewRecorder()
	if WriteCached(w, r, e) {
		t.Fatal("no conditional headers; expected a full response")
	}
	if w.Header().Get("X-Cache") != "HIT" {
		t.Error("expected X-Cache: HIT")
	}
	if w.Header().Get("Age") == "" {
		t.Error("expected an Age header")
	}
	if w.Body.String() != "cached body" {
		t.Errorf("unexpected body %q", w.Body.String())
	}
}
