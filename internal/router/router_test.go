package router

import (
	"testing"
)

func mustRegister(t *testing.T, rt *Router[string], method, pattern, handler string) {
	t.Helper()
	if err := rt.Register(method, pattern, handler, 0); err != nil {
		t.Fatalf("register %s %s: %v", method, pattern, err)
	}
}

func TestStaticRoute(t *testing.T) {
	rt := New[string]()
	mustRegister(t, rt, "GET", "/health", "health")

	m, ok := rt.Lookup("GET", "/health")
	if !ok {
		t.Fatal("expected match")
	}
	if m.Handler != "health" {
		t.Errorf("expected health, got %s", m.Handler)
	}
	if len(m.Params) != 0 {
		t.Errorf("expected empty params, got %v", m.Params)
	}
}

func TestMethodMismatch(t *testing.T) {
	rt := New[string]()
	mustRegister(t, rt, "GET", "/health", "health")

	if _, ok := rt.Lookup("POST", "/health"); ok {
		t.Error("POST should not match a GET route")
	}
}

func TestParamRoute(t *testing.T) {
	rt := New[string]()
	mustRegister(t, rt, "GET", "/users/:id", "user")

	m, ok := rt.Lookup("GET", "/users/42")
	if !ok {
		t.Fatal("expected match")
	}
	if m.Params["id"] != "42" {
		t.Errorf("expected id=42, got %v", m.Params)
	}
}

func TestMultipleParams(t *testing.T) {
	rt := New[string]()
	mustRegister(t, rt, "GET", "/orgs/:org/repos/:repo", "repo")

	m, ok := rt.Lookup("GET", "/orgs/acme/repos/widget")
	if !ok {
		t.Fatal("expected match")
	}
	if m.Params["org"] != "acme" || m.Params["repo"] != "widget" {
		t.Errorf("unexpected params %v", m.Params)
	}
}

func TestWildcardRoute(t *testing.T) {
	rt := New[string]()
	mustRegister(t, rt, "GET", "/static/*", "files")

	m, ok := rt.Lookup("GET", "/static/css/site.css")
	if !ok {
		t.Fatal("expected match")
	}
	if m.Handler != "files" {
		t.Errorf("expected files, got %s", m.Handler)
	}
	if m.Params["*"] != "css/site.css" {
		t.Errorf("expected wildcard binding, got %v", m.Params)
	}
}

func TestStaticWinsOverDynamic(t *testing.T) {
	rt := New[string]()
	mustRegister(t, rt, "GET", "/users/:id", "param")
	mustRegister(t, rt, "GET", "/users/me", "static")

	m, _ := rt.Lookup("GET", "/users/me")
	if m.Handler != "static" {
		t.Errorf("static route must win, got %s", m.Handler)
	}

	m, _ = rt.Lookup("GET", "/users/42")
	if m.Handler != "param" {
		t.Errorf("expected param route, got %s", m.Handler)
	}
}

func TestExactWinsOverParam(t *testing.T) {
	rt := New[string]()
	mustRegister(t, rt, "GET", "/api/:section/data", "param")
	mustRegister(t, rt, "GET", "/api/v1/:kind", "exact")

	m, ok := rt.Lookup("GET", "/api/v1/data")
	if !ok {
		t.Fatal("expected match")
	}
	if m.Handler != "exact" {
		t.Errorf("exact segment must win over param, got %s", m.Handler)
	}
}

func TestParamWinsOverWildcard(t *testing.T) {
	rt := New[string]()
	mustRegister(t, rt, "GET", "/files/*", "wild")
	mustRegister(t, rt, "GET", "/files/:name", "param")

	m, _ := rt.Lookup("GET", "/files/readme")
	if m.Handler != "param" {
		t.Errorf("param must win over wildcard, got %s", m.Handler)
	}

	m, _ = rt.Lookup("GET", "/files/a/b")
	if m.Handler != "wild" {
		t.Errorf("deep path must fall to wildcard, got %s", m.Handler)
	}
}

func TestParamBacktracksToWildcard(t *testing.T) {
	rt := New[string]()
	mustRegister(t, rt, "GET", "/files/:name/meta", "meta")
	mustRegister(t, rt, "GET", "/files/*", "wild")

	// The param branch binds "x" but fails at "other"; the wildcard
	// sibling must still be tried.
	m, ok := rt.Lookup("GET", "/files/x/other")
	if !ok {
		t.Fatal("expected wildcard match after param backtrack")
	}
	if m.Handler != "wild" {
		t.Errorf("expected wild, got %s", m.Handler)
	}
	if _, bound := m.Params["name"]; bound {
		t.Error("failed param binding must be removed")
	}

	m, _ = rt.Lookup("GET", "/files/x/meta")
	if m.Handler != "meta" || m.Params["name"] != "x" {
		t.Errorf("expected meta with name=x, got %s %v", m.Handler, m.Params)
	}
}

func TestDeterminism(t *testing.T) {
	rt := New[string]()
	mustRegister(t, rt, "GET", "/a/:x/:y", "h1")
	mustRegister(t, rt, "GET", "/a/b/*", "h2")

	first, ok := rt.Lookup("GET", "/a/b/c")
	if !ok {
		t.Fatal("expected match")
	}
	for i := 0; i < 100; i++ {
		m, ok := rt.Lookup("GET", "/a/b/c")
		if !ok || m.Handler != first.Handler {
			t.Fatalf("lookup %d diverged: %v vs %v", i, m.Handler, first.Handler)
		}
		for k, v := range first.Params {
			if m.Params[k] != v {
				t.Fatalf("params diverged at %d", i)
			}
		}
	}
}

func TestDuplicateRejected(t *testing.T) {
	rt := New[string]()
	mustRegister(t, rt, "GET", "/dup", "one")
	if err := rt.Register("GET", "/dup", "two", 0); err == nil {
		t.Error("duplicate static route must be rejected")
	}

	mustRegister(t, rt, "GET", "/d/:id", "one")
	if err := rt.Register("GET", "/d/:id", "two", 0); err == nil {
		t.Error("duplicate dynamic route must be rejected")
	}
}

func TestNonTrailingWildcardRejected(t *testing.T) {
	rt := New[string]()
	if err := rt.Register("GET", "/a/*/b", "bad", 0); err == nil {
		t.Error("non-trailing wildcard must be rejected")
	}
}

func TestNoMatch(t *testing.T) {
	rt := New[string]()
	mustRegister(t, rt, "GET", "/users/:id", "user")

	if _, ok := rt.Lookup("GET", "/orders/1"); ok {
		t.Error("unrelated path must not match")
	}
	if _, ok := rt.Lookup("GET", "/users/1/extra"); ok {
		t.Error("longer path must not match param route")
	}
}

func TestLen(t *testing.T) {
	rt := New[string]()
	mustRegister(t, rt, "GET", "/a", "1")
	mustRegister(t, rt, "GET", "/b/:id", "2")
	mustRegister(t, rt, "POST", "/c/*", "3")

	if rt.Len() != 3 {
		t.Errorf("expected 3 routes, got %d", rt.Len())
	}
}
