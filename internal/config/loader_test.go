package config

import (
	"strings"
	"testing"
	"time"
)

const minimalConfig = `
version: 1.2.3
server:
  port: 8080
upstreams:
  - id: api
    scheme: http
    host: localhost
    port: 9001
routes:
  - id: r1
    method: GET
    path: /users/:id
    upstream: api
`

func TestParseMinimal(t *testing.T) {
	cfg, err := NewLoader().Parse([]byte(minimalConfig))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Version != "1.2.3" {
		t.Errorf("version: %s", cfg.Version)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port: %d", cfg.Server.Port)
	}
	if len(cfg.Routes) != 1 || cfg.Routes[0].Upstream != "api" {
		t.Errorf("routes: %+v", cfg.Routes)
	}
}

func TestDefaultsApplied(t *testing.T) {
	cfg, err := NewLoader().Parse([]byte(minimalConfig))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.RequestTimeout != 30*time.Second {
		t.Errorf("request timeout default: %v", cfg.Server.RequestTimeout)
	}
	if cfg.LoadBalancer.Strategy != "round_robin" {
		t.Errorf("strategy default: %s", cfg.LoadBalancer.Strategy)
	}
	if cfg.Upstreams[0].Weight != 1 {
		t.Errorf("weight default: %d", cfg.Upstreams[0].Weight)
	}
	if cfg.Upstreams[0].PoolSize != 10 {
		t.Errorf("pool size default: %d", cfg.Upstreams[0].PoolSize)
	}
}

func TestEnvInterpolation(t *testing.T) {
	t.Setenv("GW_TEST_PORT", "9999")

	raw := strings.Replace(minimalConfig, "port: 8080", "port: ${GW_TEST_PORT}", 1)
	cfg, err := NewLoader().Parse([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("env value not interpolated: %d", cfg.Server.Port)
	}
}

func TestEnvDefault(t *testing.T) {
	raw := strings.Replace(minimalConfig, "port: 8080", "port: ${GW_UNSET_VAR:7777}", 1)
	cfg, err := NewLoader().Parse([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("default not applied: %d", cfg.Server.Port)
	}
}

func TestInvalidSemver(t *testing.T) {
	raw := strings.Replace(minimalConfig, "version: 1.2.3", "version: not-a-version", 1)
	if _, err := NewLoader().Parse([]byte(raw)); err == nil {
		t.Error("bad semver must be rejected")
	}
}

func TestUnknownUpstreamRejected(t *testing.T) {
	raw := strings.Replace(minimalConfig, "upstream: api", "upstream: ghost", 1)
	if _, err := NewLoader().Parse([]byte(raw)); err == nil {
		t.Error("route referencing an unknown upstream must be rejected")
	}
}

func TestDuplicateRouteRejected(t *testing.T) {
	raw := minimalConfig + `
  - id: r2
    method: GET
    path: /users/:id
    upstream: api
`
	if _, err := NewLoader().Parse([]byte(raw)); err == nil {
		t.Error("duplicate method+path must be rejected")
	}
}

func TestDuplicateParamRejected(t *testing.T) {
	raw := strings.Replace(minimalConfig, "path: /users/:id", "path: /a/:x/b/:x", 1)
	if _, err := NewLoader().Parse([]byte(raw)); err == nil {
		t.Error("duplicate parameter names must be rejected")
	}
}

func TestNonTrailingWildcardRejected(t *testing.T) {
	raw := strings.Replace(minimalConfig, "path: /users/:id", `path: "/a/*/b"`, 1)
	if _, err := NewLoader().Parse([]byte(raw)); err == nil {
		t.Error("non-trailing wildcard must be rejected")
	}
}

func TestBadStrategyRejected(t *testing.T) {
	raw := minimalConfig + `
load_balancer:
  strategy: fastest_first
`
	if _, err := NewLoader().Parse([]byte(raw)); err == nil {
		t.Error("unknown strategy must be rejected")
	}
}
