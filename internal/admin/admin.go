package admin

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relaymesh/gateway/internal/circuitbreaker"
	"github.com/relaymesh/gateway/internal/health"
	"github.com/relaymesh/gateway/internal/metrics"
	"github.com/relaymesh/gateway/internal/reqctx"
	"github.com/relaymesh/gateway/internal/websocket"
)

// Server is the admin/observability listener surface.
type Server struct {
	agg      *metrics.Aggregator
	breakers *circuitbreaker.Manager
	checker  *health.Checker
	pool     *reqctx.Pool
	bridge   *websocket.Bridge
	registry *prometheus.Registry
}

// NewServer creates the admin surface over the gateway internals.
func NewServer(agg *metrics.Aggregator, breakers *circuitbreaker.Manager, checker *health.Checker, pool *reqctx.Pool, bridge *websocket.Bridge) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(newCollector(agg))

	return &Server{
		agg:      agg,
		breakers: breakers,
		checker:  checker,
		pool:     pool,
		bridge:   bridge,
		registry: registry,
	}
}

// Handler returns the admin mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /api/metrics/summary", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, s.agg.Summary())
	})
	mux.HandleFunc("GET /api/metrics/routes", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, s.agg.Routes())
	})
	mux.HandleFunc("GET /api/metrics/upstreams", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, map[string]any{
			"rollups":          s.agg.Upstreams(),
			"circuit_breakers": s.breakers.Snapshots(),
		})
	})
	mux.HandleFunc("GET /api/metrics/errors", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, s.agg.ErrorsSnapshot())
	})
	mux.HandleFunc("GET /api/metrics/workers", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, map[string]any{
			"context_pool": s.pool.Stats(),
			"websockets":   s.bridge.Connections(),
		})
	})
	mux.HandleFunc("GET /api/metrics/history", func(w http.ResponseWriter, r *http.Request) {
		window := 15
		if v := r.URL.Query().Get("window"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				window = n
			}
		}
		writeEnvelope(w, s.agg.History(time.Duration(window)*time.Minute))
	})
	mux.HandleFunc("GET /api/metrics/health", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, s.checker.Results())
	})
	mux.HandleFunc("GET /api/metrics/trace/stats", func(w http.ResponseWriter, r *http.Request) {
		// Tracing export lives outside the core; the stats endpoint reports
		// the aggregate latency view.
		p50, p95, p99 := percentiles(s.agg)
		writeEnvelope(w, map[string]float64{"p50_ms": p50, "p95_ms": p95, "p99_ms": p99})
	})

	mux.HandleFunc("GET /api/performance/realtime", s.serveSSE)

	return mux
}

func percentiles(agg *metrics.Aggregator) (float64, float64, float64) {
	s := agg.Summary()
	return s.LatencyP50, s.LatencyP95, s.LatencyP99
}

// envelope is the JSON wrapper for admin API responses.
type envelope struct {
	Success   bool  `json:"success"`
	Data      any   `json:"data"`
	Timestamp int64 `json:"timestamp"`
}

func writeEnvelope(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(envelope{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	})
}
