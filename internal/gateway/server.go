package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/relaymesh/gateway/internal/admin"
	"github.com/relaymesh/gateway/internal/cache"
	"github.com/relaymesh/gateway/internal/circuitbreaker"
	"github.com/relaymesh/gateway/internal/compression"
	"github.com/relaymesh/gateway/internal/config"
	"github.com/relaymesh/gateway/internal/fallback"
	"github.com/relaymesh/gateway/internal/health"
	"github.com/relaymesh/gateway/internal/loadbalancer"
	"github.com/relaymesh/gateway/internal/logging"
	"github.com/relaymesh/gateway/internal/metrics"
	"github.com/relaymesh/gateway/internal/middleware"
	"github.com/relaymesh/gateway/internal/proxy"
	"github.com/relaymesh/gateway/internal/ratelimit"
	"github.com/relaymesh/gateway/internal/reqctx"
	"github.com/relaymesh/gateway/internal/retry"
	"github.com/relaymesh/gateway/internal/router"
	"github.com/relaymesh/gateway/internal/transform"
	"github.com/relaymesh/gateway/internal/websocket"
)

// Server assembles and runs the gateway: the proxy listener, the admin
// listener, the health checker, and the periodic reapers.
type Server struct {
	cfg      *config.Config
	pipeline *proxy.Pipeline
	checker  *health.Checker
	fb       *fallback.Handler
	agg      *metrics.Aggregator

	httpServer  *http.Server
	adminServer *http.Server
}

// NewServer builds a gateway server from validated config.
func NewServer(cfg *config.Config) (*Server, error) {
	upstreams := make([]*loadbalancer.Upstream, 0, len(cfg.Upstreams))
	upstreamIDs := make([]string, 0, len(cfg.Upstreams))
	for _, uc := range cfg.Upstreams {
		upstreams = append(upstreams, loadbalancer.NewUpstream(uc))
		upstreamIDs = append(upstreamIDs, uc.ID)
	}

	balancer := loadbalancer.New(cfg.LoadBalancer, upstreams)
	breakers := circuitbreaker.NewManager(cfg.CircuitBreaker, upstreamIDs)
	checker := health.NewChecker(upstreams)
	transports := proxy.NewTransportPool(upstreams)

	fb, err := fallback.New(cfg.Fallback)
	if err != nil {
		return nil, fmt.Errorf("fallback: %w", err)
	}

	transformer, err := transform.NewEngine(cfg.Transform)
	if err != nil {
		return nil, fmt.Errorf("transform: %w", err)
	}

	agg := metrics.NewAggregator(time.Minute)
	pool := reqctx.NewPool(cfg.Performance.ContextPoolSize)
	bridge := websocket.NewBridge(cfg.WebSocket)

	rt, err := buildRouter(cfg)
	if err != nil {
		return nil, err
	}

	pipeline := proxy.New(proxy.Deps{
		Config:      cfg,
		Router:      rt,
		Pool:        pool,
		Balancer:    balancer,
		Breakers:    breakers,
		Transports:  transports,
		Health:      checker,
		Fallback:    fb,
		Transformer: transformer,
		Metrics:     agg,
		Bridge:      bridge,
	})

	chain := middleware.NewChain(
		middleware.RequestID(),
		middleware.Recovery(agg, cfg.Environment == "production"),
		middleware.AccessLog(),
	)

	httpServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, fmt.Sprintf("%d", cfg.Server.Port)),
		Handler:           chain.Then(pipeline),
		ReadHeaderTimeout: cfg.Server.HeadersTimeout,
		IdleTimeout:       cfg.Server.KeepAliveTimeout,
		MaxHeaderBytes:    cfg.Server.MaxHeaderSize,
		ConnState: func(_ net.Conn, state http.ConnState) {
			switch state {
			case http.StateNew:
				agg.ConnOpened()
			case http.StateClosed, http.StateHijacked:
				agg.ConnClosed()
			}
		},
	}
	httpServer.SetKeepAlivesEnabled(cfg.Server.KeepAlive)

	s := &Server{
		cfg:        cfg,
		pipeline:   pipeline,
		checker:    checker,
		fb:         fb,
		agg:        agg,
		httpServer: httpServer,
	}

	if cfg.Admin.Enabled {
		adminSrv := admin.NewServer(agg, breakers, checker, pool, bridge)
		s.adminServer = &http.Server{
			Addr:    net.JoinHostPort(cfg.Admin.Host, fmt.Sprintf("%d", cfg.Admin.Port)),
			Handler: adminSrv.Handler(),
		}
	}

	return s, nil
}

// buildRouter compiles the configured routes into a fresh route index.
func buildRouter(cfg *config.Config) (*router.Router[*proxy.Route], error) {
	rt := router.New[*proxy.Route]()
	for _, rc := range cfg.Routes {
		route, err := compileRoute(cfg, rc)
		if err != nil {
			return nil, err
		}
		method := rc.Method
		if method == "" {
			method = http.MethodGet
		}
		if err := rt.Register(method, rc.Path, route, rc.Priority); err != nil {
			return nil, err
		}
	}
	return rt, nil
}

// compileRoute resolves per-route machinery, falling back to the global
// sections when the route carries no override.
func compileRoute(cfg *config.Config, rc config.RouteConfig) (*proxy.Route, error) {
	route := &proxy.Route{
		ID:         routeID(rc),
		Method:     strings.ToUpper(rc.Method),
		Pattern:    rc.Path,
		Priority:   rc.Priority,
		UpstreamID: rc.Upstream,
		Handler:    rc.Handler,
		WebSocket:  rc.WebSocket,
	}

	rlCfg := cfg.RateLimit
	if rc.RateLimit != nil {
		rlCfg = *rc.RateLimit
	}
	if rlCfg.Enabled {
		route.Gate = ratelimit.NewGate(rlCfg)
	}

	cacheCfg := cfg.Cache
	if rc.Cache != nil {
		cacheCfg = *rc.Cache
	}
	if cacheCfg.Enabled {
		route.Cache = cache.New(cacheCfg)
	}

	retryCfg := cfg.Retry
	if rc.Retry != nil {
		retryCfg = *rc.Retry
	}
	if retryCfg.MaxAttempts > 0 {
		route.Retry = retry.NewManager(retryCfg)
	}

	compCfg := cfg.Compression
	if rc.Compression != nil {
		compCfg = *rc.Compression
	}
	if compCfg.Enabled {
		route.Compressor = compression.New(compCfg)
	}

	return route, nil
}

func routeID(rc config.RouteConfig) string {
	if rc.ID != "" {
		return rc.ID
	}
	method := rc.Method
	if method == "" {
		method = http.MethodGet
	}
	return strings.ToUpper(method) + " " + rc.Path
}

// Run starts the listeners and blocks until shutdown completes.
func (s *Server) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.RunContext(ctx)
}

// RunContext starts the listeners and blocks until ctx is canceled, then
// drains: the health checker and reapers stop first, the listener stops
// accepting, live connections get up to drain-timeout, and whatever
// remains is force-closed.
func (s *Server) RunContext(ctx context.Context) error {
	s.checker.Start()

	g, runCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logging.Info("gateway listening",
			zap.String("addr", s.httpServer.Addr),
			zap.String("environment", s.cfg.Environment))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("listener: %w", err)
		}
		return nil
	})

	if s.adminServer != nil {
		g.Go(func() error {
			logging.Info("admin listening", zap.String("addr", s.adminServer.Addr))
			if err := s.adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("admin listener: %w", err)
			}
			return nil
		})
	}

	// Periodic reapers: stale fallback eviction and metric history sampling.
	g.Go(func() error {
		cleanupTicker := time.NewTicker(time.Minute)
		historyTicker := time.NewTicker(30 * time.Second)
		defer cleanupTicker.Stop()
		defer historyTicker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return nil
			case <-cleanupTicker.C:
				if removed := s.fb.Cleanup(); removed > 0 {
					logging.Debug("fallback cache cleanup", zap.Int("removed", removed))
				}
			case <-historyTicker.C:
				s.agg.SampleHistory()
			}
		}
	})

	<-runCtx.Done()
	logging.Info("shutting down")

	// Reapers and the health checker stop before the listener drains.
	s.checker.Stop()

	drainCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.DrainTimeout)
	defer cancel()

	if s.adminServer != nil {
		s.adminServer.Shutdown(drainCtx)
	}
	if err := s.httpServer.Shutdown(drainCtx); err != nil {
		logging.Warn("drain timeout exceeded, forcing close", zap.Error(err))
		s.httpServer.Close()
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logging.Info("shutdown complete")
	return nil
}

// Pipeline exposes the pipeline, mainly for tests.
func (s *Server) Pipeline() *proxy.Pipeline { return s.pipeline }

// Handler returns the fully wrapped request handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }
