package proxy

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/relaymesh/gateway/internal/cache"
	"github.com/relaymesh/gateway/internal/circuitbreaker"
	"github.com/relaymesh/gateway/internal/compression"
	"github.com/relaymesh/gateway/internal/config"
	"github.com/relaymesh/gateway/internal/errors"
	"github.com/relaymesh/gateway/internal/fallback"
	"github.com/relaymesh/gateway/internal/health"
	"github.com/relaymesh/gateway/internal/loadbalancer"
	"github.com/relaymesh/gateway/internal/logging"
	"github.com/relaymesh/gateway/internal/metrics"
	"github.com/relaymesh/gateway/internal/middleware"
	"github.com/relaymesh/gateway/internal/ratelimit"
	"github.com/relaymesh/gateway/internal/reqctx"
	"github.com/relaymesh/gateway/internal/retry"
	"github.com/relaymesh/gateway/internal/router"
	"github.com/relaymesh/gateway/internal/transform"
	"github.com/relaymesh/gateway/internal/websocket"
)

// Route is a compiled route: the config plus the per-route machinery
// resolved at build time.
type Route struct {
	ID         string
	Method     string
	Pattern    string
	Priority   int
	UpstreamID string // pins one upstream; empty selects across the pool
	Handler    string // named local handler; empty proxies upstream
	WebSocket  bool

	Gate       *ratelimit.Gate
	Cache      *cache.Cache
	Retry      *retry.Manager
	Compressor *compression.Compressor
}

// Deps wires the pipeline's collaborators.
type Deps struct {
	Config      *config.Config
	Router      *router.Router[*Route]
	Pool        *reqctx.Pool
	Balancer    *loadbalancer.Balancer
	Breakers    *circuitbreaker.Manager
	Transports  *TransportPool
	Health      *health.Checker
	Fallback    *fallback.Handler
	Transformer *transform.Engine
	Metrics     *metrics.Aggregator
	Bridge      *websocket.Bridge
}

// Pipeline coordinates the per-request forwarding steps: size limit,
// request transforms, rate limiting, cache, balancing, breaker-gated
// retried upstream calls, response transforms, compression, and the
// bookkeeping afterwards. Failures past upstream selection fall back.
type Pipeline struct {
	cfg         *config.Config
	production  bool
	redact      bool
	routerPtr   atomic.Pointer[router.Router[*Route]]
	pool        *reqctx.Pool
	balancer    *loadbalancer.Balancer
	breakers    *circuitbreaker.Manager
	transports  *TransportPool
	health      *health.Checker
	fallback    *fallback.Handler
	transformer *transform.Engine
	agg         *metrics.Aggregator
	bridge      *websocket.Bridge
	globalGuard *rate.Limiter

	maxBody        int64
	requestTimeout time.Duration
}

// New assembles a pipeline from its dependencies.
func New(d Deps) *Pipeline {
	p := &Pipeline{
		cfg:            d.Config,
		production:     d.Config.Environment == "production",
		redact:         d.Config.Redaction.Enabled,
		pool:           d.Pool,
		balancer:       d.Balancer,
		breakers:       d.Breakers,
		transports:     d.Transports,
		health:         d.Health,
		fallback:       d.Fallback,
		transformer:    d.Transformer,
		agg:            d.Metrics,
		bridge:         d.Bridge,
		maxBody:        d.Config.BodyParser.MaxSize,
		requestTimeout: d.Config.Server.RequestTimeout,
	}
	p.routerPtr.Store(d.Router)

	if d.Config.Server.GlobalRate > 0 {
		burst := d.Config.Server.GlobalBurst
		if burst <= 0 {
			burst = int(d.Config.Server.GlobalRate)
		}
		p.globalGuard = rate.NewLimiter(rate.Limit(d.Config.Server.GlobalRate), burst)
	}
	return p
}

// SwapRouter atomically replaces the route index. In-flight requests keep
// the snapshot they started with.
func (p *Pipeline) SwapRouter(rt *router.Router[*Route]) {
	p.routerPtr.Store(rt)
}

// ServeHTTP runs one request through the pipeline.
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r)

	// Server-wide inbound guard, ahead of the per-key limiters.
	if p.globalGuard != nil && !p.globalGuard.Allow() {
		p.agg.RecordError(errors.CategoryClient)
		errors.ErrTooManyRequests.WithRequestID(requestID).WriteJSON(w, p.production, p.redact)
		return
	}

	// Request-size limit before anything reads the body.
	if r.ContentLength > p.maxBody {
		p.agg.RecordError(errors.CategoryClient)
		errors.ErrPayloadTooLarge.WithRequestID(requestID).WriteJSON(w, p.production, p.redact)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, p.maxBody)

	ctx := p.pool.Acquire()
	defer p.pool.Release(ctx)
	ctx.Bind(r, w)
	ctx.RequestID = requestID

	rt := p.routerPtr.Load()
	m, ok := rt.Lookup(r.Method, r.URL.Path)
	if !ok {
		p.agg.RecordError(errors.CategoryClient)
		p.agg.RecordRequest("", "", http.StatusNotFound, ctx.Elapsed(), 0, 0)
		errors.ErrNotFound.WithRequestID(requestID).WriteJSON(w, p.production, p.redact)
		return
	}
	route := m.Handler
	ctx.RouteID = route.ID
	ctx.PathParams = m.Params
	ctx.RouteMatchedAt = time.Now()

	if route.WebSocket && websocket.IsUpgradeRequest(r) {
		p.serveWebSocket(ctx, route, w, r)
		return
	}

	// Body buffering for methods that carry one, then request transformations
	// (which may rewrite the buffered body).
	var body []byte
	if carriesBody(r.Method) {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			p.agg.RecordError(errors.CategoryClient)
			errors.ErrPayloadTooLarge.WithRequestID(requestID).WriteJSON(w, p.production, p.redact)
			return
		}
		body = b
	}
	res := p.transformer.ApplyRequest(r, body)
	body = res.Body
	ctx.Body = body
	ctx.BytesReceived = int64(len(body))

	// Rate-limit gate.
	if route.Gate != nil {
		if d := route.Gate.Admit(w, r); !d.Allowed {
			p.agg.RecordError(errors.CategoryClient)
			p.agg.RecordRequest(route.ID, "", http.StatusTooManyRequests, ctx.Elapsed(), ctx.BytesReceived, 0)
			errors.ErrTooManyRequests.WithRequestID(requestID).WriteJSON(w, p.production, p.redact)
			return
		}
	}

	// Cache lookup.
	var cacheKey string
	if route.Cache != nil && (r.Method == http.MethodGet || r.Method == http.MethodHead) {
		cacheKey = cache.GenerateKey(r.Method, r.URL.Path, p.cfg.Cache.VaryHeaders, r.Header)
		if entry, fresh, stale := route.Cache.Get(cacheKey); fresh || stale {
			if cache.WriteCached(w, r, entry) {
				route.Cache.RecordNotModified()
				p.agg.RecordRequest(route.ID, "", http.StatusNotModified, ctx.Elapsed(), ctx.BytesReceived, 0)
				return
			}
			p.agg.RecordRequest(route.ID, "", entry.StatusCode, ctx.Elapsed(), ctx.BytesReceived, entry.Size)
			return
		}
	}

	// Local handlers short-circuit the upstream path.
	if route.Handler != "" {
		p.serveLocal(ctx, route, w, r)
		return
	}

	// Upstream selection.
	var upstream *loadbalancer.Upstream
	if route.UpstreamID != "" {
		upstream = p.balancer.ByID(route.UpstreamID)
	} else {
		upstream = p.balancer.Select(ctx.ClientIP())
	}
	if upstream == nil {
		p.fail(ctx, route, "", errors.ErrServiceUnavailable, w)
		return
	}
	ctx.UpstreamID = upstream.ID
	ctx.UpstreamAddr = upstream.Address()

	upstream.IncrActive()
	defer upstream.DecrActive()

	// Breaker-gated, retry-managed upstream call.
	breaker := p.breakers.Get(upstream.ID)
	resp, err := p.callUpstream(ctx, route, upstream, breaker, r, body)
	if err != nil {
		p.fail(ctx, route, upstream.ID, err, w)
		return
	}

	p.writeResponse(ctx, route, upstream, w, r, resp, cacheKey)
}

// upstreamResponse is a fully buffered origin response.
type upstreamResponse struct {
	status  int
	headers http.Header
	body    []byte
}

// callUpstream forwards the request with retry and breaker semantics. The
// breaker observes every outcome through the normal recording path; the
// retry manager never opens it directly.
func (p *Pipeline) callUpstream(ctx *reqctx.Context, route *Route, upstream *loadbalancer.Upstream, breaker *circuitbreaker.Breaker, r *http.Request, body []byte) (*upstreamResponse, error) {
	reqCtx := r.Context()
	if p.requestTimeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(reqCtx, p.requestTimeout)
		defer cancel()
	}

	var resp *upstreamResponse
	ctx.UpstreamStartAt = time.Now()

	op := func(opCtx context.Context) error {
		if breaker != nil {
			if err := breaker.Allow(); err != nil {
				return err
			}
		}

		out, err := p.roundTrip(opCtx, upstream, r, body)
		success := err == nil && (out == nil || out.status < 500)
		if breaker != nil {
			breaker.Record(success)
		}
		p.health.RecordOutcome(upstream.ID, success)

		if err != nil {
			return err
		}
		if out.status >= 500 {
			resp = out // not returned when the run ends in this error
			return errors.NewUpstreamStatus(out.status)
		}
		resp = out
		return nil
	}

	var result retry.Result
	if route.Retry != nil {
		result = route.Retry.Execute(reqCtx, r.Method, breaker, op)
	} else {
		result = retry.Result{Err: op(reqCtx), Attempts: 1}
	}
	ctx.UpstreamEndAt = time.Now()

	if result.Err != nil {
		// A failed or exhausted run passes only its last error to the
		// fallback path; a buffered 5xx body is dropped, its status travels
		// in the error.
		return nil, result.Err
	}
	if result.Retried {
		logging.Debug("upstream call retried",
			zap.String("upstream", upstream.ID),
			zap.Int("attempts", result.Attempts),
			zap.Duration("total", result.TotalTime))
	}
	return resp, nil
}

// roundTrip performs one upstream exchange over the pooled transport.
func (p *Pipeline) roundTrip(opCtx context.Context, upstream *loadbalancer.Upstream, r *http.Request, body []byte) (*upstreamResponse, error) {
	base := upstream.BaseURL()
	outURL := *base
	outURL.Path = singleJoinSlash(base.Path, r.URL.Path)
	outURL.RawQuery = r.URL.RawQuery

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	attemptCtx := opCtx
	if upstream.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(opCtx, upstream.Timeout)
		defer cancel()
	}

	out, err := http.NewRequestWithContext(attemptCtx, r.Method, outURL.String(), bodyReader)
	if err != nil {
		return nil, errors.NewNetwork(err)
	}
	out.Header = r.Header.Clone()
	out.Header.Set("X-Forwarded-For", clientAddr(r))
	out.Header.Set("X-Forwarded-Proto", "http")
	out.Header.Set("X-Forwarded-Host", r.Host)
	if body != nil {
		out.ContentLength = int64(len(body))
	}

	start := time.Now()
	resp, err := p.transports.Get(upstream.ID).RoundTrip(out)
	if err != nil {
		if attemptCtx.Err() == context.DeadlineExceeded {
			return nil, errors.NewTimeout(errors.TimeoutUpstream, time.Since(start))
		}
		return nil, errors.NewNetwork(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBody))
	if err != nil {
		return nil, errors.NewNetwork(err)
	}

	return &upstreamResponse{
		status:  resp.StatusCode,
		headers: resp.Header.Clone(),
		body:    respBody,
	}, nil
}

// writeResponse applies response transforms and compression, writes to the
// client, and performs the post-write bookkeeping: cache admission, the
// stale-on-error copy, and metrics.
func (p *Pipeline) writeResponse(ctx *reqctx.Context, route *Route, upstream *loadbalancer.Upstream, w http.ResponseWriter, r *http.Request, resp *upstreamResponse, cacheKey string) {
	tr := p.transformer.ApplyResponse(r, resp.status, resp.headers, resp.body)
	status := tr.Status
	body := tr.Body

	// Cache admission before compression so cached bytes stay identity-coded.
	if cacheKey != "" && route.Cache != nil && cache.Cacheable(r.Method, status, resp.headers) {
		entry := &cache.Entry{
			StatusCode: status,
			Headers:    resp.headers.Clone(),
			Body:       body,
			TTL:        cache.DeriveTTL(resp.headers, route.Cache.DefaultTTL()),
			Size:       int64(len(body)),
		}
		cache.PopulateConditionalFields(entry)
		route.Cache.Set(cacheKey, entry)
	}

	// Stale-on-error copy for the fallback handler, successes only.
	if status < 400 {
		p.fallback.CacheResponse(route.ID, upstream.ID, fallback.Response{
			Status:  status,
			Headers: resp.headers.Clone(),
			Body:    body,
		}, p.cfg.Fallback.CacheTTL)
	}

	// Content-negotiated compression on the buffered body.
	acceptEncoding := r.Header.Get("Accept-Encoding")
	if route.Compressor != nil &&
		route.Compressor.ShouldCompress(resp.headers.Get("Content-Type"), len(body), acceptEncoding) {
		algo := route.Compressor.Negotiate(acceptEncoding)
		if compressed, err := route.Compressor.Compress(body, algo); err == nil {
			body = compressed
			compression.AddHeaders(resp.headers, algo, len(body))
		} else {
			// Degrade to the uncompressed path.
			p.agg.RecordError(errors.CategoryTransformation)
		}
	}

	for key, values := range resp.headers {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	if w.Header().Get("Content-Encoding") == "" {
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	}
	w.Header().Set("X-Cache", "MISS")
	w.WriteHeader(status)
	if r.Method != http.MethodHead {
		w.Write(body)
	}

	ctx.Status = status
	ctx.BytesSent = int64(len(body))
	p.agg.RecordRequest(route.ID, upstream.ID, status, ctx.Elapsed(), ctx.BytesReceived, ctx.BytesSent)
	ctx.Responded = true
}

// fail resolves a fallback response for a failed request and records the error.
func (p *Pipeline) fail(ctx *reqctx.Context, route *Route, upstreamID string, cause error, w http.ResponseWriter) {
	ge := errors.AsGatewayError(cause)
	p.agg.RecordError(ge.Category)

	resp := p.fallback.GetFallback(route.ID, upstreamID, cause, ctx.RequestID)
	resp.Write(w)

	ctx.Status = resp.Status
	ctx.BytesSent = int64(len(resp.Body))
	p.agg.RecordRequest(route.ID, upstreamID, resp.Status, ctx.Elapsed(), ctx.BytesReceived, ctx.BytesSent)
	ctx.Responded = true

	logging.Warn("request failed",
		zap.String("route", route.ID),
		zap.String("upstream", upstreamID),
		zap.String("code", ge.Code),
		zap.String("request_id", ctx.RequestID),
		zap.Error(cause))
}

// serveLocal answers routes bound to a named in-process handler.
func (p *Pipeline) serveLocal(ctx *reqctx.Context, route *Route, w http.ResponseWriter, r *http.Request) {
	switch route.Handler {
	case "health":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "OK")
		ctx.Status = http.StatusOK
	case "echo":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, r.Method+" "+r.URL.Path)
		ctx.Status = http.StatusOK
	default:
		errors.ErrNotFound.WithRequestID(ctx.RequestID).WriteJSON(w, p.production, p.redact)
		ctx.Status = http.StatusNotFound
	}
	p.agg.RecordRequest(route.ID, "", ctx.Status, ctx.Elapsed(), 0, 0)
	ctx.Responded = true
}

// serveWebSocket hands the connection to the bridge.
func (p *Pipeline) serveWebSocket(ctx *reqctx.Context, route *Route, w http.ResponseWriter, r *http.Request) {
	var upstream *loadbalancer.Upstream
	if route.UpstreamID != "" {
		upstream = p.balancer.ByID(route.UpstreamID)
	} else {
		upstream = p.balancer.Select(ctx.ClientIP())
	}
	if upstream == nil {
		p.fail(ctx, route, "", errors.ErrServiceUnavailable, w)
		return
	}
	ctx.UpstreamID = upstream.ID
	p.bridge.Serve(w, r, upstream)
}

// carriesBody reports whether the method conventionally has a request body.
func carriesBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// clientAddr strips the port from the remote address.
func clientAddr(r *http.Request) string {
	addr := r.RemoteAddr
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i]
		}
	}
	return addr
}

// singleJoinSlash joins two URL path segments with exactly one slash.
func singleJoinSlash(a, b string) string {
	aslash := len(a) > 0 && a[len(a)-1] == '/'
	bslash := len(b) > 0 && b[0] == '/'
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		if a == "" {
			return b
		}
		return a + "/" + b
	}
	return a + b
}
