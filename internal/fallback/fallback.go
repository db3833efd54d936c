package fallback

import (
	"bytes"
	"fmt"
	"net/http"
	"sync"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
	"go.uber.org/zap"

	"github.com/relaymesh/gateway/internal/config"
	"github.com/relaymesh/gateway/internal/errors"
	"github.com/relaymesh/gateway/internal/logging"
)

// Response is a ready-to-write fallback payload.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// staticEntry is a fixed response registered for a route or upstream key.
type staticEntry struct {
	status  int
	body    []byte
	headers map[string]string
}

// cachedEntry is a stale-on-error copy of a previously good response.
type cachedEntry struct {
	response Response
	cachedAt time.Time
	ttl      time.Duration
}

// Handler resolves fallback responses: static registrations first, then
// stale cached copies, then status templates, then a generic JSON body.
type Handler struct {
	mu          sync.RWMutex
	byRoute     map[string]*staticEntry
	byUpstream  map[string]*staticEntry
	staleCache  map[string]*cachedEntry // key: route⊕upstream
	templates   map[int]*template.Template
	extraHeader map[string]string
	maxStaleAge time.Duration
	defaultTTL  time.Duration
}

// templateData is what status templates render against.
type templateData struct {
	Status    int
	Code      string
	Message   string
	RequestID string
}

// New creates a fallback handler from config.
func New(cfg config.FallbackConfig) (*Handler, error) {
	h := &Handler{
		byRoute:     make(map[string]*staticEntry),
		byUpstream:  make(map[string]*staticEntry),
		staleCache:  make(map[string]*cachedEntry),
		templates:   make(map[int]*template.Template),
		extraHeader: cfg.Headers,
		maxStaleAge: cfg.MaxStaleAge,
		defaultTTL:  cfg.CacheTTL,
	}
	if h.maxStaleAge <= 0 {
		h.maxStaleAge = 5 * time.Minute
	}
	if h.defaultTTL <= 0 {
		h.defaultTTL = time.Minute
	}

	for _, s := range cfg.Static {
		e := &staticEntry{status: s.Status, body: []byte(s.Body), headers: s.Headers}
		if e.status == 0 {
			e.status = http.StatusServiceUnavailable
		}
		if s.Route != "" {
			h.byRoute[s.Route] = e
		}
		if s.Upstream != "" {
			h.byUpstream[s.Upstream] = e
		}
	}

	for status, body := range cfg.Templates {
		tmpl, err := template.New(fmt.Sprintf("fallback-%d", status)).
			Funcs(sprig.TxtFuncMap()).Parse(body)
		if err != nil {
			return nil, fmt.Errorf("fallback template for %d: %w", status, err)
		}
		h.templates[status] = tmpl
	}

	return h, nil
}

func staleKey(route, upstreamID string) string {
	return route + "\x00" + upstreamID
}

// CacheResponse stores a good response for later stale-on-error serving.
func (h *Handler) CacheResponse(route, upstreamID string, resp Response, ttl time.Duration) {
	if ttl <= 0 {
		ttl = h.defaultTTL
	}
	h.mu.Lock()
	h.staleCache[staleKey(route, upstreamID)] = &cachedEntry{
		response: resp,
		cachedAt: time.Now(),
		ttl:      ttl,
	}
	h.mu.Unlock()
}

// GetFallback resolves a fallback response for a failed request.
func (h *Handler) GetFallback(route, upstreamID string, cause error, requestID string) Response {
	h.mu.RLock()
	static := h.byRoute[route]
	if static == nil && upstreamID != "" {
		static = h.byUpstream[upstreamID]
	}
	stale := h.staleCache[staleKey(route, upstreamID)]
	h.mu.RUnlock()

	// 1. Static registration.
	if static != nil {
		resp := Response{
			Status:  static.status,
			Headers: make(http.Header),
			Body:    static.body,
		}
		for k, v := range static.headers {
			resp.Headers.Set(k, v)
		}
		h.finish(&resp)
		return resp
	}

	// 2. Stale-on-error.
	if stale != nil && time.Since(stale.cachedAt) <= stale.ttl+h.maxStaleAge {
		resp := Response{
			Status:  stale.response.Status,
			Headers: stale.response.Headers.Clone(),
			Body:    stale.response.Body,
		}
		if resp.Headers == nil {
			resp.Headers = make(http.Header)
		}
		resp.Headers.Set("Warning", `110 - "Response is Stale"`)
		resp.Headers.Set("X-Served-From-Cache", "true")
		h.finish(&resp)
		return resp
	}

	// 3. Default template keyed by the error's status.
	status, code, message := classify(cause)
	resp := Response{Status: status, Headers: make(http.Header)}

	if tmpl, ok := h.templates[status]; ok {
		var buf bytes.Buffer
		err := tmpl.Execute(&buf, templateData{
			Status:    status,
			Code:      code,
			Message:   message,
			RequestID: requestID,
		})
		if err == nil {
			resp.Body = buf.Bytes()
			h.finish(&resp)
			return resp
		}
		logging.Error("fallback template render failed",
			zap.Int("status", status), zap.Error(err))
	}

	resp.Headers.Set("Content-Type", "application/json")
	resp.Body = []byte(fmt.Sprintf(
		`{"error":{"code":%q,"message":%q,"statusCode":%d,"requestId":%q}}`,
		code, message, status, requestID))
	h.finish(&resp)
	return resp
}

// finish stamps the fallback marker and configured extra headers.
func (h *Handler) finish(resp *Response) {
	resp.Headers.Set("X-Fallback-Response", "true")
	for k, v := range h.extraHeader {
		if resp.Headers.Get(k) == "" {
			resp.Headers.Set(k, v)
		}
	}
}

// classify maps an error to the fallback status, code, and client message.
func classify(cause error) (status int, code, message string) {
	status = http.StatusServiceUnavailable
	code = "SERVICE_ERROR"
	message = "Service temporarily unavailable"

	if cause == nil {
		return status, code, message
	}

	var ge *errors.GatewayError
	if errors.As(cause, &ge) {
		switch {
		case ge.Category == errors.CategoryCircuitBreaker:
			return http.StatusServiceUnavailable, ge.Code, ge.Message
		case ge.Category == errors.CategoryTimeout:
			return http.StatusGatewayTimeout, ge.Code, ge.Message
		case ge.StatusCode != 0:
			return ge.StatusCode, ge.Code, ge.Message
		}
		return status, ge.Code, ge.Message
	}
	return status, code, message
}

// Cleanup evicts stale-cache entries past ttl + maxStaleAge. Returns the
// number of entries removed.
func (h *Handler) Cleanup() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	removed := 0
	now := time.Now()
	for key, e := range h.staleCache {
		if now.Sub(e.cachedAt) > e.ttl+h.maxStaleAge {
			delete(h.staleCache, key)
			removed++
		}
	}
	return removed
}

// Write sends the fallback response to the client.
func (resp Response) Write(w http.ResponseWriter) {
	for k, values := range resp.Headers {
		for _, v := range values {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.Status)
	w.Write(resp.Body)
}
