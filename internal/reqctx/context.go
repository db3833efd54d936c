package reqctx

import (
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Context holds per-request scratch state. Acquired from a Pool at ingress
// and released at the end of the request; all fields are zeroed on release.
type Context struct {
	RequestID string
	StartTime time.Time // monotonic; all latency arithmetic uses this

	Method string
	Path   string // query stripped

	rawQuery    string
	queryParsed bool
	queryValues url.Values

	PathParams map[string]string

	Request  *http.Request
	Response http.ResponseWriter

	Body []byte // buffered request body, nil when method carries none

	RouteID      string
	UpstreamID   string
	UpstreamAddr string

	Status        int
	BytesSent     int64
	BytesReceived int64
	Responded     bool

	// Optional phase timestamps.
	RouteMatchedAt  time.Time
	PluginStartAt   time.Time
	PluginEndAt     time.Time
	UpstreamStartAt time.Time
	UpstreamEndAt   time.Time

	// Plugin state keyed by plugin name.
	PluginState map[string]any
}

// Bind initializes the context for an incoming request.
func (c *Context) Bind(r *http.Request, w http.ResponseWriter) {
	c.Request = r
	c.Response = w
	c.StartTime = time.Now()
	c.Method = r.Method
	c.Path = r.URL.Path
	c.rawQuery = r.URL.RawQuery
}

// Query lazily parses and returns the request query parameters.
func (c *Context) Query() url.Values {
	if !c.queryParsed {
		c.queryValues, _ = url.ParseQuery(c.rawQuery)
		c.queryParsed = true
	}
	return c.queryValues
}

// Param returns a path parameter bound by the router.
func (c *Context) Param(name string) string {
	return c.PathParams[name]
}

// ClientIP extracts the caller address, honoring X-Forwarded-For.
func (c *Context) ClientIP() string {
	if c.Request == nil {
		return ""
	}
	if xff := c.Request.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.IndexByte(xff, ','); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	addr := c.Request.RemoteAddr
	if idx := strings.LastIndexByte(addr, ':'); idx != -1 {
		return addr[:idx]
	}
	return addr
}

// Elapsed returns the time since request ingress.
func (c *Context) Elapsed() time.Duration {
	return time.Since(c.StartTime)
}

// SetPluginState stores per-request plugin state.
func (c *Context) SetPluginState(name string, v any) {
	if c.PluginState == nil {
		c.PluginState = make(map[string]any)
	}
	c.PluginState[name] = v
}

// GetPluginState returns per-request plugin state.
func (c *Context) GetPluginState(name string) (any, bool) {
	if c.PluginState == nil {
		return nil, false
	}
	v, ok := c.PluginState[name]
	return v, ok
}

// reset zeroes every field so a pooled context is indistinguishable
// from a freshly allocated one.
func (c *Context) reset() {
	*c = Context{}
}
