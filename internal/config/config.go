package config

import "time"

// Config represents the complete gateway configuration
type Config struct {
	Version     string            `yaml:"version"`
	Environment string            `yaml:"environment"`
	Server      ServerConfig      `yaml:"server"`
	Admin       AdminConfig       `yaml:"admin"`
	Logging     LoggingConfig     `yaml:"logging"`
	Routes      []RouteConfig     `yaml:"routes"`
	Upstreams   []UpstreamConfig  `yaml:"upstreams"`
	Plugins     []PluginConfig    `yaml:"plugins"`
	Performance PerformanceConfig `yaml:"performance"`
	BodyParser  BodyParserConfig  `yaml:"body_parser"`

	LoadBalancer   LoadBalancerConfig   `yaml:"load_balancer"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Retry          RetryConfig          `yaml:"retry"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	Cache          CacheConfig          `yaml:"cache"`
	Compression    CompressionConfig    `yaml:"compression"`
	Fallback       FallbackConfig       `yaml:"fallback"`
	WebSocket      WebSocketConfig      `yaml:"websocket"`
	Transform      TransformConfig      `yaml:"transform"`
	Redaction      RedactionConfig      `yaml:"redaction"`
}

// ServerConfig defines HTTP server settings
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	KeepAlive        bool          `yaml:"keep_alive"`
	KeepAliveTimeout time.Duration `yaml:"keep_alive_timeout"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	HeadersTimeout   time.Duration `yaml:"headers_timeout"`
	MaxHeaderSize    int           `yaml:"max_header_size"`
	MaxBodySize      int64         `yaml:"max_body_size"`
	DrainTimeout     time.Duration `yaml:"drain_timeout"`
	// GlobalRate caps inbound requests per second across all clients.
	// 0 disables the guard.
	GlobalRate  float64 `yaml:"global_rate"`
	GlobalBurst int     `yaml:"global_burst"`
}

// AdminConfig defines the admin/observability listener
type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// LoggingConfig defines logger settings
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Output     string `yaml:"output"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// RouteConfig defines a single route
type RouteConfig struct {
	ID       string `yaml:"id"`
	Method   string `yaml:"method"`
	Path     string `yaml:"path"`
	Priority int    `yaml:"priority"`
	Upstream string `yaml:"upstream"` // upstream group reference
	Handler  string `yaml:"handler"`  // named local handler (health, echo)

	WebSocket bool `yaml:"websocket"`

	// Per-route overrides; nil falls back to the global sections.
	RateLimit      *RateLimitConfig      `yaml:"rate_limit"`
	Cache          *CacheConfig          `yaml:"cache"`
	Retry          *RetryConfig          `yaml:"retry"`
	CircuitBreaker *CircuitBreakerConfig `yaml:"circuit_breaker"`
	Compression    *CompressionConfig    `yaml:"compression"`
}

// UpstreamConfig defines a single upstream target
type UpstreamConfig struct {
	ID       string        `yaml:"id"`
	Scheme   string        `yaml:"scheme"`
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	BasePath string        `yaml:"base_path"`
	Timeout  time.Duration `yaml:"timeout"`
	PoolSize int           `yaml:"pool_size"`
	Weight   int           `yaml:"weight"`

	HealthCheck *HealthCheckConfig `yaml:"health_check"`
}

// HealthCheckConfig defines active health probing for an upstream
type HealthCheckConfig struct {
	Path               string        `yaml:"path"`
	Interval           time.Duration `yaml:"interval"`
	Timeout            time.Duration `yaml:"timeout"`
	ExpectedStatus     []string      `yaml:"expected_status"` // "200", "2xx", "200-299"
	HealthyThreshold   int           `yaml:"healthy_threshold"`
	UnhealthyThreshold int           `yaml:"unhealthy_threshold"`
	GracePeriod        time.Duration `yaml:"grace_period"`
}

// LoadBalancerConfig selects the balancing strategy
type LoadBalancerConfig struct {
	Strategy    string `yaml:"strategy"` // round_robin, weighted_round_robin, least_connections, random, ip_hash
	HealthAware bool   `yaml:"health_aware"`
}

// CircuitBreakerConfig defines per-upstream circuit breaker behavior
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	WindowSize       int           `yaml:"window_size"`
	Timeout          time.Duration `yaml:"timeout"`
	HalfOpenRequests int           `yaml:"half_open_requests"`
}

// RetryConfig defines retry behavior
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	InitialDelay      time.Duration `yaml:"initial_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	Jitter            bool          `yaml:"jitter"`
	Timeout           time.Duration `yaml:"timeout"` // total retry budget
	RetryableStatuses []int         `yaml:"retryable_statuses"`
	RetryableMethods  []string      `yaml:"retryable_methods"`
}

// RateLimitConfig defines rate limiting behavior
type RateLimitConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Strategy string `yaml:"strategy"` // token_bucket, sliding_window
	KeyBy    string `yaml:"key_by"`   // ip, header:<name>

	// Token bucket
	Capacity   float64 `yaml:"capacity"`
	RefillRate float64 `yaml:"refill_rate"` // tokens per second

	// Sliding window
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`

	// Key map bound
	MaxKeys int `yaml:"max_keys"`
}

// CacheConfig defines response cache behavior
type CacheConfig struct {
	Enabled              bool          `yaml:"enabled"`
	DefaultTTL           time.Duration `yaml:"default_ttl"`
	MaxEntries           int           `yaml:"max_entries"`
	MaxBytes             int64         `yaml:"max_bytes"`
	MaxEntryBytes        int64         `yaml:"max_entry_bytes"`
	VaryHeaders          []string      `yaml:"vary_headers"`
	StaleWhileRevalidate time.Duration `yaml:"stale_while_revalidate"`
}

// CompressionConfig defines response compression behavior
type CompressionConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Level        int      `yaml:"level"`
	MinSize      int      `yaml:"min_size"`
	Algorithms   []string `yaml:"algorithms"`    // preference order: br, gzip, deflate
	ContentTypes []string `yaml:"content_types"` // glob patterns
}

// FallbackConfig defines fallback response behavior
type FallbackConfig struct {
	Enabled     bool                   `yaml:"enabled"`
	MaxStaleAge time.Duration          `yaml:"max_stale_age"`
	CacheTTL    time.Duration          `yaml:"cache_ttl"`
	Static      []StaticFallbackConfig `yaml:"static"`
	Templates   map[int]string         `yaml:"templates"` // status → body template
	Headers     map[string]string      `yaml:"headers"`
}

// StaticFallbackConfig registers a fixed fallback response
type StaticFallbackConfig struct {
	Route    string            `yaml:"route"`
	Upstream string            `yaml:"upstream"`
	Status   int               `yaml:"status"`
	Body     string            `yaml:"body"`
	Headers  map[string]string `yaml:"headers"`
}

// WebSocketConfig defines WebSocket bridging behavior
type WebSocketConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size"`
	WriteBufferSize int           `yaml:"write_buffer_size"`
	DialTimeout     time.Duration `yaml:"dial_timeout"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
}

// TransformConfig holds the ordered transformation rule set
type TransformConfig struct {
	Rules []TransformRuleConfig `yaml:"rules"`
}

// TransformRuleConfig defines a single transformation rule
type TransformRuleConfig struct {
	Name     string   `yaml:"name"`
	Priority int      `yaml:"priority"`
	Routes   []string `yaml:"routes"` // glob patterns; empty = all

	Conditions ConditionConfig `yaml:"conditions"`

	StatusMap map[int]int `yaml:"status_map"` // responses only

	Headers *HeaderOpsConfig `yaml:"headers"`
	CORS    *CORSConfig      `yaml:"cors"`
	Query   *QueryOpsConfig  `yaml:"query"`
	Path    []PathRewrite    `yaml:"path"`
	Body    *BodyOpsConfig   `yaml:"body"`

	ErrorTemplates map[int]ErrorTemplateConfig `yaml:"error_templates"`
}

// ConditionConfig gates rule application
type ConditionConfig struct {
	Method      string            `yaml:"method"`
	PathPrefix  string            `yaml:"path_prefix"`
	Headers     map[string]string `yaml:"headers"`
	Query       map[string]string `yaml:"query"`
	StatusCodes []int             `yaml:"status_codes"` // responses only
	ContentType string            `yaml:"content_type"` // glob
}

// HeaderOpsConfig defines header mutations in fixed apply order
type HeaderOpsConfig struct {
	Add    map[string]string   `yaml:"add"`
	Remove []string            `yaml:"remove"` // supports trailing *
	Rename map[string]string   `yaml:"rename"`
	Modify map[string]ModifyOp `yaml:"modify"`
}

// ModifyOp rewrites a header value, literally or by regex
type ModifyOp struct {
	Match   string `yaml:"match"` // regex when set
	Replace string `yaml:"replace"`
}

// CORSConfig emits CORS response headers
type CORSConfig struct {
	AllowOrigin      string   `yaml:"allow_origin"`
	AllowMethods     []string `yaml:"allow_methods"`
	AllowHeaders     []string `yaml:"allow_headers"`
	ExposeHeaders    []string `yaml:"expose_headers"`
	AllowCredentials bool     `yaml:"allow_credentials"`
	MaxAge           int      `yaml:"max_age"`
}

// QueryOpsConfig defines query parameter mutations (requests only)
type QueryOpsConfig struct {
	Add    map[string]string `yaml:"add"`
	Remove []string          `yaml:"remove"`
	Modify map[string]string `yaml:"modify"`
}

// PathRewrite rewrites the request path
type PathRewrite struct {
	Pattern     string `yaml:"pattern"` // regex
	Replacement string `yaml:"replacement"`
}

// BodyOpsConfig defines body mutations
type BodyOpsConfig struct {
	JSONWrap   string            `yaml:"json_wrap"`   // wrap body under this key
	JSONSet    map[string]string `yaml:"json_set"`    // dotted path → value
	JSONRemove []string          `yaml:"json_remove"` // dotted paths
	FormSet    map[string]string `yaml:"form_set"`
	FormRemove []string          `yaml:"form_remove"`
}

// ErrorTemplateConfig replaces error response bodies
type ErrorTemplateConfig struct {
	Body    string            `yaml:"body"`
	Headers map[string]string `yaml:"headers"`
}

// RedactionConfig controls PII scrubbing of outbound error messages
type RedactionConfig struct {
	Enabled bool `yaml:"enabled"`
}

// PluginConfig declares an external plugin
type PluginConfig struct {
	Name     string                 `yaml:"name"`
	Enabled  bool                   `yaml:"enabled"`
	Settings map[string]interface{} `yaml:"settings"`
}

// PerformanceConfig tunes pooling and worker behavior
type PerformanceConfig struct {
	WorkerCount     int  `yaml:"worker_count"`
	ContextPoolSize int  `yaml:"context_pool_size"`
	BufferPoolSize  int  `yaml:"buffer_pool_size"`
	EnablePooling   bool `yaml:"enable_pooling"`
}

// BodyParserConfig limits inbound body buffering
type BodyParserConfig struct {
	MaxSize int64 `yaml:"max_size"`
}
