package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

// Loader loads and validates gateway configuration files
type Loader struct{}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{}
}

// envRefPattern matches ${VAR} and ${VAR:default} references.
var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::([^}]*))?\}`)

// interpolateEnv resolves ${VAR} and ${VAR:default} references in raw config
// bytes before decoding. Unset variables without a default resolve to empty.
func interpolateEnv(data []byte) []byte {
	return envRefPattern.ReplaceAllFunc(data, func(m []byte) []byte {
		groups := envRefPattern.FindSubmatch(m)
		name := string(groups[1])
		if val, ok := os.LookupEnv(name); ok {
			return []byte(val)
		}
		return groups[2]
	})
}

// Load reads, interpolates, decodes, defaults, and validates a config file.
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return l.Parse(data)
}

// Parse decodes config from raw YAML bytes.
func (l *Loader) Parse(data []byte) (*Config, error) {
	data = interpolateEnv(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills zero-valued fields with production defaults.
func (c *Config) ApplyDefaults() {
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.KeepAliveTimeout == 0 {
		c.Server.KeepAliveTimeout = 65 * time.Second
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = 30 * time.Second
	}
	if c.Server.HeadersTimeout == 0 {
		c.Server.HeadersTimeout = 10 * time.Second
	}
	if c.Server.MaxHeaderSize == 0 {
		c.Server.MaxHeaderSize = 1 << 20
	}
	if c.Server.MaxBodySize == 0 {
		c.Server.MaxBodySize = 10 << 20
	}
	if c.Server.DrainTimeout == 0 {
		c.Server.DrainTimeout = 30 * time.Second
	}
	if c.Admin.Port == 0 {
		c.Admin.Port = 9901
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.LoadBalancer.Strategy == "" {
		c.LoadBalancer.Strategy = "round_robin"
	}
	if c.Performance.ContextPoolSize == 0 {
		c.Performance.ContextPoolSize = 1024
	}
	if c.Performance.BufferPoolSize == 0 {
		c.Performance.BufferPoolSize = 256
	}
	if c.BodyParser.MaxSize == 0 {
		c.BodyParser.MaxSize = c.Server.MaxBodySize
	}

	for i := range c.Upstreams {
		u := &c.Upstreams[i]
		if u.Scheme == "" {
			u.Scheme = "http"
		}
		if u.Weight <= 0 {
			u.Weight = 1
		}
		if u.Timeout == 0 {
			u.Timeout = c.Server.RequestTimeout
		}
		if u.PoolSize <= 0 {
			u.PoolSize = 10
		}
	}
}

// semverPattern accepts MAJOR.MINOR.PATCH with optional pre-release tag.
var semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+(-[0-9A-Za-z.-]+)?$`)

var validStrategies = map[string]bool{
	"round_robin":          true,
	"weighted_round_robin": true,
	"least_connections":    true,
	"random":               true,
	"ip_hash":              true,
}

// Validate checks invariants that would make the gateway unbootable.
func (c *Config) Validate() error {
	var errs []string

	if c.Version != "" && !semverPattern.MatchString(c.Version) {
		errs = append(errs, fmt.Sprintf("version %q is not semver", c.Version))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if !validStrategies[c.LoadBalancer.Strategy] {
		errs = append(errs, fmt.Sprintf("load_balancer.strategy %q unknown", c.LoadBalancer.Strategy))
	}

	upstreamIDs := make(map[string]bool, len(c.Upstreams))
	for _, u := range c.Upstreams {
		if u.ID == "" {
			errs = append(errs, "upstream with empty id")
			continue
		}
		if upstreamIDs[u.ID] {
			errs = append(errs, fmt.Sprintf("duplicate upstream id %q", u.ID))
		}
		upstreamIDs[u.ID] = true
		if u.Scheme != "http" && u.Scheme != "https" {
			errs = append(errs, fmt.Sprintf("upstream %s: scheme %q must be http or https", u.ID, u.Scheme))
		}
		if u.Host == "" {
			errs = append(errs, fmt.Sprintf("upstream %s: host required", u.ID))
		}
		if u.Port < 1 || u.Port > 65535 {
			errs = append(errs, fmt.Sprintf("upstream %s: port %d out of range", u.ID, u.Port))
		}
	}

	seen := make(map[string]bool, len(c.Routes))
	for _, r := range c.Routes {
		if r.Path == "" {
			errs = append(errs, fmt.Sprintf("route %s: path required", r.ID))
			continue
		}
		method := strings.ToUpper(r.Method)
		if method == "" {
			method = "GET"
		}
		key := method + " " + r.Path
		if seen[key] {
			errs = append(errs, fmt.Sprintf("duplicate route %s", key))
		}
		seen[key] = true
		// A route with neither a pinned upstream nor a handler balances
		// across the whole pool, which requires at least one upstream.
		if r.Upstream == "" && r.Handler == "" && len(c.Upstreams) == 0 {
			errs = append(errs, fmt.Sprintf("route %s: upstream or handler required", key))
		}
		if r.Upstream != "" && !upstreamIDs[r.Upstream] {
			errs = append(errs, fmt.Sprintf("route %s: unknown upstream %q", key, r.Upstream))
		}
		if err := validateParams(r.Path); err != nil {
			errs = append(errs, fmt.Sprintf("route %s: %v", key, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

// validateParams checks parameter name uniqueness and wildcard placement.
func validateParams(path string) error {
	names := make(map[string]bool)
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i, seg := range segments {
		if strings.HasPrefix(seg, ":") {
			name := seg[1:]
			if name == "" {
				return fmt.Errorf("empty parameter name")
			}
			if names[name] {
				return fmt.Errorf("duplicate parameter %q", name)
			}
			names[name] = true
		}
		if seg == "*" && i != len(segments)-1 {
			return fmt.Errorf("wildcard must be the trailing segment")
		}
	}
	return nil
}
