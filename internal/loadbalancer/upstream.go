package loadbalancer

import (
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/relaymesh/gateway/internal/config"
)

// Upstream is a single origin target. The struct is shared read-mostly;
// the health flag and active-connection counter are the only mutable cells
// and use atomic access. The health flag is owned by the health checker.
type Upstream struct {
	ID       string
	Scheme   string
	Host     string
	Port     int
	BasePath string
	Timeout  time.Duration
	PoolSize int
	Weight   int

	HealthCheck *config.HealthCheckConfig

	healthy     atomic.Bool
	activeConns atomic.Int64

	baseURL *url.URL // pre-parsed, avoids per-request parsing
}

// NewUpstream builds an Upstream from config. Targets start healthy until
// the health checker says otherwise.
func NewUpstream(cfg config.UpstreamConfig) *Upstream {
	u := &Upstream{
		ID:          cfg.ID,
		Scheme:      cfg.Scheme,
		Host:        cfg.Host,
		Port:        cfg.Port,
		BasePath:    cfg.BasePath,
		Timeout:     cfg.Timeout,
		PoolSize:    cfg.PoolSize,
		Weight:      cfg.Weight,
		HealthCheck: cfg.HealthCheck,
	}
	if u.Weight < 1 {
		u.Weight = 1
	}
	u.healthy.Store(true)
	u.baseURL = &url.URL{
		Scheme: u.Scheme,
		Host:   u.Host + ":" + strconv.Itoa(u.Port),
		Path:   u.BasePath,
	}
	return u
}

// Address returns host:port.
func (u *Upstream) Address() string {
	return u.Host + ":" + strconv.Itoa(u.Port)
}

// BaseURL returns the pre-parsed base URL. Callers must not mutate it.
func (u *Upstream) BaseURL() *url.URL { return u.baseURL }

// Healthy atomically reads the health flag.
func (u *Upstream) Healthy() bool { return u.healthy.Load() }

// SetHealthy atomically writes the health flag. Single writer: the health checker.
func (u *Upstream) SetHealthy(v bool) { u.healthy.Store(v) }

// IncrActive atomically increments the active request count.
func (u *Upstream) IncrActive() { u.activeConns.Add(1) }

// DecrActive atomically decrements the active request count.
func (u *Upstream) DecrActive() { u.activeConns.Add(-1) }

// Active atomically reads the active request count.
func (u *Upstream) Active() int64 { return u.activeConns.Load() }
