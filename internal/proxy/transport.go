package proxy

import (
	"net"
	"net/http"
	"time"

	"github.com/relaymesh/gateway/internal/loadbalancer"
)

// TransportConfig configures the upstream HTTP transport
type TransportConfig struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration

	DialTimeout           time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration
	ExpectContinueTimeout time.Duration

	DisableKeepAlives bool
}

// DefaultTransportConfig provides default transport settings
var DefaultTransportConfig = TransportConfig{
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   10,
	MaxConnsPerHost:       0, // unlimited
	IdleConnTimeout:       90 * time.Second,
	DialTimeout:           30 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
}

// NewTransport creates an HTTP transport with the given configuration
func NewTransport(cfg TransportConfig) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   cfg.DialTimeout,
		KeepAlive: 30 * time.Second,
	}

	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ExpectContinueTimeout: cfg.ExpectContinueTimeout,
		DisableKeepAlives:     cfg.DisableKeepAlives,
	}
}

// TransportPool holds one transport per upstream, keyed by upstream id.
// Each transport bounds its connections to the upstream's pool size and
// reaps idle connections past the idle timeout; when the bound is reached,
// acquisition blocks until a connection frees or the request deadline
// expires.
type TransportPool struct {
	defaultTransport *http.Transport
	transports       map[string]*http.Transport
}

// NewTransportPool builds transports for the given upstreams.
func NewTransportPool(upstreams []*loadbalancer.Upstream) *TransportPool {
	tp := &TransportPool{
		defaultTransport: NewTransport(DefaultTransportConfig),
		transports:       make(map[string]*http.Transport, len(upstreams)),
	}
	for _, u := range upstreams {
		cfg := DefaultTransportConfig
		cfg.MaxConnsPerHost = u.PoolSize
		cfg.MaxIdleConnsPerHost = u.PoolSize
		tp.transports[u.ID] = NewTransport(cfg)
	}
	return tp
}

// Get returns the transport for an upstream id, or the default.
func (tp *TransportPool) Get(upstreamID string) *http.Transport {
	if t, ok := tp.transports[upstreamID]; ok {
		return t
	}
	return tp.defaultTransport
}

// CloseIdleConnections closes idle connections on all transports.
func (tp *TransportPool) CloseIdleConnections() {
	tp.defaultTransport.CloseIdleConnections()
	for _, t := range tp.transports {
		t.CloseIdleConnections()
	}
}
