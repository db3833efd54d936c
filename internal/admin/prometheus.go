package admin

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/relaymesh/gateway/internal/metrics"
)

// collector bridges the aggregator into a prometheus.Collector so the
// standard registry and promhttp handler do the exposition.
type collector struct {
	agg *metrics.Aggregator

	requestsTotal *prometheus.Desc
	errorsTotal   *prometheus.Desc
	bytesSent     *prometheus.Desc
	bytesReceived *prometheus.Desc
	activeConns   *prometheus.Desc
	duration      *prometheus.Desc
	routeRequests *prometheus.Desc
	routeErrors   *prometheus.Desc
	upstreamReqs  *prometheus.Desc
	upstreamErrs  *prometheus.Desc
}

func newCollector(agg *metrics.Aggregator) *collector {
	return &collector{
		agg: agg,
		requestsTotal: prometheus.NewDesc("gateway_requests_total",
			"Total number of requests", nil, nil),
		errorsTotal: prometheus.NewDesc("gateway_errors_total",
			"Total errors by category", []string{"category"}, nil),
		bytesSent: prometheus.NewDesc("gateway_bytes_sent_total",
			"Total bytes sent to clients", nil, nil),
		bytesReceived: prometheus.NewDesc("gateway_bytes_received_total",
			"Total bytes received from clients", nil, nil),
		activeConns: prometheus.NewDesc("gateway_active_connections",
			"Currently open client connections", nil, nil),
		duration: prometheus.NewDesc("gateway_request_duration_milliseconds",
			"Request latency over the live window", nil, nil),
		routeRequests: prometheus.NewDesc("gateway_route_requests_total",
			"Requests per route", []string{"route"}, nil),
		routeErrors: prometheus.NewDesc("gateway_route_errors_total",
			"Errors per route", []string{"route"}, nil),
		upstreamReqs: prometheus.NewDesc("gateway_upstream_requests_total",
			"Requests per upstream", []string{"upstream"}, nil),
		upstreamErrs: prometheus.NewDesc("gateway_upstream_errors_total",
			"Errors per upstream", []string{"upstream"}, nil),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.requestsTotal
	ch <- c.errorsTotal
	ch <- c.bytesSent
	ch <- c.bytesReceived
	ch <- c.activeConns
	ch <- c.duration
	ch <- c.routeRequests
	ch <- c.routeErrors
	ch <- c.upstreamReqs
	ch <- c.upstreamErrs
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	s := c.agg.Summary()

	ch <- prometheus.MustNewConstMetric(c.requestsTotal, prometheus.CounterValue, float64(s.TotalRequests))
	ch <- prometheus.MustNewConstMetric(c.bytesSent, prometheus.CounterValue, float64(s.BytesSent))
	ch <- prometheus.MustNewConstMetric(c.bytesReceived, prometheus.CounterValue, float64(s.BytesReceived))
	ch <- prometheus.MustNewConstMetric(c.activeConns, prometheus.GaugeValue, float64(s.ActiveConnections))

	errs := s.Errors
	for _, e := range []struct {
		category string
		value    int64
	}{
		{"client", errs.Client},
		{"server", errs.Server},
		{"network", errs.Network},
		{"timeout", errs.Timeout},
		{"circuit_breaker", errs.CircuitBreaker},
		{"transformation", errs.Transformation},
		{"other", errs.Other},
	} {
		ch <- prometheus.MustNewConstMetric(c.errorsTotal, prometheus.CounterValue, float64(e.value), e.category)
	}

	buckets, count, sum := c.agg.Histogram().Snapshot()
	cumulative := make(map[float64]uint64, len(buckets))
	var acc uint64
	for _, bound := range metrics.DefaultBuckets {
		acc += uint64(buckets[bound])
		cumulative[bound] = acc
	}
	ch <- prometheus.MustNewConstHistogram(c.duration, uint64(count), sum, cumulative)

	for route, r := range c.agg.Routes() {
		ch <- prometheus.MustNewConstMetric(c.routeRequests, prometheus.CounterValue, float64(r.Requests), route)
		ch <- prometheus.MustNewConstMetric(c.routeErrors, prometheus.CounterValue, float64(r.Errors), route)
	}
	for upstream, r := range c.agg.Upstreams() {
		ch <- prometheus.MustNewConstMetric(c.upstreamReqs, prometheus.CounterValue, float64(r.Requests), upstream)
		ch <- prometheus.MustNewConstMetric(c.upstreamErrs, prometheus.CounterValue, float64(r.Errors), upstream)
	}
}
