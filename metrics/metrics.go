// Package metrics counts and times every service operation using Prometheus so that you can
// scrape them from the API gateway's "/metrics" route.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/bridgekit-io/mathteacher/fail"
	"github.com/bridgekit-io/mathteacher/metadata"
	"github.com/bridgekit-io/mathteacher/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var fieldKeys = []string{"service", "method", "status"}

// NewCollector creates the request counter and latency histogram and registers them with
// the given registerer (e.g. prometheus.NewRegistry() or prometheus.DefaultRegisterer).
func NewCollector(registerer prometheus.Registerer, options ...CollectorOption) (*Collector, error) {
	c := Collector{
		namespace: "mathteacher",
		subsystem: "services",
		buckets:   prometheus.DefBuckets,
		now:       time.Now,
	}
	for _, option := range options {
		option(&c)
	}

	c.requestCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: c.namespace,
		Subsystem: c.subsystem,
		Name:      "request_count",
		Help:      "Number of service operations invoked.",
	}, fieldKeys)
	c.requestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: c.namespace,
		Subsystem: c.subsystem,
		Name:      "request_latency_seconds",
		Help:      "Total duration of service operations in seconds.",
		Buckets:   c.buckets,
	}, fieldKeys)

	for _, collector := range []prometheus.Collector{c.requestCount, c.requestLatency} {
		if err := registerer.Register(collector); err != nil {
			return nil, fmt.Errorf("metrics: register collector: %w", err)
		}
	}
	return &c, nil
}

// Collector records metrics for service operations. Create one via NewCollector().
type Collector struct {
	namespace      string
	subsystem      string
	buckets        []float64
	now            func() time.Time
	requestCount   *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
}

// Middleware counts and times every invocation of the endpoints it is attached to. Successful
// calls are recorded with the status "200", failures with the HTTP status of their error.
func (c *Collector) Middleware() services.MiddlewareFunc {
	return func(ctx context.Context, req any, next services.HandlerFunc) (any, error) {
		begin := c.now()
		res, err := next(ctx, req)

		route := metadata.Route(ctx)
		status := http.StatusOK
		if err != nil {
			status = fail.Status(err)
		}

		labels := prometheus.Labels{
			"service": route.ServiceName,
			"method":  route.Name,
			"status":  strconv.Itoa(status),
		}
		c.requestCount.With(labels).Inc()
		c.requestLatency.With(labels).Observe(c.now().Sub(begin).Seconds())
		return res, err
	}
}

// Handler exposes everything gathered by the given gatherer in the Prometheus text format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// CollectorOption customizes how metrics are named/bucketed.
type CollectorOption func(*Collector)

// WithNamespace overrides the metric name prefixes. The default metrics are named
// "mathteacher_services_request_count" and "mathteacher_services_request_latency_seconds".
func WithNamespace(namespace string, subsystem string) CollectorOption {
	return func(c *Collector) {
		c.namespace = namespace
		c.subsystem = subsystem
	}
}

// WithBuckets overrides the latency histogram buckets (in seconds).
func WithBuckets(buckets ...float64) CollectorOption {
	return func(c *Collector) {
		if len(buckets) > 0 {
			c.buckets = buckets
		}
	}
}
