// Package metrics wraps Prometheus collectors with the diamond's cut,
// dispatch and registry-size telemetry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result labels.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Collector provides diamond metrics collection.
type Collector struct {
	registry *prometheus.Registry

	cutsTotal    *prometheus.CounterVec
	cutErrors    *prometheus.CounterVec
	cutLatency   *prometheus.HistogramVec
	cutSelectors prometheus.Histogram

	dispatchTotal   *prometheus.CounterVec
	dispatchLatency *prometheus.HistogramVec

	routes *prometheus.GaugeVec
	facets *prometheus.GaugeVec
}

// NewCollector creates a collector with its own registry.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "diamond"
	}

	c := &Collector{registry: prometheus.NewRegistry()}

	c.cutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cut",
			Name:      "total",
			Help:      "Total number of ApplyCut calls by result",
		},
		[]string{"diamond", "result"},
	)

	c.cutErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cut",
			Name:      "errors_total",
			Help:      "Rejected cuts by error kind",
		},
		[]string{"diamond", "kind"},
	)

	c.cutLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cut",
			Name:      "duration_seconds",
			Help:      "Time taken to validate, apply and commit a cut",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14), // 100us to ~1.6s
		},
		[]string{"diamond", "result"},
	)

	c.cutSelectors = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cut",
			Name:      "selectors",
			Help:      "Number of selectors touched by one applied cut",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	c.dispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "total",
			Help:      "Total number of routed calls by result",
		},
		[]string{"diamond", "result"},
	)

	c.dispatchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Time taken by a routed call including the facet",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 16),
		},
		[]string{"diamond"},
	)

	c.routes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "routes",
			Help:      "Number of routed selectors",
		},
		[]string{"diamond"},
	)

	c.facets = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "facets",
			Help:      "Number of distinct facets with at least one route",
		},
		[]string{"diamond"},
	)

	c.registry.MustRegister(
		c.cutsTotal, c.cutErrors, c.cutLatency, c.cutSelectors,
		c.dispatchTotal, c.dispatchLatency,
		c.routes, c.facets,
	)
	return c
}

// Registry returns the Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordCut records an applied cut and how many selectors it touched.
func (c *Collector) RecordCut(diamond string, selectors int, d time.Duration) {
	if c == nil {
		return
	}
	c.cutsTotal.WithLabelValues(diamond, ResultSuccess).Inc()
	c.cutLatency.WithLabelValues(diamond, ResultSuccess).Observe(d.Seconds())
	c.cutSelectors.Observe(float64(selectors))
}

// RecordCutError records a rejected cut by error kind.
func (c *Collector) RecordCutError(diamond, kind string, d time.Duration) {
	if c == nil {
		return
	}
	c.cutsTotal.WithLabelValues(diamond, ResultFailure).Inc()
	c.cutErrors.WithLabelValues(diamond, kind).Inc()
	c.cutLatency.WithLabelValues(diamond, ResultFailure).Observe(d.Seconds())
}

// RecordDispatch records one routed call.
func (c *Collector) RecordDispatch(diamond string, ok bool, d time.Duration) {
	if c == nil {
		return
	}
	result := ResultSuccess
	if !ok {
		result = ResultFailure
	}
	c.dispatchTotal.WithLabelValues(diamond, result).Inc()
	c.dispatchLatency.WithLabelValues(diamond).Observe(d.Seconds())
}

// SetRegistrySize publishes the current route and facet counts.
func (c *Collector) SetRegistrySize(diamond string, routes, facets int) {
	if c == nil {
		return
	}
	c.routes.WithLabelValues(diamond).Set(float64(routes))
	c.facets.WithLabelValues(diamond).Set(float64(facets))
}
