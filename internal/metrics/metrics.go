package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "booking"

type Collector struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InFlightGauge   prometheus.Gauge

	OutcomesTotal *prometheus.CounterVec
	StoreDuration *prometheus.HistogramVec
	RetriesTotal  *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewCollector registers the booking metrics on reg. Tests pass a fresh
// prometheus.NewRegistry so collectors never clash.
func NewCollector(reg *prometheus.Registry) *Collector {
	f := promauto.With(reg)

	return &Collector{
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route, and status code.",
		}, []string{"method", "route", "status"}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"method", "route", "status"}),

		InFlightGauge: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),

		OutcomesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "appointments",
			Name:      "outcomes_total",
			Help:      "Booking operations by operation and outcome.",
		}, []string{"operation", "outcome"}),

		StoreDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "attempt_duration_seconds",
			Help:      "Latency of individual store attempts.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0},
		}, []string{"operation"}),

		RetriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "retries_total",
			Help:      "Store attempts retried after a transient failure.",
		}, []string{"operation"}),

		gatherer: reg,
	}
}

func (c *Collector) ObserveOutcome(op, outcome string) {
	c.OutcomesTotal.WithLabelValues(op, outcome).Inc()
}

func (c *Collector) ObserveStore(op string, d time.Duration) {
	c.StoreDuration.WithLabelValues(op).Observe(d.Seconds())
}

func (c *Collector) IncRetry(op string) {
	c.RetriesTotal.WithLabelValues(op).Inc()
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
