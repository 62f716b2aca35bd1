package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus exports operation observations on its own registry so several
// runs in one process do not collide on the global one.
type Prometheus struct {
	registry *prometheus.Registry
	duration *prometheus.HistogramVec
	total    *prometheus.CounterVec
	bytes    *prometheus.CounterVec
}

func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mqfire",
			Name:      "operation_duration_seconds",
			Help:      "Latency of queue operations by operation and outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
		}, []string{"operation", "outcome"}),
		total: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mqfire",
			Name:      "operations_total",
			Help:      "Queue operations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mqfire",
			Name:      "operation_bytes_total",
			Help:      "Encoded message bytes moved by successful operations.",
		}, []string{"operation"}),
	}
	p.registry.MustRegister(p.duration, p.total, p.bytes)
	return p
}

func (p *Prometheus) RecordOperation(op, outcome string, latency time.Duration, bytes int) {
	p.duration.WithLabelValues(op, outcome).Observe(latency.Seconds())
	p.total.WithLabelValues(op, outcome).Inc()
	if bytes > 0 {
		p.bytes.WithLabelValues(op).Add(float64(bytes))
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
