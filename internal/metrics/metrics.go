// Package metrics exposes Prometheus counters for session operations and
// authorization decisions.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	registry  *prometheus.Registry
	authOps   *prometheus.CounterVec
	decisions *prometheus.CounterVec
}

// New builds a Collector on its own registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		authOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Subsystem: "session",
			Name:      "operations_total",
			Help:      "Session operations by operation and outcome.",
		}, []string{"op", "outcome"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Subsystem: "authz",
			Name:      "decisions_total",
			Help:      "Authorization gate decisions by result and reason.",
		}, []string{"result", "reason"}),
	}
	reg.MustRegister(c.authOps, c.decisions)
	return c
}

func (c *Collector) ObserveAuth(op, outcome string) {
	c.authOps.WithLabelValues(op, outcome).Inc()
}

func (c *Collector) ObserveDecision(allowed bool, reason string) {
	result := "deny"
	if allowed {
		result = "allow"
	}
	c.decisions.WithLabelValues(result, reason).Inc()
}

func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
