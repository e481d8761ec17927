// Package metrics exposes orchestrator counters and gauges over a
// dedicated Prometheus registry, served via promhttp on the dashboard's
// /metrics endpoint.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry implements agentpool.Recorder against a private Prometheus
// registry rather than the global default one; that registry also carries
// the Go-runtime and process collectors.
type Registry struct {
	reg *prometheus.Registry

	dispatchesTotal *prometheus.CounterVec
	timeoutsTotal   prometheus.Counter
	rateLimitsTotal prometheus.Counter
	activeAgents    prometheus.Gauge
}

// New creates a Registry with its collectors registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	r := &Registry{
		reg: reg,
		dispatchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_agent_dispatches_total",
			Help: "Total number of agent processes dispatched, by kind.",
		}, []string{"kind"}),
		timeoutsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "orchestrator_agent_timeouts_total",
			Help: "Total number of agent runs that hit their timeout.",
		}),
		rateLimitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "orchestrator_agent_rate_limits_total",
			Help: "Total number of agent runs terminated by a rate-limit signature.",
		}),
		activeAgents: factory.NewGauge(prometheus.GaugeOpts{
			Name: "orchestrator_active_agents",
			Help: "Number of agent processes currently running.",
		}),
	}
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	return r
}

// RecordDispatch increments the dispatch counter for kind ("implement" or
// "fix_review").
func (r *Registry) RecordDispatch(kind string) {
	r.dispatchesTotal.WithLabelValues(kind).Inc()
}

// RecordTimeout increments the timeout counter.
func (r *Registry) RecordTimeout() {
	r.timeoutsTotal.Inc()
}

// RecordRateLimit increments the rate-limit counter.
func (r *Registry) RecordRateLimit() {
	r.rateLimitsTotal.Inc()
}

// SetActiveAgents sets the active-agent gauge to n.
func (r *Registry) SetActiveAgents(n int) {
	r.activeAgents.Set(float64(n))
}

// Handler returns the http.Handler that serves this registry's metrics in
// the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Registerer exposes the underlying registry so other packages (the
// rate-limit detector) can register their own collectors under the same
// /metrics exposition instead of the global default registry.
func (r *Registry) Registerer() prometheus.Registerer {
	return r.reg
}
