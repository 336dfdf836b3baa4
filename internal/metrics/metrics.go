// Package metrics exports the control plane's Prometheus collectors,
// grounded on internal/api/metrics.go's custom-registry
// CounterVec/HistogramVec/promhttp shape, generalized from per-tenant HTTP
// request counters to the fleet's own routing/breaker/scaling concerns.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the control plane exports. Unlike the
// teacher's singleton-pattern Metrics, this one takes no global state: the
// composition root owns exactly one instance and passes it explicitly to
// the API server.
type Metrics struct {
	RoutingDecisions  *prometheus.CounterVec
	RoutingLatency    *prometheus.HistogramVec
	FailoverAttempts  *prometheus.CounterVec
	CircuitState      *prometheus.GaugeVec
	HealthCheckScore  *prometheus.GaugeVec
	ScalingEventsTotal *prometheus.CounterVec
	FleetSize         *prometheus.GaugeVec

	registry *prometheus.Registry
}

// New creates and registers every collector against a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		RoutingDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "controlplane_routing_decisions_total",
				Help: "Total number of routing decisions, by strategy and outcome",
			},
			[]string{"strategy", "outcome"},
		),
		RoutingLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "controlplane_routing_duration_seconds",
				Help:    "Time spent classifying and selecting a candidate",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"strategy"},
		),
		FailoverAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "controlplane_failover_attempts_total",
				Help: "Total number of failover dispatch attempts, by provider and result",
			},
			[]string{"provider", "result"},
		),
		CircuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "controlplane_circuit_breaker_state",
				Help: "Circuit breaker state per instance (0=closed, 1=half_open, 2=open)",
			},
			[]string{"instance_id"},
		),
		HealthCheckScore: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "controlplane_health_score",
				Help: "Most recent health probe score per instance, 0-100",
			},
			[]string{"instance_id", "provider"},
		),
		ScalingEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "controlplane_scaling_events_total",
				Help: "Total number of scaling decisions executed, by group and direction",
			},
			[]string{"group_id", "direction"},
		),
		FleetSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "controlplane_fleet_instances",
				Help: "Current number of active instances, by provider and status",
			},
			[]string{"provider", "status"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.RoutingDecisions,
		m.RoutingLatency,
		m.FailoverAttempts,
		m.CircuitState,
		m.HealthCheckScore,
		m.ScalingEventsTotal,
		m.FleetSize,
	)

	return m
}

// CircuitStateValue maps a model.CircuitState string onto the gauge's
// numeric encoding (kept here rather than in internal/model to avoid that
// package depending on metrics).
func CircuitStateValue(state string) float64 {
	switch state {
	case "half_open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}

// Handler returns the Prometheus scrape handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
