package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersAllCollectors(t *testing.T) {
	m := New()

	m.RoutingDecisions.WithLabelValues("balanced", "success").Inc()
	m.CircuitState.WithLabelValues("a").Set(CircuitStateValue("open"))
	m.FleetSize.WithLabelValues("openai", "healthy").Set(3)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "controlplane_routing_decisions_total"))
	assert.True(t, strings.Contains(body, "controlplane_circuit_breaker_state"))
	assert.True(t, strings.Contains(body, "controlplane_fleet_instances"))
}

func TestCircuitStateValue(t *testing.T) {
	assert.Equal(t, 0.0, CircuitStateValue("closed"))
	assert.Equal(t, 1.0, CircuitStateValue("half_open"))
	assert.Equal(t, 2.0, CircuitStateValue("open"))
}

func TestNew_IndependentRegistriesDoNotConflict(t *testing.T) {
	a := New()
	b := New()

	a.RoutingDecisions.WithLabelValues("cost", "success").Inc()
	b.RoutingDecisions.WithLabelValues("cost", "success").Inc()
	// no panic from duplicate registration across independent Metrics
}
