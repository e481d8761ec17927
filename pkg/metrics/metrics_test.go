package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gather(t *testing.T, r *Registry, name string) float64 {
	t.Helper()
	families, err := r.reg.Gather()
	require.NoError(t, err)

	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if c := m.GetCounter(); c != nil {
				total += c.GetValue()
			}
			if g := m.GetGauge(); g != nil {
				total += g.GetValue()
			}
		}
	}
	return total
}

func TestRecordDispatch_IncrementsByKind(t *testing.T) {
	r := New()
	r.RecordDispatch("implement")
	r.RecordDispatch("implement")
	r.RecordDispatch("fix_review")

	assert.Equal(t, float64(3), gather(t, r, "orchestrator_agent_dispatches_total"))
}

func TestRecordTimeoutAndRateLimit_Increment(t *testing.T) {
	r := New()
	r.RecordTimeout()
	r.RecordRateLimit()
	r.RecordRateLimit()

	assert.Equal(t, float64(1), gather(t, r, "orchestrator_agent_timeouts_total"))
	assert.Equal(t, float64(2), gather(t, r, "orchestrator_agent_rate_limits_total"))
}

func TestSetActiveAgents_ReflectsLatestValue(t *testing.T) {
	r := New()
	r.SetActiveAgents(3)
	r.SetActiveAgents(1)

	assert.Equal(t, float64(1), gather(t, r, "orchestrator_active_agents"))
}

func TestHandler_ServesExpositionFormat(t *testing.T) {
	r := New()
	r.RecordDispatch("implement")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "orchestrator_agent_dispatches_total")
}
