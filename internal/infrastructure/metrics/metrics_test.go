package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/execution-hub/exchange-withdraw/internal/domain/flow"
)

func TestOutcome(t *testing.T) {
	assert.Equal(t, "completed", Outcome(flow.StateWithdrawCompleted))
	assert.Equal(t, "cancelled", Outcome(flow.StateCancelled))
	assert.Equal(t, "blocked", Outcome(flow.StateWithdrawBlocked))
	assert.Equal(t, "", Outcome(flow.StateIdle))
}

func TestObserve_CountsTransitionsAndOutcome(t *testing.T) {
	m := New(prometheus.NewRegistry())
	f := flow.New("org-1", "proj-1")

	stop, err := m.Observe(f)
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveFlows))

	_, err = f.Send(flow.LoadExchanges{})
	require.NoError(t, err)
	_, err = f.Send(flow.ExchangesFailed{Err: errors.New("down")})
	require.NoError(t, err)
	_, err = f.Send(flow.CancelFlow{})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues(string(flow.StateIdle))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues(string(flow.StateExchangesLoading))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues(string(flow.StateExchangesError))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Outcomes.WithLabelValues("cancelled")))

	stop()
	stop()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveFlows))
}

func TestObserve_DisposedFlow(t *testing.T) {
	m := New(nil)
	f := flow.New("org-1", "proj-1")
	f.Dispose()

	_, err := m.Observe(f)
	assert.Error(t, err)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveFlows))
}

func TestHandler(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Outcomes.WithLabelValues("completed").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `withdraw_flow_outcomes_total{outcome="completed"} 1`)
}
