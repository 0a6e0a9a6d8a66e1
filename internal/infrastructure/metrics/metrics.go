package metrics

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/execution-hub/exchange-withdraw/internal/domain/flow"
)

// Metrics holds the flow collectors.
type Metrics struct {
	Transitions  *prometheus.CounterVec
	Outcomes     *prometheus.CounterVec
	ActiveFlows  prometheus.Gauge
	FlowDuration *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New registers the collectors on reg. A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		Transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "withdraw",
				Subsystem: "flow",
				Name:      "transitions_total",
				Help:      "Applied flow transitions by target state",
			},
			[]string{"state"},
		),
		Outcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "withdraw",
				Subsystem: "flow",
				Name:      "outcomes_total",
				Help:      "Flows that reached a terminal state",
			},
			[]string{"outcome"},
		),
		ActiveFlows: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "withdraw",
				Subsystem: "flow",
				Name:      "active",
				Help:      "Flows currently observed",
			},
		),
		FlowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "withdraw",
				Subsystem: "flow",
				Name:      "duration_seconds",
				Help:      "Time from flow creation to its terminal state",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 900},
			},
			[]string{"outcome"},
		),
		gatherer: reg,
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Outcome is the label for a terminal state.
func Outcome(s flow.State) string {
	_, status, _ := strings.Cut(string(s), ":")
	return status
}

// Observe counts transitions of src until the returned func is called.
func (m *Metrics) Observe(src flow.Observable) (func(), error) {
	var (
		mu      sync.Mutex
		started = time.Now()
		ended   bool
	)
	m.ActiveFlows.Inc()
	unsub, err := src.Subscribe(func(s flow.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		if ended {
			return
		}
		m.Transitions.WithLabelValues(string(s.State)).Inc()
		if s.State.IsTerminal() {
			ended = true
			outcome := Outcome(s.State)
			m.Outcomes.WithLabelValues(outcome).Inc()
			m.FlowDuration.WithLabelValues(outcome).Observe(time.Since(started).Seconds())
		}
	})
	if err != nil {
		m.ActiveFlows.Dec()
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			unsub()
			m.ActiveFlows.Dec()
		})
	}, nil
}
