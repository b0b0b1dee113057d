package flowsession

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is
// valid and records nothing, so the engine can call the observe methods
// unconditionally.
type Metrics struct {
	sessionTransitions *prometheus.CounterVec
	stageTransitions   *prometheus.CounterVec
	operationErrors    *prometheus.CounterVec
}

// NewMetrics creates the engine collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sessionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowsession",
			Name:      "session_transitions_total",
			Help:      "Session lifecycle transitions by target status.",
		}, []string{"to"}),
		stageTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowsession",
			Name:      "stage_transitions_total",
			Help:      "Stage-instance lifecycle transitions by target status.",
		}, []string{"to"}),
		operationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowsession",
			Name:      "operation_errors_total",
			Help:      "Engine operations that returned an error.",
		}, []string{"operation"}),
	}
	reg.MustRegister(m.sessionTransitions, m.stageTransitions, m.operationErrors)
	return m
}

func (m *Metrics) observeSessionTransition(to string) {
	if m == nil {
		return
	}
	m.sessionTransitions.WithLabelValues(to).Inc()
}

func (m *Metrics) observeStageTransition(to string) {
	if m == nil {
		return
	}
	m.stageTransitions.WithLabelValues(to).Inc()
}

func (m *Metrics) observeError(operation string) {
	if m == nil {
		return
	}
	m.operationErrors.WithLabelValues(operation).Inc()
}
