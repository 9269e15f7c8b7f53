package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the policy module.
type Metrics struct {
	DecisionOutcome *prometheus.CounterVec
}

// New creates a new Metrics instance with all policy module metrics registered.
func New() *Metrics {
	return &Metrics{
		DecisionOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "llmfw_policy_decisions_total",
			Help: "Total policy decisions by action",
		}, []string{"action"}),
	}
}

// IncrementDecision records a decision outcome.
func (m *Metrics) IncrementDecision(action string) {
	if m != nil {
		m.DecisionOutcome.WithLabelValues(action).Inc()
	}
}
