package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the token store module.
type Metrics struct {
	RecordCount prometheus.Gauge
	Operations  *prometheus.CounterVec
}

// New creates a new Metrics instance with all token module metrics registered.
func New() *Metrics {
	return &Metrics{
		RecordCount: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "llmfw_token_records",
			Help: "Current number of live token records in the in-memory store",
		}),
		Operations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "llmfw_token_operations_total",
			Help: "Total token store operations by kind and outcome",
		}, []string{"op", "outcome"}),
	}
}

// SetRecordCount reports the current live record count.
func (m *Metrics) SetRecordCount(n int) {
	if m != nil {
		m.RecordCount.Set(float64(n))
	}
}

// IncrementOperation records a put/get/extend_ttl outcome.
func (m *Metrics) IncrementOperation(op, outcome string) {
	if m != nil {
		m.Operations.WithLabelValues(op, outcome).Inc()
	}
}
