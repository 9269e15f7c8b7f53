package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the audit module.
type Metrics struct {
	RecordsWritten prometheus.Counter
	SIEMDropped    prometheus.Counter
	ShipErrors     *prometheus.CounterVec
}

// New creates a new Metrics instance with all audit module metrics registered.
func New() *Metrics {
	return &Metrics{
		RecordsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "llmfw_audit_records_written_total",
			Help: "Total audit records written to the local log",
		}),
		SIEMDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "llmfw_audit_siem_dropped_total",
			Help: "Total audit records dropped because the SIEM queue was full",
		}),
		ShipErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "llmfw_audit_siem_ship_errors_total",
			Help: "Total SIEM shipping errors by sink",
		}, []string{"sink"}),
	}
}

// IncrementRecordsWritten records one local log write.
func (m *Metrics) IncrementRecordsWritten() {
	if m != nil {
		m.RecordsWritten.Inc()
	}
}

// SetSIEMDropped reports the cumulative SIEM drop count.
func (m *Metrics) AddSIEMDropped(n int64) {
	if m != nil {
		m.SIEMDropped.Add(float64(n))
	}
}

// IncrementShipError records a failed shipment to sink.
func (m *Metrics) IncrementShipError(sink string) {
	if m != nil {
		m.ShipErrors.WithLabelValues(sink).Inc()
	}
}
