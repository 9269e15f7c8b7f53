package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the detector module.
type Metrics struct {
	DetectLatency prometheus.Histogram
	SpansFound    *prometheus.CounterVec
	Timeouts      prometheus.Counter
}

// New creates a new Metrics instance with all detector metrics registered.
func New() *Metrics {
	return &Metrics{
		DetectLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "llmfw_detector_detect_duration_seconds",
			Help:    "Duration of a full Detect call over one payload",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),

		SpansFound: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "llmfw_detector_spans_total",
			Help: "Total spans found by category",
		}, []string{"category"}),

		Timeouts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "llmfw_detector_timeouts_total",
			Help: "Total pattern budget timeouts",
		}),
	}
}

// ObserveDetectLatency records the duration of a Detect call.
func (m *Metrics) ObserveDetectLatency(d time.Duration) {
	if m != nil {
		m.DetectLatency.Observe(d.Seconds())
	}
}

// IncrementSpansFound records spans found, grouped by category.
func (m *Metrics) IncrementSpansFound(category string, n int) {
	if m != nil {
		m.SpansFound.WithLabelValues(category).Add(float64(n))
	}
}

// IncrementTimeouts records a pattern budget timeout.
func (m *Metrics) IncrementTimeouts() {
	if m != nil {
		m.Timeouts.Inc()
	}
}
