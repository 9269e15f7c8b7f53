package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the transparent proxy.
type Metrics struct {
	Requests       *prometheus.CounterVec
	UpstreamStatus *prometheus.CounterVec
	StreamFrames   *prometheus.CounterVec
}

// New creates a new Metrics instance with all proxy metrics registered.
func New() *Metrics {
	return &Metrics{
		Requests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "llmfw_proxy_requests_total",
			Help: "Total proxy requests by provider and outcome",
		}, []string{"provider", "outcome"}),
		UpstreamStatus: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "llmfw_proxy_upstream_status_total",
			Help: "Total upstream responses by provider and status class",
		}, []string{"provider", "status_class"}),
		StreamFrames: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "llmfw_proxy_stream_frames_total",
			Help: "Total SSE frames relayed by provider",
		}, []string{"provider"}),
	}
}

func (m *Metrics) IncrementRequest(provider, outcome string) {
	if m != nil {
		m.Requests.WithLabelValues(provider, outcome).Inc()
	}
}

func (m *Metrics) IncrementUpstreamStatus(provider string, statusClass string) {
	if m != nil {
		m.UpstreamStatus.WithLabelValues(provider, statusClass).Inc()
	}
}

func (m *Metrics) IncrementStreamFrame(provider string) {
	if m != nil {
		m.StreamFrames.WithLabelValues(provider).Inc()
	}
}
