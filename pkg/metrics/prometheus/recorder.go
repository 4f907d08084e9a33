package prometheus

import (
	"github.com/marmos91/zerocopy/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// recorderMetrics is the Prometheus implementation of metrics.RecorderMetrics.
type recorderMetrics struct {
	writes   *prometheus.CounterVec
	bytes    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewRecorderMetrics creates recorder sink metrics.
//
// Returns nil if reg is nil.
func NewRecorderMetrics(reg prometheus.Registerer) *recorderMetrics {
	if reg == nil {
		return nil
	}

	return &recorderMetrics{
		writes: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recorder",
			Name:      "writes_total",
			Help:      "Payloads written by recorder sinks, by outcome",
		}, []string{"sink", "status"})),
		bytes: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recorder",
			Name:      "bytes_total",
			Help:      "Payload bytes written by recorder sinks",
		}, []string{"sink"})),
		duration: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "recorder",
			Name:      "write_duration_seconds",
			Help:      "Duration of recorder sink writes",
			Buckets: []float64{
				0.0001, // 100us - file and badger
				0.001,  // 1ms
				0.01,   // 10ms
				0.1,    // 100ms - object storage
				1,      // 1s
				5,      // 5s
			},
		}, []string{"sink"})),
	}
}

func (m *recorderMetrics) RecordWrite(sink string, bytes int, seconds float64, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	} else {
		m.bytes.WithLabelValues(sink).Add(float64(bytes))
	}
	m.writes.WithLabelValues(sink, status).Inc()
	m.duration.WithLabelValues(sink).Observe(seconds)
}

// Ensure recorderMetrics implements metrics.RecorderMetrics.
var _ metrics.RecorderMetrics = (*recorderMetrics)(nil)
