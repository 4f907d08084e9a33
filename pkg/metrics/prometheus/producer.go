package prometheus

import (
	"github.com/marmos91/zerocopy/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// producerMetrics is the Prometheus implementation of metrics.ProducerMetrics.
type producerMetrics struct {
	instance string

	slotsSent          *prometheus.CounterVec
	fanout             *prometheus.HistogramVec
	bytesSent          *prometheus.CounterVec
	slotsDropped       *prometheus.CounterVec
	slotsReclaimed     *prometheus.CounterVec
	connectedClients   *prometheus.GaugeVec
	clientDisconnected *prometheus.CounterVec
}

// NewProducerMetrics creates producer metrics for the named instance.
//
// Returns nil if reg is nil.
func NewProducerMetrics(reg prometheus.Registerer, instance string) *producerMetrics {
	if reg == nil {
		return nil
	}

	return &producerMetrics{
		instance: instance,
		slotsSent: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "producer",
			Name:      "slots_sent_total",
			Help:      "Slots made visible to at least one client",
		}, []string{"instance"})),
		fanout: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "producer",
			Name:      "slot_fanout_clients",
			Help:      "Number of clients each sent slot reached",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64},
		}, []string{"instance"})),
		bytesSent: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "producer",
			Name:      "bytes_sent_total",
			Help:      "Payload bytes written to slots",
		}, []string{"instance"})),
		slotsDropped: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "producer",
			Name:      "slots_dropped_total",
			Help:      "Sends that reached no client",
		}, []string{"instance", "reason"})),
		slotsReclaimed: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "producer",
			Name:      "slots_reclaimed_total",
			Help:      "Slots returned to the free pool",
		}, []string{"instance"})),
		connectedClients: register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "producer",
			Name:      "connected_clients",
			Help:      "Clients with a completed handshake",
		}, []string{"instance"})),
		clientDisconnected: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "producer",
			Name:      "client_disconnects_total",
			Help:      "Clients that left, by reason",
		}, []string{"instance", "reason"})),
	}
}

func (m *producerMetrics) RecordSlotSent(clients int, bytes int) {
	if m == nil {
		return
	}
	m.slotsSent.WithLabelValues(m.instance).Inc()
	m.fanout.WithLabelValues(m.instance).Observe(float64(clients))
	m.bytesSent.WithLabelValues(m.instance).Add(float64(bytes))
}

func (m *producerMetrics) RecordSlotDropped(reason string) {
	if m == nil {
		return
	}
	m.slotsDropped.WithLabelValues(m.instance, reason).Inc()
}

func (m *producerMetrics) RecordSlotsReclaimed(n int) {
	if m == nil || n == 0 {
		return
	}
	m.slotsReclaimed.WithLabelValues(m.instance).Add(float64(n))
}

func (m *producerMetrics) SetConnectedClients(n int) {
	if m == nil {
		return
	}
	m.connectedClients.WithLabelValues(m.instance).Set(float64(n))
}

func (m *producerMetrics) RecordClientDisconnected(reason string) {
	if m == nil {
		return
	}
	m.clientDisconnected.WithLabelValues(m.instance, reason).Inc()
}

// Ensure producerMetrics implements metrics.ProducerMetrics.
var _ metrics.ProducerMetrics = (*producerMetrics)(nil)
