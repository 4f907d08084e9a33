package prometheus

import (
	"github.com/marmos91/zerocopy/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// clientMetrics is the Prometheus implementation of metrics.ClientMetrics.
type clientMetrics struct {
	instance string

	transitions    *prometheus.CounterVec
	slotsReceived  *prometheus.CounterVec
	slotsReleased  *prometheus.CounterVec
	tokensRejected *prometheus.CounterVec
	notifications  *prometheus.CounterVec
	outstanding    *prometheus.GaugeVec
}

// NewClientMetrics creates client metrics for the named instance.
//
// Returns nil if reg is nil.
func NewClientMetrics(reg prometheus.Registerer, instance string) *clientMetrics {
	if reg == nil {
		return nil
	}

	return &clientMetrics{
		instance: instance,
		transitions: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "transitions_total",
			Help:      "Committed client state transitions",
		}, []string{"instance", "from", "to", "error_code"})),
		slotsReceived: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "slots_received_total",
			Help:      "Slots received by the application",
		}, []string{"instance"})),
		slotsReleased: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "slots_released_total",
			Help:      "Slots released back to the server",
		}, []string{"instance"})),
		tokensRejected: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "tokens_rejected_total",
			Help:      "Operations refused because of an invalid slot token",
		}, []string{"instance", "operation"})),
		notifications: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "notifications_total",
			Help:      "Slot notifications delivered to the application",
		}, []string{"instance"})),
		outstanding: register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "outstanding_slots",
			Help:      "Slots currently held by the application",
		}, []string{"instance"})),
	}
}

func (m *clientMetrics) RecordTransition(from, to, errorCode string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(m.instance, from, to, errorCode).Inc()
}

func (m *clientMetrics) RecordSlotReceived() {
	if m == nil {
		return
	}
	m.slotsReceived.WithLabelValues(m.instance).Inc()
}

func (m *clientMetrics) RecordSlotReleased() {
	if m == nil {
		return
	}
	m.slotsReleased.WithLabelValues(m.instance).Inc()
}

func (m *clientMetrics) RecordTokenRejected(operation string) {
	if m == nil {
		return
	}
	m.tokensRejected.WithLabelValues(m.instance, operation).Inc()
}

func (m *clientMetrics) RecordNotification() {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(m.instance).Inc()
}

func (m *clientMetrics) SetOutstandingSlots(n int) {
	if m == nil {
		return
	}
	m.outstanding.WithLabelValues(m.instance).Set(float64(n))
}

// Ensure clientMetrics implements metrics.ClientMetrics.
var _ metrics.ClientMetrics = (*clientMetrics)(nil)
