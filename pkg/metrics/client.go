package metrics

// ClientMetrics provides observability for a zero-copy client connection.
//
// Pass nil to disable collection. Example usage:
//
//	m := prometheus.NewClientMetrics(metrics.GetRegistry(), "radar")
//	client, err := memcon.NewClient(memcon.Config{Metrics: m, ...})
type ClientMetrics interface {
	// RecordTransition records a committed state transition. errorCode is
	// the name of the error that caused it, empty for clean transitions.
	RecordTransition(from, to, errorCode string)

	// RecordSlotReceived records a slot handed to the application.
	RecordSlotReceived()

	// RecordSlotReleased records a slot handed back to the server.
	RecordSlotReleased()

	// RecordTokenRejected records an operation refused because the token was
	// nil, foreign, stale or already released.
	RecordTokenRejected(operation string)

	// RecordNotification records a delivered slot notification.
	RecordNotification()

	// SetOutstandingSlots reports the number of slots held by the application.
	SetOutstandingSlots(n int)
}

// ProducerMetrics provides observability for a zero-copy producer.
type ProducerMetrics interface {
	// RecordSlotSent records a slot made visible to the given number of clients.
	RecordSlotSent(clients int, bytes int)

	// RecordSlotDropped records a send that reached no client. Reasons:
	// "no_free_slot", "no_room", "no_client".
	RecordSlotDropped(reason string)

	// RecordSlotsReclaimed records slots returned to the free pool.
	RecordSlotsReclaimed(n int)

	// SetConnectedClients reports the number of connected clients.
	SetConnectedClients(n int)

	// RecordClientDisconnected records a client leaving. Reasons:
	// "shutdown", "terminated", "protocol_error".
	RecordClientDisconnected(reason string)
}

// RecorderMetrics provides observability for slot recorder sinks.
type RecorderMetrics interface {
	// RecordWrite records one payload written to sink.
	RecordWrite(sink string, bytes int, seconds float64, err error)
}
