package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for zero-copy spans.
const (
	AttrInstance      = "zerocopy.instance"
	AttrClientID      = "zerocopy.client_id"
	AttrState         = "zerocopy.state"
	AttrTargetState   = "zerocopy.target_state"
	AttrErrorCode     = "zerocopy.error_code"
	AttrSlotIndex     = "zerocopy.slot.index"
	AttrSlotCount     = "zerocopy.slot.count"
	AttrSlotSize      = "zerocopy.slot.size"
	AttrQueueCapacity = "zerocopy.queue.capacity"
	AttrClients       = "zerocopy.clients"
	AttrBytes         = "zerocopy.bytes"
	AttrSink          = "zerocopy.recorder.sink"
)

// Span names.
const (
	SpanClientConnect    = "client.Connect"
	SpanClientDisconnect = "client.Disconnect"
	SpanClientHandshake  = "client.Handshake"
	SpanConsumerSlot     = "consumer.HandleSlot"
	SpanProducerAccept   = "producer.Accept"
	SpanProducerSend     = "producer.SendSlot"
	SpanProducerReclaim  = "producer.ReclaimSlots"
	SpanRecorderWrite    = "recorder.Write"
)

// Instance returns the instance name attribute.
func Instance(name string) attribute.KeyValue {
	return attribute.String(AttrInstance, name)
}

// ClientID returns the client identifier attribute.
func ClientID(id string) attribute.KeyValue {
	return attribute.String(AttrClientID, id)
}

// State returns the client state attribute.
func State(state string) attribute.KeyValue {
	return attribute.String(AttrState, state)
}

// TargetState returns the transition target attribute.
func TargetState(state string) attribute.KeyValue {
	return attribute.String(AttrTargetState, state)
}

// ErrorCode returns the zero-copy error code attribute.
func ErrorCode(code string) attribute.KeyValue {
	return attribute.String(AttrErrorCode, code)
}

// SlotIndex returns the slot index attribute.
func SlotIndex(index uint32) attribute.KeyValue {
	return attribute.Int64(AttrSlotIndex, int64(index))
}

// SlotLayout returns the slot count, slot size and queue capacity attributes.
func SlotLayout(count uint32, size uint64, queueCapacity uint32) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int64(AttrSlotCount, int64(count)),
		attribute.Int64(AttrSlotSize, int64(size)),
		attribute.Int64(AttrQueueCapacity, int64(queueCapacity)),
	}
}

// Clients returns the client count attribute.
func Clients(n int) attribute.KeyValue {
	return attribute.Int(AttrClients, n)
}

// Bytes returns the payload size attribute.
func Bytes(n int) attribute.KeyValue {
	return attribute.Int(AttrBytes, n)
}

// Sink returns the recorder sink attribute.
func Sink(name string) attribute.KeyValue {
	return attribute.String(AttrSink, name)
}

// StartClientSpan starts a span for a client operation.
func StartClientSpan(ctx context.Context, name, instance, clientID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append([]attribute.KeyValue{Instance(instance), ClientID(clientID)}, attrs...)
	return StartSpan(ctx, name, trace.WithAttributes(all...))
}

// StartProducerSpan starts a span for a producer operation.
func StartProducerSpan(ctx context.Context, name, instance string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append([]attribute.KeyValue{Instance(instance)}, attrs...)
	return StartSpan(ctx, name, trace.WithAttributes(all...))
}

// StartRecorderSpan starts a span for a write to a recorder sink.
func StartRecorderSpan(ctx context.Context, instance, sink string, bytes int) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanRecorderWrite, trace.WithAttributes(Instance(instance), Sink(sink), Bytes(bytes)))
}
