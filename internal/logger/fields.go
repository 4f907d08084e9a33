package logger

import (
	"log/slog"
)

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so logs from the
// consumer, the producer and the status API can be correlated.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // OpenTelemetry trace ID
	KeySpanID  = "span_id"  // OpenTelemetry span ID

	// ========================================================================
	// Instance & Client Identification
	// ========================================================================
	KeyInstance = "instance"  // Zero-copy instance name
	KeyClientID = "client_id" // Client identifier (UUID)
	KeyPeer     = "peer"      // Side-channel peer description
	KeySocket   = "socket"    // Side-channel socket path

	// ========================================================================
	// State Machine
	// ========================================================================
	KeyState       = "state"        // Current client state
	KeyTargetState = "target_state" // Requested transition target
	KeyEvent       = "event"        // Side-channel event name
	KeyOperation   = "operation"    // User operation name
	KeyListening   = "listening"    // Notified (true) or polling (false) reception

	// ========================================================================
	// Slots & Memory
	// ========================================================================
	KeySlotIndex     = "slot_index"     // Slot index
	KeyGeneration    = "generation"     // Token generation
	KeySlotCount     = "slot_count"     // Number of slots
	KeySlotSize      = "slot_size"      // Slot content size in bytes
	KeyAlignment     = "alignment"      // Slot content alignment
	KeyQueueCapacity = "queue_capacity" // Slot queue capacity
	KeyOutstanding   = "outstanding"    // Slots held by the client
	KeyMemoryBackend = "memory_backend" // memfd or heap
	KeySize          = "size"           // Size in bytes
	KeyBytes         = "bytes"          // Payload bytes
	KeyReclaimed     = "reclaimed"      // Slots reclaimed in one pass
	KeyClients       = "clients"        // Connected clients

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyErrorCode  = "error_code"  // Zero-copy error code name
	KeyAttempt    = "attempt"     // Retry attempt number

	// ========================================================================
	// Recorder
	// ========================================================================
	KeySink   = "sink"   // Recorder sink: file, badger, s3
	KeyBucket = "bucket" // Object storage bucket
	KeyKey    = "key"    // Object or record key
	KeyPath   = "path"   // Filesystem path
)

// ============================================================================
// Field constructors for type safety
// ============================================================================

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for OpenTelemetry span ID
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// Instance returns a slog.Attr for the instance name
func Instance(name string) slog.Attr {
	return slog.String(KeyInstance, name)
}

// ClientID returns a slog.Attr for the client identifier
func ClientID(id string) slog.Attr {
	return slog.String(KeyClientID, id)
}

// Socket returns a slog.Attr for a side-channel socket path
func Socket(path string) slog.Attr {
	return slog.String(KeySocket, path)
}

// State returns a slog.Attr for a client state. Accepts any fmt.Stringer.
func State(s interface{ String() string }) slog.Attr {
	return slog.String(KeyState, s.String())
}

// TargetState returns a slog.Attr for a transition target state
func TargetState(s interface{ String() string }) slog.Attr {
	return slog.String(KeyTargetState, s.String())
}

// Event returns a slog.Attr for a side-channel event name
func Event(name string) slog.Attr {
	return slog.String(KeyEvent, name)
}

// Operation returns a slog.Attr for a user operation name
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// SlotIndex returns a slog.Attr for a slot index
func SlotIndex(index uint32) slog.Attr {
	return slog.Uint64(KeySlotIndex, uint64(index))
}

// SlotCount returns a slog.Attr for a number of slots
func SlotCount(n uint32) slog.Attr {
	return slog.Uint64(KeySlotCount, uint64(n))
}

// SlotSize returns a slog.Attr for the slot content size
func SlotSize(s uint64) slog.Attr {
	return slog.Uint64(KeySlotSize, s)
}

// QueueCapacity returns a slog.Attr for a slot queue capacity
func QueueCapacity(n uint32) slog.Attr {
	return slog.Uint64(KeyQueueCapacity, uint64(n))
}

// MemoryBackend returns a slog.Attr for the memory provider backend
func MemoryBackend(name string) slog.Attr {
	return slog.String(KeyMemoryBackend, name)
}

// Clients returns a slog.Attr for a number of connected clients
func Clients(n int) slog.Attr {
	return slog.Int(KeyClients, n)
}

// Listening returns a slog.Attr for the reception mode
func Listening(on bool) slog.Attr {
	return slog.Bool(KeyListening, on)
}

// Outstanding returns a slog.Attr for the number of held slots
func Outstanding(n int) slog.Attr {
	return slog.Int(KeyOutstanding, n)
}

// Size returns a slog.Attr for a size in bytes
func Size(s uint64) slog.Attr {
	return slog.Uint64(KeySize, s)
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error. A nil error yields an empty attr,
// which handlers skip.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// ErrorCode returns a slog.Attr for a zero-copy error code name
func ErrorCode(code interface{ String() string }) slog.Attr {
	return slog.String(KeyErrorCode, code.String())
}

// Sink returns a slog.Attr for a recorder sink name
func Sink(name string) slog.Attr {
	return slog.String(KeySink, name)
}
