package logger

import (
	"context"
)

type contextKey struct{}

// LogContext carries the identifiers every record of one client or
// operation should include.
type LogContext struct {
	TraceID   string
	SpanID    string
	Instance  string
	ClientID  string
	Operation string // Connect, ReceiveSlot, SendSlot, ...
}

// NewLogContext creates a LogContext for a client of an instance.
func NewLogContext(instance, clientID string) *LogContext {
	return &LogContext{Instance: instance, ClientID: clientID}
}

// WithContext returns a copy of ctx carrying lc.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, contextKey{}, lc)
}

// FromContext returns the LogContext of ctx, or nil.
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(contextKey{}).(*LogContext)
	return lc
}

// WithOperation returns a copy with the operation set.
func (lc *LogContext) WithOperation(op string) *LogContext {
	if lc == nil {
		return nil
	}
	c := *lc
	c.Operation = op
	return &c
}

// WithTrace returns a copy with trace info set.
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	if lc == nil {
		return nil
	}
	c := *lc
	c.TraceID, c.SpanID = traceID, spanID
	return &c
}

// prepend puts the non-empty identifiers in front of args.
func (lc *LogContext) prepend(args []any) []any {
	if lc == nil {
		return args
	}
	out := make([]any, 0, 10+len(args))
	for _, kv := range [...][2]string{
		{KeyTraceID, lc.TraceID},
		{KeySpanID, lc.SpanID},
		{KeyInstance, lc.Instance},
		{KeyClientID, lc.ClientID},
		{KeyOperation, lc.Operation},
	} {
		if kv[1] != "" {
			out = append(out, kv[0], kv[1])
		}
	}
	return append(out, args...)
}
