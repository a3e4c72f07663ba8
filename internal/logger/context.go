package logger

import (
	"context"
	"time"
)

type contextKey struct{}

var logContextKey = contextKey{}

// LogContext holds operation-scoped logging context for client calls.
type LogContext struct {
	TraceID   string // OpenTelemetry trace ID
	SpanID    string // OpenTelemetry span ID
	Operation string // Node-level operation (LookUp, Rename, AcquireLock, ...)
	Server    string // Server address the mount talks to
	FileID    uint64 // File id of the node the operation runs on
	StartTime time.Time
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a LogContext for an operation against server.
func NewLogContext(server string) *LogContext {
	return &LogContext{
		Server:    server,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	clone := *lc
	return &clone
}

// WithOperation returns a copy with the operation and file id set
func (lc *LogContext) WithOperation(op string, fileID uint64) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Operation = op
		clone.FileID = fileID
	}
	return clone
}

// WithTrace returns a copy with trace info set
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
		clone.SpanID = spanID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
