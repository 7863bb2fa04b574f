package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds request-scoped logging context for a single coordinator
// operation: a dispatch request, a control-plane op, or a graph tick.
type LogContext struct {
	RoomID        string
	DeviceID      string
	CorrelationID string
	CommandID     string
	NodeID        string // graph node id, when the log line is graph-scoped
	StartTime     time.Time
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

// NewLogContext creates a new LogContext scoped to a room.
func NewLogContext(roomID string) *LogContext {
	return &LogContext{
		RoomID:    roomID,
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

// WithDevice returns a copy with the device id set
func (lc *LogContext) WithDevice(deviceID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.DeviceID = deviceID
	}
	return clone
}

// WithCorrelation returns a copy with correlation/command ids set
func (lc *LogContext) WithCorrelation(correlationID, commandID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.CorrelationID = correlationID
		clone.CommandID = commandID
	}
	return clone
}

// WithNode returns a copy with the graph node id set
func (lc *LogContext) WithNode(nodeID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.NodeID = nodeID
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
