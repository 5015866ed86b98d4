package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds request-scoped logging context
type LogContext struct {
	RequestID string    // Request correlation ID
	Store     string    // Named store being accessed
	FileID    string    // File identifier being accessed
	ClientIP  string    // Client IP address (without port)
	StartTime time.Time // For duration calculation
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

// NewLogContext creates a new LogContext with the given request ID
func NewLogContext(requestID string) *LogContext {
	return &LogContext{
		RequestID: requestID,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	return &LogContext{
		RequestID: lc.RequestID,
		Store:     lc.Store,
		FileID:    lc.FileID,
		ClientIP:  lc.ClientIP,
		StartTime: lc.StartTime,
	}
}

// WithFile returns a copy with the store and file ID set
func (lc *LogContext) WithFile(store, fileID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Store = store
		clone.FileID = fileID
	}
	return clone
}

// WithClient returns a copy with the client IP set
func (lc *LogContext) WithClient(ip string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.ClientIP = ip
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
