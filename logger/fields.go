package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for structured logging.
// Use these constants instead of raw strings to keep keys consistent.
const (
	// Identity and context
	FieldRequestID = "request_id"
	FieldSession   = "session"
	FieldPeer      = "peer"
	FieldInstance  = "instance"

	// Components
	FieldComponent = "component"

	// State tree
	FieldOID       = "oid"
	FieldNamespace = "namespace"
	FieldKey       = "key"
	FieldEvent     = "event"
	FieldSnapshot  = "snapshot"
	FieldDigest    = "digest"

	// Transport
	FieldMessageType = "message_type"
	FieldCodec       = "codec"
	FieldAddress     = "address"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors
	FieldError = "error"

	// Counts and sizes
	FieldCount = "count"
	FieldSize  = "size"

	// Files and paths
	FieldFile = "file"
	FieldPath = "path"
)

type contextKey string

const (
	requestIDKey contextKey = "logger_request_id"
	sessionKey   contextKey = "logger_session"
	peerKey      contextKey = "logger_peer"
	componentKey contextKey = "logger_component"
)

// WithRequestID adds a request ID to the context for logging
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithSession adds a session identifier to the context for logging
func WithSession(ctx context.Context, session string) context.Context {
	return context.WithValue(ctx, sessionKey, session)
}

// WithPeer adds a remote peer address to the context for logging
func WithPeer(ctx context.Context, peer string) context.Context {
	return context.WithValue(ctx, peerKey, peer)
}

// WithComponent adds a component name to the context for logging
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		fields = append(fields, FieldRequestID, v)
	}
	if v, ok := ctx.Value(sessionKey).(string); ok && v != "" {
		fields = append(fields, FieldSession, v)
	}
	if v, ok := ctx.Value(peerKey).(string); ok && v != "" {
		fields = append(fields, FieldPeer, v)
	}
	if v, ok := ctx.Value(componentKey).(string); ok && v != "" {
		fields = append(fields, FieldComponent, v)
	}

	return fields
}

// FromContext returns base, or the global logger when base is nil, with the
// fields carried by ctx attached.
func FromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	if base == nil {
		base = Logger
	}
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	type Pool struct {
//	    logger *zap.SugaredLogger
//	}
//
//	func NewPool() *Pool {
//	    return &Pool{
//	        logger: logger.ComponentLogger("pulse"),
//	    }
//	}
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

// ChildLogger creates a child logger with additional context.
//
// Example:
//
//	peerLogger := logger.ChildLogger(baseLogger, logger.FieldPeer, addr)
func ChildLogger(parent *zap.SugaredLogger, keysAndValues ...interface{}) *zap.SugaredLogger {
	return parent.With(keysAndValues...)
}
