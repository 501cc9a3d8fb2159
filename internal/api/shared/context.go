package shared

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Key type for context values
type ContextKey string

// Context keys for various values
const (
	// ClientContextKey is the context key for the authenticated API client name
	ClientContextKey ContextKey = "client"

	// TraceIDKey is the key for the trace ID in the request context
	TraceIDKey ContextKey = "traceID"

	// TraceIDHeader carries the trace ID back to the caller
	TraceIDHeader = "X-Trace-ID"
)

// SetTraceID adds a fresh trace ID to the context.
func SetTraceID(ctx context.Context) context.Context {
	return context.WithValue(ctx, TraceIDKey, newTraceID())
}

// GetTraceID retrieves the trace ID from the context.
// If no trace ID exists, it returns an empty string.
func GetTraceID(ctx context.Context) string {
	traceID, ok := ctx.Value(TraceIDKey).(string)
	if !ok {
		return ""
	}
	return traceID
}

// SetClient records the authenticated client name on the context.
func SetClient(ctx context.Context, client string) context.Context {
	return context.WithValue(ctx, ClientContextKey, client)
}

// GetClient returns the authenticated client name, or "" when the request
// was not authenticated.
func GetClient(ctx context.Context) string {
	client, _ := ctx.Value(ClientContextKey).(string)
	return client
}

// newTraceID returns 32 hex characters.
func newTraceID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
