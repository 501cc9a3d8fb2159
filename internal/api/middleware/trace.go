package middleware

import (
	"net/http"

	"github.com/phrazzld/rhqueue/internal/api/shared"
	"github.com/phrazzld/rhqueue/internal/platform/logger"
)

// TraceMiddleware adds a trace ID to the request context and the response
// headers, and stores a logger carrying the trace ID on the context. It
// should run early so every later handler logs with the trace ID.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := shared.SetTraceID(r.Context())
		traceID := shared.GetTraceID(ctx)
		w.Header().Set(shared.TraceIDHeader, traceID)

		log := logger.FromContext(ctx).With("trace_id", traceID)
		log.Debug("request started",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr)

		next.ServeHTTP(w, r.WithContext(logger.WithContext(ctx, log)))
	})
}
