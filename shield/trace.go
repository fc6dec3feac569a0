package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/knowdash/idgen"
	"github.com/hazyhaar/knowdash/kit"
)

var newTraceID = idgen.Prefixed("req_", idgen.Default)

// TraceID gives each request a trace ID, stored under kit.TraceIDKey and
// echoed in X-Trace-ID, plus a logger carrying it under LoggerKey. An
// incoming X-Trace-ID is kept.
func TraceID(log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			traceID := r.Header.Get("X-Trace-ID")
			if traceID == "" || len(traceID) > 64 {
				traceID = newTraceID()
			}
			w.Header().Set("X-Trace-ID", traceID)

			ctx := kit.WithTraceID(r.Context(), traceID)
			ctx = kit.WithRemoteAddr(ctx, r.RemoteAddr)
			logger := log.With(
				"trace_id", traceID,
				"method", r.Method,
				"path", r.URL.Path,
			)
			ctx = context.WithValue(ctx, LoggerKey, logger)
			logger.Debug("request", "remote_addr", r.RemoteAddr)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetLogger retrieves the per-request logger from the context.
// Returns slog.Default() if no logger was set.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
