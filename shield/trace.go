package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/domdiff/idgen"
	"github.com/hazyhaar/domdiff/kit"
)

// TraceID tags each request with a trace id, echoed in X-Trace-ID, and
// stores a per-request logger under LoggerKey. An incoming X-Trace-ID is
// kept when it is a valid id.
func TraceID(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			traceID := r.Header.Get("X-Trace-ID")
			if !idgen.Valid(traceID) {
				traceID = idgen.Trace()
			}
			ctx := kit.WithTraceID(r.Context(), traceID)
			w.Header().Set("X-Trace-ID", traceID)

			l := logger.With(
				"trace_id", traceID,
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)
			ctx = context.WithValue(ctx, LoggerKey, l)
			l.Debug("request")

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
