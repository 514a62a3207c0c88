// Package shield provides the HTTP middleware placed in front of the update
// endpoints: security headers, body limits, request tracing and per-client
// rate limiting.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultStack(logger, shield.Limits{Body: 1 << 20}) {
//	    r.Use(mw)
//	}
package shield

import (
	"context"
	"log/slog"
	"net/http"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// Limits bounds request sizes and rates. Zero fields disable the limit.
type Limits struct {
	Body      int64 // bytes, JSON requests
	Upload    int64 // bytes, multipart requests
	PerMinute int   // requests per client and endpoint

	// Done stops the rate limiter's background cleanup. Without it the
	// limiter keeps every client window until the process exits.
	Done <-chan struct{}
}

// DefaultStack returns the middleware stack for the update service, ordered:
// SecurityHeaders → TraceID → MaxBody → RateLimiter.
func DefaultStack(logger *slog.Logger, l Limits) []func(http.Handler) http.Handler {
	stack := []func(http.Handler) http.Handler{
		SecurityHeaders(APIHeaders()),
		TraceID(logger),
		MaxBody(l.Body, l.Upload),
	}
	if l.PerMinute > 0 {
		rl := NewRateLimiter(l.PerMinute, "/health")
		if l.Done != nil {
			rl.StartGC(l.Done)
		}
		stack = append(stack, rl.Middleware)
	}
	return stack
}

// GetLogger retrieves the per-request logger from the context.
// Returns slog.Default() if no logger was set.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
