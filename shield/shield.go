// Package shield is the HTTP middleware in front of the knowdash API:
// security headers, a request body cap, per-request trace IDs with a scoped
// logger, and Basic auth for the routes that start external processes.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultStack(log, 64<<10) {
//	    r.Use(mw)
//	}
package shield

import (
	"log/slog"
	"net/http"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// DefaultStack returns the middleware applied to every route, outermost
// first: SecurityHeaders, MaxBody, TraceID.
func DefaultStack(log *slog.Logger, maxBody int64) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		SecurityHeaders(DefaultHeaders()),
		MaxBody(maxBody),
		TraceID(log),
	}
}
