package server

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"

	"ipshow/internal/observability/logging"
)

// loggingWithRequest returns a logger annotated with request-scoped fields:
// the request ID from the context, the path and the displayed client IP.
func loggingWithRequest(base *slog.Logger, r *http.Request) *slog.Logger {
	if base == nil || r == nil {
		return nil
	}

	logger := loggerWithRequestContext(r.Context(), base)
	if logger == nil {
		return nil
	}

	return logger.With(
		"path", r.URL.Path,
		"remote_ip", ClientIP(r),
	)
}

func loggerWithRequestContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if ctxLogger := logging.LoggerFromContext(ctx); ctxLogger != nil {
		return ctxLogger
	}
	return logging.WithContext(ctx, logger)
}

var debugStack = debug.Stack
