package http

import (
	"context"
	"log/slog"

	"github.com/example/negotiation-scheduler/internal/logging"
)

var defaultLogger = logging.Default

// handlerLogger tags the request logger with the handler and operation names.
func handlerLogger(ctx context.Context, fallback *slog.Logger, handlerName, operation string, attrs ...any) *slog.Logger {
	pairs := make([]any, 0, 4+len(attrs))
	pairs = append(pairs, "handler", handlerName)
	if operation != "" {
		pairs = append(pairs, "operation", operation)
	}
	return logging.Resolve(ctx, fallback).With(append(pairs, attrs...)...)
}
