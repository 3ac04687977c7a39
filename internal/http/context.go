package http

import (
	"context"
	"log/slog"

	"github.com/example/negotiation-scheduler/internal/logging"
)

type contextKey string

const (
	sessionIDContextKey     contextKey = "session_id"
	participantIDContextKey contextKey = "participant_id"
)

// ContextWithLogger returns a derived context carrying the request scoped logger.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return logging.ContextWithLogger(ctx, logger)
}

// LoggerFromContext extracts the request scoped logger if one was attached.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx)
}

// ContextWithSessionID injects the negotiation session identifier resolved from the request path.
func ContextWithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDContextKey, sessionID)
}

// SessionIDFromContext extracts a session identifier previously associated with the context.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDContextKey).(string)
	return id, ok
}

// ContextWithParticipantID injects the participant identifier resolved from the request path.
func ContextWithParticipantID(ctx context.Context, participantID string) context.Context {
	return context.WithValue(ctx, participantIDContextKey, participantID)
}

// ParticipantIDFromContext extracts a participant identifier previously associated with the context.
func ParticipantIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(participantIDContextKey).(string)
	return id, ok
}
