// Package logging provides centralized logging for the bounce pipeline.
package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// contextKey is used for storing loggers in context.
type contextKey struct{}

var loggerKey = contextKey{}

// connectionCounter is used to generate unique connection IDs.
var connectionCounter atomic.Uint64

// NewLogger creates a new slog.Logger with the specified level. Records are
// written to stderr in key=value form for log-shipping filters.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: lvl,
	}
	handler := slog.NewTextHandler(os.Stderr, opts)
	return slog.New(handler)
}

// WithConnection returns a new logger with connection-specific attributes.
// It generates a unique connection ID for log correlation.
func WithConnection(logger *slog.Logger, remoteAddr string) *slog.Logger {
	connID := connectionCounter.Add(1)
	return logger.With(
		slog.Uint64("conn_id", connID),
		slog.String("remote_addr", remoteAddr),
	)
}

// WithComponent returns a new logger scoped to one pipeline component
// (spool, observer, publisher, imap, ...).
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String("component", component))
}

// WithWorker returns a new logger scoped to one spool worker.
func WithWorker(logger *slog.Logger, id int) *slog.Logger {
	return logger.With(slog.Int("worker", id))
}

// FromContext retrieves the logger from the context.
// Returns the default logger if none is found.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// NewContext returns a new context with the logger attached.
func NewContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}
