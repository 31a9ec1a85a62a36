// Package logging provides the ambient structured logging used across
// dgstream: Session, PooledSession, and Pool accept an optional *Logger,
// defaulting to an info-level text logger on stdout when none is given.
package logging

import (
	"context"
	"log/slog"
	"os"
)

type loggerKey struct{}

// Logger wraps slog.Logger with context-aware convenience methods.
type Logger struct {
	inner *slog.Logger
}

// Option configures a Logger created by New.
type Option func(*config)

type config struct {
	level   slog.Level
	handler slog.Handler
}

// WithLogLevel sets the minimum log level. Accepted values: "debug",
// "info", "warn", "error". Unrecognized values leave the default (info).
func WithLogLevel(level string) Option {
	return func(cfg *config) {
		switch level {
		case "debug":
			cfg.level = slog.LevelDebug
		case "info":
			cfg.level = slog.LevelInfo
		case "warn":
			cfg.level = slog.LevelWarn
		case "error":
			cfg.level = slog.LevelError
		}
	}
}

// WithJSON configures the logger to emit JSON-formatted output instead of
// the default text handler.
func WithJSON() Option {
	return func(cfg *config) {
		cfg.handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: cfg.level,
		})
	}
}

// New creates a Logger with the given options. Without options it
// defaults to info-level text output on stdout.
func New(opts ...Option) *Logger {
	cfg := &config{level: slog.LevelInfo}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.handler == nil {
		cfg.handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: cfg.level,
		})
	}
	return &Logger{inner: slog.New(cfg.handler)}
}

// Slog returns the underlying *slog.Logger for interop with libraries
// that accept a standard slog logger.
func (l *Logger) Slog() *slog.Logger {
	return l.inner
}

// Info logs a message at INFO level with optional key-value attributes.
func (l *Logger) Info(ctx context.Context, msg string, attrs ...any) {
	l.inner.InfoContext(ctx, msg, attrs...)
}

// Warn logs a message at WARN level. Session, PooledSession, and Pool use
// this for recoverable conditions: idle-timeout closure, keep-alive send
// failure, a failed release that closes the session.
func (l *Logger) Warn(ctx context.Context, msg string, attrs ...any) {
	l.inner.WarnContext(ctx, msg, attrs...)
}

// Error logs a message at ERROR level. Used for terminal conditions:
// connect failure, transport error, session-creation failure.
func (l *Logger) Error(ctx context.Context, msg string, attrs ...any) {
	l.inner.ErrorContext(ctx, msg, attrs...)
}

// Debug logs a message at DEBUG level with optional key-value attributes.
func (l *Logger) Debug(ctx context.Context, msg string, attrs ...any) {
	l.inner.DebugContext(ctx, msg, attrs...)
}

// With returns a new Logger carrying the given key-value attributes on
// every subsequent log entry.
func (l *Logger) With(attrs ...any) *Logger {
	return &Logger{inner: l.inner.With(attrs...)}
}

// WithLogger returns a copy of ctx carrying the given Logger.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext extracts the Logger from ctx. If no Logger is present, a
// default info-level text logger is returned.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey{}).(*Logger); ok {
		return l
	}
	return New()
}
