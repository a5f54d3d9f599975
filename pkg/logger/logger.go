// Package logger builds the process-wide structured logger and carries
// request- and call-scoped children through context.
package logger

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// New returns the JSON logger every component shares. Debug level is only
// for local development; in production the media and poll loops would flood
// stdout at debug.
func New(appEnv string) *slog.Logger {
	level := slog.LevelInfo
	if appEnv == "local" || appEnv == "dev" {
		level = slog.LevelDebug
	}

	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(h)
}

// WithCall returns a child logger carrying the correlation fields every
// call-lifecycle log line shares. Keep the keys stable; downstream log
// queries group on them.
func WithCall(l *slog.Logger, callID, providerName string) *slog.Logger {
	return l.With("call_id", callID, "provider", providerName)
}

type ctxKey struct{}

// With stores a logger in context.
func With(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From gets a logger from context, falling back to slog.Default().
func From(ctx context.Context) *slog.Logger {
	if v := ctx.Value(ctxKey{}); v != nil {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}

// ShutdownFlush is a placeholder for future log flushing (if a buffered
// logger is used).
func ShutdownFlush(_ context.Context, _ time.Duration) error { return nil }
