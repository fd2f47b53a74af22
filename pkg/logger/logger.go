package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// New returns a JSON structured logger for the given environment.
// level overrides the environment default when it is one of debug, info, warn, error.
func New(appEnv, level string) *slog.Logger {
	lvl := slog.LevelInfo
	if appEnv == "local" || appEnv == "dev" {
		lvl = slog.LevelDebug
	}
	if parsed, ok := parseLevel(level); ok {
		lvl = parsed
	}

	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(h).With("service", "callhub")
}

func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return 0, false
	}
}

type ctxKey struct{}

// With stores a logger in context.
func With(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From gets a logger from context, falling back to slog.Default().
func From(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return slog.Default()
	}
	if v := ctx.Value(ctxKey{}); v != nil {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}
