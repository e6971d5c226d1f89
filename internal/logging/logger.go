// Package logging defines a minimal structured-logging interface used across
// the gateway, with slog and zap implementations.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a context-aware, structured logger.
//
// The variadic args are interpreted as key–value pairs, e.g.:
//
//	log.Info(ctx, "starting server", "addr", addr, "mode", mode)
type Logger interface {
	// Debug logs verbose diagnostics.
	Debug(ctx context.Context, msg string, args ...any)

	// Info logs an informational message.
	Info(ctx context.Context, msg string, args ...any)

	// Warn logs a warning message for unusual but non-fatal conditions.
	Warn(ctx context.Context, msg string, args ...any)

	// Error logs an error message for failures.
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger that always includes the given key–value pairs.
	With(args ...any) Logger
}

// Options selects and tunes a Logger implementation.
type Options struct {
	Backend string // "slog" (default) or "zap"
	Level   string // debug, info, warn, error
	Format  string // json (default) or text; slog only
}

// New builds the Logger described by opts, writing to w.
func New(opts Options, w io.Writer) (Logger, error) {
	switch strings.ToLower(opts.Backend) {
	case "", "slog":
		level, err := parseSlogLevel(opts.Level)
		if err != nil {
			return nil, err
		}
		ho := &slog.HandlerOptions{Level: level}
		var h slog.Handler
		if strings.EqualFold(opts.Format, "text") {
			h = slog.NewTextHandler(w, ho)
		} else {
			h = slog.NewJSONHandler(w, ho)
		}
		return NewSlogLogger(slog.New(h)), nil
	case "zap":
		level, err := zapcore.ParseLevel(defaultLevel(opts.Level))
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		enc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		core := zapcore.NewCore(enc, zapcore.AddSync(w), level)
		return NewZapLogger(zap.New(core)), nil
	default:
		return nil, fmt.Errorf("unknown log backend %q", opts.Backend)
	}
}

func defaultLevel(l string) string {
	if l == "" {
		return "info"
	}
	return l
}

func parseSlogLevel(l string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(defaultLevel(l))); err != nil {
		return 0, fmt.Errorf("log level: %w", err)
	}
	return level, nil
}
