// Package logging builds the daemon's slog logger on top of slog-logfilter.
//
// LOG_FORMAT (text|json) overrides TTY detection; LOG_LEVEL sets the
// initial level (debug|info|warn|error, default info). A request id stored
// in the context is attached to records and can be used as a filter key.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	logfilter "github.com/jmylchreest/slog-logfilter"
	"github.com/mattn/go-isatty"
)

type contextKey string

const requestIDKey contextKey = "log_request_id"

// WithRequestID stores a request id in ctx.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID extracts the request id from ctx.
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if s, ok := ctx.Value(requestIDKey).(string); ok {
		return s
	}
	return ""
}

// FromContext returns logger with the context's request id attached.
func FromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	if id := RequestID(ctx); id != "" {
		return logger.With("request_id", id)
	}
	return logger
}

// Options overrides environment-derived settings. Zero values defer to the env.
type Options struct {
	Level  string
	Format string
	Output io.Writer
}

// New creates a logger.
func New(opts Options) *slog.Logger {
	format := opts.Format
	if format == "" {
		format = os.Getenv("LOG_FORMAT")
	}
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	if format != "text" && format != "json" {
		format = "json"
		if f, ok := out.(*os.File); ok && isTerminal(f) {
			format = "text"
		}
	}

	level := opts.Level
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}

	logfilter.RegisterContextExtractor("request_id", func(ctx context.Context) (string, bool) {
		id := RequestID(ctx)
		return id, id != ""
	})

	return logfilter.New(
		logfilter.WithLevel(ParseLevel(level)),
		logfilter.WithFormat(format),
		logfilter.WithOutput(out),
		logfilter.WithSource(false),
	)
}

// SetDefault creates a logger and installs it as slog's default.
func SetDefault(opts Options) *slog.Logger {
	logger := New(opts)
	slog.SetDefault(logger)
	return logger
}

// SetLevel changes the level at runtime.
func SetLevel(level slog.Level) {
	logfilter.SetLevel(level)
}

// ParseLevel converts a level name to slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Discard returns a logger that drops everything. Used in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
