package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mtlynch/sia-load-tester/internal/termio"
)

// Options controls how New builds a logger.
type Options struct {
	Level  string    // debug, info, warn, error (default: info)
	Format string    // text or json (default: text)
	Output io.Writer // default: termio.Stderr()
}

// New creates a new structured logger with text output on stderr.
// app: application name (e.g., "siaload")
// level: one of "debug", "info", "warn", "error" (default: "info")
func New(app string, level string) *slog.Logger {
	return NewWithOptions(app, Options{Level: level})
}

// NewWithOptions creates a structured logger tagged with app and pid.
func NewWithOptions(app string, opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = termio.Stderr()
	}
	handlerOpts := &slog.HandlerOptions{
		Level: parseLevel(opts.Level),
	}
	var handler slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		handler = slog.NewJSONHandler(out, handlerOpts)
	} else {
		handler = slog.NewTextHandler(out, handlerOpts)
	}

	return slog.New(handler).With(
		slog.String("app", app),
		slog.Int("pid", os.Getpid()),
	)
}

// Discard returns a logger that drops everything. Used by tests and by
// components constructed without a logger.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ValidLevel reports whether level is one of the names parseLevel understands.
func ValidLevel(level string) bool {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

// ValidFormat reports whether format names a supported handler.
func ValidFormat(format string) bool {
	switch strings.ToLower(format) {
	case "text", "json":
		return true
	}
	return false
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "info":
		return slog.LevelInfo
	default:
		return slog.LevelInfo
	}
}
