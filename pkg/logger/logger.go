package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"
)

// Options controls how the service logger renders records.
type Options struct {
	Level   string
	Format  string
	Service string
	Output  io.Writer
}

// New creates a slog logger configured with the provided level and format.
// Records carry a "service" attribute when one is supplied.
func New(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	handlerOpts := &slog.HandlerOptions{
		Level: parseLevel(opts.Level),
	}

	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "text":
		handler = slog.NewTextHandler(out, handlerOpts)
	default:
		handler = slog.NewJSONHandler(out, handlerOpts)
	}

	logr := slog.New(handler)
	if opts.Service != "" {
		logr = logr.With(slog.String("service", opts.Service))
	}
	return logr
}

// Discard returns a logger that drops every record. Handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// MaskToken shortens a device token so full registration tokens never reach the logs.
func MaskToken(token string) string {
	const keep = 20
	if utf8.RuneCountInString(token) <= keep {
		return token
	}
	runes := 0
	for i := range token {
		if runes == keep {
			return token[:i] + "..."
		}
		runes++
	}
	return token
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
