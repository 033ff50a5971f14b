// Package log configures structured logging for nodedbg.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Format represents the log output format.
type Format string

const (
	// FormatJSON outputs one JSON object per line.
	FormatJSON Format = "json"
	// FormatText outputs key=value lines.
	FormatText Format = "text"
)

// LevelTrace is below Debug and logs every frame sent and received.
const LevelTrace = slog.Level(-8)

// Standard field keys.
const (
	SessionIDKey = "session_id"
	CommandKey   = "command"
	SeqKey       = "seq"
	ThreadIDKey  = "thread_id"
	EventKey     = "event"
)

// Config holds the logging configuration.
type Config struct {
	// Level is one of trace, debug, info, warn, error. Default: info.
	Level string

	// Format is json or text. Default: text.
	Format Format

	// Output defaults to os.Stderr.
	Output io.Writer

	// AddSource adds file and line to every record.
	AddSource bool

	// LevelVar, if set, is initialized from Level and controls the
	// logger's level afterwards, so it can be changed at runtime.
	LevelVar *slog.LevelVar
}

// DefaultConfig returns the defaults for an interactive session.
func DefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Format: FormatText,
		Output: os.Stderr,
	}
}

// FromEnv creates a Config from environment variables:
//   - NODEDBG_DEBUG: true/1 enables debug level and source locations
//   - NODEDBG_LOG_LEVEL: trace, debug, info, warn, error
//   - NODEDBG_LOG_FORMAT: json, text
//   - NODEDBG_LOG_SOURCE: 1 adds source locations
func FromEnv() *Config {
	cfg := DefaultConfig()

	debug := os.Getenv("NODEDBG_DEBUG")
	if debug == "true" || debug == "1" {
		cfg.Level = "debug"
		cfg.AddSource = true
	} else if level := os.Getenv("NODEDBG_LOG_LEVEL"); level != "" {
		cfg.Level = strings.ToLower(level)
	}

	if format := os.Getenv("NODEDBG_LOG_FORMAT"); format != "" {
		cfg.Format = Format(strings.ToLower(format))
	}
	if os.Getenv("NODEDBG_LOG_SOURCE") == "1" {
		cfg.AddSource = true
	}
	return cfg
}

// New creates a logger from cfg.
func New(cfg *Config) *slog.Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	var level slog.Leveler = ParseLevel(cfg.Level)
	if cfg.LevelVar != nil {
		cfg.LevelVar.Set(ParseLevel(cfg.Level))
		level = cfg.LevelVar
	}
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	switch cfg.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(out, opts)
	default:
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// ParseLevel converts a level name to slog.Level. Unknown names map to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ValidLevel reports whether level is a recognised level name.
func ValidLevel(level string) bool {
	switch strings.ToLower(level) {
	case "trace", "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}

// WithComponent returns a logger tagged with a component name.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With("component", component)
}

// WithSession returns a logger tagged with a debug session id.
func WithSession(logger *slog.Logger, sessionID string) *slog.Logger {
	return logger.With(slog.String(SessionIDKey, sessionID))
}

// Trace logs msg at trace level.
func Trace(logger *slog.Logger, msg string, attrs ...slog.Attr) {
	ctx := context.Background()
	if !logger.Enabled(ctx, LevelTrace) {
		return
	}
	logger.LogAttrs(ctx, LevelTrace, msg, attrs...)
}
