package engine

import (
	"log/slog"
	"time"
)

// Default configuration values.
const (
	DefaultCommandTimeout = 10 * time.Second
	DefaultMaxFrames      = 64
	DefaultDrainTimeout   = 5 * time.Second
)

// Option configures an Engine during creation.
type Option func(*Engine)

// WithLogger sets the logger. The engine adds component and session_id
// fields.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithCommandTimeout sets the timeout for commands whose context has no
// deadline.
func WithCommandTimeout(timeout time.Duration) Option {
	return func(e *Engine) {
		if timeout > 0 {
			e.timeout = timeout
		}
	}
}

// WithMaxFrames limits how many frames GetFrames fetches.
func WithMaxFrames(max int) Option {
	return func(e *Engine) {
		if max > 0 {
			e.maxFrames = max
		}
	}
}

// WithBreakOnHandledExceptions stops threads on caught exceptions instead
// of resuming them after the event is published.
func WithBreakOnHandledExceptions(enabled bool) Option {
	return func(e *Engine) {
		e.breakOnHandled = enabled
	}
}

// WithExitCodeFunc supplies the debuggee's exit code when the connection
// ends without an exit event. Without it the code is -1.
func WithExitCodeFunc(fn func() int) Option {
	return func(e *Engine) {
		e.exitCode = fn
	}
}

// WithSessionID overrides the generated session identifier.
func WithSessionID(id string) Option {
	return func(e *Engine) {
		if id != "" {
			e.sessionID = id
		}
	}
}
