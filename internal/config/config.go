package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	dbglog "github.com/dshills/nodedbg/internal/log"
)

// Defaults.
const (
	DefaultAddress        = "127.0.0.1:5858"
	DefaultCommandTimeout = 10 * time.Second
	DefaultMaxFrames      = 64
	DefaultHookTimeout    = time.Second
	DefaultExceptionBreak = "uncaught"
)

// Exception break modes accepted in ExceptionBreak.
var exceptionBreakModes = []string{"none", "uncaught", "all"}

// Config holds the debugger settings.
type Config struct {
	// Address is the debugger listener, host:port.
	Address string `toml:"address" yaml:"address"`

	// CommandTimeout bounds each command without its own deadline.
	CommandTimeout Duration `toml:"command_timeout" yaml:"command_timeout"`

	// MaxFrames is the deepest backtrace fetched per stop.
	MaxFrames int `toml:"max_frames" yaml:"max_frames"`

	// BreakOnHandledExceptions stops on caught exceptions instead of
	// resuming past them.
	BreakOnHandledExceptions bool `toml:"break_on_handled_exceptions" yaml:"break_on_handled_exceptions"`

	// ExceptionBreak is none, uncaught or all.
	ExceptionBreak string `toml:"exception_break" yaml:"exception_break"`

	Log     LogConfig     `toml:"log" yaml:"log"`
	Metrics MetricsConfig `toml:"metrics" yaml:"metrics"`
	Hook    HookConfig    `toml:"hook" yaml:"hook"`
	REPL    REPLConfig    `toml:"repl" yaml:"repl"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level     string `toml:"level" yaml:"level"`
	Format    string `toml:"format" yaml:"format"`
	AddSource bool   `toml:"add_source" yaml:"add_source"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	// Address serves /metrics when set.
	Address string `toml:"address" yaml:"address"`
}

// HookConfig holds Lua hook settings.
type HookConfig struct {
	Script  string   `toml:"script" yaml:"script"`
	Timeout Duration `toml:"timeout" yaml:"timeout"`
}

// REPLConfig holds interactive shell settings.
type REPLConfig struct {
	HistoryFile     string `toml:"history_file" yaml:"history_file"`
	BreakpointsFile string `toml:"breakpoints_file" yaml:"breakpoints_file"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Address:        DefaultAddress,
		CommandTimeout: Duration(DefaultCommandTimeout),
		MaxFrames:      DefaultMaxFrames,
		ExceptionBreak: DefaultExceptionBreak,
		Log: LogConfig{
			Level:  "info",
			Format: string(dbglog.FormatText),
		},
		Hook: HookConfig{
			Timeout: Duration(DefaultHookTimeout),
		},
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Address == "" {
		return &ValidationError{Field: "address", Message: "must not be empty"}
	}
	if c.CommandTimeout <= 0 {
		return &ValidationError{Field: "command_timeout", Message: "must be positive"}
	}
	if c.MaxFrames < 1 {
		return &ValidationError{Field: "max_frames", Message: "must be at least 1"}
	}
	if !contains(exceptionBreakModes, c.ExceptionBreak) {
		return &ValidationError{
			Field:   "exception_break",
			Message: fmt.Sprintf("must be one of %s, got %q", strings.Join(exceptionBreakModes, ", "), c.ExceptionBreak),
		}
	}
	if !dbglog.ValidLevel(c.Log.Level) {
		return &ValidationError{Field: "log.level", Message: fmt.Sprintf("unknown level %q", c.Log.Level)}
	}
	switch dbglog.Format(c.Log.Format) {
	case dbglog.FormatJSON, dbglog.FormatText:
	default:
		return &ValidationError{Field: "log.format", Message: fmt.Sprintf("unknown format %q", c.Log.Format)}
	}
	if c.Hook.Timeout < 0 {
		return &ValidationError{Field: "hook.timeout", Message: "must not be negative"}
	}
	return nil
}

// LoggerConfig returns the logging configuration for the log package.
func (c *Config) LoggerConfig() *dbglog.Config {
	cfg := dbglog.DefaultConfig()
	cfg.Level = c.Log.Level
	cfg.Format = dbglog.Format(c.Log.Format)
	cfg.AddSource = c.Log.AddSource
	return cfg
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Duration is a time.Duration written as a string such as "10s".
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String implements fmt.Stringer.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}
