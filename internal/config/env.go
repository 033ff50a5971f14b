package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "NODEDBG_"

// envSetter applies one environment variable to a Config.
type envSetter func(c *Config, value string) error

// envMapping maps environment variables to settings.
var envMapping = map[string]envSetter{
	"NODEDBG_ADDRESS":          setString(func(c *Config) *string { return &c.Address }),
	"NODEDBG_COMMAND_TIMEOUT":  setDuration(func(c *Config) *Duration { return &c.CommandTimeout }),
	"NODEDBG_MAX_FRAMES":       setInt(func(c *Config) *int { return &c.MaxFrames }),
	"NODEDBG_BREAK_ON_HANDLED": setBool(func(c *Config) *bool { return &c.BreakOnHandledExceptions }),
	"NODEDBG_EXCEPTION_BREAK":  setString(func(c *Config) *string { return &c.ExceptionBreak }),
	"NODEDBG_LOG_LEVEL":        setString(func(c *Config) *string { return &c.Log.Level }),
	"NODEDBG_LOG_FORMAT":       setString(func(c *Config) *string { return &c.Log.Format }),
	"NODEDBG_LOG_SOURCE":       setBool(func(c *Config) *bool { return &c.Log.AddSource }),
	"NODEDBG_METRICS_ADDR":     setString(func(c *Config) *string { return &c.Metrics.Address }),
	"NODEDBG_HOOK_SCRIPT":      setString(func(c *Config) *string { return &c.Hook.Script }),
	"NODEDBG_HOOK_TIMEOUT":     setDuration(func(c *Config) *Duration { return &c.Hook.Timeout }),
	"NODEDBG_HISTORY_FILE":     setString(func(c *Config) *string { return &c.REPL.HistoryFile }),
	"NODEDBG_BREAKPOINTS_FILE": setString(func(c *Config) *string { return &c.REPL.BreakpointsFile }),
}

// EnvVars returns the environment variables ApplyEnv reads, sorted.
func EnvVars() []string {
	names := make([]string, 0, len(envMapping))
	for name := range envMapping {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ApplyEnv overlays NODEDBG_* environment variables onto c.
// Empty values are treated as valid values, not as unset.
func (c *Config) ApplyEnv() error {
	for name, set := range envMapping {
		value, ok := os.LookupEnv(name)
		if !ok {
			continue
		}
		if err := set(c, value); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func setString(field func(*Config) *string) envSetter {
	return func(c *Config, value string) error {
		*field(c) = value
		return nil
	}
}

func setInt(field func(*Config) *int) envSetter {
	return func(c *Config, value string) error {
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer %q", value)
		}
		*field(c) = n
		return nil
	}
}

func setDuration(field func(*Config) *Duration) envSetter {
	return func(c *Config, value string) error {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q", value)
		}
		*field(c) = Duration(d)
		return nil
	}
}

// setBool accepts the spellings true/yes/on/1 and false/no/off/0.
func setBool(field func(*Config) *bool) envSetter {
	return func(c *Config, value string) error {
		switch strings.ToLower(value) {
		case "true", "yes", "on", "1":
			*field(c) = true
		case "false", "no", "off", "0", "":
			*field(c) = false
		default:
			return fmt.Errorf("invalid boolean %q", value)
		}
		return nil
	}
}
