package hook

import (
	"errors"
	"fmt"
)

// Errors returned by the runner.
var (
	// ErrRunnerClosed indicates the runner has been closed.
	ErrRunnerClosed = errors.New("hook runner closed")

	// ErrUnknownAction indicates a hook returned an unrecognized action.
	ErrUnknownAction = errors.New("unknown hook action")
)

// ScriptError wraps a Lua error raised by a hook.
type ScriptError struct {
	// Hook is the global function that failed, or the script path when
	// loading failed.
	Hook string
	Err  error
}

// Error implements the error interface.
func (e *ScriptError) Error() string {
	return fmt.Sprintf("hook %s: %v", e.Hook, e.Err)
}

// Unwrap returns the underlying error.
func (e *ScriptError) Unwrap() error {
	return e.Err
}
