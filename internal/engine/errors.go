package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/dshills/nodedbg/internal/session"
	"github.com/dshills/nodedbg/internal/v8"
)

// Errors returned by engine operations.
var (
	// ErrConnectionClosed indicates the transport is gone. Every pending and
	// future operation fails with it.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrRuntimeRejected indicates the runtime answered with a failure.
	ErrRuntimeRejected = errors.New("runtime rejected command")

	// ErrTimeout indicates the runtime did not answer in time.
	ErrTimeout = errors.New("command timed out")

	// ErrNotSupported indicates the runtime cannot perform the operation.
	ErrNotSupported = errors.New("operation not supported")

	// ErrInvalidLocation indicates a breakpoint location without a file or
	// with a line below 1.
	ErrInvalidLocation = errors.New("invalid source location")

	// ErrProtocol indicates a malformed message from the runtime.
	ErrProtocol = v8.ErrProtocol

	// ErrThreadRunning indicates the operation needs a stopped thread.
	ErrThreadRunning = session.ErrThreadRunning

	// ErrUnknownThread indicates the thread is not live.
	ErrUnknownThread = session.ErrUnknownThread

	// ErrUnknownBreakpoint indicates the breakpoint is not bound.
	ErrUnknownBreakpoint = session.ErrUnknownBreakpoint
)

// ProtocolError describes a malformed message from the runtime.
type ProtocolError = v8.ProtocolError

// RejectedError is a failure response from the runtime.
type RejectedError struct {
	Command string
	Message string
}

// Error implements the error interface.
func (e *RejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: runtime rejected command", e.Command)
	}
	return fmt.Sprintf("%s: %s", e.Command, e.Message)
}

// Is reports whether target is ErrRuntimeRejected.
func (e *RejectedError) Is(target error) bool {
	return target == ErrRuntimeRejected
}

// TimeoutError reports a command the runtime did not answer in time.
// Its effect on the debuggee is unknown, so it is never retried.
type TimeoutError struct {
	Command string
	Seq     int
	Timeout time.Duration
	Err     error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("%s (seq %d): no response within %s", e.Command, e.Seq, e.Timeout)
	}
	return fmt.Sprintf("%s (seq %d): no response before deadline", e.Command, e.Seq)
}

// Unwrap returns the underlying context error.
func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrTimeout.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// closedError wraps the cause of a connection loss.
func closedError(cause error) error {
	if cause == nil || errors.Is(cause, ErrConnectionClosed) {
		return ErrConnectionClosed
	}
	return fmt.Errorf("%w: %w", ErrConnectionClosed, cause)
}
