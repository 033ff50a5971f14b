package session

import "errors"

// Sentinel errors for session state.
var (
	// ErrUnknownThread is returned for a thread that is not live.
	ErrUnknownThread = errors.New("unknown thread")

	// ErrThreadRunning is returned when an operation needs a stopped
	// thread, or when a thread resumed while its frames were being fetched.
	ErrThreadRunning = errors.New("thread is running")

	// ErrUnknownBreakpoint is returned for a breakpoint id that is not bound.
	ErrUnknownBreakpoint = errors.New("unknown breakpoint")
)
