package session

import "fmt"

// MainThreadID is the identifier of the debuggee's main JavaScript context.
const MainThreadID = 1

// MainThreadName is the display name of the main context.
const MainThreadName = "main thread"

// UnknownLocation is reported for threads stopped outside any script the
// runtime can name.
const UnknownLocation = "<unknown location, not in node.js code>"

// ThreadState represents the execution state of a thread.
type ThreadState int

const (
	// ThreadRunning means the thread is executing.
	ThreadRunning ThreadState = iota
	// ThreadStopped means the thread is paused at a stop event.
	ThreadStopped
)

// String returns a string representation of the state.
func (s ThreadState) String() string {
	switch s {
	case ThreadRunning:
		return "running"
	case ThreadStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Thread is a snapshot of one JavaScript execution context.
type Thread struct {
	ID       int
	Name     string
	IsWorker bool
	State    ThreadState

	// StopReason describes the most recent stop, e.g. "breakpoint".
	StopReason string

	// StopEpoch increases on every stop. Frames carry the epoch they were
	// fetched at.
	StopEpoch uint64

	// Frames is nil until fetched for the current stop.
	Frames []StackFrame
}

// Stopped reports whether the thread is paused.
func (t Thread) Stopped() bool {
	return t.State == ThreadStopped
}

// StackFrame is an immutable snapshot of one call frame.
type StackFrame struct {
	// Index is 0 for the innermost frame.
	Index        int
	FunctionName string
	File         string
	ScriptID     int

	// Line and Column are 1-based.
	Line   int
	Column int

	SourceLineText string

	ThreadID  int
	StopEpoch uint64
}

// Location returns the frame's source position.
func (f StackFrame) Location() Location {
	return Location{File: f.File, Line: f.Line, Column: f.Column}
}

// String returns "name (file:line:column)".
func (f StackFrame) String() string {
	return fmt.Sprintf("%s (%s:%d:%d)", f.FunctionName, f.File, f.Line, f.Column)
}

// ThreadCategory classifies threads for display.
type ThreadCategory string

const (
	ThreadCategoryMain   ThreadCategory = "main"
	ThreadCategoryWorker ThreadCategory = "worker"
)

// ThreadPriority is always Normal; JavaScript contexts have no priority.
const ThreadPriority = "Normal"

// ThreadInfo is the read-only projection of a thread shown by debugger
// front ends.
type ThreadInfo struct {
	ID       int
	Name     string
	Category ThreadCategory
	State    ThreadState

	// SuspendCount is always 0; individual contexts cannot be suspended.
	SuspendCount int
	Priority     string

	// Location is the innermost frame's function name, if known.
	Location string
}

// Info projects t into a ThreadInfo.
func (t Thread) Info() ThreadInfo {
	info := ThreadInfo{
		ID:       t.ID,
		Name:     t.Name,
		Category: ThreadCategoryMain,
		State:    t.State,
		Priority: ThreadPriority,
		Location: UnknownLocation,
	}
	if t.IsWorker {
		info.Category = ThreadCategoryWorker
	}
	if len(t.Frames) > 0 && t.Frames[0].FunctionName != "" {
		info.Location = t.Frames[0].FunctionName
	}
	return info
}

// Module is a script the runtime has compiled.
type Module struct {
	ID        int
	Name      string
	LineCount int
}

// RuntimeInfo describes the debuggee runtime as announced on connect.
type RuntimeInfo struct {
	V8Version       string
	ProtocolVersion string
	EmbeddingHost   string
}
