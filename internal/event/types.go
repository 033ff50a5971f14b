package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dshills/nodedbg/internal/v8"
)

// Kind identifies the type of a debugger event.
type Kind int

const (
	// KindUnknown is an event the engine does not model. It is still
	// published so subscribers can log it.
	KindUnknown Kind = iota

	// KindBreakpointHit means a thread stopped at one or more breakpoints.
	KindBreakpointHit

	// KindStepComplete means a thread stopped without a breakpoint: after a
	// step, a pause request or a debugger statement.
	KindStepComplete

	// KindExceptionRaised means the runtime reported a thrown exception.
	KindExceptionRaised

	// KindThreadStarted means a JavaScript execution context appeared.
	KindThreadStarted

	// KindThreadExited means an execution context went away.
	KindThreadExited

	// KindModuleLoaded means a script was compiled.
	KindModuleLoaded

	// KindProcessExited means the debuggee is gone.
	KindProcessExited
)

// String returns a human-readable kind name.
func (k Kind) String() string {
	switch k {
	case KindBreakpointHit:
		return "BreakpointHit"
	case KindStepComplete:
		return "StepComplete"
	case KindExceptionRaised:
		return "ExceptionRaised"
	case KindThreadStarted:
		return "ThreadStarted"
	case KindThreadExited:
		return "ThreadExited"
	case KindModuleLoaded:
		return "ModuleLoaded"
	case KindProcessExited:
		return "ProcessExited"
	default:
		return "UnknownEvent"
	}
}

// Stop reasons carried by KindStepComplete events.
const (
	ReasonStep     = "step"
	ReasonPause    = "pause"
	ReasonDebugger = "debugger"
)

// Exception describes a thrown JavaScript value. It only lives as long as
// the event that carries it.
type Exception struct {
	Message     string
	ClassName   string
	IsUnhandled bool
	ThreadID    int
	Location    Location
}

// Error implements error so exceptions can be logged and wrapped directly.
func (e *Exception) Error() string {
	if e.ClassName != "" && e.ClassName != "Error" {
		return fmt.Sprintf("%s: %s", e.ClassName, e.Message)
	}
	return e.Message
}

// Location is a 1-based source position.
type Location struct {
	File   string
	Line   int
	Column int
}

// String returns "file:line:column".
func (l Location) String() string {
	return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
}

// ThreadMeta describes a newly started thread.
type ThreadMeta struct {
	Name     string
	IsWorker bool
}

// ModuleInfo describes a compiled script.
type ModuleInfo struct {
	ID        int
	Name      string
	LineCount int
}

// Event is a classified debugger notification.
//
// Only the fields relevant to Kind are set.
type Event struct {
	Kind     Kind
	ThreadID int
	Time     time.Time

	// BreakpointID is the first breakpoint reported by a hit;
	// BreakpointIDs holds all of them when several share a location.
	BreakpointID  v8.BreakpointID
	BreakpointIDs []v8.BreakpointID

	// Location is where the thread stopped.
	Location Location

	// Reason is set for KindStepComplete.
	Reason string

	Exception *Exception
	Thread    *ThreadMeta
	Module    *ModuleInfo
	ExitCode  int

	// Name and Body carry the raw notification for KindUnknown.
	Name string
	Body json.RawMessage
}

// String returns a short description for logging.
func (e Event) String() string {
	switch e.Kind {
	case KindBreakpointHit:
		return fmt.Sprintf("%s(thread=%d, breakpoint=%s)", e.Kind, e.ThreadID, e.BreakpointID)
	case KindStepComplete:
		return fmt.Sprintf("%s(thread=%d, reason=%s)", e.Kind, e.ThreadID, e.Reason)
	case KindExceptionRaised:
		unhandled := false
		if e.Exception != nil {
			unhandled = e.Exception.IsUnhandled
		}
		return fmt.Sprintf("%s(thread=%d, unhandled=%t)", e.Kind, e.ThreadID, unhandled)
	case KindThreadStarted, KindThreadExited:
		return fmt.Sprintf("%s(thread=%d)", e.Kind, e.ThreadID)
	case KindModuleLoaded:
		if e.Module != nil {
			return fmt.Sprintf("%s(%s)", e.Kind, e.Module.Name)
		}
	case KindProcessExited:
		return fmt.Sprintf("%s(code=%d)", e.Kind, e.ExitCode)
	case KindUnknown:
		return fmt.Sprintf("%s(%s)", e.Kind, e.Name)
	}
	return e.Kind.String()
}

// Classify maps a raw event name and body to a Kind.
//
// A break event is a breakpoint hit only if it names at least one
// breakpoint; otherwise it is a step completion. A thread event is decided
// by its reason. An undecodable body classifies as KindUnknown.
func Classify(name string, body json.RawMessage) Kind {
	switch name {
	case v8.EventBreak:
		var b struct {
			Breakpoints []json.RawMessage `json:"breakpoints"`
		}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &b); err != nil {
				return KindUnknown
			}
		}
		if len(b.Breakpoints) > 0 {
			return KindBreakpointHit
		}
		return KindStepComplete
	case v8.EventException:
		return KindExceptionRaised
	case v8.EventAfterCompile:
		return KindModuleLoaded
	case v8.EventThread:
		var b struct {
			Reason string `json:"reason"`
		}
		if err := json.Unmarshal(body, &b); err != nil {
			return KindUnknown
		}
		switch b.Reason {
		case "started":
			return KindThreadStarted
		case "exited":
			return KindThreadExited
		}
		return KindUnknown
	case v8.EventExit:
		return KindProcessExited
	default:
		return KindUnknown
	}
}
