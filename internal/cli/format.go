package cli

import (
	"fmt"

	"github.com/dshills/nodedbg/internal/engine"
	"github.com/dshills/nodedbg/internal/event"
)

// FormatEvent renders ev for the terminal. It returns "" for events not
// worth showing.
func FormatEvent(ev event.Event) string {
	switch ev.Kind {
	case event.KindBreakpointHit:
		return fmt.Sprintf("Breakpoint #%s hit on thread %d at %s", ev.BreakpointID, ev.ThreadID, formatLocation(ev.Location))
	case event.KindStepComplete:
		return fmt.Sprintf("Stopped (%s) on thread %d at %s", ev.Reason, ev.ThreadID, formatLocation(ev.Location))
	case event.KindExceptionRaised:
		if ev.Exception == nil {
			return fmt.Sprintf("Exception on thread %d", ev.ThreadID)
		}
		kind := "Caught exception"
		if ev.Exception.IsUnhandled {
			kind = "Uncaught exception"
		}
		return fmt.Sprintf("%s on thread %d at %s: %s", kind, ev.ThreadID, formatLocation(ev.Exception.Location), ev.Exception.Error())
	case event.KindThreadStarted:
		if ev.Thread != nil && ev.Thread.IsWorker {
			return fmt.Sprintf("Worker thread %d (%s) started", ev.ThreadID, ev.Thread.Name)
		}
		return ""
	case event.KindThreadExited:
		return fmt.Sprintf("Thread %d exited", ev.ThreadID)
	case event.KindModuleLoaded:
		return ""
	case event.KindProcessExited:
		return fmt.Sprintf("Process exited with code %d", ev.ExitCode)
	default:
		return ""
	}
}

func formatLocation(loc event.Location) string {
	if loc.File == "" {
		return "<unknown>"
	}
	return loc.String()
}

// FormatValue renders an evaluation result.
func FormatValue(v *engine.Value) string {
	switch {
	case v == nil:
		return "undefined"
	case v.Text != "":
		return v.Text
	case len(v.Value) > 0:
		return string(v.Value)
	case v.ClassName != "":
		return "[object " + v.ClassName + "]"
	default:
		return v.Type
	}
}
