package engine

import (
	"context"

	"github.com/dshills/nodedbg/internal/event"
	"github.com/dshills/nodedbg/internal/session"
	"github.com/dshills/nodedbg/internal/v8"
)

// Stop reasons recorded on threads.
const (
	StopBreakpoint = "breakpoint"
	StopException  = "exception"
)

// threadOf maps an optional threadId field to a thread id.
func threadOf(id int) int {
	if id <= 0 {
		return session.MainThreadID
	}
	return id
}

// location converts a 0-based wire position to a 1-based Location.
func location(script *v8.ScriptInfo, line, column int) event.Location {
	loc := event.Location{Line: line + 1, Column: column + 1}
	if script != nil {
		loc.File = script.Name
	}
	return loc
}

// ensureThread registers a thread first seen in a stop event.
func (e *Engine) ensureThread(id int) {
	if e.state.AddThread(id, "", false) {
		th, _ := e.state.Thread(id)
		e.publish(event.Event{
			Kind:     event.KindThreadStarted,
			ThreadID: id,
			Thread:   &event.ThreadMeta{Name: th.Name},
		})
	}
}

// handleEvent classifies a runtime event, updates session state and
// publishes the result. It runs on the read goroutine.
func (e *Engine) handleEvent(m *v8.Event) {
	kind := event.Classify(m.Event, m.Body)

	var err error
	switch kind {
	case event.KindBreakpointHit, event.KindStepComplete:
		err = e.handleBreak(m, kind)
	case event.KindExceptionRaised:
		err = e.handleException(m)
	case event.KindModuleLoaded:
		err = e.handleAfterCompile(m)
	case event.KindThreadStarted, event.KindThreadExited:
		err = e.handleThread(m, kind)
	case event.KindProcessExited:
		err = e.handleExit(m)
	default:
		e.logger.Debug("unknown event", "name", m.Event)
		e.publish(event.Event{Kind: event.KindUnknown, Name: m.Event, Body: m.Body})
	}

	if err != nil {
		e.logger.Warn("malformed event body", "name", m.Event, "error", err)
		e.publish(event.Event{Kind: event.KindUnknown, Name: m.Event, Body: m.Body})
	}
}

func (e *Engine) handleBreak(m *v8.Event, kind event.Kind) error {
	var body v8.BreakEventBody
	if len(m.Body) > 0 {
		if err := v8.DecodeBody(m.Body, &body); err != nil {
			return err
		}
	}

	tid := threadOf(body.ThreadID)
	e.ensureThread(tid)

	ev := event.Event{
		Kind:     kind,
		ThreadID: tid,
		Location: location(body.Script, body.SourceLine, body.SourceColumn),
	}

	reason := StopBreakpoint
	if kind == event.KindBreakpointHit {
		e.state.RecordHits(body.Breakpoints)
		ev.BreakpointID = body.Breakpoints[0]
		ev.BreakpointIDs = body.Breakpoints
	} else {
		switch {
		case e.stepping[tid]:
			reason = event.ReasonStep
		case e.pausing:
			reason = event.ReasonPause
		default:
			reason = event.ReasonDebugger
		}
		ev.Reason = reason
	}
	delete(e.stepping, tid)
	e.pausing = false

	if _, err := e.state.MarkStopped(tid, reason); err != nil {
		return err
	}
	e.publish(ev)
	return nil
}

func (e *Engine) handleException(m *v8.Event) error {
	var body v8.ExceptionEventBody
	if err := v8.DecodeBody(m.Body, &body); err != nil {
		return err
	}

	tid := threadOf(body.ThreadID)
	e.ensureThread(tid)

	exc := &event.Exception{
		Message:     body.Exception.Text,
		ClassName:   body.Exception.ClassName,
		IsUnhandled: body.Uncaught,
		ThreadID:    tid,
		Location:    location(body.Script, body.SourceLine, body.SourceColumn),
	}
	if exc.Message == "" && len(body.Exception.Value) > 0 {
		exc.Message = string(body.Exception.Value)
	}

	stop := exc.IsUnhandled || e.breakOnHandled
	if stop {
		delete(e.stepping, tid)
		if _, err := e.state.MarkStopped(tid, StopException); err != nil {
			return err
		}
	}

	e.publish(event.Event{
		Kind:      event.KindExceptionRaised,
		ThreadID:  tid,
		Location:  exc.Location,
		Exception: exc,
	})

	if !stop {
		// The listener pauses on every reported exception; resume it.
		go e.resumeAfterHandledException(tid)
	}
	return nil
}

func (e *Engine) resumeAfterHandledException(tid int) {
	_, err := e.roundTrip(context.Background(), v8.CommandContinue, nil, e.resumeApply(tid, false))
	if err != nil {
		e.logger.Warn("resume after handled exception failed", "thread_id", tid, "error", err)
	}
}

func (e *Engine) handleAfterCompile(m *v8.Event) error {
	var body v8.AfterCompileEventBody
	if err := v8.DecodeBody(m.Body, &body); err != nil {
		return err
	}

	mod := session.Module{ID: body.Script.ID, Name: body.Script.Name, LineCount: body.Script.LineCount}
	if e.state.AddModule(mod) {
		e.publish(event.Event{
			Kind:   event.KindModuleLoaded,
			Module: &event.ModuleInfo{ID: mod.ID, Name: mod.Name, LineCount: mod.LineCount},
		})
	}
	return nil
}

func (e *Engine) handleThread(m *v8.Event, kind event.Kind) error {
	var body v8.ThreadEventBody
	if err := v8.DecodeBody(m.Body, &body); err != nil {
		return err
	}

	if kind == event.KindThreadStarted {
		if !e.state.AddThread(body.ThreadID, body.Name, body.IsWorker) {
			return nil
		}
		th, _ := e.state.Thread(body.ThreadID)
		e.publish(event.Event{
			Kind:     event.KindThreadStarted,
			ThreadID: body.ThreadID,
			Thread:   &event.ThreadMeta{Name: th.Name, IsWorker: th.IsWorker},
		})
		return nil
	}

	delete(e.stepping, body.ThreadID)
	if e.state.RemoveThread(body.ThreadID) {
		e.publish(event.Event{Kind: event.KindThreadExited, ThreadID: body.ThreadID})
	}
	return nil
}

func (e *Engine) handleExit(m *v8.Event) error {
	var body v8.ExitEventBody
	if len(m.Body) > 0 {
		if err := v8.DecodeBody(m.Body, &body); err != nil {
			return err
		}
	}
	if e.exitPublished {
		return nil
	}
	e.exitPublished = true
	e.publish(event.Event{Kind: event.KindProcessExited, ExitCode: body.ExitCode})
	return nil
}
