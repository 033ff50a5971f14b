package engine

import (
	"context"
	"fmt"

	"github.com/dshills/nodedbg/internal/event"
	"github.com/dshills/nodedbg/internal/session"
	"github.com/dshills/nodedbg/internal/v8"
)

// Location is a 1-based source position.
type Location = session.Location

// Value is a mirror of a JavaScript value returned by Evaluate.
type Value = v8.Value

// ExceptionBreakMode selects which exceptions pause the debuggee.
type ExceptionBreakMode string

const (
	ExceptionBreakNone     ExceptionBreakMode = "none"
	ExceptionBreakUncaught ExceptionBreakMode = "uncaught"
	ExceptionBreakAll      ExceptionBreakMode = "all"
)

// Capabilities describes what the engine can do against a V8 listener.
type Capabilities struct {
	SupportsThreadSuspension  bool
	SupportsConditionalBreaks bool
	SupportsExceptionBreaks   bool
	SupportsEvaluate          bool
}

// Capabilities reports the engine's fixed capabilities.
func (e *Engine) Capabilities() Capabilities {
	return Capabilities{
		SupportsThreadSuspension:  false,
		SupportsConditionalBreaks: true,
		SupportsExceptionBreaks:   true,
		SupportsEvaluate:          true,
	}
}

// SetBreakpoint asks the runtime for a breakpoint at loc and returns its
// handle immediately in the Pending state. The handle becomes Bound or
// Failed once the runtime answers or the command timeout passes; use
// Breakpoint.Wait to observe the outcome. ctx only bounds sending.
func (e *Engine) SetBreakpoint(ctx context.Context, loc Location, condition string) (*session.Breakpoint, error) {
	if loc.File == "" || loc.Line < 1 {
		return nil, fmt.Errorf("%s:%d: %w", loc.File, loc.Line, ErrInvalidLocation)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bp := session.NewBreakpoint(loc, condition)
	args := v8.SetBreakpointArguments{
		Type:      "script",
		Target:    loc.File,
		Line:      loc.Line - 1,
		Enabled:   true,
		Condition: condition,
	}
	if loc.Column > 0 {
		col := loc.Column - 1
		args.Column = &col
	}

	fail := func(reason string, err error) {
		if e.state.FailBreakpoint(bp, reason, err) {
			e.logger.Info("breakpoint not bound", "location", loc.String(), "reason", reason)
		}
	}

	c, err := e.startCall(v8.CommandSetBreakpoint, args, func(resp *v8.Response) error {
		var body v8.SetBreakpointBody
		if err := v8.DecodeBody(resp.Body, &body); err != nil {
			fail(err.Error(), err)
			return err
		}
		if body.Breakpoint == "" {
			err := &v8.ProtocolError{Reason: "setbreakpoint response without breakpoint id"}
			fail(err.Error(), err)
			return err
		}
		actual := 0
		if len(body.ActualLocations) > 0 {
			actual = body.ActualLocations[0].Line + 1
		}
		e.state.BindBreakpoint(bp, body.Breakpoint, actual)
		return nil
	}, func(rejected *RejectedError) {
		fail(rejected.Message, rejected)
	})
	if err != nil {
		return nil, err
	}

	// Answers settle the handle on the read goroutine. A timeout or
	// connection loss settles it here; Breakpoint only leaves Pending once.
	go func() {
		if _, err := c.wait(context.WithoutCancel(ctx)); err != nil {
			fail(err.Error(), err)
		}
	}()
	return bp, nil
}

// ClearBreakpoint removes a bound breakpoint.
func (e *Engine) ClearBreakpoint(ctx context.Context, id v8.BreakpointID) error {
	if _, ok := e.state.Breakpoint(id); !ok {
		return fmt.Errorf("breakpoint %s: %w", id, ErrUnknownBreakpoint)
	}

	args := v8.ClearBreakpointArguments{Breakpoint: id}
	_, err := e.roundTrip(ctx, v8.CommandClearBreakpoint, args, func(*v8.Response) error {
		_, err := e.state.RemoveBreakpoint(id)
		return err
	})
	return err
}

// SetBreakpointEnabled enables or disables a bound breakpoint.
func (e *Engine) SetBreakpointEnabled(ctx context.Context, id v8.BreakpointID, enabled bool) error {
	if _, ok := e.state.Breakpoint(id); !ok {
		return fmt.Errorf("breakpoint %s: %w", id, ErrUnknownBreakpoint)
	}

	args := v8.ChangeBreakpointArguments{Breakpoint: id, Enabled: &enabled}
	_, err := e.roundTrip(ctx, v8.CommandChangeBreakpoint, args, func(*v8.Response) error {
		return e.state.SetBreakpointEnabled(id, enabled)
	})
	return err
}

// SetBreakpointCondition replaces the condition of a bound breakpoint. An
// empty condition makes it unconditional.
func (e *Engine) SetBreakpointCondition(ctx context.Context, id v8.BreakpointID, condition string) error {
	if _, ok := e.state.Breakpoint(id); !ok {
		return fmt.Errorf("breakpoint %s: %w", id, ErrUnknownBreakpoint)
	}

	args := v8.ChangeBreakpointArguments{Breakpoint: id, Condition: &condition}
	_, err := e.roundTrip(ctx, v8.CommandChangeBreakpoint, args, func(*v8.Response) error {
		return e.state.SetBreakpointCondition(id, condition)
	})
	return err
}

// SetExceptionBreak selects which exceptions pause the debuggee.
func (e *Engine) SetExceptionBreak(ctx context.Context, mode ExceptionBreakMode) error {
	var settings []v8.SetExceptionBreakArguments
	switch mode {
	case ExceptionBreakNone:
		settings = []v8.SetExceptionBreakArguments{
			{Type: v8.ExceptionBreakAll, Enabled: false},
			{Type: v8.ExceptionBreakUncaught, Enabled: false},
		}
	case ExceptionBreakUncaught:
		settings = []v8.SetExceptionBreakArguments{
			{Type: v8.ExceptionBreakAll, Enabled: false},
			{Type: v8.ExceptionBreakUncaught, Enabled: true},
		}
	case ExceptionBreakAll:
		settings = []v8.SetExceptionBreakArguments{
			{Type: v8.ExceptionBreakAll, Enabled: true},
		}
	default:
		return fmt.Errorf("unknown exception break mode %q", mode)
	}

	for _, args := range settings {
		if _, err := e.roundTrip(ctx, v8.CommandSetExceptionBreak, args, nil); err != nil {
			return err
		}
	}
	return nil
}

// resumeApply returns the hook that records a resume acknowledgement.
func (e *Engine) resumeApply(tid int, step bool) func(*v8.Response) error {
	return func(*v8.Response) error {
		if err := e.state.MarkRunning(tid); err != nil {
			// The thread exited while the command was in flight.
			e.logger.Debug("resume of unknown thread", "thread_id", tid)
		}
		if step {
			e.stepping[tid] = true
		} else {
			delete(e.stepping, tid)
		}
		return nil
	}
}

// Continue resumes a thread.
func (e *Engine) Continue(ctx context.Context, threadID int) error {
	if _, ok := e.state.Thread(threadID); !ok {
		return fmt.Errorf("thread %d: %w", threadID, ErrUnknownThread)
	}
	_, err := e.roundTrip(ctx, v8.CommandContinue, nil, e.resumeApply(threadID, false))
	return err
}

// StepInto steps into the next call.
func (e *Engine) StepInto(ctx context.Context, threadID int) error {
	return e.step(ctx, threadID, v8.StepIn)
}

// StepOver steps to the next statement.
func (e *Engine) StepOver(ctx context.Context, threadID int) error {
	return e.step(ctx, threadID, v8.StepNext)
}

// StepOut runs until the current function returns.
func (e *Engine) StepOut(ctx context.Context, threadID int) error {
	return e.step(ctx, threadID, v8.StepOut)
}

func (e *Engine) step(ctx context.Context, threadID int, action string) error {
	if _, err := e.state.StoppedEpoch(threadID); err != nil {
		return err
	}
	args := v8.ContinueArguments{StepAction: action, StepCount: 1}
	_, err := e.roundTrip(ctx, v8.CommandContinue, args, e.resumeApply(threadID, true))
	return err
}

// Pause asks the runtime to break as soon as possible. The stop arrives
// as a StepComplete event with reason "pause".
func (e *Engine) Pause(ctx context.Context) error {
	_, err := e.roundTrip(ctx, v8.CommandSuspend, nil, func(*v8.Response) error {
		e.pausing = true
		return nil
	})
	return err
}

// SuspendThread is not supported: JavaScript contexts cannot be suspended
// individually.
func (e *Engine) SuspendThread(threadID int) error {
	return fmt.Errorf("suspend thread %d: %w", threadID, ErrNotSupported)
}

// ResumeThread is not supported.
func (e *Engine) ResumeThread(threadID int) error {
	return fmt.Errorf("resume thread %d: %w", threadID, ErrNotSupported)
}

// Evaluate evaluates expr in a frame of a stopped thread. A negative
// frameIndex evaluates in the global scope. Evaluating on a running
// thread is rejected without contacting the runtime.
func (e *Engine) Evaluate(ctx context.Context, threadID, frameIndex int, expr string) (*Value, error) {
	th, ok := e.state.Thread(threadID)
	if !ok {
		return nil, fmt.Errorf("thread %d: %w", threadID, ErrUnknownThread)
	}
	if !th.Stopped() {
		return nil, &RejectedError{Command: v8.CommandEvaluate, Message: fmt.Sprintf("thread %d is running", threadID)}
	}

	args := v8.EvaluateArguments{Expression: expr, DisableBreak: true}
	if frameIndex >= 0 {
		args.Frame = &frameIndex
	} else {
		args.Global = true
	}

	var value Value
	_, err := e.roundTrip(ctx, v8.CommandEvaluate, args, func(resp *v8.Response) error {
		return v8.DecodeBody(resp.Body, &value)
	})
	if err != nil {
		return nil, err
	}
	return &value, nil
}

// GetFrames returns the call stack of a stopped thread, innermost first.
// Frames are fetched once per stop and cached until the thread resumes.
func (e *Engine) GetFrames(ctx context.Context, threadID int) ([]session.StackFrame, error) {
	frames, fetched, err := e.state.Frames(threadID)
	if err != nil {
		return nil, err
	}
	if fetched {
		return frames, nil
	}

	epoch, err := e.state.StoppedEpoch(threadID)
	if err != nil {
		return nil, err
	}

	args := v8.BacktraceArguments{FromFrame: 0, ToFrame: e.maxFrames, InlineRefs: true}
	_, err = e.roundTrip(ctx, v8.CommandBacktrace, args, func(resp *v8.Response) error {
		var body v8.BacktraceBody
		if len(resp.Body) > 0 {
			if err := v8.DecodeBody(resp.Body, &body); err != nil {
				return err
			}
		}
		frames = convertFrames(body.Frames, resp.Refs)
		return e.state.CacheFrames(threadID, epoch, frames)
	})
	if err != nil {
		return nil, err
	}
	return frames, nil
}

// convertFrames maps wire frames to 1-based value snapshots.
func convertFrames(wire []v8.BacktraceFrame, refs []v8.Ref) []session.StackFrame {
	frames := make([]session.StackFrame, 0, len(wire))
	for i, f := range wire {
		fn := f.Func
		if fn.Name == "" && fn.InferredName == "" && fn.Ref != 0 {
			if r, ok := v8.LookupRef(refs, fn.Ref); ok {
				fn.Name = r.Name
			}
		}

		file := f.Script.Name
		if file == "" && f.Script.Ref != 0 {
			if r, ok := v8.LookupRef(refs, f.Script.Ref); ok {
				file = r.Name
			}
		}

		index := f.Index
		if index == 0 && i > 0 {
			index = i
		}
		frames = append(frames, session.StackFrame{
			Index:          index,
			FunctionName:   fn.DisplayName(),
			File:           file,
			ScriptID:       fn.ScriptID,
			Line:           f.Line + 1,
			Column:         f.Column + 1,
			SourceLineText: f.SourceLineText,
		})
	}
	return frames
}

// Scripts lists the scripts the runtime has compiled and records them as
// modules.
func (e *Engine) Scripts(ctx context.Context) ([]session.Module, error) {
	args := v8.ScriptsArguments{Types: v8.ScriptTypeNormal}

	var modules []session.Module
	_, err := e.roundTrip(ctx, v8.CommandScripts, args, func(resp *v8.Response) error {
		var scripts []v8.ScriptInfo
		if err := v8.DecodeBody(resp.Body, &scripts); err != nil {
			return err
		}
		for _, s := range scripts {
			m := session.Module{ID: s.ID, Name: s.Name, LineCount: s.LineCount}
			e.state.AddModule(m)
			modules = append(modules, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return modules, nil
}

// Version asks the runtime for its V8 version.
func (e *Engine) Version(ctx context.Context) (string, error) {
	var version string
	_, err := e.roundTrip(ctx, v8.CommandVersion, nil, func(resp *v8.Response) error {
		var body v8.VersionBody
		if err := v8.DecodeBody(resp.Body, &body); err != nil {
			return err
		}
		version = body.V8Version

		info := e.state.RuntimeInfo()
		if info.V8Version == "" {
			info.V8Version = version
			e.state.SetRuntimeInfo(info)
		}
		return nil
	})
	return version, err
}

// Detach tells the runtime to drop the debugger, which resumes the
// debuggee, and closes the connection.
func (e *Engine) Detach(ctx context.Context) error {
	_, err := e.roundTrip(ctx, v8.CommandDisconnect, nil, func(*v8.Response) error {
		e.state.MarkAllRunning()
		return nil
	})
	if cerr := e.Close(); err == nil {
		err = cerr
	}
	return err
}

// Thread returns a snapshot of one live thread.
func (e *Engine) Thread(id int) (session.Thread, bool) {
	return e.state.Thread(id)
}

// Threads returns snapshots of all live threads.
func (e *Engine) Threads() []session.Thread {
	return e.state.Threads()
}

// ThreadInfos returns the display projection of all live threads.
func (e *Engine) ThreadInfos() []session.ThreadInfo {
	return e.state.ThreadInfos()
}

// Breakpoints returns all bound breakpoints.
func (e *Engine) Breakpoints() []*session.Breakpoint {
	return e.state.Breakpoints()
}

// Modules returns the scripts reported so far.
func (e *Engine) Modules() []session.Module {
	return e.state.Modules()
}

// RuntimeInfo returns the runtime description from the connect handshake.
func (e *Engine) RuntimeInfo() session.RuntimeInfo {
	return e.state.RuntimeInfo()
}

// Stats returns event dispatcher statistics.
func (e *Engine) Stats() event.Stats {
	return e.dispatcher.Stats()
}
