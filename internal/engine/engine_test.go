package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dshills/nodedbg/internal/event"
	"github.com/dshills/nodedbg/internal/hook"
	dbglog "github.com/dshills/nodedbg/internal/log"
	"github.com/dshills/nodedbg/internal/session"
	"github.com/dshills/nodedbg/internal/v8"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func collect(e *Engine, kinds ...event.Kind) <-chan event.Event {
	ch := make(chan event.Event, 100)
	e.Subscribe(func(ev event.Event) { ch <- ev }, kinds...)
	return ch
}

func waitEvent(t *testing.T, ch <-chan event.Event, kind event.Kind) event.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %v", kind)
			return event.Event{}
		}
	}
}

func decodeArgs(t *testing.T, req v8.Request, v any) {
	t.Helper()
	if err := json.Unmarshal(req.Arguments, v); err != nil {
		t.Fatalf("decode %s arguments: %v", req.Command, err)
	}
}

func expectNoRequest(t *testing.T, l *fakeListener) {
	t.Helper()
	select {
	case req := <-l.requests:
		t.Fatalf("unexpected request %s", req.Command)
	case <-time.After(50 * time.Millisecond):
	}
}

func breakBody(line int, ids ...any) map[string]any {
	body := map[string]any{
		"sourceLine":   line - 1,
		"sourceColumn": 0,
		"script":       map[string]any{"id": 1, "name": "file.js"},
	}
	if len(ids) > 0 {
		body["breakpoints"] = ids
	}
	return body
}

var backtraceReply = v8.BacktraceBody{
	TotalFrames: 2,
	Frames: []v8.BacktraceFrame{
		{Index: 0, Func: v8.FuncRef{Name: "inner"}, Script: v8.Ref{Name: "file.js"}, Line: 9, Column: 2},
		{Index: 1, Func: v8.FuncRef{InferredName: "outer"}, Script: v8.Ref{Name: "file.js"}, Line: 19, Column: 0},
	},
}

// stopMainThread drives the main thread into a stopped state.
func stopMainThread(t *testing.T, e *Engine, l *fakeListener) {
	t.Helper()
	stops := collect(e, event.KindStepComplete)
	l.event(v8.EventBreak, breakBody(5))
	waitEvent(t, stops, event.KindStepComplete)
}

func TestSetBreakpointBindAndHit(t *testing.T) {
	e, l := newFakeListener(t)
	ctx := testContext(t)

	var backtraces atomic.Int32
	l.handle(func(req v8.Request) *reply {
		switch req.Command {
		case v8.CommandSetBreakpoint:
			return nil
		case v8.CommandBacktrace:
			backtraces.Add(1)
			return ok(backtraceReply)
		}
		return ok(nil)
	})
	hits := collect(e, event.KindBreakpointHit)

	bp, err := e.SetBreakpoint(ctx, Location{File: "file.js", Line: 10}, "")
	if err != nil {
		t.Fatalf("SetBreakpoint: %v", err)
	}

	req := l.next()
	if bp.State() != session.BreakpointPending || bp.ID() != "" {
		t.Fatalf("expected pending breakpoint before the runtime answers, got %v", bp)
	}

	var args v8.SetBreakpointArguments
	decodeArgs(t, req, &args)
	if args.Type != "script" || args.Target != "file.js" || args.Line != 9 || !args.Enabled {
		t.Errorf("unexpected setbreakpoint arguments %+v", args)
	}

	l.sendResponse(req, ok(map[string]any{
		"type":             "scriptName",
		"breakpoint":       "bp-3",
		"actual_locations": []map[string]int{{"line": 9, "column": 4}},
	}))

	if err := bp.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if bp.State() != session.BreakpointBound || bp.ID() != "bp-3" || bp.ActualLine() != 10 {
		t.Fatalf("unexpected bound breakpoint %v", bp)
	}
	if bps := e.Breakpoints(); len(bps) != 1 || bps[0] != bp {
		t.Fatalf("Breakpoints() = %v", bps)
	}

	l.event(v8.EventBreak, breakBody(10, "bp-3"))
	hit := waitEvent(t, hits, event.KindBreakpointHit)
	if hit.ThreadID != 1 || hit.BreakpointID != "bp-3" {
		t.Errorf("unexpected hit %v", hit)
	}
	if hit.Location.File != "file.js" || hit.Location.Line != 10 {
		t.Errorf("unexpected hit location %v", hit.Location)
	}
	if bp.HitCount() != 1 {
		t.Errorf("HitCount() = %d", bp.HitCount())
	}

	frames, err := e.GetFrames(ctx, 1)
	if err != nil {
		t.Fatalf("GetFrames: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if frames[0].Index != 0 || frames[0].FunctionName != "inner" || frames[0].Line != 10 || frames[0].Column != 3 {
		t.Errorf("unexpected innermost frame %+v", frames[0])
	}
	if frames[1].Index != 1 || frames[1].FunctionName != "outer" || frames[1].Line != 20 {
		t.Errorf("unexpected outer frame %+v", frames[1])
	}

	if _, err := e.GetFrames(ctx, 1); err != nil {
		t.Fatalf("second GetFrames: %v", err)
	}
	if got := backtraces.Load(); got != 1 {
		t.Errorf("backtrace sent %d times, expected frames to be cached", got)
	}

	infos := e.ThreadInfos()
	if len(infos) != 1 || infos[0].Location != "inner" {
		t.Errorf("unexpected thread infos %+v", infos)
	}

	if err := e.Continue(ctx, 1); err != nil {
		t.Fatalf("Continue: %v", err)
	}
	if frames, err := e.GetFrames(ctx, 1); !errors.Is(err, ErrThreadRunning) || frames != nil {
		t.Errorf("expected ErrThreadRunning after continue, got %v, %v", frames, err)
	}
}

func TestSetBreakpointRejected(t *testing.T) {
	e, l := newFakeListener(t)
	ctx := testContext(t)

	l.handle(func(req v8.Request) *reply {
		if req.Command == v8.CommandSetBreakpoint {
			return fail("Invalid line number")
		}
		return ok(nil)
	})

	bp, err := e.SetBreakpoint(ctx, Location{File: "file.js", Line: 9999}, "")
	if err != nil {
		t.Fatalf("SetBreakpoint: %v", err)
	}

	err = bp.Wait(ctx)
	var rejected *RejectedError
	if !errors.As(err, &rejected) || !errors.Is(err, ErrRuntimeRejected) {
		t.Fatalf("expected RejectedError, got %v", err)
	}
	if bp.State() != session.BreakpointFailed || bp.Reason() != "Invalid line number" {
		t.Errorf("unexpected failed breakpoint %v (reason %q)", bp, bp.Reason())
	}
	if len(e.Breakpoints()) != 0 {
		t.Error("rejected breakpoint appears as bound")
	}
}

func TestRejectedBreakpointSettlesOnReadGoroutine(t *testing.T) {
	e, l := newFakeListener(t)
	ctx := testContext(t)

	l.handle(func(v8.Request) *reply { return nil })
	modules := collect(e, event.KindModuleLoaded)

	bp, err := e.SetBreakpoint(ctx, Location{File: "file.js", Line: 7}, "")
	if err != nil {
		t.Fatalf("SetBreakpoint: %v", err)
	}
	req := l.next()
	l.sendResponse(req, fail("Invalid line number"))
	l.event(v8.EventAfterCompile, map[string]any{"script": map[string]any{"id": 3, "name": "b.js"}})

	// The event is read after the response, so the handle must already
	// be settled when it is delivered.
	waitEvent(t, modules, event.KindModuleLoaded)
	select {
	case <-bp.Settled():
	default:
		t.Fatal("breakpoint still pending after a later event was delivered")
	}
	if bp.State() != session.BreakpointFailed || bp.Reason() != "Invalid line number" {
		t.Errorf("unexpected breakpoint %v (reason %q)", bp, bp.Reason())
	}
}

func TestSetBreakpointInvalidLocation(t *testing.T) {
	e, l := newFakeListener(t)
	ctx := testContext(t)

	tests := []Location{
		{File: "", Line: 3},
		{File: "a.js", Line: 0},
	}
	for _, loc := range tests {
		if _, err := e.SetBreakpoint(ctx, loc, ""); !errors.Is(err, ErrInvalidLocation) {
			t.Errorf("SetBreakpoint(%v) = %v, expected ErrInvalidLocation", loc, err)
		}
	}
	expectNoRequest(t, l)
}

func TestSetBreakpointWithColumnAndCondition(t *testing.T) {
	e, l := newFakeListener(t)
	ctx := testContext(t)

	l.handle(func(req v8.Request) *reply {
		return ok(map[string]any{"breakpoint": 4})
	})

	bp, err := e.SetBreakpoint(ctx, Location{File: "a.js", Line: 2, Column: 5}, "n > 1")
	if err != nil {
		t.Fatalf("SetBreakpoint: %v", err)
	}

	var args v8.SetBreakpointArguments
	decodeArgs(t, l.next(), &args)
	if args.Column == nil || *args.Column != 4 || args.Condition != "n > 1" {
		t.Errorf("unexpected arguments %+v", args)
	}

	if err := bp.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if bp.ID() != "4" || bp.ActualLine() != 2 {
		t.Errorf("unexpected breakpoint %v", bp)
	}
}

func TestClearAndChangeBreakpoint(t *testing.T) {
	e, l := newFakeListener(t)
	ctx := testContext(t)

	l.handle(func(req v8.Request) *reply {
		if req.Command == v8.CommandSetBreakpoint {
			return ok(map[string]any{"breakpoint": 3})
		}
		return ok(nil)
	})

	bp, _ := e.SetBreakpoint(ctx, Location{File: "a.js", Line: 1}, "")
	if err := bp.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	l.next()

	if err := e.SetBreakpointEnabled(ctx, "3", false); err != nil {
		t.Fatalf("SetBreakpointEnabled: %v", err)
	}
	req := l.next()
	if string(req.Arguments) != `{"breakpoint":3,"enabled":false}` {
		t.Errorf("changebreakpoint arguments = %s", req.Arguments)
	}
	if bp.Enabled() {
		t.Error("breakpoint still enabled")
	}

	if err := e.SetBreakpointCondition(ctx, "3", "x"); err != nil {
		t.Fatalf("SetBreakpointCondition: %v", err)
	}
	l.next()
	if bp.Condition() != "x" {
		t.Errorf("Condition() = %q", bp.Condition())
	}

	if err := e.ClearBreakpoint(ctx, "3"); err != nil {
		t.Fatalf("ClearBreakpoint: %v", err)
	}
	req = l.next()
	if req.Command != v8.CommandClearBreakpoint || string(req.Arguments) != `{"breakpoint":3}` {
		t.Errorf("unexpected request %s %s", req.Command, req.Arguments)
	}
	if bp.State() != session.BreakpointRemoved || len(e.Breakpoints()) != 0 {
		t.Errorf("breakpoint not removed: %v", bp)
	}

	if err := e.ClearBreakpoint(ctx, "3"); !errors.Is(err, ErrUnknownBreakpoint) {
		t.Errorf("expected ErrUnknownBreakpoint, got %v", err)
	}
	if err := e.SetBreakpointEnabled(ctx, "3", true); !errors.Is(err, ErrUnknownBreakpoint) {
		t.Errorf("expected ErrUnknownBreakpoint, got %v", err)
	}
	expectNoRequest(t, l)
}

func TestEvaluateWhileRunningIsRejected(t *testing.T) {
	e, l := newFakeListener(t)
	ctx := testContext(t)

	_, err := e.Evaluate(ctx, 1, 0, "x+1")
	if !errors.Is(err, ErrRuntimeRejected) {
		t.Fatalf("expected ErrRuntimeRejected, got %v", err)
	}
	expectNoRequest(t, l)

	if _, err := e.Evaluate(ctx, 42, 0, "x"); !errors.Is(err, ErrUnknownThread) {
		t.Errorf("expected ErrUnknownThread, got %v", err)
	}
}

func TestMainThreadExistsOnReturnFromNew(t *testing.T) {
	for i := 0; i < 20; i++ {
		e, l := newFakeListener(t)
		ctx := testContext(t)

		if th, ok := e.Thread(session.MainThreadID); !ok || th.Name != session.MainThreadName || th.Stopped() {
			t.Fatalf("iteration %d: Thread(1) = %+v, %v", i, th, ok)
		}
		if _, err := e.Evaluate(ctx, 1, 0, "x+1"); !errors.Is(err, ErrRuntimeRejected) {
			t.Fatalf("iteration %d: expected ErrRuntimeRejected, got %v", i, err)
		}
		if _, err := e.GetFrames(ctx, 1); !errors.Is(err, ErrThreadRunning) {
			t.Fatalf("iteration %d: expected ErrThreadRunning, got %v", i, err)
		}
		if err := e.StepOver(ctx, 1); !errors.Is(err, ErrThreadRunning) {
			t.Fatalf("iteration %d: expected ErrThreadRunning, got %v", i, err)
		}
		expectNoRequest(t, l)
		e.Close()
	}
}

func TestEvaluateOnStoppedThread(t *testing.T) {
	e, l := newFakeListener(t)
	ctx := testContext(t)

	l.handle(func(req v8.Request) *reply {
		if req.Command == v8.CommandEvaluate {
			var args v8.EvaluateArguments
			json.Unmarshal(req.Arguments, &args)
			if args.Expression == "missing" {
				return fail("ReferenceError: missing is not defined")
			}
			return ok(map[string]any{"handle": 5, "type": "number", "value": 2, "text": "2"})
		}
		return ok(nil)
	})

	stopMainThread(t, e, l)

	value, err := e.Evaluate(ctx, 1, 0, "x+1")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if value.Type != "number" || value.Text != "2" {
		t.Errorf("unexpected value %+v", value)
	}

	var args v8.EvaluateArguments
	decodeArgs(t, l.next(), &args)
	if args.Frame == nil || *args.Frame != 0 || !args.DisableBreak || args.Global {
		t.Errorf("unexpected evaluate arguments %+v", args)
	}

	_, err = e.Evaluate(ctx, 1, -1, "missing")
	var rejected *RejectedError
	if !errors.As(err, &rejected) || rejected.Message != "ReferenceError: missing is not defined" {
		t.Errorf("expected rejection with runtime message, got %v", err)
	}
	decodeArgs(t, l.next(), &args)
	if !args.Global {
		t.Error("negative frame index should evaluate globally")
	}
}

func TestStepping(t *testing.T) {
	e, l := newFakeListener(t)
	ctx := testContext(t)

	if err := e.StepOver(ctx, 1); !errors.Is(err, ErrThreadRunning) {
		t.Fatalf("expected ErrThreadRunning for running thread, got %v", err)
	}

	stops := collect(e, event.KindStepComplete)
	l.event(v8.EventBreak, breakBody(3))
	ev := waitEvent(t, stops, event.KindStepComplete)
	if ev.Reason != event.ReasonDebugger {
		t.Errorf("reason = %q, expected %q", ev.Reason, event.ReasonDebugger)
	}

	tests := []struct {
		name   string
		step   func(context.Context, int) error
		action string
	}{
		{"over", e.StepOver, v8.StepNext},
		{"into", e.StepInto, v8.StepIn},
		{"out", e.StepOut, v8.StepOut},
	}
	for _, tt := range tests {
		if err := tt.step(ctx, 1); err != nil {
			t.Fatalf("step %s: %v", tt.name, err)
		}
		var args v8.ContinueArguments
		decodeArgs(t, l.next(), &args)
		if args.StepAction != tt.action || args.StepCount != 1 {
			t.Errorf("step %s: unexpected continue arguments %+v", tt.name, args)
		}

		th, _ := e.Thread(1)
		if th.Stopped() {
			t.Errorf("step %s: thread should be running after acknowledgement", tt.name)
		}

		l.event(v8.EventBreak, breakBody(4))
		ev := waitEvent(t, stops, event.KindStepComplete)
		if ev.Reason != event.ReasonStep {
			t.Errorf("step %s: reason = %q, expected %q", tt.name, ev.Reason, event.ReasonStep)
		}
	}
}

func TestPause(t *testing.T) {
	e, l := newFakeListener(t)
	ctx := testContext(t)

	stops := collect(e, event.KindStepComplete)
	if err := e.Pause(ctx); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if req := l.next(); req.Command != v8.CommandSuspend {
		t.Errorf("sent %s, expected suspend", req.Command)
	}

	l.event(v8.EventBreak, breakBody(7))
	if ev := waitEvent(t, stops, event.KindStepComplete); ev.Reason != event.ReasonPause {
		t.Errorf("reason = %q, expected %q", ev.Reason, event.ReasonPause)
	}
}

func TestTransportCloseFailsPendingCommands(t *testing.T) {
	e, l := newFakeListener(t, WithCommandTimeout(10*time.Second), WithExitCodeFunc(func() int { return 3 }))
	ctx := context.Background()

	l.handle(func(v8.Request) *reply { return nil })
	events := collect(e, event.KindThreadExited, event.KindProcessExited)

	errs := make(chan error, 2)
	go func() {
		_, err := e.Version(ctx)
		errs <- err
	}()
	go func() {
		_, err := e.Scripts(ctx)
		errs <- err
	}()
	l.next()
	l.next()

	l.close()

	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			if !errors.Is(err, ErrConnectionClosed) {
				t.Errorf("expected ErrConnectionClosed, got %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("pending command was not failed on connection loss")
		}
	}

	<-e.Done()
	if !errors.Is(e.Err(), ErrConnectionClosed) {
		t.Errorf("Err() = %v", e.Err())
	}
	if _, err := e.Version(ctx); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("expected ErrConnectionClosed for a new command, got %v", err)
	}
	if len(e.Threads()) != 0 {
		t.Error("threads survived teardown")
	}

	if ev := waitEvent(t, events, event.KindThreadExited); ev.ThreadID != 1 {
		t.Errorf("ThreadExited for thread %d", ev.ThreadID)
	}
	if ev := waitEvent(t, events, event.KindProcessExited); ev.ExitCode != 3 {
		t.Errorf("exit code = %d, expected 3", ev.ExitCode)
	}
}

func TestTeardownRemovesBreakpoints(t *testing.T) {
	e, l := newFakeListener(t)
	ctx := testContext(t)

	l.handle(func(req v8.Request) *reply {
		if req.Command == v8.CommandSetBreakpoint {
			return ok(map[string]any{"breakpoint": 1})
		}
		return nil
	})
	bound, _ := e.SetBreakpoint(ctx, Location{File: "a.js", Line: 1}, "")
	if err := bound.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	l.handle(func(v8.Request) *reply { return nil })
	pending, _ := e.SetBreakpoint(ctx, Location{File: "a.js", Line: 2}, "")
	l.next()
	l.next()

	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if bound.State() != session.BreakpointRemoved {
		t.Errorf("bound breakpoint state = %v", bound.State())
	}
	if err := pending.Wait(ctx); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("pending breakpoint Wait = %v", err)
	}
	if pending.State() != session.BreakpointFailed {
		t.Errorf("pending breakpoint state = %v", pending.State())
	}
}

func TestCommandTimeout(t *testing.T) {
	e, l := newFakeListener(t, WithCommandTimeout(50*time.Millisecond))

	l.handle(func(v8.Request) *reply { return nil })

	_, err := e.Version(context.Background())
	var timeout *TimeoutError
	if !errors.As(err, &timeout) || !errors.Is(err, ErrTimeout) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if timeout.Command != v8.CommandVersion {
		t.Errorf("timeout command = %q", timeout.Command)
	}
	if e.pending.Len() != 0 {
		t.Errorf("ledger still holds %d entries", e.pending.Len())
	}

	// A late response is discarded and the connection stays usable.
	late := l.next()
	l.sendResponse(late, ok(v8.VersionBody{V8Version: "late"}))

	l.handle(func(v8.Request) *reply { return ok(v8.VersionBody{V8Version: "3.14.5.9"}) })
	version, err := e.Version(context.Background())
	if err != nil || version != "3.14.5.9" {
		t.Errorf("Version() = %q, %v", version, err)
	}
}

func TestTimeoutReportsCallerDeadline(t *testing.T) {
	e, l := newFakeListener(t)
	l.handle(func(v8.Request) *reply { return nil })

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()

	_, err := e.Version(ctx)
	var timeout *TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if timeout.Timeout <= 0 || timeout.Timeout > 80*time.Millisecond {
		t.Errorf("Timeout = %v, expected the caller's budget", timeout.Timeout)
	}
	if !strings.Contains(err.Error(), "no response within") {
		t.Errorf("error = %q", err)
	}
}

func TestUnmatchedResponsesAreDropped(t *testing.T) {
	e, l := newFakeListener(t)
	ctx := testContext(t)

	l.handle(func(v8.Request) *reply { return ok(v8.VersionBody{V8Version: "3.14.5.9"}) })

	l.sendResponse(v8.Request{ProtocolMessage: v8.ProtocolMessage{Seq: 999}, Command: v8.CommandVersion}, ok(v8.VersionBody{V8Version: "stray"}))

	if version, err := e.Version(ctx); err != nil || version != "3.14.5.9" {
		t.Fatalf("Version() = %q, %v", version, err)
	}

	// Answer the same request a second time.
	req := l.next()
	l.sendResponse(req, ok(v8.VersionBody{V8Version: "duplicate"}))

	if version, err := e.Version(ctx); err != nil || version != "3.14.5.9" {
		t.Fatalf("Version() after duplicate = %q, %v", version, err)
	}
	l.next()

	select {
	case <-e.Done():
		t.Fatalf("connection closed: %v", e.Err())
	default:
	}
	if e.pending.Len() != 0 {
		t.Errorf("ledger holds %d entries", e.pending.Len())
	}
	if info := e.RuntimeInfo(); info.V8Version != "3.14.5.9" {
		t.Errorf("runtime info = %+v", info)
	}
}

func TestCallerCancellation(t *testing.T) {
	e, l := newFakeListener(t)
	l.handle(func(v8.Request) *reply { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := e.Version(ctx)
		errs <- err
	}()
	l.next()
	cancel()

	if err := <-errs; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if e.pending.Len() != 0 {
		t.Errorf("ledger still holds %d entries", e.pending.Len())
	}
}

func TestHandledExceptionResumes(t *testing.T) {
	e, l := newFakeListener(t)

	exceptions := collect(e, event.KindExceptionRaised)
	l.event(v8.EventException, map[string]any{
		"uncaught":   false,
		"exception":  map[string]any{"handle": 1, "type": "error", "className": "TypeError", "text": "boom"},
		"sourceLine": 4,
		"script":     map[string]any{"id": 1, "name": "a.js"},
	})

	ev := waitEvent(t, exceptions, event.KindExceptionRaised)
	if ev.Exception == nil || ev.Exception.IsUnhandled || ev.Exception.Message != "boom" || ev.Exception.ClassName != "TypeError" {
		t.Fatalf("unexpected exception %+v", ev.Exception)
	}
	if ev.Exception.Location.Line != 5 || ev.Exception.Location.File != "a.js" {
		t.Errorf("unexpected location %v", ev.Exception.Location)
	}

	if req := l.next(); req.Command != v8.CommandContinue || len(req.Arguments) != 0 {
		t.Errorf("expected plain continue, got %s %s", req.Command, req.Arguments)
	}
	th, _ := e.Thread(1)
	if th.Stopped() {
		t.Error("handled exception should not stop the thread")
	}
}

func TestHookActionsFollowThreadState(t *testing.T) {
	e, l := newFakeListener(t)
	ctx := testContext(t)

	runner := hook.NewRunner(hook.WithLogger(dbglog.Discard()))
	t.Cleanup(runner.Close)
	if err := runner.LoadString("hooks.lua", `function on_exception(ev) return "continue" end`); err != nil {
		t.Fatalf("LoadString: %v", err)
	}
	applied := make(chan hook.Action, 10)
	e.Subscribe(runner.Handler(ctx, e, func(_ event.Event, a hook.Action) { applied <- a }), event.KindExceptionRaised)

	// A caught exception is resumed by the engine alone.
	l.event(v8.EventException, map[string]any{
		"uncaught":  false,
		"exception": map[string]any{"type": "error", "text": "caught"},
	})
	if req := l.next(); req.Command != v8.CommandContinue {
		t.Fatalf("expected continue, got %s", req.Command)
	}
	expectNoRequest(t, l)

	// An uncaught exception stops the thread and the hook resumes it.
	l.event(v8.EventException, map[string]any{
		"uncaught":  true,
		"exception": map[string]any{"type": "error", "text": "fatal"},
	})
	if req := l.next(); req.Command != v8.CommandContinue {
		t.Fatalf("expected continue from hook, got %s", req.Command)
	}
	select {
	case a := <-applied:
		if a != hook.ActionContinue {
			t.Errorf("applied %q", a)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("hook action not applied")
	}
	expectNoRequest(t, l)
}

func TestUnhandledExceptionStops(t *testing.T) {
	e, l := newFakeListener(t)

	exceptions := collect(e, event.KindExceptionRaised)
	l.event(v8.EventException, map[string]any{
		"uncaught":  true,
		"exception": map[string]any{"type": "error", "text": "fatal"},
	})

	ev := waitEvent(t, exceptions, event.KindExceptionRaised)
	if !ev.Exception.IsUnhandled || ev.ThreadID != 1 {
		t.Fatalf("unexpected event %v", ev)
	}
	th, _ := e.Thread(1)
	if !th.Stopped() || th.StopReason != StopException {
		t.Errorf("thread not stopped on unhandled exception: %+v", th)
	}
	expectNoRequest(t, l)
}

func TestBreakOnHandledExceptions(t *testing.T) {
	e, l := newFakeListener(t, WithBreakOnHandledExceptions(true))

	exceptions := collect(e, event.KindExceptionRaised)
	l.event(v8.EventException, map[string]any{"uncaught": false, "exception": map[string]any{"text": "caught"}})
	waitEvent(t, exceptions, event.KindExceptionRaised)

	th, _ := e.Thread(1)
	if !th.Stopped() {
		t.Error("thread should stop when breaking on handled exceptions")
	}
	expectNoRequest(t, l)
}

func TestConnectModulesAndThreads(t *testing.T) {
	e, l := newFakeListener(t)

	events := collect(e)
	l.writeRaw("Type: connect\r\nV8-Version: 3.14.5.9\r\nProtocol-Version: 1\r\nEmbedding-Host: node v0.10.48\r\nContent-Length: 0\r\n\r\n")
	l.event(v8.EventAfterCompile, map[string]any{"script": map[string]any{"id": 12, "name": "lib.js", "lineCount": 40}})

	ev := waitEvent(t, events, event.KindModuleLoaded)
	if ev.Module == nil || ev.Module.Name != "lib.js" || ev.Module.ID != 12 {
		t.Errorf("unexpected module event %+v", ev.Module)
	}
	info := e.RuntimeInfo()
	if info.V8Version != "3.14.5.9" || info.EmbeddingHost != "node v0.10.48" || info.ProtocolVersion != "1" {
		t.Errorf("unexpected runtime info %+v", info)
	}
	if mods := e.Modules(); len(mods) != 1 || mods[0].LineCount != 40 {
		t.Errorf("Modules() = %+v", mods)
	}

	l.event(v8.EventThread, map[string]any{"reason": "started", "threadId": 2, "name": "worker 1", "isWorker": true})
	ev = waitEvent(t, events, event.KindThreadStarted)
	for ev.ThreadID != 2 {
		ev = waitEvent(t, events, event.KindThreadStarted)
	}
	if ev.Thread == nil || !ev.Thread.IsWorker || ev.Thread.Name != "worker 1" {
		t.Errorf("unexpected thread metadata %+v", ev.Thread)
	}
	infos := e.ThreadInfos()
	if len(infos) != 2 || infos[1].Category != session.ThreadCategoryWorker {
		t.Errorf("unexpected thread infos %+v", infos)
	}

	l.event(v8.EventThread, map[string]any{"reason": "exited", "threadId": 2})
	if ev := waitEvent(t, events, event.KindThreadExited); ev.ThreadID != 2 {
		t.Errorf("ThreadExited for %d", ev.ThreadID)
	}
	if len(e.Threads()) != 1 {
		t.Errorf("worker still live: %+v", e.Threads())
	}

	l.event("scriptCollected", map[string]any{"script": map[string]any{"id": 12}})
	if ev := waitEvent(t, events, event.KindUnknown); ev.Name != "scriptCollected" {
		t.Errorf("unknown event name = %q", ev.Name)
	}
}

func TestStopOnUnknownThreadRegistersIt(t *testing.T) {
	e, l := newFakeListener(t)

	events := collect(e, event.KindThreadStarted, event.KindStepComplete)
	body := breakBody(2)
	body["threadId"] = 7
	l.event(v8.EventBreak, body)

	started := waitEvent(t, events, event.KindThreadStarted)
	for started.ThreadID != 7 {
		started = waitEvent(t, events, event.KindThreadStarted)
	}
	stop := waitEvent(t, events, event.KindStepComplete)
	if stop.ThreadID != 7 {
		t.Errorf("stop on thread %d", stop.ThreadID)
	}
	th, ok := e.Thread(7)
	if !ok || !th.Stopped() {
		t.Errorf("thread 7 not stopped: %+v", th)
	}
}

func TestMalformedFrameIsSkipped(t *testing.T) {
	e, l := newFakeListener(t)

	modules := collect(e, event.KindModuleLoaded)
	l.writeRaw("Content-Length: 5\r\n\r\n{bad}")
	l.event(v8.EventAfterCompile, map[string]any{"script": map[string]any{"id": 1, "name": "a.js"}})

	waitEvent(t, modules, event.KindModuleLoaded)
	select {
	case <-e.Done():
		t.Fatal("connection closed on a recoverable frame error")
	default:
	}
}

func TestOversizedFrameClosesConnection(t *testing.T) {
	e, l := newFakeListener(t)

	l.writeRaw(fmt.Sprintf("Content-Length: %d\r\n\r\n", v8.MaxContentLength+1))

	select {
	case <-e.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection not closed on a fatal frame error")
	}
	if !errors.Is(e.Err(), ErrConnectionClosed) || !errors.Is(e.Err(), ErrProtocol) {
		t.Errorf("Err() = %v", e.Err())
	}
}

func TestExitEventPublishedOnce(t *testing.T) {
	e, l := newFakeListener(t, WithExitCodeFunc(func() int { return 9 }))

	exits := make(chan event.Event, 10)
	e.Subscribe(func(ev event.Event) { exits <- ev }, event.KindProcessExited)

	l.event(v8.EventExit, map[string]any{"exitCode": 2})
	if ev := waitEvent(t, exits, event.KindProcessExited); ev.ExitCode != 2 {
		t.Errorf("exit code = %d, expected 2", ev.ExitCode)
	}

	l.close()
	<-e.Done()
	select {
	case ev := <-exits:
		t.Errorf("second ProcessExited published: %v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSetExceptionBreak(t *testing.T) {
	e, l := newFakeListener(t)
	ctx := testContext(t)

	tests := []struct {
		mode     ExceptionBreakMode
		expected []v8.SetExceptionBreakArguments
	}{
		{ExceptionBreakAll, []v8.SetExceptionBreakArguments{{Type: "all", Enabled: true}}},
		{ExceptionBreakUncaught, []v8.SetExceptionBreakArguments{{Type: "all"}, {Type: "uncaught", Enabled: true}}},
		{ExceptionBreakNone, []v8.SetExceptionBreakArguments{{Type: "all"}, {Type: "uncaught"}}},
	}
	for _, tt := range tests {
		if err := e.SetExceptionBreak(ctx, tt.mode); err != nil {
			t.Fatalf("SetExceptionBreak(%s): %v", tt.mode, err)
		}
		for _, want := range tt.expected {
			var got v8.SetExceptionBreakArguments
			decodeArgs(t, l.next(), &got)
			if got != want {
				t.Errorf("%s: arguments = %+v, expected %+v", tt.mode, got, want)
			}
		}
	}

	if err := e.SetExceptionBreak(ctx, "sometimes"); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestScriptsAndVersion(t *testing.T) {
	e, l := newFakeListener(t)
	ctx := testContext(t)

	l.handle(func(req v8.Request) *reply {
		switch req.Command {
		case v8.CommandScripts:
			return ok([]v8.ScriptInfo{{ID: 3, Name: "a.js"}, {ID: 4, Name: "b.js"}})
		case v8.CommandVersion:
			return ok(v8.VersionBody{V8Version: "3.14.5.9"})
		}
		return ok(nil)
	})

	mods, err := e.Scripts(ctx)
	if err != nil || len(mods) != 2 {
		t.Fatalf("Scripts() = %v, %v", mods, err)
	}
	if len(e.Modules()) != 2 {
		t.Errorf("scripts not recorded as modules")
	}

	version, err := e.Version(ctx)
	if err != nil || version != "3.14.5.9" {
		t.Errorf("Version() = %q, %v", version, err)
	}
	if e.RuntimeInfo().V8Version != "3.14.5.9" {
		t.Errorf("runtime info not updated: %+v", e.RuntimeInfo())
	}
}

func TestThreadSuspensionNotSupported(t *testing.T) {
	e, _ := newFakeListener(t)

	if e.Capabilities().SupportsThreadSuspension {
		t.Error("thread suspension must be reported as unsupported")
	}
	if err := e.SuspendThread(1); !errors.Is(err, ErrNotSupported) {
		t.Errorf("SuspendThread = %v", err)
	}
	if err := e.ResumeThread(1); !errors.Is(err, ErrNotSupported) {
		t.Errorf("ResumeThread = %v", err)
	}
}

func TestDetach(t *testing.T) {
	e, l := newFakeListener(t)
	ctx := testContext(t)

	if err := e.Detach(ctx); err != nil {
		t.Fatalf("Detach: %v", err)
	}
	if req := l.next(); req.Command != v8.CommandDisconnect {
		t.Errorf("sent %s, expected disconnect", req.Command)
	}
	select {
	case <-e.Done():
	default:
		t.Error("engine not closed after detach")
	}
}

func TestSessionID(t *testing.T) {
	e, _ := newFakeListener(t)
	if len(e.SessionID()) != 36 {
		t.Errorf("SessionID() = %q, expected a UUID", e.SessionID())
	}

	e2, _ := newFakeListener(t, WithSessionID("fixed"))
	if e2.SessionID() != "fixed" {
		t.Errorf("SessionID() = %q", e2.SessionID())
	}
}
