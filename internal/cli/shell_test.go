package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/chzyer/readline"

	"github.com/dshills/nodedbg/internal/engine"
	"github.com/dshills/nodedbg/internal/event"
	"github.com/dshills/nodedbg/internal/session"
	"github.com/dshills/nodedbg/internal/v8"
)

// mockDebugger records calls and binds breakpoints through a real
// session.State.
type mockDebugger struct {
	mu    sync.Mutex
	calls []string

	state   *session.State
	nextID  int
	reject  map[string]string // file -> rejection message
	err     error
	frames  []session.StackFrame
	value   *engine.Value
	modules []session.Module
	threads []session.ThreadInfo
	info    session.RuntimeInfo
}

func newMockDebugger() *mockDebugger {
	return &mockDebugger{
		state:   session.NewState(),
		threads: []session.ThreadInfo{{ID: 1, Name: "main thread", Category: session.ThreadCategoryMain}},
	}
}

func (m *mockDebugger) record(call string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
	return m.err
}

func (m *mockDebugger) lastCall() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return ""
	}
	return m.calls[len(m.calls)-1]
}

func (m *mockDebugger) SetBreakpoint(ctx context.Context, loc engine.Location, condition string) (*session.Breakpoint, error) {
	if err := m.record("break " + loc.String() + " " + condition); err != nil {
		return nil, err
	}
	bp := session.NewBreakpoint(loc, condition)
	if reason, ok := m.reject[loc.File]; ok {
		m.state.FailBreakpoint(bp, reason, &engine.RejectedError{Command: "setbreakpoint", Message: reason})
		return bp, nil
	}
	m.nextID++
	m.state.BindBreakpoint(bp, v8.BreakpointID(strconv.Itoa(m.nextID)), loc.Line)
	return bp, nil
}

func (m *mockDebugger) ClearBreakpoint(ctx context.Context, id v8.BreakpointID) error {
	if err := m.record("clear " + string(id)); err != nil {
		return err
	}
	_, err := m.state.RemoveBreakpoint(id)
	return err
}

func (m *mockDebugger) SetBreakpointEnabled(ctx context.Context, id v8.BreakpointID, enabled bool) error {
	call := "disable "
	if enabled {
		call = "enable "
	}
	if err := m.record(call + string(id)); err != nil {
		return err
	}
	return m.state.SetBreakpointEnabled(id, enabled)
}

func (m *mockDebugger) SetBreakpointCondition(ctx context.Context, id v8.BreakpointID, condition string) error {
	if err := m.record("condition " + string(id) + " " + condition); err != nil {
		return err
	}
	return m.state.SetBreakpointCondition(id, condition)
}

func (m *mockDebugger) SetExceptionBreak(ctx context.Context, mode engine.ExceptionBreakMode) error {
	return m.record("catch " + string(mode))
}

func (m *mockDebugger) Continue(ctx context.Context, threadID int) error {
	return m.record("continue " + strconv.Itoa(threadID))
}

func (m *mockDebugger) StepInto(ctx context.Context, threadID int) error {
	return m.record("step_into " + strconv.Itoa(threadID))
}

func (m *mockDebugger) StepOver(ctx context.Context, threadID int) error {
	return m.record("step_over " + strconv.Itoa(threadID))
}

func (m *mockDebugger) StepOut(ctx context.Context, threadID int) error {
	return m.record("step_out " + strconv.Itoa(threadID))
}

func (m *mockDebugger) Pause(ctx context.Context) error {
	return m.record("pause")
}

func (m *mockDebugger) Evaluate(ctx context.Context, threadID, frameIndex int, expr string) (*engine.Value, error) {
	if err := m.record(fmt.Sprintf("eval %d %d %s", threadID, frameIndex, expr)); err != nil {
		return nil, err
	}
	return m.value, nil
}

func (m *mockDebugger) GetFrames(ctx context.Context, threadID int) ([]session.StackFrame, error) {
	if err := m.record("frames " + strconv.Itoa(threadID)); err != nil {
		return nil, err
	}
	return m.frames, nil
}

func (m *mockDebugger) Scripts(ctx context.Context) ([]session.Module, error) {
	if err := m.record("scripts"); err != nil {
		return nil, err
	}
	return m.modules, nil
}

func (m *mockDebugger) ThreadInfos() []session.ThreadInfo {
	return m.threads
}

func (m *mockDebugger) Breakpoints() []*session.Breakpoint {
	return m.state.Breakpoints()
}

func (m *mockDebugger) RuntimeInfo() session.RuntimeInfo {
	return m.info
}

func newTestShell(t *testing.T, opts ...ShellOption) (*Shell, *mockDebugger, *bytes.Buffer) {
	t.Helper()
	dbg := newMockDebugger()
	var out bytes.Buffer
	return NewShell(dbg, &out, opts...), dbg, &out
}

func TestParseLocation(t *testing.T) {
	tests := []struct {
		input    string
		expected engine.Location
		wantErr  bool
	}{
		{"app.js:12", engine.Location{File: "app.js", Line: 12}, false},
		{"lib/a.js:3:7", engine.Location{File: "lib/a.js", Line: 3, Column: 7}, false},
		{`C:\src\a.js:4`, engine.Location{File: `C:\src\a.js`, Line: 4}, false},
		{"app.js", engine.Location{}, true},
		{"app.js:x", engine.Location{}, true},
		{":12", engine.Location{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			loc, err := parseLocation(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseLocation(%q) error = %v", tt.input, err)
			}
			if !tt.wantErr && loc != tt.expected {
				t.Errorf("parseLocation(%q) = %+v, expected %+v", tt.input, loc, tt.expected)
			}
		})
	}
}

func TestExecuteCommands(t *testing.T) {
	tests := []struct {
		line     string
		expected string
	}{
		{"continue", "continue 1"},
		{"c", "continue 1"},
		{"next", "step_over 1"},
		{"s", "step_into 1"},
		{"finish", "step_out 1"},
		{"pause", "pause"},
		{"catch all", "catch all"},
		{"scripts", "scripts"},
		{"bt", "frames 1"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			s, dbg, _ := newTestShell(t)
			if err := s.Execute(context.Background(), tt.line); err != nil {
				t.Fatalf("Execute(%q): %v", tt.line, err)
			}
			if got := dbg.lastCall(); got != tt.expected {
				t.Errorf("call = %q, expected %q", got, tt.expected)
			}
		})
	}
}

func TestExecuteErrors(t *testing.T) {
	tests := []string{
		"bogus",
		"break app.js",
		"clear",
		"catch sometimes",
		"print",
		"frame x",
		"thread 9",
		"save",
	}
	for _, line := range tests {
		t.Run(line, func(t *testing.T) {
			s, _, _ := newTestShell(t)
			if err := s.Execute(context.Background(), line); err == nil {
				t.Errorf("Execute(%q) succeeded", line)
			}
		})
	}
}

func TestBreakpointCommands(t *testing.T) {
	s, dbg, out := newTestShell(t)
	ctx := context.Background()

	if err := s.Execute(ctx, "break app.js:12 if n > 2"); err != nil {
		t.Fatalf("break: %v", err)
	}
	if dbg.lastCall() != "break app.js:12:0 n > 2" {
		t.Errorf("call = %q", dbg.lastCall())
	}
	if !strings.Contains(out.String(), "Breakpoint #1 set at app.js:12") {
		t.Errorf("output = %q", out.String())
	}

	for _, line := range []string{"disable #1", "condition 1 n > 5", "enable 1"} {
		if err := s.Execute(ctx, line); err != nil {
			t.Fatalf("%s: %v", line, err)
		}
	}
	bp := dbg.Breakpoints()[0]
	if !bp.Enabled() || bp.Condition() != "n > 5" {
		t.Errorf("unexpected breakpoint %v", bp)
	}

	out.Reset()
	if err := s.Execute(ctx, "breakpoints"); err != nil {
		t.Fatalf("breakpoints: %v", err)
	}
	if !strings.Contains(out.String(), "#1 app.js:12 [bound] if n > 5 hits=0") {
		t.Errorf("output = %q", out.String())
	}

	if err := s.Execute(ctx, "clear 1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	out.Reset()
	s.Execute(ctx, "bps")
	if !strings.Contains(out.String(), "No breakpoints.") {
		t.Errorf("output = %q", out.String())
	}
}

func TestBreakRejected(t *testing.T) {
	s, dbg, out := newTestShell(t)
	dbg.reject = map[string]string{"app.js": "Invalid line number"}

	if err := s.Execute(context.Background(), "b app.js:999"); err != nil {
		t.Fatalf("break: %v", err)
	}
	if !strings.Contains(out.String(), "not set: Invalid line number") {
		t.Errorf("output = %q", out.String())
	}
}

func TestPrintUsesSelectedFrame(t *testing.T) {
	s, dbg, out := newTestShell(t)
	ctx := context.Background()
	dbg.frames = []session.StackFrame{
		{Index: 0, FunctionName: "inner", File: "a.js", Line: 3, Column: 1},
		{Index: 1, FunctionName: "outer", File: "a.js", Line: 9, Column: 5},
	}
	dbg.value = &engine.Value{Type: "number", Text: "42"}

	if err := s.Execute(ctx, "frame 1"); err != nil {
		t.Fatalf("frame: %v", err)
	}
	if err := s.Execute(ctx, "p x * 2"); err != nil {
		t.Fatalf("print: %v", err)
	}
	if dbg.lastCall() != "eval 1 1 x * 2" {
		t.Errorf("call = %q", dbg.lastCall())
	}
	if !strings.HasSuffix(out.String(), "42\n") {
		t.Errorf("output = %q", out.String())
	}

	out.Reset()
	s.Execute(ctx, "bt")
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[1], "> #1 outer") {
		t.Errorf("backtrace = %q", out.String())
	}

	if err := s.Execute(ctx, "frame 5"); err == nil {
		t.Error("expected out of range error")
	}
}

func TestThreadsAndEvents(t *testing.T) {
	s, dbg, out := newTestShell(t)
	ctx := context.Background()
	dbg.threads = append(dbg.threads, session.ThreadInfo{ID: 2, Name: "worker", Category: session.ThreadCategoryWorker, State: session.ThreadStopped})

	s.HandleEvent(event.Event{
		Kind:         event.KindBreakpointHit,
		ThreadID:     2,
		BreakpointID: "3",
		Location:     event.Location{File: "w.js", Line: 4, Column: 1},
	})
	if thread, frame := s.Current(); thread != 2 || frame != 0 {
		t.Errorf("Current() = %d, %d", thread, frame)
	}
	if !strings.Contains(out.String(), "Breakpoint #3 hit on thread 2 at w.js:4:1") {
		t.Errorf("output = %q", out.String())
	}

	s.Execute(ctx, "continue")
	if dbg.lastCall() != "continue 2" {
		t.Errorf("call = %q", dbg.lastCall())
	}

	out.Reset()
	s.Execute(ctx, "threads")
	if !strings.Contains(out.String(), "* 2 worker [worker, stopped]") {
		t.Errorf("threads = %q", out.String())
	}

	if err := s.Execute(ctx, "thread 1"); err != nil {
		t.Fatalf("thread: %v", err)
	}
	if thread, _ := s.Current(); thread != 1 {
		t.Errorf("thread = %d", thread)
	}

	// Caught exceptions do not move the selection.
	s.HandleEvent(event.Event{Kind: event.KindExceptionRaised, ThreadID: 2, Exception: &event.Exception{Message: "x"}})
	if thread, _ := s.Current(); thread != 1 {
		t.Errorf("thread = %d after caught exception", thread)
	}
}

func TestSaveCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bps.json")
	s, _, out := newTestShell(t, WithBreakpointsFile(path))
	ctx := context.Background()

	s.Execute(ctx, "break a.js:1")
	s.Execute(ctx, "break b.js:2")
	if err := s.Execute(ctx, "save"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if !strings.Contains(out.String(), "Saved 2 breakpoints to "+path) {
		t.Errorf("output = %q", out.String())
	}

	specs, err := session.LoadBreakpoints(path)
	if err != nil || len(specs) != 2 {
		t.Fatalf("LoadBreakpoints() = %v, %v", specs, err)
	}
}

func TestInfoAndHelp(t *testing.T) {
	s, dbg, out := newTestShell(t)
	dbg.info = session.RuntimeInfo{V8Version: "3.14.5.9", ProtocolVersion: "1"}

	s.Execute(context.Background(), "info")
	if !strings.Contains(out.String(), "V8 3.14.5.9, protocol 1, host unknown") {
		t.Errorf("info = %q", out.String())
	}

	out.Reset()
	s.Execute(context.Background(), "help")
	for _, name := range []string{"break", "continue", "backtrace", "quit"} {
		if !strings.Contains(out.String(), name) {
			t.Errorf("help missing %s", name)
		}
	}
}

// lineReader feeds canned lines and then io.EOF.
type lineReader struct {
	lines []string
	errs  []error
}

func (r *lineReader) Readline() (string, error) {
	if len(r.lines) == 0 {
		return "", io.EOF
	}
	line, err := r.lines[0], r.errs[0]
	r.lines, r.errs = r.lines[1:], r.errs[1:]
	return line, err
}

func TestRun(t *testing.T) {
	s, dbg, out := newTestShell(t)
	r := &lineReader{
		lines: []string{"", "pause", "", "nope", "quit", "continue"},
		errs:  []error{readline.ErrInterrupt, nil, nil, nil, nil, nil},
	}

	if err := s.Run(context.Background(), r); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if dbg.lastCall() != "pause" {
		t.Errorf("last call = %q, quit should stop the loop", dbg.lastCall())
	}
	if !strings.Contains(out.String(), `error: unknown command "nope"`) {
		t.Errorf("output = %q", out.String())
	}
}

func TestRunEndOfInput(t *testing.T) {
	s, _, _ := newTestShell(t)
	if err := s.Run(context.Background(), &lineReader{}); err != nil {
		t.Errorf("Run at EOF = %v", err)
	}
}

func TestCommandErrorsAreReported(t *testing.T) {
	s, dbg, out := newTestShell(t)
	dbg.err = engine.ErrThreadRunning

	r := &lineReader{lines: []string{"next"}, errs: []error{nil}}
	if err := s.Run(context.Background(), r); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out.String(), engine.ErrThreadRunning.Error()) {
		t.Errorf("output = %q", out.String())
	}
	if !errors.Is(s.Execute(context.Background(), "quit"), ErrQuit) {
		t.Error("quit should return ErrQuit")
	}
}

func TestNames(t *testing.T) {
	s, _, _ := newTestShell(t)
	names := s.Names()
	if len(names) == 0 || names[0] != "b" {
		t.Errorf("Names() = %v", names)
	}
	if Completer() == nil {
		t.Error("nil completer")
	}
}
