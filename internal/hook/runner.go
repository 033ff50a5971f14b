package hook

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/nodedbg/internal/event"
	dbglog "github.com/dshills/nodedbg/internal/log"
	"github.com/dshills/nodedbg/internal/metrics"
)

// DefaultTimeout bounds a single hook call.
const DefaultTimeout = time.Second

// Hook function names.
const (
	HookBreak     = "on_break"
	HookException = "on_exception"
	HookModule    = "on_module"
	HookExit      = "on_exit"
)

// Action is what a hook asks the debugger to do with the stopped thread.
type Action string

const (
	ActionNone     Action = ""
	ActionContinue Action = "continue"
	ActionStepOver Action = "step_over"
	ActionStepInto Action = "step_into"
	ActionStepOut  Action = "step_out"
)

// ParseAction validates an action name.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionNone, ActionContinue, ActionStepOver, ActionStepInto, ActionStepOut:
		return a, nil
	}
	return ActionNone, fmt.Errorf("%w: %q", ErrUnknownAction, s)
}

// Runner owns one Lua state. gopher-lua states are not goroutine-safe, so
// every call into Lua holds mu.
type Runner struct {
	mu      sync.Mutex
	L       *lua.LState
	logger  *slog.Logger
	timeout time.Duration
	closed  bool
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger used by the Lua log function.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithTimeout bounds each hook call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d >= 0 {
			r.timeout = d
		}
	}
}

// NewRunner creates a runner with an empty script.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = dbglog.WithComponent(r.logger, "hook")

	r.L = lua.NewState(lua.Options{SkipOpenLibs: true})
	openSafeLibraries(r.L)
	r.L.SetGlobal("log", r.L.NewFunction(r.luaLog))
	return r
}

// openSafeLibraries opens the libraries that cannot reach the host.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	// Base also opens the file and module loaders.
	for _, name := range []string{"dofile", "loadfile", "require", "module"} {
		L.SetGlobal(name, lua.LNil)
	}
}

// LoadFile runs a script file, defining its hooks.
func (r *Runner) LoadFile(path string) error {
	return r.load(path, func() error { return r.L.DoFile(path) })
}

// LoadString runs script source, defining its hooks.
func (r *Runner) LoadString(name, code string) error {
	return r.load(name, func() error { return r.L.DoString(code) })
}

func (r *Runner) load(name string, do func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRunnerClosed
	}
	if err := r.withTimeout(do); err != nil {
		return &ScriptError{Hook: name, Err: err}
	}
	return nil
}

// Has reports whether the script defines the named hook.
func (r *Runner) Has(hook string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}
	return r.L.GetGlobal(hook).Type() == lua.LTFunction
}

// HookFor returns the hook that handles events of kind, or "".
func HookFor(kind event.Kind) string {
	switch kind {
	case event.KindBreakpointHit, event.KindStepComplete:
		return HookBreak
	case event.KindExceptionRaised:
		return HookException
	case event.KindModuleLoaded:
		return HookModule
	case event.KindProcessExited:
		return HookExit
	default:
		return ""
	}
}

// Run calls the hook for ev, if the script defines one, and returns the
// action it asked for.
func (r *Runner) Run(ev event.Event) (Action, error) {
	hook := HookFor(ev.Kind)
	if hook == "" {
		return ActionNone, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ActionNone, ErrRunnerClosed
	}

	fn := r.L.GetGlobal(hook)
	if fn.Type() != lua.LTFunction {
		return ActionNone, nil
	}

	var ret lua.LValue = lua.LNil
	err := r.withTimeout(func() error {
		if err := r.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, eventTable(r.L, ev)); err != nil {
			return err
		}
		ret = r.L.Get(-1)
		r.L.Pop(1)
		return nil
	})
	if err != nil {
		metrics.RecordHookRun(hook, "error")
		return ActionNone, &ScriptError{Hook: hook, Err: err}
	}

	var action Action
	switch ret.Type() {
	case lua.LTNil:
		action = ActionNone
	case lua.LTString:
		action, err = ParseAction(ret.String())
		if err != nil {
			metrics.RecordHookRun(hook, "error")
			return ActionNone, &ScriptError{Hook: hook, Err: err}
		}
	default:
		metrics.RecordHookRun(hook, "error")
		return ActionNone, &ScriptError{Hook: hook, Err: fmt.Errorf("%w: returned %s", ErrUnknownAction, ret.Type())}
	}

	if hook != HookBreak && hook != HookException {
		action = ActionNone
	}
	metrics.RecordHookRun(hook, actionLabel(action))
	return action, nil
}

func actionLabel(a Action) string {
	if a == ActionNone {
		return "none"
	}
	return string(a)
}

// withTimeout runs fn with the call bound installed. Callers hold mu.
func (r *Runner) withTimeout(fn func() error) (err error) {
	if r.timeout > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		r.L.SetContext(ctx)
		defer r.L.RemoveContext()
	}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("lua panic: %v", p)
		}
	}()
	return fn()
}

// luaLog implements log(msg) and log(level, msg).
func (r *Runner) luaLog(L *lua.LState) int {
	level := slog.LevelInfo
	msg := L.CheckString(1)
	if L.GetTop() >= 2 {
		level = dbglog.ParseLevel(strings.ToLower(msg))
		msg = L.CheckString(2)
	}
	r.logger.Log(context.Background(), level, msg)
	return 0
}

// Close releases the Lua state.
func (r *Runner) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	r.L.Close()
}

// eventTable converts ev into the table passed to hooks.
func eventTable(L *lua.LState, ev event.Event) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("kind", lua.LString(ev.Kind.String()))
	t.RawSetString("thread_id", lua.LNumber(ev.ThreadID))

	if ev.Location.File != "" {
		t.RawSetString("file", lua.LString(ev.Location.File))
		t.RawSetString("line", lua.LNumber(ev.Location.Line))
		t.RawSetString("column", lua.LNumber(ev.Location.Column))
	}
	if ev.BreakpointID != "" {
		t.RawSetString("breakpoint_id", lua.LString(ev.BreakpointID))
	}
	if ev.Reason != "" {
		t.RawSetString("reason", lua.LString(ev.Reason))
	}
	if exc := ev.Exception; exc != nil {
		et := L.NewTable()
		et.RawSetString("message", lua.LString(exc.Message))
		et.RawSetString("class", lua.LString(exc.ClassName))
		et.RawSetString("unhandled", lua.LBool(exc.IsUnhandled))
		t.RawSetString("exception", et)
	}
	if mod := ev.Module; mod != nil {
		t.RawSetString("module", lua.LString(mod.Name))
		t.RawSetString("module_id", lua.LNumber(mod.ID))
	}
	if ev.Kind == event.KindProcessExited {
		t.RawSetString("exit_code", lua.LNumber(ev.ExitCode))
	}
	return t
}
