package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/chzyer/readline"

	"github.com/dshills/nodedbg/internal/engine"
	"github.com/dshills/nodedbg/internal/event"
	"github.com/dshills/nodedbg/internal/session"
	"github.com/dshills/nodedbg/internal/v8"
)

// ErrQuit is returned by Execute for the quit command.
var ErrQuit = errors.New("quit")

// Debugger is the engine surface the shell drives.
type Debugger interface {
	SetBreakpoint(ctx context.Context, loc engine.Location, condition string) (*session.Breakpoint, error)
	ClearBreakpoint(ctx context.Context, id v8.BreakpointID) error
	SetBreakpointEnabled(ctx context.Context, id v8.BreakpointID, enabled bool) error
	SetBreakpointCondition(ctx context.Context, id v8.BreakpointID, condition string) error
	SetExceptionBreak(ctx context.Context, mode engine.ExceptionBreakMode) error
	Continue(ctx context.Context, threadID int) error
	StepInto(ctx context.Context, threadID int) error
	StepOver(ctx context.Context, threadID int) error
	StepOut(ctx context.Context, threadID int) error
	Pause(ctx context.Context) error
	Evaluate(ctx context.Context, threadID, frameIndex int, expr string) (*engine.Value, error)
	GetFrames(ctx context.Context, threadID int) ([]session.StackFrame, error)
	Scripts(ctx context.Context) ([]session.Module, error)
	ThreadInfos() []session.ThreadInfo
	Breakpoints() []*session.Breakpoint
	RuntimeInfo() session.RuntimeInfo
}

// LineReader supplies input lines. *readline.Instance implements it.
type LineReader interface {
	Readline() (string, error)
}

type command struct {
	names []string
	usage string
	help  string
	run   func(ctx context.Context, s *Shell, args string) error
}

// Shell interprets debugger commands.
type Shell struct {
	dbg             Debugger
	out             io.Writer
	breakpointsFile string

	mu     sync.Mutex
	thread int
	frame  int

	commands []*command
}

// ShellOption configures a Shell.
type ShellOption func(*Shell)

// WithBreakpointsFile sets the default file for the save command.
func WithBreakpointsFile(path string) ShellOption {
	return func(s *Shell) {
		s.breakpointsFile = path
	}
}

// NewShell creates a shell writing to out.
func NewShell(dbg Debugger, out io.Writer, opts ...ShellOption) *Shell {
	s := &Shell{
		dbg:    dbg,
		out:    out,
		thread: session.MainThreadID,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.commands = builtinCommands()
	return s
}

// Current returns the selected thread and frame.
func (s *Shell) Current() (thread, frame int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thread, s.frame
}

func (s *Shell) selectThread(id int) {
	s.mu.Lock()
	s.thread = id
	s.frame = 0
	s.mu.Unlock()
}

func (s *Shell) printf(format string, args ...any) {
	fmt.Fprintf(s.out, format, args...)
}

// Names returns every command name and alias, sorted.
func (s *Shell) Names() []string {
	var names []string
	for _, c := range s.commands {
		names = append(names, c.names...)
	}
	sort.Strings(names)
	return names
}

// Completer returns a readline completer for the shell's command names.
func Completer() readline.AutoCompleter {
	s := &Shell{commands: builtinCommands()}
	names := s.Names()
	items := make([]readline.PrefixCompleterInterface, 0, len(names))
	for _, name := range names {
		items = append(items, readline.PcItem(name))
	}
	return readline.NewPrefixCompleter(items...)
}

func (s *Shell) find(name string) *command {
	for _, c := range s.commands {
		for _, n := range c.names {
			if n == name {
				return c
			}
		}
	}
	return nil
}

// Execute runs one command line.
func (s *Shell) Execute(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	name, args, _ := strings.Cut(line, " ")
	c := s.find(name)
	if c == nil {
		return fmt.Errorf("unknown command %q, type 'help' for a list", name)
	}
	return c.run(ctx, s, strings.TrimSpace(args))
}

// Run reads and executes lines until quit, end of input or ctx is done.
func (s *Shell) Run(ctx context.Context, r LineReader) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		line, err := r.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		if err := s.Execute(ctx, line); err != nil {
			if errors.Is(err, ErrQuit) {
				return nil
			}
			s.printf("error: %v\n", err)
		}
	}
}

// HandleEvent prints ev and selects the thread of a stop.
func (s *Shell) HandleEvent(ev event.Event) {
	switch ev.Kind {
	case event.KindBreakpointHit, event.KindStepComplete:
		s.selectThread(ev.ThreadID)
	case event.KindExceptionRaised:
		if ev.Exception != nil && ev.Exception.IsUnhandled {
			s.selectThread(ev.ThreadID)
		}
	case event.KindUnknown:
		return
	}
	if msg := FormatEvent(ev); msg != "" {
		s.printf("%s\n", msg)
	}
}

func builtinCommands() []*command {
	return []*command{
		{names: []string{"break", "b"}, usage: "break <file>:<line>[:<column>] [if <condition>]", help: "Set a breakpoint.", run: cmdBreak},
		{names: []string{"clear"}, usage: "clear <id>", help: "Remove a breakpoint.", run: cmdClear},
		{names: []string{"enable"}, usage: "enable <id>", help: "Enable a breakpoint.", run: cmdEnable},
		{names: []string{"disable"}, usage: "disable <id>", help: "Disable a breakpoint.", run: cmdDisable},
		{names: []string{"condition"}, usage: "condition <id> [<expr>]", help: "Set or remove a breakpoint condition.", run: cmdCondition},
		{names: []string{"breakpoints", "bps"}, usage: "breakpoints", help: "List breakpoints.", run: cmdBreakpoints},
		{names: []string{"catch"}, usage: "catch none|uncaught|all", help: "Choose which exceptions stop the debuggee.", run: cmdCatch},
		{names: []string{"continue", "c"}, usage: "continue", help: "Resume the current thread.", run: cmdContinue},
		{names: []string{"next", "n"}, usage: "next", help: "Step over the current statement.", run: cmdNext},
		{names: []string{"step", "s"}, usage: "step", help: "Step into the next call.", run: cmdStep},
		{names: []string{"out", "finish"}, usage: "out", help: "Run until the current function returns.", run: cmdOut},
		{names: []string{"pause"}, usage: "pause", help: "Break as soon as possible.", run: cmdPause},
		{names: []string{"print", "p"}, usage: "print <expr>", help: "Evaluate an expression in the current frame.", run: cmdPrint},
		{names: []string{"backtrace", "bt"}, usage: "backtrace", help: "Show the call stack of the current thread.", run: cmdBacktrace},
		{names: []string{"frame", "f"}, usage: "frame <n>", help: "Select a frame of the current thread.", run: cmdFrame},
		{names: []string{"thread", "t"}, usage: "thread <id>", help: "Select a thread.", run: cmdThread},
		{names: []string{"threads"}, usage: "threads", help: "List threads.", run: cmdThreads},
		{names: []string{"scripts"}, usage: "scripts", help: "List compiled scripts.", run: cmdScripts},
		{names: []string{"info"}, usage: "info", help: "Show runtime information.", run: cmdInfo},
		{names: []string{"save"}, usage: "save [<file>]", help: "Save breakpoints to a file.", run: cmdSave},
		{names: []string{"help", "h"}, usage: "help", help: "Show this list.", run: cmdHelp},
		{names: []string{"quit", "exit", "q"}, usage: "quit", help: "Detach and exit.", run: cmdQuit},
	}
}

// parseLocation parses file:line[:column]. The file may itself contain
// colons.
func parseLocation(s string) (engine.Location, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 {
		return engine.Location{}, fmt.Errorf("location %q: expected <file>:<line>", s)
	}

	nums := make([]int, 0, 2)
	for i := len(parts) - 1; i >= 1 && len(nums) < 2; i-- {
		n, err := strconv.Atoi(parts[i])
		if err != nil {
			break
		}
		nums = append([]int{n}, nums...)
	}
	if len(nums) == 0 {
		return engine.Location{}, fmt.Errorf("location %q: line is not a number", s)
	}

	loc := engine.Location{
		File: strings.Join(parts[:len(parts)-len(nums)], ":"),
		Line: nums[0],
	}
	if len(nums) == 2 {
		loc.Column = nums[1]
	}
	if loc.File == "" {
		return engine.Location{}, fmt.Errorf("location %q: missing file", s)
	}
	return loc, nil
}

func parseID(args string) (v8.BreakpointID, error) {
	if args == "" {
		return "", errors.New("missing breakpoint id")
	}
	id, _, _ := strings.Cut(args, " ")
	return v8.BreakpointID(strings.TrimPrefix(id, "#")), nil
}

func cmdBreak(ctx context.Context, s *Shell, args string) error {
	spec, condition, _ := strings.Cut(args, " if ")
	loc, err := parseLocation(strings.TrimSpace(spec))
	if err != nil {
		return err
	}

	bp, err := s.dbg.SetBreakpoint(ctx, loc, strings.TrimSpace(condition))
	if err != nil {
		return err
	}
	if err := bp.Wait(ctx); err != nil {
		s.printf("Breakpoint at %s not set: %s\n", loc, breakpointReason(bp, err))
		return nil
	}
	s.printf("Breakpoint #%s set at %s:%d\n", bp.ID(), loc.File, bp.ActualLine())
	return nil
}

func breakpointReason(bp *session.Breakpoint, err error) string {
	if reason := bp.Reason(); reason != "" {
		return reason
	}
	return err.Error()
}

func cmdClear(ctx context.Context, s *Shell, args string) error {
	id, err := parseID(args)
	if err != nil {
		return err
	}
	if err := s.dbg.ClearBreakpoint(ctx, id); err != nil {
		return err
	}
	s.printf("Breakpoint #%s cleared\n", id)
	return nil
}

func cmdEnable(ctx context.Context, s *Shell, args string) error {
	return setEnabled(ctx, s, args, true)
}

func cmdDisable(ctx context.Context, s *Shell, args string) error {
	return setEnabled(ctx, s, args, false)
}

func setEnabled(ctx context.Context, s *Shell, args string, enabled bool) error {
	id, err := parseID(args)
	if err != nil {
		return err
	}
	return s.dbg.SetBreakpointEnabled(ctx, id, enabled)
}

func cmdCondition(ctx context.Context, s *Shell, args string) error {
	id, err := parseID(args)
	if err != nil {
		return err
	}
	_, condition, _ := strings.Cut(args, " ")
	return s.dbg.SetBreakpointCondition(ctx, id, strings.TrimSpace(condition))
}

func cmdBreakpoints(ctx context.Context, s *Shell, args string) error {
	bps := s.dbg.Breakpoints()
	if len(bps) == 0 {
		s.printf("No breakpoints.\n")
		return nil
	}
	for _, bp := range bps {
		s.printf("%s hits=%d\n", bp, bp.HitCount())
	}
	return nil
}

func cmdCatch(ctx context.Context, s *Shell, args string) error {
	mode := engine.ExceptionBreakMode(args)
	switch mode {
	case engine.ExceptionBreakNone, engine.ExceptionBreakUncaught, engine.ExceptionBreakAll:
	default:
		return fmt.Errorf("usage: catch none|uncaught|all")
	}
	return s.dbg.SetExceptionBreak(ctx, mode)
}

func cmdContinue(ctx context.Context, s *Shell, args string) error {
	thread, _ := s.Current()
	return s.dbg.Continue(ctx, thread)
}

func cmdNext(ctx context.Context, s *Shell, args string) error {
	thread, _ := s.Current()
	return s.dbg.StepOver(ctx, thread)
}

func cmdStep(ctx context.Context, s *Shell, args string) error {
	thread, _ := s.Current()
	return s.dbg.StepInto(ctx, thread)
}

func cmdOut(ctx context.Context, s *Shell, args string) error {
	thread, _ := s.Current()
	return s.dbg.StepOut(ctx, thread)
}

func cmdPause(ctx context.Context, s *Shell, args string) error {
	return s.dbg.Pause(ctx)
}

func cmdPrint(ctx context.Context, s *Shell, args string) error {
	if args == "" {
		return errors.New("usage: print <expr>")
	}
	thread, frame := s.Current()
	value, err := s.dbg.Evaluate(ctx, thread, frame, args)
	if err != nil {
		return err
	}
	s.printf("%s\n", FormatValue(value))
	return nil
}

func cmdBacktrace(ctx context.Context, s *Shell, args string) error {
	thread, current := s.Current()
	frames, err := s.dbg.GetFrames(ctx, thread)
	if err != nil {
		return err
	}
	for _, f := range frames {
		marker := " "
		if f.Index == current {
			marker = ">"
		}
		s.printf("%s #%d %s\n", marker, f.Index, f)
	}
	return nil
}

func cmdFrame(ctx context.Context, s *Shell, args string) error {
	n, err := strconv.Atoi(args)
	if err != nil || n < 0 {
		return errors.New("usage: frame <n>")
	}
	thread, _ := s.Current()
	frames, err := s.dbg.GetFrames(ctx, thread)
	if err != nil {
		return err
	}
	if n >= len(frames) {
		return fmt.Errorf("frame %d out of range, thread %d has %d frames", n, thread, len(frames))
	}

	s.mu.Lock()
	s.frame = n
	s.mu.Unlock()
	s.printf("#%d %s\n", n, frames[n])
	return nil
}

func cmdThread(ctx context.Context, s *Shell, args string) error {
	id, err := strconv.Atoi(args)
	if err != nil {
		return errors.New("usage: thread <id>")
	}
	for _, info := range s.dbg.ThreadInfos() {
		if info.ID == id {
			s.selectThread(id)
			return nil
		}
	}
	return fmt.Errorf("thread %d: %w", id, engine.ErrUnknownThread)
}

func cmdThreads(ctx context.Context, s *Shell, args string) error {
	current, _ := s.Current()
	for _, info := range s.dbg.ThreadInfos() {
		marker := " "
		if info.ID == current {
			marker = "*"
		}
		s.printf("%s %d %s [%s, %s] %s\n", marker, info.ID, info.Name, info.Category, info.State, info.Location)
	}
	return nil
}

func cmdScripts(ctx context.Context, s *Shell, args string) error {
	mods, err := s.dbg.Scripts(ctx)
	if err != nil {
		return err
	}
	for _, m := range mods {
		s.printf("%6d %s\n", m.ID, m.Name)
	}
	return nil
}

func cmdInfo(ctx context.Context, s *Shell, args string) error {
	info := s.dbg.RuntimeInfo()
	s.printf("V8 %s, protocol %s, host %s\n", orUnknown(info.V8Version), orUnknown(info.ProtocolVersion), orUnknown(info.EmbeddingHost))
	return nil
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func cmdSave(ctx context.Context, s *Shell, args string) error {
	path := args
	if path == "" {
		path = s.breakpointsFile
	}
	if path == "" {
		return errors.New("usage: save <file>")
	}
	n, err := SaveBreakpoints(path, s.dbg.Breakpoints())
	if err != nil {
		return err
	}
	s.printf("Saved %d breakpoints to %s\n", n, path)
	return nil
}

func cmdHelp(ctx context.Context, s *Shell, args string) error {
	for _, c := range s.commands {
		s.printf("  %-50s %s\n", c.usage, c.help)
	}
	return nil
}

func cmdQuit(ctx context.Context, s *Shell, args string) error {
	return ErrQuit
}
