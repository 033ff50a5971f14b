package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/dshills/nodedbg/internal/config"
	"github.com/dshills/nodedbg/internal/engine"
	"github.com/dshills/nodedbg/internal/hook"
	dbglog "github.com/dshills/nodedbg/internal/log"
)

// attachOptions holds the attach command's flags.
type attachOptions struct {
	address         string
	timeout         time.Duration
	maxFrames       int
	breakOnHandled  bool
	exceptionBreak  string
	metricsAddress  string
	script          string
	breakpointsFile string
	historyFile     string
}

// NewAttachCmd creates the attach command.
func NewAttachCmd(configPath *string) *cobra.Command {
	opts := &attachOptions{}

	cmd := &cobra.Command{
		Use:   "attach",
		Short: "Attach to a Node.js process started with --debug",
		Long: `Attach to the V8 debugger listener of a running Node.js process and
open an interactive debugging shell.

Start the debuggee with 'node --debug=5858 app.js' or 'node --debug-brk app.js'.
Type 'help' in the shell for the list of commands.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			opts.apply(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runAttach(cmd.Context(), cfg, *configPath)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.address, "addr", "a", config.DefaultAddress, "Debugger listener address (host:port)")
	f.DurationVar(&opts.timeout, "timeout", config.DefaultCommandTimeout, "Timeout for each debugger command")
	f.IntVar(&opts.maxFrames, "max-frames", config.DefaultMaxFrames, "Deepest backtrace to fetch")
	f.BoolVar(&opts.breakOnHandled, "break-on-handled", false, "Stop on caught exceptions")
	f.StringVar(&opts.exceptionBreak, "exception-break", config.DefaultExceptionBreak, "Exceptions that stop the debuggee: none, uncaught, all")
	f.StringVar(&opts.metricsAddress, "metrics-addr", "", "Serve Prometheus metrics on this address")
	f.StringVar(&opts.script, "script", "", "Lua hook script run on stop events")
	f.StringVar(&opts.breakpointsFile, "breakpoints", "", "Restore breakpoints from and save them to this file")
	f.StringVar(&opts.historyFile, "history", "", "Shell history file")

	return cmd
}

// apply overlays the flags the user set onto cfg.
func (o *attachOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("addr") {
		cfg.Address = o.address
	}
	if f.Changed("timeout") {
		cfg.CommandTimeout = config.Duration(o.timeout)
	}
	if f.Changed("max-frames") {
		cfg.MaxFrames = o.maxFrames
	}
	if f.Changed("break-on-handled") {
		cfg.BreakOnHandledExceptions = o.breakOnHandled
	}
	if f.Changed("exception-break") {
		cfg.ExceptionBreak = o.exceptionBreak
	}
	if f.Changed("metrics-addr") {
		cfg.Metrics.Address = o.metricsAddress
	}
	if f.Changed("script") {
		cfg.Hook.Script = o.script
	}
	if f.Changed("breakpoints") {
		cfg.REPL.BreakpointsFile = o.breakpointsFile
	}
	if f.Changed("history") {
		cfg.REPL.HistoryFile = o.historyFile
	}
}

// engineOptions maps configuration to engine options.
func engineOptions(cfg *config.Config, logger *slog.Logger) []engine.Option {
	return []engine.Option{
		engine.WithLogger(logger),
		engine.WithCommandTimeout(cfg.CommandTimeout.Std()),
		engine.WithMaxFrames(cfg.MaxFrames),
		engine.WithBreakOnHandledExceptions(cfg.BreakOnHandledExceptions),
	}
}

func runAttach(ctx context.Context, cfg *config.Config, configPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	levelVar := new(slog.LevelVar)
	logCfg := cfg.LoggerConfig()
	logCfg.LevelVar = levelVar
	logger := dbglog.New(logCfg)

	if cfg.Metrics.Address != "" {
		ms, err := startMetricsServer(cfg.Metrics.Address, logger)
		if err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
		defer ms.Close()
	}

	dialCtx, dialCancel := context.WithTimeout(ctx, cfg.CommandTimeout.Std())
	eng, err := engine.Attach(dialCtx, cfg.Address, engineOptions(cfg, logger)...)
	dialCancel()
	if err != nil {
		return fmt.Errorf("attach %s: %w", cfg.Address, err)
	}
	defer eng.Close()

	if err := eng.SetExceptionBreak(ctx, engine.ExceptionBreakMode(cfg.ExceptionBreak)); err != nil {
		return err
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "(nodedbg) ",
		HistoryFile:     cfg.REPL.HistoryFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
		AutoComplete:    Completer(),
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	shell := NewShell(eng, rl.Stdout(), WithBreakpointsFile(cfg.REPL.BreakpointsFile))
	eng.Subscribe(shell.HandleEvent)

	if cfg.Hook.Script != "" {
		runner := hook.NewRunner(hook.WithLogger(logger), hook.WithTimeout(cfg.Hook.Timeout.Std()))
		defer runner.Close()
		if err := runner.LoadFile(cfg.Hook.Script); err != nil {
			return err
		}
		eng.Subscribe(runner.Handler(ctx, eng, nil))
	}

	if cfg.REPL.BreakpointsFile != "" {
		n, err := RestoreBreakpoints(ctx, eng, cfg.REPL.BreakpointsFile, logger)
		if err != nil {
			logger.Warn("restoring breakpoints failed", "file", cfg.REPL.BreakpointsFile, "error", err)
		} else if n > 0 {
			fmt.Fprintf(rl.Stdout(), "Restored %d breakpoints\n", n)
		}
	}

	if configPath != "" {
		go func() {
			err := config.Watch(ctx, configPath, func(c *config.Config, err error) {
				if err != nil {
					logger.Warn("configuration reload failed", "error", err)
					return
				}
				levelVar.Set(dbglog.ParseLevel(c.Log.Level))
				logger.Info("configuration reloaded", "log_level", c.Log.Level)
			})
			if err != nil {
				logger.Warn("configuration watch failed", "error", err)
			}
		}()
	}

	go func() {
		select {
		case <-eng.Done():
			// Unblock the prompt once the debuggee is gone.
			rl.Close()
		case <-ctx.Done():
		}
	}()

	info := eng.RuntimeInfo()
	fmt.Fprintf(rl.Stdout(), "Attached to %s (V8 %s). Type 'help' for a list of commands.\n", cfg.Address, orUnknown(info.V8Version))

	runErr := shell.Run(ctx, rl)

	select {
	case <-eng.Done():
		// The prompt was closed under the shell.
		runErr = nil
		if cfg.REPL.BreakpointsFile != "" {
			logger.Info("debuggee gone, breakpoints not saved", "file", cfg.REPL.BreakpointsFile)
		}
	default:
		if cfg.REPL.BreakpointsFile != "" {
			if _, err := SaveBreakpoints(cfg.REPL.BreakpointsFile, eng.Breakpoints()); err != nil {
				logger.Warn("saving breakpoints failed", "file", cfg.REPL.BreakpointsFile, "error", err)
			}
		}
		detachCtx, detachCancel := context.WithTimeout(context.Background(), cfg.CommandTimeout.Std())
		defer detachCancel()
		if err := eng.Detach(detachCtx); err != nil {
			logger.Warn("detach failed", "error", err)
		}
	}
	return runErr
}
