package cli

import (
	"context"
	"log/slog"

	"github.com/dshills/nodedbg/internal/session"
)

// SaveBreakpoints writes the bound breakpoints to path and returns how
// many were written.
func SaveBreakpoints(path string, bps []*session.Breakpoint) (int, error) {
	specs := make([]session.BreakpointSpec, 0, len(bps))
	for _, bp := range bps {
		specs = append(specs, session.SpecOf(bp))
	}
	if err := session.SaveBreakpoints(path, specs); err != nil {
		return 0, err
	}
	return len(specs), nil
}

// RestoreBreakpoints sets the breakpoints saved in path. Breakpoints the
// runtime rejects are logged and skipped. It returns how many were bound.
func RestoreBreakpoints(ctx context.Context, dbg Debugger, path string, logger *slog.Logger) (int, error) {
	specs, err := session.LoadBreakpoints(path)
	if err != nil {
		return 0, err
	}

	bound := 0
	for _, spec := range specs {
		loc := spec.Location()
		bp, err := dbg.SetBreakpoint(ctx, loc, spec.Condition)
		if err != nil {
			return bound, err
		}
		if err := bp.Wait(ctx); err != nil {
			logger.Warn("saved breakpoint not restored", "location", loc.String(), "reason", breakpointReason(bp, err))
			continue
		}
		if !spec.Enabled {
			if err := dbg.SetBreakpointEnabled(ctx, bp.ID(), false); err != nil {
				logger.Warn("saved breakpoint not disabled", "location", loc.String(), "error", err)
			}
		}
		bound++
	}
	return bound, nil
}
