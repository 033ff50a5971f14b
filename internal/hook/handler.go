package hook

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dshills/nodedbg/internal/event"
	"github.com/dshills/nodedbg/internal/session"
)

// Controller resumes stopped threads. *engine.Engine implements it.
type Controller interface {
	Thread(id int) (session.Thread, bool)
	Continue(ctx context.Context, threadID int) error
	StepOver(ctx context.Context, threadID int) error
	StepInto(ctx context.Context, threadID int) error
	StepOut(ctx context.Context, threadID int) error
}

// Perform applies action to the thread that stopped in ev.
func Perform(ctx context.Context, ctrl Controller, ev event.Event, action Action) error {
	switch action {
	case ActionNone:
		return nil
	case ActionContinue:
		return ctrl.Continue(ctx, ev.ThreadID)
	case ActionStepOver:
		return ctrl.StepOver(ctx, ev.ThreadID)
	case ActionStepInto:
		return ctrl.StepInto(ctx, ev.ThreadID)
	case ActionStepOut:
		return ctrl.StepOut(ctx, ev.ThreadID)
	default:
		return ErrUnknownAction
	}
}

// Handler returns an event handler that runs hooks and applies their
// actions. Failures are logged and leave the thread as it is. Actions for
// a thread that is no longer stopped are dropped.
//
// onAction, if not nil, is called after an action has been applied.
func (r *Runner) Handler(ctx context.Context, ctrl Controller, onAction func(event.Event, Action)) event.Handler {
	return func(ev event.Event) {
		action, err := r.Run(ev)
		if err != nil {
			if !errors.Is(err, ErrRunnerClosed) {
				r.logger.Warn("hook failed", "kind", ev.Kind.String(), "error", err)
			}
			return
		}
		if action == ActionNone {
			return
		}
		if th, ok := ctrl.Thread(ev.ThreadID); !ok || !th.Stopped() {
			r.logger.Debug("hook action dropped, thread not stopped",
				"action", string(action),
				slog.Int("thread_id", ev.ThreadID),
			)
			return
		}
		if err := Perform(ctx, ctrl, ev, action); err != nil {
			r.logger.Warn("hook action failed",
				"action", string(action),
				slog.Int("thread_id", ev.ThreadID),
				"error", err,
			)
			return
		}
		if onAction != nil {
			onAction(ev, action)
		}
	}
}
