package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/nodedbg/internal/event"
	"github.com/dshills/nodedbg/internal/ledger"
	dbglog "github.com/dshills/nodedbg/internal/log"
	"github.com/dshills/nodedbg/internal/metrics"
	"github.com/dshills/nodedbg/internal/session"
	"github.com/dshills/nodedbg/internal/v8"
)

// Engine is one debug session over one debugger connection.
//
// All methods are safe for concurrent use. Once New returns, session state
// is written only by the engine's read goroutine, except that a breakpoint
// whose command times out or loses the connection is settled by its waiter.
type Engine struct {
	transport  v8.Transport
	pending    *ledger.Ledger[*v8.Response]
	dispatcher *event.Dispatcher
	state      *session.State

	seq atomic.Int64

	// Configuration
	logger         *slog.Logger
	timeout        time.Duration
	maxFrames      int
	breakOnHandled bool
	exitCode       func() int
	sessionID      string

	// Owned by the read goroutine.
	stepping      map[int]bool
	pausing       bool
	exitPublished bool

	closing   atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
	errMu     sync.RWMutex
	err       error
}

// New creates an engine over an established transport and starts reading
// from it.
func New(transport v8.Transport, opts ...Option) *Engine {
	e := &Engine{
		transport: transport,
		state:     session.NewState(),
		logger:    slog.Default(),
		timeout:   DefaultCommandTimeout,
		maxFrames: DefaultMaxFrames,
		sessionID: uuid.NewString(),
		stepping:  make(map[int]bool),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.logger = dbglog.WithSession(dbglog.WithComponent(e.logger, "engine"), e.sessionID)
	e.pending = ledger.New[*v8.Response](ledger.WithLogger(e.logger))
	e.dispatcher = event.NewDispatcher(event.WithLogger(e.logger))

	metrics.SessionOpened()

	// Thread 1 exists before any command can reach the runtime.
	e.state.AddThread(session.MainThreadID, session.MainThreadName, false)
	e.publish(event.Event{
		Kind:     event.KindThreadStarted,
		ThreadID: session.MainThreadID,
		Thread:   &event.ThreadMeta{Name: session.MainThreadName},
	})

	go e.readLoop()
	return e
}

// Attach dials a debugger listener at address ("host:port") and starts a
// session on it.
func Attach(ctx context.Context, address string, opts ...Option) (*Engine, error) {
	t, err := v8.Dial(ctx, address)
	if err != nil {
		return nil, err
	}
	return New(t, opts...), nil
}

// SessionID returns the session identifier used in logs.
func (e *Engine) SessionID() string {
	return e.sessionID
}

// Done is closed once the connection has been torn down.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Err returns the reason the connection ended, or nil while it is open.
func (e *Engine) Err() error {
	e.errMu.RLock()
	defer e.errMu.RUnlock()
	return e.err
}

// Close closes the connection and waits for teardown. Pending commands
// fail with ErrConnectionClosed.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.closing.Store(true)
		err = e.transport.Close()
	})
	<-e.done
	return err
}

// Subscribe registers handler for the given event kinds, or all kinds if
// none are given. Handlers run on a single delivery goroutine in wire
// order.
func (e *Engine) Subscribe(handler event.Handler, kinds ...event.Kind) *event.Subscription {
	return e.dispatcher.Subscribe(handler, kinds...)
}

// call is one in-flight command.
type call struct {
	engine  *Engine
	command string
	seq     int
	waiter  *ledger.Waiter[*v8.Response]
	started time.Time
}

// start registers and sends a command. apply runs on the read goroutine
// when a success response arrives; its error becomes the call's error.
func (e *Engine) start(command string, args any, apply func(*v8.Response) error) (*call, error) {
	return e.startCall(command, args, apply, nil)
}

// startCall is start with a hook that also runs on the read goroutine
// when the runtime rejects the command.
func (e *Engine) startCall(command string, args any, apply func(*v8.Response) error, rejected func(*RejectedError)) (*call, error) {
	seq := int(e.seq.Add(1))
	c := &call{engine: e, command: command, seq: seq, started: time.Now()}

	c.waiter = e.pending.Submit(seq, ledger.WithApply(func(resp *v8.Response) error {
		if !resp.Success {
			err := &RejectedError{Command: command, Message: resp.Message}
			if rejected != nil {
				rejected(err)
			}
			return err
		}
		if apply != nil {
			return apply(resp)
		}
		return nil
	}))

	select {
	case <-c.waiter.Done():
		// The ledger was already cancelled.
		_, err := c.waiter.Result()
		c.finish(err)
		return nil, err
	default:
	}

	frame, err := v8.Encode(command, seq, args)
	if err != nil {
		e.pending.Cancel(seq)
		c.finish(err)
		return nil, fmt.Errorf("encode %s: %w", command, err)
	}

	metrics.RequestStarted()
	dbglog.Trace(e.logger, "send", slog.String(dbglog.CommandKey, command), slog.Int(dbglog.SeqKey, seq))
	if err := e.transport.Send(frame); err != nil {
		metrics.RequestFinished()
		e.pending.Cancel(seq)
		err = closedError(err)
		c.finish(err)
		return nil, fmt.Errorf("%s: %w", command, err)
	}
	return c, nil
}

// wait blocks until the response arrives, the command times out or ctx is
// cancelled. A context without a deadline gets the engine's command
// timeout.
func (c *call) wait(ctx context.Context) (*v8.Response, error) {
	defer metrics.RequestFinished()

	timeout := c.engine.timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = deadline.Sub(c.started)
	} else {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resp, err := c.waiter.Wait(ctx)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		c.engine.pending.Cancel(c.seq)

		// The response may have landed while we were giving up.
		select {
		case <-c.waiter.Done():
			resp, err = c.waiter.Result()
		default:
			if errors.Is(err, context.DeadlineExceeded) {
				err = &TimeoutError{Command: c.command, Seq: c.seq, Timeout: timeout, Err: err}
			}
		}
	}

	c.finish(err)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *call) finish(err error) {
	outcome := metrics.OutcomeOK
	switch {
	case err == nil:
	case errors.Is(err, ErrRuntimeRejected):
		outcome = metrics.OutcomeRejected
	case errors.Is(err, ErrTimeout):
		outcome = metrics.OutcomeTimeout
	case errors.Is(err, ErrConnectionClosed):
		outcome = metrics.OutcomeClosed
	case errors.Is(err, context.Canceled):
		outcome = metrics.OutcomeCanceled
	default:
		outcome = metrics.OutcomeError
	}
	metrics.RecordCommand(c.command, outcome, time.Since(c.started))

	if err != nil {
		c.engine.logger.Debug("command failed",
			dbglog.CommandKey, c.command,
			dbglog.SeqKey, c.seq,
			"error", err,
		)
	}
}

// roundTrip sends a command and waits for its response.
func (e *Engine) roundTrip(ctx context.Context, command string, args any, apply func(*v8.Response) error) (*v8.Response, error) {
	c, err := e.start(command, args, apply)
	if err != nil {
		return nil, err
	}
	return c.wait(ctx)
}

// publish hands an event to subscribers.
func (e *Engine) publish(ev event.Event) {
	metrics.RecordEvent(ev.Kind.String())
	e.logger.Debug("event", dbglog.EventKey, ev.String())
	e.dispatcher.Publish(ev)
}

// readLoop is the engine's only reader and the writer of session state.
func (e *Engine) readLoop() {
	for {
		msg, err := e.transport.Receive()
		if err != nil {
			var pe *v8.ProtocolError
			if errors.As(err, &pe) {
				metrics.RecordProtocolError(pe.Fatal)
				if !pe.Fatal {
					e.logger.Warn("discarding malformed frame", "error", err)
					continue
				}
				e.logger.Error("unrecoverable framing error", "error", err)
			}
			e.teardown(err)
			return
		}

		switch m := msg.(type) {
		case *v8.Connect:
			e.handleConnect(m)
		case *v8.Response:
			dbglog.Trace(e.logger, "receive",
				slog.String(dbglog.CommandKey, m.Command),
				slog.Int(dbglog.SeqKey, m.RequestSeq),
				slog.Bool("success", m.Success),
			)
			if !e.pending.Resolve(m.RequestSeq, m) {
				metrics.RecordUnmatchedResponse()
			}
		case *v8.Event:
			e.handleEvent(m)
		}
	}
}

func (e *Engine) handleConnect(c *v8.Connect) {
	info := session.RuntimeInfo{
		V8Version:       c.V8Version(),
		ProtocolVersion: c.ProtocolVersion(),
		EmbeddingHost:   c.EmbeddingHost(),
	}
	e.state.SetRuntimeInfo(info)
	e.logger.Info("connected",
		"v8_version", info.V8Version,
		"protocol_version", info.ProtocolVersion,
		"embedding_host", info.EmbeddingHost,
	)
}

// teardown runs once, on the read goroutine, when the connection ends.
func (e *Engine) teardown(cause error) {
	err := ErrConnectionClosed
	if !e.closing.Load() {
		err = closedError(cause)
		e.logger.Info("connection lost", "error", cause)
	}

	e.errMu.Lock()
	e.err = err
	e.errMu.Unlock()

	e.pending.CancelAll(err)

	for _, id := range e.state.Teardown() {
		e.publish(event.Event{Kind: event.KindThreadExited, ThreadID: id})
	}
	if !e.exitPublished {
		code := -1
		if e.exitCode != nil {
			code = e.exitCode()
		}
		e.exitPublished = true
		e.publish(event.Event{Kind: event.KindProcessExited, ExitCode: code})
	}

	e.closing.Store(true)
	_ = e.transport.Close()
	metrics.SessionClosed()
	close(e.done)

	ctx, cancel := context.WithTimeout(context.Background(), DefaultDrainTimeout)
	defer cancel()
	if err := e.dispatcher.Close(ctx); err != nil {
		e.logger.Warn("event queue not drained", "error", err)
	}
}
