// Package ledger matches asynchronous responses to the requests that
// caused them.
//
// Each outstanding request is registered under its sequence number with
// Submit and yields a Waiter. The goroutine that reads responses calls
// Resolve or Reject; the waiter observes the outcome exactly once. When the
// connection goes away CancelAll fails every waiter so no caller blocks
// forever.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Ledger tracks in-flight requests keyed by sequence number.
type Ledger[T any] struct {
	mu      sync.Mutex
	pending map[int]*Waiter[T]
	closed  error
	logger  *slog.Logger
}

// Option configures a Ledger.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger used for discarded responses.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// New creates an empty ledger.
func New[T any](opts ...Option) *Ledger[T] {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Ledger[T]{
		pending: make(map[int]*Waiter[T]),
		logger:  o.logger,
	}
}

// SubmitOption configures a single submission.
type SubmitOption[T any] func(*Waiter[T])

// WithApply registers a hook that Resolve runs on its own goroutine before
// the waiter is signalled. The hook's error becomes the waiter's error.
func WithApply[T any](fn func(T) error) SubmitOption[T] {
	return func(w *Waiter[T]) {
		w.apply = fn
	}
}

// Submit registers seq and returns its waiter.
//
// Submitting a seq that is still outstanding is a programming error and
// panics. After CancelAll the returned waiter has already failed with the
// cancellation error.
func (l *Ledger[T]) Submit(seq int, opts ...SubmitOption[T]) *Waiter[T] {
	w := newWaiter[T](seq)
	for _, opt := range opts {
		opt(w)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed != nil {
		var zero T
		w.complete(zero, l.closed)
		return w
	}
	if _, ok := l.pending[seq]; ok {
		panic(fmt.Sprintf("ledger: sequence number %d is already outstanding", seq))
	}
	l.pending[seq] = w
	return w
}

// take removes and returns the waiter for seq.
func (l *Ledger[T]) take(seq int) (*Waiter[T], bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.pending[seq]
	if ok {
		delete(l.pending, seq)
	}
	return w, ok
}

// Resolve completes seq with payload. Unknown sequence numbers are logged
// and discarded; Resolve then returns false.
func (l *Ledger[T]) Resolve(seq int, payload T) bool {
	w, ok := l.take(seq)
	if !ok {
		l.logger.Warn("discarding response for unknown request", "seq", seq)
		return false
	}

	var err error
	if w.apply != nil {
		err = w.apply(payload)
	}
	w.complete(payload, err)
	return true
}

// Reject fails seq with err. Unknown sequence numbers are logged and
// discarded; Reject then returns false.
func (l *Ledger[T]) Reject(seq int, err error) bool {
	w, ok := l.take(seq)
	if !ok {
		l.logger.Warn("discarding rejection for unknown request", "seq", seq, "error", err)
		return false
	}

	var zero T
	w.complete(zero, err)
	return true
}

// Cancel removes seq without completing its waiter. A response that
// arrives later is discarded as unknown.
func (l *Ledger[T]) Cancel(seq int) bool {
	_, ok := l.take(seq)
	return ok
}

// CancelAll fails every outstanding waiter with err and makes all future
// submissions fail with it too.
func (l *Ledger[T]) CancelAll(err error) {
	l.mu.Lock()
	if l.closed == nil {
		l.closed = err
	}
	pending := l.pending
	l.pending = make(map[int]*Waiter[T])
	l.mu.Unlock()

	var zero T
	for _, w := range pending {
		w.complete(zero, err)
	}
}

// Len returns the number of outstanding requests.
func (l *Ledger[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Waiter is the caller's handle on one outstanding request.
type Waiter[T any] struct {
	seq   int
	apply func(T) error

	done    chan struct{}
	once    sync.Once
	payload T
	err     error
}

func newWaiter[T any](seq int) *Waiter[T] {
	return &Waiter[T]{
		seq:  seq,
		done: make(chan struct{}),
	}
}

// complete records the outcome. Only the first call has an effect.
func (w *Waiter[T]) complete(payload T, err error) {
	w.once.Do(func() {
		w.payload = payload
		w.err = err
		close(w.done)
	})
}

// Seq returns the sequence number the waiter was submitted with.
func (w *Waiter[T]) Seq() int {
	return w.seq
}

// Done is closed once the request has an outcome.
func (w *Waiter[T]) Done() <-chan struct{} {
	return w.done
}

// Result returns the outcome. It must only be called after Done is closed.
func (w *Waiter[T]) Result() (T, error) {
	return w.payload, w.err
}

// Wait blocks until the request completes or ctx is done. On ctx
// expiry the context error is returned and the entry stays in the ledger;
// callers that give up should Cancel it.
func (w *Waiter[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-w.done:
		return w.payload, w.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
