package event

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// Handler receives published events. It runs on the dispatcher's delivery
// goroutine; a handler that blocks delays every later event.
type Handler func(Event)

// PanicHandler is called when a handler panics.
type PanicHandler func(e Event, recovered any, stack []byte)

// Dispatcher delivers events to subscribers in publish order.
type Dispatcher struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []Event
	closing bool

	subsMu sync.RWMutex
	subs   []*Subscription
	nextID uint64

	logger       *slog.Logger
	panicHandler PanicHandler
	now          func() time.Time

	done chan struct{}

	// Stats
	published atomic.Uint64
	delivered atomic.Uint64
	panicked  atomic.Uint64
	dropped   atomic.Uint64
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger used for handler panics.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithPanicHandler sets a callback for handler panics. The panic is
// logged either way.
func WithPanicHandler(h PanicHandler) Option {
	return func(d *Dispatcher) {
		d.panicHandler = h
	}
}

// NewDispatcher creates a dispatcher and starts its delivery goroutine.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		logger: slog.Default(),
		now:    time.Now,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.cond = sync.NewCond(&d.mu)

	go d.run()
	return d
}

// Subscribe registers handler for the given kinds, or for every kind if
// none are given.
func (d *Dispatcher) Subscribe(handler Handler, kinds ...Kind) *Subscription {
	d.subsMu.Lock()
	defer d.subsMu.Unlock()

	d.nextID++
	sub := &Subscription{
		id:         d.nextID,
		handler:    handler,
		dispatcher: d,
	}
	if len(kinds) > 0 {
		sub.kinds = make(map[Kind]struct{}, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = struct{}{}
		}
	}
	sub.active.Store(true)

	d.subs = append(d.subs, sub)
	return sub
}

func (d *Dispatcher) unsubscribe(sub *Subscription) {
	d.subsMu.Lock()
	defer d.subsMu.Unlock()

	for i, s := range d.subs {
		if s == sub {
			d.subs = append(d.subs[:i:i], d.subs[i+1:]...)
			return
		}
	}
}

// Publish enqueues e for delivery and returns immediately. Events
// published after Close are dropped.
func (d *Dispatcher) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = d.now()
	}

	d.mu.Lock()
	if d.closing {
		d.mu.Unlock()
		d.dropped.Add(1)
		d.logger.Debug("dropping event after close", "event", e.String())
		return
	}
	d.queue = append(d.queue, e)
	d.mu.Unlock()

	d.published.Add(1)
	d.cond.Signal()
}

// run is the delivery loop.
func (d *Dispatcher) run() {
	defer close(d.done)

	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closing {
			d.cond.Wait()
		}
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		e := d.queue[0]
		d.queue[0] = Event{}
		d.queue = d.queue[1:]
		d.mu.Unlock()

		d.deliver(e)
	}
}

// deliver hands e to every matching subscriber.
func (d *Dispatcher) deliver(e Event) {
	d.subsMu.RLock()
	subs := make([]*Subscription, len(d.subs))
	copy(subs, d.subs)
	d.subsMu.RUnlock()

	for _, sub := range subs {
		if !sub.matches(e.Kind) {
			continue
		}
		d.call(sub, e)
	}
}

func (d *Dispatcher) call(sub *Subscription, e Event) {
	defer func() {
		if r := recover(); r != nil {
			d.panicked.Add(1)
			stack := debug.Stack()
			d.logger.Error("event handler panicked",
				"event", e.String(),
				"subscription", sub.id,
				"panic", r,
			)
			if d.panicHandler != nil {
				func() {
					defer func() { _ = recover() }()
					d.panicHandler(e, r, stack)
				}()
			}
		}
	}()

	sub.handler(e)
	d.delivered.Add(1)
}

// Close stops accepting events and waits until the queue has drained or
// ctx is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closing = true
	d.mu.Unlock()
	d.cond.Broadcast()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QueueDepth returns the number of events waiting for delivery.
func (d *Dispatcher) QueueDepth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Stats returns dispatcher statistics.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Published:  d.published.Load(),
		Delivered:  d.delivered.Load(),
		Panicked:   d.panicked.Load(),
		Dropped:    d.dropped.Load(),
		QueueDepth: d.QueueDepth(),
	}
}

// Stats contains statistics for a dispatcher.
type Stats struct {
	// Published is the number of events accepted by Publish.
	Published uint64

	// Delivered is the number of handler calls that returned normally.
	Delivered uint64

	// Panicked is the number of handler calls that panicked.
	Panicked uint64

	// Dropped is the number of events published after Close.
	Dropped uint64

	// QueueDepth is the number of events waiting for delivery.
	QueueDepth int
}
