// Package event classifies unsolicited debugger notifications and fans them
// out to subscribers.
//
// The engine's read goroutine calls Publish, which never blocks: events are
// appended to an unbounded FIFO queue and a single delivery goroutine hands
// each event to every matching subscriber before moving on to the next one.
// Subscribers therefore observe events in wire order, and a slow subscriber
// delays later deliveries without ever stalling the reader.
//
// Basic usage:
//
//	d := event.NewDispatcher()
//	sub := d.Subscribe(func(e event.Event) {
//		fmt.Println(e.Kind, e.ThreadID)
//	}, event.KindBreakpointHit, event.KindExceptionRaised)
//	defer sub.Unsubscribe()
//
//	d.Publish(event.Event{Kind: event.KindBreakpointHit, ThreadID: 1})
package event
