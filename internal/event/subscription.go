package event

import "sync/atomic"

// Subscription is a registered handler.
type Subscription struct {
	id         uint64
	kinds      map[Kind]struct{}
	handler    Handler
	dispatcher *Dispatcher
	active     atomic.Bool
}

// ID returns the subscription identifier.
func (s *Subscription) ID() uint64 {
	return s.id
}

// IsActive reports whether the subscription still receives events.
func (s *Subscription) IsActive() bool {
	return s.active.Load()
}

// Unsubscribe stops delivery to the handler. An event already being
// delivered to it may still complete. Calling Unsubscribe twice is safe.
func (s *Subscription) Unsubscribe() {
	if !s.active.Swap(false) {
		return
	}
	s.dispatcher.unsubscribe(s)
}

func (s *Subscription) matches(k Kind) bool {
	if !s.active.Load() {
		return false
	}
	if s.kinds == nil {
		return true
	}
	_, ok := s.kinds[k]
	return ok
}
