package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/dshills/nodedbg/internal/event"
	"github.com/dshills/nodedbg/internal/v8"
)

// Location is a 1-based source position.
type Location = event.Location

// BreakpointState is the lifecycle state of a breakpoint.
type BreakpointState int

const (
	// BreakpointPending means the runtime has not answered yet.
	BreakpointPending BreakpointState = iota
	// BreakpointBound means the runtime accepted the breakpoint.
	BreakpointBound
	// BreakpointFailed means the runtime rejected it or never answered.
	BreakpointFailed
	// BreakpointRemoved means a bound breakpoint was cleared or the
	// session ended.
	BreakpointRemoved
)

// String returns a string representation of the state.
func (s BreakpointState) String() string {
	switch s {
	case BreakpointPending:
		return "pending"
	case BreakpointBound:
		return "bound"
	case BreakpointFailed:
		return "failed"
	case BreakpointRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Breakpoint is a live handle on a user breakpoint. Its state moves from
// Pending to Bound or Failed, and from Bound to Removed.
type Breakpoint struct {
	mu sync.RWMutex

	location  Location
	condition string
	enabled   bool

	state      BreakpointState
	runtimeID  v8.BreakpointID
	actualLine int
	reason     string
	err        error
	hitCount   int

	settled chan struct{}
	once    sync.Once
}

// NewBreakpoint creates a pending, enabled breakpoint.
func NewBreakpoint(loc Location, condition string) *Breakpoint {
	return &Breakpoint{
		location:  loc,
		condition: condition,
		enabled:   true,
		settled:   make(chan struct{}),
	}
}

// Location returns the requested location.
func (b *Breakpoint) Location() Location {
	return b.location
}

// Condition returns the condition expression, if any.
func (b *Breakpoint) Condition() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.condition
}

// Enabled reports whether the breakpoint is enabled.
func (b *Breakpoint) Enabled() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.enabled
}

// State returns the current state.
func (b *Breakpoint) State() BreakpointState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// ID returns the runtime identifier. It is empty until bound.
func (b *Breakpoint) ID() v8.BreakpointID {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.runtimeID
}

// ActualLine returns the 1-based line the runtime resolved the breakpoint
// to, or the requested line if it did not report one.
func (b *Breakpoint) ActualLine() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.actualLine == 0 {
		return b.location.Line
	}
	return b.actualLine
}

// Reason returns the runtime's rejection message for a failed breakpoint.
func (b *Breakpoint) Reason() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.reason
}

// Err returns the error a failed breakpoint settled with.
func (b *Breakpoint) Err() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.err
}

// HitCount returns how often the breakpoint has been hit.
func (b *Breakpoint) HitCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.hitCount
}

// Settled is closed once the breakpoint is Bound or Failed.
func (b *Breakpoint) Settled() <-chan struct{} {
	return b.settled
}

// Wait blocks until the runtime has answered. It returns nil once bound
// and the failure error once failed.
func (b *Breakpoint) Wait(ctx context.Context) error {
	select {
	case <-b.settled:
		return b.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// String returns a short description for display.
func (b *Breakpoint) String() string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s := fmt.Sprintf("%s:%d", b.location.File, b.location.Line)
	if b.runtimeID != "" {
		s = fmt.Sprintf("#%s %s", b.runtimeID, s)
	}
	s += " [" + b.state.String()
	if !b.enabled {
		s += ", disabled"
	}
	s += "]"
	if b.condition != "" {
		s += " if " + b.condition
	}
	return s
}

func (b *Breakpoint) settle() {
	b.once.Do(func() { close(b.settled) })
}

func (b *Breakpoint) bind(id v8.BreakpointID, actualLine int) bool {
	b.mu.Lock()
	if b.state != BreakpointPending {
		b.mu.Unlock()
		return false
	}
	b.state = BreakpointBound
	b.runtimeID = id
	b.actualLine = actualLine
	b.mu.Unlock()

	b.settle()
	return true
}

func (b *Breakpoint) fail(reason string, err error) bool {
	b.mu.Lock()
	if b.state != BreakpointPending {
		b.mu.Unlock()
		return false
	}
	b.state = BreakpointFailed
	b.reason = reason
	b.err = err
	b.mu.Unlock()

	b.settle()
	return true
}

func (b *Breakpoint) remove() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != BreakpointBound {
		return false
	}
	b.state = BreakpointRemoved
	return true
}

func (b *Breakpoint) hit() {
	b.mu.Lock()
	b.hitCount++
	b.mu.Unlock()
}

func (b *Breakpoint) setEnabled(enabled bool) {
	b.mu.Lock()
	b.enabled = enabled
	b.mu.Unlock()
}

func (b *Breakpoint) setCondition(condition string) {
	b.mu.Lock()
	b.condition = condition
	b.mu.Unlock()
}
