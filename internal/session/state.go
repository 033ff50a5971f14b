package session

import (
	"fmt"
	"slices"
	"sync"

	"github.com/dshills/nodedbg/internal/v8"
)

// State is the authoritative debuggee model of one connection.
type State struct {
	mu sync.RWMutex

	threads map[int]*thread

	// Bound breakpoints by runtime id, plus their bind order.
	breakpoints map[v8.BreakpointID]*Breakpoint
	bindOrder   []v8.BreakpointID

	modules map[int]Module
	runtime RuntimeInfo
}

type thread struct {
	id         int
	name       string
	isWorker   bool
	state      ThreadState
	stopReason string
	epoch      uint64
	frames     []StackFrame
}

func (t *thread) snapshot() Thread {
	return Thread{
		ID:         t.id,
		Name:       t.name,
		IsWorker:   t.isWorker,
		State:      t.state,
		StopReason: t.stopReason,
		StopEpoch:  t.epoch,
		Frames:     slices.Clone(t.frames),
	}
}

// NewState creates an empty state.
func NewState() *State {
	return &State{
		threads:     make(map[int]*thread),
		breakpoints: make(map[v8.BreakpointID]*Breakpoint),
		modules:     make(map[int]Module),
	}
}

// AddThread registers a running thread. It returns false if the thread
// already exists.
func (s *State) AddThread(id int, name string, isWorker bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.threads[id]; ok {
		return false
	}
	if name == "" {
		name = fmt.Sprintf("thread %d", id)
	}
	s.threads[id] = &thread{id: id, name: name, isWorker: isWorker}
	return true
}

// RemoveThread drops a thread from the live set. Frames handed out earlier
// stay valid.
func (s *State) RemoveThread(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.threads[id]; !ok {
		return false
	}
	delete(s.threads, id)
	return true
}

// Thread returns a snapshot of one thread.
func (s *State) Thread(id int) (Thread, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.threads[id]
	if !ok {
		return Thread{}, false
	}
	return t.snapshot(), true
}

// Threads returns snapshots of all live threads ordered by id.
func (s *State) Threads() []Thread {
	s.mu.RLock()
	defer s.mu.RUnlock()

	threads := make([]Thread, 0, len(s.threads))
	for _, t := range s.threads {
		threads = append(threads, t.snapshot())
	}
	slices.SortFunc(threads, func(a, b Thread) int { return a.ID - b.ID })
	return threads
}

// ThreadInfos returns the display projection of all live threads.
func (s *State) ThreadInfos() []ThreadInfo {
	threads := s.Threads()
	infos := make([]ThreadInfo, len(threads))
	for i, t := range threads {
		infos[i] = t.Info()
	}
	return infos
}

// MarkStopped records a stop, discards cached frames and returns the new
// stop epoch.
func (s *State) MarkStopped(id int, reason string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[id]
	if !ok {
		return 0, fmt.Errorf("thread %d: %w", id, ErrUnknownThread)
	}
	t.state = ThreadStopped
	t.stopReason = reason
	t.epoch++
	t.frames = nil
	return t.epoch, nil
}

// MarkRunning records a resume and discards cached frames.
func (s *State) MarkRunning(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[id]
	if !ok {
		return fmt.Errorf("thread %d: %w", id, ErrUnknownThread)
	}
	t.state = ThreadRunning
	t.stopReason = ""
	t.frames = nil
	return nil
}

// MarkAllRunning resumes every thread. The runtime resumes the whole VM at
// once, so a resume acknowledgement applies to all contexts.
func (s *State) MarkAllRunning() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.threads {
		t.state = ThreadRunning
		t.stopReason = ""
		t.frames = nil
	}
}

// StoppedEpoch returns the current stop epoch of a stopped thread.
func (s *State) StoppedEpoch(id int) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.threads[id]
	if !ok {
		return 0, fmt.Errorf("thread %d: %w", id, ErrUnknownThread)
	}
	if t.state != ThreadStopped {
		return 0, fmt.Errorf("thread %d: %w", id, ErrThreadRunning)
	}
	return t.epoch, nil
}

// CacheFrames stores frames fetched at epoch. It fails with
// ErrThreadRunning if the thread has resumed or stopped again since.
func (s *State) CacheFrames(id int, epoch uint64, frames []StackFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[id]
	if !ok {
		return fmt.Errorf("thread %d: %w", id, ErrUnknownThread)
	}
	if t.state != ThreadStopped || t.epoch != epoch {
		return fmt.Errorf("thread %d: frames are stale: %w", id, ErrThreadRunning)
	}

	cached := make([]StackFrame, len(frames))
	for i, f := range frames {
		f.ThreadID = id
		f.StopEpoch = epoch
		cached[i] = f
	}
	t.frames = cached
	return nil
}

// Frames returns the cached frames of a stopped thread. fetched is false
// if no backtrace has been stored for the current stop.
func (s *State) Frames(id int) (frames []StackFrame, fetched bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.threads[id]
	if !ok {
		return nil, false, fmt.Errorf("thread %d: %w", id, ErrUnknownThread)
	}
	if t.state != ThreadStopped {
		return nil, false, fmt.Errorf("thread %d: %w", id, ErrThreadRunning)
	}
	if t.frames == nil {
		return nil, false, nil
	}
	return slices.Clone(t.frames), true, nil
}

// BindBreakpoint moves a pending breakpoint to Bound and adds it to the
// bound set. actualLine is 1-based; 0 keeps the requested line.
func (s *State) BindBreakpoint(bp *Breakpoint, id v8.BreakpointID, actualLine int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !bp.bind(id, actualLine) {
		return false
	}
	if _, exists := s.breakpoints[id]; !exists {
		s.bindOrder = append(s.bindOrder, id)
	}
	s.breakpoints[id] = bp
	return true
}

// FailBreakpoint moves a pending breakpoint to Failed. It never enters the
// bound set.
func (s *State) FailBreakpoint(bp *Breakpoint, reason string, err error) bool {
	return bp.fail(reason, err)
}

// RemoveBreakpoint moves a bound breakpoint to Removed.
func (s *State) RemoveBreakpoint(id v8.BreakpointID) (*Breakpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bp, ok := s.breakpoints[id]
	if !ok {
		return nil, fmt.Errorf("breakpoint %s: %w", id, ErrUnknownBreakpoint)
	}
	delete(s.breakpoints, id)
	s.bindOrder = slices.DeleteFunc(s.bindOrder, func(x v8.BreakpointID) bool { return x == id })
	bp.remove()
	return bp, nil
}

// Breakpoint returns a bound breakpoint.
func (s *State) Breakpoint(id v8.BreakpointID) (*Breakpoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bp, ok := s.breakpoints[id]
	return bp, ok
}

// Breakpoints returns all bound breakpoints in bind order.
func (s *State) Breakpoints() []*Breakpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bps := make([]*Breakpoint, 0, len(s.bindOrder))
	for _, id := range s.bindOrder {
		bps = append(bps, s.breakpoints[id])
	}
	return bps
}

// RecordHits increments the hit counts of the given breakpoints and returns
// the ones that are bound. Unknown ids are skipped.
func (s *State) RecordHits(ids []v8.BreakpointID) []*Breakpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hit []*Breakpoint
	for _, id := range ids {
		if bp, ok := s.breakpoints[id]; ok {
			bp.hit()
			hit = append(hit, bp)
		}
	}
	return hit
}

// SetBreakpointEnabled updates the enabled flag of a bound breakpoint.
func (s *State) SetBreakpointEnabled(id v8.BreakpointID, enabled bool) error {
	bp, ok := s.Breakpoint(id)
	if !ok {
		return fmt.Errorf("breakpoint %s: %w", id, ErrUnknownBreakpoint)
	}
	bp.setEnabled(enabled)
	return nil
}

// SetBreakpointCondition updates the condition of a bound breakpoint.
func (s *State) SetBreakpointCondition(id v8.BreakpointID, condition string) error {
	bp, ok := s.Breakpoint(id)
	if !ok {
		return fmt.Errorf("breakpoint %s: %w", id, ErrUnknownBreakpoint)
	}
	bp.setCondition(condition)
	return nil
}

// AddModule records a compiled script. It returns false if the script id
// was already known.
func (s *State) AddModule(m Module) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, known := s.modules[m.ID]
	s.modules[m.ID] = m
	return !known
}

// Modules returns all known scripts ordered by id.
func (s *State) Modules() []Module {
	s.mu.RLock()
	defer s.mu.RUnlock()

	modules := make([]Module, 0, len(s.modules))
	for _, m := range s.modules {
		modules = append(modules, m)
	}
	slices.SortFunc(modules, func(a, b Module) int { return a.ID - b.ID })
	return modules
}

// SetRuntimeInfo records the connect handshake.
func (s *State) SetRuntimeInfo(info RuntimeInfo) {
	s.mu.Lock()
	s.runtime = info
	s.mu.Unlock()
}

// RuntimeInfo returns the connect handshake, if one was received.
func (s *State) RuntimeInfo() RuntimeInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runtime
}

// Teardown ends the session: every thread is removed and every bound
// breakpoint becomes Removed. It returns the ids of the removed threads in
// ascending order.
func (s *State) Teardown() []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int, 0, len(s.threads))
	for id := range s.threads {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	s.threads = make(map[int]*thread)

	for _, id := range s.bindOrder {
		s.breakpoints[id].remove()
	}
	s.breakpoints = make(map[v8.BreakpointID]*Breakpoint)
	s.bindOrder = nil
	return ids
}
