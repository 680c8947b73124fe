// Package storestate holds the bookkeeping shared by the cart and wishlist
// stores: read/write activity flags, fetch sequencing and change listeners.
package storestate

import (
	"sync"
)

// State guards a value of type T. Fetch results are applied in issue order:
// a result older than the last applied one is dropped.
type State[T any] struct {
	mu         sync.RWMutex
	value      T
	loading    int
	processing int
	issued     uint64
	applied    uint64
	closed     bool

	listenerMu sync.Mutex
	nextID     int
	listeners  map[int]func()
}

// New returns a state seeded with initial.
func New[T any](initial T) *State[T] {
	return &State[T]{value: initial, listeners: make(map[int]func())}
}

// View is a consistent read of the state.
type View[T any] struct {
	Value      T
	Loading    bool
	Processing bool
}

// Read returns the current view. The value is shared; callers copy what they
// hand out.
func (s *State[T]) Read() View[T] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return View[T]{Value: s.value, Loading: s.loading > 0, Processing: s.processing > 0}
}

// BeginFetch marks a read in flight and returns its sequence number. ok is
// false once the state is closed.
func (s *State[T]) BeginFetch() (seq uint64, ok bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, false
	}
	s.issued++
	seq = s.issued
	s.loading++
	s.mu.Unlock()
	s.notify()
	return seq, true
}

// EndFetch finishes read seq. When apply is non-nil, the state is still open
// and seq is newer than the last applied read, apply runs under the write lock.
// It reports whether apply ran.
func (s *State[T]) EndFetch(seq uint64, apply func(*T)) bool {
	s.mu.Lock()
	s.loading--
	applied := false
	if apply != nil && !s.closed && seq > s.applied {
		apply(&s.value)
		s.applied = seq
		applied = true
	}
	s.mu.Unlock()
	s.notify()
	return applied
}

// BeginMutation marks a write in flight. ok is false once closed.
func (s *State[T]) BeginMutation() bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.processing++
	s.mu.Unlock()
	s.notify()
	return true
}

// EndMutation clears one in-flight write.
func (s *State[T]) EndMutation() {
	s.mu.Lock()
	s.processing--
	s.mu.Unlock()
	s.notify()
}

// Closed reports whether Close has been called.
func (s *State[T]) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Close stops applying results. In-flight work still finishes but its
// outcome is discarded.
func (s *State[T]) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.listenerMu.Lock()
	s.listeners = make(map[int]func())
	s.listenerMu.Unlock()
}

// OnChange registers fn to run after every state transition.
func (s *State[T]) OnChange(fn func()) (cancel func()) {
	if fn == nil {
		return func() {}
	}
	s.listenerMu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	s.listenerMu.Unlock()

	return func() {
		s.listenerMu.Lock()
		delete(s.listeners, id)
		s.listenerMu.Unlock()
	}
}

func (s *State[T]) notify() {
	s.listenerMu.Lock()
	fns := make([]func(), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenerMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
