package keylock

import (
	"context"
	"sync"
)

// Locker serializes work per key. Keys with no holder and no waiter are
// dropped so the map only grows with concurrent keys.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	ch   chan struct{}
	refs int
}

func New() *Locker {
	return &Locker{locks: make(map[string]*entry)}
}

// Lock blocks until key is free or ctx is done. The returned release must be
// called exactly once when err is nil.
func (l *Locker) Lock(ctx context.Context, key string) (release func(), err error) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.drop(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.drop(key, e)
		})
	}, nil
}

func (l *Locker) drop(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}

// Len reports how many keys are currently held or awaited.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
