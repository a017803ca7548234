// Package lock serializes access to the shared output directory.
//
// Two jobs that overlap in time would see each other's files in their
// before/after diff. Holding a lock on the directory across
// snapshot → invoke → snapshot removes that overlap.
package lock

import (
	"context"
	"fmt"
	"sync"
)

// Release gives a held lock back.
type Release func() error

// Locker grants exclusive use of a named resource.
type Locker interface {
	// Lock blocks until the resource is held or ctx ends.
	Lock(ctx context.Context, resource string) (Release, error)
}

// Noop hands out locks without any exclusion. Concurrent jobs may then
// misattribute each other's artifacts.
type Noop struct{}

// Lock returns immediately.
func (Noop) Lock(context.Context, string) (Release, error) {
	return func() error { return nil }, nil
}

// Local is an in-process Locker. It only protects against jobs served by
// the same process.
type Local struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewLocal returns an empty Local locker.
func NewLocal() *Local {
	return &Local{slots: make(map[string]chan struct{})}
}

// Lock waits for the resource, giving up when ctx is done.
func (l *Local) Lock(ctx context.Context, resource string) (Release, error) {
	l.mu.Lock()
	slot, ok := l.slots[resource]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[resource] = slot
	}
	l.mu.Unlock()

	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("wait for lock %q: %w", resource, ctx.Err())
	}

	var once sync.Once
	return func() error {
		once.Do(func() { <-slot })
		return nil
	}, nil
}
