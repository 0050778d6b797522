// Package task provides a settle-once deferred result.
//
// A Task is resolved or rejected exactly once; every later attempt is a no-op
// reporting false. Waiters block on Done() or Wait, and callbacks registered
// with Then run once the task settles.
package task

import (
	"context"
	"fmt"
	"sync"
)

// Waiter is the read side of a Task. Anything that can report completion
// through a channel and an error can be awaited by an Event.
type Waiter interface {
	Done() <-chan struct{}
	Err() error
}

// Task is a value that becomes available at most once.
type Task struct {
	mu      sync.Mutex
	done    chan struct{}
	settled bool
	value   any
	err     error
}

// New returns a pending task.
func New() *Task {
	return &Task{done: make(chan struct{})}
}

// Resolved returns a task already resolved with v.
func Resolved(v any) *Task {
	t := New()
	t.Resolve(v)
	return t
}

// Rejected returns a task already rejected with err.
func Rejected(err error) *Task {
	t := New()
	t.Reject(err)
	return t
}

// Go runs fn in a new goroutine and settles the task with its result.
// A panic inside fn rejects the task.
func Go(ctx context.Context, fn func(ctx context.Context) (any, error)) *Task {
	t := New()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				t.Reject(fmt.Errorf("task panic: %v", r))
			}
		}()
		v, err := fn(ctx)
		t.Settle(v, err)
	}()
	return t
}

// Resolve settles the task successfully. It reports whether this call settled it.
func (t *Task) Resolve(v any) bool {
	return t.Settle(v, nil)
}

// Reject settles the task with err. A nil err is treated as a resolution.
func (t *Task) Reject(err error) bool {
	return t.Settle(nil, err)
}

// Settle resolves the task with v when err is nil and rejects it otherwise.
func (t *Task) Settle(v any, err error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.settled {
		return false
	}
	t.settled = true
	t.value = v
	t.err = err
	close(t.done)
	return true
}

// Done returns a channel closed when the task settles.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Settled reports whether the task has settled.
func (t *Task) Settled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.settled
}

// Err returns the rejection error. It is nil while the task is pending.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Value returns the resolved value. It is nil while the task is pending.
func (t *Task) Value() any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value
}

// Wait blocks until the task settles or ctx is done.
func (t *Task) Wait(ctx context.Context) (any, error) {
	select {
	case <-t.done:
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.value, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Then calls fn with the settled result. fn runs on its own goroutine unless
// the task has already settled, in which case it runs before Then returns.
func (t *Task) Then(fn func(v any, err error)) {
	select {
	case <-t.done:
		fn(t.Value(), t.Err())
	default:
		go func() {
			<-t.done
			fn(t.Value(), t.Err())
		}()
	}
}

// From adapts any Waiter into a Task.
func From(w Waiter) *Task {
	if t, ok := w.(*Task); ok {
		return t
	}
	t := New()
	go func() {
		<-w.Done()
		t.Reject(w.Err())
	}()
	return t
}
