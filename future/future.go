// Package future implements a minimal single-assignment future/promise and a
// priority-aware task queue used to schedule the callbacks that settle them.
//
// A Future[T] is created empty, settled exactly once (by value or by error),
// and fires every registered callback -- whether registered before or after
// settlement -- on the settling goroutine or inline, never twice.
package future

import (
	"sync"

	"github.com/gomlx/blocksparse/types/xsync"
)

type state int32

const (
	statePending state = iota
	stateReady
)

// Callback is invoked when a Future settles, with either a value and a nil
// error, or a zero value and a non-nil error.
type Callback[T any] func(value T, err error)

// Future holds a value of type T that becomes available exactly once, at
// some point in the future. Callbacks registered with RegisterCallback fire
// exactly once, either immediately (if the future is already settled) or
// later, on whichever goroutine settles the future.
type Future[T any] struct {
	mu        sync.Mutex
	state     state
	value     T
	err       error
	callbacks []Callback[T]
}

// New creates a new, unsettled Future[T].
func New[T any]() *Future[T] {
	return &Future[T]{}
}

// Resolved returns a Future[T] already settled with value.
func Resolved[T any](value T) *Future[T] {
	f := New[T]()
	f.Set(value)
	return f
}

// Failed returns a Future[T] already settled with err.
func Failed[T any](err error) *Future[T] {
	f := New[T]()
	f.SetError(err)
	return f
}

// Probe reports whether the future has settled, without blocking.
func (f *Future[T]) Probe() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state == stateReady
}

// RegisterCallback arranges for cb to be invoked with the future's value once
// it settles. If the future has already settled, cb is invoked immediately,
// on the calling goroutine, before RegisterCallback returns.
func (f *Future[T]) RegisterCallback(cb Callback[T]) {
	f.mu.Lock()
	if f.state == stateReady {
		value, err := f.value, f.err
		f.mu.Unlock()
		cb(value, err)
		return
	}
	f.callbacks = append(f.callbacks, cb)
	f.mu.Unlock()
}

// Set settles the future with value. Settling an already-settled future is a
// no-op: a Future is single-assignment, the first settlement wins.
func (f *Future[T]) Set(value T) {
	f.settle(value, nil)
}

// SetError settles the future with err, to be returned to every waiter
// instead of a value.
func (f *Future[T]) SetError(err error) {
	var zero T
	f.settle(zero, err)
}

func (f *Future[T]) settle(value T, err error) {
	f.mu.Lock()
	if f.state == stateReady {
		f.mu.Unlock()
		return
	}
	f.value, f.err, f.state = value, err, stateReady
	callbacks := f.callbacks
	f.callbacks = nil
	f.mu.Unlock()
	for _, cb := range callbacks {
		cb(value, err)
	}
}

// Get blocks until the future settles and returns its value and error.
func (f *Future[T]) Get() (T, error) {
	type outcome struct {
		value T
		err   error
	}
	latch := xsync.NewLatchWithValue[outcome]()
	f.RegisterCallback(func(value T, err error) {
		latch.Trigger(outcome{value: value, err: err})
	})
	o := latch.Wait()
	return o.value, o.err
}
