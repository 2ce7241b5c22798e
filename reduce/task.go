// Package reduce implements non-deterministic, order-independent reduction
// of an initially-unknown number of futures into a single result future,
// using a commutative-monoid operator.
//
// Arguments are added one at a time, each backed by a future that may
// resolve in any order and at any time, including after the task has been
// submitted. A Task drains whatever arguments happen to be ready against
// whatever partial result happens to be available, pairing up two ready
// arguments directly when no partial result is on hand yet. No argument
// ever waits for a specific sibling, and no binary tree of pairings is
// built up front: the schedule falls out of whichever arrivals race each
// other to the task's two rendezvous slots.
package reduce

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/gomlx/blocksparse/future"
)

// Task drives a reduction of an unknown-in-advance number of Arg values,
// added over time via Add, into a single Result delivered through the
// future returned by Submit.
type Task[Result, Arg any] struct {
	id    uuid.UUID
	op    Op[Result, Arg]
	queue *future.TaskQueue

	mu          sync.Mutex
	readyResult *Result
	readyArg    *Argument[Arg]

	// outstanding counts arguments added but not yet consumed, plus one for
	// the not-yet-submitted sentinel. The task's terminal step runs the
	// first time this reaches zero.
	outstanding atomic.Int32
	count       atomic.Int32
	submitted   atomic.Bool
	poisoned    atomic.Bool
	poisonErr   atomic.Pointer[error]

	result     *future.Future[Result]
	onComplete func()
}

// NewTask creates a Task that will run on queue, reducing its arguments
// with op. onComplete, if non-nil, is called once the task's result future
// has settled.
func NewTask[Result, Arg any](queue *future.TaskQueue, op Op[Result, Arg], onComplete func()) *Task[Result, Arg] {
	t := &Task[Result, Arg]{
		id:         uuid.New(),
		op:         op,
		queue:      queue,
		result:     future.New[Result](),
		onComplete: onComplete,
	}
	identity := op.Identity()
	t.readyResult = &identity
	t.outstanding.Store(1) // the not-yet-submitted sentinel.
	return t
}

// Count returns the number of arguments added so far.
func (t *Task[Result, Arg]) Count() int {
	return int(t.count.Load())
}

// Add registers one more argument, backed by f, to be folded into the
// reduction. onDestroy, if non-nil, is called once the argument's value has
// been consumed, whether or not it was actually folded in (it is skipped if
// the task is already poisoned). Add must not be called after Submit.
func (t *Task[Result, Arg]) Add(f *future.Future[Arg], onDestroy func()) {
	if t.submitted.Load() {
		klog.Errorf("reduce: Add called after Submit on task %s", t.id)
		panic(poisonError(ErrPoisoned))
	}
	t.outstanding.Add(1)
	t.count.Add(1)
	newSingleArgument(f, t.ready, onDestroy)
}

// Submit declares that no more arguments will be added, and returns the
// future that will hold the fully-reduced, finalized result.
//
// If no arguments were ever added, the future resolves immediately to
// Finalize(Identity()).
func (t *Task[Result, Arg]) Submit() *future.Future[Result] {
	if !t.submitted.CompareAndSwap(false, true) {
		klog.Errorf("reduce: Submit called more than once on task %s", t.id)
		panic(poisonError(ErrPoisoned))
	}
	if t.outstanding.Add(-1) == 0 {
		t.finish()
	}
	return t.result
}

// ready is called, on some unspecified goroutine, exactly once per argument,
// once that argument's backing future(s) have all settled.
func (t *Task[Result, Arg]) ready(a *Argument[Arg]) {
	if t.isPoisoned() {
		a.destroy()
		t.release(1)
		return
	}

	t.mu.Lock()
	switch {
	case t.readyResult != nil:
		result := t.readyResult
		t.readyResult = nil
		t.mu.Unlock()
		t.queue.Submit(func() { t.reduceResultWithArg(result, a) }, future.High)

	case t.readyArg != nil:
		b := t.readyArg
		t.readyArg = nil
		t.mu.Unlock()
		t.queue.Submit(func() { t.reducePair(b, a) }, future.High)

	default:
		t.readyArg = a
		t.mu.Unlock()
	}
}

// reduceResultWithArg folds a into the partial result claimed from
// readyResult, drains whatever else has become ready in the meantime, and
// only then releases a's outstanding slot.
//
// Releasing before drain parks the merged result would let a concurrent
// chain's release be the one that happens to drive outstanding to zero,
// claiming whatever readyResult holds at that instant -- which need not be
// this result, since this result hasn't been parked yet. The terminal step
// must never run until the result it is about to claim already reflects
// every argument that has been released.
func (t *Task[Result, Arg]) reduceResultWithArg(result *Result, a *Argument[Arg]) {
	t.foldOne(result, a)
	t.drain(result)
	t.release(1)
}

// reducePair builds a fresh result from two arguments that arrived while no
// partial result was available to claim, fuses them into it in one
// operator call, drains, and only then releases both outstanding slots --
// see reduceResultWithArg for why the release must follow the drain.
func (t *Task[Result, Arg]) reducePair(b, a *Argument[Arg]) {
	result := t.op.Identity()
	switch {
	case b.err != nil:
		t.poison(b.err)
	case a.err != nil:
		t.poison(a.err)
	case !t.isPoisoned():
		t.guardedCall(func() { t.op.ReduceFusedPair(&result, b.value, a.value) })
	}
	b.destroy()
	a.destroy()
	t.drain(&result)
	t.release(2)
}

// foldOne folds a single argument into result, honoring poison state, then
// destroys the argument. It does not touch outstanding: the caller decides
// when releasing is safe, which for the entry argument of a reduction chain
// is only after that chain's drain call returns.
func (t *Task[Result, Arg]) foldOne(result *Result, a *Argument[Arg]) {
	if a.err != nil {
		t.poison(a.err)
	} else if !t.isPoisoned() {
		t.guardedCall(func() { t.op.ReduceOne(result, a.value) })
	}
	a.destroy()
}

// consumeOne is foldOne plus an immediate release, used by drain's own loop:
// an argument claimed mid-loop is released right away, exactly as the
// top-level entry argument is once its surrounding drain call returns.
func (t *Task[Result, Arg]) consumeOne(result *Result, a *Argument[Arg]) {
	t.foldOne(result, a)
	t.release(1)
}

// drain repeatedly claims whatever is parked in the task's slots and folds
// it into result, until both slots are empty, at which point it parks
// result back into readyResult and returns.
func (t *Task[Result, Arg]) drain(result *Result) {
	for {
		t.mu.Lock()
		if t.readyArg != nil {
			arg := t.readyArg
			t.readyArg = nil
			t.mu.Unlock()
			t.consumeOne(result, arg)
			continue
		}
		if t.readyResult != nil {
			other := t.readyResult
			t.readyResult = nil
			t.mu.Unlock()
			if !t.isPoisoned() {
				t.guardedCall(func() { t.op.Merge(result, *other) })
			}
			continue
		}
		t.readyResult = result
		t.mu.Unlock()
		return
	}
}

// guardedCall runs fn, converting any panic raised by the operator into a
// poison error instead of letting it escape onto a worker goroutine.
func (t *Task[Result, Arg]) guardedCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			t.poison(panicToError(r))
		}
	}()
	fn()
}

// release decrements outstanding by n and, if it reaches zero, runs the
// task's terminal step.
func (t *Task[Result, Arg]) release(n int32) {
	if t.outstanding.Add(-n) == 0 {
		t.finish()
	}
}

// finish claims whatever sits in readyResult and settles the task's result
// future. It is safe to call more than once: only the call that actually
// finds a non-nil readyResult does anything, and the exactly-once
// consumption of every argument guarantees only one such call ever occurs.
func (t *Task[Result, Arg]) finish() {
	t.mu.Lock()
	result := t.readyResult
	t.readyResult = nil
	t.mu.Unlock()
	if result == nil {
		return
	}

	if err := t.poisonedError(); err != nil {
		t.result.SetError(err)
	} else {
		t.result.Set(t.op.Finalize(*result))
	}
	if t.onComplete != nil {
		t.onComplete()
	}
}

func (t *Task[Result, Arg]) isPoisoned() bool {
	return t.poisoned.Load()
}

func (t *Task[Result, Arg]) poisonedError() error {
	p := t.poisonErr.Load()
	if p == nil {
		return nil
	}
	return *p
}

func (t *Task[Result, Arg]) poison(cause error) {
	if !t.poisoned.CompareAndSwap(false, true) {
		return
	}
	err := poisonError(cause)
	t.poisonErr.Store(&err)
	klog.V(2).Infof("reduce: task %s poisoned: %v", t.id, err)
}
