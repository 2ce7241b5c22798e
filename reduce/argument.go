package reduce

import (
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/gomlx/blocksparse/future"
)

// Argument is a single operand of a reduction, backed by one or two
// futures. It notifies the owning task's ready callback exactly once, when
// every future backing it has settled.
type Argument[Arg any] struct {
	id        uuid.UUID
	value     Arg
	err       error
	pending   atomic.Int32
	onReady   func(*Argument[Arg])
	onDestroy func()
}

// newSingleArgument builds an Argument backed by a single future, and
// registers the callback that will fire onReady once it settles.
func newSingleArgument[Arg any](f *future.Future[Arg], onReady func(*Argument[Arg]), onDestroy func()) *Argument[Arg] {
	a := &Argument[Arg]{id: uuid.New(), onReady: onReady, onDestroy: onDestroy}
	a.pending.Store(1)
	f.RegisterCallback(func(v Arg, err error) {
		a.settleOne(v, err)
	})
	return a
}

func (a *Argument[Arg]) settleOne(v Arg, err error) {
	if err != nil {
		a.err = err
	} else {
		a.value = v
	}
	if a.pending.Add(-1) == 0 {
		a.onReady(a)
	}
}

// destroy fires the argument's completion callback, if any. It must be
// called exactly once, after the argument's value has been folded into a
// reduction (or discarded because the task was poisoned).
func (a *Argument[Arg]) destroy() {
	if a.onDestroy != nil {
		a.onDestroy()
	}
}
