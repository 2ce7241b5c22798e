package reduce

import (
	"github.com/google/uuid"

	"github.com/gomlx/blocksparse/future"
)

// PairTask is the two-operand counterpart of Task, for reductions driven by
// two independently-arriving streams of futures (e.g. a dot product over
// the futures backing two vectors). Internally it drives the same
// Task[Result, Pair[L, R]] scheduling machinery, with its operator adapted
// through pairOpAdapter.
type PairTask[Result, L, R any] struct {
	*Task[Result, Pair[L, R]]
}

// NewPairTask creates a PairTask that will run on queue, reducing pairs of
// arguments with op.
func NewPairTask[Result, L, R any](queue *future.TaskQueue, op PairOp[Result, L, R], onComplete func()) *PairTask[Result, L, R] {
	return &PairTask[Result, L, R]{
		Task: NewTask[Result, Pair[L, R]](queue, pairOpAdapter[Result, L, R]{op: op}, onComplete),
	}
}

// AddPair registers one more (left, right) argument pair, backed by two
// independent futures, to be folded into the reduction via PairOp.ReducePair
// or PairOp.ReduceFusedPair. onDestroy, if non-nil, is called once the pair
// has been consumed.
func (t *PairTask[Result, L, R]) AddPair(left *future.Future[L], right *future.Future[R], onDestroy func()) {
	if t.submitted.Load() {
		panic(poisonError(ErrPoisoned))
	}
	t.outstanding.Add(1)
	t.count.Add(1)

	arg := &Argument[Pair[L, R]]{id: uuid.New(), onDestroy: onDestroy}
	arg.pending.Store(2)
	left.RegisterCallback(func(v L, err error) {
		if err != nil {
			arg.err = err
		} else {
			arg.value.Left = v
		}
		if arg.pending.Add(-1) == 0 {
			t.ready(arg)
		}
	})
	right.RegisterCallback(func(v R, err error) {
		if err != nil {
			arg.err = err
		} else {
			arg.value.Right = v
		}
		if arg.pending.Add(-1) == 0 {
			t.ready(arg)
		}
	})
}
