// Package collective provides a small simulated process-group abstraction
// used to gather per-tile norms across participating ranks before a sparse
// shape is normalized.
//
// There is no network transport here: ranks are goroutines inside the same
// process, and a Group is the in-memory rendezvous point for them. This
// mirrors the shape of a distributed all-reduce without any of the wire
// format.
package collective

import (
	"sync"

	"golang.org/x/exp/constraints"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// Number is the set of element types a Group can all-reduce.
type Number interface {
	constraints.Integer | constraints.Float
}

// ErrCollectiveFailed is returned when a rank's AllReduceSum call does not
// match the shape of the other ranks in the same round.
var ErrCollectiveFailed = errors.New("collective: shape mismatch in all-reduce round")

// AllReducer is the capability a sparse shape needs from its process group:
// sum the same-shaped slice contributed by every rank, and give every rank
// back the sum.
type AllReducer[T Number] interface {
	AllReduceSum(data []T) error
	Size() int
}

// Group is a barrier-synchronized, in-process stand-in for a distributed
// process group of size Size. Every rank calls AllReduceSum once per round;
// the call blocks until all ranks have arrived, then every rank observes the
// element-wise sum of what was contributed, in place.
type Group[T Number] struct {
	mu      sync.Mutex
	cond    *sync.Cond
	size    int
	arrived int
	round   int64
	sum     []T
	result  []T
	err     error
	lastErr error // err of the last completed round.
}

// NewGroup creates a Group of the given size. size must be at least 1.
func NewGroup[T Number](size int) *Group[T] {
	if size < 1 {
		exceptions.Panicf("collective: group size must be >= 1, got %d", size)
	}
	g := &Group[T]{size: size}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Size returns the number of ranks participating in the group.
func (g *Group[T]) Size() int {
	return g.size
}

// AllReduceSum sums data element-wise across every rank that calls
// AllReduceSum in the same round, and overwrites data in place with the sum.
// All size ranks of the group must call AllReduceSum exactly once per round,
// with slices of matching length, or the round fails for every participant.
func (g *Group[T]) AllReduceSum(data []T) error {
	g.mu.Lock()
	myRound := g.round

	if g.arrived == 0 {
		g.sum = make([]T, len(data))
		g.err = nil
	}
	if g.err == nil && len(data) != len(g.sum) {
		g.err = errors.Wrapf(ErrCollectiveFailed, "got length %d, want %d", len(data), len(g.sum))
	}
	if g.err == nil {
		for i, v := range data {
			g.sum[i] += v
		}
	}
	g.arrived++

	if g.arrived == g.size {
		g.result = g.sum
		g.lastErr = g.err
		g.sum = nil
		g.arrived = 0
		g.round++
		g.cond.Broadcast()
	} else {
		for g.round == myRound {
			g.cond.Wait()
		}
	}

	err := g.lastErr
	result := g.result
	g.mu.Unlock()

	if err != nil {
		return err
	}
	copy(data, result)
	return nil
}

// Local is a single-rank AllReducer: its all-reduce is the identity, useful
// as the default process group when distribution is not in play.
type Local[T Number] struct{}

// AllReduceSum is a no-op: with a single rank, the sum is whatever was
// already there.
func (Local[T]) AllReduceSum(data []T) error { return nil }

// Size always returns 1 for Local.
func (Local[T]) Size() int { return 1 }
