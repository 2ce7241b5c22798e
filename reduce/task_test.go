package reduce_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/blocksparse/future"
	"github.com/gomlx/blocksparse/reduce"
)

// sumOp reduces ints by addition.
type sumOp struct{}

func (sumOp) Identity() int                        { return 0 }
func (sumOp) Merge(result *int, other int)         { *result += other }
func (sumOp) ReduceOne(result *int, arg int)        { *result += arg }
func (sumOp) ReduceFusedPair(result *int, a, b int) { *result += a + b }
func (sumOp) Finalize(result int) int               { return result }

func TestTask_SumOfSixAlreadyResolvedArgs(t *testing.T) {
	q := future.NewTaskQueue(4)
	defer q.Close()

	task := reduce.NewTask[int, int](q, sumOp{}, nil)
	values := []int{3, 1, 4, 1, 5, 9}
	for _, v := range values {
		task.Add(future.Resolved(v), nil)
	}
	result := task.Submit()

	got, err := result.Get()
	require.NoError(t, err)
	assert.Equal(t, 23, got)
}

func TestTask_StreamingArrivalsWithDestroyCounting(t *testing.T) {
	q := future.NewTaskQueue(4)
	defer q.Close()

	var destroyed atomic.Int32
	task := reduce.NewTask[int, int](q, sumOp{}, nil)

	futures := make([]*future.Future[int], 10)
	for i := range futures {
		futures[i] = future.New[int]()
		task.Add(futures[i], func() { destroyed.Add(1) })
	}
	result := task.Submit()

	// Settle in reverse order, from separate goroutines, to exercise
	// non-deterministic arrival order.
	for i := len(futures) - 1; i >= 0; i-- {
		go futures[i].Set(1)
	}

	got, err := result.Get()
	require.NoError(t, err)
	assert.Equal(t, 10, got)

	deadline := time.Now().Add(time.Second)
	for destroyed.Load() < 10 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, int32(10), destroyed.Load())
}

func TestTask_NoArgumentsResolvesToFinalizeOfIdentity(t *testing.T) {
	q := future.NewTaskQueue(4)
	defer q.Close()

	task := reduce.NewTask[int, int](q, sumOp{}, nil)
	got, err := task.Submit().Get()
	require.NoError(t, err)
	assert.Equal(t, 0, got)
}

func TestTask_SingleArgument(t *testing.T) {
	q := future.NewTaskQueue(4)
	defer q.Close()

	task := reduce.NewTask[int, int](q, sumOp{}, nil)
	task.Add(future.Resolved(41), nil)
	got, err := task.Submit().Get()
	require.NoError(t, err)
	assert.Equal(t, 41, got)
}

func TestTask_UpstreamErrorPoisonsResult(t *testing.T) {
	q := future.NewTaskQueue(4)
	defer q.Close()

	task := reduce.NewTask[int, int](q, sumOp{}, nil)
	task.Add(future.Resolved(1), nil)
	task.Add(future.Failed[int](assert.AnError), nil)
	task.Add(future.Resolved(2), nil)

	_, err := task.Submit().Get()
	assert.ErrorIs(t, err, reduce.ErrPoisoned)
}

func TestTask_OnCompleteFires(t *testing.T) {
	q := future.NewTaskQueue(4)
	defer q.Close()

	var completed atomic.Bool
	task := reduce.NewTask[int, int](q, sumOp{}, func() { completed.Store(true) })
	task.Add(future.Resolved(5), nil)
	_, err := task.Submit().Get()
	require.NoError(t, err)
	assert.True(t, completed.Load())
}
