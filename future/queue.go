package future

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/blocksparse/internal/workerspool"
	dynsync "github.com/gomlx/blocksparse/pkg/support/xsync"
	"github.com/gomlx/blocksparse/types/xsync"
)

// Priority selects how a task competes for the queue's soft parallelism cap.
type Priority int

const (
	// Normal tasks respect the queue's soft parallelism cap, waiting for a
	// worker slot to free up before starting.
	Normal Priority = iota

	// High tasks bypass the cap and start immediately. Reduction scheduling
	// relies on this: a task that drains a ready pair must not queue behind
	// unrelated Normal work, or reduction chains stall on their own backlog.
	High
)

// ErrExhausted is the value Submit panics with if the queue has been closed.
var ErrExhausted = errors.New("future: task queue is closed")

// TaskQueue runs submitted work on goroutines, applying a soft parallelism
// cap to Normal-priority tasks and letting High-priority tasks run
// unconstrained. It tracks every task it has started so Close can wait for
// them to drain.
type TaskQueue struct {
	pool     *workerspool.Pool
	highSem  *xsync.Semaphore
	inFlight *dynsync.DynamicWaitGroup
	closed   *xsync.Latch
}

// NewTaskQueue creates a TaskQueue with the given soft parallelism cap for
// Normal-priority tasks. A cap of 0 disables parallelism (tasks run inline);
// a negative cap means unlimited.
func NewTaskQueue(maxParallelism int) *TaskQueue {
	pool := workerspool.New()
	pool.SetMaxParallelism(maxParallelism)
	return &TaskQueue{
		pool:     pool,
		highSem:  xsync.NewSemaphore(0), // unlimited, kept resizable.
		inFlight: dynsync.NewDynamicWaitGroup(),
		closed:   xsync.NewLatch(),
	}
}

// SetMaxParallelism adjusts the soft cap applied to Normal-priority tasks.
func (q *TaskQueue) SetMaxParallelism(maxParallelism int) {
	q.pool.SetMaxParallelism(maxParallelism)
}

// StartIfAvailable runs task on a worker immediately if the soft
// parallelism cap isn't already met, reporting whether it did. Unlike
// Submit, it never waits for a slot to free up: callers that can fall back
// to running inline use this to opportunistically offload work rather than
// serialize on it.
func (q *TaskQueue) StartIfAvailable(task func()) bool {
	return q.pool.StartIfAvailable(task)
}

// WorkerIsAsleep tells the queue that the calling goroutine -- itself
// running as a worker started by Submit or StartIfAvailable -- is about to
// block waiting on other work, and should not count against the soft
// parallelism cap while it does. Call WorkerRestarted once it stops
// blocking. Without this, a worker that blocks waiting on a future's result
// can starve the very task that would resolve it.
func (q *TaskQueue) WorkerIsAsleep() {
	q.pool.WorkerIsAsleep()
}

// WorkerRestarted undoes the temporary slot WorkerIsAsleep granted.
func (q *TaskQueue) WorkerRestarted() {
	q.pool.WorkerRestarted()
}

// Submit schedules task to run according to priority. It panics if the queue
// has already been closed -- closing marks the end of submissions, it is a
// programming error to submit after that point.
func (q *TaskQueue) Submit(task func(), priority Priority) {
	if q.closed.Test() {
		klog.Errorf("future: Submit called on a closed TaskQueue")
		panic(ErrExhausted)
	}
	q.inFlight.Add(1)
	wrapped := func() {
		defer q.inFlight.Done()
		task()
	}
	switch priority {
	case High:
		q.highSem.Acquire()
		go func() {
			defer q.highSem.Release()
			wrapped()
		}()
	default:
		q.pool.WaitToStart(wrapped)
	}
}

// Close marks the queue as no longer accepting submissions and blocks until
// every task started before the call to Close has finished running.
func (q *TaskQueue) Close() {
	q.closed.Trigger()
	q.inFlight.Wait()
}
