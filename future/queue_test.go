package future_test

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gomlx/blocksparse/future"
)

func TestTaskQueue_RunsNormalAndHighPriority(t *testing.T) {
	q := future.NewTaskQueue(2)
	var count atomic.Int32

	const n = 20
	for i := 0; i < n; i++ {
		priority := future.Normal
		if i%2 == 0 {
			priority = future.High
		}
		q.Submit(func() { count.Add(1) }, priority)
	}
	q.Close()
	assert.Equal(t, int32(n), count.Load())
}

func TestTaskQueue_SubmitAfterCloseRejected(t *testing.T) {
	q := future.NewTaskQueue(1)
	q.Close()
	assert.Panics(t, func() {
		q.Submit(func() {}, future.Normal)
	})
}

func TestTaskQueue_ZeroParallelismRunsInline(t *testing.T) {
	q := future.NewTaskQueue(0)
	var ran bool
	q.Submit(func() { ran = true }, future.Normal)
	assert.True(t, ran)
	q.Close()
}
