// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package workerspool

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPool_WaitToStart(t *testing.T) {
	pool := New()
	pool.SetMaxParallelism(2)

	var running atomic.Int32
	var maxSeen atomic.Int32
	var done atomic.Int32

	const tasks = 8
	for i := 0; i < tasks; i++ {
		pool.WaitToStart(func() {
			n := running.Add(1)
			for {
				old := maxSeen.Load()
				if n <= old || maxSeen.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			done.Add(1)
		})
	}

	deadline := time.Now().Add(time.Second)
	for done.Load() < tasks && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, int32(tasks), done.Load())
	assert.LessOrEqual(t, int(maxSeen.Load()), 2*pool.MaxParallelism())
}

func TestPool_NoParallelismRunsInline(t *testing.T) {
	pool := New()
	pool.SetMaxParallelism(0)

	var ran bool
	pool.WaitToStart(func() { ran = true })
	assert.True(t, ran)
}

func TestPool_StartIfAvailable(t *testing.T) {
	pool := New()
	pool.SetMaxParallelism(1)

	block := make(chan struct{})
	// A soft target of 1 admits up to goroutineToParallelismRatio running
	// goroutines.
	for i := 0; i < goroutineToParallelismRatio; i++ {
		started := pool.StartIfAvailable(func() { <-block })
		assert.True(t, started)
	}

	// Every slot is taken; a further task should not find a worker.
	ok := pool.StartIfAvailable(func() {})
	assert.False(t, ok)
	close(block)
}
