package future_test

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/blocksparse/future"
)

func TestFuture_SetThenRegister(t *testing.T) {
	f := future.New[int]()
	f.Set(42)
	assert.True(t, f.Probe())

	var got int
	f.RegisterCallback(func(v int, err error) {
		require.NoError(t, err)
		got = v
	})
	assert.Equal(t, 42, got)
}

func TestFuture_RegisterThenSet(t *testing.T) {
	f := future.New[string]()
	assert.False(t, f.Probe())

	var fired atomic.Bool
	var got string
	f.RegisterCallback(func(v string, err error) {
		require.NoError(t, err)
		got = v
		fired.Store(true)
	})
	assert.False(t, fired.Load())

	f.Set("hello")
	assert.True(t, fired.Load())
	assert.Equal(t, "hello", got)
}

func TestFuture_SetIsSingleAssignment(t *testing.T) {
	f := future.New[int]()
	f.Set(1)
	f.Set(2) // discarded: first settlement wins.

	v, err := f.Get()
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestFuture_SetError(t *testing.T) {
	f := future.New[int]()
	f.SetError(assert.AnError)

	v, err := f.Get()
	assert.ErrorIs(t, err, assert.AnError)
	assert.Zero(t, v)
}

func TestFuture_MultipleCallbacksFireOnce(t *testing.T) {
	f := future.New[int]()
	var count atomic.Int32
	for i := 0; i < 5; i++ {
		f.RegisterCallback(func(v int, err error) {
			count.Add(1)
		})
	}
	f.Set(7)
	assert.Equal(t, int32(5), count.Load())

	// Registering after settlement still fires exactly once, inline.
	f.RegisterCallback(func(v int, err error) {
		count.Add(1)
	})
	assert.Equal(t, int32(6), count.Load())
}

func TestResolvedAndFailed(t *testing.T) {
	v, err := future.Resolved(9).Get()
	require.NoError(t, err)
	assert.Equal(t, 9, v)

	_, err = future.Failed[int](assert.AnError).Get()
	assert.ErrorIs(t, err, assert.AnError)
}
