package collective_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/blocksparse/collective"
)

func TestGroup_AllReduceSum(t *testing.T) {
	const ranks = 4
	g := collective.NewGroup[float64](ranks)

	var wg sync.WaitGroup
	results := make([][]float64, ranks)
	for r := 0; r < ranks; r++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			data := []float64{float64(rank), 1}
			err := g.AllReduceSum(data)
			require.NoError(t, err)
			results[rank] = data
		}(r)
	}
	wg.Wait()

	// Sum of ranks 0..3 is 6, sum of the four 1s is 4.
	for r := 0; r < ranks; r++ {
		assert.Equal(t, []float64{6, 4}, results[r])
	}
}

func TestGroup_ShapeMismatchFailsAllRanks(t *testing.T) {
	g := collective.NewGroup[float64](2)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		errs[0] = g.AllReduceSum([]float64{1, 2})
	}()
	go func() {
		defer wg.Done()
		errs[1] = g.AllReduceSum([]float64{1})
	}()
	wg.Wait()

	assert.Error(t, errs[0])
	assert.Error(t, errs[1])
}

func TestLocal_AllReduceSumIsIdentity(t *testing.T) {
	var local collective.Local[int]
	data := []int{1, 2, 3}
	require.NoError(t, local.AllReduceSum(data))
	assert.Equal(t, []int{1, 2, 3}, data)
	assert.Equal(t, 1, local.Size())
}

func TestRegistry_GetOrCreate(t *testing.T) {
	reg := collective.NewRegistry[float64]()
	a := reg.GetOrCreate("tensor-a", 3)
	b := reg.GetOrCreate("tensor-a", 3)
	assert.Same(t, a, b)

	assert.Panics(t, func() { reg.GetOrCreate("tensor-a", 4) })

	found, ok := reg.Lookup("tensor-a")
	assert.True(t, ok)
	assert.Same(t, a, found)

	reg.Forget("tensor-a")
	_, ok = reg.Lookup("tensor-a")
	assert.False(t, ok)
}
