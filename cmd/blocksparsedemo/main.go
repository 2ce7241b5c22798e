// blocksparsedemo exercises the reduce and sparseshape packages together:
// it streams a handful of randomly-sized tile contributions through a
// ReduceTask to get aggregate per-tile norms, then builds a SparseShape out
// of them and contracts it against a second shape with Gemm.
package main

import (
	"flag"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/dustin/go-humanize"
	"k8s.io/klog/v2"

	"github.com/gomlx/blocksparse/future"
	"github.com/gomlx/blocksparse/reduce"
	"github.com/gomlx/blocksparse/sparseshape"
)

type sumSquares struct{}

func (sumSquares) Identity() float64                 { return 0 }
func (sumSquares) Merge(r *float64, other float64)   { *r += other }
func (sumSquares) ReduceOne(r *float64, arg float64) { *r += arg * arg }
func (sumSquares) ReduceFusedPair(r *float64, a, b float64) {
	*r += a*a + b*b
}
func (sumSquares) Finalize(r float64) float64 { return math.Sqrt(r) }

// streamedNorm blocks on Get, waiting for the reduction to complete. asWorker
// reports whether the caller is itself running as a queue worker -- if so,
// the block is bracketed with WorkerIsAsleep/WorkerRestarted so it doesn't
// starve the task queue needs to make progress on in order to resolve.
func streamedNorm(queue *future.TaskQueue, contributions []float64, asWorker bool) float64 {
	task := reduce.NewTask[float64, float64](queue, sumSquares{}, nil)
	for _, c := range contributions {
		task.Add(future.Resolved(c), nil)
	}
	result := task.Submit()
	if asWorker {
		queue.WorkerIsAsleep()
	}
	v, err := result.Get()
	if asWorker {
		queue.WorkerRestarted()
	}
	if err != nil {
		klog.Fatalf("blocksparsedemo: reduction failed: %v", err)
	}
	return v
}

func main() {
	tiles := flag.Int("tiles", 6, "number of tiles along each axis of the demo shape")
	seed := flag.Int64("seed", 1, "random seed for the demo's synthetic tile contributions")
	flag.Parse()
	klog.InitFlags(nil)

	rng := rand.New(rand.NewSource(*seed))
	queue := future.NewTaskQueue(4)
	defer queue.Close()

	rawNorms := make([]float64, *tiles)
	sizes := make(sparseshape.SizeVector[float64], *tiles)
	var wg sync.WaitGroup
	for i := range rawNorms {
		contributions := make([]float64, 1+rng.Intn(4))
		for j := range contributions {
			contributions[j] = rng.Float64()
		}
		sizes[i] = float64(1 + rng.Intn(8))

		// Offload onto a worker when one is free; otherwise compute inline
		// rather than wait for Submit's own queueing to find a slot.
		i, contributions := i, contributions
		wg.Add(1)
		started := queue.StartIfAvailable(func() {
			defer wg.Done()
			rawNorms[i] = streamedNorm(queue, contributions, true)
		})
		if !started {
			wg.Done()
			rawNorms[i] = streamedNorm(queue, contributions, false)
		}
	}
	wg.Wait()

	sparseshape.SetThreshold[float64](0.01)
	shape := sparseshape.New[float64](
		sparseshape.NewNormTensorFromData[float64]([]int{*tiles}, rawNorms),
		[]sparseshape.SizeVector[float64]{sizes},
	)

	fmt.Printf("shape: %d tiles, %s zero (%.1f%%)\n",
		*tiles, humanize.Comma(int64(shape.ZeroTileCount())), 100*shape.ZeroFraction())

	other := shape.Scale(2)
	helper := sparseshape.NewGemmHelper(1, 1)
	contracted := shape.Perm(sparseshape.Permutation{0}).Gemm(other.Perm(sparseshape.Permutation{0}), 1, helper)
	fmt.Printf("contracted shape dims: %v, zero tiles: %d\n", contracted.Data().Dims(), contracted.ZeroTileCount())
}
