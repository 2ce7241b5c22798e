package sparseshape_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/blocksparse/collective"
	"github.com/gomlx/blocksparse/sparseshape"
)

func vecTensor(t *testing.T, values ...float64) *sparseshape.NormTensor[float64] {
	t.Helper()
	return sparseshape.NewNormTensorFromData[float64]([]int{len(values)}, values)
}

func TestNew_NormalizesAndZeroes(t *testing.T) {
	sparseshape.SetThreshold[float64](0.1)
	defer sparseshape.ResetThreshold[float64]()

	// Four tiles of sizes 2, 4, 10, 20; raw norms 1, 1, 1, 1.
	norms := vecTensor(t, 1, 1, 1, 1)
	sizes := []sparseshape.SizeVector[float64]{{2, 4, 10, 20}}
	shape := sparseshape.New[float64](norms, sizes)

	// Normalized: 1/2=0.5, 1/4=0.25, 1/10=0.1, 1/20=0.05. A norm exactly at
	// the threshold (0.1) is kept; only the one strictly below it is zeroed.
	assert.False(t, shape.IsZero(0))
	assert.False(t, shape.IsZero(1))
	assert.False(t, shape.IsZero(2))
	assert.True(t, shape.IsZero(3))
	assert.Equal(t, 1, shape.ZeroTileCount())
	assert.InDelta(t, 1.0/4, shape.ZeroFraction(), 1e-9)
}

func TestScale_ZeroesBelowThreshold(t *testing.T) {
	sparseshape.SetThreshold[float64](0.05)
	defer sparseshape.ResetThreshold[float64]()

	norms := vecTensor(t, 1, 1)
	sizes := []sparseshape.SizeVector[float64]{{1, 1}}
	shape := sparseshape.New[float64](norms, sizes)
	assert.Equal(t, 0, shape.ZeroTileCount())

	scaled := shape.Scale(0.04)
	assert.Equal(t, 2, scaled.ZeroTileCount())
}

func TestAdd_TriangleInequalityUpperBound(t *testing.T) {
	defer sparseshape.ResetThreshold[float64]()

	a := sparseshape.New[float64](vecTensor(t, 3, 0), []sparseshape.SizeVector[float64]{{1, 1}})
	b := sparseshape.New[float64](vecTensor(t, 4, 0), []sparseshape.SizeVector[float64]{{1, 1}})

	sum := a.Add(b)
	assert.Equal(t, float64(7), sum.Data().At(0))

	diff := a.Subt(b)
	assert.Equal(t, float64(7), diff.Data().At(0))
}

func TestGemm_OuterProductSpecialCase(t *testing.T) {
	defer sparseshape.ResetThreshold[float64]()

	// Two purely-outer, rank-1 shapes with no contracted axes: K == 0.
	left := sparseshape.New[float64](vecTensor(t, 2, 3), []sparseshape.SizeVector[float64]{{1, 1}})
	right := sparseshape.New[float64](vecTensor(t, 5, 7), []sparseshape.SizeVector[float64]{{1, 1}})

	helper := sparseshape.NewGemmHelper(1, 1)
	result := left.Gemm(right, 1, helper)

	assert.Equal(t, []int{2, 2}, result.Data().Dims())
	assert.Equal(t, float64(10), result.Data().At(0, 0))
	assert.Equal(t, float64(14), result.Data().At(0, 1))
	assert.Equal(t, float64(15), result.Data().At(1, 0))
	assert.Equal(t, float64(21), result.Data().At(1, 1))
}

func TestGemm_Contraction(t *testing.T) {
	defer sparseshape.ResetThreshold[float64]()

	// left: M=2, K=2; right: K=2, N=2. Sizes all 1 so normalization and the
	// K-count pre-scale are both identity, reducing this to a plain matmul.
	left := sparseshape.New[float64](
		sparseshape.NewNormTensorFromData[float64]([]int{2, 2}, []float64{1, 2, 3, 4}),
		[]sparseshape.SizeVector[float64]{{1, 1}, {1, 1}},
	)
	right := sparseshape.New[float64](
		sparseshape.NewNormTensorFromData[float64]([]int{2, 2}, []float64{5, 6, 7, 8}),
		[]sparseshape.SizeVector[float64]{{1, 1}, {1, 1}},
	)

	helper := sparseshape.NewGemmHelper(1, 1)
	result := left.Gemm(right, 1, helper)

	// [[1,2],[3,4]] * [[5,6],[7,8]] = [[19,22],[43,50]]
	assert.Equal(t, float64(19), result.Data().At(0, 0))
	assert.Equal(t, float64(22), result.Data().At(0, 1))
	assert.Equal(t, float64(43), result.Data().At(1, 0))
	assert.Equal(t, float64(50), result.Data().At(1, 1))
}

func TestNewCollective_SumsAcrossRanks(t *testing.T) {
	defer sparseshape.ResetThreshold[float64]()

	group := collective.NewGroup[float64](2)
	sizes := []sparseshape.SizeVector[float64]{{1, 1}}

	results := make([]*sparseshape.SparseShape[float64], 2)
	errs := make([]error, 2)
	done := make(chan struct{}, 2)
	for r := 0; r < 2; r++ {
		go func(rank int) {
			results[rank], errs[rank] = sparseshape.NewCollective[float64](group, vecTensor(t, float64(rank+1), 1), sizes)
			done <- struct{}{}
		}(r)
	}
	<-done
	<-done

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, float64(3), results[0].Data().At(0))
	assert.Equal(t, float64(2), results[0].Data().At(1))
}

func TestValidate_RankMismatchPanics(t *testing.T) {
	norms := vecTensor(t, 1, 1)
	assert.Panics(t, func() {
		sparseshape.Validate[float64](norms, []sparseshape.SizeVector[float64]{{1, 1}, {1}})
	})
}
