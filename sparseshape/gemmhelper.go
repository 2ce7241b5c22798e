package sparseshape

import "github.com/gomlx/exceptions"

// GemmHelper describes how to interpret the axes of two tensors being
// contracted together in a shape-level GEMM: the leading axes of the left
// operand and the trailing axes of the right operand survive into the
// result (the "outer", or M and N, axes); the remaining, shared axes --
// trailing on the left, leading on the right -- are contracted away (the
// "K" axes).
type GemmHelper struct {
	LeftOuterRank  int
	RightOuterRank int
}

// NewGemmHelper creates a GemmHelper for a contraction where the first
// leftOuterRank axes of the left operand and the last rightOuterRank axes
// of the right operand survive into the result.
func NewGemmHelper(leftOuterRank, rightOuterRank int) GemmHelper {
	return GemmHelper{LeftOuterRank: leftOuterRank, RightOuterRank: rightOuterRank}
}

// ComputeMatrixSizes returns the M (left outer size), N (right outer size)
// and K (contracted size) implied by the actual dimensions of the left and
// right operands. It panics if the contracted axes don't agree in rank or
// extent between the two operands.
func (h GemmHelper) ComputeMatrixSizes(leftDims, rightDims []int) (m, n, k int) {
	leftK := leftDims[h.LeftOuterRank:]
	rightK := rightDims[:len(rightDims)-h.RightOuterRank]
	if len(leftK) != len(rightK) {
		exceptions.Panicf("sparseshape: contracted rank mismatch: left has %d, right has %d", len(leftK), len(rightK))
	}
	for i := range leftK {
		if leftK[i] != rightK[i] {
			exceptions.Panicf("sparseshape: contracted dims mismatch at axis %d: %d vs %d", i, leftK[i], rightK[i])
		}
	}
	m = productInts(leftDims[:h.LeftOuterRank])
	n = productInts(rightDims[len(rightDims)-h.RightOuterRank:])
	if len(leftK) == 0 {
		// No contracted axes: the empty product is conventionally 1, but
		// here it means there is nothing to contract over, i.e. K == 0,
		// which triggers the outer-product special case.
		return m, n, 0
	}
	return m, n, productInts(leftK)
}

// ResultDims returns the dimensions of the GEMM result given the actual
// dimensions of the left and right operands: the outer axes of left
// followed by the outer axes of right.
func (h GemmHelper) ResultDims(leftDims, rightDims []int) []int {
	dims := make([]int, 0, h.LeftOuterRank+h.RightOuterRank)
	dims = append(dims, leftDims[:h.LeftOuterRank]...)
	dims = append(dims, rightDims[len(rightDims)-h.RightOuterRank:]...)
	return dims
}
