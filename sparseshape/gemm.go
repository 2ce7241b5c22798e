package sparseshape

import (
	"gonum.org/v1/gonum/mat"
)

// Gemm contracts n against other according to helper, scaling the result by
// the magnitude of factor: result = |factor| * n * other, with n reshaped to an M x K matrix
// and other to a K x N matrix per helper's axis split.
//
// The actual multiply is delegated to gonum's mat.Dense, regardless of T --
// norms are accumulated in float64 and cast back to T, which matches how
// these norms are only ever an upper bound used for pruning, not an exact
// quantity that needs T's native precision preserved through the contraction.
func (n *NormTensor[T]) Gemm(other *NormTensor[T], factor T, helper GemmHelper) *NormTensor[T] {
	factor = absT(factor)
	m, nn, k := helper.ComputeMatrixSizes(n.dims, other.dims)
	resultDims := helper.ResultDims(n.dims, other.dims)

	if k == 0 {
		return outerFill[T](n, other, factor, resultDims)
	}

	left := mat.NewDense(m, k, toFloat64(n.data))
	right := mat.NewDense(k, nn, toFloat64(other.data))
	var result mat.Dense
	result.Mul(left, right)
	result.Scale(float64(factor), &result)

	data := fromFloat64[T](result.RawMatrix().Data)
	return NewNormTensorFromData[T](resultDims, data)
}

// outerFill handles the K == 0 special case of a shape-level GEMM: with no
// contracted axes, the "product" degenerates to an outer product of the two
// operands' (now entirely outer) axes, scaled by factor.
func outerFill[T Float](left, right *NormTensor[T], factor T, resultDims []int) *NormTensor[T] {
	product := outerMultiply(left, right)
	product.InplaceUnary(func(v T) T { return v * factor })
	return NewNormTensorFromData[T](resultDims, product.data)
}

func toFloat64[T Float](data []T) []float64 {
	out := make([]float64, len(data))
	for i, v := range data {
		out[i] = float64(v)
	}
	return out
}

func fromFloat64[T Float](data []float64) []T {
	out := make([]T, len(data))
	for i, v := range data {
		out[i] = T(v)
	}
	return out
}
