// Package sparseshape implements the sparse-shape algebra of a block-sparse
// tensor: a dense tensor of per-tile Frobenius norms, normalized by the
// number of elements each tile holds, together with the operations needed
// to permute, scale, combine, and contract such shapes without ever
// touching the (potentially enormous) element data the tiles describe.
package sparseshape

import (
	"golang.org/x/exp/constraints"

	"github.com/gomlx/exceptions"
)

// Float is the set of element types a sparse shape can hold norms in.
type Float interface {
	constraints.Float
}

// SizeVector holds, along one dimension of a block-sparse array, the number
// of elements each tile along that dimension contains.
type SizeVector[T Float] []T

// NormTensor is a small, dense, row-major tensor of per-tile values --
// norms, sizes, or anything else the sparse-shape algebra needs to carry
// around densely even though the array it describes is sparse.
type NormTensor[T Float] struct {
	dims []int
	data []T
}

// NewNormTensor creates a zero-filled NormTensor with the given dimensions.
func NewNormTensor[T Float](dims []int) *NormTensor[T] {
	return &NormTensor[T]{dims: append([]int(nil), dims...), data: make([]T, productInts(dims))}
}

// NewNormTensorFromData wraps data as a NormTensor of the given dimensions.
// data is used directly, not copied; len(data) must equal the product of
// dims.
func NewNormTensorFromData[T Float](dims []int, data []T) *NormTensor[T] {
	if len(data) != productInts(dims) {
		exceptions.Panicf("sparseshape: data has %d elements, dims %v need %d", len(data), dims, productInts(dims))
	}
	return &NormTensor[T]{dims: append([]int(nil), dims...), data: data}
}

func productInts(dims []int) int {
	p := 1
	for _, d := range dims {
		p *= d
	}
	return p
}

// Dims returns the tensor's dimensions. The returned slice must not be
// mutated.
func (n *NormTensor[T]) Dims() []int { return n.dims }

// Rank returns the number of dimensions.
func (n *NormTensor[T]) Rank() int { return len(n.dims) }

// Size returns the total number of elements.
func (n *NormTensor[T]) Size() int { return len(n.data) }

// Empty reports whether the tensor holds zero elements.
func (n *NormTensor[T]) Empty() bool { return len(n.data) == 0 }

// Data returns the tensor's flat, row-major backing storage. The returned
// slice must not be mutated by callers that don't own the tensor.
func (n *NormTensor[T]) Data() []T { return n.data }

func (n *NormTensor[T]) flatIndex(idx []int) int {
	if len(idx) != len(n.dims) {
		exceptions.Panicf("sparseshape: index %v has wrong rank for dims %v", idx, n.dims)
	}
	flat := 0
	for d, i := range idx {
		if i < 0 || i >= n.dims[d] {
			exceptions.Panicf("sparseshape: index %v out of bounds for dims %v", idx, n.dims)
		}
		flat = flat*n.dims[d] + i
	}
	return flat
}

// At returns the value at idx.
func (n *NormTensor[T]) At(idx ...int) T {
	return n.data[n.flatIndex(idx)]
}

// Set stores v at idx.
func (n *NormTensor[T]) Set(v T, idx ...int) {
	n.data[n.flatIndex(idx)] = v
}

// Clone returns a deep copy of the tensor.
func (n *NormTensor[T]) Clone() *NormTensor[T] {
	data := make([]T, len(n.data))
	copy(data, n.data)
	return &NormTensor[T]{dims: append([]int(nil), n.dims...), data: data}
}

// InplaceUnary applies f to every element, in place.
func (n *NormTensor[T]) InplaceUnary(f func(T) T) {
	for i, v := range n.data {
		n.data[i] = f(v)
	}
}

// Unary returns a new tensor holding f applied to every element of n.
func (n *NormTensor[T]) Unary(f func(T) T) *NormTensor[T] {
	out := n.Clone()
	out.InplaceUnary(f)
	return out
}

// Binary returns a new tensor combining n and other element-wise with f.
// n and other must have identical dimensions.
func (n *NormTensor[T]) Binary(other *NormTensor[T], f func(a, b T) T) *NormTensor[T] {
	n.requireSameDims(other)
	out := NewNormTensor[T](n.dims)
	for i := range n.data {
		out.data[i] = f(n.data[i], other.data[i])
	}
	return out
}

func (n *NormTensor[T]) requireSameDims(other *NormTensor[T]) {
	if len(n.dims) != len(other.dims) {
		exceptions.Panicf("sparseshape: rank mismatch %v vs %v", n.dims, other.dims)
	}
	for i := range n.dims {
		if n.dims[i] != other.dims[i] {
			exceptions.Panicf("sparseshape: dims mismatch %v vs %v", n.dims, other.dims)
		}
	}
}

// Permutation reorders a tensor's axes: Permutation[i] is the source axis
// that becomes axis i of the permuted tensor.
type Permutation []int

// Permute returns a new tensor with axes reordered according to perm.
func (n *NormTensor[T]) Permute(perm Permutation) *NormTensor[T] {
	if len(perm) != len(n.dims) {
		exceptions.Panicf("sparseshape: permutation %v has wrong rank for dims %v", perm, n.dims)
	}
	newDims := make([]int, len(n.dims))
	for i, axis := range perm {
		newDims[i] = n.dims[axis]
	}
	out := NewNormTensor[T](newDims)
	srcIdx := make([]int, len(n.dims))
	dstIdx := make([]int, len(n.dims))
	n.forEachIndex(srcIdx, 0, func() {
		for i, axis := range perm {
			dstIdx[i] = srcIdx[axis]
		}
		out.Set(n.At(srcIdx...), dstIdx...)
	})
	return out
}

func (n *NormTensor[T]) forEachIndex(idx []int, axis int, visit func()) {
	if axis == len(n.dims) {
		visit()
		return
	}
	for i := 0; i < n.dims[axis]; i++ {
		idx[axis] = i
		n.forEachIndex(idx, axis+1, visit)
	}
}

// Range calls visit with every valid index into the tensor, in row-major
// order.
func (n *NormTensor[T]) Range(visit func(idx []int, value T)) {
	idx := make([]int, len(n.dims))
	n.forEachIndex(idx, 0, func() {
		visit(append([]int(nil), idx...), n.At(idx...))
	})
}
