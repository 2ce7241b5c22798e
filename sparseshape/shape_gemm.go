package sparseshape

// Gemm contracts this shape against other per helper, scaling by factor,
// and returns the resulting shape's norm bound.
//
// Before contracting, each operand's norms are pre-scaled by the element
// count of its contracted (K) axes: a norm bound on a contraction isn't
// the plain matrix product of the two normalized-norm tensors, it's the
// matrix product of norms that have been scaled back up by how many
// elements are actually being summed over along K. The result is hard-zeroed
// against threshold once more, since the contraction can drive some tile
// norms below it even when no input tile was already zero.
func (s *SparseShape[T]) Gemm(other *SparseShape[T], factor T, helper GemmHelper) *SparseShape[T] {
	rightKRank := len(other.tileNorms.Dims()) - helper.RightOuterRank

	kCounts := sizeTensor(s.sizeVectors[helper.LeftOuterRank:], identityT[T])
	left := scalePrefix(s.tileNorms, kCounts)

	rightKCounts := sizeTensor(other.sizeVectors[:rightKRank], identityT[T])
	right := scaleSuffix(other.tileNorms, rightKCounts)

	result := left.Gemm(right, factor, helper)

	resultSizeVectors := make([]SizeVector[T], 0, helper.LeftOuterRank+helper.RightOuterRank)
	resultSizeVectors = append(resultSizeVectors, s.sizeVectors[:helper.LeftOuterRank]...)
	resultSizeVectors = append(resultSizeVectors, other.sizeVectors[rightKRank:]...)

	out := &SparseShape[T]{tileNorms: result, sizeVectors: resultSizeVectors}
	out.hardZero()
	return out
}

// GemmPerm is Gemm followed by Perm.
func (s *SparseShape[T]) GemmPerm(other *SparseShape[T], factor T, helper GemmHelper, perm Permutation) *SparseShape[T] {
	return s.Gemm(other, factor, helper).Perm(perm)
}

// scalePrefix multiplies every element of t by the per-tile count
// broadcast over t's trailing axes -- i.e. the K-axis element count for a
// left GEMM operand whose leading axes are the M axes.
func scalePrefix[T Float](t *NormTensor[T], kCounts *NormTensor[T]) *NormTensor[T] {
	out := t.Clone()
	kSize := kCounts.Size()
	if kSize == 0 {
		return out
	}
	for i := range out.data {
		out.data[i] *= kCounts.data[i%kSize]
	}
	return out
}

// scaleSuffix multiplies every element of t by the per-tile count
// broadcast over t's leading axes -- i.e. the K-axis element count for a
// right GEMM operand whose trailing axes are the N axes.
func scaleSuffix[T Float](t *NormTensor[T], kCounts *NormTensor[T]) *NormTensor[T] {
	out := t.Clone()
	kSize := kCounts.Size()
	if kSize == 0 {
		return out
	}
	n := kCounts.Size()
	outerSize := t.Size() / n
	for i := range out.data {
		out.data[i] *= kCounts.data[i/outerSize]
	}
	return out
}
