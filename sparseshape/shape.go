package sparseshape

import (
	"math"
	"reflect"
	"sync"

	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"

	"github.com/gomlx/blocksparse/collective"
)

// SparseShape describes which tiles of a block-sparse array are allowed to
// be non-zero, via a dense tensor of normalized per-tile Frobenius norms:
// a tile is zero if its normalized norm falls strictly below the shape's
// threshold.
type SparseShape[T Float] struct {
	tileNorms   *NormTensor[T]
	sizeVectors []SizeVector[T]
}

var thresholds sync.Map // reflect.Type -> the threshold value for that T.

// Threshold returns the current zero-tile threshold for shapes of element
// type T. Every SparseShape[T] shares the same threshold, mirroring that
// the original algebra treats it as a property of the element type, not of
// any one shape instance.
func Threshold[T Float]() T {
	if v, ok := thresholds.Load(reflect.TypeOf(*new(T))); ok {
		return v.(T)
	}
	return defaultThreshold[T]()
}

// SetThreshold changes the zero-tile threshold for shapes of element type
// T. t must be positive: a threshold of zero or less could never hard-zero
// anything, defeating the point of having one.
func SetThreshold[T Float](t T) {
	if t <= 0 {
		exceptions.Panicf("sparseshape: threshold must be positive, got %v", t)
	}
	thresholds.Store(reflect.TypeOf(*new(T)), t)
}

// ResetThreshold clears any override for element type T, reverting
// Threshold to defaultThreshold.
func ResetThreshold[T Float]() {
	thresholds.Delete(reflect.TypeOf(*new(T)))
}

func defaultThreshold[T Float]() T {
	const float64Epsilon = 2.220446049250313e-16
	return T(float64Epsilon)
}

// Validate checks that tileNorms' rank matches sizeVectors and that each
// size vector's length matches the corresponding tensor dimension. It
// panics on mismatch: a shape built from mismatched inputs is a programming
// error, not a runtime condition callers should branch on.
func Validate[T Float](tileNorms *NormTensor[T], sizeVectors []SizeVector[T]) {
	if tileNorms.Rank() != len(sizeVectors) {
		exceptions.Panicf("sparseshape: tile norms have rank %d, got %d size vectors", tileNorms.Rank(), len(sizeVectors))
	}
	for axis, dim := range tileNorms.Dims() {
		if len(sizeVectors[axis]) != dim {
			exceptions.Panicf("sparseshape: size vector %d has length %d, dimension has extent %d", axis, len(sizeVectors[axis]), dim)
		}
	}
	for _, v := range tileNorms.data {
		if v < 0 {
			exceptions.Panicf("sparseshape: tile norms must be non-negative, got %v", v)
		}
	}
}

// New builds a SparseShape from raw per-tile Frobenius norms and the
// per-dimension tile-size vectors, normalizing the norms by each tile's
// element count and hard-zeroing anything that falls strictly below the
// current threshold.
func New[T Float](tileNorms *NormTensor[T], sizeVectors []SizeVector[T]) *SparseShape[T] {
	Validate(tileNorms, sizeVectors)
	s := &SparseShape[T]{tileNorms: tileNorms.Clone(), sizeVectors: sizeVectors}
	s.normalize()
	return s
}

// NewCollective builds a SparseShape the way New does, but first sums
// tileNorms element-wise across every rank of world -- every rank must
// call NewCollective with a tileNorms tensor of identical shape, and all
// observe the same, summed, normalized shape back.
func NewCollective[T Float](world collective.AllReducer[T], tileNorms *NormTensor[T], sizeVectors []SizeVector[T]) (*SparseShape[T], error) {
	Validate(tileNorms, sizeVectors)
	summed := tileNorms.Clone()
	if err := world.AllReduceSum(summed.data); err != nil {
		return nil, err
	}
	s := &SparseShape[T]{tileNorms: summed, sizeVectors: sizeVectors}
	s.normalize()
	return s, nil
}

// normalize divides every raw per-tile norm by the number of elements the
// tile holds, then hard-zeroes anything strictly below threshold.
//
// For ranks above 1 the per-tile element-count tensor comes out of the
// divide-and-conquer outer product of the shape's size vectors
// (sizeTensor): it has the same size as the norms tensor and is built from
// smaller intermediate outer products of halves of the size-vector list.
// Rank 1 divides by the single size vector directly.
func (s *SparseShape[T]) normalize() {
	if s.tileNorms.Rank() == 1 {
		sizes := s.sizeVectors[0]
		for i := range s.tileNorms.data {
			if sizes[i] != 0 {
				s.tileNorms.data[i] /= sizes[i]
			}
		}
	} else {
		counts := sizeTensor(s.sizeVectors, identityT[T])
		for i := range s.tileNorms.data {
			if counts.data[i] != 0 {
				s.tileNorms.data[i] /= counts.data[i]
			}
		}
	}
	s.hardZero()
	klog.V(2).Infof("sparseshape: normalized shape with dims %v, %d zero tiles", s.tileNorms.Dims(), s.ZeroTileCount())
}

func (s *SparseShape[T]) hardZero() {
	threshold := Threshold[T]()
	s.tileNorms.InplaceUnary(func(v T) T {
		if v < threshold {
			return 0
		}
		return v
	})
}

// Data returns the shape's dense tensor of normalized per-tile norms.
func (s *SparseShape[T]) Data() *NormTensor[T] { return s.tileNorms }

// SizeVectors returns the shape's per-dimension tile-size vectors.
func (s *SparseShape[T]) SizeVectors() []SizeVector[T] { return s.sizeVectors }

// Empty reports whether the shape is the uninitialized zero SparseShape or
// describes a zero-element array.
func (s *SparseShape[T]) Empty() bool { return s.tileNorms == nil || s.tileNorms.Empty() }

// IsZero reports whether the tile at idx is zero.
func (s *SparseShape[T]) IsZero(idx ...int) bool {
	return s.tileNorms.At(idx...) == 0
}

// ZeroTileCount returns the number of tiles whose normalized norm is zero.
//
// The original algebra's corresponding accessor is named sparsity() and
// declared to return a fraction, but its reference implementation actually
// returns this raw count, implicitly converted to a fraction type -- a
// count that happens to equal the fraction only when there is exactly one
// tile. ZeroTileCount and ZeroFraction below split that one ambiguous
// accessor into the two well-defined quantities it could have meant.
func (s *SparseShape[T]) ZeroTileCount() int {
	count := 0
	for _, v := range s.tileNorms.data {
		if v == 0 {
			count++
		}
	}
	return count
}

// ZeroFraction returns the fraction of tiles whose normalized norm is zero,
// in [0, 1]. It returns 0 for an empty shape.
func (s *SparseShape[T]) ZeroFraction() float64 {
	if s.Empty() {
		return 0
	}
	return float64(s.ZeroTileCount()) / float64(s.tileNorms.Size())
}

// IsDense always returns false: a SparseShape never claims to be the dense
// special case, even if every tile happens to be non-zero.
func (s *SparseShape[T]) IsDense() bool { return false }

func permuteSizeVectors[T Float](vectors []SizeVector[T], perm Permutation) []SizeVector[T] {
	out := make([]SizeVector[T], len(vectors))
	for i, axis := range perm {
		out[i] = vectors[axis]
	}
	return out
}

// Perm returns a new shape with axes reordered according to perm.
func (s *SparseShape[T]) Perm(perm Permutation) *SparseShape[T] {
	return &SparseShape[T]{
		tileNorms:   s.tileNorms.Permute(perm),
		sizeVectors: permuteSizeVectors(s.sizeVectors, perm),
	}
}

// Scale returns a new shape whose norms are |factor| times this shape's,
// re-zeroed against threshold. Norms must stay non-negative, so it is the
// magnitude of factor that scales them, not factor itself.
func (s *SparseShape[T]) Scale(factor T) *SparseShape[T] {
	factor = absT(factor)
	out := &SparseShape[T]{tileNorms: s.tileNorms.Unary(func(v T) T { return v * factor }), sizeVectors: s.sizeVectors}
	out.hardZero()
	return out
}

// ScalePerm is Scale followed by Perm.
func (s *SparseShape[T]) ScalePerm(factor T, perm Permutation) *SparseShape[T] {
	return s.Scale(factor).Perm(perm)
}

// Add returns a new shape whose norms are an upper bound on the norms of
// this shape plus other's -- the triangle inequality makes elementwise sum
// of normalized norms a safe (if not tight) over-approximation of the
// result's true norms.
func (s *SparseShape[T]) Add(other *SparseShape[T]) *SparseShape[T] {
	out := &SparseShape[T]{tileNorms: s.tileNorms.Binary(other.tileNorms, func(a, b T) T { return a + b }), sizeVectors: s.sizeVectors}
	out.hardZero()
	return out
}

// AddPerm is Add followed by Perm.
func (s *SparseShape[T]) AddPerm(other *SparseShape[T], perm Permutation) *SparseShape[T] {
	return s.Add(other).Perm(perm)
}

// AddFactor is Add followed by Scale.
func (s *SparseShape[T]) AddFactor(other *SparseShape[T], factor T) *SparseShape[T] {
	return s.Add(other).Scale(factor)
}

// AddFactorPerm is Add followed by Scale followed by Perm.
func (s *SparseShape[T]) AddFactorPerm(other *SparseShape[T], factor T, perm Permutation) *SparseShape[T] {
	return s.Add(other).Scale(factor).Perm(perm)
}

// AddScalar returns a new shape accounting for adding a constant value to
// every element of the array, spread evenly across each tile: a tile's
// normalized norm grows by |value| / sqrt(tile size). The magnitude of
// value is what matters, since norms must stay non-negative regardless of
// the sign of the constant being added.
func (s *SparseShape[T]) AddScalar(value T) *SparseShape[T] {
	value = absT(value)
	var perTileAdd *NormTensor[T]
	if s.tileNorms.Rank() == 1 {
		sizes := s.sizeVectors[0]
		data := make([]T, len(sizes))
		for i, size := range sizes {
			data[i] = value * invSqrt(size)
		}
		perTileAdd = NewNormTensorFromData[T](s.tileNorms.Dims(), data)
	} else {
		perTileAdd = sizeTensor(s.sizeVectors, invSqrtT[T])
		perTileAdd = perTileAdd.Unary(func(v T) T { return v * value })
	}
	out := &SparseShape[T]{tileNorms: s.tileNorms.Binary(perTileAdd, func(a, b T) T { return a + b }), sizeVectors: s.sizeVectors}
	out.hardZero()
	return out
}

// AddScalarPerm is AddScalar followed by Perm.
func (s *SparseShape[T]) AddScalarPerm(value T, perm Permutation) *SparseShape[T] {
	return s.AddScalar(value).Perm(perm)
}

// Subt is an alias of Add: subtraction can decrease true norms just as
// easily as addition can increase them, but the shape algebra only ever
// tracks an upper bound, and the same triangle-inequality bound that
// over-approximates a sum over-approximates a difference too. Aliasing subt
// to add keeps that over-approximation intentionally documented rather than
// implemented as a separate, easy-to-get-subtly-wrong formula.
func (s *SparseShape[T]) Subt(other *SparseShape[T]) *SparseShape[T] { return s.Add(other) }

// SubtPerm aliases AddPerm, see Subt.
func (s *SparseShape[T]) SubtPerm(other *SparseShape[T], perm Permutation) *SparseShape[T] {
	return s.AddPerm(other, perm)
}

// SubtFactor aliases AddFactor, see Subt.
func (s *SparseShape[T]) SubtFactor(other *SparseShape[T], factor T) *SparseShape[T] {
	return s.AddFactor(other, factor)
}

// SubtFactorPerm aliases AddFactorPerm, see Subt.
func (s *SparseShape[T]) SubtFactorPerm(other *SparseShape[T], factor T, perm Permutation) *SparseShape[T] {
	return s.AddFactorPerm(other, factor, perm)
}

// Mult returns a new shape bounding the element-wise (Hadamard) product of
// this shape's array and other's: raw norms multiply, then the result is
// rescaled by the per-tile element count, since a product's norm bound
// needs scaling up rather than down.
func (s *SparseShape[T]) Mult(other *SparseShape[T]) *SparseShape[T] {
	product := s.tileNorms.Binary(other.tileNorms, func(a, b T) T { return a * b })
	scaleBySize(product, s.sizeVectors)
	out := &SparseShape[T]{tileNorms: product, sizeVectors: s.sizeVectors}
	out.hardZero()
	return out
}

// MultPerm is Mult followed by Perm.
func (s *SparseShape[T]) MultPerm(other *SparseShape[T], perm Permutation) *SparseShape[T] {
	return s.Mult(other).Perm(perm)
}

// MultFactor is Mult followed by Scale.
func (s *SparseShape[T]) MultFactor(other *SparseShape[T], factor T) *SparseShape[T] {
	return s.Mult(other).Scale(factor)
}

// MultFactorPerm is Mult followed by Scale followed by Perm.
func (s *SparseShape[T]) MultFactorPerm(other *SparseShape[T], factor T, perm Permutation) *SparseShape[T] {
	return s.Mult(other).Scale(factor).Perm(perm)
}

// scaleBySize multiplies every element of t by its tile's element count --
// the opposite of normalize's divide -- used when a result's true norm
// bound needs scaling up by tile volume rather than down.
func scaleBySize[T Float](t *NormTensor[T], sizeVectors []SizeVector[T]) {
	if t.Rank() == 1 {
		sizes := sizeVectors[0]
		for i := range t.data {
			t.data[i] *= sizes[i]
		}
		return
	}
	counts := sizeTensor(sizeVectors, identityT[T])
	for i := range t.data {
		t.data[i] *= counts.data[i]
	}
}

func invSqrt[T Float](v T) T {
	if v == 0 {
		return 0
	}
	return T(1) / sqrtT(v)
}

func invSqrtT[T Float](v T) T { return invSqrt(v) }

// sqrtT computes a square root generically over float32/float64, since
// math.Sqrt only takes float64.
func sqrtT[T Float](v T) T {
	return T(math.Sqrt(float64(v)))
}

// absT computes an absolute value generically over float32/float64, since
// math.Abs only takes float64.
func absT[T Float](v T) T {
	return T(math.Abs(float64(v)))
}
