package ipfit

import (
	"fmt"
	"math"
	"strings"

	"github.com/gomlx/ipfit/types/dense"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// ArrayFactors bundles J multiplicative factor arrays with the DimIndices
// declaring which axes each factor covers. Semantically the j-th factor
// multiplies every element of the full array whose index agrees with the
// factor's on the covered axes: the materialized full-rank array is the
// product of all factors aligned on the full shape.
//
// Like ArrayMargins, the factors own their arrays.
type ArrayFactors[F constraints.Float] struct {
	di     *DimIndices
	arrays []*dense.Tensor[F]
	size   dense.Shape
}

// NewArrayFactors builds an ArrayFactors from the given arrays and
// dimension indices, with the same shape-consistency policy as
// NewArrayMargins.
func NewArrayFactors[F constraints.Float](arrays []*dense.Tensor[F], di *DimIndices) (*ArrayFactors[F], error) {
	m, err := NewArrayMargins(arrays, di)
	if err != nil {
		return nil, err
	}
	return &ArrayFactors[F]{di: m.di, arrays: m.arrays, size: m.size}, nil
}

// NewArrayFactorsDefault builds an ArrayFactors with the default
// dimension indices, like NewArrayMarginsDefault.
func NewArrayFactorsDefault[F constraints.Float](arrays []*dense.Tensor[F]) (*ArrayFactors[F], error) {
	m, err := NewArrayMarginsDefault(arrays)
	if err != nil {
		return nil, err
	}
	return &ArrayFactors[F]{di: m.di, arrays: m.arrays, size: m.size}, nil
}

// DimIndices returns the factors' dimension indices. It is immutable.
func (f *ArrayFactors[F]) DimIndices() *DimIndices { return f.di }

// Count returns the number of factors J.
func (f *ArrayFactors[F]) Count() int { return len(f.arrays) }

// Factor returns the j-th factor array, in its declared axis order.
// The returned tensor is owned by the factors, treat it as read-only.
func (f *ArrayFactors[F]) Factor(j int) *dense.Tensor[F] { return f.arrays[j] }

// Size returns the full shape the factors materialize to.
func (f *ArrayFactors[F]) Size() dense.Shape { return f.size }

// Aligned returns the factors as full-rank broadcast views.
func (f *ArrayFactors[F]) Aligned() ([]*dense.Tensor[F], error) {
	return alignAll(f.arrays, f.di, f.size)
}

// Materialize allocates the full-rank array of ones and multiplies every
// aligned factor into it, so M[i] is the product over j of factor j at the
// sub-index of i covered by its axes.
func (f *ArrayFactors[F]) Materialize() (*dense.Tensor[F], error) {
	m := dense.Ones[F](f.size.Dimensions...)
	err := f.ApplyInPlace(m)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ApplyInPlace multiplies the factors into the caller-supplied full-rank
// array, elementwise, folding one aligned factor at a time so no full-rank
// scratch is allocated.
func (f *ArrayFactors[F]) ApplyInPlace(x *dense.Tensor[F]) error {
	if !x.Shape().Equal(f.size) {
		return errors.Wrapf(ErrShapeMismatch, "array of shape %s, factors materialize to %s", x.Shape(), f.size)
	}
	aligned, err := f.Aligned()
	if err != nil {
		return err
	}
	for _, factor := range aligned {
		err = x.MulBroadcast(factor)
		if err != nil {
			return err
		}
	}
	return nil
}

// ApplyFactors multiplies the factors into an array of any numeric element
// type, in place.
//
// For a floating point array this is ArrayFactors.ApplyInPlace across
// element types, computing each product in float64. For an
// integer array, every resulting element must be exactly representable by
// the integer type, otherwise nothing is written and an error is returned.
func ApplyFactors[T dense.Number, F constraints.Float](f *ArrayFactors[F], x *dense.Tensor[T]) error {
	if !x.Shape().Equal(f.size) {
		return errors.Wrapf(ErrShapeMismatch, "array of shape %s, factors materialize to %s", x.Shape(), f.size)
	}
	aligned, err := f.Aligned()
	if err != nil {
		return err
	}

	// Walk x once; every aligned factor advances its own broadcast offset.
	rank := f.size.Rank()
	dims := f.size.Dimensions
	factorStrides := make([][]int, len(aligned))
	for jj, factor := range aligned {
		strides := factor.Shape().Strides()
		for axis, dim := range factor.Shape().Dimensions {
			if dim == 1 {
				strides[axis] = 0
			}
		}
		factorStrides[jj] = strides
	}
	data := x.Data()
	walk := func(write bool) error {
		offsets := make([]int, len(aligned))
		index := make([]int, rank)
		for ii := range data {
			product := float64(data[ii])
			for jj, factor := range aligned {
				product *= float64(factor.Data()[offsets[jj]])
			}
			converted := T(product)
			if !write && (float64(converted) != product || math.IsInf(product, 0) || math.IsNaN(product)) {
				return errors.Errorf("element #%d: result %v cannot be exactly represented by the array element type %T",
					ii, product, converted)
			}
			if write {
				data[ii] = converted
			}
			for axis := rank - 1; axis >= 0; axis-- {
				index[axis]++
				for jj := range offsets {
					offsets[jj] += factorStrides[jj][axis]
				}
				if index[axis] < dims[axis] {
					break
				}
				index[axis] = 0
				for jj := range offsets {
					offsets[jj] -= factorStrides[jj][axis] * dims[axis]
				}
			}
		}
		return nil
	}
	// Integer targets are validated in a first read-only pass, so a
	// rejected application leaves the array untouched.
	if dense.IsInteger[T]() {
		if err = walk(false); err != nil {
			return err
		}
	}
	return walk(true)
}

// Clone returns a deep copy.
func (f *ArrayFactors[F]) Clone() *ArrayFactors[F] {
	arrays := make([]*dense.Tensor[F], len(f.arrays))
	for jj := range f.arrays {
		arrays[jj] = f.arrays[jj].Clone()
	}
	return &ArrayFactors[F]{di: f.di.Clone(), arrays: arrays, size: f.size.Clone()}
}

// String implements fmt.Stringer.
func (f *ArrayFactors[F]) String() string {
	parts := make([]string, len(f.arrays))
	for jj, array := range f.arrays {
		parts[jj] = fmt.Sprintf("%v:%s", f.di.groups[jj], array.Shape())
	}
	return "ArrayFactors{" + strings.Join(parts, ", ") + "}"
}
