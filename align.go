package ipfit

import (
	"slices"

	"github.com/gomlx/ipfit/internal/utils"
	"github.com/gomlx/ipfit/types/dense"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// Align reshapes a tagged array into a view of the given full rank, ready
// for elementwise broadcasting against a full-rank array.
//
// The array a carries one axis per entry of axes (1-based axis numbers,
// not necessarily ascending). The result has rank size.Rank(), with the
// extent of size on the axes the array covers and extent 1 everywhere
// else. If axes is not ascending the array's axes are permuted to
// ascending order first.
//
// The view shares a's buffer when no permutation is needed; with a
// permutation the data is copied first.
func Align[F constraints.Float](a *dense.Tensor[F], axes []int, size dense.Shape) (*dense.Tensor[F], error) {
	if a.Rank() != len(axes) {
		return nil, errors.Wrapf(ErrShapeMismatch, "array of shape %s tagged with %d axes %v",
			a.Shape(), len(axes), axes)
	}
	for position, axis := range axes {
		if axis < 1 || axis > size.Rank() {
			return nil, errors.Wrapf(ErrShapeMismatch, "axis %d out of range for full shape %s", axis, size)
		}
		if a.Shape().Dimensions[position] != size.Dimensions[axis-1] {
			return nil, errors.Wrapf(ErrShapeMismatch, "array of shape %s has extent %d for axis %d, full shape %s wants %d",
				a.Shape(), a.Shape().Dimensions[position], axis, size, size.Dimensions[axis-1])
		}
	}

	sorted := a
	if !slices.IsSorted(axes) {
		var err error
		sorted, err = a.Transpose(utils.ArgSort(axes))
		if err != nil {
			return nil, err
		}
	}
	dims := make([]int, size.Rank())
	for ii := range dims {
		dims[ii] = 1
	}
	for _, axis := range axes {
		dims[axis-1] = size.Dimensions[axis-1]
	}
	return sorted.Reshape(dims...)
}

// alignAll aligns each of the J tagged arrays of a bundle to full-rank
// broadcast views. Used for the batch forms on ArrayMargins and
// ArrayFactors.
func alignAll[F constraints.Float](arrays []*dense.Tensor[F], di *DimIndices, size dense.Shape) ([]*dense.Tensor[F], error) {
	aligned := make([]*dense.Tensor[F], len(arrays))
	for jj, a := range arrays {
		var err error
		aligned[jj], err = Align(a, di.groups[jj], size)
		if err != nil {
			return nil, errors.WithMessagef(err, "aligning component #%d", jj)
		}
	}
	return aligned, nil
}

// unalign is the inverse of Align: it squeezes a full-rank broadcast view
// back to the shape declared by axes, un-permuting when axes is not
// ascending so that the result's axis order is the declared one.
func unalign[F constraints.Float](aligned *dense.Tensor[F], axes []int, size dense.Shape) (*dense.Tensor[F], error) {
	sortedAxes := slices.Clone(axes)
	slices.Sort(sortedAxes)
	dims := make([]int, len(axes))
	for ii, axis := range sortedAxes {
		dims[ii] = size.Dimensions[axis-1]
	}
	squeezed, err := aligned.Reshape(dims...)
	if err != nil {
		return nil, err
	}
	if slices.IsSorted(axes) {
		return squeezed, nil
	}
	return squeezed.Transpose(utils.InversePermutation(utils.ArgSort(axes)))
}
