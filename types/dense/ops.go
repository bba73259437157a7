package dense

import (
	"slices"

	"github.com/gomlx/ipfit/internal/utils"
	"github.com/pkg/errors"
)

// checkAxes validates that the given axes are within [0, rank) and unique.
func checkAxes(axes []int, rank int) error {
	seen := utils.MakeSet[int](len(axes))
	for _, axis := range axes {
		if axis < 0 || axis >= rank {
			return errors.Errorf("axis %d out of range for tensor of rank %d", axis, rank)
		}
		if seen.Has(axis) {
			return errors.Errorf("axis %d repeated, each axis must appear at most once", axis)
		}
		seen.Insert(axis)
	}
	return nil
}

// SumAxes sums the tensor over the given axes.
//
// With keep=true the reduced axes are kept with dimension 1, so the result
// has the same rank as the input and broadcasts against it. With keep=false
// the reduced axes are dropped and the remaining axes keep their original
// relative order.
//
// Summing over no axes returns a copy.
func (t *Tensor[T]) SumAxes(axes []int, keep bool) (*Tensor[T], error) {
	rank := t.Rank()
	if err := checkAxes(axes, rank); err != nil {
		return nil, errors.WithMessagef(err, "SumAxes(%v) on tensor of shape %s", axes, t.shape)
	}

	reduced := make([]bool, rank)
	for _, axis := range axes {
		reduced[axis] = true
	}
	keptDims := make([]int, rank)
	for axis, dim := range t.shape.Dimensions {
		if reduced[axis] {
			keptDims[axis] = 1
		} else {
			keptDims[axis] = dim
		}
	}
	out := New[T](keptDims...)

	// Walk the input buffer once; outStrides maps every input axis to the
	// output buffer, with stride 0 on reduced axes.
	outStrides := out.shape.Strides()
	for axis := range outStrides {
		if reduced[axis] {
			outStrides[axis] = 0
		}
	}
	dims := t.shape.Dimensions
	index := make([]int, rank)
	offset := 0
	for _, v := range t.data {
		out.data[offset] += v
		for axis := rank - 1; axis >= 0; axis-- {
			index[axis]++
			offset += outStrides[axis]
			if index[axis] < dims[axis] {
				break
			}
			index[axis] = 0
			offset -= outStrides[axis] * dims[axis]
		}
	}

	if keep {
		return out, nil
	}
	finalDims := make([]int, 0, rank-len(axes))
	for axis, dim := range t.shape.Dimensions {
		if !reduced[axis] {
			finalDims = append(finalDims, dim)
		}
	}
	return out.Reshape(finalDims...)
}

// Transpose returns a new tensor with the axes permuted: axis i of the
// output is axis permutation[i] of the input. The permutation must mention
// every axis exactly once.
func (t *Tensor[T]) Transpose(permutation []int) (*Tensor[T], error) {
	rank := t.Rank()
	if len(permutation) != rank {
		return nil, errors.Errorf("Transpose requires all axes to be given, tensor has shape %s but %d axes were given",
			t.shape, len(permutation))
	}
	if err := checkAxes(permutation, rank); err != nil {
		return nil, errors.WithMessagef(err, "Transpose(%v) on tensor of shape %s", permutation, t.shape)
	}
	if slices.IsSorted(permutation) {
		return t.Clone(), nil
	}

	outDims := make([]int, rank)
	for axis, srcAxis := range permutation {
		outDims[axis] = t.shape.Dimensions[srcAxis]
	}
	out := New[T](outDims...)

	// Walk the output buffer once; steps maps every output axis to the
	// stride of the corresponding input axis.
	inStrides := t.shape.Strides()
	steps := make([]int, rank)
	for axis, srcAxis := range permutation {
		steps[axis] = inStrides[srcAxis]
	}
	index := make([]int, rank)
	offset := 0
	for ii := range out.data {
		out.data[ii] = t.data[offset]
		for axis := rank - 1; axis >= 0; axis-- {
			index[axis]++
			offset += steps[axis]
			if index[axis] < outDims[axis] {
				break
			}
			index[axis] = 0
			offset -= steps[axis] * outDims[axis]
		}
	}
	return out, nil
}

// Reshape returns a tensor with the same elements and the new dimensions.
// The total number of elements must not change.
//
// The returned tensor shares the underlying buffer with the receiver, it is
// a non-owning view.
func (t *Tensor[T]) Reshape(dimensions ...int) (*Tensor[T], error) {
	shape := MakeShape(dimensions...)
	if !shape.Ok() {
		return nil, errors.Errorf("Reshape to invalid dimensions %v, they must all be at least 1", dimensions)
	}
	if shape.Size() != len(t.data) {
		return nil, errors.Errorf("cannot reshape tensor of shape %s (%d elements) to %s (%d elements)",
			t.shape, len(t.data), shape, shape.Size())
	}
	return &Tensor[T]{shape: shape, data: t.data}, nil
}

// broadcastStrides returns the strides to walk operand alongside a tensor
// of the given full shape: operand must have the same rank and every
// dimension either equal to the full one or 1, in which case the stride is
// 0 and the operand values repeat along that axis.
func broadcastStrides(full Shape, operand Shape) ([]int, error) {
	if operand.Rank() != full.Rank() {
		return nil, errors.Errorf("operand of shape %s cannot broadcast to shape %s, ranks differ", operand, full)
	}
	strides := operand.Strides()
	for axis, dim := range operand.Dimensions {
		switch dim {
		case full.Dimensions[axis]:
			// Stride stays as is.
		case 1:
			strides[axis] = 0
		default:
			return nil, errors.Errorf("operand of shape %s cannot broadcast to shape %s, axis #%d has dimension %d, wanted %d or 1",
				operand, full, axis, dim, full.Dimensions[axis])
		}
	}
	return strides, nil
}

// MulBroadcast multiplies the tensor elementwise by other, in place.
// Other must have the same rank, with every dimension either matching or 1
// (broadcast).
func (t *Tensor[T]) MulBroadcast(other *Tensor[T]) error {
	return t.broadcastBinary(other, false)
}

// DivBroadcast divides the tensor elementwise by other, in place, with the
// same broadcasting rules as MulBroadcast. Division follows the usual
// floating point rules, including infinities and NaNs on zero divisors.
func (t *Tensor[T]) DivBroadcast(other *Tensor[T]) error {
	return t.broadcastBinary(other, true)
}

func (t *Tensor[T]) broadcastBinary(other *Tensor[T], divide bool) error {
	otherStrides, err := broadcastStrides(t.shape, other.shape)
	if err != nil {
		return err
	}
	rank := t.Rank()
	dims := t.shape.Dimensions
	index := make([]int, rank)
	offset := 0
	for ii := range t.data {
		if divide {
			t.data[ii] /= other.data[offset]
		} else {
			t.data[ii] *= other.data[offset]
		}
		for axis := rank - 1; axis >= 0; axis-- {
			index[axis]++
			offset += otherStrides[axis]
			if index[axis] < dims[axis] {
				break
			}
			index[axis] = 0
			offset -= otherStrides[axis] * dims[axis]
		}
	}
	return nil
}
