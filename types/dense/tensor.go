package dense

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// Tensor is a dense n-dimensional array: a flat row-major buffer tagged
// with a Shape.
//
// The zero value is not usable, use one of the constructors.
type Tensor[T Number] struct {
	shape Shape
	data  []T
}

// New returns a zero-initialized tensor with the given dimensions.
// New with no dimensions returns a scalar tensor holding one element.
func New[T Number](dimensions ...int) *Tensor[T] {
	shape := MakeShape(dimensions...)
	if !shape.Ok() {
		panic(fmt.Sprintf("dense.New: invalid dimensions %v, they must all be at least 1", dimensions))
	}
	return &Tensor[T]{
		shape: shape,
		data:  make([]T, shape.Size()),
	}
}

// Full returns a tensor with every element set to the given value.
func Full[T Number](value T, dimensions ...int) *Tensor[T] {
	t := New[T](dimensions...)
	t.Fill(value)
	return t
}

// Ones returns a tensor with every element set to 1.
func Ones[T Number](dimensions ...int) *Tensor[T] {
	return Full[T](1, dimensions...)
}

// FromFlat wraps the given row-major data into a tensor with the given
// dimensions. The data is copied, the caller keeps ownership of the slice.
func FromFlat[T Number](data []T, dimensions ...int) (*Tensor[T], error) {
	shape := MakeShape(dimensions...)
	if !shape.Ok() {
		return nil, errors.Errorf("invalid dimensions %v, they must all be at least 1", dimensions)
	}
	if len(data) != shape.Size() {
		return nil, errors.Errorf("data has %d elements, but shape %s requires %d", len(data), shape, shape.Size())
	}
	t := &Tensor[T]{
		shape: shape,
		data:  make([]T, len(data)),
	}
	copy(t.data, data)
	return t, nil
}

// Shape returns the tensor's shape. The returned value shares the
// dimensions slice, treat it as read-only.
func (t *Tensor[T]) Shape() Shape { return t.shape }

// Rank returns the number of axes.
func (t *Tensor[T]) Rank() int { return t.shape.Rank() }

// Size returns the number of elements.
func (t *Tensor[T]) Size() int { return len(t.data) }

// Data returns the flat row-major buffer backing the tensor.
// Mutating it mutates the tensor.
func (t *Tensor[T]) Data() []T { return t.data }

// Clone returns a deep copy.
func (t *Tensor[T]) Clone() *Tensor[T] {
	c := &Tensor[T]{
		shape: t.shape.Clone(),
		data:  make([]T, len(t.data)),
	}
	copy(c.data, t.data)
	return c
}

// flatIndex converts a multi-index to the position in the flat buffer.
// It panics on out-of-range indices, like a slice access would.
func (t *Tensor[T]) flatIndex(indices []int) int {
	if len(indices) != t.Rank() {
		panic(fmt.Sprintf("dense: got %d indices for tensor of rank %d", len(indices), t.Rank()))
	}
	flat := 0
	strides := t.shape.Strides()
	for axis, idx := range indices {
		if idx < 0 || idx >= t.shape.Dimensions[axis] {
			panic(fmt.Sprintf("dense: index %d out of range for axis #%d with dimension %d",
				idx, axis, t.shape.Dimensions[axis]))
		}
		flat += idx * strides[axis]
	}
	return flat
}

// At returns the element at the given multi-index.
func (t *Tensor[T]) At(indices ...int) T {
	return t.data[t.flatIndex(indices)]
}

// Set stores value at the given multi-index.
func (t *Tensor[T]) Set(value T, indices ...int) {
	t.data[t.flatIndex(indices)] = value
}

// Fill sets every element to the given value.
func (t *Tensor[T]) Fill(value T) {
	for ii := range t.data {
		t.data[ii] = value
	}
}

// Sum returns the sum of all elements.
func (t *Tensor[T]) Sum() T {
	var total T
	for _, v := range t.data {
		total += v
	}
	return total
}

// Scale multiplies every element by the given factor, in place.
func (t *Tensor[T]) Scale(factor T) {
	for ii := range t.data {
		t.data[ii] *= factor
	}
}

// Equal returns whether the two tensors have the same shape and exactly the
// same elements.
func (t *Tensor[T]) Equal(other *Tensor[T]) bool {
	if !t.shape.Equal(other.shape) {
		return false
	}
	for ii, v := range t.data {
		if other.data[ii] != v {
			return false
		}
	}
	return true
}

// MaxAbsDiff returns the largest elementwise absolute difference between
// the two tensors, which must have the same shape.
func (t *Tensor[T]) MaxAbsDiff(other *Tensor[T]) (float64, error) {
	if !t.shape.Equal(other.shape) {
		return 0, errors.Errorf("MaxAbsDiff requires tensors of the same shape, got %s and %s", t.shape, other.shape)
	}
	maxDiff := 0.0
	for ii, v := range t.data {
		diff := math.Abs(float64(v) - float64(other.data[ii]))
		if diff > maxDiff {
			maxDiff = diff
		}
	}
	return maxDiff, nil
}

// String implements fmt.Stringer. It prints the shape and, for small
// tensors, the elements.
func (t *Tensor[T]) String() string {
	if len(t.data) <= 16 {
		return fmt.Sprintf("Tensor%s%v", t.shape, t.data)
	}
	return fmt.Sprintf("Tensor%s{%d elements}", t.shape, len(t.data))
}
