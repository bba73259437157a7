// Package dense implements the dense n-dimensional arrays used by ipfit.
//
// A Tensor is a flat row-major buffer tagged with a Shape. It supports the
// small set of operations iterative proportional fitting needs: marginal
// sums over arbitrary axis subsets, axes permutation, reshaping and
// broadcast-aware elementwise multiplication and division.
//
// Tensors are generic over their element type: computation runs on float32
// or float64, but integer (and float16) data can be converted on entry, see
// FromAnyValue and Convert.
package dense

import (
	"fmt"
	"strings"

	"github.com/gomlx/ipfit/internal/utils"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// Number is the constraint for element types a Tensor can hold.
type Number interface {
	constraints.Integer | constraints.Float
}

// Shape holds the extents of a Tensor, one per axis, in row-major order.
// A Shape with no dimensions is a scalar.
type Shape struct {
	Dimensions []int
}

// MakeShape returns a Shape with the given dimensions.
func MakeShape(dimensions ...int) Shape {
	s := Shape{Dimensions: make([]int, len(dimensions))}
	copy(s.Dimensions, dimensions)
	return s
}

// Ok returns whether all dimensions are at least 1.
func (s Shape) Ok() bool {
	for _, dim := range s.Dimensions {
		if dim <= 0 {
			return false
		}
	}
	return true
}

// Rank returns the number of axes. A scalar has rank 0.
func (s Shape) Rank() int {
	return len(s.Dimensions)
}

// Size returns the total number of elements a tensor of this shape holds.
// A scalar shape has size 1.
func (s Shape) Size() int {
	return utils.Prod(s.Dimensions)
}

// Equal compares rank and dimensions.
func (s Shape) Equal(other Shape) bool {
	if len(s.Dimensions) != len(other.Dimensions) {
		return false
	}
	for axis, dim := range s.Dimensions {
		if other.Dimensions[axis] != dim {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the shape.
func (s Shape) Clone() Shape {
	return MakeShape(s.Dimensions...)
}

// Strides returns the row-major strides of the shape, in elements: the last
// axis has stride 1.
func (s Shape) Strides() []int {
	rank := s.Rank()
	strides := make([]int, rank)
	stride := 1
	for axis := rank - 1; axis >= 0; axis-- {
		strides[axis] = stride
		stride *= s.Dimensions[axis]
	}
	return strides
}

// CheckDims checks that the shape has the given dimensions, returning an
// error naming the first axis that disagrees.
func (s Shape) CheckDims(dimensions ...int) error {
	if len(dimensions) != s.Rank() {
		return errors.Errorf("shape %s has rank %d, wanted rank %d", s, s.Rank(), len(dimensions))
	}
	for axis, dim := range dimensions {
		if s.Dimensions[axis] != dim {
			return errors.Errorf("shape %s has dimension %d on axis #%d, wanted %d", s, s.Dimensions[axis], axis, dim)
		}
	}
	return nil
}

// String implements fmt.Stringer.
func (s Shape) String() string {
	if s.Rank() == 0 {
		return "[scalar]"
	}
	parts := make([]string, s.Rank())
	for axis, dim := range s.Dimensions {
		parts[axis] = fmt.Sprintf("%d", dim)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
