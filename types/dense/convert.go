package dense

import (
	"reflect"

	"github.com/pkg/errors"
)

// Convert returns a new tensor with the same shape and every element
// converted to the type U.
//
// Conversions into a floating point type always succeed, possibly rounding
// (this is how integer seeds are widened into the engine's precision).
// Conversions into an integer type must be exact: a fractional or
// out-of-range value is an error naming the offending element.
func Convert[U, T Number](t *Tensor[T]) (*Tensor[U], error) {
	out := New[U](t.shape.Dimensions...)
	requireExact := isIntegerKind(reflect.TypeFor[U]().Kind())
	for ii, v := range t.data {
		value := float64(v)
		converted := U(value)
		if requireExact && float64(converted) != value {
			return nil, errors.Errorf("element #%d (%v) cannot be exactly represented by %s",
				ii, value, reflect.TypeFor[U]())
		}
		out.data[ii] = converted
	}
	return out, nil
}

// MustConvert is Convert for conversions that cannot fail, i.e. into a
// floating point type. It panics on error.
func MustConvert[U, T Number](t *Tensor[T]) *Tensor[U] {
	out, err := Convert[U](t)
	if err != nil {
		panic(err)
	}
	return out
}

// IsInteger reports whether the element type T is one of the integer
// types, for which conversions must be exact.
func IsInteger[T Number]() bool {
	return isIntegerKind(reflect.TypeFor[T]().Kind())
}
