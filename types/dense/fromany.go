package dense

import (
	"reflect"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

var float16Type = reflect.TypeOf(float16.Float16(0))

// FromAnyValue converts a Go value into a Tensor of element type T.
//
// Accepted values are plain-old-data numeric types (ints, floats, also
// float16.Float16), or slices (or multiple levels of slices) of those. All
// sub-slices on a level must have the same length, otherwise the value has
// no well-defined shape and an error is returned.
//
// Elements are converted to T. For an integer T the conversion must be
// exact: a fractional or out-of-range value is an error. For a floating
// point T values are converted as is, possibly rounding.
//
// Example:
//
//	t, err := dense.FromAnyValue[float64]([][]int{{1, 2}, {3, 4}}) // Tensor[2 2]
func FromAnyValue[T Number](value any) (*Tensor[T], error) {
	var shape Shape
	err := shapeForAnyValueRecursive(&shape, reflect.ValueOf(value), reflect.TypeOf(value))
	if err != nil {
		return nil, err
	}
	t := New[T](shape.Dimensions...)
	requireExact := isIntegerKind(reflect.TypeFor[T]().Kind())
	flat := make([]T, 0, shape.Size())
	flat, err = fillFromAnyValueRecursive(flat, reflect.ValueOf(value), requireExact)
	if err != nil {
		return nil, err
	}
	copy(t.data, flat)
	return t, nil
}

func shapeForAnyValueRecursive(shape *Shape, v reflect.Value, t reflect.Type) error {
	if t == nil {
		return errors.New("cannot convert nil to a tensor")
	}
	if t.Kind() != reflect.Slice {
		// If it's not a slice, it must be one of the supported scalar types.
		dtype := dtypes.FromGoType(t)
		if t != float16Type && (dtype == dtypes.InvalidDType || !isNumericDType(dtype)) {
			return errors.Errorf("cannot convert type %q to a tensor element (dtype %s not supported)", t, dtype)
		}
		return nil
	}

	// Slice: recurse into its element type (again slices or a supported POD).
	t = t.Elem()
	shape.Dimensions = append(shape.Dimensions, v.Len())
	shapePrefix := shape.Clone()

	// The first element is the reference.
	if v.Len() == 0 {
		return errors.Errorf("value with empty slice not valid for tensor conversion: %T -- it wouldn't be possible to figure out the inner dimensions", v.Interface())
	}
	v0 := v.Index(0)
	err := shapeForAnyValueRecursive(shape, v0, t)
	if err != nil {
		return err
	}

	// Test that other elements have the same shape as the first one.
	for ii := 1; ii < v.Len(); ii++ {
		shapeTest := shapePrefix.Clone()
		err = shapeForAnyValueRecursive(&shapeTest, v.Index(ii), t)
		if err != nil {
			return err
		}
		if !shape.Equal(shapeTest) {
			return errors.Errorf("sub-slices have irregular shapes, found shapes %s and %s", *shape, shapeTest)
		}
	}
	return nil
}

func fillFromAnyValueRecursive[T Number](flat []T, v reflect.Value, requireExact bool) ([]T, error) {
	if v.Kind() != reflect.Slice {
		value, err := scalarToFloat64(v)
		if err != nil {
			return nil, err
		}
		converted := T(value)
		if requireExact && float64(converted) != value {
			return nil, errors.Errorf("value %v cannot be exactly represented by the tensor element type %T", value, converted)
		}
		return append(flat, converted), nil
	}
	var err error
	for ii := 0; ii < v.Len(); ii++ {
		flat, err = fillFromAnyValueRecursive(flat, v.Index(ii), requireExact)
		if err != nil {
			return nil, err
		}
	}
	return flat, nil
}

// isIntegerKind reports whether the reflect kind is one of the integer
// kinds, for which conversions must be exact.
func isIntegerKind(kind reflect.Kind) bool {
	switch kind {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

// scalarToFloat64 extracts a numeric scalar as float64.
// float16.Float16 values are widened through their float32 representation.
func scalarToFloat64(v reflect.Value) (float64, error) {
	if v.Type() == float16Type {
		return float64(float16.Float16(v.Uint()).Float32()), nil
	}
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return v.Float(), nil
	}
	return 0, errors.Errorf("cannot convert value of type %q to a tensor element", v.Type())
}

// isNumericDType accepts the dtypes a tensor can be built from: integers
// and floats, but not booleans or complex numbers.
func isNumericDType(dtype dtypes.DType) bool {
	switch dtype {
	case dtypes.Bool, dtypes.Complex64, dtypes.Complex128, dtypes.InvalidDType:
		return false
	}
	return true
}
