// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implements a Tensor, a host-memory multidimensional array with a shape
// (dtype and dimensions) and a flat slice of values stored in row-major order.
//
// Tensors can be saved to and loaded from files with gob encoding, one tensor or a sequence of tensors
// per file.
package tensors

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/imgdataset/pkg/core/shapes"
	"github.com/pkg/errors"
)

// Tensor is a multidimensional array stored in host memory.
type Tensor struct {
	shape shapes.Shape

	// flat holds the values. It's a slice of the Go type of shape.DType, with shape.Size() elements.
	flat any
}

// supportedDTypes are the dtypes a Tensor can hold.
var supportedDTypes = map[dtypes.DType]bool{
	dtypes.Bool:       true,
	dtypes.Int8:       true,
	dtypes.Int16:      true,
	dtypes.Int32:      true,
	dtypes.Int64:      true,
	dtypes.Uint8:      true,
	dtypes.Uint16:     true,
	dtypes.Uint32:     true,
	dtypes.Uint64:     true,
	dtypes.Float16:    true,
	dtypes.Float32:    true,
	dtypes.Float64:    true,
	dtypes.Complex64:  true,
	dtypes.Complex128: true,
}

// IsSupported returns whether a Tensor can hold values of dtype.
func IsSupported(dtype dtypes.DType) bool { return supportedDTypes[dtype] }

// FromShape returns a Tensor with the given shape, with the data initialized with zeros.
func FromShape(shape shapes.Shape) (t *Tensor) {
	if !IsSupported(shape.DType) {
		exceptions.Panicf("tensors.FromShape(%s): unsupported dtype", shape)
	}
	size := shape.Size()
	flatV := reflect.MakeSlice(reflect.SliceOf(shape.DType.GoType()), size, size)
	return &Tensor{shape: shape.Clone(), flat: flatV.Interface()}
}

// FromFlatDataAndDimensions creates a tensor with the given dimensions, using data as its values.
// The data is not copied, the tensor takes ownership of it.
//
// It panics if len(data) doesn't match the size of the dimensions.
func FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int) (t *Tensor) {
	shape := shapes.Make(dtypes.FromGenericsType[T](), dimensions...)
	if len(data) != shape.Size() {
		exceptions.Panicf("tensors.FromFlatDataAndDimensions: data has %d elements, but dimensions %v require %d",
			len(data), dimensions, shape.Size())
	}
	return &Tensor{shape: shape, flat: data}
}

// Shape of the tensor.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType of the tensor's shape.
func (t *Tensor) DType() dtypes.DType { return t.shape.DType }

// Rank of the tensor's shape.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// Size returns the number of elements in the tensor.
func (t *Tensor) Size() int { return t.shape.Size() }

// ConstFlatData calls accessFn with the flat slice of values, as an `any`.
// accessFn must not modify the values or keep a reference to the slice.
func (t *Tensor) ConstFlatData(accessFn func(flat any)) {
	accessFn(t.flat)
}

// MutableFlatData calls accessFn with the flat slice of values, as an `any`, whose values can be modified
// in place. accessFn must not keep a reference to the slice.
func (t *Tensor) MutableFlatData(accessFn func(flat any)) {
	accessFn(t.flat)
}

// ConstFlatData calls accessFn with the typed flat slice of values.
//
// It panics if T doesn't match the tensor's dtype.
func ConstFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) {
	accessFn(flatAs[T](t))
}

// MutableFlatData calls accessFn with the typed flat slice of values, which can be modified in place.
//
// It panics if T doesn't match the tensor's dtype.
func MutableFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) {
	accessFn(flatAs[T](t))
}

// CopyFlatData returns a copy of the tensor's flat values.
//
// It panics if T doesn't match the tensor's dtype.
func CopyFlatData[T dtypes.Supported](t *Tensor) []T {
	return slices.Clone(flatAs[T](t))
}

func flatAs[T dtypes.Supported](t *Tensor) []T {
	flat, ok := t.flat.([]T)
	if !ok {
		var zero T
		exceptions.Panicf("tensor with dtype %s accessed as %T", t.shape.DType, zero)
	}
	return flat
}

// Reshape returns a tensor with the same values and the given dimensions. The values are shared,
// not copied.
//
// It panics if the new dimensions have a different size.
func (t *Tensor) Reshape(dimensions ...int) *Tensor {
	shape := shapes.Make(t.shape.DType, dimensions...)
	if shape.Size() != t.shape.Size() {
		exceptions.Panicf("cannot reshape tensor %s to dimensions %v: sizes differ", t.shape, dimensions)
	}
	return &Tensor{shape: shape, flat: t.flat}
}

// Flatten returns a rank-1 tensor with the same values, sharing the data.
func (t *Tensor) Flatten() *Tensor {
	return t.Reshape(t.Size())
}

// Equal checks whether t and otherTensor have the same shape and values.
// If they are the same pointer they are considered equal.
func (t *Tensor) Equal(otherTensor *Tensor) bool {
	if t == otherTensor {
		return true
	}
	if t == nil || otherTensor == nil {
		return false
	}
	if !t.shape.Equal(otherTensor.shape) {
		return false
	}
	t0V := reflect.ValueOf(t.flat)
	t1V := reflect.ValueOf(otherTensor.flat)
	if t0V.Len() != t1V.Len() {
		return false
	}
	for ii := range t0V.Len() {
		if !t0V.Index(ii).Equal(t1V.Index(ii)) {
			return false
		}
	}
	return true
}

// MaxSizeForString is the largest tensor whose values are included by String.
var MaxSizeForString = 100

// String implements fmt.Stringer. Values are only included for small tensors.
func (t *Tensor) String() string {
	if t == nil {
		return "<nil tensor>"
	}
	if t.Size() > MaxSizeForString {
		return t.shape.String()
	}
	return fmt.Sprintf("%s: %v", t.shape, t.flat)
}

// validate checks the consistency between the shape and the flat data, used after deserializing.
func (t *Tensor) validate() error {
	flatV := reflect.ValueOf(t.flat)
	if flatV.Kind() != reflect.Slice || flatV.Type().Elem() != t.shape.DType.GoType() {
		return errors.Errorf("tensor data of type %T doesn't match dtype %s", t.flat, t.shape.DType)
	}
	if flatV.Len() != t.shape.Size() {
		return errors.Errorf("tensor data has %d elements, but shape %s requires %d", flatV.Len(), t.shape, t.shape.Size())
	}
	return nil
}
