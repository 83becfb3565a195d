// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shapes defines Shape, the data type and dimensions of a multidimensional array.
//
// The DType enumeration comes from github.com/gomlx/gopjrt/dtypes, so the arrays saved here
// use the same type identifiers as GoMLX tensors.
package shapes

import (
	"encoding/gob"
	"fmt"
	"math"
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// Shape of an array: its DType and its dimensions. A scalar has no dimensions.
type Shape struct {
	DType      dtypes.DType
	Dimensions []int
}

// Make returns a Shape with the given dtype and dimensions. It panics if any dimension is negative.
func Make(dtype dtypes.DType, dimensions ...int) Shape {
	for _, dim := range dimensions {
		if dim < 0 {
			panic(errors.Errorf("shapes.Make(%s, %v): cannot create a shape with a negative dimension", dtype, dimensions))
		}
	}
	return Shape{DType: dtype, Dimensions: slices.Clone(dimensions)}
}

// Ok returns whether this is a valid Shape.
func (s Shape) Ok() bool { return s.DType != dtypes.InvalidDType }

// Rank of the shape, that is, the number of dimensions.
func (s Shape) Rank() int { return len(s.Dimensions) }

// Dim returns the dimension of the given axis. Negative axes count from the end.
func (s Shape) Dim(axis int) int {
	if axis < 0 {
		axis += s.Rank()
	}
	if axis < 0 || axis >= s.Rank() {
		panic(errors.Errorf("Shape.Dim(%d) out-of-bounds for shape %s", axis, s))
	}
	return s.Dimensions[axis]
}

// Shape returns a shallow copy of itself.
func (s Shape) Shape() Shape { return s }

// String implements stringer, pretty-prints the shape.
func (s Shape) String() string {
	if s.Rank() == 0 {
		return fmt.Sprintf("(%s)", s.DType)
	}
	return fmt.Sprintf("(%s)%v", s.DType, s.Dimensions)
}

// Size returns the number of elements of DType needed for this shape. It's the product of all dimensions.
func (s Shape) Size() (size int) {
	size = 1
	for _, d := range s.Dimensions {
		size *= d
	}
	return
}

// Memory returns the number of bytes used to store an array of the given shape.
func (s Shape) Memory() uintptr {
	return s.DType.Memory() * uintptr(s.Size())
}

// Equal compares two shapes for equality: dtype and dimensions are compared.
func (s Shape) Equal(s2 Shape) bool {
	return s.DType == s2.DType && slices.Equal(s.Dimensions, s2.Dimensions)
}

// Clone returns a deep copy of the shape.
func (s Shape) Clone() Shape {
	return Shape{DType: s.DType, Dimensions: slices.Clone(s.Dimensions)}
}

// Check that the shape has the given dtype and dimensions, and returns an error otherwise.
func (s Shape) Check(dtype dtypes.DType, dimensions ...int) error {
	if !s.Equal(Shape{DType: dtype, Dimensions: dimensions}) {
		return errors.Errorf("shape %s doesn't match expected %s", s, Shape{DType: dtype, Dimensions: dimensions})
	}
	return nil
}

// GobSerialize shape in binary format.
func (s Shape) GobSerialize(encoder *gob.Encoder) (err error) {
	enc := func(e any) {
		if err != nil {
			return
		}
		err = encoder.Encode(e)
		if err != nil {
			err = errors.Wrapf(err, "failed to serialize Shape %s", s)
		}
	}
	enc(s.DType)
	enc(len(s.Dimensions))
	if len(s.Dimensions) > 0 {
		enc(s.Dimensions)
	}
	return
}

// GobDeserialize a Shape. Returns new Shape or an error.
func GobDeserialize(decoder *gob.Decoder) (s Shape, err error) {
	dec := func(data any) {
		if err != nil {
			return
		}
		err = decoder.Decode(data)
		if err != nil {
			err = errors.Wrapf(err, "failed to deserialize Shape")
		}
	}
	dec(&s.DType)
	var rank int
	dec(&rank)
	if err != nil || rank == 0 {
		return
	}
	dec(&s.Dimensions)
	if err != nil {
		return
	}
	if len(s.Dimensions) != rank {
		err = errors.Errorf("failed to deserialize Shape: expected rank %d, got dimensions %v", rank, s.Dimensions)
		return
	}
	size := 1
	for _, dim := range s.Dimensions {
		if dim < 0 {
			err = errors.Errorf("failed to deserialize Shape: negative dimension in %v", s.Dimensions)
			return
		}
		if dim > 0 && size > math.MaxInt/dim {
			err = errors.Errorf("failed to deserialize Shape: dimensions %v overflow", s.Dimensions)
			return
		}
		size *= dim
	}
	return
}
