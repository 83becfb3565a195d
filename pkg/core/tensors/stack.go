// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"reflect"

	"github.com/gomlx/imgdataset/pkg/core/shapes"
	"github.com/pkg/errors"
)

// Stack returns a tensor shaped [len(ts), dims...] with the values of the tensors ts, which must all have
// the same shape. The values are copied.
func Stack(ts []*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, errors.New("tensors.Stack: no tensors given")
	}
	shape := ts[0].shape
	flatV := reflect.MakeSlice(reflect.SliceOf(shape.DType.GoType()), 0, len(ts)*shape.Size())
	for ii, t := range ts {
		if !t.shape.Equal(shape) {
			return nil, errors.Errorf("tensors.Stack: tensor #%d is shaped %s, but tensor #0 is shaped %s",
				ii, t.shape, shape)
		}
		flatV = reflect.AppendSlice(flatV, reflect.ValueOf(t.flat))
	}
	dims := append([]int{len(ts)}, shape.Dimensions...)
	return &Tensor{shape: shapes.Make(shape.DType, dims...), flat: flatV.Interface()}, nil
}

// Unstack splits t along its first axis, returning t.Shape().Dim(0) tensors of rank t.Rank()-1.
// The values are copied.
func Unstack(t *Tensor) ([]*Tensor, error) {
	if t.Rank() == 0 {
		return nil, errors.Errorf("tensors.Unstack: can't unstack scalar %s", t.shape)
	}
	shape := shapes.Make(t.shape.DType, t.shape.Dimensions[1:]...)
	size := shape.Size()
	flatV := reflect.ValueOf(t.flat)
	ts := make([]*Tensor, t.shape.Dimensions[0])
	for ii := range ts {
		part := reflect.MakeSlice(flatV.Type(), size, size)
		reflect.Copy(part, flatV.Slice(ii*size, (ii+1)*size))
		ts[ii] = &Tensor{shape: shape.Clone(), flat: part.Interface()}
	}
	return ts, nil
}
