// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"bytes"
	"encoding/gob"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	require.False(t, Shape{}.Ok())

	shape := Make(dtypes.Float32, 4, 3, 2)
	require.True(t, shape.Ok())
	assert.Equal(t, 3, shape.Rank())
	assert.Equal(t, 24, shape.Size())
	assert.Equal(t, uintptr(96), shape.Memory())
	assert.Equal(t, "(Float32)[4 3 2]", shape.String())
	assert.NoError(t, shape.Check(dtypes.Float32, 4, 3, 2))
	assert.Error(t, shape.Check(dtypes.Float64, 4, 3, 2))
	assert.Error(t, shape.Check(dtypes.Float32, 4, 3))

	scalar := Make(dtypes.Int64)
	assert.Equal(t, 0, scalar.Rank())
	assert.Equal(t, 1, scalar.Size())
	assert.NoError(t, scalar.Check(dtypes.Int64))

	require.Panics(t, func() { Make(dtypes.Uint8, 2, -1) })
}

func TestDim(t *testing.T) {
	shape := Make(dtypes.Uint8, 5, 4, 3)
	assert.Equal(t, 5, shape.Dim(0))
	assert.Equal(t, 3, shape.Dim(-1))
	assert.Equal(t, 4, shape.Dim(-2))
	require.Panics(t, func() { shape.Dim(3) })
	require.Panics(t, func() { shape.Dim(-4) })
}

func TestCloneAndEqual(t *testing.T) {
	shape := Make(dtypes.Uint8, 2, 2)
	clone := shape.Clone()
	require.True(t, shape.Equal(clone))
	clone.Dimensions[0] = 3
	assert.False(t, shape.Equal(clone))
	assert.Equal(t, 2, shape.Dim(0))
}

func TestGob(t *testing.T) {
	for _, shape := range []Shape{Make(dtypes.Float16, 32, 32, 3), Make(dtypes.Int64)} {
		var buf bytes.Buffer
		require.NoError(t, shape.GobSerialize(gob.NewEncoder(&buf)))
		decoded, err := GobDeserialize(gob.NewDecoder(&buf))
		require.NoError(t, err)
		assert.True(t, shape.Equal(decoded), "decoded %s, wanted %s", decoded, shape)
	}

	_, err := GobDeserialize(gob.NewDecoder(bytes.NewReader([]byte("garbage"))))
	require.Error(t, err)
}
