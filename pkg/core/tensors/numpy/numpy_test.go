package numpy

import (
	"bytes"
	"encoding/binary"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/imgdataset/pkg/core/shapes"
	"github.com/gomlx/imgdataset/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	for name, tensor := range map[string]*tensors.Tensor{
		"uint8":   tensors.FromFlatDataAndDimensions([]uint8{1, 2, 3, 4, 5, 6}, 1, 2, 3),
		"int64":   tensors.FromFlatDataAndDimensions([]int64{0, -1, 1 << 40}, 3),
		"float32": tensors.FromFlatDataAndDimensions([]float32{0.5, -1.25, 3, 4}, 2, 2),
		"float64": tensors.FromFlatDataAndDimensions([]float64{3.14}),
		"float16": tensors.FromFlatDataAndDimensions([]float16.Float16{float16.Fromfloat32(0.5), float16.Fromfloat32(2)}, 2),
		"bool":    tensors.FromFlatDataAndDimensions([]bool{true, false, true}, 3),
		"complex": tensors.FromFlatDataAndDimensions([]complex64{1 + 2i, -3i}, 2),
		"empty":   tensors.FromShape(shapes.Make(dtypes.Uint8, 0, 3)),
	} {
		filePath := filepath.Join(dir, name+".npy")
		require.NoError(t, ToNpyFile(tensor, filePath), name)
		loaded, err := FromNpyFile(filePath)
		require.NoError(t, err, name)
		assert.True(t, tensor.Equal(loaded), "%s: got %s, want %s", name, loaded, tensor)
	}
}

func TestHeader(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, ToNpyWriter(tensors.FromFlatDataAndDimensions([]int64{7, 8}, 2), &buf))
	contents := buf.Bytes()
	require.True(t, bytes.HasPrefix(contents, []byte(Magic+"\x01\x00")))
	headerLen := int(binary.LittleEndian.Uint16(contents[8:10]))
	assert.Zero(t, (10+headerLen)%64, "data must be aligned")
	header := string(contents[10 : 10+headerLen])
	assert.True(t, strings.HasPrefix(header, "{'descr': '<i8', 'fortran_order': False, 'shape': (2,), }"), header)
	assert.True(t, strings.HasSuffix(header, "\n"))
	assert.Len(t, contents, 10+headerLen+2*8)
}

// npyBytes builds a version 1.0 .npy file with the given header dict and data.
func npyBytes(header string, data []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(Magic)
	buf.Write([]byte{1, 0})
	header += "\n"
	_ = binary.Write(&buf, binary.LittleEndian, uint16(len(header)))
	buf.WriteString(header)
	buf.Write(data)
	return buf.Bytes()
}

func TestFromNpyReader(t *testing.T) {
	// Fortran order: the 2x3 matrix [[1, 2, 3], [4, 5, 6]] stored column by column.
	tensor, err := FromNpyReader(bytes.NewReader(npyBytes(
		"{'descr': '|u1', 'fortran_order': True, 'shape': (2, 3), }", []byte{1, 4, 2, 5, 3, 6})))
	require.NoError(t, err)
	require.NoError(t, tensor.Shape().Check(dtypes.Uint8, 2, 3))
	assert.Equal(t, []uint8{1, 2, 3, 4, 5, 6}, tensors.CopyFlatData[uint8](tensor))

	// Big-endian.
	tensor, err = FromNpyReader(bytes.NewReader(npyBytes(
		"{'descr': '>i4', 'fortran_order': False, 'shape': (2,), }", []byte{0, 0, 1, 0, 0xFF, 0xFF, 0xFF, 0xFF})))
	require.NoError(t, err)
	assert.Equal(t, []int32{256, -1}, tensors.CopyFlatData[int32](tensor))

	// Scalar, with a version 2.0 header.
	var buf bytes.Buffer
	buf.WriteString(Magic)
	buf.Write([]byte{2, 0})
	header := "{'descr': '<f8', 'fortran_order': False, 'shape': (), }\n"
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(header)))
	buf.WriteString(header)
	_ = binary.Write(&buf, binary.LittleEndian, 2.5)
	tensor, err = FromNpyReader(&buf)
	require.NoError(t, err)
	assert.Equal(t, 0, tensor.Rank())
	assert.Equal(t, []float64{2.5}, tensors.CopyFlatData[float64](tensor))
}

func TestFromNpyReaderErrors(t *testing.T) {
	for name, contents := range map[string][]byte{
		"empty":          nil,
		"magic":          []byte("\x93NUMPZ\x01\x00"),
		"version":        []byte(Magic + "\x09\x00\x00\x00"),
		"short header":   []byte(Magic + "\x01\x00\xff\x00{"),
		"no descr":       npyBytes("{'fortran_order': False, 'shape': (2,), }", []byte{1, 2}),
		"no shape":       npyBytes("{'descr': '|u1', 'fortran_order': False, }", []byte{1, 2}),
		"no order":       npyBytes("{'descr': '|u1', 'shape': (2,), }", []byte{1, 2}),
		"bad dim":        npyBytes("{'descr': '|u1', 'fortran_order': False, 'shape': (x,), }", []byte{1, 2}),
		"negative dim":   npyBytes("{'descr': '|u1', 'fortran_order': False, 'shape': (-2,), }", []byte{1, 2}),
		"huge shape":     npyBytes("{'descr': '<f8', 'fortran_order': False, 'shape': (1099511627776, 1099511627776), }", nil),
		"large shape":    npyBytes("{'descr': '<f8', 'fortran_order': False, 'shape': (1073741824,), }", []byte{1, 2}),
		"unsupported":    npyBytes("{'descr': '<U8', 'fortran_order': False, 'shape': (2,), }", []byte{1, 2}),
		"truncated data": npyBytes("{'descr': '<i4', 'fortran_order': False, 'shape': (2,), }", []byte{1, 2, 3, 4}),
	} {
		require.NotPanics(t, func() {
			_, err := FromNpyReader(bytes.NewReader(contents))
			assert.Error(t, err, name)
		}, name)
	}

	_, err := FromNpyFile(filepath.Join(t.TempDir(), "missing.npy"))
	require.Error(t, err)
}
