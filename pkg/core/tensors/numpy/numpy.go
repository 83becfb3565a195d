// Package numpy reads and writes tensors in NumPy's .npy file format, so datasets can be loaded
// directly with numpy.load.
package numpy

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/imgdataset/pkg/core/shapes"
	"github.com/gomlx/imgdataset/pkg/core/tensors"
	"github.com/gomlx/imgdataset/pkg/support/fsutil"
	"github.com/pkg/errors"
)

// Magic string at the start of every .npy file.
const Magic = "\x93NUMPY"

// FromNpyFile reads a .npy file and returns a tensors.Tensor.
func FromNpyFile(filePath string) (*tensors.Tensor, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open .npy file %q", filePath)
	}
	defer func() { _ = file.Close() }()
	t, err := FromNpyReader(file)
	if err != nil {
		return nil, errors.WithMessagef(err, "reading %q", filePath)
	}
	return t, nil
}

// FromNpyReader reads a .npy file from an io.Reader and returns a tensors.Tensor.
//
// Versions 1.0, 2.0 and 3.0 of the format are accepted, with little or big-endian data in C or
// Fortran order.
func FromNpyReader(r io.Reader) (*tensors.Tensor, error) {
	preamble := make([]byte, len(Magic)+2)
	if _, err := io.ReadFull(r, preamble); err != nil {
		return nil, errors.Wrapf(err, "failed to read .npy magic string and version")
	}
	if string(preamble[:len(Magic)]) != Magic {
		return nil, errors.New("invalid .npy file format: magic string mismatch")
	}
	major, minor := preamble[len(Magic)], preamble[len(Magic)+1]

	var headerLen uint32
	switch major {
	case 1:
		lenBytes := make([]byte, 2)
		if _, err := io.ReadFull(r, lenBytes); err != nil {
			return nil, errors.Wrapf(err, "failed to read header length (v1.0)")
		}
		headerLen = uint32(binary.LittleEndian.Uint16(lenBytes))
	case 2, 3:
		lenBytes := make([]byte, 4)
		if _, err := io.ReadFull(r, lenBytes); err != nil {
			return nil, errors.Wrapf(err, "failed to read header length (v%d.0)", major)
		}
		headerLen = binary.LittleEndian.Uint32(lenBytes)
		if headerLen > math.MaxUint16 {
			return nil, errors.Errorf("header length %d exceeds %d", headerLen, math.MaxUint16)
		}
	default:
		return nil, errors.Errorf("unsupported .npy version: %d.%d", major, minor)
	}

	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, errors.Wrapf(err, "failed to read header")
	}
	descr, dims, fortranOrder, err := parseNpyHeader(string(headerBytes))
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to parse .npy header")
	}
	dtype, byteOrder, err := npyDTypeToGoMLX(descr)
	if err != nil {
		return nil, err
	}
	numBytes, err := dataSize(dtype, dims)
	if err != nil {
		return nil, err
	}

	// The data is read before allocating the tensor, so a corrupt header can't request more memory
	// than the input actually holds.
	data, err := io.ReadAll(io.LimitReader(r, int64(numBytes)))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read tensor data")
	}
	if len(data) != numBytes {
		return nil, errors.Errorf("failed to read tensor data: expected %d bytes, got %d", numBytes, len(data))
	}
	if fortranOrder && len(dims) > 1 {
		cData := make([]byte, len(data))
		if err = FortranToCLayout(dtype.Size(), dims, data, cData); err != nil {
			return nil, err
		}
		data = cData
	}

	tensor := tensors.FromShape(shapes.Make(dtype, dims...))
	tensor.MutableFlatData(func(flat any) {
		err = binary.Read(bytes.NewReader(data), byteOrder, flat)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s tensor data", tensor.Shape())
	}
	return tensor, nil
}

// dataSize returns the number of bytes of an array of dtype with the given dimensions.
func dataSize(dtype dtypes.DType, dims []int) (int, error) {
	size := dtype.Size()
	for _, dim := range dims {
		if dim < 0 {
			return 0, errors.Errorf("invalid negative dimension in .npy shape %v", dims)
		}
		if dim > 0 && size > math.MaxInt/dim {
			return 0, errors.Errorf("shape %v too large", dims)
		}
		size *= dim
	}
	return size, nil
}

// FortranToCLayout copies fortranData, the values of an array in column-major (Fortran) order, to cData
// in row-major (C) order.
func FortranToCLayout(dtypeSize int, dims []int, fortranData []byte, cData []byte) error {
	if dtypeSize <= 0 {
		return errors.Errorf("dtypeSize must be positive, got %d", dtypeSize)
	}
	totalElements := 1
	for _, d := range dims {
		totalElements *= d
	}
	expectedBytes := totalElements * dtypeSize
	if len(fortranData) != expectedBytes {
		return errors.Errorf("fortranData has incorrect size: got %d bytes, want %d", len(fortranData), expectedBytes)
	}
	if len(cData) != expectedBytes {
		return errors.Errorf("cData has incorrect size: got %d bytes, want %d", len(cData), expectedBytes)
	}
	if totalElements == 0 {
		return nil
	}

	coordinates := make([]int, len(dims))
	for cIndex := range totalElements {
		tempIndex := cIndex
		for axis := len(dims) - 1; axis >= 0; axis-- {
			coordinates[axis] = tempIndex % dims[axis]
			tempIndex /= dims[axis]
		}
		fortranIndex, multiplier := 0, 1
		for axis, dim := range dims {
			fortranIndex += coordinates[axis] * multiplier
			multiplier *= dim
		}
		srcOffset := fortranIndex * dtypeSize
		dstOffset := cIndex * dtypeSize
		copy(cData[dstOffset:dstOffset+dtypeSize], fortranData[srcOffset:srcOffset+dtypeSize])
	}
	return nil
}

var (
	reDescr   = regexp.MustCompile(`'descr'\s*:\s*'([^']*)'`)
	reFortran = regexp.MustCompile(`'fortran_order'\s*:\s*(True|False)`)
	reShape   = regexp.MustCompile(`'shape'\s*:\s*\(([^)]*)\)`)
)

// parseNpyHeader extracts dtype, shape, and fortran_order from the .npy header, a Python dict literal like
// "{'descr': '<f4', 'fortran_order': False, 'shape': (1, 2, 3), }".
func parseNpyHeader(header string) (descr string, shape []int, fortranOrder bool, err error) {
	mDescr := reDescr.FindStringSubmatch(header)
	if len(mDescr) < 2 {
		err = errors.Errorf("could not find 'descr' in header: %q", header)
		return
	}
	descr = mDescr[1]

	mFortran := reFortran.FindStringSubmatch(header)
	if len(mFortran) < 2 {
		err = errors.Errorf("could not find 'fortran_order' in header: %q", header)
		return
	}
	fortranOrder = mFortran[1] == "True"

	mShape := reShape.FindStringSubmatch(header)
	if len(mShape) < 2 {
		err = errors.Errorf("could not find 'shape' in header: %q", header)
		return
	}
	shape = []int{}
	// "()" is a scalar, and 1D arrays are written as "(N,)".
	for _, p := range strings.Split(mShape[1], ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		dim, pErr := strconv.Atoi(p)
		if pErr != nil {
			err = errors.Wrapf(pErr, "invalid shape value %q in header", p)
			return
		}
		shape = append(shape, dim)
	}
	return
}

// npyDTypeToGoMLX converts a NumPy dtype descriptor (e.g. "<f4") to a dtypes.DType and its byte order.
// "|" (not applicable) and "=" (native) are taken as little-endian.
func npyDTypeToGoMLX(descr string) (dtypes.DType, binary.ByteOrder, error) {
	var byteOrder binary.ByteOrder = binary.LittleEndian
	kind := descr
	if len(descr) > 0 {
		switch descr[0] {
		case '>':
			byteOrder = binary.BigEndian
			kind = descr[1:]
		case '<', '|', '=':
			kind = descr[1:]
		}
	}
	var dtype dtypes.DType
	switch kind {
	case "b1", "?":
		dtype = dtypes.Bool
	case "i1":
		dtype = dtypes.Int8
	case "u1":
		dtype = dtypes.Uint8
	case "i2":
		dtype = dtypes.Int16
	case "u2":
		dtype = dtypes.Uint16
	case "i4":
		dtype = dtypes.Int32
	case "u4":
		dtype = dtypes.Uint32
	case "i8":
		dtype = dtypes.Int64
	case "u8":
		dtype = dtypes.Uint64
	case "f2":
		dtype = dtypes.Float16
	case "f4":
		dtype = dtypes.Float32
	case "f8":
		dtype = dtypes.Float64
	case "c8":
		dtype = dtypes.Complex64
	case "c16":
		dtype = dtypes.Complex128
	default:
		return dtypes.InvalidDType, nil, errors.Errorf("unsupported NumPy dtype %q", descr)
	}
	return dtype, byteOrder, nil
}

// gomlxDTypeToNpy converts a dtypes.DType to a little-endian NumPy dtype descriptor.
func gomlxDTypeToNpy(dtype dtypes.DType) (string, error) {
	switch dtype {
	case dtypes.Bool:
		return "|b1", nil
	case dtypes.Int8:
		return "|i1", nil
	case dtypes.Uint8:
		return "|u1", nil
	case dtypes.Int16:
		return "<i2", nil
	case dtypes.Uint16:
		return "<u2", nil
	case dtypes.Int32:
		return "<i4", nil
	case dtypes.Uint32:
		return "<u4", nil
	case dtypes.Int64:
		return "<i8", nil
	case dtypes.Uint64:
		return "<u8", nil
	case dtypes.Float16:
		return "<f2", nil
	case dtypes.Float32:
		return "<f4", nil
	case dtypes.Float64:
		return "<f8", nil
	case dtypes.Complex64:
		return "<c8", nil
	case dtypes.Complex128:
		return "<c16", nil
	}
	return "", errors.Errorf("unsupported DType for .npy: %s", dtype)
}

// npyHeader returns the version 1.0 header for shape: the dict literal padded with spaces and a newline,
// so that the data starts at a multiple of 64 bytes.
func npyHeader(shape shapes.Shape) ([]byte, error) {
	descr, err := gomlxDTypeToNpy(shape.DType)
	if err != nil {
		return nil, err
	}
	var shapeTuple string
	switch shape.Rank() {
	case 0:
		shapeTuple = "()"
	case 1:
		shapeTuple = fmt.Sprintf("(%d,)", shape.Dimensions[0])
	default:
		dimsStr := make([]string, shape.Rank())
		for i, dim := range shape.Dimensions {
			dimsStr[i] = strconv.Itoa(dim)
		}
		shapeTuple = fmt.Sprintf("(%s)", strings.Join(dimsStr, ", "))
	}

	var headerBuf bytes.Buffer
	_, _ = fmt.Fprintf(&headerBuf, "{'descr': '%s', 'fortran_order': False, 'shape': %s, }", descr, shapeTuple)
	// Magic (6) + version (2) + header length (2) = 10 bytes of preamble, +1 for the newline.
	for (10+headerBuf.Len()+1)%64 != 0 {
		headerBuf.WriteByte(' ')
	}
	headerBuf.WriteByte('\n')
	if headerBuf.Len() > math.MaxUint16 {
		return nil, errors.Errorf("shape %s too large for a .npy v1.0 header", shape)
	}
	return headerBuf.Bytes(), nil
}

// ToNpyWriter serializes a tensors.Tensor to an io.Writer in .npy format (version 1.0, little-endian).
func ToNpyWriter(tensor *tensors.Tensor, w io.Writer) error {
	header, err := npyHeader(tensor.Shape())
	if err != nil {
		return err
	}
	preamble := make([]byte, 0, len(Magic)+4)
	preamble = append(preamble, Magic...)
	preamble = append(preamble, 1, 0)
	preamble = binary.LittleEndian.AppendUint16(preamble, uint16(len(header)))
	if _, err = w.Write(preamble); err != nil {
		return errors.Wrapf(err, "failed to write .npy preamble")
	}
	if _, err = w.Write(header); err != nil {
		return errors.Wrapf(err, "failed to write .npy header")
	}
	tensor.ConstFlatData(func(flat any) {
		err = binary.Write(w, binary.LittleEndian, flat)
	})
	if err != nil {
		return errors.Wrapf(err, "failed to write %s tensor data", tensor.Shape())
	}
	return nil
}

// ToNpyFile serializes a tensors.Tensor to a .npy file. An existing file is overwritten atomically.
func ToNpyFile(tensor *tensors.Tensor, filePath string) error {
	err := fsutil.AtomicWrite(filePath, func(w io.Writer) error {
		return ToNpyWriter(tensor, w)
	})
	if err != nil {
		return errors.WithMessagef(err, "saving .npy file")
	}
	return nil
}
