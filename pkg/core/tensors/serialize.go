// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"encoding/gob"
	"io"
	"os"
	"reflect"

	"github.com/gomlx/imgdataset/pkg/core/shapes"
	"github.com/gomlx/imgdataset/pkg/support/fsutil"
	"github.com/pkg/errors"
)

// GobSerialize Tensor in binary format.
//
// It returns an error for I/O errors.
func (t *Tensor) GobSerialize(encoder *gob.Encoder) (err error) {
	if t == nil {
		return errors.New("cannot serialize a nil Tensor")
	}
	err = t.shape.GobSerialize(encoder)
	if err != nil {
		return
	}
	err = encoder.Encode(t.flat)
	if err != nil {
		err = errors.Wrapf(err, "failed to write tensor %s data", t.shape)
	}
	return
}

// GobDeserialize a Tensor from the reader.
func GobDeserialize(decoder *gob.Decoder) (t *Tensor, err error) {
	shape, err := shapes.GobDeserialize(decoder)
	if err != nil {
		err = errors.WithMessagef(err, "failed to deserialize Tensor shape data")
		return
	}
	if !IsSupported(shape.DType) {
		return nil, errors.Errorf("failed to deserialize Tensor: unsupported dtype in shape %s", shape)
	}
	flatPtrV := reflect.New(reflect.SliceOf(shape.DType.GoType()))
	err = decoder.Decode(flatPtrV.Interface())
	if err != nil {
		err = errors.Wrapf(err, "failed to deserialize Tensor data")
		return
	}
	t = &Tensor{shape: shape, flat: flatPtrV.Elem().Interface()}
	if shape.Size() == 0 {
		// Empty slices may be decoded as nil.
		t.flat = reflect.MakeSlice(reflect.SliceOf(shape.DType.GoType()), 0, 0).Interface()
	}
	if err = t.validate(); err != nil {
		return nil, errors.WithMessagef(err, "failed to deserialize Tensor")
	}
	return
}

// Save the tensor to the given file path. An existing file is overwritten atomically.
func (t *Tensor) Save(filePath string) error {
	return fsutil.AtomicWrite(filePath, func(w io.Writer) error {
		return t.GobSerialize(gob.NewEncoder(w))
	})
}

// Load a tensor from the file path given.
func Load(filePath string) (t *Tensor, err error) {
	f, err := os.Open(filePath)
	if err != nil {
		err = errors.Wrapf(err, "opening %q to load Tensor", filePath)
		return
	}
	defer func() { _ = f.Close() }()
	t, err = GobDeserialize(gob.NewDecoder(f))
	if err != nil {
		err = errors.WithMessagef(err, "loading Tensor from %q", filePath)
	}
	return
}

// SaveSequence saves an ordered sequence of tensors, possibly of different shapes and dtypes, to
// the given file path. An existing file is overwritten atomically.
func SaveSequence(filePath string, sequence []*Tensor) error {
	return fsutil.AtomicWrite(filePath, func(w io.Writer) error {
		enc := gob.NewEncoder(w)
		if err := enc.Encode(len(sequence)); err != nil {
			return errors.Wrapf(err, "failed to write sequence length")
		}
		for ii, t := range sequence {
			if err := t.GobSerialize(enc); err != nil {
				return errors.WithMessagef(err, "tensor #%d of the sequence", ii)
			}
		}
		return nil
	})
}

// maxSequencePrealloc limits the capacity allocated upfront by LoadSequence, since the length comes from the file.
const maxSequencePrealloc = 1024

// LoadSequence loads a sequence of tensors saved with SaveSequence.
func LoadSequence(filePath string) (sequence []*Tensor, err error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %q to load tensors", filePath)
	}
	defer func() { _ = f.Close() }()
	dec := gob.NewDecoder(f)
	var length int
	if err = dec.Decode(&length); err != nil {
		return nil, errors.Wrapf(err, "failed reading the number of tensors in %q", filePath)
	}
	if length < 0 {
		return nil, errors.Errorf("invalid number of tensors (%d) in %q", length, filePath)
	}
	sequence = make([]*Tensor, 0, min(length, maxSequencePrealloc))
	for ii := range length {
		t, err := GobDeserialize(dec)
		if err != nil {
			return nil, errors.WithMessagef(err, "loading tensor #%d from %q", ii, filePath)
		}
		sequence = append(sequence, t)
	}
	return sequence, nil
}
