// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package images provides functions to transform images back and forth from tensors.
//
// Images are converted to tensors shaped `[height, width, channels]`, with channels last.
package images

import (
	"image"
	"image/color"
	"math"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/imgdataset/pkg/core/tensors"
	"github.com/x448/float16"
)

// AutoChannels selects the number of channels from the image color model: 1 for gray images, 3 otherwise.
const AutoChannels = 0

// ToTensorConfig holds the configuration returned by the ToTensor function. Once
// configured, use Single to actually convert.
type ToTensorConfig struct {
	channels int
	maxValue float64
	dtype    dtypes.DType
}

// ToTensor converts an image to a tensor.
//
// It returns a configuration object that can be further configured. Once set, use the Single
// method to convert an image.
//
// By default, gray images get 1 channel and everything else gets 3 (the alpha channel is dropped).
func ToTensor(dtype dtypes.DType) *ToTensorConfig {
	tt := &ToTensorConfig{
		channels: AutoChannels,
		maxValue: 1.0,
		dtype:    dtype,
	}
	if !dtype.IsFloat() {
		// Use 255 for integer types.
		tt.maxValue = 255.0
	}
	return tt
}

// WithAlpha configures ToTensorConfig object to include the alpha channel in the conversion,
// so the converted tensor will have 4 channels.
//
// It returns the ToTensorConfig object, so configuration calls can be cascaded.
func (tt *ToTensorConfig) WithAlpha() *ToTensorConfig {
	tt.channels = 4
	return tt
}

// Channels forces the number of channels: 1 (luminance), 3 (RGB), 4 (RGBA) or AutoChannels.
//
// It returns the ToTensorConfig object, so configuration calls can be cascaded.
func (tt *ToTensorConfig) Channels(channels int) *ToTensorConfig {
	if channels != AutoChannels && channels != 1 && channels != 3 && channels != 4 {
		exceptions.Panicf("images.ToTensor: invalid number of channels %d, only 1, 3 or 4 are supported", channels)
	}
	tt.channels = channels
	return tt
}

// MaxValue sets the MaxValue of each channel. It defaults to 1.0 for float dtypes
// and 255 for integer types.
//
// It returns the ToTensorConfig object, so configuration calls can be cascaded.
func (tt *ToTensorConfig) MaxValue(v float64) *ToTensorConfig {
	tt.maxValue = v
	return tt
}

// ChannelsFor returns the number of channels img would be converted to.
func (tt *ToTensorConfig) ChannelsFor(img image.Image) int {
	if tt.channels != AutoChannels {
		return tt.channels
	}
	switch img.ColorModel() {
	case color.GrayModel, color.Gray16Model:
		return 1
	}
	return 3
}

// Single converts the given img to a tensor, using the ToTensorConfig.
//
// It returns a 3D tensor, shaped as `[height, width, channels]`.
//
// It panics in case of error.
func (tt *ToTensorConfig) Single(img image.Image) (t *tensors.Tensor) {
	channels := tt.ChannelsFor(img)
	switch tt.dtype {
	case dtypes.Uint8:
		t = toTensorGenericsImpl[uint8](tt, img, channels)
	case dtypes.Uint16:
		t = toTensorGenericsImpl[uint16](tt, img, channels)
	case dtypes.Int32:
		t = toTensorGenericsImpl[int32](tt, img, channels)
	case dtypes.Int64:
		t = toTensorGenericsImpl[int64](tt, img, channels)
	case dtypes.Float32:
		t = toTensorGenericsImpl[float32](tt, img, channels)
	case dtypes.Float64:
		t = toTensorGenericsImpl[float64](tt, img, channels)
	case dtypes.Float16:
		t = toTensorFloat16(tt, img, channels)
	default:
		exceptions.Panicf("images.ToTensor does not support dtype %s", tt.dtype)
	}
	return
}

// pixelChannels calls fn for every pixel in row-major order with its channel values, as 16 bits values
// packed in uint32 (the same as color.Color.RGBA).
func pixelChannels(img image.Image, channels int, fn func(values [4]uint32)) {
	bounds := img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := img.At(x, y)
			if channels == 1 {
				gray := color.Gray16Model.Convert(c).(color.Gray16)
				fn([4]uint32{uint32(gray.Y)})
				continue
			}
			r, g, b, a := c.RGBA()
			fn([4]uint32{r, g, b, a})
		}
	}
}

func toTensorGenericsImpl[T uint8 | uint16 | int32 | int64 | float32 | float64](
	tt *ToTensorConfig, img image.Image, channels int) *tensors.Tensor {
	size := img.Bounds().Size()
	flat := make([]T, 0, size.Y*size.X*channels)
	scale := tt.maxValue / float64(0xFFFF)
	pixelChannels(img, channels, func(values [4]uint32) {
		for _, v := range values[:channels] {
			flat = append(flat, T(float64(v)*scale))
		}
	})
	return tensors.FromFlatDataAndDimensions(flat, size.Y, size.X, channels)
}

func toTensorFloat16(tt *ToTensorConfig, img image.Image, channels int) *tensors.Tensor {
	size := img.Bounds().Size()
	flat := make([]float16.Float16, 0, size.Y*size.X*channels)
	scale := float32(tt.maxValue) / float32(0xFFFF)
	pixelChannels(img, channels, func(values [4]uint32) {
		for _, v := range values[:channels] {
			flat = append(flat, float16.Fromfloat32(float32(v)*scale))
		}
	})
	return tensors.FromFlatDataAndDimensions(flat, size.Y, size.X, channels)
}

// ToImageConfig holds the configuration returned by the ToImage function. Once
// configured, use Single to actually convert a tensor to an image.
type ToImageConfig struct {
	maxValue float64
}

// ToImage returns a configuration that can be used to convert tensors to images.
//
// Tensors with 1 channel are converted to *image.Gray, the others to *image.NRGBA.
func ToImage() *ToImageConfig {
	return &ToImageConfig{}
}

// MaxValue sets the MaxValue of each channel. It defaults to 1.0 for float dtypes and 255 for integer types.
//
// It returns the ToImageConfig object, so configuration calls can be cascaded.
func (ti *ToImageConfig) MaxValue(v float64) *ToImageConfig {
	ti.maxValue = v
	return ti
}

// Single converts the given 3D tensor shaped as `[height, width, channels]` to an image.
//
// It panics in case of error.
func (ti *ToImageConfig) Single(t *tensors.Tensor) image.Image {
	if t.Rank() != 3 {
		exceptions.Panicf("invalid tensor shape %s for images.ToImage conversion, must be rank-3", t.Shape())
	}
	height, width, channels := t.Shape().Dim(0), t.Shape().Dim(1), t.Shape().Dim(2)
	if channels != 1 && channels != 3 && channels != 4 {
		exceptions.Panicf("images.ToImage invalid tensor shape %s: only images with 1, 3 or 4 channels are supported",
			t.Shape())
	}
	maxValue := ti.maxValue
	if maxValue == 0 {
		if t.DType().IsFloat() {
			maxValue = 1.0
		} else {
			maxValue = 255.0
		}
	}
	values := asFloat64(t)
	toUint8 := func(v float64) uint8 {
		// Values out of [0, maxValue] saturate.
		return uint8(math.Round(255 * min(max(v/maxValue, 0), 1)))
	}

	if channels == 1 {
		img := image.NewGray(image.Rect(0, 0, width, height))
		for h := range height {
			for w := range width {
				img.Pix[h*img.Stride+w] = toUint8(values[h*width+w])
			}
		}
		return img
	}
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	pos := 0
	for h := range height {
		for w := range width {
			for d := range channels {
				img.Pix[h*img.Stride+w*4+d] = toUint8(values[pos])
				pos++
			}
			if channels < 4 {
				img.Pix[h*img.Stride+w*4+3] = uint8(255) // Alpha channel.
			}
		}
	}
	return img
}

func asFloat64(t *tensors.Tensor) (values []float64) {
	values = make([]float64, 0, t.Size())
	t.ConstFlatData(func(flatAny any) {
		switch flat := flatAny.(type) {
		case []uint8:
			for _, v := range flat {
				values = append(values, float64(v))
			}
		case []uint16:
			for _, v := range flat {
				values = append(values, float64(v))
			}
		case []int32:
			for _, v := range flat {
				values = append(values, float64(v))
			}
		case []int64:
			for _, v := range flat {
				values = append(values, float64(v))
			}
		case []float32:
			for _, v := range flat {
				values = append(values, float64(v))
			}
		case []float64:
			values = append(values, flat...)
		case []float16.Float16:
			for _, v := range flat {
				values = append(values, float64(v.Float32()))
			}
		default:
			exceptions.Panicf("images.ToImage cannot convert tensor of unsupported dtype %s to Image", t.DType())
		}
	})
	return
}
