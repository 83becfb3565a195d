// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package imageio reads and writes image files, delegating the codecs to github.com/disintegration/imaging.
//
// Writes are atomic: the encoded image is written to a temporary file in the same directory and then
// renamed over the target, so an interrupted run never leaves a truncated image behind.
package imageio

import (
	"bytes"
	"image"
	"io"
	"os"

	"github.com/disintegration/imaging"
	"github.com/gomlx/imgdataset/pkg/support/fsutil"
	"github.com/pkg/errors"
)

// ErrDecode is returned (wrapped) when an image file cannot be decoded.
var ErrDecode = errors.New("cannot decode image")

// JPEGQuality used when encoding JPEG files.
var JPEGQuality = 95

// Open reads and decodes the image in filePath.
//
// It returns the format the file was actually encoded with, which may differ from what its
// extension says. Errors decoding the file wrap ErrDecode.
func Open(filePath string) (img image.Image, format imaging.Format, err error) {
	contents, err := os.ReadFile(filePath)
	if err != nil {
		err = errors.Wrapf(err, "failed to read image %q", filePath)
		return
	}
	_, formatName, err := image.DecodeConfig(bytes.NewReader(contents))
	if err != nil {
		err = errors.Wrapf(ErrDecode, "%q: %v", filePath, err)
		return
	}
	format, err = imaging.FormatFromExtension(formatName)
	if err != nil {
		err = errors.Wrapf(ErrDecode, "%q: unsupported format %q", filePath, formatName)
		return
	}
	img, err = imaging.Decode(bytes.NewReader(contents), imaging.AutoOrientation(true))
	if err != nil {
		err = errors.Wrapf(ErrDecode, "%q: %v", filePath, err)
		return
	}
	return
}

// FormatFor returns the format to use when saving to filePath: the one named by its extension if
// imaging supports it, otherwise the given fallback.
func FormatFor(filePath string, fallback imaging.Format) imaging.Format {
	if format, err := imaging.FormatFromFilename(filePath); err == nil {
		return format
	}
	return fallback
}

// Save encodes img with the given format and atomically writes it to filePath.
// The directory of filePath must exist.
func Save(img image.Image, filePath string, format imaging.Format) error {
	err := fsutil.AtomicWrite(filePath, func(w io.Writer) error {
		return imaging.Encode(w, img, format, imaging.JPEGQuality(JPEGQuality))
	})
	if err != nil {
		return errors.WithMessagef(err, "failed to save %s image to %q", format, filePath)
	}
	return nil
}

// Transform decodes the image in sourcePath, applies transformFn and saves the result in targetPath,
// with the format named by targetPath's extension or, if that's not an image extension, the source format.
//
// sourcePath and targetPath can be the same: the image is replaced atomically.
func Transform(sourcePath, targetPath string, transformFn func(img image.Image) (image.Image, error)) error {
	img, format, err := Open(sourcePath)
	if err != nil {
		return err
	}
	img, err = transformFn(img)
	if err != nil {
		return errors.WithMessagef(err, "transforming %q", sourcePath)
	}
	return Save(img, targetPath, FormatFor(targetPath, format))
}

// IsImageExtension returns whether ext (with or without the leading ".") names a format that can be written.
func IsImageExtension(ext string) bool {
	_, err := imaging.FormatFromExtension(ext)
	return err == nil
}
