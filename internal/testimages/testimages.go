// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package testimages creates small image files and directory trees used as test fixtures.
package testimages

import (
	"image"
	"image/color"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/janpfeifer/must"
)

// New returns a width x height image with a deterministic gradient.
func New(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(x * 255 / max(width-1, 1)),
				G: uint8(y * 255 / max(height-1, 1)),
				B: 128,
				A: 255,
			})
		}
	}
	return img
}

// Write creates a width x height image in filePath, creating the parent directories as needed.
// The format comes from the file extension, and files without an image extension are written as PNG.
// It panics on errors.
func Write(filePath string, width, height int) {
	must.M(os.MkdirAll(filepath.Dir(filePath), 0755))
	format, err := imaging.FormatFromFilename(filePath)
	if err != nil {
		format = imaging.PNG
	}
	f := must.M1(os.Create(filePath))
	must.M(imaging.Encode(f, New(width, height), format))
	must.M(f.Close())
}

// Tree writes one width x height image per relative path under root. It panics on errors.
func Tree(root string, width, height int, relativePaths ...string) {
	for _, p := range relativePaths {
		Write(filepath.Join(root, filepath.FromSlash(p)), width, height)
	}
}

// Size returns the dimensions of the image in filePath. It panics on errors.
func Size(filePath string) (width, height int) {
	f := must.M1(os.Open(filePath))
	defer func() { _ = f.Close() }()
	cfg, _ := must.M2(image.DecodeConfig(f))
	return cfg.Width, cfg.Height
}
