// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package transforms implements the batch operations applied to every image of a directory tree:
// Rename, Merge, Reshape, Crop, ConvertFormat and Grayscale.
//
// Each operation is run with Run, which walks the source tree (see package walker) and writes its
// results to a target tree. Except for Merge, the target tree mirrors the source sub-directories.
package transforms

import (
	"fmt"
	"image"
	"image/draw"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gomlx/imgdataset/pkg/imageio"
	"github.com/gomlx/imgdataset/pkg/support/fsutil"
	"github.com/gomlx/imgdataset/pkg/walker"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrInvalidCropSize is returned (wrapped) when the crop window is larger than the image in either axis.
var ErrInvalidCropSize = errors.New("invalid crop size")

// Operation is one of Rename, Merge, Reshape, Crop, ConvertFormat or Grayscale.
// The set of operations is closed: it can't be implemented outside this package.
type Operation interface {
	fmt.Stringer

	// validate the configuration of the operation, before anything is walked.
	validate() error

	// needsTarget returns whether the operation requires a target directory different from the source.
	needsTarget() bool

	// walkOptions returns the options the operation requires for the walk.
	walkOptions() []walker.Option

	// apply the operation to one file. It must call file.Counter.Next exactly once.
	apply(file walker.File) error
}

// Run applies op to every file under sourceDir accepted by filter, writing the results under targetDir.
//
// A new counter is created for each call, so numbered outputs (Rename and Merge) always start at 1 and
// never repeat within the call, no matter how deep the tree.
//
// If targetDir is empty, or the same as sourceDir, the image transformations (Reshape, Crop,
// ConvertFormat and Grayscale) work in place. Rename and Merge require a distinct targetDir.
//
// It returns the number of files processed. The first error aborts the run, leaving whatever was
// already written in targetDir.
func Run(op Operation, sourceDir, targetDir string, filter walker.Filter, opts ...walker.Option) (processed int, err error) {
	if err = Validate(op); err != nil {
		return 0, err
	}
	if sourceDir, err = fsutil.NormalizeDir(sourceDir); err != nil {
		return 0, err
	}
	if targetDir, err = fsutil.NormalizeDir(targetDir); err != nil {
		return 0, err
	}
	if targetDir == "" {
		targetDir = sourceDir
	}
	if op.needsTarget() && targetDir == sourceDir {
		return 0, errors.Errorf("%s requires a target directory different from the source %q", op, sourceDir)
	}

	counter := walker.NewCounter()
	walkOpts := append(op.walkOptions(), opts...)
	err = walker.Walk(sourceDir, targetDir, filter, counter, op.apply, walkOpts...)
	processed = counter.Count()
	if err != nil {
		return processed, errors.WithMessagef(err, "%s of %q", op, sourceDir)
	}
	klog.Infof("%s: %d files from %q written to %q", op, processed, sourceDir, targetDir)
	return processed, nil
}

// Validate checks the configuration of op, without touching the file system.
func Validate(op Operation) error {
	if op == nil {
		return errors.New("nil transforms.Operation")
	}
	if err := op.validate(); err != nil {
		return errors.WithMessagef(err, "invalid %s", op)
	}
	return nil
}

// Rename copies the files to the target tree, naming them "{n}{suffix}" with n = 1, 2, ...
//
// The sub-directories are mirrored but the numbering is shared by the whole tree, so no two
// outputs get the same number.
type Rename struct{}

func (Rename) String() string { return "Rename" }
func (Rename) validate() error { return nil }
func (Rename) needsTarget() bool { return true }
func (Rename) walkOptions() []walker.Option { return nil }
func (Rename) apply(file walker.File) error { return copyNumbered(file) }

// Merge copies the files of the whole tree into one flat target directory, naming them "{n}{suffix}"
// with n = 1, 2, ...
type Merge struct{}

func (Merge) String() string { return "Merge" }
func (Merge) validate() error { return nil }
func (Merge) needsTarget() bool { return true }
func (Merge) walkOptions() []walker.Option { return []walker.Option{walker.Flat()} }
func (Merge) apply(file walker.File) error { return copyNumbered(file) }

func copyNumbered(file walker.File) error {
	name := fmt.Sprintf("%d%s", file.Counter.Next(), file.Suffix)
	return fsutil.CopyFile(file.SourcePath(), file.TargetPath(name))
}

// Reshape resizes the images to Width x Height, ignoring the aspect ratio.
type Reshape struct {
	Height, Width int
}

func (op Reshape) String() string { return fmt.Sprintf("Reshape(%dx%d)", op.Height, op.Width) }
func (Reshape) needsTarget() bool { return false }
func (Reshape) walkOptions() []walker.Option { return nil }

func (op Reshape) validate() error {
	if op.Height <= 0 || op.Width <= 0 {
		return errors.Errorf("height and width must be positive, got %dx%d", op.Height, op.Width)
	}
	return nil
}

func (op Reshape) apply(file walker.File) error {
	file.Counter.Next()
	return imageio.Transform(file.SourcePath(), file.TargetPath(file.Name), func(img image.Image) (image.Image, error) {
		return imaging.Resize(img, op.Width, op.Height, imaging.Lanczos), nil
	})
}

// Crop cuts the centered Width x Height window of the images.
//
// Images smaller than the window in either axis fail with ErrInvalidCropSize.
type Crop struct {
	Height, Width int
}

func (op Crop) String() string { return fmt.Sprintf("Crop(%dx%d)", op.Height, op.Width) }
func (Crop) needsTarget() bool { return false }
func (Crop) walkOptions() []walker.Option { return nil }

func (op Crop) validate() error {
	if op.Height <= 0 || op.Width <= 0 {
		return errors.Errorf("height and width must be positive, got %dx%d", op.Height, op.Width)
	}
	return nil
}

func (op Crop) apply(file walker.File) error {
	file.Counter.Next()
	return imageio.Transform(file.SourcePath(), file.TargetPath(file.Name), op.crop)
}

// crop returns the centered window, with the row and column offsets each taken from its own axis.
func (op Crop) crop(img image.Image) (image.Image, error) {
	bounds := img.Bounds()
	size := bounds.Size()
	if op.Height > size.Y || op.Width > size.X {
		return nil, errors.Wrapf(ErrInvalidCropSize, "cannot crop %dx%d out of a %dx%d image",
			op.Height, op.Width, size.Y, size.X)
	}
	top := (size.Y - op.Height) / 2
	left := (size.X - op.Width) / 2
	window := image.Rect(left, top, left+op.Width, top+op.Height).Add(bounds.Min)
	return imaging.Crop(img, window), nil
}

// ConvertFormat re-encodes the images in the format of NewExtension (e.g. ".png"), replacing the
// matched suffix of their names by NewExtension.
//
// Working in place, the source file is removed once the converted one is written.
type ConvertFormat struct {
	NewExtension string
}

func (op ConvertFormat) String() string { return fmt.Sprintf("ConvertFormat(%s)", op.NewExtension) }
func (ConvertFormat) needsTarget() bool { return false }
func (ConvertFormat) walkOptions() []walker.Option { return nil }

func (op ConvertFormat) validate() error {
	if !strings.HasPrefix(op.NewExtension, ".") || !imageio.IsImageExtension(op.NewExtension) {
		return errors.Errorf("new extension %q is not a supported image extension (e.g. \".png\")", op.NewExtension)
	}
	return nil
}

func (op ConvertFormat) apply(file walker.File) error {
	file.Counter.Next()
	sourcePath := file.SourcePath()
	targetPath := file.TargetPath(file.Stem() + op.NewExtension)
	format, err := imaging.FormatFromExtension(op.NewExtension)
	if err != nil {
		return errors.Wrapf(err, "format for %q", op.NewExtension)
	}
	img, _, err := imageio.Open(sourcePath)
	if err != nil {
		return err
	}
	if err = imageio.Save(img, targetPath, format); err != nil {
		return err
	}
	if filepath.Clean(file.SourceDir) == filepath.Clean(file.TargetDir) && sourcePath != targetPath {
		if err = os.Remove(sourcePath); err != nil {
			return errors.Wrapf(err, "failed to remove %q after converting it to %q", sourcePath, targetPath)
		}
	}
	return nil
}

// Grayscale converts the images to a single channel of luminance.
type Grayscale struct{}

func (Grayscale) String() string { return "Grayscale" }
func (Grayscale) validate() error { return nil }
func (Grayscale) needsTarget() bool { return false }
func (Grayscale) walkOptions() []walker.Option { return nil }

func (Grayscale) apply(file walker.File) error {
	file.Counter.Next()
	return imageio.Transform(file.SourcePath(), file.TargetPath(file.Name), func(img image.Image) (image.Image, error) {
		return ToGray(img), nil
	})
}

// ToGray returns the luminance of img as an *image.Gray with bounds starting at (0, 0).
func ToGray(img image.Image) *image.Gray {
	if gray, ok := img.(*image.Gray); ok && gray.Bounds().Min == (image.Point{}) {
		return gray
	}
	bounds := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(gray, gray.Bounds(), img, bounds.Min, draw.Src)
	return gray
}
