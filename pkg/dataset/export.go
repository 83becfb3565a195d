// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dataset

import (
	"fmt"
	"image"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/imgdataset/pkg/core/tensors"
	"github.com/gomlx/imgdataset/pkg/core/tensors/images"
	"github.com/gomlx/imgdataset/pkg/imageio"
	"github.com/gomlx/imgdataset/pkg/support/fsutil"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Export writes the images persisted in datasetDir back to PNG files in targetDir, named "{n}.png"
// with n = 1, 2, ... in the order of the dataset.
//
// If the dataset has labels and a label encoding, each image goes to the sub-directory named by its
// label key (or "label-{label}" if the key can't be used as a directory name).
//
// maxValue is the value of a saturated channel: 0 uses 255 for integer dtypes and 1 for floats.
// Flattened datasets can't be exported.
func Export(datasetDir, targetDir string, maxValue float64) (exported int, err error) {
	if maxValue < 0 {
		return 0, errors.Errorf("invalid max value %g, it must be positive", maxValue)
	}
	imgs, labels, err := Load(datasetDir)
	if err != nil {
		return 0, err
	}
	var subDirs []string
	if labels != nil {
		if labels.DType() != dtypes.Int64 || labels.Rank() != 1 || labels.Size() != len(imgs) {
			return 0, errors.Errorf("labels shaped %s don't match %d images in %q", labels.Shape(), len(imgs), datasetDir)
		}
		subDirs, err = labelDirs(datasetDir, labels)
		if err != nil {
			return 0, err
		}
	}
	if targetDir, err = fsutil.NormalizeDir(targetDir); err != nil {
		return 0, err
	}
	if err = fsutil.EnsureDir(targetDir, false, true); err != nil {
		return 0, err
	}

	toImage := images.ToImage().MaxValue(maxValue)
	for ii, t := range imgs {
		var img image.Image
		err = exceptions.TryCatch[error](func() { img = toImage.Single(t) })
		if err != nil {
			return exported, errors.WithMessagef(err, "image #%d shaped %s (flattened datasets can't be exported)",
				ii, t.Shape())
		}
		dir := targetDir
		if subDirs != nil {
			dir = filepath.Join(targetDir, subDirs[ii])
			if err = fsutil.EnsureDir(dir, false, false); err != nil {
				return exported, err
			}
		}
		if err = imageio.Save(img, filepath.Join(dir, fmt.Sprintf("%d.png", ii+1)), imaging.PNG); err != nil {
			return exported, err
		}
		exported++
	}
	klog.Infof("%d images from %q exported to %q", exported, datasetDir, targetDir)
	return exported, nil
}

// labelDirs returns the sub-directory of each labeled image. It returns nil if there is no label
// encoding in datasetDir.
func labelDirs(datasetDir string, labels *tensors.Tensor) ([]string, error) {
	exists, err := fsutil.FileExists(filepath.Join(datasetDir, EncodingFileName))
	if err != nil || !exists {
		return nil, err
	}
	enc, err := LoadEncoding(datasetDir)
	if err != nil {
		return nil, err
	}
	dirs := make([]string, 0, labels.Size())
	for _, label := range tensors.CopyFlatData[int64](labels) {
		key, ok := enc.Decode(int(label))
		if !ok {
			return nil, errors.Errorf("label %d not in the label encoding of %q", label, datasetDir)
		}
		if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) {
			key = fmt.Sprintf("label-%d", label)
		}
		dirs = append(dirs, key)
	}
	return dirs, nil
}
