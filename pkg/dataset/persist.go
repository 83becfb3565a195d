// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dataset

import (
	"os"
	"path/filepath"

	"github.com/gomlx/imgdataset/pkg/core/tensors"
	"github.com/gomlx/imgdataset/pkg/core/tensors/numpy"
	"github.com/gomlx/imgdataset/pkg/support/fsutil"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// File names of the artifacts written by Persist.
const (
	DataFileName   = "data.tensor"
	LabelsFileName = "labels.tensor"

	// DataNpyFileName and LabelsNpyFileName are only written WithNpy.
	DataNpyFileName   = "data.npy"
	LabelsNpyFileName = "labels.npy"
)

type persistConfig struct {
	npy bool
}

// PersistOption configures Persist and Build.
type PersistOption func(*persistConfig)

// WithNpy also saves the labels to labels.npy and, if all images have the same shape, the images
// stacked as one [N, ...] array to data.npy. Both can be read with numpy.load.
func WithNpy() PersistOption {
	return func(cfg *persistConfig) { cfg.npy = true }
}

// Persist writes the images sequence to targetDir/data.tensor and, if labels is not nil,
// the labels to targetDir/labels.tensor. targetDir is created if needed.
//
// Existing artifacts are overwritten. If labels is nil, a labels.tensor left by a previous
// run is removed, so it can't be mistaken for the labels of the new images.
//
// Without WithNpy, .npy files left by a previous run are removed too.
//
// Concurrent calls for the same targetDir (from this or other processes) are serialized by a lock file.
func Persist(images []*tensors.Tensor, labels *tensors.Tensor, targetDir string, opts ...PersistOption) (err error) {
	var cfg persistConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if targetDir, err = fsutil.NormalizeDir(targetDir); err != nil {
		return err
	}
	if targetDir == "" {
		return errors.New("dataset.Persist: target directory not given")
	}
	if labels != nil && (labels.Rank() != 1 || labels.Size() != len(images)) {
		return errors.Errorf("dataset.Persist: labels shaped %s don't match %d images", labels.Shape(), len(images))
	}
	if err = fsutil.EnsureDir(targetDir, false, true); err != nil {
		return err
	}
	unlock, err := fsutil.LockDir(targetDir)
	if err != nil {
		return err
	}
	defer func() {
		if unlockErr := unlock(); unlockErr != nil && err == nil {
			err = unlockErr
		}
	}()

	dataPath := filepath.Join(targetDir, DataFileName)
	if err = tensors.SaveSequence(dataPath, images); err != nil {
		return errors.WithMessagef(err, "persisting dataset images")
	}
	klog.Infof("%d images saved to %q", len(images), dataPath)

	labelsPath := filepath.Join(targetDir, LabelsFileName)
	if labels == nil {
		if err = removeStale(labelsPath); err != nil {
			return err
		}
	} else {
		if err = labels.Save(labelsPath); err != nil {
			return errors.WithMessagef(err, "persisting dataset labels")
		}
		klog.Infof("%d labels saved to %q", labels.Size(), labelsPath)
	}
	return persistNpy(images, labels, targetDir, cfg.npy)
}

// persistNpy writes (or, if !enabled, removes) the .npy versions of the images and labels.
func persistNpy(images []*tensors.Tensor, labels *tensors.Tensor, targetDir string, enabled bool) error {
	dataPath := filepath.Join(targetDir, DataNpyFileName)
	labelsPath := filepath.Join(targetDir, LabelsNpyFileName)
	var stacked *tensors.Tensor
	if enabled && len(images) > 0 {
		var err error
		stacked, err = tensors.Stack(images)
		if err != nil {
			klog.Warningf("images not saved to %q, they must all have the same shape: %v", dataPath, err)
		}
	}
	if stacked == nil {
		if err := removeStale(dataPath); err != nil {
			return err
		}
	} else {
		if err := numpy.ToNpyFile(stacked, dataPath); err != nil {
			return errors.WithMessagef(err, "persisting dataset images")
		}
		klog.Infof("images shaped %s saved to %q", stacked.Shape(), dataPath)
	}
	if !enabled || labels == nil {
		return removeStale(labelsPath)
	}
	if err := numpy.ToNpyFile(labels, labelsPath); err != nil {
		return errors.WithMessagef(err, "persisting dataset labels")
	}
	return nil
}

// removeStale removes filePath, left by a previous Persist, if it exists.
func removeStale(filePath string) error {
	if err := os.Remove(filePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrapf(err, "failed to remove stale %q", filePath)
	}
	return nil
}

// Load reads the artifacts written by Persist in targetDir. labels is nil if no labels were persisted.
//
// If data.tensor is missing, the images are read from data.npy, and likewise for the labels, so
// directories holding only .npy files can be loaded too.
func Load(targetDir string) (images []*tensors.Tensor, labels *tensors.Tensor, err error) {
	if targetDir, err = fsutil.NormalizeDir(targetDir); err != nil {
		return
	}
	if err = fsutil.EnsureDir(targetDir, true, false); err != nil {
		return
	}
	dataPath := filepath.Join(targetDir, DataFileName)
	if npyPath, found, err := npyFallback(dataPath, filepath.Join(targetDir, DataNpyFileName)); err != nil {
		return nil, nil, err
	} else if found {
		var stacked *tensors.Tensor
		if stacked, err = numpy.FromNpyFile(npyPath); err == nil {
			images, err = tensors.Unstack(stacked)
		}
		if err != nil {
			return nil, nil, errors.WithMessagef(err, "loading dataset images")
		}
	} else {
		images, err = tensors.LoadSequence(dataPath)
		if err != nil {
			return nil, nil, errors.WithMessagef(err, "loading dataset images")
		}
	}

	labelsPath := filepath.Join(targetDir, LabelsFileName)
	exists, err := fsutil.FileExists(labelsPath)
	if err != nil {
		return nil, nil, err
	}
	if exists {
		labels, err = tensors.Load(labelsPath)
	} else {
		labelsPath = filepath.Join(targetDir, LabelsNpyFileName)
		if exists, err = fsutil.FileExists(labelsPath); err != nil || !exists {
			return images, nil, err
		}
		labels, err = numpy.FromNpyFile(labelsPath)
	}
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "loading dataset labels")
	}
	return images, labels, nil
}

// npyFallback returns npyPath and true if filePath doesn't exist but npyPath does.
func npyFallback(filePath, npyPath string) (string, bool, error) {
	exists, err := fsutil.FileExists(filePath)
	if err != nil || exists {
		return "", false, err
	}
	exists, err = fsutil.FileExists(npyPath)
	return npyPath, exists, err
}
