// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package dataset collects the images of a directory tree into tensors, along with integer labels
// derived from the directory each image is in, and saves them to disk.
//
// The typical flow is:
//
//	ds, err := dataset.NewCollector(walker.DefaultFilter).WithLabels(true).Collect(sourceDir)
//	final, err := dataset.Finalize(ds)
//	err = dataset.Persist(final.Images, final.Labels, targetDir)
//	err = dataset.SaveEncoding(final.Encoding, targetDir)
//
// Build does all of the above in one call.
package dataset

import (
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/imgdataset/pkg/core/tensors"
	"github.com/gomlx/imgdataset/pkg/core/tensors/images"
	"github.com/gomlx/imgdataset/pkg/imageio"
	"github.com/gomlx/imgdataset/pkg/support/fsutil"
	"github.com/gomlx/imgdataset/pkg/walker"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrEmptyDataset is returned (wrapped) when labels are requested but no image was collected.
var ErrEmptyDataset = errors.New("empty dataset")

// Dataset holds the images collected from a directory tree, in the order they were visited.
type Dataset struct {
	// Images shaped [height, width, channels], or [height*width*channels] if flattened.
	Images []*tensors.Tensor

	// Paths of the image files, parallel to Images.
	Paths []string

	// WithLabels is set if label keys were collected.
	WithLabels bool

	// LabelKeys, parallel to Images, is the key of the directory of each image. Only set if WithLabels.
	LabelKeys []string
}

// Len returns the number of images in the dataset.
func (ds *Dataset) Len() int { return len(ds.Images) }

// LabelKey returns the label key of an image in dirPath: the full directory path with path
// separators replaced by "_".
func LabelKey(dirPath string) string {
	key := filepath.ToSlash(filepath.Clean(dirPath))
	return strings.ReplaceAll(key, "/", "_")
}

// Collector configures the collection of a Dataset. Create it with NewCollector, configure it
// with its methods and run it with Collect.
type Collector struct {
	filter     walker.Filter
	flatten    bool
	withLabels bool
	dtype      dtypes.DType
	channels   int
	maxValue   float64
	walkOpts   []walker.Option
}

// NewCollector returns a Collector for the files accepted by filter.
// By default images are converted to Uint8 tensors, not flattened, and no labels are collected.
func NewCollector(filter walker.Filter) *Collector {
	return &Collector{
		filter:   filter,
		dtype:    dtypes.Uint8,
		channels: images.AutoChannels,
	}
}

// Flatten sets whether each image is flattened to a rank-1 tensor.
// It returns the Collector, so configuration calls can be cascaded.
func (c *Collector) Flatten(flatten bool) *Collector {
	c.flatten = flatten
	return c
}

// WithLabels sets whether a label key is collected for each image, see LabelKey.
// It returns the Collector, so configuration calls can be cascaded.
func (c *Collector) WithLabels(withLabels bool) *Collector {
	c.withLabels = withLabels
	return c
}

// DType of the image tensors. Integer dtypes hold values from 0 to 255, floats from 0 to 1.
// It returns the Collector, so configuration calls can be cascaded.
func (c *Collector) DType(dtype dtypes.DType) *Collector {
	c.dtype = dtype
	return c
}

// Channels forces the number of channels of the image tensors: 1, 3 or 4.
// By default (images.AutoChannels) gray images get 1 channel and the others 3.
// It returns the Collector, so configuration calls can be cascaded.
func (c *Collector) Channels(channels int) *Collector {
	c.channels = channels
	return c
}

// MaxValue is the value of a saturated channel in the image tensors. 0 (the default) uses 255 for
// integer dtypes and 1 for floats, see images.ToTensorConfig.MaxValue.
// It returns the Collector, so configuration calls can be cascaded.
func (c *Collector) MaxValue(v float64) *Collector {
	c.maxValue = v
	return c
}

// WalkOptions are passed to walker.Walk, e.g. walker.Parallelism or walker.WithProgressBar.
// It returns the Collector, so configuration calls can be cascaded.
func (c *Collector) WalkOptions(opts ...walker.Option) *Collector {
	c.walkOpts = append(c.walkOpts, opts...)
	return c
}

// Collect decodes every image under sourceDir accepted by the filter.
//
// It fails on the first image that cannot be decoded (imageio.ErrDecode). No target directory is
// written.
func (c *Collector) Collect(sourceDir string) (ds *Dataset, err error) {
	toTensor, err := c.toTensorConfig()
	if err != nil {
		return nil, err
	}
	ds = &Dataset{WithLabels: c.withLabels}
	if c.withLabels {
		ds.LabelKeys = []string{}
	}
	var mu sync.Mutex
	err = walker.Walk(sourceDir, "", c.filter, walker.NewCounter(), func(file walker.File) error {
		file.Counter.Next()
		imagePath := file.SourcePath()
		img, _, err := imageio.Open(imagePath)
		if err != nil {
			return err
		}
		var t *tensors.Tensor
		err = exceptions.TryCatch[error](func() { t = toTensor.Single(img) })
		if err != nil {
			return errors.WithMessagef(err, "converting %q to a tensor", imagePath)
		}
		if c.flatten {
			t = t.Flatten()
		}
		mu.Lock()
		defer mu.Unlock()
		ds.Images = append(ds.Images, t)
		ds.Paths = append(ds.Paths, imagePath)
		if c.withLabels {
			ds.LabelKeys = append(ds.LabelKeys, LabelKey(file.SourceDir))
		}
		return nil
	}, c.walkOpts...)
	if err != nil {
		return nil, errors.WithMessagef(err, "collecting dataset from %q", sourceDir)
	}
	klog.V(1).Infof("collected %d images from %q", ds.Len(), sourceDir)
	return ds, nil
}

// Validate checks the configuration of the Collector, without touching the file system.
func (c *Collector) Validate() error {
	_, err := c.toTensorConfig()
	return err
}

func (c *Collector) toTensorConfig() (toTensor *images.ToTensorConfig, err error) {
	err = exceptions.TryCatch[error](func() {
		if c.maxValue < 0 {
			exceptions.Panicf("invalid max value %g, it must be positive", c.maxValue)
		}
		toTensor = images.ToTensor(c.dtype).Channels(c.channels)
		if c.maxValue > 0 {
			toTensor.MaxValue(c.maxValue)
		}
	})
	return
}

// Finalized dataset, ready to be persisted.
type Finalized struct {
	// Images as collected.
	Images []*tensors.Tensor

	// Labels is an Int64 tensor shaped [len(Images)], or nil if labels were not collected.
	Labels *tensors.Tensor

	// Encoding maps label keys to the integers in Labels, nil if labels were not collected.
	Encoding *LabelEncoding
}

// Finalize encodes the label keys of ds as integers: the distinct keys are sorted and numbered
// from 0, so the same set of keys always gets the same labels.
//
// It fails with ErrEmptyDataset if labels were collected but there are no images.
func Finalize(ds *Dataset) (*Finalized, error) {
	final := &Finalized{Images: ds.Images}
	if !ds.WithLabels {
		return final, nil
	}
	if ds.Len() == 0 {
		return nil, errors.Wrapf(ErrEmptyDataset, "no images to label")
	}
	if len(ds.LabelKeys) != ds.Len() {
		return nil, errors.Errorf("dataset has %d images but %d label keys", ds.Len(), len(ds.LabelKeys))
	}
	final.Encoding = NewLabelEncoding(ds.LabelKeys)
	labels := make([]int64, len(ds.LabelKeys))
	for ii, key := range ds.LabelKeys {
		label, _ := final.Encoding.Encode(key)
		labels[ii] = int64(label)
	}
	final.Labels = tensors.FromFlatDataAndDimensions(labels, len(labels))
	return final, nil
}

// Build collects the images under sourceDir, finalizes and persists them under targetDir, see Persist.
// If labels are collected, the label encoding is also saved (see SaveEncoding).
func Build(c *Collector, sourceDir, targetDir string, opts ...PersistOption) (*Finalized, error) {
	ds, err := c.Collect(sourceDir)
	if err != nil {
		return nil, err
	}
	final, err := Finalize(ds)
	if err != nil {
		return nil, errors.WithMessagef(err, "finalizing dataset from %q", sourceDir)
	}
	if targetDir, err = fsutil.NormalizeDir(targetDir); err != nil {
		return nil, err
	}
	if err = Persist(final.Images, final.Labels, targetDir, opts...); err != nil {
		return nil, err
	}
	if final.Encoding != nil {
		if err = SaveEncoding(final.Encoding, targetDir); err != nil {
			return nil, err
		}
	}
	return final, nil
}

// SupportedDTypes lists, by name, the dtypes accepted by ParseDType.
var SupportedDTypes = map[string]dtypes.DType{
	"uint8":   dtypes.Uint8,
	"float16": dtypes.Float16,
	"float32": dtypes.Float32,
	"float64": dtypes.Float64,
}

// ParseDType returns the image tensor dtype with the given name (case-insensitive): one of SupportedDTypes.
func ParseDType(name string) (dtypes.DType, error) {
	dtype, found := SupportedDTypes[strings.ToLower(name)]
	if !found {
		return dtypes.InvalidDType, errors.Errorf("unsupported dtype %q for images, use one of %v",
			name, slices.Sorted(maps.Keys(SupportedDTypes)))
	}
	return dtype, nil
}
