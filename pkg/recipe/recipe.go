// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package recipe runs a sequence of steps (download, transforms and dataset building) described in a YAML file.
//
// Example:
//
//	parallelism: 4
//	steps:
//	  - op: download
//	    links: ./links      # Directory with one <keyword>/links.txt per keyword.
//	    target: ./raw
//	  - op: rename
//	    source: ./raw
//	    target: ./renamed
//	    extensions: [".jpg", ".jpeg", ".png"]
//	  - op: reshape
//	    source: ./renamed
//	    height: 64
//	    width: 64
//	  - op: dataset
//	    source: ./renamed
//	    target: ./dataset
//	    labels: true
//	    dtype: float32
//	    npy: true           # Also writes data.npy and labels.npy.
//	  - op: export          # Writes the dataset tensors back to PNG files, to inspect them.
//	    source: ./dataset
//	    target: ./preview
//
// Relative paths are resolved from the directory of the recipe file.
package recipe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gomlx/imgdataset/pkg/dataset"
	"github.com/gomlx/imgdataset/pkg/links"
	"github.com/gomlx/imgdataset/pkg/support/fsutil"
	"github.com/gomlx/imgdataset/pkg/transforms"
	"github.com/gomlx/imgdataset/pkg/walker"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"
)

// Names of the step operations.
const (
	OpRename    = "rename"
	OpMerge     = "merge"
	OpReshape   = "reshape"
	OpCrop      = "crop"
	OpConvert   = "convert"
	OpGrayscale = "grayscale"
	OpDataset   = "dataset"
	OpDownload  = "download"
	OpExport    = "export"
)

// Recipe is a list of steps run in order.
type Recipe struct {
	// Parallelism for the walks and downloads of every step, see walker.Parallelism.
	Parallelism int `yaml:"parallelism"`

	Steps []Step `yaml:"steps"`

	// BaseDir is used to resolve the relative paths of the steps. Load sets it to the recipe's directory.
	BaseDir string `yaml:"-"`
}

// Step is one operation of a Recipe. Which fields are used depends on Op.
type Step struct {
	Op     string `yaml:"op"`
	Source string `yaml:"source"`
	Target string `yaml:"target"`

	// Extensions accepted, in order of preference. Empty means walker.DefaultFilter.
	Extensions []string `yaml:"extensions"`

	// NoExtension selects only files without extension, it excludes Extensions.
	NoExtension bool `yaml:"no_extension"`

	// Height and Width for reshape and crop.
	Height int `yaml:"height"`
	Width  int `yaml:"width"`

	// NewExtension for convert, e.g. ".png".
	NewExtension string `yaml:"new_extension"`

	// Labels, Flatten, DType, Channels and MaxValue configure dataset. MaxValue is also used by export.
	Labels   bool    `yaml:"labels"`
	Flatten  bool    `yaml:"flatten"`
	DType    string  `yaml:"dtype"`
	Channels int     `yaml:"channels"`
	MaxValue float64 `yaml:"max_value"`

	// Npy also saves the dataset as .npy files, see dataset.WithNpy.
	Npy bool `yaml:"npy"`

	// Links is the directory with the links files for download, see links.LoadDir.
	Links string `yaml:"links"`

	// Dedupe removes repeated links before downloading.
	Dedupe bool `yaml:"dedupe"`
}

// String implements fmt.Stringer.
func (s Step) String() string {
	if s.Target == "" {
		return fmt.Sprintf("%s(%s)", s.Op, s.Source)
	}
	return fmt.Sprintf("%s(%s -> %s)", s.Op, s.Source, s.Target)
}

// Load reads and validates the recipe in filePath.
func Load(filePath string) (*Recipe, error) {
	filePath, err := fsutil.ReplaceTildeInDir(filePath)
	if err != nil {
		return nil, err
	}
	contents, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read recipe")
	}
	r, err := Parse(bytes.NewReader(contents))
	if err != nil {
		return nil, errors.WithMessagef(err, "recipe %q", filePath)
	}
	r.BaseDir = filepath.Dir(filePath)
	return r, nil
}

// Parse decodes and validates a recipe. Unknown fields are errors.
func Parse(reader io.Reader) (*Recipe, error) {
	dec := yaml.NewDecoder(reader)
	dec.KnownFields(true)
	r := &Recipe{}
	if err := dec.Decode(r); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrapf(err, "failed to parse recipe")
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate checks that every step is well-formed, before anything is run.
func (r *Recipe) Validate() error {
	if len(r.Steps) == 0 {
		return errors.New("recipe has no steps")
	}
	for ii, step := range r.Steps {
		if err := step.validate(); err != nil {
			return errors.WithMessagef(err, "step #%d (%s)", ii+1, step.Op)
		}
	}
	return nil
}

func (s Step) validate() error {
	switch s.Op {
	case OpDownload:
		if s.Links == "" || s.Target == "" {
			return errors.New("download requires links and target")
		}
		return nil
	case OpDataset:
		if s.Source == "" || s.Target == "" {
			return errors.New("dataset requires source and target")
		}
		if _, err := s.collector(); err != nil {
			return err
		}
	case OpExport:
		if s.Source == "" || s.Target == "" {
			return errors.New("export requires source and target")
		}
		if s.MaxValue < 0 {
			return errors.Errorf("invalid max_value %g", s.MaxValue)
		}
	case OpRename, OpMerge, OpReshape, OpCrop, OpConvert, OpGrayscale:
		if s.Source == "" {
			return errors.Errorf("%s requires source", s.Op)
		}
		if (s.Op == OpRename || s.Op == OpMerge) && s.Target == "" {
			return errors.Errorf("%s requires target", s.Op)
		}
		op, err := s.Operation()
		if err != nil {
			return err
		}
		if err = transforms.Validate(op); err != nil {
			return err
		}
	default:
		return errors.Errorf("unknown op %q", s.Op)
	}
	if s.NoExtension && len(s.Extensions) > 0 {
		return errors.New("no_extension and extensions are mutually exclusive")
	}
	for _, ext := range s.Extensions {
		if ext == "" {
			return errors.New("empty extension in extensions")
		}
	}
	return nil
}

// Operation returns the transforms.Operation of a transform step.
func (s Step) Operation() (transforms.Operation, error) {
	switch s.Op {
	case OpRename:
		return transforms.Rename{}, nil
	case OpMerge:
		return transforms.Merge{}, nil
	case OpReshape:
		return transforms.Reshape{Height: s.Height, Width: s.Width}, nil
	case OpCrop:
		return transforms.Crop{Height: s.Height, Width: s.Width}, nil
	case OpConvert:
		return transforms.ConvertFormat{NewExtension: s.NewExtension}, nil
	case OpGrayscale:
		return transforms.Grayscale{}, nil
	}
	return nil, errors.Errorf("%q is not a transform", s.Op)
}

// collector returns the validated dataset.Collector of a dataset step, without walk options.
func (s Step) collector() (*dataset.Collector, error) {
	collector := dataset.NewCollector(s.Filter()).
		WithLabels(s.Labels).
		Flatten(s.Flatten).
		Channels(s.Channels).
		MaxValue(s.MaxValue)
	if s.DType != "" {
		dtype, err := dataset.ParseDType(s.DType)
		if err != nil {
			return nil, err
		}
		collector.DType(dtype)
	}
	if err := collector.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "invalid dataset configuration")
	}
	return collector, nil
}

// Filter returns the walker.Filter configured for the step.
func (s Step) Filter() walker.Filter {
	if s.NoExtension {
		return walker.NoExtension
	}
	if len(s.Extensions) == 0 {
		return walker.DefaultFilter
	}
	return walker.Extensions(s.Extensions...)
}

// Result of one step.
type Result struct {
	Step Step

	// Processed is the number of files transformed, collected or downloaded.
	Processed int
}

// Run executes the steps in order, stopping at the first error. It returns the results of the
// steps that completed.
func (r *Recipe) Run(ctx context.Context) (results []Result, err error) {
	for ii, step := range r.Steps {
		if err = ctx.Err(); err != nil {
			return results, errors.Wrapf(err, "recipe interrupted before step #%d", ii+1)
		}
		step = r.resolve(step)
		klog.V(1).Infof("recipe step #%d: %s", ii+1, step)
		var processed int
		processed, err = r.runStep(ctx, step)
		if err != nil {
			return results, errors.WithMessagef(err, "step #%d %s", ii+1, step)
		}
		results = append(results, Result{Step: step, Processed: processed})
	}
	return results, nil
}

// resolve the relative paths of the step against BaseDir.
func (r *Recipe) resolve(step Step) Step {
	resolvePath := func(p string) string {
		if p == "" || r.BaseDir == "" || filepath.IsAbs(p) || p[0] == '~' {
			return p
		}
		return filepath.Join(r.BaseDir, p)
	}
	step.Source = resolvePath(step.Source)
	step.Target = resolvePath(step.Target)
	step.Links = resolvePath(step.Links)
	return step
}

func (r *Recipe) runStep(ctx context.Context, step Step) (int, error) {
	walkOpts := []walker.Option{walker.Parallelism(r.Parallelism)}
	switch step.Op {
	case OpDownload:
		l, err := links.LoadDir(step.Links)
		if err != nil {
			return 0, err
		}
		if step.Dedupe {
			l.Dedupe()
		}
		d := &links.Downloader{Parallelism: r.Parallelism}
		report, err := d.Download(ctx, l, step.Target)
		if err != nil {
			return 0, err
		}
		return report.Downloaded, nil

	case OpDataset:
		collector, err := step.collector()
		if err != nil {
			return 0, err
		}
		var persistOpts []dataset.PersistOption
		if step.Npy {
			persistOpts = append(persistOpts, dataset.WithNpy())
		}
		final, err := dataset.Build(collector.WalkOptions(walkOpts...), step.Source, step.Target, persistOpts...)
		if err != nil {
			return 0, err
		}
		return len(final.Images), nil

	case OpExport:
		return dataset.Export(step.Source, step.Target, step.MaxValue)

	default:
		op, err := step.Operation()
		if err != nil {
			return 0, err
		}
		return transforms.Run(op, step.Source, step.Target, step.Filter(), walkOpts...)
	}
}
