// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package walker implements the recursive descent over a source directory tree, optionally mirroring
// its structure into a target tree, and calling an action for each file accepted by a Filter.
//
// The traversal is depth-first and fail-fast: the first error aborts the walk. Entries are visited
// in the order returned by os.ReadDir, which happens to be lexical, but callers should not rely
// on any particular order.
package walker

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gomlx/imgdataset/internal/workerspool"
	"github.com/gomlx/imgdataset/pkg/support/fsutil"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// File is passed to the Action for each file accepted by the Filter.
type File struct {
	// SourceDir is the directory where the file is.
	SourceDir string

	// TargetDir is the directory where the output should be written. It is "" if the walk has no target.
	TargetDir string

	// Name of the file, without the directory.
	Name string

	// Suffix is the filter suffix that matched Name, "" for the NoExtension filter.
	Suffix string

	// Counter shared by the whole walk. Actions must call Counter.Next exactly once per file.
	Counter *Counter
}

// SourcePath returns the full path of the file.
func (f File) SourcePath() string { return filepath.Join(f.SourceDir, f.Name) }

// TargetPath returns the path for name in the target directory.
func (f File) TargetPath(name string) string { return filepath.Join(f.TargetDir, name) }

// Stem returns the file name without the matched suffix.
func (f File) Stem() string { return f.Name[:len(f.Name)-len(f.Suffix)] }

// Action is called for every accepted file. An error aborts the walk.
type Action func(file File) error

type config struct {
	flat     bool
	pool     *workerspool.Pool
	progress string
	announce bool
}

// Option configures Walk.
type Option func(cfg *config)

// Flat makes every file share the top-level target directory, instead of mirroring the source sub-directories.
func Flat() Option {
	return func(cfg *config) { cfg.flat = true }
}

// Parallelism processes sibling sub-directories concurrently, using up to n extra goroutines.
// A negative n means unlimited and 0 (the default) means sequential.
//
// The Counter is still handed out one number at a time, but the numbers assigned to files in different
// sub-directories then depend on scheduling.
func Parallelism(n int) Option {
	return func(cfg *config) {
		if n == 0 {
			cfg.pool = nil
			return
		}
		cfg.pool = workerspool.New(n)
	}
}

// WithProgressBar displays a spinner with the given description and the number of files processed.
func WithProgressBar(description string) Option {
	return func(cfg *config) { cfg.progress = description }
}

// Announce logs (klog.Infof) when the top-level target directory has to be created. It is on by default.
func Announce(announce bool) Option {
	return func(cfg *config) { cfg.announce = announce }
}

// Walk visits sourceDir recursively, calling action for every file accepted by filter.
//
// sourceDir must exist, otherwise it fails with an error wrapping fsutil.ErrMissingFolder.
// If targetDir is not empty it is created if needed, along with one sub-directory for each sub-directory
// of sourceDir (unless the Flat option is given).
//
// The same counter is used for the whole tree: it is never reset during the walk.
//
// If targetDir is inside sourceDir, it is not visited.
func Walk(sourceDir, targetDir string, filter Filter, counter *Counter, action Action, opts ...Option) error {
	cfg := config{announce: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	var err error
	if sourceDir, err = fsutil.NormalizeDir(sourceDir); err != nil {
		return err
	}
	if targetDir, err = fsutil.NormalizeDir(targetDir); err != nil {
		return err
	}
	if err = fsutil.EnsureDir(sourceDir, true, false); err != nil {
		return errors.WithMessagef(err, "source directory")
	}
	if targetDir != "" {
		if err = fsutil.EnsureDir(targetDir, false, cfg.announce); err != nil {
			return errors.WithMessagef(err, "target directory")
		}
	}

	w := &walk{cfg: cfg, filter: filter, counter: counter, action: action}
	w.targetRoot = nestedTarget(sourceDir, targetDir)
	if cfg.progress != "" {
		w.bar = progressbar.NewOptions(-1,
			progressbar.OptionSetDescription(cfg.progress),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("files"),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionClearOnFinish(),
		)
		defer func() { _ = w.bar.Finish() }()
	}
	w.dir(sourceDir, targetDir)
	return w.firstErr
}

// nestedTarget returns targetDir expressed as a path under sourceDir, so it can be compared to the
// paths built while walking. It returns "" if targetDir is not strictly inside sourceDir.
func nestedTarget(sourceDir, targetDir string) string {
	if targetDir == "" {
		return ""
	}
	absSource, err := filepath.Abs(sourceDir)
	if err != nil {
		return ""
	}
	absTarget, err := filepath.Abs(targetDir)
	if err != nil {
		return ""
	}
	rel, err := filepath.Rel(absSource, absTarget)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ""
	}
	return filepath.Join(sourceDir, rel)
}

// walk holds the state shared by all directories of one Walk call.
type walk struct {
	cfg     config
	filter  Filter
	counter *Counter
	action  Action
	bar     *progressbar.ProgressBar

	// targetRoot is skipped if found while walking. Empty when working in place or without target.
	targetRoot string

	mu       sync.Mutex
	firstErr error
}

func (w *walk) setErr(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.firstErr == nil {
		w.firstErr = err
	}
}

func (w *walk) failed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.firstErr != nil
}

// dir processes sourceDir, whose target directory already exists.
func (w *walk) dir(sourceDir, targetDir string) {
	entries, err := os.ReadDir(sourceDir)
	if err != nil {
		w.setErr(errors.Wrapf(err, "failed to list directory %q", sourceDir))
		return
	}
	klog.V(1).Infof("walking %q (%d entries)", sourceDir, len(entries))

	var wg sync.WaitGroup
	for _, entry := range entries {
		if w.failed() {
			break
		}
		name := entry.Name()
		sourcePath := filepath.Join(sourceDir, name)
		isDir := entry.IsDir()
		if entry.Type()&os.ModeSymlink != 0 {
			info, err := os.Stat(sourcePath)
			if err != nil {
				w.setErr(errors.Wrapf(err, "failed to follow symbolic link %q", sourcePath))
				break
			}
			isDir = info.IsDir()
		}

		if isDir {
			if w.targetRoot != "" && sourcePath == w.targetRoot {
				klog.V(1).Infof("skipping target directory %q inside the source", sourcePath)
				continue
			}
			childTarget := targetDir
			if targetDir != "" && !w.cfg.flat {
				childTarget = filepath.Join(targetDir, name)
				if err := fsutil.EnsureDir(childTarget, false, false); err != nil {
					w.setErr(err)
					break
				}
			}
			wg.Add(1)
			w.cfg.pool.RunOrStart(&wg, func() { w.dir(sourcePath, childTarget) })
			continue
		}

		suffix, ok := w.filter.Match(name)
		if !ok {
			klog.V(2).Infof("skipping %q", sourcePath)
			continue
		}
		err := w.action(File{
			SourceDir: sourceDir,
			TargetDir: targetDir,
			Name:      name,
			Suffix:    suffix,
			Counter:   w.counter,
		})
		if err != nil {
			w.setErr(errors.WithMessagef(err, "processing %q", sourcePath))
			break
		}
		klog.V(2).Infof("processed %q", sourcePath)
		if w.bar != nil {
			_ = w.bar.Add(1)
		}
	}

	if w.cfg.pool.IsEnabled() {
		w.cfg.pool.WorkerIsAsleep()
		wg.Wait()
		w.cfg.pool.WorkerRestarted()
	} else {
		wg.Wait()
	}
}
