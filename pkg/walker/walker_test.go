// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package walker

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/gomlx/imgdataset/pkg/support/fsutil"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilter(t *testing.T) {
	assert.True(t, matches(NoExtension, "README"))
	assert.False(t, matches(NoExtension, "README.txt"))
	assert.True(t, matches(NoExtension, ".bashrc"))
	assert.False(t, matches(NoExtension, ".config.yaml"))
	assert.True(t, NoExtension.IsNoExtension())
	assert.Nil(t, NoExtension.Suffixes())

	suffix, ok := DefaultFilter.Match("cat.jpeg")
	assert.True(t, ok)
	assert.Equal(t, ".jpeg", suffix)
	assert.False(t, matches(DefaultFilter, "cat.JPG"), "matching is case-sensitive")
	assert.False(t, matches(DefaultFilter, "README"))

	// First configured suffix wins.
	suffix, ok = Extensions(".gz", ".tar.gz").Match("a.tar.gz")
	assert.True(t, ok)
	assert.Equal(t, ".gz", suffix)
	suffix, ok = Extensions(".tar.gz", ".gz").Match("a.tar.gz")
	assert.True(t, ok)
	assert.Equal(t, ".tar.gz", suffix)

	require.Panics(t, func() { Extensions() })
	require.Panics(t, func() { Extensions(".jpg", "") })
	assert.Equal(t, ".jpg,.jpeg,.png", DefaultFilter.String())
}

func matches(f Filter, name string) bool {
	_, ok := f.Match(name)
	return ok
}

func TestExt(t *testing.T) {
	assert.Equal(t, "", Ext("README"))
	assert.Equal(t, ".txt", Ext("README.txt"))
	assert.Equal(t, ".gz", Ext("a.tar.gz"))
	assert.Equal(t, "", Ext(".bashrc"))
	assert.Equal(t, ".yaml", Ext(".config.yaml"))
}

func TestCounter(t *testing.T) {
	c := NewCounter()
	assert.Equal(t, 0, c.Count())
	assert.Equal(t, 1, c.Next())
	assert.Equal(t, 2, c.Next())
	assert.Equal(t, 2, c.Count())

	// Concurrent use never repeats a number.
	c = NewCounter()
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[int]bool)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				n := c.Next()
				mu.Lock()
				seen[n] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 800)
	assert.Equal(t, 800, c.Count())
}

// touchTree creates empty files with the given relative paths under root.
func touchTree(root string, relativePaths ...string) {
	for _, p := range relativePaths {
		fullPath := filepath.Join(root, filepath.FromSlash(p))
		must.M(os.MkdirAll(filepath.Dir(fullPath), 0755))
		must.M(os.WriteFile(fullPath, []byte(p), 0644))
	}
}

// recordAction records "sourceRel -> targetRel" for each file, relative to the given roots.
func recordAction(sourceRoot, targetRoot string, mu *sync.Mutex, got *[]string) Action {
	return func(f File) error {
		n := f.Counter.Next()
		src := must.M1(filepath.Rel(sourceRoot, f.SourcePath()))
		tgt := ""
		if f.TargetDir != "" {
			tgt = must.M1(filepath.Rel(targetRoot, f.TargetDir))
		}
		mu.Lock()
		defer mu.Unlock()
		*got = append(*got, filepath.ToSlash(src)+" -> "+filepath.ToSlash(tgt)+" "+f.Suffix+" "+string(rune('0'+n)))
		return nil
	}
}

func TestWalk(t *testing.T) {
	root := t.TempDir()
	source := filepath.Join(root, "source")
	touchTree(source, "a.jpg", "b.txt", "sub/c.png", "sub/deeper/d.jpg", "sub/deeper/README", "z.jpeg")
	must.M(os.MkdirAll(filepath.Join(source, "empty"), 0755))

	t.Run("Mirror", func(t *testing.T) {
		target := filepath.Join(root, "mirror")
		var mu sync.Mutex
		var got []string
		counter := NewCounter()
		require.NoError(t, Walk(source+"/", target, DefaultFilter, counter, recordAction(source, target, &mu, &got)))
		assert.Equal(t, []string{
			"a.jpg -> . .jpg 1",
			"sub/c.png -> sub .png 2",
			"sub/deeper/d.jpg -> sub/deeper .jpg 3",
			"z.jpeg -> . .jpeg 4",
		}, got)
		assert.Equal(t, 4, counter.Count())
		// Sub-directories are mirrored, including empty ones.
		for _, dir := range []string{"sub", "sub/deeper", "empty"} {
			info, err := os.Stat(filepath.Join(target, dir))
			require.NoError(t, err)
			assert.True(t, info.IsDir())
		}
	})

	t.Run("Flat", func(t *testing.T) {
		target := filepath.Join(root, "flat")
		var mu sync.Mutex
		var got []string
		require.NoError(t, Walk(source, target, Extensions(".jpg"), NewCounter(),
			recordAction(source, target, &mu, &got), Flat()))
		assert.Equal(t, []string{
			"a.jpg -> . .jpg 1",
			"sub/deeper/d.jpg -> . .jpg 2",
		}, got)
		entries := must.M1(os.ReadDir(target))
		assert.Empty(t, entries)
	})

	t.Run("NoTarget", func(t *testing.T) {
		var mu sync.Mutex
		var got []string
		require.NoError(t, Walk(source, "", NoExtension, NewCounter(), recordAction(source, "", &mu, &got)))
		assert.Equal(t, []string{"sub/deeper/README ->   1"}, got)
	})

	t.Run("Parallel", func(t *testing.T) {
		parallelSource := filepath.Join(root, "parallel")
		var paths []string
		for _, dir := range []string{"a", "b", "c", "d"} {
			for _, name := range []string{"1.jpg", "2.jpg", "3.jpg"} {
				paths = append(paths, dir+"/"+name)
			}
		}
		touchTree(parallelSource, paths...)
		var mu sync.Mutex
		var numbers []int
		counter := NewCounter()
		err := Walk(parallelSource, filepath.Join(root, "parallel_target"), DefaultFilter, counter, func(f File) error {
			n := f.Counter.Next()
			mu.Lock()
			defer mu.Unlock()
			numbers = append(numbers, n)
			return nil
		}, Parallelism(3), Flat())
		require.NoError(t, err)
		sort.Ints(numbers)
		assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, numbers)
	})
}

func TestNestedTarget(t *testing.T) {
	root := t.TempDir()
	source := filepath.Join(root, "source")
	assert.Equal(t, filepath.Join(source, "out"), nestedTarget(source, filepath.Join(source, "out")))
	assert.Equal(t, filepath.Join(source, "a", "b"), nestedTarget(source, filepath.Join(source, "a", "b")+"/"))
	assert.Empty(t, nestedTarget(source, source))
	assert.Empty(t, nestedTarget(source, ""))
	assert.Empty(t, nestedTarget(source, filepath.Join(root, "other")))
	assert.Empty(t, nestedTarget(source, filepath.Join(root, "source_2")))

	// Relative source with an absolute target.
	t.Chdir(root)
	assert.Equal(t, filepath.Join("source", "out"), nestedTarget("source", filepath.Join(source, "out")))
}

func TestWalkErrors(t *testing.T) {
	root := t.TempDir()
	err := Walk(filepath.Join(root, "missing"), filepath.Join(root, "target"), DefaultFilter, NewCounter(),
		func(File) error { return nil })
	require.Error(t, err)
	assert.True(t, errors.Is(err, fsutil.ErrMissingFolder), "got %v", err)
	_, statErr := os.Stat(filepath.Join(root, "target"))
	assert.True(t, os.IsNotExist(statErr), "target should not be created if the source is missing")

	// Fail-fast: the first error aborts the walk.
	source := filepath.Join(root, "source")
	touchTree(source, "1.jpg", "2.jpg", "3.jpg")
	errBoom := errors.New("boom")
	calls := 0
	err = Walk(source, "", DefaultFilter, NewCounter(), func(f File) error {
		calls++
		f.Counter.Next()
		if f.Name == "2.jpg" {
			return errBoom
		}
		return nil
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errBoom))
	assert.Contains(t, err.Error(), "2.jpg")
	assert.Equal(t, 2, calls)
}
