// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package transforms

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/gomlx/imgdataset/internal/testimages"
	"github.com/gomlx/imgdataset/pkg/imageio"
	"github.com/gomlx/imgdataset/pkg/support/fsutil"
	"github.com/gomlx/imgdataset/pkg/walker"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// listFiles returns the relative paths of all regular files under root, sorted.
func listFiles(t *testing.T, root string) []string {
	var files []string
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, filepath.ToSlash(must.M1(filepath.Rel(root, p))))
		}
		return nil
	})
	require.NoError(t, err)
	sort.Strings(files)
	return files
}

func TestRename(t *testing.T) {
	root := t.TempDir()
	source := filepath.Join(root, "source")
	testimages.Tree(source, 4, 4, "x.jpg", "a/b.jpg", "a/c.png", "a/deep/d.jpg", "e/f.jpg", "notes.txt")
	target := filepath.Join(root, "renamed")

	n, err := Run(Rename{}, source, target, walker.DefaultFilter)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	// One counter for the whole tree: 1..5 with no gaps, sub-directories mirrored.
	assert.Equal(t, []string{"1.jpg", "2.png", "3.jpg", "4.jpg", "5.jpg"}, baseNames(listFiles(t, target)))
	// Sorted by number: the walk visits "a", "e" and then "x.jpg".
	assert.Equal(t, []string{"a/1.jpg", "a/2.png", "a/deep/3.jpg", "e/4.jpg", "5.jpg"}, sortedByNumber(listFiles(t, target)))

	// Contents and modification times are preserved.
	srcInfo := must.M1(os.Stat(filepath.Join(source, "x.jpg")))
	dstInfo := must.M1(os.Stat(filepath.Join(target, "5.jpg")))
	assert.Equal(t, srcInfo.Size(), dstInfo.Size())
	assert.True(t, srcInfo.ModTime().Equal(dstInfo.ModTime()))

	// A second run starts again from 1 and overwrites.
	n, err = Run(Rename{}, source, target, walker.Extensions(".png"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.FileExists(t, filepath.Join(target, "a", "1.png"))

	// Rename requires a distinct target.
	_, err = Run(Rename{}, source, "", walker.DefaultFilter)
	require.Error(t, err)
	_, err = Run(Rename{}, source, source+"/", walker.DefaultFilter)
	require.Error(t, err)
}

// baseNames returns the sorted base names of the paths.
func baseNames(paths []string) []string {
	names := make([]string, len(paths))
	for i, p := range paths {
		names[i] = filepath.Base(p)
	}
	sort.Strings(names)
	return names
}

// sortedByNumber sorts the paths by the number in their base name.
func sortedByNumber(paths []string) []string {
	sorted := append([]string(nil), paths...)
	sort.Slice(sorted, func(i, j int) bool {
		return filepath.Base(sorted[i]) < filepath.Base(sorted[j])
	})
	return sorted
}

func TestMerge(t *testing.T) {
	root := t.TempDir()
	source := filepath.Join(root, "source")
	testimages.Tree(source, 4, 4, "A/1.jpg", "A/2.jpg", "B/1.jpg", "B/2.jpg", "B/3.jpg")
	target := filepath.Join(root, "merged")

	n, err := Run(Merge{}, source, target, walker.DefaultFilter)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []string{"1.jpg", "2.jpg", "3.jpg", "4.jpg", "5.jpg"}, listFiles(t, target))

	// Parallel walk: same set of names.
	target = filepath.Join(root, "merged_parallel")
	n, err = Run(Merge{}, source, target, walker.DefaultFilter, walker.Parallelism(2))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []string{"1.jpg", "2.jpg", "3.jpg", "4.jpg", "5.jpg"}, listFiles(t, target))

	// Files without extension.
	noExtSource := filepath.Join(root, "noext")
	testimages.Tree(noExtSource, 2, 2, "x/README", "y/LICENSE", "y/skip.png")
	target = filepath.Join(root, "merged_noext")
	n, err = Run(Merge{}, noExtSource, target, walker.NoExtension)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"1", "2"}, listFiles(t, target))
}

func TestTargetInsideSource(t *testing.T) {
	root := t.TempDir()
	source := filepath.Join(root, "source")
	testimages.Tree(source, 4, 4, "A/1.jpg", "A/2.jpg", "B/1.jpg", "B/2.jpg", "B/3.jpg")

	// Merge into a sub-directory of the source: the outputs are not read back.
	merged := filepath.Join(source, "merged")
	n, err := Run(Merge{}, source, merged, walker.DefaultFilter)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []string{"1.jpg", "2.jpg", "3.jpg", "4.jpg", "5.jpg"}, listFiles(t, merged))

	// A second run still only sees the original 5 files, now with "merged" in the tree.
	n, err = Run(Merge{}, source, merged, walker.DefaultFilter, walker.Parallelism(2))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	// Rename mirrors the tree but doesn't recurse into its own target.
	renamed := filepath.Join(source, "out")
	n, err = Run(Rename{}, source, renamed, walker.DefaultFilter)
	require.NoError(t, err)
	// "merged" is a regular sub-directory for this run.
	assert.Equal(t, 10, n)
	assert.NoDirExists(t, filepath.Join(renamed, "out"))
	assert.Len(t, listFiles(t, renamed), 10)
}

func TestMissingSource(t *testing.T) {
	root := t.TempDir()
	_, err := Run(Merge{}, filepath.Join(root, "missing"), filepath.Join(root, "target"), walker.DefaultFilter)
	require.Error(t, err)
	assert.True(t, errors.Is(err, fsutil.ErrMissingFolder), "got %v", err)
}

func TestReshape(t *testing.T) {
	root := t.TempDir()
	source := filepath.Join(root, "source")
	testimages.Tree(source, 40, 20, "a/1.png", "b/2.jpg")
	target := filepath.Join(root, "reshaped")

	n, err := Run(Reshape{Height: 10, Width: 15}, source, target, walker.DefaultFilter)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	for _, p := range []string{"a/1.png", "b/2.jpg"} {
		w, h := testimages.Size(filepath.Join(target, p))
		assert.Equal(t, 15, w, p)
		assert.Equal(t, 10, h, p)
	}
	// The format is preserved.
	_, format, err := imageio.Open(filepath.Join(target, "b", "2.jpg"))
	require.NoError(t, err)
	assert.Equal(t, imaging.JPEG, format)

	// In place.
	n, err = Run(Reshape{Height: 5, Width: 5}, target, "", walker.DefaultFilter)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	w, h := testimages.Size(filepath.Join(target, "a", "1.png"))
	assert.Equal(t, []int{5, 5}, []int{w, h})

	_, err = Run(Reshape{Height: 0, Width: 5}, source, target, walker.DefaultFilter)
	require.Error(t, err)
}

func TestCrop(t *testing.T) {
	root := t.TempDir()
	source := filepath.Join(root, "source")
	testimages.Write(filepath.Join(source, "square.png"), 100, 100)
	target := filepath.Join(root, "cropped")

	n, err := Run(Crop{Height: 55, Width: 55}, source, target, walker.DefaultFilter)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	w, h := testimages.Size(filepath.Join(target, "square.png"))
	assert.Equal(t, 55, w)
	assert.Equal(t, 55, h)

	// Larger than the source in either axis fails.
	for _, op := range []Crop{{Height: 101, Width: 50}, {Height: 50, Width: 101}} {
		_, err = Run(op, source, filepath.Join(root, "oversize"), walker.DefaultFilter)
		require.Error(t, err, "%s", op)
		assert.True(t, errors.Is(err, ErrInvalidCropSize), "%s: got %v", op, err)
	}
}

func TestCropOffsetsPerAxis(t *testing.T) {
	// Non-square image with a single marked pixel at (row=15, column=35): cropping 10x20 centered
	// uses top=(30-10)/2=10 and left=(60-20)/2=20, so the pixel lands at (row=5, column=15).
	img := image.NewNRGBA(image.Rect(0, 0, 60, 30))
	img.SetNRGBA(35, 15, color.NRGBA{R: 255, A: 255})
	cropped, err := Crop{Height: 10, Width: 20}.crop(img)
	require.NoError(t, err)
	require.Equal(t, image.Pt(20, 10), cropped.Bounds().Size())
	r, _, _, _ := cropped.At(15, 5).RGBA()
	assert.Equal(t, uint32(0xFFFF), r)

	// Images with bounds not starting at the origin.
	sub := img.SubImage(image.Rect(10, 5, 60, 30))
	cropped, err = Crop{Height: 25, Width: 50}.crop(sub)
	require.NoError(t, err)
	r, _, _, _ = cropped.At(25, 10).RGBA()
	assert.Equal(t, uint32(0xFFFF), r)
}

func TestConvertFormat(t *testing.T) {
	root := t.TempDir()
	source := filepath.Join(root, "source")
	testimages.Tree(source, 8, 6, "photo.jpg", "sub/other.jpeg")
	target := filepath.Join(root, "converted")

	n, err := Run(ConvertFormat{NewExtension: ".png"}, source, target, walker.DefaultFilter)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"photo.png", "sub/other.png"}, listFiles(t, target))
	_, format, err := imageio.Open(filepath.Join(target, "photo.png"))
	require.NoError(t, err)
	assert.Equal(t, imaging.PNG, format)
	// Source untouched when converting to a different tree.
	assert.Equal(t, []string{"photo.jpg", "sub/other.jpeg"}, listFiles(t, source))

	// In place: no residual source-format files.
	n, err = Run(ConvertFormat{NewExtension: ".gif"}, target, target, walker.Extensions(".png"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"photo.gif", "sub/other.gif"}, listFiles(t, target))

	for _, ext := range []string{"", "png", ".webp"} {
		_, err = Run(ConvertFormat{NewExtension: ext}, source, target, walker.DefaultFilter)
		require.Error(t, err, "extension %q", ext)
	}
}

func TestGrayscale(t *testing.T) {
	root := t.TempDir()
	source := filepath.Join(root, "source")
	testimages.Tree(source, 6, 4, "a.png", "b.jpg")
	target := filepath.Join(root, "gray")

	n, err := Run(Grayscale{}, source, target, walker.DefaultFilter)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	for _, name := range []string{"a.png", "b.jpg"} {
		img, _, err := imageio.Open(filepath.Join(target, name))
		require.NoError(t, err)
		assert.Equal(t, image.Pt(6, 4), img.Bounds().Size())
		assert.Equal(t, color.GrayModel, img.ColorModel(), name)
	}
}

func TestDecodeError(t *testing.T) {
	root := t.TempDir()
	source := filepath.Join(root, "source")
	require.NoError(t, os.MkdirAll(source, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(source, "broken.jpg"), []byte("not a jpeg"), 0644))
	for _, op := range []Operation{Reshape{Height: 2, Width: 2}, Crop{Height: 1, Width: 1}, Grayscale{},
		ConvertFormat{NewExtension: ".png"}} {
		_, err := Run(op, source, filepath.Join(root, "target"), walker.DefaultFilter)
		require.Error(t, err, "%s", op)
		assert.True(t, errors.Is(err, imageio.ErrDecode), "%s: got %v", op, err)
		assert.Contains(t, err.Error(), "broken.jpg")
	}

	// Pure copies don't decode.
	n, err := Run(Rename{}, source, filepath.Join(root, "renamed"), walker.DefaultFilter)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestToGray(t *testing.T) {
	img := testimages.New(3, 2)
	gray := ToGray(img.SubImage(image.Rect(1, 0, 3, 2)))
	assert.Equal(t, image.Rect(0, 0, 2, 2), gray.Bounds())
	assert.Equal(t, color.GrayModel.Convert(img.At(1, 0)), gray.At(0, 0))

	assert.Same(t, gray, ToGray(gray))
}
