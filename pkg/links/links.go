// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package links holds the image URLs to download, grouped by keyword, and downloads them into
// one sub-directory per keyword: the source tree for the transforms and dataset packages.
package links

import (
	"bufio"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gomlx/imgdataset/pkg/support/fsutil"
	"github.com/gomlx/imgdataset/pkg/support/sets"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// FileName is the conventional name of the file listing the URLs of a keyword, inside the keyword's directory.
const FileName = "links.txt"

// Links maps a keyword to the ordered list of URLs of its images.
type Links map[string][]string

// ErrInvalidKeyword is returned (wrapped) for keywords that can't be used as a directory name.
var ErrInvalidKeyword = errors.New("invalid keyword")

// ValidateKeyword checks that keyword names a single directory inside the download root: it can't be
// empty, "." or "..", nor contain a path separator.
func ValidateKeyword(keyword string) error {
	if keyword == "" || keyword == "." || keyword == ".." || strings.ContainsAny(keyword, `/\`) {
		return errors.Wrapf(ErrInvalidKeyword, "%q", keyword)
	}
	return nil
}

// Validate checks every keyword with ValidateKeyword.
func (l Links) Validate() error {
	for _, keyword := range l.Keywords() {
		if err := ValidateKeyword(keyword); err != nil {
			return err
		}
	}
	return nil
}

// Add appends urls to keyword. Keywords are checked by Validate, before downloading or saving.
func (l Links) Add(keyword string, urls ...string) {
	l[keyword] = append(l[keyword], urls...)
}

// Count returns the total number of URLs.
func (l Links) Count() (count int) {
	for _, urls := range l {
		count += len(urls)
	}
	return
}

// Keywords returns the keywords in sorted order.
func (l Links) Keywords() []string {
	return slices.Sorted(maps.Keys(l))
}

// Dedupe removes repeated URLs within each keyword, keeping the first occurrence.
// It returns the number of URLs removed.
func (l Links) Dedupe() (removed int) {
	for keyword, urls := range l {
		seen := sets.Make[string](len(urls))
		unique := urls[:0]
		for _, url := range urls {
			if seen.Has(url) {
				continue
			}
			seen.Insert(url)
			unique = append(unique, url)
		}
		removed += len(urls) - len(unique)
		l[keyword] = slices.Clip(unique)
	}
	if removed > 0 {
		klog.V(1).Infof("%d duplicate links removed", removed)
	}
	return
}

// LoadFile reads the URLs in filePath, one per line. Blank lines and lines starting with "#" are ignored.
func LoadFile(filePath string) (urls []string, err error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open links file")
	}
	defer func() { _ = f.Close() }()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err = scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed reading links file %q", filePath)
	}
	return urls, nil
}

// SaveFile writes the urls to filePath, one per line, overwriting it.
func SaveFile(filePath string, urls []string) error {
	err := fsutil.AtomicWrite(filePath, func(w io.Writer) error {
		for _, url := range urls {
			if _, err := io.WriteString(w, url+"\n"); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.WithMessagef(err, "saving links")
	}
	klog.V(1).Infof("%d links saved to %q", len(urls), filePath)
	return nil
}

// LoadDir reads the links of every keyword with a links file in root: the keyword is the name of the
// sub-directory holding the links.txt file.
func LoadDir(root string) (Links, error) {
	root, err := fsutil.NormalizeDir(root)
	if err != nil {
		return nil, err
	}
	if err = fsutil.EnsureDir(root, true, false); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %q", root)
	}
	l := make(Links)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		filePath := filepath.Join(root, entry.Name(), FileName)
		exists, err := fsutil.FileExists(filePath)
		if err != nil {
			return nil, err
		}
		if !exists {
			continue
		}
		urls, err := LoadFile(filePath)
		if err != nil {
			return nil, err
		}
		l.Add(entry.Name(), urls...)
	}
	return l, nil
}

// SaveDir writes the URLs of each keyword to root/keyword/links.txt, creating the directories as needed.
func SaveDir(l Links, root string) error {
	if err := l.Validate(); err != nil {
		return err
	}
	root, err := fsutil.NormalizeDir(root)
	if err != nil {
		return err
	}
	for _, keyword := range l.Keywords() {
		dir := filepath.Join(root, keyword)
		if err = fsutil.EnsureDir(dir, false, false); err != nil {
			return err
		}
		if err = SaveFile(filepath.Join(dir, FileName), l[keyword]); err != nil {
			return err
		}
	}
	return nil
}
