// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package links

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gomlx/imgdataset/internal/workerspool"
	"github.com/gomlx/imgdataset/pkg/support/fsutil"
	"github.com/gomlx/imgdataset/pkg/support/sets"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// ErrNoLinks is returned (wrapped) when Download is called without any URL.
var ErrNoLinks = errors.New("no links provided")

// FailedListFileName is the file, in the download root, listing the URLs that failed to download.
const FailedListFileName = "failed_list.txt"

// Downloader fetches the images of a Links map. The zero value is ready to use.
type Downloader struct {
	// Client used for the requests. If nil, http.DefaultClient is used.
	Client *http.Client

	// Parallelism is the number of concurrent downloads. 0 (the default) downloads one at a time.
	Parallelism int

	// ShowProgressBar displays the progress as the number of links processed.
	ShowProgressBar bool
}

// Report summarizes a Download.
type Report struct {
	// Downloaded is the number of files written.
	Downloaded int

	// Bytes is the total size of the files written.
	Bytes int64

	// Failed lists the URLs that could not be downloaded, in the order of the keywords (sorted) and their URLs.
	Failed []string
}

// Download fetches every URL of links into root/keyword/<last element of the URL path>.
// URLs of the same keyword with the same name are numbered, e.g. "cat.jpg", "cat-2.jpg".
// Keywords must pass ValidateKeyword.
//
// Failing URLs are not retried and don't stop the download: they are logged, reported and listed
// in root/failed_list.txt. Download only fails if there are no links (ErrNoLinks), if a directory
// can't be created or if ctx is cancelled.
func (d *Downloader) Download(ctx context.Context, links Links, root string) (*Report, error) {
	total := links.Count()
	if total == 0 {
		return nil, errors.Wrapf(ErrNoLinks, "nothing to download into %q", root)
	}
	if err := links.Validate(); err != nil {
		return nil, err
	}
	root, err := fsutil.NormalizeDir(root)
	if err != nil {
		return nil, err
	}
	if err = fsutil.EnsureDir(root, false, true); err != nil {
		return nil, err
	}

	var bar *progressbar.ProgressBar
	if d.ShowProgressBar {
		bar = progressbar.NewOptions(total,
			progressbar.OptionSetDescription("Downloading"),
			progressbar.OptionUseANSICodes(true),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionShowCount(),
			progressbar.OptionSetTheme(progressbar.ThemeUnicode),
		)
		defer func() { _ = bar.Close() }()
	}

	type result struct {
		url  string
		size int64
		err  error
	}
	var results []*result
	var wg sync.WaitGroup
	pool := workerspool.New(d.Parallelism)
	for _, keyword := range links.Keywords() {
		dir := filepath.Join(root, keyword)
		if err = fsutil.EnsureDir(dir, false, false); err != nil {
			wg.Wait()
			return nil, err
		}
		names := sets.Make[string](len(links[keyword]))
		for ii, rawURL := range links[keyword] {
			if err = ctx.Err(); err != nil {
				wg.Wait()
				return nil, errors.Wrapf(err, "download interrupted")
			}
			r := &result{url: rawURL}
			results = append(results, r)
			targetPath := filepath.Join(dir, uniqueName(names, FileNameFor(rawURL, ii+1)))
			wg.Add(1)
			pool.WaitToStart(func() {
				defer wg.Done()
				r.size, r.err = d.fetch(ctx, rawURL, targetPath)
				if bar != nil {
					_ = bar.Add(1)
				}
			})
		}
	}
	wg.Wait()
	if err = ctx.Err(); err != nil {
		return nil, errors.Wrapf(err, "download interrupted")
	}

	report := &Report{}
	for _, r := range results {
		if r.err != nil {
			klog.Warningf("skipping %q: %v", r.url, r.err)
			report.Failed = append(report.Failed, r.url)
			continue
		}
		report.Downloaded++
		report.Bytes += r.size
	}
	klog.Infof("%d images downloaded to %q", report.Downloaded, root)
	if len(report.Failed) > 0 {
		failedPath := filepath.Join(root, FailedListFileName)
		if err = SaveFile(failedPath, report.Failed); err != nil {
			return report, err
		}
		klog.Warningf("failed to download %d images, links saved to %q", len(report.Failed), failedPath)
	}
	return report, nil
}

// FileNameFor returns the name of the downloaded file for rawURL: the last element of its path.
// If the URL has no usable name, "image-{index}" is used.
func FileNameFor(rawURL string, index int) string {
	name := ""
	if u, err := url.Parse(rawURL); err == nil {
		name = path.Base(u.Path)
	}
	if name == "" || name == "." || name == "/" || name == ".." {
		name = fmt.Sprintf("image-%d", index)
	}
	return name
}

// uniqueName returns name, or "{stem}-{n}{ext}" with n = 2, 3, ... if it was already used, and marks
// the returned name as used.
func uniqueName(used sets.Set[string], name string) string {
	unique := name
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 2; used.Has(unique); n++ {
		unique = fmt.Sprintf("%s-%d%s", stem, n, ext)
	}
	used.Insert(unique)
	return unique
}

func (d *Downloader) fetch(ctx context.Context, rawURL, targetPath string) (size int64, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid URL")
	}
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, errors.Wrapf(err, "failed downloading %q", rawURL)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, errors.Errorf("failed downloading %q: %s", rawURL, resp.Status)
	}
	err = fsutil.AtomicWrite(targetPath, func(w io.Writer) error {
		size, err = io.Copy(w, resp.Body)
		return err
	})
	if err != nil {
		return 0, errors.WithMessagef(err, "downloading %q", rawURL)
	}
	klog.V(2).Infof("downloaded %q to %q (%d bytes)", rawURL, targetPath, size)
	return size, nil
}
