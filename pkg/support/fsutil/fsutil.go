// Package fsutil contains utilities for working with the file system.
package fsutil

import (
	"io"
	"os"
	"os/user"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrMissingFolder is returned (wrapped) when a folder that is required to pre-exist is not there.
var ErrMissingFolder = errors.New("missing folder")

// FileExists returns whether the file or directory exists or an error if something went wrong in the filesystem.
func FileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, errors.Wrapf(err, "failed to FileExists(%q)", path)
}

// EnsureDir makes sure the directory dirPath exists.
//
// If it is missing and fatalIfMissing is set, it returns an error wrapping ErrMissingFolder.
// Otherwise, it creates it (including intermediary directories) and, if announce is set, logs a notice.
// It is a no-op if the directory already exists.
func EnsureDir(dirPath string, fatalIfMissing, announce bool) error {
	info, err := os.Stat(dirPath)
	if err == nil {
		if !info.IsDir() {
			return errors.Errorf("path %q exists but it is not a directory", dirPath)
		}
		return nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return errors.Wrapf(err, "failed to check folder %q", dirPath)
	}
	if fatalIfMissing {
		return errors.Wrapf(ErrMissingFolder, "folder %q does not exist", dirPath)
	}
	if err = os.MkdirAll(dirPath, 0755); err != nil {
		return errors.Wrapf(err, "failed to create folder %q", dirPath)
	}
	if announce {
		klog.Infof("Folder %q created", dirPath)
	}
	return nil
}

// NormalizeDir replaces a leading "~" by the user's home directory and removes trailing path separators
// (and any other redundant element) from dir.
//
// An empty dir is returned as is.
func NormalizeDir(dir string) (string, error) {
	if dir == "" {
		return dir, nil
	}
	dir, err := ReplaceTildeInDir(dir)
	if err != nil {
		return "", err
	}
	return filepath.Clean(dir), nil
}

// ReplaceTildeInDir by the user's home directory. Returns dir if it doesn't start with "~".
//
// It returns an error if `dir` has an unknown user or some other filesystem error (e.g: `~unknown/...`)
func ReplaceTildeInDir(dir string) (string, error) {
	if len(dir) == 0 {
		return dir, nil
	}
	if dir[0] != '~' {
		return dir, nil
	}
	var userName string
	if dir != "~" && !strings.HasPrefix(dir, "~/") {
		sepIdx := strings.IndexRune(dir, '/')
		if sepIdx == -1 {
			userName = dir[1:]
		} else {
			userName = dir[1:sepIdx]
		}
	}
	var usr *user.User
	var err error
	if userName == "" {
		usr, err = user.Current()
	} else {
		usr, err = user.Lookup(userName)
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to lookup home directory for user in path %q", dir)
	}
	homeDir := usr.HomeDir
	return path.Join(homeDir, dir[1+len(userName):]), nil
}

// CopyFile copies srcPath to dstPath, preserving the permission bits and the modification time.
// dstPath is overwritten if it exists.
func CopyFile(srcPath, dstPath string) (err error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return errors.Wrapf(err, "failed to open %q for copying", srcPath)
	}
	defer func() { _ = src.Close() }()
	info, err := src.Stat()
	if err != nil {
		return errors.Wrapf(err, "failed to stat %q", srcPath)
	}

	dst, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return errors.Wrapf(err, "failed to create %q", dstPath)
	}
	if _, err = io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return errors.Wrapf(err, "failed copying %q to %q", srcPath, dstPath)
	}
	if err = dst.Close(); err != nil {
		return errors.Wrapf(err, "failed closing %q", dstPath)
	}
	if err = os.Chtimes(dstPath, info.ModTime(), info.ModTime()); err != nil {
		return errors.Wrapf(err, "failed to set modification time of %q", dstPath)
	}
	return nil
}
