// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fsutil

import (
	"bufio"
	"io"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// LockFileName is the name of the lock file created by LockDir inside the locked directory.
const LockFileName = ".imgdataset.lock"

// AtomicWrite creates (or overwrites) filePath with the contents written by writeFn.
//
// The contents are first written to a uniquely named temporary file in the same directory,
// which is then renamed to filePath. Readers never observe a partially written file, and if
// writeFn fails the previous contents of filePath (if any) are left untouched.
func AtomicWrite(filePath string, writeFn func(w io.Writer) error) (err error) {
	dir, base := filepath.Split(filePath)
	tmpPath := filepath.Join(dir, "."+base+"."+uuid.NewString()+".tmp")
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return errors.Wrapf(err, "failed to create temporary file for %q", filePath)
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	buf := bufio.NewWriter(f)
	if err = writeFn(buf); err != nil {
		return errors.WithMessagef(err, "writing %q", filePath)
	}
	if err = buf.Flush(); err != nil {
		return errors.Wrapf(err, "failed writing %q", filePath)
	}
	if err = f.Close(); err != nil {
		return errors.Wrapf(err, "failed closing temporary file for %q", filePath)
	}
	if err = os.Rename(tmpPath, filePath); err != nil {
		return errors.Wrapf(err, "failed to move temporary file to %q", filePath)
	}
	return nil
}

// LockDir acquires an exclusive inter-process lock on dir, blocking until it is available.
// It returns the function that releases it.
func LockDir(dir string) (unlock func() error, err error) {
	lock := flock.New(filepath.Join(dir, LockFileName))
	if err = lock.Lock(); err != nil {
		return nil, errors.Wrapf(err, "failed to acquire lock on %q", dir)
	}
	unlock = func() error {
		if err := lock.Unlock(); err != nil {
			return errors.Wrapf(err, "failed to release lock on %q", dir)
		}
		return nil
	}
	return unlock, nil
}
