// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package walker

import (
	"strings"

	"github.com/gomlx/exceptions"
)

// Filter selects which files are processed during a walk, by their name suffix.
//
// It is either an ordered list of case-sensitive suffixes (e.g. ".jpg"), or the NoExtension sentinel,
// which matches only files with no suffix at all. Filters are immutable.
type Filter struct {
	suffixes    []string
	noExtension bool
}

// NoExtension matches only the files whose name has no extension: `README` matches, `README.txt` doesn't.
// The leading dot of hidden files is not an extension, so `.bashrc` also matches.
var NoExtension = Filter{noExtension: true}

// DefaultFilter accepts the usual image suffixes.
var DefaultFilter = Extensions(".jpg", ".jpeg", ".png")

// Extensions returns a Filter accepting names ending with any of the given suffixes.
// The order matters: when more than one suffix matches, the first one is reported by Match.
//
// It panics if no suffix is given or if one of them is empty: use NoExtension to select
// files without extension.
func Extensions(suffixes ...string) Filter {
	if len(suffixes) == 0 {
		exceptions.Panicf("walker.Extensions() requires at least one suffix, use walker.NoExtension for files without extension")
	}
	for _, suffix := range suffixes {
		if suffix == "" {
			exceptions.Panicf("walker.Extensions(%q): empty suffix, use walker.NoExtension for files without extension", suffixes)
		}
	}
	return Filter{suffixes: append([]string(nil), suffixes...)}
}

// IsNoExtension returns whether f is the NoExtension sentinel.
func (f Filter) IsNoExtension() bool { return f.noExtension }

// Suffixes returns a copy of the configured suffixes, nil for NoExtension.
func (f Filter) Suffixes() []string {
	if f.noExtension {
		return nil
	}
	return append([]string(nil), f.suffixes...)
}

// Match returns whether name passes the filter, and the suffix that matched it.
//
// For NoExtension the suffix is always "". Otherwise it is the first configured suffix (in the order
// given to Extensions) that name ends with: with Extensions(".gz", ".tar.gz") the name "a.tar.gz" matches ".gz".
func (f Filter) Match(name string) (suffix string, ok bool) {
	if f.noExtension {
		return "", Ext(name) == ""
	}
	for _, suffix = range f.suffixes {
		if strings.HasSuffix(name, suffix) {
			return suffix, true
		}
	}
	return "", false
}

// String implements fmt.Stringer.
func (f Filter) String() string {
	if f.noExtension {
		return "<no extension>"
	}
	return strings.Join(f.suffixes, ",")
}

// Ext returns the extension of name, from the last dot on, like filepath.Ext, except that dots
// leading the name (hidden files) don't start an extension.
func Ext(name string) string {
	trimmed := strings.TrimLeft(name, ".")
	idx := strings.LastIndexByte(trimmed, '.')
	if idx < 0 {
		return ""
	}
	return trimmed[idx:]
}
