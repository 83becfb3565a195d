// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dataset

import (
	"io"
	"os"
	"path/filepath"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/gomlx/imgdataset/pkg/support/fsutil"
	"github.com/gomlx/imgdataset/pkg/support/sets"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// EncodingFileName is the name of the file where SaveEncoding writes the label encoding.
const EncodingFileName = "encoding.csv"

// Column names of the encoding file.
const (
	LabelColumn = "label"
	KeyColumn   = "key"
)

// LabelEncoding is a bijection between label keys and the integers 0...n-1.
type LabelEncoding struct {
	keys  []string
	index map[string]int
}

// NewLabelEncoding numbers the distinct keys in sorted order.
func NewLabelEncoding(keys []string) *LabelEncoding {
	return newLabelEncodingFromSorted(sets.Sorted(sets.MakeWith(keys...)))
}

func newLabelEncodingFromSorted(sortedKeys []string) *LabelEncoding {
	e := &LabelEncoding{keys: sortedKeys, index: make(map[string]int, len(sortedKeys))}
	for label, key := range sortedKeys {
		e.index[key] = label
	}
	return e
}

// Len returns the number of distinct labels.
func (e *LabelEncoding) Len() int { return len(e.keys) }

// Keys returns the keys indexed by their label.
func (e *LabelEncoding) Keys() []string { return append([]string(nil), e.keys...) }

// Encode returns the label of key, and whether it is known.
func (e *LabelEncoding) Encode(key string) (label int, ok bool) {
	label, ok = e.index[key]
	return
}

// Decode returns the key of label, and whether it is valid.
func (e *LabelEncoding) Decode(label int) (key string, ok bool) {
	if label < 0 || label >= len(e.keys) {
		return "", false
	}
	return e.keys[label], true
}

// Equal returns whether both encodings map the same keys to the same labels.
func (e *LabelEncoding) Equal(other *LabelEncoding) bool {
	if e.Len() != other.Len() {
		return false
	}
	for label, key := range e.keys {
		if other.keys[label] != key {
			return false
		}
	}
	return true
}

// DataFrame returns the encoding as a table with the columns LabelColumn and KeyColumn.
func (e *LabelEncoding) DataFrame() dataframe.DataFrame {
	labels := make([]int, e.Len())
	for ii := range labels {
		labels[ii] = ii
	}
	return dataframe.New(
		series.New(labels, series.Int, LabelColumn),
		series.New(e.keys, series.String, KeyColumn),
	)
}

// SaveEncoding writes the encoding to targetDir/encoding.csv, so integer labels can be mapped back
// to their directories.
func SaveEncoding(e *LabelEncoding, targetDir string) error {
	filePath := filepath.Join(targetDir, EncodingFileName)
	err := fsutil.AtomicWrite(filePath, func(w io.Writer) error {
		return e.DataFrame().WriteCSV(w)
	})
	if err != nil {
		return errors.WithMessagef(err, "saving label encoding")
	}
	klog.V(1).Infof("label encoding with %d labels saved to %q", e.Len(), filePath)
	return nil
}

// LoadEncoding reads the encoding saved by SaveEncoding in targetDir.
func LoadEncoding(targetDir string) (*LabelEncoding, error) {
	filePath := filepath.Join(targetDir, EncodingFileName)
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open label encoding")
	}
	defer func() { _ = f.Close() }()
	// Keys are taken verbatim: none of them (e.g. "NA") is read as a missing value.
	df := dataframe.ReadCSV(f, dataframe.HasHeader(true), dataframe.NaNValues(nil),
		dataframe.WithTypes(map[string]series.Type{LabelColumn: series.Int, KeyColumn: series.String}))
	if df.Err != nil {
		return nil, errors.Wrapf(df.Err, "failed to parse label encoding %q", filePath)
	}
	labels, err := df.Col(LabelColumn).Int()
	if err != nil {
		return nil, errors.Wrapf(err, "invalid labels in %q", filePath)
	}
	keys := df.Col(KeyColumn).Records()
	sortedKeys := make([]string, len(labels))
	for row, label := range labels {
		if label != row {
			return nil, errors.Errorf("invalid label encoding %q: row %d has label %d", filePath, row, label)
		}
		sortedKeys[row] = keys[row]
	}
	return newLabelEncodingFromSorted(sortedKeys), nil
}
