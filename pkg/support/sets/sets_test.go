// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sets

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet(t *testing.T) {
	// Sets are created empty.
	s := Make[string](10)
	assert.Len(t, s, 0)

	s.Insert("dogs", "cats", "dogs")
	assert.Len(t, s, 2)
	assert.True(t, s.Has("cats"))
	assert.False(t, s.Has("birds"))

	s2 := MakeWith("cats", "dogs", "cats")
	assert.Len(t, s2, 2)
	assert.Equal(t, s, s2)
}

func TestSorted(t *testing.T) {
	s := MakeWith("root_dogs", "root_cats", "root_birds")
	for range 10 {
		assert.Equal(t, []string{"root_birds", "root_cats", "root_dogs"}, Sorted(s))
	}
	assert.Empty(t, Sorted(Make[int]()))
}
