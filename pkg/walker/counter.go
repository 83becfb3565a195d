// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package walker

import "sync"

// Counter hands out the sequential numbers used to name output files.
//
// A Counter is created for each top-level operation and shared by the whole call tree, so numbers
// never repeat within one operation. It is safe for concurrent use.
type Counter struct {
	mu   sync.Mutex
	next int
}

// NewCounter returns a Counter whose first number is 1.
func NewCounter() *Counter {
	return &Counter{next: 1}
}

// Next returns the current number and advances the counter.
func (c *Counter) Next() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.next
	c.next++
	return n
}

// Count returns how many numbers were handed out so far.
func (c *Counter) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next - 1
}
