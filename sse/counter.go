// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sse

import "sync/atomic"

// CallCounter is the call counter shared by every invocation of the counting
// functions of one engine. Each increment is a single atomic read-modify-write,
// so concurrent calls never observe a repeated or skipped value.
type CallCounter struct {
	n atomic.Int64
}

// NewCallCounter returns a counter whose first Increment yields start+1.
func NewCallCounter(start int64) *CallCounter {
	c := &CallCounter{}
	c.n.Store(start)
	return c
}

// Increment adds one and returns the new value.
func (c *CallCounter) Increment() int64 { return c.n.Add(1) }

// Load returns the current value.
func (c *CallCounter) Load() int64 { return c.n.Load() }
