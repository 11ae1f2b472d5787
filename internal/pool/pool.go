// Package pool recycles the byte buffers used while rendering frames:
// dispose-to-previous region snapshots and the standalone PNG streams
// reassembled for each frame decode.
//
// Buffers are grouped in power-of-two size classes from MinSize to MaxSize.
// Larger requests are allocated directly and never pooled.
package pool

import (
	"math/bits"
	"sync"
)

const (
	minShift = 9  // 512 B
	maxShift = 24 // 16 MiB

	MinSize = 1 << minShift
	MaxSize = 1 << maxShift
)

var classes [maxShift - minShift + 1]sync.Pool

// class returns the index of the smallest class holding n bytes, or -1
// when n exceeds MaxSize.
func class(n int) int {
	switch {
	case n <= MinSize:
		return 0
	case n > MaxSize:
		return -1
	}
	return bits.Len(uint(n-1)) - minShift
}

// classSize returns the capacity of buffers in class c.
func classSize(c int) int {
	return MinSize << c
}

// Get returns a slice of length n whose contents are unspecified. The
// caller should hand it back with Put when done.
func Get(n int) []byte {
	c := class(n)
	if c < 0 {
		return make([]byte, n)
	}
	if bp, ok := classes[c].Get().(*[]byte); ok {
		return (*bp)[:n]
	}
	return make([]byte, n, classSize(c))
}

// Put recycles b. Only slices whose capacity is exactly a class size are
// kept; anything else, including slices regrown by append, is dropped.
func Put(b []byte) {
	c := cap(b)
	if c < MinSize || c > MaxSize || c&(c-1) != 0 {
		return
	}
	b = b[:0]
	classes[bits.Len(uint(c))-1-minShift].Put(&b)
}
