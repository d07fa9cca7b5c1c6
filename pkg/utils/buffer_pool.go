// Copyright 2025 Coldfront Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"io"
	"math/bits"
	"sync"
)

// Pooled buffer size classes, powers of two from 4KiB to 4MiB. The data
// path moves whole objects between tiers, so buffers skew large; tiny
// classes would only fragment the pools.
const (
	minBufSize   = 4 << 10
	maxBufSize   = 4 << 20
	numBufLevels = 11

	// copyBufSize is the default class for tier-to-tier copies.
	copyBufSize = 256 << 10
)

var bufPools [numBufLevels]sync.Pool

func init() {
	for i := range bufPools {
		size := minBufSize << i
		bufPools[i] = sync.Pool{
			New: func() any {
				buf := make([]byte, size)
				return &buf
			},
		}
	}
}

// bufLevel returns the pool level holding buffers of at least size, or
// -1 when the size is beyond the largest class.
func bufLevel(size int) int {
	if size <= minBufSize {
		return 0
	}
	if size > maxBufSize {
		return -1
	}
	lvl := bits.Len(uint(size-1)) - 12 // minBufSize is 1<<12
	if lvl < 0 {
		return 0
	}
	return lvl
}

// GetBuffer returns a pooled byte slice of exactly the requested size.
// Sizes beyond the largest class are allocated directly.
func GetBuffer(size int) []byte {
	lvl := bufLevel(size)
	if lvl < 0 {
		return make([]byte, size)
	}
	bufPtr := bufPools[lvl].Get().(*[]byte)
	return (*bufPtr)[:size]
}

// PutBuffer returns a buffer obtained from GetBuffer to its pool. The
// buffer must not be used afterwards. Foreign or oversized slices are
// left to the garbage collector.
func PutBuffer(buf []byte) {
	c := cap(buf)
	lvl := bufLevel(c)
	if lvl < 0 || c != minBufSize<<lvl {
		return
	}
	buf = buf[:c]
	bufPools[lvl].Put(&buf)
}

// CopyBuffer copies src to dst through a pooled buffer and returns the
// number of bytes copied.
func CopyBuffer(dst io.Writer, src io.Reader) (int64, error) {
	buf := GetBuffer(copyBufSize)
	defer PutBuffer(buf)
	return io.CopyBuffer(dst, src, buf)
}
