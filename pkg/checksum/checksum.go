// Copyright 2025 Coldfront Authors
// SPDX-License-Identifier: Apache-2.0

// Package checksum computes and validates object payload digests.
// Hashers are pooled per algorithm since the data path creates one per
// PUT and per cold GET.
package checksum

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/minio/crc64nvme"
	"github.com/minio/sha256-simd"

	"github.com/coldfront/coldfront/pkg/types"
)

// Supported algorithm names. AlgoXXHash is the node default.
const (
	AlgoXXHash    = "xxhash"
	AlgoMD5       = "md5"
	AlgoSHA256    = "sha256"
	AlgoCRC32C    = "crc32c"
	AlgoCRC64NVMe = "crc64nvme"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

var pools = map[string]*sync.Pool{
	AlgoXXHash: {
		New: func() any { return xxhash.New() },
	},
	AlgoMD5: {
		New: func() any { return md5.New() },
	},
	AlgoSHA256: {
		New: func() any { return sha256.New() },
	},
	AlgoCRC32C: {
		New: func() any { return crc32.New(castagnoli) },
	},
	AlgoCRC64NVMe: {
		New: func() any { return crc64nvme.New() },
	},
}

// Supported reports whether algo names a usable algorithm.
func Supported(algo string) bool {
	_, ok := pools[algo]
	return ok
}

// Resolve returns the effective algorithm for a bucket: "inherit" falls
// back to the node default, "none" and empty disable checksumming.
func Resolve(conf types.CksumConf, nodeDefault string) string {
	switch conf.Checksum {
	case types.ChecksumInherit, "":
		return nodeDefault
	default:
		return conf.Checksum
	}
}

// Hasher streams a payload through a pooled hash.
type Hasher struct {
	algo string
	h    hash.Hash
}

// NewHasher returns a streaming hasher for algo.
func NewHasher(algo string) (*Hasher, error) {
	pool, ok := pools[algo]
	if !ok {
		return nil, fmt.Errorf("unsupported checksum algorithm %q", algo)
	}
	return &Hasher{algo: algo, h: pool.Get().(hash.Hash)}, nil
}

func (h *Hasher) Write(p []byte) (int, error) {
	return h.h.Write(p)
}

// Sum returns the typed digest of everything written so far.
func (h *Hasher) Sum() types.Cksum {
	return types.Cksum{Type: h.algo, Value: hex.EncodeToString(h.h.Sum(nil))}
}

// Release returns the underlying hash to its pool. The Hasher must not
// be used afterwards.
func (h *Hasher) Release() {
	if h.h == nil {
		return
	}
	h.h.Reset()
	pools[h.algo].Put(h.h)
	h.h = nil
}

// HexSum computes the digest of data in one shot.
func HexSum(algo string, data []byte) (string, error) {
	h, err := NewHasher(algo)
	if err != nil {
		return "", err
	}
	defer h.Release()
	h.Write(data)
	return h.Sum().Value, nil
}

// Reader tees everything read through a hasher, so the data path can
// digest a payload while copying it between tiers.
type Reader struct {
	r io.Reader
	h *Hasher
}

// NewReader wraps r with a digest of algorithm algo.
func NewReader(algo string, r io.Reader) (*Reader, error) {
	h, err := NewHasher(algo)
	if err != nil {
		return nil, err
	}
	return &Reader{r: io.TeeReader(r, h), h: h}, nil
}

func (r *Reader) Read(p []byte) (int, error) {
	return r.r.Read(p)
}

// Sum returns the digest of everything read so far.
func (r *Reader) Sum() types.Cksum {
	return r.h.Sum()
}

// Release returns the underlying hasher to its pool.
func (r *Reader) Release() {
	r.h.Release()
}
