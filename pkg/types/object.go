// Copyright 2025 Coldfront Authors
// SPDX-License-Identifier: Apache-2.0

package types

// Location names a tier where an object copy resides.
type Location string

const (
	LocationCache    Location = "cache"
	LocationCloud    Location = "cloud"
	LocationNextTier Location = "next_tier"
)

// Cksum pairs an algorithm name with its hex digest.
type Cksum struct {
	Type  string `json:"type,omitempty"`
	Value string `json:"value,omitempty"`
}

// IsSet reports whether the pair carries a usable digest.
func (c Cksum) IsSet() bool { return c.Type != "" && c.Type != ChecksumNone && c.Value != "" }

// ObjectInfo is the full per-object metadata returned by head-object.
// Version is the store's identifier: a counter for locally versioned
// buckets, the provider's opaque version string for cloud buckets.
type ObjectInfo struct {
	Bucket  string `json:"bucket"`
	Name    string `json:"name"`
	Size    int64  `json:"size"`
	Cksum   Cksum  `json:"cksum,omitempty"`
	Version string `json:"version,omitempty"`
	// Atime is the last access in unix nanoseconds, 0 when never read.
	Atime  int64 `json:"atime,omitempty"`
	Cached bool  `json:"is_cached"`
}

// ObjectEntry is a single row of a bucket listing. Optional fields are
// populated according to the requested property set.
type ObjectEntry struct {
	Name     string `json:"name"`
	Size     int64  `json:"size,omitempty"`
	Checksum string `json:"checksum,omitempty"`
	Version  string `json:"version,omitempty"`
	Atime    int64  `json:"atime,omitempty"`
	IsCached bool   `json:"is_cached,omitempty"`
}
