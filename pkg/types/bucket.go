// Copyright 2025 Coldfront Authors
// SPDX-License-Identifier: Apache-2.0

package types

import "github.com/google/uuid"

// CloudProvider identifies who owns the authoritative copy of a bucket.
type CloudProvider string

const (
	// ProviderColdfront marks buckets local to this node. They have no
	// cloud backing; the cache tier is their only storage.
	ProviderColdfront CloudProvider = "coldfront"
	ProviderAmazon    CloudProvider = "amazon"
	ProviderGoogle    CloudProvider = "gcp"
)

// IsLocal reports whether the provider denotes a local bucket.
func (p CloudProvider) IsLocal() bool { return p == ProviderColdfront }

// Valid reports whether p is a known provider.
func (p CloudProvider) Valid() bool {
	switch p {
	case ProviderColdfront, ProviderAmazon, ProviderGoogle:
		return true
	}
	return false
}

// RWPolicy directs reads or writes that miss the cache tier.
type RWPolicy string

const (
	RWPolicyCloud    RWPolicy = "cloud"
	RWPolicyNextTier RWPolicy = "next_tier"
)

func (p RWPolicy) Valid() bool {
	switch p {
	case RWPolicyCloud, RWPolicyNextTier:
		return true
	}
	return false
}

// VersioningMode selects which buckets maintain object versions.
type VersioningMode string

const (
	VersioningAll   VersioningMode = "all"
	VersioningCloud VersioningMode = "cloud"
	VersioningLocal VersioningMode = "local"
	VersioningNone  VersioningMode = "none"
)

func (v VersioningMode) Valid() bool {
	switch v {
	case VersioningAll, VersioningCloud, VersioningLocal, VersioningNone:
		return true
	}
	return false
}

// Enabled reports whether versioning applies to a bucket of the given
// locality.
func (v VersioningMode) Enabled(local bool) bool {
	switch v {
	case VersioningAll:
		return true
	case VersioningLocal:
		return local
	case VersioningCloud:
		return !local
	}
	return false
}

// ChecksumInherit defers the checksum algorithm to the node default.
const (
	ChecksumInherit = "inherit"
	ChecksumNone    = "none"
)

// CksumConf controls payload validation for a bucket.
type CksumConf struct {
	// Checksum is the algorithm name, "inherit" to use the node default,
	// or "none" to disable checksumming.
	Checksum        string `json:"checksum"`
	ValidateColdGet bool   `json:"validate_checksum_cold_get"`
	ValidateWarmGet bool   `json:"validate_checksum_warm_get"`
	EnableReadRange bool   `json:"enable_read_range_checksum"`
}

// BucketProps is the tunable per-bucket configuration surfaced by
// get-properties and replaced wholesale by set-properties.
type BucketProps struct {
	CloudProvider CloudProvider  `json:"cloud_provider"`
	Versioning    VersioningMode `json:"versioning,omitempty"`

	// NextTierURL points at another coldfront instance that fronts this
	// one. Empty when no next tier is configured.
	NextTierURL string   `json:"next_tier_url,omitempty"`
	ReadPolicy  RWPolicy `json:"read_policy,omitempty"`
	WritePolicy RWPolicy `json:"write_policy,omitempty"`

	Cksum CksumConf `json:"cksum_config"`
}

// DefaultBucketProps returns the props a freshly created bucket starts
// with.
func DefaultBucketProps(local bool) BucketProps {
	versioning := VersioningLocal
	if !local {
		versioning = VersioningNone
	}
	return BucketProps{
		CloudProvider: ProviderColdfront,
		Versioning:    versioning,
		ReadPolicy:    RWPolicyCloud,
		WritePolicy:   RWPolicyCloud,
		Cksum:         CksumConf{Checksum: ChecksumInherit},
	}
}

// Bucket is a registry entry. The ID is immutable for the bucket's
// lifetime; renames only rebind the name.
type Bucket struct {
	ID        uuid.UUID   `json:"id"`
	Name      string      `json:"name"`
	Local     bool        `json:"local"`
	Props     BucketProps `json:"props"`
	CreatedAt int64       `json:"created_at"`
}
