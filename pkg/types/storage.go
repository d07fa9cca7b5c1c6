// Copyright 2025 Coldfront Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"context"
	"io"
)

// StoreType identifies a tier store implementation
type StoreType string

const (
	StoreTypeMemory   StoreType = "memory"   // In-process map, tests and small nodes
	StoreTypeFS       StoreType = "fs"       // Local filesystem
	StoreTypeS3       StoreType = "s3"       // Amazon S3 or compatible
	StoreTypeGCS      StoreType = "gcs"      // Google Cloud Storage
	StoreTypeNextTier StoreType = "nexttier" // Another coldfront instance over HTTP
)

// ListPageOpts bounds a single listing page.
type ListPageOpts struct {
	Prefix string
	Marker string
	Limit  int
}

// ListPage is one page of a store listing in lexical name order.
type ListPage struct {
	Entries []ObjectEntry
	// NextMarker resumes the listing; empty when the page is final.
	NextMarker string
}

// ObjectAttrs is what a store knows about one object without reading it.
type ObjectAttrs struct {
	Size  int64
	Cksum Cksum
	// Version is the store's own version identifier (S3 version ID, GCS
	// generation), empty when the store keeps none.
	Version string
}

// TierStore is the interface for moving object bytes to and from a tier.
// Implementations: MemoryStore, FSStore, S3Store, GCSStore, NextTierStore.
type TierStore interface {
	// Type returns the store type
	Type() StoreType

	// Write stores the object payload, replacing any prior copy
	Write(ctx context.Context, bucket, object string, data io.Reader, size int64) error

	// Read returns the object payload
	Read(ctx context.Context, bucket, object string) (io.ReadCloser, error)

	// ReadRange returns length bytes starting at offset
	ReadRange(ctx context.Context, bucket, object string, offset, length int64) (io.ReadCloser, error)

	// Delete removes the object copy
	Delete(ctx context.Context, bucket, object string) error

	// Exists checks if an object copy is present
	Exists(ctx context.Context, bucket, object string) (bool, error)

	// Head returns object attributes without the payload
	Head(ctx context.Context, bucket, object string) (ObjectAttrs, error)

	// ListPage returns one page of the bucket's objects
	ListPage(ctx context.Context, bucket string, opts ListPageOpts) (ListPage, error)

	// BucketExists checks whether the store knows the bucket
	BucketExists(ctx context.Context, bucket string) (bool, error)

	// Close releases any resources
	Close() error
}

// CapacityReporter is implemented by stores that can account local usage.
// Cloud stores do not implement it.
type CapacityReporter interface {
	// Usage returns bytes currently stored.
	Usage(ctx context.Context) (uint64, error)
}

// StoreConfig contains configuration for creating a tier store instance
type StoreConfig struct {
	Type     StoreType `json:"type" mapstructure:"type" validate:"required,oneof=memory fs s3 gcs nexttier"`
	Endpoint string    `json:"endpoint,omitempty" mapstructure:"endpoint"` // Custom endpoint (S3-compatible, emulator, next tier URL)
	Path     string    `json:"path,omitempty" mapstructure:"path"`         // Root directory for fs stores
	Region   string    `json:"region,omitempty" mapstructure:"region"`

	AccessKey string `json:"access_key,omitempty" mapstructure:"access_key"`
	SecretKey string `json:"secret_key,omitempty" mapstructure:"secret_key"`

	// Anonymous disables client authentication (emulators, public data)
	Anonymous bool `json:"anonymous,omitempty" mapstructure:"anonymous"`
}
