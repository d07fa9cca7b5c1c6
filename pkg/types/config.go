// Copyright 2025 Coldfront Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// LRUConfig tunes the cache-tier evictor.
type LRUConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
	// Capacity is the cache-tier budget in humanized bytes ("10GB").
	// Empty disables capacity accounting and with it eviction.
	Capacity string `json:"capacity,omitempty" mapstructure:"capacity"`
	// Eviction starts above HighWM percent of capacity and stops below
	// LowWM percent.
	HighWM int64 `json:"high_wm" mapstructure:"high_wm" validate:"gte=0,lte=100"`
	LowWM  int64 `json:"low_wm" mapstructure:"low_wm" validate:"gte=0,lte=100"`
	// Interval between capacity checks, jittered per tick.
	Interval time.Duration `json:"interval" mapstructure:"interval"`
	// DontEvictTime protects recently accessed objects from eviction.
	DontEvictTime time.Duration `json:"dont_evict_time" mapstructure:"dont_evict_time"`
}

// DispatchConfig tunes the action dispatcher.
type DispatchConfig struct {
	// Workers bounds per-operation fan-out concurrency.
	Workers int `json:"workers" mapstructure:"workers" validate:"gte=1,lte=512"`
	// Retention is how many finished operations stay queryable.
	Retention int `json:"retention" mapstructure:"retention" validate:"gte=0"`
}

// Config is the full node configuration.
type Config struct {
	// Cache is the store backing the cache tier. Required.
	Cache StoreConfig `json:"cache" mapstructure:"cache" validate:"required"`

	// AWS and GCP configure the cloud stores. A nil entry disables the
	// provider on this node.
	AWS *StoreConfig `json:"aws,omitempty" mapstructure:"aws"`
	GCP *StoreConfig `json:"gcp,omitempty" mapstructure:"gcp"`

	// MetaDir holds the bucket registry snapshot and, when the index is
	// persisted, its LevelDB directory.
	MetaDir string `json:"meta_dir" mapstructure:"meta_dir" validate:"required"`

	// PersistIndex keeps the object location index on disk across
	// restarts.
	PersistIndex bool `json:"persist_index" mapstructure:"persist_index"`

	// DefaultChecksum is the algorithm buckets inherit.
	DefaultChecksum string `json:"default_checksum" mapstructure:"default_checksum" validate:"oneof=xxhash md5 sha256 crc32c crc64nvme none"`

	Dispatch DispatchConfig `json:"dispatch" mapstructure:"dispatch"`
	LRU      LRUConfig      `json:"lru" mapstructure:"lru"`

	// StatsInterval is the cadence of the periodic stats log line.
	StatsInterval time.Duration `json:"stats_interval" mapstructure:"stats_interval"`

	// FetchRate caps cold fetches from cloud tiers in objects/second.
	// Zero means unlimited.
	FetchRate  float64 `json:"fetch_rate" mapstructure:"fetch_rate" validate:"gte=0"`
	FetchBurst int     `json:"fetch_burst" mapstructure:"fetch_burst" validate:"gte=0"`

	// DebugAddr serves metrics, health, and pprof. Empty disables it.
	DebugAddr string `json:"debug_addr,omitempty" mapstructure:"debug_addr"`
}

// DefaultConfig returns a Config with every tunable at its default.
// Cache and MetaDir still have to be filled in by the caller.
func DefaultConfig() *Config {
	return &Config{
		DefaultChecksum: "xxhash",
		Dispatch: DispatchConfig{
			Workers:   16,
			Retention: 512,
		},
		LRU: LRUConfig{
			Enabled:       true,
			HighWM:        80,
			LowWM:         60,
			Interval:      time.Minute,
			DontEvictTime: 2 * time.Hour,
		},
		StatsInterval: 10 * time.Second,
	}
}

var validate = validator.New()

// Validate checks tag constraints plus the cross-field rules the tags
// cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch c.Cache.Type {
	case StoreTypeMemory, StoreTypeFS:
	default:
		return fmt.Errorf("config: cache store type %q must be memory or fs", c.Cache.Type)
	}
	if c.Cache.Type == StoreTypeFS && c.Cache.Path == "" {
		return fmt.Errorf("config: fs cache store requires a path")
	}
	if c.AWS != nil && c.AWS.Type != StoreTypeS3 {
		return fmt.Errorf("config: aws store type %q must be s3", c.AWS.Type)
	}
	if c.GCP != nil && c.GCP.Type != StoreTypeGCS {
		return fmt.Errorf("config: gcp store type %q must be gcs", c.GCP.Type)
	}
	if c.LRU.Enabled && c.LRU.LowWM > c.LRU.HighWM {
		return fmt.Errorf("config: lru low_wm %d above high_wm %d", c.LRU.LowWM, c.LRU.HighWM)
	}
	if _, err := parseCapacity(c.LRU.Capacity); err != nil {
		return fmt.Errorf("config: lru capacity: %w", err)
	}
	// A memory cache has no filesystem to measure watermarks against.
	if c.LRU.Enabled && c.Cache.Type == StoreTypeMemory && c.LRU.Capacity == "" {
		return fmt.Errorf("config: lru requires an explicit capacity with a memory cache store")
	}
	return nil
}

// CacheCapacityBytes returns the parsed LRU capacity, 0 when unset.
func (c *Config) CacheCapacityBytes() uint64 {
	n, err := parseCapacity(c.LRU.Capacity)
	if err != nil {
		return 0
	}
	return n
}
