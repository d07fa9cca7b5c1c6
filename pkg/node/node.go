// Copyright 2025 Coldfront Authors
// SPDX-License-Identifier: Apache-2.0

// Package node assembles a cache node from its parts: bucket registry,
// location index, tier stores, tiering engine, action dispatcher,
// watermark evictor, and the stats tracker. Node is the surface the
// HTTP layer calls; its methods resolve buckets by name and front the
// matching engine or dispatcher operation.
package node

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/coldfront/coldfront/pkg/api"
	"github.com/coldfront/coldfront/pkg/backend"
	"github.com/coldfront/coldfront/pkg/debug"
	"github.com/coldfront/coldfront/pkg/dispatch"
	"github.com/coldfront/coldfront/pkg/index"
	"github.com/coldfront/coldfront/pkg/logger"
	"github.com/coldfront/coldfront/pkg/lru"
	"github.com/coldfront/coldfront/pkg/registry"
	"github.com/coldfront/coldfront/pkg/stats"
	"github.com/coldfront/coldfront/pkg/tiering"
	"github.com/coldfront/coldfront/pkg/types"
)

// Node owns every component of a running cache node.
type Node struct {
	cfg *types.Config

	reg     *registry.Registry
	idx     *index.Index
	cache   types.TierStore
	clouds  *backend.Manager
	eng     *tiering.Engine
	disp    *dispatch.Dispatcher
	evictor *lru.Evictor
	tracker *stats.Tracker

	stopped atomic.Bool
}

// New builds a node from cfg. The configuration is validated first,
// and nothing runs until Start.
func New(cfg *types.Config) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	reg, err := registry.New(cfg.MetaDir)
	if err != nil {
		return nil, err
	}

	var idx *index.Index
	if cfg.PersistIndex {
		idx, err = index.NewPersistent(filepath.Join(cfg.MetaDir, "index"))
		if err != nil {
			return nil, err
		}
	} else {
		idx = index.New()
	}

	cache, err := backend.New(cfg.Cache)
	if err != nil {
		idx.Close()
		return nil, err
	}

	clouds := backend.NewManager()
	if cfg.AWS != nil {
		err = clouds.Add(string(types.ProviderAmazon), *cfg.AWS)
	}
	if err == nil && cfg.GCP != nil {
		err = clouds.Add(string(types.ProviderGoogle), *cfg.GCP)
	}
	if err != nil {
		clouds.Close()
		cache.Close()
		idx.Close()
		return nil, err
	}

	eng := tiering.New(reg, idx, cache, clouds, tiering.Options{
		DefaultChecksum: cfg.DefaultChecksum,
		FetchRate:       cfg.FetchRate,
		FetchBurst:      cfg.FetchBurst,
	})

	tracker := stats.New(stats.Options{Interval: cfg.StatsInterval})
	disp := dispatch.New(reg, eng, dispatch.Options{
		Workers: cfg.Dispatch.Workers,
		Retain:  cfg.Dispatch.Retention,
		Stats:   tracker,
	})

	n := &Node{
		cfg:     cfg,
		reg:     reg,
		idx:     idx,
		cache:   cache,
		clouds:  clouds,
		eng:     eng,
		disp:    disp,
		tracker: tracker,
	}
	if cfg.LRU.Enabled {
		n.evictor = lru.New(reg, idx, cache, disp, lru.Options{
			Capacity:      cfg.CacheCapacityBytes(),
			HighWM:        cfg.LRU.HighWM,
			LowWM:         cfg.LRU.LowWM,
			Interval:      cfg.LRU.Interval,
			DontEvictTime: cfg.LRU.DontEvictTime,
		})
	}
	return n, nil
}

// Start launches the background loops and exposes the stats mirror.
func (n *Node) Start() {
	if err := debug.Registry().Register(n.tracker.Collector()); err != nil {
		are := prometheus.AlreadyRegisteredError{}
		if !errors.As(err, &are) {
			logger.Warn().Err(err).Msg("stats collector registration failed")
		}
	}
	n.tracker.Start()
	if n.evictor != nil {
		n.evictor.Start()
	}

	local, cloud := n.reg.Counts()
	objects, bytes := n.idx.Stats()
	logger.Info().
		Int("local_buckets", local).
		Int("cloud_buckets", cloud).
		Int64("cached_objects", objects).
		Int64("cached_bytes", bytes).
		Msg("node started")
}

// Stop tears the node down in reverse dependency order. Idempotent.
func (n *Node) Stop() {
	if !n.stopped.CompareAndSwap(false, true) {
		return
	}
	if n.evictor != nil {
		n.evictor.Stop()
	}
	n.tracker.Stop()
	n.disp.Stop()
	if err := n.eng.Close(); err != nil {
		logger.Warn().Err(err).Msg("tiering engine close")
	}
	if err := n.clouds.Close(); err != nil {
		logger.Warn().Err(err).Msg("cloud stores close")
	}
	if err := n.idx.Close(); err != nil {
		logger.Warn().Err(err).Msg("index close")
	}
	if err := n.cache.Close(); err != nil {
		logger.Warn().Err(err).Msg("cache store close")
	}
	logger.Info().Msg("node stopped")
}

// GetObject streams the object to w, fetching it from a remote tier
// when it is not cached.
func (n *Node) GetObject(ctx context.Context, bucket, object string, w io.Writer) (types.ObjectInfo, error) {
	started := time.Now()
	b, err := n.eng.ResolveBucket(ctx, bucket)
	if err != nil {
		n.tracker.Add(stats.ErrGetCount, 1)
		return types.ObjectInfo{}, err
	}
	info, err := n.eng.GetObject(ctx, b, object, w)
	if err != nil {
		n.tracker.Add(stats.ErrGetCount, 1)
		return types.ObjectInfo{}, err
	}
	n.tracker.Add(stats.GetCount, 1)
	n.tracker.Since(stats.GetLatency, started)
	return info, nil
}

// GetObjectRange streams length bytes starting at offset. A negative
// length means through the end of the object.
func (n *Node) GetObjectRange(ctx context.Context, bucket, object string, offset, length int64, w io.Writer) (types.ObjectInfo, error) {
	started := time.Now()
	b, err := n.eng.ResolveBucket(ctx, bucket)
	if err != nil {
		n.tracker.Add(stats.ErrGetCount, 1)
		return types.ObjectInfo{}, err
	}
	info, err := n.eng.GetObjectRange(ctx, b, object, offset, length, w)
	if err != nil {
		n.tracker.Add(stats.ErrGetCount, 1)
		return types.ObjectInfo{}, err
	}
	n.tracker.Add(stats.GetCount, 1)
	n.tracker.Since(stats.GetLatency, started)
	return info, nil
}

// PutObject stores the payload in the cache tier and writes it
// through per the bucket's write policy.
func (n *Node) PutObject(ctx context.Context, bucket, object string, r io.Reader, size int64) (types.ObjectInfo, error) {
	started := time.Now()
	b, err := n.eng.ResolveBucket(ctx, bucket)
	if err != nil {
		n.tracker.Add(stats.ErrPutCount, 1)
		return types.ObjectInfo{}, err
	}
	info, err := n.eng.PutObject(ctx, b, object, r, size)
	if err != nil {
		n.tracker.Add(stats.ErrPutCount, 1)
		return types.ObjectInfo{}, err
	}
	n.tracker.Add(stats.PutCount, 1)
	n.tracker.Since(stats.PutLatency, started)
	return info, nil
}

// HeadObject returns object metadata. With checkCached set, an
// uncached object reports ObjectNotCached instead of consulting
// remote tiers.
func (n *Node) HeadObject(ctx context.Context, bucket, object string, checkCached bool) (types.ObjectInfo, error) {
	b, err := n.eng.ResolveBucket(ctx, bucket)
	if err != nil {
		return types.ObjectInfo{}, err
	}
	return n.eng.HeadObject(ctx, b, object, checkCached)
}

// DeleteObject removes the object from every tier that holds a copy.
func (n *Node) DeleteObject(ctx context.Context, bucket, object string) error {
	b, err := n.eng.ResolveBucket(ctx, bucket)
	if err != nil {
		n.tracker.Add(stats.ErrDeleteCount, 1)
		return err
	}
	if err := n.eng.DeleteObject(ctx, b, object); err != nil {
		n.tracker.Add(stats.ErrDeleteCount, 1)
		return err
	}
	n.tracker.Add(stats.DeleteCount, 1)
	return nil
}

// Dispatch validates and runs a bucket or batch action.
func (n *Node) Dispatch(ctx context.Context, bucket string, msg *api.ActionMsg) (dispatch.Result, error) {
	return n.disp.Dispatch(ctx, bucket, msg)
}

// Operation returns the status of a tracked operation.
func (n *Node) Operation(id string) (dispatch.OperationInfo, error) {
	op, err := n.disp.Get(id)
	if err != nil {
		return dispatch.OperationInfo{}, err
	}
	return op.Info(), nil
}

// Operations lists every tracked operation, oldest first.
func (n *Node) Operations() []dispatch.OperationInfo {
	return n.disp.List()
}

// OperationsByAction lists tracked operations of one action kind.
func (n *Node) OperationsByAction(action api.Action) []dispatch.OperationInfo {
	return n.disp.ListAction(action)
}

// HeadBucket reports whether the bucket resolves on this node,
// discovering cloud buckets on first reference.
func (n *Node) HeadBucket(ctx context.Context, bucket string) error {
	_, err := n.eng.ResolveBucket(ctx, bucket)
	return err
}

// BucketNames lists known buckets, optionally local ones only.
func (n *Node) BucketNames(localOnly bool) api.BucketNames {
	return n.reg.Names(localOnly)
}
