// Copyright 2025 Coldfront Authors
// SPDX-License-Identifier: Apache-2.0

// Package lru keeps cache-tier usage under a configured watermark by
// evicting the least recently accessed objects. Evictions go through
// the dispatcher as ordinary evict actions, so their per-object
// semantics and accounting match client-issued ones.
package lru

import (
	"context"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/coldfront/coldfront/pkg/api"
	"github.com/coldfront/coldfront/pkg/backend"
	"github.com/coldfront/coldfront/pkg/debug"
	"github.com/coldfront/coldfront/pkg/dispatch"
	"github.com/coldfront/coldfront/pkg/index"
	"github.com/coldfront/coldfront/pkg/logger"
	"github.com/coldfront/coldfront/pkg/registry"
	"github.com/coldfront/coldfront/pkg/types"
	"github.com/coldfront/coldfront/pkg/utils"
)

var (
	lruRunsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "coldfront",
		Subsystem: "lru",
		Name:      "runs_total",
		Help:      "Total capacity checks performed",
	})

	lruEvictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "coldfront",
		Subsystem: "lru",
		Name:      "evictions_total",
		Help:      "Total objects evicted by the watermark evictor",
	})

	lruBytesReclaimed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "coldfront",
		Subsystem: "lru",
		Name:      "bytes_reclaimed_total",
		Help:      "Total cache bytes reclaimed by the watermark evictor",
	})

	lruUsedPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "coldfront",
		Subsystem: "lru",
		Name:      "used_percent",
		Help:      "Cache tier usage percent at the last capacity check",
	})
)

func init() {
	debug.Registry().MustRegister(
		lruRunsTotal,
		lruEvictionsTotal,
		lruBytesReclaimed,
		lruUsedPercent,
	)
}

const (
	DefaultHighWM    = 80
	DefaultLowWM     = 60
	DefaultBatchSize = 512

	defaultJitter = 0.1
)

// Options tunes the evictor.
type Options struct {
	// Capacity is the cache-tier budget in bytes. When set, usage is
	// the index's cached payload measured against it; when zero the
	// cache store's filesystem stats apply instead.
	Capacity uint64

	// Eviction starts at or above HighWM percent and frees down to
	// LowWM percent.
	HighWM int64
	LowWM  int64

	// Interval between capacity checks, jittered per tick. Zero
	// disables the background loop; Run stays callable.
	Interval time.Duration

	// DontEvictTime protects objects accessed within the window.
	DontEvictTime time.Duration

	// BatchSize caps the object names carried by one evict action.
	BatchSize int
}

// Evictor is the background watermark worker.
type Evictor struct {
	reg   *registry.Registry
	idx   *index.Index
	cache types.TierStore
	d     *dispatch.Dispatcher
	opts  Options

	stopCh chan struct{}
}

// diskStatter is implemented by stores that can report the capacity of
// the filesystem backing them.
type diskStatter interface {
	DiskStats() (backend.DiskStats, error)
}

// New creates an evictor. Watermarks default to 80/60 when unset.
func New(reg *registry.Registry, idx *index.Index, cache types.TierStore, d *dispatch.Dispatcher, opts Options) *Evictor {
	if opts.HighWM <= 0 {
		opts.HighWM = DefaultHighWM
	}
	if opts.LowWM <= 0 {
		opts.LowWM = DefaultLowWM
	}
	if opts.LowWM > opts.HighWM {
		opts.LowWM = opts.HighWM
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	return &Evictor{
		reg:    reg,
		idx:    idx,
		cache:  cache,
		d:      d,
		opts:   opts,
		stopCh: make(chan struct{}),
	}
}

// Start runs the eviction loop in a goroutine. No-op when the
// interval is zero or the cache has no usable capacity source.
func (ev *Evictor) Start() {
	if ev.opts.Interval <= 0 {
		return
	}
	if _, _, ok := ev.usage(); !ok {
		logger.Warn().Msg("lru evictor disabled: cache store has no capacity source")
		return
	}

	go func() {
		ticks, stop := utils.JitteredTicker(ev.opts.Interval, defaultJitter)
		defer stop()
		for {
			select {
			case <-ticks:
				ev.Run(context.Background())
			case <-ev.stopCh:
				return
			}
		}
	}()

	logger.Info().
		Dur("interval", ev.opts.Interval).
		Int64("high_wm", ev.opts.HighWM).
		Int64("low_wm", ev.opts.LowWM).
		Msg("lru evictor started")
}

// Stop signals the eviction loop to exit.
func (ev *Evictor) Stop() {
	close(ev.stopCh)
}

// Run performs one capacity check, evicting oldest-first until usage
// is back under the low watermark. Returns the number of objects
// evicted.
func (ev *Evictor) Run(ctx context.Context) int {
	lruRunsTotal.Inc()

	used, total, ok := ev.usage()
	if !ok || total == 0 {
		return 0
	}
	usedPct := used * 100 / total
	lruUsedPercent.Set(float64(usedPct))
	if int64(usedPct) < ev.opts.HighWM {
		return 0
	}

	target := total * uint64(ev.opts.LowWM) / 100
	toFree := used - target

	cands := ev.candidates(time.Now())
	if len(cands) == 0 {
		logger.Warn().
			Str("used", humanize.IBytes(used)).
			Str("capacity", humanize.IBytes(total)).
			Msg("cache above high watermark with nothing evictable")
		return 0
	}

	evicted, freed := ev.evict(ctx, cands, toFree)
	lruEvictionsTotal.Add(float64(evicted))
	lruBytesReclaimed.Add(float64(freed))

	logger.Info().
		Str("used", humanize.IBytes(used)).
		Str("capacity", humanize.IBytes(total)).
		Str("freed", humanize.IBytes(freed)).
		Int("evicted", evicted).
		Msg("lru pass completed")
	return evicted
}

// usage resolves used and total bytes for the cache tier.
func (ev *Evictor) usage() (used, total uint64, ok bool) {
	if ev.opts.Capacity > 0 {
		_, bytes := ev.idx.Stats()
		return uint64(bytes), ev.opts.Capacity, true
	}
	ds, ok := ev.cache.(diskStatter)
	if !ok {
		return 0, 0, false
	}
	stats, err := ds.DiskStats()
	if err != nil {
		logger.Warn().Err(err).Msg("cache disk stats unavailable")
		return 0, 0, false
	}
	return stats.UsedBytes, stats.TotalBytes, true
}

type candidate struct {
	bucket string
	name   string
	size   int64
	atime  int64
}

// candidates walks the index for evictable entries, oldest access
// first. An entry qualifies when its last access predates the
// protection window and a copy survives on a remote tier; evicting a
// sole copy would be deletion, which is never the evictor's call.
func (ev *Evictor) candidates(now time.Time) []candidate {
	names := ev.bucketNames()
	cutoff := now.Add(-ev.opts.DontEvictTime).UnixNano()

	var cands []candidate
	ev.idx.Walk(func(e index.Entry) bool {
		if e.Locations&(index.LocCloud|index.LocNextTier) == 0 {
			return true
		}
		if e.Atime > cutoff {
			return true
		}
		bucket, ok := names[e.Bucket]
		if !ok {
			return true
		}
		cands = append(cands, candidate{bucket: bucket, name: e.Name, size: e.Size, atime: e.Atime})
		return true
	})

	sort.Slice(cands, func(i, j int) bool { return cands[i].atime < cands[j].atime })
	return cands
}

// bucketNames maps bucket ids to their current names.
func (ev *Evictor) bucketNames() map[uuid.UUID]string {
	all := ev.reg.Names(false)
	out := make(map[uuid.UUID]string, len(all.Local)+len(all.Cloud))
	for _, name := range append(all.Cloud, all.Local...) {
		if b, ok := ev.reg.Get(name); ok {
			out[b.ID] = b.Name
		}
	}
	return out
}

// evict dispatches waited evict actions, oldest candidates first,
// until the planned reclaim covers toFree.
func (ev *Evictor) evict(ctx context.Context, cands []candidate, toFree uint64) (evicted int, freed uint64) {
	var take []candidate
	var planned uint64
	for _, c := range cands {
		if planned >= toFree {
			break
		}
		take = append(take, c)
		planned += uint64(c.size)
	}

	byBucket := make(map[string][]candidate)
	for _, c := range take {
		byBucket[c.bucket] = append(byBucket[c.bucket], c)
	}

	for bucket, group := range byBucket {
		for start := 0; start < len(group); start += ev.opts.BatchSize {
			end := start + ev.opts.BatchSize
			if end > len(group) {
				end = len(group)
			}
			batch := group[start:end]

			names := make([]string, len(batch))
			for i, c := range batch {
				names[i] = c.name
			}
			value, err := api.MarshalValue(api.ListMsg{Wait: true, Objnames: names})
			if err != nil {
				logger.Error().Err(err).Msg("lru evict message encode failed")
				return evicted, freed
			}

			res, err := ev.d.Dispatch(ctx, bucket, &api.ActionMsg{
				Action: api.ActionEvict.String(),
				Value:  value,
			})
			if err != nil {
				logger.Warn().Err(err).Str("bucket", bucket).Msg("lru eviction dispatch failed")
				continue
			}

			failed := make(map[string]struct{})
			for _, f := range res.Op.Info().Failures {
				failed[f.Object] = struct{}{}
			}
			for _, c := range batch {
				if _, bad := failed[c.name]; bad {
					continue
				}
				evicted++
				freed += uint64(c.size)
			}
		}
	}
	return evicted, freed
}
