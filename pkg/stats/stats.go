// Copyright 2025 Coldfront Authors
// SPDX-License-Identifier: Apache-2.0

// Package stats keeps the node's named operation counters. Values
// accumulate under short dotted names, are mirrored to Prometheus on
// scrape, and are dumped through the structured logger on a jittered
// interval. A dump only happens when something changed since the last
// one, so an idle node stays quiet.
package stats

import (
	"sort"
	"sync"
	"time"

	"github.com/coldfront/coldfront/pkg/logger"
	"github.com/coldfront/coldfront/pkg/utils"
)

// Counter and latency names. Latency values accumulate in
// microseconds and reset after every dump; counters never reset.
const (
	GetCount      = "get.n"
	PutCount      = "put.n"
	DeleteCount   = "del.n"
	EvictCount    = "evt.n"
	PrefetchCount = "pfc.n"
	ListCount     = "lst.n"
	RenameCount   = "ren.n"

	ErrCount       = "err.n"
	ErrGetCount    = "err.get.n"
	ErrPutCount    = "err.put.n"
	ErrDeleteCount = "err.del.n"
	ErrListCount   = "err.lst.n"

	GetLatency  = "get.µs"
	PutLatency  = "put.µs"
	ListLatency = "lst.µs"
)

const (
	kindCounter = iota
	kindLatency
)

const defaultJitter = 0.1

type entry struct {
	kind    int
	value   int64
	samples int64
}

// NamedVal pairs a stat name with a delta.
type NamedVal struct {
	Name string
	Val  int64
}

// Options tunes the tracker.
type Options struct {
	// Interval between log dumps, jittered per tick. Zero disables
	// the background loop; Dump stays callable.
	Interval time.Duration
}

// Tracker accumulates named values. The name table is fixed at
// construction; adds against unknown names are dropped.
type Tracker struct {
	mu    sync.Mutex
	vals  map[string]*entry
	dirty bool
	start time.Time

	interval time.Duration
	stopCh   chan struct{}
}

// New creates a tracker with the full coldfront name table.
func New(opts Options) *Tracker {
	t := &Tracker{
		vals:     make(map[string]*entry, 16),
		start:    time.Now(),
		interval: opts.Interval,
		stopCh:   make(chan struct{}),
	}
	for _, name := range []string{
		GetCount, PutCount, DeleteCount, EvictCount, PrefetchCount,
		ListCount, RenameCount,
		ErrCount, ErrGetCount, ErrPutCount, ErrDeleteCount, ErrListCount,
	} {
		t.vals[name] = &entry{kind: kindCounter}
	}
	for _, name := range []string{GetLatency, PutLatency, ListLatency} {
		t.vals[name] = &entry{kind: kindLatency}
	}
	return t
}

// Add accumulates val under name. For latency names val is one sample
// in microseconds. Safe on a nil tracker so wiring stays optional.
func (t *Tracker) Add(name string, val int64) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.add(name, val)
	t.mu.Unlock()
}

// AddMany accumulates a batch under one lock.
func (t *Tracker) AddMany(nvs ...NamedVal) {
	if t == nil {
		return
	}
	t.mu.Lock()
	for _, nv := range nvs {
		t.add(nv.Name, nv.Val)
	}
	t.mu.Unlock()
}

func (t *Tracker) add(name string, val int64) {
	e, ok := t.vals[name]
	if !ok {
		return
	}
	e.value += val
	if e.kind == kindLatency {
		e.samples++
	}
	t.dirty = true
}

// Since reports the elapsed time of started as a latency sample.
func (t *Tracker) Since(name string, started time.Time) {
	t.Add(name, int64(time.Since(started)/time.Microsecond))
}

// Snapshot returns current values. Latency names resolve to the
// average over samples accumulated since the last dump.
func (t *Tracker) Snapshot() map[string]int64 {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]int64, len(t.vals))
	for name, e := range t.vals {
		out[name] = e.resolve()
	}
	return out
}

func (e *entry) resolve() int64 {
	if e.kind == kindLatency {
		if e.samples == 0 {
			return 0
		}
		return e.value / e.samples
	}
	return e.value
}

// Uptime reports time since the tracker was created.
func (t *Tracker) Uptime() time.Duration {
	return time.Since(t.start)
}

// Start runs the periodic dump loop in a goroutine. No-op when the
// interval is zero.
func (t *Tracker) Start() {
	if t.interval <= 0 {
		return
	}
	go func() {
		ticks, stop := utils.JitteredTicker(t.interval, defaultJitter)
		defer stop()
		for {
			select {
			case <-ticks:
				t.Dump()
			case <-t.stopCh:
				return
			}
		}
	}()
}

// Stop signals the dump loop to exit.
func (t *Tracker) Stop() {
	close(t.stopCh)
}

// Dump logs all non-zero values on one line and resets the latency
// accumulators. Returns false when nothing changed since the last
// dump, in which case nothing is logged.
func (t *Tracker) Dump() bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	if !t.dirty {
		t.mu.Unlock()
		return false
	}

	names := make([]string, 0, len(t.vals))
	for name, e := range t.vals {
		if e.value == 0 {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	ev := logger.Info()
	for _, name := range names {
		ev = ev.Int64(name, t.vals[name].resolve())
	}
	for _, e := range t.vals {
		if e.kind == kindLatency {
			e.value, e.samples = 0, 0
		}
	}
	t.dirty = false
	t.mu.Unlock()

	ev.Dur("uptime", t.Uptime()).Msg("stats")
	return true
}
