// Copyright 2025 Coldfront Authors
// SPDX-License-Identifier: Apache-2.0

// Package dispatch routes parsed bucket and object actions to the
// registry and the tiering engine. Bucket metadata actions and
// listobjects execute synchronously; batch actions (evict, prefetch,
// delete) resolve a candidate object set and fan out across a worker
// pool, either waited on by the caller or detached. Finished
// operations stay queryable until the retention window pushes them
// out.
package dispatch

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coldfront/coldfront/pkg/api"
	"github.com/coldfront/coldfront/pkg/api/apierr"
	"github.com/coldfront/coldfront/pkg/logger"
	"github.com/coldfront/coldfront/pkg/registry"
	"github.com/coldfront/coldfront/pkg/stats"
	"github.com/coldfront/coldfront/pkg/tiering"
	"github.com/coldfront/coldfront/pkg/types"
)

const (
	// DefaultWorkers is the per-operation fan-out width.
	DefaultWorkers = 8

	// DefaultRetain is how many finished operations stay queryable.
	DefaultRetain = 512

	// DefaultShutdownTimeout bounds the drain on Stop.
	DefaultShutdownTimeout = 30 * time.Second
)

// Options configures a Dispatcher.
type Options struct {
	// Workers is the number of per-object sub-operations one batch
	// operation runs in parallel. Zero means DefaultWorkers.
	Workers int

	// Retain is the number of finished operations kept for status
	// queries. Zero means DefaultRetain.
	Retain int

	// ShutdownTimeout is how long Stop waits for in-flight
	// operations to drain.
	ShutdownTimeout time.Duration

	// Stats receives the named operation counters. Optional.
	Stats *stats.Tracker
}

// Dispatcher validates incoming actions and executes them. One
// instance serves a node; operations on disjoint objects proceed in
// parallel, bounded per operation by the worker width.
type Dispatcher struct {
	reg *registry.Registry
	eng *tiering.Engine
	st  *stats.Tracker

	workers         int
	retain          int
	shutdownTimeout time.Duration

	mu   sync.Mutex
	ops  map[string]*Operation
	done []string // finished operation ids, oldest first

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped atomic.Bool
}

// New creates a Dispatcher. Detached operations run until Stop.
func New(reg *registry.Registry, eng *tiering.Engine, opts Options) *Dispatcher {
	if opts.Workers < 1 {
		opts.Workers = DefaultWorkers
	}
	if opts.Retain < 1 {
		opts.Retain = DefaultRetain
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		reg:             reg,
		eng:             eng,
		st:              opts.Stats,
		workers:         opts.Workers,
		retain:          opts.Retain,
		shutdownTimeout: opts.ShutdownTimeout,
		ops:             make(map[string]*Operation),
		ctx:             ctx,
		cancel:          cancel,
	}
}

// Stop cancels detached operations and waits for in-flight per-object
// work to finish, up to the shutdown timeout.
func (d *Dispatcher) Stop() {
	if !d.stopped.CompareAndSwap(false, true) {
		return
	}
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("dispatcher drained")
	case <-time.After(d.shutdownTimeout):
		logger.Warn().Msg("dispatcher shutdown timed out")
	}
}

// Result is the synchronous payload of a dispatched action. Bucket is
// set for bucket metadata actions, List for listobjects, and Op for
// batch actions.
type Result struct {
	Bucket types.Bucket
	List   *api.BucketList
	Op     *Operation
}

// Dispatch validates msg against bucket and runs the action. Batch
// actions return an operation handle; when the message asked to wait,
// the handle is already terminal on return.
func (d *Dispatcher) Dispatch(ctx context.Context, bucket string, msg *api.ActionMsg) (Result, error) {
	action, err := msg.ParsedAction()
	if err != nil {
		return Result{}, err
	}
	if err := checkShape(action, msg); err != nil {
		return Result{}, err
	}

	switch action {
	case api.ActionCreateLB:
		b, err := d.reg.Create(bucket)
		if err != nil {
			return Result{}, err
		}
		logger.Info().Str("bucket", bucket).Msg("bucket created")
		return Result{Bucket: b}, nil

	case api.ActionDestroyLB:
		return d.destroy(ctx, bucket)

	case api.ActionRenameLB:
		b, err := d.reg.Rename(bucket, msg.Name)
		if err != nil {
			return Result{}, err
		}
		d.st.Add(stats.RenameCount, 1)
		logger.Info().Str("bucket", bucket).Str("to", msg.Name).Msg("bucket renamed")
		return Result{Bucket: b}, nil

	case api.ActionSetProps:
		return d.setProps(ctx, bucket, msg)

	case api.ActionListObjects:
		return d.list(ctx, bucket, msg)

	default:
		return d.batch(ctx, action, bucket, msg)
	}
}

// destroy removes the bucket record first, so no new operation can
// resolve the name, then drops its cached data by bucket id.
func (d *Dispatcher) destroy(ctx context.Context, bucket string) (Result, error) {
	b, err := d.reg.Destroy(bucket)
	if err != nil {
		return Result{}, err
	}
	dropped := d.eng.DropBucketData(ctx, b)
	logger.Info().Str("bucket", bucket).Int("objects", dropped).Msg("bucket destroyed")
	return Result{Bucket: b}, nil
}

// setProps applies a partial properties update: the payload decodes
// on top of the current record, so absent fields keep their values.
func (d *Dispatcher) setProps(ctx context.Context, bucket string, msg *api.ActionMsg) (Result, error) {
	b, err := d.eng.ResolveBucket(ctx, bucket)
	if err != nil {
		return Result{}, err
	}
	next := b.Props
	if err := msg.PropsInto(&next); err != nil {
		return Result{}, err
	}
	nb, err := d.reg.SetProps(b.Name, next)
	if err != nil {
		return Result{}, err
	}
	return Result{Bucket: nb}, nil
}

func (d *Dispatcher) list(ctx context.Context, bucket string, msg *api.ActionMsg) (Result, error) {
	started := time.Now()
	b, err := d.eng.ResolveBucket(ctx, bucket)
	if err != nil {
		return Result{}, err
	}
	gm, err := msg.ListMsgValue()
	if err != nil {
		return Result{}, err
	}
	page, err := d.eng.ListBucket(ctx, b, gm)
	if err != nil {
		d.st.Add(stats.ErrListCount, 1)
		return Result{}, err
	}
	d.st.Add(stats.ListCount, 1)
	d.st.Since(stats.ListLatency, started)
	return Result{List: page}, nil
}

// checkShape rejects payload/action mismatches before touching any
// state. Bucket metadata actions carry no batch target; setprops is
// the one taking a payload, and its decoder enforces presence.
func checkShape(action api.Action, msg *api.ActionMsg) error {
	if action.IsBucketLevel() && !action.RequiresValue() && len(msg.Value) != 0 {
		return apierr.NewValidationf(apierr.CodeInvalidAction, "action %s takes no value payload", action)
	}
	return nil
}

// Get returns a tracked operation by id.
func (d *Dispatcher) Get(id string) (*Operation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	op, ok := d.ops[id]
	if !ok {
		return nil, apierr.NewOperationNotFound(id)
	}
	return op, nil
}

// List snapshots every tracked operation, oldest first.
func (d *Dispatcher) List() []OperationInfo {
	return d.ListAction(api.ActionUnknown)
}

// ListAction snapshots tracked operations of one action kind, oldest
// first. ActionUnknown lists everything.
func (d *Dispatcher) ListAction(action api.Action) []OperationInfo {
	d.mu.Lock()
	infos := make([]OperationInfo, 0, len(d.ops))
	for _, op := range d.ops {
		if action != api.ActionUnknown && op.action != action {
			continue
		}
		infos = append(infos, op.Info())
	}
	d.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Started.Equal(infos[j].Started) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].Started.Before(infos[j].Started)
	})
	return infos
}

func (d *Dispatcher) track(op *Operation) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ops[op.id] = op
}

// retire moves a finished operation into the retention window and
// drops the oldest beyond it. Running operations are never dropped.
func (d *Dispatcher) retire(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.done = append(d.done, id)
	for len(d.done) > d.retain {
		delete(d.ops, d.done[0])
		d.done = d.done[1:]
	}
}
