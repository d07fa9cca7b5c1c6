// Copyright 2025 Coldfront Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coldfront/coldfront/pkg/api"
	"github.com/coldfront/coldfront/pkg/api/apierr"
	"github.com/coldfront/coldfront/pkg/logger"
	"github.com/coldfront/coldfront/pkg/selector"
	"github.com/coldfront/coldfront/pkg/stats"
	"github.com/coldfront/coldfront/pkg/types"
)

// batchStat maps a batch action to its tracker counter.
func batchStat(action api.Action) string {
	switch action {
	case api.ActionEvict:
		return stats.EvictCount
	case api.ActionPrefetch:
		return stats.PrefetchCount
	case api.ActionDelete:
		return stats.DeleteCount
	}
	return ""
}

// resolveFunc produces the candidate object set for a batch operation.
type resolveFunc func(ctx context.Context) ([]string, error)

// batch accepts an evict, prefetch, or delete and launches it. Target
// validation happens here, synchronously, so a malformed regex or
// range fails the request rather than the operation.
func (d *Dispatcher) batch(ctx context.Context, action api.Action, bucket string, msg *api.ActionMsg) (Result, error) {
	b, err := d.eng.ResolveBucket(ctx, bucket)
	if err != nil {
		return Result{}, err
	}
	lm, rm, err := msg.DecodeTarget()
	if err != nil {
		return Result{}, err
	}

	var (
		wait     bool
		deadline time.Duration
		resolve  resolveFunc
	)
	if lm != nil {
		wait, deadline = lm.Wait, lm.Deadline
		names := selector.Dedup(lm.Objnames)
		resolve = func(context.Context) ([]string, error) { return names, nil }
	} else {
		wait, deadline = rm.Wait, rm.Deadline
		sel, err := selector.Compile(rm)
		if err != nil {
			return Result{}, err
		}
		resolve = d.rangeResolver(action, b, sel)
	}

	op := newOperation(action, bucket)
	d.track(op)

	// A waited operation lives under the request context; a detached
	// one under the dispatcher's, so it survives the request and ends
	// at Stop.
	base := d.ctx
	if wait {
		base = ctx
	}
	runCtx := base
	var cancel context.CancelFunc
	if deadline > 0 {
		runCtx, cancel = context.WithTimeout(base, deadline)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if cancel != nil {
			defer cancel()
		}
		d.run(runCtx, op, b, resolve)
	}()

	if !wait {
		return Result{Op: op}, nil
	}
	return Result{Op: op}, op.Wait(ctx)
}

// rangeResolver enumerates candidates for a range target. Evict only
// consults the cache index, since an object cached nowhere has
// nothing to evict; delete and prefetch also enumerate the remote
// tier so uncached objects are covered.
func (d *Dispatcher) rangeResolver(action api.Action, b types.Bucket, sel *selector.Selector) resolveFunc {
	return func(ctx context.Context) ([]string, error) {
		names := d.eng.CachedNames(b, sel.Prefix())
		if action != api.ActionEvict {
			remote, err := d.eng.RemoteNames(ctx, b, sel.Prefix())
			if err != nil {
				return nil, err
			}
			names = append(names, remote...)
		}
		matched := names[:0]
		for _, name := range names {
			if sel.Match(name) {
				matched = append(matched, name)
			}
		}
		return selector.Dedup(matched), nil
	}
}

// run drives one operation to its terminal state and retires it into
// the retention window.
func (d *Dispatcher) run(ctx context.Context, op *Operation, b types.Bucket, resolve resolveFunc) {
	operationsRunning.Inc()
	err := d.execute(ctx, op, b, resolve)
	op.finish(err)
	operationsRunning.Dec()

	status := StatusCompleted
	if err != nil {
		status = StatusFailed
	}
	operationsTotal.WithLabelValues(op.action.String(), status.String()).Inc()
	operationDuration.WithLabelValues(op.action.String()).Observe(time.Since(op.started).Seconds())
	d.retire(op.id)

	info := op.Info()
	evt := logger.Info()
	if err != nil {
		evt = logger.Warn().Err(err)
	}
	evt.Str("op", op.id).
		Str("action", op.action.String()).
		Str("bucket", op.bucket).
		Int("objects", info.Objects).
		Int("failed", len(info.Failures)).
		Msg("operation finished")
}

// execute resolves the candidate set and fans it out over a bounded
// worker pool. The context governs admission only: candidates already
// handed to a worker run to completion, cancellation stops the feed
// and fails the operation when anything was left unstarted.
func (d *Dispatcher) execute(ctx context.Context, op *Operation, b types.Bucket, resolve resolveFunc) error {
	op.setStatus(StatusResolving)
	names, err := resolve(ctx)
	if err != nil {
		return err
	}
	op.setTotal(len(names))
	op.setStatus(StatusRunning)

	// A target matching nothing is a successful no-op.
	if len(names) == 0 {
		return nil
	}

	workers := d.workers
	if workers > len(names) {
		workers = len(names)
	}

	jobs := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for name := range jobs {
				d.apply(context.WithoutCancel(ctx), op, b, name)
			}
		}()
	}

	launched := 0
	for _, name := range names {
		if ctx.Err() != nil {
			break
		}
		select {
		case jobs <- name:
			launched++
		case <-ctx.Done():
		}
	}
	close(jobs)
	wg.Wait()

	if skipped := len(names) - launched; skipped > 0 {
		return apierr.NewCancelled(fmt.Sprintf("%s with %d of %d objects pending", op.action, skipped, len(names)))
	}
	return nil
}

// apply runs one per-object sub-operation and attributes its outcome.
func (d *Dispatcher) apply(ctx context.Context, op *Operation, b types.Bucket, name string) {
	var err error
	switch op.action {
	case api.ActionEvict:
		err = d.eng.EvictObject(ctx, b, name)
	case api.ActionPrefetch:
		err = d.eng.PrefetchObject(ctx, b, name)
	case api.ActionDelete:
		err = d.eng.DeleteObject(ctx, b, name)
	default:
		err = apierr.NewValidationf(apierr.CodeInvalidAction, "action %s is not a batch action", op.action)
	}
	op.processed.Add(1)
	if err != nil {
		op.record(name, err)
		objectsProcessed.WithLabelValues(op.action.String(), "error").Inc()
		d.st.Add(stats.ErrCount, 1)
		return
	}
	objectsProcessed.WithLabelValues(op.action.String(), "ok").Inc()
	d.st.Add(batchStat(op.action), 1)
}
