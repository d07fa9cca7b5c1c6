package tiering

import (
	"context"
	"fmt"

	"github.com/coldfront/coldfront/pkg/api"
	"github.com/coldfront/coldfront/pkg/api/apierr"
	"github.com/coldfront/coldfront/pkg/backend"
	"github.com/coldfront/coldfront/pkg/index"
	"github.com/coldfront/coldfront/pkg/logger"
	"github.com/coldfront/coldfront/pkg/types"
)

// HeadObject returns object metadata without the payload. With
// checkCached set, only the cache is consulted and a miss reports
// ObjectNotCached; otherwise a miss falls through to the read tiers.
func (e *Engine) HeadObject(ctx context.Context, b types.Bucket, object string, checkCached bool) (types.ObjectInfo, error) {
	if err := api.ValidateObjectName(object); err != nil {
		return types.ObjectInfo{}, err
	}
	if ent, ok := e.idx.Lookup(b.ID, object); ok {
		return objInfo(b, ent, ent.Atime), nil
	}
	if checkCached {
		return types.ObjectInfo{}, apierr.NewObjectNotCached(b.Name, object)
	}

	var lastErr error
	for _, t := range e.resolveRead(b) {
		attrs, err := t.store.Head(ctx, b.Name, object)
		if err == nil {
			return types.ObjectInfo{
				Bucket:  b.Name,
				Name:    object,
				Size:    attrs.Size,
				Cksum:   attrs.Cksum,
				Version: attrs.Version,
			}, nil
		}
		if backend.IsNotFound(err) {
			continue
		}
		lastErr = fmt.Errorf("head %s/%s from %s: %w", b.Name, object, t.kind, err)
	}
	if lastErr != nil {
		return types.ObjectInfo{}, lastErr
	}
	return types.ObjectInfo{}, apierr.NewObjectNotFound(b.Name, object)
}

// DeleteObject removes the object from every tier that holds it: the
// cache copy, a next tier copy it was replicated to, and the cloud
// copy for cloud-backed buckets. Deleting an object that exists
// nowhere is an error, not a no-op.
func (e *Engine) DeleteObject(ctx context.Context, b types.Bucket, object string) error {
	if err := api.ValidateObjectName(object); err != nil {
		return err
	}

	name := lockName(b, object)
	e.locks.Lock(name, true)
	ent, cached := e.idx.Delete(b.ID, object)
	var cacheErr error
	if cached {
		cacheErr = e.cache.Delete(ctx, cacheKey(b), object)
	}
	e.locks.Unlock(name, true)
	if cacheErr != nil && !backend.IsNotFound(cacheErr) {
		return fmt.Errorf("delete cached %s/%s: %w", b.Name, object, cacheErr)
	}

	if cached && ent.Locations.Has(index.LocNextTier) && b.Props.NextTierURL != "" {
		if nt, err := e.nextTierFor(b.Props.NextTierURL); err == nil {
			if err := nt.Delete(ctx, b.Name, object); err != nil && !backend.IsNotFound(err) {
				logger.Ctx(ctx).Warn().Err(err).
					Str("bucket", b.Name).
					Str("object", object).
					Msg("next tier delete failed")
			}
		}
	}

	if b.Local {
		if !cached {
			return apierr.NewObjectNotFound(b.Name, object)
		}
		return nil
	}

	cs, err := e.cloudStore(b)
	if err != nil {
		return apierr.NewInternal(err)
	}
	if !cached {
		exists, err := cs.Exists(ctx, b.Name, object)
		if err != nil {
			return fmt.Errorf("check %s/%s: %w", b.Name, object, err)
		}
		if !exists {
			return apierr.NewObjectNotFound(b.Name, object)
		}
	}
	if err := cs.Delete(ctx, b.Name, object); err != nil {
		if backend.IsNotFound(err) {
			return apierr.NewObjectNotFound(b.Name, object)
		}
		return fmt.Errorf("delete cloud %s/%s: %w", b.Name, object, err)
	}
	return nil
}

// EvictObject drops the cache copy and nothing else. Evicting an
// object with no cache copy succeeds quietly when a remote tier may
// still hold it, and reports NoSuchObject when the cache was the only
// possible location.
func (e *Engine) EvictObject(ctx context.Context, b types.Bucket, object string) error {
	if err := api.ValidateObjectName(object); err != nil {
		return err
	}

	name := lockName(b, object)
	e.locks.Lock(name, true)
	defer e.locks.Unlock(name, true)

	if _, ok := e.idx.Evict(b.ID, object); !ok {
		if b.Local && b.Props.NextTierURL == "" {
			return apierr.NewObjectNotFound(b.Name, object)
		}
		return nil
	}
	if err := e.cache.Delete(ctx, cacheKey(b), object); err != nil && !backend.IsNotFound(err) {
		return fmt.Errorf("evict %s/%s: %w", b.Name, object, err)
	}
	return nil
}

// PrefetchObject warms the cache with a copy from the bucket's remote
// tiers. Already resident objects are left alone.
func (e *Engine) PrefetchObject(ctx context.Context, b types.Bucket, object string) error {
	if err := api.ValidateObjectName(object); err != nil {
		return err
	}
	if _, ok := e.idx.Lookup(b.ID, object); ok {
		return nil
	}
	_, err := e.fetchToCache(ctx, b, object)
	return err
}

// DropBucketData wipes the bucket's index entries and cache footprint.
// Used by bucket destroy; remote tiers are never touched.
func (e *Engine) DropBucketData(ctx context.Context, b types.Bucket) int {
	n := e.idx.DropBucket(b.ID)
	if rm, ok := e.cache.(backend.BucketRemover); ok {
		if err := rm.RemoveBucket(ctx, cacheKey(b)); err != nil && !backend.IsNotFound(err) {
			logger.Ctx(ctx).Warn().Err(err).
				Str("bucket", b.Name).
				Msg("removing bucket cache data failed")
		}
	}
	return n
}
