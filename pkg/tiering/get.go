// Copyright 2025 Coldfront Authors
// SPDX-License-Identifier: Apache-2.0

package tiering

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/coldfront/coldfront/pkg/api"
	"github.com/coldfront/coldfront/pkg/api/apierr"
	"github.com/coldfront/coldfront/pkg/backend"
	"github.com/coldfront/coldfront/pkg/checksum"
	"github.com/coldfront/coldfront/pkg/index"
	"github.com/coldfront/coldfront/pkg/logger"
	"github.com/coldfront/coldfront/pkg/types"
	"github.com/coldfront/coldfront/pkg/utils"
)

// errNotCached reports that the object has no cache copy right now. It
// stays internal to the engine; callers see NoSuchObject instead.
var errNotCached = errors.New("tiering: object not cached")

// GetObject streams the object to w, fetching it from the bucket's
// remote tiers first if the cache misses. The returned info reflects
// the served copy.
func (e *Engine) GetObject(ctx context.Context, b types.Bucket, object string, w io.Writer) (types.ObjectInfo, error) {
	if err := api.ValidateObjectName(object); err != nil {
		return types.ObjectInfo{}, err
	}
	info, err := e.serveWarm(ctx, b, object, w, false)
	if err == nil {
		getsTotal.WithLabelValues("warm").Inc()
		return info, nil
	}
	if !errors.Is(err, errNotCached) {
		return types.ObjectInfo{}, err
	}

	if _, err := e.fetchToCache(ctx, b, object); err != nil {
		return types.ObjectInfo{}, err
	}
	// The fetch already verified the payload; skip warm validation on
	// this pass.
	info, err = e.serveWarm(ctx, b, object, w, true)
	if errors.Is(err, errNotCached) {
		// Evicted in the window between fetch and serve.
		return types.ObjectInfo{}, apierr.NewObjectNotFound(b.Name, object)
	}
	if err == nil {
		getsTotal.WithLabelValues("cold").Inc()
	}
	return info, err
}

// GetObjectRange streams length bytes starting at offset. A negative
// length means through the end of the object. Misses are fetched whole
// before the range is served from the cache copy.
func (e *Engine) GetObjectRange(ctx context.Context, b types.Bucket, object string, offset, length int64, w io.Writer) (types.ObjectInfo, error) {
	if err := api.ValidateObjectName(object); err != nil {
		return types.ObjectInfo{}, err
	}
	if offset < 0 {
		return types.ObjectInfo{}, apierr.NewValidationf(apierr.CodeInvalidArgument, "negative range offset %d", offset)
	}
	if _, ok := e.idx.Lookup(b.ID, object); !ok {
		if _, err := e.fetchToCache(ctx, b, object); err != nil {
			return types.ObjectInfo{}, err
		}
	}

	name := lockName(b, object)
	e.locks.Lock(name, false)
	info, err := e.serveRangeLocked(ctx, b, object, offset, length, w)
	e.locks.Unlock(name, false)
	if errors.Is(err, errNotCached) {
		return types.ObjectInfo{}, apierr.NewObjectNotFound(b.Name, object)
	}
	return info, err
}

// serveWarm serves the cached copy under a shared name lock. When warm
// validation finds a corrupt copy and the bucket has a remote tier to
// refetch from, the copy is dropped and errNotCached returned so the
// caller takes the cold path; without a remote tier the mismatch is
// surfaced as the error it is.
func (e *Engine) serveWarm(ctx context.Context, b types.Bucket, object string, w io.Writer, skipValidate bool) (types.ObjectInfo, error) {
	name := lockName(b, object)
	e.locks.Lock(name, false)
	info, ent, err := e.serveCachedLocked(ctx, b, object, w, skipValidate)
	e.locks.Unlock(name, false)
	if err == nil || !apierr.IsChecksumMismatch(err) {
		return info, err
	}

	checksumFailures.WithLabelValues("warm").Inc()
	if len(e.resolveRead(b)) == 0 {
		return types.ObjectInfo{}, err
	}
	logger.Ctx(ctx).Warn().
		Str("bucket", b.Name).
		Str("object", object).
		Msg("cached copy failed checksum validation, dropping for refetch")
	e.dropCopy(ctx, b, object, ent)
	return types.ObjectInfo{}, errNotCached
}

func (e *Engine) serveCachedLocked(ctx context.Context, b types.Bucket, object string, w io.Writer, skipValidate bool) (types.ObjectInfo, index.Entry, error) {
	ent, ok := e.idx.Lookup(b.ID, object)
	if !ok {
		return types.ObjectInfo{}, index.Entry{}, errNotCached
	}

	if !skipValidate && b.Props.Cksum.ValidateWarmGet && ent.Cksum.IsSet() {
		got, err := e.rehash(ctx, b, ent)
		if err != nil {
			return types.ObjectInfo{}, ent, err
		}
		if err := e.validateChecksum(b, object, ent.Cksum, got); err != nil {
			return types.ObjectInfo{}, ent, err
		}
	}

	rc, err := e.cache.Read(ctx, cacheKey(b), object)
	if err != nil {
		if backend.IsNotFound(err) {
			return types.ObjectInfo{}, ent, errNotCached
		}
		return types.ObjectInfo{}, ent, fmt.Errorf("read cached %s/%s: %w", b.Name, object, err)
	}
	_, err = utils.CopyBuffer(w, rc)
	rc.Close()
	if err != nil {
		return types.ObjectInfo{}, ent, fmt.Errorf("send %s/%s: %w", b.Name, object, err)
	}

	now := time.Now().UnixNano()
	e.idx.Touch(b.ID, object, now)
	return objInfo(b, ent, now), ent, nil
}

// serveRangeLocked serves bytes [offset, offset+length) from the cache
// copy. With EnableReadRange set the digest of the served slice is
// computed on the fly and returned in the info; otherwise the whole
// cached copy is validated up front and the object's digest returned.
func (e *Engine) serveRangeLocked(ctx context.Context, b types.Bucket, object string, offset, length int64, w io.Writer) (types.ObjectInfo, error) {
	ent, ok := e.idx.Lookup(b.ID, object)
	if !ok {
		return types.ObjectInfo{}, errNotCached
	}
	if offset > ent.Size {
		return types.ObjectInfo{}, apierr.NewValidationf(apierr.CodeInvalidArgument,
			"range offset %d beyond object size %d", offset, ent.Size)
	}

	wantValidate := b.Props.Cksum.ValidateWarmGet && ent.Cksum.IsSet()
	if wantValidate && !b.Props.Cksum.EnableReadRange {
		got, err := e.rehash(ctx, b, ent)
		if err != nil {
			return types.ObjectInfo{}, err
		}
		if err := e.validateChecksum(b, object, ent.Cksum, got); err != nil {
			checksumFailures.WithLabelValues("warm").Inc()
			return types.ObjectInfo{}, err
		}
	}

	rc, err := e.cache.ReadRange(ctx, cacheKey(b), object, offset, length)
	if err != nil {
		if backend.IsNotFound(err) {
			return types.ObjectInfo{}, errNotCached
		}
		return types.ObjectInfo{}, fmt.Errorf("read cached range %s/%s: %w", b.Name, object, err)
	}
	defer rc.Close()

	now := time.Now().UnixNano()
	info := objInfo(b, ent, now)
	if wantValidate && b.Props.Cksum.EnableReadRange {
		h, err := checksum.NewHasher(ent.Cksum.Type)
		if err != nil {
			return types.ObjectInfo{}, err
		}
		defer h.Release()
		if _, err := utils.CopyBuffer(io.MultiWriter(w, h), rc); err != nil {
			return types.ObjectInfo{}, fmt.Errorf("send %s/%s: %w", b.Name, object, err)
		}
		info.Cksum = h.Sum()
	} else {
		if _, err := utils.CopyBuffer(w, rc); err != nil {
			return types.ObjectInfo{}, fmt.Errorf("send %s/%s: %w", b.Name, object, err)
		}
	}
	e.idx.Touch(b.ID, object, now)
	return info, nil
}

// rehash recomputes the digest of the cached copy with the algorithm it
// was recorded under.
func (e *Engine) rehash(ctx context.Context, b types.Bucket, ent index.Entry) (types.Cksum, error) {
	h, err := checksum.NewHasher(ent.Cksum.Type)
	if err != nil {
		return types.Cksum{}, err
	}
	defer h.Release()
	rc, err := e.cache.Read(ctx, cacheKey(b), ent.Name)
	if err != nil {
		return types.Cksum{}, fmt.Errorf("read cached %s/%s: %w", b.Name, ent.Name, err)
	}
	defer rc.Close()
	if _, err := utils.CopyBuffer(h, rc); err != nil {
		return types.Cksum{}, fmt.Errorf("hash cached %s/%s: %w", b.Name, ent.Name, err)
	}
	return h.Sum(), nil
}

// dropCopy removes the cache copy and its index entry, but only while
// the entry still matches the one the caller decided to drop. A newer
// write owns the name and is left alone.
func (e *Engine) dropCopy(ctx context.Context, b types.Bucket, object string, ent index.Entry) {
	name := lockName(b, object)
	e.locks.Lock(name, true)
	defer e.locks.Unlock(name, true)
	cur, ok := e.idx.Lookup(b.ID, object)
	if !ok || cur.Cksum != ent.Cksum || cur.Size != ent.Size {
		return
	}
	e.idx.Evict(b.ID, object)
	if err := e.cache.Delete(ctx, cacheKey(b), object); err != nil && !backend.IsNotFound(err) {
		logger.Ctx(ctx).Warn().Err(err).
			Str("bucket", b.Name).
			Str("object", object).
			Msg("dropping cache copy failed")
	}
}

// fetchToCache pulls the object from the bucket's remote tiers into the
// cache. Concurrent fetches of the same object are collapsed into one
// download.
func (e *Engine) fetchToCache(ctx context.Context, b types.Bucket, object string) (index.Entry, error) {
	key := lockName(b, object)
	v, err, shared := e.flight.Do(key, func() (any, error) {
		return e.fetchObject(ctx, b, object)
	})
	if shared {
		fetchesShared.Inc()
	}
	if err != nil {
		return index.Entry{}, err
	}
	return v.(index.Entry), nil
}

func (e *Engine) fetchObject(ctx context.Context, b types.Bucket, object string) (index.Entry, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return index.Entry{}, err
		}
	}
	tiers := e.resolveRead(b)
	if len(tiers) == 0 {
		return index.Entry{}, apierr.NewObjectNotFound(b.Name, object)
	}

	name := lockName(b, object)
	e.locks.Lock(name, true)
	defer e.locks.Unlock(name, true)

	// A writer may have landed the object while we waited for the lock.
	if cur, ok := e.idx.Lookup(b.ID, object); ok {
		return cur, nil
	}

	var lastErr error
	for _, t := range tiers {
		ent, err := e.fetchFromTier(ctx, b, object, t)
		if err == nil {
			return ent, nil
		}
		if backend.IsNotFound(err) || apierr.IsNotFound(err) {
			lastErr = apierr.NewObjectNotFound(b.Name, object)
			continue
		}
		logger.Ctx(ctx).Warn().Err(err).
			Str("bucket", b.Name).
			Str("object", object).
			Str("tier", t.kind).
			Msg("cold fetch failed, trying next tier")
		lastErr = err
	}
	return index.Entry{}, lastErr
}

// fetchFromTier downloads one object from one tier into the cache and
// commits its index entry. Caller holds the exclusive name lock.
func (e *Engine) fetchFromTier(ctx context.Context, b types.Bucket, object string, t remoteTier) (index.Entry, error) {
	attrs, err := t.store.Head(ctx, b.Name, object)
	if err != nil {
		return index.Entry{}, err
	}
	rc, err := t.store.Read(ctx, b.Name, object)
	if err != nil {
		return index.Entry{}, err
	}
	defer rc.Close()

	algo := checksum.Resolve(b.Props.Cksum, e.defaultAlgo)
	var body io.Reader = rc

	var hr *checksum.Reader
	if algo != types.ChecksumNone {
		hr, err = checksum.NewReader(algo, body)
		if err != nil {
			return index.Entry{}, err
		}
		defer hr.Release()
		body = hr
	}

	// When the tier declares a digest we can verify, tee the payload
	// through a second hasher unless the bucket's own algorithm already
	// matches it.
	validate := b.Props.Cksum.ValidateColdGet && attrs.Cksum.IsSet() && checksum.Supported(attrs.Cksum.Type)
	var vr *checksum.Hasher
	if validate && (hr == nil || attrs.Cksum.Type != algo) {
		vr, err = checksum.NewHasher(attrs.Cksum.Type)
		if err != nil {
			return index.Entry{}, err
		}
		defer vr.Release()
		body = io.TeeReader(body, vr)
	}

	if err := e.cache.Write(ctx, cacheKey(b), object, body, attrs.Size); err != nil {
		return index.Entry{}, fmt.Errorf("cache %s/%s: %w", b.Name, object, err)
	}
	coldBytes.Add(float64(attrs.Size))

	if validate {
		var got types.Cksum
		if vr != nil {
			got = vr.Sum()
		} else {
			got = hr.Sum()
		}
		if err := e.validateChecksum(b, object, attrs.Cksum, got); err != nil {
			checksumFailures.WithLabelValues("cold").Inc()
			if derr := e.cache.Delete(ctx, cacheKey(b), object); derr != nil && !backend.IsNotFound(derr) {
				logger.Ctx(ctx).Warn().Err(derr).
					Str("bucket", b.Name).
					Str("object", object).
					Msg("dropping rejected cold payload failed")
			}
			return index.Entry{}, err
		}
	}

	ent := index.Entry{
		Bucket:    b.ID,
		Name:      object,
		Size:      attrs.Size,
		Version:   attrs.Version,
		Atime:     time.Now().UnixNano(),
		Locations: index.LocCache | t.loc,
	}
	if hr != nil {
		ent.Cksum = hr.Sum()
	}
	e.idx.Upsert(ent)
	return ent, nil
}
