// Copyright 2025 Coldfront Authors
// SPDX-License-Identifier: Apache-2.0

package tiering

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/coldfront/coldfront/pkg/api"
	"github.com/coldfront/coldfront/pkg/api/apierr"
	"github.com/coldfront/coldfront/pkg/checksum"
	"github.com/coldfront/coldfront/pkg/index"
	"github.com/coldfront/coldfront/pkg/logger"
	"github.com/coldfront/coldfront/pkg/types"
)

// PutObject writes the object into the cache and replicates it to the
// bucket's write tiers. For a cloud-backed bucket the write only
// succeeds once a remote tier holds the payload; a local bucket's
// next tier copy is best effort. size may be negative when unknown.
func (e *Engine) PutObject(ctx context.Context, b types.Bucket, object string, r io.Reader, size int64) (types.ObjectInfo, error) {
	if err := api.ValidateObjectName(object); err != nil {
		return types.ObjectInfo{}, err
	}

	algo := checksum.Resolve(b.Props.Cksum, e.defaultAlgo)
	body := r
	var hr *checksum.Reader
	if algo != types.ChecksumNone {
		var err error
		hr, err = checksum.NewReader(algo, r)
		if err != nil {
			return types.ObjectInfo{}, apierr.NewValidationf(apierr.CodeInvalidProps,
				"checksum algorithm %q: %v", algo, err)
		}
		defer hr.Release()
		body = hr
	}

	name := lockName(b, object)
	e.locks.Lock(name, true)
	prev, hadPrev := e.idx.Lookup(b.ID, object)

	// The cache stores write to the side and rename on success, so a
	// failed write leaves any previous copy intact.
	if err := e.cache.Write(ctx, cacheKey(b), object, body, size); err != nil {
		e.locks.Unlock(name, true)
		return types.ObjectInfo{}, fmt.Errorf("write cache %s/%s: %w", b.Name, object, err)
	}

	written := size
	if written < 0 {
		attrs, err := e.cache.Head(ctx, cacheKey(b), object)
		if err != nil {
			e.locks.Unlock(name, true)
			return types.ObjectInfo{}, fmt.Errorf("stat cached %s/%s: %w", b.Name, object, err)
		}
		written = attrs.Size
	}

	ent := index.Entry{
		Bucket:    b.ID,
		Name:      object,
		Size:      written,
		Atime:     time.Now().UnixNano(),
		Locations: index.LocCache,
	}
	if hr != nil {
		ent.Cksum = hr.Sum()
	}
	if b.Local && b.Props.Versioning.Enabled(b.Local) {
		ent.Version = nextVersion(prev.Version, hadPrev)
	}
	e.idx.Upsert(ent)
	e.locks.Unlock(name, true)

	tiers := e.resolveWrite(b)
	var repErr error
	switch {
	case len(tiers) > 0:
		repErr = e.replicate(ctx, b, object, ent, tiers)
	case !b.Local:
		repErr = apierr.NewInternal(fmt.Errorf("no write tier available for bucket %s", b.Name))
	}
	if repErr != nil {
		if b.Local {
			logger.Ctx(ctx).Warn().Err(repErr).
				Str("bucket", b.Name).
				Str("object", object).
				Msg("next tier replication failed")
		} else {
			// The authoritative copy never landed; the cache must not
			// pretend otherwise.
			e.dropCopy(ctx, b, object, ent)
			return types.ObjectInfo{}, repErr
		}
	}

	putsTotal.Inc()
	// Replication may have amended the entry with the remote version.
	if cur, ok := e.idx.Lookup(b.ID, object); ok && cur.Cksum == ent.Cksum && cur.Size == ent.Size {
		ent = cur
	}
	return objInfo(b, ent, ent.Atime), nil
}

// replicate pushes the committed cache copy to the first write tier
// that accepts it. Each attempt re-reads the cache so a fallback tier
// gets a whole stream.
func (e *Engine) replicate(ctx context.Context, b types.Bucket, object string, ent index.Entry, tiers []remoteTier) error {
	var lastErr error
	for _, t := range tiers {
		rc, err := e.cache.Read(ctx, cacheKey(b), object)
		if err != nil {
			return fmt.Errorf("read back %s/%s: %w", b.Name, object, err)
		}
		err = t.store.Write(ctx, b.Name, object, rc, ent.Size)
		rc.Close()
		if err != nil {
			lastErr = fmt.Errorf("replicate %s/%s to %s: %w", b.Name, object, t.kind, err)
			logger.Ctx(ctx).Warn().Err(err).
				Str("bucket", b.Name).
				Str("object", object).
				Str("tier", t.kind).
				Msg("replication failed, trying next tier")
			continue
		}
		replicatedBytes.Add(float64(ent.Size))
		e.afterReplicate(ctx, b, object, ent, t)
		return nil
	}
	return lastErr
}

// afterReplicate records the tier location on the entry, plus the
// version the cloud assigned when the bucket tracks cloud versions. The
// entry is only amended while it still belongs to this write.
func (e *Engine) afterReplicate(ctx context.Context, b types.Bucket, object string, ent index.Entry, t remoteTier) {
	ver := ent.Version
	if !b.Local && t.loc == index.LocCloud && b.Props.Versioning.Enabled(b.Local) {
		attrs, err := t.store.Head(ctx, b.Name, object)
		if err != nil {
			logger.Ctx(ctx).Warn().Err(err).
				Str("bucket", b.Name).
				Str("object", object).
				Msg("reading replicated version failed")
		} else {
			ver = attrs.Version
		}
	}

	name := lockName(b, object)
	e.locks.Lock(name, true)
	defer e.locks.Unlock(name, true)
	cur, ok := e.idx.Lookup(b.ID, object)
	if !ok || cur.Cksum != ent.Cksum || cur.Size != ent.Size {
		return
	}
	cur.Locations |= t.loc
	cur.Version = ver
	e.idx.Upsert(cur)
}

// nextVersion advances a locally tracked version counter. Anything
// unparsable, including the empty version of a bucket that had
// versioning switched on later, restarts the count.
func nextVersion(cur string, had bool) string {
	if !had {
		return "1"
	}
	n, err := strconv.ParseInt(cur, 10, 64)
	if err != nil || n < 1 {
		return "1"
	}
	return strconv.FormatInt(n+1, 10)
}
