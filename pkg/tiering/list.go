// Copyright 2025 Coldfront Authors
// SPDX-License-Identifier: Apache-2.0

package tiering

import (
	"context"
	"fmt"

	"github.com/coldfront/coldfront/pkg/api"
	"github.com/coldfront/coldfront/pkg/api/apierr"
	"github.com/coldfront/coldfront/pkg/backend"
	"github.com/coldfront/coldfront/pkg/types"
)

// ListBucket returns one page of the bucket's objects. Local buckets
// list the cache index; cloud-backed buckets list the cloud and
// annotate entries that also have a cache copy. Names always come
// back, other properties only when the message asks for them.
func (e *Engine) ListBucket(ctx context.Context, b types.Bucket, msg *api.GetMsg) (*api.BucketList, error) {
	if b.Local {
		return e.listCached(b, msg), nil
	}
	return e.listCloud(ctx, b, msg)
}

func (e *Engine) listCached(b types.Bucket, msg *api.GetMsg) *api.BucketList {
	entries, next := e.idx.ListCached(b.ID, msg.Prefix, msg.PageMarker, msg.EffectivePageSize())
	out := &api.BucketList{
		Entries:    make([]types.ObjectEntry, 0, len(entries)),
		PageMarker: next,
	}
	for _, ent := range entries {
		out.Entries = append(out.Entries, listedEntry(msg, types.ObjectEntry{
			Name:     ent.Name,
			Size:     ent.Size,
			Checksum: ent.Cksum.Value,
			Version:  ent.Version,
			Atime:    ent.Atime,
			IsCached: true,
		}))
	}
	return out
}

func (e *Engine) listCloud(ctx context.Context, b types.Bucket, msg *api.GetMsg) (*api.BucketList, error) {
	cs, err := e.cloudStore(b)
	if err != nil {
		return nil, apierr.NewInternal(err)
	}
	page, err := cs.ListPage(ctx, b.Name, types.ListPageOpts{
		Prefix: msg.Prefix,
		Marker: msg.PageMarker,
		Limit:  msg.EffectivePageSize(),
	})
	if err != nil {
		if backend.IsNotFound(err) {
			return nil, apierr.NewBucketNotFound(b.Name)
		}
		return nil, fmt.Errorf("list %s: %w", b.Name, err)
	}

	out := &api.BucketList{
		Entries:    make([]types.ObjectEntry, 0, len(page.Entries)),
		PageMarker: page.NextMarker,
	}
	for _, le := range page.Entries {
		// Cached copies carry fresher metadata than the listing.
		if ent, ok := e.idx.Lookup(b.ID, le.Name); ok {
			le.IsCached = true
			le.Atime = ent.Atime
			if ent.Cksum.IsSet() {
				le.Checksum = ent.Cksum.Value
			}
			if ent.Version != "" {
				le.Version = ent.Version
			}
		}
		out.Entries = append(out.Entries, listedEntry(msg, le))
	}
	return out, nil
}

// listedEntry keeps only the properties the message asked for. The
// name is always kept.
func listedEntry(msg *api.GetMsg, full types.ObjectEntry) types.ObjectEntry {
	out := types.ObjectEntry{Name: full.Name}
	if msg.WantProp(api.GetPropsSize) {
		out.Size = full.Size
	}
	if msg.WantProp(api.GetPropsChecksum) {
		out.Checksum = full.Checksum
	}
	if msg.WantProp(api.GetPropsVersion) {
		out.Version = full.Version
	}
	if msg.WantProp(api.GetPropsAtime) {
		out.Atime = full.Atime
	}
	if msg.WantProp(api.GetPropsIsCached) {
		out.IsCached = full.IsCached
	}
	return out
}

// CachedNames returns every indexed object name in the bucket with the
// prefix, in lexical order.
func (e *Engine) CachedNames(b types.Bucket, prefix string) []string {
	var names []string
	marker := ""
	for {
		entries, next := e.idx.ListCached(b.ID, prefix, marker, api.MaxPageSize)
		for _, ent := range entries {
			names = append(names, ent.Name)
		}
		if next == "" {
			return names
		}
		marker = next
	}
}

// RemoteNames walks the cloud listing for candidate resolution. Local
// buckets have no remote listing and return nil.
func (e *Engine) RemoteNames(ctx context.Context, b types.Bucket, prefix string) ([]string, error) {
	if b.Local {
		return nil, nil
	}
	cs, err := e.cloudStore(b)
	if err != nil {
		return nil, apierr.NewInternal(err)
	}
	var names []string
	marker := ""
	for {
		page, err := cs.ListPage(ctx, b.Name, types.ListPageOpts{
			Prefix: prefix,
			Marker: marker,
			Limit:  api.MaxPageSize,
		})
		if err != nil {
			if backend.IsNotFound(err) {
				return nil, apierr.NewBucketNotFound(b.Name)
			}
			return nil, fmt.Errorf("list %s: %w", b.Name, err)
		}
		for _, ent := range page.Entries {
			names = append(names, ent.Name)
		}
		if page.NextMarker == "" {
			return names, nil
		}
		marker = page.NextMarker
	}
}
