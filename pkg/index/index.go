// Copyright 2025 Coldfront Authors
// SPDX-License-Identifier: Apache-2.0

// Package index is the object location index: for every cached object
// it records where copies live and the metadata listings and reads
// need (size, checksum, version, access time). Entries are keyed by
// bucket id, so bucket renames never touch the index.
package index

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/btree"
	"github.com/google/uuid"

	"github.com/coldfront/coldfront/pkg/logger"
	"github.com/coldfront/coldfront/pkg/types"
	"github.com/coldfront/coldfront/pkg/utils"
)

// Location is a bitmask of the tiers holding a copy of an object.
type Location uint8

const (
	// LocCache is the local cache tier. Every index entry has it: an
	// object leaves the index when it leaves the cache.
	LocCache Location = 1 << iota
	// LocCloud marks a copy in the bucket's cloud backend.
	LocCloud
	// LocNextTier marks a copy in the bucket's next tier.
	LocNextTier
)

// Has reports whether l includes loc.
func (l Location) Has(loc Location) bool { return l&loc != 0 }

// Entry is one indexed object.
type Entry struct {
	Bucket    uuid.UUID
	Name      string
	Size      int64
	Cksum     types.Cksum
	Version   string
	Atime     int64 // unix nanoseconds of last access
	Locations Location
}

// Cached reports cache-tier residency.
func (e Entry) Cached() bool { return e.Locations.Has(LocCache) }

// nameItem orders object names inside one bucket's btree.
type nameItem struct {
	name string
}

func (a *nameItem) Less(b btree.Item) bool {
	return a.name < b.(*nameItem).name
}

// Index holds the entry table and a per-bucket ordered name tree for
// listings. An optional store persists entries across restarts.
type Index struct {
	entries *utils.ShardedMap[Entry]

	mu    sync.Mutex
	names map[uuid.UUID]*btree.BTree

	count int64 // atomic: number of cached objects
	bytes int64 // atomic: sum of cached object sizes

	store store
}

// New creates a memory-only index.
func New() *Index {
	return &Index{
		entries: utils.NewShardedMap[Entry](),
		names:   make(map[uuid.UUID]*btree.BTree),
	}
}

// NewPersistent creates an index backed by a LevelDB store under dir,
// reloading any entries a previous run left there.
func NewPersistent(dir string) (*Index, error) {
	idx := New()

	st, err := openLevelDB(dir)
	if err != nil {
		return nil, err
	}
	idx.store = st

	err = st.iterate(func(key string, e Entry) error {
		idx.entries.Store(key, e)
		idx.ensureName(e.Bucket, e.Name)
		atomic.AddInt64(&idx.count, 1)
		atomic.AddInt64(&idx.bytes, e.Size)
		return nil
	})
	if err != nil {
		st.close()
		return nil, err
	}

	if n := atomic.LoadInt64(&idx.count); n > 0 {
		logger.Info().Int64("objects", n).Msg("object index loaded")
	}
	return idx, nil
}

func uname(bucketID uuid.UUID, object string) string {
	return bucketID.String() + "/" + object
}

// Upsert records an object's presence and metadata. It replaces any
// existing entry wholesale.
func (idx *Index) Upsert(e Entry) {
	e.Locations |= LocCache
	key := uname(e.Bucket, e.Name)

	var (
		prevSize int64
		existed  bool
	)
	idx.entries.Mutate(key, func(cur Entry, ok bool) (Entry, bool) {
		prevSize, existed = cur.Size, ok
		return e, true
	})

	if existed {
		atomic.AddInt64(&idx.bytes, e.Size-prevSize)
	} else {
		atomic.AddInt64(&idx.count, 1)
		atomic.AddInt64(&idx.bytes, e.Size)
		idx.ensureName(e.Bucket, e.Name)
	}
	idx.persistPut(key, e)
}

// Lookup returns the entry for an object, if cached.
func (idx *Index) Lookup(bucketID uuid.UUID, object string) (Entry, bool) {
	return idx.entries.Load(uname(bucketID, object))
}

// Touch refreshes the access time. Atime lives in memory and reaches
// the store on the next Upsert or on Close; losing recency across a
// crash only makes eviction slightly unfair.
func (idx *Index) Touch(bucketID uuid.UUID, object string, atime int64) bool {
	return idx.entries.Mutate(uname(bucketID, object), func(cur Entry, ok bool) (Entry, bool) {
		if !ok {
			return cur, false
		}
		if atime > cur.Atime {
			cur.Atime = atime
		}
		return cur, true
	})
}

// AddLocation marks an additional tier as holding a copy.
func (idx *Index) AddLocation(bucketID uuid.UUID, object string, loc Location) bool {
	key := uname(bucketID, object)
	var updated Entry
	found := idx.entries.Mutate(key, func(cur Entry, ok bool) (Entry, bool) {
		if !ok {
			return cur, false
		}
		cur.Locations |= loc
		updated = cur
		return cur, true
	})
	if found {
		idx.persistPut(key, updated)
	}
	return found
}

// Evict removes an object from the index, returning the dropped entry.
// Cache residency defines membership, so eviction and deletion tear
// down the same state; they differ upstream.
func (idx *Index) Evict(bucketID uuid.UUID, object string) (Entry, bool) {
	return idx.remove(bucketID, object)
}

// Delete removes an object from the index, returning the dropped entry.
func (idx *Index) Delete(bucketID uuid.UUID, object string) (Entry, bool) {
	return idx.remove(bucketID, object)
}

func (idx *Index) remove(bucketID uuid.UUID, object string) (Entry, bool) {
	key := uname(bucketID, object)

	var dropped Entry
	existed := false
	idx.entries.Mutate(key, func(cur Entry, ok bool) (Entry, bool) {
		if !ok {
			return cur, false
		}
		dropped, existed = cur, true
		return cur, false
	})
	if !existed {
		return Entry{}, false
	}

	atomic.AddInt64(&idx.count, -1)
	atomic.AddInt64(&idx.bytes, -dropped.Size)
	idx.dropName(bucketID, object)
	idx.persistDelete(key)
	return dropped, true
}

// DropBucket removes every entry of a bucket and returns how many went.
func (idx *Index) DropBucket(bucketID uuid.UUID) int {
	idx.mu.Lock()
	tree, ok := idx.names[bucketID]
	if ok {
		delete(idx.names, bucketID)
	}
	idx.mu.Unlock()
	if !ok {
		return 0
	}

	names := make([]string, 0, tree.Len())
	tree.Ascend(func(item btree.Item) bool {
		names = append(names, item.(*nameItem).name)
		return true
	})

	dropped := 0
	for _, name := range names {
		key := uname(bucketID, name)
		var size int64
		removed := false
		idx.entries.Mutate(key, func(cur Entry, ok bool) (Entry, bool) {
			if !ok {
				return cur, false
			}
			size, removed = cur.Size, true
			return cur, false
		})
		if removed {
			dropped++
			atomic.AddInt64(&idx.count, -1)
			atomic.AddInt64(&idx.bytes, -size)
			idx.persistDelete(key)
		}
	}
	return dropped
}

// ListCached returns one ordered page of a bucket's cached entries.
// Marker is exclusive; nextMarker is empty on the final page.
func (idx *Index) ListCached(bucketID uuid.UUID, prefix, marker string, limit int) (entries []Entry, nextMarker string) {
	start := prefix
	if marker > start {
		start = marker
	}

	// Collect names under mu, resolve entries after.
	var names []string
	more := false
	idx.mu.Lock()
	if tree, ok := idx.names[bucketID]; ok {
		tree.AscendGreaterOrEqual(&nameItem{name: start}, func(item btree.Item) bool {
			name := item.(*nameItem).name
			if marker != "" && name <= marker {
				return true
			}
			if prefix != "" && !strings.HasPrefix(name, prefix) {
				return false
			}
			if limit > 0 && len(names) >= limit {
				more = true
				return false
			}
			names = append(names, name)
			return true
		})
	}
	idx.mu.Unlock()

	for _, name := range names {
		if e, ok := idx.entries.Load(uname(bucketID, name)); ok {
			entries = append(entries, e)
		}
	}
	if more && len(names) > 0 {
		nextMarker = names[len(names)-1]
	}
	return entries, nextMarker
}

// Walk visits every entry until fn returns false. Iteration order is
// unspecified; mutation during the walk is allowed.
func (idx *Index) Walk(fn func(Entry) bool) {
	idx.entries.Range(func(_ string, e Entry) bool {
		return fn(e)
	})
}

// Stats reports the number of cached objects and their total bytes.
func (idx *Index) Stats() (objects, bytes int64) {
	return atomic.LoadInt64(&idx.count), atomic.LoadInt64(&idx.bytes)
}

// Close flushes entries (for current atimes) and closes the store.
func (idx *Index) Close() error {
	if idx.store == nil {
		return nil
	}
	idx.entries.Range(func(key string, e Entry) bool {
		if err := idx.store.put(key, e); err != nil {
			logger.Warn().Err(err).Msg("failed to flush index entry on close")
			return false
		}
		return true
	})
	return idx.store.close()
}

func (idx *Index) ensureName(bucketID uuid.UUID, object string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	tree, ok := idx.names[bucketID]
	if !ok {
		tree = btree.New(2)
		idx.names[bucketID] = tree
	}
	tree.ReplaceOrInsert(&nameItem{name: object})
}

func (idx *Index) dropName(bucketID uuid.UUID, object string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	tree, ok := idx.names[bucketID]
	if !ok {
		return
	}
	tree.Delete(&nameItem{name: object})
	if tree.Len() == 0 {
		delete(idx.names, bucketID)
	}
}

func (idx *Index) persistPut(key string, e Entry) {
	if idx.store == nil {
		return
	}
	if err := idx.store.put(key, e); err != nil {
		logger.Warn().Err(err).Str("key", key).Msg("failed to persist index entry (non-fatal)")
	}
}

func (idx *Index) persistDelete(key string) {
	if idx.store == nil {
		return
	}
	if err := idx.store.delete(key); err != nil {
		logger.Warn().Err(err).Str("key", key).Msg("failed to remove persisted index entry (non-fatal)")
	}
}
