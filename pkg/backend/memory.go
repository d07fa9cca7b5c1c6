// Copyright 2025 Coldfront Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/coldfront/coldfront/pkg/types"
)

func init() {
	Register(types.StoreTypeMemory, func(cfg types.StoreConfig) (types.TierStore, error) {
		return NewMemoryStore(), nil
	})
}

type memObject struct {
	data    []byte
	version int64
}

// MemoryStore keeps objects in process memory. It backs the cache tier
// in small deployments and stands in for a cloud provider in tests,
// which is why it reports md5 attrs and bumps a version on overwrite.
type MemoryStore struct {
	mu      sync.RWMutex
	buckets map[string]map[string]memObject
}

// NewMemoryStore creates an in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buckets: make(map[string]map[string]memObject),
	}
}

func (m *MemoryStore) Type() types.StoreType { return types.StoreTypeMemory }

// CreateBucket materializes an empty bucket. Write creates buckets
// implicitly; this exists so a store acting as a cloud in tests can
// hold empty buckets.
func (m *MemoryStore) CreateBucket(bucket string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.buckets[bucket]; !ok {
		m.buckets[bucket] = make(map[string]memObject)
	}
}

// RemoveBucket drops a bucket and everything in it.
func (m *MemoryStore) RemoveBucket(ctx context.Context, bucket string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.buckets, bucket)
	return nil
}

func (m *MemoryStore) Write(ctx context.Context, bucket, object string, data io.Reader, size int64) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("memory write %s/%s: %w", bucket, object, err)
	}
	if size >= 0 && int64(len(buf)) != size {
		return fmt.Errorf("memory write %s/%s: size mismatch: declared %d, read %d", bucket, object, size, len(buf))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	objs, ok := m.buckets[bucket]
	if !ok {
		objs = make(map[string]memObject)
		m.buckets[bucket] = objs
	}
	objs[object] = memObject{data: buf, version: objs[object].version + 1}
	return nil
}

func (m *MemoryStore) Read(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, err := m.lookup(bucket, object)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (m *MemoryStore) ReadRange(ctx context.Context, bucket, object string, offset, length int64) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, err := m.lookup(bucket, object)
	if err != nil {
		return nil, err
	}
	if offset < 0 || offset > int64(len(obj.data)) {
		return nil, fmt.Errorf("memory read %s/%s: offset %d out of range", bucket, object, offset)
	}
	end := offset + length
	if length < 0 || end > int64(len(obj.data)) {
		end = int64(len(obj.data))
	}
	return io.NopCloser(bytes.NewReader(obj.data[offset:end])), nil
}

func (m *MemoryStore) Delete(ctx context.Context, bucket, object string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	objs, ok := m.buckets[bucket]
	if !ok {
		return nil
	}
	delete(objs, object)
	return nil
}

func (m *MemoryStore) Exists(ctx context.Context, bucket, object string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, err := m.lookup(bucket, object)
	if err != nil {
		return false, nil
	}
	return true, nil
}

func (m *MemoryStore) Head(ctx context.Context, bucket, object string) (types.ObjectAttrs, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, err := m.lookup(bucket, object)
	if err != nil {
		return types.ObjectAttrs{}, err
	}
	sum := md5.Sum(obj.data)
	return types.ObjectAttrs{
		Size:    int64(len(obj.data)),
		Cksum:   types.Cksum{Type: "md5", Value: hex.EncodeToString(sum[:])},
		Version: strconv.FormatInt(obj.version, 10),
	}, nil
}

func (m *MemoryStore) ListPage(ctx context.Context, bucket string, opts types.ListPageOpts) (types.ListPage, error) {
	m.mu.RLock()
	objs, ok := m.buckets[bucket]
	if !ok {
		m.mu.RUnlock()
		return types.ListPage{}, fmt.Errorf("memory list %s: %w", bucket, ErrBucketNotFound)
	}

	names := make([]string, 0, len(objs))
	for name := range objs {
		names = append(names, name)
	}
	sort.Strings(names)

	page := types.ListPage{}
	for _, name := range names {
		if !acceptName(name, opts) {
			continue
		}
		if opts.Limit > 0 && len(page.Entries) >= opts.Limit {
			page.NextMarker = page.Entries[len(page.Entries)-1].Name
			break
		}
		obj := objs[name]
		sum := md5.Sum(obj.data)
		page.Entries = append(page.Entries, types.ObjectEntry{
			Name:     name,
			Size:     int64(len(obj.data)),
			Checksum: hex.EncodeToString(sum[:]),
			Version:  strconv.FormatInt(obj.version, 10),
		})
	}
	m.mu.RUnlock()
	return page, nil
}

func (m *MemoryStore) BucketExists(ctx context.Context, bucket string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.buckets[bucket]
	return ok, nil
}

// Usage reports total bytes held, for LRU capacity accounting.
func (m *MemoryStore) Usage(ctx context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total uint64
	for _, objs := range m.buckets {
		for _, obj := range objs {
			total += uint64(len(obj.data))
		}
	}
	return total, nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buckets = make(map[string]map[string]memObject)
	return nil
}

// lookup requires m.mu held.
func (m *MemoryStore) lookup(bucket, object string) (memObject, error) {
	objs, ok := m.buckets[bucket]
	if !ok {
		return memObject{}, fmt.Errorf("memory %s: %w", bucket, ErrBucketNotFound)
	}
	obj, ok := objs[object]
	if !ok {
		return memObject{}, fmt.Errorf("memory %s/%s: %w", bucket, object, ErrNotFound)
	}
	return obj, nil
}

// acceptName applies marker and prefix screening shared by the local
// list implementations. Markers are exclusive.
func acceptName(name string, opts types.ListPageOpts) bool {
	if opts.Marker != "" && name <= opts.Marker {
		return false
	}
	if opts.Prefix != "" && !strings.HasPrefix(name, opts.Prefix) {
		return false
	}
	return true
}
