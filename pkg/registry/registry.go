// Copyright 2025 Coldfront Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry tracks the buckets a node knows: locally created
// ones and cloud buckets discovered on first access. Bucket identity is
// a uuid that never changes, so a rename is one name-table swap and
// everything keyed by id (the location index, in-flight operations)
// follows along untouched.
package registry

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"

	"github.com/coldfront/coldfront/pkg/api"
	"github.com/coldfront/coldfront/pkg/api/apierr"
	"github.com/coldfront/coldfront/pkg/checksum"
	"github.com/coldfront/coldfront/pkg/logger"
	"github.com/coldfront/coldfront/pkg/types"
)

// SnapshotFile is the registry's on-disk name under the meta directory.
const SnapshotFile = "buckets.json"

// Registry is the bucket name table. A name is either local or cloud,
// never both: creating or renaming onto a name the cloud side already
// holds is a conflict.
type Registry struct {
	mu      sync.RWMutex
	local   map[string]types.Bucket
	cloud   map[string]types.Bucket
	version int64
	path    string // empty disables persistence
}

// New creates a registry. When metaDir is non-empty the registry
// persists a snapshot there and reloads it on startup.
func New(metaDir string) (*Registry, error) {
	r := &Registry{
		local: make(map[string]types.Bucket),
		cloud: make(map[string]types.Bucket),
	}
	if metaDir == "" {
		return r, nil
	}

	if err := os.MkdirAll(metaDir, 0755); err != nil {
		return nil, fmt.Errorf("create meta directory %s: %w", metaDir, err)
	}
	r.path = filepath.Join(metaDir, SnapshotFile)
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

// Create registers a new local bucket with default properties.
func (r *Registry) Create(name string) (types.Bucket, error) {
	if err := api.ValidateBucketName(name); err != nil {
		return types.Bucket{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.local[name]; exists {
		return types.Bucket{}, apierr.NewBucketAlreadyExists(name)
	}
	if _, exists := r.cloud[name]; exists {
		return types.Bucket{}, apierr.NewBucketAlreadyExists(name)
	}

	b := types.Bucket{
		ID:        uuid.New(),
		Name:      name,
		Local:     true,
		Props:     types.DefaultBucketProps(true),
		CreatedAt: time.Now().UnixNano(),
	}
	r.local[name] = b
	r.bumpAndPersist()
	return b, nil
}

// Destroy removes a local bucket and returns it, so the caller can
// clear state keyed by its id.
func (r *Registry) Destroy(name string) (types.Bucket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, exists := r.local[name]
	if !exists {
		if _, cloudKnown := r.cloud[name]; cloudKnown {
			return types.Bucket{}, apierr.NewBucketNotLocal(name)
		}
		return types.Bucket{}, apierr.NewBucketNotFound(name)
	}
	delete(r.local, name)
	r.bumpAndPersist()
	return b, nil
}

// Rename moves a local bucket to a new name. The bucket keeps its id,
// so state keyed by id needs no rewrite; in-flight operations resolved
// the id before the swap and finish against it.
func (r *Registry) Rename(oldName, newName string) (types.Bucket, error) {
	if err := api.ValidateBucketName(newName); err != nil {
		return types.Bucket{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	b, exists := r.local[oldName]
	if !exists {
		if _, cloudKnown := r.cloud[oldName]; cloudKnown {
			return types.Bucket{}, apierr.NewBucketNotLocal(oldName)
		}
		return types.Bucket{}, apierr.NewBucketNotFound(oldName)
	}
	if _, taken := r.local[newName]; taken {
		return types.Bucket{}, apierr.NewBucketAlreadyExists(newName)
	}
	if _, taken := r.cloud[newName]; taken {
		return types.Bucket{}, apierr.NewBucketAlreadyExists(newName)
	}

	delete(r.local, oldName)
	b.Name = newName
	r.local[newName] = b
	r.bumpAndPersist()
	return b, nil
}

// SetProps replaces the bucket's properties after validation. Callers
// build next from the current properties, so absent fields carry over.
func (r *Registry) SetProps(name string, next types.BucketProps) (types.Bucket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, local := r.local[name]
	if !local {
		var cloudKnown bool
		b, cloudKnown = r.cloud[name]
		if !cloudKnown {
			return types.Bucket{}, apierr.NewBucketNotFound(name)
		}
	}

	if err := validateProps(b.Props, next); err != nil {
		return types.Bucket{}, err
	}

	b.Props = next
	if local {
		r.local[name] = b
	} else {
		r.cloud[name] = b
	}
	r.bumpAndPersist()
	return b, nil
}

// Get resolves a name, preferring the local namespace.
func (r *Registry) Get(name string) (types.Bucket, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if b, ok := r.local[name]; ok {
		return b, true
	}
	b, ok := r.cloud[name]
	return b, ok
}

// GetLocal resolves a name in the local namespace only.
func (r *Registry) GetLocal(name string) (types.Bucket, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.local[name]
	return b, ok
}

// GetCloud resolves a name in the cloud namespace only.
func (r *Registry) GetCloud(name string) (types.Bucket, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.cloud[name]
	return b, ok
}

// IsLocal reports whether name is a local bucket.
func (r *Registry) IsLocal(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.local[name]
	return ok
}

// AddCloud registers a discovered cloud bucket. Adding a known name is
// a no-op returning the existing entry.
func (r *Registry) AddCloud(name string, provider types.CloudProvider) (types.Bucket, error) {
	if err := api.ValidateBucketName(name); err != nil {
		return types.Bucket{}, err
	}
	if !provider.Valid() || provider.IsLocal() {
		return types.Bucket{}, apierr.NewValidationf(apierr.CodeInvalidProps,
			"provider %q cannot back a cloud bucket", provider)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.cloud[name]; ok {
		return b, nil
	}

	props := types.DefaultBucketProps(false)
	props.CloudProvider = provider
	b := types.Bucket{
		ID:        uuid.New(),
		Name:      name,
		Local:     false,
		Props:     props,
		CreatedAt: time.Now().UnixNano(),
	}
	r.cloud[name] = b
	r.bumpAndPersist()
	return b, nil
}

// DropCloud forgets a discovered cloud bucket. Evicting a cloud bucket
// removes its cached objects and this entry; the next access discovers
// it again.
func (r *Registry) DropCloud(name string) (types.Bucket, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.cloud[name]
	if !ok {
		return types.Bucket{}, false
	}
	delete(r.cloud, name)
	r.bumpAndPersist()
	return b, true
}

// Names returns the sorted bucket names. With localOnly the cloud slice
// is nil.
func (r *Registry) Names(localOnly bool) api.BucketNames {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := api.BucketNames{Local: make([]string, 0, len(r.local))}
	for name := range r.local {
		names.Local = append(names.Local, name)
	}
	sort.Strings(names.Local)

	if !localOnly {
		names.Cloud = make([]string, 0, len(r.cloud))
		for name := range r.cloud {
			names.Cloud = append(names.Cloud, name)
		}
		sort.Strings(names.Cloud)
	}
	return names
}

// Counts reports the number of known local and cloud buckets.
func (r *Registry) Counts() (local, cloud int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.local), len(r.cloud)
}

// Version is the registry's monotonic change counter.
func (r *Registry) Version() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// validateProps enforces the mutable-property contract.
func validateProps(cur, next types.BucketProps) error {
	if next.CloudProvider != cur.CloudProvider {
		return apierr.NewValidationf(apierr.CodeInvalidProps,
			"cloud_provider is immutable (%q -> %q)", cur.CloudProvider, next.CloudProvider)
	}
	if !next.Versioning.Valid() {
		return apierr.NewValidationf(apierr.CodeInvalidProps, "invalid versioning mode %q", next.Versioning)
	}
	if !next.ReadPolicy.Valid() {
		return apierr.NewValidationf(apierr.CodeInvalidProps, "invalid read_policy %q", next.ReadPolicy)
	}
	if !next.WritePolicy.Valid() {
		return apierr.NewValidationf(apierr.CodeInvalidProps, "invalid write_policy %q", next.WritePolicy)
	}
	if next.NextTierURL != "" {
		u, err := url.Parse(next.NextTierURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return apierr.NewValidationf(apierr.CodeInvalidProps, "invalid next_tier_url %q", next.NextTierURL)
		}
	}
	if next.NextTierURL == "" &&
		(next.ReadPolicy == types.RWPolicyNextTier || next.WritePolicy == types.RWPolicyNextTier) {
		return apierr.NewValidation(apierr.CodeInvalidProps,
			"next_tier policy requires next_tier_url")
	}
	if c := next.Cksum.Checksum; c != "" && c != types.ChecksumInherit && c != types.ChecksumNone && !checksum.Supported(c) {
		return apierr.NewValidationf(apierr.CodeInvalidProps, "unsupported checksum type %q", c)
	}
	return nil
}

// snapshot is the persisted registry state.
type snapshot struct {
	Version int64          `json:"version"`
	Local   []types.Bucket `json:"local"`
	Cloud   []types.Bucket `json:"cloud"`
}

// bumpAndPersist requires r.mu held for writing. Persistence is
// best-effort: a failed snapshot is logged and retried on the next
// mutation.
func (r *Registry) bumpAndPersist() {
	r.version++
	if r.path == "" {
		return
	}

	snap := snapshot{
		Version: r.version,
		Local:   make([]types.Bucket, 0, len(r.local)),
		Cloud:   make([]types.Bucket, 0, len(r.cloud)),
	}
	for _, b := range r.local {
		snap.Local = append(snap.Local, b)
	}
	for _, b := range r.cloud {
		snap.Cloud = append(snap.Cloud, b)
	}
	sort.Slice(snap.Local, func(i, j int) bool { return snap.Local[i].Name < snap.Local[j].Name })
	sort.Slice(snap.Cloud, func(i, j int) bool { return snap.Cloud[i].Name < snap.Cloud[j].Name })

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		logger.Warn().Err(err).Msg("failed to encode bucket registry snapshot (non-fatal)")
		return
	}
	if err := renameio.WriteFile(r.path, data, 0644); err != nil {
		logger.Warn().Err(err).Str("path", r.path).Msg("failed to persist bucket registry (non-fatal)")
	}
}

func (r *Registry) load() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read bucket registry %s: %w", r.path, err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode bucket registry %s: %w", r.path, err)
	}

	r.version = snap.Version
	for _, b := range snap.Local {
		r.local[b.Name] = b
	}
	for _, b := range snap.Cloud {
		r.cloud[b.Name] = b
	}
	logger.Info().
		Int("local", len(r.local)).
		Int("cloud", len(r.cloud)).
		Int64("version", r.version).
		Msg("bucket registry loaded")
	return nil
}
