// Copyright 2025 Coldfront Authors
// SPDX-License-Identifier: Apache-2.0

package tiering

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/coldfront/coldfront/pkg/api"
	"github.com/coldfront/coldfront/pkg/api/apierr"
	"github.com/coldfront/coldfront/pkg/backend"
	"github.com/coldfront/coldfront/pkg/index"
	"github.com/coldfront/coldfront/pkg/registry"
	"github.com/coldfront/coldfront/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Environment
// ============================================================================

// testEnv wires an engine around memory stores. The "amazon" provider
// is backed by a memory store as well, so cloud behavior (listings,
// md5 attrs, version bumps) is exercised without network.
type testEnv struct {
	eng   *Engine
	reg   *registry.Registry
	idx   *index.Index
	cache *backend.MemoryStore
	cloud *backend.MemoryStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	reg, err := registry.New("")
	require.NoError(t, err)
	idx := index.New()
	cache := backend.NewMemoryStore()

	clouds := backend.NewManager()
	require.NoError(t, clouds.Add(string(types.ProviderAmazon), types.StoreConfig{Type: types.StoreTypeMemory}))
	cs, ok := clouds.Get(string(types.ProviderAmazon))
	require.True(t, ok)
	cloud, ok := cs.(*backend.MemoryStore)
	require.True(t, ok)

	eng := New(reg, idx, cache, clouds, Options{DefaultChecksum: "md5"})
	t.Cleanup(func() {
		eng.Close()
		clouds.Close()
		idx.Close()
		cache.Close()
	})
	return &testEnv{eng: eng, reg: reg, idx: idx, cache: cache, cloud: cloud}
}

func (env *testEnv) localBucket(t *testing.T, name string) types.Bucket {
	t.Helper()
	b, err := env.reg.Create(name)
	require.NoError(t, err)
	return b
}

func (env *testEnv) cloudBucket(t *testing.T, name string) types.Bucket {
	t.Helper()
	env.cloud.CreateBucket(name)
	b, err := env.reg.AddCloud(name, types.ProviderAmazon)
	require.NoError(t, err)
	return b
}

func (env *testEnv) seedCloud(t *testing.T, bucket, object, payload string) {
	t.Helper()
	err := env.cloud.Write(context.Background(), bucket, object, strings.NewReader(payload), int64(len(payload)))
	require.NoError(t, err)
}

// setProps replaces the bucket props through the registry and returns
// the updated bucket record.
func (env *testEnv) setProps(t *testing.T, b types.Bucket, mutate func(*types.BucketProps)) types.Bucket {
	t.Helper()
	props := b.Props
	mutate(&props)
	nb, err := env.reg.SetProps(b.Name, props)
	require.NoError(t, err)
	return nb
}

func (env *testEnv) put(t *testing.T, b types.Bucket, object, payload string) types.ObjectInfo {
	t.Helper()
	info, err := env.eng.PutObject(context.Background(), b, object, strings.NewReader(payload), int64(len(payload)))
	require.NoError(t, err)
	return info
}

func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// ============================================================================
// Bucket Resolution
// ============================================================================

func TestResolveBucket_Local(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	created := env.localBucket(t, "workdir")

	b, err := env.eng.ResolveBucket(context.Background(), "workdir")
	require.NoError(t, err)
	assert.Equal(t, created.ID, b.ID)
	assert.True(t, b.Local)
}

func TestResolveBucket_Discovery(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.cloud.CreateBucket("datasets")

	b, err := env.eng.ResolveBucket(context.Background(), "datasets")
	require.NoError(t, err)
	assert.False(t, b.Local)
	assert.Equal(t, types.ProviderAmazon, b.Props.CloudProvider)

	// The discovery registered the bucket; the second resolve must hit
	// the registry and return the same record.
	again, err := env.eng.ResolveBucket(context.Background(), "datasets")
	require.NoError(t, err)
	assert.Equal(t, b.ID, again.ID)

	_, known := env.reg.GetCloud("datasets")
	assert.True(t, known)
}

func TestResolveBucket_Unknown(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	_, err := env.eng.ResolveBucket(context.Background(), "nowhere")
	assert.Equal(t, apierr.CodeNoSuchBucket, apierr.CodeOf(err))
}

func TestResolveBucket_InvalidName(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	_, err := env.eng.ResolveBucket(context.Background(), "Not A Bucket")
	assert.Equal(t, apierr.CodeInvalidBucketName, apierr.CodeOf(err))
}

func TestResolveBucket_CloudNameConflicts(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	cloud := env.cloudBucket(t, "shared")

	_, err := env.reg.Create("shared")
	require.Error(t, err)
	assert.Equal(t, apierr.CodeBucketAlreadyExists, apierr.CodeOf(err))

	// The cloud record stays authoritative for the name.
	b, err := env.eng.ResolveBucket(context.Background(), "shared")
	require.NoError(t, err)
	assert.Equal(t, cloud.ID, b.ID)
	assert.False(t, b.Local)
}

// ============================================================================
// Tier Resolution
// ============================================================================

func TestResolveTiers(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	local := env.localBucket(t, "plain")
	assert.Empty(t, env.eng.resolveRead(local))
	assert.Empty(t, env.eng.resolveWrite(local))

	cloud := env.cloudBucket(t, "backed")
	tiers := env.eng.resolveRead(cloud)
	require.Len(t, tiers, 1)
	assert.Equal(t, index.LocCloud, tiers[0].loc)
	assert.Equal(t, "amazon", tiers[0].kind)

	tiered := env.setProps(t, local, func(p *types.BucketProps) {
		p.NextTierURL = "http://tier.example:8080"
		p.ReadPolicy = types.RWPolicyNextTier
	})
	tiers = env.eng.resolveRead(tiered)
	require.Len(t, tiers, 1)
	assert.Equal(t, index.LocNextTier, tiers[0].loc)
	// Write policy stayed on cloud, and a local bucket has none.
	assert.Empty(t, env.eng.resolveWrite(tiered))

	both := env.setProps(t, cloud, func(p *types.BucketProps) {
		p.NextTierURL = "http://tier.example:8080"
		p.ReadPolicy = types.RWPolicyNextTier
	})
	tiers = env.eng.resolveRead(both)
	require.Len(t, tiers, 2)
	assert.Equal(t, index.LocNextTier, tiers[0].loc)
	assert.Equal(t, index.LocCloud, tiers[1].loc)
}

func TestResolveTiers_UnconfiguredProvider(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	b, err := env.reg.AddCloud("elsewhere", types.ProviderGoogle)
	require.NoError(t, err)
	assert.Empty(t, env.eng.resolveRead(b))
}

// ============================================================================
// Version Counter
// ============================================================================

func TestNextVersion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		cur  string
		had  bool
		want string
	}{
		{"", false, "1"},
		{"", true, "1"},
		{"1", true, "2"},
		{"41", true, "42"},
		{"not-a-number", true, "1"},
		{"-3", true, "1"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, nextVersion(tt.cur, tt.had), "cur=%q had=%v", tt.cur, tt.had)
	}
}

// ============================================================================
// Listing
// ============================================================================

func TestListBucket_Local(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	b := env.localBucket(t, "lbucket")

	env.put(t, b, "charlie", "ccc")
	env.put(t, b, "alpha", "aaaa")
	env.put(t, b, "bravo", "bb")

	list, err := env.eng.ListBucket(context.Background(), b, &api.GetMsg{})
	require.NoError(t, err)
	require.Len(t, list.Entries, 3)
	assert.Empty(t, list.PageMarker)

	// Lexical order, default props are size and checksum only.
	assert.Equal(t, "alpha", list.Entries[0].Name)
	assert.Equal(t, "bravo", list.Entries[1].Name)
	assert.Equal(t, "charlie", list.Entries[2].Name)
	assert.Equal(t, int64(4), list.Entries[0].Size)
	assert.Equal(t, md5hex("aaaa"), list.Entries[0].Checksum)
	assert.Empty(t, list.Entries[0].Version)
	assert.Zero(t, list.Entries[0].Atime)
	assert.False(t, list.Entries[0].IsCached)

	full, err := env.eng.ListBucket(context.Background(), b, &api.GetMsg{
		Props: "size,checksum,version,atime,iscached",
	})
	require.NoError(t, err)
	require.Len(t, full.Entries, 3)
	assert.Equal(t, "1", full.Entries[0].Version)
	assert.NotZero(t, full.Entries[0].Atime)
	assert.True(t, full.Entries[0].IsCached)
}

func TestListBucket_LocalPaging(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	b := env.localBucket(t, "paged")

	for _, name := range []string{"a", "b", "c", "d", "e"} {
		env.put(t, b, name, "x")
	}

	var names []string
	marker := ""
	pages := 0
	for {
		list, err := env.eng.ListBucket(context.Background(), b, &api.GetMsg{PageSize: 2, PageMarker: marker})
		require.NoError(t, err)
		for _, ent := range list.Entries {
			names = append(names, ent.Name)
		}
		pages++
		if list.PageMarker == "" {
			break
		}
		marker = list.PageMarker
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, names)
	assert.Equal(t, 3, pages)
}

func TestListBucket_CloudAnnotated(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	b := env.cloudBucket(t, "annotated")

	env.seedCloud(t, "annotated", "remote-only", "rrrr")
	env.put(t, b, "cached-too", "cc")

	list, err := env.eng.ListBucket(context.Background(), b, &api.GetMsg{
		Props: "size,checksum,iscached",
	})
	require.NoError(t, err)
	require.Len(t, list.Entries, 2)

	assert.Equal(t, "cached-too", list.Entries[0].Name)
	assert.True(t, list.Entries[0].IsCached)
	assert.Equal(t, md5hex("cc"), list.Entries[0].Checksum)

	assert.Equal(t, "remote-only", list.Entries[1].Name)
	assert.False(t, list.Entries[1].IsCached)
	assert.Equal(t, int64(4), list.Entries[1].Size)
}

func TestListBucket_CloudGone(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	// Registered earlier, deleted out from under us in the cloud.
	b, err := env.reg.AddCloud("vanished", types.ProviderAmazon)
	require.NoError(t, err)

	_, err = env.eng.ListBucket(context.Background(), b, &api.GetMsg{})
	assert.Equal(t, apierr.CodeNoSuchBucket, apierr.CodeOf(err))
}

func TestCachedNames(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	b := env.localBucket(t, "names")

	env.put(t, b, "logs/one", "1")
	env.put(t, b, "logs/two", "2")
	env.put(t, b, "data/three", "3")

	assert.Equal(t, []string{"data/three", "logs/one", "logs/two"}, env.eng.CachedNames(b, ""))
	assert.Equal(t, []string{"logs/one", "logs/two"}, env.eng.CachedNames(b, "logs/"))
	assert.Empty(t, env.eng.CachedNames(b, "missing/"))
}

func TestRemoteNames(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	b := env.cloudBucket(t, "remote")

	env.seedCloud(t, "remote", "x/1", "a")
	env.seedCloud(t, "remote", "x/2", "b")
	env.seedCloud(t, "remote", "y/3", "c")

	names, err := env.eng.RemoteNames(context.Background(), b, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"x/1", "x/2", "y/3"}, names)

	names, err = env.eng.RemoteNames(context.Background(), b, "x/")
	require.NoError(t, err)
	assert.Equal(t, []string{"x/1", "x/2"}, names)

	local := env.localBucket(t, "only-local")
	names, err = env.eng.RemoteNames(context.Background(), local, "")
	require.NoError(t, err)
	assert.Nil(t, names)
}
