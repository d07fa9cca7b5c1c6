// Copyright 2025 Coldfront Authors
// SPDX-License-Identifier: Apache-2.0

// Package tiering implements the object data path: reads and writes
// through the cache tier, cold fetches from a bucket's cloud or next
// tier, checksum enforcement, and the read/write policy resolution
// that decides where a cache miss goes.
package tiering

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/coldfront/coldfront/pkg/api"
	"github.com/coldfront/coldfront/pkg/api/apierr"
	"github.com/coldfront/coldfront/pkg/backend"
	"github.com/coldfront/coldfront/pkg/checksum"
	"github.com/coldfront/coldfront/pkg/index"
	"github.com/coldfront/coldfront/pkg/logger"
	"github.com/coldfront/coldfront/pkg/nlock"
	"github.com/coldfront/coldfront/pkg/registry"
	"github.com/coldfront/coldfront/pkg/types"
)

// Options tunes the data path.
type Options struct {
	// DefaultChecksum is the algorithm buckets with "inherit" resolve to.
	DefaultChecksum string

	// FetchRate caps cold fetches from remote tiers in objects per
	// second across all buckets; zero means unlimited. FetchBurst
	// defaults to the rate.
	FetchRate  float64
	FetchBurst int
}

// Engine routes object operations between the cache tier and a bucket's
// remote tiers. All per-object mutations are serialized through a name
// lock keyed by bucket id and object name; operations on different
// names never block each other.
type Engine struct {
	reg    *registry.Registry
	idx    *index.Index
	cache  types.TierStore
	clouds *backend.Manager

	defaultAlgo string
	limiter     *rate.Limiter
	flight      singleflight.Group
	locks       *nlock.Locker

	nextMu sync.Mutex
	next   map[string]types.TierStore
}

// New creates the data path engine. The cache store and the cloud store
// manager stay owned by the caller; Close only releases clients the
// engine opened itself.
func New(reg *registry.Registry, idx *index.Index, cache types.TierStore, clouds *backend.Manager, opts Options) *Engine {
	algo := opts.DefaultChecksum
	if algo == "" {
		algo = checksum.AlgoXXHash
	}
	var limiter *rate.Limiter
	if opts.FetchRate > 0 {
		burst := opts.FetchBurst
		if burst < 1 {
			burst = int(opts.FetchRate)
			if burst < 1 {
				burst = 1
			}
		}
		limiter = rate.NewLimiter(rate.Limit(opts.FetchRate), burst)
	}
	return &Engine{
		reg:         reg,
		idx:         idx,
		cache:       cache,
		clouds:      clouds,
		defaultAlgo: algo,
		limiter:     limiter,
		locks:       nlock.New(),
		next:        make(map[string]types.TierStore),
	}
}

// Close releases the next tier clients opened by the engine.
func (e *Engine) Close() error {
	e.nextMu.Lock()
	defer e.nextMu.Unlock()
	for _, s := range e.next {
		s.Close()
	}
	e.next = make(map[string]types.TierStore)
	return nil
}

// ResolveBucket maps a name to its bucket record. Unknown names are
// probed against the configured cloud providers and registered as cloud
// buckets when found, so cloud buckets need no explicit setup.
func (e *Engine) ResolveBucket(ctx context.Context, name string) (types.Bucket, error) {
	if err := api.ValidateBucketName(name); err != nil {
		return types.Bucket{}, err
	}
	if b, ok := e.reg.Get(name); ok {
		return b, nil
	}
	for _, provider := range []types.CloudProvider{types.ProviderAmazon, types.ProviderGoogle} {
		store, ok := e.clouds.Get(string(provider))
		if !ok {
			continue
		}
		exists, err := store.BucketExists(ctx, name)
		if err != nil {
			logger.Ctx(ctx).Warn().Err(err).
				Str("bucket", name).
				Str("provider", string(provider)).
				Msg("cloud bucket probe failed")
			continue
		}
		if !exists {
			continue
		}
		b, err := e.reg.AddCloud(name, provider)
		if err != nil {
			return types.Bucket{}, err
		}
		logger.Ctx(ctx).Info().
			Str("bucket", name).
			Str("provider", string(provider)).
			Msg("discovered cloud bucket")
		return b, nil
	}
	return types.Bucket{}, apierr.NewBucketNotFound(name)
}

// remoteTier is one place a cache miss can be served from or written
// through to.
type remoteTier struct {
	store types.TierStore
	loc   index.Location
	kind  string
}

// resolveRead orders the remote tiers a read miss falls through to: the
// next tier first when the bucket's read policy asks for it, then the
// bucket's own cloud. Local buckets without a next tier have no remote
// side at all.
func (e *Engine) resolveRead(b types.Bucket) []remoteTier {
	return e.resolveTiers(b, b.Props.ReadPolicy)
}

// resolveWrite orders the remote tiers a write replicates to, with the
// same preference and fallback as resolveRead.
func (e *Engine) resolveWrite(b types.Bucket) []remoteTier {
	return e.resolveTiers(b, b.Props.WritePolicy)
}

func (e *Engine) resolveTiers(b types.Bucket, policy types.RWPolicy) []remoteTier {
	var tiers []remoteTier
	if policy == types.RWPolicyNextTier && b.Props.NextTierURL != "" {
		nt, err := e.nextTierFor(b.Props.NextTierURL)
		if err != nil {
			logger.Warn().Err(err).Str("bucket", b.Name).Msg("next tier unavailable")
		} else {
			tiers = append(tiers, remoteTier{store: nt, loc: index.LocNextTier, kind: "next_tier"})
		}
	}
	if !b.Local {
		cs, err := e.cloudStore(b)
		if err != nil {
			logger.Warn().Err(err).Str("bucket", b.Name).Msg("cloud store unavailable")
		} else {
			tiers = append(tiers, remoteTier{store: cs, loc: index.LocCloud, kind: string(b.Props.CloudProvider)})
		}
	}
	return tiers
}

func (e *Engine) cloudStore(b types.Bucket) (types.TierStore, error) {
	s, ok := e.clouds.Get(string(b.Props.CloudProvider))
	if !ok {
		return nil, fmt.Errorf("cloud provider %q is not configured on this node", b.Props.CloudProvider)
	}
	return s, nil
}

// nextTierFor returns a client for the given downstream url, reusing
// one client per url for the engine's lifetime.
func (e *Engine) nextTierFor(url string) (types.TierStore, error) {
	e.nextMu.Lock()
	defer e.nextMu.Unlock()
	if s, ok := e.next[url]; ok {
		return s, nil
	}
	s, err := backend.NewNextTierStore(url)
	if err != nil {
		return nil, err
	}
	e.next[url] = s
	return s, nil
}

// validateChecksum compares a computed digest against a recorded one.
// Digests of different algorithms, and absent digests, never fail.
func (e *Engine) validateChecksum(b types.Bucket, object string, want, got types.Cksum) error {
	if !want.IsSet() || !got.IsSet() || want.Type != got.Type {
		return nil
	}
	if want.Value == got.Value {
		return nil
	}
	return &apierr.ChecksumMismatchError{
		Algorithm: want.Type,
		Expected:  want.Value,
		Actual:    got.Value,
		Bucket:    b.Name,
		Object:    object,
	}
}

// cacheKey is the bucket's key in the cache store. The immutable id is
// used instead of the name so renames never touch cached data.
func cacheKey(b types.Bucket) string {
	return b.ID.String()
}

func lockName(b types.Bucket, object string) string {
	return b.ID.String() + "/" + object
}

func objInfo(b types.Bucket, ent index.Entry, atime int64) types.ObjectInfo {
	return types.ObjectInfo{
		Bucket:  b.Name,
		Name:    ent.Name,
		Size:    ent.Size,
		Cksum:   ent.Cksum,
		Version: ent.Version,
		Atime:   atime,
		Cached:  true,
	}
}
