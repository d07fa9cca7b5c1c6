// Copyright 2025 Coldfront Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/coldfront/coldfront/pkg/types"
)

func init() {
	Register(types.StoreTypeGCS, func(cfg types.StoreConfig) (types.TierStore, error) {
		return NewGCSStore(context.Background(), cfg)
	})
}

// GCSStore serves a gcp provider through the Cloud Storage client.
type GCSStore struct {
	client *storage.Client
}

// NewGCSStore creates a GCS-backed store. Endpoint overrides are for
// emulators; Anonymous skips credential lookup for public buckets.
func NewGCSStore(ctx context.Context, cfg types.StoreConfig) (*GCSStore, error) {
	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	if cfg.Anonymous {
		opts = append(opts, option.WithoutAuthentication())
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	return &GCSStore{client: client}, nil
}

func (g *GCSStore) Type() types.StoreType { return types.StoreTypeGCS }

func (g *GCSStore) Write(ctx context.Context, bucket, object string, data io.Reader, size int64) error {
	w := g.client.Bucket(bucket).Object(object).NewWriter(ctx)
	if _, err := io.Copy(w, data); err != nil {
		w.Close()
		return fmt.Errorf("put object %s/%s: %w", bucket, object, err)
	}
	// The object commits on Close.
	if err := w.Close(); err != nil {
		return fmt.Errorf("commit object %s/%s: %w", bucket, object, err)
	}
	return nil
}

func (g *GCSStore) Read(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	r, err := g.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, gcsWrap(err, bucket, object, "get object")
	}
	return r, nil
}

func (g *GCSStore) ReadRange(ctx context.Context, bucket, object string, offset, length int64) (io.ReadCloser, error) {
	r, err := g.client.Bucket(bucket).Object(object).NewRangeReader(ctx, offset, length)
	if err != nil {
		return nil, gcsWrap(err, bucket, object, "get object range")
	}
	return r, nil
}

func (g *GCSStore) Delete(ctx context.Context, bucket, object string) error {
	err := g.client.Bucket(bucket).Object(object).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete object %s/%s: %w", bucket, object, err)
	}
	return nil
}

func (g *GCSStore) Exists(ctx context.Context, bucket, object string) (bool, error) {
	_, err := g.client.Bucket(bucket).Object(object).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("head object %s/%s: %w", bucket, object, err)
	}
	return true, nil
}

func (g *GCSStore) Head(ctx context.Context, bucket, object string) (types.ObjectAttrs, error) {
	attrs, err := g.client.Bucket(bucket).Object(object).Attrs(ctx)
	if err != nil {
		return types.ObjectAttrs{}, gcsWrap(err, bucket, object, "head object")
	}
	return types.ObjectAttrs{
		Size:    attrs.Size,
		Cksum:   gcsCksum(attrs),
		Version: strconv.FormatInt(attrs.Generation, 10),
	}, nil
}

func (g *GCSStore) ListPage(ctx context.Context, bucket string, opts types.ListPageOpts) (types.ListPage, error) {
	q := &storage.Query{Prefix: opts.Prefix}
	if opts.Marker != "" {
		// StartOffset is inclusive; the equal name is screened below.
		q.StartOffset = opts.Marker
	}

	it := g.client.Bucket(bucket).Objects(ctx, q)
	page := types.ListPage{}
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			if errors.Is(err, storage.ErrBucketNotExist) {
				return types.ListPage{}, fmt.Errorf("gcs list %s: %w", bucket, ErrBucketNotFound)
			}
			return types.ListPage{}, fmt.Errorf("list bucket %s: %w", bucket, err)
		}
		if opts.Marker != "" && attrs.Name <= opts.Marker {
			continue
		}
		if opts.Limit > 0 && len(page.Entries) >= opts.Limit {
			page.NextMarker = page.Entries[len(page.Entries)-1].Name
			break
		}
		page.Entries = append(page.Entries, types.ObjectEntry{
			Name:     attrs.Name,
			Size:     attrs.Size,
			Checksum: gcsCksum(attrs).Value,
			Version:  strconv.FormatInt(attrs.Generation, 10),
		})
	}
	return page, nil
}

func (g *GCSStore) BucketExists(ctx context.Context, bucket string) (bool, error) {
	_, err := g.client.Bucket(bucket).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrBucketNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("head bucket %s: %w", bucket, err)
	}
	return true, nil
}

func (g *GCSStore) Close() error {
	return g.client.Close()
}

func gcsWrap(err error, bucket, object, op string) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("gcs %s/%s: %w", bucket, object, ErrNotFound)
	}
	if errors.Is(err, storage.ErrBucketNotExist) {
		return fmt.Errorf("gcs %s: %w", bucket, ErrBucketNotFound)
	}
	return fmt.Errorf("%s %s/%s: %w", op, bucket, object, err)
}

// gcsCksum prefers md5 and falls back to crc32c. Composite objects
// carry no md5.
func gcsCksum(attrs *storage.ObjectAttrs) types.Cksum {
	if len(attrs.MD5) > 0 {
		return types.Cksum{Type: "md5", Value: hex.EncodeToString(attrs.MD5)}
	}
	return types.Cksum{Type: "crc32c", Value: fmt.Sprintf("%08x", attrs.CRC32C)}
}
