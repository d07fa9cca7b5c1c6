package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/coldfront/coldfront/pkg/types"
)

// Peer protocol headers. A next-tier store talks to another node's
// object endpoints; these carry the attrs a response body cannot.
const (
	HdrChecksumType  = "X-Coldfront-Checksum-Type"
	HdrChecksumValue = "X-Coldfront-Checksum-Value"
	HdrObjectVersion = "X-Coldfront-Version"
)

func init() {
	Register(types.StoreTypeNextTier, func(cfg types.StoreConfig) (types.TierStore, error) {
		return NewNextTierStore(cfg.Endpoint)
	})
}

// NextTierStore proxies object operations to another node, addressed
// by a bucket's next_tier_url.
type NextTierStore struct {
	base   string
	client *http.Client
}

// NewNextTierStore creates a store that forwards to base
func NewNextTierStore(base string) (*NextTierStore, error) {
	if base == "" {
		return nil, fmt.Errorf("next tier store: endpoint is required")
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("next tier store: parse endpoint %q: %w", base, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("next tier store: endpoint %q: scheme must be http or https", base)
	}
	return &NextTierStore{
		base:   strings.TrimRight(base, "/"),
		client: &http.Client{},
	}, nil
}

func (n *NextTierStore) Type() types.StoreType { return types.StoreTypeNextTier }

func (n *NextTierStore) objectURL(bucket, object string) string {
	return n.base + "/v1/objects/" + url.PathEscape(bucket) + "/" + escapeObject(object)
}

func (n *NextTierStore) bucketURL(bucket string) string {
	return n.base + "/v1/buckets/" + url.PathEscape(bucket)
}

func (n *NextTierStore) Write(ctx context.Context, bucket, object string, data io.Reader, size int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, n.objectURL(bucket, object), data)
	if err != nil {
		return fmt.Errorf("next tier put %s/%s: %w", bucket, object, err)
	}
	if size >= 0 {
		req.ContentLength = size
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("next tier put %s/%s: %w", bucket, object, err)
	}
	defer drainClose(resp.Body)

	if err := n.checkStatus(resp, bucket, object); err != nil {
		return err
	}
	return nil
}

func (n *NextTierStore) Read(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	return n.read(ctx, bucket, object, "")
}

func (n *NextTierStore) ReadRange(ctx context.Context, bucket, object string, offset, length int64) (io.ReadCloser, error) {
	var rng string
	if length < 0 {
		rng = fmt.Sprintf("bytes=%d-", offset)
	} else {
		rng = fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
	}
	return n.read(ctx, bucket, object, rng)
}

func (n *NextTierStore) read(ctx context.Context, bucket, object, rng string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.objectURL(bucket, object), nil)
	if err != nil {
		return nil, fmt.Errorf("next tier get %s/%s: %w", bucket, object, err)
	}
	if rng != "" {
		req.Header.Set("Range", rng)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("next tier get %s/%s: %w", bucket, object, err)
	}
	if err := n.checkStatus(resp, bucket, object); err != nil {
		drainClose(resp.Body)
		return nil, err
	}
	return resp.Body, nil
}

func (n *NextTierStore) Delete(ctx context.Context, bucket, object string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, n.objectURL(bucket, object), nil)
	if err != nil {
		return fmt.Errorf("next tier delete %s/%s: %w", bucket, object, err)
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("next tier delete %s/%s: %w", bucket, object, err)
	}
	defer drainClose(resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return n.checkStatus(resp, bucket, object)
}

func (n *NextTierStore) Exists(ctx context.Context, bucket, object string) (bool, error) {
	_, err := n.Head(ctx, bucket, object)
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (n *NextTierStore) Head(ctx context.Context, bucket, object string) (types.ObjectAttrs, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, n.objectURL(bucket, object), nil)
	if err != nil {
		return types.ObjectAttrs{}, fmt.Errorf("next tier head %s/%s: %w", bucket, object, err)
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return types.ObjectAttrs{}, fmt.Errorf("next tier head %s/%s: %w", bucket, object, err)
	}
	defer drainClose(resp.Body)

	if err := n.checkStatus(resp, bucket, object); err != nil {
		return types.ObjectAttrs{}, err
	}

	attrs := types.ObjectAttrs{
		Size:    resp.ContentLength,
		Version: resp.Header.Get(HdrObjectVersion),
	}
	if ct := resp.Header.Get(HdrChecksumType); ct != "" {
		attrs.Cksum = types.Cksum{Type: ct, Value: resp.Header.Get(HdrChecksumValue)}
	}
	return attrs, nil
}

// ListPage is not part of the peer protocol: listings merge the local
// index with the bucket's own cloud, never a downstream cache.
func (n *NextTierStore) ListPage(ctx context.Context, bucket string, opts types.ListPageOpts) (types.ListPage, error) {
	return types.ListPage{}, fmt.Errorf("next tier list %s: %w", bucket, ErrNotSupported)
}

func (n *NextTierStore) BucketExists(ctx context.Context, bucket string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, n.bucketURL(bucket), nil)
	if err != nil {
		return false, fmt.Errorf("next tier head bucket %s: %w", bucket, err)
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("next tier head bucket %s: %w", bucket, err)
	}
	defer drainClose(resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true, nil
	default:
		return false, fmt.Errorf("next tier head bucket %s: status %d", bucket, resp.StatusCode)
	}
}

func (n *NextTierStore) Close() error {
	n.client.CloseIdleConnections()
	return nil
}

func (n *NextTierStore) checkStatus(resp *http.Response, bucket, object string) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("next tier %s/%s: %w", bucket, object, ErrNotFound)
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("next tier %s/%s: status %d: %s", bucket, object, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
}

// escapeObject escapes path segments but keeps the separators, so
// nested object names survive the round trip.
func escapeObject(object string) string {
	segs := strings.Split(object, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

func drainClose(rc io.ReadCloser) {
	io.Copy(io.Discard, rc)
	rc.Close()
}
