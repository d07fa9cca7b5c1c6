// Copyright 2025 Coldfront Authors
// SPDX-License-Identifier: Apache-2.0

package node

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coldfront/coldfront/pkg/api"
	"github.com/coldfront/coldfront/pkg/backend"
	"github.com/coldfront/coldfront/pkg/dispatch"
	"github.com/coldfront/coldfront/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Server
// ============================================================================

func newTestServer(t *testing.T) (*Node, *httptest.Server) {
	t.Helper()
	n := newTestNode(t, testConfig(t))
	mux := http.NewServeMux()
	n.RegisterHandlers(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return n, srv
}

func doRequest(t *testing.T, method, url string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func postAction(t *testing.T, url, bucket, action string, value any) *http.Response {
	t.Helper()
	msg := api.ActionMsg{Action: action}
	if value != nil {
		raw, err := api.MarshalValue(value)
		require.NoError(t, err)
		msg.Value = raw
	}
	body, err := json.Marshal(msg)
	require.NoError(t, err)
	return doRequest(t, http.MethodPost, url+"/v1/buckets/"+bucket, strings.NewReader(string(body)))
}

// ============================================================================
// Object Routes
// ============================================================================

func TestHandlers_ObjectCRUD(t *testing.T) {
	t.Parallel()
	n, srv := newTestServer(t)
	createBucket(t, n, "media")

	payload := "handler round trip payload"
	resp := doRequest(t, http.MethodPut, srv.URL+"/v1/objects/media/clip.mp4", strings.NewReader(payload))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	info := decodeBody[types.ObjectInfo](t, resp)
	assert.Equal(t, int64(len(payload)), info.Size)
	assert.True(t, info.Cached)

	resp = doRequest(t, http.MethodGet, srv.URL+"/v1/objects/media/clip.mp4", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, payload, string(data))

	resp = doRequest(t, http.MethodHead, srv.URL+"/v1/objects/media/clip.mp4", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(len(payload)), resp.ContentLength)
	assert.Equal(t, "md5", resp.Header.Get(backend.HdrChecksumType))
	assert.NotEmpty(t, resp.Header.Get(backend.HdrChecksumValue))

	resp = doRequest(t, http.MethodDelete, srv.URL+"/v1/objects/media/clip.mp4", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, srv.URL+"/v1/objects/media/clip.mp4", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	errResp := decodeBody[errorResponse](t, resp)
	assert.Equal(t, "NoSuchKey", errResp.Code)
}

func TestHandlers_ObjectRange(t *testing.T) {
	t.Parallel()
	n, srv := newTestServer(t)
	createBucket(t, n, "media")
	putObject(t, n, "media", "digits", "0123456789")

	get := func(rng string) *http.Response {
		req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/objects/media/digits", nil)
		require.NoError(t, err)
		req.Header.Set("Range", rng)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	resp := get("bytes=2-5")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "2345", string(data))

	resp = get("bytes=6-")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "6789", string(data))

	for _, rng := range []string{"bytes=5-2", "items=0-1", "bytes=-5", "bytes=0-1,3-4"} {
		resp := get(rng)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, "range %q", rng)
		errResp := decodeBody[errorResponse](t, resp)
		assert.Equal(t, "InvalidRange", errResp.Code)
	}
}

func TestHandlers_ObjectPathValidation(t *testing.T) {
	t.Parallel()
	_, srv := newTestServer(t)

	resp := doRequest(t, http.MethodGet, srv.URL+"/v1/objects/bucketonly", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doRequest(t, http.MethodPost, srv.URL+"/v1/objects/b/o", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

// ============================================================================
// Bucket Routes
// ============================================================================

func TestHandlers_BucketLifecycle(t *testing.T) {
	t.Parallel()
	_, srv := newTestServer(t)

	resp := postAction(t, srv.URL, "media", "createlb", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	b := decodeBody[types.Bucket](t, resp)
	assert.True(t, b.Local)
	assert.Equal(t, "media", b.Name)

	resp = doRequest(t, http.MethodHead, srv.URL+"/v1/buckets/media", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, srv.URL+"/v1/buckets", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	names := decodeBody[api.BucketNames](t, resp)
	assert.Contains(t, names.Local, "media")

	resp = doRequest(t, http.MethodDelete, srv.URL+"/v1/buckets/media", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doRequest(t, http.MethodHead, srv.URL+"/v1/buckets/media", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandlers_ListAction(t *testing.T) {
	t.Parallel()
	n, srv := newTestServer(t)
	createBucket(t, n, "listed")
	putObject(t, n, "listed", "a", "aa")
	putObject(t, n, "listed", "b", "bb")

	resp := postAction(t, srv.URL, "listed", "listobjects", api.GetMsg{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decodeBody[api.BucketList](t, resp)
	require.Len(t, list.Entries, 2)
	assert.Equal(t, "a", list.Entries[0].Name)
	assert.Equal(t, "b", list.Entries[1].Name)
}

func TestHandlers_InvalidActions(t *testing.T) {
	t.Parallel()
	n, srv := newTestServer(t)
	createBucket(t, n, "media")

	resp := doRequest(t, http.MethodPost, srv.URL+"/v1/buckets/media", strings.NewReader("{not json"))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	errResp := decodeBody[errorResponse](t, resp)
	assert.Equal(t, "InvalidArgument", errResp.Code)

	resp = postAction(t, srv.URL, "media", "warp", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	errResp = decodeBody[errorResponse](t, resp)
	assert.Equal(t, "InvalidAction", errResp.Code)

	resp = doRequest(t, http.MethodGet, srv.URL+"/v1/buckets/media/extra", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// ============================================================================
// Operation Routes
// ============================================================================

func TestHandlers_BatchOperations(t *testing.T) {
	t.Parallel()
	n, srv := newTestServer(t)
	createBucket(t, n, "ops")
	putObject(t, n, "ops", "a", "aa")
	putObject(t, n, "ops", "b", "bb")
	putObject(t, n, "ops", "c", "cc")

	// Waited evict comes back terminal.
	resp := postAction(t, srv.URL, "ops", "evict", api.ListMsg{Wait: true, Objnames: []string{"a", "b"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	info := decodeBody[dispatch.OperationInfo](t, resp)
	assert.Equal(t, "completed", info.Status)
	assert.Equal(t, int64(2), info.Processed)

	// Detached evict is accepted and finishes on its own. A batch this
	// small can already be terminal by the time the response is written,
	// so both statuses are legitimate.
	resp = postAction(t, srv.URL, "ops", "evict", api.ListMsg{Objnames: []string{"c"}})
	require.Contains(t, []int{http.StatusOK, http.StatusAccepted}, resp.StatusCode)
	detached := decodeBody[dispatch.OperationInfo](t, resp)
	require.NotEmpty(t, detached.ID)

	require.Eventually(t, func() bool {
		resp, err := http.Get(srv.URL + "/v1/operations/" + detached.ID)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var cur dispatch.OperationInfo
		if json.NewDecoder(resp.Body).Decode(&cur) != nil {
			return false
		}
		return cur.Status == "completed"
	}, 5*time.Second, 10*time.Millisecond)

	resp = doRequest(t, http.MethodGet, srv.URL+"/v1/operations", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ops := decodeBody[[]dispatch.OperationInfo](t, resp)
	assert.Len(t, ops, 2)

	resp = doRequest(t, http.MethodGet, srv.URL+"/v1/operations?action=evict", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ops = decodeBody[[]dispatch.OperationInfo](t, resp)
	assert.Len(t, ops, 2)

	resp = doRequest(t, http.MethodGet, srv.URL+"/v1/operations?action=prefetch", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ops = decodeBody[[]dispatch.OperationInfo](t, resp)
	assert.Empty(t, ops)

	resp = doRequest(t, http.MethodGet, srv.URL+"/v1/operations?action=warp", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, srv.URL+"/v1/operations/unknown-id", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	errResp := decodeBody[errorResponse](t, resp)
	assert.Equal(t, "NoSuchOperation", errResp.Code)
}

// ============================================================================
// Peer Protocol
// ============================================================================

// A next-tier client pointed at the node's own endpoints must round
// trip objects; this is the contract that chains caches together.
func TestHandlers_PeerRoundTrip(t *testing.T) {
	t.Parallel()
	n, srv := newTestServer(t)
	createBucket(t, n, "peer")

	store, err := backend.NewNextTierStore(srv.URL)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()

	ok, err := store.BucketExists(ctx, "peer")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.BucketExists(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, ok)

	const object = "nested/obj name.bin"
	payload := "peer protocol payload"
	require.NoError(t, store.Write(ctx, "peer", object, strings.NewReader(payload), int64(len(payload))))

	rc, err := store.Read(ctx, "peer", object)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, payload, string(data))

	rc, err = store.ReadRange(ctx, "peer", object, 5, 8)
	require.NoError(t, err)
	data, err = io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, payload[5:13], string(data))

	attrs, err := store.Head(ctx, "peer", object)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), attrs.Size)
	assert.Equal(t, "md5", attrs.Cksum.Type)
	assert.NotEmpty(t, attrs.Cksum.Value)

	exists, err := store.Exists(ctx, "peer", object)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, store.Delete(ctx, "peer", object))
	// A second delete hits the 404 the client tolerates.
	require.NoError(t, store.Delete(ctx, "peer", object))
	exists, err = store.Exists(ctx, "peer", object)
	require.NoError(t, err)
	assert.False(t, exists)
}

// ============================================================================
// Method Handling
// ============================================================================

func TestHandlers_MethodNotAllowed(t *testing.T) {
	t.Parallel()
	_, srv := newTestServer(t)

	resp := doRequest(t, http.MethodPut, srv.URL+"/v1/buckets", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp = doRequest(t, http.MethodDelete, srv.URL+"/v1/operations", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp = doRequest(t, http.MethodPost, srv.URL+"/v1/operations/some-id", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
