// Copyright 2025 Coldfront Authors
// SPDX-License-Identifier: Apache-2.0

package node

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/coldfront/coldfront/pkg/api"
	"github.com/coldfront/coldfront/pkg/api/apierr"
	"github.com/coldfront/coldfront/pkg/backend"
	"github.com/coldfront/coldfront/pkg/logger"
)

// RegisterHandlers registers the node's HTTP endpoints on the provided
// mux. The object and bucket-head routes double as the peer protocol a
// next-tier store speaks, so their shapes and headers must stay stable.
func (n *Node) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/v1/objects/", n.handleObject)
	mux.HandleFunc("/v1/buckets", n.handleBuckets)
	mux.HandleFunc("/v1/buckets/", n.handleBucket)
	mux.HandleFunc("/v1/operations", n.handleOperations)
	mux.HandleFunc("/v1/operations/", n.handleOperation)
}

// handleObject handles requests to /v1/objects/{bucket}/{object}
func (n *Node) handleObject(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/objects/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "bucket name required", http.StatusBadRequest)
		return
	}
	if len(parts) < 2 || parts[1] == "" {
		http.Error(w, "object name required", http.StatusBadRequest)
		return
	}
	bucket, object := parts[0], parts[1]

	switch r.Method {
	case http.MethodGet:
		n.getObject(w, r, bucket, object)
	case http.MethodPut:
		n.putObject(w, r, bucket, object)
	case http.MethodDelete:
		n.deleteObject(w, r, bucket, object)
	case http.MethodHead:
		n.headObject(w, r, bucket, object)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (n *Node) getObject(w http.ResponseWriter, r *http.Request, bucket, object string) {
	var (
		cw  = &countingWriter{w: w}
		err error
	)
	if rng := r.Header.Get("Range"); rng != "" {
		var offset, length int64
		offset, length, err = parseRange(rng)
		if err != nil {
			writeError(w, err)
			return
		}
		_, err = n.GetObjectRange(r.Context(), bucket, object, offset, length, cw)
	} else {
		_, err = n.GetObject(r.Context(), bucket, object, cw)
	}
	if err != nil {
		// Once body bytes are out the status line is gone; all we can
		// do is abort the stream and log.
		if cw.n == 0 {
			writeError(w, err)
			return
		}
		logger.Warn().Err(err).
			Str("bucket", bucket).
			Str("object", object).
			Int64("written", cw.n).
			Msg("object stream aborted")
	}
}

func (n *Node) putObject(w http.ResponseWriter, r *http.Request, bucket, object string) {
	info, err := n.PutObject(r.Context(), bucket, object, r.Body, r.ContentLength)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, info, http.StatusOK)
}

func (n *Node) deleteObject(w http.ResponseWriter, r *http.Request, bucket, object string) {
	if err := n.DeleteObject(r.Context(), bucket, object); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (n *Node) headObject(w http.ResponseWriter, r *http.Request, bucket, object string) {
	checkCached := r.URL.Query().Get("check_cached") == "true"
	info, err := n.HeadObject(r.Context(), bucket, object, checkCached)
	if err != nil {
		writeError(w, err)
		return
	}
	if info.Cksum.Type != "" {
		w.Header().Set(backend.HdrChecksumType, info.Cksum.Type)
		w.Header().Set(backend.HdrChecksumValue, info.Cksum.Value)
	}
	if info.Version != "" {
		w.Header().Set(backend.HdrObjectVersion, info.Version)
	}
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	w.WriteHeader(http.StatusOK)
}

// handleBuckets handles requests to /v1/buckets
func (n *Node) handleBuckets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	localOnly := r.URL.Query().Get("local") == "true"
	writeJSON(w, n.BucketNames(localOnly), http.StatusOK)
}

// handleBucket handles requests to /v1/buckets/{bucket}
func (n *Node) handleBucket(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/buckets/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "bucket name required", http.StatusBadRequest)
		return
	}
	if len(parts) > 1 && parts[1] != "" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	bucket := parts[0]

	switch r.Method {
	case http.MethodHead:
		if err := n.HeadBucket(r.Context(), bucket); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	case http.MethodPost:
		n.postAction(w, r, bucket)
	case http.MethodDelete:
		// Sugar for the destroylb action.
		msg := &api.ActionMsg{Action: api.ActionDestroyLB.String()}
		if _, err := n.Dispatch(r.Context(), bucket, msg); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (n *Node) postAction(w http.ResponseWriter, r *http.Request, bucket string) {
	var msg api.ActionMsg
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, apierr.NewValidationf(apierr.CodeInvalidArgument, "decode action: %v", err))
		return
	}
	res, err := n.Dispatch(r.Context(), bucket, &msg)
	if err != nil {
		writeError(w, err)
		return
	}
	switch {
	case res.List != nil:
		writeJSON(w, res.List, http.StatusOK)
	case res.Op != nil:
		status := http.StatusAccepted
		if res.Op.Status().Terminal() {
			status = http.StatusOK
		}
		writeJSON(w, res.Op.Info(), status)
	default:
		writeJSON(w, res.Bucket, http.StatusOK)
	}
}

// handleOperations handles requests to /v1/operations
func (n *Node) handleOperations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if name := r.URL.Query().Get("action"); name != "" {
		action := api.ParseAction(name)
		if action == api.ActionUnknown {
			writeError(w, apierr.NewValidationf(apierr.CodeInvalidAction, "unknown action %q", name))
			return
		}
		writeJSON(w, n.OperationsByAction(action), http.StatusOK)
		return
	}
	writeJSON(w, n.Operations(), http.StatusOK)
}

// handleOperation handles requests to /v1/operations/{id}
func (n *Node) handleOperation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/operations/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "operation id required", http.StatusBadRequest)
		return
	}
	info, err := n.Operation(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, info, http.StatusOK)
}

// parseRange parses the two peer range forms, "bytes=o-" and
// "bytes=o-e" with an inclusive end. Suffix and multi-range specs are
// rejected.
func parseRange(spec string) (offset, length int64, err error) {
	if !strings.HasPrefix(spec, "bytes=") {
		return 0, 0, apierr.NewValidationf(apierr.CodeInvalidRange, "range %q: unsupported unit", spec)
	}
	raw := strings.TrimPrefix(spec, "bytes=")
	if strings.Contains(raw, ",") {
		return 0, 0, apierr.NewValidationf(apierr.CodeInvalidRange, "range %q: multiple ranges not supported", spec)
	}
	parts := strings.SplitN(raw, "-", 2)
	if len(parts) != 2 || parts[0] == "" {
		return 0, 0, apierr.NewValidationf(apierr.CodeInvalidRange, "range %q: malformed", spec)
	}
	offset, err = strconv.ParseInt(parts[0], 10, 64)
	if err != nil || offset < 0 {
		return 0, 0, apierr.NewValidationf(apierr.CodeInvalidRange, "range %q: bad offset", spec)
	}
	if parts[1] == "" {
		return offset, -1, nil
	}
	end, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || end < offset {
		return 0, 0, apierr.NewValidationf(apierr.CodeInvalidRange, "range %q: bad end", spec)
	}
	return offset, end - offset + 1, nil
}

type countingWriter struct {
	w http.ResponseWriter
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError renders err with its mapped status. The code field is the
// stable wire identifier; clients branch on it, not the message.
func writeError(w http.ResponseWriter, err error) {
	code := apierr.CodeOf(err)
	if code == apierr.CodeInternal {
		logger.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, errorResponse{Code: code.String(), Message: err.Error()}, apierr.APIErrorOf(code).HTTPStatusCode)
}

func writeJSON(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
