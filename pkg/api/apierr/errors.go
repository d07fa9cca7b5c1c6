// Copyright 2025 Coldfront Authors
// SPDX-License-Identifier: Apache-2.0

// Package apierr defines the domain error taxonomy shared by every
// coldfront component. Callers branch on error codes, never on message
// text.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies a domain error condition.
type ErrorCode int

const (
	CodeNone ErrorCode = iota
	CodeNoSuchBucket
	CodeNoSuchObject
	CodeObjectNotCached
	CodeBucketAlreadyExists
	CodeBucketNotLocal
	CodeInvalidArgument
	CodeInvalidAction
	CodeInvalidBucketName
	CodeInvalidObjectName
	CodeInvalidRegex
	CodeInvalidRange
	CodeInvalidProps
	CodeChecksumMismatch
	CodeOperationCancelled
	CodeOperationNotFound
	CodeInternal
)

// APIError is the transport-facing rendition of an ErrorCode.
type APIError struct {
	Code           string
	Description    string
	HTTPStatusCode int
}

var errorCodeResponse = map[ErrorCode]APIError{
	CodeNoSuchBucket: {
		Code:           "NoSuchBucket",
		Description:    "The specified bucket does not exist.",
		HTTPStatusCode: http.StatusNotFound,
	},
	CodeNoSuchObject: {
		Code:           "NoSuchKey",
		Description:    "The specified object does not exist.",
		HTTPStatusCode: http.StatusNotFound,
	},
	CodeObjectNotCached: {
		Code:           "NotCached",
		Description:    "The specified object is not present in the cache tier.",
		HTTPStatusCode: http.StatusNotFound,
	},
	CodeBucketAlreadyExists: {
		Code:           "BucketAlreadyExists",
		Description:    "The requested bucket name is not available.",
		HTTPStatusCode: http.StatusConflict,
	},
	CodeBucketNotLocal: {
		Code:           "BucketNotLocal",
		Description:    "The operation requires a local bucket.",
		HTTPStatusCode: http.StatusNotFound,
	},
	CodeInvalidArgument: {
		Code:           "InvalidArgument",
		Description:    "Invalid argument.",
		HTTPStatusCode: http.StatusBadRequest,
	},
	CodeInvalidAction: {
		Code:           "InvalidAction",
		Description:    "The requested action is unknown or its payload does not match.",
		HTTPStatusCode: http.StatusBadRequest,
	},
	CodeInvalidBucketName: {
		Code:           "InvalidBucketName",
		Description:    "The specified bucket name is not valid.",
		HTTPStatusCode: http.StatusBadRequest,
	},
	CodeInvalidObjectName: {
		Code:           "InvalidObjectName",
		Description:    "The specified object name is not valid.",
		HTTPStatusCode: http.StatusBadRequest,
	},
	CodeInvalidRegex: {
		Code:           "InvalidRegex",
		Description:    "The range specification regex does not compile.",
		HTTPStatusCode: http.StatusBadRequest,
	},
	CodeInvalidRange: {
		Code:           "InvalidRange",
		Description:    "The numeric range specification is malformed.",
		HTTPStatusCode: http.StatusBadRequest,
	},
	CodeInvalidProps: {
		Code:           "InvalidBucketProps",
		Description:    "The bucket properties payload is not valid.",
		HTTPStatusCode: http.StatusBadRequest,
	},
	CodeChecksumMismatch: {
		Code:           "ChecksumMismatch",
		Description:    "The object payload does not match its recorded checksum.",
		HTTPStatusCode: http.StatusInternalServerError,
	},
	CodeOperationCancelled: {
		Code:           "OperationCancelled",
		Description:    "The operation was cancelled before all work completed.",
		HTTPStatusCode: http.StatusConflict,
	},
	CodeOperationNotFound: {
		Code:           "NoSuchOperation",
		Description:    "The specified operation handle is unknown or expired.",
		HTTPStatusCode: http.StatusNotFound,
	},
	CodeInternal: {
		Code:           "InternalError",
		Description:    "We encountered an internal error, please try again.",
		HTTPStatusCode: http.StatusInternalServerError,
	},
}

// APIErrorOf returns the transport rendition for code. Unknown codes map
// to InternalError.
func APIErrorOf(code ErrorCode) APIError {
	if resp, ok := errorCodeResponse[code]; ok {
		return resp
	}
	return errorCodeResponse[CodeInternal]
}

// String returns the stable wire identifier for the code.
func (c ErrorCode) String() string {
	return APIErrorOf(c).Code
}

// Error is the concrete domain error carried across component boundaries.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the status code the transport layer should emit.
func (e *Error) HTTPStatus() int {
	return APIErrorOf(e.Code).HTTPStatusCode
}

// Error constructors

func NewBucketNotFound(bucket string) *Error {
	return &Error{Code: CodeNoSuchBucket, Message: fmt.Sprintf("bucket %q does not exist", bucket)}
}

func NewObjectNotFound(bucket, object string) *Error {
	return &Error{Code: CodeNoSuchObject, Message: fmt.Sprintf("object %s/%s does not exist", bucket, object)}
}

func NewObjectNotCached(bucket, object string) *Error {
	return &Error{Code: CodeObjectNotCached, Message: fmt.Sprintf("object %s/%s is not cached", bucket, object)}
}

func NewBucketAlreadyExists(bucket string) *Error {
	return &Error{Code: CodeBucketAlreadyExists, Message: fmt.Sprintf("bucket %q already exists", bucket)}
}

func NewBucketNotLocal(bucket string) *Error {
	return &Error{Code: CodeBucketNotLocal, Message: fmt.Sprintf("bucket %q is not local", bucket)}
}

func NewValidation(code ErrorCode, reason string) *Error {
	return &Error{Code: code, Message: reason}
}

func NewValidationf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func NewCancelled(what string) *Error {
	return &Error{Code: CodeOperationCancelled, Message: fmt.Sprintf("%s cancelled", what)}
}

func NewOperationNotFound(id string) *Error {
	return &Error{Code: CodeOperationNotFound, Message: fmt.Sprintf("operation %s not found", id)}
}

func NewInternal(err error) *Error {
	return &Error{Code: CodeInternal, Message: "internal error", Err: err}
}

// ChecksumMismatchError reports a payload whose computed digest disagrees
// with the recorded one. It carries both values so callers can log or
// surface them.
type ChecksumMismatchError struct {
	Algorithm string
	Expected  string
	Actual    string
	Bucket    string
	Object    string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch on %s/%s: %s expected %s, got %s",
		e.Bucket, e.Object, e.Algorithm, e.Expected, e.Actual)
}

// HTTPStatus implements the same transport contract as Error.
func (e *ChecksumMismatchError) HTTPStatus() int {
	return APIErrorOf(CodeChecksumMismatch).HTTPStatusCode
}

// CodeOf extracts the domain code from err, or CodeInternal for foreign
// errors. A nil err returns CodeNone.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return CodeNone
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	var cm *ChecksumMismatchError
	if errors.As(err, &cm) {
		return CodeChecksumMismatch
	}
	return CodeInternal
}

// IsNotFound reports whether err denotes a resource the node does not
// hold, including a bucket that exists only in the cloud namespace.
func IsNotFound(err error) bool {
	switch CodeOf(err) {
	case CodeNoSuchBucket, CodeNoSuchObject, CodeObjectNotCached,
		CodeOperationNotFound, CodeBucketNotLocal:
		return true
	}
	return false
}

// IsConflict reports whether err denotes a name or state conflict.
func IsConflict(err error) bool {
	switch CodeOf(err) {
	case CodeBucketAlreadyExists, CodeOperationCancelled:
		return true
	}
	return false
}

// IsValidation reports whether err denotes a rejected input.
func IsValidation(err error) bool {
	switch CodeOf(err) {
	case CodeInvalidArgument, CodeInvalidAction, CodeInvalidBucketName,
		CodeInvalidObjectName, CodeInvalidRegex, CodeInvalidRange,
		CodeInvalidProps:
		return true
	}
	return false
}

// IsChecksumMismatch reports whether err is a checksum validation failure.
func IsChecksumMismatch(err error) bool {
	var cm *ChecksumMismatchError
	return errors.As(err, &cm)
}
