// Copyright 2025 Coldfront Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"strings"

	"github.com/coldfront/coldfront/pkg/api/apierr"
)

const (
	maxBucketNameLen = 63
	maxObjectNameLen = 1024
)

// ValidateBucketName rejects names that cannot name a bucket on any
// tier. The charset is the intersection of what the cloud providers
// accept.
func ValidateBucketName(name string) error {
	if name == "" {
		return apierr.NewValidation(apierr.CodeInvalidBucketName, "bucket name is empty")
	}
	if len(name) > maxBucketNameLen {
		return apierr.NewValidationf(apierr.CodeInvalidBucketName,
			"bucket name %q exceeds %d characters", name, maxBucketNameLen)
	}
	if name == "." || name == ".." {
		return apierr.NewValidationf(apierr.CodeInvalidBucketName, "bucket name %q is reserved", name)
	}
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '.' || c == '-' || c == '_':
		default:
			return apierr.NewValidationf(apierr.CodeInvalidBucketName,
				"bucket name %q contains invalid character %q", name, c)
		}
	}
	return nil
}

// ValidateObjectName rejects names that cannot address an object.
// Slashes are allowed; an object name is a key, not a path, but it must
// not climb out of its bucket when a store maps it onto one.
func ValidateObjectName(name string) error {
	if name == "" {
		return apierr.NewValidation(apierr.CodeInvalidObjectName, "object name is empty")
	}
	if len(name) > maxObjectNameLen {
		return apierr.NewValidationf(apierr.CodeInvalidObjectName,
			"object name exceeds %d characters", maxObjectNameLen)
	}
	if strings.HasPrefix(name, "/") {
		return apierr.NewValidationf(apierr.CodeInvalidObjectName,
			"object name %q must not start with a slash", name)
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return apierr.NewValidationf(apierr.CodeInvalidObjectName,
				"object name %q contains an empty or relative path segment", name)
		}
	}
	for _, c := range name {
		if c < 0x20 || c == 0x7f {
			return apierr.NewValidation(apierr.CodeInvalidObjectName,
				"object name contains control characters")
		}
	}
	return nil
}
