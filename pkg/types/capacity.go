// Copyright 2025 Coldfront Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// parseCapacity parses a human-readable byte size ("10GB", "512 MiB").
// An empty string means unlimited and parses to 0.
func parseCapacity(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid capacity %q: %w", s, err)
	}
	return n, nil
}
