// Copyright 2025 Coldfront Authors
// SPDX-License-Identifier: Apache-2.0

// Package selector resolves which objects a batch action targets. A
// range spec combines a name prefix, a regex, and a numeric range;
// every given filter must match.
package selector

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/coldfront/coldfront/pkg/api"
	"github.com/coldfront/coldfront/pkg/api/apierr"
)

// Selector matches object names against a compiled range spec.
type Selector struct {
	prefix   string
	re       *regexp.Regexp
	hasRange bool
	lo, hi   int64
}

// Compile validates and compiles a range spec. An all-zero RangeMsg
// compiles to a selector matching every name.
func Compile(msg *api.RangeMsg) (*Selector, error) {
	s := &Selector{prefix: msg.Prefix}

	if msg.Regex != "" {
		re, err := regexp.Compile(msg.Regex)
		if err != nil {
			return nil, apierr.NewValidationf(apierr.CodeInvalidRegex,
				"bad regex %q: %v", msg.Regex, err)
		}
		s.re = re
	}

	if msg.Range != "" {
		lo, hi, err := parseRange(msg.Range)
		if err != nil {
			return nil, err
		}
		s.hasRange = true
		s.lo, s.hi = lo, hi
	}
	return s, nil
}

// Match reports whether name satisfies every filter. With a numeric
// range set, names carrying no number after the prefix never match.
func (s *Selector) Match(name string) bool {
	if !strings.HasPrefix(name, s.prefix) {
		return false
	}
	if s.re != nil && !s.re.MatchString(name) {
		return false
	}
	if s.hasRange {
		n, ok := firstNumber(name[len(s.prefix):])
		if !ok || n < s.lo || n > s.hi {
			return false
		}
	}
	return true
}

// Prefix returns the name prefix, for narrowing candidate enumeration.
func (s *Selector) Prefix() string { return s.prefix }

// MatchAll reports whether the selector has no filters at all, i.e. it
// selects the whole bucket.
func (s *Selector) MatchAll() bool {
	return s.prefix == "" && s.re == nil && !s.hasRange
}

// parseRange parses "lo:hi". Either bound may be empty for an open
// end; both bounds are inclusive.
func parseRange(spec string) (lo, hi int64, err error) {
	parts := strings.Split(spec, ":")
	if len(parts) != 2 {
		return 0, 0, apierr.NewValidationf(apierr.CodeInvalidRange,
			"bad range %q: want \"lo:hi\"", spec)
	}

	lo, hi = math.MinInt64, math.MaxInt64
	if parts[0] != "" {
		lo, err = strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return 0, 0, apierr.NewValidationf(apierr.CodeInvalidRange,
				"bad range %q: lower bound: %v", spec, err)
		}
	}
	if parts[1] != "" {
		hi, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, 0, apierr.NewValidationf(apierr.CodeInvalidRange,
				"bad range %q: upper bound: %v", spec, err)
		}
	}
	if lo > hi {
		return 0, 0, apierr.NewValidationf(apierr.CodeInvalidRange,
			"bad range %q: lower bound exceeds upper", spec)
	}
	return lo, hi, nil
}

// firstNumber extracts the first run of digits in s.
func firstNumber(s string) (int64, bool) {
	start := strings.IndexAny(s, "0123456789")
	if start < 0 {
		return 0, false
	}
	end := start
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	n, err := strconv.ParseInt(s[start:end], 10, 64)
	if err != nil {
		// Digit run longer than an int64; treat as no match.
		return 0, false
	}
	return n, true
}

// Dedup removes duplicate names preserving first-occurrence order.
func Dedup(names []string) []string {
	if len(names) < 2 {
		return names
	}
	seen := make(map[string]struct{}, len(names))
	out := names[:0]
	for _, name := range names {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
