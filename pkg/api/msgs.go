// Copyright 2025 Coldfront Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/coldfront/coldfront/pkg/api/apierr"
	"github.com/coldfront/coldfront/pkg/types"
)

// ActionMsg is the wire form of every control-plane request:
//
//	{"action": "evict", "value": {"wait": true, "objnames": ["a", "b"]}}
//
// Value is decoded according to the action; see DecodeTarget, Props, and
// ListMsgValue.
type ActionMsg struct {
	Action string          `json:"action"`
	Name   string          `json:"name,omitempty"`
	Value  json.RawMessage `json:"value,omitempty"`
}

// ParsedAction returns the typed action, or an InvalidAction error.
func (m *ActionMsg) ParsedAction() (Action, error) {
	a := ParseAction(m.Action)
	if a == ActionUnknown {
		return ActionUnknown, apierr.NewValidationf(apierr.CodeInvalidAction, "unknown action %q", m.Action)
	}
	return a, nil
}

// ListMsg targets an explicit set of object names.
type ListMsg struct {
	Wait     bool          `json:"wait,omitempty"`
	Deadline time.Duration `json:"deadline,omitempty"`
	Objnames []string      `json:"objnames"`
}

// RangeMsg targets objects by prefix, regex, and numeric range, combined
// with AND. Zero values leave the corresponding filter open.
type RangeMsg struct {
	Wait     bool          `json:"wait,omitempty"`
	Deadline time.Duration `json:"deadline,omitempty"`
	Prefix   string        `json:"prefix,omitempty"`
	Regex    string        `json:"regex,omitempty"`
	// Range is "lo:hi", inclusive on both ends; empty disables the
	// numeric filter.
	Range string `json:"range,omitempty"`
}

// DecodeTarget interprets the message value as a batch target. Exactly
// one of the returns is non-nil on success: a value decoding strictly
// as a ListMsg with an objnames field is a ListMsg, anything else must
// decode strictly as a RangeMsg. An absent value is an empty RangeMsg,
// which selects the whole bucket.
func (m *ActionMsg) DecodeTarget() (*ListMsg, *RangeMsg, error) {
	if len(m.Value) == 0 {
		return nil, &RangeMsg{}, nil
	}
	if lm, err := decodeStrict[ListMsg](m.Value); err == nil && lm.Objnames != nil {
		return &lm, nil, nil
	}
	rm, err := decodeStrict[RangeMsg](m.Value)
	if err != nil {
		return nil, nil, apierr.NewValidationf(apierr.CodeInvalidAction,
			"action %s: bad target payload: %v", m.Action, err)
	}
	return nil, &rm, nil
}

// decodeStrict rejects fields the target type does not declare, so a
// payload is classified by its shape alone.
func decodeStrict[T any](value json.RawMessage) (T, error) {
	var v T
	dec := json.NewDecoder(bytes.NewReader(value))
	dec.DisallowUnknownFields()
	err := dec.Decode(&v)
	return v, err
}

// Props interprets the message value as a bucket properties payload.
func (m *ActionMsg) Props() (*types.BucketProps, error) {
	if len(m.Value) == 0 {
		return nil, apierr.NewValidationf(apierr.CodeInvalidProps, "action %s requires a properties payload", m.Action)
	}
	props, err := UnmarshalValue[types.BucketProps](m.Value)
	if err != nil {
		return nil, apierr.NewValidationf(apierr.CodeInvalidProps, "bad properties payload: %v", err)
	}
	return &props, nil
}

// PropsInto decodes the properties payload onto dst, so fields absent
// from the payload keep their current values. This is the update
// semantics of setprops: callers send only what they change.
func (m *ActionMsg) PropsInto(dst *types.BucketProps) error {
	if len(m.Value) == 0 {
		return apierr.NewValidationf(apierr.CodeInvalidProps, "action %s requires a properties payload", m.Action)
	}
	if err := json.Unmarshal(m.Value, dst); err != nil {
		return apierr.NewValidationf(apierr.CodeInvalidProps, "bad properties payload: %v", err)
	}
	return nil
}

// ListMsgValue interprets the message value as listing parameters. An
// absent value yields defaults.
func (m *ActionMsg) ListMsgValue() (*GetMsg, error) {
	if len(m.Value) == 0 {
		return &GetMsg{}, nil
	}
	gm, err := UnmarshalValue[GetMsg](m.Value)
	if err != nil {
		return nil, apierr.NewValidationf(apierr.CodeInvalidAction, "bad list parameters: %v", err)
	}
	return &gm, nil
}

// MarshalValue is a helper to build an ActionMsg value.
func MarshalValue(v any) (json.RawMessage, error) {
	return json.Marshal(v)
}

// UnmarshalValue is a helper to decode an ActionMsg value.
func UnmarshalValue[T any](value json.RawMessage) (T, error) {
	var v T
	err := json.Unmarshal(value, &v)
	return v, err
}

// Listing property identifiers for GetMsg.Props.
const (
	GetPropsChecksum = "checksum"
	GetPropsSize     = "size"
	GetPropsAtime    = "atime"
	GetPropsVersion  = "version"
	GetPropsIsCached = "iscached"
)

const (
	// DefaultPageSize bounds a listing page when the caller does not.
	DefaultPageSize = 1000
	// MaxPageSize is the hard cap on a single page.
	MaxPageSize = 10000
)

// GetMsg carries listing parameters for listobjects.
type GetMsg struct {
	// Props is a comma-separated subset of the listing property
	// identifiers. Empty means "size,checksum".
	Props      string `json:"props,omitempty"`
	Prefix     string `json:"prefix,omitempty"`
	PageMarker string `json:"pagemarker,omitempty"`
	PageSize   int    `json:"pagesize,omitempty"`
}

// WantProp reports whether the caller asked for the given property.
func (m *GetMsg) WantProp(name string) bool {
	props := m.Props
	if props == "" {
		props = GetPropsSize + "," + GetPropsChecksum
	}
	for _, p := range strings.Split(props, ",") {
		if strings.TrimSpace(p) == name {
			return true
		}
	}
	return false
}

// EffectivePageSize clamps the requested page size into bounds.
func (m *GetMsg) EffectivePageSize() int {
	switch {
	case m.PageSize <= 0:
		return DefaultPageSize
	case m.PageSize > MaxPageSize:
		return MaxPageSize
	default:
		return m.PageSize
	}
}

// BucketNames is the list-buckets result. Cloud is nil when the caller
// asked for local names only.
type BucketNames struct {
	Local []string `json:"local"`
	Cloud []string `json:"cloud,omitempty"`
}

// BucketList is one page of a bucket listing.
type BucketList struct {
	Entries []types.ObjectEntry `json:"entries"`
	// PageMarker resumes the listing; empty when the page is final.
	PageMarker string `json:"pagemarker,omitempty"`
}
