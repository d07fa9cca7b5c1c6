// Copyright 2025 Coldfront Authors
// SPDX-License-Identifier: Apache-2.0

// Package api defines the action messages and result shapes exchanged
// with a coldfront node. The transport layer decodes requests into these
// types; everything below it works in terms of them.
package api

// Action is a bucket or batch-object operation requested of a node.
type Action int

const (
	ActionUnknown Action = iota
	ActionCreateLB
	ActionDestroyLB
	ActionRenameLB
	ActionSetProps
	ActionListObjects
	ActionEvict
	ActionPrefetch
	ActionDelete
)

var actionNames = map[Action]string{
	ActionCreateLB:    "createlb",
	ActionDestroyLB:   "destroylb",
	ActionRenameLB:    "renamelb",
	ActionSetProps:    "setprops",
	ActionListObjects: "listobjects",
	ActionEvict:       "evict",
	ActionPrefetch:    "prefetch",
	ActionDelete:      "delete",
	ActionUnknown:     "unknown",
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return actionNames[ActionUnknown]
}

func ParseAction(name string) Action {
	for action, actionName := range actionNames {
		if action != ActionUnknown && actionName == name {
			return action
		}
	}
	return ActionUnknown
}

// OperationType classifies actions by their effect.
// Useful for stats attribution and read-only policies.
type OperationType int

const (
	OpRead  OperationType = iota // enumeration and metadata reads
	OpWrite                      // state-changing operations
)

func (o OperationType) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	default:
		return "unknown"
	}
}

// OperationType returns the operation classification for this action.
func (a Action) OperationType() OperationType {
	switch a {
	case ActionListObjects:
		return OpRead
	default:
		return OpWrite
	}
}

// IsBucketLevel returns true if this action mutates bucket metadata
// rather than object copies.
func (a Action) IsBucketLevel() bool {
	switch a {
	case ActionCreateLB, ActionDestroyLB, ActionRenameLB, ActionSetProps:
		return true
	default:
		return false
	}
}

// IsBatch returns true if this action resolves a candidate object set and
// fans out per object.
func (a Action) IsBatch() bool {
	switch a {
	case ActionEvict, ActionPrefetch, ActionDelete:
		return true
	default:
		return false
	}
}

// RequiresLocalBucket returns true if this action only makes sense on a
// local bucket. Cloud bucket metadata belongs to the provider.
func (a Action) RequiresLocalBucket() bool {
	switch a {
	case ActionCreateLB, ActionDestroyLB, ActionRenameLB:
		return true
	default:
		return false
	}
}

// RequiresValue returns true if this action needs a payload in the
// message value. Batch actions tolerate an absent value: it reads as an
// empty range spec selecting the whole bucket.
func (a Action) RequiresValue() bool {
	return a == ActionSetProps
}
