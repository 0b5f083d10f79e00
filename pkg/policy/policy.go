// Package policy defines the Policy entity from the data model (§3): the
// durable unit the store persists, the validator/compiler produces, and the
// decision engine evaluates.
package policy

import (
	"time"

	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/hrn"
)

// Kind is the tagged variant distinguishing what a policy is allowed to do.
// Modeled as a closed enum rather than open polymorphism (§9): the decision
// engine matches it exhaustively.
type Kind string

const (
	KindIdentity Kind = "Identity"
	KindSCP      Kind = "SCP"
	KindResource Kind = "Resource"
)

// CompiledForm is an opaque handle owned by the store alongside its source.
// The decision engine only consumes it via the policylang.Language contract
// — no structural inspection leaks into the core (§9).
type CompiledForm interface{}

// Policy is {hrn, kind, source_text, compiled_hash, compiled_form, version,
// created_at, updated_at} per §3.
type Policy struct {
	HRN          hrn.HRN
	Kind         Kind
	SourceText   string
	CompiledHash string
	CompiledForm CompiledForm
	Version      uint64
	SchemaVersion uint64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// MutationKind distinguishes the three ways a policy document can change.
type MutationKind string

const (
	MutationCreated MutationKind = "Created"
	MutationUpdated MutationKind = "Updated"
	MutationDeleted MutationKind = "Deleted"
)

// MutationEvent is emitted by the store's watch stream and consumed by the
// invalidation bus (C9).
type MutationEvent struct {
	HRN  hrn.HRN
	Kind MutationKind
	Seq  uint64
}
