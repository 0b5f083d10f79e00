// Package decision implements the Decision Engine (C7): evaluates an
// EvaluationBundle against (principal, action, resource, context) under
// SCP boundary constraints and identity permit/forbid precedence.
package decision

import "github.com/Rubentxu/hodei-artifacts-sub002/pkg/hrn"

// Effect is the final Allow/Deny outcome of one evaluation.
type Effect string

const (
	Allow Effect = "Allow"
	Deny  Effect = "Deny"
)

// ReasonCode names why a decision resolved the way it did (§4.7).
type ReasonCode string

const (
	ReasonScpBoundaryDenied ReasonCode = "ScpBoundaryDenied"
	ReasonExplicitForbid    ReasonCode = "ExplicitForbid"
	ReasonExplicitPermit    ReasonCode = "ExplicitPermit"
	ReasonNoMatchingPermit  ReasonCode = "NoMatchingPermit"
)

// DiagnosticEntry is one (policy_hrn, outcome, condition_trace) record
// produced for every policy that participated in the evaluation (§4.7.4).
type DiagnosticEntry struct {
	PolicyHRN string
	Outcome   string
	Trace     []string
	Error     string
}

// Decision is {effect, explicit, determining_policies, reason_code,
// diagnostics} per §3. It is deterministic and byte-identical for fixed
// inputs, making it safe as a cache value (§4.7).
type Decision struct {
	Effect             Effect
	Explicit           bool
	DeterminingPolicies []hrn.HRN
	ReasonCode         ReasonCode
	Diagnostics        []DiagnosticEntry
	DiagnosticsTruncated bool
}
