// Package policylang implements the PolicyLanguage collaborator contract
// from §6: parse → typecheck → compile → evaluate → hash. The concrete
// implementation here compiles policy conditions with CEL
// (github.com/google/cel-go), the same engine the teacher's conformance
// kernel used for deterministic expression evaluation.
//
// The core never inspects a CompiledForm structurally (§9); it only calls
// back into this package through the Language interface.
package policylang

import (
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/hrn"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/schema"
)

// Effect is the outcome a compiled statement contributes toward a decision.
type Effect string

const (
	Permit       Effect = "Permit"
	Forbid       Effect = "Forbid"
	NotApplicable Effect = "NotApplicable"
)

// Request is the (principal, action, resource, context) tuple the decision
// engine evaluates a compiled policy against.
type Request struct {
	Principal PrincipalView
	Action    string
	Resource  hrn.HRN
	Context   map[string]any
}

// PrincipalView is the subset of principal state visible to policy
// evaluation: its HRN, entity type, and attribute map.
type PrincipalView struct {
	HRN        hrn.HRN
	EntityType string
	Attributes map[string]any
}

// ConditionTrace records one participating condition's evaluation for the
// diagnostic trail (§4.7.4).
type ConditionTrace struct {
	Expression string
	Result     bool
	Error      string
}

// Outcome is what evaluating one CompiledForm against one Request produces.
type Outcome struct {
	Effect ConditionEffect
	Trace  []ConditionTrace
}

// ConditionEffect is the three-valued result of evaluating a single
// compiled statement: Permit, Forbid, or NotApplicable (action/resource
// pattern did not match, or a `when` condition evaluated false).
type ConditionEffect = Effect

// AST is the parsed, not-yet-typechecked form of one policy statement.
type AST struct {
	Effect          Effect
	ActionPattern   string
	ResourcePattern string
	Condition       string // raw CEL source, "" if none
}

// TypedAST is an AST that has been checked against a schema: its action is
// declared (or is the wildcard "*"). The resource pattern is not checked
// against the schema's entity types.
type TypedAST struct {
	AST
	SchemaVersion uint64
}

// CompiledForm is the opaque, immutable handle produced by Compile. It
// satisfies policy.CompiledForm without importing that package (avoiding an
// import cycle); the decision engine type-asserts back to *CompiledForm
// only within this package's Evaluate.
type CompiledForm struct {
	effect          Effect
	actionMatcher   patternMatcher
	resourceMatcher patternMatcher
	conditionSource string
	program         compiledProgram
	schemaVersion   uint64
}

// Language is the PolicyLanguage contract from §6.
type Language interface {
	Parse(text string) (AST, error)
	Typecheck(a AST, h schema.Handle, kind PolicyKind) (TypedAST, error)
	Compile(t TypedAST) (*CompiledForm, error)
	Evaluate(c *CompiledForm, req Request, diagnosticsCap int) (Outcome, error)
	Hash(c *CompiledForm) (string, error)
}

// PolicyKind mirrors policy.Kind without importing that package (it would
// import this one for CompiledForm, creating a cycle). SCPs are restricted
// to boundary constructs at typecheck time (§4.4).
type PolicyKind string

const (
	KindIdentity PolicyKind = "Identity"
	KindSCP      PolicyKind = "SCP"
	KindResource PolicyKind = "Resource"
)
