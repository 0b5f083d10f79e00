package decision

import (
	"fmt"

	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/apierr"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/bundle"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/hrn"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/policylang"
)

// Engine implements C7: a deterministic, total function from (bundle,
// request) to Decision. It holds no mutable state of its own; all inputs
// are supplied per call, which is what makes evaluation safe to memoize in
// the decision cache (§4.7, §4.8).
type Engine struct {
	policies       bundle.PolicyReader
	lang           policylang.Language
	diagnosticsCap int
}

// NewEngine constructs an Engine. diagnosticsCap bounds the number of
// diagnostic entries retained per decision; 0 means unbounded.
func NewEngine(policies bundle.PolicyReader, lang policylang.Language, diagnosticsCap int) *Engine {
	return &Engine{policies: policies, lang: lang, diagnosticsCap: diagnosticsCap}
}

// Evaluate runs the full algorithm from §4.7 against b for the given
// request. It never returns an error for an ordinary Deny — only for
// infrastructure failures (a policy vanished between bundle assembly and
// evaluation) or a malformed compiled form, which is an
// EngineInvariantViolation (should be impossible post-compile).
func (e *Engine) Evaluate(b *bundle.EvaluationBundle, req policylang.Request) (Decision, error) {
	var diags []DiagnosticEntry
	truncated := false
	record := func(d DiagnosticEntry) {
		if e.diagnosticsCap > 0 && len(diags) >= e.diagnosticsCap {
			truncated = true
			return
		}
		diags = append(diags, d)
	}

	// 1. SCP boundary check, root→leaf. At each level, the running
	// boundary is the intersection of that level's permits minus the
	// union of its forbids (§4.7 step 1). For a single concrete request
	// this reduces to: any Forbid at a level denies outright; a level
	// that carries SCPs but none of them permit this request also denies
	// (its boundary excludes the request); a level with no SCPs at all
	// does not narrow the inherited boundary.
	for _, level := range b.SCPBoundary {
		sawPermit := false
		var forbidding []hrn.HRN
		for _, ref := range level.Policies {
			outcome, err := e.evaluateOne(ref, req)
			if err != nil {
				return Decision{}, err
			}
			record(DiagnosticEntry{PolicyHRN: ref.HRN.String(), Outcome: string(outcome.Effect), Trace: traceStrings(outcome.Trace), Error: firstTraceError(outcome.Trace)})
			switch outcome.Effect {
			case policylang.Forbid:
				forbidding = append(forbidding, ref.HRN)
			case policylang.Permit:
				sawPermit = true
			}
		}
		if len(forbidding) > 0 {
			return Decision{Effect: Deny, Explicit: true, DeterminingPolicies: forbidding, ReasonCode: ReasonScpBoundaryDenied, Diagnostics: diags, DiagnosticsTruncated: truncated}, nil
		}
		if len(level.Policies) > 0 && !sawPermit {
			return Decision{Effect: Deny, Explicit: true, DeterminingPolicies: refsToHRNs(level.Policies), ReasonCode: ReasonScpBoundaryDenied, Diagnostics: diags, DiagnosticsTruncated: truncated}, nil
		}
	}

	// 2. Identity evaluation, in the bundle's HRN-lexicographic order.
	var forbids, permits []hrn.HRN
	for _, ref := range b.IdentityPolicies {
		outcome, err := e.evaluateOne(ref, req)
		if err != nil {
			return Decision{}, err
		}
		record(DiagnosticEntry{PolicyHRN: ref.HRN.String(), Outcome: string(outcome.Effect), Trace: traceStrings(outcome.Trace), Error: firstTraceError(outcome.Trace)})
		switch outcome.Effect {
		case policylang.Forbid:
			forbids = append(forbids, ref.HRN)
		case policylang.Permit:
			permits = append(permits, ref.HRN)
		}
	}

	switch {
	case len(forbids) > 0:
		return Decision{Effect: Deny, Explicit: true, DeterminingPolicies: forbids, ReasonCode: ReasonExplicitForbid, Diagnostics: diags, DiagnosticsTruncated: truncated}, nil
	case len(permits) > 0:
		return Decision{Effect: Allow, Explicit: true, DeterminingPolicies: permits, ReasonCode: ReasonExplicitPermit, Diagnostics: diags, DiagnosticsTruncated: truncated}, nil
	default:
		return Decision{Effect: Deny, Explicit: false, DeterminingPolicies: nil, ReasonCode: ReasonNoMatchingPermit, Diagnostics: diags, DiagnosticsTruncated: truncated}, nil
	}
}

func (e *Engine) evaluateOne(ref bundle.PolicyRef, req policylang.Request) (policylang.Outcome, error) {
	p, err := e.policies.Get(ref.HRN)
	if err != nil {
		return policylang.Outcome{}, err
	}
	compiled, ok := p.CompiledForm.(*policylang.CompiledForm)
	if !ok {
		return policylang.Outcome{}, apierr.New(apierr.EngineInvariantViolation, fmt.Sprintf("decision: policy %s has no compiled form or an unrecognized compiled form type", ref.HRN))
	}
	return e.lang.Evaluate(compiled, req, 1)
}

func refsToHRNs(refs []bundle.PolicyRef) []hrn.HRN {
	out := make([]hrn.HRN, len(refs))
	for i, r := range refs {
		out[i] = r.HRN
	}
	return out
}

func traceStrings(trace []policylang.ConditionTrace) []string {
	out := make([]string, 0, len(trace))
	for _, t := range trace {
		out = append(out, t.Expression)
	}
	return out
}

func firstTraceError(trace []policylang.ConditionTrace) string {
	for _, t := range trace {
		if t.Error != "" {
			return t.Error
		}
	}
	return ""
}
