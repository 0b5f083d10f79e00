// Package pdp implements the pluggable PDP backend indirection (SPEC_FULL
// Supplemented Feature #1): the decision engine's CEL evaluator is exposed
// behind a backend-agnostic request/response contract so a deployment
// could, in principle, swap it for a sidecar-based OPA or Cedar evaluator
// without any caller of PolicyDecisionPoint noticing. This spec ships only
// the CEL backend (C4-C7's native evaluator); OPA/Cedar exist as named
// enum values marking the seam, not as implementations.
//
// Every PDP implementation MUST:
//   - Be fail-closed (deny on error or an unresolvable bundle)
//   - Produce a deterministic decision hash (JCS canonical JSON -> SHA-256)
package pdp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/bundle"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/cache"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/canonicalize"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/decision"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/hrn"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/policylang"
)

// Backend identifies the policy engine behind a PolicyDecisionPoint.
type Backend string

const (
	BackendCEL   Backend = "cel"
	BackendOPA   Backend = "opa"
	BackendCedar Backend = "cedar"
)

// DecisionRequest is the canonical, backend-agnostic input to a policy
// evaluation, as a caller outside the HRN-typed core would build it.
type DecisionRequest struct {
	Principal   string            `json:"principal"`
	Action      string            `json:"action"`
	Resource    string            `json:"resource"`
	Context     map[string]any    `json:"context,omitempty"`
	SchemaHash  string            `json:"schema_hash,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// DecisionResponse is the canonical output of a policy evaluation.
type DecisionResponse struct {
	Allow        bool   `json:"allow"`
	ReasonCode   string `json:"reason_code"`
	PolicyRef    string `json:"policy_ref"`
	DecisionHash string `json:"decision_hash"` // SHA-256 of JCS-canonical decision
	CacheHit     bool   `json:"cache_hit,omitempty"`
}

// PolicyDecisionPoint is the stable interface administrative callers
// evaluate requests through, independent of which engine answers them.
type PolicyDecisionPoint interface {
	// Evaluate runs the policy evaluation. MUST be fail-closed.
	Evaluate(ctx context.Context, req *DecisionRequest) (*DecisionResponse, error)

	// Backend returns the backend identifier.
	Backend() Backend

	// PolicyHash returns a content-addressed hash of the active policy set.
	PolicyHash() string
}

// ComputeDecisionHash produces a deterministic SHA-256 hash of the
// decision using JCS canonicalization.
func ComputeDecisionHash(resp *DecisionResponse) (string, error) {
	// Exclude the hash field itself from the canonical form
	hashInput := struct {
		Allow      bool   `json:"allow"`
		ReasonCode string `json:"reason_code"`
		PolicyRef  string `json:"policy_ref"`
	}{
		Allow:      resp.Allow,
		ReasonCode: resp.ReasonCode,
		PolicyRef:  resp.PolicyRef,
	}

	canonical, err := canonicalize.JCS(hashInput)
	if err != nil {
		return "", fmt.Errorf("pdp: decision hash canonicalization failed: %w", err)
	}

	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// BundleResolver assembles the effective policy bundle for a (principal,
// resource) pair — the seam between this package's string-typed DTOs and
// C5/C6's HRN-typed assembly (principal.Resolver + bundle.Assembler).
type BundleResolver func(ctx context.Context, principal, resource hrn.HRN) (*bundle.EvaluationBundle, error)

// CELBackend implements PolicyDecisionPoint over the in-process CEL
// decision engine (C7) — the only backend this spec ships.
type CELBackend struct {
	engine     *decision.Engine
	resolve    BundleResolver
	policyHash func() string
	cache      *cache.Cache
	ttlPolicy  cache.TTLPolicy
}

// NewCELBackend wires a decision.Engine and a BundleResolver into a
// PolicyDecisionPoint. policyHash reports a content hash of the active
// policy set (e.g. the schema registry's active version plus the
// assembler's last bundle hash), used for PolicyHash and audit evidence.
func NewCELBackend(engine *decision.Engine, resolve BundleResolver, policyHash func() string) *CELBackend {
	return &CELBackend{engine: engine, resolve: resolve, policyHash: policyHash}
}

// WithCache attaches the Decision Cache (C8) to this backend: every
// Evaluate call first checks the cache keyed by the request's fingerprint,
// and on a miss populates it under ttlPolicy once the engine answers.
// Fail-closed deny responses (HRN parse or bundle-assembly failures) are
// never cached — they carry no DependencySet to invalidate against.
func (c *CELBackend) WithCache(ch *cache.Cache, ttlPolicy cache.TTLPolicy) *CELBackend {
	c.cache = ch
	c.ttlPolicy = ttlPolicy
	return c
}

func (c *CELBackend) Backend() Backend { return BackendCEL }

func (c *CELBackend) PolicyHash() string {
	if c.policyHash == nil {
		return ""
	}
	return c.policyHash()
}

// Evaluate resolves the effective bundle for the request's principal and
// resource, then runs it through the CEL decision engine. Any failure to
// parse the request or assemble its bundle fails closed: Allow=false,
// never an ambiguous zero-value response.
func (c *CELBackend) Evaluate(ctx context.Context, req *DecisionRequest) (*DecisionResponse, error) {
	principal, err := hrn.Parse(req.Principal)
	if err != nil {
		return denyResponse("InvalidPrincipalHRN"), nil
	}
	resource, err := hrn.Parse(req.Resource)
	if err != nil {
		return denyResponse("InvalidResourceHRN"), nil
	}

	b, err := c.resolve(ctx, principal, resource)
	if err != nil {
		return denyResponse("BundleAssemblyFailed"), nil
	}

	evalReq := policylang.Request{
		Principal: policylang.PrincipalView{HRN: principal},
		Action:    req.Action,
		Resource:  resource,
		Context:   req.Context,
	}

	var cacheHit bool
	var d decision.Decision
	if c.cache != nil {
		fp, fperr := cache.ComputeFingerprint(principal, req.Action, resource, req.Context, b.AssemblyHash, b.SchemaVersion)
		if fperr != nil {
			return denyResponse("FingerprintFailed"), nil
		}
		deps := cache.DependencySet{AssemblyHash: b.AssemblyHash}
		d, cacheHit, err = c.cache.GetOrCompute(ctx, fp, c.ttlPolicy, deps, func(ctx context.Context) (decision.Decision, error) {
			return c.engine.Evaluate(b, evalReq)
		})
	} else {
		d, err = c.engine.Evaluate(b, evalReq)
	}
	if err != nil {
		return denyResponse("EngineError"), nil
	}

	policyRef := ""
	if len(d.DeterminingPolicies) > 0 {
		policyRef = d.DeterminingPolicies[0].String()
	}

	resp := &DecisionResponse{
		Allow:      d.Effect == decision.Allow,
		ReasonCode: string(d.ReasonCode),
		PolicyRef:  policyRef,
		CacheHit:   cacheHit,
	}
	hash, err := ComputeDecisionHash(resp)
	if err != nil {
		return nil, err
	}
	resp.DecisionHash = hash
	return resp, nil
}

func denyResponse(reasonCode string) *DecisionResponse {
	resp := &DecisionResponse{Allow: false, ReasonCode: reasonCode}
	hash, err := ComputeDecisionHash(resp)
	if err == nil {
		resp.DecisionHash = hash
	}
	return resp
}

var _ PolicyDecisionPoint = (*CELBackend)(nil)
