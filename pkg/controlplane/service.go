// Package controlplane wires C1-C10 and the pluggable PDP backend
// (pkg/pdp) into the single administrative surface spec §6 names:
// CreatePolicy, GetPolicy, UpdatePolicy, DeletePolicy, ListPolicies,
// AttachPolicyToPrincipal, DetachPolicy, AttachScpToOU, Authorize. The
// surface itself is RPC-binding-agnostic (§6); cmd/authzd exposes it over
// HTTP, cmd/authzctl drives it as a local client.
package controlplane

import (
	"context"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/apierr"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/audit"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/bundle"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/cache"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/decision"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/hrn"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/identity"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/invalidation"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/pdp"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/policy"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/policylang"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/policystore"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/principal"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/schema"
)

// Service is the concrete, in-process implementation of the administrative
// surface. It is safe for concurrent use.
type Service struct {
	store     policystore.Store
	directory *principal.MemDirectory
	resolver  *principal.Resolver
	assembler *bundle.Assembler
	registry  *schema.Registry
	lang      policylang.Language
	engine    *decision.Engine
	pdp       pdp.PolicyDecisionPoint
	cache     *cache.Cache
	bus       *invalidation.Bus
	recorder  *audit.Recorder
	condAccess *identity.ConditionalAccessEngine
	seq       atomic.Uint64

	log *slog.Logger
}

// Deps bundles every collaborator Service needs. All fields are required
// except Cache/Bus/Recorder, which degrade to no-ops when nil (a minimal
// single-node deployment may skip them).
type Deps struct {
	Store     policystore.Store
	Directory *principal.MemDirectory
	Resolver  *principal.Resolver
	Assembler *bundle.Assembler
	Registry  *schema.Registry
	Lang      policylang.Language
	Engine    *decision.Engine
	PDP       pdp.PolicyDecisionPoint
	Cache     *cache.Cache
	Bus       *invalidation.Bus
	Recorder  *audit.Recorder
	// CondAccess is the pre-decision gate (SPEC_FULL Supplemented Feature
	// #4). Optional: a nil engine means every request proceeds straight to
	// the CEL decision engine, which is also what an engine with zero
	// registered policies does.
	CondAccess *identity.ConditionalAccessEngine
	Log        *slog.Logger
}

// New constructs a Service from its collaborators.
func New(d Deps) *Service {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:      d.Store,
		directory:  d.Directory,
		resolver:   d.Resolver,
		assembler:  d.Assembler,
		registry:   d.Registry,
		lang:       d.Lang,
		engine:     d.Engine,
		pdp:        d.PDP,
		cache:      d.Cache,
		bus:        d.Bus,
		recorder:   d.Recorder,
		condAccess: d.CondAccess,
		log:        log,
	}
}

// CreatePolicy parses, typechecks, and compiles sourceText against the
// active schema, then persists it as a new policy document (§4.2, §4.4).
func (s *Service) CreatePolicy(ctx context.Context, h hrn.HRN, kind policy.Kind, sourceText string) (*policy.Policy, error) {
	cf, hash, schemaVersion, err := s.compile(sourceText, kind)
	if err != nil {
		return nil, err
	}

	p := &policy.Policy{
		HRN:           h,
		Kind:          kind,
		SourceText:    sourceText,
		CompiledForm:  cf,
		CompiledHash:  hash,
		SchemaVersion: schemaVersion,
	}
	if err := s.store.Create(ctx, p); err != nil {
		return nil, err
	}
	s.publishPolicyMutated(h)
	return p, nil
}

// GetPolicy fetches a policy document by HRN.
func (s *Service) GetPolicy(ctx context.Context, h hrn.HRN) (*policy.Policy, error) {
	return s.store.Get(ctx, h)
}

// UpdatePolicy recompiles sourceText and performs an optimistic-concurrency
// swap, failing with apierr.VersionConflict if expectedVersion is stale.
func (s *Service) UpdatePolicy(ctx context.Context, h hrn.HRN, sourceText string, expectedVersion uint64) (*policy.Policy, error) {
	existing, err := s.store.Get(ctx, h)
	if err != nil {
		return nil, err
	}
	cf, hash, _, err := s.compile(sourceText, existing.Kind)
	if err != nil {
		return nil, err
	}
	p, err := s.store.Update(ctx, h, sourceText, cf, hash, expectedVersion)
	if err != nil {
		return nil, err
	}
	s.publishPolicyMutated(h)
	return p, nil
}

// DeletePolicy removes a policy document. force=false honors the in-use
// guard the store checks against the directory (§4.2).
func (s *Service) DeletePolicy(ctx context.Context, h hrn.HRN, force bool) error {
	if err := s.store.Delete(ctx, h, force); err != nil {
		return err
	}
	s.publishPolicyMutated(h)
	return nil
}

// ProposeSchema activates a new schema version (C3), rejecting a regression
// or an incompatible removal per §4.3. Not one of §6's enumerated admin
// operations by name, but required to bootstrap and evolve the entity/
// action declarations every CreatePolicy call typechecks against.
func (s *Service) ProposeSchema(next *schema.Schema) (uint64, error) {
	return s.registry.Propose(next)
}

// ProposeSchemaDocument is ProposeSchema for callers that carry the next
// schema version as a raw JSON document (e.g. an HTTP body) rather than an
// already-built *schema.Schema — it validates the document's structure
// before attempting the registry's compatibility check.
func (s *Service) ProposeSchemaDocument(raw []byte) (uint64, error) {
	next, err := schema.ParseSchemaDocument(raw)
	if err != nil {
		return 0, err
	}
	return s.registry.Propose(next)
}

// ListPolicies paginates the store's policy set.
func (s *Service) ListPolicies(ctx context.Context, filter policystore.Filter, cursor string, limit int) ([]*policy.Policy, string, error) {
	return s.store.List(ctx, filter, cursor, limit)
}

// AttachPolicyToPrincipal attaches an identity policy directly to a
// principal and invalidates that principal's cached bundle.
func (s *Service) AttachPolicyToPrincipal(ctx context.Context, p, policyHRN hrn.HRN) error {
	if _, err := s.store.Get(ctx, policyHRN); err != nil {
		return err
	}
	s.directory.AttachPolicyToPrincipal(p, policyHRN)
	s.publishPrincipalEdge(p)
	return nil
}

// DetachPolicy removes a directly-attached identity policy from a
// principal and invalidates that principal's cached bundle.
func (s *Service) DetachPolicy(ctx context.Context, p, policyHRN hrn.HRN) error {
	s.directory.DetachPolicyFromPrincipal(p, policyHRN)
	s.publishPrincipalEdge(p)
	return nil
}

// AttachScpToOU attaches a service control policy to an OU's boundary and
// invalidates every principal under it (the blast radius cannot be
// narrowed to one principal, so this is a wide invalidation per §4.9).
func (s *Service) AttachScpToOU(ctx context.Context, ouHRN, scpHRN hrn.HRN) error {
	if _, err := s.store.Get(ctx, scpHRN); err != nil {
		return err
	}
	if err := s.directory.AttachScpToOU(ouHRN, scpHRN); err != nil {
		return err
	}
	s.publishWideInvalidation()
	return nil
}

// DetachScpFromOU removes a service control policy from an OU's boundary.
func (s *Service) DetachScpFromOU(ctx context.Context, ouHRN, scpHRN hrn.HRN) error {
	if err := s.directory.DetachScpFromOU(ouHRN, scpHRN); err != nil {
		return err
	}
	s.publishWideInvalidation()
	return nil
}

// Authorize is the decision-making entry point (§4.7): it runs the
// conditional-access gate first, which may answer with a Deny-shaped
// response on its own; otherwise it evaluates the request through the
// pluggable PDP backend. Either outcome is recorded via the audit
// recorder, never altering the decision path on a recorder failure
// (§4.10).
func (s *Service) Authorize(ctx context.Context, req *pdp.DecisionRequest) (*pdp.DecisionResponse, error) {
	start := time.Now()

	var resp *pdp.DecisionResponse
	var err error
	if s.condAccess != nil {
		if gated, ok := s.evaluateCondAccess(req); ok {
			resp = gated
		}
	}
	if resp == nil {
		resp, err = s.pdp.Evaluate(ctx, req)
	}
	latency := time.Since(start)
	if err != nil {
		return nil, err
	}

	if s.recorder != nil {
		principalHRN, perr := hrn.Parse(req.Principal)
		resourceHRN, rerr := hrn.Parse(req.Resource)
		if perr == nil && rerr == nil {
			d := decision.Decision{
				Effect:     decision.Effect(map[bool]decision.Effect{true: decision.Allow, false: decision.Deny}[resp.Allow]),
				ReasonCode: decision.ReasonCode(resp.ReasonCode),
			}
			s.recorder.Record(ctx, resp.DecisionHash, principalHRN, req.Action, resourceHRN, req.Context, d, latency, resp.CacheHit, "", 0)
		}
	}

	return resp, nil
}

func (s *Service) compile(sourceText string, kind policy.Kind) (policy.CompiledForm, string, uint64, error) {
	active := s.registry.Active()
	langKind := policylang.KindIdentity
	if kind == policy.KindSCP {
		langKind = policylang.KindSCP
	}

	ast, err := s.lang.Parse(sourceText)
	if err != nil {
		return nil, "", 0, apierr.Wrap(apierr.Validation, "parse failed", err)
	}
	typed, err := s.lang.Typecheck(ast, active, langKind)
	if err != nil {
		return nil, "", 0, apierr.Wrap(apierr.Validation, "typecheck failed", err)
	}
	cf, err := s.lang.Compile(typed)
	if err != nil {
		return nil, "", 0, apierr.Wrap(apierr.Validation, "compile failed", err)
	}
	hash, err := s.lang.Hash(cf)
	if err != nil {
		return nil, "", 0, apierr.Wrap(apierr.Validation, "hash failed", err)
	}
	return cf, hash, active.Version(), nil
}

func (s *Service) publishPolicyMutated(h hrn.HRN) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(invalidation.Event{Kind: invalidation.KindPolicyMutated, Seq: s.seq.Add(1), PolicyHRN: h})
}

func (s *Service) publishPrincipalEdge(p hrn.HRN) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(invalidation.Event{Kind: invalidation.KindPrincipalEdge, Seq: s.seq.Add(1), Principal: p, Narrow: true})
}

func (s *Service) publishWideInvalidation() {
	if s.bus == nil {
		return
	}
	s.bus.Publish(invalidation.Event{Kind: invalidation.KindPrincipalEdge, Seq: s.seq.Add(1), Narrow: false})
}

// evaluateCondAccess runs the conditional-access gate ahead of the CEL
// decision engine. ok is false when the gate allows the request through
// to the engine unmodified; ok is true when the gate itself produced the
// final (always Deny-shaped) response, short-circuiting the engine.
func (s *Service) evaluateCondAccess(req *pdp.DecisionRequest) (*pdp.DecisionResponse, bool) {
	verdict := s.condAccess.Evaluate(contextFromRequest(req))
	if verdict == identity.AccessAllow {
		return nil, false
	}

	resp := &pdp.DecisionResponse{
		Allow:      false,
		ReasonCode: "ConditionalAccess" + string(verdict),
		PolicyRef:  "",
	}
	if hash, err := pdp.ComputeDecisionHash(resp); err == nil {
		resp.DecisionHash = hash
	}
	return resp, true
}

// contextFromRequest lifts a DecisionRequest's untyped context map into
// the identity package's AccessContext, the shape ConditionalPolicy
// matches against.
func contextFromRequest(req *pdp.DecisionRequest) identity.AccessContext {
	ac := identity.AccessContext{
		PrincipalID: req.Principal,
		Resource:    req.Resource,
		RequestTime: req.Timestamp,
	}
	if req.Context == nil {
		return ac
	}
	if v, ok := req.Context["source_ip"].(string); ok {
		ac.SourceIP = v
	}
	if v, ok := req.Context["device_type"].(string); ok {
		ac.DeviceType = v
	}
	if v, ok := req.Context["location"].(string); ok {
		ac.Location = v
	}
	if v, ok := req.Context["account_id"].(string); ok {
		ac.AccountID = v
	}
	if v, ok := req.Context["mfa_present"].(bool); ok {
		ac.MFAPresent = v
	}
	switch v := req.Context["risk_score"].(type) {
	case float64:
		ac.RiskScore = v
	case int:
		ac.RiskScore = float64(v)
	}
	return ac
}
