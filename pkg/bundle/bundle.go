// Package bundle implements the Effective Policy Assembler (C6): combines
// identity policies and the SCP boundary set for a principal into an
// evaluation bundle, memoized per (principal_hrn, schema_version).
package bundle

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/canonicalize"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/hrn"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/policy"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/principal"
)

// PolicyRef is one contributing policy's identity and version, used both
// to build the bundle's content and to compute its assembly_hash.
type PolicyRef struct {
	HRN     hrn.HRN
	Version uint64
}

// SCPLevel is the SCP set attached to one OU in the principal's chain,
// preserving which OU contributed it. The decision engine needs the
// per-level grouping (not just a flattened list) to evaluate the
// intersection/union boundary check root level by root level (§4.7 step 1).
type SCPLevel struct {
	OU       hrn.HRN
	Policies []PolicyRef
}

// EvaluationBundle is assembled per (principal, schema_version): {
// identity_policy_set, scp_boundary_set_ordered_root_to_leaf,
// schema_version, assembly_hash} (§3).
type EvaluationBundle struct {
	Principal        hrn.HRN
	IdentityPolicies []PolicyRef
	SCPBoundary      []SCPLevel // root-to-leaf order
	SchemaVersion    uint64
	AssemblyHash     string
}

// PolicyReader is the subset of policystore.Store the assembler needs: a
// lookup by HRN that also reports the policy's kind and schema_version, so
// skewed policies can be dropped (§4.6 step 3).
type PolicyReader interface {
	Get(h hrn.HRN) (*policy.Policy, error)
}

// Assembler implements C6. It depends on the Principal Resolver (C5) for
// groups/OU chain, a Directory for group/OU policy attachments, and a
// PolicyReader for each policy's current version and schema binding.
type Assembler struct {
	resolver *principal.Resolver
	dir      principal.Directory
	policies PolicyReader
	log      *slog.Logger

	mu   sync.RWMutex
	memo map[memoKey]*EvaluationBundle
}

type memoKey struct {
	principal     hrn.HRN
	schemaVersion uint64
}

// NewAssembler constructs an Assembler.
func NewAssembler(resolver *principal.Resolver, dir principal.Directory, policies PolicyReader, log *slog.Logger) *Assembler {
	if log == nil {
		log = slog.Default()
	}
	return &Assembler{resolver: resolver, dir: dir, policies: policies, log: log, memo: make(map[memoKey]*EvaluationBundle)}
}

// Bundle returns the memoized EvaluationBundle for (principal, schemaVersion),
// assembling it lazily on first access (§4.6).
func (a *Assembler) Bundle(p hrn.HRN, schemaVersion uint64) (*EvaluationBundle, error) {
	key := memoKey{principal: p, schemaVersion: schemaVersion}

	a.mu.RLock()
	if b, ok := a.memo[key]; ok {
		a.mu.RUnlock()
		return b, nil
	}
	a.mu.RUnlock()

	b, err := a.assemble(p, schemaVersion)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.memo[key] = b
	a.mu.Unlock()
	return b, nil
}

func (a *Assembler) assemble(p hrn.HRN, schemaVersion uint64) (*EvaluationBundle, error) {
	// 1. Identity set = policies attached directly to principal ∪ policies
	//    of each group the principal belongs to.
	direct, err := a.dir.PrincipalPolicies(p)
	if err != nil {
		return nil, err
	}
	groups, err := a.resolver.GroupsOf(p)
	if err != nil {
		return nil, err
	}

	identitySet := map[hrn.HRN]bool{}
	for _, h := range direct {
		identitySet[h] = true
	}
	for _, gHRN := range groups {
		g, err := a.dir.Group(gHRN)
		if err != nil {
			return nil, err
		}
		for _, h := range g.PolicyHRNs {
			identitySet[h] = true
		}
	}

	// 2. SCP set = for each OU from root to the principal's account,
	//    the OU's attached SCPs, preserving root→leaf order.
	chain, err := a.resolver.OUChain(p)
	if err != nil {
		return nil, err
	}

	var scpLevels []SCPLevel
	for _, ouHRN := range chain {
		ou, err := a.dir.OU(ouHRN)
		if err != nil {
			return nil, err
		}
		refs, err := a.resolvePolicyRefs(ou.SCPHRNs, schemaVersion)
		if err != nil {
			return nil, err
		}
		scpLevels = append(scpLevels, SCPLevel{OU: ouHRN, Policies: refs})
	}

	// 3. Drop policies whose schema_version != requested, logging
	//    SchemaVersionSkew (identity set resolved here; SCP levels already
	//    filtered above since each level is resolved independently).
	identityRefs, err := a.resolvePolicyRefs(sortedKeys(identitySet), schemaVersion)
	if err != nil {
		return nil, err
	}

	assemblyHash, err := computeAssemblyHash(identityRefs, scpLevels, schemaVersion)
	if err != nil {
		return nil, fmt.Errorf("bundle: assembly hash computation failed: %w", err)
	}

	return &EvaluationBundle{
		Principal:        p,
		IdentityPolicies: identityRefs,
		SCPBoundary:      scpLevels,
		SchemaVersion:    schemaVersion,
		AssemblyHash:     assemblyHash,
	}, nil
}

func (a *Assembler) resolvePolicyRefs(hrns []hrn.HRN, schemaVersion uint64) ([]PolicyRef, error) {
	var refs []PolicyRef
	for _, h := range hrns {
		p, err := a.policies.Get(h)
		if err != nil {
			return nil, err
		}
		if p.SchemaVersion != 0 && p.SchemaVersion != schemaVersion {
			a.log.Warn("dropping policy bound to a different schema version", "policy", h.String(), "policy_schema_version", p.SchemaVersion, "requested", schemaVersion, "reason", "SchemaVersionSkew")
			continue
		}
		refs = append(refs, PolicyRef{HRN: h, Version: p.Version})
	}
	return refs, nil
}

func sortedKeys(m map[hrn.HRN]bool) []hrn.HRN {
	out := make([]hrn.HRN, 0, len(m))
	for h := range m {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// hashableRef mirrors PolicyRef but hashes the HRN's canonical string form
// rather than its struct fields, so the hash is insensitive to any future
// field additions to hrn.HRN.
type hashableRef struct {
	HRN     string `json:"hrn"`
	Version uint64 `json:"version"`
}

func toHashableRefs(refs []PolicyRef) []hashableRef {
	out := make([]hashableRef, len(refs))
	for i, r := range refs {
		out[i] = hashableRef{HRN: r.HRN.String(), Version: r.Version}
	}
	return out
}

type hashableLevel struct {
	OU       string        `json:"ou"`
	Policies []hashableRef `json:"policies"`
}

func toHashableLevels(levels []SCPLevel) []hashableLevel {
	out := make([]hashableLevel, len(levels))
	for i, l := range levels {
		out[i] = hashableLevel{OU: l.OU.String(), Policies: toHashableRefs(l.Policies)}
	}
	return out
}

// computeAssemblyHash = H(sorted identity HRNs + versions, ordered SCP
// HRNs + versions, schema_version) (§4.6 step 4). Identity refs are already
// sorted by HRN by resolvePolicyRefs (via sortedKeys); SCP levels preserve
// root→leaf order, which is itself sorting-sensitive content, not sorted.
func computeAssemblyHash(identity []PolicyRef, scp []SCPLevel, schemaVersion uint64) (string, error) {
	shape := struct {
		Identity      []hashableRef   `json:"identity"`
		SCP           []hashableLevel `json:"scp"`
		SchemaVersion uint64          `json:"schema_version"`
	}{Identity: toHashableRefs(identity), SCP: toHashableLevels(scp), SchemaVersion: schemaVersion}
	return canonicalize.CanonicalHash(shape)
}

// Invalidate drops every memoized bundle for a principal across all schema
// versions. Called by the invalidation bus (C9) on membership/policy/org
// changes intersecting the principal.
func (a *Assembler) Invalidate(p hrn.HRN) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for k := range a.memo {
		if k.principal == p {
			delete(a.memo, k)
		}
	}
}

// InvalidateAll drops every memoized bundle, used on schema activation
// (§4.9): all bundles bound to the prior schema must be recomputed.
func (a *Assembler) InvalidateAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.memo = make(map[memoKey]*EvaluationBundle)
}
