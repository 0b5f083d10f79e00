// Package policyloader implements the policy bundle import/export
// supplemented feature: an account's full policy set (identity policies and
// SCPs) packaged as a single versioned, content-hashed bundle for migration
// and disaster recovery — a natural extension of C2's list/watch surface.
package policyloader

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/apierr"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/canonicalize"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/hrn"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/policy"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/policylang"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/policystore"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/schema"
)

// BundlePolicy is one policy document's portable form: source text only, no
// compiled form (that is re-derived on import against the importing
// deployment's own schema).
type BundlePolicy struct {
	HRN        string `yaml:"hrn"`
	Kind       string `yaml:"kind"`
	SourceText string `yaml:"source_text"`
}

// Bundle is an account's exported policy set.
type Bundle struct {
	Account  string         `yaml:"account"`
	Policies []BundlePolicy `yaml:"policies"`
	Hash     string         `yaml:"hash"`
}

// Export reads every policy attached to account from store and packages it
// into a Bundle, content-hashed over its policies so a re-import can detect
// tampering or drift.
func Export(ctx context.Context, store policystore.Store, account string) (*Bundle, error) {
	b := &Bundle{Account: account}

	cursor := ""
	for {
		docs, next, err := store.List(ctx, policystore.Filter{Account: account}, cursor, 500)
		if err != nil {
			return nil, fmt.Errorf("policyloader: export: %w", err)
		}
		for _, p := range docs {
			b.Policies = append(b.Policies, BundlePolicy{
				HRN:        p.HRN.String(),
				Kind:       string(p.Kind),
				SourceText: p.SourceText,
			})
		}
		if next == "" {
			break
		}
		cursor = next
	}

	hash, err := canonicalize.CanonicalHash(b.Policies)
	if err != nil {
		return nil, fmt.Errorf("policyloader: hashing bundle: %w", err)
	}
	b.Hash = hash
	return b, nil
}

// Marshal serializes a Bundle to YAML.
func Marshal(b *Bundle) ([]byte, error) { return yaml.Marshal(b) }

// Unmarshal parses a YAML bundle and verifies its content hash before
// returning it — a bundle whose Hash doesn't match its Policies has been
// tampered with or hand-edited inconsistently and is rejected.
func Unmarshal(raw []byte) (*Bundle, error) {
	var b Bundle
	if err := yaml.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("policyloader: parsing bundle: %w", err)
	}

	want, err := canonicalize.CanonicalHash(b.Policies)
	if err != nil {
		return nil, fmt.Errorf("policyloader: hashing bundle: %w", err)
	}
	if want != b.Hash {
		return nil, apierr.New(apierr.Validation, "policyloader: bundle hash mismatch, refusing to import")
	}
	return &b, nil
}

// Import compiles every policy in b against h and creates it in store.
// Policies whose HRN already exists in store are skipped rather than
// overwritten — Import is additive; operators update existing policies
// through the normal Store.Update path.
func Import(ctx context.Context, store policystore.Store, lang policylang.Language, h schema.Handle, b *Bundle) (imported, skipped int, err error) {
	for _, bp := range b.Policies {
		h2, err := hrn.Parse(bp.HRN)
		if err != nil {
			return imported, skipped, fmt.Errorf("policyloader: invalid policy hrn %q: %w", bp.HRN, err)
		}

		if _, getErr := store.Get(ctx, h2); getErr == nil {
			skipped++
			continue
		}

		ast, err := lang.Parse(bp.SourceText)
		if err != nil {
			return imported, skipped, fmt.Errorf("policyloader: parsing %s: %w", bp.HRN, err)
		}
		typed, err := lang.Typecheck(ast, h, policylang.PolicyKind(bp.Kind))
		if err != nil {
			return imported, skipped, fmt.Errorf("policyloader: typechecking %s: %w", bp.HRN, err)
		}
		compiled, err := lang.Compile(typed)
		if err != nil {
			return imported, skipped, fmt.Errorf("policyloader: compiling %s: %w", bp.HRN, err)
		}
		compiledHash, err := lang.Hash(compiled)
		if err != nil {
			return imported, skipped, fmt.Errorf("policyloader: hashing %s: %w", bp.HRN, err)
		}

		p := &policy.Policy{
			HRN:           h2,
			Kind:          policy.Kind(bp.Kind),
			SourceText:    bp.SourceText,
			CompiledHash:  compiledHash,
			CompiledForm:  compiled,
			SchemaVersion: h.Version(),
		}
		if err := store.Create(ctx, p); err != nil {
			return imported, skipped, fmt.Errorf("policyloader: creating %s: %w", bp.HRN, err)
		}
		imported++
	}
	return imported, skipped, nil
}
