package policyloader_test

import (
	"context"
	"testing"

	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/hrn"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/policy"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/policylang"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/policyloader"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/policystore"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema() schema.Handle {
	r := schema.NewRegistry(&schema.Schema{
		Version:     1,
		EntityTypes: map[string]schema.EntityTypeDecl{"User": {Name: "User"}, "Bucket": {Name: "Bucket"}},
		Actions: map[string]schema.ActionDecl{
			"read": {Name: "read", AppliesToPrincipalType: []string{"User"}, AppliesToResourceType: []string{"Bucket"}},
		},
	}, 4)
	return r.Active()
}

func polHRN(id string) hrn.HRN { return hrn.New("p", "policy", "acct1", "policy", id) }

func compilePolicy(t *testing.T, lang policylang.Language, h schema.Handle, source string, kind policylang.PolicyKind) (*policylang.CompiledForm, string) {
	t.Helper()
	a, err := lang.Parse(source)
	require.NoError(t, err)
	typed, err := lang.Typecheck(a, h, kind)
	require.NoError(t, err)
	cf, err := lang.Compile(typed)
	require.NoError(t, err)
	hash, err := lang.Hash(cf)
	require.NoError(t, err)
	return cf, hash
}

func seedStore(t *testing.T, store *policystore.MemStore, lang policylang.Language, h schema.Handle, id, source string) {
	t.Helper()
	cf, hash := compilePolicy(t, lang, h, source, policylang.KindIdentity)
	require.NoError(t, store.Create(context.Background(), &policy.Policy{
		HRN:           polHRN(id),
		Kind:          policy.KindIdentity,
		SourceText:    source,
		CompiledHash:  hash,
		CompiledForm:  cf,
		SchemaVersion: h.Version(),
	}))
}

func TestExport_RoundTripsStorePolicies(t *testing.T) {
	lang := policylang.New()
	h := testSchema()
	store := policystore.NewMemStore(nil)
	seedStore(t, store, lang, h, "allow-read", "permit(action=read, resource=bucket/*)")

	b, err := policyloader.Export(context.Background(), store, "acct1")
	require.NoError(t, err)
	require.Len(t, b.Policies, 1)
	assert.Equal(t, "acct1", b.Account)
	assert.Equal(t, polHRN("allow-read").String(), b.Policies[0].HRN)
	assert.Equal(t, "permit(action=read, resource=bucket/*)", b.Policies[0].SourceText)
	assert.NotEmpty(t, b.Hash)
}

func TestMarshalUnmarshal_RoundTrips(t *testing.T) {
	lang := policylang.New()
	h := testSchema()
	store := policystore.NewMemStore(nil)
	seedStore(t, store, lang, h, "allow-read", "permit(action=read, resource=bucket/*)")

	b, err := policyloader.Export(context.Background(), store, "acct1")
	require.NoError(t, err)

	raw, err := policyloader.Marshal(b)
	require.NoError(t, err)

	got, err := policyloader.Unmarshal(raw)
	require.NoError(t, err)
	assert.Equal(t, b.Account, got.Account)
	assert.Equal(t, b.Hash, got.Hash)
	assert.Equal(t, b.Policies, got.Policies)
}

func TestUnmarshal_RejectsTamperedHash(t *testing.T) {
	b := &policyloader.Bundle{
		Account: "acct1",
		Policies: []policyloader.BundlePolicy{
			{HRN: polHRN("allow-read").String(), Kind: "Identity", SourceText: "permit(action=read, resource=bucket/*)"},
		},
		Hash: "not-the-real-hash",
	}
	raw, err := policyloader.Marshal(b)
	require.NoError(t, err)

	_, err = policyloader.Unmarshal(raw)
	assert.Error(t, err)
}

func TestImport_CreatesNewPoliciesAndSkipsExisting(t *testing.T) {
	lang := policylang.New()
	h := testSchema()

	src := policystore.NewMemStore(nil)
	seedStore(t, src, lang, h, "allow-read", "permit(action=read, resource=bucket/*)")
	b, err := policyloader.Export(context.Background(), src, "acct1")
	require.NoError(t, err)

	dst := policystore.NewMemStore(nil)
	imported, skipped, err := policyloader.Import(context.Background(), dst, lang, h, b)
	require.NoError(t, err)
	assert.Equal(t, 1, imported)
	assert.Equal(t, 0, skipped)

	got, err := dst.Get(context.Background(), polHRN("allow-read"))
	require.NoError(t, err)
	assert.Equal(t, "permit(action=read, resource=bucket/*)", got.SourceText)

	imported, skipped, err = policyloader.Import(context.Background(), dst, lang, h, b)
	require.NoError(t, err)
	assert.Equal(t, 0, imported)
	assert.Equal(t, 1, skipped)
}

func TestImport_PropagatesCompileError(t *testing.T) {
	lang := policylang.New()
	h := testSchema()
	dst := policystore.NewMemStore(nil)

	b := &policyloader.Bundle{
		Account: "acct1",
		Policies: []policyloader.BundlePolicy{
			{HRN: polHRN("broken").String(), Kind: "Identity", SourceText: "this is not valid policy syntax {{{"},
		},
	}

	_, _, err := policyloader.Import(context.Background(), dst, lang, h, b)
	assert.Error(t, err)
}
