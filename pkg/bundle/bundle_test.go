package bundle_test

import (
	"log/slog"
	"testing"

	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/account"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/bundle"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/hrn"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/policy"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/principal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePolicyReader struct {
	policies map[hrn.HRN]*policy.Policy
}

func (f *fakePolicyReader) Get(h hrn.HRN) (*policy.Policy, error) {
	p, ok := f.policies[h]
	if !ok {
		return nil, assert.AnError
	}
	return p, nil
}

func acctHRN(id string) hrn.HRN   { return hrn.New("p", "account", "root", "account", id) }
func ouHRN(id string) hrn.HRN     { return hrn.New("p", "org", "root", "ou", id) }
func userHRN(id string) hrn.HRN   { return hrn.New("p", "identity", "acct1", "user", id) }
func groupHRN(id string) hrn.HRN  { return hrn.New("p", "identity", "acct1", "group", id) }
func polHRN(id string) hrn.HRN    { return hrn.New("p", "policy", "acct1", "policy", id) }

func setup(t *testing.T) (*bundle.Assembler, *fakePolicyReader) {
	t.Helper()
	dir := principal.NewMemDirectory()

	require.NoError(t, dir.PutOU(principal.OU{HRN: ouHRN("root")}))
	require.NoError(t, dir.PutOU(principal.OU{HRN: ouHRN("team"), ParentOU: ouHRN("root"), SCPHRNs: []hrn.HRN{polHRN("scp-root")}}))
	dir.PutAccount(account.Account{HRN: acctHRN("a1"), ParentOU: ouHRN("team")})
	dir.PutPrincipal(principal.Principal{HRN: userHRN("u1"), Type: principal.User}, acctHRN("a1"))
	dir.PutGroup(principal.Group{HRN: groupHRN("g1"), PolicyHRNs: []hrn.HRN{polHRN("group-policy")}})
	dir.AddMembership(userHRN("u1"), groupHRN("g1"))
	dir.AttachPolicyToPrincipal(userHRN("u1"), polHRN("direct-policy"))

	resolver := principal.NewResolver(dir, slog.Default())

	reader := &fakePolicyReader{policies: map[hrn.HRN]*policy.Policy{
		polHRN("direct-policy"): {HRN: polHRN("direct-policy"), Version: 1, SchemaVersion: 1},
		polHRN("group-policy"):  {HRN: polHRN("group-policy"), Version: 3, SchemaVersion: 1},
		polHRN("scp-root"):      {HRN: polHRN("scp-root"), Version: 2, SchemaVersion: 1},
	}}

	a := bundle.NewAssembler(resolver, dir, reader, slog.Default())
	return a, reader
}

func TestAssembler_CombinesIdentityAndSCPSets(t *testing.T) {
	a, _ := setup(t)

	b, err := a.Bundle(userHRN("u1"), 1)
	require.NoError(t, err)

	var identityHRNs []hrn.HRN
	for _, r := range b.IdentityPolicies {
		identityHRNs = append(identityHRNs, r.HRN)
	}
	assert.ElementsMatch(t, []hrn.HRN{polHRN("direct-policy"), polHRN("group-policy")}, identityHRNs)

	require.Len(t, b.SCPBoundary, 2) // root, team
	assert.Equal(t, ouHRN("root"), b.SCPBoundary[0].OU)
	assert.Empty(t, b.SCPBoundary[0].Policies)
	assert.Equal(t, ouHRN("team"), b.SCPBoundary[1].OU)
	require.Len(t, b.SCPBoundary[1].Policies, 1)
	assert.Equal(t, polHRN("scp-root"), b.SCPBoundary[1].Policies[0].HRN)
	assert.NotEmpty(t, b.AssemblyHash)
}

func TestAssembler_DropsSchemaVersionSkew(t *testing.T) {
	a, reader := setup(t)
	reader.policies[polHRN("group-policy")].SchemaVersion = 2

	b, err := a.Bundle(userHRN("u1"), 1)
	require.NoError(t, err)

	var identityHRNs []hrn.HRN
	for _, r := range b.IdentityPolicies {
		identityHRNs = append(identityHRNs, r.HRN)
	}
	assert.ElementsMatch(t, []hrn.HRN{polHRN("direct-policy")}, identityHRNs)
}

func TestAssembler_MemoizesPerPrincipalAndSchemaVersion(t *testing.T) {
	a, reader := setup(t)

	b1, err := a.Bundle(userHRN("u1"), 1)
	require.NoError(t, err)

	delete(reader.policies, polHRN("group-policy"))

	b2, err := a.Bundle(userHRN("u1"), 1)
	require.NoError(t, err)
	assert.Equal(t, b1.AssemblyHash, b2.AssemblyHash)
}

func TestAssembler_InvalidateForcesRecompute(t *testing.T) {
	a, reader := setup(t)

	b1, err := a.Bundle(userHRN("u1"), 1)
	require.NoError(t, err)

	reader.policies[polHRN("group-policy")].Version = 9
	a.Invalidate(userHRN("u1"))

	b2, err := a.Bundle(userHRN("u1"), 1)
	require.NoError(t, err)
	assert.NotEqual(t, b1.AssemblyHash, b2.AssemblyHash)
}

func TestAssembler_IdentitySetSortedByHRN(t *testing.T) {
	a, _ := setup(t)

	b, err := a.Bundle(userHRN("u1"), 1)
	require.NoError(t, err)
	require.Len(t, b.IdentityPolicies, 2)
	assert.Less(t, b.IdentityPolicies[0].HRN.String(), b.IdentityPolicies[1].HRN.String())
}
