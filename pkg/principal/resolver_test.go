package principal_test

import (
	"testing"

	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/account"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/apierr"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/hrn"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/principal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func acctHRN(id string) hrn.HRN { return hrn.New("p", "org", id, "account", id) }
func ouHRN(id string) hrn.HRN   { return hrn.New("p", "org", "root", "ou", id) }
func userHRN(name string) hrn.HRN {
	return hrn.New("p", "iam", "acct1", "user", name)
}

func setup(t *testing.T) *principal.MemDirectory {
	t.Helper()
	dir := principal.NewMemDirectory()

	root := principal.OU{HRN: ouHRN("root")}
	mid := principal.OU{HRN: ouHRN("mid"), ParentOU: ouHRN("root")}
	require.NoError(t, dir.PutOU(root))
	require.NoError(t, dir.PutOU(mid))

	dir.PutAccount(account.Account{HRN: acctHRN("acct1"), ParentOU: ouHRN("mid")})
	dir.PutPrincipal(principal.Principal{HRN: userHRN("alice"), Type: principal.User}, acctHRN("acct1"))
	dir.AddMembership(userHRN("alice"), hrn.New("p", "iam", "acct1", "group", "admins"))

	return dir
}

func TestResolver_GroupsOf(t *testing.T) {
	dir := setup(t)
	r := principal.NewResolver(dir, nil)

	groups, err := r.GroupsOf(userHRN("alice"))
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "admins", groups[0].ResourceID)
}

func TestResolver_OUChain_RootToLeaf(t *testing.T) {
	dir := setup(t)
	r := principal.NewResolver(dir, nil)

	chain, err := r.OUChain(userHRN("alice"))
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, ouHRN("root"), chain[0])
	assert.Equal(t, ouHRN("mid"), chain[1])
}

func TestResolver_OrphanAccount_RootOnlyChain(t *testing.T) {
	dir := principal.NewMemDirectory()
	dir.PutAccount(account.Account{HRN: acctHRN("acct2")}) // no ParentOU
	dir.PutPrincipal(principal.Principal{HRN: userHRN("bob"), Type: principal.User}, acctHRN("acct2"))

	r := principal.NewResolver(dir, nil)
	chain, err := r.OUChain(userHRN("bob"))
	require.NoError(t, err)
	assert.Empty(t, chain)
}

func TestResolver_PrincipalNotFound(t *testing.T) {
	dir := principal.NewMemDirectory()
	r := principal.NewResolver(dir, nil)

	_, err := r.GroupsOf(userHRN("ghost"))
	require.Error(t, err)
	assert.Equal(t, apierr.NotFound, apierr.KindOf(err))
}

func TestDirectory_RejectsOUCycle(t *testing.T) {
	dir := principal.NewMemDirectory()
	require.NoError(t, dir.PutOU(principal.OU{HRN: ouHRN("a")}))                          // a is a root
	require.NoError(t, dir.PutOU(principal.OU{HRN: ouHRN("b"), ParentOU: ouHRN("a")}))     // b's parent is a

	err := dir.PutOU(principal.OU{HRN: ouHRN("a"), ParentOU: ouHRN("b")}) // now a's parent is b: cycle
	require.Error(t, err)
	assert.Equal(t, apierr.Validation, apierr.KindOf(err))
}

func TestResolver_Invalidate(t *testing.T) {
	dir := setup(t)
	r := principal.NewResolver(dir, nil)

	_, err := r.GroupsOf(userHRN("alice"))
	require.NoError(t, err)

	dir.AddMembership(userHRN("alice"), hrn.New("p", "iam", "acct1", "group", "auditors"))
	r.Invalidate(userHRN("alice"))

	groups, err := r.GroupsOf(userHRN("alice"))
	require.NoError(t, err)
	assert.Len(t, groups, 2)
}
