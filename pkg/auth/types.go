package auth

import "github.com/Rubentxu/hodei-artifacts-sub002/pkg/hrn"

// Principal is the authenticated caller of an administrative RPC (§6).
// Authorization for what the principal may then do is delegated entirely
// to the decision engine (C7) against its HRN — auth only establishes who
// is calling, never what they're allowed to do.
type Principal interface {
	GetID() string
	HRN() hrn.HRN
}

// BasePrincipal is the default Principal produced by JWT middleware.
type BasePrincipal struct {
	PrincipalHRN hrn.HRN
}

func (b *BasePrincipal) GetID() string   { return b.PrincipalHRN.String() }
func (b *BasePrincipal) HRN() hrn.HRN    { return b.PrincipalHRN }
