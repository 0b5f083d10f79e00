package principal

import (
	"fmt"
	"sync"

	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/account"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/apierr"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/hrn"
)

// Directory is the org-graph storage port the Resolver reads from: group
// membership edges, the OU tree, and account ownership. A concrete backend
// (Postgres, in-memory) implements this; Directory itself does no caching.
type Directory interface {
	Principal(h hrn.HRN) (Principal, error)
	GroupsOf(principal hrn.HRN) ([]hrn.HRN, error)
	Account(h hrn.HRN) (account.Account, error)
	AccountOfPrincipal(principal hrn.HRN) (hrn.HRN, error)
	OU(h hrn.HRN) (OU, error)
	Group(h hrn.HRN) (Group, error)
	PrincipalPolicies(principal hrn.HRN) ([]hrn.HRN, error)
}

// MemDirectory is an in-memory Directory, suitable as the default backend
// and for tests. All mutation methods reject cycles in the OU tree at
// write time, per §9.
type MemDirectory struct {
	mu               sync.RWMutex
	principals       map[hrn.HRN]Principal
	membership       map[hrn.HRN][]hrn.HRN // principal -> groups
	accounts         map[hrn.HRN]account.Account
	principalAccount map[hrn.HRN]hrn.HRN
	ous              map[hrn.HRN]OU
	groups           map[hrn.HRN]Group
	principalPolicies map[hrn.HRN][]hrn.HRN
}

// NewMemDirectory constructs an empty in-memory directory.
func NewMemDirectory() *MemDirectory {
	return &MemDirectory{
		principals:        make(map[hrn.HRN]Principal),
		membership:        make(map[hrn.HRN][]hrn.HRN),
		accounts:          make(map[hrn.HRN]account.Account),
		principalAccount:  make(map[hrn.HRN]hrn.HRN),
		ous:               make(map[hrn.HRN]OU),
		groups:            make(map[hrn.HRN]Group),
		principalPolicies: make(map[hrn.HRN][]hrn.HRN),
	}
}

func (d *MemDirectory) PutGroup(g Group) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.groups[g.HRN] = g
}

// AttachPolicyToPrincipal attaches an identity policy directly to a
// principal (as opposed to via group membership).
func (d *MemDirectory) AttachPolicyToPrincipal(p, policyHRN hrn.HRN) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.principalPolicies[p] = append(d.principalPolicies[p], policyHRN)
}

// DetachPolicyFromPrincipal removes a directly-attached identity policy
// from a principal. A no-op if the policy was not attached.
func (d *MemDirectory) DetachPolicyFromPrincipal(p, policyHRN hrn.HRN) {
	d.mu.Lock()
	defer d.mu.Unlock()
	refs := d.principalPolicies[p]
	for i, h := range refs {
		if h == policyHRN {
			d.principalPolicies[p] = append(refs[:i], refs[i+1:]...)
			return
		}
	}
}

// AttachScpToOU attaches a service control policy to an OU's boundary set.
func (d *MemDirectory) AttachScpToOU(ouHRN, scpHRN hrn.HRN) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	o, ok := d.ous[ouHRN]
	if !ok {
		return apierr.New(apierr.NotFound, "ou not found: "+ouHRN.String())
	}
	o.SCPHRNs = append(o.SCPHRNs, scpHRN)
	d.ous[ouHRN] = o
	return nil
}

// DetachScpFromOU removes a service control policy from an OU's boundary
// set. A no-op if the SCP was not attached.
func (d *MemDirectory) DetachScpFromOU(ouHRN, scpHRN hrn.HRN) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	o, ok := d.ous[ouHRN]
	if !ok {
		return apierr.New(apierr.NotFound, "ou not found: "+ouHRN.String())
	}
	for i, h := range o.SCPHRNs {
		if h == scpHRN {
			o.SCPHRNs = append(o.SCPHRNs[:i], o.SCPHRNs[i+1:]...)
			d.ous[ouHRN] = o
			return nil
		}
	}
	return nil
}

func (d *MemDirectory) PutPrincipal(p Principal, acct hrn.HRN) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.principals[p.HRN] = p
	d.principalAccount[p.HRN] = acct
}

func (d *MemDirectory) PutAccount(a account.Account) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accounts[a.HRN] = a
}

// PutOU inserts or replaces an OU, rejecting the write if it would create a
// cycle in the parent chain.
func (d *MemDirectory) PutOU(o OU) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !o.ParentOU.IsZero() {
		visited := map[hrn.HRN]bool{o.HRN: true}
		cursor := o.ParentOU
		for !cursor.IsZero() {
			if visited[cursor] {
				return apierr.New(apierr.Validation, fmt.Sprintf("OU %s: parent chain contains a cycle at %s", o.HRN, cursor))
			}
			visited[cursor] = true
			parent, ok := d.ous[cursor]
			if !ok {
				break // parent not yet written; chain will be validated as ancestors are added
			}
			cursor = parent.ParentOU
		}
	}

	d.ous[o.HRN] = o
	return nil
}

func (d *MemDirectory) AddMembership(p, group hrn.HRN) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.membership[p] = append(d.membership[p], group)
}

func (d *MemDirectory) Principal(h hrn.HRN) (Principal, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.principals[h]
	if !ok {
		return Principal{}, apierr.New(apierr.NotFound, fmt.Sprintf("principal %s not found", h))
	}
	return p, nil
}

func (d *MemDirectory) GroupsOf(p hrn.HRN) ([]hrn.HRN, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if _, ok := d.principals[p]; !ok {
		return nil, apierr.New(apierr.NotFound, fmt.Sprintf("principal %s not found", p))
	}
	groups := d.membership[p]
	out := make([]hrn.HRN, len(groups))
	copy(out, groups)
	return out, nil
}

func (d *MemDirectory) Account(h hrn.HRN) (account.Account, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.accounts[h]
	if !ok {
		return account.Account{}, apierr.New(apierr.NotFound, fmt.Sprintf("account %s not found", h))
	}
	return a, nil
}

func (d *MemDirectory) AccountOfPrincipal(p hrn.HRN) (hrn.HRN, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.principalAccount[p]
	if !ok {
		return hrn.HRN{}, apierr.New(apierr.NotFound, fmt.Sprintf("principal %s has no assigned account", p))
	}
	return a, nil
}

func (d *MemDirectory) OU(h hrn.HRN) (OU, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	o, ok := d.ous[h]
	if !ok {
		return OU{}, apierr.New(apierr.NotFound, fmt.Sprintf("OU %s not found", h))
	}
	return o, nil
}

func (d *MemDirectory) Group(h hrn.HRN) (Group, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	g, ok := d.groups[h]
	if !ok {
		return Group{}, apierr.New(apierr.NotFound, fmt.Sprintf("group %s not found", h))
	}
	return g, nil
}

func (d *MemDirectory) PrincipalPolicies(p hrn.HRN) ([]hrn.HRN, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	pol := d.principalPolicies[p]
	out := make([]hrn.HRN, len(pol))
	copy(out, pol)
	return out, nil
}

// InUse implements policystore.InUseChecker: a policy is in use if it is
// attached to any principal directly or attached as an SCP to any OU.
// Delete consults this unless force=true (§4.2).
func (d *MemDirectory) InUse(h hrn.HRN) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, refs := range d.principalPolicies {
		for _, r := range refs {
			if r == h {
				return true, nil
			}
		}
	}
	for _, o := range d.ous {
		for _, r := range o.SCPHRNs {
			if r == h {
				return true, nil
			}
		}
	}
	return false, nil
}
