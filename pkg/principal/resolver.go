package principal

import (
	"log/slog"
	"sync"

	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/hrn"
)

// OUChain is the ordered list [OU_root, ..., OU_leaf] for one account (§4.5).
type OUChain []hrn.HRN

// Resolver implements C5's three operations, memoizing per-principal
// resolution and invalidating entries on membership/org-edge changes (C9).
type Resolver struct {
	dir Directory
	log *slog.Logger

	mu    sync.RWMutex
	cache map[hrn.HRN]resolution
}

type resolution struct {
	groups  []hrn.HRN
	account hrn.HRN
	chain   OUChain
}

// NewResolver constructs a Resolver over the given Directory.
func NewResolver(dir Directory, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{dir: dir, log: log, cache: make(map[hrn.HRN]resolution)}
}

// GroupsOf returns direct group membership only; groups are flat, so there
// is no transitive closure to compute (§4.5).
func (r *Resolver) GroupsOf(p hrn.HRN) ([]hrn.HRN, error) {
	res, err := r.resolve(p)
	if err != nil {
		return nil, err
	}
	return res.groups, nil
}

// AccountOf returns the account HRN owning this principal.
func (r *Resolver) AccountOf(p hrn.HRN) (hrn.HRN, error) {
	res, err := r.resolve(p)
	if err != nil {
		return hrn.HRN{}, err
	}
	return res.account, nil
}

// OUChain returns the root-to-leaf OU chain for the principal's account. An
// orphan account (no OU) resolves to an empty chain, the root-only case
// with no OU boundaries, with a warning diagnostic logged, per §4.5's prescribed warning-path interpretation of
// the ambiguous source behavior (§9 Open Questions).
func (r *Resolver) OUChain(p hrn.HRN) (OUChain, error) {
	res, err := r.resolve(p)
	if err != nil {
		return nil, err
	}
	return res.chain, nil
}

func (r *Resolver) resolve(p hrn.HRN) (resolution, error) {
	r.mu.RLock()
	if res, ok := r.cache[p]; ok {
		r.mu.RUnlock()
		return res, nil
	}
	r.mu.RUnlock()

	groups, err := r.dir.GroupsOf(p)
	if err != nil {
		return resolution{}, err
	}

	acctHRN, err := r.dir.AccountOfPrincipal(p)
	if err != nil {
		return resolution{}, err
	}

	acct, err := r.dir.Account(acctHRN)
	if err != nil {
		return resolution{}, err
	}

	chain, err := r.ouChainFor(acct.ParentOU)
	if err != nil {
		return resolution{}, err
	}
	if len(chain) == 0 {
		r.log.Warn("account has no OU; treating as root-only chain", "account", acctHRN.String(), "principal", p.String())
	}

	res := resolution{groups: groups, account: acctHRN, chain: chain}
	r.mu.Lock()
	r.cache[p] = res
	r.mu.Unlock()
	return res, nil
}

func (r *Resolver) ouChainFor(leafOU hrn.HRN) (OUChain, error) {
	if leafOU.IsZero() {
		return nil, nil
	}

	var reversed OUChain
	cursor := leafOU
	for !cursor.IsZero() {
		ou, err := r.dir.OU(cursor)
		if err != nil {
			return nil, err
		}
		reversed = append(reversed, cursor)
		cursor = ou.ParentOU
	}

	chain := make(OUChain, len(reversed))
	for i, h := range reversed {
		chain[len(reversed)-1-i] = h
	}
	return chain, nil
}

// Invalidate drops the memoized resolution for one principal. Called by the
// invalidation bus (C9) on membership or org-edge change affecting p.
func (r *Resolver) Invalidate(p hrn.HRN) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, p)
}

// InvalidateAll drops every memoized resolution. Used when an org-edge
// change's blast radius cannot be narrowed to a single principal (e.g. an
// OU reparented mid-tree).
func (r *Resolver) InvalidateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[hrn.HRN]resolution)
}
