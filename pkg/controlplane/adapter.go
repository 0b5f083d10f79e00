package controlplane

import (
	"context"

	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/hrn"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/policy"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/policystore"
)

// StoreReader adapts policystore.Store (context-taking) to bundle.PolicyReader
// and decision.Engine's policy lookup port (both context-free): the
// assembler and engine read one policy at a time on the hot decision path,
// where a background context is the right default — request-scoped
// cancellation belongs to the admin mutation path, not this lookup.
type StoreReader struct {
	store policystore.Store
}

// NewStoreReader wraps a policystore.Store for C6/C7's PolicyReader port.
func NewStoreReader(store policystore.Store) *StoreReader {
	return &StoreReader{store: store}
}

func (r *StoreReader) Get(h hrn.HRN) (*policy.Policy, error) {
	return r.store.Get(context.Background(), h)
}
