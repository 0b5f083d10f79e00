// Package policystore implements the Policy Document Store (C2): durable
// CRUD of policy text + metadata, emitting mutation events for the
// invalidation bus.
package policystore

import (
	"context"

	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/hrn"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/policy"
)

// Filter narrows a List call. A zero-value Filter matches every policy.
type Filter struct {
	Kind    policy.Kind // "" matches any kind
	Account string      // "" matches any account; MemStore keeps policies whose HRN account equals it; PostgresStore and SQLiteStore ignore it
}

// Store is the C2 storage port. Implementations must guarantee: single
// writer per HRN, monotonic version, atomic swap on update (readers never
// observe a torn state), and durability before ack (§4.2).
type Store interface {
	Create(ctx context.Context, p *policy.Policy) error
	Get(ctx context.Context, h hrn.HRN) (*policy.Policy, error)
	Update(ctx context.Context, h hrn.HRN, sourceText string, compiledForm policy.CompiledForm, compiledHash string, expectedVersion uint64) (*policy.Policy, error)
	Delete(ctx context.Context, h hrn.HRN, force bool) error
	List(ctx context.Context, filter Filter, cursor string, limit int) ([]*policy.Policy, string, error)

	// Watch returns a channel of mutation events. The channel is
	// at-least-once with monotonic per-HRN ordering (§4.2); consumers must
	// be idempotent. Closing ctx unsubscribes and closes the channel.
	Watch(ctx context.Context) (<-chan policy.MutationEvent, error)
}

// InUseChecker is implemented by callers that can report whether a policy
// HRN is still referenced (attached to a principal, group, or OU). Delete
// consults it unless force=true (§4.2's lifecycle rule).
type InUseChecker interface {
	InUse(h hrn.HRN) (bool, error)
}
