// Package cache implements the Decision Cache (C8): a bounded, sharded,
// TTL-bounded map from DecisionFingerprint to Decision, with single-flight
// coalescing of concurrent misses and an optional Redis cross-node tier.
package cache

import (
	"context"
	"time"

	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/apierr"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/canonicalize"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/decision"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/hrn"
	"golang.org/x/sync/singleflight"
)

// Fingerprint is a stable hash over (principal_hrn, action, resource_hrn,
// sorted context entries, assembly_hash, schema_version) — §3.
type Fingerprint string

type fingerprintShape struct {
	Principal     string         `json:"principal"`
	Action        string         `json:"action"`
	Resource      string         `json:"resource"`
	Context       map[string]any `json:"context"`
	AssemblyHash  string         `json:"assembly_hash"`
	SchemaVersion uint64         `json:"schema_version"`
}

// ComputeFingerprint derives the DecisionFingerprint for one request.
// Canonicalization (RFC 8785) makes the hash independent of the context
// map's iteration order, satisfying the "sorted context entries" clause
// without the caller needing to sort anything itself.
func ComputeFingerprint(principal hrn.HRN, action string, resource hrn.HRN, ctx map[string]any, assemblyHash string, schemaVersion uint64) (Fingerprint, error) {
	h, err := canonicalize.CanonicalHash(fingerprintShape{
		Principal:     principal.String(),
		Action:        action,
		Resource:      resource.String(),
		Context:       ctx,
		AssemblyHash:  assemblyHash,
		SchemaVersion: schemaVersion,
	})
	if err != nil {
		return "", err
	}
	return Fingerprint(h), nil
}

// DependencySet is what one cache entry depends on: the policies that
// determined its outcome, plus the bundle's assembly_hash. Invalidate uses
// this to find entries to evict without the cache needing to inspect
// Decision internals.
type DependencySet struct {
	Policies     []hrn.HRN
	AssemblyHash string
}

// TTLPolicy maps a Decision to how long it may be cached (§4.8): 60s
// Allow, 10s explicit Deny, 5s implicit Deny by default; callers supply
// the concrete durations (from config) via a closure.
type TTLPolicy func(d decision.Decision) time.Duration

// RemoteTier is the optional cross-node tier (Redis). A Cache without one
// runs single-instance, in-memory only.
type RemoteTier interface {
	Get(ctx context.Context, fp Fingerprint) (decision.Decision, bool, error)
	Set(ctx context.Context, fp Fingerprint, d decision.Decision, ttl time.Duration) error
}

// Cache implements C8, sharded by a hash of the fingerprint (§4.8). Each
// shard is guarded by one mutex that serialises reads and writes alike (a
// read moves its entry to the front of the shard's LRU list), so readers
// of the same shard do not run concurrently.
type Cache struct {
	shards    []*shard
	shardMask uint64
	remote    RemoteTier
	sf        singleflight.Group
}

// NewCache constructs a Cache with shardCount shards (rounded up to a
// power of two), each capped at maxEntriesPerShard. remote may be nil.
func NewCache(shardCount, maxEntriesPerShard int, remote RemoteTier) *Cache {
	n := nextPowerOfTwo(shardCount)
	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = newShard(maxEntriesPerShard)
	}
	return &Cache{shards: shards, shardMask: uint64(n - 1), remote: remote}
}

func (c *Cache) shardFor(fp Fingerprint) *shard {
	return c.shards[fnv64(string(fp))&c.shardMask]
}

// Get returns the cached Decision for fp, if present and unexpired.
func (c *Cache) Get(fp Fingerprint) (decision.Decision, bool) {
	return c.shardFor(fp).get(fp)
}

func (c *Cache) put(fp Fingerprint, d decision.Decision, deps DependencySet, ttl time.Duration) {
	c.shardFor(fp).put(fp, entry{decision: d, deps: deps, expiresAt: time.Now().Add(ttl)})
}

// GetOrCompute implements §4.8's single-flight contract: concurrent misses
// for the same fingerprint coalesce onto one compute call; other callers
// either receive its result or, if ctx is cancelled first, a bounded-wait
// DeadlineExceeded error (the in-flight compute itself is not cancelled,
// so it still populates the cache for later callers).
func (c *Cache) GetOrCompute(ctx context.Context, fp Fingerprint, ttl TTLPolicy, deps DependencySet, compute func(ctx context.Context) (decision.Decision, error)) (decision.Decision, bool, error) {
	if d, ok := c.Get(fp); ok {
		return d, true, nil
	}

	if c.remote != nil {
		if d, ok, err := c.remote.Get(ctx, fp); err == nil && ok {
			c.put(fp, d, deps, ttl(d))
			return d, true, nil
		}
	}

	ch := c.sf.DoChan(string(fp), func() (any, error) {
		if d, ok := c.Get(fp); ok {
			return d, nil
		}
		d, err := compute(context.WithoutCancel(ctx))
		if err != nil {
			return decision.Decision{}, err
		}
		effectiveTTL := ttl(d)
		c.put(fp, d, deps, effectiveTTL)
		if c.remote != nil {
			_ = c.remote.Set(ctx, fp, d, effectiveTTL)
		}
		return d, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return decision.Decision{}, false, res.Err
		}
		return res.Val.(decision.Decision), false, nil
	case <-ctx.Done():
		return decision.Decision{}, false, apierr.Wrap(apierr.DeadlineExceeded, "cache: get_or_compute exceeded its bounded wait", ctx.Err())
	}
}

// Invalidate removes every entry whose dependency set intersects
// predicate — used by the invalidation bus (C9) on policy mutation,
// membership/org-edge change, or schema activation (§4.9).
func (c *Cache) Invalidate(predicate func(DependencySet) bool) {
	for _, s := range c.shards {
		s.invalidate(predicate)
	}
}

// InvalidateAll clears every shard unconditionally.
func (c *Cache) InvalidateAll() {
	for _, s := range c.shards {
		s.invalidateAll()
	}
}

func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// fnv64 is the classic FNV-1a 64-bit hash, used only to pick a shard —
// not for anything cryptographic or content-addressed.
func fnv64(s string) uint64 {
	const offset64 = 14695981039346656037
	const prime64 = 1099511628211
	h := uint64(offset64)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime64
	}
	return h
}
