// Package invalidation implements the Invalidation Bus (C9): it fans out
// policy, membership, and schema mutations to the Effective Policy
// Assembler's memo table (C6) and the Decision Cache (C8), and optionally
// republishes them cross-node over Redis Pub/Sub.
package invalidation

import (
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/bundle"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/cache"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/hrn"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/principal"
)

// Kind distinguishes the three mutation classes §4.9 reacts to.
type Kind string

const (
	KindPolicyMutated   Kind = "PolicyMutated"
	KindPrincipalEdge   Kind = "PrincipalEdge"
	KindSchemaActivated Kind = "SchemaActivated"
)

// Event is one invalidation trigger. Seq is monotonic per producer;
// consumers use it to discard out-of-order duplicates (§4.9).
type Event struct {
	Kind Kind
	Seq  uint64

	// PolicyHRN is set for KindPolicyMutated: the policy document that
	// changed. Bundles/cache entries depending on it are invalidated.
	PolicyHRN hrn.HRN

	// Principal is set for KindPrincipalEdge when the blast radius is
	// known to be a single principal (e.g. a direct policy attach/detach);
	// Narrow is then true. Narrow false means the edge change could not be
	// narrowed (e.g. an OU reparent) and every principal's bundle is
	// dropped, whatever Principal holds.
	Principal hrn.HRN
	Narrow    bool
}

// OverflowPolicy mirrors config.OverflowPolicy without importing pkg/config,
// keeping this package usable standalone.
type OverflowPolicy string

const (
	OverflowFlushAll   OverflowPolicy = "FlushAll"
	OverflowDropOldest OverflowPolicy = "DropOldest"
)

// RemotePublisher is the optional cross-node transport (Redis Pub/Sub). A
// Bus without one only propagates invalidations intra-node.
type RemotePublisher interface {
	Publish(ev Event) error
}

// Bus implements C9. Delivery to the assembler and cache is in-process but
// asynchronous: Publish enqueues the event on a bounded channel and a
// background loop drains it and applies each event, so a caller returning
// from Publish can still observe pre-event state until the loop reaches
// that event. Overflow triggers backpressure coarsening.
type Bus struct {
	assembler *bundle.Assembler
	resolver  *principal.Resolver
	cache     *cache.Cache
	remote    RemotePublisher
	log       *slog.Logger

	overflow OverflowPolicy
	limiter  *rate.Limiter

	events chan Event

	mu      sync.Mutex
	lastSeq map[Kind]uint64

	stop chan struct{}
	done chan struct{}
}

// NewBus constructs a Bus with the given buffer size. remote may be nil.
// limiterRPS bounds how fast publish attempts are accepted before the bus
// falls back to coarsening per overflow; pass 0 to disable rate limiting
// (every publish attempt is accepted as long as the buffer has room).
func NewBus(assembler *bundle.Assembler, resolver *principal.Resolver, c *cache.Cache, remote RemotePublisher, bufferSize int, overflow OverflowPolicy, limiterRPS rate.Limit, log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	var limiter *rate.Limiter
	if limiterRPS > 0 {
		limiter = rate.NewLimiter(limiterRPS, int(limiterRPS)+1)
	}
	b := &Bus{
		assembler: assembler,
		resolver:  resolver,
		cache:     c,
		remote:    remote,
		log:       log,
		overflow:  overflow,
		limiter:   limiter,
		events:    make(chan Event, bufferSize),
		lastSeq:   make(map[Kind]uint64),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go b.run()
	return b
}

// Publish enqueues ev for processing. If the buffer is full it coarsens
// immediately rather than blocking the caller (§5 backpressure): FlushAll
// drops every buffered event and flushes both downstream stores
// unconditionally; DropOldest evicts the oldest buffered event to make
// room, preserving targeted invalidation for the rest.
func (b *Bus) Publish(ev Event) {
	if b.limiter != nil && !b.limiter.Allow() {
		b.coarsen()
		return
	}

	select {
	case b.events <- ev:
		return
	default:
	}

	b.coarsen()
	select {
	case b.events <- ev:
	default:
		b.log.Warn("invalidation: buffer still full after coarsening, dropping event", "kind", ev.Kind)
	}
}

func (b *Bus) coarsen() {
	switch b.overflow {
	case OverflowDropOldest:
		select {
		case <-b.events:
		default:
		}
	default:
		b.drain()
		b.assembler.InvalidateAll()
		b.resolver.InvalidateAll()
		b.cache.InvalidateAll()
		b.log.Warn("invalidation: bus overflow, coarsened to full flush")
	}
}

func (b *Bus) drain() {
	for {
		select {
		case <-b.events:
		default:
			return
		}
	}
}

func (b *Bus) run() {
	defer close(b.done)
	for {
		select {
		case ev := <-b.events:
			b.apply(ev)
		case <-b.stop:
			return
		}
	}
}

func (b *Bus) apply(ev Event) {
	if !b.applyLocal(ev) {
		return
	}
	if b.remote != nil {
		if err := b.remote.Publish(ev); err != nil {
			b.log.Warn("invalidation: remote publish failed", "error", err)
		}
	}
}

// applyLocal invalidates the in-process assembler memo and cache for ev,
// without republishing. Used both for locally-originated events (via apply)
// and events replayed from a RedisSubscriber, where re-publishing would
// echo the event back out and loop forever across nodes. Returns false if
// ev was a stale duplicate and nothing was done.
func (b *Bus) applyLocal(ev Event) bool {
	if b.isDuplicate(ev) {
		return false
	}

	switch ev.Kind {
	case KindPolicyMutated:
		b.assembler.InvalidateAll()
		b.cache.Invalidate(func(d cache.DependencySet) bool {
			for _, h := range d.Policies {
				if h == ev.PolicyHRN {
					return true
				}
			}
			return false
		})
	case KindPrincipalEdge:
		if ev.Narrow {
			b.assembler.Invalidate(ev.Principal)
			b.resolver.Invalidate(ev.Principal)
		} else {
			b.assembler.InvalidateAll()
			b.resolver.InvalidateAll()
		}
		b.cache.InvalidateAll()
	case KindSchemaActivated:
		b.assembler.InvalidateAll()
		b.cache.InvalidateAll()
	default:
		b.log.Warn("invalidation: unknown event kind, ignoring", "kind", ev.Kind)
		return false
	}

	return true
}

// isDuplicate discards an event whose sequence number is not strictly
// greater than the last one applied for its Kind (§4.9).
func (b *Bus) isDuplicate(ev Event) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ev.Seq != 0 && ev.Seq <= b.lastSeq[ev.Kind] {
		return true
	}
	b.lastSeq[ev.Kind] = ev.Seq
	return false
}

// Close stops the background loop and waits for it to drain in-flight work.
func (b *Bus) Close() {
	close(b.stop)
	<-b.done
}
