package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/decision"
)

type entry struct {
	decision  decision.Decision
	deps      DependencySet
	expiresAt time.Time
}

// shard is one lock-striped bucket of the cache: a map plus a doubly
// linked list for LRU recency. Exact within a shard; the cache as a whole
// is only approximately LRU since eviction pressure isn't shared across
// shards (§4.8's "approximate LRU").
type shard struct {
	mu       sync.Mutex
	maxEntries int
	entries  map[Fingerprint]*list.Element
	order    *list.List // front = most recently used
}

type listItem struct {
	fp Fingerprint
	e  entry
}

func newShard(maxEntries int) *shard {
	return &shard{
		maxEntries: maxEntries,
		entries:    make(map[Fingerprint]*list.Element),
		order:      list.New(),
	}
}

func (s *shard) get(fp Fingerprint) (decision.Decision, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[fp]
	if !ok {
		return decision.Decision{}, false
	}
	item := el.Value.(*listItem)
	if time.Now().After(item.e.expiresAt) {
		s.order.Remove(el)
		delete(s.entries, fp)
		return decision.Decision{}, false
	}
	s.order.MoveToFront(el)
	return item.e.decision, true
}

func (s *shard) put(fp Fingerprint, e entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[fp]; ok {
		el.Value.(*listItem).e = e
		s.order.MoveToFront(el)
		return
	}

	el := s.order.PushFront(&listItem{fp: fp, e: e})
	s.entries[fp] = el

	for s.maxEntries > 0 && len(s.entries) > s.maxEntries {
		oldest := s.order.Back()
		if oldest == nil {
			break
		}
		s.order.Remove(oldest)
		delete(s.entries, oldest.Value.(*listItem).fp)
	}
}

func (s *shard) invalidate(predicate func(DependencySet) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for fp, el := range s.entries {
		if predicate(el.Value.(*listItem).e.deps) {
			s.order.Remove(el)
			delete(s.entries, fp)
		}
	}
}

func (s *shard) invalidateAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[Fingerprint]*list.Element)
	s.order.Init()
}
