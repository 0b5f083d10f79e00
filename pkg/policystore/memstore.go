package policystore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/apierr"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/hrn"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/policy"
)

// MemStore is a thread-safe in-memory Store: the default backend for
// single-node deployments and for tests.
type MemStore struct {
	mu       sync.RWMutex
	byHRN    map[hrn.HRN]*policy.Policy
	seq      uint64
	watchers map[chan policy.MutationEvent]struct{}
	inUse    InUseChecker
}

// NewMemStore constructs an empty MemStore. inUse may be nil, in which case
// Delete never blocks on references.
func NewMemStore(inUse InUseChecker) *MemStore {
	return &MemStore{
		byHRN:    make(map[hrn.HRN]*policy.Policy),
		watchers: make(map[chan policy.MutationEvent]struct{}),
		inUse:    inUse,
	}
}

func (s *MemStore) Create(ctx context.Context, p *policy.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byHRN[p.HRN]; exists {
		return apierr.New(apierr.AlreadyExists, fmt.Sprintf("policy %s already exists", p.HRN))
	}

	now := time.Now()
	p.Version = 1
	p.CreatedAt = now
	p.UpdatedAt = now

	stored := *p
	s.byHRN[p.HRN] = &stored

	s.seq++
	s.publish(policy.MutationEvent{HRN: p.HRN, Kind: policy.MutationCreated, Seq: s.seq})
	return nil
}

func (s *MemStore) Get(ctx context.Context, h hrn.HRN) (*policy.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.byHRN[h]
	if !ok {
		return nil, apierr.New(apierr.NotFound, fmt.Sprintf("policy %s not found", h))
	}
	cp := *p
	return &cp, nil
}

func (s *MemStore) Update(ctx context.Context, h hrn.HRN, sourceText string, compiledForm policy.CompiledForm, compiledHash string, expectedVersion uint64) (*policy.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.byHRN[h]
	if !ok {
		return nil, apierr.New(apierr.NotFound, fmt.Sprintf("policy %s not found", h))
	}
	if existing.Version != expectedVersion {
		return nil, apierr.New(apierr.VersionConflict, fmt.Sprintf("policy %s: expected version %d, found %d", h, expectedVersion, existing.Version))
	}

	updated := *existing
	updated.SourceText = sourceText
	updated.CompiledForm = compiledForm
	updated.CompiledHash = compiledHash
	updated.Version = existing.Version + 1
	updated.UpdatedAt = time.Now()

	// Atomic swap: replace the pointer under lock so readers never observe
	// a torn state (§4.2).
	s.byHRN[h] = &updated

	s.seq++
	s.publish(policy.MutationEvent{HRN: h, Kind: policy.MutationUpdated, Seq: s.seq})

	cp := updated
	return &cp, nil
}

func (s *MemStore) Delete(ctx context.Context, h hrn.HRN, force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byHRN[h]; !ok {
		return apierr.New(apierr.NotFound, fmt.Sprintf("policy %s not found", h))
	}

	if !force && s.inUse != nil {
		inUse, err := s.inUse.InUse(h)
		if err != nil {
			return apierr.Wrap(apierr.Transient, "policy store: in-use check failed", err)
		}
		if inUse {
			return apierr.New(apierr.InUse, fmt.Sprintf("policy %s is still referenced; detach first or delete with force", h))
		}
	}

	delete(s.byHRN, h)
	s.seq++
	s.publish(policy.MutationEvent{HRN: h, Kind: policy.MutationDeleted, Seq: s.seq})
	return nil
}

func (s *MemStore) List(ctx context.Context, filter Filter, cursor string, limit int) ([]*policy.Policy, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*policy.Policy
	for _, p := range s.byHRN {
		if filter.Kind != "" && p.Kind != filter.Kind {
			continue
		}
		if filter.Account != "" && p.HRN.Account != filter.Account {
			continue
		}
		cp := *p
		matched = append(matched, &cp)
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].HRN.String() < matched[j].HRN.String() })

	start := 0
	if cursor != "" {
		for i, p := range matched {
			if p.HRN.String() > cursor {
				start = i
				break
			}
			start = i + 1
		}
	}
	if limit <= 0 {
		limit = len(matched)
	}

	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}
	page := matched[start:end]

	next := ""
	if end < len(matched) {
		next = page[len(page)-1].HRN.String()
	}
	return page, next, nil
}

func (s *MemStore) Watch(ctx context.Context) (<-chan policy.MutationEvent, error) {
	ch := make(chan policy.MutationEvent, 64)

	s.mu.Lock()
	s.watchers[ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.watchers, ch)
		close(ch)
		s.mu.Unlock()
	}()

	return ch, nil
}

// publish fans the event out to every active watcher. Must be called with
// s.mu held (Lock, not RLock). A slow consumer's full channel is dropped
// rather than blocking the writer — at-least-once is only guaranteed to
// watchers keeping pace.
func (s *MemStore) publish(ev policy.MutationEvent) {
	for ch := range s.watchers {
		select {
		case ch <- ev:
		default:
		}
	}
}

var _ Store = (*MemStore)(nil)
