package tiers

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/onnwee/matchrank/internal/ranking"
)

// InMemoryMemberSource holds the members seen on ranking requests until the
// recompute job has classified them. Records are evicted once their tier is
// stored, so its size tracks the dirty backlog rather than every member ever
// ranked.
type InMemoryMemberSource struct {
	mu      sync.RWMutex
	members map[MemberKey]storedMember
	now     func() time.Time
}

type storedMember struct {
	candidate ranking.Candidate
	putAt     time.Time
}

var _ MemberEvictor = (*InMemoryMemberSource)(nil)

// NewInMemoryMemberSource creates a new in-memory member source.
func NewInMemoryMemberSource() *InMemoryMemberSource {
	return &InMemoryMemberSource{
		members: make(map[MemberKey]storedMember),
		now:     time.Now,
	}
}

// Member returns a copy of the member's candidate record.
func (s *InMemoryMemberSource) Member(_ context.Context, key MemberKey) (*ranking.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[key]
	if !ok {
		return nil, fmt.Errorf("member %s: %w", key, ErrMemberNotFound)
	}
	c := m.candidate
	c.Offered = slices.Clone(c.Offered)
	c.Requested = slices.Clone(c.Requested)
	c.Groups = slices.Clone(c.Groups)
	return &c, nil
}

// Put adds or replaces a member.
func (s *InMemoryMemberSource) Put(tenantID string, c ranking.Candidate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[MemberKey{TenantID: tenantID, MemberID: c.ID}] = storedMember{candidate: c, putAt: s.now()}
}

// EvictBefore drops the member unless it was replaced after cutoff.
func (s *InMemoryMemberSource) EvictBefore(key MemberKey, cutoff time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.members[key]; ok && !m.putAt.After(cutoff) {
		delete(s.members, key)
	}
}

// Len returns the number of held members.
func (s *InMemoryMemberSource) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.members)
}

// InMemoryStore is an in-memory implementation of Store.
type InMemoryStore struct {
	mu    sync.RWMutex
	tiers map[MemberKey]MemberTier
}

// NewInMemoryStore creates a new in-memory tier store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		tiers: make(map[MemberKey]MemberTier),
	}
}

// SaveTier stores a tier snapshot.
func (s *InMemoryStore) SaveTier(_ context.Context, t MemberTier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.Factors = slices.Clone(t.Factors)
	s.tiers[t.Key()] = t
	return nil
}

// GetTier retrieves a tier snapshot. Returns nil, nil when absent.
func (s *InMemoryStore) GetTier(_ context.Context, key MemberKey) (*MemberTier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tiers[key]
	if !ok {
		return nil, nil
	}
	// Return a copy to avoid external modification
	t.Factors = slices.Clone(t.Factors)
	return &t, nil
}

// Len returns the number of stored snapshots.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tiers)
}
