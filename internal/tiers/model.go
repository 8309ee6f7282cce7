// Package tiers recomputes and stores member reputation tiers in the
// background, so member profile pages can show a tier without ranking.
package tiers

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/matchrank/internal/ranking"
)

// MemberKey identifies a member within a tenant.
type MemberKey struct {
	TenantID string `json:"tenant_id"`
	MemberID string `json:"member_id"`
}

// String returns "tenant/member".
func (k MemberKey) String() string {
	return k.TenantID + "/" + k.MemberID
}

// MemberTier is a computed tier snapshot for one member. Snapshots are a
// caller-side cache; the ranking engine itself always classifies on read.
type MemberTier struct {
	TenantID   string                `json:"tenant_id"`
	MemberID   string                `json:"member_id"`
	Score      float64               `json:"score"`
	Tier       ranking.Tier          `json:"tier"`
	Factors    []ranking.FactorScore `json:"factors"`
	ComputedAt time.Time             `json:"computed_at"`
}

// Key returns the snapshot's member key.
func (t *MemberTier) Key() MemberKey {
	return MemberKey{TenantID: t.TenantID, MemberID: t.MemberID}
}

// DirtyTracker tracks which members have pending changes that require
// tier recomputation. Thread-safe via RWMutex.
type DirtyTracker struct {
	mu         sync.RWMutex
	dirtyFlags map[MemberKey]time.Time // member -> time marked dirty
	now        func() time.Time
}

// NewDirtyTracker creates a new DirtyTracker instance.
func NewDirtyTracker() *DirtyTracker {
	return &DirtyTracker{
		dirtyFlags: make(map[MemberKey]time.Time),
		now:        time.Now,
	}
}

// MarkDirty marks a member as needing tier recomputation.
func (t *DirtyTracker) MarkDirty(key MemberKey) {
	t.mu.Lock()
	t.dirtyFlags[key] = t.now()
	t.mu.Unlock()
}

// ClearDirty removes the dirty flag for a member.
func (t *DirtyTracker) ClearDirty(key MemberKey) {
	t.mu.Lock()
	delete(t.dirtyFlags, key)
	t.mu.Unlock()
}

// ClearDirtyBefore removes the dirty flag only if it was set at or before
// cutoff, and reports whether it did. A member marked again while it was
// being recomputed stays dirty.
func (t *DirtyTracker) ClearDirtyBefore(key MemberKey, cutoff time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if marked, ok := t.dirtyFlags[key]; ok && !marked.After(cutoff) {
		delete(t.dirtyFlags, key)
		return true
	}
	return false
}

// DirtyMembers returns the dirty members ordered by tenant then member ID.
// Returns a copy to avoid external modification.
func (t *DirtyTracker) DirtyMembers() []MemberKey {
	t.mu.RLock()
	keys := make([]MemberKey, 0, len(t.dirtyFlags))
	for k := range t.dirtyFlags {
		keys = append(keys, k)
	}
	t.mu.RUnlock()

	slices.SortFunc(keys, func(a, b MemberKey) int {
		if c := strings.Compare(a.TenantID, b.TenantID); c != 0 {
			return c
		}
		return strings.Compare(a.MemberID, b.MemberID)
	})
	return keys
}

// IsDirty checks if a specific member is marked as dirty.
func (t *DirtyTracker) IsDirty(key MemberKey) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, exists := t.dirtyFlags[key]
	return exists
}

// DirtyCount returns the number of members marked as dirty.
func (t *DirtyTracker) DirtyCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.dirtyFlags)
}
