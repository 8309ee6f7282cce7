// Package tenant resolves each tenant's ranking configuration from its
// persisted settings blob.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrTenantNotFound is returned when a tenant has no settings row.
var ErrTenantNotFound = errors.New("tenant not found")

// Source returns the raw ranking_config blob of a tenant.
type Source interface {
	RankingConfigBlob(ctx context.Context, tenantID string) ([]byte, error)
}

// StaticSource is an in-memory Source for tests and single-tenant
// deployments.
type StaticSource struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewStaticSource returns a StaticSource seeded with blobs.
func NewStaticSource(blobs map[string][]byte) *StaticSource {
	s := &StaticSource{blobs: make(map[string][]byte, len(blobs))}
	for id, b := range blobs {
		s.blobs[id] = append([]byte(nil), b...)
	}
	return s
}

// Set stores blob for tenantID.
func (s *StaticSource) Set(tenantID string, blob []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[tenantID] = append([]byte(nil), blob...)
}

// RankingConfigBlob implements Source.
func (s *StaticSource) RankingConfigBlob(_ context.Context, tenantID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	blob, ok := s.blobs[tenantID]
	if !ok {
		return nil, fmt.Errorf("tenant %q: %w", tenantID, ErrTenantNotFound)
	}
	return append([]byte(nil), blob...), nil
}
