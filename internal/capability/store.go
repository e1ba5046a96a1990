package capability

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
)

// Store persists locally owned capabilities.
type Store interface {
	CreateCapability(ctx context.Context, c Capability) error
	GetCapability(ctx context.Context, name string) (Capability, error)
	UpdateCapability(ctx context.Context, c Capability) error
	DeleteCapability(ctx context.Context, name string) error
	ListCapabilities(ctx context.Context) ([]Capability, error)
}

// MemoryStore is a thread-safe in-memory Store.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]Capability
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]Capability)}
}

// CreateCapability implements Store.
func (s *MemoryStore) CreateCapability(_ context.Context, c Capability) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[c.Name]; ok {
		return fmt.Errorf("%w: %s", ErrExists, c.Name)
	}
	s.items[c.Name] = c.Clone()
	return nil
}

// GetCapability implements Store.
func (s *MemoryStore) GetCapability(_ context.Context, name string) (Capability, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.items[name]
	if !ok {
		return Capability{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return c.Clone(), nil
}

// UpdateCapability implements Store.
func (s *MemoryStore) UpdateCapability(_ context.Context, c Capability) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[c.Name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, c.Name)
	}
	s.items[c.Name] = c.Clone()
	return nil
}

// DeleteCapability implements Store.
func (s *MemoryStore) DeleteCapability(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(s.items, name)
	return nil
}

// ListCapabilities implements Store. Results are sorted by name.
func (s *MemoryStore) ListCapabilities(_ context.Context) ([]Capability, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Capability, 0, len(s.items))
	for _, c := range s.items {
		out = append(out, c.Clone())
	}
	slices.SortFunc(out, func(a, b Capability) int { return cmp.Compare(a.Name, b.Name) })
	return out, nil
}
