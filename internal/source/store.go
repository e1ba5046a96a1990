package source

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
)

// Store persists servers.
type Store interface {
	CreateServer(ctx context.Context, s Server) error
	GetServer(ctx context.Context, id string) (Server, error)
	GetServerByName(ctx context.Context, name string) (Server, error)
	UpdateServer(ctx context.Context, s Server) error
	DeleteServer(ctx context.Context, id string) error
	ListServers(ctx context.Context) ([]Server, error)
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu      sync.RWMutex
	servers map[string]Server
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{servers: make(map[string]Server)}
}

// CreateServer implements Store.
func (m *MemoryStore) CreateServer(_ context.Context, s Server) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.servers[s.ID]; ok {
		return fmt.Errorf("%w: %s", ErrExists, s.ID)
	}
	for _, existing := range m.servers {
		if existing.Name == s.Name {
			return fmt.Errorf("%w: name %s", ErrExists, s.Name)
		}
	}
	m.servers[s.ID] = s.Clone()
	return nil
}

// GetServer implements Store.
func (m *MemoryStore) GetServer(_ context.Context, id string) (Server, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.servers[id]
	if !ok {
		return Server{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.Clone(), nil
}

// GetServerByName implements Store.
func (m *MemoryStore) GetServerByName(_ context.Context, name string) (Server, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.servers {
		if s.Name == name {
			return s.Clone(), nil
		}
	}
	return Server{}, fmt.Errorf("%w: name %s", ErrNotFound, name)
}

// UpdateServer implements Store.
func (m *MemoryStore) UpdateServer(_ context.Context, s Server) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.servers[s.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, s.ID)
	}
	for id, existing := range m.servers {
		if id != s.ID && existing.Name == s.Name {
			return fmt.Errorf("%w: name %s", ErrExists, s.Name)
		}
	}
	m.servers[s.ID] = s.Clone()
	return nil
}

// DeleteServer implements Store.
func (m *MemoryStore) DeleteServer(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.servers[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(m.servers, id)
	return nil
}

// ListServers implements Store. Servers are sorted by name.
func (m *MemoryStore) ListServers(_ context.Context) ([]Server, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Server, 0, len(m.servers))
	for _, s := range m.servers {
		out = append(out, s.Clone())
	}
	slices.SortFunc(out, func(a, b Server) int { return cmp.Compare(a.Name, b.Name) })
	return out, nil
}
