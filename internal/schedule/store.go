package schedule

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Store persists tasks.
type Store interface {
	CreateTask(ctx context.Context, t Task) error
	GetTask(ctx context.Context, id string) (Task, error)
	UpdateTask(ctx context.Context, t Task) error
	DeleteTask(ctx context.Context, id string) error
	ListTasks(ctx context.Context) ([]Task, error)

	// DueTasks returns enabled tasks whose next run is at or before now,
	// oldest first.
	DueTasks(ctx context.Context, now time.Time) ([]Task, error)
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]Task
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]Task)}
}

// CreateTask implements Store.
func (m *MemoryStore) CreateTask(_ context.Context, t Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.ID]; ok {
		return fmt.Errorf("%w: %s", ErrExists, t.ID)
	}
	m.tasks[t.ID] = t.Clone()
	return nil
}

// GetTask implements Store.
func (m *MemoryStore) GetTask(_ context.Context, id string) (Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t.Clone(), nil
}

// UpdateTask implements Store.
func (m *MemoryStore) UpdateTask(_ context.Context, t Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, t.ID)
	}
	m.tasks[t.ID] = t.Clone()
	return nil
}

// DeleteTask implements Store.
func (m *MemoryStore) DeleteTask(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(m.tasks, id)
	return nil
}

// ListTasks implements Store.
func (m *MemoryStore) ListTasks(_ context.Context) ([]Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t.Clone())
	}
	slices.SortFunc(out, func(a, b Task) int { return cmp.Compare(a.Name, b.Name) })
	return out, nil
}

// DueTasks implements Store.
func (m *MemoryStore) DueTasks(_ context.Context, now time.Time) ([]Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Task
	for _, t := range m.tasks {
		if t.Due(now) {
			out = append(out, t.Clone())
		}
	}
	slices.SortFunc(out, func(a, b Task) int { return a.NextRunAt.Compare(b.NextRunAt) })
	return out, nil
}
