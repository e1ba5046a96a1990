package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Store    Store
	Location *time.Location // UTC when nil
	Logger   *slog.Logger

	// Now and NewID override time.Now and uuid.NewString for testing.
	Now   func() time.Time
	NewID func() string
}

// Manager owns task definitions.
type Manager struct {
	store  Store
	loc    *time.Location
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// NewManager creates a task manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Manager{
		store:  cfg.Store,
		loc:    cfg.Location,
		logger: cfg.Logger.With("component", "schedule"),
		now:    cfg.Now,
		newID:  cfg.NewID,
	}
}

// Location returns the zone recurrence times are evaluated in.
func (m *Manager) Location() *time.Location {
	return m.loc
}

// Create validates t, assigns an id and the first run time, and stores it
// enabled.
func (m *Manager) Create(ctx context.Context, t Task) (Task, error) {
	if err := t.Validate(); err != nil {
		return Task{}, err
	}
	now := m.now().UTC()
	next, err := ComputeNextRun(t.Recurrence, now, m.loc)
	if err != nil {
		return Task{}, err
	}

	t.ID = m.newID()
	if t.Capability == "" {
		t.Capability = DefaultCapability
	}
	t.Enabled = true
	t.NextRunAt = next
	t.LastRunAt = time.Time{}
	t.RunCount = 0
	t.LastError = ""
	t.CreatedAt = now
	t.UpdatedAt = now

	if err := m.store.CreateTask(ctx, t); err != nil {
		return Task{}, fmt.Errorf("creating task %q: %w", t.Name, err)
	}
	m.logger.Info("task created", "task", t.ID, "name", t.Name, "next_run_at", next)
	return t, nil
}

// Get returns a task.
func (m *Manager) Get(ctx context.Context, id string) (Task, error) {
	return m.store.GetTask(ctx, id)
}

// List returns every task, enabled or not.
func (m *Manager) List(ctx context.Context) ([]Task, error) {
	return m.store.ListTasks(ctx)
}

// Enable turns a task back on. A next run time that went stale while the
// task was disabled is recomputed from now, so enabling never triggers a
// catch-up run.
func (m *Manager) Enable(ctx context.Context, id string) (Task, error) {
	t, err := m.store.GetTask(ctx, id)
	if err != nil {
		return Task{}, err
	}
	now := m.now().UTC()
	if !t.NextRunAt.After(now) {
		next, err := ComputeNextRun(t.Recurrence, now, m.loc)
		if err != nil {
			return Task{}, err
		}
		t.NextRunAt = next
	}
	t.Enabled = true
	t.UpdatedAt = now
	if err := m.store.UpdateTask(ctx, t); err != nil {
		return Task{}, err
	}
	m.logger.Info("task enabled", "task", id, "next_run_at", t.NextRunAt)
	return t, nil
}

// Disable turns a task off and keeps its next run time.
func (m *Manager) Disable(ctx context.Context, id string) (Task, error) {
	t, err := m.store.GetTask(ctx, id)
	if err != nil {
		return Task{}, err
	}
	t.Enabled = false
	t.UpdatedAt = m.now().UTC()
	if err := m.store.UpdateTask(ctx, t); err != nil {
		return Task{}, err
	}
	m.logger.Info("task disabled", "task", id)
	return t, nil
}

// Delete removes a task.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.store.DeleteTask(ctx, id); err != nil {
		return err
	}
	m.logger.Info("task deleted", "task", id)
	return nil
}
