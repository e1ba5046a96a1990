package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/flemzord/skillgate/internal/schedule"
)

// taskStore implements schedule.Store. The enabled flag and next run time
// are mirrored into columns so DueTasks can use the index.
type taskStore struct {
	db *sql.DB
}

func (s *taskStore) CreateTask(ctx context.Context, t schedule.Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("sqlite: encode task %s: %w", t.ID, err)
	}
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		found, err := exists(ctx, tx, "SELECT 1 FROM tasks WHERE id = ?", t.ID)
		if err != nil {
			return fmt.Errorf("sqlite: lookup task %s: %w", t.ID, err)
		}
		if found {
			return fmt.Errorf("%w: %s", schedule.ErrExists, t.ID)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO tasks (id, name, enabled, next_run_at, data) VALUES (?, ?, ?, ?, ?)",
			t.ID, t.Name, boolToInt(t.Enabled), formatTime(t.NextRunAt), string(data),
		); err != nil {
			return fmt.Errorf("sqlite: insert task %s: %w", t.ID, err)
		}
		return nil
	})
}

func (s *taskStore) GetTask(ctx context.Context, id string) (schedule.Task, error) {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT data FROM tasks WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return schedule.Task{}, fmt.Errorf("%w: %s", schedule.ErrNotFound, id)
	}
	if err != nil {
		return schedule.Task{}, fmt.Errorf("sqlite: get task %s: %w", id, err)
	}
	return decodeTask(data)
}

func (s *taskStore) UpdateTask(ctx context.Context, t schedule.Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("sqlite: encode task %s: %w", t.ID, err)
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE tasks SET name = ?, enabled = ?, next_run_at = ?, data = ? WHERE id = ?",
		t.Name, boolToInt(t.Enabled), formatTime(t.NextRunAt), string(data), t.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update task %s: %w", t.ID, err)
	}
	return requireAffected(res, schedule.ErrNotFound, t.ID)
}

func (s *taskStore) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("sqlite: delete task %s: %w", id, err)
	}
	return requireAffected(res, schedule.ErrNotFound, id)
}

func (s *taskStore) ListTasks(ctx context.Context) ([]schedule.Task, error) {
	return s.query(ctx, "SELECT data FROM tasks ORDER BY name, id")
}

func (s *taskStore) DueTasks(ctx context.Context, now time.Time) ([]schedule.Task, error) {
	return s.query(ctx,
		`SELECT data FROM tasks
		 WHERE enabled = 1 AND next_run_at != '' AND next_run_at <= ?
		 ORDER BY next_run_at, id`,
		formatTime(now),
	)
}

func (s *taskStore) query(ctx context.Context, query string, args ...any) ([]schedule.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []schedule.Task
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("sqlite: scan task: %w", err)
		}
		t, err := decodeTask(data)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func decodeTask(data string) (schedule.Task, error) {
	var t schedule.Task
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return schedule.Task{}, fmt.Errorf("sqlite: decode task: %w", err)
	}
	return t, nil
}
