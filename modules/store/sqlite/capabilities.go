package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/flemzord/skillgate/internal/capability"
)

// capabilityStore implements capability.Store. Definitions are stored as
// JSON documents keyed by name.
type capabilityStore struct {
	db *sql.DB
}

func (s *capabilityStore) CreateCapability(ctx context.Context, c capability.Capability) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("sqlite: encode capability %s: %w", c.Name, err)
	}
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		found, err := exists(ctx, tx, "SELECT 1 FROM capabilities WHERE name = ?", c.Name)
		if err != nil {
			return fmt.Errorf("sqlite: lookup capability %s: %w", c.Name, err)
		}
		if found {
			return fmt.Errorf("%w: %s", capability.ErrExists, c.Name)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO capabilities (name, data, updated_at) VALUES (?, ?, ?)",
			c.Name, string(data), formatTime(c.UpdatedAt),
		); err != nil {
			return fmt.Errorf("sqlite: insert capability %s: %w", c.Name, err)
		}
		return nil
	})
}

func (s *capabilityStore) GetCapability(ctx context.Context, name string) (capability.Capability, error) {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT data FROM capabilities WHERE name = ?", name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return capability.Capability{}, fmt.Errorf("%w: %s", capability.ErrNotFound, name)
	}
	if err != nil {
		return capability.Capability{}, fmt.Errorf("sqlite: get capability %s: %w", name, err)
	}
	return decodeCapability(data)
}

func (s *capabilityStore) UpdateCapability(ctx context.Context, c capability.Capability) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("sqlite: encode capability %s: %w", c.Name, err)
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE capabilities SET data = ?, updated_at = ? WHERE name = ?",
		string(data), formatTime(c.UpdatedAt), c.Name,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update capability %s: %w", c.Name, err)
	}
	return requireAffected(res, capability.ErrNotFound, c.Name)
}

func (s *capabilityStore) DeleteCapability(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM capabilities WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("sqlite: delete capability %s: %w", name, err)
	}
	return requireAffected(res, capability.ErrNotFound, name)
}

func (s *capabilityStore) ListCapabilities(ctx context.Context) ([]capability.Capability, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT data FROM capabilities ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("sqlite: list capabilities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []capability.Capability
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("sqlite: scan capability: %w", err)
		}
		c, err := decodeCapability(data)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func decodeCapability(data string) (capability.Capability, error) {
	var c capability.Capability
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return capability.Capability{}, fmt.Errorf("sqlite: decode capability: %w", err)
	}
	return c, nil
}

// requireAffected maps a write that touched no row to notFound.
func requireAffected(res sql.Result, notFound error, key string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", notFound, key)
	}
	return nil
}
