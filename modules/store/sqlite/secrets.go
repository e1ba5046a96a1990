package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// secretStore implements security.SecretStore.
type secretStore struct {
	db *sql.DB
}

func (s *secretStore) GetSecret(ctx context.Context, scope, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM secrets WHERE scope = ? AND key = ?", scope, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("sqlite: get secret %s/%s: %w", scope, key, err)
	}
	return value, true, nil
}

func (s *secretStore) SetSecret(ctx context.Context, scope, key, value string) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO secrets (scope, key, value) VALUES (?, ?, ?)
		 ON CONFLICT(scope, key) DO UPDATE SET value = excluded.value`,
		scope, key, value,
	); err != nil {
		return fmt.Errorf("sqlite: set secret %s/%s: %w", scope, key, err)
	}
	return nil
}

func (s *secretStore) DeleteScope(ctx context.Context, scope string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM secrets WHERE scope = ?", scope); err != nil {
		return fmt.Errorf("sqlite: delete secrets of %s: %w", scope, err)
	}
	return nil
}
