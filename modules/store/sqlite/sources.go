package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/flemzord/skillgate/internal/source"
)

// sourceStore implements source.Store.
type sourceStore struct {
	db *sql.DB
}

func (s *sourceStore) CreateServer(ctx context.Context, srv source.Server) error {
	data, err := json.Marshal(srv)
	if err != nil {
		return fmt.Errorf("sqlite: encode server %s: %w", srv.Name, err)
	}
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		found, err := exists(ctx, tx, "SELECT 1 FROM sources WHERE id = ?", srv.ID)
		if err != nil {
			return fmt.Errorf("sqlite: lookup server %s: %w", srv.ID, err)
		}
		if found {
			return fmt.Errorf("%w: %s", source.ErrExists, srv.ID)
		}
		found, err = exists(ctx, tx, "SELECT 1 FROM sources WHERE name = ?", srv.Name)
		if err != nil {
			return fmt.Errorf("sqlite: lookup server %s: %w", srv.Name, err)
		}
		if found {
			return fmt.Errorf("%w: name %s", source.ErrExists, srv.Name)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO sources (id, name, data) VALUES (?, ?, ?)",
			srv.ID, srv.Name, string(data),
		); err != nil {
			return fmt.Errorf("sqlite: insert server %s: %w", srv.Name, err)
		}
		return nil
	})
}

func (s *sourceStore) GetServer(ctx context.Context, id string) (source.Server, error) {
	return s.getOne(ctx, "SELECT data FROM sources WHERE id = ?", id, id)
}

func (s *sourceStore) GetServerByName(ctx context.Context, name string) (source.Server, error) {
	return s.getOne(ctx, "SELECT data FROM sources WHERE name = ?", name, "name "+name)
}

func (s *sourceStore) getOne(ctx context.Context, query, arg, label string) (source.Server, error) {
	var data string
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return source.Server{}, fmt.Errorf("%w: %s", source.ErrNotFound, label)
	}
	if err != nil {
		return source.Server{}, fmt.Errorf("sqlite: get server %s: %w", label, err)
	}
	return decodeServer(data)
}

func (s *sourceStore) UpdateServer(ctx context.Context, srv source.Server) error {
	data, err := json.Marshal(srv)
	if err != nil {
		return fmt.Errorf("sqlite: encode server %s: %w", srv.Name, err)
	}
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		found, err := exists(ctx, tx, "SELECT 1 FROM sources WHERE id = ?", srv.ID)
		if err != nil {
			return fmt.Errorf("sqlite: lookup server %s: %w", srv.ID, err)
		}
		if !found {
			return fmt.Errorf("%w: %s", source.ErrNotFound, srv.ID)
		}
		clash, err := exists(ctx, tx, "SELECT 1 FROM sources WHERE name = ? AND id != ?", srv.Name, srv.ID)
		if err != nil {
			return fmt.Errorf("sqlite: lookup server %s: %w", srv.Name, err)
		}
		if clash {
			return fmt.Errorf("%w: name %s", source.ErrExists, srv.Name)
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE sources SET name = ?, data = ? WHERE id = ?",
			srv.Name, string(data), srv.ID,
		); err != nil {
			return fmt.Errorf("sqlite: update server %s: %w", srv.ID, err)
		}
		return nil
	})
}

func (s *sourceStore) DeleteServer(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM sources WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("sqlite: delete server %s: %w", id, err)
	}
	return requireAffected(res, source.ErrNotFound, id)
}

func (s *sourceStore) ListServers(ctx context.Context) ([]source.Server, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT data FROM sources ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("sqlite: list servers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []source.Server
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("sqlite: scan server: %w", err)
		}
		srv, err := decodeServer(data)
		if err != nil {
			return nil, err
		}
		out = append(out, srv)
	}
	return out, rows.Err()
}

func decodeServer(data string) (source.Server, error) {
	var srv source.Server
	if err := json.Unmarshal([]byte(data), &srv); err != nil {
		return source.Server{}, fmt.Errorf("sqlite: decode server: %w", err)
	}
	return srv, nil
}
