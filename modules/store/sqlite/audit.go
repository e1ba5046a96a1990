package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flemzord/skillgate/internal/audit"
)

// auditStore implements audit.Log, audit.BlobStore and audit.SummaryStore.
// Records keep one column per field so the admin filters run in SQL.
type auditStore struct {
	db *sql.DB
}

const recordColumns = `id, capability, kind, origin, caller_kind, thread_id, user_id, channel,
	input, output, output_ref, success, reason_code, failure_class, error, duration_ms, created_at`

func (s *auditStore) AppendRecord(ctx context.Context, r audit.Record) (audit.Record, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_records (capability, kind, origin, caller_kind, thread_id, user_id, channel,
			input, output, output_ref, success, reason_code, failure_class, error, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.CapabilityName, r.Kind, r.Origin, r.CallerKind, r.ThreadID, r.UserID, r.Channel,
		r.Input, r.Output, r.OutputRef, boolToInt(r.Success), r.ReasonCode, r.FailureClass, r.Error,
		r.DurationMs, formatTime(r.CreatedAt),
	)
	if err != nil {
		return audit.Record{}, fmt.Errorf("sqlite: append record for %s: %w", r.CapabilityName, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return audit.Record{}, fmt.Errorf("sqlite: record id: %w", err)
	}
	r.ID = id
	return r, nil
}

func (s *auditStore) GetRecord(ctx context.Context, id int64) (audit.Record, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+recordColumns+" FROM audit_records WHERE id = ?", id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return audit.Record{}, fmt.Errorf("%w: record %d", audit.ErrNotFound, id)
	}
	if err != nil {
		return audit.Record{}, fmt.Errorf("sqlite: get record %d: %w", id, err)
	}
	return r, nil
}

func (s *auditStore) ListRecords(ctx context.Context, q audit.Query) ([]audit.Record, error) {
	var (
		where []string
		args  []any
	)
	if q.Capability != "" {
		where = append(where, "capability = ?")
		args = append(args, q.Capability)
	}
	if q.ReasonCode != "" {
		where = append(where, "reason_code = ?")
		args = append(args, q.ReasonCode)
	}
	if q.Success != nil {
		where = append(where, "success = ?")
		args = append(args, boolToInt(*q.Success))
	}
	if !q.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(q.Since))
	}
	if q.BeforeID > 0 {
		where = append(where, "id < ?")
		args = append(args, q.BeforeID)
	}

	query := "SELECT " + recordColumns + " FROM audit_records"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, sqlLimit(q.Limit))

	return s.queryRecords(ctx, query, args...)
}

func (s *auditStore) CapabilitiesAfter(ctx context.Context, afterID int64) ([]string, int64, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT capability, MAX(id) FROM audit_records WHERE id > ? GROUP BY capability ORDER BY capability",
		afterID,
	)
	if err != nil {
		return nil, afterID, fmt.Errorf("sqlite: capabilities after %d: %w", afterID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	last := afterID
	for rows.Next() {
		var (
			name string
			id   int64
		)
		if err := rows.Scan(&name, &id); err != nil {
			return nil, afterID, fmt.Errorf("sqlite: scan capability name: %w", err)
		}
		out = append(out, name)
		last = max(last, id)
	}
	if err := rows.Err(); err != nil {
		return nil, afterID, err
	}
	return out, last, nil
}

func (s *auditStore) RecordsAfter(ctx context.Context, capability string, afterID int64, limit int) ([]audit.Record, error) {
	return s.queryRecords(ctx,
		"SELECT "+recordColumns+" FROM audit_records WHERE capability = ? AND id > ? ORDER BY id LIMIT ?",
		capability, afterID, sqlLimit(limit),
	)
}

func (s *auditStore) DeleteRecordsBefore(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	var deleted int
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			"SELECT id, output_ref FROM audit_records WHERE created_at < ? ORDER BY id LIMIT ?",
			formatTime(cutoff), sqlLimit(limit),
		)
		if err != nil {
			return fmt.Errorf("sqlite: select expired records: %w", err)
		}
		var (
			ids  []int64
			refs []string
		)
		for rows.Next() {
			var (
				id  int64
				ref string
			)
			if err := rows.Scan(&id, &ref); err != nil {
				_ = rows.Close()
				return fmt.Errorf("sqlite: scan expired record: %w", err)
			}
			ids = append(ids, id)
			if ref != "" {
				refs = append(refs, ref)
			}
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if err := rows.Err(); err != nil {
			return err
		}

		for _, ref := range refs {
			if _, err := tx.ExecContext(ctx, "DELETE FROM audit_blobs WHERE ref = ?", ref); err != nil {
				return fmt.Errorf("sqlite: delete blob %s: %w", ref, err)
			}
		}
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, "DELETE FROM audit_records WHERE id = ?", id); err != nil {
				return fmt.Errorf("sqlite: delete record %d: %w", id, err)
			}
		}
		deleted = len(ids)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

func (s *auditStore) PutBlob(ctx context.Context, ref, data string) error {
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO audit_blobs (ref, data) VALUES (?, ?) ON CONFLICT(ref) DO UPDATE SET data = excluded.data",
		ref, data,
	); err != nil {
		return fmt.Errorf("sqlite: put blob %s: %w", ref, err)
	}
	return nil
}

func (s *auditStore) GetBlob(ctx context.Context, ref string) (string, error) {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT data FROM audit_blobs WHERE ref = ?", ref).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: blob %s", audit.ErrNotFound, ref)
	}
	if err != nil {
		return "", fmt.Errorf("sqlite: get blob %s: %w", ref, err)
	}
	return data, nil
}

func (s *auditStore) DeleteBlob(ctx context.Context, ref string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM audit_blobs WHERE ref = ?", ref); err != nil {
		return fmt.Errorf("sqlite: delete blob %s: %w", ref, err)
	}
	return nil
}

func (s *auditStore) GetSummary(ctx context.Context, capability string) (audit.Summary, bool, error) {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT data FROM audit_summaries WHERE capability = ?", capability).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return audit.Summary{}, false, nil
	}
	if err != nil {
		return audit.Summary{}, false, fmt.Errorf("sqlite: get summary %s: %w", capability, err)
	}
	sum, err := decodeSummary(data)
	if err != nil {
		return audit.Summary{}, false, err
	}
	return sum, true, nil
}

func (s *auditStore) ListSummaries(ctx context.Context) ([]audit.Summary, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT data FROM audit_summaries ORDER BY capability")
	if err != nil {
		return nil, fmt.Errorf("sqlite: list summaries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []audit.Summary{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("sqlite: scan summary: %w", err)
		}
		sum, err := decodeSummary(data)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// SaveSummary compares the stored cursor and writes in one transaction, so
// a concurrent summarizer pass loses with ErrCursorMoved.
func (s *auditStore) SaveSummary(ctx context.Context, prevCursor int64, sum audit.Summary) error {
	data, err := json.Marshal(sum)
	if err != nil {
		return fmt.Errorf("sqlite: encode summary %s: %w", sum.CapabilityName, err)
	}
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		var cur int64
		err := tx.QueryRowContext(ctx,
			"SELECT last_audit_id FROM audit_summaries WHERE capability = ?", sum.CapabilityName,
		).Scan(&cur)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("sqlite: read summary cursor %s: %w", sum.CapabilityName, err)
		}
		if cur != prevCursor {
			return fmt.Errorf("%w: %s at %d, expected %d", audit.ErrCursorMoved, sum.CapabilityName, cur, prevCursor)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO audit_summaries (capability, last_audit_id, data) VALUES (?, ?, ?)
			 ON CONFLICT(capability) DO UPDATE SET last_audit_id = excluded.last_audit_id, data = excluded.data`,
			sum.CapabilityName, sum.LastAuditID, string(data),
		); err != nil {
			return fmt.Errorf("sqlite: save summary %s: %w", sum.CapabilityName, err)
		}
		return nil
	})
}

func (s *auditStore) queryRecords(ctx context.Context, query string, args ...any) ([]audit.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []audit.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (audit.Record, error) {
	var (
		r         audit.Record
		success   int
		createdAt string
	)
	if err := sc.Scan(
		&r.ID, &r.CapabilityName, &r.Kind, &r.Origin, &r.CallerKind, &r.ThreadID, &r.UserID, &r.Channel,
		&r.Input, &r.Output, &r.OutputRef, &success, &r.ReasonCode, &r.FailureClass, &r.Error,
		&r.DurationMs, &createdAt,
	); err != nil {
		return audit.Record{}, err
	}
	r.Success = success != 0
	t, err := parseTime(createdAt)
	if err != nil {
		return audit.Record{}, fmt.Errorf("parse created_at %q: %w", createdAt, err)
	}
	r.CreatedAt = t
	return r, nil
}

func decodeSummary(data string) (audit.Summary, error) {
	var sum audit.Summary
	if err := json.Unmarshal([]byte(data), &sum); err != nil {
		return audit.Summary{}, fmt.Errorf("sqlite: decode summary: %w", err)
	}
	return sum, nil
}

// sqlLimit maps a non-positive limit to SQLite's "no limit".
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
