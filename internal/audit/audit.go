// Package audit keeps the append-only invocation log and the summary view
// folded from it.
//
// Every invocation appends exactly one Record on the request path. A
// Summarizer periodically folds new records into one Summary per
// capability; a Pruner deletes records past the retention window.
package audit

import (
	"context"
	"errors"
	"time"
)

// Errors returned by stores.
var (
	ErrNotFound    = errors.New("audit entry not found")
	ErrCursorMoved = errors.New("summary cursor moved")
)

// Record is one immutable invocation log entry.
type Record struct {
	ID             int64  `json:"id"`
	CapabilityName string `json:"capability"`
	Kind           string `json:"kind"`
	Origin         string `json:"origin,omitempty"`

	CallerKind string `json:"caller_kind,omitempty"`
	ThreadID   string `json:"thread_id,omitempty"`
	UserID     string `json:"user_id,omitempty"`
	Channel    string `json:"channel,omitempty"`

	Input     string `json:"input,omitempty"`
	Output    string `json:"output,omitempty"`
	OutputRef string `json:"output_ref,omitempty"`

	Success      bool   `json:"success"`
	ReasonCode   string `json:"reason_code"`
	FailureClass string `json:"failure_class,omitempty"`
	Error        string `json:"error,omitempty"`

	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// Denied reports whether the gate refused the invocation.
func (r *Record) Denied() bool {
	return r.ReasonCode != "" && r.ReasonCode != ReasonPassed
}

// ReasonPassed is the reason code of invocations the gate allowed.
const ReasonPassed = "passed"

// FailureTimeout is the failure class counted as a timeout in summaries.
const FailureTimeout = "timeout"

// Summary is the aggregate of one capability's records up to LastAuditID.
type Summary struct {
	CapabilityName  string    `json:"capability"`
	Invocations     int64     `json:"invocations"`
	Successes       int64     `json:"successes"`
	Failures        int64     `json:"failures"`
	Denied          int64     `json:"denied"`
	Timeouts        int64     `json:"timeouts"`
	TotalDurationMs int64     `json:"total_duration_ms"`
	AvgDurationMs   float64   `json:"avg_duration_ms"`
	LastInvokedAt   time.Time `json:"last_invoked_at,omitzero"`
	LastAuditID     int64     `json:"last_audit_id"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// fold accumulates records, which must be sorted by id and all newer than
// LastAuditID, into s.
func (s *Summary) fold(records []Record) {
	for i := range records {
		r := &records[i]
		s.Invocations++
		if r.Success {
			s.Successes++
		} else {
			s.Failures++
		}
		if r.Denied() {
			s.Denied++
		}
		if r.FailureClass == FailureTimeout {
			s.Timeouts++
		}
		s.TotalDurationMs += r.DurationMs
		if r.CreatedAt.After(s.LastInvokedAt) {
			s.LastInvokedAt = r.CreatedAt
		}
		s.LastAuditID = r.ID
	}
	if s.Invocations > 0 {
		s.AvgDurationMs = float64(s.TotalDurationMs) / float64(s.Invocations)
	}
}

// Query filters records for the admin drill-down. Results are newest
// first.
type Query struct {
	Capability string
	ReasonCode string
	Success    *bool
	Since      time.Time
	BeforeID   int64
	Limit      int
}

// Matches reports whether r satisfies q, ignoring Limit.
func (q Query) Matches(r *Record) bool {
	switch {
	case q.Capability != "" && r.CapabilityName != q.Capability:
		return false
	case q.ReasonCode != "" && r.ReasonCode != q.ReasonCode:
		return false
	case q.Success != nil && r.Success != *q.Success:
		return false
	case !q.Since.IsZero() && r.CreatedAt.Before(q.Since):
		return false
	case q.BeforeID > 0 && r.ID >= q.BeforeID:
		return false
	}
	return true
}

// Log is the append-only record store.
type Log interface {
	// AppendRecord stores r and returns it with its assigned id. Ids are
	// strictly increasing.
	AppendRecord(ctx context.Context, r Record) (Record, error)
	GetRecord(ctx context.Context, id int64) (Record, error)
	ListRecords(ctx context.Context, q Query) ([]Record, error)

	// CapabilitiesAfter returns the distinct capability names of records
	// with an id greater than afterID, and the highest such id (afterID
	// when there are none).
	CapabilitiesAfter(ctx context.Context, afterID int64) ([]string, int64, error)

	// RecordsAfter returns up to limit records of capability with an id
	// greater than afterID, oldest first.
	RecordsAfter(ctx context.Context, capability string, afterID int64, limit int) ([]Record, error)

	// DeleteRecordsBefore deletes up to limit records created before cutoff,
	// oldest first, with their blobs, and returns how many were deleted.
	DeleteRecordsBefore(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// BlobStore holds full outputs that exceed the record cap.
type BlobStore interface {
	PutBlob(ctx context.Context, ref, data string) error
	GetBlob(ctx context.Context, ref string) (string, error)

	// DeleteBlob removes ref. Deleting a missing blob is not an error.
	DeleteBlob(ctx context.Context, ref string) error
}

// SummaryStore holds the summary view. Only the Summarizer writes to it.
type SummaryStore interface {
	GetSummary(ctx context.Context, capability string) (Summary, bool, error)
	ListSummaries(ctx context.Context) ([]Summary, error)

	// SaveSummary stores s if the stored cursor still equals prevCursor
	// (0 for a capability without summary), else returns ErrCursorMoved.
	SaveSummary(ctx context.Context, prevCursor int64, s Summary) error
}
