package audit

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// MemoryStore implements Log, BlobStore and SummaryStore in memory.
type MemoryStore struct {
	mu        sync.RWMutex
	nextID    int64
	records   []Record
	blobs     map[string]string
	summaries map[string]Summary
}

var (
	_ Log          = (*MemoryStore)(nil)
	_ BlobStore    = (*MemoryStore)(nil)
	_ SummaryStore = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blobs:     make(map[string]string),
		summaries: make(map[string]Summary),
	}
}

// AppendRecord implements Log.
func (m *MemoryStore) AppendRecord(_ context.Context, r Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	r.ID = m.nextID
	m.records = append(m.records, r)
	return r, nil
}

// GetRecord implements Log.
func (m *MemoryStore) GetRecord(_ context.Context, id int64) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := slices.BinarySearchFunc(m.records, id, func(r Record, id int64) int { return cmp.Compare(r.ID, id) })
	if !ok {
		return Record{}, fmt.Errorf("%w: record %d", ErrNotFound, id)
	}
	return m.records[i], nil
}

// ListRecords implements Log.
func (m *MemoryStore) ListRecords(_ context.Context, q Query) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for i := len(m.records) - 1; i >= 0; i-- {
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
		if q.Matches(&m.records[i]) {
			out = append(out, m.records[i])
		}
	}
	return out, nil
}

// CapabilitiesAfter implements Log.
func (m *MemoryStore) CapabilitiesAfter(_ context.Context, afterID int64) ([]string, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []string
	last := afterID
	for _, r := range m.records {
		if r.ID <= afterID {
			continue
		}
		last = max(last, r.ID)
		if _, ok := seen[r.CapabilityName]; !ok {
			seen[r.CapabilityName] = struct{}{}
			out = append(out, r.CapabilityName)
		}
	}
	slices.Sort(out)
	return out, last, nil
}

// RecordsAfter implements Log.
func (m *MemoryStore) RecordsAfter(_ context.Context, capability string, afterID int64, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for _, r := range m.records {
		if limit > 0 && len(out) == limit {
			break
		}
		if r.ID > afterID && r.CapabilityName == capability {
			out = append(out, r)
		}
	}
	return out, nil
}

// DeleteRecordsBefore implements Log.
func (m *MemoryStore) DeleteRecordsBefore(_ context.Context, cutoff time.Time, limit int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := 0
	m.records = slices.DeleteFunc(m.records, func(r Record) bool {
		if (limit > 0 && deleted == limit) || !r.CreatedAt.Before(cutoff) {
			return false
		}
		if r.OutputRef != "" {
			delete(m.blobs, r.OutputRef)
		}
		deleted++
		return true
	})
	return deleted, nil
}

// PutBlob implements BlobStore.
func (m *MemoryStore) PutBlob(_ context.Context, ref, data string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[ref] = data
	return nil
}

// GetBlob implements BlobStore.
func (m *MemoryStore) GetBlob(_ context.Context, ref string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[ref]
	if !ok {
		return "", fmt.Errorf("%w: blob %s", ErrNotFound, ref)
	}
	return data, nil
}

// DeleteBlob implements BlobStore.
func (m *MemoryStore) DeleteBlob(_ context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, ref)
	return nil
}

// GetSummary implements SummaryStore.
func (m *MemoryStore) GetSummary(_ context.Context, capability string) (Summary, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.summaries[capability]
	return s, ok, nil
}

// ListSummaries implements SummaryStore. Summaries are sorted by
// capability name.
func (m *MemoryStore) ListSummaries(_ context.Context) ([]Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Summary, 0, len(m.summaries))
	for _, s := range m.summaries {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b Summary) int { return cmp.Compare(a.CapabilityName, b.CapabilityName) })
	return out, nil
}

// SaveSummary implements SummaryStore.
func (m *MemoryStore) SaveSummary(_ context.Context, prevCursor int64, s Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur := m.summaries[s.CapabilityName].LastAuditID; cur != prevCursor {
		return fmt.Errorf("%w: %s at %d, expected %d", ErrCursorMoved, s.CapabilityName, cur, prevCursor)
	}
	m.summaries[s.CapabilityName] = s
	return nil
}
