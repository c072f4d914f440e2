package metastore

import (
	"context"
	"sort"
	"sync"

	"github.com/hupe1980/faceindex/model"
)

// MemoryStore is an in-memory Store implementation for testing and embedded
// use. Thread-safe for concurrent reads and writes.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]model.Record
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory metadata store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]model.Record),
	}
}

// Put writes or overwrites a record.
func (m *MemoryStore) Put(_ context.Context, record model.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[record.RecordID] = record
	return nil
}

// Get returns the record, or ErrNotFound.
func (m *MemoryStore) Get(_ context.Context, recordID string) (model.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.records[recordID]
	if !ok {
		return model.Record{}, ErrNotFound
	}
	return record, nil
}

// Delete removes a record.
func (m *MemoryStore) Delete(_ context.Context, recordID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[recordID]; !ok {
		return ErrNotFound
	}
	delete(m.records, recordID)
	return nil
}

// Scan pages through records in RecordID order. The page token is the last
// RecordID of the previous page, which keeps pagination stable under
// concurrent writes.
func (m *MemoryStore) Scan(_ context.Context, filter ScanFilter, pageToken string, limit int) (ScanPage, error) {
	if limit <= 0 {
		limit = 100
	}

	m.mu.RLock()
	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	page := ScanPage{}
	for _, id := range ids {
		if pageToken != "" && id <= pageToken {
			continue
		}

		record := m.records[id]
		if filter.CollectionID != "" && record.CollectionID != filter.CollectionID {
			continue
		}
		if filter.SubjectID != "" && record.SubjectID != filter.SubjectID {
			continue
		}

		page.Records = append(page.Records, record)
		if len(page.Records) == limit {
			page.NextToken = id
			break
		}
	}
	m.mu.RUnlock()

	return page, nil
}

// Len returns the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
