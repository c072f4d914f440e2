package aggstore

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store implementation for testing and embedded
// use. Conditional-put semantics match the DynamoDB backend.
type MemoryStore struct {
	mu         sync.RWMutex
	aggregates map[string]Aggregate
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory aggregate store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		aggregates: make(map[string]Aggregate),
	}
}

// GetOrInit returns the stored aggregate or a fresh zero-version one.
func (m *MemoryStore) GetOrInit(_ context.Context, subjectID string) (Aggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if agg, ok := m.aggregates[subjectID]; ok {
		return agg.Clone(), nil
	}

	now := time.Now().UTC()
	return Aggregate{
		SubjectID:   subjectID,
		Collections: make(map[string][]string),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// ConditionalPut writes the aggregate if the stored version matches.
func (m *MemoryStore) ConditionalPut(_ context.Context, aggregate Aggregate, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, exists := m.aggregates[aggregate.SubjectID]
	if expectedVersion == 0 {
		if exists {
			return ErrVersionConflict
		}
	} else if !exists || stored.Version != expectedVersion {
		return ErrVersionConflict
	}

	aggregate.Version = expectedVersion + 1
	m.aggregates[aggregate.SubjectID] = aggregate.Clone()
	return nil
}

// Count returns the number of persisted aggregates.
func (m *MemoryStore) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.aggregates), nil
}
