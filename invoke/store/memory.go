package store

import (
	"context"
	"sync"
	"time"
)

// MemStore is an in-memory implementation of Store.
//
// Records live in process memory. Designed for:
//   - Testing and development
//   - Short-lived agents where persistence isn't required
//
// MemStore is thread-safe and supports concurrent access.
//
// Limitations:
//   - Data is lost when the process terminates
//   - Memory usage grows with invocation history
//
// For durable audit trails use SQLiteStore or MySQLStore.
type MemStore struct {
	mu      sync.RWMutex
	records []Record
	nextID  int64
	closed  bool
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{nextID: 1}
}

// SaveRecord appends a record to the in-memory history.
func (m *MemStore) SaveRecord(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	rec.ID = m.nextID
	m.nextID++
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	m.records = append(m.records, rec)
	return nil
}

// ListByTool returns records for a tool, most recent first.
func (m *MemStore) ListByTool(_ context.Context, toolName string, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	result := []Record{}
	for i := len(m.records) - 1; i >= 0; i-- {
		if m.records[i].Tool != toolName {
			continue
		}
		result = append(result, m.records[i])
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

// ListByCorrelation returns records sharing a correlation ID in save order.
func (m *MemStore) ListByCorrelation(_ context.Context, correlationID string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	result := []Record{}
	for _, rec := range m.records {
		if rec.CorrelationID == correlationID {
			result = append(result, rec)
		}
	}
	return result, nil
}

// Close marks the store closed. Further operations return ErrClosed.
func (m *MemStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

// Len reports how many records are stored. Handy in tests.
func (m *MemStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
