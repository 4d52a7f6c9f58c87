package audit

import (
	"context"
	"sync"
)

// MemorySink keeps the audit trail in memory for demo mode and tests.
type MemorySink struct {
	entries []Entry
	mu      sync.RWMutex
}

// NewMemorySink creates a new in-memory audit sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) Record(ctx context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

// List returns matching entries newest-first.
func (m *MemorySink) List(ctx context.Context, q Query) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []Entry
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if q.Action != "" && e.Action != q.Action {
			continue
		}
		if q.ActorID != "" && e.ActorID != q.ActorID {
			continue
		}
		if q.TargetID != "" && e.TargetID != q.TargetID {
			continue
		}
		result = append(result, e)
		if q.Limit > 0 && len(result) >= q.Limit {
			break
		}
	}
	return result, nil
}
