package fundrelease

import (
	"context"
	"sync"
	"time"

	"github.com/sellora/escrowd/internal/txn"
)

// MemoryStore is an in-memory fund release store for demo mode and tests.
type MemoryStore struct {
	releases   map[string]*FundRelease // ID -> release
	bySubOrder map[string]string       // sub-order ID -> release ID
	mu         sync.RWMutex
}

// NewMemoryStore creates a new in-memory fund release store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		releases:   make(map[string]*FundRelease),
		bySubOrder: make(map[string]string),
	}
}

func (m *MemoryStore) Create(ctx context.Context, fr *FundRelease) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *fr
	m.releases[fr.ID] = &cp
	m.bySubOrder[fr.SubOrderID] = fr.ID
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*FundRelease, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	fr, ok := m.releases[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *fr
	return &cp, nil
}

func (m *MemoryStore) GetBySubOrder(ctx context.Context, subOrderID string) (*FundRelease, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.bySubOrder[subOrderID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.releases[id]
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, sess txn.Session, fr *FundRelease) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, ok := m.releases[fr.ID]
	if !ok {
		return ErrNotFound
	}
	cp := *fr
	m.releases[fr.ID] = &cp

	if sess != nil {
		sess.OnRollback(func() {
			m.mu.Lock()
			m.releases[fr.ID] = prev
			m.mu.Unlock()
		})
	}
	return nil
}

// ClaimProcessing is the check-and-set under the store mutex: the first
// caller to observe `from` wins and flips the status; everyone else gets
// ErrInvalidTransition.
func (m *MemoryStore) ClaimProcessing(ctx context.Context, sess txn.Session, id string, from Status, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, ok := m.releases[id]
	if !ok {
		return ErrNotFound
	}
	if prev.Status != from {
		return ErrInvalidTransition
	}

	cp := *prev
	cp.Status = StatusProcessing
	cp.UpdatedAt = at
	m.releases[id] = &cp

	if sess != nil {
		sess.OnRollback(func() {
			m.mu.Lock()
			m.releases[id] = prev
			m.mu.Unlock()
		})
	}
	return nil
}

func (m *MemoryStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*FundRelease, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*FundRelease
	for _, fr := range m.releases {
		if fr.Status == status {
			cp := *fr
			result = append(result, &cp)
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}
